package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// LogEntry is one link of the audit chain.
type LogEntry struct {
	Sequence     uint64 `json:"sequence"`
	Timestamp    string `json:"timestamp"`
	PreviousHash string `json:"previous_hash"`
	Payload      string `json:"payload"`
	Hash         string `json:"hash"`
}

// Sink persists chain entries as they are appended.
type Sink interface {
	Write(entry *LogEntry) error
}

// ChainLogger records settlement and request activity as a hash chain:
// each entry commits to the hash of the one before it.
type ChainLogger struct {
	mu           sync.Mutex
	previousHash string
	sequence     uint64
	sink         Sink
	now          func() time.Time
}

// GenesisHash is the previous hash of the first entry in a chain.
var GenesisHash = strings.Repeat("0", 64)

// NewChainLogger creates an in-memory chain starting at the genesis hash.
func NewChainLogger() *ChainLogger {
	return &ChainLogger{
		previousHash: GenesisHash,
		now:          time.Now,
	}
}

// NewPersistentChainLogger continues the chain stored in sink. history is
// the entries already persisted, oldest first.
func NewPersistentChainLogger(sink Sink, history []*LogEntry) (*ChainLogger, error) {
	if !VerifyChain(history) {
		return nil, fmt.Errorf("audit chain broken in %d persisted entries", len(history))
	}

	c := NewChainLogger()
	c.sink = sink
	if n := len(history); n > 0 {
		c.previousHash = history[n-1].Hash
		c.sequence = history[n-1].Sequence
	}
	return c, nil
}

// Append adds payload to the chain. The in-memory head only advances once
// the sink accepted the entry.
func (c *ChainLogger) Append(payload string) (*LogEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &LogEntry{
		Sequence:     c.sequence + 1,
		Timestamp:    c.now().UTC().Format(time.RFC3339Nano),
		PreviousHash: c.previousHash,
		Payload:      payload,
	}
	entry.Hash = hashEntry(entry.PreviousHash, entry)

	if c.sink != nil {
		if err := c.sink.Write(entry); err != nil {
			return nil, fmt.Errorf("persist audit entry %d: %w", entry.Sequence, err)
		}
	}

	c.previousHash = entry.Hash
	c.sequence = entry.Sequence
	return entry, nil
}

// Head returns the hash of the latest entry.
func (c *ChainLogger) Head() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.previousHash
}

func hashEntry(prevHash string, e *LogEntry) string {
	hashInput := fmt.Sprintf("%s|%d|%s|%s", prevHash, e.Sequence, e.Timestamp, e.Payload)
	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

// VerifyChain checks that entries form an unbroken hash chain.
func VerifyChain(entries []*LogEntry) bool {
	return FirstBrokenLink(entries) < 0
}

// FirstBrokenLink returns the index of the first entry that does not
// verify, or -1 when the whole chain is intact.
func FirstBrokenLink(entries []*LogEntry) int {
	for i, entry := range entries {
		prevHash := entry.PreviousHash
		if i > 0 {
			prevHash = entries[i-1].Hash
			if entry.PreviousHash != prevHash || entry.Sequence != entries[i-1].Sequence+1 {
				return i
			}
		}

		if hashEntry(prevHash, entry) != entry.Hash {
			return i
		}
	}
	return -1
}
