package audit

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
)

// WALSink stores chain entries in a segmented write-ahead log, one record
// per entry keyed by its hash.
type WALSink struct {
	wal *gowal.Wal
}

// OpenWAL opens (or creates) the audit WAL in dir.
func OpenWAL(dir string) (*WALSink, error) {
	w, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "audit_",
		SegmentThreshold: 10000,
		MaxSegments:      1000,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "error init audit wal")
	}

	return &WALSink{wal: w}, nil
}

func (s *WALSink) Write(entry *LogEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "error marshal audit entry")
	}

	if err := s.wal.Write(s.wal.CurrentIndex()+1, entry.Hash, b); err != nil {
		return errors.Wrapf(err, "error write audit entry %d", entry.Sequence)
	}
	return nil
}

// Entries reads back every persisted entry, oldest first.
func (s *WALSink) Entries() ([]*LogEntry, error) {
	var out []*LogEntry
	for m := range s.wal.Iterator() {
		var e LogEntry
		if err := json.Unmarshal(m.Value, &e); err != nil {
			return nil, errors.Wrapf(err, "error unmarshal audit entry %s", m.Key)
		}
		out = append(out, &e)
	}
	return out, nil
}

func (s *WALSink) Close() error {
	return s.wal.Close()
}

// OpenPersistentChain opens the WAL in dir and resumes the chain stored there.
func OpenPersistentChain(dir string) (*ChainLogger, *WALSink, error) {
	sink, err := OpenWAL(dir)
	if err != nil {
		return nil, nil, err
	}

	history, err := sink.Entries()
	if err != nil {
		_ = sink.Close()
		return nil, nil, err
	}

	chain, err := NewPersistentChainLogger(sink, history)
	if err != nil {
		_ = sink.Close()
		return nil, nil, err
	}
	return chain, sink, nil
}
