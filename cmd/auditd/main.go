// Command auditd verifies an audit chain persisted in a WAL directory.
// It exits non-zero when the chain is broken.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/example/escrow-ledger/pkg/audit"
)

func main() {
	dir := flag.String("dir", os.Getenv("AUDIT_WAL_DIR"), "audit WAL directory")
	verbose := flag.Bool("v", false, "print every entry")
	flag.Parse()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "auditd: -dir or AUDIT_WAL_DIR is required")
		os.Exit(2)
	}
	os.Exit(verify(*dir, *verbose))
}

func verify(dir string, verbose bool) int {
	sink, err := audit.OpenWAL(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "auditd: %v\n", err)
		return 1
	}
	defer sink.Close()

	entries, err := sink.Entries()
	if err != nil {
		fmt.Fprintf(os.Stderr, "auditd: %v\n", err)
		return 1
	}
	if verbose {
		for _, e := range entries {
			fmt.Printf("%d %s %s %s\n", e.Sequence, e.Timestamp, e.Hash, e.Payload)
		}
	}

	if i := audit.FirstBrokenLink(entries); i >= 0 {
		fmt.Printf("chain BROKEN at entry %d of %d (sequence %d)\n", i, len(entries), entries[i].Sequence)
		return 1
	}
	head := audit.GenesisHash
	if n := len(entries); n > 0 {
		head = entries[n-1].Hash
	}
	fmt.Printf("chain OK: %d entries, head %s\n", len(entries), head)
	return 0
}
