package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/escrow-ledger/pkg/audit"
)

func TestVerify(t *testing.T) {
	dir := t.TempDir()
	chain, sink, err := audit.OpenPersistentChain(dir)
	require.NoError(t, err)
	for _, p := range []string{"event=deposit.completed ref=dep_1", "event=transfer.completed ref=txn_1"} {
		_, err := chain.Append(p)
		require.NoError(t, err)
	}
	require.NoError(t, sink.Close())

	assert.Equal(t, 0, verify(dir, false))
	assert.Equal(t, 0, verify(t.TempDir(), false), "an empty chain is intact")
}
