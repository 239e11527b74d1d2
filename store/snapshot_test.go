package store

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)

	csA := RandChainState("nockchain", 3)
	csB := RandChainState("solana", 7)
	require.NoError(t, s.PutChainState(csA))
	require.NoError(t, s.PutChainState(csB))

	tx := RandTransaction("nockchain", "solana", TxStatusPending)
	require.NoError(t, s.SaveTransaction(tx))

	id, err := s.CreateSnapshot("test")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// wipe the live regions, then restore
	_, err = s.db.Exec(`DELETE FROM chain_state_current; DELETE FROM transactions;`)
	require.NoError(t, err)
	s.csCache.remove("nockchain")
	s.csCache.remove("solana")
	s.txCache.remove(tx.ID)

	snap, err := s.RestoreFromSnapshot(id)
	require.NoError(t, err)
	assert.Len(t, snap.ChainStates, 2)
	assert.Len(t, snap.Transactions, 1)

	got, ok, err := s.GetChainState("nockchain")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, csA.Version, got.Version)
	assert.Equal(t, 0, csA.BridgeBalance.Cmp(got.BridgeBalance))

	gotTx, ok, err := s.GetTransaction(tx.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, tx.Amount.Cmp(gotTx.Amount))

	// indexes rebuilt through the normal save path
	pending, err := s.GetTransactionsByStatus(TxStatusPending, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestSnapshotCorruptionFailsRestore(t *testing.T) {
	s := newTestStore(t)

	cs := RandChainState("nockchain", 5)
	require.NoError(t, s.PutChainState(cs))

	id, err := s.CreateSnapshot("test")
	require.NoError(t, err)

	// flip one byte of the stored payload: the chain id inside it
	var payload []byte
	require.NoError(t, s.db.QueryRow(`SELECT payload FROM snapshots WHERE id = ?`, id).Scan(&payload))
	corrupted := strings.Replace(string(payload), `"chain":"nockchain"`, `"chain":"wockchain"`, 1)
	require.NotEqual(t, string(payload), corrupted)
	_, err = s.db.Exec(`UPDATE snapshots SET payload = ? WHERE id = ?`, []byte(corrupted), id)
	require.NoError(t, err)

	// drop the live record so a (forbidden) partial restore would show
	_, err = s.db.Exec(`DELETE FROM chain_state_current`)
	require.NoError(t, err)
	s.csCache.remove("nockchain")

	_, err = s.RestoreFromSnapshot(id)
	assert.True(t, errors.Is(err, ErrIntegrity))

	// nothing was written back
	_, ok, err := s.GetChainState("nockchain")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestSnapshotPruneKeepsNewest(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.PutChainState(RandChainState("nockchain", 1)))

	var ids []string
	for i := 0; i < 12; i++ {
		id, err := s.CreateSnapshot("test")
		require.NoError(t, err)
		ids = append(ids, id)
		// createdAt must differ for oldest-first pruning to be decidable
		_, err = s.db.Exec(`UPDATE snapshots SET createdAt = ? WHERE id = ?`, int64(1000+i), id)
		require.NoError(t, err)
	}

	n, err := s.PruneSnapshots(10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// the two oldest are gone
	_, err = s.GetSnapshot(ids[0])
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.GetSnapshot(ids[1])
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.GetSnapshot(ids[11])
	assert.NoError(t, err)
}

func TestLatestSnapshotID(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.LatestSnapshotID()
	assert.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutChainState(RandChainState("nockchain", 1)))
	first, err := s.CreateSnapshot("one")
	require.NoError(t, err)
	second, err := s.CreateSnapshot("two")
	require.NoError(t, err)
	// force distinct createdAt ordering
	_, err = s.db.Exec(`UPDATE snapshots SET createdAt = 1 WHERE id = ?`, first)
	require.NoError(t, err)
	_, err = s.db.Exec(`UPDATE snapshots SET createdAt = 2 WHERE id = ?`, second)
	require.NoError(t, err)

	id, ok, err := s.LatestSnapshotID()
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, second, id)
}
