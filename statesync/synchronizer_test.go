package statesync

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nockbridge/bridge-go/common"
	"github.com/nockbridge/bridge-go/database"
	"github.com/nockbridge/bridge-go/store"
)

func testConfig() *Config {
	return &Config{
		SourceChain: "nockchain",
		DestChain:   "solana",
	}
}

func newTestSync(t *testing.T, cfg *Config) (*Synchronizer, *store.Store) {
	db, err := database.OpenMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st, err := store.New(db, nil)
	require.NoError(t, err)
	t.Cleanup(st.Close)

	s, err := New(st, cfg)
	require.NoError(t, err)
	return s, st
}

func obsAt(chain string, height int64, balance int64) *ChainObservation {
	return &ChainObservation{
		Chain:         chain,
		BlockHeight:   big.NewInt(height),
		BlockTime:     common.NowMillis(),
		BridgeBalance: big.NewInt(balance),
		ObservedAt:    common.NowMillis(),
	}
}

// Healthy sync: in-order heights are all accepted, versions climb, no
// inconsistency is raised.
func TestHealthySync(t *testing.T) {
	s, _ := newTestSync(t, testConfig())

	for _, h := range []int64{100, 101, 102} {
		assert.NoError(t, s.handleObservation(obsAt("nockchain", h, 1000)))
	}

	cs, ok := s.GetChainState("nockchain")
	require.True(t, ok)
	assert.Equal(t, int64(102), cs.BlockHeight.Int64())
	assert.Equal(t, uint64(3), cs.Version)

	s.checkConsistency()
	assert.Len(t, s.inconsistencyCh, 0)
}

func TestMonotoneGuardRejectsStale(t *testing.T) {
	s, st := newTestSync(t, testConfig())

	require.NoError(t, s.handleObservation(obsAt("nockchain", 102, 1000)))

	// a replayed and an out-of-order observation both bounce
	assert.Error(t, s.handleObservation(obsAt("nockchain", 102, 900)))
	assert.Error(t, s.handleObservation(obsAt("nockchain", 101, 900)))

	cs, ok := s.GetChainState("nockchain")
	require.True(t, ok)
	assert.Equal(t, int64(102), cs.BlockHeight.Int64())
	assert.Equal(t, uint64(1), cs.Version)

	// the stored current record did not change either
	stored, ok, err := st.GetChainState("nockchain")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1000), stored.BridgeBalance.Int64())
}

func TestObservationValidation(t *testing.T) {
	s, _ := newTestSync(t, testConfig())

	assert.ErrorIs(t, s.handleObservation(&ChainObservation{Chain: "nockchain"}), ErrObservationInvalid)
	assert.ErrorIs(t, s.handleObservation(obsAt("dogecoin", 1, 1)), ErrChainUnknown)
}

// Updates must never mutate a record shared with concurrent readers:
// the pending set and the store cache hand out pointers while the loop
// applies transitions for the same id. Run under -race.
func TestConcurrentReadsDuringUpdates(t *testing.T) {
	s, st := newTestSync(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	updates := s.GetTxUpdateChannel()
	updates <- &TxUpdate{
		ID:          "tx-race",
		SourceChain: "nockchain",
		DestChain:   "solana",
		Amount:      big.NewInt(500),
		Status:      store.TxStatusPending,
	}
	require.Eventually(t, func() bool {
		return len(s.GetPendingTransactions()) == 1
	}, time.Second, time.Millisecond)

	readersDone := make(chan struct{})
	go func() {
		defer close(readersDone)
		for i := 0; i < 500; i++ {
			for _, tx := range s.GetPendingTransactions() {
				_ = tx.Status
				_ = tx.UpdatedAt
			}
			if tx, ok, _ := st.GetTransaction("tx-race"); ok {
				_ = tx.Status
				_ = tx.SourceTxRef
			}
		}
	}()

	for i := 0; i < 500; i++ {
		updates <- &TxUpdate{
			ID:          "tx-race",
			SourceChain: "nockchain",
			DestChain:   "solana",
			Amount:      big.NewInt(500),
			Status:      store.TxStatusPending,
			SourceTxRef: common.ByteSliceToPureHexStr(common.RandBytes(8)),
		}
	}
	<-readersDone

	cancel()
	<-done
}

func TestTransactionLifecycle(t *testing.T) {
	s, st := newTestSync(t, testConfig())

	u := &TxUpdate{
		ID:          "tx-1",
		SourceChain: "nockchain",
		DestChain:   "solana",
		Amount:      big.NewInt(500),
		Status:      store.TxStatusPending,
	}
	require.NoError(t, s.handleTxUpdate(u))
	assert.Len(t, s.GetPendingTransactions(), 1)

	u.Status = store.TxStatusConfirmed
	u.DestTxRef = "dest-ref"
	require.NoError(t, s.handleTxUpdate(u))
	assert.Len(t, s.GetPendingTransactions(), 0)

	got, ok, err := st.GetTransaction("tx-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.TxStatusConfirmed, got.Status)
	assert.Equal(t, "dest-ref", got.DestTxRef)

	// terminal -> non-terminal is refused and changes nothing
	u.Status = store.TxStatusPending
	assert.Error(t, s.handleTxUpdate(u))
	got, _, err = st.GetTransaction("tx-1")
	require.NoError(t, err)
	assert.Equal(t, store.TxStatusConfirmed, got.Status)
}

func TestPendingTimeoutFlaggedOnce(t *testing.T) {
	cfg := testConfig()
	cfg.PendingCeiling = time.Millisecond
	s, _ := newTestSync(t, cfg)

	require.NoError(t, s.handleTxUpdate(&TxUpdate{
		ID:          "tx-stuck",
		SourceChain: "nockchain",
		DestChain:   "solana",
		Amount:      big.NewInt(42),
		Status:      store.TxStatusPending,
	}))

	time.Sleep(5 * time.Millisecond)
	s.checkConsistency()
	s.checkConsistency()

	// exactly one event despite two sweeps
	require.Len(t, s.inconsistencyCh, 1)
	ev := <-s.inconsistencyCh
	assert.Equal(t, InconsistencyPendingTimeout, ev.Kind)
	assert.Equal(t, "tx-stuck", ev.TxID)
	assert.ElementsMatch(t, []string{"nockchain", "solana"}, ev.Chains)
}

// Source balance drops by 100 and the destination never increases: one
// balance_drift event naming both chains.
func TestBalanceDriftDetected(t *testing.T) {
	cfg := testConfig()
	cfg.BalanceWindow = time.Millisecond
	s, _ := newTestSync(t, cfg)

	require.NoError(t, s.handleObservation(obsAt("nockchain", 100, 1000)))
	require.NoError(t, s.handleObservation(obsAt("solana", 200, 500)))
	require.NoError(t, s.handleObservation(obsAt("nockchain", 101, 900)))

	time.Sleep(5 * time.Millisecond)
	s.checkConsistency()

	require.Len(t, s.inconsistencyCh, 1)
	ev := <-s.inconsistencyCh
	assert.Equal(t, InconsistencyBalanceDrift, ev.Kind)
	assert.ElementsMatch(t, []string{"nockchain", "solana"}, ev.Chains)

	// flagged once; another sweep stays quiet
	s.checkConsistency()
	assert.Len(t, s.inconsistencyCh, 0)
}

// The destination catching up inside the window clears the drop.
func TestBalanceDriftClearedByDestination(t *testing.T) {
	cfg := testConfig()
	cfg.BalanceWindow = time.Minute
	s, _ := newTestSync(t, cfg)

	require.NoError(t, s.handleObservation(obsAt("nockchain", 100, 1000)))
	require.NoError(t, s.handleObservation(obsAt("solana", 200, 500)))
	require.NoError(t, s.handleObservation(obsAt("nockchain", 101, 900)))
	require.NoError(t, s.handleObservation(obsAt("solana", 201, 600)))

	assert.Len(t, s.drops, 0)
	s.checkConsistency()
	assert.Len(t, s.inconsistencyCh, 0)
}

func TestColdStartRecovery(t *testing.T) {
	db, err := database.OpenMemoryDB()
	require.NoError(t, err)
	defer db.Close()
	st, err := store.New(db, nil)
	require.NoError(t, err)
	defer st.Close()

	s1, err := New(st, testConfig())
	require.NoError(t, err)
	require.NoError(t, s1.handleObservation(obsAt("nockchain", 100, 1000)))
	require.NoError(t, s1.handleObservation(obsAt("solana", 200, 500)))
	require.NoError(t, s1.handleTxUpdate(&TxUpdate{
		ID:          "tx-1",
		SourceChain: "nockchain",
		DestChain:   "solana",
		Amount:      big.NewInt(7),
		Status:      store.TxStatusPending,
	}))

	// a second synchronizer over the same store sees the same world
	s2, err := New(st, testConfig())
	require.NoError(t, err)

	cs, ok := s2.GetChainState("nockchain")
	require.True(t, ok)
	assert.Equal(t, int64(100), cs.BlockHeight.Int64())
	assert.Len(t, s2.GetPendingTransactions(), 1)
}

func TestStartStops(t *testing.T) {
	s, _ := newTestSync(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	s.GetObservationChannel() <- obsAt("nockchain", 100, 1000)

	assert.Eventually(t, func() bool {
		_, ok := s.GetChainState("nockchain")
		return ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.Error(t, err) // context.Canceled
	case <-time.After(time.Second):
		t.Fatal("synchronizer did not stop")
	}
}
