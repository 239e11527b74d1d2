package statesync

import (
	"context"
	"math/big"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/nockbridge/bridge-go/common"
	"github.com/nockbridge/bridge-go/store"
)

// Synchronizer owns the canonical in-memory view of both chains' bridge
// state and every in-flight transfer. All mutations funnel through one
// event loop, so updates for a given chain or transaction id are
// serialized by construction while reads go through an RWMutex and never
// wait on the loop.
type Synchronizer struct {
	st  *store.Store
	cfg *Config

	obsCh chan *ChainObservation
	txCh  chan *TxUpdate

	stateUpdatedCh  chan *StateUpdatedEvent
	txUpdatedCh     chan *TransactionUpdatedEvent
	inconsistencyCh chan *InconsistencyEvent

	mu          sync.RWMutex
	chainStates map[string]*store.ChainState
	pendingTxs  map[string]*store.TransactionState

	// owned by the loop goroutine
	drops      map[string]*balanceDrop
	flaggedTxs map[string]bool
}

// balanceDrop remembers a source-side balance decrease until the other
// side reflects it or the window runs out.
type balanceDrop struct {
	amount        *big.Int
	at            int64
	otherChain    string
	otherBaseline *big.Int
}

func New(st *store.Store, cfg *Config) (*Synchronizer, error) {
	if cfg.SourceChain == "" || cfg.DestChain == "" {
		return nil, ErrChainUnknown
	}
	c := cfg.withDefaults()

	s := &Synchronizer{
		st:              st,
		cfg:             c,
		obsCh:           make(chan *ChainObservation, c.ChannelSize),
		txCh:            make(chan *TxUpdate, c.ChannelSize),
		stateUpdatedCh:  make(chan *StateUpdatedEvent, c.ChannelSize),
		txUpdatedCh:     make(chan *TransactionUpdatedEvent, c.ChannelSize),
		inconsistencyCh: make(chan *InconsistencyEvent, c.ChannelSize),
		chainStates:     make(map[string]*store.ChainState),
		pendingTxs:      make(map[string]*store.TransactionState),
		drops:           make(map[string]*balanceDrop),
		flaggedTxs:      make(map[string]bool),
	}

	if err := s.recover(); err != nil {
		return nil, err
	}
	return s, nil
}

// recover rebuilds the in-memory view on cold start. When the live
// regions are empty but a snapshot exists, the snapshot is restored first
// and transactions newer than it replayed through the store.
func (s *Synchronizer) recover() error {
	chains, err := s.st.ListChains()
	if err != nil {
		return err
	}

	if len(chains) == 0 {
		id, ok, err := s.st.LatestSnapshotID()
		if err != nil {
			return err
		}
		if ok {
			if _, err := s.st.RestoreFromSnapshot(id); err != nil {
				// an unverifiable snapshot must never seed state
				return err
			}
			if chains, err = s.st.ListChains(); err != nil {
				return err
			}
		}
	}

	for _, chain := range chains {
		cs, ok, err := s.st.GetChainState(chain)
		if err != nil {
			return err
		}
		if ok {
			s.chainStates[chain] = cs
		}
	}

	pending, err := s.st.GetTransactionsByStatus(store.TxStatusPending, 0)
	if err != nil {
		return err
	}
	for _, tx := range pending {
		s.pendingTxs[tx.ID] = tx
	}

	logger.WithFields(logger.Fields{
		"chains":  len(s.chainStates),
		"pending": len(s.pendingTxs),
	}).Info("synchronizer state recovered")
	return nil
}

// ---- write-side channels (poller-facing) ----

func (s *Synchronizer) GetObservationChannel() chan<- *ChainObservation {
	return s.obsCh
}

func (s *Synchronizer) GetTxUpdateChannel() chan<- *TxUpdate {
	return s.txCh
}

// ---- read-side event streams (monitor-facing) ----

func (s *Synchronizer) StateUpdatedEvents() <-chan *StateUpdatedEvent {
	return s.stateUpdatedCh
}

func (s *Synchronizer) TransactionUpdatedEvents() <-chan *TransactionUpdatedEvent {
	return s.txUpdatedCh
}

func (s *Synchronizer) InconsistencyEvents() <-chan *InconsistencyEvent {
	return s.inconsistencyCh
}

// ---- concurrent reads ----

func (s *Synchronizer) GetChainState(chain string) (*store.ChainState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.chainStates[chain]
	return cs, ok
}

func (s *Synchronizer) GetPendingTransactions() []*store.TransactionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*store.TransactionState, 0, len(s.pendingTxs))
	for _, tx := range s.pendingTxs {
		out = append(out, tx)
	}
	return out
}

// Start runs the synchronizer loop until ctx is cancelled. Errors from a
// single observation or update are logged here and never stop the loop;
// only a cancelled context ends it.
func (s *Synchronizer) Start(ctx context.Context) error {
	logger.Info("starting cross-chain synchronizer")
	defer logger.Info("stopping cross-chain synchronizer")

	checkTicker := time.NewTicker(s.cfg.CheckInterval)
	defer checkTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case obs := <-s.obsCh:
			if err := s.handleObservation(obs); err != nil {
				logger.WithFields(logger.Fields{
					"chain": obs.Chain,
					"error": err,
				}).Error("observation rejected")
			}

		case u := <-s.txCh:
			if err := s.handleTxUpdate(u); err != nil {
				logger.WithFields(logger.Fields{
					"tx":    u.ID,
					"error": err,
				}).Error("transaction update rejected")
			}

		case <-checkTicker.C:
			s.checkConsistency()
		}
	}
}

func (s *Synchronizer) handleObservation(obs *ChainObservation) error {
	if obs.Chain == "" || obs.BlockHeight == nil || obs.BridgeBalance == nil {
		return ErrObservationInvalid
	}
	if obs.Chain != s.cfg.SourceChain && obs.Chain != s.cfg.DestChain {
		return ErrChainUnknown
	}

	current := s.chainStates[obs.Chain]

	// idempotent-and-monotone guard: replays and reordered polls are
	// dropped without touching stored state
	if current != nil && obs.BlockHeight.Cmp(current.BlockHeight) <= 0 {
		return ErrStaleObservation(obs.Chain, current.BlockHeight, obs.BlockHeight)
	}

	version := uint64(1)
	if current != nil {
		version = current.Version + 1
	}

	cs := &store.ChainState{
		Chain:         obs.Chain,
		BlockHeight:   new(big.Int).Set(obs.BlockHeight),
		BlockTime:     obs.BlockTime,
		BridgeBalance: new(big.Int).Set(obs.BridgeBalance),
		Version:       version,
		CapturedAt:    common.NowMillis(),
	}

	if err := s.st.PutChainState(cs); err != nil {
		return err
	}

	s.trackBalance(current, cs)

	s.mu.Lock()
	s.chainStates[obs.Chain] = cs
	s.mu.Unlock()

	s.emitState(&StateUpdatedEvent{State: cs})
	return nil
}

// trackBalance records source-side balance drops and clears a recorded
// drop once the other side's balance has grown past its baseline.
func (s *Synchronizer) trackBalance(prev, curr *store.ChainState) {
	if prev != nil && curr.BridgeBalance.Cmp(prev.BridgeBalance) < 0 {
		other := s.otherChain(curr.Chain)
		drop := &balanceDrop{
			amount:     new(big.Int).Sub(prev.BridgeBalance, curr.BridgeBalance),
			at:         curr.CapturedAt,
			otherChain: other,
		}
		if otherState, ok := s.chainStates[other]; ok {
			drop.otherBaseline = new(big.Int).Set(otherState.BridgeBalance)
		}
		s.drops[curr.Chain] = drop
	}

	// this update may be the other side catching up on a recorded drop
	if drop, ok := s.drops[s.otherChain(curr.Chain)]; ok {
		if drop.otherChain == curr.Chain && drop.otherBaseline != nil &&
			curr.BridgeBalance.Cmp(drop.otherBaseline) > 0 {
			delete(s.drops, s.otherChain(curr.Chain))
		}
	}
}

func (s *Synchronizer) otherChain(chain string) string {
	if chain == s.cfg.SourceChain {
		return s.cfg.DestChain
	}
	return s.cfg.SourceChain
}

func (s *Synchronizer) handleTxUpdate(u *TxUpdate) error {
	if u.Amount == nil || u.Amount.Sign() <= 0 {
		return ErrAmountInvalid
	}

	existing, ok, err := s.st.GetTransaction(u.ID)
	if err != nil {
		return err
	}

	now := common.NowMillis()
	var tx *store.TransactionState
	var previous store.TxStatus

	if ok {
		if existing.Status.Terminal() && u.Status != existing.Status {
			return ErrTerminalTransition(u.ID, existing.Status, u.Status)
		}
		previous = existing.Status
		// copy-on-write: the existing record is shared with concurrent
		// readers through the pending set and the store cache
		tx = existing.Clone()
		tx.Status = u.Status
		if u.SourceTxRef != "" {
			tx.SourceTxRef = u.SourceTxRef
		}
		if u.DestTxRef != "" {
			tx.DestTxRef = u.DestTxRef
		}
		tx.UpdatedAt = now
	} else {
		tx = &store.TransactionState{
			ID:          u.ID,
			SourceChain: u.SourceChain,
			DestChain:   u.DestChain,
			Amount:      new(big.Int).Set(u.Amount),
			Status:      u.Status,
			SourceTxRef: u.SourceTxRef,
			DestTxRef:   u.DestTxRef,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}

	if err := s.st.SaveTransaction(tx); err != nil {
		return err
	}

	s.mu.Lock()
	if tx.Status == store.TxStatusPending {
		s.pendingTxs[tx.ID] = tx
	} else {
		delete(s.pendingTxs, tx.ID)
	}
	s.mu.Unlock()
	if tx.Status != store.TxStatusPending {
		delete(s.flaggedTxs, tx.ID)
	}

	s.emitTx(&TransactionUpdatedEvent{Tx: tx, Previous: previous})
	return nil
}

// checkConsistency flags transfers pending past the ceiling and balance
// drops the destination never reflected. Each condition is flagged once,
// not once per sweep.
func (s *Synchronizer) checkConsistency() {
	now := common.NowMillis()

	for _, tx := range s.GetPendingTransactions() {
		if s.flaggedTxs[tx.ID] {
			continue
		}
		if now-tx.CreatedAt > s.cfg.PendingCeiling.Milliseconds() {
			s.flaggedTxs[tx.ID] = true
			s.emitInconsistency(&InconsistencyEvent{
				Kind:       InconsistencyPendingTimeout,
				Chains:     []string{tx.SourceChain, tx.DestChain},
				TxID:       tx.ID,
				Message:    "transfer pending past the configured ceiling",
				DetectedAt: now,
			})
		}
	}

	for chain, drop := range s.drops {
		if now-drop.at <= s.cfg.BalanceWindow.Milliseconds() {
			continue
		}
		delete(s.drops, chain)

		if otherState, ok := s.GetChainState(drop.otherChain); ok &&
			drop.otherBaseline != nil &&
			otherState.BridgeBalance.Cmp(drop.otherBaseline) > 0 {
			continue // the other side caught up after all
		}

		s.emitInconsistency(&InconsistencyEvent{
			Kind:       InconsistencyBalanceDrift,
			Chains:     []string{chain, drop.otherChain},
			Message:    "source balance dropped without a matching destination increase",
			DetectedAt: now,
		})
	}
}

// Event emission never blocks the loop; a full consumer loses events and
// the loss is logged.

func (s *Synchronizer) emitState(ev *StateUpdatedEvent) {
	select {
	case s.stateUpdatedCh <- ev:
	default:
		logger.WithField("chain", ev.State.Chain).Warn("state event channel full, event dropped")
	}
}

func (s *Synchronizer) emitTx(ev *TransactionUpdatedEvent) {
	select {
	case s.txUpdatedCh <- ev:
	default:
		logger.WithField("tx", ev.Tx.ID).Warn("transaction event channel full, event dropped")
	}
}

func (s *Synchronizer) emitInconsistency(ev *InconsistencyEvent) {
	select {
	case s.inconsistencyCh <- ev:
	default:
		logger.WithField("kind", ev.Kind).Warn("inconsistency event channel full, event dropped")
	}
}
