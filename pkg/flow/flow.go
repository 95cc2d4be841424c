// Package flow implements the purchase-gated prediction retrieval flow:
// given a connected account and a selected game, it checks the Access
// Ledger, drives a payment when access is missing, waits for settlement
// and only then fetches the prediction payload.
package flow

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Mostlyu/avax-nfl-predictor/pkg/ledger"
	"github.com/Mostlyu/avax-nfl-predictor/pkg/prediction"
	"github.com/Mostlyu/avax-nfl-predictor/pkg/schedule"
)

// ErrSuperseded is returned when a newer invocation replaced this one.
// It is not a user-facing failure: the superseding invocation owns the
// visible state and results from the old one are discarded.
var ErrSuperseded = errors.New("flow invocation superseded")

// Ledger is the Access Ledger surface the flow needs.
// *ledger.Client satisfies it.
type Ledger interface {
	PriceOrDefault(ctx context.Context) (*big.Int, bool)
	CanAccess(ctx context.Context, account common.Address, eventID int64) (bool, error)
	Purchase(ctx context.Context, eventID int64, amount *big.Int) (common.Hash, error)
	WaitSettled(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// PredictionSource fetches the payload once access is confirmed.
// *prediction.Client satisfies it.
type PredictionSource interface {
	Get(ctx context.Context, eventID int64) (*prediction.Prediction, error)
}

// Transition describes one state change of a session.
type Transition struct {
	SessionID string    `json:"session_id"`
	EventID   int64     `json:"event_id"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Failure   *Failure  `json:"-"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Flow coordinates purchase-gated retrieval. Only one invocation is
// current at a time; starting a new one cancels and supersedes any
// outstanding settlement poll so stale results cannot leak into the
// newly selected event's state.
type Flow struct {
	ledger Ledger
	source PredictionSource

	onTransition func(*Transition)

	// guards current/cancel; session state has its own lock
	mu      sync.Mutex
	current *Session
	cancel  context.CancelFunc
}

// New creates a flow over the given ledger and prediction source.
func New(l Ledger, source PredictionSource) *Flow {
	return &Flow{
		ledger: l,
		source: source,
	}
}

// OnTransition sets a callback invoked on every state change.
func (f *Flow) OnTransition(fn func(*Transition)) {
	f.onTransition = fn
}

// Current returns the most recent session, or nil.
func (f *Flow) Current() *Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Run executes one invocation of the flow and returns the unlocked
// prediction. Failures come back as *Failure; ErrSuperseded means a
// newer invocation took over. Exactly one payment submission happens
// per invocation and nothing is retried automatically: retrying is
// always a fresh, caller-initiated Run (safe, since the ledger is
// idempotent per account and event once paid).
func (f *Flow) Run(ctx context.Context, account common.Address, game schedule.Game) (*prediction.Prediction, error) {
	if account == (common.Address{}) {
		fail := failf(ReasonNotConnected, nil, "connect a wallet before requesting a prediction")
		s := newSession(account, game)
		s.finish(nil, fail)
		f.notify(s, StateIdle, StateFailed, fail)
		return nil, fail
	}

	s, runCtx, cancel := f.begin(ctx, account, game)
	defer cancel()

	// Always a fresh ledger read: a prior attempt by the same account
	// may have completed payment out-of-band.
	if err := f.transition(s, StateCheckingAccess); err != nil {
		return nil, err
	}

	granted, err := f.ledger.CanAccess(runCtx, account, game.ID)
	if err != nil {
		return f.fail(s, classifyAccessError(err))
	}

	if !granted {
		if err := f.runPayment(runCtx, s, account, game); err != nil {
			return nil, err
		}
	}

	if err := f.transition(s, StateFetchingPrediction); err != nil {
		return nil, err
	}

	pred, err := f.source.Get(runCtx, game.ID)
	if err != nil {
		msg := "prediction unavailable"
		var unavailable *prediction.UnavailableError
		if errors.As(err, &unavailable) && unavailable.Message != "" {
			msg = unavailable.Message
		}
		return f.fail(s, failf(ReasonPredictionUnavailable, err, "%s", msg))
	}

	if err := f.finish(s, pred, nil); err != nil {
		return nil, err
	}
	return pred, nil
}

// runPayment drives AwaitingPayment through AwaitingSettlement. A nil
// return means access is confirmed and the caller proceeds to fetch;
// any error terminated the invocation.
func (f *Flow) runPayment(ctx context.Context, s *Session, account common.Address, game schedule.Game) error {
	if err := f.transition(s, StateAwaitingPayment); err != nil {
		return err
	}

	price, _ := f.ledger.PriceOrDefault(ctx)

	if err := f.transition(s, StateSubmittingPayment); err != nil {
		return err
	}

	txHash, err := f.ledger.Purchase(ctx, game.ID, price)
	switch {
	case err == nil:
		// fall through to settlement below

	case errors.Is(err, ledger.ErrAlreadyPurchased):
		// Equivalent to "no payment needed", not a user-facing error.
		return nil

	case errors.Is(err, context.Canceled):
		if !f.isCurrent(s) {
			return ErrSuperseded
		}
		_, ferr := f.fail(s, failf(ReasonPaymentCancelled, err, "payment was cancelled"))
		return ferr

	case errors.Is(err, ledger.ErrInsufficientFunds), errors.Is(err, ledger.ErrInsufficientPayment):
		_, ferr := f.fail(s, failf(ReasonInsufficientFunds, err, "insufficient funds to purchase this prediction"))
		return ferr

	default:
		_, ferr := f.fail(s, failf(ReasonPurchaseFailed, err, "payment submission failed"))
		return ferr
	}

	s.markPaid()

	if err := f.transition(s, StateAwaitingSettlement); err != nil {
		return err
	}

	if _, err := f.ledger.WaitSettled(ctx, txHash); err != nil {
		switch {
		case errors.Is(err, ledger.ErrSettlementTimeout):
			_, ferr := f.fail(s, failf(ReasonSettlementTimeout, err, "payment was submitted but not confirmed in time"))
			return ferr
		case ctx.Err() != nil:
			// Superseded or caller gone; the poll result is discarded
			// without touching visible state.
			if !f.isCurrent(s) {
				return ErrSuperseded
			}
			return ctx.Err()
		default:
			_, ferr := f.fail(s, failf(ReasonPurchaseFailed, err, "could not confirm the payment"))
			return ferr
		}
	}

	// The payment mined; re-check the grant once. Still false is a hard
	// stop, never silently retried, to avoid double-charging.
	granted, err := f.ledger.CanAccess(ctx, account, game.ID)
	if err != nil {
		_, ferr := f.fail(s, classifyAccessError(err))
		return ferr
	}
	if !granted {
		_, ferr := f.fail(s, failf(ReasonPaymentVerificationFailed, nil,
			"payment confirmed but access was not granted; contact support before retrying"))
		return ferr
	}

	return nil
}

// begin replaces the current session, cancelling any outstanding one.
func (f *Flow) begin(ctx context.Context, account common.Address, game schedule.Game) (*Session, context.Context, context.CancelFunc) {
	s := newSession(account, game)
	runCtx, cancel := context.WithCancel(ctx)

	f.mu.Lock()
	if f.cancel != nil {
		f.cancel()
	}
	f.current = s
	f.cancel = cancel
	f.mu.Unlock()

	return s, runCtx, cancel
}

func (f *Flow) isCurrent(s *Session) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current == s
}

// transition commits a non-terminal state change, refusing to touch
// state owned by a newer invocation.
func (f *Flow) transition(s *Session, next State) error {
	if !f.isCurrent(s) {
		return ErrSuperseded
	}
	prev := s.setState(next)
	f.notify(s, prev, next, nil)
	return nil
}

// finish commits a terminal state. fl nil means Done.
func (f *Flow) finish(s *Session, p *prediction.Prediction, fl *Failure) error {
	if !f.isCurrent(s) {
		return ErrSuperseded
	}
	prev := s.finish(p, fl)
	if fl != nil {
		f.notify(s, prev, StateFailed, fl)
	} else {
		f.notify(s, prev, StateDone, nil)
	}
	return nil
}

func (f *Flow) fail(s *Session, fl *Failure) (*prediction.Prediction, error) {
	if err := f.finish(s, nil, fl); err != nil {
		return nil, err
	}
	return nil, fl
}

func (f *Flow) notify(s *Session, from, to State, fl *Failure) {
	if f.onTransition == nil {
		return
	}
	t := &Transition{
		SessionID: s.ID.String(),
		EventID:   s.Game.ID,
		From:      from,
		To:        to,
		Failure:   fl,
		At:        time.Now(),
	}
	if fl != nil {
		t.Error = fl.Message
	}
	f.onTransition(t)
}

func classifyAccessError(err error) *Failure {
	if errors.Is(err, ledger.ErrWrongNetwork) {
		return failf(ReasonWrongNetwork, err, "connected to the wrong network")
	}
	return failf(ReasonLedgerUnavailable, err, "could not reach the access ledger")
}
