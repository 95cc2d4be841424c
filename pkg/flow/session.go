package flow

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/Mostlyu/avax-nfl-predictor/pkg/prediction"
	"github.com/Mostlyu/avax-nfl-predictor/pkg/schedule"
)

// State is a stage of the purchase-gated retrieval flow.
type State string

const (
	StateIdle               State = "idle"
	StateCheckingAccess     State = "checking_access"
	StateAwaitingPayment    State = "awaiting_payment"
	StateSubmittingPayment  State = "submitting_payment"
	StateAwaitingSettlement State = "awaiting_settlement"
	StateFetchingPrediction State = "fetching_prediction"
	StateDone               State = "done"
	StateFailed             State = "failed"
)

// Terminal reports whether the state ends an invocation.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Session is one invocation of the flow for a (account, event) pair.
// Each invocation carries its own tag so results from a superseded
// invocation can never leak into a newer one. A session holds either a
// prediction or a failure, never both.
type Session struct {
	ID        uuid.UUID
	Account   common.Address
	Game      schedule.Game
	StartedAt time.Time

	mu         sync.Mutex
	state      State
	paid       bool // a payment was submitted during this invocation
	prediction *prediction.Prediction
	failure    *Failure
}

func newSession(account common.Address, game schedule.Game) *Session {
	return &Session{
		ID:        uuid.New(),
		Account:   account,
		Game:      game,
		StartedAt: time.Now(),
		state:     StateIdle,
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Prediction returns the payload once the session is Done.
func (s *Session) Prediction() *prediction.Prediction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prediction
}

// Failure returns the terminal failure, if any.
func (s *Session) Failure() *Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// PaymentSubmitted reports whether this invocation submitted a payment.
func (s *Session) PaymentSubmitted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paid
}

// Status is a JSON-friendly snapshot of a session.
type Status struct {
	ID        string    `json:"id"`
	Account   string    `json:"account"`
	EventID   int64     `json:"event_id"`
	Matchup   string    `json:"matchup"`
	State     State     `json:"state"`
	Paid      bool      `json:"payment_submitted"`
	Error     string    `json:"error,omitempty"`
	Reason    Reason    `json:"error_reason,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Snapshot returns a point-in-time status of the session.
func (s *Session) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		ID:        s.ID.String(),
		Account:   s.Account.Hex(),
		EventID:   s.Game.ID,
		Matchup:   s.Game.Matchup(),
		State:     s.state,
		Paid:      s.paid,
		StartedAt: s.StartedAt,
	}
	if s.failure != nil {
		st.Error = s.failure.Message
		st.Reason = s.failure.Reason
	}
	return st
}

func (s *Session) markPaid() {
	s.mu.Lock()
	s.paid = true
	s.mu.Unlock()
}

// setState moves the session to a non-terminal state.
func (s *Session) setState(next State) State {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	return prev
}

// finish moves the session to a terminal state with either a prediction
// or a failure, never both.
func (s *Session) finish(p *prediction.Prediction, f *Failure) State {
	s.mu.Lock()
	prev := s.state
	if f != nil {
		s.state = StateFailed
		s.failure = f
		s.prediction = nil
	} else {
		s.state = StateDone
		s.prediction = p
		s.failure = nil
	}
	s.mu.Unlock()
	return prev
}
