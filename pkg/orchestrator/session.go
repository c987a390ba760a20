package orchestrator

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xhad/brief/internal/models"
	"github.com/xhad/brief/internal/types"
	"github.com/xhad/brief/pkg/conversation"
)

type State int

const (
	StateEmpty State = iota
	StatePolicyChecked
	StateContentReady
	StateSummarized
	StateConversing
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StatePolicyChecked:
		return "policy_checked"
	case StateContentReady:
		return "content_ready"
	case StateSummarized:
		return "summarized"
	case StateConversing:
		return "conversing"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

func parseState(s string) State {
	for st := StateEmpty; st <= StateRejected; st++ {
		if st.String() == s {
			return st
		}
	}
	return StateEmpty
}

// Session holds one user's summary and its conversation. Sessions share
// nothing with each other.
type Session struct {
	ID string

	// askMu serialises follow-up questions.
	askMu sync.Mutex

	mu      sync.Mutex
	state   State
	epoch   uint64
	summary *models.Summary
	history *conversation.History
	policy  *models.PolicyDecision
	gate    types.PolicyGate
}

func newSession(id string, historyLimit int, gate types.PolicyGate) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		ID:      id,
		history: conversation.NewHistory(historyLimit),
		gate:    gate,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Summary returns a copy of the current summary, or nil.
func (s *Session) Summary() *models.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.summary == nil {
		return nil
	}
	sum := *s.summary
	return &sum
}

func (s *Session) History() []models.ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Turns()
}

func (s *Session) Policy() *models.PolicyDecision {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.policy == nil {
		return nil
	}
	d := *s.policy
	return &d
}

// Intent is a claim on the session's content. Claiming a newer one
// supersedes work started under older ones.
type Intent struct {
	epoch uint64
}

// Begin discards the summary and history and claims the session for a new
// summary. Callers that receive requests in order should claim in that order.
func (s *Session) Begin() Intent {
	return Intent{epoch: s.begin()}
}

// Current returns the claim held by the session's present content.
func (s *Session) Current() Intent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Intent{epoch: s.epoch}
}

// Reset discards the summary and history. Work in flight for the previous
// content is superseded.
func (s *Session) Reset() {
	s.begin()
}

// begin starts a new unit of work and returns its epoch.
func (s *Session) begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.state = StateEmpty
	s.summary = nil
	s.policy = nil
	s.history.Reset()
	return s.epoch
}

// advance moves to state if epoch is still current.
func (s *Session) advance(epoch uint64, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return ErrSuperseded
	}
	s.state = state
	return nil
}

func (s *Session) recordPolicy(epoch uint64, decision models.PolicyDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return ErrSuperseded
	}
	s.policy = &decision
	if decision.Allowed {
		s.state = StatePolicyChecked
	} else {
		s.state = StateRejected
	}
	return nil
}

func (s *Session) commitSummary(epoch uint64, summary models.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return ErrSuperseded
	}
	s.summary = &summary
	s.history.Reset()
	s.state = StateSummarized
	return nil
}

// Snapshot captures the session for storage.
func (s *Session) Snapshot() models.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := models.SessionSnapshot{
		ID:        s.ID,
		State:     s.state.String(),
		History:   s.history.Turns(),
		UpdatedAt: time.Now().UTC(),
	}
	if s.summary != nil {
		sum := *s.summary
		snap.Summary = &sum
	}
	if s.policy != nil {
		d := *s.policy
		snap.Policy = &d
	}
	return snap
}

// Restore replaces the session content with snap. In-flight work is
// superseded.
func (s *Session) Restore(snap models.SessionSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.history.Reset()
	s.history.Append(snap.History...)
	s.summary = nil
	if snap.Summary != nil {
		sum := *snap.Summary
		s.summary = &sum
	}
	s.policy = nil
	if snap.Policy != nil {
		d := *snap.Policy
		s.policy = &d
	}
	s.state = parseState(snap.State)
}
