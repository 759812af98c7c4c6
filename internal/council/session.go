package council

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"basegraph.app/council/internal/model"
)

// Session is one deliberation's working state. It owns the label mapping;
// the mapping is only read back by aggregation and the audit trail, and
// the session is dropped once the trail is recorded.
type Session struct {
	deliberation model.Deliberation

	responses []model.ModelResponse
	partial   bool
	entries   []model.AnonymizedEntry
	mapping   map[string]string // label -> model id

	rankings  []model.PeerRanking
	rejected  []model.RejectedRanking
	aggregate *model.AggregateRanking

	synthesis *model.SynthesisResult
	attempts  []model.ChairmanAttempt
}

func NewSession(d model.Deliberation) *Session {
	d.State = model.StateCollecting
	d.FailureReason = nil
	return &Session{deliberation: d}
}

func (s *Session) ID() int64 {
	return s.deliberation.ID
}

func (s *Session) Deliberation() model.Deliberation {
	return s.deliberation
}

func (s *Session) State() model.State {
	return s.deliberation.State
}

// Transition advances the lifecycle one legal step.
func (s *Session) Transition(to model.State, now time.Time) error {
	from := s.deliberation.State
	if !model.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	s.deliberation.State = to
	s.deliberation.UpdatedAt = now
	return nil
}

func (s *Session) Fail(reason model.FailureReason, now time.Time) error {
	if err := s.Transition(model.StateFailed, now); err != nil {
		return err
	}
	s.deliberation.FailureReason = &reason
	return nil
}

// Snapshot is the caller-visible view. The result is only attached once
// the session is COMPLETE.
func (s *Session) Snapshot() model.StatusSnapshot {
	snap := model.StatusSnapshot{
		SessionID:     s.deliberation.ID,
		State:         s.deliberation.State,
		FailureReason: s.deliberation.FailureReason,
		UpdatedAt:     s.deliberation.UpdatedAt,
	}
	if s.deliberation.State == model.StateComplete {
		snap.Result = s.synthesis
	}
	return snap
}

// SuccessfulResponses returns the responses eligible for judging.
func (s *Session) SuccessfulResponses() []model.ModelResponse {
	out := make([]model.ModelResponse, 0, len(s.responses))
	for _, r := range s.responses {
		if r.Succeeded {
			out = append(out, r)
		}
	}
	return out
}

// judges are the participants that answered in collection.
func (s *Session) judges() []string {
	ids := make([]string, 0, len(s.responses))
	for _, r := range s.responses {
		if r.Succeeded {
			ids = append(ids, r.ModelID)
		}
	}
	return ids
}

// AuditTrail assembles the write-once record of the session.
func (s *Session) AuditTrail(now time.Time) model.AuditTrail {
	d := s.deliberation
	trail := model.AuditTrail{
		SessionID:        d.ID,
		Question:         d.Question,
		Participants:     slices.Clone(d.Participants),
		State:            d.State,
		FailureReason:    d.FailureReason,
		Responses:        slices.Clone(s.responses),
		Rankings:         slices.Clone(s.rankings),
		RejectedRankings: slices.Clone(s.rejected),
		Aggregate:        s.aggregate,
		Synthesis:        s.synthesis,
		ChairmanAttempts: slices.Clone(s.attempts),
		RecordedAt:       now,
	}
	if s.mapping != nil {
		trail.LabelMapping = maps.Clone(s.mapping)
	}
	return trail
}
