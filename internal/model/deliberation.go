package model

import "time"

// State is a deliberation's lifecycle stage.
type State string

const (
	StateCollecting   State = "COLLECTING"
	StateAnonymized   State = "ANONYMIZED"
	StateReviewing    State = "REVIEWING"
	StateAggregated   State = "AGGREGATED"
	StateSynthesizing State = "SYNTHESIZING"
	StateComplete     State = "COMPLETE"
	StateFailed       State = "FAILED"
)

// FailureReason explains a FAILED deliberation.
type FailureReason string

const (
	FailureInsufficientQuorum   FailureReason = "INSUFFICIENT_QUORUM"
	FailureSynthesisUnavailable FailureReason = "SYNTHESIS_UNAVAILABLE"
	FailureTimeout              FailureReason = "TIMEOUT"

	// FailureInternal is a fault in the council itself, not in any backend.
	FailureInternal FailureReason = "INTERNAL_ERROR"
)

// ErrorKind classifies a local failure of a single backend call or judge vote.
type ErrorKind string

const (
	ErrorKindTransport        ErrorKind = "TRANSPORT"
	ErrorKindQuota            ErrorKind = "QUOTA"
	ErrorKindTimeout          ErrorKind = "TIMEOUT"
	ErrorKindMalformedRanking ErrorKind = "MALFORMED_RANKING"

	// ErrorKindAnonymityGuard marks a judge request withheld because its
	// prompt would have revealed a participant.
	ErrorKindAnonymityGuard ErrorKind = "ANONYMITY_GUARD"
)

// forward edges of the lifecycle. FAILED is reachable from every
// non-terminal state because the session deadline can expire anywhere.
var transitions = map[State]State{
	StateCollecting:   StateAnonymized,
	StateAnonymized:   StateReviewing,
	StateReviewing:    StateAggregated,
	StateAggregated:   StateSynthesizing,
	StateSynthesizing: StateComplete,
}

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// CanTransition reports whether from → to is a legal lifecycle step.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return transitions[from] == to
}

// Deliberation is one question's lifecycle.
type Deliberation struct {
	ID              int64          `json:"id,string"`
	Question        string         `json:"question"`
	Participants    []string       `json:"participants"`
	ChairmanModelID *string        `json:"chairman_model_id,omitempty"`
	State           State          `json:"state"`
	FailureReason   *FailureReason `json:"failure_reason,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
