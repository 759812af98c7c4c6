package model

import "time"

// ChairmanAttempt records one rung of the chairman ladder.
type ChairmanAttempt struct {
	ModelID string    `json:"model_id"`
	Error   string    `json:"error,omitempty"`
	Kind    ErrorKind `json:"kind,omitempty"`
}

// AuditTrail is written once per deliberation, whatever its outcome.
type AuditTrail struct {
	SessionID        int64             `json:"session_id,string"`
	Question         string            `json:"question"`
	Participants     []string          `json:"participants"`
	State            State             `json:"state"`
	FailureReason    *FailureReason    `json:"failure_reason,omitempty"`
	Responses        []ModelResponse   `json:"responses"`
	Rankings         []PeerRanking     `json:"rankings"`
	RejectedRankings []RejectedRanking `json:"rejected_rankings,omitempty"`
	LabelMapping     map[string]string `json:"label_mapping,omitempty"`
	Aggregate        *AggregateRanking `json:"aggregate,omitempty"`
	Synthesis        *SynthesisResult  `json:"synthesis,omitempty"`
	ChairmanAttempts []ChairmanAttempt `json:"chairman_attempts,omitempty"`
	RecordedAt       time.Time         `json:"recorded_at"`
}

// StatusSnapshot is the caller-visible view of a deliberation.
type StatusSnapshot struct {
	SessionID     int64            `json:"session_id,string"`
	State         State            `json:"state"`
	FailureReason *FailureReason   `json:"failure_reason,omitempty"`
	Result        *SynthesisResult `json:"result,omitempty"`
	UpdatedAt     time.Time        `json:"updated_at"`
}
