package dto

import (
	"time"

	"basegraph.app/council/internal/model"
)

// StateInProgress is reported for every non-terminal state; the internal
// state is exposed separately as the stage.
const StateInProgress = "IN_PROGRESS"

type CreateDeliberationRequest struct {
	Question        string   `json:"question" binding:"required,max=20000"`
	Participants    []string `json:"participants" binding:"required,min=3,max=50,unique,dive,required,max=200"`
	ChairmanModelID *string  `json:"chairmanModelId,omitempty" binding:"omitempty,max=200"`
}

type CreateDeliberationResponse struct {
	SessionID int64  `json:"sessionId,string"`
	State     string `json:"state"`
	Stage     string `json:"stage,omitempty"`
}

type ModelWeightResponse struct {
	ModelID    string  `json:"modelId"`
	BordaScore int     `json:"bordaScore"`
	Share      float64 `json:"share"`
}

type ResultResponse struct {
	SessionID       int64                 `json:"sessionId,string"`
	FinalAnswer     string                `json:"finalAnswer"`
	ChairmanModelID string                `json:"chairmanModelId"`
	Weights         []ModelWeightResponse `json:"weights"`
	CompletedAt     time.Time             `json:"completedAt"`
}

type DeliberationStatusResponse struct {
	SessionID     int64           `json:"sessionId,string"`
	State         string          `json:"state"`
	Stage         string          `json:"stage,omitempty"`
	FailureReason *string         `json:"failureReason,omitempty"`
	Result        *ResultResponse `json:"result,omitempty"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// PublicState maps a lifecycle state to what callers see.
func PublicState(s model.State) (state, stage string) {
	if s.Terminal() {
		return string(s), ""
	}
	return StateInProgress, string(s)
}

func ToCreateDeliberationResponse(snap model.StatusSnapshot) CreateDeliberationResponse {
	state, stage := PublicState(snap.State)
	return CreateDeliberationResponse{
		SessionID: snap.SessionID,
		State:     state,
		Stage:     stage,
	}
}

// ToDeliberationStatusResponse never exposes a result before COMPLETE.
func ToDeliberationStatusResponse(snap model.StatusSnapshot) DeliberationStatusResponse {
	state, stage := PublicState(snap.State)
	resp := DeliberationStatusResponse{
		SessionID: snap.SessionID,
		State:     state,
		Stage:     stage,
		UpdatedAt: snap.UpdatedAt,
	}

	if snap.State == model.StateFailed && snap.FailureReason != nil {
		reason := string(*snap.FailureReason)
		resp.FailureReason = &reason
	}

	if snap.State == model.StateComplete && snap.Result != nil {
		weights := make([]ModelWeightResponse, len(snap.Result.Weights))
		for i, w := range snap.Result.Weights {
			weights[i] = ModelWeightResponse{
				ModelID:    w.ModelID,
				BordaScore: w.BordaScore,
				Share:      w.Share,
			}
		}
		resp.Result = &ResultResponse{
			SessionID:       snap.SessionID,
			FinalAnswer:     snap.Result.FinalAnswer,
			ChairmanModelID: snap.Result.ChairmanModelID,
			Weights:         weights,
			CompletedAt:     snap.Result.CompletedAt,
		}
	}

	return resp
}
