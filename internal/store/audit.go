package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"basegraph.app/council/core/db"
	"basegraph.app/council/internal/model"
)

// TxRunner is satisfied by *db.DB.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(q db.Querier) error) error
}

const insertAuditSQL = `
INSERT INTO deliberation_audits (
    session_id, question, participants, state, failure_reason, chairman_model, trail, recorded_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (session_id) DO NOTHING`

const insertRankingSQL = `
INSERT INTO deliberation_rankings (
    session_id, judge_model, valid, ordered_models, reject_reason
) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (session_id, judge_model) DO NOTHING`

// AuditStore is the Postgres audit sink. Trails are write-once: a second
// Record for the same session is a no-op.
type AuditStore struct {
	db TxRunner
}

func NewAuditStore(db TxRunner) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Record(ctx context.Context, sessionID int64, trail model.AuditTrail) error {
	payload, err := json.Marshal(trail)
	if err != nil {
		return fmt.Errorf("encoding audit trail: %w", err)
	}

	var failureReason *string
	if trail.FailureReason != nil {
		r := string(*trail.FailureReason)
		failureReason = &r
	}

	var chairman *string
	if trail.Synthesis != nil {
		chairman = &trail.Synthesis.ChairmanModelID
	}

	return s.db.WithTx(ctx, func(q db.Querier) error {
		tag, err := q.Exec(ctx, insertAuditSQL,
			sessionID,
			trail.Question,
			trail.Participants,
			string(trail.State),
			failureReason,
			chairman,
			payload,
			trail.RecordedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting audit trail: %w", err)
		}
		if tag.RowsAffected() == 0 {
			slog.InfoContext(ctx, "audit trail already recorded", "session_id", sessionID)
			return nil
		}

		for _, row := range RankingRows(trail) {
			if _, err := q.Exec(ctx, insertRankingSQL,
				sessionID,
				row.JudgeModelID,
				row.Valid,
				row.OrderedModels,
				row.RejectReason,
			); err != nil {
				return fmt.Errorf("inserting ranking for judge %s: %w", row.JudgeModelID, err)
			}
		}
		return nil
	})
}

// RankingRow is one judge's vote as persisted, de-anonymized.
type RankingRow struct {
	JudgeModelID  string
	Valid         bool
	OrderedModels []string
	RejectReason  *string
}

// RankingRows flattens accepted and rejected votes. Labels are resolved
// through the trail's mapping; a label with no mapping is kept verbatim.
func RankingRows(trail model.AuditTrail) []RankingRow {
	rows := make([]RankingRow, 0, len(trail.Rankings)+len(trail.RejectedRankings))

	for _, r := range trail.Rankings {
		ordered := make([]string, len(r.OrderedLabels))
		for i, label := range r.OrderedLabels {
			if id, ok := trail.LabelMapping[label]; ok {
				ordered[i] = id
			} else {
				ordered[i] = label
			}
		}
		rows = append(rows, RankingRow{
			JudgeModelID:  r.JudgeModelID,
			Valid:         true,
			OrderedModels: ordered,
		})
	}

	for _, r := range trail.RejectedRankings {
		reason := string(r.Kind)
		if r.Reason != "" {
			reason += ": " + r.Reason
		}
		rows = append(rows, RankingRow{
			JudgeModelID: r.JudgeModelID,
			RejectReason: &reason,
		})
	}

	return rows
}
