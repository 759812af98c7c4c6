package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"basegraph.app/council/common/id"
	"basegraph.app/council/core/config"
	"basegraph.app/council/internal/model"
	"basegraph.app/council/internal/session"
)

const (
	MinParticipants = 3
	MaxParticipants = 50
)

var (
	ErrInvalidRequest       = errors.New("invalid deliberation request")
	ErrDeliberationNotFound = errors.New("deliberation not found")
	ErrOverloaded           = errors.New("too many deliberations in progress")
)

type CreateParams struct {
	Question        string
	Participants    []string
	ChairmanModelID *string
	TraceID         *string
}

type DeliberationService interface {
	Create(ctx context.Context, params CreateParams) (model.StatusSnapshot, error)
	Get(ctx context.Context, sessionID int64) (model.StatusSnapshot, error)
}

// ModelCatalog reports which backends are configured. Satisfied by
// *gateway.Registry.
type ModelCatalog interface {
	Has(modelID string) bool
}

// Dispatcher hands an accepted deliberation to whatever will run it.
type Dispatcher interface {
	Dispatch(ctx context.Context, d model.Deliberation, traceID *string) error
}

type DeliberationOptions struct {
	Quorum int
	NewID  func() int64
	Now    func() time.Time
}

type deliberationService struct {
	catalog    ModelCatalog
	registry   session.Registry
	dispatcher Dispatcher
	opts       DeliberationOptions
}

func NewDeliberationService(catalog ModelCatalog, registry session.Registry, dispatcher Dispatcher, opts DeliberationOptions) DeliberationService {
	opts.Quorum = max(opts.Quorum, config.MinQuorum)
	if opts.NewID == nil {
		opts.NewID = id.New
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &deliberationService{
		catalog:    catalog,
		registry:   registry,
		dispatcher: dispatcher,
		opts:       opts,
	}
}

func (s *deliberationService) Create(ctx context.Context, params CreateParams) (model.StatusSnapshot, error) {
	if err := s.validate(params); err != nil {
		return model.StatusSnapshot{}, err
	}

	now := s.opts.Now().UTC()
	d := model.Deliberation{
		ID:              s.opts.NewID(),
		Question:        params.Question,
		Participants:    params.Participants,
		ChairmanModelID: params.ChairmanModelID,
		State:           model.StateCollecting,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	snap := model.StatusSnapshot{
		SessionID: d.ID,
		State:     d.State,
		UpdatedAt: now,
	}

	// Published before dispatch so the id is pollable the moment it is returned.
	if err := s.registry.Put(ctx, snap); err != nil {
		return model.StatusSnapshot{}, fmt.Errorf("publishing session status: %w", err)
	}

	if err := s.dispatcher.Dispatch(ctx, d, params.TraceID); err != nil {
		return model.StatusSnapshot{}, fmt.Errorf("dispatching deliberation: %w", err)
	}

	slog.InfoContext(ctx, "deliberation accepted",
		"session_id", d.ID,
		"participants", len(d.Participants))

	return snap, nil
}

func (s *deliberationService) Get(ctx context.Context, sessionID int64) (model.StatusSnapshot, error) {
	snap, err := s.registry.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return model.StatusSnapshot{}, ErrDeliberationNotFound
		}
		return model.StatusSnapshot{}, fmt.Errorf("reading session status: %w", err)
	}
	return snap, nil
}

func (s *deliberationService) validate(params CreateParams) error {
	if strings.TrimSpace(params.Question) == "" {
		return fmt.Errorf("%w: question is required", ErrInvalidRequest)
	}

	n := len(params.Participants)
	if n < MinParticipants || n > MaxParticipants {
		return fmt.Errorf("%w: between %d and %d participants are required, got %d",
			ErrInvalidRequest, MinParticipants, MaxParticipants, n)
	}
	if n < s.opts.Quorum {
		return fmt.Errorf("%w: at least %d participants are required to reach quorum, got %d",
			ErrInvalidRequest, s.opts.Quorum, n)
	}

	seen := make(map[string]struct{}, n)
	for _, p := range params.Participants {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("%w: participant ids must not be empty", ErrInvalidRequest)
		}
		if _, dup := seen[p]; dup {
			return fmt.Errorf("%w: duplicate participant %q", ErrInvalidRequest, p)
		}
		seen[p] = struct{}{}
		if !s.catalog.Has(p) {
			return fmt.Errorf("%w: unknown model %q", ErrInvalidRequest, p)
		}
	}

	if c := params.ChairmanModelID; c != nil && *c != "" && !s.catalog.Has(*c) {
		return fmt.Errorf("%w: unknown chairman model %q", ErrInvalidRequest, *c)
	}

	// Judges see the question verbatim, so it must not identify anyone.
	lower := strings.ToLower(params.Question)
	for _, p := range params.Participants {
		if strings.Contains(lower, strings.ToLower(p)) {
			return fmt.Errorf("%w: question must not name participant %q", ErrInvalidRequest, p)
		}
	}

	return nil
}
