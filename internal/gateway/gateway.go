package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"

	"basegraph.app/council/common/llm"
	"basegraph.app/council/common/logger"
	"basegraph.app/council/core/config"
	"basegraph.app/council/internal/metrics"
	"basegraph.app/council/internal/model"
)

// Gateway is the single call shape shared by every backend.
type Gateway interface {
	Complete(ctx context.Context, modelID, prompt string, timeout time.Duration) (Completion, error)
}

type Completion struct {
	ModelID  string
	Text     string
	Latency  time.Duration
	Attempts int
}

// Backend binds a participant id to a provider client and its call policy.
type Backend struct {
	ID          string
	Client      llm.Client
	Timeout     time.Duration // zero means use the registry default
	MaxRetries  int
	MaxTokens   int
	Temperature *float64

	// SystemPrompt must not name any participant; judges receive it too.
	SystemPrompt string
}

type Options struct {
	DefaultTimeout time.Duration
	TimeoutFloor   time.Duration
	TimeoutCeiling time.Duration

	// InitialInterval seeds the exponential backoff between retries.
	InitialInterval time.Duration

	// BreakerFailures consecutive failures open a backend's breaker for
	// BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration

	Metrics *metrics.Metrics
}

type backend struct {
	Backend
	breaker *gobreaker.CircuitBreaker
}

// Registry is a fixed roster of backends keyed by model id. It is safe for
// concurrent use; the roster never changes after construction.
type Registry struct {
	backends map[string]*backend
	opts     Options
}

var _ Gateway = (*Registry)(nil)

func New(opts Options, backends ...Backend) (*Registry, error) {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 60 * time.Second
	}
	if opts.TimeoutFloor <= 0 {
		opts.TimeoutFloor = time.Second
	}
	if opts.TimeoutCeiling < opts.TimeoutFloor {
		opts.TimeoutCeiling = opts.TimeoutFloor
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}

	r := &Registry{
		backends: make(map[string]*backend, len(backends)),
		opts:     opts,
	}
	for _, b := range backends {
		if b.ID == "" || b.Client == nil {
			return nil, fmt.Errorf("backend requires an id and a client")
		}
		if _, dup := r.backends[b.ID]; dup {
			return nil, fmt.Errorf("duplicate backend %q", b.ID)
		}
		r.backends[b.ID] = &backend{Backend: b, breaker: r.newBreaker(b.ID)}
	}
	return r, nil
}

// FromConfig builds provider clients for every configured backend.
func FromConfig(cfg config.Config, m *metrics.Metrics) (*Registry, error) {
	backends := make([]Backend, 0, len(cfg.Backends))
	for _, bc := range cfg.Backends {
		client, err := llm.New(llm.Config{
			Provider:        bc.Provider,
			APIKey:          bc.APIKey,
			BaseURL:         bc.BaseURL,
			Model:           bc.Model,
			ReasoningEffort: llm.ReasoningEffort(bc.ReasoningEffort),
		})
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", bc.ID, err)
		}
		backends = append(backends, Backend{
			ID:           bc.ID,
			Client:       client,
			Timeout:      bc.Timeout,
			MaxRetries:   bc.MaxRetries,
			MaxTokens:    bc.MaxTokens,
			Temperature:  bc.Temperature,
			SystemPrompt: bc.SystemPrompt,
		})
	}

	return New(Options{
		DefaultTimeout: cfg.Council.CallTimeout,
		TimeoutFloor:   cfg.Council.CallTimeoutFloor,
		TimeoutCeiling: cfg.Council.CallTimeoutCeiling,
		Metrics:        m,
	}, backends...)
}

func (r *Registry) newBreaker(id string) *gobreaker.CircuitBreaker {
	failures := r.opts.BreakerFailures
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        id,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     r.opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// The caller abandoning a call says nothing about backend health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("backend circuit breaker state change",
				"model_id", name,
				"from", from.String(),
				"to", to.String())
		},
	})
}

// Has reports whether modelID is a configured backend.
func (r *Registry) Has(modelID string) bool {
	_, ok := r.backends[modelID]
	return ok
}

// Models returns the configured backend ids in sorted order.
func (r *Registry) Models() []string {
	ids := make([]string, 0, len(r.backends))
	for id := range r.backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Timeout resolves the per-call deadline: the requested value, else the
// backend's, else the default, clamped into [floor, ceiling].
func (r *Registry) Timeout(modelID string, requested time.Duration) time.Duration {
	t := requested
	if t <= 0 {
		if b, ok := r.backends[modelID]; ok && b.Timeout > 0 {
			t = b.Timeout
		}
	}
	if t <= 0 {
		t = r.opts.DefaultTimeout
	}
	return min(max(t, r.opts.TimeoutFloor), r.opts.TimeoutCeiling)
}

// Complete sends prompt to modelID. QUOTA and TRANSPORT failures are retried
// with exponential backoff until the per-call deadline; every failure comes
// back as *Error.
func (r *Registry) Complete(ctx context.Context, modelID, prompt string, timeout time.Duration) (Completion, error) {
	b, ok := r.backends[modelID]
	if !ok {
		return Completion{}, &Error{Kind: model.ErrorKindTransport, ModelID: modelID, Err: ErrUnknownModel}
	}

	stage := "unknown"
	if s := logger.GetLogFields(ctx).Stage; s != nil {
		stage = *s
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{ModelID: logger.Ptr(modelID)})
	span := logger.StartSpan(ctx, "gateway.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("council.model_id", modelID),
		attribute.String("council.stage", stage),
	)

	callTimeout := r.Timeout(modelID, timeout)
	callCtx, cancel := context.WithTimeout(span.Context(), callTimeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.opts.InitialInterval
	bo.MaxElapsedTime = callTimeout
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(max(b.MaxRetries, 0))), callCtx)

	start := time.Now()
	attempts := 0
	var resp *llm.Response
	err := backoff.Retry(func() error {
		attempts++
		out, err := b.breaker.Execute(func() (interface{}, error) {
			return b.Client.Complete(callCtx, llm.Request{
				SystemPrompt: b.SystemPrompt,
				Prompt:       prompt,
				MaxTokens:    b.MaxTokens,
				Temperature:  b.Temperature,
			})
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || !llm.IsRetryable(callCtx, err) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = out.(*llm.Response)
		if strings.TrimSpace(resp.Text) == "" {
			return backoff.Permanent(ErrEmptyReply)
		}
		return nil
	}, policy)
	latency := time.Since(start)

	if err != nil {
		kind := classify(callCtx, err)
		r.opts.Metrics.ObserveGatewayCall(modelID, stage, strings.ToLower(string(kind)), latency)
		span.RecordError(err)
		slog.WarnContext(callCtx, "backend call failed",
			"kind", kind,
			"attempts", attempts,
			"duration_ms", latency.Milliseconds(),
			"error", err)
		return Completion{}, &Error{Kind: kind, ModelID: modelID, Err: err}
	}

	r.opts.Metrics.ObserveGatewayCall(modelID, stage, "ok", latency)
	slog.DebugContext(callCtx, "backend call succeeded",
		"attempts", attempts,
		"duration_ms", latency.Milliseconds(),
		"chars", len(resp.Text))

	return Completion{
		ModelID:  modelID,
		Text:     resp.Text,
		Latency:  latency,
		Attempts: attempts,
	}, nil
}
