package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker"

	"basegraph.app/council/common/llm"
	"basegraph.app/council/internal/model"
)

var (
	ErrUnknownModel = errors.New("unknown model")
	ErrEmptyReply   = errors.New("empty completion")
)

// Error is the only error shape Complete returns.
type Error struct {
	Kind    model.ErrorKind
	ModelID string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s: %s: %v", e.ModelID, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure kind from err, defaulting to TRANSPORT.
func KindOf(err error) model.ErrorKind {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.ErrorKindTimeout
	}
	return model.ErrorKindTransport
}

func classify(callCtx context.Context, err error) model.ErrorKind {
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return model.ErrorKindTimeout
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return model.ErrorKindTransport
	}
	switch llm.Classify(err) {
	case llm.ClassQuota:
		return model.ErrorKindQuota
	case llm.ClassTimeout:
		return model.ErrorKindTimeout
	default:
		return model.ErrorKindTransport
	}
}
