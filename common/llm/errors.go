package llm

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// Class buckets provider errors by how callers should react.
type Class int

const (
	// ClassTransport covers network failures and 5xx responses.
	ClassTransport Class = iota
	// ClassQuota is a 429 rate limit or exhausted credit.
	ClassQuota
	// ClassTimeout means the request deadline expired.
	ClassTimeout
	// ClassPermanent is a 4xx the provider will keep returning (auth, bad model name).
	ClassPermanent
	// ClassCanceled means the caller gave up; never retried.
	ClassCanceled
)

func (c Class) String() string {
	switch c {
	case ClassTransport:
		return "transport"
	case ClassQuota:
		return "quota"
	case ClassTimeout:
		return "timeout"
	case ClassPermanent:
		return "permanent"
	case ClassCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Classify maps an error returned by a Client to a Class.
func Classify(err error) Class {
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout
	}

	if status, ok := statusCode(err); ok {
		switch {
		case status == 429:
			return ClassQuota
		case status == 408:
			return ClassTimeout
		case status >= 500:
			return ClassTransport
		case status >= 400:
			return ClassPermanent
		}
	}

	// Network errors (no API response) are treated as transport failures.
	return ClassTransport
}

// IsRetryable reports whether another attempt could succeed.
func IsRetryable(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}

	switch class := Classify(err); class {
	case ClassQuota, ClassTransport:
		slog.WarnContext(ctx, "llm error, will retry", "class", class.String(), "error", err)
		return true
	default:
		slog.DebugContext(ctx, "llm error not retryable", "class", class.String(), "error", err)
		return false
	}
}

func statusCode(err error) (int, bool) {
	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return openaiErr.StatusCode, true
	}
	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return anthropicErr.StatusCode, true
	}
	return 0, false
}
