package council

import (
	"context"
	"log/slog"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// fanOut runs fn once per model id, at most limit at a time, and waits for
// every task. Each task gets its own cancellable context; tasks never fail
// the group so one bad backend cannot cancel its siblings. Callers must
// pre-fill result slots since a panicking task leaves its slot untouched.
func fanOut(ctx context.Context, limit int, modelIDs []string, fn func(ctx context.Context, i int, modelID string)) {
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, id := range modelIDs {
		g.Go(func() error {
			taskCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			defer func() {
				if r := recover(); r != nil {
					slog.ErrorContext(taskCtx, "fan-out task panicked",
						"model_id", id,
						"panic", r,
						"stack", string(debug.Stack()))
				}
			}()
			fn(taskCtx, i, id)
			return nil
		})
	}

	_ = g.Wait()
}
