package service_test

import (
	"context"
	"sync"

	"basegraph.app/council/internal/model"
	"basegraph.app/council/internal/queue"
)

type mockCatalog struct {
	models map[string]bool
}

func newCatalog(ids ...string) *mockCatalog {
	c := &mockCatalog{models: map[string]bool{}}
	for _, id := range ids {
		c.models[id] = true
	}
	return c
}

func (m *mockCatalog) Has(modelID string) bool {
	return m.models[modelID]
}

type mockDispatcher struct {
	dispatchFn func(ctx context.Context, d model.Deliberation, traceID *string) error
	dispatched []model.Deliberation
}

func (m *mockDispatcher) Dispatch(ctx context.Context, d model.Deliberation, traceID *string) error {
	m.dispatched = append(m.dispatched, d)
	if m.dispatchFn != nil {
		return m.dispatchFn(ctx, d, traceID)
	}
	return nil
}

type mockRunner struct {
	mu      sync.Mutex
	release chan struct{}
	runs    []model.Deliberation
}

func (m *mockRunner) Run(_ context.Context, d model.Deliberation) model.StatusSnapshot {
	m.mu.Lock()
	m.runs = append(m.runs, d)
	m.mu.Unlock()
	if m.release != nil {
		<-m.release
	}
	return model.StatusSnapshot{SessionID: d.ID, State: model.StateComplete}
}

func (m *mockRunner) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

type mockProducer struct {
	enqueueFn func(ctx context.Context, task queue.Task) error
	tasks     []queue.Task
}

func (m *mockProducer) Enqueue(ctx context.Context, task queue.Task) error {
	m.tasks = append(m.tasks, task)
	if m.enqueueFn != nil {
		return m.enqueueFn(ctx, task)
	}
	return nil
}

func (m *mockProducer) Close() error {
	return nil
}
