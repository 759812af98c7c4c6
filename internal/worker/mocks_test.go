package worker_test

import (
	"context"
	"sync"
	"time"

	"basegraph.app/council/internal/model"
	"basegraph.app/council/internal/queue"
)

type mockConsumer struct {
	mu       sync.Mutex
	batches  [][]queue.Message
	readErr  error
	acked    []string
	requeued []string
	dlq      []string
}

func (m *mockConsumer) Read(ctx context.Context) ([]queue.Message, error) {
	m.mu.Lock()
	if m.readErr != nil {
		err := m.readErr
		m.readErr = nil
		m.mu.Unlock()
		return nil, err
	}
	if len(m.batches) > 0 {
		batch := m.batches[0]
		m.batches = m.batches[1:]
		m.mu.Unlock()
		return batch, nil
	}
	m.mu.Unlock()

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Millisecond):
	}
	return nil, nil
}

func (m *mockConsumer) Ack(_ context.Context, msg queue.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, msg.ID)
	return nil
}

func (m *mockConsumer) Requeue(_ context.Context, msg queue.Message, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requeued = append(m.requeued, msg.ID)
	return nil
}

func (m *mockConsumer) SendDLQ(_ context.Context, msg queue.Message, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dlq = append(m.dlq, msg.ID)
	return nil
}

func (m *mockConsumer) snapshot() (acked, requeued, dlq []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.acked...), append([]string(nil), m.requeued...), append([]string(nil), m.dlq...)
}

type mockRunner struct {
	mu    sync.Mutex
	runFn func(ctx context.Context, d model.Deliberation) model.StatusSnapshot
	runs  []model.Deliberation
}

func (m *mockRunner) Run(ctx context.Context, d model.Deliberation) model.StatusSnapshot {
	m.mu.Lock()
	m.runs = append(m.runs, d)
	fn := m.runFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, d)
	}
	return model.StatusSnapshot{SessionID: d.ID, State: model.StateComplete}
}

func (m *mockRunner) ran() []model.Deliberation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Deliberation(nil), m.runs...)
}

type mockStatus struct {
	getFn func(ctx context.Context, sessionID int64) (model.StatusSnapshot, error)
}

func (m *mockStatus) Get(ctx context.Context, sessionID int64) (model.StatusSnapshot, error) {
	return m.getFn(ctx, sessionID)
}
