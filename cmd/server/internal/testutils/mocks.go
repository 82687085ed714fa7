package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/defistream/aave-apy-monitor/pkg/models"
)

// MockSession records everything the hub sends it.
type MockSession struct {
	Messages   []interface{}
	Pings      int
	Closed     bool
	Terminated bool
	Mu         sync.Mutex
}

func (m *MockSession) SendJSON(v interface{}) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Messages = append(m.Messages, v)
}

func (m *MockSession) Ping() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Pings++
}

func (m *MockSession) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockSession) Terminate() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Terminated = true
}

func (m *MockSession) MessageCount() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.Messages)
}

func (m *MockSession) LastMessage() interface{} {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.Messages) == 0 {
		return nil
	}
	return m.Messages[len(m.Messages)-1]
}

// MockRateStore serves canned snapshots and history.
type MockRateStore struct {
	Snapshots  map[string]models.RateSnapshot
	Points     map[string][]models.HistoryPoint
	SnapErr    error
	HistoryErr error
	OnUpdate   func(models.APYUpdate) // captured from RunPubSub
	Mu         sync.Mutex
}

func NewMockRateStore() *MockRateStore {
	return &MockRateStore{
		Snapshots: make(map[string]models.RateSnapshot),
		Points:    make(map[string][]models.HistoryPoint),
	}
}

func (m *MockRateStore) CurrentSnapshot(ctx context.Context, token string) (models.RateSnapshot, bool, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.SnapErr != nil {
		return models.RateSnapshot{}, false, m.SnapErr
	}
	snap, ok := m.Snapshots[token]
	return snap, ok, nil
}

func (m *MockRateStore) History(ctx context.Context, token string, since time.Time) ([]models.HistoryPoint, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.HistoryErr != nil {
		return nil, m.HistoryErr
	}
	var out []models.HistoryPoint
	for _, p := range m.Points[token] {
		if p.Timestamp >= since.UnixMilli() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MockRateStore) RunPubSub(ctx context.Context, onUpdate func(models.APYUpdate)) {
	m.Mu.Lock()
	m.OnUpdate = onUpdate
	m.Mu.Unlock()
	<-ctx.Done()
}
