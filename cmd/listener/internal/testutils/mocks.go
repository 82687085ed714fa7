package testutils

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/defistream/aave-apy-monitor/cmd/listener/internal/chain"
	"github.com/defistream/aave-apy-monitor/pkg/models"
)

// MockChain feeds scripted events and serves canned reserve state.
type MockChain struct {
	EventCh chan chain.Event
	States  map[string]chain.ReserveState // keyed by lower-case address
	Err     error                         // returned by ReserveState when set
	Mu      sync.Mutex
}

func NewMockChain() *MockChain {
	return &MockChain{
		EventCh: make(chan chain.Event, 16),
		States:  make(map[string]chain.ReserveState),
	}
}

func (m *MockChain) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (m *MockChain) Events() <-chan chain.Event { return m.EventCh }

func (m *MockChain) ReserveState(ctx context.Context, address string) (chain.ReserveState, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.Err != nil {
		return chain.ReserveState{}, m.Err
	}
	state, ok := m.States[strings.ToLower(address)]
	if !ok {
		return chain.ReserveState{}, errors.New("unknown reserve")
	}
	return state, nil
}

// MockStore records writes and publications in memory.
type MockStore struct {
	Snapshots map[string][]models.RateSnapshot
	Published []models.APYUpdate
	Pruned    map[string][]time.Time
	SaveErr   error
	PruneErr  map[string]error // per-token prune failures
	Mu        sync.Mutex
}

func NewMockStore() *MockStore {
	return &MockStore{
		Snapshots: make(map[string][]models.RateSnapshot),
		Pruned:    make(map[string][]time.Time),
		PruneErr:  make(map[string]error),
	}
}

func (m *MockStore) SaveSnapshot(ctx context.Context, token string, snap models.RateSnapshot) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.Snapshots[token] = append(m.Snapshots[token], snap)
	return nil
}

func (m *MockStore) PruneHistory(ctx context.Context, token string, cutoff time.Time) (int64, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if err := m.PruneErr[token]; err != nil {
		return 0, err
	}
	m.Pruned[token] = append(m.Pruned[token], cutoff)
	return 0, nil
}

func (m *MockStore) PublishUpdate(ctx context.Context, update models.APYUpdate) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Published = append(m.Published, update)
	return nil
}

func (m *MockStore) LastSnapshot(token string) (models.RateSnapshot, bool) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	snaps := m.Snapshots[token]
	if len(snaps) == 0 {
		return models.RateSnapshot{}, false
	}
	return snaps[len(snaps)-1], true
}

func (m *MockStore) PublishedCount() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.Published)
}

// MockArchiver collects archived updates.
type MockArchiver struct {
	Records []models.APYUpdate
	Mu      sync.Mutex
}

func (m *MockArchiver) Record(ctx context.Context, update models.APYUpdate) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Records = append(m.Records, update)
	return nil
}
