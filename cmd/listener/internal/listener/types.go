package listener

import (
	"context"
	"time"

	"github.com/defistream/aave-apy-monitor/cmd/listener/internal/chain"
	"github.com/defistream/aave-apy-monitor/pkg/models"
)

// ChainSource abstracts the upstream node connection.
type ChainSource interface {
	Run(ctx context.Context) error
	Events() <-chan chain.Event
	ReserveState(ctx context.Context, address string) (chain.ReserveState, error)
}

// SnapshotStore is the write side of the shared store the listener needs.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, token string, snap models.RateSnapshot) error
	PruneHistory(ctx context.Context, token string, cutoff time.Time) (int64, error)
	PublishUpdate(ctx context.Context, update models.APYUpdate) error
}

// Archiver records accepted updates to an external sink. Optional.
type Archiver interface {
	Record(ctx context.Context, update models.APYUpdate) error
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
