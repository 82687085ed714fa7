// Package store abstracts the shared Redis state: the current-rate hash
// and history sequence per instrument, and the pub/sub channel carrying
// rate updates between the listener and the broadcast server.
package store

import (
	"context"
	"time"

	"github.com/defistream/aave-apy-monitor/pkg/models"
)

// ReserveStore is the full store contract. The listener uses the write
// side, the broadcast server the read and subscribe side.
type ReserveStore interface {
	// SaveSnapshot overwrites the current snapshot for token and appends a
	// history point, in one round trip. History carries a retention expiry.
	SaveSnapshot(ctx context.Context, token string, snap models.RateSnapshot) error

	// CurrentSnapshot reads the live snapshot for token; ok reports whether
	// one exists.
	CurrentSnapshot(ctx context.Context, token string) (snap models.RateSnapshot, ok bool, err error)

	// History returns all points for token observed at or after since,
	// oldest first.
	History(ctx context.Context, token string, since time.Time) ([]models.HistoryPoint, error)

	// PruneHistory removes all points for token observed before cutoff and
	// reports how many were removed. Idempotent.
	PruneHistory(ctx context.Context, token string, cutoff time.Time) (int64, error)

	// PublishUpdate broadcasts an accepted rate change on the updates
	// channel.
	PublishUpdate(ctx context.Context, update models.APYUpdate) error

	// RunPubSub blocks, delivering each published update to onUpdate until
	// ctx is cancelled or the store connection closes.
	RunPubSub(ctx context.Context, onUpdate func(models.APYUpdate))

	Close() error
}
