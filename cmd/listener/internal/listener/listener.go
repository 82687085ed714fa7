// Package listener ingests Aave reserve rate changes and feeds the shared
// store: seed on connect, convert RAY rates to APY, gate on a minimum
// change threshold, persist and publish, and sweep old history daily.
package listener

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/defistream/aave-apy-monitor/cmd/listener/internal/chain"
	"github.com/defistream/aave-apy-monitor/pkg/models"
	"github.com/defistream/aave-apy-monitor/pkg/ray"
)

const (
	// minDelta is the smallest per-rate change, in percentage points, worth
	// reporting. Smaller ticks are noise from re-reads of unchanged state.
	minDelta = 0.00001

	cleanupPeriod = 24 * time.Hour

	retention = models.HistoryRetentionDays * 24 * time.Hour
)

// Service owns the ingestion loop and the per-instrument snapshot cache.
// The cache holds the last emitted-or-baseline snapshot: sub-threshold
// ticks are dropped without advancing it, so deltas always measure against
// the last reported value.
type Service struct {
	source       ChainSource
	store        SnapshotStore
	archive      Archiver // nil when disabled
	logger       *zap.Logger
	clock        Clock
	queryTimeout time.Duration

	cache map[string]models.RateSnapshot
}

func NewService(source ChainSource, store SnapshotStore, archive Archiver, queryTimeout time.Duration, logger *zap.Logger) *Service {
	return &Service{
		source:       source,
		store:        store,
		archive:      archive,
		logger:       logger,
		clock:        systemClock{},
		queryTimeout: queryTimeout,
		cache:        make(map[string]models.RateSnapshot),
	}
}

// Run processes chain events and the cleanup tick until ctx is cancelled
// or the source fails fatally.
func (s *Service) Run(ctx context.Context) error {
	sourceErr := make(chan error, 1)
	go func() { sourceErr <- s.source.Run(ctx) }()

	cleanup := time.NewTicker(cleanupPeriod)
	defer cleanup.Stop()
	s.CleanupHistory(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-sourceErr:
			return err

		case ev := <-s.source.Events():
			switch ev.Kind {
			case chain.EventConnected:
				s.seed(ctx)
			case chain.EventReserveUpdated:
				s.handleReserveUpdate(ctx, ev)
			}

		case <-cleanup.C:
			s.CleanupHistory(ctx)
		}
	}
}

// seed fetches current reserve state for every tracked instrument and
// writes baseline snapshots. Runs on every (re)connect; failures on one
// instrument do not block the others. No deltas are published.
func (s *Service) seed(ctx context.Context) {
	s.logger.Info("Fetching initial reserve state", zap.Int("instruments", len(models.Instruments)))

	for _, inst := range models.Instruments {
		qctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
		state, err := s.source.ReserveState(qctx, inst.Address)
		cancel()
		if err != nil {
			s.logger.Error("Failed to fetch initial reserve state",
				zap.String("token", inst.Symbol), zap.Error(err))
			continue
		}

		snap := s.snapshotFrom(state)
		if err := s.store.SaveSnapshot(ctx, inst.Symbol, snap); err != nil {
			s.logger.Error("Failed to store baseline snapshot",
				zap.String("token", inst.Symbol), zap.Error(err))
			continue
		}

		s.cache[inst.Symbol] = snap
		s.logger.Info("Baseline snapshot",
			zap.String("token", inst.Symbol),
			zap.Float64("supply", snap.Supply),
			zap.Float64("borrow", snap.Borrow))
	}
}

func (s *Service) handleReserveUpdate(ctx context.Context, ev chain.Event) {
	inst, ok := models.InstrumentByAddress(ev.Address)
	if !ok {
		return
	}

	snap := s.snapshotFrom(ev.Reserve)
	old, seen := s.cache[inst.Symbol]
	if !seen {
		// First observation for this instrument: baseline, no delta.
		if err := s.store.SaveSnapshot(ctx, inst.Symbol, snap); err != nil {
			s.logger.Error("Failed to store baseline snapshot",
				zap.String("token", inst.Symbol), zap.Error(err))
			return
		}
		s.cache[inst.Symbol] = snap
		s.logger.Info("First snapshot", zap.String("token", inst.Symbol),
			zap.Float64("supply", snap.Supply), zap.Float64("borrow", snap.Borrow))
		return
	}

	supplyDelta := ray.Round5(snap.Supply - old.Supply)
	borrowDelta := ray.Round5(snap.Borrow - old.Borrow)

	if math.Abs(supplyDelta) <= minDelta && math.Abs(borrowDelta) <= minDelta {
		// Below threshold: drop without advancing the cache so the next
		// delta is still measured against the last reported value.
		return
	}

	update := models.APYUpdate{
		Token:       inst.Symbol,
		Supply:      snap.Supply,
		Borrow:      snap.Borrow,
		SupplyDelta: supplyDelta,
		BorrowDelta: borrowDelta,
		Timestamp:   snap.Timestamp,
	}

	s.logger.Info("APY change detected",
		zap.String("token", inst.Symbol),
		zap.Float64("supply", snap.Supply),
		zap.Float64("supply_delta", supplyDelta),
		zap.Float64("borrow", snap.Borrow),
		zap.Float64("borrow_delta", borrowDelta))

	if err := s.store.SaveSnapshot(ctx, inst.Symbol, snap); err != nil {
		s.logger.Error("Failed to store snapshot",
			zap.String("token", inst.Symbol), zap.Error(err))
		return
	}
	if err := s.store.PublishUpdate(ctx, update); err != nil {
		s.logger.Error("Failed to publish update",
			zap.String("token", inst.Symbol), zap.Error(err))
	}
	if s.archive != nil {
		if err := s.archive.Record(ctx, update); err != nil {
			s.logger.Error("Failed to archive update",
				zap.String("token", inst.Symbol), zap.Error(err))
		}
	}

	s.cache[inst.Symbol] = snap
}

// CleanupHistory removes history entries older than the retention horizon
// for every instrument; one instrument's failure does not block the rest.
func (s *Service) CleanupHistory(ctx context.Context) {
	cutoff := s.clock.Now().Add(-retention)
	s.logger.Info("Running history cleanup", zap.Time("cutoff", cutoff))

	for _, inst := range models.Instruments {
		removed, err := s.store.PruneHistory(ctx, inst.Symbol, cutoff)
		if err != nil {
			s.logger.Error("Failed to cleanup history",
				zap.String("token", inst.Symbol), zap.Error(err))
			continue
		}
		if removed > 0 {
			s.logger.Info("Cleaned up old history",
				zap.String("token", inst.Symbol), zap.Int64("records_removed", removed))
		}
	}
}

func (s *Service) snapshotFrom(state chain.ReserveState) models.RateSnapshot {
	return models.RateSnapshot{
		Supply:    ray.ToAPY(state.LiquidityRate),
		Borrow:    ray.ToAPY(state.VariableBorrowRate),
		Timestamp: s.clock.Now().UnixMilli(),
	}
}
