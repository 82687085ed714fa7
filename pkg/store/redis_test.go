package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/defistream/aave-apy-monitor/pkg/models"
	"github.com/defistream/aave-apy-monitor/pkg/store"
)

func setup(t *testing.T) (*store.RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return store.NewRedisStore(rdb), mr
}

func TestSaveSnapshot_WritesHashAndHistory(t *testing.T) {
	s, mr := setup(t)
	ctx := context.Background()

	snap := models.RateSnapshot{Supply: 3.85, Borrow: 5.1, Timestamp: 1700000000000}
	if err := s.SaveSnapshot(ctx, "USDC", snap); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	got, ok, err := s.CurrentSnapshot(ctx, "USDC")
	if err != nil || !ok {
		t.Fatalf("CurrentSnapshot failed: ok=%v err=%v", ok, err)
	}
	if got != snap {
		t.Errorf("Expected %+v, got %+v", snap, got)
	}

	members, err := mr.ZMembers(models.HistoryKey("USDC"))
	if err != nil || len(members) != 1 {
		t.Fatalf("Expected one history entry, got %v (err=%v)", members, err)
	}
	if mr.TTL(models.HistoryKey("USDC")) <= 0 {
		t.Error("History key should carry an expiry")
	}
}

func TestSaveSnapshot_OverwritesCurrent(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()

	s.SaveSnapshot(ctx, "USDT", models.RateSnapshot{Supply: 1, Borrow: 2, Timestamp: 100})
	s.SaveSnapshot(ctx, "USDT", models.RateSnapshot{Supply: 3, Borrow: 4, Timestamp: 200})

	got, ok, _ := s.CurrentSnapshot(ctx, "USDT")
	if !ok || got.Supply != 3 || got.Timestamp != 200 {
		t.Errorf("Expected last write to win, got %+v", got)
	}

	points, err := s.History(ctx, "USDT", time.UnixMilli(0))
	if err != nil || len(points) != 2 {
		t.Fatalf("Expected two history points, got %v (err=%v)", points, err)
	}
	if points[0].Timestamp != 100 || points[1].Timestamp != 200 {
		t.Errorf("History should be oldest first, got %+v", points)
	}
}

func TestCurrentSnapshot_MissingToken(t *testing.T) {
	s, _ := setup(t)

	_, ok, err := s.CurrentSnapshot(context.Background(), "crvUSD")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if ok {
		t.Error("Expected ok=false for missing snapshot")
	}
}

func TestHistory_WindowBound(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()

	for _, ts := range []int64{1000, 2000, 3000} {
		s.SaveSnapshot(ctx, "USDe", models.RateSnapshot{Supply: float64(ts), Borrow: 0, Timestamp: ts})
	}

	points, err := s.History(ctx, "USDe", time.UnixMilli(2000))
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("Expected 2 points at or after 2000, got %d", len(points))
	}
	if points[0].Timestamp != 2000 {
		t.Errorf("Window start should be inclusive, got %+v", points[0])
	}
}

func TestPruneHistory_Idempotent(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()

	for _, ts := range []int64{1000, 2000, 3000} {
		s.SaveSnapshot(ctx, "USDC", models.RateSnapshot{Supply: 1, Borrow: 1, Timestamp: ts})
	}

	removed, err := s.PruneHistory(ctx, "USDC", time.UnixMilli(3000))
	if err != nil {
		t.Fatalf("PruneHistory failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 removed, got %d", removed)
	}

	// Points at the cutoff itself survive.
	points, _ := s.History(ctx, "USDC", time.UnixMilli(0))
	if len(points) != 1 || points[0].Timestamp != 3000 {
		t.Errorf("Expected only the cutoff point to remain, got %+v", points)
	}

	removed, err = s.PruneHistory(ctx, "USDC", time.UnixMilli(3000))
	if err != nil || removed != 0 {
		t.Errorf("Second prune should remove nothing, got %d (err=%v)", removed, err)
	}
}

func TestPublishAndRunPubSub(t *testing.T) {
	s, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan models.APYUpdate, 1)
	go s.RunPubSub(ctx, func(u models.APYUpdate) { received <- u })

	update := models.APYUpdate{Token: "USDC", Supply: 3.85, Borrow: 5.1, SupplyDelta: 0.05, Timestamp: 42}

	// Subscription setup races the publish; retry until delivered.
	deadline := time.After(2 * time.Second)
	for {
		if err := s.PublishUpdate(ctx, update); err != nil {
			t.Fatalf("PublishUpdate failed: %v", err)
		}
		select {
		case got := <-received:
			if got != update {
				t.Errorf("Expected %+v, got %+v", update, got)
			}
			return
		case <-deadline:
			t.Fatal("Timed out waiting for pub/sub delivery")
		case <-time.After(50 * time.Millisecond):
		}
	}
}
