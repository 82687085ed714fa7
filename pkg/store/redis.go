package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/defistream/aave-apy-monitor/pkg/models"
)

// historyExpiry pads the retention horizon by a day so the sweep, not key
// expiry, is what trims live data.
const historyExpiry = (models.HistoryRetentionDays + 1) * 24 * time.Hour

// Compile-time check to ensure RedisStore implements ReserveStore
var _ ReserveStore = (*RedisStore)(nil)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// SaveSnapshot writes the hash, history entry and history expiry in a
// single pipeline so a snapshot and its history point land together.
func (r *RedisStore) SaveSnapshot(ctx context.Context, token string, snap models.RateSnapshot) error {
	point, err := json.Marshal(models.HistoryPoint{
		Supply:    snap.Supply,
		Borrow:    snap.Borrow,
		Timestamp: snap.Timestamp,
	})
	if err != nil {
		return err
	}

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, models.APYKey(token), map[string]interface{}{
		"supplyAPY": strconv.FormatFloat(snap.Supply, 'f', -1, 64),
		"borrowAPY": strconv.FormatFloat(snap.Borrow, 'f', -1, 64),
		"timestamp": strconv.FormatInt(snap.Timestamp, 10),
	})
	pipe.ZAdd(ctx, models.HistoryKey(token), redis.Z{
		Score:  float64(snap.Timestamp),
		Member: string(point),
	})
	pipe.Expire(ctx, models.HistoryKey(token), historyExpiry)

	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) CurrentSnapshot(ctx context.Context, token string) (models.RateSnapshot, bool, error) {
	fields, err := r.client.HGetAll(ctx, models.APYKey(token)).Result()
	if err != nil {
		return models.RateSnapshot{}, false, err
	}
	if fields["supplyAPY"] == "" {
		return models.RateSnapshot{}, false, nil
	}

	supply, err := strconv.ParseFloat(fields["supplyAPY"], 64)
	if err != nil {
		return models.RateSnapshot{}, false, err
	}
	borrow, err := strconv.ParseFloat(fields["borrowAPY"], 64)
	if err != nil {
		return models.RateSnapshot{}, false, err
	}
	ts, err := strconv.ParseInt(fields["timestamp"], 10, 64)
	if err != nil {
		return models.RateSnapshot{}, false, err
	}

	return models.RateSnapshot{Supply: supply, Borrow: borrow, Timestamp: ts}, true, nil
}

func (r *RedisStore) History(ctx context.Context, token string, since time.Time) ([]models.HistoryPoint, error) {
	results, err := r.client.ZRangeByScoreWithScores(ctx, models.HistoryKey(token), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	points := make([]models.HistoryPoint, 0, len(results))
	for _, z := range results {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		var point models.HistoryPoint
		if err := json.Unmarshal([]byte(member), &point); err != nil {
			continue
		}
		// The score is authoritative for ordering.
		point.Timestamp = int64(z.Score)
		points = append(points, point)
	}
	return points, nil
}

// PruneHistory removes entries strictly older than cutoff; the cutoff
// point itself survives.
func (r *RedisStore) PruneHistory(ctx context.Context, token string, cutoff time.Time) (int64, error) {
	max := "(" + strconv.FormatInt(cutoff.UnixMilli(), 10)
	return r.client.ZRemRangeByScore(ctx, models.HistoryKey(token), "-inf", max).Result()
}

func (r *RedisStore) PublishUpdate(ctx context.Context, update models.APYUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, models.UpdatesChannel, payload).Err()
}

// RunPubSub is a blocking loop that reads published updates and triggers
// the callback. Messages that fail to decode are dropped.
func (r *RedisStore) RunPubSub(ctx context.Context, onUpdate func(models.APYUpdate)) {
	pubsub := r.client.Subscribe(ctx, models.UpdatesChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var update models.APYUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
				continue
			}
			onUpdate(update)
		}
	}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
