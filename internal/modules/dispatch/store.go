// README: Dispatch board backed by a Redis sorted set keyed on pickup time plus one JSON entry per booking.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"cabmarket/internal/types"
)

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

func (s *Store) Put(ctx context.Context, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	ttl := time.Until(e.DropDate.Add(entryGrace))
	if ttl <= 0 {
		ttl = entryGrace
	}
	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, entryKey(e.BookingID), raw, ttl)
	pipe.ZAdd(ctx, OpenSetKey, redis.Z{Score: float64(e.PickupDate.Unix()), Member: string(e.BookingID)})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) Delete(ctx context.Context, id types.ID) error {
	pipe := s.redis.TxPipeline()
	pipe.ZRem(ctx, OpenSetKey, string(id))
	pipe.Del(ctx, entryKey(id))
	_, err := pipe.Exec(ctx)
	return err
}

// Range returns entries whose pickup falls in [from, to], oldest pickup first.
// Members whose entry expired are pruned from the set.
func (s *Store) Range(ctx context.Context, from, to time.Time, limit int) ([]Entry, error) {
	ids, err := s.redis.ZRangeByScore(ctx, OpenSetKey, &redis.ZRangeBy{
		Min:   strconv.FormatInt(from.Unix(), 10),
		Max:   strconv.FormatInt(to.Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = entryKey(types.ID(id))
	}
	vals, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(vals))
	var stale []any
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(str), &e); err != nil {
			stale = append(stale, ids[i])
			continue
		}
		out = append(out, e)
	}
	if len(stale) > 0 {
		if err := s.redis.ZRem(ctx, OpenSetKey, stale...).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return out, err
		}
	}
	return out, nil
}

func (s *Store) Has(ctx context.Context, id types.ID) (bool, error) {
	_, err := s.redis.ZScore(ctx, OpenSetKey, string(id)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	return err == nil, err
}

func entryKey(id types.ID) string {
	return fmt.Sprintf(entryKeyPrefix, string(id))
}
