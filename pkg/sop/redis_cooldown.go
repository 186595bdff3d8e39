package sop

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCooldownStore is a CooldownStore shared across process replicas.
// The per-resource rule stores the last execution time under a key that
// expires after ResourceCooldownWindow, and Check compares that time
// with now; the global rate limit uses a sorted set keyed by sop_id,
// scored by execution time, pruned on each check.
type RedisCooldownStore struct {
	client *redis.Client
}

// NewRedisCooldownStore wraps an existing redis.Client (a real server in
// production, miniredis in tests).
func NewRedisCooldownStore(client *redis.Client) *RedisCooldownStore {
	return &RedisCooldownStore{client: client}
}

func redisCooldownKey(resourceID, sopID string) string {
	return fmt.Sprintf("cooldown:resource:%s:%s", resourceID, sopID)
}

func redisGlobalKey(sopID string) string {
	return fmt.Sprintf("cooldown:global:%s", sopID)
}

// Check reports whether (resourceID, sopID) may execute at now. The
// resource lock's TTL is only a cleanup safety net; the decision itself
// compares the stored last-run timestamp against the caller-supplied
// now, so it stays correct even when now is a logical/simulated clock
// that runs ahead of or behind the Redis server's own clock.
func (s *RedisCooldownStore) Check(ctx context.Context, resourceID, sopID string, now time.Time) (CooldownDecision, error) {
	raw, err := s.client.Get(ctx, redisCooldownKey(resourceID, sopID)).Result()
	if err != nil && err != redis.Nil {
		return CooldownDecision{}, fmt.Errorf("failed to check resource cooldown: %w", err)
	}
	if err == nil {
		lastUnixNano, parseErr := parseUnixNano(raw)
		if parseErr == nil && now.Sub(time.Unix(0, lastUnixNano)) < ResourceCooldownWindow {
			return CooldownDecision{Allowed: false, Reason: "resource cooldown active"}, nil
		}
	}

	globalKey := redisGlobalKey(sopID)
	cutoff := now.Add(-GlobalWindow)
	if err := s.client.ZRemRangeByScore(ctx, globalKey, "-inf", fmt.Sprintf("%d", cutoff.UnixNano())).Err(); err != nil {
		return CooldownDecision{}, fmt.Errorf("failed to prune global cooldown set: %w", err)
	}
	count, err := s.client.ZCard(ctx, globalKey).Result()
	if err != nil {
		return CooldownDecision{}, fmt.Errorf("failed to count global sop runs: %w", err)
	}
	if count >= GlobalMaxRuns {
		return CooldownDecision{Allowed: false, Reason: "global sop rate limit reached"}, nil
	}

	return CooldownDecision{Allowed: true}, nil
}

// Record marks (resourceID, sopID) as executed at now.
func (s *RedisCooldownStore) Record(ctx context.Context, resourceID, sopID string, now time.Time) error {
	if err := s.client.Set(ctx, redisCooldownKey(resourceID, sopID), now.UnixNano(), ResourceCooldownWindow).Err(); err != nil {
		return fmt.Errorf("failed to set resource cooldown: %w", err)
	}

	globalKey := redisGlobalKey(sopID)
	member := fmt.Sprintf("%s:%d", resourceID, now.UnixNano())
	if err := s.client.ZAdd(ctx, globalKey, redis.Z{Score: float64(now.UnixNano()), Member: member}).Err(); err != nil {
		return fmt.Errorf("failed to record global sop run: %w", err)
	}
	if err := s.client.Expire(ctx, globalKey, GlobalWindow).Err(); err != nil {
		return fmt.Errorf("failed to set global run ttl: %w", err)
	}
	return nil
}

func parseUnixNano(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}

var _ CooldownStore = (*RedisCooldownStore)(nil)
