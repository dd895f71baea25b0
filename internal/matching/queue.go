package matching

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Redis key patterns for matching data structures.
	keyMatchQueue  = "match:queue"  // Sorted set, score = join timestamp (ms)
	keyEntryPrefix = "match:entry:" // + <user_id> -> Hash

	// TTL for queue entry hashes (auto-expire stale keys).
	entryTTL = 10 * time.Minute
)

// QueueEntry represents a waiting user's state in the matching queue.
type QueueEntry struct {
	UserID      string
	Nickname    string
	JoinedAt    float64 // unix timestamp in milliseconds
	Attempts    int     // scan attempts so far, drives the backoff
	NextAttempt int64   // unix ms before which the sweep skips this entry
}

// Queue is the FIFO waiting pool backed by Redis. The sorted set keeps
// waiters ordered by join time so the oldest waiter is always considered
// first, avoiding starvation under load.
type Queue struct {
	rdb *redis.Client
}

// NewQueue creates a matching queue backed by Redis.
func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// Enqueue adds a user to the waiting pool. Re-enqueueing an already waiting
// user refreshes the entry but keeps the original join position.
func (q *Queue) Enqueue(ctx context.Context, userID, nickname string) error {
	now := float64(time.Now().UnixMilli())

	pipe := q.rdb.Pipeline()
	pipe.ZAddNX(ctx, keyMatchQueue, redis.Z{Score: now, Member: userID})
	entryKey := keyEntryPrefix + userID
	pipe.HSet(ctx, entryKey, map[string]interface{}{
		"nickname":     nickname,
		"joined_at":    fmt.Sprintf("%.0f", now),
		"attempts":     0,
		"next_attempt": 0,
	})
	pipe.Expire(ctx, entryKey, entryTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Dequeue removes a user from the waiting pool.
func (q *Queue) Dequeue(ctx context.Context, userID string) error {
	pipe := q.rdb.Pipeline()
	pipe.ZRem(ctx, keyMatchQueue, userID)
	pipe.Del(ctx, keyEntryPrefix+userID)
	_, err := pipe.Exec(ctx)
	return err
}

// Entry retrieves a user's queue entry. Returns nil if not queued.
func (q *Queue) Entry(ctx context.Context, userID string) (*QueueEntry, error) {
	result, err := q.rdb.HGetAll(ctx, keyEntryPrefix+userID).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}

	joinedAt, _ := strconv.ParseFloat(result["joined_at"], 64)
	attempts, _ := strconv.Atoi(result["attempts"])
	nextAttempt, _ := strconv.ParseInt(result["next_attempt"], 10, 64)

	return &QueueEntry{
		UserID:      userID,
		Nickname:    result["nickname"],
		JoinedAt:    joinedAt,
		Attempts:    attempts,
		NextAttempt: nextAttempt,
	}, nil
}

// All returns all waiting user IDs ordered by join time (oldest first).
func (q *Queue) All(ctx context.Context) ([]string, error) {
	return q.rdb.ZRange(ctx, keyMatchQueue, 0, -1).Result()
}

// IsQueued checks if a user is currently waiting.
func (q *Queue) IsQueued(ctx context.Context, userID string) (bool, error) {
	_, err := q.rdb.ZScore(ctx, keyMatchQueue, userID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Size returns the number of users currently waiting.
func (q *Queue) Size(ctx context.Context) (int64, error) {
	return q.rdb.ZCard(ctx, keyMatchQueue).Result()
}

// RestoreEntry rebuilds an expired entry hash for a member still in the
// sorted set, preserving their original join position. The retry counters
// start over; the backoff resumes from the initial delay.
func (q *Queue) RestoreEntry(ctx context.Context, userID, nickname string) error {
	score, err := q.rdb.ZScore(ctx, keyMatchQueue, userID).Result()
	if err == redis.Nil {
		return nil // dequeued meanwhile
	}
	if err != nil {
		return err
	}

	entryKey := keyEntryPrefix + userID
	pipe := q.rdb.Pipeline()
	pipe.HSet(ctx, entryKey, map[string]interface{}{
		"nickname":     nickname,
		"joined_at":    fmt.Sprintf("%.0f", score),
		"attempts":     0,
		"next_attempt": 0,
	})
	pipe.Expire(ctx, entryKey, entryTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// RefreshEntry extends the TTL of a live waiter's entry hash.
func (q *Queue) RefreshEntry(ctx context.Context, userID string) error {
	return q.rdb.Expire(ctx, keyEntryPrefix+userID, entryTTL).Err()
}

// ScheduleRetry records a failed scan attempt and the earliest time the
// sweep should look at this entry again.
func (q *Queue) ScheduleRetry(ctx context.Context, userID string, attempts int, next time.Time) error {
	entryKey := keyEntryPrefix + userID
	pipe := q.rdb.Pipeline()
	pipe.HSet(ctx, entryKey, "attempts", attempts, "next_attempt", next.UnixMilli())
	pipe.Expire(ctx, entryKey, entryTTL)
	_, err := pipe.Exec(ctx)
	return err
}
