package matching

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupTestQueue creates a Queue connected to a test Redis instance.
// Requires Redis running on localhost:6379. Tests are skipped if unavailable.
func setupTestQueue(t *testing.T) (*Queue, context.Context) {
	t.Helper()

	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid conflicts
	})

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("skipping: Redis not available: %v", err)
	}

	// Flush test DB before each test.
	rdb.FlushDB(ctx)

	t.Cleanup(func() {
		rdb.FlushDB(ctx)
		rdb.Close()
	})

	return NewQueue(rdb), ctx
}

func TestQueue_FIFOOrder(t *testing.T) {
	q, ctx := setupTestQueue(t)

	for _, id := range []string{"alice", "bob", "carol"} {
		if err := q.Enqueue(ctx, id, id); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
		time.Sleep(2 * time.Millisecond) // distinct join timestamps
	}

	waiting, err := q.All(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"alice", "bob", "carol"}
	if len(waiting) != len(want) {
		t.Fatalf("expected %d waiting, got %d", len(want), len(waiting))
	}
	for i := range want {
		if waiting[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], waiting[i])
		}
	}
}

func TestQueue_ReenqueueKeepsJoinPosition(t *testing.T) {
	q, ctx := setupTestQueue(t)

	if err := q.Enqueue(ctx, "alice", "alice"); err != nil {
		t.Fatalf("enqueue alice: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if err := q.Enqueue(ctx, "bob", "bob"); err != nil {
		t.Fatalf("enqueue bob: %v", err)
	}
	time.Sleep(2 * time.Millisecond)

	// Alice retries; she must keep her place at the head.
	if err := q.Enqueue(ctx, "alice", "alice"); err != nil {
		t.Fatalf("re-enqueue alice: %v", err)
	}

	waiting, err := q.All(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(waiting) != 2 || waiting[0] != "alice" {
		t.Errorf("expected alice first, got %v", waiting)
	}
}

func TestQueue_Dequeue(t *testing.T) {
	q, ctx := setupTestQueue(t)

	if err := q.Enqueue(ctx, "alice", "alice"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	queued, err := q.IsQueued(ctx, "alice")
	if err != nil || !queued {
		t.Fatalf("expected alice queued, got queued=%v err=%v", queued, err)
	}

	if err := q.Dequeue(ctx, "alice"); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	queued, err = q.IsQueued(ctx, "alice")
	if err != nil || queued {
		t.Fatalf("expected alice gone, got queued=%v err=%v", queued, err)
	}
	entry, err := q.Entry(ctx, "alice")
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if entry != nil {
		t.Errorf("expected nil entry after dequeue, got %+v", entry)
	}
}

func TestQueue_ScheduleRetry(t *testing.T) {
	q, ctx := setupTestQueue(t)

	if err := q.Enqueue(ctx, "alice", "alice"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	next := time.Now().Add(4 * time.Second)
	if err := q.ScheduleRetry(ctx, "alice", 3, next); err != nil {
		t.Fatalf("schedule retry: %v", err)
	}

	entry, err := q.Entry(ctx, "alice")
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if entry == nil {
		t.Fatal("expected entry, got nil")
	}
	if entry.Attempts != 3 {
		t.Errorf("expected attempts=3, got %d", entry.Attempts)
	}
	if entry.NextAttempt != next.UnixMilli() {
		t.Errorf("expected next_attempt=%d, got %d", next.UnixMilli(), entry.NextAttempt)
	}
}

func TestQueue_Size(t *testing.T) {
	q, ctx := setupTestQueue(t)

	size, err := q.Size(ctx)
	if err != nil || size != 0 {
		t.Fatalf("expected empty queue, got size=%d err=%v", size, err)
	}

	_ = q.Enqueue(ctx, "alice", "alice")
	_ = q.Enqueue(ctx, "bob", "bob")

	size, err = q.Size(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if size != 2 {
		t.Errorf("expected size=2, got %d", size)
	}
}
