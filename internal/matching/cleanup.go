package matching

import (
	"context"
	"log"
	"time"
)

const cleanupInterval = 5 * time.Second

// StartCleanup runs a background loop that keeps the waiting pool honest.
// Queue members whose presence record is gone (disconnected, logged out,
// expired) are reaped; live waiters get their entry hash refreshed so a
// long search never outlives its own queue entry. Blocks until ctx is done.
func StartCleanup(ctx context.Context, engine *Engine) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[matcher] cleanup loop stopped")
			return
		case <-ticker.C:
			if err := engine.CleanQueue(ctx); err != nil {
				log.Printf("[matcher] cleanup: %v", err)
			}
		}
	}
}

// CleanQueue makes one pass over the waiting pool. Members with no presence
// record, or whose presence is no longer searching, are removed. Members
// whose entry hash has expired while their presence is still searching get
// the entry rebuilt at their original queue position; intact entries have
// their TTL extended.
func (e *Engine) CleanQueue(ctx context.Context) error {
	waiting, err := e.queue.All(ctx)
	if err != nil {
		return err
	}

	removed := 0
	for _, userID := range waiting {
		rec, err := e.presence.Get(ctx, userID)
		if err != nil {
			continue
		}
		if rec == nil || !rec.Searching {
			// Vanished or no longer searching: nothing will ever claim
			// this member, so drop it.
			if err := e.queue.Dequeue(ctx, userID); err != nil {
				log.Printf("[matcher] cleanup: dequeue %s: %v", userID, err)
				continue
			}
			removed++
			continue
		}

		entry, err := e.queue.Entry(ctx, userID)
		if err != nil {
			continue
		}
		if entry == nil {
			// Entry hash expired under a live waiter; rebuild it so the
			// sweep picks them up again instead of skipping them forever.
			if err := e.queue.RestoreEntry(ctx, userID, rec.Nickname); err != nil {
				log.Printf("[matcher] cleanup: restore entry %s: %v", userID, err)
			}
			continue
		}
		if err := e.queue.RefreshEntry(ctx, userID); err != nil {
			log.Printf("[matcher] cleanup: refresh entry %s: %v", userID, err)
		}
	}

	if removed > 0 {
		log.Printf("[matcher] cleanup: removed %d stale entries", removed)
	}
	return nil
}
