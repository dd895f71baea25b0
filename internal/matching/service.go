package matching

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/roulette/chat-app/internal/messaging"
	"github.com/roulette/chat-app/internal/metrics"
)

// sweepInterval is how often the service looks at the waiting pool. Each
// entry is only retried once its own backoff delay has elapsed.
const sweepInterval = 1 * time.Second

// MatchRequest is the NATS payload sent by a wsserver when a user starts
// searching.
type MatchRequest struct {
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
}

// CancelRequest is the NATS payload sent by a wsserver when a user stops
// searching.
type CancelRequest struct {
	UserID string `json:"user_id"`
}

// Service is the matchmaking daemon. It consumes match requests over NATS,
// runs the immediate pairing attempt, and sweeps the waiting pool with a
// per-entry backoff until everyone is paired or cancelled.
type Service struct {
	engine  *Engine
	nats    *messaging.Client
	backoff Backoff
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewService creates a matching service around the given engine.
func NewService(engine *Engine, nats *messaging.Client) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		engine:  engine,
		nats:    nats,
		backoff: DefaultBackoff(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to NATS subjects and starts the sweep loop.
func (s *Service) Start() error {
	if err := s.nats.SubscribeMatchRequest(s.handleMatchRequest); err != nil {
		return err
	}
	if err := s.nats.SubscribeMatchCancel(s.handleCancelRequest); err != nil {
		return err
	}

	go s.sweepLoop()
	go StartCleanup(s.ctx, s.engine)

	log.Println("[matcher] service started")
	return nil
}

// Stop gracefully shuts down the matching service.
func (s *Service) Stop() {
	s.cancel()
	log.Println("[matcher] service stopped")
}

func (s *Service) handleMatchRequest(data []byte) {
	var req MatchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Printf("[matcher] invalid match request: %v", err)
		return
	}

	result, err := s.engine.Enqueue(s.ctx, req.UserID, req.Nickname)
	if err != nil {
		// Transient store failures leave the user queued; the sweep retries.
		log.Printf("[matcher] enqueue %s: %v", req.UserID, err)
		return
	}

	if result != nil {
		log.Printf("[matcher] paired %s with %s (session=%s)",
			req.UserID, result.PartnerID, result.SessionID)
		return
	}

	size, _ := s.engine.Queue().Size(s.ctx)
	metrics.MatchQueueSize.Set(float64(size))
	log.Printf("[matcher] enqueued %s (queue size: %d)", req.UserID, size)
}

func (s *Service) handleCancelRequest(data []byte) {
	var req CancelRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Printf("[matcher] invalid cancel request: %v", err)
		return
	}

	if err := s.engine.Cancel(s.ctx, req.UserID); err != nil {
		log.Printf("[matcher] cancel %s: %v", req.UserID, err)
		return
	}

	log.Printf("[matcher] dequeued %s (cancelled)", req.UserID)
}

// sweepLoop retries pairing for waiting users whose backoff has elapsed.
func (s *Service) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			log.Println("[matcher] sweep loop stopped")
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Service) sweep() {
	ctx := s.ctx
	queue := s.engine.Queue()

	waiting, err := queue.All(ctx)
	if err != nil {
		log.Printf("[matcher] sweep: read queue: %v", err)
		return
	}
	metrics.MatchQueueSize.Set(float64(len(waiting)))

	now := time.Now().UnixMilli()
	for _, userID := range waiting {
		// Re-check: the user may have been paired earlier in this sweep.
		entry, err := queue.Entry(ctx, userID)
		if err != nil || entry == nil {
			continue
		}
		if entry.NextAttempt > now {
			continue
		}

		result, err := s.engine.TryMatch(ctx, userID)
		if err != nil {
			log.Printf("[matcher] sweep: match %s: %v", userID, err)
			continue
		}
		if result != nil {
			log.Printf("[matcher] paired %s with %s (session=%s, attempt=%d)",
				userID, result.PartnerID, result.SessionID, entry.Attempts)
			continue
		}

		attempts := entry.Attempts + 1
		next := time.Now().Add(s.backoff.Delay(entry.Attempts))
		if err := queue.ScheduleRetry(ctx, userID, attempts, next); err != nil {
			log.Printf("[matcher] sweep: schedule retry %s: %v", userID, err)
		}
	}
}
