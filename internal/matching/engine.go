// Package matching pairs waiting users into chat sessions. Waiters sit in a
// FIFO queue; a pairing is claimed with a single Lua script that checks and
// updates both presence records atomically, so two concurrent enqueuers can
// never both win the same partner and no user ever holds two partners.
package matching

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roulette/chat-app/internal/metrics"
	"github.com/roulette/chat-app/internal/presence"
	"github.com/roulette/chat-app/internal/session"
)

var (
	// ErrNotOnline is returned when enqueueing a user without a presence record.
	ErrNotOnline = errors.New("matching: user is not online")

	// ErrAlreadyPaired is returned when enqueueing a user who already has a
	// partner.
	ErrAlreadyPaired = errors.New("matching: user is already paired")

	// ErrRaceLost marks a pairing claim that failed because a concurrent
	// enqueuer got there first. It never leaves this package; the scan
	// simply moves on to the next candidate.
	ErrRaceLost = errors.New("matching: pairing claim lost")
)

// MatchResult is returned when a pairing succeeds.
type MatchResult struct {
	SessionID       string
	PartnerID       string
	PartnerNickname string
}

// SessionRegistry is the session store interface the engine drives.
// *session.Store satisfies it.
type SessionRegistry interface {
	Create(ctx context.Context, memberA, memberB string) (string, error)
	End(ctx context.Context, sessionID string) error
	Get(ctx context.Context, sessionID string) (*session.Session, error)
	ActiveFor(ctx context.Context, userID string) (*session.Session, error)
}

// Announcer publishes match results to the paired users. *messaging.Client
// satisfies it. May be nil, in which case results are only returned to the
// caller.
type Announcer interface {
	PublishMatchFound(userID string, data []byte) error
}

// Engine is the matchmaking core shared by the matcher daemon and the
// teardown paths on the WebSocket servers.
type Engine struct {
	rdb          *redis.Client
	queue        *Queue
	presence     *presence.Store
	sessions     SessionRegistry
	announcer    Announcer
	pairScript   *redis.Script
	unpairScript *redis.Script
}

// NewEngine creates a matching engine. announcer may be nil.
func NewEngine(rdb *redis.Client, pres *presence.Store, sessions SessionRegistry, announcer Announcer) *Engine {
	return &Engine{
		rdb:          rdb,
		queue:        NewQueue(rdb),
		presence:     pres,
		sessions:     sessions,
		announcer:    announcer,
		pairScript:   redis.NewScript(pairLua),
		unpairScript: redis.NewScript(unpairLua),
	}
}

// Queue exposes the underlying waiting pool (used by the sweep service and
// tests).
func (e *Engine) Queue() *Queue {
	return e.queue
}

// Enqueue marks the user as searching, adds them to the waiting pool, and
// immediately attempts one pairing scan. Returns nil when no compatible
// waiter is available yet; the caller retries with backoff (the matcher
// sweep does this for queued entries).
func (e *Engine) Enqueue(ctx context.Context, userID, nickname string) (*MatchResult, error) {
	ok, err := e.presence.ConditionalUpdate(ctx, userID,
		presence.State{Searching: false, Partner: ""},
		presence.State{Searching: true, Partner: ""},
		userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		rec, err := e.presence.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, ErrNotOnline
		}
		if rec.Partner != "" {
			return nil, ErrAlreadyPaired
		}
		// Already searching: a retry after backoff, carry on.
	}

	if err := e.queue.Enqueue(ctx, userID, nickname); err != nil {
		return nil, fmt.Errorf("matching: enqueue %s: %w", userID, err)
	}

	return e.TryMatch(ctx, userID)
}

// TryMatch scans the FIFO waiting pool for a partner for the given user and
// attempts to claim the first eligible candidate. A lost claim is not an
// error; the scan continues with the next candidate. Returns nil when no
// candidate could be claimed.
func (e *Engine) TryMatch(ctx context.Context, userID string) (*MatchResult, error) {
	self, err := e.queue.Entry(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("matching: read entry %s: %w", userID, err)
	}
	if self == nil {
		// No longer waiting: either cancelled or already claimed by a peer.
		return nil, nil
	}

	candidates, err := e.queue.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("matching: read queue: %w", err)
	}

	for _, candidateID := range candidates {
		if candidateID == userID {
			continue
		}

		// Snapshot the candidate's entry before claiming; the claim script
		// deletes it.
		candidate, err := e.queue.Entry(ctx, candidateID)
		if err != nil || candidate == nil {
			continue
		}

		if err := e.claim(ctx, userID, candidateID); err != nil {
			if errors.Is(err, ErrRaceLost) {
				continue
			}
			return nil, err
		}

		sessionID, err := e.sessions.Create(ctx, userID, candidateID)
		if err != nil {
			// The pairing claim succeeded but the registry is unreachable.
			// Put both users back as they were and surface the transient
			// error so the caller retries with backoff.
			e.rollback(ctx, self, candidate)
			return nil, fmt.Errorf("matching: create session: %w", err)
		}

		e.presence.PublishEvent(presence.Event{
			UserID: userID, Partner: candidateID, InitiatorID: userID,
		})
		e.presence.PublishEvent(presence.Event{
			UserID: candidateID, Partner: userID, InitiatorID: userID,
		})

		e.announce(sessionID, userID, self.Nickname, candidateID, candidate.Nickname)

		metrics.MatchesTotal.Inc()
		metrics.ActiveSessions.Inc()
		waited := float64(time.Now().UnixMilli()) - self.JoinedAt
		metrics.MatchWaitSeconds.Observe(waited / 1000)

		return &MatchResult{
			SessionID:       sessionID,
			PartnerID:       candidateID,
			PartnerNickname: candidate.Nickname,
		}, nil
	}

	return nil, nil
}

// Cancel removes a user from the waiting pool and clears their searching
// flag. Safe to call for users who are not waiting.
func (e *Engine) Cancel(ctx context.Context, userID string) error {
	if err := e.queue.Dequeue(ctx, userID); err != nil {
		return fmt.Errorf("matching: dequeue %s: %w", userID, err)
	}
	_, err := e.presence.ConditionalUpdate(ctx, userID,
		presence.State{Searching: true, Partner: ""},
		presence.State{Searching: false, Partner: ""},
		userID)
	return err
}

// EndSession ends a session (idempotently) and clears both members'
// partner references. initiatorID records who triggered the teardown so
// that the other member's monitor can recognise "partner left" from the
// presence change event.
func (e *Engine) EndSession(ctx context.Context, sessionID, initiatorID string) error {
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}

	wasActive := sess.Active()
	if err := e.sessions.End(ctx, sessionID); err != nil {
		return err
	}
	if wasActive {
		metrics.ActiveSessions.Dec()
	}

	cleared, err := e.unpairScript.Run(ctx, e.rdb,
		[]string{presence.Key(sess.MemberA), presence.Key(sess.MemberB)},
		sess.MemberA, sess.MemberB, time.Now().Unix(),
	).Int()
	if err != nil {
		return fmt.Errorf("matching: unpair %s: %w", sessionID, err)
	}

	if cleared&1 != 0 {
		e.presence.PublishEvent(presence.Event{
			UserID: sess.MemberA, OldPartner: sess.MemberB, InitiatorID: initiatorID,
		})
	}
	if cleared&2 != 0 {
		e.presence.PublishEvent(presence.Event{
			UserID: sess.MemberB, OldPartner: sess.MemberA, InitiatorID: initiatorID,
		})
	}
	return nil
}

// EndActiveSession ends whatever active session the user is currently a
// member of, if any. It covers teardown paths that cannot trust their local
// view of the pairing: a connection can drop after the matcher commits a
// claim but before the edge server learns about it, and only the registry
// knows the session exists. Safe to call for unpaired users.
func (e *Engine) EndActiveSession(ctx context.Context, userID, initiatorID string) error {
	sess, err := e.sessions.ActiveFor(ctx, userID)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}
	return e.EndSession(ctx, sess.ID, initiatorID)
}

// claim runs the atomic pairing script. Returns ErrRaceLost when either
// record no longer satisfies the searching/unpaired precondition.
func (e *Engine) claim(ctx context.Context, userID, candidateID string) error {
	ok, err := e.pairScript.Run(ctx, e.rdb,
		[]string{
			presence.Key(userID),
			presence.Key(candidateID),
			keyMatchQueue,
			keyEntryPrefix + userID,
			keyEntryPrefix + candidateID,
		},
		userID, candidateID, time.Now().Unix(),
	).Int()
	if err != nil {
		return fmt.Errorf("matching: pair claim: %w", err)
	}
	if ok != 1 {
		return ErrRaceLost
	}
	return nil
}

// rollback restores both users to the searching state after a claim whose
// session insert failed, preserving their original queue positions.
func (e *Engine) rollback(ctx context.Context, a, b *QueueEntry) {
	for _, entry := range []*QueueEntry{a, b} {
		_, err := e.rdb.HSet(ctx, presence.Key(entry.UserID),
			"searching", "1", "partner", "").Result()
		if err != nil {
			log.Printf("[matcher] rollback presence %s: %v", entry.UserID, err)
		}
		pipe := e.rdb.Pipeline()
		pipe.ZAdd(ctx, keyMatchQueue, redis.Z{Score: entry.JoinedAt, Member: entry.UserID})
		pipe.HSet(ctx, keyEntryPrefix+entry.UserID, map[string]interface{}{
			"nickname":     entry.Nickname,
			"joined_at":    fmt.Sprintf("%.0f", entry.JoinedAt),
			"attempts":     entry.Attempts,
			"next_attempt": entry.NextAttempt,
		})
		pipe.Expire(ctx, keyEntryPrefix+entry.UserID, entryTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			log.Printf("[matcher] rollback queue %s: %v", entry.UserID, err)
		}
	}
}

// pairLua atomically claims a pairing. Both presence records must still be
// searching and unpaired; on success both are flipped to paired and both
// queue entries are removed in the same step, so no other claim can observe
// a half-paired state.
const pairLua = `
local caller_key = KEYS[1]
local cand_key = KEYS[2]
local queue_key = KEYS[3]

if redis.call('EXISTS', caller_key) == 0 then return 0 end
if redis.call('EXISTS', cand_key) == 0 then return 0 end

if redis.call('HGET', caller_key, 'searching') ~= '1' then return 0 end
if redis.call('HGET', caller_key, 'partner') ~= '' then return 0 end
if redis.call('HGET', cand_key, 'searching') ~= '1' then return 0 end
if redis.call('HGET', cand_key, 'partner') ~= '' then return 0 end

redis.call('HSET', caller_key, 'searching', '0', 'partner', ARGV[2], 'last_active', ARGV[3])
redis.call('HSET', cand_key, 'searching', '0', 'partner', ARGV[1], 'last_active', ARGV[3])
redis.call('ZREM', queue_key, ARGV[1], ARGV[2])
redis.call('DEL', KEYS[4], KEYS[5])
return 1
`

// unpairLua clears each member's partner reference, but only while it still
// points at the other member of this session. Returns a bitmask of which
// sides were cleared (1 = member A, 2 = member B).
const unpairLua = `
local cleared = 0
if redis.call('EXISTS', KEYS[1]) == 1 and redis.call('HGET', KEYS[1], 'partner') == ARGV[2] then
    redis.call('HSET', KEYS[1], 'searching', '0', 'partner', '', 'last_active', ARGV[3])
    cleared = cleared + 1
end
if redis.call('EXISTS', KEYS[2]) == 1 and redis.call('HGET', KEYS[2], 'partner') == ARGV[1] then
    redis.call('HSET', KEYS[2], 'searching', '0', 'partner', '', 'last_active', ARGV[3])
    cleared = cleared + 2
end
return cleared
`
