// Package presence manages the durable online/searching/paired state of each
// user. Records live in Redis as one hash per user; every mutation publishes
// a change event so that interested parties (the disconnect monitor in
// particular) can react without polling. All cross-user transitions go
// through conditional updates so that concurrent pairing attempts cannot
// observe or produce an inconsistent state.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for all presence hashes.
	KeyPrefix = "presence:"

	// MaxNicknameChars is the maximum nickname length.
	MaxNicknameChars = 20
)

// ErrInvalidNickname is returned by Create for an empty or over-long nickname.
var ErrInvalidNickname = errors.New("presence: nickname must be 1-20 characters")

// Record is a user's presence state.
// Invariant: Partner is non-empty iff the user is in an active session, and
// a user is never Searching with a non-empty Partner.
type Record struct {
	ID         string
	Nickname   string
	Searching  bool
	Partner    string // partner user ID, empty when unpaired
	CreatedAt  int64  // unix seconds
	LastActive int64  // unix seconds
}

// Event is published on presence.changed.<user_id> after every mutation.
// InitiatorID identifies who caused the change, so a subscriber can tell a
// self-initiated unpair (skip, logout) apart from "partner left".
type Event struct {
	UserID      string `json:"user_id"`
	Searching   bool   `json:"searching"`
	Partner     string `json:"partner"`
	OldPartner  string `json:"old_partner"`
	InitiatorID string `json:"initiator_id"`
	Deleted     bool   `json:"deleted,omitempty"`
}

// Notifier publishes presence change events. *messaging.Client satisfies it.
type Notifier interface {
	PublishPresenceChange(userID string, data []byte) error
}

// Store manages presence records in Redis.
type Store struct {
	rdb       *redis.Client
	notifier  Notifier
	casScript *redis.Script
}

// NewStore creates a presence store. The notifier may be nil, in which case
// change events are not published (used by tests).
func NewStore(rdb *redis.Client, notifier Notifier) *Store {
	return &Store{
		rdb:       rdb,
		notifier:  notifier,
		casScript: redis.NewScript(casLua),
	}
}

// Key returns the Redis key for a user's presence hash.
func Key(userID string) string {
	return KeyPrefix + userID
}

// ValidateNickname checks the display-name constraints applied at login.
func ValidateNickname(nickname string) error {
	if strings.TrimSpace(nickname) == "" {
		return ErrInvalidNickname
	}
	if utf8.RuneCountInString(nickname) > MaxNicknameChars {
		return ErrInvalidNickname
	}
	return nil
}

// Create stores a new presence record at login: online, not searching,
// unpaired.
func (s *Store) Create(ctx context.Context, userID, nickname string) error {
	if err := ValidateNickname(nickname); err != nil {
		return err
	}

	now := time.Now().Unix()
	err := s.rdb.HSet(ctx, Key(userID), map[string]interface{}{
		"id":          userID,
		"nickname":    strings.TrimSpace(nickname),
		"searching":   "0",
		"partner":     "",
		"created_at":  now,
		"last_active": now,
	}).Err()
	if err != nil {
		return fmt.Errorf("presence: create %s: %w", userID, err)
	}

	s.publish(Event{UserID: userID, InitiatorID: userID})
	return nil
}

// Get retrieves a presence record. Returns nil if the user is not online.
func (s *Store) Get(ctx context.Context, userID string) (*Record, error) {
	result, err := s.rdb.HGetAll(ctx, Key(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence: get %s: %w", userID, err)
	}
	if len(result) == 0 {
		return nil, nil
	}

	createdAt, _ := strconv.ParseInt(result["created_at"], 10, 64)
	lastActive, _ := strconv.ParseInt(result["last_active"], 10, 64)

	return &Record{
		ID:         result["id"],
		Nickname:   result["nickname"],
		Searching:  result["searching"] == "1",
		Partner:    result["partner"],
		CreatedAt:  createdAt,
		LastActive: lastActive,
	}, nil
}

// ListSearching returns the IDs of all users with searching=1 and no partner,
// excluding the given user. The scan order carries no time guarantee; the
// matching queue provides FIFO ordering on top of this set.
func (s *Store) ListSearching(ctx context.Context, excluding string) ([]string, error) {
	var ids []string
	iter := s.rdb.Scan(ctx, 0, KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		userID := strings.TrimPrefix(key, KeyPrefix)
		if userID == excluding {
			continue
		}
		fields, err := s.rdb.HMGet(ctx, key, "searching", "partner").Result()
		if err != nil {
			continue
		}
		searching, _ := fields[0].(string)
		partner, _ := fields[1].(string)
		if searching == "1" && partner == "" {
			ids = append(ids, userID)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("presence: list searching: %w", err)
	}
	return ids, nil
}

// State is the (searching, partner) pair used as a conditional-update
// precondition and as the new value to apply.
type State struct {
	Searching bool
	Partner   string
}

// ConditionalUpdate applies the new state only if the record still matches
// the expected state. Returns false without error when the precondition
// failed (a concurrent writer got there first) or the record is gone.
func (s *Store) ConditionalUpdate(ctx context.Context, userID string, expected, update State, initiatorID string) (bool, error) {
	var rec *Record
	if s.notifier != nil {
		// Best-effort snapshot for the change event's old_partner field.
		rec, _ = s.Get(ctx, userID)
	}

	ok, err := s.casScript.Run(ctx, s.rdb, []string{Key(userID)},
		boolField(expected.Searching), expected.Partner,
		boolField(update.Searching), update.Partner,
		time.Now().Unix(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("presence: conditional update %s: %w", userID, err)
	}
	if ok != 1 {
		return false, nil
	}

	ev := Event{
		UserID:      userID,
		Searching:   update.Searching,
		Partner:     update.Partner,
		InitiatorID: initiatorID,
	}
	if rec != nil {
		ev.OldPartner = rec.Partner
	}
	s.publish(ev)
	return true, nil
}

// Touch refreshes the last_active timestamp.
func (s *Store) Touch(ctx context.Context, userID string) error {
	return s.rdb.HSet(ctx, Key(userID), "last_active", time.Now().Unix()).Err()
}

// Delete hard-deletes a presence record at logout. The final change event
// carries Deleted=true so subscribers can drop their per-user state.
func (s *Store) Delete(ctx context.Context, userID string) error {
	rec, _ := s.Get(ctx, userID)

	if err := s.rdb.Del(ctx, Key(userID)).Err(); err != nil {
		return fmt.Errorf("presence: delete %s: %w", userID, err)
	}

	ev := Event{UserID: userID, InitiatorID: userID, Deleted: true}
	if rec != nil {
		ev.OldPartner = rec.Partner
	}
	s.publish(ev)
	return nil
}

// PublishEvent publishes a presence change event on behalf of a writer that
// mutated presence hashes directly (the matching engine's pair claim runs as
// one Lua script across both records and cannot go through ConditionalUpdate).
func (s *Store) PublishEvent(ev Event) {
	s.publish(ev)
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.rdb
}

func (s *Store) publish(ev Event) {
	if s.notifier == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.notifier.PublishPresenceChange(ev.UserID, data); err != nil {
		// Delivery is best-effort; the record itself is already consistent.
		return
	}
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// casLua applies (searching, partner) only when the record still matches the
// expected values. Missing records fail the precondition.
const casLua = `
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then return 0 end

local searching = redis.call('HGET', key, 'searching')
local partner = redis.call('HGET', key, 'partner')
if searching ~= ARGV[1] or partner ~= ARGV[2] then return 0 end

redis.call('HSET', key, 'searching', ARGV[3], 'partner', ARGV[4], 'last_active', ARGV[5])
return 1
`
