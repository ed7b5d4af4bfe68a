package promotion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/campusledger/campusledger/internal/fees"
)

const sessionKeyPrefix = "promotion:session:"

// SessionStore persists workflow sessions for the lifetime of a dialog.
type SessionStore interface {
	Save(ctx context.Context, s *Session) error
	Load(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
}

// RedisSessionStore keeps sessions as JSON with a sliding TTL.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionStore constructs a store. A non-positive ttl defaults to two hours.
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisSessionStore{client: client, ttl: ttl}
}

// Save writes the session and refreshes its expiry.
func (r *RedisSessionStore) Save(ctx context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return errors.New("promotion: session id required")
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return r.client.Set(ctx, sessionKeyPrefix+s.ID, payload, r.ttl).Err()
}

// Load fetches a session or returns ErrSessionNotFound.
func (r *RedisSessionStore) Load(ctx context.Context, id string) (*Session, error) {
	raw, err := r.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if s.Dues == nil {
		s.Dues = map[int64]fees.OutstandingDue{}
	}
	if s.Actions == nil {
		s.Actions = map[int64]FeeAction{}
	}
	return &s, nil
}

// Delete removes a session.
func (r *RedisSessionStore) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, sessionKeyPrefix+id).Err()
}
