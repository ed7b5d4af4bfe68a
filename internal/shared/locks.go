package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// PromotionLockKey builds the redis key guarding promotion out of a year.
func PromotionLockKey(fromYearID int64) string {
	return fmt.Sprintf("promotion:year:%d:lock", fromYearID)
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker hands out short-lived exclusive locks stored in Redis.
type Locker struct {
	client *redis.Client
}

// NewLocker constructs a Locker.
func NewLocker(client *redis.Client) *Locker {
	return &Locker{client: client}
}

// Lock is a held lock. Release is safe to call more than once.
type Lock struct {
	client *redis.Client
	key    string
	token  string
}

// Acquire takes key for ttl or returns ErrLockHeld.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	if l == nil || l.client == nil {
		return nil, fmt.Errorf("locker not initialised")
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{client: l.client, key: key, token: token}, nil
}

// Release drops the lock if it is still owned by this holder.
func (l *Lock) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}
