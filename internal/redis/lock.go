package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrLockNotAcquired = errors.New("calendar lock not acquired")

// CalendarLocker guards commits against one practitioner's calendar day so
// that two concurrent bookings do not both race into the database. The
// Postgres exclusion constraint is still the source of truth; this only
// turns most races into an orderly wait-free retry.
type CalendarLocker struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewCalendarLocker(client *redis.Client, ttl time.Duration, log *zap.Logger) *CalendarLocker {
	return &CalendarLocker{client: client, ttl: ttl, log: log}
}

func (l *CalendarLocker) WithCalendarLock(ctx context.Context, practitionerID uuid.UUID, day time.Time, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:calendar:%s:%s", practitionerID, day.Format("2006-01-02"))
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		// Redis being down degrades to constraint-only protection; the
		// commit still cannot double-book.
		l.log.Warn("calendar lock unavailable, proceeding unlocked",
			zap.String("key", key), zap.Error(err))
		return fn(ctx)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	lockCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(lockCtx)
}

// Release only if we still hold the lock; the token check prevents deleting
// a lock that expired and was re-acquired by someone else.
var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *CalendarLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release calendar lock: %w", err)
	}
	return nil
}
