package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// compareAndDelete removes KEYS[1] only while it still holds ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker keys message locks in Redis. Each worker process gets its own
// owner id, so an expired lock taken over by another worker is never deleted
// by the previous owner.
type RedisLocker struct {
	client redis.UniversalClient
	owner  string

	mu     sync.Mutex
	tokens map[string]string
}

func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{
		client: client,
		owner:  uuid.NewString(),
		tokens: make(map[string]string),
	}
}

// Acquire takes the lock with SET NX. The TTL bounds how long a crashed worker
// keeps a message id blocked.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) error {
	token := l.owner + ":" + uuid.NewString()

	l.mu.Lock()
	if _, held := l.tokens[key]; held {
		l.mu.Unlock()
		return ErrAlreadyHeld
	}
	l.tokens[key] = token
	l.mu.Unlock()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err == nil && ok {
		return nil
	}

	l.mu.Lock()
	delete(l.tokens, key)
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("redis lock %s: %w", key, err)
	}
	return ErrNotAcquired
}

func (l *RedisLocker) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	token, held := l.tokens[key]
	delete(l.tokens, key)
	l.mu.Unlock()

	if !held {
		return nil
	}
	if err := compareAndDelete.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("redis unlock %s: %w", key, err)
	}
	return nil
}
