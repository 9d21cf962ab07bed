package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"ms-contest/internal/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const lockPrefix = "contest_lock:"

// Readers live in a sorted set scored by their expiry so a crashed holder ages out
// instead of blocking writers forever.
var (
	acquireReadScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[1])
redis.call('PEXPIRE', KEYS[2], ARGV[3])
return 1
`)

	activeReadersScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
return redis.call('ZCARD', KEYS[1])
`)

	releaseWriteScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)
)

// Locker is a Redis reader/writer lock shared by every API instance. A writer claims the
// key with SETNX and then waits for readers to drain; readers are refused while a writer
// holds or awaits the key.
type Locker struct {
	Client *redis.Client
	TTL    time.Duration
	Retry  time.Duration
	Logger *logger.Logger
}

func NewLocker(client *redis.Client, ttl, retry time.Duration, log *logger.Logger) *Locker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if retry <= 0 {
		retry = 10 * time.Millisecond
	}
	return &Locker{Client: client, TTL: ttl, Retry: retry, Logger: log}
}

func writerKey(key string) string {
	return lockPrefix + key + ":writer"
}

func readersKey(key string) string {
	return lockPrefix + key + ":readers"
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// Lock blocks until key is held exclusively or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()

	for {
		ok, err := l.Client.SetNX(ctx, writerKey(key), token, l.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if err := l.wait(ctx); err != nil {
			return nil, err
		}
	}

	release := func() { l.releaseWriter(key, token) }

	for {
		active, err := activeReadersScript.Run(ctx, l.Client, []string{readersKey(key)}, nowMillis()).Int()
		if err != nil {
			release()
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if active == 0 {
			return release, nil
		}
		if err := l.wait(ctx); err != nil {
			release()
			return nil, err
		}
	}
}

// RLock blocks until key is held shared or ctx is done.
func (l *Locker) RLock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	ttl := strconv.FormatInt(l.TTL.Milliseconds(), 10)

	for {
		now := nowMillis()
		ok, err := acquireReadScript.Run(ctx, l.Client,
			[]string{writerKey(key), readersKey(key)},
			token, now, ttl, now+l.TTL.Milliseconds(),
		).Int()
		if err != nil {
			return nil, fmt.Errorf("rlock %s: %w", key, err)
		}
		if ok == 1 {
			return func() { l.releaseReader(key, token) }, nil
		}
		if err := l.wait(ctx); err != nil {
			return nil, err
		}
	}
}

func (l *Locker) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(l.Retry):
		return nil
	}
}

// Releases run detached from the request so a cancelled caller still frees the key.
func (l *Locker) releaseWriter(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseWriteScript.Run(ctx, l.Client, []string{writerKey(key)}, token).Err(); err != nil && err != redis.Nil {
		l.logWarn(fmt.Sprintf("Release writer lock %s failed: %v", key, err))
	}
}

func (l *Locker) releaseReader(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.Client.ZRem(ctx, readersKey(key), token).Err(); err != nil {
		l.logWarn(fmt.Sprintf("Release reader lock %s failed: %v", key, err))
	}
}

func (l *Locker) logWarn(msg string) {
	if l.Logger != nil {
		l.Logger.Warn("REDIS", msg)
	}
}
