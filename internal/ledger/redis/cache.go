package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"ms-contest/internal/logger"
	"ms-contest/internal/models"

	"github.com/go-redis/redis/v8"
)

const (
	leaderboardKey    = "contest:leaderboard"
	leaderboardGenKey = "contest:leaderboard:gen"
)

// setTopScript stores a snapshot only while the generation is the one the caller saw
// before reading the ledger.
var setTopScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[2], ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

// LeaderboardCache keeps top(n) snapshots in one hash, one field per n. Every committed
// write bumps a generation and drops the hash, so a refill computed before that write
// is refused instead of stored.
type LeaderboardCache struct {
	Client *redis.Client
	TTL    time.Duration
	Logger *logger.Logger
}

func NewLeaderboardCache(client *redis.Client, ttl time.Duration, log *logger.Logger) *LeaderboardCache {
	return &LeaderboardCache{Client: client, TTL: ttl, Logger: log}
}

// GetTop returns the cached snapshot for n. On a miss it returns the generation to hand
// back to SetTop, or -1 when the generation is unknown and nothing should be stored.
func (c *LeaderboardCache) GetTop(ctx context.Context, n int) ([]models.Entry, int64, bool) {
	raw, err := c.Client.HGet(ctx, leaderboardKey, strconv.Itoa(n)).Bytes()
	switch {
	case err == redis.Nil:
	case err != nil:
		c.warn(fmt.Sprintf("Leaderboard cache read failed: %v", err))
		return nil, -1, false
	default:
		var entries []models.Entry
		decodeErr := json.Unmarshal(raw, &entries)
		if decodeErr == nil {
			return entries, 0, true
		}
		c.warn(fmt.Sprintf("Leaderboard cache entry corrupt: %v", decodeErr))
	}

	gen, err := c.Client.Get(ctx, leaderboardGenKey).Int64()
	if err == redis.Nil {
		return nil, 0, false
	}
	if err != nil {
		c.warn(fmt.Sprintf("Leaderboard cache generation read failed: %v", err))
		return nil, -1, false
	}
	return nil, gen, false
}

// SetTop stores entries for n unless an Invalidate ran after gen was read.
func (c *LeaderboardCache) SetTop(ctx context.Context, n int, gen int64, entries []models.Entry) {
	if c.TTL <= 0 || gen < 0 {
		return
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		c.warn(fmt.Sprintf("Leaderboard cache encode failed: %v", err))
		return
	}

	stored, err := setTopScript.Run(ctx, c.Client,
		[]string{leaderboardKey, leaderboardGenKey},
		strconv.FormatInt(gen, 10), strconv.Itoa(n), raw, c.TTL.Milliseconds(),
	).Int()
	if err != nil {
		c.warn(fmt.Sprintf("Leaderboard cache write failed: %v", err))
		return
	}
	if stored == 0 && c.Logger != nil {
		c.Logger.Debug("REDIS", fmt.Sprintf("Dropped stale top(%d) snapshot from generation %d", n, gen))
	}
}

func (c *LeaderboardCache) Invalidate(ctx context.Context) {
	_, err := c.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, leaderboardGenKey)
		pipe.Del(ctx, leaderboardKey)
		return nil
	})
	if err != nil {
		c.warn(fmt.Sprintf("Leaderboard cache invalidate failed: %v", err))
	}
}

func (c *LeaderboardCache) warn(msg string) {
	if c.Logger != nil {
		c.Logger.Warn("REDIS", msg)
	}
}
