// Redis-backed retention store – suitable for HA router deployments where
// multiple instances must share retained samples.  The implementation relies
// on a capped Redis list ("uplink:samples") with TTL set to the retention
// duration.  Writes are fire-and-forget (LPUSH + EXPIRE) for speed; reads
// perform LRANGE to replay the latest N samples to a new subscriber.
//
// Error handling is kept lenient: write errors are logged and swallowed;
// read errors result in an empty slice.
package retention

import (
	"context"
	"time"

	"github.com/hashicorp/go-msgpack/codec"
	"github.com/redis/go-redis/v9"

	"github.com/Voskan/uplink/internal/logging"
)

const redisKey = "uplink:samples"

var redisHandle codec.MsgpackHandle

type redisStore struct {
	cli          *redis.Client
	retentionDur time.Duration
	maxLen       int64 // last list index kept by LTRIM (list holds maxLen+1 entries), from retentionDur * writes per second
}

// NewRedis returns a Store backed by Redis.  writesPerSecond is an estimate
// of how many samples will be pushed; it determines list trimming length.
func NewRedis(cli *redis.Client, retention time.Duration, writesPerSecond int) Store {
	if retention < time.Second {
		retention = time.Second
	}
	if writesPerSecond <= 0 {
		writesPerSecond = 10
	}
	maxLen := int64(retention.Seconds()*float64(writesPerSecond)) + 100 // headroom
	return &redisStore{cli: cli, retentionDur: retention, maxLen: maxLen}
}

// Write appends an entry to the Redis list with expiration.
func (r *redisStore) Write(e Entry) error {
	var raw []byte
	if err := codec.NewEncoderBytes(&raw, &redisHandle).Encode(&e); err != nil {
		return err
	}
	ctx := context.Background()
	pipe := r.cli.Pipeline()
	pipe.LPush(ctx, redisKey, raw)
	pipe.LTrim(ctx, redisKey, 0, r.maxLen)
	pipe.Expire(ctx, redisKey, r.retentionDur)
	if _, err := pipe.Exec(ctx); err != nil {
		logging.Sugar().Warnw("redis write", "err", err)
	}
	return nil
}

// ReadAll fetches all entries from Redis newest→oldest and reverses to
// chronological order.
func (r *redisStore) ReadAll() []Entry {
	ctx := context.Background()
	vals, err := r.cli.LRange(ctx, redisKey, 0, -1).Result()
	if err != nil {
		logging.Sugar().Warnw("redis read", "err", err)
		return nil
	}
	n := len(vals)
	out := make([]Entry, 0, n)
	for i := n - 1; i >= 0; i-- {
		var e Entry
		if err := codec.NewDecoderBytes([]byte(vals[i]), &redisHandle).Decode(&e); err != nil {
			logging.Sugar().Warnw("redis decode", "err", err)
			continue
		}
		out = append(out, e)
	}
	return out
}
