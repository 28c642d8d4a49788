package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"automation-gateway/middleware/admission/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore grava contadores de decisões em hashes do Redis.
//
// Chaves (prefixo padrão "admission:stats"):
//   - <prefix>:total             allowed/denied (cumulativo, não expira)
//   - <prefix>:minute:<yyyymmddhhmm> allowed/denied (expira com ttl)
//   - <prefix>:category          <categoria>:allowed|denied
//   - <prefix>:reason            <motivo> (somente negações)
type RedisStatsStore struct {
	rdb *redis.Client

	prefix string
	// ttl aplica apenas nas chaves por minuto.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func NewRedisStatsStore(rdb *redis.Client, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "admission:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := "denied"
	if ev.Allowed {
		field = "allowed"
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	if s.bucket == "minute" {
		bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
		pipe.HIncrBy(ctx, bucketKey, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	if ev.Category.Valid() {
		pipe.HIncrBy(ctx, s.prefix+":category", ev.Category.String()+":"+field, 1)
	}
	if !ev.Allowed && ev.Reason != "" {
		pipe.HIncrBy(ctx, s.prefix+":reason", ev.Reason, 1)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Totals lê os contadores cumulativos.
func (s *RedisStatsStore) Totals(ctx context.Context) (Counters, error) {
	vals, err := s.rdb.HGetAll(ctx, s.prefix+":total").Result()
	if err != nil {
		return Counters{}, err
	}
	var c Counters
	c.Allowed, _ = strconv.ParseInt(vals["allowed"], 10, 64)
	c.Denied, _ = strconv.ParseInt(vals["denied"], 10, 64)
	return c, nil
}
