package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"memory-map/internal/entry"
	"memory-map/internal/logger"
	"memory-map/internal/metrics"
)

// CacheKey：完整集合在 Redis 中的缓存键
const CacheKey = "memories:all"

// GenKey：缓存代数；每次失效自增，回填时代数变化则放弃写入
const GenKey = "memories:gen"

// CachedBackend：在 Backend 之上缓存完整集合
// 约束：写入与递增后先自增代数再删除缓存键；读取内部后端前记下代数，回填时在 WATCH 下确认代数未变。
// rc 为 nil 时完全透传；Redis 异常只记录日志不影响主流程
type CachedBackend struct {
	Backend
	rc  *redis.Client
	ttl time.Duration
}

func NewCached(b Backend, rc *redis.Client, ttl time.Duration) *CachedBackend {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedBackend{Backend: b, rc: rc, ttl: ttl}
}

func (c *CachedBackend) List(ctx context.Context) ([]entry.Entry, error) {
	var gen int64
	fill := false
	if c.rc != nil {
		if s, _ := c.rc.Get(ctx, CacheKey).Result(); s != "" {
			var out []entry.Entry
			if err := json.Unmarshal([]byte(s), &out); err == nil {
				metrics.CacheHitsTotal.Inc()
				return out, nil
			}
		}
		metrics.CacheMissesTotal.Inc()
		g, err := c.generation(ctx, c.rc)
		if err != nil {
			logger.L().Debug("redis_cache_gen_error", "err", err)
		} else {
			gen, fill = g, true
		}
	}
	out, err := c.Backend.List(ctx)
	if err != nil {
		return nil, err
	}
	if fill {
		c.fill(ctx, gen, out)
	}
	return out, nil
}

type genReader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (c *CachedBackend) generation(ctx context.Context, cmd genReader) (int64, error) {
	g, err := cmd.Get(ctx, GenKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return g, err
}

// fill：仅当代数仍为 gen 时回填
func (c *CachedBackend) fill(ctx context.Context, gen int64, list []entry.Entry) {
	b, err := json.Marshal(list)
	if err != nil {
		return
	}
	err = c.rc.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := c.generation(ctx, tx)
		if err != nil {
			return err
		}
		if cur != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, CacheKey, string(b), c.ttl)
			return nil
		})
		return err
	}, GenKey)
	switch {
	case err == nil:
	case errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
		logger.L().Debug("redis_cache_fill_skipped", "gen", gen)
	default:
		logger.L().Debug("redis_cache_set_error", "err", err)
	}
}

var errStaleFill = errors.New("cache generation changed")

func (c *CachedBackend) Insert(ctx context.Context, e entry.Entry) error {
	if err := c.Backend.Insert(ctx, e); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

func (c *CachedBackend) Increment(ctx context.Context, id string) (bool, error) {
	ok, err := c.Backend.Increment(ctx, id)
	if ok {
		c.invalidate(ctx)
	}
	return ok, err
}

// Get：不经缓存，直接读取内部后端
func (c *CachedBackend) Get(ctx context.Context, id string) (entry.Entry, error) {
	return Lookup(ctx, c.Backend, id)
}

// Stats：透传给内部后端
func (c *CachedBackend) Stats(ctx context.Context) (Totals, error) {
	if s, ok := c.Backend.(Stater); ok {
		return s.Stats(ctx)
	}
	list, err := c.List(ctx)
	if err != nil {
		return Totals{}, err
	}
	return totalsOf(list), nil
}

func (c *CachedBackend) invalidate(ctx context.Context) {
	if c.rc == nil {
		return
	}
	_, err := c.rc.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, GenKey)
		p.Del(ctx, CacheKey)
		return nil
	})
	if err != nil {
		logger.L().Debug("redis_cache_del_error", "err", err)
	}
}

func totalsOf(list []entry.Entry) Totals {
	t := Totals{Total: int64(len(list))}
	for _, e := range list {
		t.Visits += e.NumVisits
	}
	return t
}

// StatsOf：后端支持统计时直接读取，否则由完整集合计算
func StatsOf(ctx context.Context, b Backend) (Totals, error) {
	if s, ok := b.(Stater); ok {
		return s.Stats(ctx)
	}
	list, err := b.List(ctx)
	if err != nil {
		return Totals{}, err
	}
	return totalsOf(list), nil
}
