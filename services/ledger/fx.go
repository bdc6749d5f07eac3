package ledger

import (
	"context"
	"io"

	"appraisal-fulfillment/pkg/config"
	"appraisal-fulfillment/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("ledger.service",
	fx.Provide(NewBackend, NewSeenCache, NewService),
	fx.Invoke(registerHeaders, registerClose),
)

type cacheParams struct {
	fx.In
	Config *config.Config
	Redis  *redis.Client `optional:"true"`
}

func NewSeenCache(p cacheParams) (SeenCache, error) {
	if p.Config.Ledger.CacheBackend == "redis" && p.Redis != nil {
		return NewRedisCache(p.Redis, rediskey.BuildLedgerSeenKey(p.Config.Ledger.CacheKey, p.Config.AppEnv)), nil
	}
	return NewLRUCache(p.Config.Ledger.CacheSize)
}

func registerHeaders(lc fx.Lifecycle, store *Store) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := store.EnsureHeaders(ctx); err != nil {
				zap.L().Warn("failed to ensure ledger headers", zap.Error(err))
			}
			return nil
		},
	})
}

func registerClose(lc fx.Lifecycle, backend Backend) {
	c, ok := backend.(io.Closer)
	if !ok {
		return
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return c.Close()
		},
	})
}
