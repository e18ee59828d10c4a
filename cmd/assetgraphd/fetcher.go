package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/opst/assetgraph/pkg/configs/server"
	"github.com/opst/assetgraph/pkg/domain"
	xe "github.com/opst/assetgraph/pkg/errors"
	"github.com/opst/assetgraph/pkg/fetcher/postgres"
	"github.com/opst/assetgraph/pkg/fetcher/redis"
	"github.com/opst/assetgraph/pkg/fetcher/rest"
	"github.com/opst/assetgraph/pkg/fetcher/sqlite"
	"github.com/opst/assetgraph/pkg/livedata"
	"github.com/opst/assetgraph/pkg/utils/retry"
)

// newFetcher builds a Fetcher as configured.
//
// # Returns
//
// - livedata.Fetcher: fetcher.
//
// - func(): releases connections of the fetcher.
//
// - error: error on connecting.
func newFetcher(ctx context.Context, conf *server.FetcherConfig, logger *log.Logger) (livedata.Fetcher, func(), error) {
	switch conf.Kind() {
	case server.FetcherREST:
		opts := []rest.Option{rest.WithLogger(logger)}
		if p := conf.NodesPath(); p != "" {
			opts = append(opts, rest.WithNodesPath(p))
		}
		if d := conf.Timeout(); 0 < d {
			opts = append(opts, rest.WithTimeout(d))
		}
		f, err := rest.New(conf.Endpoint(), opts...)
		if err != nil {
			return nil, nil, xe.WrapWithNote("rest fetcher", err)
		}
		return f, func() {}, nil

	case server.FetcherPostgres:
		pool, err := postgres.Connect(
			ctx, conf.DSN(),
			retry.Limited(10, retry.ExponentialBackoff(500*time.Millisecond, 2, 10*time.Second)),
		)
		if err != nil {
			return nil, nil, xe.WrapWithNote("postgres fetcher", err)
		}
		opts := []postgres.Option{postgres.WithLogger(logger)}
		if t := conf.Table(); t != "" {
			opts = append(opts, postgres.WithTable(t))
		}
		f := postgres.New(pool, opts...)
		if err := f.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, xe.WrapWithNote("postgres fetcher", err)
		}
		return withTimeout(f, conf.Timeout()), pool.Close, nil

	case server.FetcherSQLite:
		opts := []sqlite.Option{sqlite.WithLogger(logger)}
		if t := conf.Table(); t != "" {
			opts = append(opts, sqlite.WithTable(t))
		}
		s, err := sqlite.Open(ctx, conf.DSN(), opts...)
		if err != nil {
			return nil, nil, xe.WrapWithNote("sqlite fetcher", err)
		}
		return withTimeout(s, conf.Timeout()), func() { s.Close() }, nil

	case server.FetcherRedis:
		opts := []redis.Option{redis.WithLogger(logger)}
		if p := conf.KeyPrefix(); p != "" {
			opts = append(opts, redis.WithKeyPrefix(p))
		}
		f, err := redis.Connect(ctx, conf.DSN(), opts...)
		if err != nil {
			return nil, nil, xe.WrapWithNote("redis fetcher", err)
		}
		return withTimeout(f, conf.Timeout()), func() { f.Close() }, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown fetcher kind: %s", server.ErrInvalidConfig, conf.Kind())
}

// withTimeout limits each fetch of f to d. Non-positive d means no limit.
func withTimeout(f livedata.Fetcher, d time.Duration) livedata.Fetcher {
	if d <= 0 {
		return f
	}
	return livedata.FetcherFunc(func(ctx context.Context, keys []domain.AssetKey) (map[string]livedata.Result, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return f.Fetch(ctx, keys)
	})
}
