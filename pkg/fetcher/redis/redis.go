// Package redis fetches live data of assets from Redis.
//
// Live data of an asset is a JSON string at KeyPrefix + token,
// and an error message of the asset at KeyPrefix + token + ErrorSuffix.
// When both are set, the error wins.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/opst/assetgraph/pkg/domain"
	"github.com/opst/assetgraph/pkg/livedata"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultKeyPrefix = "assetgraph:livedata:"
	ErrorSuffix      = ":error"
)

type Fetcher struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *log.Logger
}

var _ livedata.Fetcher = &Fetcher{}

type Option func(*Fetcher)

func WithKeyPrefix(prefix string) Option {
	return func(f *Fetcher) {
		f.prefix = prefix
	}
}

// WithTTL sets expiration of keys written by Put and PutError. 0 means no expiration.
func WithTTL(ttl time.Duration) Option {
	return func(f *Fetcher) {
		f.ttl = ttl
	}
}

func WithLogger(l *log.Logger) Option {
	return func(f *Fetcher) {
		f.logger = l
	}
}

// New creates a Fetcher with a client.
func New(client *redis.Client, options ...Option) *Fetcher {
	f := &Fetcher{
		client: client,
		prefix: DefaultKeyPrefix,
		logger: log.New(io.Discard, "", 0),
	}
	for _, opt := range options {
		opt(f)
	}
	return f
}

// Connect connects to the server at url, like "redis://localhost:6379/0", and pings it.
func Connect(ctx context.Context, url string, options ...Option) (*Fetcher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: invalid url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: cannot connect: %w", err)
	}
	return New(client, options...), nil
}

func (f *Fetcher) Close() error {
	return f.client.Close()
}

func (f *Fetcher) dataKey(token string) string {
	return f.prefix + token
}

func (f *Fetcher) errorKey(token string) string {
	return f.prefix + token + ErrorSuffix
}

// Put stores live data of an asset, clearing its error.
func (f *Fetcher) Put(ctx context.Context, data domain.LiveData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	token := data.AssetKey.Token()
	_, err = f.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, f.dataKey(token), raw, f.ttl)
		p.Del(ctx, f.errorKey(token))
		return nil
	})
	return err
}

// PutError marks an asset as failed. Its last live data is kept.
func (f *Fetcher) PutError(ctx context.Context, key domain.AssetKey, message string) error {
	return f.client.Set(ctx, f.errorKey(key.Token()), message, f.ttl).Err()
}

// Delete removes an asset. It becomes absent.
func (f *Fetcher) Delete(ctx context.Context, key domain.AssetKey) error {
	token := key.Token()
	return f.client.Del(ctx, f.dataKey(token), f.errorKey(token)).Err()
}

func (f *Fetcher) Fetch(ctx context.Context, keys []domain.AssetKey) (map[string]livedata.Result, error) {
	results := map[string]livedata.Result{}
	if len(keys) == 0 {
		return results, nil
	}

	names := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		token := k.Token()
		names = append(names, f.dataKey(token), f.errorKey(token))
	}
	values, err := f.client.MGet(ctx, names...).Result()
	if errors.Is(err, redis.Nil) {
		return results, nil
	}
	if err != nil {
		return nil, err
	}

	for i, k := range keys {
		token := k.Token()
		results[token] = decode(k, values[2*i], values[2*i+1], f.logger)
	}
	return results, nil
}

func decode(key domain.AssetKey, record any, message any, logger *log.Logger) livedata.Result {
	if m, ok := message.(string); ok {
		return livedata.Failed(errors.New(m))
	}
	raw, ok := record.(string)
	if !ok {
		return livedata.Absent()
	}
	data := domain.LiveData{}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		logger.Printf("broken record for %s: %s", key.Token(), err)
		return livedata.Failed(fmt.Errorf("broken record: %w", err))
	}
	if data.AssetKey.IsZero() {
		data.AssetKey = key
	}
	return livedata.Present(data)
}
