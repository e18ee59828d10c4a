// Package postgres fetches live data of assets from a PostgreSQL table.
//
// The table holds one row per asset:
//
//	"asset_key"  text primary key  -- token of the asset key
//	"record"     jsonb             -- live data. null means no data.
//	"error"      text              -- error on computing live data.
//	"updated_at" timestamptz
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/opst/assetgraph/pkg/domain"
	"github.com/opst/assetgraph/pkg/livedata"
	"github.com/opst/assetgraph/pkg/utils/retry"
)

const DefaultTable = "asset_live_data"

// something sending query with SQL.
//
// this is a subset of `*pgxpool.Pool`, `*pgxpool.Conn` and `pgx.Tx`.
type Queryer interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

type Fetcher struct {
	conn   Queryer
	table  string
	logger *log.Logger
}

var _ livedata.Fetcher = &Fetcher{}

type Option func(*Fetcher)

func WithTable(table string) Option {
	return func(f *Fetcher) {
		f.table = table
	}
}

func WithLogger(l *log.Logger) Option {
	return func(f *Fetcher) {
		f.logger = l
	}
}

func New(conn Queryer, options ...Option) *Fetcher {
	f := &Fetcher{conn: conn, table: DefaultTable, logger: log.New(io.Discard, "", 0)}
	for _, opt := range options {
		opt(f)
	}
	return f
}

func (f *Fetcher) ident() string {
	return pgx.Identifier{f.table}.Sanitize()
}

// Migrate creates the table if not exists.
func (f *Fetcher) Migrate(ctx context.Context) error {
	_, err := f.conn.Exec(ctx, fmt.Sprintf(
		`create table if not exists %s (
			"asset_key" text primary key,
			"record" jsonb,
			"error" text,
			"updated_at" timestamptz not null default now()
		)`,
		f.ident(),
	))
	return err
}

// Put stores live data of an asset, clearing its error.
func (f *Fetcher) Put(ctx context.Context, data domain.LiveData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return f.upsert(
		ctx, data.AssetKey,
		pgtype.JSONB{Bytes: raw, Status: pgtype.Present},
		pgtype.Text{Status: pgtype.Null},
	)
}

// PutError marks an asset as failed. Its last live data is kept.
func (f *Fetcher) PutError(ctx context.Context, key domain.AssetKey, message string) error {
	_, err := f.conn.Exec(
		ctx,
		fmt.Sprintf(
			`insert into %s ("asset_key", "error") values ($1, $2)
			on conflict ("asset_key") do update set "error" = excluded."error", "updated_at" = now()`,
			f.ident(),
		),
		key.Token(), pgtype.Text{String: message, Status: pgtype.Present},
	)
	return err
}

func (f *Fetcher) upsert(ctx context.Context, key domain.AssetKey, record pgtype.JSONB, message pgtype.Text) error {
	_, err := f.conn.Exec(
		ctx,
		fmt.Sprintf(
			`insert into %s ("asset_key", "record", "error") values ($1, $2, $3)
			on conflict ("asset_key") do update
			set "record" = excluded."record", "error" = excluded."error", "updated_at" = now()`,
			f.ident(),
		),
		key.Token(), record, message,
	)
	return err
}

// Fetch reads rows of keys.
//
// Rows with "error" are failures. Rows with null "record" and missing rows are absent.
func (f *Fetcher) Fetch(ctx context.Context, keys []domain.AssetKey) (map[string]livedata.Result, error) {
	tokens := make([]string, 0, len(keys))
	for _, k := range keys {
		tokens = append(tokens, k.Token())
	}

	rows, err := f.conn.Query(
		ctx,
		fmt.Sprintf(
			`select "asset_key", "record", "error" from %s where "asset_key" = any($1)`,
			f.ident(),
		),
		tokens,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := map[string]livedata.Result{}
	for rows.Next() {
		var token string
		var record pgtype.JSONB
		var message pgtype.Text
		if err := rows.Scan(&token, &record, &message); err != nil {
			return nil, err
		}

		if message.Status == pgtype.Present {
			results[token] = livedata.Failed(errors.New(message.String))
			continue
		}
		if record.Status != pgtype.Present {
			continue
		}

		data := domain.LiveData{}
		if err := json.Unmarshal(record.Bytes, &data); err != nil {
			f.logger.Printf("broken record for %s: %s", token, err)
			results[token] = livedata.Failed(fmt.Errorf("broken record: %w", err))
			continue
		}
		if data.AssetKey.IsZero() {
			if key, err := domain.ParseToken(token); err == nil {
				data.AssetKey = key
			}
		}
		results[token] = livedata.Present(data)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// IsRetriable tells err is temporary, like connection failures or lack of resources.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsConnectionException(pgErr.Code) ||
			pgerrcode.IsInsufficientResources(pgErr.Code) ||
			pgErr.Code == pgerrcode.CannotConnectNow
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Connect opens a pool, retrying while errors are retriable.
func Connect(ctx context.Context, dsn string, backoff retry.Backoff) (*pgxpool.Pool, error) {
	return retry.Blocking(ctx, backoff, func() (*pgxpool.Pool, error) {
		pool, err := pgxpool.Connect(ctx, dsn)
		if err == nil {
			if err = pool.Ping(ctx); err != nil {
				pool.Close()
			}
		}
		if err == nil {
			return pool, nil
		}
		if IsRetriable(err) {
			return nil, fmt.Errorf("%w: %w", retry.ErrRetry, err)
		}
		return nil, err
	})
}
