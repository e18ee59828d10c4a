// Package sqlite stores and fetches live data of assets in a SQLite database.
//
// The table is the same shape as the one of package postgres, with JSON in text.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/opst/assetgraph/pkg/domain"
	"github.com/opst/assetgraph/pkg/livedata"
	_ "modernc.org/sqlite"
)

const DefaultTable = "asset_live_data"

type Store struct {
	db     *sql.DB
	table  string
	logger *log.Logger
}

var _ livedata.Fetcher = &Store{}

type Option func(*Store)

func WithTable(table string) Option {
	return func(s *Store) {
		s.table = table
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// Open opens a database at dsn, like a file path or ":memory:", and creates the table.
func Open(ctx context.Context, dsn string, options ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// each connection to ":memory:" is a distinct database.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, table: DefaultTable, logger: log.New(io.Discard, "", 0)}
	for _, opt := range options {
		opt(s)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ident() string {
	return `"` + strings.ReplaceAll(s.table, `"`, `""`) + `"`
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`create table if not exists %s (
			asset_key text primary key,
			record text,
			error text,
			updated_at timestamp not null default current_timestamp
		)`,
		s.ident(),
	))
	return err
}

// Put stores live data of an asset, clearing its error.
func (s *Store) Put(ctx context.Context, data domain.LiveData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		fmt.Sprintf(
			`insert into %s (asset_key, record, error) values (?, ?, null)
			on conflict (asset_key) do update
			set record = excluded.record, error = null, updated_at = current_timestamp`,
			s.ident(),
		),
		data.AssetKey.Token(), string(raw),
	)
	return err
}

// PutError marks an asset as failed. Its last live data is kept.
func (s *Store) PutError(ctx context.Context, key domain.AssetKey, message string) error {
	_, err := s.db.ExecContext(
		ctx,
		fmt.Sprintf(
			`insert into %s (asset_key, error) values (?, ?)
			on conflict (asset_key) do update
			set error = excluded.error, updated_at = current_timestamp`,
			s.ident(),
		),
		key.Token(), message,
	)
	return err
}

// Delete removes an asset. It becomes absent.
func (s *Store) Delete(ctx context.Context, key domain.AssetKey) error {
	_, err := s.db.ExecContext(
		ctx, fmt.Sprintf(`delete from %s where asset_key = ?`, s.ident()), key.Token(),
	)
	return err
}

func (s *Store) Fetch(ctx context.Context, keys []domain.AssetKey) (map[string]livedata.Result, error) {
	results := map[string]livedata.Result{}
	if len(keys) == 0 {
		return results, nil
	}

	placeholders := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		placeholders = append(placeholders, "?")
		args = append(args, k.Token())
	}

	rows, err := s.db.QueryContext(
		ctx,
		fmt.Sprintf(
			`select asset_key, record, error from %s where asset_key in (%s)`,
			s.ident(), strings.Join(placeholders, ", "),
		),
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var token string
		var record, message sql.NullString
		if err := rows.Scan(&token, &record, &message); err != nil {
			return nil, err
		}
		if message.Valid {
			results[token] = livedata.Failed(errors.New(message.String))
			continue
		}
		if !record.Valid {
			continue
		}
		data := domain.LiveData{}
		if err := json.Unmarshal([]byte(record.String), &data); err != nil {
			s.logger.Printf("broken record for %s: %s", token, err)
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
