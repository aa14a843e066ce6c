package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Postgres is a Store on a PostgreSQL table with columns k, v and n.
type Postgres struct {
	pool   *pgxpool.Pool
	table  string
	logger *zap.Logger
}

// OpenPostgres connects a pool to dsn and creates the table if missing.
func OpenPostgres(ctx context.Context, dsn, table string, logger *zap.Logger) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("kvstore: postgres dsn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s := &Postgres{pool: pool, table: pgx.Identifier{table}.Sanitize(), logger: logger}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("kv store connected", zap.String("backend", BackendPostgres), zap.String("table", table))
	return s, nil
}

func (s *Postgres) migrate(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS ` + s.table + ` (
		k TEXT PRIMARY KEY,
		v BYTEA,
		n BIGINT
	)`
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create kv table: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	var (
		v []byte
		n *int64
	)
	err := s.pool.QueryRow(ctx, `SELECT v, n FROM `+s.table+` WHERE k = $1`, key).Scan(&v, &n)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres get %q: %w", key, err)
	}
	if n != nil {
		return []byte(strconv.FormatInt(*n, 10)), nil
	}
	return v, nil
}

func (s *Postgres) Set(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO ` + s.table + ` (k, v, n) VALUES ($1, $2, NULL)
		ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v, n = NULL
	`
	if _, err := s.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("postgres set %q: %w", key, err)
	}
	return nil
}

func (s *Postgres) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM `+s.table+` WHERE k = $1`, key); err != nil {
		return fmt.Errorf("postgres delete %q: %w", key, err)
	}
	return nil
}

func (s *Postgres) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT k FROM `+s.table+` WHERE k LIKE $1 ESCAPE '\' ORDER BY k`,
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("postgres keys %q: %w", prefix, err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres keys %q: %w", prefix, err)
	}
	return keys, nil
}

// Incr relies on the row lock taken by INSERT ... ON CONFLICT DO UPDATE.
func (s *Postgres) Incr(ctx context.Context, key string) (int64, error) {
	query := `
		INSERT INTO ` + s.table + ` (k, n) VALUES ($1, 1)
		ON CONFLICT (k) DO UPDATE SET n = COALESCE(` + s.table + `.n, 0) + 1
		RETURNING n
	`
	var n int64
	if err := s.pool.QueryRow(ctx, query, key).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres incr %q: %w", key, err)
	}
	return n, nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

// escapeLike escapes LIKE wildcards so prefixes match literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
