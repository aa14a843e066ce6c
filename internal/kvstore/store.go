// Package kvstore defines the key/value persistence used by the quota ledger
// and the result cache, with interchangeable backends: in-process memory,
// Redis, DynamoDB, PostgreSQL and MySQL.
//
// Stores have no notion of expiry. Freshness is decided by the caller from
// the timestamps it writes into the value.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a minimal byte-oriented key/value store.
//
// Incr must be atomic with respect to concurrent callers of the same store
// (and, for shared backends, other processes). Counters written by Incr read
// back through Get as decimal text.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Incr(ctx context.Context, key string) (int64, error)
	Close() error
}

// Backend names accepted by New.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
)

// Options selects and configures a backend.
type Options struct {
	Backend string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DynamoTable    string
	DynamoRegion   string
	DynamoEndpoint string

	// DSN is used by the postgres and mysql backends.
	DSN   string
	Table string
}

// DefaultTable is the relational table name when Options.Table is empty.
const DefaultTable = "arvscout_kv"

// New opens the backend named by opts.Backend. An empty backend selects memory.
func New(ctx context.Context, opts Options, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	table := opts.Table
	if table == "" {
		table = DefaultTable
	}

	switch strings.ToLower(opts.Backend) {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendRedis:
		return NewRedis(ctx, opts.RedisAddr, opts.RedisPassword, opts.RedisDB, logger)
	case BackendDynamoDB:
		return OpenDynamo(ctx, opts.DynamoTable, opts.DynamoRegion, opts.DynamoEndpoint, logger)
	case BackendPostgres:
		return OpenPostgres(ctx, opts.DSN, table, logger)
	case BackendMySQL:
		return OpenMySQL(opts.DSN, table, logger)
	default:
		return nil, fmt.Errorf("kvstore: unknown backend %q", opts.Backend)
	}
}

// GetInt reads a counter written by Incr. A missing key reads as zero.
func GetInt(ctx context.Context, s Store, key string) (int64, error) {
	raw, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("kvstore: counter %q is not an integer: %w", key, err)
	}
	return n, nil
}
