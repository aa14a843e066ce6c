package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// kvRow is the gorm model for the relational layout shared with Postgres.
type kvRow struct {
	K string `gorm:"column:k;primaryKey;size:255"`
	V []byte `gorm:"column:v"`
	N *int64 `gorm:"column:n"`
}

// MySQL is a Store on a MySQL table, accessed through gorm.
type MySQL struct {
	db     *gorm.DB
	table  string
	logger *zap.Logger
}

// OpenMySQL opens dsn, configures the pool and migrates the table.
func OpenMySQL(dsn, table string, logger *zap.Logger) (*MySQL, error) {
	if dsn == "" {
		return nil, errors.New("kvstore: mysql dsn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)

	s := NewMySQL(db, table, logger)
	if err := s.db.Table(s.table).AutoMigrate(&kvRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate kv table: %w", err)
	}
	logger.Info("kv store connected", zap.String("backend", BackendMySQL), zap.String("table", s.table))
	return s, nil
}

// NewMySQL wraps an existing gorm handle without migrating.
func NewMySQL(db *gorm.DB, table string, logger *zap.Logger) *MySQL {
	if logger == nil {
		logger = zap.NewNop()
	}
	if table == "" {
		table = DefaultTable
	}
	return &MySQL{db: db, table: table, logger: logger}
}

func (s *MySQL) q(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.table)
}

func (s *MySQL) Get(ctx context.Context, key string) ([]byte, error) {
	var row kvRow
	err := s.q(ctx).Where("k = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mysql get %q: %w", key, err)
	}
	if row.N != nil {
		return []byte(strconv.FormatInt(*row.N, 10)), nil
	}
	return row.V, nil
}

func (s *MySQL) Set(ctx context.Context, key string, value []byte) error {
	err := s.q(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "k"}},
		DoUpdates: clause.Assignments(map[string]any{"v": value, "n": nil}),
	}).Create(&kvRow{K: key, V: value}).Error
	if err != nil {
		return fmt.Errorf("mysql set %q: %w", key, err)
	}
	return nil
}

func (s *MySQL) Delete(ctx context.Context, key string) error {
	if err := s.q(ctx).Where("k = ?", key).Delete(&kvRow{}).Error; err != nil {
		return fmt.Errorf("mysql delete %q: %w", key, err)
	}
	return nil
}

func (s *MySQL) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.q(ctx).Where("k LIKE ?", escapeLike(prefix)+"%").Order("k").Pluck("k", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("mysql keys %q: %w", prefix, err)
	}
	return keys, nil
}

// Incr upserts and reads back inside one transaction so the returned value
// is the one this caller produced.
func (s *MySQL) Incr(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		one := int64(1)
		err := tx.Table(s.table).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "k"}},
			DoUpdates: clause.Assignments(map[string]any{"n": gorm.Expr("COALESCE(n, 0) + 1")}),
		}).Create(&kvRow{K: key, N: &one}).Error
		if err != nil {
			return err
		}
		var row kvRow
		if err := tx.Table(s.table).Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("k = ?", key).Take(&row).Error; err != nil {
			return err
		}
		if row.N == nil {
			return fmt.Errorf("counter %q has no value", key)
		}
		n = *row.N
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("mysql incr %q: %w", key, err)
	}
	return n, nil
}

func (s *MySQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
