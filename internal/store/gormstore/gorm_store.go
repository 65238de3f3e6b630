// Package gormstore implements the shared KV store and the decision audit
// log on Gorm + SQLite.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tiller/internal/store"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type kvEntryModel struct {
	Key       string `gorm:"primaryKey;size:256"`
	Value     string
	Counter   int64
	ExpiresAt *time.Time `gorm:"index"`
}

func (kvEntryModel) TableName() string { return "kv_entries" }

// GormStore implements store.KV and store.DecisionLog on a single SQLite file.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&kvEntryModel{}, &decisionModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a little parallelism for concurrent HTTP reads while
	// keeping lock contention low.
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetMaxIdleConns(4)
	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) Get(ctx context.Context, key string) (string, bool, error) {
	var e kvEntryModel
	err := s.db.WithContext(ctx).First(&e, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapUnavailable(err)
	}
	if expired(e.ExpiresAt) {
		s.db.WithContext(ctx).Delete(&kvEntryModel{}, "key = ?", key)
		return "", false, nil
	}
	return e.Value, true, nil
}

func (s *GormStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	e := kvEntryModel{Key: key, Value: value, ExpiresAt: deadline(ttl)}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		UpdateAll: true,
	}).Create(&e).Error
	return wrapUnavailable(err)
}

func (s *GormStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	acquired := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// An expired row does not count as present.
		tx.Where("key = ? AND expires_at IS NOT NULL AND expires_at <= ?", key, time.Now()).
			Delete(&kvEntryModel{})
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoNothing: true,
		}).Create(&kvEntryModel{Key: key, Value: value, ExpiresAt: deadline(ttl)})
		if res.Error != nil {
			return res.Error
		}
		acquired = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, wrapUnavailable(err)
	}
	return acquired, nil
}

func (s *GormStore) Delete(ctx context.Context, key string) error {
	return wrapUnavailable(s.db.WithContext(ctx).Delete(&kvEntryModel{}, "key = ?", key).Error)
}

func (s *GormStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var counter int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var e kvEntryModel
		err := tx.First(&e, "key = ?", key).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound), err == nil && expired(e.ExpiresAt):
			e = kvEntryModel{Key: key, Counter: 1, ExpiresAt: deadline(ttl)}
			counter = 1
			return tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "key"}},
				UpdateAll: true,
			}).Create(&e).Error
		case err != nil:
			return err
		}
		counter = e.Counter + 1
		return tx.Model(&kvEntryModel{}).Where("key = ?", key).
			Update("counter", counter).Error
	})
	if err != nil {
		return 0, wrapUnavailable(err)
	}
	return counter, nil
}

func (s *GormStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	var e kvEntryModel
	err := s.db.WithContext(ctx).First(&e, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, wrapUnavailable(err)
	}
	if e.ExpiresAt == nil || expired(e.ExpiresAt) {
		return 0, nil
	}
	return time.Until(*e.ExpiresAt), nil
}

func expired(at *time.Time) bool {
	return at != nil && time.Now().After(*at)
}

func deadline(ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := time.Now().Add(ttl)
	return &t
}

func wrapUnavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
