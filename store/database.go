package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// WindowEntry is the row backing one client key. Count 0 marks a
// placeholder row that has never held a window.
type WindowEntry struct {
	Key         string `gorm:"primaryKey"`
	WindowStart time.Time
	Count       uint32
	UpdatedAt   time.Time
}

func (WindowEntry) TableName() string {
	return "rate_limit_windows"
}

// DatabaseStore keeps window state in Postgres. Each Update runs in its own
// transaction holding a row lock on the key.
type DatabaseStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewDatabaseStore(dsn string, log *zap.Logger) (*DatabaseStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to database: %w", ErrStoreUnavailable, err)
	}
	return NewDatabaseStoreFromDB(db, log)
}

// NewDatabaseStoreFromDB migrates the window table on an existing handle.
func NewDatabaseStoreFromDB(db *gorm.DB, log *zap.Logger) (*DatabaseStore, error) {
	if log == nil {
		log = zap.NewNop()
	}

	// Auto-create table if needed
	if err := db.AutoMigrate(&WindowEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &DatabaseStore{db: db, logger: log}, nil
}

func (ds *DatabaseStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	err := ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Make sure a row exists so concurrent first requests serialize on its lock.
		placeholder := WindowEntry{Key: key}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&placeholder).Error; err != nil {
			return err
		}

		var entry WindowEntry
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("key = ?", key).
			Take(&entry).Error; err != nil {
			return err
		}

		next := fn(entry.toState())
		if next == nil {
			return nil
		}

		return tx.Model(&WindowEntry{}).
			Where("key = ?", key).
			Updates(map[string]any{
				"window_start": next.WindowStart,
				"count":        next.Count,
			}).Error
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		ds.logger.Warn("window update failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func (ds *DatabaseStore) Get(ctx context.Context, key string) (*WindowState, error) {
	var entries []WindowEntry
	if err := ds.db.WithContext(ctx).Where("key = ?", key).Limit(1).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[0].toState(), nil
}

// Close closes the database connection
func (ds *DatabaseStore) Close() error {
	sqlDB, err := ds.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (e WindowEntry) toState() *WindowState {
	if e.Count == 0 {
		return nil
	}
	return &WindowState{WindowStart: e.WindowStart, Count: e.Count}
}
