package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/tushkiz/go-tiny-orchestrator/internal/kv"
)

// entryRow is one store entry as persisted in SQL. Column types are left to
// the dialect so the same model works on MySQL and SQLite.
type entryRow struct {
	Key       string `gorm:"primaryKey;size:255"`
	Value     []byte `gorm:"not null"`
	Version   int    `gorm:"not null;default:1"`
	Timestamp time.Time
	ExpiresAt *time.Time
	UpdatedAt time.Time
}

func (entryRow) TableName() string { return "kv_entries" }

// GormSnapshotter stores snapshots as one row per key.
type GormSnapshotter struct {
	DB *gorm.DB
}

// OpenGorm connects with the given dialect ("mysql" or "sqlite") and makes
// sure the kv_entries table exists.
func OpenGorm(dialect, dsn string) (*GormSnapshotter, error) {
	// Configure a quiet logger that ignores record-not-found and only logs errors.
	gormLogger := logger.New(
		log.New(os.Stdout, "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Error,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)

	var dial gorm.Dialector
	switch dialect {
	case "mysql":
		dial = mysql.Open(dsn)
	case "sqlite":
		dial = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("persist: unsupported dialect %q", dialect)
	}

	db, err := gorm.Open(dial, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&entryRow{}); err != nil {
		return nil, fmt.Errorf("persist: migrate kv_entries: %w", err)
	}
	return &GormSnapshotter{DB: db}, nil
}

// Save replaces the table contents with entries in a single transaction:
// rows are upserted, then keys absent from the snapshot are removed.
func (g *GormSnapshotter) Save(ctx context.Context, entries []kv.Entry) error {
	now := time.Now().UTC()
	rows := make([]entryRow, 0, len(entries))
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		raw, err := json.Marshal(e.Value)
		if err != nil {
			return fmt.Errorf("persist: encode %q: %w", e.Key, err)
		}
		rows = append(rows, entryRow{
			Key:       e.Key,
			Value:     raw,
			Version:   e.Version,
			Timestamp: e.Timestamp.UTC(),
			ExpiresAt: e.ExpiresAt,
			UpdatedAt: now,
		})
		keys = append(keys, e.Key)
	}

	return g.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(rows) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "key"}},
				UpdateAll: true,
			}).CreateInBatches(rows, 200).Error; err != nil {
				return err
			}
			return tx.Where("`key` NOT IN ?", keys).Delete(&entryRow{}).Error
		}
		return tx.Where("1 = 1").Delete(&entryRow{}).Error
	})
}

func (g *GormSnapshotter) Load(ctx context.Context) ([]kv.Entry, error) {
	var rows []entryRow
	if err := g.DB.WithContext(ctx).Order("`key` ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	out := make([]kv.Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, kv.Entry{
			Key:       r.Key,
			Value:     json.RawMessage(r.Value),
			Version:   r.Version,
			Timestamp: r.Timestamp,
			ExpiresAt: r.ExpiresAt,
		})
	}
	return out, nil
}

// Ping checks that the underlying connection is alive.
func (g *GormSnapshotter) Ping(ctx context.Context) error {
	sqlDB, err := g.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (g *GormSnapshotter) Close() error {
	sqlDB, err := g.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
