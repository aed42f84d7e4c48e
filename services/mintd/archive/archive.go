package archive

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Event is one archived domain event row. The archive is a long-retention
// mirror of the local event journal for compliance reporting; the sqlite
// journal stays authoritative for the service itself.
type Event struct {
	ID         uint64    `gorm:"primaryKey"`
	Type       string    `gorm:"size:64;index:idx_archive_type_ts,priority:1"`
	Attributes string    `gorm:"type:text"`
	RecordedAt time.Time `gorm:"index:idx_archive_type_ts,priority:2"`
}

// TableName pins the table so migrations stay stable across gorm versions.
func (Event) TableName() string { return "mint_events" }

// Archive appends domain events to a Postgres long-retention store.
type Archive struct {
	db *gorm.DB
}

// Open connects to Postgres and migrates the archive schema. An empty DSN is
// an error; callers decide whether the archive is optional.
func Open(dsn string) (*Archive, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("archive: postgres dsn must be configured")
	}
	db, err := gorm.Open(postgres.Open(trimmed), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("archive: connect: %w", err)
	}
	if err := db.AutoMigrate(&Event{}); err != nil {
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	return &Archive{db: db}, nil
}

// Close releases the underlying connection pool.
func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append stores one event row.
func (a *Archive) Append(ctx context.Context, eventType string, attributes map[string]string) error {
	if a == nil || a.db == nil {
		return fmt.Errorf("archive: not configured")
	}
	row := Event{
		Type:       strings.TrimSpace(eventType),
		Attributes: flattenAttributes(attributes),
		RecordedAt: time.Now().UTC(),
	}
	if err := a.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("archive: append: %w", err)
	}
	return nil
}

// Recent returns the newest archived events, most recent first.
func (a *Archive) Recent(ctx context.Context, limit int) ([]Event, error) {
	if a == nil || a.db == nil {
		return nil, fmt.Errorf("archive: not configured")
	}
	if limit <= 0 {
		limit = 100
	}
	var rows []Event
	err := a.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("archive: query: %w", err)
	}
	return rows, nil
}

func flattenAttributes(attributes map[string]string) string {
	if len(attributes) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(attributes))
	for key, value := range attributes {
		pairs = append(pairs, key+"="+value)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, " ")
}
