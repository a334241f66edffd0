package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// capturedMessage is the SQLite row shape for one capture record. Compound
// values are stored as JSON text so the table stays queryable with plain
// SQL.
type capturedMessage struct {
	ID          uint   `gorm:"primaryKey"`
	Kind        string `gorm:"size:16;index"`
	RequestID   string `gorm:"size:64;index"`
	UserID      string
	UserToken   string
	TimestampMs int64
	Method      string
	Path        string
	QueryParams string
	Headers     string
	StatusCode  int
	Reason      string
	Body        string
	Truncated   bool
	CreatedAt   time.Time
}

func (capturedMessage) TableName() string { return "captured_messages" }

// SQLiteTarget persists capture records to a local SQLite database. Handy
// for single-node deployments and for inspecting captured traffic with
// nothing but the sqlite3 shell.
type SQLiteTarget struct {
	db *gorm.DB
}

// NewSQLiteTarget opens (or creates) the database at path and migrates the
// capture table.
func NewSQLiteTarget(path string) (*SQLiteTarget, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open capture db: %w", err)
	}
	if err := db.AutoMigrate(&capturedMessage{}); err != nil {
		return nil, fmt.Errorf("migrate capture db: %w", err)
	}
	return &SQLiteTarget{db: db}, nil
}

// Record implements [CaptureTarget].
func (t *SQLiteTarget) Record(rec *CaptureRecord) error {
	query, err := json.Marshal(rec.QueryParams)
	if err != nil {
		return fmt.Errorf("marshal query params: %w", err)
	}
	headers, err := json.Marshal(rec.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	row := capturedMessage{
		Kind:        string(rec.Kind),
		RequestID:   rec.RequestID,
		UserID:      rec.UserID,
		UserToken:   rec.UserToken,
		TimestampMs: rec.TimestampMs,
		Method:      rec.Method,
		Path:        rec.Path,
		QueryParams: string(query),
		Headers:     string(headers),
		StatusCode:  rec.StatusCode,
		Reason:      rec.Reason,
		Body:        rec.Body,
		Truncated:   rec.Truncated,
	}
	if err := t.db.Create(&row).Error; err != nil {
		return fmt.Errorf("insert capture record: %w", err)
	}
	return nil
}

// Event implements [CaptureTarget]. Raw events are not persisted.
func (t *SQLiteTarget) Event(ev ConnectionEvent) error { return nil }

// Commit implements [CaptureTarget]. Inserts autocommit.
func (t *SQLiteTarget) Commit(ctx context.Context, final bool) error { return nil }

// Close releases the database handle.
func (t *SQLiteTarget) Close() error {
	sqlDB, err := t.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
