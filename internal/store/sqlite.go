// internal/store/sqlite.go
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/user/termloom/internal/types"
)

// SQLiteStore implements types.Store on a SQLite database via gorm.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and
// migrates the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite parent dir: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	return NewSQLiteStoreFromDB(db)
}

// NewSQLiteStoreFromDB wraps an already-open gorm handle. Used by tests.
func NewSQLiteStoreFromDB(db *gorm.DB) (*SQLiteStore, error) {
	if err := db.AutoMigrate(&SessionRow{}, &HistoryRow{}, &TimelineRow{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying connection.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("unwrap sqlite db: %w", err)
	}
	return sqlDB.Close()
}

func (s *SQLiteStore) SaveSession(ctx context.Context, sess *types.Session) error {
	row := SessionRow{
		ID:               string(sess.ID),
		WorkingDirectory: sess.WorkingDirectory,
		Mode:             string(sess.Mode),
		CreatedAt:        sess.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id types.SessionID) error {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("start delete tx: %w", tx.Error)
	}
	defer tx.Rollback()

	for _, model := range []any{&TimelineRow{}, &HistoryRow{}} {
		if err := tx.Where("session_id = ?", string(id)).Delete(model).Error; err != nil {
			return fmt.Errorf("delete session children: %w", err)
		}
	}
	if err := tx.Where("id = ?", string(id)).Delete(&SessionRow{}).Error; err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("commit delete tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*types.Session, error) {
	var rows []SessionRow
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]*types.Session, 0, len(rows))
	for _, row := range rows {
		out = append(out, &types.Session{
			ID:               types.SessionID(row.ID),
			WorkingDirectory: row.WorkingDirectory,
			Mode:             types.InputMode(row.Mode),
			CreatedAt:        row.CreatedAt,
		})
	}
	return out, nil
}

func (s *SQLiteStore) AppendHistory(ctx context.Context, id types.SessionID, entry types.CommandHistoryEntry) error {
	row := HistoryRow{
		SessionID: string(id),
		Command:   entry.Command,
		Mode:      string(entry.Mode),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListHistory(ctx context.Context, id types.SessionID) ([]types.CommandHistoryEntry, error) {
	var rows []HistoryRow
	err := s.db.WithContext(ctx).
		Where("session_id = ?", string(id)).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	out := make([]types.CommandHistoryEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, types.CommandHistoryEntry{
			Command: row.Command,
			Mode:    types.InputMode(row.Mode),
		})
	}
	return out, nil
}

func (s *SQLiteStore) AppendTimelineEntry(ctx context.Context, id types.SessionID, entry types.TimelineEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal timeline entry: %w", err)
	}
	row := TimelineRow{
		SessionID: string(id),
		EntryType: string(entry.Type),
		Payload:   string(payload),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("append timeline entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListTimeline(ctx context.Context, id types.SessionID) ([]types.TimelineEntry, error) {
	var rows []TimelineRow
	err := s.db.WithContext(ctx).
		Where("session_id = ?", string(id)).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list timeline: %w", err)
	}
	out := make([]types.TimelineEntry, 0, len(rows))
	for _, row := range rows {
		var entry types.TimelineEntry
		if err := json.Unmarshal([]byte(row.Payload), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal timeline entry %d: %w", row.ID, err)
		}
		out = append(out, entry)
	}
	return out, nil
}
