package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"jd_buyer/internal/model"
)

const sessionCookiesKey = "session"

// ErrNoCookies 表示还没有持久化过会话 cookie。
var ErrNoCookies = errors.New("no persisted cookies")

func (s *Store) SaveCookies(ctx context.Context, entries []model.CookieEntry) error {
	b, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cookies (key, entries_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			entries_json = excluded.entries_json,
			updated_at = excluded.updated_at
	`, sessionCookiesKey, string(b), time.Now().UnixMilli())
	return err
}

func (s *Store) LoadCookies(ctx context.Context) ([]model.CookieEntry, error) {
	var entriesJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT entries_json FROM cookies WHERE key = ?
	`, sessionCookiesKey).Scan(&entriesJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoCookies
		}
		return nil, err
	}
	var entries []model.CookieEntry
	if err := json.Unmarshal([]byte(entriesJSON), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) DeleteCookies(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cookies WHERE key = ?`, sessionCookiesKey)
	return err
}
