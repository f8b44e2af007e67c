package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"babelbot/internal/fanout"
	logx "babelbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- member directory ----

func (s *sqliteStore) ListMembers(ctx context.Context, chatID int64) ([]fanout.Member, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, lang FROM members WHERE chat_id = ? ORDER BY user_id`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fanout.Member
	for rows.Next() {
		var m fanout.Member
		if err := rows.Scan(&m.UserID, &m.Language); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetPreference(ctx context.Context, chatID, userID int64) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, ErrDisabled
	}
	var lang string
	err := s.db.QueryRowContext(ctx,
		`SELECT lang FROM members WHERE chat_id = ? AND user_id = ?`, chatID, userID).Scan(&lang)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return lang, lang != "", nil
}

func (s *sqliteStore) SetPreference(ctx context.Context, chatID, userID int64, lang string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	now := time.Now().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO members(chat_id, user_id, lang, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(chat_id, user_id) DO UPDATE SET lang=excluded.lang, updated_at=excluded.updated_at`,
		chatID, userID, lang, now,
	)
	return err
}

func (s *sqliteStore) RemoveMember(ctx context.Context, chatID, userID int64) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM members WHERE chat_id = ? AND user_id = ?`, chatID, userID)
	return err
}

func (s *sqliteStore) AddChat(ctx context.Context, chatID int64, title string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	now := time.Now().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats(chat_id, title, added_at) VALUES(?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET title=excluded.title`,
		chatID, nullStr(title), now,
	)
	return err
}

func (s *sqliteStore) RemoveChat(ctx context.Context, chatID int64) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM members WHERE chat_id = ?`, chatID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE chat_id = ?`, chatID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) ListActiveChatIDs(ctx context.Context) ([]int64, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id FROM chats ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ---- message log ----

func (s *sqliteStore) AppendMessage(ctx context.Context, e MessageEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(chat_id, user_id, role, text, lang, at) VALUES(?,?,?,?,?,?)`,
		e.ChatID, e.UserID, e.Role, e.Text, nullStr(e.Lang), e.At.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) History(ctx context.Context, chatID, userID int64, limit int) ([]MessageEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	q := `SELECT role, text, COALESCE(lang,''), at FROM messages
	      WHERE chat_id = ? AND user_id = ? ORDER BY id`
	args := []any{chatID, userID}
	if limit > 0 {
		// Keep the most recent entries while preserving oldest-first order.
		q = `SELECT role, text, lang, at FROM (
		       SELECT id, role, text, COALESCE(lang,'') AS lang, at FROM messages
		       WHERE chat_id = ? AND user_id = ? ORDER BY id DESC LIMIT ?
		     ) ORDER BY id`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MessageEntry
	for rows.Next() {
		var e MessageEntry
		var at string
		if err := rows.Scan(&e.Role, &e.Text, &e.Lang, &at); err != nil {
			return nil, err
		}
		e.ChatID, e.UserID = chatID, userID
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ---- tenancy counter ----

func (s *sqliteStore) IncrementBelow(ctx context.Context, max int) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	err = tx.QueryRowContext(ctx, `SELECT count FROM tenancy WHERE id = 1`).Scan(&count)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if max < 1 {
			return false, nil
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO tenancy(id, count) VALUES(1, 1)`); err != nil {
			return false, err
		}
		return true, tx.Commit()
	case err != nil:
		return false, err
	}
	if count >= max {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tenancy SET count = count + 1 WHERE id = 1`); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
