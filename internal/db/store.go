package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/g960059/wgpanel/internal/model"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// UpsertDraft replaces the stored draft of draft.GroupID, files included.
// An empty draft deletes the row instead.
func (s *Store) UpsertDraft(ctx context.Context, draft model.Draft) error {
	groupID := strings.TrimSpace(draft.GroupID)
	if groupID == "" {
		return fmt.Errorf("group_id is required")
	}
	if draft.Empty() {
		return s.DeleteDraft(ctx, groupID)
	}
	if draft.UpdatedAt.IsZero() {
		draft.UpdatedAt = time.Now().UTC()
	}
	to := draft.To
	if to == nil {
		to = []string{}
	}
	toJSON, err := json.Marshal(to)
	if err != nil {
		return fmt.Errorf("marshal draft recipients: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin draft tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
INSERT INTO drafts(group_id, text, to_json, reply_to, reply_by, quote_text, priority, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(group_id) DO UPDATE SET
	text=excluded.text,
	to_json=excluded.to_json,
	reply_to=excluded.reply_to,
	reply_by=excluded.reply_by,
	quote_text=excluded.quote_text,
	priority=excluded.priority,
	updated_at=excluded.updated_at
`, groupID, draft.Text, string(toJSON), nullIfEmpty(draft.ReplyTo), nullIfEmpty(draft.ReplyBy), nullIfEmpty(draft.QuoteText), string(draft.Priority.Normalize()), ts(draft.UpdatedAt)); err != nil {
		return fmt.Errorf("upsert draft: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM draft_files WHERE group_id = ?`, groupID); err != nil {
		return fmt.Errorf("clear draft files: %w", err)
	}
	for i, f := range draft.Files {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO draft_files(group_id, position, name, path, size_bytes, modified_at)
VALUES (?, ?, ?, ?, ?, ?)
`, groupID, i, f.Name, f.Path, f.Size, ts(f.ModifiedAt)); err != nil {
			if isUniqueErr(err) {
				continue
			}
			return fmt.Errorf("insert draft file %s: %w", f.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit draft: %w", err)
	}
	return nil
}

func (s *Store) GetDraft(ctx context.Context, groupID string) (model.Draft, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT group_id, text, to_json, reply_to, reply_by, quote_text, priority, updated_at
FROM drafts WHERE group_id = ?
`, groupID)
	draft, err := scanDraft(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Draft{}, ErrNotFound
		}
		return model.Draft{}, fmt.Errorf("get draft: %w", err)
	}
	files, err := s.listDraftFiles(ctx, groupID)
	if err != nil {
		return model.Draft{}, err
	}
	draft.Files = files
	return draft, nil
}

func (s *Store) DeleteDraft(ctx context.Context, groupID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE group_id = ?`, groupID); err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}

// ListDrafts returns every stored draft, most recently edited first.
func (s *Store) ListDrafts(ctx context.Context) ([]model.Draft, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT group_id, text, to_json, reply_to, reply_by, quote_text, priority, updated_at
FROM drafts ORDER BY updated_at DESC, group_id ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	var out []model.Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			rows.Close() //nolint:errcheck
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close() //nolint:errcheck
		return nil, fmt.Errorf("iterate drafts: %w", err)
	}
	rows.Close() //nolint:errcheck
	for i := range out {
		files, err := s.listDraftFiles(ctx, out[i].GroupID)
		if err != nil {
			return nil, err
		}
		out[i].Files = files
	}
	return out, nil
}

// DeleteAllDrafts removes every stored draft and reports how many there were.
func (s *Store) DeleteAllDrafts(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM drafts`)
	if err != nil {
		return 0, fmt.Errorf("delete drafts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted drafts: %w", err)
	}
	return n, nil
}

func (s *Store) listDraftFiles(ctx context.Context, groupID string) ([]model.DraftFile, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT name, path, size_bytes, modified_at
FROM draft_files WHERE group_id = ? ORDER BY position ASC
`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list draft files: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	var out []model.DraftFile
	for rows.Next() {
		var (
			f        model.DraftFile
			modified string
		)
		if err := rows.Scan(&f.Name, &f.Path, &f.Size, &modified); err != nil {
			return nil, fmt.Errorf("scan draft file: %w", err)
		}
		if f.ModifiedAt, err = parseTS(modified); err != nil {
			return nil, fmt.Errorf("parse draft file modified_at: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate draft files: %w", err)
	}
	return out, nil
}

func (s *Store) SetPref(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("pref key is required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO prefs(key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at
`, key, value, ts(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("set pref %s: %w", key, err)
	}
	return nil
}

func (s *Store) GetPref(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM prefs WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get pref %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	switch table {
	case "drafts", "draft_files", "prefs":
	default:
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func scanDraft(scanner interface{ Scan(dest ...any) error }) (model.Draft, error) {
	var (
		d         model.Draft
		toJSON    string
		replyTo   sql.NullString
		replyBy   sql.NullString
		quoteText sql.NullString
		priority  string
		updatedAt string
	)
	if err := scanner.Scan(&d.GroupID, &d.Text, &toJSON, &replyTo, &replyBy, &quoteText, &priority, &updatedAt); err != nil {
		return model.Draft{}, err
	}
	if err := json.Unmarshal([]byte(toJSON), &d.To); err != nil {
		return model.Draft{}, fmt.Errorf("unmarshal draft recipients: %w", err)
	}
	d.ReplyTo = replyTo.String
	d.ReplyBy = replyBy.String
	d.QuoteText = quoteText.String
	d.Priority = model.Priority(priority).Normalize()
	t, err := parseTS(updatedAt)
	if err != nil {
		return model.Draft{}, fmt.Errorf("parse draft updated_at: %w", err)
	}
	d.UpdatedAt = t
	return d, nil
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func isUniqueErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return containsAny(msg,
		"UNIQUE constraint failed",
		"constraint failed: UNIQUE",
	)
}

func containsAny(s string, patterns ...string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(s, p) {
			return true
		}
	}
	return false
}
