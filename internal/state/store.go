// Package state persists watcher bookkeeping between bot invocations: the
// per-watcher last-checked timestamp, the seen-ID dedup sets of timeline
// watchers, the membership snapshots of link-set watchers, and a history of
// dispatch cycles.
//
// One process at a time may write a given database; the store does no
// cross-process locking.
package state

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

	"github.com/pkoval/perch/internal/client"
)

type Store struct {
	db *sql.DB
}

// CycleRecord is one dispatch cycle's history row.
type CycleRecord struct {
	ID          string
	StartedAt   time.Time
	WatchersDue int
	Deltas      int
}

// WatcherStatus summarizes one watcher's persisted state.
type WatcherStatus struct {
	Key         string
	LastChecked time.Time // zero when never checked
	SeenItems   int
	Members     int
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LastChecked returns the watcher's last successful check time. ok is false
// when the watcher has never completed a check.
func (s *Store) LastChecked(ctx context.Context, key string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var value sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT last_checked FROM watchers WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read last_checked: %w", err)
	}
	if !value.Valid || value.String == "" {
		return time.Time{}, false, nil
	}

	ts, err := parseTime(value.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last_checked: %w", err)
	}
	return ts, true, nil
}

// SetLastChecked advances the watcher's last successful check time.
func (s *Store) SetLastChecked(ctx context.Context, key string, t time.Time) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(key) == "" {
		return errors.New("key is required")
	}
	if t.IsZero() {
		return errors.New("timestamp is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watchers (key, last_checked) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET last_checked = excluded.last_checked
	`, key, formatTime(t))
	if err != nil {
		return fmt.Errorf("set last_checked: %w", err)
	}
	return nil
}

// SeenIDs returns the set of item IDs the watcher has already observed.
func (s *Store) SeenIDs(ctx context.Context, key string) (map[string]struct{}, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx, "SELECT item_id FROM seen_items WHERE watcher_key = ?", key)
	if err != nil {
		return nil, fmt.Errorf("read seen ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	seen := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan seen id: %w", err)
		}
		seen[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate seen ids: %w", err)
	}
	return seen, nil
}

// MarkSeen records items in the watcher's dedup set. Already-present IDs are
// left untouched: the set is append-only and an item's first stored payload
// is never overwritten.
func (s *Store) MarkSeen(ctx context.Context, key string, items []client.Item, at time.Time) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	seenAt := formatTime(at)
	for _, item := range items {
		payload, err := encodePayload(item)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO seen_items (watcher_key, item_id, payload, first_seen)
			VALUES (?, ?, ?, ?)
		`, key, item.ID, payload, seenAt)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("mark seen %s: %w", item.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mark seen: %w", err)
	}
	return nil
}

// Members returns the watcher's persisted membership snapshot with the
// last-known payload of each member.
func (s *Store) Members(ctx context.Context, key string) (map[string]client.Item, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx, "SELECT member_id, payload FROM members WHERE watcher_key = ?", key)
	if err != nil {
		return nil, fmt.Errorf("read members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	members := make(map[string]client.Item)
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		item, err := decodePayload(id, payload)
		if err != nil {
			return nil, err
		}
		members[id] = item
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

// ApplyMembership mutates the watcher's membership snapshot in one
// transaction: added members are inserted, removed IDs are deleted. After it
// returns, the persisted snapshot mirrors the most recently observed remote
// membership.
func (s *Store) ApplyMembership(ctx context.Context, key string, added []client.Item, removed []string, at time.Time) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	addedAt := formatTime(at)
	for _, member := range added {
		payload, err := encodePayload(member)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO members (watcher_key, member_id, payload, added_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(watcher_key, member_id) DO UPDATE SET payload = excluded.payload
		`, key, member.ID, payload, addedAt)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert member %s: %w", member.ID, err)
		}
	}

	for _, id := range removed {
		if _, err := tx.ExecContext(ctx, "DELETE FROM members WHERE watcher_key = ? AND member_id = ?", key, id); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("remove member %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit membership: %w", err)
	}
	return nil
}

// RecordCycle appends one dispatch cycle to the history.
func (s *Store) RecordCycle(ctx context.Context, rec CycleRecord) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if rec.ID == "" {
		return errors.New("cycle id is required")
	}
	if rec.StartedAt.IsZero() {
		return errors.New("started_at is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cycles (id, started_at, watchers_due, deltas) VALUES (?, ?, ?, ?)
	`, rec.ID, formatTime(rec.StartedAt), rec.WatchersDue, rec.Deltas)
	if err != nil {
		return fmt.Errorf("record cycle: %w", err)
	}
	return nil
}

// RecentCycles returns the newest cycle records, most recent first.
func (s *Store) RecentCycles(ctx context.Context, limit int) ([]CycleRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, watchers_due, deltas
		FROM cycles
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("read cycles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []CycleRecord
	for rows.Next() {
		var rec CycleRecord
		var startedAt string
		if err := rows.Scan(&rec.ID, &startedAt, &rec.WatchersDue, &rec.Deltas); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		rec.StartedAt, err = parseTime(startedAt)
		if err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cycles: %w", err)
	}
	return recs, nil
}

// WatcherStatuses summarizes every watcher key seen in the database, sorted
// by key.
func (s *Store) WatcherStatuses(ctx context.Context) ([]WatcherStatus, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT w.key, w.last_checked,
			(SELECT COUNT(*) FROM seen_items si WHERE si.watcher_key = w.key) AS seen,
			(SELECT COUNT(*) FROM members m WHERE m.watcher_key = w.key) AS members
		FROM watchers w
		ORDER BY w.key
	`)
	if err != nil {
		return nil, fmt.Errorf("read watcher statuses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var statuses []WatcherStatus
	for rows.Next() {
		var st WatcherStatus
		var lastChecked sql.NullString
		if err := rows.Scan(&st.Key, &lastChecked, &st.SeenItems, &st.Members); err != nil {
			return nil, fmt.Errorf("scan watcher status: %w", err)
		}
		if lastChecked.Valid && lastChecked.String != "" {
			st.LastChecked, err = parseTime(lastChecked.String)
			if err != nil {
				return nil, fmt.Errorf("parse last_checked: %w", err)
			}
		}
		statuses = append(statuses, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watcher statuses: %w", err)
	}
	return statuses, nil
}

func encodePayload(item client.Item) (string, error) {
	attrs := item.Attrs
	if attrs == nil {
		attrs = map[string]any{}
	}
	payload, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("encode payload %s: %w", item.ID, err)
	}
	return string(payload), nil
}

func decodePayload(id, payload string) (client.Item, error) {
	var attrs map[string]any
	if err := json.Unmarshal([]byte(payload), &attrs); err != nil {
		return client.Item{}, fmt.Errorf("decode payload %s: %w", id, err)
	}
	return client.Item{ID: id, Attrs: attrs}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, value)
}
