// Package sqlite provides the durable core.Store implementation backed by a
// pure-Go SQLite driver (no CGO).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/arkestra-ai/arkestra/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT NOT NULL,
	role        TEXT NOT NULL,
	text        TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);

CREATE TABLE IF NOT EXISTS facts (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT NOT NULL,
	key         TEXT,
	text        TEXT NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS notes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT NOT NULL,
	text        TEXT NOT NULL,
	tags        TEXT,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS aliases (
	session_id  TEXT NOT NULL,
	alias       TEXT NOT NULL,
	is_primary  INTEGER NOT NULL DEFAULT 0,
	short_desc  TEXT,
	PRIMARY KEY (session_id, alias)
);

CREATE TABLE IF NOT EXISTS feedback (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	msg_id      INTEGER NOT NULL,
	kind        TEXT NOT NULL,
	text        TEXT,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS bandit_stats (
	intent      TEXT NOT NULL,
	kind        TEXT NOT NULL,
	trials      INTEGER NOT NULL,
	mean_reward REAL NOT NULL,
	updated_at  TEXT NOT NULL,
	PRIMARY KEY (intent, kind)
);

CREATE TABLE IF NOT EXISTS mood_profiles (
	session_id  TEXT NOT NULL,
	mediator    TEXT NOT NULL,
	min         REAL NOT NULL,
	base        REAL NOT NULL,
	max         REAL NOT NULL,
	current     REAL NOT NULL,
	PRIMARY KEY (session_id, mediator)
);

CREATE TABLE IF NOT EXISTS env_sessions (
	session_id  TEXT PRIMARY KEY,
	channel     TEXT NOT NULL,
	chat_id     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS env_facts (
	session_id  TEXT NOT NULL,
	key         TEXT NOT NULL,
	value       TEXT NOT NULL,
	importance  REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (session_id, key)
);

CREATE TABLE IF NOT EXISTS day_summaries (
	date        TEXT NOT NULL,
	batch_id    TEXT NOT NULL,
	text        TEXT NOT NULL,
	salience    REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (date, batch_id)
);

CREATE TABLE IF NOT EXISTS long_days (
	date        TEXT PRIMARY KEY,
	text        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sleep_batches (
	id              TEXT PRIMARY KEY,
	started_at      TEXT NOT NULL,
	finished_at     TEXT NOT NULL,
	from_seen_at    TEXT NOT NULL,
	to_seen_at      TEXT NOT NULL,
	processed_count INTEGER NOT NULL,
	status          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS reminders (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT NOT NULL,
	title       TEXT NOT NULL,
	due_at      TEXT NOT NULL,
	channel     TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
`

// Store is the SQLite-backed ConsolidationStore. SQLite does not handle
// concurrent writers well, so the pool is pinned to a single connection and
// all access is serialized through it.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and runs the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// GetRecentMessages implements core.Store.
func (s *Store) GetRecentMessages(ctx context.Context, sessionID string, n int) ([]core.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, text, created_at FROM messages
		 WHERE session_id = ? ORDER BY id DESC LIMIT ?`, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []core.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// AppendMessage implements core.Store.
func (s *Store) AppendMessage(ctx context.Context, msg core.Message) (int64, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, text, created_at) VALUES (?, ?, ?, ?)`,
		msg.SessionID, msg.Role, msg.Text, msg.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("message id: %w", err)
	}
	return id, nil
}

// GetEnvBrief implements core.Store. Sessions without a stored environment
// default to the cli channel; facts come back sorted by importance, capped at
// the five most important.
func (s *Store) GetEnvBrief(ctx context.Context, sessionID string) (core.EnvBrief, error) {
	brief := core.EnvBrief{Channel: "cli", ChatID: sessionID}
	err := s.db.QueryRowContext(ctx,
		`SELECT channel, chat_id FROM env_sessions WHERE session_id = ?`, sessionID).
		Scan(&brief.Channel, &brief.ChatID)
	if err != nil && err != sql.ErrNoRows {
		return core.EnvBrief{}, fmt.Errorf("query env session: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, importance FROM env_facts
		 WHERE session_id = ? ORDER BY importance DESC LIMIT 5`, sessionID)
	if err != nil {
		return core.EnvBrief{}, fmt.Errorf("query env facts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var f core.EnvFact
		if err := rows.Scan(&f.Key, &f.Value, &f.Importance); err != nil {
			return core.EnvBrief{}, fmt.Errorf("scan env fact: %w", err)
		}
		brief.Facts = append(brief.Facts, f)
	}
	if err := rows.Err(); err != nil {
		return core.EnvBrief{}, fmt.Errorf("iterate env facts: %w", err)
	}
	return brief, nil
}

// PutEnvBrief stores the session's environment and replaces its facts.
func (s *Store) PutEnvBrief(ctx context.Context, sessionID string, brief core.EnvBrief) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO env_sessions (session_id, channel, chat_id) VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET channel = excluded.channel, chat_id = excluded.chat_id`,
		sessionID, brief.Channel, brief.ChatID); err != nil {
		return fmt.Errorf("upsert env session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM env_facts WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear env facts: %w", err)
	}
	for _, f := range brief.Facts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO env_facts (session_id, key, value, importance) VALUES (?, ?, ?, ?)`,
			sessionID, f.Key, f.Value, f.Importance); err != nil {
			return fmt.Errorf("insert env fact: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SaveFeedback implements core.Store.
func (s *Store) SaveFeedback(ctx context.Context, fb core.Feedback) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback (msg_id, kind, text, created_at) VALUES (?, ?, ?, ?)`,
		fb.MessageID, fb.Kind, fb.Text, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

// LoadBanditState implements core.Store.
func (s *Store) LoadBanditState(ctx context.Context) ([]core.ArmState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT intent, kind, trials, mean_reward, updated_at FROM bandit_stats ORDER BY intent, kind`)
	if err != nil {
		return nil, fmt.Errorf("query bandit stats: %w", err)
	}
	defer rows.Close()

	var out []core.ArmState
	for rows.Next() {
		var a core.ArmState
		var updated string
		if err := rows.Scan(&a.Intent, &a.Kind, &a.Trials, &a.MeanReward, &updated); err != nil {
			return nil, fmt.Errorf("scan bandit arm: %w", err)
		}
		a.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bandit stats: %w", err)
	}
	return out, nil
}

// SaveBanditState implements core.Store.
func (s *Store) SaveBanditState(ctx context.Context, arms []core.ArmState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM bandit_stats`); err != nil {
		return fmt.Errorf("clear bandit stats: %w", err)
	}
	for _, a := range arms {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bandit_stats (intent, kind, trials, mean_reward, updated_at) VALUES (?, ?, ?, ?, ?)`,
			a.Intent, a.Kind, a.Trials, a.MeanReward, a.UpdatedAt.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("insert bandit arm: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LoadMoodProfile implements core.Store.
func (s *Store) LoadMoodProfile(ctx context.Context, sessionID string) (map[string]core.MediatorState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT mediator, min, base, max, current FROM mood_profiles WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query mood profile: %w", err)
	}
	defer rows.Close()

	out := make(map[string]core.MediatorState)
	for rows.Next() {
		var name string
		var m core.MediatorState
		if err := rows.Scan(&name, &m.Min, &m.Base, &m.Max, &m.Current); err != nil {
			return nil, fmt.Errorf("scan mediator: %w", err)
		}
		out[name] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mood profile: %w", err)
	}
	return out, nil
}

// SaveMoodProfile implements core.Store.
func (s *Store) SaveMoodProfile(ctx context.Context, sessionID string, profile map[string]core.MediatorState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	names := make([]string, 0, len(profile))
	for name := range profile {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m := profile[name]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO mood_profiles (session_id, mediator, min, base, max, current) VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(session_id, mediator) DO UPDATE SET
			   min = excluded.min, base = excluded.base, max = excluded.max, current = excluded.current`,
			sessionID, name, m.Min, m.Base, m.Max, m.Current); err != nil {
			return fmt.Errorf("upsert mediator %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SaveMemoryWrite implements core.Store. Facts and notes land in separate
// tables; unknown kinds are stored as notes.
func (s *Store) SaveMemoryWrite(ctx context.Context, sessionID string, w core.MemoryWrite) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	var err error
	if w.Kind == "fact" {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO facts (session_id, key, text, created_at) VALUES (?, ?, ?, ?)`,
			sessionID, w.Key, w.Text, now)
	} else {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO notes (session_id, text, tags, created_at) VALUES (?, ?, ?, ?)`,
			sessionID, w.Text, w.Key, now)
	}
	if err != nil {
		return fmt.Errorf("insert memory write: %w", err)
	}
	return nil
}

// AddNote implements tool.NoteStore.
func (s *Store) AddNote(ctx context.Context, sessionID, text string, tags []string) (int64, error) {
	joined := ""
	for i, t := range tags {
		if i > 0 {
			joined += ","
		}
		joined += t
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notes (session_id, text, tags, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, text, joined, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("insert note: %w", err)
	}
	return res.LastInsertId()
}

// CreateReminder implements tool.ReminderStore.
func (s *Store) CreateReminder(ctx context.Context, sessionID, title string, when time.Time, channel string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders (session_id, title, due_at, channel, created_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, title, when.UTC().Format(time.RFC3339Nano), channel,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("insert reminder: %w", err)
	}
	return res.LastInsertId()
}

// SetAlias implements tool.AliasStore. Marking an alias primary demotes any
// previous primary for the session.
func (s *Store) SetAlias(ctx context.Context, sessionID, name string, primary bool, shortDesc string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if primary {
		if _, err := tx.ExecContext(ctx,
			`UPDATE aliases SET is_primary = 0 WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("demote aliases: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO aliases (session_id, alias, is_primary, short_desc) VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id, alias) DO UPDATE SET
		   is_primary = excluded.is_primary, short_desc = excluded.short_desc`,
		sessionID, name, boolInt(primary), shortDesc); err != nil {
		return fmt.Errorf("upsert alias: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// MessagesByDate implements tool.MessageSearcher.
func (s *Store) MessagesByDate(ctx context.Context, sessionID, date string) ([]core.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, text, created_at FROM messages
		 WHERE session_id = ? AND substr(created_at, 1, 10) = ? ORDER BY id`, sessionID, date)
	if err != nil {
		return nil, fmt.Errorf("query messages by date: %w", err)
	}
	defer rows.Close()

	var out []core.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// MessagesSince implements core.ConsolidationStore.
func (s *Store) MessagesSince(ctx context.Context, watermark time.Time) ([]core.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, text, created_at FROM messages
		 WHERE created_at > ? ORDER BY created_at, id`,
		watermark.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("query messages since: %w", err)
	}
	defer rows.Close()

	var out []core.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// LastSleepWatermark implements core.ConsolidationStore.
func (s *Store) LastSleepWatermark(ctx context.Context) (time.Time, error) {
	var toSeen string
	err := s.db.QueryRowContext(ctx,
		`SELECT to_seen_at FROM sleep_batches WHERE status = 'ok' ORDER BY finished_at DESC LIMIT 1`).
		Scan(&toSeen)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("query watermark: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, toSeen)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse watermark: %w", err)
	}
	return t, nil
}

// SaveDaySummary implements core.ConsolidationStore.
func (s *Store) SaveDaySummary(ctx context.Context, sum core.DaySummary) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO day_summaries (date, batch_id, text, salience) VALUES (?, ?, ?, ?)
		 ON CONFLICT(date, batch_id) DO UPDATE SET text = excluded.text, salience = excluded.salience`,
		sum.Date, sum.BatchID, sum.Text, sum.Salience)
	if err != nil {
		return fmt.Errorf("insert day summary: %w", err)
	}
	return nil
}

// PromoteAgedSummaries implements core.ConsolidationStore. Summaries dated on
// or before cutoff are merged per day into long_days and removed from the
// temp tier.
func (s *Store) PromoteAgedSummaries(ctx context.Context, cutoff string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT date, group_concat(text, ' ') FROM day_summaries
		 WHERE date <= ? GROUP BY date ORDER BY date`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("query aged summaries: %w", err)
	}
	type aged struct{ date, text string }
	var days []aged
	for rows.Next() {
		var a aged
		if err := rows.Scan(&a.date, &a.text); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan aged summary: %w", err)
		}
		days = append(days, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate aged summaries: %w", err)
	}

	for _, d := range days {
		text := d.text
		if len(text) > 2000 {
			text = text[:2000]
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO long_days (date, text) VALUES (?, ?)
			 ON CONFLICT(date) DO UPDATE SET text = excluded.text`, d.date, text); err != nil {
			return 0, fmt.Errorf("insert long day: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM day_summaries WHERE date <= ?`, cutoff); err != nil {
		return 0, fmt.Errorf("delete aged summaries: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(days), nil
}

// RecordSleepBatch implements core.ConsolidationStore.
func (s *Store) RecordSleepBatch(ctx context.Context, b core.SleepBatch) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sleep_batches (id, started_at, finished_at, from_seen_at, to_seen_at, processed_count, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID,
		b.StartedAt.UTC().Format(time.RFC3339Nano),
		b.FinishedAt.UTC().Format(time.RFC3339Nano),
		b.FromSeen.UTC().Format(time.RFC3339Nano),
		b.ToSeen.UTC().Format(time.RFC3339Nano),
		b.Processed, b.Status)
	if err != nil {
		return fmt.Errorf("insert sleep batch: %w", err)
	}
	return nil
}

func scanMessage(rows *sql.Rows) (core.Message, error) {
	var m core.Message
	var created string
	if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Text, &created); err != nil {
		return core.Message{}, fmt.Errorf("scan message: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return core.Message{}, fmt.Errorf("parse message time: %w", err)
	}
	m.CreatedAt = t
	return m, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ core.ConsolidationStore = (*Store)(nil)
