package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jwebster45206/situation-engine/pkg/engine"
	"github.com/jwebster45206/situation-engine/pkg/situation"
)

// JournalIndex is a queryable SQLite copy of every slot's journal. The
// engine keeps only a bounded tail in its snapshot; the index keeps all of
// it.
type JournalIndex struct {
	db     *sql.DB
	logger *slog.Logger
}

// JournalQuery filters journal lookups. Zero values match everything.
type JournalQuery struct {
	SituationID string
	Kind        engine.EntryKind
	AfterSeq    uint64
	Limit       int
}

func OpenJournalIndex(path string, logger *slog.Logger) (*JournalIndex, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal index path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := initJournal(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &JournalIndex{db: db, logger: logger}, nil
}

func initJournal(db *sql.DB) error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS journal (
			slot_id      TEXT    NOT NULL,
			seq          INTEGER NOT NULL,
			game_time    INTEGER NOT NULL,
			kind         TEXT    NOT NULL,
			situation_id TEXT    NOT NULL DEFAULT '',
			seed_id      TEXT    NOT NULL DEFAULT '',
			text         TEXT    NOT NULL,
			PRIMARY KEY (slot_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS journal_situation ON journal (slot_id, situation_id, seq);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("init journal schema: %w", err)
		}
	}
	return nil
}

func (j *JournalIndex) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

func (j *JournalIndex) Close() error {
	return j.db.Close()
}

// Append records entries for a slot. Entries already indexed are ignored,
// so replaying a command's journal tail is harmless.
func (j *JournalIndex) Append(ctx context.Context, slotID uuid.UUID, entries []engine.JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin journal tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO journal
		(slot_id, seq, game_time, kind, situation_id, seed_id, text)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare journal insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, slotID.String(), e.Seq, int64(e.Time), string(e.Kind), e.SituationID, e.SeedID, e.Text); err != nil {
			return fmt.Errorf("insert journal entry %d: %w", e.Seq, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit journal tx: %w", err)
	}
	j.logger.Debug("Indexed journal entries", "slot_id", slotID, "count", len(entries))
	return nil
}

// Query returns a slot's entries in sequence order
func (j *JournalIndex) Query(ctx context.Context, slotID uuid.UUID, q JournalQuery) ([]engine.JournalEntry, error) {
	where := []string{"slot_id = ?", "seq > ?"}
	args := []any{slotID.String(), q.AfterSeq}
	if q.SituationID != "" {
		where = append(where, "situation_id = ?")
		args = append(args, q.SituationID)
	}
	if q.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(q.Kind))
	}
	query := "SELECT seq, game_time, kind, situation_id, seed_id, text FROM journal WHERE " +
		strings.Join(where, " AND ") + " ORDER BY seq"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []engine.JournalEntry
	for rows.Next() {
		var (
			e        engine.JournalEntry
			gameTime int64
			kind     string
		)
		if err := rows.Scan(&e.Seq, &gameTime, &kind, &e.SituationID, &e.SeedID, &e.Text); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		e.Time = situation.Time(gameTime)
		e.Kind = engine.EntryKind(kind)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read journal rows: %w", err)
	}
	return out, nil
}

// DeleteSlot drops a slot's entries
func (j *JournalIndex) DeleteSlot(ctx context.Context, slotID uuid.UUID) error {
	if _, err := j.db.ExecContext(ctx, "DELETE FROM journal WHERE slot_id = ?", slotID.String()); err != nil {
		return fmt.Errorf("delete journal: %w", err)
	}
	return nil
}
