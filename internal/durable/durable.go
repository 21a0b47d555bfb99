// Package durable persists the task set across process restarts. Task
// records are stored as YAML blobs keyed by their local ID; the next-ID
// counter lives in a small key-value table. Deduplication state is never
// persisted, and the external-ID index is always rebuilt from the task
// set on rehydration rather than trusted as stored.
package durable

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kvnkishore11/AgenticKanban-sub008/internal/durable/driver"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/store"
	"github.com/kvnkishore11/AgenticKanban-sub008/internal/task"
)

const nextIDKey = "next_id"

var schemas = map[driver.Dialect][]string{
	driver.DialectSQLite: {
		`CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY,
			external_id TEXT NOT NULL DEFAULT '',
			record TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_external_id ON tasks(external_id)`,
		`CREATE TABLE IF NOT EXISTS board_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	},
	driver.DialectPostgres: {
		`CREATE TABLE IF NOT EXISTS tasks (
			id BIGINT PRIMARY KEY,
			external_id TEXT NOT NULL DEFAULT '',
			record TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_external_id ON tasks(external_id)`,
		`CREATE TABLE IF NOT EXISTS board_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	},
}

// Store is the durable board store.
type Store struct {
	drv    driver.Driver
	logger *slog.Logger
}

// Open connects to the durable store and ensures its schema exists.
func Open(ctx context.Context, dialect, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	d, err := driver.ParseDialect(dialect)
	if err != nil {
		return nil, err
	}
	drv, err := driver.New(d)
	if err != nil {
		return nil, err
	}
	if err := drv.Open(dsn); err != nil {
		return nil, err
	}

	for _, stmt := range schemas[d] {
		if _, err := drv.Exec(ctx, stmt); err != nil {
			_ = drv.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return &Store{drv: drv, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.drv.Close()
}

// execer is the write surface shared by the driver and its transactions.
type execer interface {
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SaveTask upserts one task record.
func (s *Store) SaveTask(ctx context.Context, t *task.Task) error {
	return s.saveTask(ctx, s.drv, t)
}

func (s *Store) saveTask(ctx context.Context, ex execer, t *task.Task) error {
	record, err := yaml.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task %d: %w", t.ID, err)
	}

	p := s.drv.Placeholder
	query := fmt.Sprintf(`INSERT INTO tasks (id, external_id, record, updated_at)
		VALUES (%s, %s, %s, %s)
		%s (id) DO UPDATE SET
			external_id = excluded.external_id,
			record = excluded.record,
			updated_at = excluded.updated_at`,
		p(1), p(2), p(3), p(4), s.drv.UpsertConflict())

	_, err = ex.Exec(ctx, query, t.ID, t.ExternalID, string(record),
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save task %d: %w", t.ID, err)
	}
	return nil
}

// DeleteTask removes one task record.
func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	query := fmt.Sprintf("DELETE FROM tasks WHERE id = %s", s.drv.Placeholder(1))
	if _, err := s.drv.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	return nil
}

// LoadTasks reads every stored task record. Records that fail to parse
// are skipped with a warning rather than failing the whole load.
func (s *Store) LoadTasks(ctx context.Context) ([]*task.Task, error) {
	rows, err := s.drv.Query(ctx, "SELECT id, record FROM tasks ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*task.Task
	for rows.Next() {
		var id int64
		var record string
		if err := rows.Scan(&id, &record); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		var t task.Task
		if err := yaml.Unmarshal([]byte(record), &t); err != nil {
			s.logger.Warn("skipping unreadable task record", "id", id, "error", err)
			continue
		}
		tasks = append(tasks, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

// SaveNextID persists the local ID sequence.
func (s *Store) SaveNextID(ctx context.Context, next int64) error {
	return s.saveNextID(ctx, s.drv, next)
}

func (s *Store) saveNextID(ctx context.Context, ex execer, next int64) error {
	p := s.drv.Placeholder
	query := fmt.Sprintf(`INSERT INTO board_meta (key, value) VALUES (%s, %s)
		%s (key) DO UPDATE SET value = excluded.value`,
		p(1), p(2), s.drv.UpsertConflict())
	if _, err := ex.Exec(ctx, query, nextIDKey, strconv.FormatInt(next, 10)); err != nil {
		return fmt.Errorf("save next id: %w", err)
	}
	return nil
}

// LoadNextID reads the persisted ID sequence, or 0 when never saved.
func (s *Store) LoadNextID(ctx context.Context) (int64, error) {
	query := fmt.Sprintf("SELECT value FROM board_meta WHERE key = %s", s.drv.Placeholder(1))
	var value string
	err := s.drv.QueryRow(ctx, query, nextIDKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load next id: %w", err)
	}
	next, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse next id %q: %w", value, err)
	}
	return next, nil
}

// Rehydrate loads the persisted task set into the in-memory store and
// rebuilds the external-ID index from it.
func (s *Store) Rehydrate(ctx context.Context, st *store.Store) error {
	tasks, err := s.LoadTasks(ctx)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		st.Put(t)
	}

	next, err := s.LoadNextID(ctx)
	if err != nil {
		return err
	}
	if next > 0 {
		st.SetNextID(next)
	}

	st.RebuildIndex()
	s.logger.Info("rehydrated board", "tasks", len(tasks), "next_id", st.NextID())
	return nil
}

// Persist saves one task record and the ID sequence in a single
// transaction, so the stored board never carries a task whose ID the
// sequence could hand out again.
func (s *Store) Persist(ctx context.Context, t *task.Task, next int64) error {
	tx, err := s.drv.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin persist: %w", err)
	}
	if err := s.saveTask(ctx, tx, t); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := s.saveNextID(ctx, tx, next); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit persist: %w", err)
	}
	return nil
}

// Snapshot saves the store's entire current state in a single
// transaction. Either the whole board lands or none of it does; a
// failure partway through never leaves a partial board on disk.
func (s *Store) Snapshot(ctx context.Context, st *store.Store) error {
	tx, err := s.drv.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	for _, t := range st.List() {
		if err := s.saveTask(ctx, tx, t); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := s.saveNextID(ctx, tx, st.NextID()); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// boardExport is the YAML shape of a full board snapshot.
type boardExport struct {
	ExportedAt time.Time    `yaml:"exported_at"`
	NextID     int64        `yaml:"next_id"`
	Tasks      []*task.Task `yaml:"tasks"`
}

// ExportYAML renders every stored task as one YAML document, ordered by
// task ID.
func (s *Store) ExportYAML(ctx context.Context) ([]byte, error) {
	tasks, err := s.LoadTasks(ctx)
	if err != nil {
		return nil, err
	}
	next, err := s.LoadNextID(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })

	out, err := yaml.Marshal(&boardExport{
		ExportedAt: time.Now().UTC(),
		NextID:     next,
		Tasks:      tasks,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal board export: %w", err)
	}
	return out, nil
}
