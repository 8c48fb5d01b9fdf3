package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/surge-downloader/fetchd/internal/engine/types"
)

// SQLiteFileName is the database file inside the state directory.
const SQLiteFileName = "tasks.db"

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tasks (
	id             TEXT PRIMARY KEY,
	url            TEXT NOT NULL,
	dest_path      TEXT NOT NULL,
	filename       TEXT NOT NULL,
	total_size     INTEGER NOT NULL,
	downloaded     INTEGER NOT NULL,
	status         TEXT NOT NULL,
	error          TEXT NOT NULL DEFAULT '',
	supports_range INTEGER NOT NULL,
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS chunks (
	task_id       TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	idx           INTEGER NOT NULL,
	range_start   INTEGER NOT NULL,
	range_end     INTEGER NOT NULL,
	bytes_written INTEGER NOT NULL,
	worker_state  TEXT NOT NULL,
	PRIMARY KEY (task_id, idx)
);`

// SQLite keeps the task list in a database; every Save replaces both tables
// in one transaction.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates dir/tasks.db.
func OpenSQLite(dir string) (*SQLite, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, SQLiteFileName)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state db: %w", err)
	}
	// One writer; sqlite serializes anyway
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure state db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO meta(key, value) VALUES('version', ?)`, SnapshotVersion); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{db: db, path: path}, nil
}

func (s *SQLite) Path() string { return s.path }

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Save(tasks []types.Task) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.Exec(`DELETE FROM chunks`); err != nil {
		return err
	}
	if _, err = tx.Exec(`DELETE FROM tasks`); err != nil {
		return err
	}

	taskStmt, err := tx.Prepare(`INSERT INTO tasks
		(id, url, dest_path, filename, total_size, downloaded, status, error, supports_range, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = taskStmt.Close() }()

	chunkStmt, err := tx.Prepare(`INSERT INTO chunks
		(task_id, idx, range_start, range_end, bytes_written, worker_state)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = chunkStmt.Close() }()

	for _, t := range tasks {
		if _, err = taskStmt.Exec(t.ID, t.URL, t.DestPath, t.Filename, t.TotalSize, t.Downloaded,
			string(t.Status), t.Error, t.SupportsRange, t.CreatedAt.UnixNano(), t.UpdatedAt.UnixNano()); err != nil {
			return fmt.Errorf("task %s: %w", t.ID, err)
		}
		for i, c := range t.Chunks {
			if _, err = chunkStmt.Exec(t.ID, i, c.Start, c.End, c.BytesWritten, string(c.State)); err != nil {
				return fmt.Errorf("task %s chunk %d: %w", t.ID, i, err)
			}
		}
	}

	return tx.Commit()
}

func (s *SQLite) Load() ([]types.Task, error) {
	rows, err := s.db.Query(`SELECT id, url, dest_path, filename, total_size, downloaded, status, error,
		supports_range, created_at, updated_at FROM tasks ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tasks []types.Task
	index := make(map[string]int)
	for rows.Next() {
		var t types.Task
		var status string
		var created, updated int64
		if err := rows.Scan(&t.ID, &t.URL, &t.DestPath, &t.Filename, &t.TotalSize, &t.Downloaded,
			&status, &t.Error, &t.SupportsRange, &created, &updated); err != nil {
			return nil, err
		}
		t.Status = types.Status(status)
		t.CreatedAt = time.Unix(0, created)
		t.UpdatedAt = time.Unix(0, updated)
		index[t.ID] = len(tasks)
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	chunkRows, err := s.db.Query(`SELECT task_id, range_start, range_end, bytes_written, worker_state
		FROM chunks ORDER BY task_id, idx`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = chunkRows.Close() }()

	for chunkRows.Next() {
		var (
			id    string
			c     types.Chunk
			state string
		)
		if err := chunkRows.Scan(&id, &c.Start, &c.End, &c.BytesWritten, &state); err != nil {
			return nil, err
		}
		c.State = types.WorkerState(state)
		if i, ok := index[id]; ok {
			tasks[i].Chunks = append(tasks[i].Chunks, c)
		}
	}
	return tasks, chunkRows.Err()
}
