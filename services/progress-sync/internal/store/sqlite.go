package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/example/lesson-progress/services/progress-sync/internal/model"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS progress_snapshots (
	key        TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at DATETIME NOT NULL
)`

// SQLitePersister keeps the snapshot in a single row of a device-local SQLite
// database.
type SQLitePersister struct {
	db  *sql.DB
	key string
}

// OpenSQLite opens (or creates) the database at path with WAL journaling.
func OpenSQLite(path, key string) (*SQLitePersister, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create progress_snapshots: %w", err)
	}
	if key == "" {
		key = defaultKey
	}
	return &SQLitePersister{db: db, key: key}, nil
}

func (p *SQLitePersister) Save(ctx context.Context, s model.Snapshot) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO progress_snapshots (key, data, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		p.key, string(b), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (p *SQLitePersister) Load(ctx context.Context) (model.Snapshot, bool, error) {
	var data string
	err := p.db.QueryRowContext(ctx, `SELECT data FROM progress_snapshots WHERE key = ?`, p.key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Snapshot{}, false, nil
		}
		return model.Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	var s model.Snapshot
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return model.Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, true, nil
}

func (p *SQLitePersister) Close() error {
	return p.db.Close()
}
