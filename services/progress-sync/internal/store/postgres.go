package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/lesson-progress/services/progress-sync/internal/model"
)

// PostgresPersister keeps one snapshot row per key in a jsonb column.
type PostgresPersister struct {
	db  *pgxpool.Pool
	key string
}

func NewPostgresPersister(db *pgxpool.Pool, key string) *PostgresPersister {
	if key == "" {
		key = defaultKey
	}
	return &PostgresPersister{db: db, key: key}
}

// EnsureSchema creates the snapshot table when it is missing.
func (p *PostgresPersister) EnsureSchema(ctx context.Context) error {
	_, err := p.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS progress_snapshots (
  key        text PRIMARY KEY,
  data       jsonb NOT NULL,
  updated_at timestamptz NOT NULL
)`)
	return err
}

func (p *PostgresPersister) Save(ctx context.Context, s model.Snapshot) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	q := `
INSERT INTO progress_snapshots (key, data, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (key)
DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`
	if _, err := p.db.Exec(ctx, q, p.key, b, time.Now().UTC()); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (p *PostgresPersister) Load(ctx context.Context) (model.Snapshot, bool, error) {
	var data []byte
	err := p.db.QueryRow(ctx, `SELECT data FROM progress_snapshots WHERE key=$1`, p.key).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Snapshot{}, false, nil
		}
		return model.Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	var s model.Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return model.Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, true, nil
}

func (p *PostgresPersister) Close() error {
	p.db.Close()
	return nil
}
