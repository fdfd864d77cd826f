package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
CREATE TABLE IF NOT EXISTS lesson_progress (
  user_id         text        NOT NULL,
  lesson_id       text        NOT NULL,
  seconds_watched integer     NOT NULL DEFAULT 0 CHECK (seconds_watched >= 0),
  completed       boolean     NOT NULL DEFAULT false,
  updated_at      timestamptz NOT NULL,
  PRIMARY KEY (user_id, lesson_id)
);
CREATE INDEX IF NOT EXISTS lesson_progress_user_updated_idx ON lesson_progress (user_id, updated_at DESC)`)
	if err != nil {
		return fmt.Errorf("%w: schema: %w", ErrUnavailable, err)
	}
	return nil
}

// Upsert applies the monotonic rules in SQL. The WHERE clause skips the write
// when the report neither advances the position nor newly completes the lesson.
func (r *PostgresRepository) Upsert(ctx context.Context, u Update, now time.Time) (Record, bool, error) {
	q := `
INSERT INTO lesson_progress (user_id, lesson_id, seconds_watched, completed, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id, lesson_id)
DO UPDATE SET
  seconds_watched = GREATEST(lesson_progress.seconds_watched, EXCLUDED.seconds_watched),
  completed       = lesson_progress.completed OR EXCLUDED.completed,
  updated_at      = EXCLUDED.updated_at
WHERE EXCLUDED.seconds_watched > lesson_progress.seconds_watched
   OR (EXCLUDED.completed AND NOT lesson_progress.completed)
RETURNING seconds_watched, completed, updated_at`

	completed := u.Completed != nil && *u.Completed
	out := Record{UserID: u.UserID, LessonID: u.LessonID}
	err := r.db.QueryRow(ctx, q, u.UserID, u.LessonID, max(0, u.SecondsWatched), completed, now.UTC()).
		Scan(&out.SecondsWatched, &out.Completed, &out.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		cur, err := r.fetchOne(ctx, u.UserID, u.LessonID)
		return cur, false, err
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("%w: upsert: %w", ErrUnavailable, err)
	}
	return out, true, nil
}

func (r *PostgresRepository) fetchOne(ctx context.Context, userID, lessonID string) (Record, error) {
	out := Record{UserID: userID, LessonID: lessonID}
	err := r.db.QueryRow(ctx,
		`SELECT seconds_watched, completed, updated_at FROM lesson_progress WHERE user_id=$1 AND lesson_id=$2`,
		userID, lessonID,
	).Scan(&out.SecondsWatched, &out.Completed, &out.UpdatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("%w: fetch: %w", ErrUnavailable, err)
	}
	return out, nil
}

func (r *PostgresRepository) List(ctx context.Context, userID string) ([]Record, error) {
	rows, err := r.db.Query(ctx, `
SELECT lesson_id, seconds_watched, completed, updated_at
FROM lesson_progress WHERE user_id=$1
ORDER BY updated_at DESC, lesson_id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec := Record{UserID: userID}
		if err := rows.Scan(&rec.LessonID, &rec.SecondsWatched, &rec.Completed, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan: %w", ErrUnavailable, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list: %w", ErrUnavailable, err)
	}
	return out, nil
}

func (r *PostgresRepository) DeleteUser(ctx context.Context, userID string) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM lesson_progress WHERE user_id=$1`, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: delete: %w", ErrUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}
