package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"github.com/example/lesson-progress/internal/platform/db"
)

const defaultKey = "user_progress"

// Backend names accepted by NewPersister.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// PersisterOptions selects and configures a persistence backend.
type PersisterOptions struct {
	Backend     string
	Path        string // file and sqlite
	RedisURL    string
	DatabaseURL string
	Key         string // row/key name for shared backends
	Fs          afero.Fs
}

// NewPersister builds the configured backend. Backends holding connections also
// implement io.Closer.
func NewPersister(ctx context.Context, o PersisterOptions) (Persister, error) {
	switch strings.ToLower(strings.TrimSpace(o.Backend)) {
	case BackendMemory:
		return NewMemoryPersister(), nil
	case BackendFile, "":
		if o.Path == "" {
			return nil, fmt.Errorf("file backend requires a path")
		}
		return NewFilePersister(o.Fs, o.Path), nil
	case BackendSQLite:
		if o.Path == "" {
			return nil, fmt.Errorf("sqlite backend requires a path")
		}
		return OpenSQLite(o.Path, o.Key)
	case BackendRedis:
		if o.RedisURL == "" {
			return nil, fmt.Errorf("redis backend requires a redis url")
		}
		return NewRedisPersister(o.RedisURL, o.Key)
	case BackendPostgres:
		pool, err := db.Open(ctx, o.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres backend: %w", err)
		}
		p := NewPostgresPersister(pool, o.Key)
		if err := p.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres backend schema: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", o.Backend)
	}
}
