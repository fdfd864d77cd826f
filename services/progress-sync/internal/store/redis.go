package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/example/lesson-progress/services/progress-sync/internal/model"
)

// RedisPersister stores the snapshot under a single key with no expiry.
type RedisPersister struct {
	client *redis.Client
	key    string
}

func NewRedisPersister(url, key string) (*RedisPersister, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if key == "" {
		key = defaultKey
	}
	return &RedisPersister{client: redis.NewClient(opts), key: "progress:snapshot:" + key}, nil
}

func (r *RedisPersister) Save(ctx context.Context, s model.Snapshot) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return r.client.Set(ctx, r.key, b, 0).Err()
}

func (r *RedisPersister) Load(ctx context.Context) (model.Snapshot, bool, error) {
	val, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.Snapshot{}, false, nil
		}
		return model.Snapshot{}, false, err
	}
	var s model.Snapshot
	if err := json.Unmarshal(val, &s); err != nil {
		return model.Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, true, nil
}

func (r *RedisPersister) Close() error {
	return r.client.Close()
}
