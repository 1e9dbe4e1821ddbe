// Package redisstate is the Redis-backed task state store used when the
// classification service runs with more than one replica, or when task state
// must survive a restart.
package redisstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/proyecto-sentinel/sentinel/internal/core/domain"
	"github.com/proyecto-sentinel/sentinel/internal/task"
)

// DefaultTTL is how long a task snapshot stays pollable after its last write.
const DefaultTTL = 24 * time.Hour

// Config holds Redis connection configuration.
type Config struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	TTL      time.Duration `yaml:"ttl"`
}

// Store implements task.StateStore on Redis. Each task is one JSON value
// under task:{id}; doc_tasks:{document_id} is a sorted set of task ids scored
// by creation time so listing returns newest first.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// New creates a store and verifies connectivity.
func New(cfg Config) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Store{rdb: rdb, ttl: cfg.TTL}, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Health pings Redis.
func (s *Store) Health(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func taskKey(taskID string) string {
	return fmt.Sprintf("task:%s", taskID)
}

func docTasksKey(documentID string) string {
	return fmt.Sprintf("doc_tasks:%s", documentID)
}

// Save upserts a task snapshot and refreshes its TTL.
func (s *Store) Save(ctx context.Context, t *domain.ClassificationTask) error {
	t.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, taskKey(t.ID), payload, s.ttl)
	pipe.ZAdd(ctx, docTasksKey(t.DocumentID), redis.Z{
		Score:  float64(t.CreatedAt.UnixNano()),
		Member: t.ID,
	})
	pipe.Expire(ctx, docTasksKey(t.DocumentID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

// Get returns a task snapshot, or task.ErrTaskNotFound once it has expired.
func (s *Store) Get(ctx context.Context, taskID string) (*domain.ClassificationTask, error) {
	val, err := s.rdb.Get(ctx, taskKey(taskID)).Result()
	if err == redis.Nil {
		return nil, task.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}

	var t domain.ClassificationTask
	if err := json.Unmarshal([]byte(val), &t); err != nil {
		return nil, fmt.Errorf("unmarshal task %s: %w", taskID, err)
	}
	return &t, nil
}

// TasksForDocument lists retained task ids for a document, newest first. Ids
// whose snapshots expired before the set entry did are filtered by the caller
// on lookup.
func (s *Store) TasksForDocument(ctx context.Context, documentID string) ([]string, error) {
	ids, err := s.rdb.ZRevRange(ctx, docTasksKey(documentID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list tasks for document %s: %w", documentID, err)
	}
	return ids, nil
}
