package scenemix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string        // defaults to "scenemix:scene:"
	TTL       time.Duration // 0 means scenes never expire
}

// RedisStore is a SceneStore backed by Redis, for deployments where a
// control surface elsewhere publishes scene definitions and several mixer
// instances consume them. Scenes are stored as JSON under
// <prefix><scene-id>.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore connects to Redis and verifies the connection with a ping.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("scenemix: redis store requires an address")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "scenemix:scene:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("scenemix: failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return &RedisStore{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.TTL,
	}, nil
}

func (s *RedisStore) key(id string) string {
	return s.keyPrefix + id
}

// Get fetches and decodes the scene stored under id.
func (s *RedisStore) Get(ctx context.Context, id string) (Scene, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Scene{}, fmt.Errorf("%w: %q", ErrSceneNotFound, id)
	}
	if err != nil {
		return Scene{}, fmt.Errorf("scenemix: redis get failed for scene %q: %w", id, err)
	}
	var scene Scene
	if err := json.Unmarshal(data, &scene); err != nil {
		return Scene{}, fmt.Errorf("scenemix: failed to decode scene %q: %w", id, err)
	}
	if scene.ID == "" {
		scene.ID = id
	}
	if err := ValidateScene(scene); err != nil {
		return Scene{}, err
	}
	return scene, nil
}

// Put validates, encodes and stores a scene.
func (s *RedisStore) Put(ctx context.Context, scene Scene) error {
	if err := ValidateScene(scene); err != nil {
		return err
	}
	data, err := json.Marshal(scene)
	if err != nil {
		return fmt.Errorf("scenemix: failed to encode scene %q: %w", scene.ID, err)
	}
	if err := s.client.Set(ctx, s.key(scene.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("scenemix: redis set failed for scene %q: %w", scene.ID, err)
	}
	return nil
}

// Remove deletes the scene stored under id.
func (s *RedisStore) Remove(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("scenemix: redis del failed for scene %q: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrSceneNotFound, id)
	}
	return nil
}

// List scans for all stored scene ids.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), s.keyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scenemix: redis scan failed: %w", err)
	}
	return ids, nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
