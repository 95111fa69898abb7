package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"Urban-Render/server/internal/config"
	"Urban-Render/server/internal/models"
)

const (
	sessionKeyPrefix = "urbanrender:session:"
	apiKeyKeyPrefix  = "urbanrender:apikey:"
)

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(cfg config.RedisConfig, sessionTTL time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{client: client, ttl: sessionTTL}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Load returns the state of a session
func (s *RedisStore) Load(ctx context.Context, sessionID string) (*models.RenderingState, error) {
	raw, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var state models.RenderingState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &state, nil
}

// Save writes the state and refreshes the expiry of the session and its key
func (s *RedisStore) Save(ctx context.Context, state *models.RenderingState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := s.client.Set(ctx, sessionKey(state.SessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	if s.ttl > 0 {
		// The key may not exist; Expire is a no-op then.
		if err := s.client.Expire(ctx, apiKeyKey(state.SessionID), s.ttl).Err(); err != nil {
			return fmt.Errorf("failed to refresh api key ttl: %w", err)
		}
	}
	return nil
}

// Delete removes the session and its stored key
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, sessionKey(sessionID), apiKeyKey(sessionID)).Err()
}

// SetAPIKey stores credentials apart from the state so they never leave the server
func (s *RedisStore) SetAPIKey(ctx context.Context, sessionID, apiKey string) error {
	if apiKey == "" {
		return s.client.Del(ctx, apiKeyKey(sessionID)).Err()
	}
	n, err := s.client.Exists(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s.client.Set(ctx, apiKeyKey(sessionID), apiKey, s.ttl).Err()
}

// APIKey returns the stored credentials, or "" when none were connected
func (s *RedisStore) APIKey(ctx context.Context, sessionID string) (string, error) {
	key, err := s.client.Get(ctx, apiKeyKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load api key: %w", err)
	}
	return key, nil
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func apiKeyKey(id string) string {
	return apiKeyKeyPrefix + id
}
