package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hy2panel/subpanel-backend/internal/models"
)

// SessionKeyPrefix is the Redis key prefix for login sessions.
const SessionKeyPrefix = "sub_session:"

// RedisSessionStore keeps session snapshots in Redis with a TTL. Expiry is
// Redis-native: once the key lapses the session is simply gone.
type RedisSessionStore struct {
	client *redis.Client
}

func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func (s *RedisSessionStore) Create(ctx context.Context, token string, sess *models.Session, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, SessionKeyPrefix+token, data, ttl).Err()
}

func (s *RedisSessionStore) Get(ctx context.Context, token string) (*models.Session, error) {
	data, err := s.client.Get(ctx, SessionKeyPrefix+token).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		// Corrupt cache entry; treat as expired rather than failing the call.
		return nil, ErrNotFound
	}
	return &sess, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, token string) error {
	return s.client.Del(ctx, SessionKeyPrefix+token).Err()
}
