package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const stateKeyPrefix = "wndmngr:oauth_state:"

// ErrStateNotFound is returned when a state is unknown, expired or already used
var ErrStateNotFound = errors.New("oauth state not found")

// OAuthState is the server-side record of a pending login
type OAuthState struct {
	Next      string    `json:"next,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisStateStore keeps single-use OAuth states in Redis
type RedisStateStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStateStore constructs a Redis-backed state store
func NewRedisStateStore(client redis.UniversalClient, ttl time.Duration) *RedisStateStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisStateStore{client: client, ttl: ttl}
}

// Save stores data under state. A state that already exists is rejected.
func (s *RedisStateStore) Save(ctx context.Context, state string, data OAuthState) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	ok, err := s.client.SetNX(ctx, stateKey(state), payload, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	if !ok {
		return fmt.Errorf("persist state: state already exists")
	}
	return nil
}

// Consume atomically loads and deletes state
func (s *RedisStateStore) Consume(ctx context.Context, state string) (*OAuthState, error) {
	payload, err := s.client.GetDel(ctx, stateKey(state)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("load state: %w", err)
	}

	var data OAuthState
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &data, nil
}

// Ping reports whether Redis is reachable
func (s *RedisStateStore) Ping(ctx context.Context) error {
	return Ping(ctx, s.client)
}

func stateKey(state string) string {
	return stateKeyPrefix + state
}
