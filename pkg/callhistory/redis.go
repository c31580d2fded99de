package callhistory

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Address      string
	Password     string
	Database     int
	KeyPrefix    string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisBackend keeps the whole document under a single Redis key
type RedisBackend struct {
	client redis.UniversalClient
	key    string
}

// NewRedisBackend connects to Redis and verifies the connection
func NewRedisBackend(config RedisConfig, logger *logrus.Logger) (*RedisBackend, error) {
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.Database,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"address":  config.Address,
		"database": config.Database,
	}).Info("Redis call history backend initialized")

	return NewRedisBackendWithClient(client, config.KeyPrefix), nil
}

// NewRedisBackendWithClient wraps an existing client
func NewRedisBackendWithClient(client redis.UniversalClient, keyPrefix string) *RedisBackend {
	return &RedisBackend{client: client, key: keyPrefix + DocumentKey}
}

func (r *RedisBackend) Name() string { return "redis" }

// Load fetches the document; a missing key is not an error
func (r *RedisBackend) Load(ctx context.Context) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load call history from Redis: %w", err)
	}
	return data, nil
}

// Save replaces the document in one SET
func (r *RedisBackend) Save(ctx context.Context, data []byte) error {
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store call history in Redis: %w", err)
	}
	return nil
}

// Close releases the Redis connection
func (r *RedisBackend) Close() error {
	return r.client.Close()
}
