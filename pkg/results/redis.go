package results

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	dqerrors "github.com/logflow/dqengine/pkg/errors"
	"github.com/logflow/dqengine/pkg/suite"
)

// RedisConfig configures the Redis results store.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address  string
	Password string
	Database int

	// Prefix is prepended to all keys (e.g., "dqengine:")
	Prefix string

	// TTL is the time-to-live of stored runs (0 = no expiration)
	TTL time.Duration

	// Timeout for Redis operations
	Timeout time.Duration

	PoolSize     int
	MinIdleConns int
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address:      address,
		Prefix:       "dqengine:",
		TTL:          7 * 24 * time.Hour,
		Timeout:      5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// RedisStore keeps runs as JSON strings with a sorted set index per suite.
type RedisStore struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedisStore connects to Redis and checks the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to connect to Redis").WithContext("addr", cfg.Address)
	}
	return &RedisStore{cfg: cfg, client: client}, nil
}

func (s *RedisStore) runKey(id string) string {
	return s.cfg.Prefix + "run:" + id
}

func (s *RedisStore) suiteKey(name string) string {
	return s.cfg.Prefix + "suite:" + name
}

func (s *RedisStore) allKey() string {
	return s.cfg.Prefix + "runs"
}

// Save stores the run and indexes it by start time.
func (s *RedisStore) Save(ctx context.Context, run *suite.Run) error {
	data, sum, err := encode(run)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	score := float64(sum.StartedAt.UnixMilli())
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.runKey(sum.RunID), data, s.cfg.TTL)
	pipe.ZAdd(ctx, s.suiteKey(sum.Suite), redis.Z{Score: score, Member: sum.RunID})
	pipe.ZAdd(ctx, s.allKey(), redis.Z{Score: score, Member: sum.RunID})
	if _, err := pipe.Exec(ctx); err != nil {
		return dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to save run to Redis")
	}
	return nil
}

// Load reads a run.
func (s *RedisStore) Load(ctx context.Context, runID string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.runKey(runID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFound(runID)
		}
		return nil, dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to load run from Redis")
	}
	return decode(data)
}

// List reads the index newest first. Expired runs are pruned from the index.
func (s *RedisStore) List(ctx context.Context, suiteName string) ([]Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	index := s.allKey()
	if suiteName != "" {
		index = s.suiteKey(suiteName)
	}
	ids, err := s.client.ZRevRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to read run index")
	}

	var out []Summary
	for _, id := range ids {
		rec, err := s.Load(ctx, id)
		if err != nil {
			s.client.ZRem(ctx, index, id)
			continue
		}
		out = append(out, rec.Summary)
	}
	newestFirst(out)
	return out, nil
}

// Delete removes a run and its index entries.
func (s *RedisStore) Delete(ctx context.Context, runID string) error {
	rec, err := s.Load(ctx, runID)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.runKey(runID))
	pipe.ZRem(ctx, s.allKey(), runID)
	if rec != nil {
		pipe.ZRem(ctx, s.suiteKey(rec.Suite), runID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to delete run from Redis")
	}
	return nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Stats returns connection pool statistics.
func (s *RedisStore) Stats() *redis.PoolStats {
	return s.client.PoolStats()
}

// Name returns "redis".
func (s *RedisStore) Name() string {
	return "redis"
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
