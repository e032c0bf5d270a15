package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"wwwallet/internal/privatedata"
	"wwwallet/pkg/platform/sentinel"
)

var (
	redisPutDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wwwallet_private_data_redis_put_duration_ms",
		Help:    "Latency of versioned private data writes to Redis in milliseconds",
		Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 25, 50},
	})
)

const (
	privateDataKeyPrefix = "wallet:private-data:"

	fieldData      = "data"
	fieldVersion   = "version"
	fieldUpdatedAt = "updated_at"
)

// RedisStore keeps each wallet's blob in a hash. Put runs a WATCH/MULTI
// transaction so the version check and the write are atomic.
type RedisStore struct {
	client *redis.Client
	clock  Clock
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisClock sets the clock used for updated_at.
func WithRedisClock(clock Clock) RedisOption {
	return func(s *RedisStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Get(ctx context.Context, walletID string) (*privatedata.Blob, error) {
	fields, err := s.client.HGetAll(ctx, privateDataKeyPrefix+walletID).Result()
	if err != nil {
		return nil, fmt.Errorf("get private data: %w", err)
	}
	if len(fields) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return decodeRedisBlob(walletID, fields)
}

func (s *RedisStore) Put(ctx context.Context, walletID string, data []byte, expectedVersion int64) (*privatedata.Blob, error) {
	start := time.Now()
	defer func() {
		redisPutDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	key := privateDataKeyPrefix + walletID
	now := s.clock()
	blob := &privatedata.Blob{
		WalletID:  walletID,
		Data:      data,
		Version:   expectedVersion + 1,
		UpdatedAt: time.UnixMilli(now.UnixMilli()),
	}

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, fieldVersion).Int64()
		if errors.Is(err, redis.Nil) {
			current = 0
		} else if err != nil {
			return err
		}
		if current != expectedVersion {
			return sentinel.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				fieldData, data,
				fieldVersion, blob.Version,
				fieldUpdatedAt, now.UnixMilli(),
			)
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		return blob, nil
	case errors.Is(err, sentinel.ErrConflict), errors.Is(err, redis.TxFailedErr):
		return nil, sentinel.ErrConflict
	default:
		return nil, fmt.Errorf("put private data: %w", err)
	}
}

func decodeRedisBlob(walletID string, fields map[string]string) (*privatedata.Blob, error) {
	version, err := strconv.ParseInt(fields[fieldVersion], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode private data version: %w", err)
	}
	updatedAt, err := strconv.ParseInt(fields[fieldUpdatedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode private data timestamp: %w", err)
	}
	return &privatedata.Blob{
		WalletID:  walletID,
		Data:      []byte(fields[fieldData]),
		Version:   version,
		UpdatedAt: time.UnixMilli(updatedAt),
	}, nil
}
