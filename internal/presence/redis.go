package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zsiec/netsync/internal/config"
	"github.com/zsiec/netsync/internal/logger"
)

// announceScript writes the record and adds it to the active set in one step.
var announceScript = redis.NewScript(`
	local key = KEYS[1]
	local active_key = KEYS[2]
	redis.call('SET', key, ARGV[1], 'PX', tonumber(ARGV[2]))
	redis.call('SADD', active_key, ARGV[3])
	return 1
`)

// listScript returns every live record and prunes ids whose key expired.
var listScript = redis.NewScript(`
	local active_key = KEYS[1]
	local prefix = ARGV[1]
	local active = redis.call('SMEMBERS', active_key)
	local result = {}
	local expired = {}

	for _, id in ipairs(active) do
		local rec = redis.call('GET', prefix .. id)
		if rec then
			table.insert(result, rec)
		else
			table.insert(expired, id)
		end
	end

	for _, id in ipairs(expired) do
		redis.call('SREM', active_key, id)
	end

	return result
`)

// NewRedisClient builds a client from the redis section of the config.
func NewRedisClient(cfg *config.RedisConfig) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addresses,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})
}

// RedisStore keeps one JSON value per client under <prefix>clients:<id>
// plus a set of active ids at <prefix>clients:active.
type RedisStore struct {
	client redis.UniversalClient
	logger logger.Logger
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration, log logger.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisStore{
		client: client,
		logger: logger.OrNull(log).WithField("component", "presence_redis"),
		prefix: prefix + "clients:",
		ttl:    ttl,
	}
}

func (r *RedisStore) key(clientID string) string { return r.prefix + clientID }

func (r *RedisStore) activeKey() string { return r.prefix + "active" }

func (r *RedisStore) Announce(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal presence record: %w", err)
	}

	err = announceScript.Run(ctx, r.client,
		[]string{r.key(rec.ClientID), r.activeKey()},
		data, r.ttl.Milliseconds(), rec.ClientID).Err()
	if err != nil {
		return fmt.Errorf("failed to announce client %s: %w", rec.ClientID, err)
	}

	r.logger.WithFields(map[string]interface{}{
		"client_id": rec.ClientID,
		"endpoint":  rec.Endpoint,
	}).Debug("Client announced")
	return nil
}

func (r *RedisStore) Withdraw(ctx context.Context, clientID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key(clientID))
		pipe.SRem(ctx, r.activeKey(), clientID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to withdraw client %s: %w", clientID, err)
	}
	return nil
}

func (r *RedisStore) Heartbeat(ctx context.Context, recs []*Record) error {
	if len(recs) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, rec := range recs {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal presence record: %w", err)
		}
		pipe.SetXX(ctx, r.key(rec.ClientID), data, r.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, clientID string) (*Record, error) {
	data, err := r.client.Get(ctx, r.key(clientID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client %s: %w", clientID, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal presence record: %w", err)
	}
	return &rec, nil
}

func (r *RedisStore) List(ctx context.Context) ([]*Record, error) {
	values, err := listScript.Run(ctx, r.client, []string{r.activeKey()}, r.prefix).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}

	recs := make([]*Record, 0, len(values))
	for _, v := range values {
		var rec Record
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			r.logger.WithError(err).Warn("Skipping malformed presence record")
			continue
		}
		recs = append(recs, &rec)
	}
	return recs, nil
}

// Close is a no-op; the client belongs to the caller.
func (r *RedisStore) Close() error { return nil }
