package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tunnel-keeper/internal/config"
	"tunnel-keeper/internal/logger"
	"tunnel-keeper/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisStateStore 把同样的状态JSON保存在一个redis key下
type RedisStateStore struct {
	client *redis.Client
	key    string
}

func NewRedisStateStore(client *redis.Client, key string) *RedisStateStore {
	if key == "" {
		key = "tunnel-keeper:state"
	}
	return &RedisStateStore{client: client, key: key}
}

func (s *RedisStateStore) Load(ctx context.Context) (*models.StateFile, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	var state models.StateFile
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse redis state %s: %w", s.key, err)
	}
	if state.Tunnels == nil {
		state.Tunnels = make(map[string]models.StateEntry)
	}
	return &state, nil
}

func (s *RedisStateStore) Save(ctx context.Context, state *models.StateFile) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

func (s *RedisStateStore) Close() error {
	return s.client.Close()
}

/**
 * Connect to redis with exponential backoff
 * @param {context.Context} ctx - parent context, the total budget is cfg.ConnectTimeout
 * @param {config.RedisConfig} cfg - address, credentials and retry settings
 * @param {logger.Logger} log - component logger
 * @returns {*redis.Client} connected client
 * @returns {error} when redis stays unreachable for the whole budget
 * @description
 * - The wait between attempts doubles from RetryInterval up to MaxWait
 * - Each ping is bounded by PingTimeout
 */
func ConnectRedis(ctx context.Context, cfg config.RedisConfig, log logger.Logger) (*redis.Client, error) {
	if cfg.ConnectTimeout <= 0 || cfg.RetryInterval <= 0 || cfg.MaxWait <= 0 || cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("invalid redis retry settings: %+v", cfg)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.User,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	log.Info("connecting to redis", logger.String("addr", cfg.Addr), logger.Duration("timeout", cfg.ConnectTimeout))
	wait := cfg.RetryInterval
	for attempt := 1; ; attempt++ {
		pingCtx, pingCancel := context.WithTimeout(ctx, cfg.PingTimeout)
		err := client.Ping(pingCtx).Err()
		pingCancel()
		if err == nil {
			if attempt > 1 {
				log.Warn("connected to redis after retry", logger.String("addr", cfg.Addr), logger.Int("attempts", attempt))
			} else {
				log.Info("connected to redis", logger.String("addr", cfg.Addr))
			}
			return client, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			client.Close()
			return nil, fmt.Errorf("redis unavailable at %s after %d attempts: %w", cfg.Addr, attempt, err)
		case <-timer.C:
			log.Warn("redis connection failed, retrying",
				logger.String("addr", cfg.Addr),
				logger.Int("attempt", attempt),
				logger.Duration("next_retry_in", wait),
				logger.Err(err))
			wait *= 2
			if wait > cfg.MaxWait {
				wait = cfg.MaxWait
			}
		}
	}
}
