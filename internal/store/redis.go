package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "noumeal:session:"
	profileKeyPrefix = "noumeal:profile:"
)

// redisStore backs sessions and profiles with Redis. Session histories are
// lists of JSON-encoded turns so appends are atomic on the server side and
// windowed reads stay O(window) via LRANGE.
type redisStore struct {
	client *redis.Client
	log    *slog.Logger
}

// NewRedisStore creates a Redis-backed store. The connection is verified by
// the caller through Ping before serving traffic.
func NewRedisStore(client *redis.Client, log *slog.Logger) Store {
	return &redisStore{
		client: client,
		log:    log.With("component", "redis_store"),
	}
}

func (s *redisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (s *redisStore) AppendTurns(ctx context.Context, sessionID string, turns ...Turn) error {
	if sessionID == "" {
		return fmt.Errorf("session id must not be empty")
	}
	if len(turns) == 0 {
		return nil
	}

	values := make([]any, 0, len(turns))
	for _, turn := range turns {
		data, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("failed to encode turn: %w", err)
		}
		values = append(values, data)
	}

	if err := s.client.RPush(ctx, sessionKeyPrefix+sessionID, values...).Err(); err != nil {
		s.log.ErrorContext(ctx, "Failed to append turns", "session_id", sessionID, "error", err)
		return fmt.Errorf("failed to append turns for session %s: %w", sessionID, err)
	}
	return nil
}

func (s *redisStore) RecentTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		return nil, nil
	}

	raw, err := s.client.LRange(ctx, sessionKeyPrefix+sessionID, int64(-limit), -1).Result()
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to read turns", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("failed to read turns for session %s: %w", sessionID, err)
	}

	turns := make([]Turn, 0, len(raw))
	for _, item := range raw {
		var turn Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			s.log.WarnContext(ctx, "Skipping undecodable turn", "session_id", sessionID, "error", err)
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// profileSaveRetries bounds optimistic-lock retries when concurrent savers
// hit the same profile key.
const profileSaveRetries = 5

func (s *redisStore) SaveProfile(ctx context.Context, profile *Profile) error {
	if profile == nil {
		return fmt.Errorf("cannot save nil profile")
	}
	if profile.UserID == "" {
		return fmt.Errorf("profile must have a user id")
	}

	key := profileKeyPrefix + profile.UserID

	// The read-merge-write of created_at runs under WATCH so a concurrent
	// save aborts the transaction instead of clobbering the timestamp.
	save := func(tx *redis.Tx) error {
		now := time.Now().UTC()
		profile.UpdatedAt = now
		profile.CreatedAt = now

		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("failed to read profile for user %s: %w", profile.UserID, err)
		default:
			var existing Profile
			if err := json.Unmarshal(data, &existing); err != nil {
				return fmt.Errorf("failed to decode profile for user %s: %w", profile.UserID, err)
			}
			if !existing.CreatedAt.IsZero() {
				profile.CreatedAt = existing.CreatedAt
			}
		}

		payload, err := json.Marshal(profile)
		if err != nil {
			return fmt.Errorf("failed to encode profile: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt <= profileSaveRetries; attempt++ {
		err = s.client.Watch(ctx, save, key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
		s.log.DebugContext(ctx, "Profile save lost optimistic lock, retrying",
			"user_id", profile.UserID, "attempt", attempt+1)
	}

	s.log.ErrorContext(ctx, "Failed to save profile", "user_id", profile.UserID, "error", err)
	return fmt.Errorf("failed to save profile for user %s: %w", profile.UserID, err)
}

func (s *redisStore) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id must not be empty")
	}

	data, err := s.client.Get(ctx, profileKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to read profile", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to read profile for user %s: %w", userID, err)
	}

	var profile Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile for user %s: %w", userID, err)
	}
	return &profile, nil
}
