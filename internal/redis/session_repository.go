package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/HarbingerOfTheEnd/PricePulse/internal/domain"
)

// SessionRepo implements domain.SessionStore: opaque tokens mapped to user
// ids with a sliding TTL.
type SessionRepo struct {
	rdb *goredis.Client
	ttl time.Duration
}

func NewSessionRepo(rdb *goredis.Client, ttl time.Duration) *SessionRepo {
	return &SessionRepo{rdb: rdb, ttl: ttl}
}

func sessionKey(token string) string {
	return "session:" + token
}

func (s *SessionRepo) Create(ctx context.Context, userID int64) (string, error) {
	token := uuid.NewString()
	err := s.rdb.Set(ctx, sessionKey(token), strconv.FormatInt(userID, 10), s.ttl).Err()
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return token, nil
}

func (s *SessionRepo) Lookup(ctx context.Context, token string) (int64, error) {
	value, err := s.rdb.GetEx(ctx, sessionKey(token), s.ttl).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, domain.ErrSessionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up session: %w", err)
	}

	userID, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt session value %q: %w", value, err)
	}
	return userID, nil
}

func (s *SessionRepo) Destroy(ctx context.Context, token string) error {
	return s.rdb.Del(ctx, sessionKey(token)).Err()
}
