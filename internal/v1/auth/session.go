// Package auth resolves session cookies to user identities and validates
// upgrade origins. Identity is fixed at handshake time; no other credentials
// are accepted on the socket afterwards.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// ErrNoSession is returned when the session store has no entry for the key.
// The handshake must be rejected with 403.
var ErrNoSession = errors.New("unknown session")

const sessionKeyPrefix = "session:"

// SessionStore resolves session keys against the shared Redis instance.
// Sessions are hashes keyed session:<key> with a user_id field.
type SessionStore struct {
	client *redis.Client
}

// NewSessionStore creates a SessionStore over the given Redis client.
func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client}
}

// Resolve maps a session key to the authenticated user id.
func (s *SessionStore) Resolve(ctx context.Context, sessionKey string) (int64, error) {
	if sessionKey == "" {
		return 0, ErrNoSession
	}

	raw, err := s.client.HGet(ctx, sessionKeyPrefix+sessionKey, "user_id").Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNoSession
	}
	if err != nil {
		return 0, fmt.Errorf("session lookup failed: %w", err)
	}

	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		return 0, ErrNoSession
	}
	return userID, nil
}

// Put stores a session mapping. Used by the session-establishing surface and
// by tests; the socket layer only ever reads.
func (s *SessionStore) Put(ctx context.Context, sessionKey string, userID int64) error {
	return s.client.HSet(ctx, sessionKeyPrefix+sessionKey, "user_id", strconv.FormatInt(userID, 10)).Err()
}
