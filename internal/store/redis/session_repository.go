package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bankrail/bankrail/internal/session"
	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "bankrail:session:"

// SessionRepository implements session.Repository on Redis. Expiry rides on
// the key TTL, so DeleteExpired has nothing to sweep.
type SessionRepository struct {
	client *redis.Client
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(client *redis.Client) *SessionRepository {
	return &SessionRepository{client: client}
}

// sessionRecord re-attaches the timestamps the session's own JSON shape omits.
type sessionRecord struct {
	Session   *session.Session `json:"session"`
	CreatedAt time.Time        `json:"created_at"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// Save stores a session snapshot with a TTL matching its expiry.
func (r *SessionRepository) Save(ctx context.Context, sess *session.Session) error {
	payload, err := json.Marshal(sessionRecord{
		Session:   sess,
		CreatedAt: sess.CreatedAt,
		ExpiresAt: sess.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	var ttl time.Duration
	if !sess.ExpiresAt.IsZero() {
		ttl = time.Until(sess.ExpiresAt)
		if ttl <= 0 {
			return r.Delete(ctx, sess.ID)
		}
	}

	if err := r.client.Set(ctx, sessionKeyPrefix+sess.ID, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID
func (r *SessionRepository) Get(ctx context.Context, id string) (*session.Session, error) {
	payload, err := r.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, session.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var record sessionRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if record.Session == nil {
		return nil, session.ErrNotFound
	}

	sess := record.Session
	sess.ID = id
	sess.CreatedAt = record.CreatedAt
	sess.ExpiresAt = record.ExpiresAt
	return sess, nil
}

// Delete deletes a session
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, sessionKeyPrefix+id).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired is a no-op: key TTLs expire sessions server-side.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) error {
	return nil
}
