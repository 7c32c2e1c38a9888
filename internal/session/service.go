package session

import (
	"context"
	"fmt"
	"time"

	"github.com/bankrail/bankrail/internal/audit"
	"github.com/google/uuid"
)

// Repository defines the interface for session persistence. The full session
// snapshot survives restarts: rehydration through Get does not re-validate the
// access token, so a session can look authenticated locally while the token
// has expired upstream. The request pipeline catches that on the next call.
type Repository interface {
	Save(ctx context.Context, sess *Session) error

	// Get returns ErrNotFound for unknown IDs.
	Get(ctx context.Context, id string) (*Session, error)

	Delete(ctx context.Context, id string) error

	DeleteExpired(ctx context.Context, now time.Time) error
}

// Service owns the session lifecycle end-to-end. Every mutation loads the
// session, applies one atomic transition and saves the result; no other code
// path mutates stored sessions.
type Service struct {
	repo        Repository
	lifetime    time.Duration
	auditLogger audit.Logger
}

// NewService creates a session service.
func NewService(repo Repository, lifetime time.Duration, auditLogger audit.Logger) *Service {
	return &Service{
		repo:        repo,
		lifetime:    lifetime,
		auditLogger: auditLogger,
	}
}

// Login normalizes the upstream login payload into a new session and persists
// it. The returned session is fully populated; partial application is never
// observable.
func (s *Service) Login(ctx context.Context, resp LoginResponse, ip, userAgent string) (*Session, error) {
	sess := Build(uuid.NewString(), resp, s.lifetime)

	if err := s.repo.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	if s.auditLogger != nil && sess.User != nil {
		s.auditLogger.Log(ctx, audit.Event{
			Type:      audit.TypeLoginSuccess,
			ActorID:   sess.User.ID,
			Resource:  "session",
			IPAddress: ip,
			UserAgent: userAgent,
			Metadata:  map[string]any{"role": string(sess.User.Role)},
		})
	}
	return sess, nil
}

// Get rehydrates a session by ID. Expired sessions are deleted and reported
// as not found.
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.IsExpired() {
		_ = s.repo.Delete(ctx, id)
		return nil, ErrNotFound
	}
	return sess, nil
}

// Logout is a total reset: the stored session is removed and every field of
// the returned state is back to its pristine zero value.
func (s *Service) Logout(ctx context.Context, id string) error {
	sess, err := s.repo.Get(ctx, id)
	if err != nil {
		// Already gone; logout is idempotent.
		return nil
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if s.auditLogger != nil && sess.User != nil {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLogout,
			ActorID:  sess.User.ID,
			Resource: "session",
		})
	}
	return nil
}

// SwitchBranch makes branchID the session's active branch. Unknown branch IDs
// are a no-op: the stored state is returned unchanged. On success the
// principal's preferred-branch field is updated in lockstep so a later
// rehydration reconstructs the same active branch.
func (s *Service) SwitchBranch(ctx context.Context, id, branchID string) (*Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	branch := sess.BranchByID(branchID)
	if branch == nil {
		return sess, nil
	}

	sess.CurrentBranch = branch
	if sess.User != nil {
		sess.User.ActiveBranchID = branch.ID
	}
	if err := s.repo.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	if s.auditLogger != nil && sess.User != nil {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeBranchSwitched,
			ActorID:  sess.User.ID,
			Resource: "branch",
			Metadata: map[string]any{"branch_id": branch.ID},
		})
	}
	return sess, nil
}

// UserUpdate carries a shallow partial update of the principal. Nil fields are
// left untouched.
type UserUpdate struct {
	Name      *string `json:"name,omitempty"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Email     *string `json:"email,omitempty"`
	Phone     *string `json:"phone,omitempty"`
}

// UpdateUser shallow-merges the partial update into the current principal.
// A session without a principal is a no-op.
func (s *Service) UpdateUser(ctx context.Context, id string, update UserUpdate) (*Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.User == nil {
		return sess, nil
	}

	if update.Name != nil {
		sess.User.Name = *update.Name
	}
	if update.FirstName != nil {
		sess.User.FirstName = *update.FirstName
	}
	if update.LastName != nil {
		sess.User.LastName = *update.LastName
	}
	if update.Email != nil {
		sess.User.Email = *update.Email
	}
	if update.Phone != nil {
		sess.User.Phone = *update.Phone
	}

	if err := s.repo.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return sess, nil
}

// ReplaceToken swaps the stored access token after a silent refresh.
func (s *Service) ReplaceToken(ctx context.Context, id, token string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	sess.Token = token
	if err := s.repo.Save(ctx, sess); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// CleanupExpired removes sessions past their lifetime.
func (s *Service) CleanupExpired(ctx context.Context) error {
	return s.repo.DeleteExpired(ctx, time.Now())
}
