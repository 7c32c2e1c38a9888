package tenant

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bankrail/bankrail/internal/observability/logger"
)

// Store owns the single current tenant context plus its resolution status.
// All writers funnel through the narrow mutation methods below; reads are
// snapshot reads of immutable-until-replaced state.
type Store struct {
	mu         sync.RWMutex
	repo       SnapshotRepository
	key        Key
	tenant     *Context
	resolved   bool
	resolving  bool
	errMsg     string
	generation uint64
}

// State is a point-in-time snapshot of the store. Invariant: IsResolved and a
// non-empty Err are never both set.
type State struct {
	Key         Key
	Tenant      *Context
	IsResolved  bool
	IsResolving bool
	Err         string
}

// NewStore creates a tenant store. repo may be nil, in which case the context
// is not persisted across restarts.
func NewStore(repo SnapshotRepository) *Store {
	return &Store{repo: repo}
}

// State returns a consistent snapshot of the store.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{
		Key:         s.key,
		Tenant:      s.tenant,
		IsResolved:  s.resolved,
		IsResolving: s.resolving,
		Err:         s.errMsg,
	}
}

// Key returns the current tenant key.
func (s *Store) Key() Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key
}

// SetKey installs a newly derived key. A key change invalidates the cached
// context and advances the resolution generation so that any lookup still in
// flight for the previous key is discarded when it completes.
func (s *Store) SetKey(key Key) (changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == key {
		return false
	}
	s.key = key
	s.tenant = nil
	s.resolved = false
	s.resolving = false
	s.errMsg = ""
	s.generation++
	return true
}

// SetTenant installs a resolved context, marks the store resolved and clears
// any error. The snapshot is persisted when a repository is configured.
func (s *Store) SetTenant(ctx context.Context, t *Context) {
	s.mu.Lock()
	s.applyTenant(t)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.persist(ctx, snap)
}

// SetError records a resolution failure. An empty message clears the error and
// marks the store resolved, mirroring a successful no-op resolution.
func (s *Store) SetError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyError(msg)
}

// SetResolving flips the in-flight flag. Resolution must not be started twice
// concurrently for the same key.
func (s *Store) SetResolving(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolving = v
}

// Reset clears everything back to the initial unresolved state.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = Key{}
	s.tenant = nil
	s.resolved = false
	s.resolving = false
	s.errMsg = ""
	s.generation++
}

// Restore applies a persisted snapshot against a freshly derived key. When the
// recomputed key differs from the persisted one the snapshot is discarded and
// the store is left unresolved, forcing re-resolution. Restore is an explicit
// startup input, decoupled from the mutation API.
func (s *Store) Restore(snap *Snapshot, derived Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = derived
	s.tenant = nil
	s.resolved = false
	s.resolving = false
	s.errMsg = ""
	s.generation++

	if snap == nil {
		return
	}
	if snap.Subdomain != derived.Subdomain ||
		snap.IsAdminPortal != derived.IsAdminPortal ||
		snap.IsBranchPortal != derived.IsBranchPortal {
		return
	}
	s.tenant = snap.Tenant
	s.resolved = snap.IsResolved
}

// beginResolution marks a lookup in flight and returns the generation it was
// started under. ok is false when the store is already resolved or a lookup is
// already running.
func (s *Store) beginResolution() (gen uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolved || s.resolving {
		return 0, false
	}
	s.resolving = true
	return s.generation, true
}

// commitTenant applies a successful lookup, unless the key changed while the
// lookup was in flight, in which case the result is discarded.
func (s *Store) commitTenant(ctx context.Context, gen uint64, t *Context) bool {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		slog.DebugContext(ctx, "discarding stale tenant resolution",
			logger.Subdomain(t.Subdomain))
		return false
	}
	s.applyTenant(t)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.persist(ctx, snap)
	return true
}

// commitError applies a failed lookup under the same generation rule.
func (s *Store) commitError(gen uint64, msg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return false
	}
	s.applyError(msg)
	return true
}

func (s *Store) applyTenant(t *Context) {
	s.tenant = t
	s.resolved = true
	s.resolving = false
	s.errMsg = ""
}

func (s *Store) applyError(msg string) {
	s.resolving = false
	if msg == "" {
		s.resolved = true
		s.errMsg = ""
		return
	}
	s.resolved = false
	s.errMsg = msg
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Tenant:         s.tenant,
		Subdomain:      s.key.Subdomain,
		IsAdminPortal:  s.key.IsAdminPortal,
		IsBranchPortal: s.key.IsBranchPortal,
		IsResolved:     s.resolved,
	}
}

func (s *Store) persist(ctx context.Context, snap Snapshot) {
	if s.repo == nil {
		return
	}
	if err := s.repo.Save(ctx, snap); err != nil {
		slog.WarnContext(ctx, "failed to persist tenant snapshot", logger.Error(err))
	}
}
