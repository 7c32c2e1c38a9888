package tenant_test

import (
	"context"
	"testing"

	"github.com/bankrail/bankrail/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDirectory struct {
	mock.Mock
}

func (m *mockDirectory) LookupBank(ctx context.Context, subdomain string) (*tenant.Bank, error) {
	args := m.Called(ctx, subdomain)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tenant.Bank), args.Error(1)
}

// directoryFunc adapts a function to the Directory interface.
type directoryFunc func(ctx context.Context, subdomain string) (*tenant.Bank, error)

func (f directoryFunc) LookupBank(ctx context.Context, subdomain string) (*tenant.Bank, error) {
	return f(ctx, subdomain)
}

func branchKey(sub string) tenant.Key {
	return tenant.Key{Subdomain: sub, IsBranchPortal: true}
}

func TestResolveAdminPortalIsNoOp(t *testing.T) {
	dir := new(mockDirectory)
	store := tenant.NewStore(nil)
	r := tenant.NewResolver(store, dir, nil)

	err := r.Resolve(context.Background(), tenant.Key{IsAdminPortal: true})
	require.NoError(t, err)

	st := store.State()
	assert.False(t, st.IsResolved)
	assert.Empty(t, st.Err)
	dir.AssertNotCalled(t, "LookupBank", mock.Anything, mock.Anything)
}

func TestResolveSuccessIsMemoized(t *testing.T) {
	dir := new(mockDirectory)
	dir.On("LookupBank", mock.Anything, "mybank").
		Return(&tenant.Bank{ID: "b-1", Name: "My Bank", Subdomain: "mybank", Active: true}, nil).
		Once()

	store := tenant.NewStore(tenant.NewMemorySnapshotRepository())
	r := tenant.NewResolver(store, dir, nil)

	require.NoError(t, r.Resolve(context.Background(), branchKey("mybank")))
	// Second call for the same key never hits the directory again.
	require.NoError(t, r.Resolve(context.Background(), branchKey("mybank")))

	st := store.State()
	assert.True(t, st.IsResolved)
	assert.False(t, st.IsResolving)
	require.NotNil(t, st.Tenant)
	assert.Equal(t, "My Bank", st.Tenant.Name)
	assert.Equal(t, "mybank", st.Tenant.Subdomain)
	dir.AssertExpectations(t)
}

func TestResolveNotFoundAndInactiveAreDistinct(t *testing.T) {
	dir := new(mockDirectory)
	dir.On("LookupBank", mock.Anything, "ghost").Return(nil, tenant.ErrNotFound)
	dir.On("LookupBank", mock.Anything, "dormant").
		Return(&tenant.Bank{ID: "b-2", Name: "Dormant", Subdomain: "dormant", Active: false}, nil)

	store := tenant.NewStore(nil)
	r := tenant.NewResolver(store, dir, nil)

	err := r.Resolve(context.Background(), branchKey("ghost"))
	assert.ErrorIs(t, err, tenant.ErrNotFound)
	st := store.State()
	assert.False(t, st.IsResolved)
	assert.NotEmpty(t, st.Err)

	err = r.Resolve(context.Background(), branchKey("dormant"))
	assert.ErrorIs(t, err, tenant.ErrInactive)
	assert.NotErrorIs(t, err, tenant.ErrNotFound)
}

func TestResolveDiscardsResultAfterKeyChange(t *testing.T) {
	store := tenant.NewStore(nil)

	// The lookup changes the current key mid-flight; its result must be
	// discarded rather than committed against the new key.
	dir := directoryFunc(func(ctx context.Context, subdomain string) (*tenant.Bank, error) {
		store.SetKey(branchKey("otherbank"))
		return &tenant.Bank{ID: "b-1", Name: "Stale Bank", Subdomain: subdomain, Active: true}, nil
	})
	r := tenant.NewResolver(store, dir, nil)

	require.NoError(t, r.Resolve(context.Background(), branchKey("mybank")))

	st := store.State()
	assert.Equal(t, "otherbank", st.Key.Subdomain)
	assert.False(t, st.IsResolved, "stale result must not mark the new key resolved")
	assert.Nil(t, st.Tenant)
	assert.False(t, st.IsResolving)
}

func TestStoreSetErrorSemantics(t *testing.T) {
	store := tenant.NewStore(nil)
	store.SetKey(branchKey("mybank"))

	store.SetError("lookup failed")
	st := store.State()
	assert.False(t, st.IsResolved)
	assert.Equal(t, "lookup failed", st.Err)

	// A nil message marks the store resolved.
	store.SetError("")
	st = store.State()
	assert.True(t, st.IsResolved)
	assert.Empty(t, st.Err)
}

func TestStoreRestore(t *testing.T) {
	derived := branchKey("mybank")
	snap := &tenant.Snapshot{
		Tenant:         &tenant.Context{Name: "My Bank", Subdomain: "mybank"},
		Subdomain:      "mybank",
		IsBranchPortal: true,
		IsResolved:     true,
	}

	store := tenant.NewStore(nil)
	store.Restore(snap, derived)
	st := store.State()
	assert.True(t, st.IsResolved)
	require.NotNil(t, st.Tenant)
	assert.Equal(t, "My Bank", st.Tenant.Name)

	// A key mismatch forces re-resolution.
	store = tenant.NewStore(nil)
	store.Restore(snap, branchKey("otherbank"))
	st = store.State()
	assert.False(t, st.IsResolved)
	assert.Nil(t, st.Tenant)
	assert.Equal(t, "otherbank", st.Key.Subdomain)
}

func TestStoreResetClearsEverything(t *testing.T) {
	store := tenant.NewStore(nil)
	store.SetKey(branchKey("mybank"))
	store.SetTenant(context.Background(), &tenant.Context{Name: "My Bank", Subdomain: "mybank"})

	store.Reset()
	st := store.State()
	assert.Equal(t, tenant.Key{}, st.Key)
	assert.Nil(t, st.Tenant)
	assert.False(t, st.IsResolved)
	assert.False(t, st.IsResolving)
	assert.Empty(t, st.Err)
}
