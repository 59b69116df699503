package credit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tallydash/backend/internal/domain/credit"
	"github.com/tallydash/backend/internal/domain/identity"
	"github.com/tallydash/backend/internal/domain/shared"
)

// Mock implementations

type mockTenantRepository struct {
	mock.Mock
}

func (m *mockTenantRepository) FindByID(ctx context.Context, id uuid.UUID) (*identity.Tenant, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Tenant), args.Error(1)
}

func (m *mockTenantRepository) FindAll(ctx context.Context) ([]*identity.Tenant, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*identity.Tenant), args.Error(1)
}

func (m *mockTenantRepository) FindDue(ctx context.Context) ([]*identity.Tenant, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*identity.Tenant), args.Error(1)
}

func (m *mockTenantRepository) Save(ctx context.Context, tenant *identity.Tenant) error {
	args := m.Called(ctx, tenant)
	return args.Error(0)
}

func (m *mockTenantRepository) UpdateLocked(ctx context.Context, id uuid.UUID, fn func(*identity.Tenant) error) (*identity.Tenant, error) {
	args := m.Called(ctx, id, fn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	tenant := args.Get(0).(*identity.Tenant)
	if err := fn(tenant); err != nil {
		return nil, err
	}
	return tenant, args.Error(1)
}

type mockUserRepository struct {
	mock.Mock
}

func (m *mockUserRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID) ([]*identity.User, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*identity.User), args.Error(1)
}

func (m *mockUserRepository) Save(ctx context.Context, user *identity.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepository) SetActiveForTenant(ctx context.Context, tenantID uuid.UUID, active bool) (int64, error) {
	args := m.Called(ctx, tenantID, active)
	return args.Get(0).(int64), args.Error(1)
}

type mockMemoStore struct {
	mock.Mock
}

func (m *mockMemoStore) Get(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *mockMemoStore) Set(ctx context.Context, key string, ttl time.Duration) error {
	args := m.Called(ctx, key, ttl)
	return args.Error(0)
}

func (m *mockMemoStore) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	args := m.Called(ctx, prefix)
	return args.Int(0), args.Error(1)
}

// Helpers

func istDate(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, credit.IST())
}

func newTestService(tenants identity.TenantRepository, users identity.UserRepository, memo credit.MemoStore, now time.Time) *Service {
	return NewService(tenants, users, memo, credit.FixedClock{Instant: now}, zap.NewNop(), DefaultConfig())
}

func newTenant(t *testing.T, credits int) *identity.Tenant {
	t.Helper()
	tenant, err := identity.NewTenant("Acme Corp", "acme", credits)
	require.NoError(t, err)
	return tenant
}

func TestService_DeductDailyCredit(t *testing.T) {
	ctx := context.Background()
	now := istDate(2024, time.January, 10)

	t.Run("first deduction removes one credit", func(t *testing.T) {
		tenant := newTenant(t, 10)
		tenants := new(mockTenantRepository)
		users := new(mockUserRepository)
		tenants.On("FindByID", ctx, tenant.ID).Return(tenant, nil)
		tenants.On("UpdateLocked", ctx, tenant.ID, mock.Anything).Return(tenant, nil)

		svc := newTestService(tenants, users, nil, now)
		result, err := svc.DeductDailyCredit(ctx, tenant.ID)
		require.NoError(t, err)

		assert.True(t, result.Deducted)
		assert.Equal(t, 1, result.CreditsRemoved)
		assert.Equal(t, 9, result.Remaining)
		assert.False(t, result.Deactivated)
		require.NotNil(t, tenant.LastCreditDeducted)
		assert.True(t, tenant.LastCreditDeducted.Equal(now))
		users.AssertNotCalled(t, "SetActiveForTenant", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("second call on the same day is a no-op before the lock", func(t *testing.T) {
		tenant := newTenant(t, 9)
		tenant.LastCreditDeducted = &now
		tenants := new(mockTenantRepository)
		tenants.On("FindByID", ctx, tenant.ID).Return(tenant, nil)

		svc := newTestService(tenants, new(mockUserRepository), nil, now)
		result, err := svc.DeductDailyCredit(ctx, tenant.ID)
		require.NoError(t, err)

		assert.False(t, result.Deducted)
		assert.Equal(t, 9, result.Remaining)
		tenants.AssertNotCalled(t, "UpdateLocked", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("settled between pre-check and lock is a no-op", func(t *testing.T) {
		stale := newTenant(t, 10)
		fresh := newTenant(t, 9)
		fresh.ID = stale.ID
		fresh.LastCreditDeducted = &now

		tenants := new(mockTenantRepository)
		tenants.On("FindByID", ctx, stale.ID).Return(stale, nil)
		tenants.On("UpdateLocked", ctx, stale.ID, mock.Anything).Return(fresh, nil)

		svc := newTestService(tenants, new(mockUserRepository), nil, now)
		result, err := svc.DeductDailyCredit(ctx, stale.ID)
		require.NoError(t, err)

		assert.False(t, result.Deducted)
		assert.Equal(t, 9, fresh.Credits)
	})

	t.Run("catch-up emptying the ledger deactivates tenant and users", func(t *testing.T) {
		tenant := newTenant(t, 2)
		last := istDate(2024, time.January, 1)
		tenant.LastCreditDeducted = &last

		tenants := new(mockTenantRepository)
		users := new(mockUserRepository)
		tenants.On("FindByID", ctx, tenant.ID).Return(tenant, nil)
		tenants.On("UpdateLocked", ctx, tenant.ID, mock.Anything).Return(tenant, nil)
		users.On("SetActiveForTenant", ctx, tenant.ID, false).Return(int64(3), nil)

		svc := newTestService(tenants, users, nil, now)
		result, err := svc.DeductDailyCredit(ctx, tenant.ID)
		require.NoError(t, err)

		assert.True(t, result.Deducted)
		assert.Equal(t, 2, result.CreditsRemoved)
		assert.True(t, result.Deactivated)
		assert.False(t, tenant.IsActive)
		users.AssertExpectations(t)
	})

	t.Run("user deactivation failure does not fail the deduction", func(t *testing.T) {
		tenant := newTenant(t, 1)
		last := istDate(2024, time.January, 9)
		tenant.LastCreditDeducted = &last

		tenants := new(mockTenantRepository)
		users := new(mockUserRepository)
		tenants.On("FindByID", ctx, tenant.ID).Return(tenant, nil)
		tenants.On("UpdateLocked", ctx, tenant.ID, mock.Anything).Return(tenant, nil)
		users.On("SetActiveForTenant", ctx, tenant.ID, false).Return(int64(0), errors.New("user store down"))

		svc := newTestService(tenants, users, nil, now)
		result, err := svc.DeductDailyCredit(ctx, tenant.ID)

		require.NoError(t, err)
		assert.True(t, result.Deducted)
		assert.True(t, result.Deactivated)
	})

	t.Run("storage error propagates", func(t *testing.T) {
		id := uuid.New()
		tenants := new(mockTenantRepository)
		tenants.On("FindByID", ctx, id).Return(nil, shared.ErrNotFound)

		svc := newTestService(tenants, new(mockUserRepository), nil, now)
		_, err := svc.DeductDailyCredit(ctx, id)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestService_AddCredits(t *testing.T) {
	ctx := context.Background()
	now := istDate(2024, time.January, 10)

	t.Run("rejects non-positive amount as no-op", func(t *testing.T) {
		tenants := new(mockTenantRepository)
		svc := newTestService(tenants, new(mockUserRepository), nil, now)

		ok, err := svc.AddCredits(ctx, uuid.New(), 0)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = svc.AddCredits(ctx, uuid.New(), -5)
		require.NoError(t, err)
		assert.False(t, ok)
		tenants.AssertNotCalled(t, "UpdateLocked", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("top-up on inactive tenant reactivates tenant and users", func(t *testing.T) {
		tenant := newTenant(t, 0)
		tenant.IsActive = false

		tenants := new(mockTenantRepository)
		users := new(mockUserRepository)
		tenants.On("UpdateLocked", ctx, tenant.ID, mock.Anything).Return(tenant, nil)
		users.On("SetActiveForTenant", ctx, tenant.ID, true).Return(int64(3), nil)

		svc := newTestService(tenants, users, nil, now)
		ok, err := svc.AddCredits(ctx, tenant.ID, 5)
		require.NoError(t, err)

		assert.True(t, ok)
		assert.Equal(t, 5, tenant.Credits)
		assert.True(t, tenant.IsActive)
		users.AssertExpectations(t)
	})

	t.Run("top-up on active tenant never flips activation", func(t *testing.T) {
		tenant := newTenant(t, 3)

		tenants := new(mockTenantRepository)
		users := new(mockUserRepository)
		tenants.On("UpdateLocked", ctx, tenant.ID, mock.Anything).Return(tenant, nil)

		svc := newTestService(tenants, users, nil, now)
		ok, err := svc.AddCredits(ctx, tenant.ID, 2)
		require.NoError(t, err)

		assert.True(t, ok)
		assert.Equal(t, 5, tenant.Credits)
		users.AssertNotCalled(t, "SetActiveForTenant", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestService_ProcessAllTenants(t *testing.T) {
	ctx := context.Background()
	now := istDate(2024, time.January, 10)

	t.Run("per-tenant failure does not abort the pass", func(t *testing.T) {
		healthy := newTenant(t, 10)
		broken := newTenant(t, 10)

		tenants := new(mockTenantRepository)
		users := new(mockUserRepository)
		tenants.On("FindDue", ctx).Return([]*identity.Tenant{broken, healthy}, nil)
		tenants.On("FindByID", ctx, broken.ID).Return(nil, errors.New("connection reset"))
		tenants.On("FindByID", ctx, healthy.ID).Return(healthy, nil)
		tenants.On("UpdateLocked", ctx, healthy.ID, mock.Anything).Return(healthy, nil)

		svc := newTestService(tenants, users, nil, now)
		stats, err := svc.ProcessAllTenants(ctx)
		require.NoError(t, err)

		assert.Equal(t, 2, stats.Total)
		assert.Equal(t, 1, stats.Processed)
		assert.Equal(t, 1, stats.Deducted)
		assert.Equal(t, 1, stats.Failed)
	})

	t.Run("selection failure surfaces", func(t *testing.T) {
		tenants := new(mockTenantRepository)
		tenants.On("FindDue", ctx).Return(nil, errors.New("db down"))

		svc := newTestService(tenants, new(mockUserRepository), nil, now)
		_, err := svc.ProcessAllTenants(ctx)
		assert.Error(t, err)
	})
}

func TestService_Inspect(t *testing.T) {
	ctx := context.Background()
	now := istDate(2024, time.January, 10)

	t.Run("reports status, memo and due flag", func(t *testing.T) {
		due := newTenant(t, 10)
		low := newTenant(t, 3)
		low.LastCreditDeducted = &now
		empty := newTenant(t, 0)
		empty.IsActive = false

		tenants := new(mockTenantRepository)
		memo := new(mockMemoStore)
		tenants.On("FindAll", ctx).Return([]*identity.Tenant{due, low, empty}, nil)
		memo.On("Get", ctx, credit.MemoKey(due.ID)).Return(true, nil)
		memo.On("Get", ctx, credit.MemoKey(low.ID)).Return(false, nil)
		memo.On("Get", ctx, credit.MemoKey(empty.ID)).Return(false, nil)

		svc := newTestService(tenants, new(mockUserRepository), memo, now)
		statuses, err := svc.InspectAll(ctx)
		require.NoError(t, err)
		require.Len(t, statuses, 3)

		assert.Equal(t, StatusActive, statuses[0].Status)
		assert.True(t, statuses[0].MemoPresent)
		assert.True(t, statuses[0].DeductionDue)

		assert.Equal(t, StatusLowCredits, statuses[1].Status)
		assert.False(t, statuses[1].DeductionDue)

		assert.Equal(t, StatusInactive, statuses[2].Status)
		assert.False(t, statuses[2].DeductionDue)
	})

	t.Run("memo lookup failure degrades to not-present", func(t *testing.T) {
		tenant := newTenant(t, 10)
		tenants := new(mockTenantRepository)
		memo := new(mockMemoStore)
		tenants.On("FindByID", ctx, tenant.ID).Return(tenant, nil)
		memo.On("Get", ctx, credit.MemoKey(tenant.ID)).Return(false, errors.New("redis down"))

		svc := newTestService(tenants, new(mockUserRepository), memo, now)
		status, err := svc.InspectTenant(ctx, tenant.ID)
		require.NoError(t, err)
		assert.False(t, status.MemoPresent)
	})
}

func TestService_ClearMemos(t *testing.T) {
	ctx := context.Background()
	memo := new(mockMemoStore)
	memo.On("DeleteByPrefix", ctx, credit.MemoKeyPrefix).Return(4, nil)

	svc := newTestService(new(mockTenantRepository), new(mockUserRepository), memo, istDate(2024, time.January, 10))
	cleared, err := svc.ClearMemos(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, cleared)
}

// lockedTenantRepo is an in-memory TenantRepository whose UpdateLocked holds
// a real mutex, mirroring the row-lock serialization of the SQL
// implementation. Used to exercise concurrent deduction.
type lockedTenantRepo struct {
	mu     sync.Mutex
	tenant *identity.Tenant
}

func (r *lockedTenantRepo) snapshot() *identity.Tenant {
	copied := *r.tenant
	if r.tenant.LastCreditDeducted != nil {
		last := *r.tenant.LastCreditDeducted
		copied.LastCreditDeducted = &last
	}
	return &copied
}

func (r *lockedTenantRepo) FindByID(ctx context.Context, id uuid.UUID) (*identity.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot(), nil
}

func (r *lockedTenantRepo) FindAll(ctx context.Context) ([]*identity.Tenant, error) {
	return []*identity.Tenant{r.snapshot()}, nil
}

func (r *lockedTenantRepo) FindDue(ctx context.Context) ([]*identity.Tenant, error) {
	return r.FindAll(ctx)
}

func (r *lockedTenantRepo) Save(ctx context.Context, tenant *identity.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenant = tenant
	return nil
}

func (r *lockedTenantRepo) UpdateLocked(ctx context.Context, id uuid.UUID, fn func(*identity.Tenant) error) (*identity.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fresh := r.snapshot()
	if err := fn(fresh); err != nil {
		return nil, err
	}
	r.tenant = fresh
	return fresh, nil
}

func TestService_DeductDailyCredit_Race(t *testing.T) {
	ctx := context.Background()
	now := istDate(2024, time.January, 10)

	tenant := newTenant(t, 10)
	repo := &lockedTenantRepo{tenant: tenant}
	users := new(mockUserRepository)
	svc := newTestService(repo, users, nil, now)

	const callers = 8
	results := make([]DeductionResult, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.DeductDailyCredit(ctx, tenant.ID)
		}(i)
	}
	wg.Wait()

	deducted := 0
	removed := 0
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		if results[i].Deducted {
			deducted++
			removed += results[i].CreditsRemoved
		}
	}

	// Exactly one caller wins; everyone else observes the settled ledger.
	assert.Equal(t, 1, deducted)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 9, repo.tenant.Credits)
	require.NotNil(t, repo.tenant.LastCreditDeducted)
	assert.True(t, repo.tenant.LastCreditDeducted.Equal(now))
}
