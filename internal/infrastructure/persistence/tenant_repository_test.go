package persistence

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tallydash/backend/internal/domain/credit"
	"github.com/tallydash/backend/internal/domain/identity"
	"github.com/tallydash/backend/internal/domain/shared"
)

func setupIdentityTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&identity.Tenant{}, &identity.User{})
	require.NoError(t, err)

	return db
}

func newTestTenant(t *testing.T, name string, credits int) *identity.Tenant {
	t.Helper()
	tenant, err := identity.NewTenant(name, name, credits)
	require.NoError(t, err)
	return tenant
}

func TestGormTenantRepository_SaveAndFindByID(t *testing.T) {
	db := setupIdentityTestDB(t)
	repo := NewGormTenantRepository(db)
	ctx := context.Background()

	t.Run("saves and finds a tenant", func(t *testing.T) {
		tenant := newTestTenant(t, "acme", 10)
		require.NoError(t, repo.Save(ctx, tenant))

		found, err := repo.FindByID(ctx, tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, tenant.ID, found.ID)
		assert.Equal(t, "acme", found.Name)
		assert.Equal(t, 10, found.Credits)
		assert.True(t, found.IsActive)
		assert.Nil(t, found.LastCreditDeducted)
	})

	t.Run("persists ledger updates", func(t *testing.T) {
		tenant := newTestTenant(t, "globex", 5)
		require.NoError(t, repo.Save(ctx, tenant))

		date := credit.DateOf(time.Now())
		tenant.Credits = 4
		tenant.LastCreditDeducted = &date
		require.NoError(t, repo.Save(ctx, tenant))

		found, err := repo.FindByID(ctx, tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, found.Credits)
		require.NotNil(t, found.LastCreditDeducted)
		assert.True(t, credit.SameDate(date, *found.LastCreditDeducted))
	})

	t.Run("inserting an inactive tenant keeps it inactive", func(t *testing.T) {
		tenant := newTestTenant(t, "hooli", 0)
		tenant.IsActive = false
		require.NoError(t, repo.Save(ctx, tenant))

		found, err := repo.FindByID(ctx, tenant.ID)
		require.NoError(t, err)
		assert.False(t, found.IsActive, "the insert must not fall back to a column default")
	})

	t.Run("returns ErrNotFound for unknown id", func(t *testing.T) {
		_, err := repo.FindByID(ctx, uuid.New())
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestGormTenantRepository_FindDue(t *testing.T) {
	db := setupIdentityTestDB(t)
	repo := NewGormTenantRepository(db)
	ctx := context.Background()

	active := newTestTenant(t, "active", 7)
	require.NoError(t, repo.Save(ctx, active))

	drained := newTestTenant(t, "drained", 0)
	drained.IsActive = false
	require.NoError(t, repo.Save(ctx, drained))

	suspended := newTestTenant(t, "suspended", 3)
	suspended.IsActive = false
	require.NoError(t, repo.Save(ctx, suspended))

	due, err := repo.FindDue(ctx)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, active.ID, due[0].ID)
}

func TestGormTenantRepository_FindAll(t *testing.T) {
	db := setupIdentityTestDB(t)
	repo := NewGormTenantRepository(db)
	ctx := context.Background()

	for _, name := range []string{"one", "two", "three"} {
		require.NoError(t, repo.Save(ctx, newTestTenant(t, name, 1)))
	}

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestGormTenantRepository_UpdateLocked(t *testing.T) {
	db := setupIdentityTestDB(t)
	repo := NewGormTenantRepository(db)
	ctx := context.Background()

	t.Run("applies the mutation inside the transaction", func(t *testing.T) {
		tenant := newTestTenant(t, "initech", 2)
		require.NoError(t, repo.Save(ctx, tenant))

		updated, err := repo.UpdateLocked(ctx, tenant.ID, func(fresh *identity.Tenant) error {
			fresh.Credits--
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, updated.Credits)

		found, err := repo.FindByID(ctx, tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, found.Credits)
	})

	t.Run("rolls back when the callback fails", func(t *testing.T) {
		tenant := newTestTenant(t, "umbrella", 8)
		require.NoError(t, repo.Save(ctx, tenant))

		boom := errors.New("settled by another worker")
		_, err := repo.UpdateLocked(ctx, tenant.ID, func(fresh *identity.Tenant) error {
			fresh.Credits = 0
			return boom
		})
		assert.ErrorIs(t, err, boom)

		found, err := repo.FindByID(ctx, tenant.ID)
		require.NoError(t, err)
		assert.Equal(t, 8, found.Credits, "failed callback must not leak writes")
	})

	t.Run("returns ErrNotFound for unknown id", func(t *testing.T) {
		_, err := repo.UpdateLocked(ctx, uuid.New(), func(*identity.Tenant) error {
			return nil
		})
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func newMockTenantRepo(t *testing.T) (*GormTenantRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	return NewGormTenantRepository(gormDB), mock, mockDB
}

// TestUpdateLocked_RowLock verifies the read inside UpdateLocked actually
// asks the database for a FOR UPDATE lock rather than a plain SELECT.
func TestUpdateLocked_RowLock(t *testing.T) {
	repo, mock, mockDB := newMockTenantRepo(t)
	defer mockDB.Close()

	id := uuid.New()

	mock.ExpectBegin()
	rows := sqlmock.NewRows([]string{"id", "name", "credits", "is_active"}).
		AddRow(id.String(), "acme", 3, true)
	// Two bind arguments: the id and the LIMIT that First adds.
	mock.ExpectQuery(`SELECT .* FROM "tenants" .*FOR UPDATE`).
		WithArgs(id, 1).
		WillReturnRows(rows)
	mock.ExpectExec(`UPDATE "tenants" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	updated, err := repo.UpdateLocked(context.Background(), id, func(tenant *identity.Tenant) error {
		tenant.Credits--
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, updated.Credits)
	assert.NoError(t, mock.ExpectationsWereMet())
}
