package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/rentiful/backend/identity"
	"github.com/upb/rentiful/backend/models"
	"github.com/upb/rentiful/backend/repositories"
)

var profileRowColumns = []string{"id", "cognito_id", "name", "email", "phone_number", "password_hash", "created_at", "updated_at"}

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return Wrap(sqlDB, zap.NewNop()), mock
}

func TestProfileRepository_GetBySubjectID(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("found in the role's table", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewProfileRepository(db, zap.NewNop())

		mock.ExpectQuery(`SELECT .+ FROM managers WHERE cognito_id = \$1`).
			WithArgs("sub-1").
			WillReturnRows(sqlmock.NewRows(profileRowColumns).
				AddRow(int64(3), "sub-1", "Marta", "m@x.com", "", nil, now, now))

		profile, err := repo.GetBySubjectID(ctx, identity.RoleManager, "sub-1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), profile.ID)
		assert.Equal(t, identity.RoleManager, profile.Role)
		assert.Equal(t, "Marta", profile.Name)
		assert.False(t, profile.HasPassword())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no rows is ErrNotFound", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewProfileRepository(db, zap.NewNop())

		mock.ExpectQuery(`SELECT .+ FROM tenants WHERE cognito_id = \$1`).
			WithArgs("sub-2").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.GetBySubjectID(ctx, identity.RoleTenant, "sub-2")
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})

	t.Run("driver failure is not ErrNotFound", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewProfileRepository(db, zap.NewNop())

		mock.ExpectQuery(`SELECT .+ FROM tenants`).WillReturnError(errors.New("connection reset"))

		_, err := repo.GetBySubjectID(ctx, identity.RoleTenant, "sub-2")
		require.Error(t, err)
		assert.NotErrorIs(t, err, repositories.ErrNotFound)
	})

	t.Run("unknown role never queries", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewProfileRepository(db, zap.NewNop())

		_, err := repo.GetBySubjectID(ctx, "admin", "sub-1")
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestProfileRepository_GetByEmail(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewProfileRepository(db, zap.NewNop())
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .+ FROM tenants WHERE email = \$1`).
		WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows(profileRowColumns).
			AddRow(int64(1), "local-1", "Ana", "a@x.com", "555", "$2a$10$hash", now, now))

	profile, err := repo.GetByEmail(context.Background(), identity.RoleTenant, " A@X.com ")
	require.NoError(t, err)
	assert.Equal(t, "$2a$10$hash", profile.PasswordHash)
	assert.Equal(t, "555", profile.PhoneNumber)
	assert.True(t, profile.HasPassword())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProfileRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts and fills id", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewProfileRepository(db, zap.NewNop())
		profile := models.NewProfile(identity.RoleTenant, "local-1", "Ana", "a@x.com")
		profile.PasswordHash = "$2a$10$hash"

		mock.ExpectQuery(`INSERT INTO tenants`).
			WithArgs("local-1", "Ana", "a@x.com", "", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))

		require.NoError(t, repo.Create(ctx, profile))
		assert.Equal(t, int64(11), profile.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation names the colliding column", func(t *testing.T) {
		tests := []struct {
			constraint string
			want       error
			notWant    error
		}{
			{constraint: "managers_cognito_id_key", want: repositories.ErrDuplicateSubject, notWant: repositories.ErrDuplicateEmail},
			{constraint: "managers_email_key", want: repositories.ErrDuplicateEmail, notWant: repositories.ErrDuplicateSubject},
			{constraint: "managers_pkey", want: repositories.ErrDuplicate, notWant: repositories.ErrDuplicateEmail},
		}

		for _, tt := range tests {
			t.Run(tt.constraint, func(t *testing.T) {
				db, mock := newMockDB(t)
				repo := NewProfileRepository(db, zap.NewNop())

				mock.ExpectQuery(`INSERT INTO managers`).
					WillReturnError(&pq.Error{Code: "23505", Constraint: tt.constraint})

				err := repo.Create(ctx, models.NewProfile(identity.RoleManager, "sub-1", "M", "m@x.com"))
				assert.ErrorIs(t, err, tt.want)
				assert.ErrorIs(t, err, repositories.ErrDuplicate)
				assert.NotErrorIs(t, err, tt.notWant)
				assert.Contains(t, err.Error(), tt.constraint)
			})
		}
	})

	t.Run("other driver errors pass through", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewProfileRepository(db, zap.NewNop())

		mock.ExpectQuery(`INSERT INTO managers`).
			WillReturnError(&pq.Error{Code: "23502"})

		err := repo.Create(ctx, models.NewProfile(identity.RoleManager, "sub-1", "M", "m@x.com"))
		require.Error(t, err)
		assert.NotErrorIs(t, err, repositories.ErrDuplicate)
	})
}

func TestProfileRepository_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("updates by subject", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewProfileRepository(db, zap.NewNop())

		mock.ExpectExec(`UPDATE tenants`).
			WithArgs("sub-1", "New Name", "n@x.com", "555", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		profile := &models.Profile{SubjectID: "sub-1", Role: identity.RoleTenant, Name: "New Name", Email: "n@x.com", PhoneNumber: "555"}
		require.NoError(t, repo.Update(ctx, profile))
		assert.False(t, profile.UpdatedAt.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row is ErrNotFound", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewProfileRepository(db, zap.NewNop())

		mock.ExpectExec(`UPDATE managers`).WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.Update(ctx, &models.Profile{SubjectID: "ghost", Role: identity.RoleManager})
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})
}

func TestTransactionManager_InTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("commits and shares the transaction", func(t *testing.T) {
		db, mock := newMockDB(t)
		tm := NewTransactionManager(db, zap.NewNop())
		repo := NewProfileRepository(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO tenants`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
		mock.ExpectCommit()

		err := tm.InTransaction(ctx, func(ctx context.Context, tx repositories.Transaction) error {
			return repo.Create(ctx, models.NewProfile(identity.RoleTenant, "s", "n", "e@x.com"))
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		db, mock := newMockDB(t)
		tm := NewTransactionManager(db, zap.NewNop())
		boom := errors.New("boom")

		mock.ExpectBegin()
		mock.ExpectRollback()

		err := tm.InTransaction(ctx, func(ctx context.Context, tx repositories.Transaction) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDB_HealthCheck(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	require.NoError(t, Wrap(sqlDB, zap.NewNop()).HealthCheck(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDB_InitSchema(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS managers`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, db.InitSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
