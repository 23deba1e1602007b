package accounts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/upb/rentiful/backend/identity"
	"github.com/upb/rentiful/backend/models"
	"github.com/upb/rentiful/backend/repositories"
	"github.com/upb/rentiful/backend/services"
)

const testSecret = "accounts-test-secret"

type MockProfileRepository struct {
	mock.Mock
}

func (m *MockProfileRepository) GetBySubjectID(ctx context.Context, role identity.Role, subjectID string) (*models.Profile, error) {
	args := m.Called(ctx, role, subjectID)
	if p := args.Get(0); p != nil {
		return p.(*models.Profile), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProfileRepository) GetByEmail(ctx context.Context, role identity.Role, email string) (*models.Profile, error) {
	args := m.Called(ctx, role, email)
	if p := args.Get(0); p != nil {
		return p.(*models.Profile), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProfileRepository) Create(ctx context.Context, profile *models.Profile) error {
	args := m.Called(ctx, profile)
	if args.Error(0) == nil {
		profile.ID = 42
	}
	return args.Error(0)
}

func (m *MockProfileRepository) Update(ctx context.Context, profile *models.Profile) error {
	return m.Called(ctx, profile).Error(0)
}

// fakeTxManager runs functions without a database and records the outcome
type fakeTxManager struct {
	mu        sync.Mutex
	commits   int
	rollbacks int
}

type fakeTx struct {
	ctx context.Context
	m   *fakeTxManager
}

func (t *fakeTx) Commit() error {
	t.m.mu.Lock()
	t.m.commits++
	t.m.mu.Unlock()
	return nil
}

func (t *fakeTx) Rollback() error {
	t.m.mu.Lock()
	t.m.rollbacks++
	t.m.mu.Unlock()
	return nil
}

func (t *fakeTx) Context() context.Context { return t.ctx }

func (f *fakeTxManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	return &fakeTx{ctx: ctx, m: f}, nil
}

func (f *fakeTxManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	return services.WithTransaction(ctx, f, fn)
}

type recordedEvents struct {
	mu     sync.Mutex
	events []*models.AuthEvent
}

func (r *recordedEvents) Record(_ context.Context, event *models.AuthEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordedEvents) actions() []models.AuthAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.AuthAction, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingMetrics) RecordLocalAuth(action, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[action+":"+outcome]++
}

type fixture struct {
	svc      *Service
	repo     *MockProfileRepository
	tx       *fakeTxManager
	events   *recordedEvents
	metrics  *countingMetrics
	verifier *identity.LocalStrategy
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     new(MockProfileRepository),
		tx:       &fakeTxManager{},
		events:   &recordedEvents{},
		metrics:  &countingMetrics{},
		verifier: identity.NewLocalStrategy(testSecret, "rentiful"),
	}
	svc, err := NewService(f.repo, f.tx, identity.NewIssuer(testSecret, "rentiful", time.Hour),
		f.events, f.metrics, zap.NewNop(), Config{BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func hashed(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func TestNewService(t *testing.T) {
	t.Run("rejects out of range cost", func(t *testing.T) {
		_, err := NewService(nil, nil, nil, nil, nil, zap.NewNop(), Config{BcryptCost: 99})
		assert.Error(t, err)
	})

	t.Run("nil recorder becomes a no-op", func(t *testing.T) {
		svc, err := NewService(nil, nil, nil, nil, nil, zap.NewNop(), Config{BcryptCost: bcrypt.MinCost})
		require.NoError(t, err)
		assert.NotNil(t, svc.recorder)
	})
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a tenant and returns a working credential", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetByEmail", mock.Anything, identity.RoleTenant, "ana@x.com").Return(nil, repositories.ErrNotFound)
		f.repo.On("Create", mock.Anything, mock.MatchedBy(func(p *models.Profile) bool {
			return p.Role == identity.RoleTenant && p.Email == "ana@x.com" && p.Name == "Ana"
		})).Return(nil)

		session, err := f.svc.Register(ctx, RegisterInput{
			Email: " Ana@X.com ", Password: "s3cret", Name: "Ana", Role: "Tenant",
		})
		require.NoError(t, err)

		assert.Equal(t, int64(42), session.User.ID)
		assert.Equal(t, identity.RoleTenant, session.User.Role)
		assert.Equal(t, "ana@x.com", session.User.Email)
		assert.Regexp(t, `^local-[0-9a-f-]{36}$`, session.User.SubjectID)
		assert.WithinDuration(t, time.Now().Add(time.Hour), session.ExpiresAt, time.Minute)

		id, err := f.verifier.Verify(ctx, session.Token)
		require.NoError(t, err)
		assert.Equal(t, session.User.SubjectID, id.SubjectID)
		assert.Equal(t, identity.RoleTenant, id.Role)

		assert.Equal(t, 1, f.tx.commits)
		assert.Equal(t, []models.AuthAction{models.AuthActionRegistered}, f.events.actions())
		assert.Equal(t, 1, f.metrics.counts["register:success"])
	})

	t.Run("stores a bcrypt hash, never the password", func(t *testing.T) {
		f := newFixture(t)
		var created *models.Profile
		f.repo.On("GetByEmail", mock.Anything, identity.RoleManager, "m@x.com").Return(nil, repositories.ErrNotFound)
		f.repo.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			created = args.Get(1).(*models.Profile)
		}).Return(nil)

		_, err := f.svc.Register(ctx, RegisterInput{Email: "m@x.com", Password: "pw-123", Name: "M", Role: "manager"})
		require.NoError(t, err)

		require.NotNil(t, created)
		assert.NotEqual(t, "pw-123", created.PasswordHash)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(created.PasswordHash), []byte("pw-123")))
	})

	t.Run("invalid role is a validation error", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "pw", Name: "A", Role: "admin"})
		assert.True(t, services.IsValidationError(err))
		f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		assert.Equal(t, 1, f.metrics.counts["register:failure"])
	})

	t.Run("existing email in the role's table conflicts", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetByEmail", mock.Anything, identity.RoleTenant, "a@x.com").
			Return(&models.Profile{SubjectID: "local-old", Role: identity.RoleTenant}, nil)

		_, err := f.svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "pw", Name: "A", Role: "tenant"})
		assert.ErrorIs(t, err, services.ErrEmailTaken)
		assert.Equal(t, 1, f.tx.rollbacks)
		assert.Empty(t, f.events.actions())
	})

	t.Run("unique violation on insert conflicts", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetByEmail", mock.Anything, identity.RoleTenant, "a@x.com").Return(nil, repositories.ErrNotFound)
		f.repo.On("Create", mock.Anything, mock.Anything).Return(repositories.ErrDuplicate)

		_, err := f.svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "pw", Name: "A", Role: "tenant"})
		assert.True(t, services.IsConflictError(err))
	})

	t.Run("lookup failure is internal", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetByEmail", mock.Anything, identity.RoleTenant, "a@x.com").Return(nil, errors.New("conn refused"))

		_, err := f.svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "pw", Name: "A", Role: "tenant"})
		assert.True(t, services.IsInternalError(err))
		f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("password longer than bcrypt accepts is a validation error", func(t *testing.T) {
		f := newFixture(t)
		long := make([]byte, 80)
		for i := range long {
			long[i] = 'a'
		}

		_, err := f.svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: string(long), Name: "A", Role: "tenant"})
		assert.True(t, services.IsValidationError(err))
	})
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("manager table is searched first", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetByEmail", mock.Anything, identity.RoleManager, "m@x.com").Return(&models.Profile{
			ID: 7, SubjectID: "local-m", Role: identity.RoleManager, Email: "m@x.com", Name: "M",
			PasswordHash: hashed(t, "right"),
		}, nil)

		session, err := f.svc.Login(ctx, LoginInput{Email: "M@x.com", Password: "right"})
		require.NoError(t, err)
		assert.Equal(t, identity.RoleManager, session.User.Role)
		f.repo.AssertNotCalled(t, "GetByEmail", mock.Anything, identity.RoleTenant, mock.Anything)

		claims := jwt.MapClaims{}
		_, err = jwt.ParseWithClaims(session.Token, claims, func(*jwt.Token) (interface{}, error) {
			return []byte(testSecret), nil
		})
		require.NoError(t, err)
		assert.Equal(t, "manager", claims["custom:role"])
		assert.Equal(t, "manager", claims["role"])
		assert.Equal(t, "local-m", claims["userId"])

		assert.Equal(t, []models.AuthAction{models.AuthActionLoginSucceeded}, f.events.actions())
		assert.Equal(t, 1, f.metrics.counts["login:success"])
	})

	t.Run("falls back to tenants", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetByEmail", mock.Anything, identity.RoleManager, "t@x.com").Return(nil, repositories.ErrNotFound)
		f.repo.On("GetByEmail", mock.Anything, identity.RoleTenant, "t@x.com").Return(&models.Profile{
			ID: 8, SubjectID: "local-t", Role: identity.RoleTenant, Email: "t@x.com",
			PasswordHash: hashed(t, "right"),
		}, nil)

		session, err := f.svc.Login(ctx, LoginInput{Email: "t@x.com", Password: "right"})
		require.NoError(t, err)
		assert.Equal(t, identity.RoleTenant, session.User.Role)
		assert.Equal(t, "local-t", session.User.SubjectID)
	})

	rightHash, err := bcrypt.GenerateFromPassword([]byte("right"), bcrypt.MinCost)
	require.NoError(t, err)

	rejections := []struct {
		name    string
		manager *models.Profile
		reason  string
	}{
		{name: "unknown email", reason: "unknown_email"},
		{
			name:    "wrong password",
			manager: &models.Profile{SubjectID: "local-m", Role: identity.RoleManager, PasswordHash: string(rightHash)},
			reason:  "password_mismatch",
		},
		{
			name:    "provider-only account",
			manager: &models.Profile{SubjectID: "cognito-sub", Role: identity.RoleManager},
			reason:  "provider_account",
		},
	}

	for _, tt := range rejections {
		t.Run(tt.name+" is invalid credentials", func(t *testing.T) {
			f := newFixture(t)
			if tt.manager != nil {
				f.repo.On("GetByEmail", mock.Anything, identity.RoleManager, "x@x.com").Return(tt.manager, nil)
			} else {
				f.repo.On("GetByEmail", mock.Anything, mock.Anything, "x@x.com").Return(nil, repositories.ErrNotFound)
			}

			session, err := f.svc.Login(ctx, LoginInput{Email: "x@x.com", Password: "guess"})
			assert.Nil(t, session)
			assert.ErrorIs(t, err, services.ErrInvalidCredentials)
			assert.Equal(t, "invalid email or password", services.PublicMessage(err))

			require.Len(t, f.events.events, 1)
			assert.Equal(t, models.AuthActionLoginFailed, f.events.events[0].Action)
			assert.JSONEq(t, `{"reason":"`+tt.reason+`"}`, string(f.events.events[0].Details))
			assert.Equal(t, 1, f.metrics.counts["login:failure"])
		})
	}

	t.Run("lookup failure is internal, not invalid credentials", func(t *testing.T) {
		f := newFixture(t)
		f.repo.On("GetByEmail", mock.Anything, identity.RoleManager, "x@x.com").Return(nil, errors.New("timeout"))

		_, err := f.svc.Login(ctx, LoginInput{Email: "x@x.com", Password: "pw"})
		assert.True(t, services.IsInternalError(err))
		assert.NotErrorIs(t, err, services.ErrInvalidCredentials)
	})
}
