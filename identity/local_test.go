package identity

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "test-secret"
	testIssuer = "rentiful"
)

func signLocal(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func localClaims(overrides jwt.MapClaims) jwt.MapClaims {
	claims := jwt.MapClaims{
		"iss": testIssuer,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	for k, v := range overrides {
		if v == nil {
			delete(claims, k)
			continue
		}
		claims[k] = v
	}
	return claims
}

func TestIssuer_RoundTrip(t *testing.T) {
	issuer := NewIssuer(testSecret, testIssuer, 24*time.Hour)
	strategy := NewLocalStrategy(testSecret, testIssuer)

	for _, role := range Roles {
		t.Run(string(role), func(t *testing.T) {
			token, expiresAt, err := issuer.Issue(Identity{
				SubjectID: "local-123",
				Role:      role,
				Email:     "a@x.com",
				Name:      "Ana",
			})
			require.NoError(t, err)
			assert.WithinDuration(t, time.Now().Add(24*time.Hour), expiresAt, 5*time.Second)

			id, err := strategy.Verify(context.Background(), token)
			require.NoError(t, err)
			assert.Equal(t, "local-123", id.SubjectID)
			assert.Equal(t, role, id.Role)
			assert.Equal(t, "a@x.com", id.Email)
			assert.Equal(t, "Ana", id.Name)
			assert.Equal(t, SourceLocal, id.Source)
		})
	}
}

func TestIssuer_WritesBothRoleClaims(t *testing.T) {
	token, _, err := NewIssuer(testSecret, testIssuer, time.Hour).Issue(Identity{SubjectID: "7", Role: "Tenant"})
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(token, claims)
	require.NoError(t, err)
	assert.Equal(t, "tenant", claims["role"])
	assert.Equal(t, "tenant", claims["custom:role"])
	assert.Equal(t, "7", claims["userId"])
	assert.Equal(t, "7", claims["sub"])
	assert.Equal(t, testIssuer, claims["iss"])
	assert.NotEmpty(t, claims["jti"])
}

func TestIssuer_Rejects(t *testing.T) {
	issuer := NewIssuer(testSecret, testIssuer, time.Hour)

	t.Run("missing subject", func(t *testing.T) {
		_, _, err := issuer.Issue(Identity{Role: RoleManager})
		assert.Error(t, err)
	})

	t.Run("unknown role", func(t *testing.T) {
		_, _, err := issuer.Issue(Identity{SubjectID: "1", Role: "admin"})
		assert.Error(t, err)
	})
}

func TestLocalStrategy_Verify(t *testing.T) {
	strategy := NewLocalStrategy(testSecret, testIssuer)
	ctx := context.Background()

	t.Run("numeric userId is preferred over sub", func(t *testing.T) {
		token := signLocal(t, testSecret, localClaims(jwt.MapClaims{
			"userId": 42,
			"sub":    "ignored",
			"role":   "manager",
		}))

		id, err := strategy.Verify(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, "42", id.SubjectID)
		assert.Equal(t, RoleManager, id.Role)
	})

	t.Run("sub is used when userId is absent", func(t *testing.T) {
		token := signLocal(t, testSecret, localClaims(jwt.MapClaims{
			"sub":         "abc",
			"custom:role": "tenant",
		}))

		id, err := strategy.Verify(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, "abc", id.SubjectID)
		assert.Equal(t, RoleTenant, id.Role)
	})

	t.Run("role match is case-insensitive", func(t *testing.T) {
		token := signLocal(t, testSecret, localClaims(jwt.MapClaims{"userId": "1", "role": " MANAGER "}))

		id, err := strategy.Verify(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, RoleManager, id.Role)
	})

	t.Run("custom:role wins over role", func(t *testing.T) {
		token := signLocal(t, testSecret, localClaims(jwt.MapClaims{
			"userId":      "1",
			"role":        "manager",
			"custom:role": "tenant",
		}))

		id, err := strategy.Verify(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, RoleTenant, id.Role)
	})

	t.Run("missing role", func(t *testing.T) {
		token := signLocal(t, testSecret, localClaims(jwt.MapClaims{"userId": "1"}))

		_, err := strategy.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrNoRole)
	})

	t.Run("unknown role", func(t *testing.T) {
		token := signLocal(t, testSecret, localClaims(jwt.MapClaims{"userId": "1", "role": "admin"}))

		_, err := strategy.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrNoRole)
	})

	t.Run("missing subject", func(t *testing.T) {
		token := signLocal(t, testSecret, localClaims(jwt.MapClaims{"role": "tenant"}))

		_, err := strategy.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("expired token is terminal", func(t *testing.T) {
		token := signLocal(t, testSecret, localClaims(jwt.MapClaims{
			"userId": "1",
			"role":   "tenant",
			"exp":    time.Now().Add(-time.Minute).Unix(),
		}))

		_, err := strategy.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidCredential)
		assert.NotErrorIs(t, err, ErrNotApplicable)
	})

	t.Run("missing expiry is terminal", func(t *testing.T) {
		token := signLocal(t, testSecret, localClaims(jwt.MapClaims{"userId": "1", "role": "tenant", "exp": nil}))

		_, err := strategy.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("wrong issuer is terminal", func(t *testing.T) {
		token := signLocal(t, testSecret, localClaims(jwt.MapClaims{"userId": "1", "role": "tenant", "iss": "someone-else"}))

		_, err := strategy.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("other secret is not applicable", func(t *testing.T) {
		token := signLocal(t, "other-secret", localClaims(jwt.MapClaims{"userId": "1", "role": "tenant"}))

		_, err := strategy.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrNotApplicable)
	})

	t.Run("garbage is not applicable", func(t *testing.T) {
		_, err := strategy.Verify(ctx, "garbage")
		assert.ErrorIs(t, err, ErrNotApplicable)
	})
}

func TestSubjectClaim_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    SubjectClaim
		wantErr bool
	}{
		{"string", `"local-1"`, "local-1", false},
		{"integer", `42`, "42", false},
		{"null", `null`, "", false},
		{"fraction", `4.5`, "", true},
		{"object", `{"id":1}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got SubjectClaim
			err := json.Unmarshal([]byte(tt.input), &got)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		input string
		want  Role
		ok    bool
	}{
		{"manager", RoleManager, true},
		{"Tenant", RoleTenant, true},
		{"  MANAGER", RoleManager, true},
		{"", "", false},
		{"admin", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseRole(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestIdentity_HasRole(t *testing.T) {
	id := &Identity{SubjectID: "1", Role: RoleTenant}

	assert.True(t, id.HasRole(RoleTenant))
	assert.True(t, id.HasRole(RoleManager, "TENANT"))
	assert.False(t, id.HasRole(RoleManager))
	assert.False(t, id.HasRole())
}
