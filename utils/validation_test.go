package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signupBody struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=4,max=72"`
	Name     string `json:"name,omitempty" validate:"required"`
	Role     string `json:"role" validate:"required,role"`
	Internal string `json:"-" validate:"max=3"`
}

func validSignup() signupBody {
	return signupBody{Email: "ana@example.com", Password: "secret", Name: "Ana", Role: "tenant"}
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*signupBody)
		wantField string
		wantMsg   string
	}{
		{name: "valid", mutate: func(*signupBody) {}},
		{name: "role is case-insensitive", mutate: func(b *signupBody) { b.Role = "Manager" }},
		{name: "missing email", mutate: func(b *signupBody) { b.Email = "" }, wantField: "email", wantMsg: "email is required"},
		{name: "bad email", mutate: func(b *signupBody) { b.Email = "nope" }, wantField: "email", wantMsg: "email must be a valid email"},
		{name: "short password", mutate: func(b *signupBody) { b.Password = "abc" }, wantField: "password", wantMsg: "password must be at least 4"},
		{name: "omitempty tag option is stripped", mutate: func(b *signupBody) { b.Name = "" }, wantField: "name", wantMsg: "name is required"},
		{name: "unknown role", mutate: func(b *signupBody) { b.Role = "admin" }, wantField: "role", wantMsg: "role must be 'manager' or 'tenant'"},
		{name: "dash tag falls back to Go name", mutate: func(b *signupBody) { b.Internal = "toolong" }, wantField: "Internal", wantMsg: "Internal must be at most 3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := validSignup()
			tt.mutate(&body)

			err := ValidateStruct(&body)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			assert.Equal(t, tt.wantMsg, GetValidationFields(err)[tt.wantField])
		})
	}
}

func TestNewValidationError(t *testing.T) {
	err := ValidateStruct(&signupBody{Role: "tenant"})
	require.Error(t, err)

	validationErr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Equal(t, "Validation failed", validationErr.Error())
	assert.Len(t, validationErr.Fields, 3)
	assert.Contains(t, validationErr.Fields, "email")
	assert.Contains(t, validationErr.Fields, "password")
	assert.Contains(t, validationErr.Fields, "name")
}

func TestGetValidationFields(t *testing.T) {
	assert.False(t, IsValidationError(assert.AnError))
	assert.Nil(t, GetValidationFields(assert.AnError))

	fields := map[string]string{"email": "bad"}
	assert.Equal(t, fields, GetValidationFields(&ValidationError{Message: "x", Fields: fields}))
}
