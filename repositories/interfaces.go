package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/upb/rentiful/backend/identity"
	"github.com/upb/rentiful/backend/models"
)

var (
	// ErrNotFound is returned when no row matches the lookup
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when a write violates a unique constraint
	ErrDuplicate = errors.New("duplicate record")

	// ErrDuplicateSubject is the ErrDuplicate of a subject id collision
	ErrDuplicateSubject = fmt.Errorf("%w: subject", ErrDuplicate)

	// ErrDuplicateEmail is the ErrDuplicate of an email collision
	ErrDuplicateEmail = fmt.Errorf("%w: email", ErrDuplicate)
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// ProfileRepository persists manager and tenant profiles. Every method is
// addressed by role, which selects the table.
type ProfileRepository interface {
	// GetBySubjectID returns ErrNotFound when the subject has no profile in role's table
	GetBySubjectID(ctx context.Context, role identity.Role, subjectID string) (*models.Profile, error)

	// GetByEmail returns ErrNotFound when no profile in role's table has the email
	GetByEmail(ctx context.Context, role identity.Role, email string) (*models.Profile, error)

	// Create inserts the profile and fills ID. Returns ErrDuplicateSubject or
	// ErrDuplicateEmail on a collision, both matching ErrDuplicate.
	Create(ctx context.Context, profile *models.Profile) error

	// Update changes name, email and phone number for profile.SubjectID
	Update(ctx context.Context, profile *models.Profile) error
}

// AuthEventRepository persists the authentication audit trail
type AuthEventRepository interface {
	// Insert inserts a new auth event
	Insert(ctx context.Context, event *models.AuthEvent) error
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Profiles   ProfileRepository
	AuthEvents AuthEventRepository
}
