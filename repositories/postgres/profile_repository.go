package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/upb/rentiful/backend/identity"
	"github.com/upb/rentiful/backend/models"
	"github.com/upb/rentiful/backend/repositories"
	"go.uber.org/zap"
)

const profileColumns = `id, cognito_id, name, email, phone_number, password_hash, created_at, updated_at`

// ProfileRepository implements repositories.ProfileRepository over the managers and tenants tables
type ProfileRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *DB, logger *zap.Logger) repositories.ProfileRepository {
	return &ProfileRepository{
		db:     db,
		logger: logger,
	}
}

func tableFor(role identity.Role) (string, error) {
	table, ok := models.TableName(role)
	if !ok {
		return "", fmt.Errorf("no profile table for role %q", role)
	}
	return table, nil
}

// GetBySubjectID retrieves a profile by its subject (cognito_id)
func (r *ProfileRepository) GetBySubjectID(ctx context.Context, role identity.Role, subjectID string) (*models.Profile, error) {
	table, err := tableFor(role)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE cognito_id = $1`, profileColumns, table)
	return r.getOne(ctx, role, query, subjectID)
}

// GetByEmail retrieves a profile by email
func (r *ProfileRepository) GetByEmail(ctx context.Context, role identity.Role, email string) (*models.Profile, error) {
	table, err := tableFor(role)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE email = $1`, profileColumns, table)
	return r.getOne(ctx, role, query, models.NormalizeEmail(email))
}

func (r *ProfileRepository) getOne(ctx context.Context, role identity.Role, query string, arg interface{}) (*models.Profile, error) {
	executor := GetExecutor(ctx, r.db)

	profile := &models.Profile{Role: role}
	var passwordHash sql.NullString
	err := executor.QueryRowContext(ctx, query, arg).Scan(
		&profile.ID,
		&profile.SubjectID,
		&profile.Name,
		&profile.Email,
		&profile.PhoneNumber,
		&passwordHash,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		if err = translateError(err); err == repositories.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get %s profile: %w", role, err)
	}

	profile.PasswordHash = passwordHash.String
	return profile, nil
}

// Create inserts a new profile and fills its ID
func (r *ProfileRepository) Create(ctx context.Context, profile *models.Profile) error {
	table, err := tableFor(profile.Role)
	if err != nil {
		return err
	}

	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = time.Now().UTC()
	}
	if profile.UpdatedAt.IsZero() {
		profile.UpdatedAt = profile.CreatedAt
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (cognito_id, name, email, phone_number, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, table)

	executor := GetExecutor(ctx, r.db)
	err = executor.QueryRowContext(ctx, query,
		profile.SubjectID,
		profile.Name,
		profile.Email,
		profile.PhoneNumber,
		sql.NullString{String: profile.PasswordHash, Valid: profile.PasswordHash != ""},
		profile.CreatedAt,
		profile.UpdatedAt,
	).Scan(&profile.ID)
	if err != nil {
		return fmt.Errorf("failed to create %s profile: %w", profile.Role, translateError(err))
	}

	r.logger.Debug("profile created",
		zap.String("role", profile.Role.String()),
		zap.String("subject_id", profile.SubjectID),
		zap.Int64("id", profile.ID),
	)
	return nil
}

// Update changes the editable fields of the profile with profile.SubjectID
func (r *ProfileRepository) Update(ctx context.Context, profile *models.Profile) error {
	table, err := tableFor(profile.Role)
	if err != nil {
		return err
	}

	profile.UpdatedAt = time.Now().UTC()
	query := fmt.Sprintf(`
		UPDATE %s
		SET name = $2,
		    email = $3,
		    phone_number = $4,
		    updated_at = $5
		WHERE cognito_id = $1
	`, table)

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		profile.SubjectID,
		profile.Name,
		profile.Email,
		profile.PhoneNumber,
		profile.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update %s profile: %w", profile.Role, translateError(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return repositories.ErrNotFound
	}

	r.logger.Debug("profile updated",
		zap.String("role", profile.Role.String()),
		zap.String("subject_id", profile.SubjectID),
	)
	return nil
}
