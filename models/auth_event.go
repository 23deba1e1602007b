package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/upb/rentiful/backend/identity"
)

// AuthAction represents the type of authentication event being recorded
type AuthAction string

const (
	AuthActionRegistered         AuthAction = "registered"
	AuthActionLoginSucceeded     AuthAction = "login_succeeded"
	AuthActionLoginFailed        AuthAction = "login_failed"
	AuthActionProfileProvisioned AuthAction = "profile_provisioned"
)

// AuthOutcome is the result recorded with an event
type AuthOutcome string

const (
	AuthOutcomeSuccess AuthOutcome = "success"
	AuthOutcomeFailure AuthOutcome = "failure"
)

// AuthEvent is an audit trail entry for an authentication event.
// It never carries passwords, hashes or credentials.
type AuthEvent struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	Action    AuthAction      `json:"action" db:"action"`
	Outcome   AuthOutcome     `json:"outcome" db:"outcome"`
	Role      identity.Role   `json:"role,omitempty" db:"role"`
	SubjectID string          `json:"subjectId,omitempty" db:"subject_id"`
	Email     string          `json:"email,omitempty" db:"email"`
	RequestID string          `json:"requestId,omitempty" db:"request_id"`
	IPAddress string          `json:"ipAddress,omitempty" db:"ip_address"`
	UserAgent string          `json:"userAgent,omitempty" db:"user_agent"`
	Details   json.RawMessage `json:"details,omitempty" db:"details"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the AuthEvent model
func (AuthEvent) TableName() string {
	return "auth_events"
}

// NewAuthEvent creates a new AuthEvent instance
func NewAuthEvent(action AuthAction, outcome AuthOutcome) *AuthEvent {
	return &AuthEvent{
		ID:        uuid.New(),
		Action:    action,
		Outcome:   outcome,
		Timestamp: time.Now().UTC(),
	}
}

// WithSubject sets the role and subject the event is about
func (e *AuthEvent) WithSubject(role identity.Role, subjectID, email string) *AuthEvent {
	e.Role = role
	e.SubjectID = subjectID
	e.Email = email
	return e
}

// WithDetails sets the details
func (e *AuthEvent) WithDetails(details interface{}) *AuthEvent {
	if data, err := json.Marshal(details); err == nil {
		e.Details = data
	}
	return e
}

// WithRequest sets request metadata
func (e *AuthEvent) WithRequest(requestID, ipAddress, userAgent string) *AuthEvent {
	e.RequestID = requestID
	e.IPAddress = ipAddress
	e.UserAgent = userAgent
	return e
}
