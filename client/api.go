// Package client is the Go client of the rentiful API: an HTTP client for
// the credential endpoints and the session bootstrap that decides, on every
// navigation, where the user is allowed to be.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/upb/rentiful/backend/client/session"
	"github.com/upb/rentiful/backend/identity"
	"github.com/upb/rentiful/backend/models"
)

// ErrUnauthorized is matched by any APIError with status 401
var ErrUnauthorized = errors.New("unauthorized")

// AccessTokenHeader carries the provider access token used for user-info
// lookups when /auth/me provisions a profile
const AccessTokenHeader = "X-Provider-Access-Token"

// APIError is a non-2xx response
type APIError struct {
	StatusCode int
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error %d", e.StatusCode)
}

// Is reports 401s as ErrUnauthorized
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// RegisterRequest is the body of POST /auth/register
type RegisterRequest struct {
	Email    string        `json:"email"`
	Password string        `json:"password"`
	Name     string        `json:"name"`
	Role     identity.Role `json:"role"`
}

// Me is the body of GET /auth/me
type Me struct {
	User    models.Summary `json:"user"`
	Role    identity.Role  `json:"role"`
	Created bool           `json:"created"`
}

type sessionBody struct {
	Token string         `json:"token"`
	User  models.Summary `json:"user"`
}

// APIClient calls the credential endpoints and keeps store in step: a
// successful login or registration saves the session, a 401 clears it.
type APIClient struct {
	baseURL        string
	httpClient     *http.Client
	store          session.Store
	logger         *zap.Logger
	onUnauthorized func()
}

// Option configures an APIClient
type Option func(*APIClient)

// WithHTTPClient replaces the default client with a 10s timeout
func WithHTTPClient(c *http.Client) Option {
	return func(a *APIClient) {
		a.httpClient = c
	}
}

// WithUnauthorizedHandler runs fn after a protected call returns 401 and the
// stored session has been cleared
func WithUnauthorizedHandler(fn func()) Option {
	return func(a *APIClient) {
		a.onUnauthorized = fn
	}
}

// NewAPIClient creates a client for the API at baseURL
func NewAPIClient(baseURL string, store session.Store, logger *zap.Logger, opts ...Option) *APIClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		store:      store,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register creates a local account and stores the returned session
func (c *APIClient) Register(ctx context.Context, req RegisterRequest) (*session.Session, error) {
	var body sessionBody
	if err := c.do(ctx, http.MethodPost, "/auth/register", "", nil, req, &body); err != nil {
		return nil, err
	}
	return c.save(body)
}

// Login signs in with email and password and stores the returned session
func (c *APIClient) Login(ctx context.Context, email, password string) (*session.Session, error) {
	req := map[string]string{"email": email, "password": password}

	var body sessionBody
	if err := c.do(ctx, http.MethodPost, "/auth/login-local", "", nil, req, &body); err != nil {
		return nil, err
	}
	return c.save(body)
}

// Me resolves credential to its profile, which the server creates on
// first sight. accessToken is optional and only feeds the server's
// user-info lookup. A 401 clears the stored session.
func (c *APIClient) Me(ctx context.Context, credential, accessToken string) (*Me, error) {
	var header http.Header
	if accessToken != "" {
		header = http.Header{AccessTokenHeader: []string{accessToken}}
	}

	var me Me
	if err := c.do(ctx, http.MethodGet, "/auth/me", credential, header, nil, &me); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			c.unauthorized()
		}
		return nil, err
	}
	return &me, nil
}

func (c *APIClient) unauthorized() {
	if err := c.store.Clear(); err != nil {
		c.logger.Warn("failed to clear session", zap.Error(err))
	}
	if c.onUnauthorized != nil {
		c.onUnauthorized()
	}
}

func (c *APIClient) save(body sessionBody) (*session.Session, error) {
	sess := session.Session{Token: body.Token, User: body.User}
	if err := c.store.Save(sess); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	return &sess, nil
}

func (c *APIClient) do(ctx context.Context, method, path, credential string, header http.Header, in, out interface{}) error {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(apiErr)
		c.logger.Debug("api request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("error", apiErr.Code))
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
