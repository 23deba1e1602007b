package cognito

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrUserInfoFailed is returned when the provider's user-info endpoint cannot be used
var ErrUserInfoFailed = errors.New("user info lookup failed")

// UserInfo is the subset of the OAuth2 userInfo response used for provisioning
type UserInfo struct {
	Sub      string `json:"sub"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Role     string `json:"custom:role"`
}

// UserInfoClient queries {domain}/oauth2/userInfo. The endpoint accepts
// access tokens only; ID tokens are rejected.
type UserInfoClient struct {
	endpoint   string
	httpClient *http.Client
}

// NewUserInfoClient creates a client for the Cognito hosted domain.
// Returns nil when domain is empty so callers can treat lookups as disabled.
func NewUserInfoClient(domain string, timeout time.Duration) *UserInfoClient {
	domain = strings.TrimRight(strings.TrimSpace(domain), "/")
	if domain == "" {
		return nil
	}
	if !strings.HasPrefix(domain, "http://") && !strings.HasPrefix(domain, "https://") {
		domain = "https://" + domain
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &UserInfoClient{
		endpoint:   domain + "/oauth2/userInfo",
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetUserInfo fetches profile attributes for the holder of accessToken
func (c *UserInfoClient) GetUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserInfoFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status code %d", ErrUserInfoFailed, resp.StatusCode)
	}

	var info UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUserInfoFailed, err)
	}

	return &info, nil
}
