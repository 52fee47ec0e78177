package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultRequestTimeout bounds every SDK request so a hung server surfaces as
// a transport failure instead of blocking the caller indefinitely.
const DefaultRequestTimeout = 15 * time.Second

// Client is a thin HTTP client for the auth endpoints. It carries no session
// state; Session and Synchronizer build on top of it.
type Client struct {
	baseURL string
	http    *http.Client
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client (custom transports,
// test doubles).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a Client for the auth service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultRequestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, email, password string, rememberMe bool) (*TokenResponse, error) {
	var out TokenResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", LoginRequest{
		Email:      email,
		Password:   password,
		RememberMe: rememberMe,
	}, "", &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh exchanges a refresh token for a new pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	var out TokenResponse
	err := c.do(ctx, http.MethodPost, "/auth/refresh", RefreshRequest{
		RefreshToken: refreshToken,
	}, "", &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout revokes the given tokens server-side.
func (c *Client) Logout(ctx context.Context, refreshToken, accessToken string, allDevices bool) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", LogoutRequest{
		RefreshToken: refreshToken,
		AllDevices:   allDevices,
	}, accessToken, nil)
}

// Validate asks the server whether an access token is still good. This is the
// authoritative check; local claim decoding is display-only.
func (c *Client) Validate(ctx context.Context, accessToken string) (*ValidateResponse, error) {
	var out ValidateResponse
	err := c.do(ctx, http.MethodGet, "/auth/validate", nil, accessToken, &out)
	if err != nil {
		if apiErr, ok := AsAPIError(err); ok && apiErr.Unauthorized() {
			return &ValidateResponse{Valid: false}, nil
		}
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, accessToken string, out any) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("authsdk: encoding request: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("authsdk: building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("authsdk: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if decodeErr := json.NewDecoder(resp.Body).Decode(apiErr); decodeErr != nil || apiErr.Code == "" {
			apiErr.Code = ErrorCodeServerError
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("authsdk: decoding response: %w", err)
		}
	}
	return nil
}
