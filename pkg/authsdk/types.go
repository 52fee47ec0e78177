package authsdk

import "time"

// PrincipalInfo is the user snapshot embedded in token responses. It mirrors
// the claims baked into the access token and exists for display purposes; the
// server re-derives authorization from the token itself on every request.
type PrincipalInfo struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`

	// RememberMe extends the refresh token lifetime from the short session
	// default to the full configured window.
	RememberMe bool `json:"rememberMe,omitempty"`
}

// RefreshRequest is the optional body for POST /auth/refresh. The server also
// accepts the refresh token from its cookie.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken,omitempty"`
}

// LogoutRequest is the optional body for POST /auth/logout.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken,omitempty"`
	AllDevices   bool   `json:"allDevices,omitempty"`
}

// TokenResponse is returned by login and refresh.
type TokenResponse struct {
	AccessToken  string        `json:"accessToken"`
	RefreshToken string        `json:"refreshToken"`
	ExpiresIn    int           `json:"expiresIn"` // seconds
	User         PrincipalInfo `json:"user"`
}

// ValidateResponse is returned by GET /auth/validate. Valid is false for any
// bad token; the endpoint never reports a reason beyond the status code.
type ValidateResponse struct {
	Valid bool           `json:"valid"`
	User  *PrincipalInfo `json:"user,omitempty"`
}

// HealthChecks reports the state of the service's critical dependencies.
type HealthChecks struct {
	Database    string `json:"database"`
	Revocations string `json:"revocations"`
}

// HealthResponse is returned by the livez and readyz endpoints.
type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

// TokenState is the credential snapshot the SDK persists between runs.
type TokenState struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`

	// ExpiresAt is the access token expiry in Unix milliseconds.
	ExpiresAt int64 `json:"expiresAt"`

	// LastSync is when this snapshot was written, in Unix milliseconds. Used
	// to pick the fresher of two redundant stores.
	LastSync int64 `json:"lastSync"`
}

// Empty reports whether the snapshot holds no credentials.
func (s TokenState) Empty() bool {
	return s.AccessToken == "" && s.RefreshToken == ""
}

// Expiry returns ExpiresAt as a time. A zero ExpiresAt yields the zero time.
func (s TokenState) Expiry() time.Time {
	if s.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.ExpiresAt)
}
