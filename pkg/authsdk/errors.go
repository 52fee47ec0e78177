package authsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/clearbook/clearbook/pkg/httpx"
)

const (
	ErrorCodeInvalidRequest     = "invalid_request"
	ErrorCodeInvalidCredentials = "invalid_credentials"
	ErrorCodeInvalidToken       = "invalid_token"
	ErrorCodeInvalidRefresh     = "invalid_refresh_token"
	ErrorCodeAccountInactive    = "account_inactive"
	ErrorCodeServerError        = "server_error"
)

// APIError is the wire error shape shared by the server handlers and the SDK
// client. The server writes it; the client decodes it back into the same type
// so callers can match on Code and StatusCode.
type APIError struct {
	// StatusCode is the HTTP status code, not serialized in the body.
	StatusCode int `json:"-"`

	Code    string `json:"error"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WriteError writes this APIError to an HTTP response writer.
func (e *APIError) WriteError(w http.ResponseWriter) {
	httpx.NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	_ = json.NewEncoder(w).Encode(e)
}

// Unauthorized reports whether the error is a 401. The client treats these as
// terminal for the current session: credentials are cleared and no retry is
// scheduled.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

var (
	// ErrInvalidRequest covers malformed bodies and missing required fields.
	ErrInvalidRequest = &APIError{
		StatusCode: http.StatusBadRequest,
		Code:       ErrorCodeInvalidRequest,
		Message:    "the request is malformed or missing required parameters",
	}

	// ErrInvalidCredentials is returned for a failed login. Deliberately does
	// not distinguish unknown email from wrong password.
	ErrInvalidCredentials = &APIError{
		StatusCode: http.StatusUnauthorized,
		Code:       ErrorCodeInvalidCredentials,
		Message:    "invalid email or password",
	}

	// ErrInvalidToken is returned when the access token is missing, invalid,
	// expired or revoked.
	ErrInvalidToken = &APIError{
		StatusCode: http.StatusUnauthorized,
		Code:       ErrorCodeInvalidToken,
		Message:    "the access token is missing, invalid, expired or revoked",
	}

	// ErrInvalidRefresh is returned when the refresh token is unknown, expired,
	// revoked, or lost a concurrent rotation. The only recourse is to log in
	// again.
	ErrInvalidRefresh = &APIError{
		StatusCode: http.StatusUnauthorized,
		Code:       ErrorCodeInvalidRefresh,
		Message:    "the refresh token is invalid, expired or revoked",
	}

	// ErrAccountInactive is returned when credentials or tokens are valid but
	// the account has been deactivated.
	ErrAccountInactive = &APIError{
		StatusCode: http.StatusForbidden,
		Code:       ErrorCodeAccountInactive,
		Message:    "the account is deactivated",
	}

	// ErrServerError is returned for unexpected failures.
	ErrServerError = &APIError{
		StatusCode: http.StatusInternalServerError,
		Code:       ErrorCodeServerError,
		Message:    "internal server error",
	}
)

// ErrNotAuthenticated is returned by SDK operations that require a session
// when no credentials are held locally.
var ErrNotAuthenticated = errors.New("authsdk: not authenticated")

// AsAPIError unwraps err into an *APIError if one is in the chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsUnauthorized reports whether err carries an HTTP 401.
func IsUnauthorized(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Unauthorized()
}
