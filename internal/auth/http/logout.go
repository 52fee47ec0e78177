package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/clearbook/clearbook/internal/auth/service"
	"github.com/clearbook/clearbook/pkg/authsdk"
	"github.com/clearbook/clearbook/pkg/httpx"
	"github.com/clearbook/clearbook/pkg/slogx"
)

// LogoutHandler serves POST /auth/logout.
//
// The refresh cookie is path-scoped to the refresh endpoint, so the refresh
// token arrives in the body when the caller wants it revoked server-side. The
// access token is read from its cookie or the Authorization header. Cookies
// are cleared unconditionally: logout never strands a client logged in.
type LogoutHandler struct {
	TokenService *service.TokenService
	Secure       bool
}

func (h *LogoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req authsdk.LogoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	accessToken := bearerToken(r)
	if accessToken == "" {
		if c, err := r.Cookie(httpx.AccessCookieName); err == nil {
			accessToken = c.Value
		}
	}

	httpx.ClearTokenCookies(w, h.Secure)

	if err := h.TokenService.Logout(ctx, req.RefreshToken, accessToken, httpx.IPKeyExtractor(r), req.AllDevices); err != nil {
		log.Error("logout revocation failed", "err", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// bearerToken extracts the token from an "Authorization: Bearer x" header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}
