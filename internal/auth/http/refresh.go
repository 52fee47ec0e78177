package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/clearbook/clearbook/internal/auth/service"
	"github.com/clearbook/clearbook/pkg/authsdk"
	"github.com/clearbook/clearbook/pkg/httpx"
	"github.com/clearbook/clearbook/pkg/slogx"
)

// RefreshHandler serves POST /auth/refresh.
//
// The refresh token is taken from the refresh cookie when present, otherwise
// from the JSON body (SDK clients that do not use cookies). Any invalid,
// expired, revoked or conflicting token yields 401 and clears both cookies; a
// deactivated account yields 403 and leaves cookies alone.
type RefreshHandler struct {
	TokenService *service.TokenService
	Secure       bool
}

func (h *RefreshHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	refreshOpaque := ""
	if c, err := r.Cookie(httpx.RefreshCookieName); err == nil {
		refreshOpaque = c.Value
	}
	if refreshOpaque == "" {
		var req authsdk.RefreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			authsdk.ErrInvalidRequest.WriteError(w)
			return
		}
		refreshOpaque = req.RefreshToken
	}
	if refreshOpaque == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	pair, err := h.TokenService.Refresh(ctx, refreshOpaque, httpx.IPKeyExtractor(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRefresh):
			httpx.ClearTokenCookies(w, h.Secure)
			authsdk.ErrInvalidRefresh.WriteError(w)
		case errors.Is(err, service.ErrPrincipalInactive):
			authsdk.ErrAccountInactive.WriteError(w)
		default:
			log.Error("refresh failed", "err", err)
			authsdk.ErrServerError.WriteError(w)
		}
		return
	}

	httpx.SetTokenCookies(w, pair.AccessToken, pair.RefreshToken,
		h.TokenService.AccessTTL, h.TokenService.RefreshTTL, h.Secure)

	httpx.WriteJSON(w, http.StatusOK, authsdk.TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    int(pair.ExpiresIn.Seconds()),
		User: authsdk.PrincipalInfo{
			ID:    pair.Principal.ID,
			Name:  pair.Principal.Name,
			Email: pair.Principal.Email,
			Role:  pair.Principal.Role,
		},
	})
}
