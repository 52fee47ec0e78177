package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/clearbook/clearbook/internal/auth/service"
	"github.com/clearbook/clearbook/pkg/authsdk"
	"github.com/clearbook/clearbook/pkg/httpx"
	"github.com/clearbook/clearbook/pkg/slogx"
)

// LoginHandler serves POST /auth/login.
type LoginHandler struct {
	TokenService *service.TokenService
	Secure       bool
}

func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req authsdk.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	pair, err := h.TokenService.Login(ctx, req.Email, req.Password, httpx.IPKeyExtractor(r), req.RememberMe)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			authsdk.ErrInvalidCredentials.WriteError(w)
		case errors.Is(err, service.ErrPrincipalInactive):
			authsdk.ErrAccountInactive.WriteError(w)
		default:
			log.Error("login failed", "err", err)
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
