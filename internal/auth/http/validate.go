package http

import (
	"net/http"
	"strconv"

	"github.com/clearbook/clearbook/internal/auth/service"
	"github.com/clearbook/clearbook/pkg/authsdk"
	"github.com/clearbook/clearbook/pkg/httpx"
)

// ValidateHandler serves GET /auth/validate.
//
// A bad token of any kind (missing, malformed, expired, revoked, registry
// unreachable) is an expected outcome, not a server failure: the response is
// always 401 {valid:false}, never a 500.
type ValidateHandler struct {
	TokenService *service.TokenService
}

func (h *ValidateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	accessToken := bearerToken(r)
	if accessToken == "" {
		if c, err := r.Cookie(httpx.AccessCookieName); err == nil {
			accessToken = c.Value
		}
	}
	if accessToken == "" {
		httpx.WriteJSON(w, http.StatusUnauthorized, authsdk.ValidateResponse{Valid: false})
		return
	}

	claims, err := h.TokenService.Validate(r.Context(), accessToken)
	if err != nil {
		httpx.WriteJSON(w, http.StatusUnauthorized, authsdk.ValidateResponse{Valid: false})
		return
	}

	id, _ := strconv.ParseInt(claims.Subject, 10, 64)
	httpx.WriteJSON(w, http.StatusOK, authsdk.ValidateResponse{
		Valid: true,
		User: &authsdk.PrincipalInfo{
			ID:    id,
			Name:  claims.Name,
			Email: claims.Email,
			Role:  claims.Role,
		},
	})
}
