package httpx

import (
	"net/http"
	"time"
)

const (
	// AccessCookieName carries the short-lived access token, readable by the
	// whole application.
	AccessCookieName = "auth_token"

	// RefreshCookieName carries the long-lived refresh token. Its path is
	// restricted to the refresh endpoint so it is never sent elsewhere.
	RefreshCookieName = "refresh_token"

	// RefreshCookiePath is the only path the refresh cookie is presented to.
	RefreshCookiePath = "/auth/refresh"
)

// SetTokenCookies writes the access and refresh cookies after a successful
// login or refresh. Both are httpOnly; Secure is controlled by the caller so
// local development over plain HTTP still works.
func SetTokenCookies(w http.ResponseWriter, accessToken, refreshToken string, accessTTL, refreshTTL time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AccessCookieName,
		Value:    accessToken,
		Path:     "/",
		MaxAge:   int(accessTTL.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    refreshToken,
		Path:     RefreshCookiePath,
		MaxAge:   int(refreshTTL.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearTokenCookies expires both token cookies.
func ClearTokenCookies(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AccessCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     RefreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}
