package http

import (
	"net/http"
	"time"

	"github.com/clearbook/clearbook/internal/auth/revocation"
	"github.com/clearbook/clearbook/internal/auth/store"
	"github.com/clearbook/clearbook/pkg/authsdk"
	"github.com/clearbook/clearbook/pkg/httpx"
)

// ReadyzHandler is the readiness probe: checks the database and the
// revocation registry, reporting 503 when either is unreachable.
func ReadyzHandler(
	startTime time.Time,
	version string,
	st store.Store,
	revocations revocation.Store,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &authsdk.HealthChecks{
			Database:    "ok",
			Revocations: "ok",
		}
		overallStatus := "ok"
		statusCode := http.StatusOK

		if err := st.Ping(r.Context()); err != nil {
			checks.Database = "error: " + err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		// A read against a key that can never exist exercises the registry
		// round trip.
		if _, err := revocations.IsRevoked(r.Context(), revocation.Check{Signature: "readyz-probe"}); err != nil {
			checks.Revocations = "error: " + err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		httpx.WriteJSON(w, statusCode, authsdk.HealthResponse{
			Status:  overallStatus,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		})
	}
}
