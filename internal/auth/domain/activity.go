package domain

import "time"

// Activity actions recorded by the fire-and-forget activity sink.
const (
	ActivityLogin         = "login"
	ActivityLoginFailed   = "login_failed"
	ActivityRefresh       = "refresh"
	ActivityRefreshReuse  = "refresh_reuse_detected"
	ActivityLogout        = "logout"
	ActivityLogoutAll     = "logout_all_devices"
	ActivityTokensRevoked = "tokens_revoked"
)

// ActivityEvent is a single audit entry. Events are written asynchronously
// and may be dropped under load; they are observability data, not a ledger.
type ActivityEvent struct {
	ID        string // ULID
	UserID    int64  // zero when the principal is unknown (e.g. failed login)
	Action    string
	SourceIP  string
	Detail    string
	CreatedAt time.Time
}
