package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/clearbook/clearbook/internal/auth/domain"
	"github.com/clearbook/clearbook/internal/auth/revocation"
	"github.com/clearbook/clearbook/internal/auth/store"
	"github.com/clearbook/clearbook/pkg/cryptox"
	"github.com/clearbook/clearbook/pkg/idx"
	"github.com/clearbook/clearbook/pkg/jwtx"
	"github.com/clearbook/clearbook/pkg/slogx"
)

var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrInvalidRefresh     = errors.New("invalid_refresh_token")
	ErrInvalidToken       = errors.New("invalid_access_token")
	ErrPrincipalInactive  = errors.New("principal_inactive")

	// errRotationLost is internal: the concurrent-rotation loser. Surfaced to
	// callers as ErrInvalidRefresh since their only recourse is to
	// re-authenticate.
	errRotationLost = errors.New("rotation_lost")
)

// TokenService owns the token lifecycle: issuance on login, validation,
// single-use refresh rotation, and revocation on logout or reuse detection.
type TokenService struct {
	Codec       jwtx.Codec
	Store       store.Store
	Revocations revocation.Store
	Activity    *ActivityService

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// SessionTTL is the refresh token lifetime when the caller did not ask to
	// be remembered.
	SessionTTL time.Duration

	// RotateRefresh controls single-use rotation. When off, the same refresh
	// token is reused until natural expiry. Weaker, but some deployments opt
	// out.
	RotateRefresh bool

	// ReuseGraceWindow tolerates presentation of a just-rotated token for
	// this long before treating reuse as theft. Zero means strict: any reuse
	// of a revoked token revokes every sibling token for that user.
	ReuseGraceWindow time.Duration
}

// Login verifies credentials and mints a fresh token pair.
func (s *TokenService) Login(ctx context.Context, email, password, sourceIP string, rememberMe bool) (*domain.TokenPair, error) {
	now := time.Now().UTC()
	l := slogx.FromContext(ctx)

	p, err := s.Store.Principals().GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.record(domain.ActivityEvent{Action: domain.ActivityLoginFailed, SourceIP: sourceIP, Detail: "unknown email"})
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := cryptox.VerifyPassword(password, p.PasswordHash); err != nil {
		l.Info("login password verification failed", slog.Int64("user_id", p.ID))
		s.record(domain.ActivityEvent{UserID: p.ID, Action: domain.ActivityLoginFailed, SourceIP: sourceIP, Detail: "bad password"})
		return nil, ErrInvalidCredentials
	}

	if !p.IsActive() {
		return nil, ErrPrincipalInactive
	}

	refreshTTL := s.RefreshTTL
	if !rememberMe && s.SessionTTL > 0 {
		refreshTTL = s.SessionTTL
	}

	accessToken, err := s.signAccess(p, now)
	if err != nil {
		return nil, err
	}

	refreshOpaque, err := s.issueRefreshToken(ctx, s.Store, p.ID, refreshTTL, sourceIP, now)
	if err != nil {
		return nil, err
	}

	s.record(domain.ActivityEvent{UserID: p.ID, Action: domain.ActivityLogin, SourceIP: sourceIP})

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshOpaque,
		ExpiresIn:    s.AccessTTL,
		Principal:    p,
	}, nil
}

// Refresh exchanges a refresh token for a new pair.
//
// States per attempt: looked up, then not-found / revoked / expired / valid.
// A revoked token being presented again is treated as a signal of theft or
// replay: every sibling token for that user is revoked before failing, unless
// the presentation falls inside the reuse grace window (a legitimate retry of
// a just-rotated request).
func (s *TokenService) Refresh(ctx context.Context, refreshOpaque, sourceIP string) (*domain.TokenPair, error) {
	now := time.Now().UTC()
	l := slogx.FromContext(ctx)

	fp := cryptox.FingerprintToken(refreshOpaque)
	rt, err := s.Store.RefreshTokens().GetByHash(ctx, fp)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidRefresh
		}
		return nil, err
	}

	if rt.Revoked {
		if s.withinReuseGrace(rt, now) {
			return nil, ErrInvalidRefresh
		}
		s.respondToReuse(ctx, rt, sourceIP, now)
		return nil, ErrInvalidRefresh
	}

	if rt.Expired(now) {
		return nil, ErrInvalidRefresh
	}

	p, err := s.Store.Principals().GetByID(ctx, rt.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidRefresh
		}
		return nil, err
	}
	if !p.IsActive() {
		return nil, ErrPrincipalInactive
	}

	accessToken, err := s.signAccess(p, now)
	if err != nil {
		return nil, err
	}

	if !s.RotateRefresh {
		// Rotation disabled: hand back the same refresh token.
		s.record(domain.ActivityEvent{UserID: p.ID, Action: domain.ActivityRefresh, SourceIP: sourceIP})
		return &domain.TokenPair{
			AccessToken:  accessToken,
			RefreshToken: refreshOpaque,
			ExpiresIn:    s.AccessTTL,
			Principal:    p,
		}, nil
	}

	newOpaque, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, err
	}
	newFP := cryptox.FingerprintToken(newOpaque)

	// The replacement inherits the consumed token's lifetime, so a short
	// session stays a short session across rotations instead of silently
	// becoming a remembered one.
	newRT := domain.RefreshToken{
		ID:          idx.New().String(),
		UserID:      p.ID,
		TokenHash:   newFP,
		ExpiresAt:   now.Add(rt.ExpiresAt.Sub(rt.CreatedAt)),
		CreatedAt:   now,
		CreatedByIP: sourceIP,
	}

	// Revoke-old and create-new must be atomic: the claim on the old row is a
	// compare-and-swap, so of two concurrent rotations of the same token only
	// one commits a successor.
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		claimed, err := tx.RefreshTokens().Revoke(ctx, fp, sourceIP, newFP, now)
		if err != nil {
			return err
		}
		if !claimed {
			return errRotationLost
		}
		return tx.RefreshTokens().Create(ctx, newRT)
	})
	if err != nil {
		if errors.Is(err, errRotationLost) {
			l.Info("concurrent rotation lost", slog.Int64("user_id", p.ID))
			return nil, ErrInvalidRefresh
		}
		return nil, err
	}

	s.record(domain.ActivityEvent{UserID: p.ID, Action: domain.ActivityRefresh, SourceIP: sourceIP})

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: newOpaque,
		ExpiresIn:    s.AccessTTL,
		Principal:    p,
	}, nil
}

// Validate checks an access token: signature and expiry via the codec, then
// the revocation registry. Any ambiguity (store unreachable, undecodable
// token) is treated as not valid.
func (s *TokenService) Validate(ctx context.Context, accessToken string) (jwtx.Claims, error) {
	claims, err := s.Codec.Verify(accessToken)
	if err != nil {
		return jwtx.Claims{}, ErrInvalidToken
	}

	sig, err := jwtx.Signature(accessToken)
	if err != nil {
		return jwtx.Claims{}, ErrInvalidToken
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return jwtx.Claims{}, ErrInvalidToken
	}

	check := revocation.Check{Signature: sig, UserID: userID}
	if claims.IssuedAt != nil {
		check.IssuedAt = claims.IssuedAt.Time
	}

	revoked, err := s.Revocations.IsRevoked(ctx, check)
	if err != nil {
		slogx.FromContext(ctx).Error("revocation check failed, failing closed", slog.Any("error", err))
		return jwtx.Claims{}, ErrInvalidToken
	}
	if revoked {
		return jwtx.Claims{}, ErrInvalidToken
	}

	return claims, nil
}

// Logout revokes the presented credentials. The refresh token is revoked if
// known; the access token's signature is blacklisted for its remaining
// lifetime; allDevices additionally revokes every sibling token for the user.
func (s *TokenService) Logout(ctx context.Context, refreshOpaque, accessToken, sourceIP string, allDevices bool) error {
	now := time.Now().UTC()
	l := slogx.FromContext(ctx)

	var userID int64

	if refreshOpaque != "" {
		fp := cryptox.FingerprintToken(refreshOpaque)
		rt, err := s.Store.RefreshTokens().GetByHash(ctx, fp)
		switch {
		case err == nil:
			userID = rt.UserID
			if _, err := s.Store.RefreshTokens().Revoke(ctx, fp, sourceIP, "", now); err != nil {
				return err
			}
		case errors.Is(err, store.ErrNotFound):
			// Already gone; logout is idempotent.
		default:
			return err
		}
	}

	if accessToken != "" {
		if claims, err := s.Codec.Verify(accessToken); err == nil {
			if sig, err := jwtx.Signature(accessToken); err == nil {
				if err := s.Revocations.RevokeToken(ctx, sig, claims.ExpiresAt.Time); err != nil {
					l.Warn("failed to blacklist access token on logout", slog.Any("error", err))
				}
			}
			if userID == 0 {
				userID, _ = strconv.ParseInt(claims.Subject, 10, 64)
			}
		}
	}

	if allDevices && userID != 0 {
		if err := s.Store.RefreshTokens().RevokeAllForUser(ctx, userID, sourceIP, now); err != nil {
			return err
		}
		if err := s.Revocations.RevokeAllForUser(ctx, userID); err != nil {
			l.Warn("failed to set user revocation marker", slog.Any("error", err))
		}
		s.record(domain.ActivityEvent{UserID: userID, Action: domain.ActivityLogoutAll, SourceIP: sourceIP})
		return nil
	}

	s.record(domain.ActivityEvent{UserID: userID, Action: domain.ActivityLogout, SourceIP: sourceIP})
	return nil
}

func (s *TokenService) signAccess(p domain.Principal, now time.Time) (string, error) {
	claims := jwtx.NewAccessClaims(
		strconv.FormatInt(p.ID, 10),
		p.Name,
		p.Email,
		p.Role,
		s.AccessTTL,
		s.Codec.Issuer,
		s.Codec.Audience,
		now,
	)
	return s.Codec.Sign(claims)
}

func (s *TokenService) issueRefreshToken(ctx context.Context, st store.Store, userID int64, ttl time.Duration, sourceIP string, now time.Time) (string, error) {
	opaque, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", err
	}

	rt := domain.RefreshToken{
		ID:          idx.New().String(),
		UserID:      userID,
		TokenHash:   cryptox.FingerprintToken(opaque),
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
		CreatedByIP: sourceIP,
	}
	if err := st.RefreshTokens().Create(ctx, rt); err != nil {
		return "", err
	}
	return opaque, nil
}

func (s *TokenService) withinReuseGrace(rt domain.RefreshToken, now time.Time) bool {
	if s.ReuseGraceWindow <= 0 || rt.RevokedAt == nil {
		return false
	}
	return now.Sub(*rt.RevokedAt) <= s.ReuseGraceWindow
}

// respondToReuse handles presentation of an already-revoked refresh token:
// the replay defence revokes every token for the affected user.
func (s *TokenService) respondToReuse(ctx context.Context, rt domain.RefreshToken, sourceIP string, now time.Time) {
	l := slogx.FromContext(ctx)
	l.Warn("revoked refresh token presented, revoking all user tokens",
		slog.Int64("user_id", rt.UserID))

	if err := s.Store.RefreshTokens().RevokeAllForUser(ctx, rt.UserID, sourceIP, now); err != nil {
		l.Error("failed to revoke sibling refresh tokens", slog.Any("error", err))
	}
	if err := s.Revocations.RevokeAllForUser(ctx, rt.UserID); err != nil {
		l.Error("failed to set user revocation marker", slog.Any("error", err))
	}

	s.record(domain.ActivityEvent{UserID: rt.UserID, Action: domain.ActivityRefreshReuse, SourceIP: sourceIP})
	s.record(domain.ActivityEvent{UserID: rt.UserID, Action: domain.ActivityTokensRevoked, SourceIP: sourceIP, Detail: "refresh token reuse"})
}

func (s *TokenService) record(e domain.ActivityEvent) {
	if s.Activity != nil {
		s.Activity.Record(e)
	}
}
