package authsdk

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrThrottled is returned when a refresh is requested again before the
// minimum interval has passed. The caller keeps using its current token.
var ErrThrottled = errors.New("authsdk: refresh throttled")

const (
	// DefaultMinInterval is the minimum spacing between refresh attempts.
	DefaultMinInterval = 5 * time.Second

	// DefaultSuccessWindow is how long a completed refresh keeps answering
	// new triggers from its cached outcome without touching the network.
	DefaultSuccessWindow = 2 * time.Second

	baseRetryBackoff = time.Minute
	maxRetryBackoff  = 4 * time.Minute
)

// Synchronizer coordinates token refreshes for a single client process.
// Concurrent triggers collapse into one network call whose outcome every
// caller shares; a proactive timer renews the token before expiry; repeated
// failures back off exponentially; a 401 from the server is terminal for the
// session and is never retried.
type Synchronizer struct {
	client *Client
	cache  *TokenCache

	MinInterval   time.Duration
	SuccessWindow time.Duration

	// RefreshBuffer is how long before expiry the proactive refresh fires.
	// Zero means a tenth of the token lifetime, clamped to [30s, 5m].
	RefreshBuffer time.Duration

	// OnRefreshed is invoked after every successful refresh, proactive or
	// triggered.
	OnRefreshed func(*TokenResponse)

	// OnSessionExpired is invoked once when the server answers 401: the
	// session is gone and only a fresh login brings it back.
	OnSessionExpired func()

	group singleflight.Group

	mu          sync.Mutex
	gen         uint64
	stopped     bool
	lastAttempt time.Time
	lastSuccess time.Time
	lastOutcome *TokenResponse
	failures    int
	timer       *time.Timer

	now func() time.Time
}

func NewSynchronizer(client *Client, cache *TokenCache) *Synchronizer {
	return &Synchronizer{
		client:        client,
		cache:         cache,
		MinInterval:   DefaultMinInterval,
		SuccessWindow: DefaultSuccessWindow,
		now:           time.Now,
	}
}

// Prime seeds the synchronizer with a freshly minted pair (login) and arms
// the proactive refresh timer.
func (s *Synchronizer) Prime(resp *TokenResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = false
	s.failures = 0
	s.lastOutcome = resp
	s.lastSuccess = s.now()
	s.scheduleLocked(time.Duration(resp.ExpiresIn) * time.Second)
}

// Cancel stops the proactive timer and invalidates any in-flight refresh:
// a response landing after Cancel is discarded, never written back. Used on
// logout so a slow refresh cannot resurrect cleared credentials.
func (s *Synchronizer) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	s.stopped = true
	s.lastOutcome = nil
	s.stopTimerLocked()
}

// Refresh obtains a fresh token pair, deduplicating concurrent callers onto
// one network call.
func (s *Synchronizer) Refresh(ctx context.Context) (*TokenResponse, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrNotAuthenticated
	}
	// A refresh that just succeeded answers for every trigger in its wake.
	if s.lastOutcome != nil && s.now().Sub(s.lastSuccess) <= s.SuccessWindow {
		outcome := s.lastOutcome
		s.mu.Unlock()
		return outcome, nil
	}
	gen := s.gen
	s.mu.Unlock()

	v, err, _ := s.group.Do("refresh", func() (any, error) {
		return s.doRefresh(ctx, gen)
	})
	if err != nil {
		return nil, err
	}
	return v.(*TokenResponse), nil
}

func (s *Synchronizer) doRefresh(ctx context.Context, gen uint64) (*TokenResponse, error) {
	s.mu.Lock()
	if since := s.now().Sub(s.lastAttempt); since < s.MinInterval {
		s.mu.Unlock()
		return nil, ErrThrottled
	}
	s.lastAttempt = s.now()
	s.mu.Unlock()

	state, err := s.cache.Load()
	if err != nil {
		return nil, err
	}
	if state.RefreshToken == "" {
		return nil, ErrNotAuthenticated
	}

	resp, err := s.client.Refresh(ctx, state.RefreshToken)

	s.mu.Lock()
	if gen != s.gen {
		// Cancelled (logged out) while the request was in flight. Drop the
		// result on the floor regardless of outcome.
		s.mu.Unlock()
		return nil, ErrNotAuthenticated
	}

	if err != nil {
		if IsUnauthorized(err) {
			// Terminal: the refresh token is dead. Clear everything and stop.
			s.stopped = true
			s.lastOutcome = nil
			s.stopTimerLocked()
			callback := s.OnSessionExpired
			s.mu.Unlock()

			_ = s.cache.Clear()
			if callback != nil {
				callback()
			}
			return nil, err
		}

		// Transient failure: back off and retry in the background.
		s.failures++
		backoff := maxRetryBackoff
		if s.failures <= 3 {
			backoff = baseRetryBackoff << (s.failures - 1)
		}
		s.scheduleRetryLocked(backoff)
		s.mu.Unlock()
		return nil, err
	}

	s.failures = 0
	s.lastOutcome = resp
	s.lastSuccess = s.now()
	s.scheduleLocked(time.Duration(resp.ExpiresIn) * time.Second)
	onRefreshed := s.OnRefreshed
	s.mu.Unlock()

	if saveErr := s.cache.Save(TokenState{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    s.now().Add(time.Duration(resp.ExpiresIn) * time.Second).UnixMilli(),
	}); saveErr != nil {
		return nil, saveErr
	}

	if onRefreshed != nil {
		onRefreshed(resp)
	}
	return resp, nil
}

// scheduleLocked arms the proactive timer to fire shortly before the access
// token expires, with jitter so a fleet of clients does not refresh in
// lockstep. Caller holds s.mu.
func (s *Synchronizer) scheduleLocked(ttl time.Duration) {
	buffer := s.RefreshBuffer
	if buffer <= 0 {
		buffer = ttl / 10
		if buffer < 30*time.Second {
			buffer = 30 * time.Second
		}
		if buffer > 5*time.Minute {
			buffer = 5 * time.Minute
		}
	}

	delay := ttl - buffer
	if delay < 0 {
		delay = 0
	}
	if jitter := buffer / 5; jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(2*jitter))) - jitter
		if delay < 0 {
			delay = 0
		}
	}
	s.armTimerLocked(delay)
}

// scheduleRetryLocked arms the timer for a backoff retry. Caller holds s.mu.
func (s *Synchronizer) scheduleRetryLocked(backoff time.Duration) {
	s.armTimerLocked(backoff)
}

func (s *Synchronizer) armTimerLocked(delay time.Duration) {
	s.stopTimerLocked()
	gen := s.gen
	s.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		stale := s.stopped || gen != s.gen
		s.mu.Unlock()
		if stale {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), DefaultRequestTimeout)
		defer cancel()
		_, _ = s.Refresh(ctx)
	})
}

func (s *Synchronizer) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
