package auth

import (
	"context"
	"sync"
	"time"

	"github.com/a-cube-io/ereceipts-sdk-go/events"
	sdkerrors "github.com/a-cube-io/ereceipts-sdk-go/errors"
	"github.com/a-cube-io/ereceipts-sdk-go/logging"
	"github.com/a-cube-io/ereceipts-sdk-go/resilience"
)

// RefreshResult is the outcome of a successful token refresh (spec §6's
// token/refresh response shape).
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    time.Duration
}

// Refresher performs the HTTP round trip to the refresh endpoint. Callers
// supply a concrete implementation; the Token Manager only needs the
// resolved outcome (spec's "the orchestrator only needs ... headers"
// pattern applied to auth's own HTTP collaborator).
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (RefreshResult, error)
}

// TokenManagerConfig tunes refresh scheduling and backoff.
type TokenManagerConfig struct {
	RefreshBuffer      time.Duration
	MaxRefreshAttempts int
	Retry              resilience.RetryConfig
	EnableRotation     bool
}

func (c TokenManagerConfig) withDefaults() TokenManagerConfig {
	if c.RefreshBuffer <= 0 {
		c.RefreshBuffer = 60 * time.Second
	}
	if c.MaxRefreshAttempts <= 0 {
		c.MaxRefreshAttempts = 5
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry = resilience.RetryConfig{Policy: resilience.PolicyExponential, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Factor: 2}
	}
	return c
}

// current is the in-memory (access, refresh, expires-at) triple the Token
// Manager exclusively owns (spec §3 ownership rules).
type current struct {
	accessToken  string
	refreshToken string
	tokenType    string
	expiresAt    time.Time
}

// TokenManager owns the active token triple, the refresh timer, and
// single-flight refresh coordination (spec §4.4).
type TokenManager struct {
	cfg       TokenManagerConfig
	refresher Refresher
	bus       *events.Bus
	logger    *logging.Logger

	mu    sync.RWMutex
	cur   current
	timer *time.Timer

	refreshMu   sync.Mutex
	refreshing  bool
	refreshWait chan struct{}
	refreshErr  error
}

// NewTokenManager constructs a TokenManager. An "expired" event is
// published on bus once the refresh attempt budget is exhausted.
func NewTokenManager(cfg TokenManagerConfig, refresher Refresher, bus *events.Bus, logger *logging.Logger) *TokenManager {
	return &TokenManager{cfg: cfg.withDefaults(), refresher: refresher, bus: bus, logger: logger}
}

// Install sets the active token triple and (re)schedules the refresh timer.
func (m *TokenManager) Install(accessToken, refreshToken, tokenType string, expiresAt time.Time) {
	m.mu.Lock()
	m.cur = current{accessToken: accessToken, refreshToken: refreshToken, tokenType: tokenType, expiresAt: expiresAt}
	m.mu.Unlock()
	m.scheduleRefresh(expiresAt)
}

// AccessToken returns the current access token, or "" if none is installed.
func (m *TokenManager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur.accessToken
}

// ExpiresAt returns the current token's absolute expiry.
func (m *TokenManager) ExpiresAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur.expiresAt
}

// Clear drops the current token triple and cancels any pending refresh timer.
func (m *TokenManager) Clear() {
	m.mu.Lock()
	m.cur = current{}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()
}

// scheduleRefresh arms the refresh timer at expires_at - refresh_buffer,
// firing immediately if that delay is <= 0 (spec §4.4 "Schedule refresh").
func (m *TokenManager) scheduleRefresh(expiresAt time.Time) {
	delay := time.Until(expiresAt.Add(-m.cfg.RefreshBuffer))
	if delay < 0 {
		delay = 0
	}

	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(delay, func() {
		_, _ = m.Refresh(context.Background())
	})
	m.mu.Unlock()
}

// Refresh performs a single-flight token refresh with exponential backoff
// (spec §4.4 "Refresh"/"Backoff"/"Concurrency"). Concurrent callers observe
// the same outcome.
func (m *TokenManager) Refresh(ctx context.Context) (RefreshResult, error) {
	m.refreshMu.Lock()
	if m.refreshing {
		wait := m.refreshWait
		m.refreshMu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return RefreshResult{}, ctx.Err()
		}
		return m.lastRefreshOutcome()
	}
	m.refreshing = true
	m.refreshWait = make(chan struct{})
	m.refreshMu.Unlock()

	result, err := m.doRefreshWithBackoff(ctx)

	m.refreshMu.Lock()
	m.refreshErr = err
	m.refreshing = false
	close(m.refreshWait)
	m.refreshMu.Unlock()

	return result, err
}

// lastRefreshOutcome is read by waiters after the leader's refresh completes.
func (m *TokenManager) lastRefreshOutcome() (RefreshResult, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()
	if m.refreshErr != nil {
		return RefreshResult{}, m.refreshErr
	}
	return RefreshResult{AccessToken: m.AccessToken(), ExpiresIn: time.Until(m.ExpiresAt())}, nil
}

func (m *TokenManager) doRefreshWithBackoff(ctx context.Context) (RefreshResult, error) {
	m.publish(events.NameRefreshStarted, events.TokenRefreshStartedEvent{})

	m.mu.RLock()
	refreshToken := m.cur.refreshToken
	m.mu.RUnlock()

	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxRefreshAttempts; attempt++ {
		result, err := m.refresher.Refresh(ctx, refreshToken)
		if err == nil {
			if m.cfg.EnableRotation && result.RefreshToken == refreshToken && m.logger != nil {
				m.logger.WithFields(nil).Warn("refresh token was reused by the server")
			}
			expiresAt := time.Now().Add(result.ExpiresIn)
			m.Install(result.AccessToken, result.RefreshToken, result.TokenType, expiresAt)
			m.publish(events.NameRefreshSucceeded, events.TokenRefreshSucceededEvent{ExpiresIn: result.ExpiresIn})
			return result, nil
		}

		if sdkErr, ok := sdkerrors.As(err); ok && sdkErr.Code == sdkerrors.CodeTokenInvalid {
			m.publish(events.NameRefreshFailed, events.TokenRefreshFailedEvent{Err: err})
			return RefreshResult{}, err
		}

		lastErr = err
		if attempt == m.cfg.MaxRefreshAttempts {
			break
		}

		delay := resilience.NextDelay(m.cfg.Retry, attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			m.publish(events.NameRefreshFailed, events.TokenRefreshFailedEvent{Err: ctx.Err()})
			return RefreshResult{}, ctx.Err()
		}
	}

	m.Clear()
	m.publish(events.NameTokenExpired, events.TokenExpiredEvent{Err: lastErr})
	return RefreshResult{}, sdkerrors.RefreshFailed(lastErr)
}

func (m *TokenManager) publish(name events.Name, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{Topic: events.TopicAuth, Name: name, Payload: payload})
}
