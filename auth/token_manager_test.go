package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a-cube-io/ereceipts-sdk-go/events"
)

type fakeRefresher struct {
	mu      sync.Mutex
	calls   int32
	results []RefreshResult
	errs    []error
	delay   time.Duration
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	n := atomic.AddInt32(&f.calls, 1) - 1
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := int(n)
	if idx < len(f.errs) && f.errs[idx] != nil {
		return RefreshResult{}, f.errs[idx]
	}
	if idx < len(f.results) {
		return f.results[idx], nil
	}
	return RefreshResult{AccessToken: "fallback", ExpiresIn: time.Hour}, nil
}

func newTestTokenManager(refresher Refresher, bus *events.Bus) *TokenManager {
	cfg := TokenManagerConfig{RefreshBuffer: time.Minute, MaxRefreshAttempts: 3}
	return NewTokenManager(cfg, refresher, bus, nil)
}

func TestInstallExposesAccessTokenAndExpiry(t *testing.T) {
	tm := newTestTokenManager(&fakeRefresher{}, nil)
	exp := time.Now().Add(time.Hour)
	tm.Install("access-1", "refresh-1", "Bearer", exp)

	assert.Equal(t, "access-1", tm.AccessToken())
	assert.True(t, tm.ExpiresAt().Equal(exp))
}

func TestClearDropsCurrentToken(t *testing.T) {
	tm := newTestTokenManager(&fakeRefresher{}, nil)
	tm.Install("a", "r", "Bearer", time.Now().Add(time.Hour))
	tm.Clear()
	assert.Empty(t, tm.AccessToken())
}

func TestRefreshSucceedsAndPublishesEvents(t *testing.T) {
	bus := events.New(nil)
	received := make(chan events.Event, 8)
	bus.Subscribe(events.TopicAuth, func(ev events.Event) { received <- ev })

	refresher := &fakeRefresher{results: []RefreshResult{{AccessToken: "new-access", RefreshToken: "new-refresh", ExpiresIn: time.Hour}}}
	tm := newTestTokenManager(refresher, bus)
	tm.Install("old-access", "old-refresh", "Bearer", time.Now().Add(time.Hour))

	result, err := tm.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-access", result.AccessToken)
	assert.Equal(t, "new-access", tm.AccessToken())

	var names []events.Name
	close(received)
	for ev := range received {
		names = append(names, ev.Name)
	}
	require.Equal(t, []events.Name{events.NameRefreshStarted, events.NameRefreshSucceeded}, names)
}

func TestRefreshRetriesOnTransientErrorThenSucceeds(t *testing.T) {
	refresher := &fakeRefresher{
		errs:    []error{context_deadlineErr(), nil},
		results: []RefreshResult{{}, {AccessToken: "recovered", ExpiresIn: time.Hour}},
	}
	tm := newTestTokenManager(refresher, nil)
	tm.cfg.Retry.BaseDelay = time.Millisecond
	tm.Install("a", "r", "Bearer", time.Now().Add(time.Hour))

	result, err := tm.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.AccessToken)
	assert.EqualValues(t, 2, atomic.LoadInt32(&refresher.calls))
}

func TestRefreshExhaustsAttemptsAndEmitsExpired(t *testing.T) {
	bus := events.New(nil)
	received := make(chan events.Event, 8)
	bus.Subscribe(events.TopicAuth, func(ev events.Event) { received <- ev })

	refresher := &fakeRefresher{errs: []error{context_deadlineErr(), context_deadlineErr(), context_deadlineErr()}}
	tm := newTestTokenManager(refresher, bus)
	tm.cfg.Retry.BaseDelay = time.Millisecond
	tm.Install("a", "r", "Bearer", time.Now().Add(time.Hour))

	_, err := tm.Refresh(context.Background())
	assert.Error(t, err, "expected refresh failure once attempts are exhausted")

	var sawExpired bool
	close(received)
	for ev := range received {
		if ev.Name == events.NameTokenExpired {
			sawExpired = true
		}
	}
	assert.True(t, sawExpired, "expected an 'expired' event after exhausting refresh attempts")
	assert.Empty(t, tm.AccessToken(), "expected the stale access token to be cleared once attempts are exhausted")
}

func TestConcurrentRefreshesShareSingleFlightResult(t *testing.T) {
	refresher := &fakeRefresher{
		delay:   20 * time.Millisecond,
		results: []RefreshResult{{AccessToken: "shared", ExpiresIn: time.Hour}},
	}
	tm := newTestTokenManager(refresher, nil)
	tm.Install("a", "r", "Bearer", time.Now().Add(time.Hour))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = tm.Refresh(context.Background())
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&refresher.calls), "expected exactly 1 in-flight refresh call")
	assert.Equal(t, "shared", tm.AccessToken(), "expected all waiters to observe the shared outcome")
}

func context_deadlineErr() error { return context.DeadlineExceeded }
