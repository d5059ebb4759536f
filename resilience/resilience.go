// Package resilience provides per-resource circuit breaking and retry
// backoff for the queue orchestrator, backed by github.com/sony/gobreaker/v2
// and github.com/cenkalti/backoff/v4.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	sdkerrors "github.com/a-cube-io/ereceipts-sdk-go/errors"
	"github.com/a-cube-io/ereceipts-sdk-go/events"
	"github.com/a-cube-io/ereceipts-sdk-go/logging"
)

// State mirrors the closed/half-open/open breaker states from spec §4.9.
type State int

const (
	StateClosed   State = State(gobreaker.StateClosed)
	StateHalfOpen State = State(gobreaker.StateHalfOpen)
	StateOpen     State = State(gobreaker.StateOpen)
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config configures a single resource's circuit breaker.
type Config struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // consecutive successes in half-open before closing
	Cooldown         time.Duration // time in open state before half-open
	OnStateChange    func(resource string, from, to State)
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	return c
}

// CircuitBreaker wraps gobreaker.CircuitBreaker for a single resource.
type CircuitBreaker struct {
	resource string
	gb       *gobreaker.CircuitBreaker[any]
}

func newBreaker(resource string, cfg Config) *CircuitBreaker {
	cfg = cfg.withDefaults()
	settings := gobreaker.Settings{
		Name:        resource,
		MaxRequests: uint32(cfg.SuccessThreshold),
		Interval:    0,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.FailureThreshold)
		},
	}
	if cfg.OnStateChange != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			cfg.OnStateChange(name, State(from), State(to))
		}
	}
	return &CircuitBreaker{resource: resource, gb: gobreaker.NewCircuitBreaker[any](settings)}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() State { return State(cb.gb.State()) }

// Execute runs fn under the breaker's protection. A closed/half-open breaker
// passes fn's own error through; an open breaker short-circuits with
// errors.CircuitOpen without calling fn.
func (cb *CircuitBreaker) Execute(_ context.Context, fn func() error) error {
	_, err := cb.gb.Execute(func() (any, error) {
		return nil, fn()
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return sdkerrors.CircuitOpen(cb.resource)
	}
	return err
}

// Registry owns one CircuitBreaker per resource, created lazily on first use
// — only the queue orchestrator writes breaker state, per the shared-resource
// policy in spec §5.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	cfg      Config
	bus      *events.Bus
	logger   *logging.Logger
}

// NewRegistry creates a breaker registry sharing one Config template across
// resources. bus may be nil; when set, every breaker state transition is
// published as an events.CircuitStateChangedEvent on events.TopicQueue.
func NewRegistry(cfg Config, bus *events.Bus, logger *logging.Logger) *Registry {
	return &Registry{breakers: make(map[string]*CircuitBreaker), cfg: cfg, bus: bus, logger: logger}
}

// For returns (creating if needed) the breaker for a resource.
func (r *Registry) For(resource string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[resource]; ok {
		return cb
	}
	cfg := r.cfg
	cfg.OnStateChange = func(resource string, from, to State) {
		if r.logger != nil {
			r.logger.LogCircuitStateChange(context.Background(), resource, from.String(), to.String())
		}
		if r.bus != nil {
			r.bus.Publish(events.Event{
				Topic: events.TopicQueue,
				Name:  events.NameCircuitStateChanged,
				Payload: events.CircuitStateChangedEvent{Resource: resource, From: from.String(), To: to.String()},
			})
		}
		if r.cfg.OnStateChange != nil {
			r.cfg.OnStateChange(resource, from, to)
		}
	}
	cb := newBreaker(resource, cfg)
	r.breakers[resource] = cb
	return cb
}

// State returns the state of a resource's breaker, or StateClosed if unseen.
func (r *Registry) State(resource string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[resource]; ok {
		return cb.State()
	}
	return StateClosed
}

// ---------------------------------------------------------------------------
// Retry
// ---------------------------------------------------------------------------

// Policy selects the delay curve for schedule_retry (spec §4.9).
type Policy string

const (
	PolicyExponential Policy = "exponential"
	PolicyLinear      Policy = "linear"
)

// RetryConfig configures a single item's retry schedule.
type RetryConfig struct {
	Policy      Policy
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Factor      float64 // used by PolicyExponential
	JitterRatio float64 // 0 disables jitter; spec uses ±10%
}

// DefaultRetryConfig mirrors the queue config defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Policy:      PolicyExponential,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Factor:      2.0,
		JitterRatio: 0.1,
	}
}

// NextDelay computes the delay before attempt (1-indexed) per spec §4.9:
// exponential = min(base * factor^(attempt-1), max); linear = min(base*attempt, max).
func NextDelay(cfg RetryConfig, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var delay time.Duration
	switch cfg.Policy {
	case PolicyLinear:
		delay = cfg.BaseDelay * time.Duration(attempt)
	default:
		factor := cfg.Factor
		if factor <= 0 {
			factor = 2.0
		}
		mult := 1.0
		for i := 1; i < attempt; i++ {
			mult *= factor
		}
		delay = time.Duration(float64(cfg.BaseDelay) * mult)
	}
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.JitterRatio > 0 {
		delay = applyJitter(delay, cfg.JitterRatio)
	}
	return delay
}

// applyJitter adds symmetric jitter in [-ratio, +ratio] around delay,
// delegated to backoff's randomization via a throwaway ExponentialBackOff so
// the jitter source matches the retry library used elsewhere in this package.
func applyJitter(delay time.Duration, ratio float64) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = delay
	bo.RandomizationFactor = ratio
	bo.Multiplier = 1
	bo.MaxInterval = delay
	bo.Reset()
	jittered := bo.NextBackOff()
	if jittered == backoff.Stop || jittered < 0 {
		return delay
	}
	return jittered
}

// Retry executes fn with exponential backoff via cenkalti/backoff, honoring
// ctx cancellation. Used for I/O-bound retries that are not item-scheduled
// (e.g. a single HTTP call), as opposed to NextDelay which computes delays
// for queue items parked back onto the pending queue.
func Retry(ctx context.Context, cfg RetryConfig, maxAttempts int, fn func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	bo := backoff.NewExponentialBackOff()
	if cfg.BaseDelay > 0 {
		bo.InitialInterval = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		bo.MaxInterval = cfg.MaxDelay
	}
	if cfg.Factor > 0 {
		bo.Multiplier = cfg.Factor
	}
	bo.RandomizationFactor = cfg.JitterRatio
	bo.MaxElapsedTime = 0

	withMax := backoff.WithMaxRetries(bo, uint64(maxAttempts-1))
	withCtx := backoff.WithContext(withMax, ctx)
	return backoff.Retry(fn, withCtx)
}
