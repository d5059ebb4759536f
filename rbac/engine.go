package rbac

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Decision is the Access Control collaborator's verdict for one check.
type Decision struct {
	Granted          bool
	Reason           string
	RequiresApproval bool
}

// Check is one permission evaluation request.
type Check struct {
	UserID   string
	Roles    []Role
	Scope    ScopeContext
	Resource string
	Action   string
	Context  map[string]string
}

// AccessControl is the caller-supplied collaborator the engine wraps with
// caching, batching, preload and invalidation.
type AccessControl interface {
	Evaluate(ctx context.Context, checks []Check) ([]Decision, error)
}

// EngineConfig tunes the cache and batching behaviour.
type EngineConfig struct {
	CacheSize     int
	CacheTTL      time.Duration
	MaxBatchSize  int
	BatchTimeout  time.Duration
	PreloadChecks func(primary Role) []Check
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.CacheSize <= 0 {
		c.CacheSize = 2000
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 20
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 10 * time.Millisecond
	}
	return c
}

// Stats reports cache effectiveness for the analytics component.
type Stats struct {
	Hits   int64
	Misses int64
}

type pendingBatch struct {
	checks  []Check
	waiters []chan Decision
	timer   *time.Timer
}

// Engine wraps an AccessControl collaborator with an LRU decision cache and
// per-user batch coalescing (spec §4.5).
type Engine struct {
	collaborator AccessControl
	cfg          EngineConfig
	cache        *expirable.LRU[string, Decision]
	hits, misses int64

	mu      sync.Mutex
	pending map[string]*pendingBatch

	// userKeys indexes which cache keys belong to which user id, so
	// ClearUserCaches can purge by user without reversing the hash.
	idxMu    sync.Mutex
	userKeys map[string]map[string]struct{}
}

// NewEngine constructs an Engine over collaborator.
func NewEngine(collaborator AccessControl, cfg EngineConfig) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		collaborator: collaborator,
		cfg:          cfg,
		cache:        expirable.NewLRU[string, Decision](cfg.CacheSize, nil, cfg.CacheTTL),
		pending:      make(map[string]*pendingBatch),
		userKeys:     make(map[string]map[string]struct{}),
	}
}

// cacheKey hashes (user id, scope ids, sorted effective roles, resource,
// action, context) into a single cache key (spec §4.5).
func cacheKey(c Check) string {
	effective := Effective(c.Roles)
	roleStrs := make([]string, len(effective))
	for i, r := range effective {
		roleStrs[i] = string(r)
	}
	sort.Strings(roleStrs)

	ctxKeys := make([]string, 0, len(c.Context))
	for k := range c.Context {
		ctxKeys = append(ctxKeys, k)
	}
	sort.Strings(ctxKeys)
	ctxParts := make([]string, 0, len(ctxKeys))
	for _, k := range ctxKeys {
		ctxParts = append(ctxParts, k+"="+c.Context[k])
	}

	h := sha256.New()
	h.Write([]byte(c.UserID))
	h.Write([]byte(c.Scope.MerchantID))
	h.Write([]byte(c.Scope.CashierID))
	h.Write([]byte(c.Scope.PointOfSale))
	h.Write([]byte(strings.Join(roleStrs, ",")))
	h.Write([]byte(c.Resource))
	h.Write([]byte(c.Action))
	h.Write([]byte(strings.Join(ctxParts, ",")))
	return hex.EncodeToString(h.Sum(nil))
}

func (e *Engine) remember(userID, key string, d Decision) {
	e.cache.Add(key, d)
	e.idxMu.Lock()
	if e.userKeys[userID] == nil {
		e.userKeys[userID] = make(map[string]struct{})
	}
	e.userKeys[userID][key] = struct{}{}
	e.idxMu.Unlock()
}

// Check evaluates one permission, serving from cache when possible and
// otherwise coalescing into a per-user batch.
func (e *Engine) Check(ctx context.Context, c Check) (Decision, error) {
	key := cacheKey(c)
	if d, ok := e.cache.Get(key); ok {
		atomic.AddInt64(&e.hits, 1)
		return d, nil
	}
	atomic.AddInt64(&e.misses, 1)

	done := e.enqueue(ctx, c)

	select {
	case d := <-done:
		return d, nil
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
}

func (e *Engine) enqueue(ctx context.Context, c Check) chan Decision {
	done := make(chan Decision, 1)

	e.mu.Lock()
	batch, ok := e.pending[c.UserID]
	if !ok {
		batch = &pendingBatch{}
		e.pending[c.UserID] = batch
		batch.timer = time.AfterFunc(e.cfg.BatchTimeout, func() { e.flush(ctx, c.UserID) })
	}
	batch.checks = append(batch.checks, c)
	batch.waiters = append(batch.waiters, done)
	flushNow := len(batch.checks) >= e.cfg.MaxBatchSize
	e.mu.Unlock()

	if flushNow {
		e.flush(ctx, c.UserID)
	}
	return done
}

func (e *Engine) flush(ctx context.Context, userID string) {
	e.mu.Lock()
	batch, ok := e.pending[userID]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.pending, userID)
	e.mu.Unlock()

	if batch.timer != nil {
		batch.timer.Stop()
	}

	decisions, err := e.collaborator.Evaluate(ctx, batch.checks)
	if err != nil {
		// Surface a denial to every waiter rather than blocking forever;
		// callers observing an error-shaped denial should retry explicitly.
		for _, w := range batch.waiters {
			w <- Decision{Granted: false, Reason: "evaluation_error"}
		}
		return
	}

	for i, c := range batch.checks {
		if i >= len(decisions) {
			break
		}
		e.remember(c.UserID, cacheKey(c), decisions[i])
		batch.waiters[i] <- decisions[i]
	}
}

// Preload pre-warms the cache with the resource/action set determined by
// primary (spec §4.5: run on successful login).
func (e *Engine) Preload(ctx context.Context, userID string, roles []Role, scope ScopeContext) error {
	if e.cfg.PreloadChecks == nil {
		return nil
	}
	primary := Primary(roles)
	checks := e.cfg.PreloadChecks(primary)
	if len(checks) == 0 {
		return nil
	}
	for i := range checks {
		checks[i].UserID = userID
		checks[i].Roles = roles
		checks[i].Scope = scope
	}

	decisions, err := e.collaborator.Evaluate(ctx, checks)
	if err != nil {
		return err
	}
	for i, c := range checks {
		if i >= len(decisions) {
			break
		}
		e.remember(userID, cacheKey(c), decisions[i])
	}
	return nil
}

// ClearUserCaches purges every cache entry recorded for userID (logout,
// role change, explicit invalidation per spec §4.5).
func (e *Engine) ClearUserCaches(userID string) {
	e.idxMu.Lock()
	keys := e.userKeys[userID]
	delete(e.userKeys, userID)
	e.idxMu.Unlock()

	for key := range keys {
		e.cache.Remove(key)
	}
}

// Stats returns a snapshot of cache hit/miss counters.
func (e *Engine) Stats() Stats {
	return Stats{Hits: atomic.LoadInt64(&e.hits), Misses: atomic.LoadInt64(&e.misses)}
}
