package analytics

import (
	"github.com/a-cube-io/ereceipts-sdk-go/rbac"
	"github.com/a-cube-io/ereceipts-sdk-go/tokenstore"
)

// RBACStatsAdapter satisfies CacheStatsProvider over a *rbac.Engine,
// covering spec §4.12's "permissions/roles" cache hit rate.
type RBACStatsAdapter struct {
	Engine *rbac.Engine
}

func (a RBACStatsAdapter) Stats() CacheStats {
	s := a.Engine.Stats()
	return CacheStats{Hits: s.Hits, Misses: s.Misses}
}

// TokenStatsAdapter satisfies CacheStatsProvider over a *tokenstore.Store,
// covering spec §4.12's "tokens" cache hit rate.
type TokenStatsAdapter struct {
	Store *tokenstore.Store
}

func (a TokenStatsAdapter) Stats() CacheStats {
	s := a.Store.Stats()
	return CacheStats{Hits: s.CacheHits, Misses: s.CacheMisses}
}
