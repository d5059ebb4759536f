package conflict

import (
	"context"
	"sync"
	"time"

	"github.com/a-cube-io/ereceipts-sdk-go/events"
	"github.com/a-cube-io/ereceipts-sdk-go/logging"
)

// RuleSet looks up the merge rules configured for a resource.
type RuleSet interface {
	RulesFor(resource string) (MergeRules, bool)
}

// StaticRules is a RuleSet backed by a fixed map, sufficient for the single
// configuration object the core accepts (spec §6).
type StaticRules map[string]MergeRules

func (r StaticRules) RulesFor(resource string) (MergeRules, bool) {
	rules, ok := r[resource]
	return rules, ok
}

// pendingManual tracks one in-flight manual resolution awaiting user input.
type pendingManual struct {
	conflict Conflict
	decided  chan map[string]any
}

// Resolver applies spec §4.10's strategies and keeps a bounded history ring
// of resolutions for the Analytics component.
type Resolver struct {
	rules          RuleSet
	manualTimeout  time.Duration
	bus            *events.Bus
	logger         *logging.Logger

	mu      sync.Mutex
	pending map[string]*pendingManual

	histMu  sync.Mutex
	history []Resolution
	histCap int
	histPos int
	histLen int
}

// NewResolver constructs a Resolver. historyCap <= 0 defaults to 200.
func NewResolver(rules RuleSet, manualTimeout time.Duration, bus *events.Bus, logger *logging.Logger, historyCap int) *Resolver {
	if historyCap <= 0 {
		historyCap = 200
	}
	if manualTimeout <= 0 {
		manualTimeout = 30 * time.Second
	}
	return &Resolver{
		rules:         rules,
		manualTimeout: manualTimeout,
		bus:           bus,
		logger:        logger,
		pending:       make(map[string]*pendingManual),
		history:       make([]Resolution, historyCap),
		histCap:       historyCap,
	}
}

// Resolve classifies c and applies the strategy selected by c.Override, or
// the resource's configured default when Override is empty.
func (r *Resolver) Resolve(ctx context.Context, c Conflict, defaultStrategy Strategy) (*Resolution, error) {
	class := Classify(c)
	strategy := c.Override
	if strategy == "" {
		strategy = defaultStrategy
	}

	var res Resolution
	switch strategy {
	case StrategyClientWins:
		res = Resolution{Class: class, Strategy: strategy, Data: c.LocalPayload, Confidence: 0.7, DataSource: "local"}
	case StrategyMerge:
		rules, _ := r.rules.RulesFor(c.Resource)
		merged, confidence := mergeFields(rules, c.LocalPayload, c.ServerPayload, c.LocalTimestamp.Unix(), c.ServerTimestamp.Unix())
		res = Resolution{Class: class, Strategy: strategy, Data: merged, Confidence: confidence, DataSource: "merged"}
	case StrategyManual:
		res = r.beginManual(ctx, c)
	default: // server_wins, and any unrecognised strategy
		res = Resolution{Class: class, Strategy: StrategyServerWins, Data: c.ServerPayload, Confidence: 0.9, DataSource: "server"}
	}

	res.ResolvedAt = time.Now().UTC()
	r.record(res)
	r.publish(c, res)
	return &res, nil
}

// beginManual returns the immediate server-wins default flagged
// requires_user_input, and starts a bounded wait for a user decision that
// commits asynchronously via Submit or the manual timeout (spec's "Manual-
// resolution conflicts with indefinite waits" design note).
func (r *Resolver) beginManual(ctx context.Context, c Conflict) Resolution {
	pm := &pendingManual{conflict: c, decided: make(chan map[string]any, 1)}

	r.mu.Lock()
	r.pending[c.ItemID] = pm
	r.mu.Unlock()

	go r.awaitManual(ctx, c, pm)

	return Resolution{
		Class:             Classify(c),
		Strategy:          StrategyManual,
		Data:              c.ServerPayload,
		Confidence:        0.9,
		DataSource:        "server",
		RequiresUserInput: true,
	}
}

func (r *Resolver) awaitManual(ctx context.Context, c Conflict, pm *pendingManual) {
	var final Resolution
	select {
	case data := <-pm.decided:
		final = Resolution{Class: Classify(c), Strategy: StrategyManual, Data: data, Confidence: 1.0, DataSource: "user"}
	case <-time.After(r.manualTimeout):
		final = Resolution{Class: Classify(c), Strategy: StrategyServerWins, Data: c.ServerPayload, Confidence: 0.9, DataSource: "server", TimedOut: true}
	case <-ctx.Done():
		final = Resolution{Class: Classify(c), Strategy: StrategyServerWins, Data: c.ServerPayload, Confidence: 0.9, DataSource: "server", TimedOut: true}
	}

	r.mu.Lock()
	delete(r.pending, c.ItemID)
	r.mu.Unlock()

	final.ResolvedAt = time.Now().UTC()
	r.record(final)
	r.publish(c, final)
}

// Submit delivers a user-chosen resolution for a pending manual conflict. It
// reports false if no manual resolution for itemID is pending (already
// timed out or unknown id).
func (r *Resolver) Submit(itemID string, data map[string]any) bool {
	r.mu.Lock()
	pm, ok := r.pending[itemID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case pm.decided <- data:
		return true
	default:
		return false
	}
}

func (r *Resolver) record(res Resolution) {
	r.histMu.Lock()
	defer r.histMu.Unlock()
	r.history[r.histPos] = res
	r.histPos = (r.histPos + 1) % r.histCap
	if r.histLen < r.histCap {
		r.histLen++
	}
}

// History returns a snapshot of recorded resolutions, oldest first.
func (r *Resolver) History() []Resolution {
	r.histMu.Lock()
	defer r.histMu.Unlock()
	out := make([]Resolution, 0, r.histLen)
	start := (r.histPos - r.histLen + r.histCap) % r.histCap
	for i := 0; i < r.histLen; i++ {
		out = append(out, r.history[(start+i)%r.histCap])
	}
	return out
}

func (r *Resolver) publish(c Conflict, res Resolution) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(events.Event{
		Topic: events.TopicQueue,
		Name:  events.NameConflictResolved,
		Payload: events.ConflictResolvedEvent{
			ItemID: c.ItemID, Resource: c.Resource, Resolution: res,
		},
	})
}
