// Package source holds the typed descriptor table of data sources the
// broker pipelines through its three tiers, plus the context handed to
// every fetch.
package source

import (
	"context"
	"time"

	"github.com/joestump/claude-pulse/internal/freshness"
	"github.com/joestump/claude-pulse/internal/health"
)

// Tier is a data-source latency class: 1 = synchronous from input,
// 2 = per-session I/O, 3 = global shared.
type Tier int

const (
	Tier1 Tier = 1
	Tier2 Tier = 2
	Tier3 Tier = 3
)

// GatherContext carries everything a fetch may consult. It is built once
// per gather and treated as read-only by sources.
type GatherContext struct {
	SessionID       string
	TranscriptPath  string
	ProjectPath     string
	ConfigDir       string
	KeychainService string
	Deadline        time.Time
	Input           []byte // raw stdin JSON, probed tolerantly
	Existing        *health.SessionHealth
	SessionActive   bool // derived from the input contract
}

// Remaining returns the time left until the gather deadline.
func (gc *GatherContext) Remaining() time.Duration {
	return time.Until(gc.Deadline)
}

// FetchFunc produces a source's data. It must respect ctx and must not
// mutate shared state after ctx is done.
type FetchFunc func(ctx context.Context, gc *GatherContext) (any, error)

// MergeFunc folds fetched data into the health record. Merges within a
// tier write disjoint fields so completion order does not matter.
type MergeFunc func(h *health.SessionHealth, data any)

// Descriptor declares one data source. Each source belongs to exactly one
// tier and one freshness category; Timeout bounds how long its fetch may
// block the orchestrator.
type Descriptor struct {
	ID       string
	Tier     Tier
	Category freshness.Category
	Timeout  time.Duration

	// UsesCache marks Tier-3 sources whose results live in the global
	// cache. Direct sources are fetched after the cache-merge pass.
	UsesCache bool

	// Available reports whether the source can run at all in this gather
	// (its input file or binary exists, a fetcher was injected). Nil means
	// always. Unavailable Tier-3 sources stay out of the stale set so they
	// never file refresh intents they cannot satisfy.
	Available func(gc *GatherContext) bool

	Fetch FetchFunc
	Merge MergeFunc
}

// Registry is an insertion-ordered descriptor table. Registration is
// idempotent: re-registering an ID replaces the descriptor in place,
// keeping its original position so merge order stays deterministic.
type Registry struct {
	byID  map[string]int
	order []*Descriptor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]int)}
}

// Register adds or replaces a descriptor.
func (r *Registry) Register(d *Descriptor) {
	if idx, ok := r.byID[d.ID]; ok {
		r.order[idx] = d
		return
	}
	r.byID[d.ID] = len(r.order)
	r.order = append(r.order, d)
}

// Get returns the descriptor for id, or nil.
func (r *Registry) Get(id string) *Descriptor {
	if idx, ok := r.byID[id]; ok {
		return r.order[idx]
	}
	return nil
}

// ByTier returns descriptors of the tier in registration order.
func (r *Registry) ByTier(t Tier) []*Descriptor {
	var out []*Descriptor
	for _, d := range r.order {
		if d.Tier == t {
			out = append(out, d)
		}
	}
	return out
}

// All returns every descriptor in registration order.
func (r *Registry) All() []*Descriptor {
	out := make([]*Descriptor, len(r.order))
	copy(out, r.order)
	return out
}
