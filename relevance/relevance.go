// Package relevance decides which listeners may see a change event. The
// default policy is scope-based: global-schema events are visible to every
// listener, project-schema events only to subscriptions watching "*" or a
// matching schema pattern. Per-table predicates layer on top and are
// resolved once at startup.
package relevance

import (
	"sync"

	"github.com/gobwas/glob"

	"github.com/herald-io/herald/model"
)

// Predicate is a per-table relevance override.
type Predicate interface {
	Relevant(ev *model.ChangeEvent, user *model.User, sub *model.Subscription) bool
}

// PredicateFunc adapts a plain function to a Predicate.
type PredicateFunc func(ev *model.ChangeEvent, user *model.User, sub *model.Subscription) bool

// Relevant implements Predicate.
func (f PredicateFunc) Relevant(ev *model.ChangeEvent, user *model.User, sub *model.Subscription) bool {
	return f(ev, user, sub)
}

// Registry maps table names to predicates. Tables without an entry get the
// scope policy only.
type Registry struct {
	predicates map[string]Predicate

	globMu sync.Mutex
	globs  map[string]glob.Glob
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		predicates: make(map[string]Predicate),
		globs:      make(map[string]glob.Glob),
	}
}

// Register installs a per-table predicate. Last registration wins.
func (r *Registry) Register(table string, p Predicate) {
	r.predicates[table] = p
}

// Relevant applies the scope policy, then the table's predicate if any.
func (r *Registry) Relevant(ev *model.ChangeEvent, user *model.User, sub *model.Subscription) bool {
	if !r.inScope(ev, sub) {
		return false
	}

	if p, ok := r.predicates[ev.Table]; ok {
		return p.Relevant(ev, user, sub)
	}
	return true
}

// inScope implements the default scope policy.
func (r *Registry) inScope(ev *model.ChangeEvent, sub *model.Subscription) bool {
	if ev.Schema == model.GlobalSchema {
		return true
	}
	if sub.Schema == "" || sub.Schema == "*" {
		return true
	}
	if sub.Schema == ev.Schema {
		return true
	}
	return r.matchGlob(sub.Schema, ev.Schema)
}

// matchGlob compiles subscription schema patterns once and caches them.
// Invalid patterns never match.
func (r *Registry) matchGlob(pattern, schema string) bool {
	r.globMu.Lock()
	g, ok := r.globs[pattern]
	if !ok {
		var err error
		g, err = glob.Compile(pattern)
		if err != nil {
			g = nil
		}
		r.globs[pattern] = g
	}
	r.globMu.Unlock()

	return g != nil && g.Match(schema)
}

// ChangeSet is one listener's accumulated view of a batch.
type ChangeSet struct {
	Listener model.Listener
	Changes  []model.PendingChange
}

// Collect evaluates every (event, listener) pair and accumulates the
// table/id/generation of relevant events into each listener's pending
// change set. Listeners with nothing to report are omitted.
func (r *Registry) Collect(events []*model.ChangeEvent, listeners []model.Listener) []ChangeSet {
	sets := make([]ChangeSet, 0, len(listeners))

	for _, l := range listeners {
		var changes []model.PendingChange
		for _, ev := range events {
			if !r.Relevant(ev, l.User, l.Subscription) {
				continue
			}
			changes = append(changes, model.PendingChange{
				Schema: ev.Schema,
				Table:  ev.Table,
				ID:     ev.ID,
				GN:     ev.GN,
			})
		}
		if len(changes) > 0 {
			sets = append(sets, ChangeSet{Listener: l, Changes: changes})
		}
	}

	return sets
}
