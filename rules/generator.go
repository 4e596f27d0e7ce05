// Package rules turns qualifying change events into persisted notification
// rows. Rules are an explicit ordered list of pure functions of the event;
// ordering only affects insert order, never correctness.
package rules

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/herald-io/herald/directory"
	"github.com/herald-io/herald/model"
	"github.com/herald-io/herald/telemetry"
)

// StalenessThreshold separates live activity from bulk import. An event
// whose record was published longer ago than this, in the same change that
// set the publish time, is import noise and produces no notifications.
const StalenessThreshold = 5 * time.Minute

// StoryLoader resolves story rows referenced by reaction and mention events.
type StoryLoader interface {
	Story(ctx context.Context, schema string, id int64) (*model.Story, error)
}

// NotificationWriter persists one schema's candidate batch.
type NotificationWriter interface {
	UpsertNotifications(ctx context.Context, notifications []*model.Notification) error
}

// Env gives rules read access to the directory and story rows.
type Env struct {
	Dir     *directory.Directory
	Stories StoryLoader
	Now     time.Time
}

// Candidate is one rule output before the preference check. Discriminant
// feeds value/list preference matching (branch name for push/merge types,
// empty otherwise).
type Candidate struct {
	Notification *model.Notification
	Discriminant string
}

// Rule inspects one event and yields zero or more candidates.
type Rule struct {
	Name  string
	Apply func(ctx context.Context, env *Env, ev *model.ChangeEvent) ([]Candidate, error)
}

// Generator runs the rule list over event batches.
type Generator struct {
	dir     *directory.Directory
	stories StoryLoader
	writer  NotificationWriter
	rules   []Rule

	staleness time.Duration
	now       func() time.Time
}

// NewGenerator creates a generator with the default rule list.
func NewGenerator(dir *directory.Directory, stories StoryLoader, writer NotificationWriter) *Generator {
	return &Generator{
		dir:       dir,
		stories:   stories,
		writer:    writer,
		rules:     DefaultRules(),
		staleness: StalenessThreshold,
		now:       time.Now,
	}
}

// Generate runs all rules over the batch, applies preference checks, and
// persists survivors grouped by target schema. Returns the persisted rows.
func (g *Generator) Generate(ctx context.Context, events []*model.ChangeEvent) ([]*model.Notification, error) {
	now := g.now()
	env := &Env{Dir: g.dir, Stories: g.stories, Now: now}

	var accepted []*model.Notification
	for _, ev := range events {
		if isUndelete(ev) {
			telemetry.EventsDiscardedTotal.With("undelete").Inc()
			continue
		}
		if g.isStale(ev, now) {
			telemetry.EventsDiscardedTotal.With("stale").Inc()
			continue
		}

		for _, rule := range g.rules {
			candidates, err := rule.Apply(ctx, env, ev)
			if err != nil {
				return nil, err
			}

			for _, c := range candidates {
				ok, err := g.allowed(ctx, c)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
				c.Notification.CreatedAt = now.UnixMilli()
				accepted = append(accepted, c.Notification)
			}
		}
	}

	// One upsert batch per target schema.
	bySchema := make(map[string][]*model.Notification)
	for _, n := range accepted {
		bySchema[n.Schema] = append(bySchema[n.Schema], n)
	}
	for schema, group := range bySchema {
		if err := g.writer.UpsertNotifications(ctx, group); err != nil {
			return nil, err
		}
		log.Debug().Str("schema", schema).Int("count", len(group)).Msg("Persisted notification batch")
	}

	return accepted, nil
}

// allowed applies the generation-time preference check. Self-notification
// is suppressed regardless of settings.
func (g *Generator) allowed(ctx context.Context, c Candidate) (bool, error) {
	n := c.Notification
	if n.UserID == n.TargetUserID {
		return false, nil
	}

	target, err := g.dir.User(ctx, n.TargetUserID)
	if err != nil {
		return false, err
	}
	if target == nil {
		return false, nil
	}

	pref, ok := target.NotificationPref(n.Type)
	return model.PrefAllows(pref, ok, c.Discriminant), nil
}

// isUndelete reports whether the event only flips a deleted flag back from
// true to false. Restoring a record is not news.
func isUndelete(ev *model.ChangeEvent) bool {
	return ev.Changed("deleted") &&
		model.AsBool(ev.Previous["deleted"]) &&
		!model.AsBool(ev.Current["deleted"])
}

// isStale reports whether the event sets a publish time that is already
// older than the staleness threshold. Such records arrive via bulk import,
// not live activity. Events that merely touch an old published record
// (coauthor edits, late reactions) are live and pass.
func (g *Generator) isStale(ev *model.ChangeEvent, now time.Time) bool {
	if !ev.Changed("ptime") {
		return false
	}
	ptime, ok := model.AsInt64(ev.Current["ptime"])
	if !ok || ptime == 0 {
		return false
	}
	return now.Sub(time.UnixMilli(ptime)) > g.staleness
}
