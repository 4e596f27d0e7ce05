// Package directory is the time-bounded in-memory view of active users,
// subscriptions and the system settings singleton. Entries live for a
// configured TTL and are dropped early when a batch carries change events
// for the backing rows, so stale credentials never authorize a delivery.
package directory

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/herald-io/herald/model"
	"github.com/herald-io/herald/store"
)

// List cache keys. The full-list caches hold one entry each.
const (
	keyUsers         = "users"
	keySubscriptions = "subscriptions"
	keySystem        = "system"
)

// Directory caches store reads with a TTL.
type Directory struct {
	store *store.Store

	users  *expirable.LRU[int64, *model.User]
	lists  *expirable.LRU[string, []*model.User]
	subs   *expirable.LRU[string, []*model.Subscription]
	system *expirable.LRU[string, *model.SystemSettings]
}

// New creates a directory over the given store.
func New(s *store.Store, maxEntries int, ttl time.Duration) *Directory {
	return &Directory{
		store:  s,
		users:  expirable.NewLRU[int64, *model.User](maxEntries, nil, ttl),
		lists:  expirable.NewLRU[string, []*model.User](1, nil, ttl),
		subs:   expirable.NewLRU[string, []*model.Subscription](1, nil, ttl),
		system: expirable.NewLRU[string, *model.SystemSettings](1, nil, ttl),
	}
}

// Users returns all active users.
func (d *Directory) Users(ctx context.Context) ([]*model.User, error) {
	if cached, ok := d.lists.Get(keyUsers); ok {
		return cached, nil
	}

	users, err := d.store.Users(ctx)
	if err != nil {
		return nil, err
	}
	d.lists.Add(keyUsers, users)
	for _, u := range users {
		d.users.Add(u.ID, u)
	}
	return users, nil
}

// User returns one user by id, or nil when absent or deleted.
func (d *Directory) User(ctx context.Context, id int64) (*model.User, error) {
	if cached, ok := d.users.Get(id); ok {
		return cached, nil
	}

	u, err := d.store.User(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil || u.Deleted {
		return nil, nil
	}
	d.users.Add(id, u)
	return u, nil
}

// UserByName resolves a mention handle to an active user, or nil.
func (d *Directory) UserByName(ctx context.Context, name string) (*model.User, error) {
	users, err := d.Users(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.Name == name {
			return u, nil
		}
	}
	return nil, nil
}

// Subscriptions returns all active subscriptions.
func (d *Directory) Subscriptions(ctx context.Context) ([]*model.Subscription, error) {
	if cached, ok := d.subs.Get(keySubscriptions); ok {
		return cached, nil
	}

	subs, err := d.store.Subscriptions(ctx)
	if err != nil {
		return nil, err
	}
	d.subs.Add(keySubscriptions, subs)
	return subs, nil
}

// System returns the settings singleton.
func (d *Directory) System(ctx context.Context) (*model.SystemSettings, error) {
	if cached, ok := d.system.Get(keySystem); ok {
		return cached, nil
	}

	sys, err := d.store.System(ctx)
	if err != nil {
		return nil, err
	}
	d.system.Add(keySystem, sys)
	return sys, nil
}

// InvalidateUser drops one user entry and the user list.
func (d *Directory) InvalidateUser(id int64) {
	d.users.Remove(id)
	d.lists.Remove(keyUsers)
}

// InvalidateSubscription drops the subscription list. Subscriptions are
// only consumed as a list, so row-level granularity buys nothing here.
func (d *Directory) InvalidateSubscription(int64) {
	d.subs.Remove(keySubscriptions)
}

// InvalidateSystem drops the settings singleton.
func (d *Directory) InvalidateSystem() {
	d.system.Remove(keySystem)
}
