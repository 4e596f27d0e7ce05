package relevance

import "github.com/herald-io/herald/model"

// Default per-table predicates. Tables not listed fall back to the scope
// policy alone.

// DefaultRegistry returns the registry used by the intake pipeline.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	// A user row concerns the user it describes and administrators.
	r.Register("users", PredicateFunc(func(ev *model.ChangeEvent, user *model.User, _ *model.Subscription) bool {
		return ev.ID == user.ID || user.Admin
	}))

	// A subscription row concerns only its owner.
	r.Register("subscriptions", PredicateFunc(func(ev *model.ChangeEvent, user *model.User, _ *model.Subscription) bool {
		owner, _ := model.AsInt64(ev.Current["user_id"])
		if owner == 0 {
			owner, _ = model.AsInt64(ev.Previous["user_id"])
		}
		return owner == user.ID
	}))

	// A notification row concerns only its target user.
	r.Register("notifications", PredicateFunc(func(ev *model.ChangeEvent, user *model.User, _ *model.Subscription) bool {
		target, _ := model.AsInt64(ev.Current["target_user_id"])
		return target == user.ID
	}))

	// A story concerns its owners and administrators; published stories are
	// visible to everyone in scope.
	r.Register("stories", PredicateFunc(func(ev *model.ChangeEvent, user *model.User, _ *model.Subscription) bool {
		if user.Admin {
			return true
		}
		if ptime, ok := model.AsInt64(ev.Current["ptime"]); ok && ptime > 0 {
			return true
		}
		for _, id := range model.AsInt64Slice(ev.Current["user_ids"]) {
			if id == user.ID {
				return true
			}
		}
		return false
	}))

	// A bookmark concerns its sender and its recipient.
	r.Register("bookmarks", PredicateFunc(func(ev *model.ChangeEvent, user *model.User, _ *model.Subscription) bool {
		sender, _ := model.AsInt64(ev.Current["user_id"])
		recipient, _ := model.AsInt64(ev.Current["target_user_id"])
		return sender == user.ID || recipient == user.ID
	}))

	return r
}
