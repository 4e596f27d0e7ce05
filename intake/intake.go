// Package intake processes coalesced change-event batches: it refreshes the
// directory, rebuilds the listener list, and fans the batch out through the
// three message flows (revalidation, change sets, alerts) concurrently.
// Flows never exchange data mid-batch; each hands its messages to the
// dispatcher on its own.
package intake

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jizhuozhi/go-future"
	"github.com/rs/zerolog/log"

	"github.com/herald-io/herald/alert"
	"github.com/herald-io/herald/directory"
	"github.com/herald-io/herald/dispatch"
	"github.com/herald-io/herald/model"
	"github.com/herald-io/herald/relevance"
	"github.com/herald-io/herald/rules"
	"github.com/herald-io/herald/store"
	"github.com/herald-io/herald/telemetry"
)

// Global-schema tables backing directory entries.
const (
	tableUsers         = "users"
	tableSubscriptions = "subscriptions"
	tableSystem        = "system"
)

// Config configures the intake pipeline.
type Config struct {
	Directory  *directory.Directory
	Store      *store.Store
	Relevance  *relevance.Registry
	Generator  *rules.Generator
	Composer   *alert.Composer
	Dispatcher *dispatch.Dispatcher

	Address string // Fallback site address when the system row has none

	RetentionSweepInterval time.Duration
	RetentionMaxAge        time.Duration
}

// Intake is the per-batch orchestrator.
type Intake struct {
	dir        *directory.Directory
	store      *store.Store
	relevance  *relevance.Registry
	generator  *rules.Generator
	composer   *alert.Composer
	dispatcher *dispatch.Dispatcher
	address    string

	sweepInterval time.Duration
	maxAge        time.Duration

	lifecycleMu sync.Mutex
	running     atomic.Bool
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// New creates an intake pipeline.
func New(config Config) (*Intake, error) {
	if config.Directory == nil || config.Store == nil || config.Dispatcher == nil {
		return nil, fmt.Errorf("directory, store and dispatcher are required")
	}
	if config.Relevance == nil {
		config.Relevance = relevance.DefaultRegistry()
	}
	if config.Generator == nil {
		config.Generator = rules.NewGenerator(config.Directory, config.Store, config.Store)
	}
	if config.Composer == nil {
		config.Composer = alert.NewComposer()
	}

	return &Intake{
		dir:           config.Directory,
		store:         config.Store,
		relevance:     config.Relevance,
		generator:     config.Generator,
		composer:      config.Composer,
		dispatcher:    config.Dispatcher,
		address:       config.Address,
		sweepInterval: config.RetentionSweepInterval,
		maxAge:        config.RetentionMaxAge,
	}, nil
}

// Handle adapts Process to the batcher's handler signature. Batch failures
// are logged and dropped; the feed never blocks on a bad batch.
func (i *Intake) Handle(batch []*model.ChangeEvent) {
	if err := i.Process(context.Background(), batch); err != nil {
		telemetry.BatchesTotal.With("failed").Inc()
		log.Error().Err(err).Int("events", len(batch)).Msg("Batch processing failed")
		return
	}
	telemetry.BatchesTotal.With("ok").Inc()
}

// Process runs one batch through invalidation, listener construction and the
// three concurrent message flows.
func (i *Intake) Process(ctx context.Context, events []*model.ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}

	i.invalidate(events)

	system, err := i.dir.System(ctx)
	if err != nil {
		return fmt.Errorf("failed to load system settings: %w", err)
	}
	users, err := i.dir.Users(ctx)
	if err != nil {
		return fmt.Errorf("failed to load users: %w", err)
	}
	subs, err := i.dir.Subscriptions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load subscriptions: %w", err)
	}

	listeners := buildListeners(users, subs)
	if len(listeners) == 0 {
		log.Debug().Int("events", len(events)).Msg("No listeners, batch dropped")
		return nil
	}

	address := system.Address
	if address == "" {
		address = i.address
	}

	revalidations := i.async(ctx, func() ([]*model.Message, error) {
		return i.revalidationFlow(events, listeners, address), nil
	})
	changes := i.async(ctx, func() ([]*model.Message, error) {
		return i.changeFlow(events, listeners, address), nil
	})
	alerts := i.async(ctx, func() ([]*model.Message, error) {
		return i.alertFlow(ctx, system, events, listeners, address)
	})

	var firstErr error
	for _, f := range []*future.Future[[]*model.Message]{revalidations, changes, alerts} {
		if _, err := f.Get(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// async runs one flow in its own goroutine and sends its messages as soon as
// they are ready, without waiting for sibling flows.
func (i *Intake) async(ctx context.Context, flow func() ([]*model.Message, error)) *future.Future[[]*model.Message] {
	p := future.NewPromise[[]*model.Message]()
	go func() {
		msgs, err := flow()
		if err == nil && len(msgs) > 0 {
			i.dispatcher.Send(ctx, msgs)
		}
		p.Set(msgs, err)
	}()
	return p.Future()
}

// invalidate drops directory entries backed by rows this batch touches.
func (i *Intake) invalidate(events []*model.ChangeEvent) {
	for _, ev := range events {
		if ev.Schema != model.GlobalSchema {
			continue
		}
		switch ev.Table {
		case tableUsers:
			i.dir.InvalidateUser(ev.ID)
		case tableSubscriptions:
			i.dir.InvalidateSubscription(ev.ID)
		case tableSystem:
			i.dir.InvalidateSystem()
		}
	}
}

// revalidationFlow tells each listener which of its own records changed so
// the client can refetch credentials and settings.
func (i *Intake) revalidationFlow(events []*model.ChangeEvent, listeners []model.Listener, address string) []*model.Message {
	systemChanged := false
	changedUsers := make(map[int64]bool)
	subOwners := make(map[int64]bool)

	for _, ev := range events {
		if ev.Schema != model.GlobalSchema {
			continue
		}
		switch ev.Table {
		case tableUsers:
			changedUsers[ev.ID] = true
		case tableSubscriptions:
			if owner, ok := model.AsInt64(ev.Current["user_id"]); ok {
				subOwners[owner] = true
			} else if owner, ok := model.AsInt64(ev.Previous["user_id"]); ok {
				subOwners[owner] = true
			}
		case tableSystem:
			systemChanged = true
		}
	}
	if !systemChanged && len(changedUsers) == 0 && len(subOwners) == 0 {
		return nil
	}

	var messages []*model.Message
	for _, l := range listeners {
		var entities []string
		if changedUsers[l.User.ID] {
			entities = append(entities, "user")
		}
		if subOwners[l.User.ID] {
			entities = append(entities, "subscription")
		}
		if systemChanged {
			entities = append(entities, "system")
		}
		if len(entities) == 0 {
			continue
		}
		messages = append(messages, &model.Message{
			Kind:     model.KindRevalidation,
			Listener: l,
			Body:     entities,
			Address:  address,
		})
	}
	return messages
}

// changeFlow maps each listener's relevant events to a pending change set.
func (i *Intake) changeFlow(events []*model.ChangeEvent, listeners []model.Listener, address string) []*model.Message {
	sets := i.relevance.Collect(events, listeners)

	messages := make([]*model.Message, 0, len(sets))
	for _, set := range sets {
		messages = append(messages, &model.Message{
			Kind:     model.KindChange,
			Listener: set.Listener,
			Body:     set.Changes,
			Address:  address,
		})
	}
	return messages
}

// alertFlow persists this batch's notifications and renders one localized
// alert per (notification, target listener) pairing.
func (i *Intake) alertFlow(ctx context.Context, system *model.SystemSettings, events []*model.ChangeEvent, listeners []model.Listener, address string) ([]*model.Message, error) {
	notifications, err := i.generator.Generate(ctx, events)
	if err != nil {
		return nil, fmt.Errorf("failed to generate notifications: %w", err)
	}
	if len(notifications) == 0 {
		return nil, nil
	}

	byTarget := make(map[int64][]model.Listener)
	for _, l := range listeners {
		byTarget[l.User.ID] = append(byTarget[l.User.ID], l)
	}

	var messages []*model.Message
	for _, n := range notifications {
		telemetry.NotificationsCreatedTotal.With(n.Type).Inc()

		targets := byTarget[n.TargetUserID]
		if len(targets) == 0 {
			continue
		}

		actor, err := i.dir.User(ctx, n.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to load actor %d: %w", n.UserID, err)
		}

		for _, l := range targets {
			a := i.composer.Format(system, n.Schema, actor, n, l.Subscription.Locale)
			messages = append(messages, &model.Message{
				Kind:         model.KindAlert,
				Listener:     l,
				Body:         a,
				Address:      address,
				Notification: n,
			})
		}
	}
	return messages, nil
}

// buildListeners joins active subscriptions with their users. Subscriptions
// whose owner is missing produce no listener.
func buildListeners(users []*model.User, subs []*model.Subscription) []model.Listener {
	byID := make(map[int64]*model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	listeners := make([]model.Listener, 0, len(subs))
	for _, sub := range subs {
		u, ok := byID[sub.UserID]
		if !ok {
			continue
		}
		listeners = append(listeners, model.Listener{
			User:         u,
			Subscription: sub,
			Channel:      sub.Channel(),
		})
	}
	return listeners
}
