// Package dispatch delivers messages to their listeners. The socket and
// push sub-pipelines are fully partitioned: socket writes are synchronous
// fire-and-forget, push relay groups each run their own HTTP exchange with
// retry and never block each other or the next batch.
package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/herald-io/herald/encoding"
	"github.com/herald-io/herald/model"
	"github.com/herald-io/herald/socket"
	"github.com/herald-io/herald/telemetry"
)

// SubscriptionPruner soft-deletes subscriptions whose delivery destination
// no longer exists.
type SubscriptionPruner interface {
	SoftDeleteSubscriptionByToken(ctx context.Context, token string) error
	SoftDeleteSubscriptionsByTokens(ctx context.Context, tokens []string) error
}

// Config configures the dispatcher.
type Config struct {
	Sockets   *socket.Registry
	Pruner    SubscriptionPruner
	Address   string // Public site base URL, for absolute image links
	Signature string // Per-process relay origin token
	Retry     RetryPolicy
	Client    *http.Client // Defaults to a 30s-timeout client
}

// Dispatcher partitions outgoing messages by channel and delivers them.
type Dispatcher struct {
	sockets   *socket.Registry
	pruner    SubscriptionPruner
	address   string
	signature string
	retry     RetryPolicy
	client    *http.Client

	inflight sync.WaitGroup
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(config Config) (*Dispatcher, error) {
	if config.Sockets == nil {
		return nil, fmt.Errorf("socket registry is required")
	}
	if config.Pruner == nil {
		return nil, fmt.Errorf("subscription pruner is required")
	}
	if config.Address == "" {
		return nil, fmt.Errorf("site address is required")
	}
	if config.Signature == "" {
		config.Signature = socket.NewToken()
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry = DefaultRetryPolicy()
	}
	if config.Client == nil {
		config.Client = &http.Client{Timeout: 30 * time.Second}
	}

	return &Dispatcher{
		sockets:   config.Sockets,
		pruner:    config.Pruner,
		address:   strings.TrimRight(config.Address, "/"),
		signature: config.Signature,
		retry:     config.Retry,
		client:    config.Client,
	}, nil
}

// Signature returns the per-process relay origin token.
func (d *Dispatcher) Signature() string {
	return d.signature
}

// Send delivers one batch of messages. Socket writes complete before
// return; relay groups are spawned and complete on their own schedule.
func (d *Dispatcher) Send(ctx context.Context, messages []*model.Message) {
	var socketMsgs, pushMsgs []*model.Message
	for _, msg := range messages {
		if msg.Listener.Channel == model.ChannelSocket {
			socketMsgs = append(socketMsgs, msg)
		} else {
			pushMsgs = append(pushMsgs, msg)
		}
	}

	d.sendSockets(ctx, socketMsgs)
	d.sendPush(ctx, pushMsgs, socketMsgs)
}

// Flush waits for in-flight relay groups. Used on shutdown and in tests;
// batch processing never calls it.
func (d *Dispatcher) Flush() {
	d.inflight.Wait()
}

// sendSockets is the socket sub-pipeline: best-effort framed writes, no
// acknowledgement, no retry. A token without a live socket marks the
// subscription stale.
func (d *Dispatcher) sendSockets(ctx context.Context, messages []*model.Message) {
	for _, msg := range messages {
		// Channel-level preference: the notification exists, but this user
		// does not want this type on the web.
		if msg.Kind == model.KindAlert && !msg.Listener.User.ChannelEnabled(msg.Notification.Type, "web") {
			telemetry.MessagesTotal.With("socket", "suppressed").Inc()
			continue
		}

		token := msg.Listener.Subscription.Token
		sock, ok := d.sockets.Lookup(token)
		if !ok {
			telemetry.MessagesTotal.With("socket", "stale").Inc()
			telemetry.StaleSubscriptionsTotal.With("socket_gone").Inc()
			if err := d.pruner.SoftDeleteSubscriptionByToken(ctx, token); err != nil {
				log.Error().Err(err).Str("token", token).Msg("Failed to soft-delete stale subscription")
			}
			continue
		}

		env, err := envelopeFor(msg)
		if err != nil {
			log.Error().Err(err).Str("kind", msg.Kind).Msg("Dropping malformed socket message")
			telemetry.MessagesTotal.With("socket", "failed").Inc()
			continue
		}
		payload, err := encoding.Marshal(env)
		if err != nil {
			log.Error().Err(err).Str("kind", msg.Kind).Msg("Failed to encode socket frame")
			telemetry.MessagesTotal.With("socket", "failed").Inc()
			continue
		}

		if err := sock.Write(payload); err != nil {
			log.Warn().Err(err).Str("token", token).Msg("Socket write failed")
			telemetry.MessagesTotal.With("socket", "failed").Inc()
			continue
		}
		telemetry.MessagesTotal.With("socket", "sent").Inc()
	}
}

// liveWebUsers returns the users that currently hold a live socket
// listener in this batch. Any live web session suppresses push alerts for
// the user regardless of the alert's own type, unless the user opted into
// both sessions.
func (d *Dispatcher) liveWebUsers(socketMsgs []*model.Message) map[int64]bool {
	live := make(map[int64]bool)
	for _, msg := range socketMsgs {
		if live[msg.Listener.User.ID] {
			continue
		}
		if _, ok := d.sockets.Lookup(msg.Listener.Subscription.Token); ok {
			live[msg.Listener.User.ID] = true
		}
	}
	return live
}
