package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"

	"github.com/herald-io/herald/model"
	"github.com/herald-io/herald/telemetry"
)

// ErrFatalRelay marks a relay group that must not be retried: a non-429
// 4xx response or an exhausted attempt budget.
var ErrFatalRelay = errors.New("fatal relay error")

// pushUnit is one outbound unit for a relay: a deduplicated payload with
// the union of destination tokens and requested methods.
type pushUnit struct {
	body    []byte // Serialized envelope, dedup identity
	alert   *model.Alert
	tokens  []string
	methods map[string]bool
}

// relayRequest is the wire form of POST {relay}/dispatch.
type relayRequest struct {
	Address   string           `json:"address"`
	Signature string           `json:"signature"`
	Messages  []map[string]any `json:"messages"`
}

// relayResponse is the relay's reply. InvalidTokens lists device
// registrations the relay now considers expired.
type relayResponse struct {
	Errors        []string `json:"errors"`
	InvalidTokens []string `json:"invalid_tokens"`
}

// sendPush is the push sub-pipeline: preference filters, relay grouping,
// payload dedup, then one concurrent HTTP exchange per relay group.
func (d *Dispatcher) sendPush(ctx context.Context, messages, socketMsgs []*model.Message) {
	if len(messages) == 0 {
		return
	}

	liveWeb := d.liveWebUsers(socketMsgs)

	// relay URL -> xxhash(body) -> unit
	groups := make(map[string]map[uint64]*pushUnit)
	order := make(map[string][]uint64) // Preserve first-seen unit order per relay

	for _, msg := range messages {
		if msg.Kind == model.KindAlert {
			user := msg.Listener.User
			typ := msg.Notification.Type
			if !user.ChannelEnabled(typ, "mobile") {
				telemetry.MessagesTotal.With("push", "suppressed").Inc()
				continue
			}
			if liveWeb[user.ID] && !user.BothSessions(typ) {
				telemetry.MessagesTotal.With("push", "suppressed").Inc()
				continue
			}
		}

		sub := msg.Listener.Subscription
		if sub.Relay == "" {
			log.Warn().Str("token", sub.Token).Msg("Push subscription has no relay, skipping")
			telemetry.MessagesTotal.With("push", "failed").Inc()
			continue
		}

		env, err := envelopeFor(msg)
		if err != nil {
			log.Error().Err(err).Str("kind", msg.Kind).Msg("Dropping malformed push message")
			telemetry.MessagesTotal.With("push", "failed").Inc()
			continue
		}
		body, err := env.serializeJSON()
		if err != nil {
			log.Error().Err(err).Str("kind", msg.Kind).Msg("Failed to serialize push body")
			telemetry.MessagesTotal.With("push", "failed").Inc()
			continue
		}

		relay := strings.TrimRight(sub.Relay, "/")
		units := groups[relay]
		if units == nil {
			units = make(map[uint64]*pushUnit)
			groups[relay] = units
		}

		key := xxhash.Sum64(body)
		unit, ok := units[key]
		if ok && !bytes.Equal(unit.body, body) {
			// Hash collision between distinct payloads. Salt the key until
			// it lands on the matching payload or a free slot.
			for ok && !bytes.Equal(unit.body, body) {
				key++
				unit, ok = units[key]
			}
		}
		if unit == nil || !ok {
			unit = &pushUnit{body: body, alert: env.Alert, methods: make(map[string]bool)}
			units[key] = unit
			order[relay] = append(order[relay], key)
		} else {
			telemetry.PushUnitsMergedTotal.Inc()
		}
		unit.tokens = append(unit.tokens, sub.Token)
		unit.methods[sub.Method] = true
		telemetry.MessagesTotal.With("push", "sent").Inc()
	}

	for relay, units := range groups {
		ordered := make([]*pushUnit, 0, len(units))
		for _, key := range order[relay] {
			ordered = append(ordered, units[key])
		}

		d.inflight.Add(1)
		go func(relay string, units []*pushUnit) {
			defer d.inflight.Done()
			start := time.Now()
			err := d.deliverGroup(ctx, relay, units)
			telemetry.RelayRequestSeconds.Observe(time.Since(start).Seconds())
			if err != nil {
				// Fatal for this relay group only; others are unaffected.
				log.Error().Err(err).Str("relay", relay).Int("units", len(units)).Msg("Relay group delivery failed")
			}
		}(relay, ordered)
	}
}

// deliverGroup runs one relay group's exchange through the retry state
// machine: PENDING -> SUCCESS | RATE_LIMITED -> PENDING |
// TRANSIENT -> PENDING(backoff) | FATAL.
func (d *Dispatcher) deliverGroup(ctx context.Context, relay string, units []*pushUnit) error {
	payload, err := json.Marshal(d.buildRequest(units))
	if err != nil {
		return fmt.Errorf("failed to marshal relay request: %w", err)
	}

	attempts := 0
	for {
		state, resp, err := d.exchange(ctx, relay, payload)

		switch state {
		case stateSuccess:
			telemetry.RelayRequestsTotal.With("success").Inc()
			return d.handleResponse(ctx, relay, resp)

		case stateRateLimited:
			telemetry.RelayRequestsTotal.With("rate_limited").Inc()
			log.Warn().Str("relay", relay).Dur("wait", d.retry.RateLimitDelay).Msg("Relay rate limited, waiting")
			if !sleepCtx(ctx, d.retry.RateLimitDelay) {
				return ctx.Err()
			}

		case stateTransient:
			attempts++
			if attempts >= d.retry.MaxAttempts {
				telemetry.RelayRequestsTotal.With("fatal").Inc()
				return fmt.Errorf("%w: %s: exhausted %d attempts: %v", ErrFatalRelay, relay, attempts, err)
			}
			delay := d.retry.Delay(attempts)
			telemetry.RelayRequestsTotal.With("transient").Inc()
			log.Warn().Err(err).Str("relay", relay).Int("attempt", attempts).Dur("backoff", delay).
				Msg("Relay delivery failed, retrying")
			if !sleepCtx(ctx, delay) {
				return ctx.Err()
			}

		case stateFatal:
			telemetry.RelayRequestsTotal.With("fatal").Inc()
			return fmt.Errorf("%w: %s: %v", ErrFatalRelay, relay, err)
		}
	}
}

// exchange performs one HTTP POST and classifies the outcome.
func (d *Dispatcher) exchange(ctx context.Context, relay string, payload []byte) (relayState, *relayResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, relay+"/dispatch", bytes.NewReader(payload))
	if err != nil {
		return stateFatal, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return stateFatal, nil, ctx.Err()
		}
		return stateTransient, nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return stateRateLimited, nil, nil

	case resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return stateTransient, nil, fmt.Errorf("relay returned %d", resp.StatusCode)

	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return stateFatal, nil, fmt.Errorf("relay returned %d: %s", resp.StatusCode, body)
	}

	var parsed relayResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return stateTransient, nil, fmt.Errorf("failed to decode relay response: %w", err)
	}
	return stateSuccess, &parsed, nil
}

// handleResponse prunes subscriptions whose device tokens the relay
// rejected.
func (d *Dispatcher) handleResponse(ctx context.Context, relay string, resp *relayResponse) error {
	for _, msg := range resp.Errors {
		log.Warn().Str("relay", relay).Str("error", msg).Msg("Relay reported delivery error")
	}

	if len(resp.InvalidTokens) == 0 {
		return nil
	}
	telemetry.StaleSubscriptionsTotal.With("invalid_token").Add(float64(len(resp.InvalidTokens)))
	if err := d.pruner.SoftDeleteSubscriptionsByTokens(ctx, resp.InvalidTokens); err != nil {
		return fmt.Errorf("failed to prune invalid tokens: %w", err)
	}
	return nil
}

// buildRequest packages units into the relay wire format: every unit once
// per requested method, using that method's payload shape.
func (d *Dispatcher) buildRequest(units []*pushUnit) relayRequest {
	messages := make([]map[string]any, 0, len(units))
	for _, unit := range units {
		m := map[string]any{"tokens": unit.tokens}
		for _, method := range []string{model.MethodFCM, model.MethodAPNS, model.MethodAPNSSandbox, model.MethodWNS} {
			if !unit.methods[method] {
				continue
			}
			m[method] = d.methodPayload(method, unit)
		}
		messages = append(messages, m)
	}
	return relayRequest{
		Address:   d.address,
		Signature: d.signature,
		Messages:  messages,
	}
}

// methodPayload shapes one unit for one platform. Alerts map
// message -> body and title -> title with an absolute image URL; silent
// messages pass the raw body plus the platform's content-available flag.
func (d *Dispatcher) methodPayload(method string, unit *pushUnit) map[string]any {
	if unit.alert != nil {
		payload := map[string]any{
			"title": unit.alert.Title,
			"body":  unit.alert.Message,
		}
		if unit.alert.ProfileImage != "" {
			payload["image"] = d.absoluteURL(unit.alert.ProfileImage)
		}
		return payload
	}

	payload := map[string]any{"data": json.RawMessage(unit.body)}
	switch method {
	case model.MethodFCM:
		payload["content_available"] = true
	case model.MethodAPNS, model.MethodAPNSSandbox:
		payload["content-available"] = 1
	case model.MethodWNS:
		payload["type"] = "raw"
	}
	return payload
}

// absoluteURL prefixes site-relative paths with the public address.
func (d *Dispatcher) absoluteURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return d.address + path
}

// sleepCtx sleeps for d, returning false if the context ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
