package feed

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/herald-io/herald/cfg"
	"github.com/herald-io/herald/encoding"
	"github.com/herald-io/herald/model"
)

const natsEventBuffer = 1024

func init() {
	RegisterSource("nats", func(config cfg.FeedConfiguration) (Source, error) {
		return NewNATSSource(config.NATS.URL, config.NATS.Subject)
	})
}

// NATSSource receives change events published per-row by the storage layer
// on a NATS subject.
type NATSSource struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	events chan *model.ChangeEvent
	done   chan struct{}
}

// NewNATSSource connects and subscribes.
func NewNATSSource(url, subject string) (*NATSSource, error) {
	conn, err := nats.Connect(url,
		nats.Name("herald-feed"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	s := &NATSSource{
		conn:   conn,
		events: make(chan *model.ChangeEvent, natsEventBuffer),
		done:   make(chan struct{}),
	}

	s.sub, err = conn.Subscribe(subject, s.handle)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe to %q: %w", subject, err)
	}

	log.Info().Str("url", url).Str("subject", subject).Msg("NATS feed source connected")
	return s, nil
}

func (s *NATSSource) handle(msg *nats.Msg) {
	var ev model.ChangeEvent
	if err := encoding.Unmarshal(msg.Data, &ev); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("Failed to decode change event")
		return
	}
	select {
	case s.events <- &ev:
	case <-s.done:
	}
}

// Events implements Source.
func (s *NATSSource) Events() <-chan *model.ChangeEvent {
	return s.events
}

// Close implements Source. The events channel stays open since the NATS
// client may still be inside handle; unblocking happens through done.
func (s *NATSSource) Close() error {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.conn != nil {
		s.conn.Close()
	}
	close(s.done)
	return nil
}
