package feed

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/herald-io/herald/encoding"
	"github.com/herald-io/herald/model"
)

func encodedEvent(t *testing.T, ev *model.ChangeEvent) []byte {
	t.Helper()
	data, err := encoding.Marshal(ev)
	require.NoError(t, err)
	return data
}

func TestNATSSource_HandleDeliversDecodedEvent(t *testing.T) {
	s := &NATSSource{
		events: make(chan *model.ChangeEvent, 1),
		done:   make(chan struct{}),
	}

	s.handle(&nats.Msg{Data: encodedEvent(t, &model.ChangeEvent{
		Schema: "blog", Table: "stories", Op: model.OpUpdate, ID: 7,
	})})

	ev := <-s.events
	require.Equal(t, "blog", ev.Schema)
	require.Equal(t, int64(7), ev.ID)

	// Undecodable payloads are skipped, not delivered.
	s.handle(&nats.Msg{Data: []byte("junk")})
	require.Empty(t, s.events)
}

func TestNATSSource_CloseUnblocksHandler(t *testing.T) {
	s := &NATSSource{
		events: make(chan *model.ChangeEvent),
		done:   make(chan struct{}),
	}

	// Nobody reads events, so the handler blocks on the send until Close.
	returned := make(chan struct{})
	go func() {
		s.handle(&nats.Msg{Data: encodedEvent(t, &model.ChangeEvent{
			Schema: "blog", Table: "stories", Op: model.OpUpdate, ID: 1,
		})})
		close(returned)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("handler still blocked after close")
	}
}
