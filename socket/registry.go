// Package socket owns the process-wide set of open listener connections.
// A socket lives in the registry from connect to disconnect and is looked
// up by the token assigned at connect time. The registry and the
// subscription table's token column are independently updated views of the
// same relationship; the dispatcher repairs divergence via soft-delete.
package socket

import (
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"

	"github.com/herald-io/herald/encoding"
	"github.com/herald-io/herald/telemetry"
)

// helloFrame is the first frame sent on every new connection; the client
// stores the token in its subscription.
type helloFrame struct {
	Kind  string `msgpack:"kind"`
	Token string `msgpack:"token"`
}

const writeTimeout = 10 * time.Second

// Socket is one open bidirectional connection.
type Socket struct {
	token string
	conn  net.Conn

	writeMu       sync.Mutex
	compressLimit int
}

// Token returns the registry key communicated to the client.
func (s *Socket) Token() string {
	return s.token
}

// Write frames and writes one payload. Fire-and-forget: the caller gets an
// error only for a dead connection, never an acknowledgement.
func (s *Socket) Write(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	start := time.Now()
	s.conn.SetWriteDeadline(start.Add(writeTimeout))
	err := WriteFrame(s.conn, payload, s.compressLimit)
	telemetry.SocketWriteSeconds.Observe(time.Since(start).Seconds())
	return err
}

// Close closes the underlying connection.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// Registry is the process-wide open-socket set.
type Registry struct {
	sockets       *xsync.MapOf[string, *Socket]
	compressLimit int
}

// NewRegistry creates an empty registry. compressLimit is the frame size
// above which payloads are zstd-compressed (0 disables).
func NewRegistry(compressLimit int) *Registry {
	return &Registry{
		sockets:       xsync.NewMapOf[string, *Socket](),
		compressLimit: compressLimit,
	}
}

// NewToken returns a fresh random hex connection token.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Serve registers a new connection, sends the hello frame and blocks
// reading until the peer disconnects. Inbound frames are drained; the
// read loop exists to detect disconnect promptly.
func (r *Registry) Serve(conn net.Conn) {
	s := &Socket{
		token:         NewToken(),
		conn:          conn,
		compressLimit: r.compressLimit,
	}
	r.sockets.Store(s.token, s)
	telemetry.OpenSockets.Inc()
	log.Debug().Str("token", s.token).Str("remote", conn.RemoteAddr().String()).Msg("Socket connected")

	hello, err := encoding.Marshal(helloFrame{Kind: "hello", Token: s.token})
	if err == nil {
		err = s.Write(hello)
	}
	if err != nil {
		log.Warn().Err(err).Str("token", s.token).Msg("Failed to send hello frame")
		r.drop(s)
		return
	}

	for {
		if _, err := ReadFrame(conn); err != nil {
			break
		}
	}

	log.Debug().Str("token", s.token).Msg("Socket disconnected")
	r.drop(s)
}

func (r *Registry) drop(s *Socket) {
	if _, present := r.sockets.LoadAndDelete(s.token); present {
		telemetry.OpenSockets.Dec()
	}
	s.conn.Close()
}

// Lookup returns the open socket for a subscription token, if any.
func (r *Registry) Lookup(token string) (*Socket, bool) {
	return r.sockets.Load(token)
}

// Count returns the number of open sockets.
func (r *Registry) Count() int {
	return r.sockets.Size()
}

// CloseAll closes every open socket. Called on shutdown.
func (r *Registry) CloseAll() {
	r.sockets.Range(func(token string, s *Socket) bool {
		s.conn.Close()
		if _, present := r.sockets.LoadAndDelete(token); present {
			telemetry.OpenSockets.Dec()
		}
		return true
	})
}
