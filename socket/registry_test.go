package socket

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herald-io/herald/encoding"
)

// connect serves one end of a pipe and returns the client end plus the token
// announced in the hello frame.
func connect(t *testing.T, r *Registry) (net.Conn, string) {
	t.Helper()
	server, client := net.Pipe()
	go r.Serve(server)

	payload, err := ReadFrame(client)
	require.NoError(t, err)

	var hello helloFrame
	require.NoError(t, encoding.Unmarshal(payload, &hello))
	require.Equal(t, "hello", hello.Kind)
	require.NotEmpty(t, hello.Token)
	return client, hello.Token
}

func waitForCount(t *testing.T, r *Registry, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for r.Count() != want {
		if time.Now().After(deadline) {
			t.Fatalf("registry count never reached %d, have %d", want, r.Count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRegistry_HelloAndLookup(t *testing.T) {
	r := NewRegistry(0)
	client, token := connect(t, r)
	defer client.Close()

	sock, ok := r.Lookup(token)
	require.True(t, ok)
	assert.Equal(t, token, sock.Token())
	assert.Equal(t, 1, r.Count())

	_, ok = r.Lookup("no-such-token")
	assert.False(t, ok)
}

func TestRegistry_WriteReachesClient(t *testing.T) {
	r := NewRegistry(0)
	client, token := connect(t, r)
	defer client.Close()

	sock, ok := r.Lookup(token)
	require.True(t, ok)

	done := make(chan error, 1)
	go func() { done <- sock.Write([]byte("ping")) }()

	payload, err := ReadFrame(client)
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), payload)
	require.NoError(t, <-done)
}

func TestRegistry_DisconnectDrops(t *testing.T) {
	r := NewRegistry(0)
	client, token := connect(t, r)

	client.Close()
	waitForCount(t, r, 0)

	_, ok := r.Lookup(token)
	assert.False(t, ok)
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry(0)
	a, _ := connect(t, r)
	b, _ := connect(t, r)
	defer a.Close()
	defer b.Close()

	require.Equal(t, 2, r.Count())
	r.CloseAll()
	assert.Equal(t, 0, r.Count())
}

func TestNewToken_Unique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		tok := NewToken()
		assert.Len(t, tok, 32)
		assert.False(t, seen[tok])
		seen[tok] = true
	}
}
