package server

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herald-io/herald/encoding"
	"github.com/herald-io/herald/socket"
)

type staticSigner string

func (s staticSigner) Signature() string { return string(s) }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(Config{
		BindAddress: "127.0.0.1",
		Port:        0,
		Sockets:     socket.NewRegistry(0),
		Signer:      staticSigner("expected-signature"),
	})
	require.NoError(t, err)
	return s
}

func TestSignatureEndpoint(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/signature", "application/json",
		strings.NewReader(`{"signature": "expected-signature"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/signature", "application/json",
		strings.NewReader(`{"signature": "forged"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSignatureEndpoint_RejectsMalformedBody(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	// A bare token without the JSON wrapper is not a valid request.
	resp, err := http.Post(ts.URL+"/signature", "text/plain", strings.NewReader("expected-signature"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsDisabledByDefault(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMux_SplitsHTTPAndSocketTraffic(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.Start())
	defer s.Stop()

	addr := s.Addr()
	require.NotEmpty(t, addr)

	// HTTP path through the shared port.
	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", addr))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Raw socket path through the same port: the hello frame announces the
	// connection token.
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	payload, err := socket.ReadFrame(conn)
	require.NoError(t, err)

	var hello struct {
		Kind  string `msgpack:"kind"`
		Token string `msgpack:"token"`
	}
	require.NoError(t, encoding.Unmarshal(payload, &hello))
	assert.Equal(t, "hello", hello.Kind)
	assert.NotEmpty(t, hello.Token)
}
