// The relay is exercised end-to-end through the transport client, which
// itself imports this package for the frame protocol; an external test
// package avoids the import cycle.
package signaling_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/konnektoren/konnekt-session-go/internal/v1/signaling"
	"github.com/konnektoren/konnekt-session-go/internal/v1/transport"
	"github.com/konnektoren/konnekt-session-go/internal/v1/types"
)

func newTestServer(t *testing.T) (*httptest.Server, *signaling.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := signaling.NewHub(nil)
	router := gin.New()
	hub.RegisterRoutes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, hub
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, srv *httptest.Server, sessionID types.SessionID, ice ...signaling.ICEServer) *transport.RelayConn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := transport.DialRelay(ctx, wsURL(srv), sessionID, ice...)
	require.NoError(t, err)
	t.Cleanup(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	})
	return conn
}

// pollUntil drains events from a connection until the predicate matches or
// the deadline expires.
func pollUntil(t *testing.T, conn *transport.RelayConn, deadline time.Duration, match func(types.TransportEvent) bool) types.TransportEvent {
	t.Helper()
	timeout := time.After(deadline)
	for {
		for _, ev := range conn.PollEvents() {
			if match(ev) {
				return ev
			}
		}
		select {
		case <-timeout:
			t.Fatal("timed out waiting for transport event")
			return types.TransportEvent{}
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRejectsNonUUIDSession(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/sessions/not-a-uuid/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWelcomeAssignsPeerID(t *testing.T) {
	srv, hub := newTestServer(t)
	sessionID := uuid.New()

	conn := dial(t, srv, sessionID)
	assert.NotEmpty(t, conn.LocalPeerID())
	assert.Equal(t, 1, hub.SessionCount())
}

func TestPresenceFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	sessionID := uuid.New()

	a := dial(t, srv, sessionID)
	b := dial(t, srv, sessionID)

	// a learns about b.
	ev := pollUntil(t, a, 2*time.Second, func(ev types.TransportEvent) bool {
		return ev.Kind == types.TransportPeerConnected && ev.Peer == b.LocalPeerID()
	})
	assert.Equal(t, b.LocalPeerID(), ev.Peer)

	// b was welcomed with a already present.
	peers := b.ConnectedPeers()
	require.Len(t, peers, 1)
	assert.Equal(t, a.LocalPeerID(), peers[0])
}

func TestUnicastAndBroadcastForwarding(t *testing.T) {
	srv, _ := newTestServer(t)
	sessionID := uuid.New()

	a := dial(t, srv, sessionID)
	b := dial(t, srv, sessionID)
	c := dial(t, srv, sessionID)

	// Wait until everyone sees everyone.
	pollUntil(t, a, 2*time.Second, func(ev types.TransportEvent) bool {
		return ev.Kind == types.TransportPeerConnected && ev.Peer == c.LocalPeerID()
	})

	require.NoError(t, a.SendTo(b.LocalPeerID(), []byte(`{"n":1}`)))
	ev := pollUntil(t, b, 2*time.Second, func(ev types.TransportEvent) bool {
		return ev.Kind == types.TransportMessageReceived
	})
	assert.Equal(t, a.LocalPeerID(), ev.Peer)
	assert.JSONEq(t, `{"n":1}`, string(ev.Payload))

	require.NoError(t, b.Broadcast([]byte(`{"n":2}`)))
	ev = pollUntil(t, a, 2*time.Second, func(ev types.TransportEvent) bool {
		return ev.Kind == types.TransportMessageReceived
	})
	assert.JSONEq(t, `{"n":2}`, string(ev.Payload))
	ev = pollUntil(t, c, 2*time.Second, func(ev types.TransportEvent) bool {
		return ev.Kind == types.TransportMessageReceived
	})
	assert.JSONEq(t, `{"n":2}`, string(ev.Payload))
}

func TestPeerLeftAnnounced(t *testing.T) {
	srv, _ := newTestServer(t)
	sessionID := uuid.New()

	a := dial(t, srv, sessionID)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b, err := transport.DialRelay(ctx, wsURL(srv), sessionID)
	require.NoError(t, err)

	pollUntil(t, a, 2*time.Second, func(ev types.TransportEvent) bool {
		return ev.Kind == types.TransportPeerConnected && ev.Peer == b.LocalPeerID()
	})

	closeCtx, cancelClose := context.WithTimeout(context.Background(), time.Second)
	defer cancelClose()
	_ = b.Close(closeCtx)

	ev := pollUntil(t, a, 2*time.Second, func(ev types.TransportEvent) bool {
		return ev.Kind == types.TransportPeerDisconnected
	})
	assert.Equal(t, b.LocalPeerID(), ev.Peer)
}

func TestICEConfigurationPropagates(t *testing.T) {
	srv, _ := newTestServer(t)
	sessionID := uuid.New()

	turn := signaling.ICEServer{
		URLs:       []string{"turn:turn.example.com:3478"},
		Username:   "user",
		Credential: "secret",
	}

	// The host announces its ICE set; a later joiner dials with none and
	// inherits the session's.
	host := dial(t, srv, sessionID, turn)
	require.Len(t, host.ICEServers(), 1)

	// The hello frame is processed on the relay's read pump.
	time.Sleep(100 * time.Millisecond)

	guest := dial(t, srv, sessionID)
	servers := guest.ICEServers()
	require.Len(t, servers, 1)
	assert.Equal(t, turn, servers[0])
}

func TestICEFirstAnnouncerWins(t *testing.T) {
	srv, _ := newTestServer(t)
	sessionID := uuid.New()

	first := signaling.ICEServer{URLs: []string{"turn:first.example.com:3478"}, Username: "a", Credential: "x"}
	second := signaling.ICEServer{URLs: []string{"turn:second.example.com:3478"}, Username: "b", Credential: "y"}

	_ = dial(t, srv, sessionID, first)
	time.Sleep(100 * time.Millisecond)

	// A joiner bringing its own set still adopts the session's.
	late := dial(t, srv, sessionID, second)
	servers := late.ICEServers()
	require.Len(t, servers, 1)
	assert.Equal(t, first, servers[0])
}

func TestSessionsAreIsolated(t *testing.T) {
	srv, hub := newTestServer(t)

	a := dial(t, srv, uuid.New())
	_ = dial(t, srv, uuid.New())
	assert.Equal(t, 2, hub.SessionCount())

	require.NoError(t, a.Broadcast([]byte(`{"n":1}`)))
	time.Sleep(50 * time.Millisecond)
	for _, ev := range a.PollEvents() {
		assert.NotEqual(t, types.TransportMessageReceived, ev.Kind)
	}
}
