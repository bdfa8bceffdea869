package relay

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestSession_InitialState(t *testing.T) {
	s := NewSession(nil, nil, "ws://localhost/v1/listen", Options{}, nil)

	if s.State() != "opening" {
		t.Errorf("Expected new session state 'opening', got %q", s.State())
	}
	if s.ID() == "" {
		t.Error("Expected session to have an id")
	}
}

func TestSession_ClosedWhenBothChannelsClosed(t *testing.T) {
	s := NewSession(nil, nil, "ws://localhost/v1/listen", Options{}, nil)

	s.markClientClosed()
	if s.State() == "closed" {
		t.Error("Session must not be closed while the upstream channel is open")
	}

	s.markUpstreamClosed()
	if s.State() != "closed" {
		t.Errorf("Expected state 'closed' once both channels closed, got %q", s.State())
	}
}

func TestSession_CloseBeforeHandshakeEntersClosing(t *testing.T) {
	s := NewSession(nil, nil, "ws://localhost/v1/listen", Options{}, nil)

	// No upstream connection yet: the transition alone must be recorded so the
	// dial completion discards the connection.
	s.closeUpstream(1000, ClientClosedReason)

	if s.State() != "closing" {
		t.Errorf("Expected state 'closing', got %q", s.State())
	}
}

// startSession upgrades a local client connection, builds a session around
// the server side of it, and runs the session against the given upstream.
// It returns the user end of the client connection and the session itself.
func startSession(t *testing.T, upstream *fakeUpstream) (*websocket.Conn, *Session) {
	t.Helper()

	hold := make(chan struct{})
	serverConns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	edge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConns <- conn
		<-hold
	}))
	t.Cleanup(edge.Close)
	t.Cleanup(func() { close(hold) })

	client, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(edge.URL, "http"), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { client.Close() })

	var clientSide *websocket.Conn
	select {
	case clientSide = <-serverConns:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for the upgraded connection")
	}

	target, err := BuildUpstreamURL(upstream.wsURL(), "upstream-key", Options{})
	require.NoError(t, err)

	sess := NewSession(clientSide, websocket.DefaultDialer, target, Options{}, nil)
	go sess.Run()

	// The upstream leg's "ready" frame marks the session active
	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "ready", string(data))

	return client, sess
}

func TestSession_ReleasesConnectionsOnClientClose(t *testing.T) {
	upstream := newFakeUpstream(t)
	client, sess := startSession(t, upstream)

	deadline := time.Now().Add(time.Second)
	require.NoError(t, client.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"), deadline))
	client.Close()

	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for the session to close")
	}
	require.Equal(t, "closed", sess.State())

	// Both sockets must be released when the session ends, not left to GC
	_, err := sess.client.UnderlyingConn().Write([]byte{0})
	require.Error(t, err, "client socket should be closed")

	sess.mu.Lock()
	up := sess.upstream
	sess.mu.Unlock()
	require.NotNil(t, up)
	_, err = up.UnderlyingConn().Write([]byte{0})
	require.Error(t, err, "upstream socket should be closed")
}

func TestSession_ReleasesConnectionsOnUpstreamClose(t *testing.T) {
	upstream := newFakeUpstream(t)
	upstream.script = func(conn *websocket.Conn) {
		deadline := time.Now().Add(time.Second)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "transcription complete"), deadline)
	}
	client, sess := startSession(t, upstream)

	// The upstream close reaches the client verbatim before the session ends
	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := client.ReadMessage()
	ce, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close error, got %v", err)
	require.Equal(t, websocket.CloseNormalClosure, ce.Code)
	require.Equal(t, "transcription complete", ce.Text)

	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for the session to close")
	}
	require.Equal(t, "closed", sess.State())

	_, err = sess.client.UnderlyingConn().Write([]byte{0})
	require.Error(t, err, "client socket should be closed")

	sess.mu.Lock()
	up := sess.upstream
	sess.mu.Unlock()
	require.NotNil(t, up)
	_, err = up.UnderlyingConn().Write([]byte{0})
	require.Error(t, err, "upstream socket should be closed")
}

func TestSessionState_String(t *testing.T) {
	cases := map[sessionState]string{
		stateOpening:     "opening",
		stateActive:      "active",
		stateClosing:     "closing",
		stateClosed:      "closed",
		sessionState(99): "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("Expected %d to format as %q, got %q", state, want, got)
		}
	}
}
