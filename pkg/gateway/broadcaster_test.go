package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func websocketConnPair(t *testing.T) (*websocket.Conn, *websocket.Conn, func()) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	serverConnCh := make(chan *websocket.Conn, 1)
	errCh := make(chan error, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			errCh <- err
			return
		}
		serverConnCh <- conn
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	var serverConn *websocket.Conn
	select {
	case serverConn = <-serverConnCh:
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server websocket connection")
	}

	cleanup := func() {
		_ = clientConn.Close()
		_ = serverConn.Close()
		srv.Close()
	}

	return serverConn, clientConn, cleanup
}

func TestEventBroadcaster_SequenceIsMonotonic(t *testing.T) {
	serverConn, clientConn, cleanup := websocketConnPair(t)
	defer cleanup()

	broadcaster := NewEventBroadcaster()
	broadcaster.clients.Add(&Client{ID: "observer-1", Conn: serverConn})

	broadcaster.Broadcast("turn_started", map[string]interface{}{"sessionId": "s-1"})
	broadcaster.Broadcast("turn_completed", map[string]interface{}{"sessionId": "s-1"})

	var first EventMessage
	require.NoError(t, clientConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, clientConn.ReadJSON(&first))

	var second EventMessage
	require.NoError(t, clientConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, clientConn.ReadJSON(&second))

	assert.Equal(t, "event", first.Type)
	assert.Equal(t, "turn_started", first.Event)
	assert.NotZero(t, first.Seq)
	assert.NotZero(t, first.Timestamp)

	assert.Equal(t, "turn_completed", second.Event)
	assert.Greater(t, second.Seq, first.Seq)
}

func TestEventBroadcaster_DropsObserverOnWriteError(t *testing.T) {
	deadServer, deadClient, deadCleanup := websocketConnPair(t)
	defer deadCleanup()
	liveServer, liveClient, liveCleanup := websocketConnPair(t)
	defer liveCleanup()

	broadcaster := NewEventBroadcaster()
	broadcaster.clients.Add(&Client{ID: "dead", Conn: deadServer})
	broadcaster.clients.Add(&Client{ID: "live", Conn: liveServer})
	require.Equal(t, 2, broadcaster.ObserverCount())

	// Close the server side so the next write to it fails.
	require.NoError(t, deadServer.Close())
	_ = deadClient.Close()

	broadcaster.Broadcast("turn_started", map[string]interface{}{"sessionId": "s-1"})

	var event EventMessage
	require.NoError(t, liveClient.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, liveClient.ReadJSON(&event))
	assert.Equal(t, "turn_started", event.Event)

	assert.Equal(t, 1, broadcaster.ObserverCount())
}

func TestServer_ObserverLifecycle(t *testing.T) {
	srv, ts := newTestGateway(t, &stubAdapter{})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return srv.Broadcaster().ObserverCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return srv.Broadcaster().ObserverCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_ObserverReceivesTurnEvents(t *testing.T) {
	srv, ts := newTestGateway(t, &stubAdapter{})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Events published before the observer registers would be missed.
	require.Eventually(t, func() bool {
		return srv.Broadcaster().ObserverCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	env := decodeEnvelope(t, doJSON(t, http.MethodPost, ts.URL+"/chat", map[string]interface{}{
		"message": "hi",
	}))
	require.True(t, env.Success)

	events := []string{}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg EventMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		events = append(events, msg.Event)
		if msg.Event == "turn_completed" {
			break
		}
	}

	assert.Contains(t, events, "turn_started")
	assert.Contains(t, events, "turn_completed")
}
