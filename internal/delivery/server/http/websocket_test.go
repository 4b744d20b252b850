package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herald/internal/app/notification"
	"herald/internal/shared/logging"
)

func dialHub(t *testing.T, server *httptest.Server, owner string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/ws"
	header := http.Header{}
	header.Set(ownerHeader, owner)
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event map[string]any
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func TestWebSocketReceivesReminderEvents(t *testing.T) {
	srv := newTestServer(t, RouterConfig{})
	server := httptest.NewServer(srv.engine)
	defer server.Close()

	conn := dialHub(t, server, "alice")
	require.Eventually(t, func() bool { return srv.dispatcher.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, srv.hub.Len())

	created := srv.createReminder(t, "alice", timeReminderBody("feed the cat"))
	event := readEvent(t, conn)
	assert.Equal(t, string(notification.EventReminderCreated), event["type"])

	rec, env := srv.do(t, http.MethodPost, reminderPath(created, "/notify"), "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	notified := decodeData[map[string]any](t, env)
	assert.Equal(t, float64(1), notified["attempted"])
	assert.Equal(t, float64(1), notified["delivered"])

	event = readEvent(t, conn)
	assert.Equal(t, string(notification.EventReminder), event["type"])
	data := event["data"].(map[string]any)
	assert.Equal(t, "feed the cat", data["content"])
	assert.Equal(t, float64(1), data["trigger_count"])

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	_ = conn.Close()
	require.Eventually(t, func() bool { return srv.dispatcher.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, srv.hub.Len())
}

func TestWebSocketBroadcastReachesEveryChannel(t *testing.T) {
	srv := newTestServer(t, RouterConfig{})
	server := httptest.NewServer(srv.engine)
	defer server.Close()

	first := dialHub(t, server, "alice")
	defer first.Close()
	second := dialHub(t, server, "bob")
	defer second.Close()
	require.Eventually(t, func() bool { return srv.dispatcher.Len() == 2 }, 2*time.Second, 10*time.Millisecond)

	result := srv.dispatcher.Broadcast(context.Background(),
		notification.NewEvent(notification.EventProactiveMessage, map[string]string{"message": "hello"}, time.Now()))
	assert.Equal(t, 2, result.Attempted)
	assert.Equal(t, 2, result.Delivered)

	for _, conn := range []*websocket.Conn{first, second} {
		event := readEvent(t, conn)
		assert.Equal(t, string(notification.EventProactiveMessage), event["type"])
	}
}

func TestWebSocketFailedSendClosesConnection(t *testing.T) {
	srv := newTestServer(t, RouterConfig{})
	server := httptest.NewServer(srv.engine)
	defer server.Close()

	conn := dialHub(t, server, "alice")
	defer conn.Close()
	require.Eventually(t, func() bool { return srv.dispatcher.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	result := srv.dispatcher.Broadcast(expired,
		notification.NewEvent(notification.EventProactiveMessage, map[string]string{"message": "late"}, time.Now()))
	assert.Equal(t, 1, result.Attempted)
	assert.Len(t, result.Failed, 1)

	require.Eventually(t, func() bool { return srv.hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, srv.dispatcher.Len())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		assert.False(t, netErr.Timeout(), "client should see the server close the socket, not its own read deadline")
	}
}

func TestWebSocketHubSendUnknownHandle(t *testing.T) {
	hub := NewWebSocketHub(0, nil, logging.Nop())
	err := hub.Send(context.Background(), notification.Handle("ghost"), notification.Event{Type: notification.EventReminder})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownHandle))
}

func TestOriginChecker(t *testing.T) {
	request := func(origin string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/api/ws", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		return req
	}

	open := originChecker(nil)
	assert.True(t, open(request("https://anywhere.example")))

	wildcard := originChecker([]string{"https://app.example", "*"})
	assert.True(t, wildcard(request("https://other.example")))

	strict := originChecker([]string{"https://app.example"})
	assert.True(t, strict(request("https://app.example")))
	assert.True(t, strict(request("")), "non-browser clients send no origin")
	assert.False(t, strict(request("https://evil.example")))
}
