package websocket

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realm-tycoon/economy-server/internal/domain"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger)
	go hub.Run()
	t.Cleanup(hub.Stop)

	upgrader := NewUpgrader(1024, 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, upgrader, r.URL.Query().Get("player"), logger, w, r)
	}))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, playerID string) *gws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?player=" + playerID
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *gws.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHubInboxDelivery(t *testing.T) {
	hub, srv := startHub(t)
	alice := dial(t, srv, "alice")
	dial(t, srv, "bob")

	require.Eventually(t, func() bool {
		return hub.GetSubscriberCount(InboxTopic("alice")) == 1 && hub.GetTotalConnections() == 2
	}, 2*time.Second, 10*time.Millisecond)

	hub.NotifyInbox("alice", domain.InboxMessage{ID: "inb_1", PlayerID: "alice", Gold: 25})

	msg := readMessage(t, alice)
	assert.Equal(t, MessageTypeInbox, msg.Type)
	assert.Equal(t, "inbox:alice", msg.Topic)
	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(25), data["gold"])
}

func TestHubLeaderboardSubscription(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "carol")

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeSubscribe, Category: "dragons"}))
	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeError, msg.Type)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeSubscribe, Category: "gold"}))
	msg = readMessage(t, conn)
	assert.Equal(t, "subscribed", msg.Type)
	assert.Equal(t, "leaderboard:gold", msg.Topic)

	require.Eventually(t, func() bool {
		return hub.GetSubscriberCount(LeaderboardTopic(domain.CategoryGold)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.NotifyLeaderboard(domain.CategoryKills, nil)
	hub.NotifyLeaderboard(domain.CategoryGold, []domain.LeaderboardEntry{{PlayerID: "carol", Value: 10}})

	msg = readMessage(t, conn)
	assert.Equal(t, MessageTypeLeaderboardUpdate, msg.Type)
	assert.Equal(t, "leaderboard:gold", msg.Topic)
}

func TestHubUnregisterOnClose(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "dave")

	require.Eventually(t, func() bool { return hub.GetTotalConnections() == 1 }, 2*time.Second, 10*time.Millisecond)
	conn.Close()
	require.Eventually(t, func() bool {
		return hub.GetTotalConnections() == 0 && hub.GetSubscriberCount(InboxTopic("dave")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStoppedHubDoesNotBlockClients(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger)
	go hub.Run()
	hub.Stop()

	client := NewClient(hub, nil, "erin", logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Register(client)
		hub.Subscribe(client, LeaderboardTopic(domain.CategoryGold))
		hub.Unsubscribe(client, LeaderboardTopic(domain.CategoryGold))
		hub.Unregister(client)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub calls blocked after Stop")
	}
}
