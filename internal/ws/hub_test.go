package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"whatsapp-inbox/internal/notify"
	"whatsapp-inbox/pkg/logging"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubDeliversOnlySubscribedTopics(t *testing.T) {
	hub, srv := startHub(t)

	conversation := dial(t, srv, "topic=conversation:1")
	list := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), notify.Event{
		Topic: notify.ConversationTopic(1),
		Type:  notify.EventNewMessage,
		Data:  map[string]string{"body": "hello"},
	}))
	require.NoError(t, hub.Publish(context.Background(), notify.Event{
		Topic: notify.TopicConversationList,
		Type:  notify.EventListUpdated,
	}))

	conversation.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conversation.ReadMessage()
	require.NoError(t, err)
	var got notify.Event
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, notify.EventNewMessage, got.Type)

	list.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err = list.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, notify.EventListUpdated, got.Type)
	assert.Equal(t, notify.TopicConversationList, got.Topic)
}

func TestPublishNeverBlocks(t *testing.T) {
	hub := NewHub(logging.Discard())

	var dropped error
	for i := 0; i < cap(hub.broadcast)+1; i++ {
		if err := hub.Publish(context.Background(), notify.Event{Topic: "x"}); err != nil {
			dropped = err
		}
	}
	assert.ErrorIs(t, dropped, ErrHubBusy)
}
