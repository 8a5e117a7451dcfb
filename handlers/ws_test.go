package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"learnhub/realtime-service/models"
	"learnhub/realtime-service/services"
	"learnhub/realtime-service/utils"
)

type wsFixture struct {
	server   *httptest.Server
	presence *services.PresenceRegistry
	rooms    *services.RoomRegistry
	store    *services.MemoryStore
}

func newWSFixture(t *testing.T) *wsFixture {
	logger := utils.NewNopLogger()
	presence := services.NewPresenceRegistry(logger)
	rooms := services.NewRoomRegistry()
	gateway := services.NewGateway(presence, rooms, logger)
	sessions := services.NewSessionManager(presence, rooms, gateway, logger)
	store := services.NewMemoryStore()
	dispatcher := services.NewDispatcher(sessions, rooms, presence, gateway, store, services.DispatcherConfig{EnforceParticipants: true}, logger)

	router := gin.New()
	router.GET("/ws", NewWebSocketHandler(sessions, dispatcher, []string{"*"}, 16, 0, logger).Handle)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &wsFixture{server: server, presence: presence, rooms: rooms, store: store}
}

func (f *wsFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func emit(t *testing.T, ws *websocket.Conn, event string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(models.Envelope{Event: event, Data: raw}))
}

// await reads frames until one carries event, skipping everything else.
func await(t *testing.T, ws *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var env models.Envelope
		require.NoError(t, ws.ReadJSON(&env))
		if env.Event == event {
			return env.Data
		}
	}
}

func TestWebSocket_MessageRoundTrip(t *testing.T) {
	f := newWSFixture(t)
	conv, err := f.store.FindOrCreateDirect(context.Background(), "U1", "U2", models.ConversationScope{MentorID: "M1"})
	require.NoError(t, err)
	chatID := conv.ID.Hex()

	alice, bob := f.dial(t), f.dial(t)

	emit(t, alice, models.EventAuthenticate, gin.H{"userId": "U1", "clientId": "web-1"})
	emit(t, bob, models.EventAuthenticate, "U2")
	emit(t, alice, models.EventJoinChat, chatID)
	emit(t, bob, models.EventJoinChat, gin.H{"chatId": chatID})

	require.Eventually(t, func() bool {
		return len(f.rooms.Members(chatID)) == 2
	}, 2*time.Second, 10*time.Millisecond)

	emit(t, alice, models.EventSendMessage, gin.H{"chatId": chatID, "message": "hi"})

	var sent models.MessageSent
	require.NoError(t, json.Unmarshal(await(t, alice, models.EventMessageSent), &sent))
	require.True(t, sent.Success)

	var got struct {
		ChatID  string `json:"chatId"`
		Message struct {
			ID      string `json:"id"`
			Sender  string `json:"sender"`
			Content string `json:"content"`
		} `json:"message"`
	}
	require.NoError(t, json.Unmarshal(await(t, bob, models.EventNewMessage), &got))
	require.Equal(t, chatID, got.ChatID)
	require.Equal(t, "U1", got.Message.Sender)
	require.Equal(t, "hi", got.Message.Content)
	require.Equal(t, sent.MessageID, got.Message.ID)
}

func TestWebSocket_DisconnectGoesOffline(t *testing.T) {
	f := newWSFixture(t)
	watcher, leaver := f.dial(t), f.dial(t)

	emit(t, watcher, models.EventAuthenticate, "watcher")
	emit(t, leaver, models.EventAuthenticate, gin.H{"userId": "U9", "clientId": "phone"})

	var online models.UserStatusChanged
	for online.UserID != "U9" {
		require.NoError(t, json.Unmarshal(await(t, watcher, models.EventUserStatusChanged), &online))
	}
	require.Equal(t, models.StatusOnline, online.Status)

	require.NoError(t, leaver.Close())

	var offline models.UserStatusChanged
	require.NoError(t, json.Unmarshal(await(t, watcher, models.EventUserStatusChanged), &offline))
	require.Equal(t, "U9", offline.UserID)
	require.Equal(t, models.StatusOffline, offline.Status)
	require.False(t, f.presence.IsOnline("U9"))
}

func TestWebSocket_UnauthenticatedSendIsRejected(t *testing.T) {
	f := newWSFixture(t)
	ws := f.dial(t)

	// Malformed frames are skipped without closing the connection.
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))
	emit(t, ws, models.EventSendMessage, gin.H{"chatId": "x", "message": "hi"})

	var reply models.MessageError
	require.NoError(t, json.Unmarshal(await(t, ws, models.EventMessageError), &reply))
	require.Equal(t, "Not authenticated", reply.Message)
}

func TestWSConn_SendAfterCloseAndBufferFull(t *testing.T) {
	conn := &wsConn{id: "c", send: make(chan []byte, 1), done: make(chan struct{})}

	require.NoError(t, conn.Send(models.EventNewMessage, gin.H{"n": 1}))
	require.ErrorIs(t, conn.Send(models.EventNewMessage, gin.H{"n": 2}), errSendBufferFull)

	conn.close()
	conn.close()
	require.ErrorIs(t, conn.Send(models.EventNewMessage, gin.H{"n": 3}), errConnClosed)
}

func TestEncodeEnvelope_PassesRawPayloadThrough(t *testing.T) {
	data, err := encodeEnvelope(models.EventNewNotification, json.RawMessage(`{"title":"x","extra":[1,2]}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"newNotification","data":{"title":"x","extra":[1,2]}}`, string(data))

	data, err = encodeEnvelope(models.EventMessageError, models.MessageError{Message: "nope"})
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"messageError","data":{"message":"nope"}}`, string(data))
}
