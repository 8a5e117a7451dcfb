package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"learnhub/realtime-service/models"
	"learnhub/realtime-service/utils"
)

type DispatcherConfig struct {
	// EnforceParticipants rejects joinChat, sendMessage and markAsRead on
	// conversations the user does not belong to.
	EnforceParticipants bool
	StoreTimeout        time.Duration
}

// Dispatcher routes inbound client events to the session, store and
// gateway. Events of one connection are handled in arrival order by the
// caller; the dispatcher itself holds no per-connection state.
type Dispatcher struct {
	sessions *SessionManager
	rooms    *RoomRegistry
	presence *PresenceRegistry
	gateway  *Gateway
	store    ConversationStore
	cfg      DispatcherConfig
	logger   *utils.Logger
}

func NewDispatcher(sessions *SessionManager, rooms *RoomRegistry, presence *PresenceRegistry, gateway *Gateway, store ConversationStore, cfg DispatcherConfig, logger *utils.Logger) *Dispatcher {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 10 * time.Second
	}
	return &Dispatcher{
		sessions: sessions,
		rooms:    rooms,
		presence: presence,
		gateway:  gateway,
		store:    store,
		cfg:      cfg,
		logger:   logger.With("component", "dispatcher"),
	}
}

// Dispatch handles one inbound event. A panicking handler is recovered so
// the connection keeps being served.
func (d *Dispatcher) Dispatch(ctx context.Context, conn Conn, env models.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Event handler panicked", "conn_id", conn.ID(), "event", env.Event, "panic", fmt.Sprint(r))
		}
	}()

	switch env.Event {
	case models.EventAuthenticate:
		d.handleAuthenticate(conn, env.Data)
	case models.EventJoinChat:
		d.handleJoinChat(ctx, conn, env.Data)
	case models.EventLeaveChat:
		d.handleLeaveChat(conn, env.Data)
	case models.EventSendMessage:
		d.handleSendMessage(ctx, conn, env.Data)
	case models.EventTyping:
		d.handleTyping(conn, env.Data)
	case models.EventMarkAsRead:
		d.handleMarkAsRead(ctx, conn, env.Data)
	case models.EventNotification:
		d.handleNotification(conn, env.Data)
	default:
		d.logger.Debug("Ignoring unknown event", "conn_id", conn.ID(), "event", env.Event)
	}
}

func (d *Dispatcher) handleAuthenticate(conn Conn, data json.RawMessage) {
	auth, err := models.ParseAuthPayload(data)
	if err != nil {
		d.logger.Warn("Ignoring invalid authenticate", "conn_id", conn.ID(), "error", err)
		return
	}
	d.sessions.Authenticate(conn, auth)
}

func (d *Dispatcher) handleJoinChat(ctx context.Context, conn Conn, data json.RawMessage) {
	sess, ok := d.authenticated(conn)
	if !ok {
		d.logger.Debug("Ignoring joinChat before authenticate", "conn_id", conn.ID())
		return
	}

	chatID, err := models.ParseChatRef(data)
	if err != nil {
		d.replyError(conn, "Chat ID is required")
		return
	}

	if d.cfg.EnforceParticipants {
		if _, err := d.requireParticipant(ctx, chatID, sess.UserID); err != nil {
			d.logger.Warn("Refused joinChat", "conn_id", conn.ID(), "user_id", sess.UserID, "chat_id", chatID, "error", err)
			return
		}
	}

	if d.rooms.Join(chatID, conn) {
		d.logger.Debug("Joined chat", "conn_id", conn.ID(), "user_id", sess.UserID, "chat_id", chatID)
	}
}

func (d *Dispatcher) handleLeaveChat(conn Conn, data json.RawMessage) {
	chatID, err := models.ParseChatRef(data)
	if err != nil {
		return
	}
	if d.rooms.Leave(chatID, conn) {
		d.logger.Debug("Left chat", "conn_id", conn.ID(), "chat_id", chatID)
	}
}

func (d *Dispatcher) handleSendMessage(ctx context.Context, conn Conn, data json.RawMessage) {
	sess, ok := d.authenticated(conn)
	if !ok {
		d.replyError(conn, "Not authenticated")
		return
	}

	var req models.SendMessagePayload
	if err := json.Unmarshal(data, &req); err != nil {
		d.replyError(conn, "Invalid message payload")
		return
	}
	req.ChatID = strings.TrimSpace(req.ChatID)
	if req.ChatID == "" {
		d.replyError(conn, "Chat ID is required")
		return
	}
	if req.SenderID != "" && req.SenderID != sess.UserID {
		d.replyError(conn, "Sender does not match authenticated user")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.StoreTimeout)
	defer cancel()

	participants, err := d.participants(ctx, req.ChatID, sess.UserID)
	if err != nil {
		d.replyStoreError(conn, "sendMessage", err)
		return
	}

	msg, err := d.store.AppendMessage(ctx, req.ChatID, sess.UserID, req.Message, req.Attachments)
	if err != nil {
		d.replyStoreError(conn, "sendMessage", err)
		return
	}

	d.gateway.ToRoom(req.ChatID, models.EventNewMessage, models.NewMessage{
		ChatID:  req.ChatID,
		Message: msg,
	})
	d.gateway.Send(conn, models.EventMessageSent, models.MessageSent{
		Success:   true,
		MessageID: msg.ID.Hex(),
	})

	for _, p := range participants {
		if p != sess.UserID && !d.presence.IsOnline(p) {
			d.logger.Info("Participant offline, would send push notification", "user_id", p, "chat_id", req.ChatID)
		}
	}
}

func (d *Dispatcher) handleTyping(conn Conn, data json.RawMessage) {
	sess, ok := d.authenticated(conn)
	if !ok {
		return
	}

	var req models.TypingPayload
	if err := json.Unmarshal(data, &req); err != nil || req.ChatID == "" {
		return
	}

	d.gateway.ToRoomExcept(req.ChatID, conn, models.EventUserTyping, models.UserTyping{
		ChatID:   req.ChatID,
		UserID:   sess.UserID,
		IsTyping: req.IsTyping,
	})
}

func (d *Dispatcher) handleMarkAsRead(ctx context.Context, conn Conn, data json.RawMessage) {
	sess, ok := d.authenticated(conn)
	if !ok {
		d.replyError(conn, "Not authenticated")
		return
	}

	var req models.MarkAsReadPayload
	if err := json.Unmarshal(data, &req); err != nil {
		d.replyError(conn, "Invalid read receipt payload")
		return
	}
	req.ChatID = strings.TrimSpace(req.ChatID)
	if req.ChatID == "" {
		d.replyError(conn, "Chat ID is required")
		return
	}
	if req.UserID != "" && req.UserID != sess.UserID {
		d.replyError(conn, "Reader does not match authenticated user")
		return
	}
	if len(req.MessageIDs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.StoreTimeout)
	defer cancel()

	if d.cfg.EnforceParticipants {
		if _, err := d.requireParticipant(ctx, req.ChatID, sess.UserID); err != nil {
			d.replyStoreError(conn, "markAsRead", err)
			return
		}
	}

	if err := d.store.MarkRead(ctx, req.ChatID, req.MessageIDs, sess.UserID); err != nil {
		d.replyStoreError(conn, "markAsRead", err)
		return
	}

	d.gateway.ToRoomExcept(req.ChatID, conn, models.EventMessagesRead, models.MessagesRead{
		ChatID:     req.ChatID,
		MessageIDs: req.MessageIDs,
		UserID:     sess.UserID,
	})
}

func (d *Dispatcher) handleNotification(conn Conn, data json.RawMessage) {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	n := d.gateway.BroadcastAll(models.EventNewNotification, data)
	d.logger.Debug("Notification rebroadcast", "conn_id", conn.ID(), "recipients", n)
}

func (d *Dispatcher) authenticated(conn Conn) (Session, bool) {
	sess, ok := d.sessions.Lookup(conn)
	if !ok || !sess.Authenticated() {
		return Session{}, false
	}
	return sess, true
}

// participants returns the conversation's participants, checking
// membership when enforcement is on.
func (d *Dispatcher) participants(ctx context.Context, chatID, userID string) ([]string, error) {
	if d.cfg.EnforceParticipants {
		return d.requireParticipant(ctx, chatID, userID)
	}
	return d.store.ListParticipants(ctx, chatID)
}

func (d *Dispatcher) requireParticipant(ctx context.Context, chatID, userID string) ([]string, error) {
	participants, err := d.store.ListParticipants(ctx, chatID)
	if err != nil {
		return nil, err
	}
	for _, p := range participants {
		if p == userID {
			return participants, nil
		}
	}
	return nil, ErrNotParticipant
}

func (d *Dispatcher) replyError(conn Conn, message string) {
	d.gateway.Send(conn, models.EventMessageError, models.MessageError{Message: message})
}

func (d *Dispatcher) replyStoreError(conn Conn, event string, err error) {
	text := MessageErrorText(err)
	if text == genericMessageError {
		d.logger.Error("Event failed", "conn_id", conn.ID(), "event", event, "error", err)
	} else {
		d.logger.Debug("Event rejected", "conn_id", conn.ID(), "event", event, "error", err)
	}
	d.replyError(conn, text)
}

const genericMessageError = "Failed to process message"

// MessageErrorText maps a store error to the text sent to the client.
func MessageErrorText(err error) string {
	switch {
	case errors.Is(err, ErrConversationNotFound):
		return "Chat not found"
	case errors.Is(err, ErrEmptyContent):
		return "Message content is required"
	case errors.Is(err, ErrInvalidID):
		return "Invalid chat ID"
	case errors.Is(err, ErrNotParticipant):
		return "You are not a participant of this chat"
	case errors.Is(err, ErrInvalidAttachment):
		return "Invalid attachment"
	case errors.Is(err, ErrWriteConflict):
		return "Chat was modified concurrently, please retry"
	default:
		return genericMessageError
	}
}
