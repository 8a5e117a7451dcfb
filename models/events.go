package models

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// Inbound events (client to server).
const (
	EventAuthenticate = "authenticate"
	EventJoinChat     = "joinChat"
	EventLeaveChat    = "leaveChat"
	EventSendMessage  = "sendMessage"
	EventTyping       = "typing"
	EventMarkAsRead   = "markAsRead"
	EventNotification = "notification"
)

// Outbound events (server to client).
const (
	EventUserStatusChanged     = "userStatusChanged"
	EventNewMessage            = "newMessage"
	EventMessageSent           = "messageSent"
	EventMessageError          = "messageError"
	EventUserTyping            = "userTyping"
	EventMessagesRead          = "messagesRead"
	EventNewNotification       = "newNotification"
	EventPlayNotificationSound = "playNotificationSound"
)

var (
	ErrInvalidAuthPayload = errors.New("invalid authenticate payload")
	ErrInvalidChatRef     = errors.New("invalid conversation reference")
)

// Envelope is the JSON frame exchanged over the websocket in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AuthPayload is the canonical form of an authenticate event. Legacy clients
// send a bare user id string; they get a ClientID derived from the connection.
type AuthPayload struct {
	UserID     string
	ClientID   string
	ClientType string
	Legacy     bool
}

type structuredAuth struct {
	UserID     string `json:"userId"`
	ClientID   string `json:"clientId"`
	ClientType string `json:"clientType"`
}

// ParseAuthPayload resolves either accepted authenticate shape. An empty
// ClientID is left for the session layer to fill in.
func ParseAuthPayload(raw json.RawMessage) (AuthPayload, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return AuthPayload{}, ErrInvalidAuthPayload
	}

	switch raw[0] {
	case '"':
		var userID string
		if err := json.Unmarshal(raw, &userID); err != nil {
			return AuthPayload{}, errors.Wrap(ErrInvalidAuthPayload, err.Error())
		}
		userID = strings.TrimSpace(userID)
		if userID == "" {
			return AuthPayload{}, ErrInvalidAuthPayload
		}
		return AuthPayload{UserID: userID, Legacy: true}, nil
	case '{':
		var s structuredAuth
		if err := json.Unmarshal(raw, &s); err != nil {
			return AuthPayload{}, errors.Wrap(ErrInvalidAuthPayload, err.Error())
		}
		s.UserID = strings.TrimSpace(s.UserID)
		if s.UserID == "" {
			return AuthPayload{}, ErrInvalidAuthPayload
		}
		return AuthPayload{
			UserID:     s.UserID,
			ClientID:   strings.TrimSpace(s.ClientID),
			ClientType: s.ClientType,
		}, nil
	default:
		return AuthPayload{}, ErrInvalidAuthPayload
	}
}

// ParseChatRef accepts a bare conversation id string or an object carrying
// chatId, as sent by joinChat and leaveChat.
func ParseChatRef(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", ErrInvalidChatRef
	}

	var id string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &id); err != nil {
			return "", ErrInvalidChatRef
		}
	} else {
		var ref struct {
			ChatID string `json:"chatId"`
		}
		if err := json.Unmarshal(raw, &ref); err != nil {
			return "", ErrInvalidChatRef
		}
		id = ref.ChatID
	}

	if id = strings.TrimSpace(id); id == "" {
		return "", ErrInvalidChatRef
	}
	return id, nil
}

type SendMessagePayload struct {
	ChatID      string       `json:"chatId"`
	Message     string       `json:"message"`
	SenderID    string       `json:"senderId"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type TypingPayload struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type MarkAsReadPayload struct {
	ChatID     string   `json:"chatId"`
	MessageIDs []string `json:"messageIds"`
	UserID     string   `json:"userId"`
}

type UserStatusChanged struct {
	UserID string         `json:"userId"`
	Status PresenceStatus `json:"status"`
}

type NewMessage struct {
	ChatID  string   `json:"chatId"`
	Message *Message `json:"message"`
}

type MessageSent struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
}

type MessageError struct {
	Message string `json:"message"`
}

type UserTyping struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type MessagesRead struct {
	ChatID     string   `json:"chatId"`
	MessageIDs []string `json:"messageIds"`
	UserID     string   `json:"userId"`
}
