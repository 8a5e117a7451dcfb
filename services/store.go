package services

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"learnhub/realtime-service/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrEmptyContent         = errors.New("message content is required")
	ErrInvalidID            = errors.New("invalid id format")
	ErrNotParticipant       = errors.New("user is not a participant of this conversation")
	ErrWriteConflict        = errors.New("conversation was modified concurrently")
	ErrInvalidGroupName     = errors.New("group conversation requires a name")
	ErrInvalidParticipants  = errors.New("conversation requires two distinct participants")
	ErrInvalidAttachment    = errors.New("invalid attachment")
)

// ConversationStore persists conversations and their embedded message logs.
// Every mutation is an atomic update of a single conversation document.
type ConversationStore interface {
	FindOrCreateDirect(ctx context.Context, userA, userB string, scope models.ConversationScope) (*models.Conversation, error)
	FindOrCreateGroup(ctx context.Context, scope models.ConversationScope, name string, participants []string, welcome *models.WelcomeMessage) (*models.Conversation, error)
	AppendMessage(ctx context.Context, conversationID, senderID, content string, attachments []models.Attachment) (*models.Message, error)
	MarkRead(ctx context.Context, conversationID string, messageIDs []string, readerID string) error
	ListParticipants(ctx context.Context, conversationID string) ([]string, error)
	ListForUser(ctx context.Context, userID string) (*models.UserConversations, error)
	Get(ctx context.Context, conversationID string) (*models.Conversation, error)
}

func parseObjectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(strings.TrimSpace(id))
	if err != nil {
		return primitive.NilObjectID, errors.Wrapf(ErrInvalidID, "%q", id)
	}
	return oid, nil
}

// parseObjectIDs keeps only well-formed ids; malformed ones cannot match a
// stored message and are ignored like unknown ids.
func parseObjectIDs(ids []string) []primitive.ObjectID {
	oids := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if oid, err := parseObjectID(id); err == nil {
			oids = append(oids, oid)
		}
	}
	return oids
}

func newMessage(senderID, content string, attachments []models.Attachment) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if err := models.ValidateAttachments(attachments); err != nil {
		return nil, errors.Wrap(ErrInvalidAttachment, err.Error())
	}

	return &models.Message{
		ID:          primitive.NewObjectID(),
		SenderID:    senderID,
		Content:     content,
		Attachments: attachments,
		ReadBy:      []string{senderID},
		CreatedAt:   nowUTC(),
	}, nil
}

// applyReadReceipts adds readerID to the readBy set of each listed message
// that exists and lacks it. Returns how many messages changed.
func applyReadReceipts(conv *models.Conversation, ids []primitive.ObjectID, readerID string) int {
	var changed int
	for _, id := range ids {
		m := conv.FindMessage(id)
		if m == nil || m.IsReadBy(readerID) {
			continue
		}
		m.ReadBy = append(m.ReadBy, readerID)
		changed++
	}
	return changed
}

func uniqueParticipants(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func validateDirectPair(userA, userB string) error {
	userA, userB = strings.TrimSpace(userA), strings.TrimSpace(userB)
	if userA == "" || userB == "" || userA == userB {
		return ErrInvalidParticipants
	}
	return nil
}
