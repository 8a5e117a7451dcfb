package models

import (
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ConversationKind string

const (
	ConversationDirect ConversationKind = "direct"
	ConversationGroup  ConversationKind = "group"
)

type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentDocument AttachmentKind = "document"
	AttachmentVideo    AttachmentKind = "video"
	AttachmentAudio    AttachmentKind = "audio"
	AttachmentOther    AttachmentKind = "other"
)

// Attachment is a storage locator produced by the upload endpoint and
// carried verbatim on a message.
type Attachment struct {
	Kind         AttachmentKind `bson:"kind" json:"type" validate:"required,oneof=image document video audio other"`
	URL          string         `bson:"url" json:"url" validate:"required"`
	Filename     string         `bson:"filename" json:"filename" validate:"required"`
	MimeType     string         `bson:"mime_type" json:"mimeType" validate:"required"`
	Size         int64          `bson:"size,omitempty" json:"size,omitempty" validate:"gte=0"`
	ThumbnailURL string         `bson:"thumbnail_url,omitempty" json:"thumbnailUrl,omitempty"`
}

// Message lives inside a Conversation's log and is never stored on its own.
type Message struct {
	ID          primitive.ObjectID `bson:"_id" json:"id"`
	SenderID    string             `bson:"sender_id" json:"sender"`
	Content     string             `bson:"content" json:"content"`
	Attachments []Attachment       `bson:"attachments,omitempty" json:"attachments,omitempty"`
	ReadBy      []string           `bson:"read_by" json:"readBy"`
	CreatedAt   time.Time          `bson:"created_at" json:"createdAt"`
}

// IsReadBy reports whether userID has a read receipt on the message.
func (m *Message) IsReadBy(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// ConversationScope is the course and/or mentor context a conversation
// belongs to.
type ConversationScope struct {
	CourseID string `bson:"course_id,omitempty" json:"courseId,omitempty"`
	MentorID string `bson:"mentor_id,omitempty" json:"mentorId,omitempty"`
}

func (s ConversationScope) key() string {
	return "course=" + s.CourseID + "|mentor=" + s.MentorID
}

// IsZero reports whether neither a course nor a mentor is set.
func (s ConversationScope) IsZero() bool {
	return s.CourseID == "" && s.MentorID == ""
}

type Conversation struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Kind         ConversationKind   `bson:"kind" json:"kind"`
	Name         string             `bson:"name,omitempty" json:"name,omitempty"`
	Participants []string           `bson:"participants" json:"participants"`
	Scope        ConversationScope  `bson:"scope" json:"scope"`
	Messages     []Message          `bson:"messages" json:"messages"`
	DedupKey     string             `bson:"dedup_key" json:"-"`
	Version      int64              `bson:"version" json:"-"`
	CreatedAt    time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt    time.Time          `bson:"updated_at" json:"updatedAt"`
}

// HasParticipant reports whether userID is in the participant list.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// FindMessage returns the message with the given id, or nil.
func (c *Conversation) FindMessage(id primitive.ObjectID) *Message {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return &c.Messages[i]
		}
	}
	return nil
}

// UnreadFor lists the ids of messages userID did not send and has not read.
func (c *Conversation) UnreadFor(userID string) []string {
	var ids []string
	for i := range c.Messages {
		m := &c.Messages[i]
		if m.SenderID != userID && !m.IsReadBy(userID) {
			ids = append(ids, m.ID.Hex())
		}
	}
	return ids
}

// DirectDedupKey identifies a direct conversation by its unordered pair of
// users and its scope.
func DirectDedupKey(userA, userB string, scope ConversationScope) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return "direct:" + strings.Join(pair, ",") + ":" + scope.key()
}

// GroupDedupKey identifies the single group conversation of a scope.
func GroupDedupKey(scope ConversationScope) string {
	if scope.CourseID != "" {
		return "group:course=" + scope.CourseID
	}
	return "group:" + scope.key()
}

// WelcomeMessage seeds a newly created group conversation.
type WelcomeMessage struct {
	OwnerID string
	Content string
}

// UserConversations is a user's conversation list split by kind, each
// ordered by most recent update first.
type UserConversations struct {
	Direct []Conversation `json:"directChats"`
	Group  []Conversation `json:"groupChats"`
}

// UserSummary is the public profile used to enrich responses.
type UserSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type CourseRef struct {
	ID       string
	Name     string
	MentorID string
}

type MentorRef struct {
	ID     string
	UserID string
}

// ConversationView is a conversation with participant profiles resolved.
type ConversationView struct {
	Conversation
	ParticipantProfiles []UserSummary `json:"participantProfiles"`
}
