package services

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"learnhub/realtime-service/models"
)

// MemoryStore is a process-local ConversationStore. A single mutex makes
// every operation atomic, which mirrors the per-document atomicity of the
// MongoDB store.
type MemoryStore struct {
	mu            sync.Mutex
	conversations map[primitive.ObjectID]*models.Conversation
	byKey         map[string]primitive.ObjectID
	touched       map[primitive.ObjectID]uint64
	seq           uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[primitive.ObjectID]*models.Conversation),
		byKey:         make(map[string]primitive.ObjectID),
		touched:       make(map[primitive.ObjectID]uint64),
	}
}

func (s *MemoryStore) FindOrCreateDirect(ctx context.Context, userA, userB string, scope models.ConversationScope) (*models.Conversation, error) {
	if err := validateDirectPair(userA, userB); err != nil {
		return nil, err
	}
	userA, userB = strings.TrimSpace(userA), strings.TrimSpace(userB)
	key := models.DirectDedupKey(userA, userB, scope)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[key]; ok {
		return cloneConversation(s.conversations[id]), nil
	}

	now := nowUTC()
	conv := &models.Conversation{
		ID:           primitive.NewObjectID(),
		Kind:         models.ConversationDirect,
		Participants: []string{userA, userB},
		Scope:        scope,
		Messages:     []models.Message{},
		DedupKey:     key,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.insertLocked(conv)
	return cloneConversation(conv), nil
}

func (s *MemoryStore) FindOrCreateGroup(ctx context.Context, scope models.ConversationScope, name string, participants []string, welcome *models.WelcomeMessage) (*models.Conversation, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrInvalidGroupName
	}
	key := models.GroupDedupKey(scope)
	participants = uniqueParticipants(participants)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[key]; ok {
		conv := s.conversations[id]
		var added bool
		for _, p := range participants {
			if !conv.HasParticipant(p) {
				conv.Participants = append(conv.Participants, p)
				added = true
			}
		}
		if added {
			conv.Version++
			s.touchLocked(conv.ID)
		}
		return cloneConversation(conv), nil
	}

	now := nowUTC()
	conv := &models.Conversation{
		ID:           primitive.NewObjectID(),
		Kind:         models.ConversationGroup,
		Name:         strings.TrimSpace(name),
		Participants: participants,
		Scope:        scope,
		Messages:     []models.Message{},
		DedupKey:     key,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if welcome != nil {
		msg, err := newMessage(welcome.OwnerID, welcome.Content, nil)
		if err != nil {
			return nil, err
		}
		conv.Messages = append(conv.Messages, *msg)
		conv.Version++
	}

	s.insertLocked(conv)
	return cloneConversation(conv), nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, conversationID, senderID, content string, attachments []models.Attachment) (*models.Message, error) {
	id, err := parseObjectID(conversationID)
	if err != nil {
		return nil, err
	}
	msg, err := newMessage(senderID, content, attachments)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	conv.Messages = append(conv.Messages, *msg)
	conv.UpdatedAt = msg.CreatedAt
	conv.Version++
	s.touchLocked(id)

	return cloneMessage(msg), nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, conversationID string, messageIDs []string, readerID string) error {
	id, err := parseObjectID(conversationID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return ErrConversationNotFound
	}
	if applyReadReceipts(conv, parseObjectIDs(messageIDs), readerID) > 0 {
		conv.Version++
	}
	return nil
}

func (s *MemoryStore) ListParticipants(ctx context.Context, conversationID string) ([]string, error) {
	conv, err := s.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return conv.Participants, nil
}

// ListForUser returns the user's conversations carrying only their latest
// message, like the MongoDB store's projection.
func (s *MemoryStore) ListForUser(ctx context.Context, userID string) (*models.UserConversations, error) {
	s.mu.Lock()
	var convs []*models.Conversation
	for _, conv := range s.conversations {
		if conv.HasParticipant(userID) {
			convs = append(convs, conv)
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		if !convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
		}
		return s.touched[convs[i].ID] > s.touched[convs[j].ID]
	})

	result := &models.UserConversations{
		Direct: []models.Conversation{},
		Group:  []models.Conversation{},
	}
	for _, conv := range convs {
		c := cloneConversation(conv)
		if n := len(c.Messages); n > 1 {
			c.Messages = c.Messages[n-1:]
		}
		if c.Kind == models.ConversationGroup {
			result.Group = append(result.Group, *c)
		} else {
			result.Direct = append(result.Direct, *c)
		}
	}
	s.mu.Unlock()

	return result, nil
}

func (s *MemoryStore) Get(ctx context.Context, conversationID string) (*models.Conversation, error) {
	id, err := parseObjectID(conversationID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return cloneConversation(conv), nil
}

func (s *MemoryStore) insertLocked(conv *models.Conversation) {
	s.conversations[conv.ID] = conv
	s.byKey[conv.DedupKey] = conv.ID
	s.touchLocked(conv.ID)
}

func (s *MemoryStore) touchLocked(id primitive.ObjectID) {
	s.seq++
	s.touched[id] = s.seq
}

func cloneConversation(c *models.Conversation) *models.Conversation {
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	out.Messages = make([]models.Message, len(c.Messages))
	for i := range c.Messages {
		out.Messages[i] = *cloneMessage(&c.Messages[i])
	}
	return &out
}

func cloneMessage(m *models.Message) *models.Message {
	out := *m
	out.ReadBy = append([]string(nil), m.ReadBy...)
	if m.Attachments != nil {
		out.Attachments = append([]models.Attachment(nil), m.Attachments...)
	}
	return &out
}
