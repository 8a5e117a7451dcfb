package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"learnhub/realtime-service/models"
)

func TestMemoryStore_FindOrCreateDirectIsUnorderedAndScoped(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	scope := models.ConversationScope{MentorID: "m1"}

	c1, err := s.FindOrCreateDirect(ctx, "A", "B", scope)
	require.NoError(t, err)
	c2, err := s.FindOrCreateDirect(ctx, "B", "A", scope)
	require.NoError(t, err)
	require.Equal(t, c1.ID, c2.ID)
	require.Empty(t, c1.Messages)
	require.Equal(t, models.ConversationDirect, c1.Kind)

	other, err := s.FindOrCreateDirect(ctx, "A", "B", models.ConversationScope{MentorID: "m2"})
	require.NoError(t, err)
	require.NotEqual(t, c1.ID, other.ID)
}

func TestMemoryStore_FindOrCreateDirectRejectsBadPairs(t *testing.T) {
	s := NewMemoryStore()
	for _, pair := range [][2]string{{"A", "A"}, {"", "B"}, {"A", " "}} {
		_, err := s.FindOrCreateDirect(context.Background(), pair[0], pair[1], models.ConversationScope{})
		require.True(t, errors.Is(err, ErrInvalidParticipants), "pair %v", pair)
	}
}

func TestMemoryStore_ConcurrentFindOrCreateDirectCreatesOne(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	scope := models.ConversationScope{MentorID: "m1"}

	const callers = 50
	ids := make([]primitive.ObjectID, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, err := s.FindOrCreateDirect(ctx, "student", "mentor-user", scope)
			if err == nil {
				ids[i] = conv.ID
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, id := range ids {
		require.NoError(t, errs[i])
		require.Equal(t, ids[0], id)
	}

	list, err := s.ListForUser(ctx, "student")
	require.NoError(t, err)
	require.Len(t, list.Direct, 1)
}

func TestMemoryStore_AppendMessageSelfRead(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	conv, err := s.FindOrCreateDirect(ctx, "A", "B", models.ConversationScope{})
	require.NoError(t, err)

	msg, err := s.AppendMessage(ctx, conv.ID.Hex(), "A", "  hi  ", nil)
	require.NoError(t, err)
	require.False(t, msg.ID.IsZero())
	require.Equal(t, "hi", msg.Content)
	require.Equal(t, []string{"A"}, msg.ReadBy)
	require.False(t, msg.CreatedAt.IsZero())

	stored, err := s.Get(ctx, conv.ID.Hex())
	require.NoError(t, err)
	require.Len(t, stored.Messages, 1)
	require.Equal(t, msg.CreatedAt, stored.UpdatedAt)
}

func TestMemoryStore_AppendMessageValidation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	conv, err := s.FindOrCreateDirect(ctx, "A", "B", models.ConversationScope{})
	require.NoError(t, err)

	_, err = s.AppendMessage(ctx, conv.ID.Hex(), "A", "   ", nil)
	require.True(t, errors.Is(err, ErrEmptyContent))

	_, err = s.AppendMessage(ctx, primitive.NewObjectID().Hex(), "A", "hi", nil)
	require.True(t, errors.Is(err, ErrConversationNotFound))

	_, err = s.AppendMessage(ctx, "not-an-id", "A", "hi", nil)
	require.True(t, errors.Is(err, ErrInvalidID))

	_, err = s.AppendMessage(ctx, conv.ID.Hex(), "A", "see file", []models.Attachment{{Kind: "sticker", URL: "u", Filename: "f", MimeType: "x"}})
	require.True(t, errors.Is(err, ErrInvalidAttachment))

	stored, err := s.Get(ctx, conv.ID.Hex())
	require.NoError(t, err)
	require.Empty(t, stored.Messages)
}

func TestMemoryStore_AppendKeepsOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	conv, err := s.FindOrCreateDirect(ctx, "A", "B", models.ConversationScope{})
	require.NoError(t, err)

	m1, err := s.AppendMessage(ctx, conv.ID.Hex(), "A", "first", nil)
	require.NoError(t, err)
	m2, err := s.AppendMessage(ctx, conv.ID.Hex(), "B", "second", nil)
	require.NoError(t, err)

	stored, err := s.Get(ctx, conv.ID.Hex())
	require.NoError(t, err)
	require.Equal(t, m1.ID, stored.Messages[0].ID)
	require.Equal(t, m2.ID, stored.Messages[1].ID)
}

func TestMemoryStore_MarkReadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	conv, err := s.FindOrCreateDirect(ctx, "A", "B", models.ConversationScope{})
	require.NoError(t, err)
	m1, err := s.AppendMessage(ctx, conv.ID.Hex(), "A", "one", nil)
	require.NoError(t, err)
	m2, err := s.AppendMessage(ctx, conv.ID.Hex(), "A", "two", nil)
	require.NoError(t, err)

	ids := []string{m1.ID.Hex(), m2.ID.Hex(), primitive.NewObjectID().Hex(), "garbage"}
	require.NoError(t, s.MarkRead(ctx, conv.ID.Hex(), ids, "B"))
	require.NoError(t, s.MarkRead(ctx, conv.ID.Hex(), ids, "B"))

	stored, err := s.Get(ctx, conv.ID.Hex())
	require.NoError(t, err)
	for _, m := range stored.Messages {
		require.Equal(t, []string{"A", "B"}, m.ReadBy)
	}

	err = s.MarkRead(ctx, primitive.NewObjectID().Hex(), ids, "B")
	require.True(t, errors.Is(err, ErrConversationNotFound))
}

func TestMemoryStore_FindOrCreateGroup(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	scope := models.ConversationScope{CourseID: "course1", MentorID: "m1"}
	welcome := &models.WelcomeMessage{OwnerID: "mentor-user", Content: "Welcome!"}

	g, err := s.FindOrCreateGroup(ctx, scope, "Go Discussion Group", []string{"mentor-user", "A"}, welcome)
	require.NoError(t, err)
	require.Equal(t, models.ConversationGroup, g.Kind)
	require.Equal(t, "Go Discussion Group", g.Name)
	require.Equal(t, []string{"mentor-user", "A"}, g.Participants)
	require.Len(t, g.Messages, 1)
	require.Equal(t, "mentor-user", g.Messages[0].SenderID)
	require.Equal(t, []string{"mentor-user"}, g.Messages[0].ReadBy)

	again, err := s.FindOrCreateGroup(ctx, scope, "Go Discussion Group", []string{"mentor-user", "B"}, welcome)
	require.NoError(t, err)
	require.Equal(t, g.ID, again.ID)
	require.Equal(t, []string{"mentor-user", "A", "B"}, again.Participants)
	require.Len(t, again.Messages, 1)

	_, err = s.FindOrCreateGroup(ctx, models.ConversationScope{CourseID: "course2"}, " ", nil, nil)
	require.True(t, errors.Is(err, ErrInvalidGroupName))
}

func TestMemoryStore_ListForUserOrdersByUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	older, err := s.FindOrCreateDirect(ctx, "A", "B", models.ConversationScope{})
	require.NoError(t, err)
	newer, err := s.FindOrCreateDirect(ctx, "A", "C", models.ConversationScope{})
	require.NoError(t, err)
	group, err := s.FindOrCreateGroup(ctx, models.ConversationScope{CourseID: "c1"}, "Group", []string{"A", "D"}, nil)
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	_, err = s.AppendMessage(ctx, older.ID.Hex(), "B", "ping", nil)
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, older.ID.Hex(), "A", "pong", nil)
	require.NoError(t, err)

	list, err := s.ListForUser(ctx, "A")
	require.NoError(t, err)
	require.Len(t, list.Direct, 2)
	require.Equal(t, older.ID, list.Direct[0].ID)
	require.Equal(t, newer.ID, list.Direct[1].ID)
	require.Len(t, list.Direct[0].Messages, 1)
	require.Equal(t, "pong", list.Direct[0].Messages[0].Content)
	require.Len(t, list.Group, 1)
	require.Equal(t, group.ID, list.Group[0].ID)

	none, err := s.ListForUser(ctx, "nobody")
	require.NoError(t, err)
	require.Empty(t, none.Direct)
	require.Empty(t, none.Group)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	conv, err := s.FindOrCreateDirect(ctx, "A", "B", models.ConversationScope{})
	require.NoError(t, err)

	conv.Participants[0] = "mallory"

	participants, err := s.ListParticipants(ctx, conv.ID.Hex())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"A", "B"}, participants)
}
