package services

import (
	"context"
	"fmt"

	"learnhub/realtime-service/models"
	"learnhub/realtime-service/utils"
)

// ChatService implements the HTTP-facing chat workflows on top of the
// conversation store.
type ChatService struct {
	store   ConversationStore
	catalog CourseCatalog
	users   UserDirectory
	gateway *Gateway
	logger  *utils.Logger
}

func NewChatService(store ConversationStore, catalog CourseCatalog, users UserDirectory, gateway *Gateway, logger *utils.Logger) *ChatService {
	return &ChatService{
		store:   store,
		catalog: catalog,
		users:   users,
		gateway: gateway,
		logger:  logger.With("component", "chat"),
	}
}

// OpenPrivateChat returns the direct conversation between the user and a
// mentor, creating it on first contact.
func (s *ChatService) OpenPrivateChat(ctx context.Context, userID, mentorID string) (*models.ConversationView, error) {
	mentor, err := s.catalog.Mentor(ctx, mentorID)
	if err != nil {
		return nil, err
	}

	conv, err := s.store.FindOrCreateDirect(ctx, userID, mentor.UserID, models.ConversationScope{MentorID: mentor.ID})
	if err != nil {
		return nil, err
	}
	return s.view(ctx, conv), nil
}

func (s *ChatService) ListChats(ctx context.Context, userID string) (*models.UserConversations, error) {
	return s.store.ListForUser(ctx, userID)
}

// OpenChat returns a conversation to one of its participants and marks
// everything they had not read yet. The other participants are told on
// their user channel.
func (s *ChatService) OpenChat(ctx context.Context, chatID, userID string) (*models.ConversationView, error) {
	conv, err := s.store.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}

	unread := conv.UnreadFor(userID)
	if len(unread) > 0 {
		if err := s.store.MarkRead(ctx, chatID, unread, userID); err != nil {
			return nil, err
		}
		applyReadReceipts(conv, parseObjectIDs(unread), userID)

		event := models.MessagesRead{ChatID: chatID, MessageIDs: unread, UserID: userID}
		for _, p := range conv.Participants {
			if p != userID {
				s.gateway.ToUser(p, models.EventMessagesRead, event)
			}
		}
	}

	return s.view(ctx, conv), nil
}

// JoinCourseGroup adds the user to the course's discussion group, creating
// the group with the mentor and a welcome message if needed.
func (s *ChatService) JoinCourseGroup(ctx context.Context, courseID, userID string) (*models.Conversation, error) {
	course, err := s.catalog.Course(ctx, courseID)
	if err != nil {
		return nil, err
	}
	mentor, err := s.catalog.Mentor(ctx, course.MentorID)
	if err != nil {
		return nil, err
	}

	welcome := &models.WelcomeMessage{
		OwnerID: mentor.UserID,
		Content: fmt.Sprintf("Welcome to the %s discussion group! Feel free to ask questions and share insights with your classmates.", course.Name),
	}
	scope := models.ConversationScope{CourseID: course.ID, MentorID: mentor.ID}

	conv, err := s.store.FindOrCreateGroup(ctx, scope, course.Name+" Discussion Group", []string{mentor.UserID, userID}, welcome)
	if err != nil {
		return nil, err
	}

	s.logger.Info("User joined course group", "user_id", userID, "course_id", course.ID, "chat_id", conv.ID.Hex())
	return conv, nil
}

// view resolves participant profiles. A directory failure only costs the
// enrichment.
func (s *ChatService) view(ctx context.Context, conv *models.Conversation) *models.ConversationView {
	v := &models.ConversationView{Conversation: *conv, ParticipantProfiles: []models.UserSummary{}}
	if s.users == nil {
		return v
	}

	profiles, err := s.users.Users(ctx, conv.Participants)
	if err != nil {
		s.logger.Warn("Failed to resolve participants", "chat_id", conv.ID.Hex(), "error", err)
		return v
	}
	for _, id := range conv.Participants {
		if p, ok := profiles[id]; ok {
			v.ParticipantProfiles = append(v.ParticipantProfiles, p)
		}
	}
	return v
}
