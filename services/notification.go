package services

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"learnhub/realtime-service/models"
	"learnhub/realtime-service/utils"
)

// NotificationService stores notifications and pushes them to connected
// clients.
type NotificationService struct {
	repo      NotificationRepository
	catalog   CourseCatalog
	gateway   *Gateway
	retention time.Duration
	logger    *utils.Logger
}

func NewNotificationService(repo NotificationRepository, catalog CourseCatalog, gateway *Gateway, retention time.Duration, logger *utils.Logger) *NotificationService {
	return &NotificationService{
		repo:      repo,
		catalog:   catalog,
		gateway:   gateway,
		retention: retention,
		logger:    logger.With("component", "notifications"),
	}
}

// Create persists the notification, then delivers it: directly to the
// user's devices when it names one, otherwise as a global banner.
func (s *NotificationService) Create(ctx context.Context, req models.CreateNotificationRequest) (*models.Notification, error) {
	if err := models.Validate(&req); err != nil {
		return nil, errors.Wrap(ErrInvalidNotification, err.Error())
	}

	n := &models.Notification{
		Title:         req.Title,
		Message:       req.Message,
		Status:        models.NotificationUnread,
		RecipientRole: req.RecipientRole,
		Sender:        req.Sender,
		CourseID:      req.CourseID,
		Type:          req.Type,
		Link:          req.Link,
	}
	if n.Type == "" {
		n.Type = models.NotificationSystem
	}
	if userID := strings.TrimSpace(req.UserID); userID != "" {
		n.UserID = &userID
	}

	if err := s.repo.Create(ctx, n); err != nil {
		return nil, err
	}

	// User-scoped and global deliveries share one event name.
	if n.UserID != nil {
		if !s.gateway.ToUser(*n.UserID, models.EventNewNotification, n) {
			s.logger.Info("Recipient offline, would send push notification", "user_id", *n.UserID, "notification_id", n.ID)
		}
	} else {
		s.gateway.EmitNotification(n)
	}

	s.logger.Info("Notification created", "notification_id", n.ID, "recipient_role", n.RecipientRole, "type", n.Type)
	return n, nil
}

func (s *NotificationService) ListAll(ctx context.Context) ([]models.Notification, error) {
	return s.repo.ListAll(ctx)
}

func (s *NotificationService) ListForUser(ctx context.Context, userID string) ([]models.Notification, error) {
	return s.repo.ListForAudience(ctx, models.RecipientUser, []string{userID})
}

// ListForMentor includes notifications addressed to the mentor record as
// well as to the mentor's user account.
func (s *NotificationService) ListForMentor(ctx context.Context, userID string) ([]models.Notification, error) {
	ids := []string{userID}
	mentor, err := s.catalog.MentorByUser(ctx, userID)
	switch {
	case err == nil:
		ids = append(ids, mentor.ID)
	case errors.Is(err, ErrMentorNotFound):
	default:
		return nil, err
	}
	return s.repo.ListForAudience(ctx, models.RecipientMentor, ids)
}

// ListForRole picks the listing matching the caller's role.
func (s *NotificationService) ListForRole(ctx context.Context, userID, role string) ([]models.Notification, error) {
	switch models.RecipientRole(role) {
	case models.RecipientAdmin:
		return s.ListAll(ctx)
	case models.RecipientMentor:
		return s.ListForMentor(ctx, userID)
	default:
		return s.ListForUser(ctx, userID)
	}
}

// MarkRead moves a notification from unread to read. Marking a read
// notification again changes nothing.
func (s *NotificationService) MarkRead(ctx context.Context, id string) error {
	changed, err := s.repo.MarkRead(ctx, id)
	if err != nil {
		return err
	}
	if changed {
		s.logger.Debug("Notification read", "notification_id", id)
	}
	return nil
}

// Sweep deletes read notifications older than the retention window.
func (s *NotificationService) Sweep(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-s.retention)
	deleted, err := s.repo.DeleteReadBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.logger.Info("Swept read notifications", "deleted", deleted, "cutoff", cutoff)
	return deleted, nil
}

// NewRetentionSweeper runs Sweep every interval.
func NewRetentionSweeper(svc *NotificationService, interval time.Duration, logger *utils.Logger) *PeriodicTask {
	return NewPeriodicTask("notification-sweeper", interval, func(ctx context.Context) error {
		_, err := svc.Sweep(ctx, time.Now())
		return err
	}, logger)
}
