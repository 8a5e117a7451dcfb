package services

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"learnhub/realtime-service/models"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrInvalidNotification  = errors.New("invalid notification")
)

// NotificationRepository persists notifications.
type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	ListAll(ctx context.Context) ([]models.Notification, error)
	// ListForAudience returns notifications addressed to one of userIDs
	// under role, role-wide ones without a user, and those for everyone.
	ListForAudience(ctx context.Context, role models.RecipientRole, userIDs []string) ([]models.Notification, error)
	// MarkRead flips unread to read. Returns false if it was already read.
	MarkRead(ctx context.Context, id string) (bool, error)
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type GormNotificationRepository struct {
	db *gorm.DB
}

func NewGormNotificationRepository(db *gorm.DB) *GormNotificationRepository {
	return &GormNotificationRepository{db: db}
}

func (r *GormNotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		return errors.Wrap(err, "failed to create notification")
	}
	return nil
}

func (r *GormNotificationRepository) ListAll(ctx context.Context) ([]models.Notification, error) {
	var notifications []models.Notification
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&notifications).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list notifications")
	}
	return notifications, nil
}

func (r *GormNotificationRepository) ListForAudience(ctx context.Context, role models.RecipientRole, userIDs []string) ([]models.Notification, error) {
	db := r.db.WithContext(ctx)

	audience := db.Where("recipient_role = ? AND user_id IS NULL", role)
	if len(userIDs) > 0 {
		audience = audience.Or("recipient_role = ? AND user_id IN ?", role, userIDs)
	}

	var notifications []models.Notification
	err := db.Model(&models.Notification{}).
		Where(audience).
		Or("recipient_role = ?", models.RecipientAll).
		Order("created_at DESC").
		Find(&notifications).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list notifications")
	}
	return notifications, nil
}

func (r *GormNotificationRepository) MarkRead(ctx context.Context, id string) (bool, error) {
	db := r.db.WithContext(ctx)

	res := db.Model(&models.Notification{}).
		Where("id = ? AND status = ?", id, models.NotificationUnread).
		Update("status", models.NotificationRead)
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "failed to update notification")
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	var count int64
	if err := db.Model(&models.Notification{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, errors.Wrap(err, "failed to load notification")
	}
	if count == 0 {
		return false, ErrNotificationNotFound
	}
	return false, nil
}

func (r *GormNotificationRepository) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.NotificationRead, cutoff).
		Delete(&models.Notification{})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "failed to delete notifications")
	}
	return res.RowsAffected, nil
}
