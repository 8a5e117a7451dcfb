package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type NotificationStatus string

const (
	NotificationUnread NotificationStatus = "unread"
	NotificationRead   NotificationStatus = "read"
)

type RecipientRole string

const (
	RecipientUser   RecipientRole = "user"
	RecipientMentor RecipientRole = "mentor"
	RecipientAdmin  RecipientRole = "admin"
	RecipientAll    RecipientRole = "all"
)

type NotificationType string

const (
	NotificationPurchase   NotificationType = "purchase"
	NotificationUpdate     NotificationType = "update"
	NotificationReview     NotificationType = "review"
	NotificationDiscussion NotificationType = "discussion"
	NotificationSystem     NotificationType = "system"
	NotificationCourse     NotificationType = "course"
	NotificationOther      NotificationType = "other"
)

// Notification is a persisted, role- or user-scoped message created by
// business workflows (purchase, question, review, mentor application).
type Notification struct {
	ID            string             `json:"id" gorm:"type:varchar(36);primaryKey"`
	Title         string             `json:"title" gorm:"not null"`
	Message       string             `json:"message" gorm:"type:text;not null"`
	Status        NotificationStatus `json:"status" gorm:"type:varchar(16);not null;default:unread;index"`
	UserID        *string            `json:"userId,omitempty" gorm:"type:varchar(64);index"`
	RecipientRole RecipientRole      `json:"recipientRole" gorm:"type:varchar(16);not null;index"`
	Sender        string             `json:"sender,omitempty"`
	CourseID      string             `json:"courseId,omitempty"`
	Type          NotificationType   `json:"type" gorm:"type:varchar(16);not null;default:system"`
	Link          string             `json:"link,omitempty"`
	CreatedAt     time.Time          `json:"createdAt" gorm:"index"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

func (Notification) TableName() string {
	return "notifications"
}

// BeforeCreate assigns the id on the application side so the same model
// works on postgres and mysql.
func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}

// CreateNotificationRequest is what collaborating workflows submit.
type CreateNotificationRequest struct {
	Title         string           `json:"title" binding:"required" validate:"required"`
	Message       string           `json:"message" binding:"required" validate:"required"`
	UserID        string           `json:"userId"`
	RecipientRole RecipientRole    `json:"recipientRole" binding:"required" validate:"required,oneof=user mentor admin all"`
	Sender        string           `json:"sender"`
	CourseID      string           `json:"courseId"`
	Type          NotificationType `json:"type" validate:"omitempty,oneof=purchase update review discussion system course other"`
	Link          string           `json:"link" validate:"omitempty,max=2048"`
}
