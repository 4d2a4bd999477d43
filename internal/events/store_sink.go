package events

import (
	"context"

	"gorm.io/gorm"

	"lms/internal/models"
	"lms/internal/repositories"
)

// StoreSink persists events as user-visible notifications.
type StoreSink struct {
	db   *gorm.DB
	repo repositories.NotificationRepository
}

func NewStoreSink(db *gorm.DB, repo repositories.NotificationRepository) *StoreSink {
	return &StoreSink{db: db, repo: repo}
}

func (s *StoreSink) Deliver(ctx context.Context, e Event) error {
	n := &models.Notification{
		UserID:           e.UserID,
		Title:            e.Title,
		Message:          e.Message,
		NotificationType: e.Type,
		CreatedAt:        e.OccurredAt,
	}
	return s.repo.Create(s.db.WithContext(ctx), n)
}
