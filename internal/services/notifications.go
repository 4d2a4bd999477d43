package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"lms/internal/models"
	"lms/internal/repositories"
)

// NotificationService reads and acknowledges the messages written by the
// store sink.
type NotificationService interface {
	List(ctx context.Context, actor Actor, unreadOnly bool) ([]models.Notification, error)
	MarkRead(ctx context.Context, actor Actor, id uuid.UUID) (*models.Notification, error)
	MarkAllRead(ctx context.Context, actor Actor) (int64, error)
}

type notificationService struct {
	db    *gorm.DB
	repos *repositories.Repositories
}

func NewNotificationService(db *gorm.DB, repos *repositories.Repositories) NotificationService {
	return &notificationService{db: db, repos: repos}
}

func (s *notificationService) List(ctx context.Context, actor Actor, unreadOnly bool) ([]models.Notification, error) {
	return s.repos.Notifications.ListByUser(s.db.WithContext(ctx), actor.ID, unreadOnly)
}

// MarkRead is restricted to the recipient; staff cannot acknowledge on
// someone else's behalf.
func (s *notificationService) MarkRead(ctx context.Context, actor Actor, id uuid.UUID) (*models.Notification, error) {
	db := s.db.WithContext(ctx)
	n, err := s.repos.Notifications.GetByID(db, id)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: notification %s", ErrNotFound, id)
		}
		return nil, err
	}
	if n.UserID != actor.ID {
		return nil, fmt.Errorf("%w: not your notification", ErrForbidden)
	}
	if !n.IsRead {
		if err := s.repos.Notifications.MarkRead(db, id); err != nil {
			return nil, err
		}
		n.IsRead = true
	}
	return n, nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, actor Actor) (int64, error) {
	return s.repos.Notifications.MarkAllRead(s.db.WithContext(ctx), actor.ID)
}
