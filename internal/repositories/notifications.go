package repositories

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"lms/internal/models"
)

type notificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(db *gorm.DB, notification *models.Notification) error {
	if db == nil {
		db = r.db
	}
	return db.Create(notification).Error
}

func (r *notificationRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.Notification, error) {
	if db == nil {
		db = r.db
	}
	var n models.Notification
	if err := db.First(&n, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *notificationRepository) ListByUser(db *gorm.DB, userID uuid.UUID, unreadOnly bool) ([]models.Notification, error) {
	if db == nil {
		db = r.db
	}
	q := db.Where("user_id = ?", userID)
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}
	var out []models.Notification
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *notificationRepository) MarkRead(db *gorm.DB, id uuid.UUID) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.Notification{}).
		Where("id = ?", id).
		Update("is_read", true).
		Error
}

func (r *notificationRepository) MarkAllRead(db *gorm.DB, userID uuid.UUID) (int64, error) {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}
