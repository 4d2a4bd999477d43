package repositories

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"lms/internal/models"
)

type fineRepository struct {
	db *gorm.DB
}

func NewFineRepository(db *gorm.DB) FineRepository {
	return &fineRepository{db: db}
}

func (r *fineRepository) Create(db *gorm.DB, fine *models.Fine) error {
	if db == nil {
		db = r.db
	}
	return db.Create(fine).Error
}

func (r *fineRepository) GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Fine, error) {
	if db == nil {
		db = r.db
	}
	var fine models.Fine
	err := db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&fine, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &fine, nil
}

func (r *fineRepository) ExistsForBorrowRecord(db *gorm.DB, recordID uuid.UUID) (bool, error) {
	if db == nil {
		db = r.db
	}
	var count int64
	err := db.Model(&models.Fine{}).Where("borrow_record_id = ?", recordID).Count(&count).Error
	return count > 0, err
}

// CountUnpaidByBook counts unpaid fines attached to any loan of the book.
func (r *fineRepository) CountUnpaidByBook(db *gorm.DB, bookID uuid.UUID) (int64, error) {
	if db == nil {
		db = r.db
	}
	var count int64
	err := db.Model(&models.Fine{}).
		Joins("JOIN borrow_records ON borrow_records.id = fines.borrow_record_id").
		Where("borrow_records.book_id = ? AND fines.is_paid = ?", bookID, false).
		Count(&count).Error
	return count, err
}

func (r *fineRepository) MarkPaid(db *gorm.DB, id uuid.UUID, paidAt time.Time) (bool, error) {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.Fine{}).
		Where("id = ? AND is_paid = ?", id, false).
		Updates(map[string]interface{}{
			"is_paid":   true,
			"paid_date": paidAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *fineRepository) List(db *gorm.DB, filter FineFilter) ([]models.Fine, error) {
	if db == nil {
		db = r.db
	}
	q := db.Model(&models.Fine{})
	if filter.UserID != nil {
		q = q.Where("user_id = ?", *filter.UserID)
	}
	if filter.IsPaid != nil {
		q = q.Where("is_paid = ?", *filter.IsPaid)
	}
	var fines []models.Fine
	if err := q.Order("created_at DESC").Find(&fines).Error; err != nil {
		return nil, err
	}
	return fines, nil
}
