package repositories

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"lms/internal/models"
)

type borrowRecordRepository struct {
	db *gorm.DB
}

func NewBorrowRecordRepository(db *gorm.DB) BorrowRecordRepository {
	return &borrowRecordRepository{db: db}
}

func (r *borrowRecordRepository) Create(db *gorm.DB, record *models.BorrowRecord) error {
	if db == nil {
		db = r.db
	}
	return db.Create(record).Error
}

func (r *borrowRecordRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.BorrowRecord, error) {
	if db == nil {
		db = r.db
	}
	var record models.BorrowRecord
	if err := db.First(&record, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *borrowRecordRepository) GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.BorrowRecord, error) {
	if db == nil {
		db = r.db
	}
	var record models.BorrowRecord
	err := db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Book").
		First(&record, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *borrowRecordRepository) HasActive(db *gorm.DB, bookID, borrowerID uuid.UUID) (bool, error) {
	if db == nil {
		db = r.db
	}
	var count int64
	err := db.Model(&models.BorrowRecord{}).
		Where("book_id = ? AND borrower_id = ? AND is_returned = ?", bookID, borrowerID, false).
		Count(&count).Error
	return count > 0, err
}

func (r *borrowRecordRepository) CountActiveByBorrower(db *gorm.DB, borrowerID uuid.UUID) (int64, error) {
	if db == nil {
		db = r.db
	}
	var count int64
	err := db.Model(&models.BorrowRecord{}).
		Where("borrower_id = ? AND is_returned = ?", borrowerID, false).
		Count(&count).Error
	return count, err
}

func (r *borrowRecordRepository) CountActiveByBook(db *gorm.DB, bookID uuid.UUID) (int64, error) {
	if db == nil {
		db = r.db
	}
	var count int64
	err := db.Model(&models.BorrowRecord{}).
		Where("book_id = ? AND is_returned = ?", bookID, false).
		Count(&count).Error
	return count, err
}

func (r *borrowRecordRepository) HasOverdue(db *gorm.DB, borrowerID uuid.UUID, today time.Time) (bool, error) {
	if db == nil {
		db = r.db
	}
	var count int64
	err := db.Model(&models.BorrowRecord{}).
		Where("borrower_id = ? AND is_returned = ? AND due_date < ?", borrowerID, false, today).
		Count(&count).Error
	return count > 0, err
}

func (r *borrowRecordRepository) MarkReturned(db *gorm.DB, id uuid.UUID, returnDate time.Time, fine decimal.Decimal) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.BorrowRecord{}).
		Where("id = ? AND is_returned = ?", id, false).
		Updates(map[string]interface{}{
			"is_returned": true,
			"return_date": returnDate,
			"fine_amount": fine,
		}).Error
}

func (r *borrowRecordRepository) UpdateFineAmount(db *gorm.DB, id uuid.UUID, fine decimal.Decimal) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.BorrowRecord{}).
		Where("id = ? AND is_returned = ?", id, false).
		Update("fine_amount", fine).
		Error
}

func (r *borrowRecordRepository) ListOverdue(db *gorm.DB, today time.Time) ([]models.BorrowRecord, error) {
	if db == nil {
		db = r.db
	}
	var records []models.BorrowRecord
	err := db.Preload("Book").
		Where("is_returned = ? AND due_date < ?", false, today).
		Order("due_date ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *borrowRecordRepository) List(db *gorm.DB, filter BorrowRecordFilter) ([]models.BorrowRecord, error) {
	if db == nil {
		db = r.db
	}
	q := db.Model(&models.BorrowRecord{})
	if filter.BorrowerID != nil {
		q = q.Where("borrower_id = ?", *filter.BorrowerID)
	}
	if filter.BookID != nil {
		q = q.Where("book_id = ?", *filter.BookID)
	}
	if filter.IsReturned != nil {
		q = q.Where("is_returned = ?", *filter.IsReturned)
	}
	var records []models.BorrowRecord
	if err := q.Order("borrow_date DESC, created_at DESC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
