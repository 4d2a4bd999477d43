package repositories

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"lms/internal/models"
)

type reservationRepository struct {
	db *gorm.DB
}

func NewReservationRepository(db *gorm.DB) ReservationRepository {
	return &reservationRepository{db: db}
}

func (r *reservationRepository) Create(db *gorm.DB, reservation *models.Reservation) error {
	if db == nil {
		db = r.db
	}
	return db.Create(reservation).Error
}

func (r *reservationRepository) GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Reservation, error) {
	if db == nil {
		db = r.db
	}
	var res models.Reservation
	err := db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&res, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *reservationRepository) GetPending(db *gorm.DB, bookID, userID uuid.UUID) (*models.Reservation, error) {
	if db == nil {
		db = r.db
	}
	var res models.Reservation
	err := db.Where("book_id = ? AND user_id = ? AND status = ?", bookID, userID, models.ReservationStatusPending).
		First(&res).Error
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ExpirePending flips pending reservations whose expiry has passed to expired
// and returns how many changed.
func (r *reservationRepository) ExpirePending(db *gorm.DB, now time.Time, scope ReservationScope) (int64, error) {
	if db == nil {
		db = r.db
	}
	q := db.Model(&models.Reservation{}).
		Where("status = ? AND expiry_date < ?", models.ReservationStatusPending, now)
	if scope.ID != nil {
		q = q.Where("id = ?", *scope.ID)
	}
	if scope.BookID != nil {
		q = q.Where("book_id = ?", *scope.BookID)
	}
	if scope.UserID != nil {
		q = q.Where("user_id = ?", *scope.UserID)
	}
	res := q.Update("status", models.ReservationStatusExpired)
	return res.RowsAffected, res.Error
}

// UpdateStatus moves a reservation from one status to another and reports
// whether the row was still in the expected status.
func (r *reservationRepository) UpdateStatus(db *gorm.DB, id uuid.UUID, from, to models.ReservationStatus) (bool, error) {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.Reservation{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *reservationRepository) List(db *gorm.DB, filter ReservationFilter) ([]models.Reservation, error) {
	if db == nil {
		db = r.db
	}
	q := db.Model(&models.Reservation{})
	if filter.UserID != nil {
		q = q.Where("user_id = ?", *filter.UserID)
	}
	if filter.BookID != nil {
		q = q.Where("book_id = ?", *filter.BookID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	var res []models.Reservation
	if err := q.Order("reservation_date DESC").Find(&res).Error; err != nil {
		return nil, err
	}
	return res, nil
}
