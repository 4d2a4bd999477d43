package repositories

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"lms/internal/models"
)

// Every method accepts the *gorm.DB to run against so callers can pass a
// transaction; nil falls back to the repository's own handle.

type UserRepository interface {
	Create(db *gorm.DB, user *models.User) error
	GetByID(db *gorm.DB, id uuid.UUID) (*models.User, error)
	GetByUsername(db *gorm.DB, username string) (*models.User, error)
	UpdatePasswordHash(db *gorm.DB, id uuid.UUID, hash string) error
	List(db *gorm.DB) ([]models.User, error)
}

type CategoryRepository interface {
	Create(db *gorm.DB, category *models.Category) error
	GetByID(db *gorm.DB, id uuid.UUID) (*models.Category, error)
	List(db *gorm.DB) ([]models.Category, error)
}

type BookFilter struct {
	Available  *bool
	Genre      models.Genre
	CategoryID *uuid.UUID
	Search     string
}

type BookRepository interface {
	Create(db *gorm.DB, book *models.Book) error
	Save(db *gorm.DB, book *models.Book) error
	Delete(db *gorm.DB, id uuid.UUID) error
	GetByID(db *gorm.DB, id uuid.UUID) (*models.Book, error)
	GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Book, error)
	List(db *gorm.DB, filter BookFilter) ([]models.Book, error)
	DecrementAvailable(db *gorm.DB, id uuid.UUID) (bool, error)
	IncrementAvailable(db *gorm.DB, id uuid.UUID) error
	SetCoverKey(db *gorm.DB, id uuid.UUID, key string) error
}

type BorrowRecordFilter struct {
	BorrowerID *uuid.UUID
	BookID     *uuid.UUID
	IsReturned *bool
}

type BorrowRecordRepository interface {
	Create(db *gorm.DB, record *models.BorrowRecord) error
	GetByID(db *gorm.DB, id uuid.UUID) (*models.BorrowRecord, error)
	GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.BorrowRecord, error)
	HasActive(db *gorm.DB, bookID, borrowerID uuid.UUID) (bool, error)
	CountActiveByBorrower(db *gorm.DB, borrowerID uuid.UUID) (int64, error)
	CountActiveByBook(db *gorm.DB, bookID uuid.UUID) (int64, error)
	HasOverdue(db *gorm.DB, borrowerID uuid.UUID, today time.Time) (bool, error)
	MarkReturned(db *gorm.DB, id uuid.UUID, returnDate time.Time, fine decimal.Decimal) error
	UpdateFineAmount(db *gorm.DB, id uuid.UUID, fine decimal.Decimal) error
	ListOverdue(db *gorm.DB, today time.Time) ([]models.BorrowRecord, error)
	List(db *gorm.DB, filter BorrowRecordFilter) ([]models.BorrowRecord, error)
}

// ReservationScope narrows an expiry sweep. Zero value means every reservation.
type ReservationScope struct {
	ID     *uuid.UUID
	BookID *uuid.UUID
	UserID *uuid.UUID
}

type ReservationFilter struct {
	UserID *uuid.UUID
	BookID *uuid.UUID
	Status models.ReservationStatus
}

type ReservationRepository interface {
	Create(db *gorm.DB, reservation *models.Reservation) error
	GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Reservation, error)
	GetPending(db *gorm.DB, bookID, userID uuid.UUID) (*models.Reservation, error)
	ExpirePending(db *gorm.DB, now time.Time, scope ReservationScope) (int64, error)
	UpdateStatus(db *gorm.DB, id uuid.UUID, from, to models.ReservationStatus) (bool, error)
	List(db *gorm.DB, filter ReservationFilter) ([]models.Reservation, error)
}

type FineFilter struct {
	UserID *uuid.UUID
	IsPaid *bool
}

type FineRepository interface {
	Create(db *gorm.DB, fine *models.Fine) error
	GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Fine, error)
	ExistsForBorrowRecord(db *gorm.DB, recordID uuid.UUID) (bool, error)
	CountUnpaidByBook(db *gorm.DB, bookID uuid.UUID) (int64, error)
	MarkPaid(db *gorm.DB, id uuid.UUID, paidAt time.Time) (bool, error)
	List(db *gorm.DB, filter FineFilter) ([]models.Fine, error)
}

type NotificationRepository interface {
	Create(db *gorm.DB, notification *models.Notification) error
	GetByID(db *gorm.DB, id uuid.UUID) (*models.Notification, error)
	ListByUser(db *gorm.DB, userID uuid.UUID, unreadOnly bool) ([]models.Notification, error)
	MarkRead(db *gorm.DB, id uuid.UUID) error
	MarkAllRead(db *gorm.DB, userID uuid.UUID) (int64, error)
}

// Repositories bundles every repository over one database handle.
type Repositories struct {
	Users         UserRepository
	Categories    CategoryRepository
	Books         BookRepository
	BorrowRecords BorrowRecordRepository
	Reservations  ReservationRepository
	Fines         FineRepository
	Notifications NotificationRepository
}

func New(db *gorm.DB) *Repositories {
	return &Repositories{
		Users:         NewUserRepository(db),
		Categories:    NewCategoryRepository(db),
		Books:         NewBookRepository(db),
		BorrowRecords: NewBorrowRecordRepository(db),
		Reservations:  NewReservationRepository(db),
		Fines:         NewFineRepository(db),
		Notifications: NewNotificationRepository(db),
	}
}
