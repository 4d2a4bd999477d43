package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type UserType string

const (
	UserTypeStudent   UserType = "student"
	UserTypeLibrarian UserType = "librarian"
	UserTypeAdmin     UserType = "admin"
)

// IsStaff reports whether the role may act on behalf of other users.
func (t UserType) IsStaff() bool {
	return t == UserTypeLibrarian || t == UserTypeAdmin
}

func (t UserType) Valid() bool {
	switch t {
	case UserTypeStudent, UserTypeLibrarian, UserTypeAdmin:
		return true
	}
	return false
}

type Genre string

const (
	GenreFiction    Genre = "fiction"
	GenreNonFiction Genre = "non-fiction"
	GenreScience    Genre = "science"
	GenreTechnology Genre = "technology"
	GenreHistory    Genre = "history"
	GenreBiography  Genre = "biography"
	GenreFantasy    Genre = "fantasy"
	GenreMystery    Genre = "mystery"
	GenreRomance    Genre = "romance"
	GenreThriller   Genre = "thriller"
)

func (g Genre) Valid() bool {
	switch g {
	case GenreFiction, GenreNonFiction, GenreScience, GenreTechnology, GenreHistory,
		GenreBiography, GenreFantasy, GenreMystery, GenreRomance, GenreThriller:
		return true
	}
	return false
}

type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "pending"
	ReservationStatusFulfilled ReservationStatus = "fulfilled"
	ReservationStatusCancelled ReservationStatus = "cancelled"
	ReservationStatusExpired   ReservationStatus = "expired"
)

func (s ReservationStatus) Valid() bool {
	switch s {
	case ReservationStatusPending, ReservationStatusFulfilled, ReservationStatusCancelled, ReservationStatusExpired:
		return true
	}
	return false
}

type NotificationType string

const (
	NotificationTypeInfo    NotificationType = "info"
	NotificationTypeWarning NotificationType = "warning"
	NotificationTypeAlert   NotificationType = "alert"
	NotificationTypeSuccess NotificationType = "success"
)

type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Username     string    `gorm:"size:150;not null;uniqueIndex" json:"username"`
	Email        string    `gorm:"size:254;not null;uniqueIndex" json:"email"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	FirstName    string    `gorm:"size:150" json:"first_name"`
	LastName     string    `gorm:"size:150" json:"last_name"`
	UserType     UserType  `gorm:"size:10;not null;default:student;index" json:"user_type"`
	PhoneNumber  string    `gorm:"size:15" json:"phone_number"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time `gorm:"not null" json:"updated_at"`
}

type Category struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string    `gorm:"size:100;not null;uniqueIndex" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
}

// Book carries both the total and the available copy count. AvailableCopies is
// derived state owned by the lifecycle engine.
type Book struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Title           string     `gorm:"size:200;not null;index" json:"title"`
	Author          string     `gorm:"size:100;not null;index" json:"author"`
	ISBN            string     `gorm:"column:isbn;size:13;not null;uniqueIndex" json:"isbn"`
	Genre           Genre      `gorm:"size:20;not null;index" json:"genre"`
	CategoryID      *uuid.UUID `gorm:"type:uuid;index" json:"category_id"`
	Category        *Category  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;" json:"-"`
	Publisher       string     `gorm:"size:100" json:"publisher"`
	PublicationDate *time.Time `gorm:"type:date" json:"publication_date"`
	Language        string     `gorm:"size:50;not null;default:English" json:"language"`
	Pages           *int       `json:"pages"`
	Description     string     `gorm:"type:text" json:"description"`
	CoverKey        string     `gorm:"size:255" json:"cover_key,omitempty"`
	TotalCopies     int        `gorm:"not null;default:1" json:"total_copies"`
	AvailableCopies int        `gorm:"not null;default:1" json:"available_copies"`
	CreatedAt       time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"not null" json:"updated_at"`
}

type BorrowRecord struct {
	ID         uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	BookID     uuid.UUID       `gorm:"type:uuid;not null;index;uniqueIndex:idx_borrow_active,where:is_returned = false" json:"book_id"`
	Book       Book            `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	BorrowerID uuid.UUID       `gorm:"type:uuid;not null;index:idx_borrower_returned;uniqueIndex:idx_borrow_active,where:is_returned = false" json:"borrower_id"`
	Borrower   User            `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	BorrowDate time.Time       `gorm:"type:date;not null;index" json:"borrow_date"`
	DueDate    time.Time       `gorm:"type:date;not null;index" json:"due_date"`
	ReturnDate *time.Time      `gorm:"type:date" json:"return_date"`
	IsReturned bool            `gorm:"not null;default:false;index:idx_borrower_returned" json:"is_returned"`
	FineAmount decimal.Decimal `gorm:"type:decimal(8,2);not null;default:0" json:"fine_amount"`
	Notes      string          `gorm:"type:text" json:"notes"`
	CreatedAt  time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"not null" json:"updated_at"`
}

// IsOverdue reports whether the record is unreturned past its due date as of today.
func (r *BorrowRecord) IsOverdue(today time.Time) bool {
	return !r.IsReturned && r.DueDate.Before(today)
}

type Reservation struct {
	ID              uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	BookID          uuid.UUID         `gorm:"type:uuid;not null;index;uniqueIndex:idx_reservation_pending,where:status = 'pending'" json:"book_id"`
	Book            Book              `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	UserID          uuid.UUID         `gorm:"type:uuid;not null;index:idx_reservation_user_status;uniqueIndex:idx_reservation_pending,where:status = 'pending'" json:"user_id"`
	User            User              `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Status          ReservationStatus `gorm:"size:10;not null;default:pending;index:idx_reservation_user_status" json:"status"`
	ReservationDate time.Time         `gorm:"not null" json:"reservation_date"`
	ExpiryDate      time.Time         `gorm:"not null;index" json:"expiry_date"`
	CreatedAt       time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"not null" json:"updated_at"`
}

type Fine struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID       `gorm:"type:uuid;not null;index:idx_fine_user_paid" json:"user_id"`
	User           User            `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	BorrowRecordID *uuid.UUID      `gorm:"type:uuid;uniqueIndex" json:"borrow_record_id"`
	BorrowRecord   *BorrowRecord   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Amount         decimal.Decimal `gorm:"type:decimal(8,2);not null;default:0" json:"amount"`
	Reason         string          `gorm:"type:text" json:"reason"`
	IsPaid         bool            `gorm:"not null;default:false;index:idx_fine_user_paid" json:"is_paid"`
	PaidDate       *time.Time      `json:"paid_date"`
	CreatedAt      time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"not null" json:"updated_at"`
}

type Notification struct {
	ID               uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	UserID           uuid.UUID        `gorm:"type:uuid;not null;index" json:"user_id"`
	User             User             `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Title            string           `gorm:"size:200;not null" json:"title"`
	Message          string           `gorm:"type:text;not null" json:"message"`
	NotificationType NotificationType `gorm:"size:20;not null;default:info" json:"notification_type"`
	IsRead           bool             `gorm:"not null;default:false" json:"is_read"`
	CreatedAt        time.Time        `gorm:"not null;index" json:"created_at"`
}

// All lists every model in dependency order for migrations.
func All() []any {
	return []any{&User{}, &Category{}, &Book{}, &BorrowRecord{}, &Reservation{}, &Fine{}, &Notification{}}
}

func (u *User) BeforeCreate(*gorm.DB) error         { return assignID(&u.ID) }
func (c *Category) BeforeCreate(*gorm.DB) error     { return assignID(&c.ID) }
func (b *Book) BeforeCreate(*gorm.DB) error         { return assignID(&b.ID) }
func (r *BorrowRecord) BeforeCreate(*gorm.DB) error { return assignID(&r.ID) }
func (r *Reservation) BeforeCreate(*gorm.DB) error  { return assignID(&r.ID) }
func (f *Fine) BeforeCreate(*gorm.DB) error         { return assignID(&f.ID) }
func (n *Notification) BeforeCreate(*gorm.DB) error { return assignID(&n.ID) }

func assignID(id *uuid.UUID) error {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
	return nil
}
