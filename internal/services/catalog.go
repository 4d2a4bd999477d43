package services

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"lms/internal/logging"
	"lms/internal/models"
	"lms/internal/repositories"
	"lms/internal/storage"
)

// ─── Service Interface ────────────────────────────────────────────────────────

// CatalogService manages books and categories. Copy counts are only written
// here when a librarian changes the total; borrowing and returning go through
// LifecycleService.
type CatalogService interface {
	CreateBook(ctx context.Context, actor Actor, in BookInput) (*models.Book, error)
	UpdateBook(ctx context.Context, actor Actor, id uuid.UUID, in BookInput) (*models.Book, error)
	DeleteBook(ctx context.Context, actor Actor, id uuid.UUID) error
	GetBook(ctx context.Context, id uuid.UUID) (*models.Book, error)
	ListBooks(ctx context.Context, filter repositories.BookFilter) ([]models.Book, error)

	CreateCategory(ctx context.Context, actor Actor, name, description string) (*models.Category, error)
	ListCategories(ctx context.Context) ([]models.Category, error)

	SetCover(ctx context.Context, actor Actor, id uuid.UUID, cover CoverUpload) (*models.Book, error)
	CoverURL(ctx context.Context, id uuid.UUID) (string, error)
}

type BookInput struct {
	Title           string
	Author          string
	ISBN            string
	Genre           models.Genre
	CategoryID      *uuid.UUID
	Publisher       string
	PublicationDate *time.Time
	Language        string
	Pages           *int
	Description     string
	TotalCopies     int
}

type CoverUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// ─── Implementation ───────────────────────────────────────────────────────────

type catalogService struct {
	db          *gorm.DB
	repos       *repositories.Repositories
	covers      storage.ObjectStore
	coverExpiry time.Duration
}

// NewCatalogService wires the catalog. covers may be nil, in which case cover
// operations fail with ErrInvalidState.
func NewCatalogService(db *gorm.DB, repos *repositories.Repositories, covers storage.ObjectStore, coverExpiry time.Duration) CatalogService {
	if coverExpiry <= 0 {
		coverExpiry = 15 * time.Minute
	}
	return &catalogService{db: db, repos: repos, covers: covers, coverExpiry: coverExpiry}
}

func (in *BookInput) normalize() {
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	in.ISBN = strings.ReplaceAll(strings.TrimSpace(in.ISBN), "-", "")
	in.Publisher = strings.TrimSpace(in.Publisher)
	in.Language = strings.TrimSpace(in.Language)
	if in.Language == "" {
		in.Language = "English"
	}
}

func (in BookInput) validate() error {
	var problems []string
	if in.Title == "" {
		problems = append(problems, "title is required")
	}
	if in.Author == "" {
		problems = append(problems, "author is required")
	}
	if n := len(in.ISBN); n < 10 || n > 13 {
		problems = append(problems, "isbn must be 10 to 13 characters")
	}
	if !in.Genre.Valid() {
		problems = append(problems, fmt.Sprintf("unknown genre %q", in.Genre))
	}
	if in.TotalCopies < 1 {
		problems = append(problems, "total_copies must be at least 1")
	}
	if in.Pages != nil && *in.Pages < 1 {
		problems = append(problems, "pages must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidationFailed, strings.Join(problems, "; "))
	}
	return nil
}

func (in BookInput) apply(book *models.Book) {
	book.Title = in.Title
	book.Author = in.Author
	book.ISBN = in.ISBN
	book.Genre = in.Genre
	book.CategoryID = in.CategoryID
	book.Publisher = in.Publisher
	book.PublicationDate = in.PublicationDate
	book.Language = in.Language
	book.Pages = in.Pages
	book.Description = in.Description
	book.TotalCopies = in.TotalCopies
}

func (s *catalogService) checkCategory(tx *gorm.DB, id *uuid.UUID) error {
	if id == nil {
		return nil
	}
	if _, err := s.repos.Categories.GetByID(tx, *id); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: category %s does not exist", ErrValidationFailed, *id)
		}
		return err
	}
	return nil
}

// ─── Books ────────────────────────────────────────────────────────────────────

func (s *catalogService) CreateBook(ctx context.Context, actor Actor, in BookInput) (*models.Book, error) {
	if !actor.IsStaff() {
		return nil, fmt.Errorf("%w: only librarians and admins can add books", ErrForbidden)
	}
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}

	book := &models.Book{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.checkCategory(tx, in.CategoryID); err != nil {
			return err
		}
		in.apply(book)
		book.AvailableCopies = in.TotalCopies
		if err := s.repos.Books.Create(tx, book); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: a book with isbn %s already exists", ErrValidationFailed, in.ISBN)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Info("book created", "book_id", book.ID, "isbn", book.ISBN, "copies", book.TotalCopies)
	return book, nil
}

// UpdateBook replaces the book's metadata. A change of total copies keeps the
// copies on loan: available becomes total minus unreturned borrows, and a
// total below the number on loan is rejected.
func (s *catalogService) UpdateBook(ctx context.Context, actor Actor, id uuid.UUID, in BookInput) (*models.Book, error) {
	if !actor.IsStaff() {
		return nil, fmt.Errorf("%w: only librarians and admins can edit books", ErrForbidden)
	}
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}

	var book *models.Book
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		book, err = s.repos.Books.GetByIDForUpdate(tx, id)
		if err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: book %s", ErrNotFound, id)
			}
			return err
		}
		if err := s.checkCategory(tx, in.CategoryID); err != nil {
			return err
		}
		onLoan, err := s.repos.BorrowRecords.CountActiveByBook(tx, id)
		if err != nil {
			return err
		}
		if int64(in.TotalCopies) < onLoan {
			return fmt.Errorf("%w: %d copies are on loan, total_copies cannot be %d",
				ErrValidationFailed, onLoan, in.TotalCopies)
		}
		in.apply(book)
		book.AvailableCopies = in.TotalCopies - int(onLoan)
		if err := s.repos.Books.Save(tx, book); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: a book with isbn %s already exists", ErrValidationFailed, in.ISBN)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return book, nil
}

// DeleteBook removes a book and its settled history. A book with copies on
// loan or with unpaid fines against its loans cannot be deleted.
func (s *catalogService) DeleteBook(ctx context.Context, actor Actor, id uuid.UUID) error {
	if !actor.IsStaff() {
		return fmt.Errorf("%w: only librarians and admins can delete books", ErrForbidden)
	}
	var coverKey string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		book, err := s.repos.Books.GetByIDForUpdate(tx, id)
		if err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: book %s", ErrNotFound, id)
			}
			return err
		}
		onLoan, err := s.repos.BorrowRecords.CountActiveByBook(tx, id)
		if err != nil {
			return err
		}
		if onLoan > 0 {
			return fmt.Errorf("%w: %d copies of %q are on loan", ErrInvalidState, onLoan, book.Title)
		}
		unpaid, err := s.repos.Fines.CountUnpaidByBook(tx, id)
		if err != nil {
			return err
		}
		if unpaid > 0 {
			return fmt.Errorf("%w: %d unpaid fines reference %q", ErrInvalidState, unpaid, book.Title)
		}
		coverKey = book.CoverKey
		return s.repos.Books.Delete(tx, id)
	})
	if err != nil {
		return err
	}
	if coverKey != "" && s.covers != nil {
		if err := s.covers.Delete(ctx, coverKey); err != nil {
			logging.FromContext(ctx).Warn("cover cleanup failed", "book_id", id, "key", coverKey, "err", err)
		}
	}
	logging.FromContext(ctx).Info("book deleted", "book_id", id)
	return nil
}

func (s *catalogService) GetBook(ctx context.Context, id uuid.UUID) (*models.Book, error) {
	book, err := s.repos.Books.GetByID(s.db.WithContext(ctx), id)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: book %s", ErrNotFound, id)
		}
		return nil, err
	}
	return book, nil
}

func (s *catalogService) ListBooks(ctx context.Context, filter repositories.BookFilter) ([]models.Book, error) {
	if filter.Genre != "" && !filter.Genre.Valid() {
		return nil, fmt.Errorf("%w: unknown genre %q", ErrValidationFailed, filter.Genre)
	}
	return s.repos.Books.List(s.db.WithContext(ctx), filter)
}

// ─── Categories ───────────────────────────────────────────────────────────────

func (s *catalogService) CreateCategory(ctx context.Context, actor Actor, name, description string) (*models.Category, error) {
	if !actor.IsStaff() {
		return nil, fmt.Errorf("%w: only librarians and admins can add categories", ErrForbidden)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: category name is required", ErrValidationFailed)
	}
	category := &models.Category{Name: name, Description: strings.TrimSpace(description)}
	if err := s.repos.Categories.Create(s.db.WithContext(ctx), category); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: category %q already exists", ErrValidationFailed, name)
		}
		return nil, err
	}
	return category, nil
}

func (s *catalogService) ListCategories(ctx context.Context) ([]models.Category, error) {
	return s.repos.Categories.List(s.db.WithContext(ctx))
}

// ─── Covers ───────────────────────────────────────────────────────────────────

var coverTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// SetCover uploads a cover image and records its key on the book. The
// previous image, if its key differs, is removed afterwards.
func (s *catalogService) SetCover(ctx context.Context, actor Actor, id uuid.UUID, cover CoverUpload) (*models.Book, error) {
	if !actor.IsStaff() {
		return nil, fmt.Errorf("%w: only librarians and admins can change covers", ErrForbidden)
	}
	if s.covers == nil {
		return nil, fmt.Errorf("%w: cover storage is not configured", ErrInvalidState)
	}
	ext, ok := coverTypes[cover.ContentType]
	if !ok {
		ext = strings.ToLower(path.Ext(cover.Filename))
		if ext != ".jpg" && ext != ".jpeg" && ext != ".png" && ext != ".webp" {
			return nil, fmt.Errorf("%w: cover must be a jpeg, png or webp image", ErrValidationFailed)
		}
	}
	if cover.Size <= 0 {
		return nil, fmt.Errorf("%w: cover image is empty", ErrValidationFailed)
	}

	book, err := s.GetBook(ctx, id)
	if err != nil {
		return nil, err
	}
	key := storage.CoverKey(book.ID.String(), ext)
	if err := s.covers.Put(ctx, key, cover.Body, cover.Size, cover.ContentType); err != nil {
		return nil, err
	}
	if err := s.repos.Books.SetCoverKey(s.db.WithContext(ctx), book.ID, key); err != nil {
		return nil, err
	}
	if old := book.CoverKey; old != "" && old != key {
		if err := s.covers.Delete(ctx, old); err != nil {
			logging.FromContext(ctx).Warn("old cover cleanup failed", "book_id", book.ID, "key", old, "err", err)
		}
	}
	book.CoverKey = key
	return book, nil
}

func (s *catalogService) CoverURL(ctx context.Context, id uuid.UUID) (string, error) {
	book, err := s.GetBook(ctx, id)
	if err != nil {
		return "", err
	}
	if book.CoverKey == "" {
		return "", fmt.Errorf("%w: book %s has no cover", ErrNotFound, id)
	}
	if s.covers == nil {
		return "", fmt.Errorf("%w: cover storage is not configured", ErrInvalidState)
	}
	return s.covers.PresignGet(ctx, book.CoverKey, s.coverExpiry)
}
