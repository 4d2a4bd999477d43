// Package reporting computes read-only aggregates over the lending tables.
// Queries are built with goqu for the configured dialect and scanned with
// sqlx; nothing here writes.
package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"lms/internal/clock"
	"lms/internal/config"
	"lms/internal/database"
	"lms/internal/models"
)

const (
	tableBooks         = "books"
	tableBorrowRecords = "borrow_records"
	tableReservations  = "reservations"
	tableFines         = "fines"
	tableUsers         = "users"
)

// Store runs report queries on the shared connection pool.
type Store struct {
	db      *sqlx.DB
	dialect goqu.DialectWrapper
}

// New wraps the pool behind db. The gorm handle is only used to reach the
// underlying *sql.DB and to pick the SQL dialect.
func New(db *gorm.DB) (*Store, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("reporting: get generic db: %w", err)
	}
	switch database.DriverName(db) {
	case config.DriverSQLite:
		return &Store{db: sqlx.NewDb(sqlDB, "sqlite3"), dialect: goqu.Dialect("sqlite3")}, nil
	default:
		return &Store{db: sqlx.NewDb(sqlDB, "pgx"), dialect: goqu.Dialect("postgres")}, nil
	}
}

func (s *Store) get(ctx context.Context, dest any, ds *goqu.SelectDataset) error {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("reporting: build query: %w", err)
	}
	return s.db.GetContext(ctx, dest, query, args...)
}

func (s *Store) selectAll(ctx context.Context, dest any, ds *goqu.SelectDataset) error {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("reporting: build query: %w", err)
	}
	return s.db.SelectContext(ctx, dest, query, args...)
}

func (s *Store) count(ctx context.Context, dest *int64, table string, where ...goqu.Expression) error {
	ds := s.dialect.From(table).Select(goqu.COUNT(goqu.Star()))
	if len(where) > 0 {
		ds = ds.Where(where...)
	}
	return s.get(ctx, dest, ds)
}

func (s *Store) sum(ctx context.Context, dest *decimal.Decimal, table, column string, where ...goqu.Expression) error {
	ds := s.dialect.From(table).Select(goqu.COALESCE(goqu.SUM(column), 0))
	if len(where) > 0 {
		ds = ds.Where(where...)
	}
	return s.get(ctx, dest, ds)
}

// ─── Dashboard ────────────────────────────────────────────────────────────────

type GenreStat struct {
	Genre     models.Genre `db:"genre" json:"genre"`
	Books     int64        `db:"books" json:"books"`
	Available int64        `db:"available" json:"available"`
}

type Dashboard struct {
	TotalBooks          int64           `json:"total_books"`
	AvailableBooks      int64           `json:"available_books"`
	ActiveBorrows       int64           `json:"active_borrows"`
	OverdueBooks        int64           `json:"overdue_books"`
	TotalUsers          int64           `json:"total_users"`
	PendingReservations int64           `json:"pending_reservations"`
	PendingFines        decimal.Decimal `json:"pending_fines"`
	Genres              []GenreStat     `json:"genres"`
}

// Dashboard gathers library-wide counts as of now. Each figure is its own
// query; they run concurrently.
func (s *Store) Dashboard(ctx context.Context, now time.Time) (*Dashboard, error) {
	today := clock.Date(now)
	d := &Dashboard{}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.count(ctx, &d.TotalBooks, tableBooks) })
	g.Go(func() error {
		return s.count(ctx, &d.AvailableBooks, tableBooks, goqu.C("available_copies").Gt(0))
	})
	g.Go(func() error {
		return s.count(ctx, &d.ActiveBorrows, tableBorrowRecords, goqu.C("is_returned").Eq(false))
	})
	g.Go(func() error {
		return s.count(ctx, &d.OverdueBooks, tableBorrowRecords,
			goqu.C("is_returned").Eq(false), goqu.C("due_date").Lt(today))
	})
	g.Go(func() error { return s.count(ctx, &d.TotalUsers, tableUsers) })
	g.Go(func() error {
		return s.count(ctx, &d.PendingReservations, tableReservations,
			goqu.C("status").Eq(string(models.ReservationStatusPending)), goqu.C("expiry_date").Gte(now))
	})
	g.Go(func() error {
		return s.sum(ctx, &d.PendingFines, tableFines, "amount", goqu.C("is_paid").Eq(false))
	})
	g.Go(func() error {
		ds := s.dialect.From(tableBooks).
			Select(
				goqu.C("genre"),
				goqu.COUNT(goqu.Star()).As("books"),
				goqu.COALESCE(goqu.SUM("available_copies"), 0).As("available"),
			).
			GroupBy(goqu.C("genre")).
			Order(goqu.C("genre").Asc())
		return s.selectAll(ctx, &d.Genres, ds)
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("reporting: dashboard: %w", err)
	}
	if d.Genres == nil {
		d.Genres = []GenreStat{}
	}
	return d, nil
}

// ─── Books ────────────────────────────────────────────────────────────────────

type PopularBook struct {
	BookID      uuid.UUID `db:"book_id" json:"book_id"`
	Title       string    `db:"title" json:"title"`
	Author      string    `db:"author" json:"author"`
	BorrowCount int64     `db:"borrow_count" json:"borrow_count"`
}

// PopularBooks ranks books by how often they have ever been borrowed.
func (s *Store) PopularBooks(ctx context.Context, limit uint) ([]PopularBook, error) {
	if limit == 0 {
		limit = 10
	}
	ds := s.dialect.From(goqu.T(tableBorrowRecords).As("r")).
		Join(goqu.T(tableBooks).As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("r.book_id")))).
		Select(
			goqu.I("b.id").As("book_id"),
			goqu.I("b.title").As("title"),
			goqu.I("b.author").As("author"),
			goqu.COUNT(goqu.I("r.id")).As("borrow_count"),
		).
		GroupBy(goqu.I("b.id"), goqu.I("b.title"), goqu.I("b.author")).
		Order(goqu.I("borrow_count").Desc(), goqu.I("b.title").Asc()).
		Limit(limit)
	out := []PopularBook{}
	if err := s.selectAll(ctx, &out, ds); err != nil {
		return nil, fmt.Errorf("reporting: popular books: %w", err)
	}
	return out, nil
}

// ─── Members ──────────────────────────────────────────────────────────────────

type HistoryEntry struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	BookTitle  string          `db:"book_title" json:"book_title"`
	BookAuthor string          `db:"book_author" json:"book_author"`
	BookISBN   string          `db:"book_isbn" json:"book_isbn"`
	BorrowDate time.Time       `db:"borrow_date" json:"borrow_date"`
	DueDate    time.Time       `db:"due_date" json:"due_date"`
	ReturnDate *time.Time      `db:"return_date" json:"return_date"`
	IsReturned bool            `db:"is_returned" json:"is_returned"`
	IsOverdue  bool            `db:"-" json:"is_overdue"`
	FineAmount decimal.Decimal `db:"fine_amount" json:"fine_amount"`
}

// ReadingHistory lists every borrow by userID, newest first.
func (s *Store) ReadingHistory(ctx context.Context, userID uuid.UUID, now time.Time) ([]HistoryEntry, error) {
	ds := s.dialect.From(goqu.T(tableBorrowRecords).As("r")).
		Join(goqu.T(tableBooks).As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("r.book_id")))).
		Select(
			goqu.I("r.id").As("id"),
			goqu.I("b.title").As("book_title"),
			goqu.I("b.author").As("book_author"),
			goqu.I("b.isbn").As("book_isbn"),
			goqu.I("r.borrow_date").As("borrow_date"),
			goqu.I("r.due_date").As("due_date"),
			goqu.I("r.return_date").As("return_date"),
			goqu.I("r.is_returned").As("is_returned"),
			goqu.I("r.fine_amount").As("fine_amount"),
		).
		Where(goqu.I("r.borrower_id").Eq(userID.String())).
		Order(goqu.I("r.borrow_date").Desc(), goqu.I("r.created_at").Desc())
	out := []HistoryEntry{}
	if err := s.selectAll(ctx, &out, ds); err != nil {
		return nil, fmt.Errorf("reporting: reading history: %w", err)
	}
	today := clock.Date(now)
	for i := range out {
		out[i].IsOverdue = !out[i].IsReturned && clock.Date(out[i].DueDate).Before(today)
	}
	return out, nil
}

type PersonalStats struct {
	TotalBorrowed      int64           `json:"total_borrowed"`
	CurrentlyBorrowed  int64           `json:"currently_borrowed"`
	OverdueBooks       int64           `json:"overdue_books"`
	TotalReservations  int64           `json:"total_reservations"`
	ActiveReservations int64           `json:"active_reservations"`
	TotalFines         decimal.Decimal `json:"total_fines"`
	FavoriteGenre      string          `json:"favorite_genre"`
}

// PersonalStats summarises one member's activity. TotalFines is the unpaid
// balance.
func (s *Store) PersonalStats(ctx context.Context, userID uuid.UUID, now time.Time) (*PersonalStats, error) {
	today := clock.Date(now)
	uid := userID.String()
	p := &PersonalStats{FavoriteGenre: "None"}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.count(ctx, &p.TotalBorrowed, tableBorrowRecords, goqu.C("borrower_id").Eq(uid))
	})
	g.Go(func() error {
		return s.count(ctx, &p.CurrentlyBorrowed, tableBorrowRecords,
			goqu.C("borrower_id").Eq(uid), goqu.C("is_returned").Eq(false))
	})
	g.Go(func() error {
		return s.count(ctx, &p.OverdueBooks, tableBorrowRecords,
			goqu.C("borrower_id").Eq(uid), goqu.C("is_returned").Eq(false), goqu.C("due_date").Lt(today))
	})
	g.Go(func() error {
		return s.count(ctx, &p.TotalReservations, tableReservations, goqu.C("user_id").Eq(uid))
	})
	g.Go(func() error {
		return s.count(ctx, &p.ActiveReservations, tableReservations,
			goqu.C("user_id").Eq(uid),
			goqu.C("status").Eq(string(models.ReservationStatusPending)),
			goqu.C("expiry_date").Gte(now))
	})
	g.Go(func() error {
		return s.sum(ctx, &p.TotalFines, tableFines, "amount",
			goqu.C("user_id").Eq(uid), goqu.C("is_paid").Eq(false))
	})
	g.Go(func() error {
		ds := s.dialect.From(goqu.T(tableBorrowRecords).As("r")).
			Join(goqu.T(tableBooks).As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("r.book_id")))).
			Select(goqu.I("b.genre").As("genre"), goqu.COUNT(goqu.I("r.id")).As("books")).
			Where(goqu.I("r.borrower_id").Eq(uid)).
			GroupBy(goqu.I("b.genre")).
			Order(goqu.I("books").Desc(), goqu.I("b.genre").Asc()).
			Limit(1)
		var top []struct {
			Genre string `db:"genre"`
			Books int64  `db:"books"`
		}
		if err := s.selectAll(ctx, &top, ds); err != nil {
			return err
		}
		if len(top) == 1 {
			p.FavoriteGenre = top[0].Genre
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("reporting: personal stats: %w", err)
	}
	return p, nil
}

// ─── Trends ───────────────────────────────────────────────────────────────────

type TrendPoint struct {
	Date     string `json:"date"`
	Borrowed int    `json:"borrowed"`
	Returned int    `json:"returned"`
}

// BorrowingTrends returns one point per calendar day for the last days days,
// ending today, including days with no activity.
func (s *Store) BorrowingTrends(ctx context.Context, days int, now time.Time) ([]TrendPoint, error) {
	if days <= 0 {
		days = 30
	}
	today := clock.Date(now)
	since := today.AddDate(0, 0, -(days - 1))

	var borrowed, returned []time.Time
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ds := s.dialect.From(tableBorrowRecords).
			Select(goqu.C("borrow_date")).
			Where(goqu.C("borrow_date").Gte(since))
		return s.selectAll(gctx, &borrowed, ds)
	})
	g.Go(func() error {
		ds := s.dialect.From(tableBorrowRecords).
			Select(goqu.C("return_date")).
			Where(goqu.C("return_date").IsNotNull(), goqu.C("return_date").Gte(since))
		return s.selectAll(gctx, &returned, ds)
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("reporting: trends: %w", err)
	}

	points := make([]TrendPoint, days)
	index := make(map[string]int, days)
	for i := range points {
		key := since.AddDate(0, 0, i).Format(time.DateOnly)
		points[i].Date = key
		index[key] = i
	}
	for _, d := range borrowed {
		if i, ok := index[clock.Date(d).Format(time.DateOnly)]; ok {
			points[i].Borrowed++
		}
	}
	for _, d := range returned {
		if i, ok := index[clock.Date(d).Format(time.DateOnly)]; ok {
			points[i].Returned++
		}
	}
	return points, nil
}

// ─── Fines ────────────────────────────────────────────────────────────────────

type FineCollection struct {
	Since       time.Time       `json:"since"`
	Issued      int64           `json:"issued"`
	IssuedTotal decimal.Decimal `json:"issued_total"`
	Paid        int64           `json:"paid"`
	Collected   decimal.Decimal `json:"collected"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

// FineCollection reports fines issued and paid since the given instant, and
// the unpaid balance across all time.
func (s *Store) FineCollection(ctx context.Context, since time.Time) (*FineCollection, error) {
	fc := &FineCollection{Since: since}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.count(ctx, &fc.Issued, tableFines, goqu.C("created_at").Gte(since))
	})
	g.Go(func() error {
		return s.sum(ctx, &fc.IssuedTotal, tableFines, "amount", goqu.C("created_at").Gte(since))
	})
	g.Go(func() error {
		return s.count(ctx, &fc.Paid, tableFines, goqu.C("is_paid").Eq(true), goqu.C("paid_date").Gte(since))
	})
	g.Go(func() error {
		return s.sum(ctx, &fc.Collected, tableFines, "amount", goqu.C("is_paid").Eq(true), goqu.C("paid_date").Gte(since))
	})
	g.Go(func() error {
		return s.sum(ctx, &fc.Outstanding, tableFines, "amount", goqu.C("is_paid").Eq(false))
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("reporting: fine collection: %w", err)
	}
	return fc, nil
}
