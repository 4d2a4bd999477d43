package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"lms/internal/clock"
	"lms/internal/events"
	"lms/internal/logging"
	"lms/internal/metrics"
	"lms/internal/models"
	"lms/internal/repositories"
)

// ─── Service Interface ────────────────────────────────────────────────────────

// LifecycleService owns every state transition of borrow records,
// reservations and fines, and the available copy count of books.
type LifecycleService interface {
	Borrow(ctx context.Context, actor Actor, in BorrowInput) (*models.BorrowRecord, error)
	Return(ctx context.Context, actor Actor, recordID uuid.UUID) (*models.BorrowRecord, error)
	Reserve(ctx context.Context, actor Actor, bookID uuid.UUID) (*models.Reservation, error)
	CancelReservation(ctx context.Context, actor Actor, reservationID uuid.UUID) (*models.Reservation, error)
	PayFine(ctx context.Context, actor Actor, fineID uuid.UUID) (*models.Fine, error)
	ImposeFine(ctx context.Context, actor Actor, in ImposeFineInput) (*models.Fine, error)

	SweepOverdue(ctx context.Context) (SweepReport, error)
	ExpireReservations(ctx context.Context) (int64, error)

	GetBorrowRecord(ctx context.Context, actor Actor, id uuid.UUID) (*models.BorrowRecord, error)
	ListBorrowRecords(ctx context.Context, actor Actor, filter repositories.BorrowRecordFilter) ([]models.BorrowRecord, error)
	ListOverdue(ctx context.Context, actor Actor) ([]models.BorrowRecord, error)
	ListReservations(ctx context.Context, actor Actor, filter repositories.ReservationFilter) ([]models.Reservation, error)
	ListFines(ctx context.Context, actor Actor, filter repositories.FineFilter) ([]models.Fine, error)
}

// BorrowInput names the book and, for librarians and admins, the borrower.
// Students always borrow for themselves.
type BorrowInput struct {
	BookID     uuid.UUID
	BorrowerID *uuid.UUID
	DueDate    *time.Time
	Notes      string
}

type ImposeFineInput struct {
	UserID         uuid.UUID
	BorrowRecordID *uuid.UUID
	Amount         decimal.Decimal
	Reason         string
}

// SweepReport summarises one overdue sweep.
type SweepReport struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
}

// ─── Implementation ───────────────────────────────────────────────────────────

type lifecycleEngine struct {
	db      *gorm.DB
	repos   *repositories.Repositories
	clock   clock.Clock
	events  *events.Dispatcher
	metrics *metrics.Recorder
}

// NewLifecycleService wires the engine. Every due date, expiry and fine is
// computed from clk.
func NewLifecycleService(
	db *gorm.DB,
	repos *repositories.Repositories,
	clk clock.Clock,
	dispatcher *events.Dispatcher,
	recorder *metrics.Recorder,
) LifecycleService {
	return &lifecycleEngine{
		db:      db,
		repos:   repos,
		clock:   clk,
		events:  dispatcher,
		metrics: recorder,
	}
}

// outbox collects events raised inside a transaction. They are dispatched
// only after commit.
type outbox []events.Event

func (o *outbox) add(e events.Event) {
	*o = append(*o, e)
}

// run executes fn in one transaction, retrying transient conflicts, then
// dispatches the collected events.
func (s *lifecycleEngine) run(ctx context.Context, op string, fn func(tx *gorm.DB, out *outbox) error) error {
	start := time.Now()
	var out outbox
	err := retryWithBackoff(ctx, func(ctx context.Context) error {
		out = out[:0]
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(tx, &out)
		})
	})
	s.metrics.ObserveOperation(op, Code(err), time.Since(start))

	logger := logging.FromContext(ctx)
	if err != nil {
		if IsDomainError(err) {
			logger.Warn("lifecycle operation rejected", "op", op, "code", Code(err), "err", err)
		} else {
			logger.Error("lifecycle operation failed", "op", op, "err", err)
		}
		return err
	}
	if len(out) > 0 {
		s.events.Dispatch(ctx, out)
	}
	return nil
}

// ─── Borrow ───────────────────────────────────────────────────────────────────

// Borrow lends one copy of a book.
//
// Preconditions, first failure wins: the book exists, a copy is available, the
// borrower exists, the borrower does not already hold this book, holds fewer
// than MaxActiveBorrows books, and holds no overdue book. The book row is
// locked and the copy count is decremented with a compare-and-set, so two
// borrowers racing for the last copy cannot both succeed. A pending
// reservation by the borrower for this book is fulfilled.
func (s *lifecycleEngine) Borrow(ctx context.Context, actor Actor, in BorrowInput) (*models.BorrowRecord, error) {
	borrowerID := actor.ID
	if actor.IsStaff() {
		if in.BorrowerID == nil || *in.BorrowerID == uuid.Nil {
			return nil, fmt.Errorf("%w: borrower is required for librarian and admin requests", ErrValidationFailed)
		}
		borrowerID = *in.BorrowerID
	}

	now := s.clock.Now()
	today := clock.Date(now)
	due := today.AddDate(0, 0, LoanPeriodDays)
	if actor.IsStaff() && in.DueDate != nil {
		requested := clock.Date(*in.DueDate)
		if requested.Before(today) {
			return nil, fmt.Errorf("%w: due date %s is in the past", ErrValidationFailed, requested.Format("2006-01-02"))
		}
		due = requested
	}

	var result *models.BorrowRecord
	err := s.run(ctx, "borrow", func(tx *gorm.DB, out *outbox) error {
		book, err := s.repos.Books.GetByIDForUpdate(tx, in.BookID)
		if err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: book %s", ErrNotFound, in.BookID)
			}
			return err
		}
		if book.AvailableCopies <= 0 {
			return fmt.Errorf("%w: %q", ErrNoCopiesAvailable, book.Title)
		}

		if _, err := s.repos.Users.GetByID(tx, borrowerID); err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: user %s", ErrNotFound, borrowerID)
			}
			return err
		}

		active, err := s.repos.BorrowRecords.HasActive(tx, book.ID, borrowerID)
		if err != nil {
			return err
		}
		if active {
			return fmt.Errorf("%w: %q", ErrAlreadyBorrowed, book.Title)
		}

		count, err := s.repos.BorrowRecords.CountActiveByBorrower(tx, borrowerID)
		if err != nil {
			return err
		}
		if count >= MaxActiveBorrows {
			return fmt.Errorf("%w: at most %d books may be borrowed at a time", ErrBorrowLimitExceeded, MaxActiveBorrows)
		}

		overdue, err := s.repos.BorrowRecords.HasOverdue(tx, borrowerID, today)
		if err != nil {
			return err
		}
		if overdue {
			return fmt.Errorf("%w: return them before borrowing new ones", ErrOutstandingOverdue)
		}

		ok, err := s.repos.Books.DecrementAvailable(tx, book.ID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %q", ErrNoCopiesAvailable, book.Title)
		}

		record := &models.BorrowRecord{
			BookID:     book.ID,
			BorrowerID: borrowerID,
			BorrowDate: today,
			DueDate:    due,
			IsReturned: false,
			FineAmount: decimal.Zero,
			Notes:      in.Notes,
			CreatedAt:  now,
		}
		if err := s.repos.BorrowRecords.Create(tx, record); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %q", ErrAlreadyBorrowed, book.Title)
			}
			return err
		}

		if err := s.fulfilReservation(tx, out, book, borrowerID, now); err != nil {
			return err
		}

		logging.FromContext(ctx).Info("borrow recorded",
			"record_id", record.ID,
			"book_id", book.ID,
			"borrower_id", borrowerID,
			"due_date", due.Format("2006-01-02"),
		)
		result = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// fulfilReservation marks the borrower's pending reservation for book as
// fulfilled, after first expiring it if its hold window has passed.
func (s *lifecycleEngine) fulfilReservation(tx *gorm.DB, out *outbox, book *models.Book, userID uuid.UUID, now time.Time) error {
	if _, err := s.repos.Reservations.ExpirePending(tx, now, repositories.ReservationScope{BookID: &book.ID, UserID: &userID}); err != nil {
		return err
	}
	res, err := s.repos.Reservations.GetPending(tx, book.ID, userID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	ok, err := s.repos.Reservations.UpdateStatus(tx, res.ID, models.ReservationStatusPending, models.ReservationStatusFulfilled)
	if err != nil || !ok {
		return err
	}
	out.add(events.Event{
		Kind:       events.KindReservationFulfilled,
		UserID:     userID,
		Title:      "Reservation Fulfilled",
		Message:    fmt.Sprintf("Your reservation for %s is now available for pickup!", book.Title),
		Type:       models.NotificationTypeSuccess,
		OccurredAt: now,
	})
	return nil
}

// ─── Return ───────────────────────────────────────────────────────────────────

// Return closes a borrow record. The fine is computed from the record as it
// stood before the return, the copy goes back on the shelf, and a positive
// fine becomes a Fine owed by the borrower.
func (s *lifecycleEngine) Return(ctx context.Context, actor Actor, recordID uuid.UUID) (*models.BorrowRecord, error) {
	now := s.clock.Now()
	today := clock.Date(now)

	var result *models.BorrowRecord
	err := s.run(ctx, "return", func(tx *gorm.DB, out *outbox) error {
		record, err := s.repos.BorrowRecords.GetByIDForUpdate(tx, recordID)
		if err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: borrow record %s", ErrNotFound, recordID)
			}
			return err
		}
		if !actor.CanActFor(record.BorrowerID) {
			return fmt.Errorf("%w: you can only return your own books", ErrForbidden)
		}
		if record.IsReturned {
			return ErrAlreadyReturned
		}

		fine := CalculateFine(record, today)
		if err := s.repos.BorrowRecords.MarkReturned(tx, record.ID, today, fine); err != nil {
			return err
		}
		if err := s.repos.Books.IncrementAvailable(tx, record.BookID); err != nil {
			return err
		}

		charged, err := s.repos.Fines.ExistsForBorrowRecord(tx, record.ID)
		if err != nil {
			return err
		}
		if fine.IsPositive() && !charged {
			days := clock.DaysBetween(record.DueDate, today)
			f := &models.Fine{
				UserID:         record.BorrowerID,
				BorrowRecordID: &record.ID,
				Amount:         fine,
				Reason:         fmt.Sprintf("Returned %q %d days late", record.Book.Title, days),
				CreatedAt:      now,
			}
			if err := s.repos.Fines.Create(tx, f); err != nil {
				return err
			}
			out.add(events.Event{
				Kind:       events.KindOverdueFine,
				UserID:     record.BorrowerID,
				Title:      "Overdue Book Fine",
				Message:    fmt.Sprintf("You have been charged %s for overdue book: %s", formatMoney(fine), record.Book.Title),
				Type:       models.NotificationTypeWarning,
				OccurredAt: now,
			})
		}

		logging.FromContext(ctx).Info("return recorded",
			"record_id", record.ID,
			"book_id", record.BookID,
			"borrower_id", record.BorrowerID,
			"fine", fine.StringFixed(2),
		)

		reloaded, err := s.repos.BorrowRecords.GetByID(tx, record.ID)
		if err != nil {
			return err
		}
		result = reloaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ─── Reservations ─────────────────────────────────────────────────────────────

// Reserve places a hold on a book for the actor. Reservations are accepted
// whether or not a copy is currently available.
func (s *lifecycleEngine) Reserve(ctx context.Context, actor Actor, bookID uuid.UUID) (*models.Reservation, error) {
	now := s.clock.Now()

	var result *models.Reservation
	err := s.run(ctx, "reserve", func(tx *gorm.DB, out *outbox) error {
		book, err := s.repos.Books.GetByID(tx, bookID)
		if err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: book %s", ErrNotFound, bookID)
			}
			return err
		}

		scope := repositories.ReservationScope{BookID: &book.ID, UserID: &actor.ID}
		if _, err := s.repos.Reservations.ExpirePending(tx, now, scope); err != nil {
			return err
		}
		if _, err := s.repos.Reservations.GetPending(tx, book.ID, actor.ID); err == nil {
			return fmt.Errorf("%w: %q", ErrAlreadyReserved, book.Title)
		} else if !isNotFound(err) {
			return err
		}

		res := &models.Reservation{
			BookID:          book.ID,
			UserID:          actor.ID,
			Status:          models.ReservationStatusPending,
			ReservationDate: now,
			ExpiryDate:      now.Add(ReservationHold),
			CreatedAt:       now,
		}
		if err := s.repos.Reservations.Create(tx, res); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %q", ErrAlreadyReserved, book.Title)
			}
			return err
		}
		out.add(events.Event{
			Kind:   events.KindReservationCreated,
			UserID: actor.ID,
			Title:  "Book Reservation",
			Message: fmt.Sprintf("Your reservation for %s is pending. It will expire on %s",
				book.Title, res.ExpiryDate.Format("2006-01-02 15:04")),
			Type:       models.NotificationTypeInfo,
			OccurredAt: now,
		})
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CancelReservation cancels a pending reservation. A reservation whose hold
// window has passed is expired first and can no longer be cancelled.
func (s *lifecycleEngine) CancelReservation(ctx context.Context, actor Actor, reservationID uuid.UUID) (*models.Reservation, error) {
	now := s.clock.Now()

	var result *models.Reservation
	err := s.run(ctx, "cancel_reservation", func(tx *gorm.DB, _ *outbox) error {
		res, err := s.repos.Reservations.GetByIDForUpdate(tx, reservationID)
		if err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: reservation %s", ErrNotFound, reservationID)
			}
			return err
		}
		if !actor.CanActFor(res.UserID) {
			return fmt.Errorf("%w: you can only cancel your own reservations", ErrForbidden)
		}

		expired, err := s.repos.Reservations.ExpirePending(tx, now, repositories.ReservationScope{ID: &res.ID})
		if err != nil {
			return err
		}
		if expired > 0 {
			res.Status = models.ReservationStatusExpired
		}
		if res.Status != models.ReservationStatusPending {
			return fmt.Errorf("%w: only pending reservations can be cancelled (status %s)", ErrInvalidState, res.Status)
		}

		ok, err := s.repos.Reservations.UpdateStatus(tx, res.ID, models.ReservationStatusPending, models.ReservationStatusCancelled)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: only pending reservations can be cancelled", ErrInvalidState)
		}
		res.Status = models.ReservationStatusCancelled
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ExpireReservations flips every pending reservation past its expiry.
func (s *lifecycleEngine) ExpireReservations(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	var expired int64
	err := s.run(ctx, "expire_reservations", func(tx *gorm.DB, _ *outbox) error {
		n, err := s.repos.Reservations.ExpirePending(tx, now, repositories.ReservationScope{})
		expired = n
		return err
	})
	if err != nil {
		return 0, err
	}
	s.metrics.AddSwept("reservations_expired", int(expired))
	logging.FromContext(ctx).Info("reservations expired", "count", expired)
	return expired, nil
}

// ─── Fines ────────────────────────────────────────────────────────────────────

func (s *lifecycleEngine) PayFine(ctx context.Context, actor Actor, fineID uuid.UUID) (*models.Fine, error) {
	now := s.clock.Now()

	var result *models.Fine
	err := s.run(ctx, "pay_fine", func(tx *gorm.DB, _ *outbox) error {
		fine, err := s.repos.Fines.GetByIDForUpdate(tx, fineID)
		if err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: fine %s", ErrNotFound, fineID)
			}
			return err
		}
		if !actor.CanActFor(fine.UserID) {
			return fmt.Errorf("%w: you can only pay your own fines", ErrForbidden)
		}
		if fine.IsPaid {
			return ErrAlreadyPaid
		}
		ok, err := s.repos.Fines.MarkPaid(tx, fine.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyPaid
		}
		fine.IsPaid = true
		fine.PaidDate = &now
		result = fine
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ImposeFine records a fine by hand. Only librarians and admins may do it.
func (s *lifecycleEngine) ImposeFine(ctx context.Context, actor Actor, in ImposeFineInput) (*models.Fine, error) {
	if !actor.IsStaff() {
		return nil, fmt.Errorf("%w: you do not have permission to impose fines", ErrForbidden)
	}
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: fine amount must be positive", ErrValidationFailed)
	}
	now := s.clock.Now()

	var result *models.Fine
	err := s.run(ctx, "impose_fine", func(tx *gorm.DB, out *outbox) error {
		if _, err := s.repos.Users.GetByID(tx, in.UserID); err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: user %s", ErrNotFound, in.UserID)
			}
			return err
		}
		if in.BorrowRecordID != nil {
			record, err := s.repos.BorrowRecords.GetByID(tx, *in.BorrowRecordID)
			if err != nil {
				if isNotFound(err) {
					return fmt.Errorf("%w: borrow record %s", ErrNotFound, *in.BorrowRecordID)
				}
				return err
			}
			if record.BorrowerID != in.UserID {
				return fmt.Errorf("%w: borrow record belongs to another user", ErrValidationFailed)
			}
			if !record.IsReturned {
				return fmt.Errorf("%w: overdue fines for an open loan are charged at return", ErrInvalidState)
			}
			exists, err := s.repos.Fines.ExistsForBorrowRecord(tx, record.ID)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("%w: borrow record already has a fine", ErrInvalidState)
			}
		}

		fine := &models.Fine{
			UserID:         in.UserID,
			BorrowRecordID: in.BorrowRecordID,
			Amount:         in.Amount.Round(2),
			Reason:         in.Reason,
			CreatedAt:      now,
		}
		if err := s.repos.Fines.Create(tx, fine); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: borrow record already has a fine", ErrInvalidState)
			}
			return err
		}
		msg := fmt.Sprintf("A fine of %s has been imposed on your account.", formatMoney(fine.Amount))
		if in.Reason != "" {
			msg = fmt.Sprintf("A fine of %s has been imposed on your account: %s", formatMoney(fine.Amount), in.Reason)
		}
		out.add(events.Event{
			Kind:       events.KindFineImposed,
			UserID:     in.UserID,
			Title:      "Fine Imposed",
			Message:    msg,
			Type:       models.NotificationTypeAlert,
			OccurredAt: now,
		})
		result = fine
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SweepOverdue refreshes the accrued fine on every unreturned overdue record.
// Amounts are assigned, not added, so rerunning the sweep on the same day
// changes nothing and notifies nobody.
func (s *lifecycleEngine) SweepOverdue(ctx context.Context) (SweepReport, error) {
	now := s.clock.Now()
	today := clock.Date(now)

	var report SweepReport
	err := s.run(ctx, "sweep_overdue", func(tx *gorm.DB, out *outbox) error {
		report = SweepReport{}
		records, err := s.repos.BorrowRecords.ListOverdue(tx, today)
		if err != nil {
			return err
		}
		for i := range records {
			record := &records[i]
			report.Checked++
			amount := CalculateFine(record, today)
			if amount.Equal(record.FineAmount) {
				continue
			}
			if err := s.repos.BorrowRecords.UpdateFineAmount(tx, record.ID, amount); err != nil {
				return err
			}
			report.Updated++
			out.add(events.Event{
				Kind:   events.KindOverdueAccrued,
				UserID: record.BorrowerID,
				Title:  "Overdue Book",
				Message: fmt.Sprintf("%s is %d days overdue. Accrued fine: %s",
					record.Book.Title, clock.DaysBetween(record.DueDate, today), formatMoney(amount)),
				Type:       models.NotificationTypeWarning,
				OccurredAt: now,
			})
		}
		return nil
	})
	if err != nil {
		return SweepReport{}, err
	}
	s.metrics.AddSwept("overdue_fines", report.Updated)
	logging.FromContext(ctx).Info("overdue sweep finished", "checked", report.Checked, "updated", report.Updated)
	return report, nil
}

// ─── Queries ──────────────────────────────────────────────────────────────────

func (s *lifecycleEngine) GetBorrowRecord(ctx context.Context, actor Actor, id uuid.UUID) (*models.BorrowRecord, error) {
	record, err := s.repos.BorrowRecords.GetByID(s.db.WithContext(ctx), id)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: borrow record %s", ErrNotFound, id)
		}
		return nil, err
	}
	if !actor.CanActFor(record.BorrowerID) {
		return nil, fmt.Errorf("%w: not your borrow record", ErrForbidden)
	}
	return record, nil
}

// ListBorrowRecords returns the actor's own records; librarians and admins
// see everyone's.
func (s *lifecycleEngine) ListBorrowRecords(ctx context.Context, actor Actor, filter repositories.BorrowRecordFilter) ([]models.BorrowRecord, error) {
	if !actor.IsStaff() {
		filter.BorrowerID = &actor.ID
	}
	return s.repos.BorrowRecords.List(s.db.WithContext(ctx), filter)
}

func (s *lifecycleEngine) ListOverdue(ctx context.Context, actor Actor) ([]models.BorrowRecord, error) {
	if !actor.IsStaff() {
		return nil, fmt.Errorf("%w: only librarians and admins can list overdue books", ErrForbidden)
	}
	return s.repos.BorrowRecords.ListOverdue(s.db.WithContext(ctx), clock.Today(s.clock))
}

// ListReservations materialises expiry for the listed scope before reading,
// so no caller sees a stale pending status.
func (s *lifecycleEngine) ListReservations(ctx context.Context, actor Actor, filter repositories.ReservationFilter) ([]models.Reservation, error) {
	if !actor.IsStaff() {
		filter.UserID = &actor.ID
	}
	db := s.db.WithContext(ctx)
	scope := repositories.ReservationScope{UserID: filter.UserID, BookID: filter.BookID}
	if _, err := s.repos.Reservations.ExpirePending(db, s.clock.Now(), scope); err != nil {
		return nil, err
	}
	return s.repos.Reservations.List(db, filter)
}

func (s *lifecycleEngine) ListFines(ctx context.Context, actor Actor, filter repositories.FineFilter) ([]models.Fine, error) {
	if !actor.IsStaff() {
		filter.UserID = &actor.ID
	}
	return s.repos.Fines.List(s.db.WithContext(ctx), filter)
}
