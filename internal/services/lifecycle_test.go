package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lms/internal/clock"
	"lms/internal/events"
	"lms/internal/models"
	"lms/internal/repositories"
)

func TestBorrowLastCopyThenNoCopies(t *testing.T) {
	f := newFixture(t)
	book := f.book(1)
	alice := f.user(models.UserTypeStudent)
	bob := f.user(models.UserTypeStudent)

	rec := f.borrow(alice, book)
	assert.Equal(t, clock.Date(testStart), rec.BorrowDate)
	assert.Equal(t, clock.Date(testStart).AddDate(0, 0, LoanPeriodDays), rec.DueDate)
	assert.False(t, rec.IsReturned)
	assert.True(t, rec.FineAmount.IsZero())
	assert.Equal(t, 0, f.reload(book).AvailableCopies)

	_, err := f.engine.Borrow(context.Background(), actorOf(bob), BorrowInput{BookID: book.ID})
	assert.ErrorIs(t, err, ErrNoCopiesAvailable)
	assert.Equal(t, 0, f.reload(book).AvailableCopies)
}

func TestReturnOverdueCreatesFine(t *testing.T) {
	f := newFixture(t)
	book := f.book(2)
	alice := f.user(models.UserTypeStudent)
	rec := f.borrow(alice, book)

	f.clock.Advance(days(LoanPeriodDays + 5))
	returned, err := f.engine.Return(context.Background(), actorOf(alice), rec.ID)
	require.NoError(t, err)

	assert.True(t, returned.IsReturned)
	require.NotNil(t, returned.ReturnDate)
	assert.True(t, clock.Today(f.clock).Equal(*returned.ReturnDate))
	assert.True(t, decimal.NewFromInt(5).Equal(returned.FineAmount), "fine %s", returned.FineAmount)
	assert.Equal(t, 2, f.reload(book).AvailableCopies)

	fines, err := f.repos.Fines.List(nil, repositories.FineFilter{UserID: &alice.ID})
	require.NoError(t, err)
	require.Len(t, fines, 1)
	assert.True(t, decimal.NewFromInt(5).Equal(fines[0].Amount))
	require.NotNil(t, fines[0].BorrowRecordID)
	assert.Equal(t, rec.ID, *fines[0].BorrowRecordID)
	assert.False(t, fines[0].IsPaid)

	evs := f.sink.delivered()
	require.Len(t, evs, 1)
	assert.Equal(t, events.KindOverdueFine, evs[0].Kind)
	assert.Equal(t, "Overdue Book Fine", evs[0].Title)
	assert.Equal(t, "You have been charged $5.00 for overdue book: "+book.Title, evs[0].Message)
	assert.Equal(t, models.NotificationTypeWarning, evs[0].Type)

	notes, err := f.repos.Notifications.ListByUser(nil, alice.ID, true)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "Overdue Book Fine", notes[0].Title)
}

func TestReturnOnTimeHasNoFine(t *testing.T) {
	f := newFixture(t)
	book := f.book(1)
	alice := f.user(models.UserTypeStudent)
	rec := f.borrow(alice, book)

	f.clock.Advance(days(LoanPeriodDays))
	returned, err := f.engine.Return(context.Background(), actorOf(alice), rec.ID)
	require.NoError(t, err)
	assert.True(t, returned.FineAmount.IsZero())

	fines, err := f.repos.Fines.List(nil, repositories.FineFilter{})
	require.NoError(t, err)
	assert.Empty(t, fines)
	assert.Empty(t, f.sink.delivered())
}

func TestBorrowLimit(t *testing.T) {
	f := newFixture(t)
	alice := f.user(models.UserTypeStudent)
	for i := 0; i < MaxActiveBorrows; i++ {
		f.borrow(alice, f.book(1))
	}
	sixth := f.book(1)

	_, err := f.engine.Borrow(context.Background(), actorOf(alice), BorrowInput{BookID: sixth.ID})
	assert.ErrorIs(t, err, ErrBorrowLimitExceeded)
	assert.Equal(t, 1, f.reload(sixth).AvailableCopies)
}

func TestOutstandingOverdueBlocksAnyBorrow(t *testing.T) {
	f := newFixture(t)
	alice := f.user(models.UserTypeStudent)
	f.borrow(alice, f.book(1))

	f.clock.Advance(days(LoanPeriodDays + 1))
	for _, b := range []*models.Book{f.book(1), f.book(3)} {
		_, err := f.engine.Borrow(context.Background(), actorOf(alice), BorrowInput{BookID: b.ID})
		assert.ErrorIs(t, err, ErrOutstandingOverdue)
		assert.Equal(t, b.TotalCopies, f.reload(b).AvailableCopies)
	}
}

func TestBorrowPreconditionOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(models.UserTypeStudent)

	_, err := f.engine.Borrow(ctx, actorOf(alice), BorrowInput{BookID: uuid.New()})
	assert.ErrorIs(t, err, ErrNotFound)

	single := f.book(1)
	f.borrow(alice, single)
	_, err = f.engine.Borrow(ctx, actorOf(alice), BorrowInput{BookID: single.ID})
	assert.ErrorIs(t, err, ErrNoCopiesAvailable, "copy availability is checked before the duplicate check")

	double := f.book(2)
	f.borrow(alice, double)
	_, err = f.engine.Borrow(ctx, actorOf(alice), BorrowInput{BookID: double.ID})
	assert.ErrorIs(t, err, ErrAlreadyBorrowed)
	assert.Equal(t, 1, f.reload(double).AvailableCopies)
}

func TestStaffBorrowOnBehalf(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	librarian := f.user(models.UserTypeLibrarian)
	alice := f.user(models.UserTypeStudent)
	book := f.book(2)

	_, err := f.engine.Borrow(ctx, actorOf(librarian), BorrowInput{BookID: book.ID})
	assert.ErrorIs(t, err, ErrValidationFailed)

	past := clock.Today(f.clock).AddDate(0, 0, -1)
	_, err = f.engine.Borrow(ctx, actorOf(librarian), BorrowInput{BookID: book.ID, BorrowerID: &alice.ID, DueDate: &past})
	assert.ErrorIs(t, err, ErrValidationFailed)

	missing := uuid.New()
	_, err = f.engine.Borrow(ctx, actorOf(librarian), BorrowInput{BookID: book.ID, BorrowerID: &missing})
	assert.ErrorIs(t, err, ErrNotFound)

	due := clock.Today(f.clock).AddDate(0, 0, 7)
	rec, err := f.engine.Borrow(ctx, actorOf(librarian), BorrowInput{BookID: book.ID, BorrowerID: &alice.ID, DueDate: &due})
	require.NoError(t, err)
	assert.Equal(t, alice.ID, rec.BorrowerID)
	assert.Equal(t, due, rec.DueDate)
	assert.Equal(t, 1, f.reload(book).AvailableCopies)
}

func TestStudentBorrowIgnoresBorrowerID(t *testing.T) {
	f := newFixture(t)
	alice := f.user(models.UserTypeStudent)
	bob := f.user(models.UserTypeStudent)
	book := f.book(1)

	rec, err := f.engine.Borrow(context.Background(), actorOf(alice), BorrowInput{BookID: book.ID, BorrowerID: &bob.ID})
	require.NoError(t, err)
	assert.Equal(t, alice.ID, rec.BorrowerID)
}

func TestReturnAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(models.UserTypeStudent)
	bob := f.user(models.UserTypeStudent)
	librarian := f.user(models.UserTypeLibrarian)
	book := f.book(1)
	rec := f.borrow(alice, book)

	_, err := f.engine.Return(ctx, actorOf(bob), rec.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.engine.Return(ctx, actorOf(alice), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.engine.Return(ctx, actorOf(librarian), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.reload(book).AvailableCopies)

	_, err = f.engine.Return(ctx, actorOf(alice), rec.ID)
	assert.ErrorIs(t, err, ErrAlreadyReturned)
	assert.Equal(t, 1, f.reload(book).AvailableCopies, "a repeated return must not add a copy")
}

func TestReservationExpiresOnRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(models.UserTypeStudent)
	book := f.book(1)

	res, err := f.engine.Reserve(ctx, actorOf(alice), book.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusPending, res.Status)
	assert.Equal(t, testStart.Add(ReservationHold), res.ExpiryDate)

	evs := f.sink.delivered()
	require.Len(t, evs, 1)
	assert.Equal(t, "Book Reservation", evs[0].Title)
	assert.Equal(t, "Your reservation for "+book.Title+" is pending. It will expire on 2026-03-05 10:30", evs[0].Message)

	_, err = f.engine.Reserve(ctx, actorOf(alice), book.ID)
	assert.ErrorIs(t, err, ErrAlreadyReserved)

	f.clock.Advance(ReservationHold + 1)
	list, err := f.engine.ListReservations(ctx, actorOf(alice), repositories.ReservationFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.ReservationStatusExpired, list[0].Status)

	again, err := f.engine.Reserve(ctx, actorOf(alice), book.ID)
	require.NoError(t, err, "an expired hold does not block a new reservation")
	assert.Equal(t, models.ReservationStatusPending, again.Status)
}

func TestReserveIsAllowedWhileCopiesAvailable(t *testing.T) {
	f := newFixture(t)
	alice := f.user(models.UserTypeStudent)
	book := f.book(3)

	_, err := f.engine.Reserve(context.Background(), actorOf(alice), book.ID)
	require.NoError(t, err)

	_, err = f.engine.Reserve(context.Background(), actorOf(alice), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancelReservationTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(models.UserTypeStudent)
	bob := f.user(models.UserTypeStudent)
	res, err := f.engine.Reserve(ctx, actorOf(alice), f.book(1).ID)
	require.NoError(t, err)

	_, err = f.engine.CancelReservation(ctx, actorOf(bob), res.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	cancelled, err := f.engine.CancelReservation(ctx, actorOf(alice), res.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusCancelled, cancelled.Status)

	_, err = f.engine.CancelReservation(ctx, actorOf(alice), res.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCancelExpiredReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(models.UserTypeStudent)
	res, err := f.engine.Reserve(ctx, actorOf(alice), f.book(1).ID)
	require.NoError(t, err)

	f.clock.Advance(ReservationHold + 1)
	_, err = f.engine.CancelReservation(ctx, actorOf(alice), res.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	list, err := f.engine.ListReservations(ctx, actorOf(alice), repositories.ReservationFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.ReservationStatusExpired, list[0].Status)
}

func TestBorrowFulfilsPendingReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(models.UserTypeStudent)
	book := f.book(1)
	res, err := f.engine.Reserve(ctx, actorOf(alice), book.ID)
	require.NoError(t, err)
	f.sink.reset()

	f.borrow(alice, book)

	list, err := f.engine.ListReservations(ctx, actorOf(alice), repositories.ReservationFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, res.ID, list[0].ID)
	assert.Equal(t, models.ReservationStatusFulfilled, list[0].Status)

	evs := f.sink.delivered()
	require.Len(t, evs, 1)
	assert.Equal(t, "Reservation Fulfilled", evs[0].Title)
	assert.Equal(t, "Your reservation for "+book.Title+" is now available for pickup!", evs[0].Message)
	assert.Equal(t, models.NotificationTypeSuccess, evs[0].Type)
}

func TestBorrowDoesNotFulfilExpiredReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(models.UserTypeStudent)
	book := f.book(1)
	_, err := f.engine.Reserve(ctx, actorOf(alice), book.ID)
	require.NoError(t, err)
	f.sink.reset()

	f.clock.Advance(ReservationHold + 1)
	f.borrow(alice, book)

	list, err := f.engine.ListReservations(ctx, actorOf(alice), repositories.ReservationFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.ReservationStatusExpired, list[0].Status)
	assert.Empty(t, f.sink.delivered())
}

func TestPayFine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(models.UserTypeStudent)
	bob := f.user(models.UserTypeStudent)
	rec := f.borrow(alice, f.book(1))
	f.clock.Advance(days(LoanPeriodDays + 2))
	_, err := f.engine.Return(ctx, actorOf(alice), rec.ID)
	require.NoError(t, err)

	fines, err := f.engine.ListFines(ctx, actorOf(alice), repositories.FineFilter{})
	require.NoError(t, err)
	require.Len(t, fines, 1)
	fineID := fines[0].ID

	_, err = f.engine.PayFine(ctx, actorOf(bob), fineID)
	assert.ErrorIs(t, err, ErrForbidden)

	paid, err := f.engine.PayFine(ctx, actorOf(alice), fineID)
	require.NoError(t, err)
	assert.True(t, paid.IsPaid)
	require.NotNil(t, paid.PaidDate)
	assert.Equal(t, f.clock.Now(), *paid.PaidDate)

	_, err = f.engine.PayFine(ctx, actorOf(alice), fineID)
	assert.ErrorIs(t, err, ErrAlreadyPaid)

	_, err = f.engine.PayFine(ctx, actorOf(alice), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	unpaid := false
	open, err := f.engine.ListFines(ctx, actorOf(alice), repositories.FineFilter{IsPaid: &unpaid})
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestImposeFine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(models.UserTypeStudent)
	bob := f.user(models.UserTypeStudent)
	librarian := f.user(models.UserTypeLibrarian)
	rec := f.borrow(alice, f.book(1))
	amount := decimal.RequireFromString("12.50")

	_, err := f.engine.ImposeFine(ctx, actorOf(alice), ImposeFineInput{UserID: alice.ID, Amount: amount})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.engine.ImposeFine(ctx, actorOf(librarian), ImposeFineInput{UserID: alice.ID, Amount: decimal.Zero})
	assert.ErrorIs(t, err, ErrValidationFailed)

	_, err = f.engine.ImposeFine(ctx, actorOf(librarian), ImposeFineInput{UserID: bob.ID, BorrowRecordID: &rec.ID, Amount: amount})
	assert.ErrorIs(t, err, ErrValidationFailed)

	_, err = f.engine.ImposeFine(ctx, actorOf(librarian), ImposeFineInput{UserID: alice.ID, BorrowRecordID: &rec.ID, Amount: amount})
	assert.ErrorIs(t, err, ErrInvalidState, "loan still open")

	_, err = f.engine.Return(ctx, actorOf(alice), rec.ID)
	require.NoError(t, err)

	fine, err := f.engine.ImposeFine(ctx, actorOf(librarian), ImposeFineInput{
		UserID:         alice.ID,
		BorrowRecordID: &rec.ID,
		Amount:         amount,
		Reason:         "Damaged spine",
	})
	require.NoError(t, err)
	assert.True(t, amount.Equal(fine.Amount))

	_, err = f.engine.ImposeFine(ctx, actorOf(librarian), ImposeFineInput{UserID: alice.ID, BorrowRecordID: &rec.ID, Amount: amount})
	assert.ErrorIs(t, err, ErrInvalidState)

	evs := f.sink.delivered()
	require.Len(t, evs, 1)
	assert.Equal(t, "Fine Imposed", evs[0].Title)
	assert.Equal(t, models.NotificationTypeAlert, evs[0].Type)
	assert.Contains(t, evs[0].Message, "$12.50")
}

func TestOverdueLoanWithManualFineStillReturns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(1)
	alice := f.user(models.UserTypeStudent)
	librarian := f.user(models.UserTypeLibrarian)
	rec := f.borrow(alice, book)

	f.clock.Advance(days(LoanPeriodDays + 6))
	_, err := f.engine.ImposeFine(ctx, actorOf(librarian), ImposeFineInput{
		UserID:         alice.ID,
		BorrowRecordID: &rec.ID,
		Amount:         decimal.NewFromInt(3),
	})
	require.ErrorIs(t, err, ErrInvalidState)

	returned, err := f.engine.Return(ctx, actorOf(alice), rec.ID)
	require.NoError(t, err)
	assert.True(t, returned.IsReturned)
	assert.True(t, decimal.NewFromInt(6).Equal(returned.FineAmount))
	assert.Equal(t, 1, f.reload(book).AvailableCopies)

	fines, err := f.repos.Fines.List(nil, repositories.FineFilter{UserID: &alice.ID})
	require.NoError(t, err)
	require.Len(t, fines, 1)
	assert.True(t, decimal.NewFromInt(6).Equal(fines[0].Amount))
}

func TestReturnKeepsExistingFineForRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(1)
	alice := f.user(models.UserTypeStudent)
	rec := f.borrow(alice, book)

	// A fine already linked to the loan, as older rows may be.
	existing := &models.Fine{
		UserID:         alice.ID,
		BorrowRecordID: &rec.ID,
		Amount:         decimal.NewFromInt(3),
		Reason:         "Damaged spine",
		CreatedAt:      f.clock.Now(),
	}
	require.NoError(t, f.repos.Fines.Create(nil, existing))

	f.clock.Advance(days(LoanPeriodDays + 6))
	returned, err := f.engine.Return(ctx, actorOf(alice), rec.ID)
	require.NoError(t, err)
	assert.True(t, returned.IsReturned)
	assert.Equal(t, 1, f.reload(book).AvailableCopies)

	fines, err := f.repos.Fines.List(nil, repositories.FineFilter{UserID: &alice.ID})
	require.NoError(t, err)
	require.Len(t, fines, 1)
	assert.Equal(t, existing.ID, fines[0].ID)
	assert.Empty(t, f.sink.delivered())
}

func TestSweepOverdueIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(models.UserTypeStudent)
	bob := f.user(models.UserTypeStudent)
	late := f.borrow(alice, f.book(1))
	f.clock.Advance(days(10))
	f.borrow(bob, f.book(1))

	f.clock.Advance(days(LoanPeriodDays - 10 + 3))
	report, err := f.engine.SweepOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Checked: 1, Updated: 1}, report)

	rec, err := f.repos.BorrowRecords.GetByID(nil, late.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(3).Equal(rec.FineAmount))
	require.Len(t, f.sink.delivered(), 1)
	assert.Equal(t, "Overdue Book", f.sink.delivered()[0].Title)

	report, err = f.engine.SweepOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Checked: 1, Updated: 0}, report)
	assert.Len(t, f.sink.delivered(), 1, "an unchanged amount is not notified again")

	rec, err = f.repos.BorrowRecords.GetByID(nil, late.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(3).Equal(rec.FineAmount), "rerunning the sweep must not add to the fine")

	f.clock.Advance(days(1))
	report, err = f.engine.SweepOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)

	returned, err := f.engine.Return(ctx, actorOf(alice), late.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(4).Equal(returned.FineAmount), "return charges the same amount the sweep accrued")
}

func TestExpireReservations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(models.UserTypeStudent)
	for i := 0; i < 3; i++ {
		_, err := f.engine.Reserve(ctx, actorOf(alice), f.book(1).ID)
		require.NoError(t, err)
	}
	n, err := f.engine.ExpireReservations(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(ReservationHold + 1)
	n, err = f.engine.ExpireReservations(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	pending, err := f.repos.Reservations.List(nil, repositories.ReservationFilter{Status: models.ReservationStatusPending})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestConcurrentBorrowOfLastCopy(t *testing.T) {
	f := newFixture(t)
	book := f.book(1)
	const borrowers = 8
	users := make([]*models.User, borrowers)
	for i := range users {
		users[i] = f.user(models.UserTypeStudent)
	}

	var wg sync.WaitGroup
	errs := make([]error, borrowers)
	for i := range users {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.Borrow(context.Background(), actorOf(users[i]), BorrowInput{BookID: book.ID})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrNoCopiesAvailable)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 0, f.reload(book).AvailableCopies)

	active, err := f.repos.BorrowRecords.CountActiveByBook(nil, book.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, active)
}

func TestCopyCountInvariant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(3)
	users := []*models.User{f.user(models.UserTypeStudent), f.user(models.UserTypeStudent), f.user(models.UserTypeStudent)}

	check := func() {
		t.Helper()
		active, err := f.repos.BorrowRecords.CountActiveByBook(nil, book.ID)
		require.NoError(t, err)
		got := f.reload(book)
		assert.Equal(t, got.TotalCopies-int(active), got.AvailableCopies)
		assert.GreaterOrEqual(t, got.AvailableCopies, 0)
		assert.LessOrEqual(t, got.AvailableCopies, got.TotalCopies)
	}

	var recs []*models.BorrowRecord
	for _, u := range users {
		recs = append(recs, f.borrow(u, book))
		check()
	}
	_, err := f.engine.Borrow(ctx, actorOf(f.user(models.UserTypeStudent)), BorrowInput{BookID: book.ID})
	assert.ErrorIs(t, err, ErrNoCopiesAvailable)
	check()

	for _, rec := range recs {
		_, err := f.engine.Return(ctx, actorOf(users[0]), rec.ID)
		if rec.BorrowerID != users[0].ID {
			assert.ErrorIs(t, err, ErrForbidden)
			_, err = f.engine.Return(ctx, Actor{ID: rec.BorrowerID, Role: models.UserTypeStudent}, rec.ID)
		}
		require.NoError(t, err)
		check()
	}
}

func TestSinkFailureDoesNotFailOperation(t *testing.T) {
	failing := &recordingSink{err: errors.New("stream unavailable")}
	f := newFixture(t, failing)
	alice := f.user(models.UserTypeStudent)
	book := f.book(1)

	res, err := f.engine.Reserve(context.Background(), actorOf(alice), book.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusPending, res.Status)
	assert.Len(t, failing.delivered(), 1)

	notes, err := f.repos.Notifications.ListByUser(nil, alice.ID, false)
	require.NoError(t, err)
	assert.Len(t, notes, 1, "the store sink still receives the event")
}

func TestListScopes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(models.UserTypeStudent)
	bob := f.user(models.UserTypeStudent)
	librarian := f.user(models.UserTypeLibrarian)
	aliceRec := f.borrow(alice, f.book(1))
	f.borrow(bob, f.book(1))

	mine, err := f.engine.ListBorrowRecords(ctx, actorOf(alice), repositories.BorrowRecordFilter{BorrowerID: &bob.ID})
	require.NoError(t, err)
	require.Len(t, mine, 1, "students only ever see their own records")
	assert.Equal(t, aliceRec.ID, mine[0].ID)

	all, err := f.engine.ListBorrowRecords(ctx, actorOf(librarian), repositories.BorrowRecordFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = f.engine.GetBorrowRecord(ctx, actorOf(bob), aliceRec.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	got, err := f.engine.GetBorrowRecord(ctx, actorOf(librarian), aliceRec.ID)
	require.NoError(t, err)
	assert.Equal(t, aliceRec.ID, got.ID)

	_, err = f.engine.ListOverdue(ctx, actorOf(alice))
	assert.ErrorIs(t, err, ErrForbidden)

	f.clock.Advance(days(LoanPeriodDays + 1))
	overdue, err := f.engine.ListOverdue(ctx, actorOf(librarian))
	require.NoError(t, err)
	assert.Len(t, overdue, 2)
}
