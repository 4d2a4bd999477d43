package services

import (
	"time"

	"github.com/shopspring/decimal"

	"lms/internal/clock"
	"lms/internal/models"
)

// ─── Lending Rules ────────────────────────────────────────────────────────────

const (
	// LoanPeriodDays is the default borrow window.
	LoanPeriodDays = 14

	// MaxActiveBorrows is the number of unreturned books a user may hold.
	MaxActiveBorrows = 5

	// ReservationHold is how long a pending reservation waits to be fulfilled.
	ReservationHold = 3 * 24 * time.Hour
)

// FinePerDay is charged for each whole calendar day overdue, uncapped.
var FinePerDay = decimal.NewFromInt(1)

// CalculateFine returns the fine owed on record as of today.
//
// An unreturned record with a due date before today owes FinePerDay for every
// calendar day between the due date and today. Any other record keeps its
// stored amount, which is zero for a book that was never overdue. The result
// depends only on record and today.
func CalculateFine(record *models.BorrowRecord, today time.Time) decimal.Decimal {
	due := clock.Date(record.DueDate)
	today = clock.Date(today)
	if record.IsReturned || !due.Before(today) {
		return record.FineAmount
	}
	days := clock.DaysBetween(due, today)
	return FinePerDay.Mul(decimal.NewFromInt(int64(days)))
}

func formatMoney(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}
