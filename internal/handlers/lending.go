package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"lms/internal/models"
	"lms/internal/repositories"
	"lms/internal/services"
)

// ─── Borrowing ────────────────────────────────────────────────────────────────

// borrowRequest is optional. Students send no body; librarians name the
// borrower and may override the due date.
type borrowRequest struct {
	BorrowerID *uuid.UUID `json:"borrower_id"`
	DueDate    string     `json:"due_date"`
	Notes      string     `json:"notes"`
}

func (h *LibraryHandler) borrowBook(c *gin.Context) {
	bookID, ok := pathID(c, "book")
	if !ok {
		return
	}
	var req borrowRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err.Error())
		return
	}
	in := services.BorrowInput{BookID: bookID, BorrowerID: req.BorrowerID, Notes: req.Notes}
	if req.DueDate != "" {
		due, err := time.Parse(time.DateOnly, req.DueDate)
		if err != nil {
			badRequest(c, "due_date must be YYYY-MM-DD")
			return
		}
		in.DueDate = &due
	}

	record, err := h.Lifecycle.Borrow(c.Request.Context(), actorFrom(c), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

func (h *LibraryHandler) returnBook(c *gin.Context) {
	recordID, ok := pathID(c, "borrow record")
	if !ok {
		return
	}
	record, err := h.Lifecycle.Return(c.Request.Context(), actorFrom(c), recordID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *LibraryHandler) getBorrowRecord(c *gin.Context) {
	recordID, ok := pathID(c, "borrow record")
	if !ok {
		return
	}
	record, err := h.Lifecycle.GetBorrowRecord(c.Request.Context(), actorFrom(c), recordID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// listBorrowRecords supports ?is_returned=, ?book_id= and, for staff,
// ?borrower_id=.
func (h *LibraryHandler) listBorrowRecords(c *gin.Context) {
	returned, ok := queryBool(c, "is_returned")
	if !ok {
		return
	}
	bookID, ok := queryUUID(c, "book_id")
	if !ok {
		return
	}
	borrowerID, ok := queryUUID(c, "borrower_id")
	if !ok {
		return
	}
	filter := repositories.BorrowRecordFilter{BorrowerID: borrowerID, BookID: bookID, IsReturned: returned}
	records, err := h.Lifecycle.ListBorrowRecords(c.Request.Context(), actorFrom(c), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *LibraryHandler) listOverdue(c *gin.Context) {
	records, err := h.Lifecycle.ListOverdue(c.Request.Context(), actorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// ─── Reservations ─────────────────────────────────────────────────────────────

func (h *LibraryHandler) reserveBook(c *gin.Context) {
	bookID, ok := pathID(c, "book")
	if !ok {
		return
	}
	reservation, err := h.Lifecycle.Reserve(c.Request.Context(), actorFrom(c), bookID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, reservation)
}

func (h *LibraryHandler) cancelReservation(c *gin.Context) {
	reservationID, ok := pathID(c, "reservation")
	if !ok {
		return
	}
	reservation, err := h.Lifecycle.CancelReservation(c.Request.Context(), actorFrom(c), reservationID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reservation)
}

func (h *LibraryHandler) listReservations(c *gin.Context) {
	bookID, ok := queryUUID(c, "book_id")
	if !ok {
		return
	}
	userID, ok := queryUUID(c, "user_id")
	if !ok {
		return
	}
	status := models.ReservationStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		badRequest(c, "invalid status")
		return
	}
	filter := repositories.ReservationFilter{UserID: userID, BookID: bookID, Status: status}
	reservations, err := h.Lifecycle.ListReservations(c.Request.Context(), actorFrom(c), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reservations)
}

// ─── Fines ────────────────────────────────────────────────────────────────────

func (h *LibraryHandler) listFines(c *gin.Context) {
	paid, ok := queryBool(c, "is_paid")
	if !ok {
		return
	}
	userID, ok := queryUUID(c, "user_id")
	if !ok {
		return
	}
	fines, err := h.Lifecycle.ListFines(c.Request.Context(), actorFrom(c), repositories.FineFilter{UserID: userID, IsPaid: paid})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, fines)
}

func (h *LibraryHandler) payFine(c *gin.Context) {
	fineID, ok := pathID(c, "fine")
	if !ok {
		return
	}
	fine, err := h.Lifecycle.PayFine(c.Request.Context(), actorFrom(c), fineID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, fine)
}

type imposeFineRequest struct {
	UserID         uuid.UUID       `json:"user_id" binding:"required"`
	BorrowRecordID *uuid.UUID      `json:"borrow_record_id"`
	Amount         decimal.Decimal `json:"amount"`
	Reason         string          `json:"reason"`
}

func (h *LibraryHandler) imposeFine(c *gin.Context) {
	var req imposeFineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	fine, err := h.Lifecycle.ImposeFine(c.Request.Context(), actorFrom(c), services.ImposeFineInput{
		UserID:         req.UserID,
		BorrowRecordID: req.BorrowRecordID,
		Amount:         req.Amount,
		Reason:         req.Reason,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, fine)
}

// ─── Maintenance ──────────────────────────────────────────────────────────────

// sweep runs the overdue sweep and reservation expiry on demand, the same
// work the "lms sweep" command does on a schedule.
func (h *LibraryHandler) sweep(c *gin.Context) {
	ctx := c.Request.Context()
	report, err := h.Lifecycle.SweepOverdue(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	expired, err := h.Lifecycle.ExpireReservations(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"overdue": report, "expired_reservations": expired})
}
