package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"lms/internal/services"
)

func (h *LibraryHandler) dashboard(c *gin.Context) {
	d, err := h.Reports.Dashboard(c.Request.Context(), h.Clock.Now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *LibraryHandler) popularBooks(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 10)
	if !ok {
		return
	}
	books, err := h.Reports.PopularBooks(c.Request.Context(), uint(limit))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, books)
}

// subject resolves whose report is requested. Members always get their own;
// staff may pass ?user_id=.
func subject(c *gin.Context) (uuid.UUID, bool) {
	actor := actorFrom(c)
	requested, ok := queryUUID(c, "user_id")
	if !ok {
		return uuid.Nil, false
	}
	if requested == nil || *requested == actor.ID {
		return actor.ID, true
	}
	if !actor.IsStaff() {
		writeError(c, services.ErrForbidden)
		return uuid.Nil, false
	}
	return *requested, true
}

func (h *LibraryHandler) readingHistory(c *gin.Context) {
	userID, ok := subject(c)
	if !ok {
		return
	}
	history, err := h.Reports.ReadingHistory(c.Request.Context(), userID, h.Clock.Now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *LibraryHandler) personalStats(c *gin.Context) {
	userID, ok := subject(c)
	if !ok {
		return
	}
	stats, err := h.Reports.PersonalStats(c.Request.Context(), userID, h.Clock.Now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *LibraryHandler) trends(c *gin.Context) {
	days, ok := queryInt(c, "days", 30)
	if !ok {
		return
	}
	if days > 366 {
		badRequest(c, "days must be at most 366")
		return
	}
	points, err := h.Reports.BorrowingTrends(c.Request.Context(), days, h.Clock.Now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, points)
}

// fineCollection reports since ?since=YYYY-MM-DD, defaulting to 30 days ago.
func (h *LibraryHandler) fineCollection(c *gin.Context) {
	since := h.Clock.Now().AddDate(0, 0, -30)
	if raw := c.Query("since"); raw != "" {
		d, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			badRequest(c, "since must be YYYY-MM-DD")
			return
		}
		since = d
	}
	fc, err := h.Reports.FineCollection(c.Request.Context(), since)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, fc)
}
