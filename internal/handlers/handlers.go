package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"lms/internal/auth"
	"lms/internal/clock"
	"lms/internal/logging"
	"lms/internal/metrics"
	"lms/internal/models"
	"lms/internal/reporting"
	"lms/internal/services"
)

// Deps is everything the HTTP layer talks to.
type Deps struct {
	Lifecycle     services.LifecycleService
	Catalog       services.CatalogService
	Membership    services.MembershipService
	Notifications services.NotificationService
	Reports       *reporting.Store
	Tokens        *auth.Issuer
	Clock         clock.Clock
	Metrics       *metrics.Recorder
}

type LibraryHandler struct {
	Deps
}

// NewRouter builds a gin engine with recovery, request ids and access logs,
// and every route registered.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logging.RequestID(), logging.RequestLog())
	RegisterRoutes(r, d)
	return r
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	if d.Clock == nil {
		d.Clock = clock.SystemClock{}
	}
	h := &LibraryHandler{Deps: d}

	// Public endpoints
	r.GET("/healthz", h.healthz)
	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	r.POST("/auth/register", h.register)
	r.POST("/auth/login", h.login)

	api := r.Group("/", h.authenticate)

	// Catalog
	api.GET("/books", h.listBooks)
	api.GET("/books/:id", h.getBook)
	api.GET("/books/:id/cover", h.getCover)
	api.GET("/categories", h.listCategories)

	// Lending
	api.POST("/books/:id/borrow", h.borrowBook)
	api.POST("/books/:id/reserve", h.reserveBook)
	api.GET("/borrow-records", h.listBorrowRecords)
	api.GET("/borrow-records/:id", h.getBorrowRecord)
	api.POST("/borrow-records/:id/return", h.returnBook)
	api.GET("/reservations", h.listReservations)
	api.POST("/reservations/:id/cancel", h.cancelReservation)
	api.GET("/fines", h.listFines)
	api.POST("/fines/:id/pay", h.payFine)

	// Account
	api.GET("/users/me", h.me)
	api.POST("/users/me/password", h.changePassword)
	api.GET("/notifications", h.listNotifications)
	api.GET("/notifications/unread", h.listUnreadNotifications)
	api.POST("/notifications/:id/read", h.markNotificationRead)
	api.POST("/notifications/read-all", h.markAllNotificationsRead)
	api.GET("/reports/popular-books", h.popularBooks)
	api.GET("/reports/reading-history", h.readingHistory)
	api.GET("/reports/personal-stats", h.personalStats)

	// Librarian endpoints
	staff := api.Group("/", requireStaff)
	staff.POST("/books", h.createBook)
	staff.PUT("/books/:id", h.updateBook)
	staff.DELETE("/books/:id", h.deleteBook)
	staff.PUT("/books/:id/cover", h.uploadCover)
	staff.POST("/categories", h.createCategory)
	staff.GET("/borrow-records/overdue", h.listOverdue)
	staff.POST("/fines", h.imposeFine)
	staff.GET("/users", h.listUsers)
	staff.GET("/reports/dashboard", h.dashboard)
	staff.GET("/reports/trends", h.trends)
	staff.GET("/reports/fines", h.fineCollection)

	// Admin endpoints
	admin := api.Group("/admin", requireRole(isAdmin))
	admin.POST("/sweep", h.sweep)
}

func (h *LibraryHandler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ─── Authentication ───────────────────────────────────────────────────────────

const actorKey = "actor"

// authenticate verifies the bearer token and loads the caller. The role is
// read from the user row, not the token, so a demotion applies immediately.
func (h *LibraryHandler) authenticate(c *gin.Context) {
	token, ok := auth.BearerToken(c.Request)
	if !ok {
		abortUnauthorized(c, "missing bearer token")
		return
	}
	claims, err := h.Tokens.Verify(token)
	if err != nil {
		abortUnauthorized(c, "invalid or expired token")
		return
	}
	userID, err := claims.UserID()
	if err != nil {
		abortUnauthorized(c, "invalid or expired token")
		return
	}
	user, err := h.Membership.GetUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			abortUnauthorized(c, "unknown user")
			return
		}
		writeError(c, err)
		c.Abort()
		return
	}

	c.Set(actorKey, services.Actor{ID: user.ID, Role: user.UserType})
	logger := logging.FromContext(c.Request.Context()).With("user_id", user.ID)
	c.Request = c.Request.WithContext(logging.ContextWithLogger(c.Request.Context(), logger))
	c.Next()
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg, "code": "unauthorized"})
}

func actorFrom(c *gin.Context) services.Actor {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(services.Actor); ok {
			return a
		}
	}
	return services.Actor{}
}

func isAdmin(a services.Actor) bool { return a.Role == models.UserTypeAdmin }

var requireStaff = requireRole(services.Actor.IsStaff)

func requireRole(allowed func(services.Actor) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !allowed(actorFrom(c)) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role", "code": "forbidden"})
			return
		}
		c.Next()
	}
}

// ─── Errors ───────────────────────────────────────────────────────────────────

func statusFor(code string) int {
	switch code {
	case "not_found":
		return http.StatusNotFound
	case "forbidden":
		return http.StatusForbidden
	case "validation_failed":
		return http.StatusBadRequest
	case "already_borrowed", "already_returned", "already_reserved", "already_paid", "invalid_state":
		return http.StatusConflict
	case "no_copies_available", "borrow_limit_exceeded", "outstanding_overdue":
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a service failure to its status. Anything that is not a
// domain error is logged and hidden behind a generic message.
func writeError(c *gin.Context, err error) {
	code := services.Code(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		logging.FromContext(c.Request.Context()).Error("request failed", "error", err)
		c.JSON(status, gin.H{"error": "internal server error", "code": code})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": "validation_failed"})
}

// ─── Request helpers ──────────────────────────────────────────────────────────

func pathID(c *gin.Context, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid "+what+" id")
		return uuid.Nil, false
	}
	return id, true
}

// queryUUID parses an optional uuid query parameter.
func queryUUID(c *gin.Context, key string) (*uuid.UUID, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		badRequest(c, "invalid "+key)
		return nil, false
	}
	return &id, true
}

func queryBool(c *gin.Context, key string) (*bool, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		badRequest(c, "invalid "+key)
		return nil, false
	}
	return &v, true
}

func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		badRequest(c, "invalid "+key)
		return 0, false
	}
	return v, true
}
