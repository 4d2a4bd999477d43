package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"lms/internal/clock"
	"lms/internal/database/dbtest"
	"lms/internal/events"
	"lms/internal/metrics"
	"lms/internal/models"
	"lms/internal/repositories"
)

var testStart = time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)

type recordingSink struct {
	mu  sync.Mutex
	got []events.Event
	err error
}

func (s *recordingSink) Deliver(_ context.Context, e events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, e)
	return s.err
}

func (s *recordingSink) delivered() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.Event(nil), s.got...)
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	s.got = nil
	s.mu.Unlock()
}

type fixture struct {
	t      *testing.T
	db     *gorm.DB
	repos  *repositories.Repositories
	clock  *clock.FixedClock
	sink   *recordingSink
	engine LifecycleService
}

var isbnSeq atomic.Int64

func newFixture(t *testing.T, extra ...events.Sink) *fixture {
	t.Helper()
	db := dbtest.New(t)
	repos := repositories.New(db)
	clk := clock.NewFixed(testStart)
	sink := &recordingSink{}
	sinks := append([]events.Sink{events.NewStoreSink(db, repos.Notifications), sink}, extra...)
	engine := NewLifecycleService(db, repos, clk, events.NewDispatcher(sinks...), metrics.NewRecorder())
	return &fixture{t: t, db: db, repos: repos, clock: clk, sink: sink, engine: engine}
}

func (f *fixture) user(role models.UserType) *models.User {
	f.t.Helper()
	name := string(role) + "-" + uuid.NewString()[:8]
	u := &models.User{
		Username:     name,
		Email:        name + "@example.com",
		PasswordHash: "x",
		UserType:     role,
	}
	require.NoError(f.t, f.repos.Users.Create(nil, u))
	return u
}

func (f *fixture) book(copies int) *models.Book {
	f.t.Helper()
	n := isbnSeq.Add(1)
	b := &models.Book{
		Title:           fmt.Sprintf("Book %d", n),
		Author:          "Author",
		ISBN:            fmt.Sprintf("978%010d", n),
		Genre:           models.GenreFiction,
		Language:        "English",
		TotalCopies:     copies,
		AvailableCopies: copies,
	}
	require.NoError(f.t, f.repos.Books.Create(nil, b))
	return b
}

func (f *fixture) reload(b *models.Book) *models.Book {
	f.t.Helper()
	got, err := f.repos.Books.GetByID(nil, b.ID)
	require.NoError(f.t, err)
	return got
}

func (f *fixture) borrow(u *models.User, b *models.Book) *models.BorrowRecord {
	f.t.Helper()
	rec, err := f.engine.Borrow(context.Background(), actorOf(u), BorrowInput{BookID: b.ID})
	require.NoError(f.t, err)
	return rec
}

func actorOf(u *models.User) Actor {
	return Actor{ID: u.ID, Role: u.UserType}
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
