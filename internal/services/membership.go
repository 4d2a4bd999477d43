package services

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"lms/internal/auth"
	"lms/internal/logging"
	"lms/internal/models"
	"lms/internal/repositories"
)

// MembershipService registers and authenticates users.
type MembershipService interface {
	Register(ctx context.Context, in RegisterInput) (*models.User, error)
	Authenticate(ctx context.Context, username, password string) (*Session, error)
	ChangePassword(ctx context.Context, actor Actor, in ChangePasswordInput) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	ListUsers(ctx context.Context, actor Actor) ([]models.User, error)
}

type RegisterInput struct {
	Username        string
	Email           string
	Password        string
	PasswordConfirm string
	FirstName       string
	LastName        string
	PhoneNumber     string
	UserType        models.UserType
}

type ChangePasswordInput struct {
	OldPassword        string
	NewPassword        string
	NewPasswordConfirm string
}

// Session is the result of a successful login.
type Session struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

type membershipService struct {
	db     *gorm.DB
	repos  *repositories.Repositories
	tokens *auth.Issuer
}

func NewMembershipService(db *gorm.DB, repos *repositories.Repositories, tokens *auth.Issuer) MembershipService {
	return &membershipService{db: db, repos: repos, tokens: tokens}
}

func (in RegisterInput) validate() error {
	var problems []string
	if in.Username == "" {
		problems = append(problems, "username is required")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		problems = append(problems, "a valid email is required")
	}
	if len(in.Password) < auth.MinPasswordLength {
		problems = append(problems, fmt.Sprintf("password must be at least %d characters", auth.MinPasswordLength))
	}
	if in.Password != in.PasswordConfirm {
		problems = append(problems, "passwords don't match")
	}
	if !in.UserType.Valid() {
		problems = append(problems, fmt.Sprintf("unknown user type %q", in.UserType))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidationFailed, strings.Join(problems, "; "))
	}
	return nil
}

func (s *membershipService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.UserType == "" {
		in.UserType = models.UserTypeStudent
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &models.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		PhoneNumber:  strings.TrimSpace(in.PhoneNumber),
		UserType:     in.UserType,
	}
	if err := s.repos.Users.Create(s.db.WithContext(ctx), user); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: username or email already registered", ErrValidationFailed)
		}
		return nil, err
	}
	logging.FromContext(ctx).Info("user registered", "user_id", user.ID, "user_type", user.UserType)
	return user, nil
}

// Authenticate checks credentials and issues a bearer token. Unknown users
// and wrong passwords fail the same way.
func (s *membershipService) Authenticate(ctx context.Context, username, password string) (*Session, error) {
	user, err := s.repos.Users.GetByUsername(s.db.WithContext(ctx), strings.TrimSpace(username))
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: invalid credentials", ErrValidationFailed)
		}
		return nil, err
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return nil, fmt.Errorf("%w: invalid credentials", ErrValidationFailed)
	}
	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Session{Token: token, User: user}, nil
}

func (s *membershipService) ChangePassword(ctx context.Context, actor Actor, in ChangePasswordInput) error {
	if in.NewPassword != in.NewPasswordConfirm {
		return fmt.Errorf("%w: new passwords don't match", ErrValidationFailed)
	}
	if len(in.NewPassword) < auth.MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidationFailed, auth.MinPasswordLength)
	}
	db := s.db.WithContext(ctx)
	user, err := s.repos.Users.GetByID(db, actor.ID)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: user %s", ErrNotFound, actor.ID)
		}
		return err
	}
	if !auth.CheckPassword(in.OldPassword, user.PasswordHash) {
		return fmt.Errorf("%w: old password is incorrect", ErrValidationFailed)
	}
	hash, err := auth.HashPassword(in.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.repos.Users.UpdatePasswordHash(db, user.ID, hash)
}

func (s *membershipService) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.repos.Users.GetByID(s.db.WithContext(ctx), id)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
		}
		return nil, err
	}
	return user, nil
}

func (s *membershipService) ListUsers(ctx context.Context, actor Actor) ([]models.User, error) {
	if !actor.IsStaff() {
		return nil, fmt.Errorf("%w: only librarians and admins can list users", ErrForbidden)
	}
	return s.repos.Users.List(s.db.WithContext(ctx))
}
