package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

// PasswordHasher defines minimal hashing interface (abstract so we can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (string, error)
	Verify(hash, pw string) bool
	NeedsRehash(hash string) bool
}

// BcryptHasher implementation. Zero Cost means bcrypt.DefaultCost.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) cost() int {
	if b.Cost == 0 {
		return bcrypt.DefaultCost
	}
	return b.Cost
}

func (b BcryptHasher) Hash(pw string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), b.cost())
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// NeedsRehash reports whether hash was produced with a different cost.
func (b BcryptHasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return false
	}
	return cost != b.cost()
}

// MinPasswordLength is enforced on signup and password reset.
const MinPasswordLength = 8

// Service is the user directory plus the credential verifier used by the
// lockout tracker.
type Service struct {
	repo   *userrepo.UserRepo
	hasher PasswordHasher
	logger *zap.SugaredLogger
}

func NewService(r *userrepo.UserRepo, hasher PasswordHasher, logger *zap.SugaredLogger) *Service {
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	return &Service{repo: r, hasher: hasher, logger: logger}
}

// SignupInput carries the fields accepted when creating a user.
type SignupInput struct {
	Username    string
	Email       string
	Password    string
	Authorities []string
}

// Signup creates an enabled user with a hashed password.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*entity.User, error) {
	username := strings.TrimSpace(in.Username)
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	u := &entity.User{
		ID:           utilities.NewSnowflakeID(),
		Username:     username,
		PasswordHash: hash,
		Authorities:  database.StringList(in.Authorities),
		Enabled:      true,
		ExternalID:   utilities.NewUUID(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if e := strings.ToLower(strings.TrimSpace(in.Email)); e != "" {
		u.Email = &e
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Infow("user created", "user_id", u.ID, "username", u.Username)
	return u, nil
}

// ValidatePassword rejects passwords shorter than MinPasswordLength.
// ValidateUsername rejects empty usernames and ones carrying control
// characters.
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("%w: username required", apperr.ErrInvalidRequest)
	}
	if strings.IndexFunc(username, unicode.IsControl) >= 0 {
		return fmt.Errorf("%w: username must not contain control characters", apperr.ErrInvalidRequest)
	}
	return nil
}

func ValidatePassword(pw string) error {
	if len(pw) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", apperr.ErrInvalidRequest, MinPasswordLength)
	}
	return nil
}

func (s *Service) FindByUsername(ctx context.Context, username string) (*entity.User, error) {
	return s.repo.FindByUsername(ctx, username)
}

func (s *Service) FindByID(ctx context.Context, id int64) (*entity.User, error) {
	return s.repo.FindByID(ctx, id)
}

// FindByIdentifier looks the user up by email when identifier contains '@',
// by username otherwise.
func (s *Service) FindByIdentifier(ctx context.Context, identifier string) (*entity.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, apperr.ErrUserNotFound
	}
	if strings.Contains(identifier, "@") {
		u, err := s.repo.FindByEmail(ctx, identifier)
		if !errors.Is(err, apperr.ErrUserNotFound) {
			return u, err
		}
	}
	return s.repo.FindByUsername(ctx, identifier)
}

func (s *Service) Save(ctx context.Context, u *entity.User) error {
	return s.repo.Save(ctx, u)
}

func (s *Service) SetLockedOut(ctx context.Context, id int64, locked bool) error {
	return s.repo.SetLockedOut(ctx, id, locked)
}

// SetPassword validates and stores a new password for the user.
func (s *Service) SetPassword(ctx context.Context, id int64, pw string) error {
	if err := ValidatePassword(pw); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(pw)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.repo.UpdatePassword(ctx, id, hash)
}

// VerifyPassword checks pw against the stored hash and upgrades the hash
// when the configured cost changed.
func (s *Service) VerifyPassword(ctx context.Context, u *entity.User, pw string) bool {
	if u.PasswordHash == "" || !s.hasher.Verify(u.PasswordHash, pw) {
		return false
	}
	if s.hasher.NeedsRehash(u.PasswordHash) {
		if hash, err := s.hasher.Hash(pw); err == nil {
			if err := s.repo.UpdatePassword(ctx, u.ID, hash); err != nil {
				s.logger.Warnw("password rehash failed", "user_id", u.ID, "err", err)
			} else {
				u.PasswordHash = hash
			}
		}
	}
	return true
}
