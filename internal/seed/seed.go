// Package seed bootstraps OAuth clients and users from a YAML file.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/oauth/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	userentity "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
)

type File struct {
	Clients []Client `yaml:"clients"`
	Users   []User   `yaml:"users"`
}

type Client struct {
	ClientID        string   `yaml:"client_id"`
	Secret          string   `yaml:"secret"`
	Scopes          []string `yaml:"scopes"`
	GrantTypes      []string `yaml:"grant_types"`
	Authorities     []string `yaml:"authorities"`
	ResourceIDs     []string `yaml:"resource_ids"`
	AccessValidity  *int64   `yaml:"access_token_validity"`
	RefreshValidity *int64   `yaml:"refresh_token_validity"`
	Trusted         bool     `yaml:"trusted"`
}

type User struct {
	Username    string   `yaml:"username"`
	Email       string   `yaml:"email"`
	Password    string   `yaml:"password"`
	Authorities []string `yaml:"authorities"`
}

// Load reads and validates a seed file.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	for i, c := range f.Clients {
		if c.ClientID == "" || c.Secret == "" {
			return nil, fmt.Errorf("seed client #%d: client_id and secret are required", i+1)
		}
		if len(c.GrantTypes) == 0 {
			return nil, fmt.Errorf("seed client %s: at least one grant type is required", c.ClientID)
		}
	}
	for i, u := range f.Users {
		if u.Username == "" || u.Password == "" {
			return nil, fmt.Errorf("seed user #%d: username and password are required", i+1)
		}
		if err := user.ValidateUsername(u.Username); err != nil {
			return nil, fmt.Errorf("seed user #%d: %w", i+1, err)
		}
	}
	return &f, nil
}

type ClientStore interface {
	Get(ctx context.Context, clientID string) (*entity.Client, error)
	Create(ctx context.Context, c *entity.Client) error
}

type UserStore interface {
	FindByUsername(ctx context.Context, username string) (*userentity.User, error)
	Signup(ctx context.Context, in user.SignupInput) (*userentity.User, error)
}

// Result counts what Apply created.
type Result struct {
	Clients int
	Users   int
}

type Seeder struct {
	clients ClientStore
	users   UserStore
	logger  *zap.SugaredLogger
}

func NewSeeder(clients ClientStore, users UserStore, logger *zap.SugaredLogger) *Seeder {
	return &Seeder{clients: clients, users: users, logger: logger}
}

// Apply creates the clients and users of f that do not exist yet.
// Existing entries are left untouched.
func (s *Seeder) Apply(ctx context.Context, f *File) (Result, error) {
	var res Result
	for _, c := range f.Clients {
		_, err := s.clients.Get(ctx, c.ClientID)
		if err == nil {
			continue
		}
		if !errors.Is(err, apperr.ErrClientNotFound) {
			return res, err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(c.Secret), bcrypt.DefaultCost)
		if err != nil {
			return res, fmt.Errorf("hash secret of %s: %w", c.ClientID, err)
		}
		err = s.clients.Create(ctx, &entity.Client{
			ClientID:        c.ClientID,
			SecretHash:      string(hash),
			ResourceIDs:     database.StringList(c.ResourceIDs),
			Scopes:          database.StringList(c.Scopes),
			GrantTypes:      database.StringList(c.GrantTypes),
			Authorities:     database.StringList(c.Authorities),
			AccessValidity:  c.AccessValidity,
			RefreshValidity: c.RefreshValidity,
			Trusted:         c.Trusted,
			CreatedAt:       time.Now().UTC(),
		})
		if err != nil {
			return res, err
		}
		s.logger.Infow("seeded client", "client_id", c.ClientID)
		res.Clients++
	}
	for _, u := range f.Users {
		_, err := s.users.FindByUsername(ctx, u.Username)
		if err == nil {
			continue
		}
		if !errors.Is(err, apperr.ErrUserNotFound) {
			return res, err
		}
		if _, err := s.users.Signup(ctx, user.SignupInput{
			Username:    u.Username,
			Email:       u.Email,
			Password:    u.Password,
			Authorities: u.Authorities,
		}); err != nil {
			return res, fmt.Errorf("seed user %s: %w", u.Username, err)
		}
		s.logger.Infow("seeded user", "username", u.Username)
		res.Users++
	}
	return res, nil
}

// ApplyFile loads path and applies it; an empty path is a no-op.
func (s *Seeder) ApplyFile(ctx context.Context, path string) (Result, error) {
	if path == "" {
		return Result{}, nil
	}
	f, err := Load(path)
	if err != nil {
		return Result{}, err
	}
	return s.Apply(ctx, f)
}
