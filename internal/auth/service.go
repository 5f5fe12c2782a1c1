// Package auth registers dashboard accounts, issues bearer tokens and
// resolves them back to an Identity on every request.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sanctuary-church/sanctuary-api/internal/model"
	"github.com/sanctuary-church/sanctuary-api/internal/storage"
	"github.com/sanctuary-church/sanctuary-api/internal/validate"
)

var (
	// ErrInvalidCredentials is returned by Login for an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthenticated is returned by Authenticate for missing, invalid or revoked tokens.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID    int64
	Name      string
	Email     string
	Admin     bool
	TokenID   string    // jti, the key used for revocation
	ExpiresAt time.Time // revocation entries live until here
}

// Session is returned by Register and Login.
type Session struct {
	Token     string     `json:"token"`
	TokenType string     `json:"token_type"`
	ExpiresAt time.Time  `json:"expires_at"`
	User      model.User `json:"user"`
}

// Options controls who becomes an admin at registration.
type Options struct {
	AdminEmails    []string // compared case-insensitively
	FirstUserAdmin bool     // the first account ever registered is an admin
}

// Service implements register, login, logout and token resolution.
type Service struct {
	users     storage.Users
	tokens    *Tokens
	revoker   Revoker
	validator *validate.Engine
	admins    map[string]bool
	firstUser bool
	dummyHash string
}

// NewService creates the account service.
// Parameters:
//   - users: account persistence
//   - tokens: signs and parses bearer tokens
//   - revoker: remembers logged out tokens
//   - v: validates registration and login bodies
//   - opts: admin assignment rules
func NewService(users storage.Users, tokens *Tokens, revoker Revoker, v *validate.Engine, opts Options) *Service {
	admins := make(map[string]bool, len(opts.AdminEmails))
	for _, e := range opts.AdminEmails {
		admins[strings.ToLower(e)] = true
	}
	// Compared against when the email is unknown, so both paths cost one bcrypt run.
	dummy, _ := HashPassword("sanctuary-dummy-password")
	return &Service{
		users:     users,
		tokens:    tokens,
		revoker:   revoker,
		validator: v,
		admins:    admins,
		firstUser: opts.FirstUserAdmin,
		dummyHash: dummy,
	}
}

// Register creates an account and signs it in. A taken email is reported as
// a field error on email.
func (s *Service) Register(ctx context.Context, in model.Registration) (Session, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	if err := s.validator.Registration(in); err != nil {
		return Session{}, err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return Session{}, err
	}
	u, err := s.users.Create(ctx, model.User{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		IsAdmin:      s.admins[strings.ToLower(in.Email)],
	}, s.firstUser)
	if errors.Is(err, storage.ErrConflict) {
		errs := validate.FieldErrors{}
		errs.Add("email", "The email has already been taken.")
		return Session{}, errs
	}
	if err != nil {
		return Session{}, fmt.Errorf("create user: %w", err)
	}
	return s.session(u)
}

// Login checks the credentials and issues a token.
func (s *Service) Login(ctx context.Context, in model.Credentials) (Session, error) {
	in.Email = strings.TrimSpace(in.Email)
	if err := s.validator.Credentials(in); err != nil {
		return Session{}, err
	}

	u, err := s.users.ByEmail(ctx, in.Email)
	if errors.Is(err, storage.ErrNotFound) {
		CheckPassword(s.dummyHash, in.Password)
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, fmt.Errorf("find user: %w", err)
	}
	if !CheckPassword(u.PasswordHash, in.Password) {
		return Session{}, ErrInvalidCredentials
	}
	return s.session(u)
}

func (s *Service) session(u model.User) (Session, error) {
	token, claims, err := s.tokens.Issue(u)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: claims.ExpiresAt.Time,
		User:      u,
	}, nil
}

// Logout revokes the token of id for the rest of its lifetime.
func (s *Service) Logout(ctx context.Context, id Identity) error {
	return s.revoker.Revoke(ctx, id.TokenID, time.Until(id.ExpiresAt))
}

// Authenticate resolves a raw bearer token. Every failure that is the
// caller's fault wraps ErrUnauthenticated; a revocation lookup failure does not.
func (s *Service) Authenticate(ctx context.Context, raw string) (Identity, error) {
	if raw == "" {
		return Identity{}, ErrUnauthenticated
	}
	claims, err := s.tokens.Parse(raw)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return Identity{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return Identity{}, fmt.Errorf("%w: token revoked", ErrUnauthenticated)
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: bad subject", ErrUnauthenticated)
	}
	return Identity{
		UserID:    userID,
		Name:      claims.Name,
		Email:     claims.Email,
		Admin:     claims.Admin,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// User loads the account behind id.
func (s *Service) User(ctx context.Context, id Identity) (model.User, error) {
	return s.users.ByID(ctx, id.UserID)
}

type ctxKey struct{}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity attached by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
