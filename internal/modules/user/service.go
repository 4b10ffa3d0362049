// README: User service implements registration, login, profile reads and partner self-service.
package user

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"dispatch/internal/auth"
	"dispatch/internal/notify"
	"dispatch/internal/types"
)

// Emitter publishes a notification; implementations must not fail the caller.
type Emitter interface {
	Emit(ctx context.Context, topic, eventType string, payload any)
}

// maxPasswordLen is the longest input bcrypt accepts.
const maxPasswordLen = 72

type Service struct {
	users       Repository
	tokens      auth.Issuer
	cache       Cache
	events      Emitter
	log         zerolog.Logger
	maxAttempts int
	hashCost    int
	now         func() time.Time
}

type Option func(*Service)

func WithCache(c Cache) Option           { return func(s *Service) { s.cache = c } }
func WithEmitter(e Emitter) Option       { return func(s *Service) { s.events = e } }
func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.log = l } }
func WithMaxAttempts(n int) Option       { return func(s *Service) { s.maxAttempts = n } }
func WithHashCost(cost int) Option       { return func(s *Service) { s.hashCost = cost } }

func NewService(users Repository, tokens auth.Issuer, opts ...Option) *Service {
	s := &Service{
		users:       users,
		tokens:      tokens,
		cache:       NopCache{},
		events:      nopEmitter{},
		log:         zerolog.Nop(),
		maxAttempts: 3,
		hashCost:    bcrypt.DefaultCost,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxAttempts < 1 {
		s.maxAttempts = 1
	}
	return s
}

type nopEmitter struct{}

func (nopEmitter) Emit(context.Context, string, string, any) {}

type RegisterCommand struct {
	Name     string
	Email    string
	Password string
	Role     auth.Role
}

type Session struct {
	User  *User
	Token string
}

func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*Session, error) {
	cmd.Name = strings.TrimSpace(cmd.Name)
	cmd.Email = strings.ToLower(strings.TrimSpace(cmd.Email))
	if err := validateRegister(cmd); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cmd.Password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := s.now().UTC()
	u := &User{
		ID:           types.NewID(),
		Name:         cmd.Name,
		Email:        cmd.Email,
		Role:         cmd.Role,
		PasswordHash: string(hash),
		IsAvailable:  true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, ErrEmailExists) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return s.session(u)
}

func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	if email == "" || password == "" {
		return nil, ErrBadRequest.WithMessage("email and password are required")
	}
	u, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return s.session(u)
}

// Me returns the caller's profile, served from the cache when possible.
func (s *Service) Me(ctx context.Context, caller auth.Principal) (*User, error) {
	if err := auth.Authorize(caller); err != nil {
		return nil, err
	}
	cached, gen, ok := s.cache.Get(ctx, caller.ID)
	if ok {
		return cached, nil
	}
	u, err := s.users.Get(ctx, caller.ID)
	if err != nil {
		return nil, err
	}
	// gen was read before the store, so an invalidation in between drops this fill.
	s.cache.Set(ctx, u, gen)
	return u, nil
}

func (s *Service) ChangePassword(ctx context.Context, caller auth.Principal, current, next string) error {
	if err := auth.Authorize(caller); err != nil {
		return err
	}
	if len(next) < 6 || len(next) > maxPasswordLen {
		return ErrBadRequest.WithMessage(fmt.Sprintf("new password must be between 6 and %d characters", maxPasswordLen))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), s.hashCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	_, err = s.mutate(ctx, caller.ID, func(u *User) error {
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)) != nil {
			return ErrInvalidCredentials.WithMessage("current password is incorrect")
		}
		u.PasswordHash = string(hash)
		return nil
	})
	return err
}

// SetAvailability toggles a partner's eligibility. A partner bound to an order
// cannot change availability in either direction until the order finishes.
func (s *Service) SetAvailability(ctx context.Context, caller auth.Principal, desired bool) (*User, error) {
	if err := auth.Authorize(caller, auth.RolePartner); err != nil {
		return nil, err
	}
	u, err := s.mutate(ctx, caller.ID, func(u *User) error {
		if u.CurrentOrderID != nil {
			return ErrHasActiveOrder
		}
		u.IsAvailable = desired
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Emit(ctx, notify.ManagersTopic, notify.PartnerAvailabilityChanged, map[string]any{
		"partnerId":   u.ID,
		"name":        u.Name,
		"isAvailable": u.IsAvailable,
	})
	s.events.Emit(ctx, notify.PartnerTopic(u.ID), notify.AvailabilityUpdated, map[string]any{
		"isAvailable": u.IsAvailable,
	})
	return u, nil
}

func (s *Service) ListPartners(ctx context.Context, caller auth.Principal, onlyAvailable bool) ([]*User, error) {
	if err := auth.Authorize(caller, auth.RoleManager); err != nil {
		return nil, err
	}
	return s.users.ListPartners(ctx, onlyAvailable)
}

// mutate runs a read-modify-conditional-write on one user, retrying on version conflicts.
func (s *Service) mutate(ctx context.Context, id types.ID, fn func(*User) error) (*User, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		u, err := s.users.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		version := u.Version
		if err := fn(u); err != nil {
			return nil, err
		}
		ok, err := s.users.Update(ctx, u, version)
		if err != nil {
			return nil, fmt.Errorf("update user: %w", err)
		}
		if ok {
			s.cache.Invalidate(ctx, id)
			return u, nil
		}
		s.log.Debug().Str("user_id", string(id)).Int("attempt", attempt).Msg("user version conflict, retrying")
	}
	return nil, ErrConflict
}

func (s *Service) session(u *User) (*Session, error) {
	tok, err := s.tokens.Issue(u.Principal())
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Session{User: u, Token: tok}, nil
}

func validateRegister(cmd RegisterCommand) error {
	if n := len(cmd.Name); n < 3 || n > 50 {
		return ErrBadRequest.WithMessage("name must be between 3 and 50 characters")
	}
	if len(cmd.Email) < 6 || len(cmd.Email) > 255 {
		return ErrBadRequest.WithMessage("email must be between 6 and 255 characters")
	}
	if addr, err := mail.ParseAddress(cmd.Email); err != nil || addr.Address != cmd.Email {
		return ErrBadRequest.WithMessage("email must be a valid address")
	}
	if n := len(cmd.Password); n < 6 || n > maxPasswordLen {
		return ErrBadRequest.WithMessage(fmt.Sprintf("password must be between 6 and %d characters", maxPasswordLen))
	}
	if !cmd.Role.Valid() {
		return ErrBadRequest.WithMessage("role must be manager or delivery_partner")
	}
	return nil
}
