package users

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLen is the shortest password accepted by Signup and SetPassword.
const MinPasswordLen = 8

var (
	// ErrInvalidCredentials is returned by Login for an unknown email or wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrPasswordNotSet is returned by Login for social-only accounts.
	ErrPasswordNotSet = errors.New("account uses social login; password not set")
	// ErrWeakPassword is returned when a password is shorter than MinPasswordLen.
	ErrWeakPassword = fmt.Errorf("password must be at least %d characters", MinPasswordLen)
	// ErrInvalidEmail is returned when an email address cannot be parsed.
	ErrInvalidEmail = errors.New("invalid email address")
)

// Service implements password-account management on top of a Store.
type Service struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a new Service.
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

// Signup creates an account with email/password authentication.
func (s *Service) Signup(ctx context.Context, emailAddr, password, displayName string) (*Account, error) {
	emailAddr = strings.TrimSpace(emailAddr)
	if _, err := mail.ParseAddress(emailAddr); err != nil {
		return nil, ErrInvalidEmail
	}
	if len(password) < MinPasswordLen {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var a *Account
	err = s.store.InTx(ctx, func(tx Tx) error {
		username, err := GenerateUsername(ctx, UsernameHints{Email: emailAddr}, tx.UsernameExists, s.now)
		if err != nil {
			return err
		}
		name := displayName
		if name == "" {
			name = username
		}
		a = &Account{
			Username:     username,
			Email:        emailAddr,
			PasswordHash: string(hash),
			DisplayName:  name,
			SignupMethod: SignupPassword,
		}
		return tx.CreateAccount(ctx, a)
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	s.logger.Info("account created",
		zap.String("account_id", a.ID.String()),
		zap.String("signup_method", SignupPassword),
	)
	return a, nil
}

// Login verifies email/password credentials and returns the account on success.
func (s *Service) Login(ctx context.Context, emailAddr, password string) (*Account, error) {
	var a *Account
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		a, err = tx.AccountByEmail(ctx, strings.TrimSpace(emailAddr))
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	if !a.HasPassword() {
		return nil, ErrPasswordNotSet
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return a, nil
}

// SetPassword sets or replaces the password of an account. Accounts that
// already have a password must present it as current.
func (s *Service) SetPassword(ctx context.Context, accountID uuid.UUID, current, next string) error {
	if len(next) < MinPasswordLen {
		return ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	return s.store.InTx(ctx, func(tx Tx) error {
		a, err := tx.AccountByID(ctx, accountID)
		if err != nil {
			return err
		}
		if a.HasPassword() {
			if err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(current)); err != nil {
				return ErrInvalidCredentials
			}
		}
		return tx.SetPasswordHash(ctx, accountID, string(hash))
	})
}

// GetByID retrieves an account by ID.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	var a *Account
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		a, err = tx.AccountByID(ctx, id)
		return err
	})
	return a, err
}

// UpdateProfile replaces the display name, bio and avatar of an account.
func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, displayName, bio, avatarURL string) (*Account, error) {
	var a *Account
	err := s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.UpdateProfile(ctx, id, displayName, bio, avatarURL); err != nil {
			return err
		}
		var err error
		a, err = tx.AccountByID(ctx, id)
		return err
	})
	return a, err
}
