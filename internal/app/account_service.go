package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"lrnr-quiz-service/internal/auth"
	"lrnr-quiz-service/internal/domain"
)

const (
	minUsername = 3
	maxUsername = 50
	minPassword = 6
	// bcrypt rejects longer input
	maxPassword = 72
)

// AccountService handles registration and credential checks.
type AccountService struct {
	store ProgressStore
}

func NewAccountService(store ProgressStore) *AccountService {
	return &AccountService{store: store}
}

// Register creates an account with a fresh user id and a bcrypt credential.
func (s *AccountService) Register(ctx context.Context, username, password string) (domain.Account, error) {
	username = strings.TrimSpace(username)
	if n := utf8.RuneCountInString(username); n < minUsername || n > maxUsername {
		return domain.Account{}, fmt.Errorf("%w: username must be %d to %d characters", domain.ErrInvalidInput, minUsername, maxUsername)
	}
	if len(password) < minPassword {
		return domain.Account{}, fmt.Errorf("%w: password must be at least %d characters", domain.ErrInvalidInput, minPassword)
	}
	if len(password) > maxPassword {
		return domain.Account{}, fmt.Errorf("%w: password must be at most %d bytes", domain.ErrInvalidInput, maxPassword)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.Account{}, err
	}
	return s.store.CreateAccount(ctx, domain.NewAccount{
		UserID:     uuid.NewString(),
		Username:   username,
		Credential: hash,
	})
}

// Authenticate returns the account when the password matches.
func (s *AccountService) Authenticate(ctx context.Context, username, password string) (domain.Account, error) {
	account, err := s.store.GetAccountByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Account{}, domain.ErrInvalidCredentials
	}
	if err != nil {
		return domain.Account{}, err
	}
	ok, err := auth.CheckPassword(account.Credential, password)
	if err != nil {
		return domain.Account{}, err
	}
	if !ok {
		return domain.Account{}, domain.ErrInvalidCredentials
	}
	return account, nil
}
