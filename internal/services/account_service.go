package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aistylehub/tokenledger/internal/auth"
	"github.com/aistylehub/tokenledger/internal/catalog"
	"github.com/aistylehub/tokenledger/internal/models"
	repo "github.com/aistylehub/tokenledger/internal/repository"
)

type AccountService struct {
	accounts repo.Accounts
	balances repo.Balances
	tm       *auth.TokenManager
}

func NewAccountService(a repo.Accounts, b repo.Balances, tm *auth.TokenManager) *AccountService {
	return &AccountService{accounts: a, balances: b, tm: tm}
}

type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type RegisterResult struct {
	Account models.Account `json:"account"`
	Tokens  TokenPair      `json:"tokens"`
}

// Register creates the account and credits the signup bonus. The bonus
// goes through the balance store so it lands in the audit log like any
// other credit.
func (s *AccountService) Register(ctx context.Context, email, password string) (*RegisterResult, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	acct, err := s.accounts.Create(ctx, email, hash, "user")
	if err != nil {
		if errors.Is(err, repo.ErrDuplicateEmail) {
			return nil, fmt.Errorf("%w: email already registered", ErrValidation)
		}
		return nil, err
	}

	bonus := models.AuditEvent{
		AccountID: &acct.ID,
		EventType: models.EventSignupBonus,
		Level:     models.LevelInfo,
		Details:   map[string]any{"tokens": catalog.FreeTokensOnSignup},
	}
	newBal, err := s.balances.Credit(ctx, acct.ID, catalog.FreeTokensOnSignup, bonus)
	if err != nil {
		// The account exists; a lost bonus is recoverable by support.
		slog.Error("signup bonus credit failed", "account_id", acct.ID, "err", err)
	} else {
		acct.TokenBalance = newBal
		acct.TotalPurchased = catalog.FreeTokensOnSignup
	}

	pair, err := s.tokenPair(acct.ID, acct.Role)
	if err != nil {
		return nil, err
	}
	return &RegisterResult{Account: acct, Tokens: *pair}, nil
}

func (s *AccountService) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	acct, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := auth.VerifyPassword(password, acct.PasswordHash); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.tokenPair(acct.ID, acct.Role)
}

func (s *AccountService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, isRefresh, err := s.tm.ParseAny(refreshToken)
	if err != nil || !isRefresh {
		return nil, ErrUnauthenticated
	}
	// Refresh only succeeds for accounts that still exist.
	if _, err := s.accounts.GetByID(ctx, claims.AccountID); err != nil {
		return nil, ErrUnauthenticated
	}
	return s.tokenPair(claims.AccountID, claims.Role)
}

func (s *AccountService) tokenPair(accountID, role string) (*TokenPair, error) {
	access, refresh, exp, err := s.tm.GeneratePair(accountID, role)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresAt: exp}, nil
}
