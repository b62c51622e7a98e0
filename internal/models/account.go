package models

import (
	"errors"
	"strings"
	"time"
)

type Account struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	PasswordHash   string    `json:"-"`
	Role           string    `json:"role"`
	TokenBalance   int64     `json:"token_balance"`
	TotalPurchased int64     `json:"total_purchased"`
	TotalUsed      int64     `json:"total_used"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (a *Account) Validate() error {
	if !strings.Contains(a.Email, "@") {
		return errors.New("invalid email")
	}
	if a.Role == "" {
		a.Role = "user"
	}
	return nil
}
