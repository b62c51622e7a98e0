package models

import "github.com/shopspring/decimal"

// Package is a catalog entry. The catalog is immutable at runtime.
type Package struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Tokens   int64           `json:"tokens"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	Featured bool            `json:"featured"`
	Savings  int             `json:"savings"`
}
