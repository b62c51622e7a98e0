package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchaseCompleted PurchaseStatus = "completed"
	PurchaseFailed    PurchaseStatus = "failed"
)

// Purchase records one settled payment. provider_txn_id is unique across
// all rows; at most one completed purchase exists per provider transaction.
type Purchase struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"account_id"`
	ProviderTxnID  string          `json:"provider_txn_id"`
	Provider       string          `json:"provider"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	TokensCredited int64           `json:"tokens_credited"`
	Status         PurchaseStatus  `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}
