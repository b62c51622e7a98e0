package models

import "time"

type AuditLevel string

const (
	LevelInfo     AuditLevel = "INFO"
	LevelWarning  AuditLevel = "WARNING"
	LevelError    AuditLevel = "ERROR"
	LevelSecurity AuditLevel = "SECURITY"
)

type AuditEventType string

const (
	EventPurchaseInitiated   AuditEventType = "PURCHASE_INITIATED"
	EventPurchaseCompleted   AuditEventType = "PURCHASE_COMPLETED"
	EventPurchaseFailed      AuditEventType = "PURCHASE_FAILED"
	EventPaymentVerified     AuditEventType = "PAYMENT_VERIFIED"
	EventPaymentDeclined     AuditEventType = "PAYMENT_DECLINED"
	EventTokensDebited       AuditEventType = "TOKENS_DEBITED"
	EventTokensRefunded      AuditEventType = "TOKENS_REFUNDED"
	EventInsufficientBalance AuditEventType = "INSUFFICIENT_BALANCE"
	EventWebhookRejected     AuditEventType = "WEBHOOK_REJECTED"
	EventSignupBonus         AuditEventType = "SIGNUP_BONUS"
)

// AuditEvent rows are append-only; nothing in the service updates or
// deletes them.
type AuditEvent struct {
	ID        string         `json:"id"`
	AccountID *string        `json:"account_id"`
	EventType AuditEventType `json:"event_type"`
	Level     AuditLevel     `json:"level"`
	Details   map[string]any `json:"details"`
	CreatedAt time.Time      `json:"created_at"`
}
