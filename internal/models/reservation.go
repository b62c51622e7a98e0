package models

import "time"

type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "held"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
)

// Reservation holds tokens for a paid operation before its outcome is
// known. The amount is debited when the reservation is created and
// credited back only on release.
type Reservation struct {
	ID        string            `json:"id"`
	AccountID string            `json:"account_id"`
	Amount    int64             `json:"amount"`
	Operation string            `json:"operation"`
	Status    ReservationStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}
