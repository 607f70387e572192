package inventory

import "time"

// SlipConfirmedEvent is published after a slip confirmation commits.
type SlipConfirmedEvent struct {
	SlipType    SlipType  `json:"slip_type"`
	SlipID      int64     `json:"slip_id"`
	ReferenceNo string    `json:"reference_no"`
	ConfirmedAt time.Time `json:"confirmed_at"`
	Products    []Applied `json:"products"`
}

// ConfirmObserver records confirmation outcomes per slip family.
type ConfirmObserver interface {
	ObserveConfirmation(family string, result string)
}

// Confirmation outcome labels.
const (
	ResultConfirmed    = "confirmed"
	ResultInvalidState = "invalid_state"
	ResultRejected     = "rejected"
	ResultInsufficient = "insufficient_stock"
	ResultError        = "error"
)
