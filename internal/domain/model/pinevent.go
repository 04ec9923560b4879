package model

import "time"

// PinEvent is the notification emitted whenever an account's displayed pin
// changes or can no longer be computed.
type PinEvent struct {
	AccountID  string
	Pin        string
	ValidUntil time.Time
	Counter    uint64
	State      PinState
	Error      string
	EmittedAt  time.Time
}
