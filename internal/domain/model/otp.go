package model

import "time"

// OTPParams are the algorithm parameters that, together with a secret and a
// moment in time, fully determine a pin.
type OTPParams struct {
	Method    Method
	Algorithm Algorithm
	Digits    int
	Period    int
	Counter   uint64
}

// Params extracts the OTP parameters of an account.
func (a Account) Params() OTPParams {
	return OTPParams{
		Method:    a.Method,
		Algorithm: a.Algorithm,
		Digits:    a.Digits,
		Period:    a.Period,
		Counter:   a.Counter,
	}
}

// OTPResult is a computed pin. For time-based methods ValidUntil is the end of
// the current step; for HOTP it is zero and NextCounter holds the counter the
// following pin will use.
type OTPResult struct {
	Pin         string
	IssuedAt    time.Time
	ValidUntil  time.Time
	Counter     uint64
	NextCounter uint64
}

// Remaining returns how long the pin stays valid after now. It is zero for
// counter-based pins and for pins that have already rolled over.
func (r OTPResult) Remaining(now time.Time) time.Duration {
	if r.ValidUntil.IsZero() {
		return 0
	}
	d := r.ValidUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
