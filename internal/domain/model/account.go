package model

import "time"

// Account is the durable metadata of a two-factor entry. It never carries the
// shared secret; that lives in the SecretStore keyed by ID.
type Account struct {
	ID        string
	Username  string    `validate:"required,max=255"`
	Provider  string    `validate:"required,max=255"`
	Method    Method    `validate:"required,oneof=totp hotp steam"`
	Algorithm Algorithm `validate:"required,oneof=sha1 sha256 sha512"`
	Digits    int       `validate:"gte=0"`
	Period    int       `validate:"gte=0"`
	Counter   uint64
	Position  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AccountPatch carries the only fields that may change after creation. Nil
// fields are left untouched. Method, algorithm, digits and period are
// deliberately absent: changing them would desynchronise the server.
type AccountPatch struct {
	Username *string
	Provider *string
}

// IsEmpty reports whether the patch changes nothing.
func (p AccountPatch) IsEmpty() bool {
	return p.Username == nil && p.Provider == nil
}

// NewAccount is the input to account creation. Zero-valued algorithm
// parameters are filled from the provider catalog, then from package defaults.
type NewAccount struct {
	Username  string
	Provider  string
	Method    Method
	Algorithm Algorithm
	Digits    int
	Period    int
	Counter   uint64
	Secret    Secret
}

// AccountView is an account together with its current pin, as handed to the
// presentation layer. A view with State == PinStateDegraded has an empty Pin
// and a sanitised Error message.
type AccountView struct {
	Account Account
	Result  OTPResult
	State   PinState
	Error   string
}
