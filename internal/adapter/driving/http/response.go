package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/authenticator/internal/application"
	"github.com/ericfisherdev/authenticator/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body. Fields is set only for
// validation failures and maps snake_case field names to messages.
type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// AccountResponse is the JSON representation of an account with its current pin.
type AccountResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Provider  string `json:"provider"`
	Method    string `json:"method"`
	Algorithm string `json:"algorithm"`
	Digits    int    `json:"digits"`
	Period    int    `json:"period,omitempty"`
	Counter   uint64 `json:"counter"`
	Position  int    `json:"position"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`

	Pin        string `json:"pin"`
	ValidUntil string `json:"valid_until,omitempty"`
	State      string `json:"state"`
	Error      string `json:"error,omitempty"`
}

// PinResponse is the JSON representation of a freshly computed pin.
type PinResponse struct {
	Pin         string `json:"pin"`
	ValidUntil  string `json:"valid_until,omitempty"`
	Counter     uint64 `json:"counter"`
	NextCounter uint64 `json:"next_counter,omitempty"`
}

// PinEventResponse is the SSE payload for a pin change.
type PinEventResponse struct {
	AccountID  string `json:"account_id"`
	Pin        string `json:"pin"`
	ValidUntil string `json:"valid_until,omitempty"`
	Counter    uint64 `json:"counter"`
	State      string `json:"state"`
	Error      string `json:"error,omitempty"`
}

// ProviderResponse is the JSON representation of a catalog entry.
type ProviderResponse struct {
	Name      string `json:"name"`
	Website   string `json:"website,omitempty"`
	HelpURL   string `json:"help_url,omitempty"`
	Logo      string `json:"logo,omitempty"`
	Method    string `json:"method,omitempty"`
	Algorithm string `json:"algorithm,omitempty"`
	Digits    int    `json:"digits,omitempty"`
	Period    int    `json:"period,omitempty"`
}

// ImportReportResponse is the result of a backup import.
type ImportReportResponse struct {
	Imported []AccountResponse           `json:"imported"`
	Failed   []application.ImportFailure `json:"failed"`
}

// URIResponse carries an exported otpauth URI.
type URIResponse struct {
	URI string `json:"uri"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status          string `json:"status"`
	Time            string `json:"time"`
	TrackedAccounts int    `json:"tracked_accounts"`
	Subscribers     int    `json:"subscribers"`
}

// CreateAccountRequest is the JSON body for the create account endpoint.
// Zero-valued parameters are filled from the provider catalog.
type CreateAccountRequest struct {
	Username  string `json:"username"`
	Provider  string `json:"provider"`
	Method    string `json:"method"`
	Algorithm string `json:"algorithm"`
	Digits    int    `json:"digits"`
	Period    int    `json:"period"`
	Counter   uint64 `json:"counter"`
	Secret    string `json:"secret"`

	GenerateSecret bool `json:"generate_secret"`
}

// UpdateAccountRequest is the JSON body for the update account endpoint.
type UpdateAccountRequest struct {
	Username *string `json:"username"`
	Provider *string `json:"provider"`
}

// VerifyRequest is the JSON body for the verify endpoint.
type VerifyRequest struct {
	Code string `json:"code"`
}

// VerifyResponse reports whether a code was accepted.
type VerifyResponse struct {
	Valid bool `json:"valid"`
}

// ImportURIRequest is the JSON body for the import endpoint.
type ImportURIRequest struct {
	URI string `json:"uri"`
}

// ReorderRequest is the JSON body for the reorder endpoint.
type ReorderRequest struct {
	IDs []string `json:"ids"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// toAccountResponse converts an account view to its JSON representation.
func toAccountResponse(v model.AccountView) AccountResponse {
	a := v.Account
	resp := AccountResponse{
		ID:         a.ID,
		Username:   a.Username,
		Provider:   a.Provider,
		Method:     string(a.Method),
		Algorithm:  string(a.Algorithm),
		Digits:     a.Digits,
		Counter:    a.Counter,
		Position:   a.Position,
		CreatedAt:  formatTime(a.CreatedAt),
		UpdatedAt:  formatTime(a.UpdatedAt),
		Pin:        v.Result.Pin,
		ValidUntil: formatTime(v.Result.ValidUntil),
		State:      string(v.State),
		Error:      v.Error,
	}
	if a.Method.IsTimeBased() {
		resp.Period = a.Period
	}
	return resp
}

// toAccountOnlyResponse converts an account without a computed pin.
func toAccountOnlyResponse(a model.Account) AccountResponse {
	return toAccountResponse(model.AccountView{Account: a, State: model.PinStateOK})
}

func toPinResponse(r model.OTPResult) PinResponse {
	return PinResponse{
		Pin:         r.Pin,
		ValidUntil:  formatTime(r.ValidUntil),
		Counter:     r.Counter,
		NextCounter: r.NextCounter,
	}
}

func toPinEventResponse(ev model.PinEvent) PinEventResponse {
	return PinEventResponse{
		AccountID:  ev.AccountID,
		Pin:        ev.Pin,
		ValidUntil: formatTime(ev.ValidUntil),
		Counter:    ev.Counter,
		State:      string(ev.State),
		Error:      ev.Error,
	}
}

func toProviderResponse(p model.ProviderEntry) ProviderResponse {
	return ProviderResponse{
		Name:      p.Name,
		Website:   p.Website,
		HelpURL:   p.HelpURL,
		Logo:      p.Logo,
		Method:    string(p.Method),
		Algorithm: string(p.Algorithm),
		Digits:    p.Digits,
		Period:    p.Period,
	}
}

func toImportReportResponse(r application.ImportReport) ImportReportResponse {
	imported := make([]AccountResponse, 0, len(r.Imported))
	for _, a := range r.Imported {
		imported = append(imported, toAccountOnlyResponse(a))
	}
	failed := r.Failed
	if failed == nil {
		failed = []application.ImportFailure{}
	}
	return ImportReportResponse{Imported: imported, Failed: failed}
}
