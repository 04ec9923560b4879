package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ericfisherdev/authenticator/internal/application"
	"github.com/ericfisherdev/authenticator/internal/domain/model"
	"github.com/ericfisherdev/authenticator/internal/domain/otp"
	"github.com/ericfisherdev/authenticator/internal/domain/port/driven"
)

// maxBodyBytes bounds request bodies, including backup uploads.
const maxBodyBytes = 1 << 20

// defaultSearchLimit caps provider search results when no limit is given.
const defaultSearchLimit = 20

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler is the HTTP driving adapter that serves the JSON API.
type Handler struct {
	accounts  *application.AccountService
	backup    *application.BackupService
	scheduler *application.RefreshScheduler
	hub       *application.PinHub
	metrics   http.Handler
	db        Pinger
	logger    *slog.Logger

	heartbeat time.Duration
}

// NewHandler creates a Handler with all required dependencies. metrics may
// be nil, in which case /metrics is not served.
func NewHandler(
	accounts *application.AccountService,
	backup *application.BackupService,
	scheduler *application.RefreshScheduler,
	hub *application.PinHub,
	metrics http.Handler,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		accounts:  accounts,
		backup:    backup,
		scheduler: scheduler,
		hub:       hub,
		metrics:   metrics,
		logger:    logger,
		heartbeat: 15 * time.Second,
	}
}

// SetHeartbeat changes the event stream keep-alive interval.
func (h *Handler) SetHeartbeat(d time.Duration) {
	if d > 0 {
		h.heartbeat = d
	}
}

// SetDatabase makes the health check ping the account database.
func (h *Handler) SetDatabase(db Pinger) {
	h.db = db
}

// RegisterAPIRoutes registers every API route on mux.
func RegisterAPIRoutes(mux *http.ServeMux, h *Handler) {
	mux.HandleFunc("GET /api/v1/accounts", h.ListAccounts)
	mux.HandleFunc("POST /api/v1/accounts", h.CreateAccount)
	mux.HandleFunc("POST /api/v1/accounts/import", h.ImportURI)
	mux.HandleFunc("PUT /api/v1/accounts/order", h.ReorderAccounts)
	mux.HandleFunc("GET /api/v1/accounts/{id}", h.GetAccount)
	mux.HandleFunc("PATCH /api/v1/accounts/{id}", h.UpdateAccount)
	mux.HandleFunc("DELETE /api/v1/accounts/{id}", h.DeleteAccount)
	mux.HandleFunc("POST /api/v1/accounts/{id}/next", h.NextHOTP)
	mux.HandleFunc("POST /api/v1/accounts/{id}/verify", h.VerifyPin)
	mux.HandleFunc("POST /api/v1/accounts/{id}/refresh", h.RefreshAccount)
	mux.HandleFunc("GET /api/v1/accounts/{id}/uri", h.ExportURI)
	mux.HandleFunc("GET /api/v1/accounts/{id}/qrcode", h.QRCode)
	mux.HandleFunc("GET /api/v1/providers", h.SearchProviders)
	mux.HandleFunc("GET /api/v1/backup/{format}", h.ExportBackup)
	mux.HandleFunc("POST /api/v1/backup/{format}", h.ImportBackup)
	mux.HandleFunc("GET /api/v1/events", h.Events)
	mux.HandleFunc("GET /api/v1/health", h.Health)

	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}
}

// ListAccounts returns every account with its current pin.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	views, err := h.accounts.Views(r.Context())
	if err != nil {
		h.writeServiceError(w, "failed to list accounts", err)
		return
	}

	resp := make([]AccountResponse, 0, len(views))
	for _, v := range views {
		resp = append(resp, toAccountResponse(v))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetAccount returns a single account with its current pin.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	view, err := h.accounts.View(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, "failed to get account", err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(view))
}

// CreateAccount adds an account from a JSON body carrying the secret.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if !decodeBody(w, r, &req) {
		return
	}

	in := model.NewAccount{
		Username:  req.Username,
		Provider:  req.Provider,
		Digits:    req.Digits,
		Period:    req.Period,
		Counter:   req.Counter,
		Secret:    model.Secret(req.Secret),
		Algorithm: model.ParseAlgorithm(req.Algorithm),
	}
	if req.Method != "" {
		m, err := model.ParseMethod(req.Method)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		in.Method = m
	}

	create := h.accounts.Create
	if req.GenerateSecret {
		if req.Secret != "" {
			writeError(w, http.StatusBadRequest, "secret and generate_secret are mutually exclusive")
			return
		}
		create = h.accounts.CreateWithGeneratedSecret
	}

	account, err := create(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, "failed to create account", err)
		return
	}

	h.writeCreated(w, r, account)
}

// ImportURI adds an account from an otpauth URI.
func (h *Handler) ImportURI(w http.ResponseWriter, r *http.Request) {
	var req ImportURIRequest
	if !decodeBody(w, r, &req) {
		return
	}

	account, err := h.accounts.ImportURI(r.Context(), req.URI)
	if err != nil {
		h.writeServiceError(w, "failed to import uri", err)
		return
	}

	h.writeCreated(w, r, account)
}

// writeCreated responds 201 with the new account and its first pin.
func (h *Handler) writeCreated(w http.ResponseWriter, r *http.Request, account model.Account) {
	view, err := h.accounts.View(r.Context(), account.ID)
	if err != nil {
		writeJSON(w, http.StatusCreated, toAccountOnlyResponse(account))
		return
	}
	writeJSON(w, http.StatusCreated, toAccountResponse(view))
}

// UpdateAccount renames an account.
func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req UpdateAccountRequest
	if !decodeBody(w, r, &req) {
		return
	}

	account, err := h.accounts.Update(r.Context(), r.PathValue("id"), model.AccountPatch{
		Username: req.Username,
		Provider: req.Provider,
	})
	if err != nil {
		h.writeServiceError(w, "failed to update account", err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountOnlyResponse(account))
}

// DeleteAccount removes an account and its secret. Unknown IDs succeed.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.writeServiceError(w, "failed to delete account", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ReorderAccounts sets the display order.
func (h *Handler) ReorderAccounts(w http.ResponseWriter, r *http.Request) {
	var req ReorderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.accounts.Reorder(r.Context(), req.IDs); err != nil {
		h.writeServiceError(w, "failed to reorder accounts", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// NextHOTP advances a counter-based account and returns the new pin.
func (h *Handler) NextHOTP(w http.ResponseWriter, r *http.Request) {
	res, err := h.accounts.NextHOTP(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, "failed to advance counter", err)
		return
	}

	writeJSON(w, http.StatusOK, toPinResponse(res))
}

// VerifyPin checks a code against an account without consuming it.
func (h *Handler) VerifyPin(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ok, err := h.accounts.VerifyPin(r.Context(), r.PathValue("id"), req.Code)
	if err != nil {
		h.writeServiceError(w, "failed to verify pin", err)
		return
	}

	writeJSON(w, http.StatusOK, VerifyResponse{Valid: ok})
}

// RefreshAccount requests an immediate scheduler tick for a time-based account.
func (h *Handler) RefreshAccount(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh scheduler not running")
		return
	}

	if err := h.scheduler.Refresh(r.Context(), r.PathValue("id")); err != nil {
		h.writeServiceError(w, "failed to refresh account", err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// ExportURI returns the otpauth URI of an account, secret included.
func (h *Handler) ExportURI(w http.ResponseWriter, r *http.Request) {
	uri, err := h.accounts.ExportURI(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, "failed to export uri", err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, URIResponse{URI: uri})
}

// QRCode returns the otpauth URI of an account as a PNG image.
func (h *Handler) QRCode(w http.ResponseWriter, r *http.Request) {
	size := 0
	if s := r.URL.Query().Get("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid size")
			return
		}
		size = n
	}

	png, err := h.accounts.QRCode(r.Context(), r.PathValue("id"), size)
	if err != nil {
		h.writeServiceError(w, "failed to render qr code", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// SearchProviders returns catalog entries whose name starts with ?q=.
func (h *Handler) SearchProviders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultSearchLimit
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	entries := h.accounts.Catalog().Search(q.Get("q"), limit)
	resp := make([]ProviderResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, toProviderResponse(e))
	}

	writeJSON(w, http.StatusOK, resp)
}

// ExportBackup downloads every account in the requested backup format.
func (h *Handler) ExportBackup(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.PathValue("format"))

	data, err := h.backup.Export(r.Context(), format)
	if err != nil {
		h.writeServiceError(w, "failed to export backup", err)
		return
	}

	contentType, ext := "text/plain; charset=utf-8", "txt"
	if format == application.FormatAndOTP {
		contentType, ext = "application/json", "json"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="authenticator-`+format+`.`+ext+`"`)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ImportBackup creates accounts from an uploaded backup file. Bad entries
// are reported, not fatal.
func (h *Handler) ImportBackup(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "backup too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	report, err := h.backup.Import(r.Context(), r.PathValue("format"), data)
	if err != nil {
		h.writeServiceError(w, "failed to import backup", err)
		return
	}

	writeJSON(w, http.StatusOK, toImportReportResponse(report))
}

// Health reports liveness, or 503 when the account database is unreachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			h.logger.Warn("database ping failed", "error", err)
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	if h.scheduler != nil {
		resp.TrackedAccounts = len(h.scheduler.Snapshot())
	}
	if h.hub != nil {
		resp.Subscribers = h.hub.Subscribers()
	}

	writeJSON(w, status, resp)
}

// decodeBody decodes a bounded JSON body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeServiceError maps domain sentinels to HTTP status codes. Unexpected
// errors are logged and reported as 500 without detail.
func (h *Handler) writeServiceError(w http.ResponseWriter, msg string, err error) {
	var ve model.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "validation failed", Fields: ve})

	case errors.Is(err, driven.ErrValidationFailed):
		writeError(w, http.StatusUnprocessableEntity, "validation failed")

	case errors.Is(err, driven.ErrAccountNotFound), errors.Is(err, application.ErrNotTracked):
		writeError(w, http.StatusNotFound, "account not found")

	case errors.Is(err, application.ErrUnknownBackupFormat):
		writeError(w, http.StatusNotFound, "unknown backup format")

	case errors.Is(err, otp.ErrInvalidSecret):
		writeError(w, http.StatusBadRequest, "invalid secret")

	case errors.Is(err, otp.ErrInvalidURI):
		writeError(w, http.StatusBadRequest, "invalid otpauth uri")

	case errors.Is(err, otp.ErrUnsupportedDigest), errors.Is(err, otp.ErrUnsupportedMethod),
		errors.Is(err, otp.ErrInvalidDigits), errors.Is(err, otp.ErrInvalidPeriod):
		writeError(w, http.StatusBadRequest, "unsupported otp parameters")

	case errors.Is(err, application.ErrNotCounterBased):
		writeError(w, http.StatusBadRequest, "account is not counter-based")

	case errors.Is(err, application.ErrImportOnlyFormat):
		writeError(w, http.StatusBadRequest, "backup format is import-only")

	case errors.Is(err, application.ErrMalformedBackup):
		writeError(w, http.StatusBadRequest, "malformed backup")

	case errors.Is(err, driven.ErrInvalidQRSize):
		writeError(w, http.StatusBadRequest, "invalid size")

	case errors.Is(err, application.ErrQRUnavailable):
		writeError(w, http.StatusServiceUnavailable, "qr code rendering not configured")

	case errors.Is(err, driven.ErrSecretNotFound), errors.Is(err, driven.ErrEncryptionKeyNotSet),
		errors.Is(err, driven.ErrSecretStoreUnavailable):
		h.logger.Warn(msg, "error", err)
		writeError(w, http.StatusServiceUnavailable, application.PinErrorMessage(err))

	default:
		h.logger.Error(msg, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
