// Package handler contains the HTTP handlers for the betting API.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/betmatch/betmatch/internal/domain"
	"github.com/betmatch/betmatch/internal/server/middleware"
)

// validate checks request DTO struct tags. Shared across handlers; the
// validator is safe for concurrent use.
var validate = validator.New()

// errorResponse is the JSON error body. Code is a stable machine-readable
// identifier; Error is a human-readable message.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error","code":"internal"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response with a stable code.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

type errMapping struct {
	sentinel error
	status   int
	code     string
}

var errMappings = []errMapping{
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrValidation, http.StatusBadRequest, "validation"},
	{domain.ErrPaymentProofMissing, http.StatusBadRequest, "payment_proof_missing"},
	{domain.ErrMarketNotOpen, http.StatusConflict, "market_not_open"},
	{domain.ErrMarketNotActive, http.StatusConflict, "market_not_active"},
	{domain.ErrSelfJoin, http.StatusBadRequest, "self_join"},
	{domain.ErrNotCreator, http.StatusForbidden, "not_creator"},
	{domain.ErrMissingCounterparty, http.StatusConflict, "missing_counterparty"},
	{domain.ErrInvalidSettlement, http.StatusBadRequest, "invalid_settlement"},
	{domain.ErrInsufficientFunds, http.StatusBadRequest, "insufficient_funds"},
	{domain.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
}

// isDomainError reports whether err maps to a client-facing status, meaning
// it is an expected rejection rather than a server failure.
func isDomainError(err error) bool {
	for _, m := range errMappings {
		if errors.Is(err, m.sentinel) {
			return true
		}
	}
	return false
}

// writeDomainError maps domain sentinels to HTTP statuses and stable codes.
// Unrecognized errors become an opaque 500; domain errors never do.
func writeDomainError(w http.ResponseWriter, err error) {
	for _, m := range errMappings {
		if errors.Is(err, m.sentinel) {
			writeError(w, m.status, m.code, err.Error())
			return
		}
	}
	writeError(w, http.StatusInternalServerError, "internal", "internal server error")
}

// decodeBody decodes the request body into dst and runs struct validation.
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.New("invalid request body: " + err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		return err
	}
	return nil
}

// requireUser returns the resolved identity or writes a 401 and reports
// false.
func requireUser(w http.ResponseWriter, r *http.Request) (domain.User, bool) {
	u, ok := middleware.UserFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "identity_required", "wallet public key header required")
		return domain.User{}, false
	}
	return u, true
}

// pathID extracts and parses the {id} path parameter.
func pathID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid market id")
	}
	return id, nil
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
