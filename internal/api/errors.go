// ABOUTME: Maps domain errors to HTTP status codes and stable error codes
// ABOUTME: Unknown errors are logged and reported as 500 without details

package api

import (
	"errors"
	"net/http"

	"github.com/2389/corp-gateway/internal/challenge"
	"github.com/2389/corp-gateway/internal/corp"
	"github.com/2389/corp-gateway/internal/identity"
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errorTable = []struct {
	err    error
	status int
	code   string
}{
	{identity.ErrInvalidNonce, http.StatusUnauthorized, "invalid_nonce"},
	{identity.ErrNonceExpired, http.StatusUnauthorized, "nonce_expired"},
	{identity.ErrSignatureInvalid, http.StatusUnauthorized, "signature_invalid"},
	{corp.ErrAlreadyInSameGroup, http.StatusConflict, "already_in_same_group"},
	{corp.ErrWalletBelongsToOtherGroup, http.StatusConflict, "wallet_belongs_to_other_group"},
	{corp.ErrGroupSizeLimitExceeded, http.StatusUnprocessableEntity, "group_size_limit_exceeded"},
	{corp.ErrWalletNotFound, http.StatusNotFound, "wallet_not_found"},
	{corp.ErrGroupNotFound, http.StatusNotFound, "group_not_found"},
	{corp.ErrInvalidDisplayName, http.StatusBadRequest, "invalid_display_name"},
	{challenge.ErrInvalidWallet, http.StatusBadRequest, "invalid_wallet"},
	{corp.ErrInvalidWallet, http.StatusBadRequest, "invalid_wallet"},
	{challenge.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
}

// classify returns the status and code for err.
func classify(err error) (int, string, bool) {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.status, e.code, true
		}
	}
	return http.StatusInternalServerError, "internal", false
}

// writeErr writes err as a JSON error. Business errors carry their message;
// anything else is logged and hidden.
func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code, known := classify(err)
	msg := err.Error()
	if !known {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal server error"
	}
	writeError(w, status, code, msg)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}
