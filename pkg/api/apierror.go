// Package api exposes the settlement core over HTTP: JSON handlers on the
// stdlib mux, RFC 7807 problem responses, bearer-token caller identity and
// per-IP rate limiting.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Meterline-Labs/meterline/pkg/bank"
	"github.com/Meterline-Labs/meterline/pkg/guard"
	"github.com/Meterline-Labs/meterline/pkg/proof"
	"github.com/Meterline-Labs/meterline/pkg/registry"
	"github.com/Meterline-Labs/meterline/pkg/session"
	"github.com/Meterline-Labs/meterline/pkg/settle"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// All API error responses use this format.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	problem := &ProblemDetail{
		Type:   fmt.Sprintf("https://meterline.dev/errors/%d", status),
		Title:  title,
		Status: status,
		Detail: detail,
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

// WriteUnauthorized writes a 401 error response.
func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, http.StatusUnauthorized, "Unauthorized", detail)
}

// WriteTooManyRequests writes a 429 response with a Retry-After hint.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded")
}

// WriteDomainError maps the core's sentinel errors onto problem responses.
func WriteDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		WriteError(w, http.StatusNotFound, "Session Not Found", err.Error())
	case errors.Is(err, session.ErrInsufficientDeposit),
		errors.Is(err, session.ErrInvalidPrice),
		errors.Is(err, session.ErrZeroUnits),
		errors.Is(err, settle.ErrInvalidWinner),
		errors.Is(err, bank.ErrNonPositiveAmount):
		WriteError(w, http.StatusUnprocessableEntity, "Invalid Request", err.Error())
	case errors.Is(err, session.ErrUnknownProvider),
		errors.Is(err, registry.ErrUnknownProvider):
		WriteError(w, http.StatusUnprocessableEntity, "Unknown Provider", err.Error())
	case errors.Is(err, session.ErrSessionNotActive),
		errors.Is(err, settle.ErrAlreadySettled),
		errors.Is(err, settle.ErrNoOpenDispute):
		WriteError(w, http.StatusConflict, "Invalid Session State", err.Error())
	case errors.Is(err, session.ErrCapacityExceeded):
		WriteError(w, http.StatusConflict, "Capacity Exceeded", err.Error())
	case errors.Is(err, proof.ErrReplayedProof):
		WriteError(w, http.StatusConflict, "Replayed Proof", err.Error())
	case errors.Is(err, proof.ErrInvalidSignature):
		WriteError(w, http.StatusForbidden, "Invalid Signature", err.Error())
	case errors.Is(err, settle.ErrNotYetAbandonable):
		WriteError(w, http.StatusConflict, "Not Yet Abandonable", err.Error())
	case errors.Is(err, settle.ErrUnauthorizedCaller),
		errors.Is(err, guard.ErrUnauthorizedCaller):
		WriteError(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, guard.ErrPausedOperation):
		WriteError(w, http.StatusServiceUnavailable, "Paused", err.Error())
	case errors.Is(err, bank.ErrInsufficientFunds):
		WriteError(w, http.StatusUnprocessableEntity, "Insufficient Funds", err.Error())
	case errors.Is(err, bank.ErrTransferFailed):
		WriteError(w, http.StatusBadGateway, "Transfer Failed", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "Internal Error", err.Error())
	}
}

// WriteJSON writes a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
