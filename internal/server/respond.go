package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"faultline/internal/errdefs"
)

type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func respond(w http.ResponseWriter, status int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: status < 400, Message: message, Data: data})
}

func respondError(w http.ResponseWriter, err error) {
	respond(w, statusFor(err), err.Error(), nil)
}

func badRequest(w http.ResponseWriter, format string, args ...interface{}) {
	respond(w, http.StatusBadRequest, fmt.Sprintf(format, args...), nil)
}

// statusFor maps error kinds to HTTP statuses. Election-related refusals
// are conflicts: the request was well-formed but the set cannot satisfy it
// right now.
func statusFor(err error) int {
	switch {
	case errdefs.IsNotFound(err), errdefs.IsNodeNotFound(err):
		return http.StatusNotFound
	case errdefs.IsAlreadyExists(err):
		return http.StatusConflict
	case errdefs.IsNoQuorum(err), errdefs.IsElectionTimeout(err),
		errdefs.IsNoElectableSecondary(err), errdefs.IsNoPrimary(err):
		return http.StatusConflict
	case errdefs.IsUnsupported(err):
		return http.StatusBadRequest
	case errdefs.IsProvisioningFailed(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
