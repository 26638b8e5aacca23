// Package v1 contains the REST API route handlers.
package v1

import (
	"encoding/json"
	goerrors "errors"
	"net/http"

	"github.com/samplecove/samplecove/pkg/auth"
	"github.com/samplecove/samplecove/pkg/errors"
	"github.com/samplecove/samplecove/pkg/logger"
)

// errorResponse is the JSON shape of every failure answer.
type errorResponse struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("encoding response: %v", err)
	}
}

// writeError maps a typed failure onto its HTTP status.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal server error"
	var kind string

	var typed *errors.Error
	if errors.IsSchemaInvalid(err) || errors.IsFieldNotQueryable(err) || errors.IsUnsupportedGrammar(err) {
		status = http.StatusBadRequest
	} else if errors.IsUnauthenticated(err) {
		status = http.StatusUnauthorized
	} else if errors.IsForbidden(err) {
		status = http.StatusForbidden
	} else if errors.IsNotFound(err) {
		status = http.StatusNotFound
	} else if errors.IsConflict(err) {
		status = http.StatusConflict
	}

	if goerrors.As(err, &typed) && status != http.StatusInternalServerError {
		message = typed.Message
		kind = typed.Type
	} else {
		logger.Errorf("request failed: %v", err)
	}
	writeJSON(w, status, errorResponse{Message: message, Type: kind})
}

// identity pulls the authenticated Identity out of the request context; the
// auth middleware guarantees it on protected routes.
func identity(r *http.Request) *auth.Identity {
	id, _ := auth.IdentityFromContext(r.Context())
	return id
}

// decode parses a JSON request body into v.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.NewSchemaInvalidError("invalid request body", err)
	}
	return nil
}
