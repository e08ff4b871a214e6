// Package httpx renders JSON responses and maps domain errors to statuses.
package httpx

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"coursemarket/internal/apperr"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}

// Message is the body of every non-validation error response.
type Message struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ValidationBody is the body of a 422 response.
type ValidationBody struct {
	Message string             `json:"message"`
	Errors  apperr.FieldErrors `json:"errors"`
}

// Error translates err into a structured response. Internal detail is logged,
// never rendered.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	var verr *apperr.ValidationError
	if errors.As(err, &verr) {
		JSON(w, http.StatusUnprocessableEntity, ValidationBody{Message: "Invalid fields", Errors: verr.Fields})
		return
	}

	msg := Message{Message: "Conflict"}
	var aerr *apperr.Error
	if errors.As(err, &aerr) {
		msg = Message{Message: aerr.Message, Code: aerr.Code}
	}

	switch {
	case errors.Is(err, apperr.ErrUnauthorized):
		JSON(w, http.StatusForbidden, Message{Message: "Forbidden for you"})
	case errors.Is(err, apperr.ErrNotFound):
		JSON(w, http.StatusNotFound, Message{Message: "Not found"})
	case errors.Is(err, apperr.ErrConflict):
		JSON(w, http.StatusConflict, msg)
	case errors.Is(err, apperr.ErrRateLimited):
		JSON(w, http.StatusTooManyRequests, Message{Message: "Too many requests"})
	default:
		log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
		JSON(w, http.StatusInternalServerError, Message{Message: "Internal error"})
	}
}

// Decode reads a JSON body into v. Malformed input is a validation failure.
func Decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Invalid("non_field_errors", "Malformed request body.")
	}
	return nil
}

// ErrBadID is returned for a path identifier that is not a UUID; such a path
// cannot name an existing resource.
var ErrBadID = apperr.NotFound("bad_id", "not found")

// UUIDParam parses a chi URL parameter as a UUID.
func UUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, ErrBadID
	}
	return id, nil
}
