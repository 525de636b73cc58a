package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/KAsare1/Stockalerts-server/db"
	"github.com/sirupsen/logrus"
)

// APIError is an error that carries its HTTP status and a client facing message.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Field   string                 `json:"field,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Details []ValidationError      `json:"details,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func NewAPIError(code, field, message string, status int) *APIError {
	return &APIError{Code: code, Field: field, Message: message, Status: status}
}

func (e *APIError) WithParam(key string, value interface{}) *APIError {
	if e.Params == nil {
		e.Params = make(map[string]interface{})
	}
	e.Params[key] = value
	return e
}

func (e *APIError) WithError(err error) *APIError {
	e.Err = err
	return e
}

func BadRequest(message string) *APIError {
	return NewAPIError("ERR_BAD_REQUEST", "", message, http.StatusBadRequest)
}

func BadRequestf(format string, a ...interface{}) *APIError {
	return BadRequest(fmt.Sprintf(format, a...))
}

func Unauthorized(message string) *APIError {
	return NewAPIError("ERR_UNAUTHORIZED", "", message, http.StatusUnauthorized)
}

func Forbidden(message string) *APIError {
	return NewAPIError("ERR_FORBIDDEN", "", message, http.StatusForbidden)
}

func NotFound(message string) *APIError {
	return NewAPIError("ERR_NOT_FOUND", "", message, http.StatusNotFound)
}

func NotFoundf(format string, a ...interface{}) *APIError {
	return NotFound(fmt.Sprintf(format, a...))
}

func Conflict(message string) *APIError {
	return NewAPIError("ERR_CONFLICT", "", message, http.StatusConflict)
}

func Internal(message string) *APIError {
	return NewAPIError("ERR_INTERNAL", "", message, http.StatusInternalServerError)
}

// toAPIError classifies err. Storage sentinels become 404 or 409, anything else a generic 500.
func toAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	switch {
	case errors.Is(err, db.ErrNotFound):
		return NotFound("Resource not found").WithError(err)
	case errors.Is(err, db.ErrAlreadySold):
		return Conflict("Portfolio item has already been sold").WithError(err)
	case errors.Is(err, db.ErrDuplicate):
		return Conflict("Resource already exists").WithError(err)
	case errors.Is(err, db.ErrCouponUnavailable):
		return Conflict("Coupon is not redeemable").WithError(err)
	}
	return Internal("Something went wrong").WithError(err)
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	json.NewEncoder(w).Encode(v)
}

// WriteError writes err as {"error": {...}}.
func WriteError(w http.ResponseWriter, err error) {
	apiErr := toAPIError(err)
	WriteJSON(w, apiErr.Status, map[string]interface{}{"error": apiErr})
}

// Fail logs err at a level matching its status and writes it.
func Fail(log logrus.FieldLogger, w http.ResponseWriter, r *http.Request, err error) {
	apiErr := toAPIError(err)
	entry := log.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": apiErr.Status,
	})
	if apiErr.Status >= http.StatusInternalServerError {
		entry.Errorf("request failed: %v", err)
	} else {
		entry.Warnf("request rejected: %v", err)
	}
	WriteJSON(w, apiErr.Status, map[string]interface{}{"error": apiErr})
}
