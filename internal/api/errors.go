package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/delegation-service/internal/errors"
	"github.com/delegation-service/internal/logging"
	"github.com/delegation-service/internal/types"
)

// maxBodyBytes caps request bodies
const maxBodyBytes = 1 << 20

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Success bool               `json:"success"`
	Error   types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	_ = json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondServiceError maps err to its HTTP status and writes it. Server-side
// failures are logged with their cause; the cause is never sent to the client.
func respondServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	catErr := apperrors.Categorize(err)

	logger := logging.FromContext(r.Context()).WithFields(map[string]interface{}{
		"op":     op,
		"code":   catErr.Code,
		"status": catErr.StatusCode,
	})
	if catErr.StatusCode >= http.StatusInternalServerError {
		logger.WithError(err).Error("request failed")
	} else {
		logger.Debug(catErr.Message)
	}

	respondError(w, catErr.StatusCode, catErr.Code, catErr.Message, catErr.Details)
}

// parseJSONBody parses a JSON request body. Numbers are kept as json.Number so
// amounts are validated exactly as sent. strict rejects unknown fields.
func parseJSONBody(w http.ResponseWriter, r *http.Request, v interface{}, strict bool) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.UseNumber()
	if strict {
		decoder.DisallowUnknownFields()
	}
	if err := decoder.Decode(v); err != nil {
		return err
	}
	if decoder.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// bodyError converts a decoding failure into a client error
func bodyError(err error) *apperrors.CategorizedError {
	if errors.Is(err, io.EOF) {
		return apperrors.NewInvalidInputError("Request body is required")
	}
	if field, ok := unknownField(err); ok {
		return apperrors.NewInvalidInputError(fmt.Sprintf("field %s cannot be updated", field))
	}
	return apperrors.NewInvalidInputError("Invalid request body")
}

// unknownField extracts the field name from a DisallowUnknownFields error
func unknownField(err error) (string, bool) {
	const prefix = "json: unknown field "
	msg := err.Error()
	if !strings.HasPrefix(msg, prefix) {
		return "", false
	}
	return strings.TrimPrefix(msg, prefix), true
}
