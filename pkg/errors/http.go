package errors

import (
	"encoding/json"
	"errors"
	"net/http"
)

var errorStatusCodes = map[error]int{
	ErrNotFound:           http.StatusNotFound,
	ErrInvalidInput:       http.StatusBadRequest,
	ErrInternalError:      http.StatusInternalServerError,
	ErrTimeout:            http.StatusGatewayTimeout,
	ErrUnavailable:        http.StatusServiceUnavailable,
	ErrCanceled:           http.StatusRequestTimeout,
	ErrInvalidConfig:      http.StatusInternalServerError,
	ErrUnknownCommand:     http.StatusBadRequest,
	ErrMalformedCommand:   http.StatusBadRequest,
	ErrStoreUnavailable:   http.StatusServiceUnavailable,
	ErrBackendUnavailable: http.StatusBadGateway,
	ErrNoActiveCall:       http.StatusConflict,
	ErrCallInProgress:     http.StatusConflict,
}

// AsJSON renders the error as a JSON-friendly map
func (e *Error) AsJSON() map[string]interface{} {
	if e == nil {
		return nil
	}
	result := map[string]interface{}{
		"error":    e.Error(),
		"location": e.Location(),
	}
	if e.Code != "" {
		result["code"] = e.Code
	}
	if len(e.fields) > 0 {
		result["fields"] = e.fields
	}
	return result
}

// WriteError writes a JSON error response with a status derived from err
func WriteError(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	response := map[string]interface{}{"error": "unknown error"}

	var serr *Error
	if err != nil {
		statusCode = HTTPStatusFromError(err)
		if errors.As(err, &serr) {
			response = serr.AsJSON()
		} else {
			response = map[string]interface{}{"error": err.Error()}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(response)
}

// HTTPStatusFromError maps an error chain onto an HTTP status code
func HTTPStatusFromError(err error) int {
	for sentinel, code := range errorStatusCodes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return http.StatusInternalServerError
}
