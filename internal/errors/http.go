package errors

import (
	"encoding/json"
	"net/http"
)

// Body is the JSON error envelope returned by the HTTP API.
type Body struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HTTPStatus maps an error to the response status callers should see.
func HTTPStatus(err error) int {
	appErr, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch appErr.Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeState:
		return http.StatusConflict
	case CodeRateLimit:
		return http.StatusTooManyRequests
	case CodeExternalAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf returns the AppError code of err, or CodeInternal.
func CodeOf(err error) string {
	if appErr, ok := As(err); ok && appErr.Code != "" {
		return appErr.Code
	}
	return CodeInternal
}

// WriteJSON writes a Body with the given status.
func WriteJSON(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Body{Error: message, Code: code})
}
