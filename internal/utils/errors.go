package utils

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the JSON body every REST error carries.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// RespondJSON writes data as the JSON response body with the given status.
func RespondJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an ErrorResponse. The error field is the standard status
// text; message carries the human-readable detail.
func RespondError(w http.ResponseWriter, code int, message string) {
	RespondJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
		Code:    code,
	})
}
