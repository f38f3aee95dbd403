package api

import (
	"encoding/json"
	"net/http"
)

// Error is the body of an API error envelope: {"error":{"code","message"}}.
// Handler packages write the same shape through their own helpers.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *Error) Error() string {
	return e.Message
}

// Router-level errors.
var (
	ErrNotFound = &Error{
		Code:    "NOT_FOUND",
		Message: "resource not found",
		Status:  http.StatusNotFound,
	}

	ErrMethodNotAllowed = &Error{
		Code:    "METHOD_NOT_ALLOWED",
		Message: "method not allowed",
		Status:  http.StatusMethodNotAllowed,
	}
)

// JSONError writes err inside the error envelope.
func JSONError(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)
	json.NewEncoder(w).Encode(map[string]*Error{"error": err})
}
