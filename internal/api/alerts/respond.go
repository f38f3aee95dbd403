package alerts

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
)

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type dataResponse struct {
	Data any `json:"data"`
}

const (
	errCodeBadRequest       = "BAD_REQUEST"
	errCodeValidationFailed = "VALIDATION_FAILED"
	errCodeNotFound         = "NOT_FOUND"
	errCodeInternalError    = "INTERNAL_ERROR"
)

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Code: code, Message: message}}); err != nil {
		log.Printf("json encode error: %v", err)
	}
}

func jsonStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(dataResponse{Data: data}); err != nil {
		log.Printf("json encode error: %v", err)
	}
}

func jsonOK(w http.ResponseWriter, data any) {
	jsonStatus(w, http.StatusOK, data)
}

func jsonCreated(w http.ResponseWriter, data any) {
	jsonStatus(w, http.StatusCreated, data)
}

func jsonNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func internalError(w http.ResponseWriter) {
	jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
}

// Pagination defaults for history listings. MaxPage keeps
// (page-1)*MaxPerPage far from overflowing an int.
const (
	DefaultPerPage = 50
	MaxPerPage     = 100
	MaxPage        = 100000
)

// Page parses page and per_page query parameters. Invalid values fall back
// to the defaults and pages past MaxPage are clamped to it.
func Page(r *http.Request) (page, perPage int) {
	page, perPage = 1, DefaultPerPage
	if p := r.URL.Query().Get("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = min(v, MaxPage)
		} else if errors.Is(err, strconv.ErrRange) && !strings.HasPrefix(p, "-") {
			page = MaxPage
		}
	}
	if pp := r.URL.Query().Get("per_page"); pp != "" {
		if v, err := strconv.Atoi(pp); err == nil && v > 0 && v <= MaxPerPage {
			perPage = v
		}
	}
	return page, perPage
}
