// Package notifiers provides the notification destination endpoints.
package notifiers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/good-yellow-bee/lynx/internal/api/middleware"
	"github.com/good-yellow-bee/lynx/internal/models"
	"github.com/good-yellow-bee/lynx/internal/notifier"
	"github.com/good-yellow-bee/lynx/internal/storage"
)

// Sender delivers a message synchronously.
type Sender interface {
	Send(ctx context.Context, n *models.Notifier, msg *notifier.Message) error
}

// Handler handles notifier endpoints. Notifiers are scoped to their owner.
type Handler struct {
	storage storage.Storage
	sender  Sender
}

// NewHandler creates a notifier handler. sender may be nil, which disables
// the test endpoint.
func NewHandler(store storage.Storage, sender Sender) *Handler {
	return &Handler{storage: store, sender: sender}
}

// Request types
type NotifierRequest struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Response types
type NotifierResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Value     string `json:"value"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type TestResponse struct {
	Delivered bool   `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

// List returns the caller's notifiers.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := h.storage.Notifiers().ListByOwner(ctx, middleware.GetUserID(ctx))
	if err != nil {
		log.Printf("list notifiers error: %v", err)
		internalError(w)
		return
	}

	resp := make([]*NotifierResponse, len(list))
	for i, n := range list {
		resp[i] = toResponse(n)
	}
	jsonStatus(w, http.StatusOK, resp)
}

// Create stores a notifier after checking its value parses for its type.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req NotifierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	now := time.Now()
	n := &models.Notifier{
		ID:        uuid.New().String(),
		OwnerID:   middleware.GetUserID(ctx),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := applyRequest(n, &req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	if err := h.storage.Notifiers().Create(ctx, n); err != nil {
		log.Printf("create notifier error: %v", err)
		internalError(w)
		return
	}

	log.Printf("notifier created: %s (%s) type=%s", n.Name, n.ID, n.Type)
	jsonStatus(w, http.StatusCreated, toResponse(n))
}

// GetByID returns a notifier.
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	n, ok := h.owned(w, r)
	if !ok {
		return
	}
	jsonStatus(w, http.StatusOK, toResponse(n))
}

// Update replaces a notifier's name, type and value.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	n, ok := h.owned(w, r)
	if !ok {
		return
	}

	var req NotifierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}
	if err := applyRequest(n, &req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}
	n.UpdatedAt = time.Now()

	if err := h.storage.Notifiers().Update(r.Context(), n); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			jsonError(w, http.StatusNotFound, errCodeNotFound, "notifier not found")
			return
		}
		log.Printf("update notifier error: %v", err)
		internalError(w)
		return
	}

	log.Printf("notifier updated: %s (%s)", n.Name, n.ID)
	jsonStatus(w, http.StatusOK, toResponse(n))
}

// Delete removes a notifier and its rule links.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	n, ok := h.owned(w, r)
	if !ok {
		return
	}
	if err := h.storage.Notifiers().Delete(r.Context(), n.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Printf("delete notifier error: %v", err)
		internalError(w)
		return
	}

	log.Printf("notifier deleted: %s (%s)", n.Name, n.ID)
	w.WriteHeader(http.StatusNoContent)
}

// Test sends a sample message through the notifier and reports the outcome.
func (h *Handler) Test(w http.ResponseWriter, r *http.Request) {
	n, ok := h.owned(w, r)
	if !ok {
		return
	}
	if h.sender == nil {
		jsonError(w, http.StatusServiceUnavailable, errCodeInternalError, "notifications are disabled")
		return
	}

	err := h.sender.Send(r.Context(), n, notifier.SampleMessage(time.Now()))
	if err != nil {
		var cfgErr *notifier.ConfigError
		if errors.As(err, &cfgErr) {
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed, cfgErr.Error())
			return
		}
		log.Printf("notifier test failed: notifier=%s type=%s error=%v", n.ID, n.Type, err)
		jsonStatus(w, http.StatusBadGateway, TestResponse{Delivered: false, Error: err.Error()})
		return
	}
	jsonStatus(w, http.StatusOK, TestResponse{Delivered: true})
}

func (h *Handler) owned(w http.ResponseWriter, r *http.Request) (*models.Notifier, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "notifier id required")
		return nil, false
	}

	ctx := r.Context()
	n, err := h.storage.Notifiers().GetByID(ctx, id)
	if err != nil {
		log.Printf("get notifier error: %v", err)
		internalError(w)
		return nil, false
	}
	if n == nil || n.OwnerID != middleware.GetUserID(ctx) {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "notifier not found")
		return nil, false
	}
	return n, true
}

func applyRequest(n *models.Notifier, req *NotifierRequest) error {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return errors.New("name is required")
	}
	if len(name) > 100 {
		return errors.New("name must be 100 characters or less")
	}
	t, ok := models.ParseNotifierType(req.Type)
	if !ok {
		return errors.New("type must be 'email', 'slack', 'discord', or 'telegram'")
	}
	value := strings.TrimSpace(req.Value)
	if _, err := notifier.ParseConfigFor(t, value); err != nil {
		return err
	}

	n.Name = name
	n.Type = t
	n.Value = value
	return nil
}

func toResponse(n *models.Notifier) *NotifierResponse {
	return &NotifierResponse{
		ID:        n.ID,
		Name:      n.Name,
		Type:      string(n.Type),
		Value:     n.Value,
		CreatedAt: n.CreatedAt.Format(time.RFC3339),
		UpdatedAt: n.UpdatedAt.Format(time.RFC3339),
	}
}
