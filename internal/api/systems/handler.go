// Package systems provides the monitored system endpoints and the portal
// read queries over their telemetry.
package systems

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

	"github.com/good-yellow-bee/lynx/internal/aggregator"
	"github.com/good-yellow-bee/lynx/internal/api/alerts"
	"github.com/good-yellow-bee/lynx/internal/models"
	"github.com/good-yellow-bee/lynx/internal/storage"
)

// Handler handles system endpoints.
type Handler struct {
	storage      storage.Storage
	aggregator   *aggregator.Aggregator
	queryTimeout time.Duration
	maxRange     time.Duration
	now          func() time.Time
}

// NewHandler creates a system handler reading telemetry through agg.
func NewHandler(store storage.Storage, agg *aggregator.Aggregator, queryTimeout, maxRange time.Duration) *Handler {
	return &Handler{
		storage:      store,
		aggregator:   agg,
		queryTimeout: queryTimeout,
		maxRange:     maxRange,
		now:          time.Now,
	}
}

// Request types
type SystemRequest struct {
	Hostname string `json:"hostname"`
	Label    string `json:"label"`
	Address  string `json:"address"`
	Key      string `json:"key"`
	Active   *bool  `json:"active"`
}

// CreateResponse returns the agent key once, at creation.
type CreateResponse struct {
	*models.System
	Key string `json:"key"`
}

// List returns all systems.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.storage.Systems().List(r.Context())
	if err != nil {
		log.Printf("list systems error: %v", err)
		internalError(w)
		return
	}
	if list == nil {
		list = []*models.System{}
	}
	jsonStatus(w, http.StatusOK, list)
}

// Create registers a system. A key is generated when none is given.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req SystemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}
	if err := validate(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	system := models.NewSystem(strings.TrimSpace(req.Hostname), strings.TrimSpace(req.Label))
	system.ID = uuid.New().String()
	system.Address = strings.TrimSpace(req.Address)
	system.Key = req.Key
	if system.Key == "" {
		system.Key = strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	if req.Active != nil {
		system.Active = *req.Active
	}

	if err := h.storage.Systems().Create(r.Context(), system); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			jsonError(w, http.StatusConflict, errCodeConflict, "system already exists")
			return
		}
		log.Printf("create system error: %v", err)
		internalError(w)
		return
	}

	log.Printf("system created: %s (%s)", system.DisplayName(), system.ID)
	jsonStatus(w, http.StatusCreated, CreateResponse{System: system, Key: system.Key})
}

// GetByID returns a system with its latest status.
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	system, ok := h.system(w, r)
	if !ok {
		return
	}
	jsonStatus(w, http.StatusOK, system)
}

// Update edits a system's descriptive fields, key and active flag.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	system, ok := h.system(w, r)
	if !ok {
		return
	}

	var req SystemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}
	if err := validate(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	system.Hostname = strings.TrimSpace(req.Hostname)
	system.Label = strings.TrimSpace(req.Label)
	system.Address = strings.TrimSpace(req.Address)
	if req.Key != "" {
		system.Key = req.Key
	}
	if req.Active != nil {
		system.Active = *req.Active
	}
	system.UpdatedAt = time.Now()

	if err := h.storage.Systems().Update(r.Context(), system); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			jsonError(w, http.StatusNotFound, errCodeNotFound, "system not found")
			return
		}
		log.Printf("update system error: %v", err)
		internalError(w)
		return
	}

	log.Printf("system updated: %s (%s)", system.DisplayName(), system.ID)
	jsonStatus(w, http.StatusOK, system)
}

// Delete removes a system with its telemetry, rule links and history.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.storage.Systems().Delete(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			jsonError(w, http.StatusNotFound, errCodeNotFound, "system not found")
			return
		}
		log.Printf("delete system error: %v", err)
		internalError(w)
		return
	}

	log.Printf("system deleted: %s", id)
	w.WriteHeader(http.StatusNoContent)
}

// Metrics returns bucketed metric rows.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	h.aggregate(w, r, func(ctx context.Context, q aggregator.Query) (any, error) {
		return h.aggregator.Metrics(ctx, q)
	})
}

// Disks returns bucketed disk rows, optionally for one mount point.
func (h *Handler) Disks(w http.ResponseWriter, r *http.Request) {
	h.aggregate(w, r, func(ctx context.Context, q aggregator.Query) (any, error) {
		return h.aggregator.Disks(ctx, q)
	})
}

// Chart returns metric and disk rows for the same window.
func (h *Handler) Chart(w http.ResponseWriter, r *http.Request) {
	h.aggregate(w, r, func(ctx context.Context, q aggregator.Query) (any, error) {
		return h.aggregator.Chart(ctx, q)
	})
}

// History returns the system's alert history, most recent first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	system, ok := h.system(w, r)
	if !ok {
		return
	}

	page, perPage := alerts.Page(r)
	histories, total, err := h.storage.AlertHistory().ListBySystem(r.Context(), system.ID, perPage, (page-1)*perPage)
	if err != nil {
		log.Printf("list system history error: %v", err)
		internalError(w)
		return
	}
	jsonStatus(w, http.StatusOK, alerts.NewHistoryList(histories, total, page, perPage))
}

func (h *Handler) aggregate(w http.ResponseWriter, r *http.Request, run func(context.Context, aggregator.Query) (any, error)) {
	system, ok := h.system(w, r)
	if !ok {
		return
	}

	q, err := parseQuery(system.ID, r.URL.Query(), h.now(), h.maxRange)
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	ctx := r.Context()
	if h.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.queryTimeout)
		defer cancel()
	}

	result, err := run(ctx, q)
	if err != nil {
		switch {
		case errors.Is(err, aggregator.ErrInvalidQuery):
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			jsonError(w, http.StatusGatewayTimeout, errCodeInternalError, "query timed out")
		case errors.Is(err, context.Canceled):
			// Client went away.
		default:
			log.Printf("aggregate error: system=%s error=%v", system.ID, err)
			internalError(w)
		}
		return
	}
	jsonStatus(w, http.StatusOK, result)
}

func (h *Handler) system(w http.ResponseWriter, r *http.Request) (*models.System, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "system id required")
		return nil, false
	}
	system, err := h.storage.Systems().GetByID(r.Context(), id)
	if err != nil {
		log.Printf("get system error: %v", err)
		internalError(w)
		return nil, false
	}
	if system == nil {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "system not found")
		return nil, false
	}
	return system, true
}

func validate(req *SystemRequest) error {
	if strings.TrimSpace(req.Hostname) == "" {
		return errors.New("hostname is required")
	}
	if len(req.Hostname) > 255 {
		return errors.New("hostname must be 255 characters or less")
	}
	if len(req.Label) > 100 {
		return errors.New("label must be 100 characters or less")
	}
	if req.Key != "" && len(req.Key) < 16 {
		return errors.New("key must be at least 16 characters")
	}
	return nil
}
