// Package ingestion accepts agent telemetry over HTTP.
package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/good-yellow-bee/lynx/internal/ingest"
)

// AgentKeyHeader carries the agent key.
const AgentKeyHeader = "X-Agent-Key"

// maxBodySize bounds a single telemetry message.
const maxBodySize = 1 << 20

// Handler exposes the ingestion service to HTTP agents.
type Handler struct {
	service *ingest.Service
}

// NewHandler creates an ingestion handler.
func NewHandler(service *ingest.Service) *Handler {
	return &Handler{service: service}
}

// Metrics ingests a snapshot.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	var msg ingest.MetricsMessage
	if !decode(w, r, &msg) {
		return
	}
	res, err := h.service.IngestMetrics(r.Context(), ingest.TransportHTTP, r.Header.Get(AgentKeyHeader), &msg)
	if err != nil {
		writeIngestError(w, msg.SystemID, err)
		return
	}
	jsonStatus(w, http.StatusAccepted, res)
}

// Disks ingests a disk sample.
func (h *Handler) Disks(w http.ResponseWriter, r *http.Request) {
	var msg ingest.DiskMessage
	if !decode(w, r, &msg) {
		return
	}
	res, err := h.service.IngestDisk(r.Context(), ingest.TransportHTTP, r.Header.Get(AgentKeyHeader), &msg)
	if err != nil {
		writeIngestError(w, msg.SystemID, err)
		return
	}
	jsonStatus(w, http.StatusAccepted, res)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeIngestError(w http.ResponseWriter, systemID string, err error) {
	switch {
	case errors.Is(err, ingest.ErrInvalid):
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
	case errors.Is(err, ingest.ErrUnauthenticated):
		jsonError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid agent key")
	case errors.Is(err, ingest.ErrInactive):
		jsonError(w, http.StatusForbidden, "FORBIDDEN", "system is inactive")
	case errors.Is(err, ingest.ErrUnknownSystem):
		jsonError(w, http.StatusNotFound, errCodeNotFound, "system not found")
	case errors.Is(err, context.Canceled):
	default:
		log.Printf("ingest failed: system=%s error=%v", systemID, err)
		internalError(w)
	}
}
