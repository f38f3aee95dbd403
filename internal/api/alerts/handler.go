// Package alerts provides the alert rule management endpoints.
package alerts

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/good-yellow-bee/lynx/internal/alerting"
	"github.com/good-yellow-bee/lynx/internal/api/middleware"
	"github.com/good-yellow-bee/lynx/internal/models"
	"github.com/good-yellow-bee/lynx/internal/storage"
)

// RuleCache drops cached parse state for an edited or deleted rule.
type RuleCache interface {
	Forget(ruleID string)
}

// Handler handles alert rule endpoints. Rules are scoped to their owner.
type Handler struct {
	storage storage.Storage
	rules   RuleCache
}

// NewHandler creates an alert handler. rules may be nil.
func NewHandler(store storage.Storage, rules RuleCache) *Handler {
	return &Handler{storage: store, rules: rules}
}

// Request types
type AlertRequest struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	Expression      string `json:"expression"`
	Severity        string `json:"severity"`
	Active          *bool  `json:"active"`
	CooldownSeconds *int64 `json:"cooldown_seconds"`
	WindowSeconds   int64  `json:"window_seconds"`
}

type ValidateRequest struct {
	Expression string `json:"expression"`
}

// Response types
type AlertResponse struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	Expression      string   `json:"expression"`
	Severity        string   `json:"severity"`
	Active          bool     `json:"active"`
	CooldownSeconds *int64   `json:"cooldown_seconds"`
	WindowSeconds   int64    `json:"window_seconds"`
	ExpressionError string   `json:"expression_error,omitempty"`
	Systems         []string `json:"systems,omitempty"`
	Notifiers       []string `json:"notifiers,omitempty"`
	CreatedAt       string   `json:"created_at"`
	UpdatedAt       string   `json:"updated_at"`
}

type ValidateResponse struct {
	Valid      bool               `json:"valid"`
	Expression string             `json:"expression,omitempty"`
	Clauses    []alerting.Clause  `json:"clauses,omitempty"`
	Fields     []string           `json:"fields,omitempty"`
	NeedsDisk  bool               `json:"needs_disk"`
	Error      *ExpressionProblem `json:"error,omitempty"`
}

// ExpressionProblem locates a parse error for the rule editor.
type ExpressionProblem struct {
	// Clause is zero-based; -1 when the whole expression is at fault.
	Clause  int    `json:"clause"`
	Message string `json:"message"`
}

type HistoryResponse struct {
	ID          string `json:"id"`
	SystemID    string `json:"system_id"`
	AlertRuleID string `json:"alert_rule_id,omitempty"`
	RuleName    string `json:"rule_name"`
	Severity    string `json:"severity"`
	Message     string `json:"message"`
	SourceTime  string `json:"source_time"`
	TriggeredAt string `json:"triggered_at"`
}

type HistoryListResponse struct {
	Items   []*HistoryResponse `json:"items"`
	Total   int64              `json:"total"`
	Page    int                `json:"page"`
	PerPage int                `json:"per_page"`
}

// List returns the caller's alert rules.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rules, err := h.storage.Alerts().ListByOwner(ctx, middleware.GetUserID(ctx))
	if err != nil {
		log.Printf("list alerts error: %v", err)
		internalError(w)
		return
	}

	resp := make([]*AlertResponse, len(rules))
	for i, rule := range rules {
		resp[i] = alertToResponse(rule)
	}
	jsonOK(w, resp)
}

// Create creates a rule. A rule whose expression does not parse is still
// saved; the response carries the parse error and the engine skips it.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req AlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	now := time.Now()
	rule := &models.AlertRule{
		ID:        uuid.New().String(),
		OwnerID:   middleware.GetUserID(ctx),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := applyRequest(rule, &req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	if err := h.storage.Alerts().Create(ctx, rule); err != nil {
		log.Printf("create alert error: %v", err)
		internalError(w)
		return
	}

	log.Printf("alert created: %s (%s)", rule.Name, rule.ID)
	jsonCreated(w, alertToResponse(rule))
}

// GetByID returns a rule with its linked systems and notifiers.
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.ownedRule(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	systems, err := h.storage.Alerts().ListSystems(ctx, rule.ID)
	if err != nil {
		log.Printf("get alert error: list systems: %v", err)
		internalError(w)
		return
	}
	notifiers, err := h.storage.Alerts().ListNotifiers(ctx, rule.ID)
	if err != nil {
		log.Printf("get alert error: list notifiers: %v", err)
		internalError(w)
		return
	}

	resp := alertToResponse(rule)
	resp.Systems = systems
	for _, n := range notifiers {
		resp.Notifiers = append(resp.Notifiers, n.ID)
	}
	jsonOK(w, resp)
}

// Update replaces a rule's editable fields.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.ownedRule(w, r)
	if !ok {
		return
	}

	var req AlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}
	if err := applyRequest(rule, &req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}
	rule.UpdatedAt = time.Now()

	if err := h.storage.Alerts().Update(r.Context(), rule); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			jsonError(w, http.StatusNotFound, errCodeNotFound, "alert not found")
			return
		}
		log.Printf("update alert error: %v", err)
		internalError(w)
		return
	}
	h.forget(rule.ID)

	log.Printf("alert updated: %s (%s)", rule.Name, rule.ID)
	jsonOK(w, alertToResponse(rule))
}

// Delete removes a rule and its links. History rows keep the rule name.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.ownedRule(w, r)
	if !ok {
		return
	}

	if err := h.storage.Alerts().Delete(r.Context(), rule.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Printf("delete alert error: %v", err)
		internalError(w)
		return
	}
	h.forget(rule.ID)

	log.Printf("alert deleted: %s (%s)", rule.Name, rule.ID)
	jsonNoContent(w)
}

// Validate parses an expression without saving anything.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	expr, err := alerting.ParseExpression(req.Expression)
	if err != nil {
		jsonOK(w, ValidateResponse{Valid: false, Error: problem(err)})
		return
	}
	jsonOK(w, ValidateResponse{
		Valid:      true,
		Expression: expr.String(),
		Clauses:    expr.Clauses,
		Fields:     expr.Fields(),
		NeedsDisk:  expr.NeedsDisk(),
	})
}

// AttachSystem links a rule to a system.
func (h *Handler) AttachSystem(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.ownedRule(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	systemID := chi.URLParam(r, "systemID")

	system, err := h.storage.Systems().GetByID(ctx, systemID)
	if err != nil {
		log.Printf("attach system error: get system: %v", err)
		internalError(w)
		return
	}
	if system == nil {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "system not found")
		return
	}

	if err := h.storage.Alerts().AttachSystem(ctx, rule.ID, system.ID); err != nil {
		h.linkError(w, "attach system", err)
		return
	}
	jsonNoContent(w)
}

// DetachSystem unlinks a rule from a system.
func (h *Handler) DetachSystem(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.ownedRule(w, r)
	if !ok {
		return
	}
	if err := h.storage.Alerts().DetachSystem(r.Context(), rule.ID, chi.URLParam(r, "systemID")); err != nil {
		h.linkError(w, "detach system", err)
		return
	}
	jsonNoContent(w)
}

// AttachNotifier links a rule to one of the caller's notifiers.
func (h *Handler) AttachNotifier(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.ownedRule(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	n, err := h.storage.Notifiers().GetByID(ctx, chi.URLParam(r, "notifierID"))
	if err != nil {
		log.Printf("attach notifier error: get notifier: %v", err)
		internalError(w)
		return
	}
	if n == nil || n.OwnerID != rule.OwnerID {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "notifier not found")
		return
	}

	if err := h.storage.Alerts().AttachNotifier(ctx, rule.ID, n.ID); err != nil {
		h.linkError(w, "attach notifier", err)
		return
	}
	jsonNoContent(w)
}

// DetachNotifier unlinks a rule from a notifier.
func (h *Handler) DetachNotifier(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.ownedRule(w, r)
	if !ok {
		return
	}
	if err := h.storage.Alerts().DetachNotifier(r.Context(), rule.ID, chi.URLParam(r, "notifierID")); err != nil {
		h.linkError(w, "detach notifier", err)
		return
	}
	jsonNoContent(w)
}

// History returns the firing history of a rule, most recent first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.ownedRule(w, r)
	if !ok {
		return
	}

	page, perPage := Page(r)
	histories, total, err := h.storage.AlertHistory().ListByAlert(r.Context(), rule.ID, perPage, (page-1)*perPage)
	if err != nil {
		log.Printf("list alert history error: %v", err)
		internalError(w)
		return
	}

	jsonOK(w, NewHistoryList(histories, total, page, perPage))
}

// ownedRule loads the {id} rule and writes a 404 unless the caller owns it.
func (h *Handler) ownedRule(w http.ResponseWriter, r *http.Request) (*models.AlertRule, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "alert id required")
		return nil, false
	}

	ctx := r.Context()
	rule, err := h.storage.Alerts().GetByID(ctx, id)
	if err != nil {
		log.Printf("get alert error: %v", err)
		internalError(w)
		return nil, false
	}
	if rule == nil || rule.OwnerID != middleware.GetUserID(ctx) {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "alert not found")
		return nil, false
	}
	return rule, true
}

func (h *Handler) linkError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "link target not found")
		return
	}
	log.Printf("%s error: %v", op, err)
	internalError(w)
}

func (h *Handler) forget(ruleID string) {
	if h.rules != nil {
		h.rules.Forget(ruleID)
	}
}

func applyRequest(rule *models.AlertRule, req *AlertRequest) error {
	if err := ValidateName(req.Name); err != nil {
		return err
	}
	severity, err := ValidateSeverity(req.Severity)
	if err != nil {
		return err
	}
	if err := ValidateExpression(req.Expression); err != nil {
		return err
	}
	cooldown, err := ValidateCooldown(req.CooldownSeconds)
	if err != nil {
		return err
	}
	window, err := ValidateWindow(req.WindowSeconds)
	if err != nil {
		return err
	}

	rule.Name = strings.TrimSpace(req.Name)
	rule.Description = strings.TrimSpace(req.Description)
	rule.Expression = strings.TrimSpace(req.Expression)
	rule.Severity = severity
	rule.Cooldown = cooldown
	rule.Window = window
	if req.Active != nil {
		rule.Active = *req.Active
	}
	return nil
}

func problem(err error) *ExpressionProblem {
	var pe *alerting.ParseError
	if errors.As(err, &pe) {
		return &ExpressionProblem{Clause: pe.Clause, Message: pe.Error()}
	}
	return &ExpressionProblem{Clause: -1, Message: err.Error()}
}

func alertToResponse(a *models.AlertRule) *AlertResponse {
	resp := &AlertResponse{
		ID:            a.ID,
		Name:          a.Name,
		Description:   a.Description,
		Expression:    a.Expression,
		Severity:      string(a.Severity),
		Active:        a.Active,
		WindowSeconds: int64(a.Window / time.Second),
		CreatedAt:     a.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     a.UpdatedAt.Format(time.RFC3339),
	}
	if a.Cooldown != nil {
		s := int64(*a.Cooldown / time.Second)
		resp.CooldownSeconds = &s
	}
	if _, err := alerting.ParseExpression(a.Expression); err != nil {
		resp.ExpressionError = err.Error()
	}
	return resp
}

// NewHistoryList converts history rows to the paginated response.
func NewHistoryList(histories []*models.AlertHistory, total int64, page, perPage int) HistoryListResponse {
	items := make([]*HistoryResponse, len(histories))
	for i, hist := range histories {
		items[i] = &HistoryResponse{
			ID:          hist.ID,
			SystemID:    hist.SystemID,
			AlertRuleID: hist.AlertRuleID,
			RuleName:    hist.RuleName,
			Severity:    string(hist.Severity),
			Message:     hist.Message,
			SourceTime:  hist.SourceTime.UTC().Format(time.RFC3339),
			TriggeredAt: hist.TriggeredAt.UTC().Format(time.RFC3339),
		}
	}
	return HistoryListResponse{Items: items, Total: total, Page: page, PerPage: perPage}
}
