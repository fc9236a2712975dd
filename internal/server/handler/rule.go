package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradetrigger/internal/domain"
)

// RuleHandler serves rule CRUD endpoints. It talks to the rule store
// directly; rule persistence has no business logic beyond validation, which
// lives here at the API boundary.
type RuleHandler struct {
	rules  domain.RuleStore
	logger *slog.Logger
}

// NewRuleHandler creates a RuleHandler with the given store and logger.
func NewRuleHandler(rules domain.RuleStore, logger *slog.Logger) *RuleHandler {
	return &RuleHandler{
		rules:  rules,
		logger: logger,
	}
}

// createRuleRequest is the JSON body accepted by CreateRule.
type createRuleRequest struct {
	UserID      string           `json:"userId"`
	Name        string           `json:"name"`
	Platform    domain.Platform  `json:"platform"`
	MarketID    string           `json:"marketId"`
	Condition   domain.Condition `json:"condition"`
	Action      domain.Action    `json:"action"`
	MaxTriggers *int             `json:"maxTriggers,omitempty"`
}

func (req *createRuleRequest) validate() error {
	switch {
	case req.UserID == "":
		return errors.New("userId is required")
	case !req.Platform.Valid():
		return errors.New("platform must be polymarket or kalshi")
	case req.MarketID == "":
		return errors.New("marketId is required")
	}

	switch req.Condition.Field {
	case domain.FieldProbability, domain.FieldPrice, domain.FieldROI:
	default:
		return errors.New("condition.field must be probability, price, or roi")
	}
	if !req.Condition.Operator.Valid() {
		return errors.New("condition.operator is not a recognised comparison")
	}
	if req.Condition.CooldownMinutes < 0 {
		return errors.New("condition.cooldownMinutes must not be negative")
	}

	switch req.Action.Type {
	case domain.ActionBuy, domain.ActionSell:
	default:
		return errors.New("action.type must be buy or sell")
	}
	if req.Action.Amount <= 0 {
		return errors.New("action.amount must be positive")
	}
	if req.Action.Price != nil && (*req.Action.Price <= 0 || *req.Action.Price >= 1) {
		return errors.New("action.price must be in (0, 1)")
	}

	if req.MaxTriggers != nil && *req.MaxTriggers <= 0 {
		return errors.New("maxTriggers must be positive when set")
	}
	return nil
}

// CreateRule creates a new active rule from the JSON body.
// POST /api/rules
func (h *RuleHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	rule := domain.Rule{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Name:        req.Name,
		Platform:    req.Platform,
		MarketID:    req.MarketID,
		Condition:   req.Condition,
		Action:      req.Action,
		IsActive:    true,
		MaxTriggers: req.MaxTriggers,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.rules.Create(r.Context(), rule); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create rule failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create rule")
		return
	}

	writeJSON(w, http.StatusCreated, rule)
}

// listRulesResponse wraps the list endpoint output.
type listRulesResponse struct {
	Rules []domain.Rule `json:"rules"`
}

// ListRules returns a user's rules with pagination.
// GET /api/rules?userId=u1&limit=50&offset=0
func (h *RuleHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId query parameter required")
		return
	}

	rules, err := h.rules.ListByUser(r.Context(), userID, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list rules failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}
	if rules == nil {
		rules = []domain.Rule{}
	}

	writeJSON(w, http.StatusOK, listRulesResponse{Rules: rules})
}

// GetRule returns a single rule by its ID.
// GET /api/rules/{id}
func (h *RuleHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing rule id")
		return
	}

	rule, err := h.rules.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get rule failed",
			slog.String("rule_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get rule")
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// DeactivateRule flips a rule's active flag off without deleting it. The
// rule and its trigger history remain queryable.
// POST /api/rules/{id}/deactivate
func (h *RuleHandler) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing rule id")
		return
	}

	if err := h.rules.Deactivate(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: deactivate rule failed",
			slog.String("rule_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to deactivate rule")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "deactivated",
		"rule_id": id,
	})
}

// DeleteRule removes a rule permanently.
// DELETE /api/rules/{id}
func (h *RuleHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing rule id")
		return
	}

	if err := h.rules.Delete(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: delete rule failed",
			slog.String("rule_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to delete rule")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "deleted",
		"rule_id": id,
	})
}
