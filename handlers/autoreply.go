package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hardian-n/otomatisin/authz"
	"github.com/hardian-n/otomatisin/db"
	"github.com/hardian-n/otomatisin/internal/dispatch"
	"github.com/hardian-n/otomatisin/internal/logger"
	"github.com/hardian-n/otomatisin/services"
)

type AutoreplyHandler struct {
	autoreplyService *services.AutoreplyService
}

func NewAutoreplyHandler(autoreplyService *services.AutoreplyService) *AutoreplyHandler {
	return &AutoreplyHandler{autoreplyService: autoreplyService}
}

// respondError maps service errors onto status codes
func respondError(c *gin.Context, action string, err error) {
	var unknownChannel *dispatch.UnknownChannelError
	var configErr *dispatch.ConfigError

	switch {
	case errors.Is(err, services.ErrRuleNotFound), errors.Is(err, services.ErrIntegrationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrNotTelegram), errors.Is(err, services.ErrNotThreads),
		errors.Is(err, services.ErrInvalidTelegramChat):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &unknownChannel), errors.As(err, &configErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		logger.Errorf("%s: %v", action, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to " + action,
			"details": err.Error(),
		})
	}
}

// Evaluate handles POST /v1/autoreply/evaluate
func (h *AutoreplyHandler) Evaluate(c *gin.Context) {
	var req db.EvaluateAutoreplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.autoreplyService.Evaluate(c.Request.Context(), req.Input(authz.OrgID(c)))
	if err != nil {
		respondError(c, "evaluate message", err)
		return
	}

	c.JSON(http.StatusOK, db.NewEvaluateAutoreplyResponse(result))
}

// Test handles POST /api/autoreply/test. The organization comes from the body.
func (h *AutoreplyHandler) Test(c *gin.Context) {
	var req db.TestAutoreplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.autoreplyService.EvaluateTest(c.Request.Context(), req.Input(req.OrgID))
	if err != nil {
		respondError(c, "test rules", err)
		return
	}

	c.JSON(http.StatusOK, db.NewEvaluateAutoreplyResponse(result))
}

// ListRules handles GET /v1/autoreply/rules?channel=
func (h *AutoreplyHandler) ListRules(c *gin.Context) {
	rules, err := h.autoreplyService.ListRules(c.Request.Context(), authz.OrgID(c), c.Query("channel"))
	if err != nil {
		respondError(c, "list rules", err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

func (h *AutoreplyHandler) GetRule(c *gin.Context) {
	rule, err := h.autoreplyService.GetRule(c.Request.Context(), c.Param("id"), authz.OrgID(c))
	if err != nil {
		respondError(c, "get rule", err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *AutoreplyHandler) CreateRule(c *gin.Context) {
	var req db.CreateAutoreplyRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule, err := h.autoreplyService.CreateRule(c.Request.Context(), authz.OrgID(c), req)
	if err != nil {
		respondError(c, "create rule", err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h *AutoreplyHandler) UpdateRule(c *gin.Context) {
	var req db.UpdateAutoreplyRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule, err := h.autoreplyService.UpdateRule(c.Request.Context(), c.Param("id"), authz.OrgID(c), req)
	if err != nil {
		respondError(c, "update rule", err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeleteRule answers {"deleted": false} with 404 when the rule does not exist in the organization
func (h *AutoreplyHandler) DeleteRule(c *gin.Context) {
	err := h.autoreplyService.DeleteRule(c.Request.Context(), c.Param("id"), authz.OrgID(c))
	if errors.Is(err, services.ErrRuleNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"deleted": false})
		return
	}
	if err != nil {
		respondError(c, "delete rule", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
