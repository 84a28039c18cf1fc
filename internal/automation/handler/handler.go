package handler

import (
	"context"
	"net/http"
	"strconv"

	"ai-hotline/internal/apierrors"
	authHandler "ai-hotline/internal/auth/handler"
	"ai-hotline/internal/automation"
	"ai-hotline/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Automations is the subset of *automation.Dispatcher the routes need.
type Automations interface {
	Actions() []automation.ActionInfo
	Execute(ctx context.Context, req automation.ActionRequest) (automation.ActionResult, error)
	Executions(ctx context.Context, tenantID uuid.UUID, limit int) ([]automation.Execution, error)
}

type Handler struct {
	automations Automations
	logger      *observability.Logger
}

func New(automations Automations, logger *observability.Logger) Handler {
	return Handler{automations: automations, logger: logger}
}

type ExecuteRequest struct {
	Action string                 `json:"action" binding:"required"`
	CallID string                 `json:"call_id" binding:"omitempty,uuid"`
	Intent string                 `json:"intent"`
	Params map[string]interface{} `json:"params"`
}

// HandleListActions handles GET /api/v1/automation/actions
func (h *Handler) HandleListActions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"actions": h.automations.Actions()})
}

// HandleExecute handles POST /api/v1/automation/execute
func (h *Handler) HandleExecute(c *gin.Context) {
	tenantID, ok := authHandler.TenantID(c)
	if !ok {
		return
	}
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.RespondWithValidationError(c, err)
		return
	}

	actionReq := automation.ActionRequest{
		TenantID: tenantID,
		Action:   req.Action,
		Intent:   req.Intent,
		Params:   req.Params,
	}
	if actionReq.Intent == "" {
		actionReq.Intent = "manual"
	}
	if req.CallID != "" {
		actionReq.CallID = uuid.MustParse(req.CallID)
	}
	if to, ok := req.Params["to"].(string); ok {
		actionReq.CallerNumber = to
	}

	result, err := h.automations.Execute(c.Request.Context(), actionReq)
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleListExecutions handles GET /api/v1/automation/executions
func (h *Handler) HandleListExecutions(c *gin.Context) {
	tenantID, ok := authHandler.TenantID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	execs, err := h.automations.Executions(c.Request.Context(), tenantID, limit)
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": execs})
}
