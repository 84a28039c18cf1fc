package handler

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"ai-hotline/internal/apierrors"
	authHandler "ai-hotline/internal/auth/handler"
	"ai-hotline/internal/calls"
	"ai-hotline/internal/calls/orchestrator"
	"ai-hotline/internal/calls/processor"
	"ai-hotline/internal/observability"
	"ai-hotline/internal/voice/audio"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const maxTurnAudioBytes = 10 << 20

// CallService is the subset of *processor.CallProcessor the routes need.
type CallService interface {
	StartCall(ctx context.Context, req processor.StartCallRequest) (processor.StartCallResult, error)
	ProcessTurn(ctx context.Context, in orchestrator.TurnInput) (orchestrator.TurnOutput, error)
	EndCall(ctx context.Context, tenantID, callID uuid.UUID, reason string) (*calls.Call, error)
	GetCall(ctx context.Context, tenantID, callID uuid.UUID) (*calls.Call, error)
	ListCalls(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*calls.Call, error)
	SubmitFeedback(ctx context.Context, tenantID, callID uuid.UUID, fb processor.Feedback) (*calls.Call, error)
}

type Handler struct {
	calls  CallService
	logger *observability.Logger
}

func New(calls CallService, logger *observability.Logger) Handler {
	return Handler{calls: calls, logger: logger}
}

type StartCallRequest struct {
	CallerNumber string `json:"caller_number" binding:"required"`
	Direction    string `json:"direction" binding:"omitempty,oneof=inbound outbound"`
	Priority     string `json:"priority" binding:"omitempty,oneof=low normal high urgent"`
	Language     string `json:"language"`
}

type StartCallResponse struct {
	Call        *calls.Call `json:"call"`
	Greeting    string      `json:"greeting"`
	AudioBase64 string      `json:"audio_base64,omitempty"`
	AudioFormat string      `json:"audio_format,omitempty"`
}

type TurnRequest struct {
	Text        string `json:"text"`
	AudioBase64 string `json:"audio_base64"`
	Format      string `json:"format"`
	Language    string `json:"language"`
}

type TurnResponse struct {
	orchestrator.TurnOutput
	AudioBase64 string `json:"audio_base64,omitempty"`
}

type EndCallRequest struct {
	Reason string `json:"reason"`
}

type FeedbackRequest struct {
	Score    *int   `json:"satisfaction_score" binding:"omitempty,min=0,max=5"`
	Resolved bool   `json:"resolved"`
	Notes    string `json:"notes" binding:"max=2000"`
}

// HandleStartCall handles POST /api/v1/calls
func (h *Handler) HandleStartCall(c *gin.Context) {
	tenantID, ok := authHandler.TenantID(c)
	if !ok {
		return
	}
	var req StartCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.RespondWithValidationError(c, err)
		return
	}

	res, err := h.calls.StartCall(c.Request.Context(), processor.StartCallRequest{
		TenantID:     tenantID,
		CallerNumber: req.CallerNumber,
		Direction:    req.Direction,
		Priority:     req.Priority,
		Language:     req.Language,
	})
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	resp := StartCallResponse{Call: res.Call, Greeting: res.Greeting.Text, AudioFormat: res.Greeting.AudioFormat}
	if len(res.Greeting.Audio) > 0 {
		resp.AudioBase64 = audio.BytesToBase64(res.Greeting.Audio)
	}
	c.JSON(http.StatusCreated, resp)
}

// HandleListCalls handles GET /api/v1/calls?limit=&offset=
func (h *Handler) HandleListCalls(c *gin.Context) {
	tenantID, ok := authHandler.TenantID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	list, err := h.calls.ListCalls(c.Request.Context(), tenantID, limit, offset)
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	summaries := make([]calls.CallSummary, 0, len(list))
	for _, call := range list {
		summaries = append(summaries, call.Summary())
	}
	c.JSON(http.StatusOK, gin.H{"calls": summaries, "total": len(summaries), "limit": limit, "offset": offset})
}

// HandleGetCall handles GET /api/v1/calls/:id
func (h *Handler) HandleGetCall(c *gin.Context) {
	tenantID, callID, ok := h.ids(c)
	if !ok {
		return
	}
	call, err := h.calls.GetCall(c.Request.Context(), tenantID, callID)
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

// HandleGetTranscript handles GET /api/v1/calls/:id/transcript
func (h *Handler) HandleGetTranscript(c *gin.Context) {
	tenantID, callID, ok := h.ids(c)
	if !ok {
		return
	}
	call, err := h.calls.GetCall(c.Request.Context(), tenantID, callID)
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"call_id":    call.ID,
		"segments":   call.Transcript,
		"transcript": call.FullTranscript(),
	})
}

// HandleTurn handles POST /api/v1/calls/:id/turns. The body is multipart with an audio file,
// or JSON with text or base64 audio.
func (h *Handler) HandleTurn(c *gin.Context) {
	tenantID, callID, ok := h.ids(c)
	if !ok {
		return
	}
	in := orchestrator.TurnInput{TenantID: tenantID, CallID: callID, OutputFormat: orchestrator.FormatMP3}

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		file, err := c.FormFile("audio")
		if err != nil {
			apierrors.RespondWithError(c, apierrors.BadRequest("INVALID_INPUT", "An audio file is required"))
			return
		}
		if file.Size > maxTurnAudioBytes {
			apierrors.RespondWithError(c, apierrors.BadRequest("FILE_TOO_LARGE", "Audio exceeds the maximum upload size"))
			return
		}
		f, err := file.Open()
		if err != nil {
			apierrors.RespondWithError(c, apierrors.BadRequest("INVALID_INPUT", "Unable to read audio file"))
			return
		}
		defer f.Close()
		if in.Audio, err = io.ReadAll(f); err != nil {
			h.logger.Error(c.Request.Context(), "failed to read turn audio", err)
			apierrors.RespondWithError(c, apierrors.BadRequest("INVALID_INPUT", "Unable to read audio file"))
			return
		}
		in.AudioFormat = c.PostForm("format")
		if in.AudioFormat == "" {
			in.AudioFormat = strings.TrimPrefix(strings.ToLower(filepath.Ext(file.Filename)), ".")
		}
		in.Language = c.PostForm("language")
	} else {
		var req TurnRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierrors.RespondWithValidationError(c, err)
			return
		}
		if req.AudioBase64 != "" {
			data, err := audio.Base64ToBytes(req.AudioBase64)
			if err != nil {
				apierrors.RespondWithError(c, apierrors.BadRequest("INVALID_AUDIO", "audio_base64 is not valid base64"))
				return
			}
			in.Audio = data
			in.AudioFormat = req.Format
		}
		in.Text = req.Text
		in.Language = req.Language
	}

	out, err := h.calls.ProcessTurn(c.Request.Context(), in)
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	resp := TurnResponse{TurnOutput: out}
	if len(out.Audio) > 0 {
		resp.AudioBase64 = audio.BytesToBase64(out.Audio)
	}
	c.JSON(http.StatusOK, resp)
}

// HandleEndCall handles POST /api/v1/calls/:id/end
func (h *Handler) HandleEndCall(c *gin.Context) {
	tenantID, callID, ok := h.ids(c)
	if !ok {
		return
	}
	var req EndCallRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			apierrors.RespondWithValidationError(c, err)
			return
		}
	}
	call, err := h.calls.EndCall(c.Request.Context(), tenantID, callID, req.Reason)
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, call.Summary())
}

// HandleFeedback handles POST /api/v1/calls/:id/feedback
func (h *Handler) HandleFeedback(c *gin.Context) {
	tenantID, callID, ok := h.ids(c)
	if !ok {
		return
	}
	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.RespondWithValidationError(c, err)
		return
	}
	call, err := h.calls.SubmitFeedback(c.Request.Context(), tenantID, callID, processor.Feedback{
		Score:    req.Score,
		Resolved: req.Resolved,
		Notes:    req.Notes,
	})
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, call.Summary())
}

func (h *Handler) ids(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	tenantID, ok := authHandler.TenantID(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		apierrors.RespondWithError(c, apierrors.BadRequest("INVALID_INPUT", "Invalid call ID format"))
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, callID, true
}
