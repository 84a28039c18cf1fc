package handler

import (
	"context"
	"net/http"
	"strings"

	"ai-hotline/internal/apierrors"
	"ai-hotline/internal/observability"
	"ai-hotline/internal/voicecall/processor"
	"ai-hotline/internal/voicecall/twilio"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	twilioclient "github.com/twilio/twilio-go/client"
	"github.com/twilio/twilio-go/twiml"
)

const connectingMessage = "Please hold while we connect you."

type Handler struct {
	voiceProcessor *processor.VoiceCallProcessor
	validator      *twilioclient.RequestValidator
	publicBaseURL  string
	logger         *observability.Logger
}

// New builds the telephony handler. Webhook signatures are only checked when authToken is set.
func New(voiceProcessor *processor.VoiceCallProcessor, authToken, publicBaseURL string, logger *observability.Logger) Handler {
	h := Handler{
		voiceProcessor: voiceProcessor,
		publicBaseURL:  strings.TrimRight(publicBaseURL, "/"),
		logger:         logger,
	}
	if authToken != "" {
		v := twilioclient.NewRequestValidator(authToken)
		h.validator = &v
	}
	return h
}

// Media streams come from Twilio, not a browser.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (h *Handler) baseURL(c *gin.Context) string {
	if h.publicBaseURL != "" {
		return h.publicBaseURL
	}
	scheme := "http"
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}

func (h *Handler) validSignature(c *gin.Context) bool {
	if h.validator == nil {
		return true
	}
	if err := c.Request.ParseForm(); err != nil {
		return false
	}
	params := make(map[string]string, len(c.Request.PostForm))
	for k := range c.Request.PostForm {
		params[k] = c.Request.PostForm.Get(k)
	}
	return h.validator.Validate(h.baseURL(c)+c.Request.URL.RequestURI(), params, c.GetHeader("X-Twilio-Signature"))
}

// validStreamSignature checks the websocket upgrade. Twilio signs the stream URL from the TwiML,
// which carries no form parameters.
func (h *Handler) validStreamSignature(c *gin.Context) bool {
	if h.validator == nil {
		return true
	}
	signature := c.GetHeader("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	httpURL := h.baseURL(c) + c.Request.URL.RequestURI()
	for _, u := range []string{webSocketURL(httpURL), httpURL} {
		if h.validator.Validate(u, map[string]string{}, signature) {
			return true
		}
	}
	return false
}

func webSocketURL(u string) string {
	return strings.Replace(strings.Replace(u, "https://", "wss://", 1), "http://", "ws://", 1)
}

// HandleVoice handles POST /api/v1/telephony/:tenant_id/voice, Twilio's incoming call webhook.
func (h *Handler) HandleVoice(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID, err := uuid.Parse(c.Param("tenant_id"))
	if err != nil {
		apierrors.RespondWithError(c, apierrors.BadRequest("INVALID_INPUT", "Invalid tenant ID format"))
		return
	}
	if !h.validSignature(c) {
		h.logger.Warn(ctx, "rejected telephony webhook with invalid signature",
			observability.Field{Key: "tenant_id", Value: tenantID.String()})
		apierrors.RespondWithError(c, apierrors.Forbidden("Invalid Twilio signature"))
		return
	}

	streamURL := webSocketURL(h.baseURL(c) + "/api/v1/telephony/" + tenantID.String() + "/stream")

	say := &twiml.VoiceSay{Message: connectingMessage}
	stream := twiml.VoiceStream{
		Name: "hotline-" + c.PostForm("CallSid"),
		Url:  streamURL,
		InnerElements: []twiml.Element{
			twiml.VoiceParameter{Name: "from", Value: c.PostForm("From")},
		},
	}
	connect := twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}

	twimlResult, err := twiml.Voice([]twiml.Element{say, connect})
	if err != nil {
		apierrors.RespondWithError(c, err)
		return
	}
	h.logger.Info(ctx, "answered incoming call",
		observability.Field{Key: "tenant_id", Value: tenantID.String()},
		observability.Field{Key: "call_sid", Value: c.PostForm("CallSid")},
	)
	c.Header("Content-Type", "text/xml")
	c.String(http.StatusOK, twimlResult)
}

// HandleStream handles GET /api/v1/telephony/:tenant_id/stream, the Media Streams websocket.
func (h *Handler) HandleStream(c *gin.Context) {
	tenantID, err := uuid.Parse(c.Param("tenant_id"))
	if err != nil {
		apierrors.RespondWithError(c, apierrors.BadRequest("INVALID_INPUT", "Invalid tenant ID format"))
		return
	}
	ctx := observability.WithFields(c.Request.Context(), observability.Field{Key: "tenant_id", Value: tenantID.String()})
	if !h.validStreamSignature(c) {
		h.logger.Warn(ctx, "rejected media stream with invalid signature")
		apierrors.RespondWithError(c, apierrors.Forbidden("Invalid Twilio signature"))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error(ctx, "WebSocket upgrade failed", err)
		return
	}

	stream := twilio.NewMediaStream(conn, h.logger)
	defer stream.Close()

	session := h.voiceProcessor.NewSession(tenantID, stream)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := stream.Serve(ctx, session); err != nil {
		h.logger.WarnWithError(ctx, "media stream ended with error", err)
	}
	h.logger.Info(ctx, "phone session ended", observability.Field{Key: "call_id", Value: session.CallID().String()})
}
