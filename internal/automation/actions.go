package automation

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ai-hotline/internal/apperr"
	"ai-hotline/internal/email"
	"ai-hotline/internal/identity"
	"ai-hotline/internal/observability"

	"github.com/google/uuid"
)

const (
	HeaderSignature = "X-Hotline-Signature"
	HeaderTimestamp = "X-Hotline-Timestamp"
)

// Sign returns the webhook signature: hex(hmac_sha256(secret, "<ts>.<payload>")) prefixed with "sha256=".
func Sign(secret string, timestamp int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type WebhookAction struct {
	client *http.Client
	now    func() time.Time
}

func NewWebhookAction(timeout time.Duration) *WebhookAction {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookAction{client: &http.Client{Timeout: timeout}, now: time.Now}
}

func (a *WebhookAction) Name() string { return ActionWebhook }

func (a *WebhookAction) Description() string {
	return "POST a signed JSON event to the tenant's automation webhook"
}

type webhookPayload struct {
	Event      string                 `json:"event"`
	TenantID   uuid.UUID              `json:"tenant_id"`
	CallID     uuid.UUID              `json:"call_id"`
	Intent     string                 `json:"intent"`
	Params     map[string]interface{} `json:"params,omitempty"`
	Transcript string                 `json:"transcript,omitempty"`
	Reply      string                 `json:"reply,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

func (a *WebhookAction) Execute(ctx context.Context, req ActionRequest) (ActionResult, error) {
	url := req.Tenant.SettingString(identity.SettingWebhookURL, "")
	if url == "" {
		return ActionResult{}, permanent(apperr.New(apperr.ActionExecution, "WEBHOOK_NOT_CONFIGURED", "tenant has no automation webhook url"))
	}
	event := req.Param("event")
	if event == "" {
		event = "intent_detected"
	}

	now := a.now().UTC()
	payload, err := json.Marshal(webhookPayload{
		Event:      event,
		TenantID:   req.TenantID,
		CallID:     req.CallID,
		Intent:     req.Intent,
		Params:     req.Params,
		Transcript: req.Transcript,
		Reply:      req.Reply,
		Timestamp:  now,
	})
	if err != nil {
		return ActionResult{}, permanent(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return ActionResult{}, permanent(fmt.Errorf("failed to create webhook request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "AI-Hotline-Webhook/1.0")
	httpReq.Header.Set(HeaderTimestamp, strconv.FormatInt(now.Unix(), 10))
	if secret := req.Tenant.SettingString(identity.SettingWebhookSecret, ""); secret != "" {
		httpReq.Header.Set(HeaderSignature, Sign(secret, now.Unix(), payload))
	}

	start := time.Now()
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return ActionResult{}, fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 10240))

	output := map[string]interface{}{
		"status_code": resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			err = permanent(err)
		}
		return ActionResult{Output: output}, err
	}
	return ActionResult{Status: ResultSuccess, Output: output}, nil
}

// Escalator hands a live call to a human.
type Escalator interface {
	Escalate(ctx context.Context, tenantID, callID uuid.UUID, reason string) error
}

type EscalateAction struct {
	escalator Escalator
}

func NewEscalateAction(escalator Escalator) *EscalateAction {
	return &EscalateAction{escalator: escalator}
}

func (a *EscalateAction) Name() string { return ActionEscalate }

func (a *EscalateAction) Description() string {
	return "flag the call as escalated and raise its priority to urgent"
}

func (a *EscalateAction) Execute(ctx context.Context, req ActionRequest) (ActionResult, error) {
	if req.CallID == uuid.Nil {
		return ActionResult{}, permanent(apperr.Validationf("CALL_REQUIRED", "escalation requires a call id"))
	}
	reason := req.Param("reason")
	if reason == "" {
		reason = req.Intent
	}
	if err := a.escalator.Escalate(ctx, req.TenantID, req.CallID, reason); err != nil {
		return ActionResult{}, permanent(err)
	}
	return ActionResult{Status: ResultSuccess, Output: map[string]interface{}{"escalated": true, "reason": reason}}, nil
}

// SMSSender is satisfied by *sms.TwilioClient.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) (string, error)
}

type SMSAction struct {
	sender SMSSender
}

func NewSMSAction(sender SMSSender) *SMSAction { return &SMSAction{sender: sender} }

func (a *SMSAction) Name() string { return ActionSendSMS }

func (a *SMSAction) Description() string { return "text the caller a follow-up message" }

var defaultSMSBody = map[string]string{
	"ar": "شكراً لاتصالك. سنرسل لك التفاصيل قريباً.",
	"en": "Thanks for calling. We will follow up with the details shortly.",
}

func (a *SMSAction) Execute(ctx context.Context, req ActionRequest) (ActionResult, error) {
	to := req.Param("to")
	if to == "" {
		to = req.CallerNumber
	}
	phone, err := identity.NewPhoneNumber(to)
	if err != nil {
		return ActionResult{}, permanent(err)
	}
	body := req.Param("body")
	if body == "" {
		body = defaultSMSBody[languageKey(req.Language)]
	}
	sid, err := a.sender.SendSMS(ctx, phone.E164(), body)
	if err != nil {
		return ActionResult{}, err
	}
	return ActionResult{Status: ResultSuccess, Output: map[string]interface{}{"message_sid": sid}}, nil
}

// Mailer renders and sends hotline emails. *email.EmailService satisfies it.
type Mailer interface {
	SendWithTemplate(ctx context.Context, to, subject, templateName string, data email.TemplateData) (string, error)
}

type EmailAction struct {
	mailer Mailer
}

func NewEmailAction(mailer Mailer) *EmailAction { return &EmailAction{mailer: mailer} }

func (a *EmailAction) Name() string { return ActionSendEmail }

func (a *EmailAction) Description() string {
	return "email the call summary to the tenant's summary address"
}

func (a *EmailAction) Execute(ctx context.Context, req ActionRequest) (ActionResult, error) {
	to := req.Param("to")
	if to == "" {
		to = req.Tenant.SettingString(identity.SettingSummaryEmail, "")
	}
	addr, err := identity.NewEmail(to)
	if err != nil {
		return ActionResult{}, permanent(apperr.New(apperr.ActionExecution, "SUMMARY_EMAIL_NOT_CONFIGURED", "tenant has no valid summary email"))
	}

	data := email.TemplateData{
		CallID:       req.CallID.String(),
		CallerNumber: req.CallerNumber,
		Intent:       req.Intent,
		Summary:      req.Param("summary"),
	}
	if req.Tenant != nil {
		data.TenantName = req.Tenant.Name.String()
	}
	if data.Summary == "" {
		data.Summary = req.Transcript
	}

	templateName, subject := email.TemplateCallSummary, fmt.Sprintf("Call summary %s", req.CallID)
	if req.Intent != "" && req.Intent != email.TemplateCallSummary {
		templateName, subject = email.TemplateNotification, fmt.Sprintf("Hotline %s on call %s", req.Intent, req.CallID)
	}
	if s := req.Param("subject"); s != "" {
		subject = s
	}

	id, err := a.mailer.SendWithTemplate(ctx, addr.String(), subject, templateName, data)
	if err != nil {
		return ActionResult{}, err
	}
	return ActionResult{Status: ResultSuccess, Output: map[string]interface{}{"email_id": id}}, nil
}

type LogAction struct {
	logger *observability.Logger
}

func NewLogAction(logger *observability.Logger) *LogAction { return &LogAction{logger: logger} }

func (a *LogAction) Name() string { return ActionLogOnly }

func (a *LogAction) Description() string { return "record the detected intent without side effects" }

func (a *LogAction) Execute(ctx context.Context, req ActionRequest) (ActionResult, error) {
	a.logger.Info(ctx, "automation intent recorded",
		observability.Field{Key: "tenant_id", Value: req.TenantID.String()},
		observability.Field{Key: "intent", Value: req.Intent},
	)
	return ActionResult{Status: ResultSuccess, Output: map[string]interface{}{"logged": true}}, nil
}

func languageKey(lang string) string {
	if strings.HasPrefix(strings.ToLower(lang), "ar") {
		return "ar"
	}
	return "en"
}
