package calls

import (
	"fmt"
	"strings"
	"time"

	"ai-hotline/internal/apperr"
	"ai-hotline/internal/identity"

	"github.com/google/uuid"
)

type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in_progress"
	StatusOnHold     Status = "on_hold"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(s)); d {
	case "":
		return Inbound, nil
	case Inbound, Outbound:
		return d, nil
	}
	return "", apperr.Validationf("INVALID_DIRECTION", "unknown call direction: %s", s)
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(s)); p {
	case "":
		return PriorityNormal, nil
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return p, nil
	}
	return "", apperr.Validationf("INVALID_PRIORITY", "unknown call priority: %s", s)
}

const (
	SpeakerCaller = "caller"
	SpeakerAI     = "ai"
	SpeakerSystem = "system"
)

const MaxSatisfactionScore = 5

var (
	ErrCallNotStartable = apperr.New(apperr.InvalidOperation, "CALL_NOT_STARTABLE", "call can only be started from the initiated state")
	ErrCallEnded        = apperr.New(apperr.InvalidOperation, "CALL_ALREADY_ENDED", "call has already ended")
	ErrInvalidScore     = apperr.New(apperr.BusinessRule, "INVALID_SATISFACTION_SCORE", "satisfaction score must be between 0 and 5")
)

type TranscriptSegment struct {
	Speaker    string    `json:"speaker"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence,omitempty"`
	At         time.Time `json:"at"`
}

type LLMResponse struct {
	Text     string    `json:"text"`
	Provider string    `json:"provider"`
	At       time.Time `json:"at"`
}

// Call is the durable record of one conversation. It is not safe for concurrent use; the owning
// session serialises access.
type Call struct {
	ID                   uuid.UUID              `json:"id"`
	TenantID             uuid.UUID              `json:"tenant_id"`
	CallerNumber         identity.PhoneNumber   `json:"caller_number"`
	Direction            Direction              `json:"direction"`
	Priority             Priority               `json:"priority"`
	Status               Status                 `json:"status"`
	Language             string                 `json:"language"`
	SessionID            string                 `json:"session_id,omitempty"`
	StartedAt            *time.Time             `json:"started_at,omitempty"`
	EndedAt              *time.Time             `json:"ended_at,omitempty"`
	DurationSeconds      float64                `json:"duration_seconds"`
	AudioFiles           []string               `json:"audio_files"`
	Transcript           []TranscriptSegment    `json:"transcript"`
	LLMResponses         []LLMResponse          `json:"llm_responses"`
	ContextData          map[string]interface{} `json:"context_data"`
	TriggeredAutomations []string               `json:"triggered_automations"`
	SatisfactionScore    *int                   `json:"satisfaction_score,omitempty"`
	Resolved             bool                   `json:"resolved"`
	ResolutionNotes      string                 `json:"resolution_notes,omitempty"`
	ErrorMessages        []string               `json:"error_messages"`
	EndReason            string                 `json:"end_reason,omitempty"`
	CreatedAt            time.Time              `json:"created_at"`
	UpdatedAt            time.Time              `json:"updated_at"`
}

func NewCall(tenantID uuid.UUID, caller identity.PhoneNumber, direction Direction, priority Priority, language string) *Call {
	now := time.Now().UTC()
	return &Call{
		ID:                   uuid.New(),
		TenantID:             tenantID,
		CallerNumber:         caller,
		Direction:            direction,
		Priority:             priority,
		Status:               StatusInitiated,
		Language:             language,
		AudioFiles:           []string{},
		Transcript:           []TranscriptSegment{},
		LLMResponses:         []LLMResponse{},
		ContextData:          map[string]interface{}{},
		TriggeredAutomations: []string{},
		ErrorMessages:        []string{},
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

func (c *Call) touch() { c.UpdatedAt = time.Now().UTC() }

func (c *Call) Ring() error {
	if c.Status != StatusInitiated {
		return apperr.New(apperr.InvalidOperation, "CALL_NOT_RINGABLE", "only an initiated call can ring")
	}
	c.Status = StatusRinging
	c.touch()
	return nil
}

// Start binds the call to its session and moves it to in_progress.
func (c *Call) Start(sessionID string) error {
	if c.Status != StatusInitiated && c.Status != StatusRinging {
		return ErrCallNotStartable
	}
	now := time.Now().UTC()
	c.Status = StatusInProgress
	c.SessionID = sessionID
	c.StartedAt = &now
	c.touch()
	return nil
}

func (c *Call) Hold() error {
	if c.Status != StatusInProgress {
		return apperr.New(apperr.InvalidOperation, "CALL_NOT_IN_PROGRESS", "only a call in progress can be put on hold")
	}
	c.Status = StatusOnHold
	c.touch()
	return nil
}

func (c *Call) Resume() error {
	if c.Status != StatusOnHold {
		return apperr.New(apperr.InvalidOperation, "CALL_NOT_ON_HOLD", "only a call on hold can be resumed")
	}
	c.Status = StatusInProgress
	c.touch()
	return nil
}

// End finishes the call. The reason decides the final status: anything mentioning an error fails
// the call, anything mentioning a cancel cancels it.
func (c *Call) End(reason string) error {
	if c.IsCompleted() {
		return ErrCallEnded
	}
	now := time.Now().UTC()
	c.EndedAt = &now
	if c.StartedAt != nil {
		c.DurationSeconds = now.Sub(*c.StartedAt).Seconds()
	}
	c.EndReason = reason

	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "error"):
		c.Status = StatusFailed
		c.ErrorMessages = append(c.ErrorMessages, reason)
	case strings.Contains(lower, "cancel"):
		c.Status = StatusCancelled
	default:
		c.Status = StatusCompleted
	}
	c.touch()
	return nil
}

func (c *Call) AddAudioFile(path string) {
	for _, f := range c.AudioFiles {
		if f == path {
			return
		}
	}
	c.AudioFiles = append(c.AudioFiles, path)
	c.touch()
}

func (c *Call) AddTranscriptSegment(speaker, text string, confidence float64) {
	c.Transcript = append(c.Transcript, TranscriptSegment{
		Speaker:    speaker,
		Text:       text,
		Confidence: confidence,
		At:         time.Now().UTC(),
	})
	c.touch()
}

func (c *Call) AddLLMResponse(text, provider string) {
	c.LLMResponses = append(c.LLMResponses, LLMResponse{Text: text, Provider: provider, At: time.Now().UTC()})
	c.touch()
}

func (c *Call) AddError(msg string) {
	c.ErrorMessages = append(c.ErrorMessages, msg)
	c.touch()
}

func (c *Call) SetContext(key string, value interface{}) {
	if c.ContextData == nil {
		c.ContextData = map[string]interface{}{}
	}
	c.ContextData[key] = value
	c.touch()
}

func (c *Call) Context(key string) (interface{}, bool) {
	v, ok := c.ContextData[key]
	return v, ok
}

// TriggerAutomation records an automation once and reports whether it was new.
func (c *Call) TriggerAutomation(name string) bool {
	for _, a := range c.TriggeredAutomations {
		if a == name {
			return false
		}
	}
	c.TriggeredAutomations = append(c.TriggeredAutomations, name)
	c.touch()
	return true
}

func (c *Call) SetSatisfaction(score int) error {
	if score < 0 || score > MaxSatisfactionScore {
		return ErrInvalidScore
	}
	c.SatisfactionScore = &score
	c.touch()
	return nil
}

func (c *Call) MarkResolved(notes string) {
	c.Resolved = true
	c.ResolutionNotes = notes
	c.touch()
}

// FullTranscript renders the transcript as "speaker: text" lines.
func (c *Call) FullTranscript() string {
	lines := make([]string, len(c.Transcript))
	for i, s := range c.Transcript {
		lines[i] = s.Speaker + ": " + s.Text
	}
	return strings.Join(lines, "\n")
}

func (c *Call) IsActive() bool {
	switch c.Status {
	case StatusRinging, StatusInProgress, StatusOnHold:
		return true
	}
	return false
}

func (c *Call) IsCompleted() bool {
	switch c.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

type CallSummary struct {
	ID                   uuid.UUID `json:"id"`
	Status               Status    `json:"status"`
	Direction            Direction `json:"direction"`
	Priority             Priority  `json:"priority"`
	Language             string    `json:"language"`
	DurationSeconds      float64   `json:"duration_seconds"`
	Turns                int       `json:"turns"`
	TriggeredAutomations []string  `json:"triggered_automations"`
	Resolved             bool      `json:"resolved"`
	EndReason            string    `json:"end_reason,omitempty"`
}

func (c *Call) Summary() CallSummary {
	turns := 0
	for _, s := range c.Transcript {
		if s.Speaker == SpeakerCaller {
			turns++
		}
	}
	return CallSummary{
		ID:                   c.ID,
		Status:               c.Status,
		Direction:            c.Direction,
		Priority:             c.Priority,
		Language:             c.Language,
		DurationSeconds:      c.DurationSeconds,
		Turns:                turns,
		TriggeredAutomations: append([]string(nil), c.TriggeredAutomations...),
		Resolved:             c.Resolved,
		EndReason:            c.EndReason,
	}
}

// SummaryText is the plain-text digest used in summary emails.
func (c *Call) SummaryText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Call %s from %s\n", c.ID, c.CallerNumber)
	fmt.Fprintf(&b, "Status: %s (%s)\n", c.Status, c.EndReason)
	fmt.Fprintf(&b, "Duration: %.0fs\n", c.DurationSeconds)
	if len(c.TriggeredAutomations) > 0 {
		fmt.Fprintf(&b, "Automations: %s\n", strings.Join(c.TriggeredAutomations, ", "))
	}
	b.WriteString("\n")
	b.WriteString(c.FullTranscript())
	return b.String()
}
