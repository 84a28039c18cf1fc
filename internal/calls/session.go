package calls

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type SessionState string

const (
	StateInitializing       SessionState = "initializing"
	StateWaitingForCaller   SessionState = "waiting_for_caller"
	StateListening          SessionState = "listening"
	StateProcessing         SessionState = "processing"
	StateSpeaking           SessionState = "speaking"
	StateWaitingForResponse SessionState = "waiting_for_response"
	StateEnding             SessionState = "ending"
	StateEnded              SessionState = "ended"
	StateError              SessionState = "error"
)

type TurnOwner string

const (
	TurnCaller TurnOwner = "caller"
	TurnAI     TurnOwner = "ai"
	TurnSystem TurnOwner = "system"
)

const (
	EntryUserInput  = "user_input"
	EntryAIResponse = "ai_response"
	EntrySystem     = "system"
	EntryError      = "error"
)

const DefaultMaxErrors = 3

type StateChange struct {
	From SessionState `json:"from"`
	To   SessionState `json:"to"`
	At   time.Time    `json:"at"`
}

type Entry struct {
	Type       string    `json:"type"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	At         time.Time `json:"at"`
}

// Session is the live, in-memory side of a call. All methods are safe for concurrent use.
type Session struct {
	mu sync.Mutex

	id           string
	callID       uuid.UUID
	tenantID     uuid.UUID
	language     string
	state        SessionState
	turn         TurnOwner
	history      []StateChange
	conversation []Entry
	errors       []string
	pending      map[string]string
	maxErrors    int
	createdAt    time.Time
	lastActivity time.Time
}

func NewSession(callID, tenantID uuid.UUID, language string) *Session {
	now := time.Now().UTC()
	return &Session{
		id:           uuid.NewString(),
		callID:       callID,
		tenantID:     tenantID,
		language:     language,
		state:        StateInitializing,
		turn:         TurnAI,
		pending:      map[string]string{},
		maxErrors:    DefaultMaxErrors,
		createdAt:    now,
		lastActivity: now,
	}
}

func (s *Session) ID() string          { return s.id }
func (s *Session) CallID() uuid.UUID   { return s.callID }
func (s *Session) TenantID() uuid.UUID { return s.tenantID }
func (s *Session) Language() string    { return s.language }

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Turn() TurnOwner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turn
}

func (s *Session) ChangeState(to SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changeState(to)
}

// changeState never leaves StateEnded.
func (s *Session) changeState(to SessionState) {
	if s.state == to || s.state == StateEnded {
		return
	}
	now := time.Now().UTC()
	s.history = append(s.history, StateChange{From: s.state, To: to, At: now})
	s.state = to
	s.lastActivity = now
}

func (s *Session) StartRecording() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEnded {
		return
	}
	s.changeState(StateListening)
	s.turn = TurnCaller
}

func (s *Session) StopRecording() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateListening {
		s.changeState(StateProcessing)
	}
}

func (s *Session) StartPlaying() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEnded {
		return
	}
	s.changeState(StateSpeaking)
	s.turn = TurnAI
}

func (s *Session) StopPlaying() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateEnded {
		return
	}
	s.changeState(StateWaitingForResponse)
	s.turn = TurnCaller
}

func (s *Session) AddUserInput(text string, confidence float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	s.conversation = append(s.conversation, Entry{Type: EntryUserInput, Text: text, Confidence: confidence, At: now})
	s.lastActivity = now
	if s.state == StateListening {
		s.changeState(StateProcessing)
	}
}

func (s *Session) AddAIResponse(text, provider string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	s.conversation = append(s.conversation, Entry{Type: EntryAIResponse, Text: text, Provider: provider, At: now})
	s.lastActivity = now
}

func (s *Session) AddSystemMessage(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversation = append(s.conversation, Entry{Type: EntrySystem, Text: text, At: time.Now().UTC()})
}

// AddError records a failure. Once the session has seen maxErrors of them it moves to the error
// state, and AddError reports true.
func (s *Session) AddError(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := err.Error()
	s.errors = append(s.errors, msg)
	s.conversation = append(s.conversation, Entry{Type: EntryError, Text: msg, At: time.Now().UTC()})
	if len(s.errors) >= s.maxErrors {
		s.changeState(StateError)
		return true
	}
	return false
}

func (s *Session) ErrorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errors)
}

func (s *Session) SetMaxErrors(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxErrors = n
}

// SetPending tracks an in-flight provider request of kind (stt, llm, tts).
func (s *Session) SetPending(kind, requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[kind] = requestID
}

func (s *Session) ClearPending(kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, kind)
}

func (s *Session) Pending() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.pending))
	for k, v := range s.pending {
		out[k] = v
	}
	return out
}

func (s *Session) IsExpired(now time.Time, maxDuration time.Duration) bool {
	if maxDuration <= 0 {
		return false
	}
	return now.Sub(s.createdAt) > maxDuration
}

func (s *Session) IsIdle(now time.Time, silenceTimeout time.Duration) bool {
	if silenceTimeout <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity) > silenceTimeout
}

func (s *Session) IsEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateEnded
}

// ConversationContext returns the last maxTurns caller and AI entries, oldest first.
func (s *Session) ConversationContext(maxTurns int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.conversation {
		if e.Type == EntryUserInput || e.Type == EntryAIResponse {
			out = append(out, e)
		}
	}
	if maxTurns > 0 && len(out) > maxTurns {
		out = out[len(out)-maxTurns:]
	}
	return out
}

func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = map[string]string{}
	s.changeState(StateEnded)
}

type SessionSummary struct {
	ID           string        `json:"id"`
	CallID       uuid.UUID     `json:"call_id"`
	TenantID     uuid.UUID     `json:"tenant_id"`
	Language     string        `json:"language"`
	State        SessionState  `json:"state"`
	Turn         TurnOwner     `json:"turn"`
	Entries      int           `json:"entries"`
	Errors       []string      `json:"errors"`
	History      []StateChange `json:"history"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActivity time.Time     `json:"last_activity"`
}

// Summary is a point-in-time copy of the session, used for snapshots and debugging.
func (s *Session) Summary() SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionSummary{
		ID:           s.id,
		CallID:       s.callID,
		TenantID:     s.tenantID,
		Language:     s.language,
		State:        s.state,
		Turn:         s.turn,
		Entries:      len(s.conversation),
		Errors:       append([]string{}, s.errors...),
		History:      append([]StateChange{}, s.history...),
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
	}
}
