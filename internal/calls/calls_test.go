package calls

import (
	"errors"
	"testing"
	"time"

	"ai-hotline/internal/apperr"
	"ai-hotline/internal/identity"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCall(t *testing.T) *Call {
	t.Helper()
	phone, err := identity.NewPhoneNumber("+201001234567")
	require.NoError(t, err)
	return NewCall(uuid.New(), phone, Inbound, PriorityNormal, "ar")
}

func TestCall_Lifecycle(t *testing.T) {
	c := newTestCall(t)
	assert.Equal(t, StatusInitiated, c.Status)
	assert.False(t, c.IsActive())

	require.NoError(t, c.Ring())
	require.NoError(t, c.Start("session-1"))
	assert.Equal(t, StatusInProgress, c.Status)
	assert.Equal(t, "session-1", c.SessionID)
	require.NotNil(t, c.StartedAt)
	assert.ErrorIs(t, c.Start("again"), ErrCallNotStartable)

	require.NoError(t, c.Hold())
	assert.True(t, c.IsActive())
	assert.Error(t, c.Hold())
	require.NoError(t, c.Resume())

	require.NoError(t, c.End("caller_hangup"))
	assert.Equal(t, StatusCompleted, c.Status)
	assert.True(t, c.IsCompleted())
	assert.GreaterOrEqual(t, c.DurationSeconds, 0.0)
	assert.ErrorIs(t, c.End("again"), ErrCallEnded)
	assert.ErrorIs(t, c.End("again"), apperr.InvalidOperation)
}

func TestCall_EndReasonDecidesStatus(t *testing.T) {
	tests := []struct {
		reason string
		want   Status
		errors int
	}{
		{"caller_hangup", StatusCompleted, 0},
		{"pipeline_error", StatusFailed, 1},
		{"cancelled_by_operator", StatusCancelled, 0},
		{"timeout", StatusCompleted, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.reason, func(t *testing.T) {
			c := newTestCall(t)
			require.NoError(t, c.Start("s"))
			require.NoError(t, c.End(tt.reason))
			assert.Equal(t, tt.want, c.Status)
			assert.Len(t, c.ErrorMessages, tt.errors)
			assert.Equal(t, tt.reason, c.EndReason)
		})
	}
}

func TestCall_Records(t *testing.T) {
	c := newTestCall(t)
	c.AddAudioFile("a.wav")
	c.AddAudioFile("a.wav")
	assert.Equal(t, []string{"a.wav"}, c.AudioFiles)

	assert.True(t, c.TriggerAutomation("webhook"))
	assert.False(t, c.TriggerAutomation("webhook"))
	assert.Equal(t, []string{"webhook"}, c.TriggeredAutomations)

	c.AddTranscriptSegment(SpeakerCaller, "مرحبا", 0.9)
	c.AddTranscriptSegment(SpeakerAI, "أهلاً، كيف أساعدك؟", 0)
	assert.Equal(t, "caller: مرحبا\nai: أهلاً، كيف أساعدك؟", c.FullTranscript())
	assert.Equal(t, 1, c.Summary().Turns)

	c.SetContext("escalated", true)
	v, ok := c.Context("escalated")
	assert.True(t, ok)
	assert.Equal(t, true, v)

	assert.ErrorIs(t, c.SetSatisfaction(6), ErrInvalidScore)
	assert.ErrorIs(t, c.SetSatisfaction(-1), apperr.BusinessRule)
	require.NoError(t, c.SetSatisfaction(5))
	assert.Equal(t, 5, *c.SatisfactionScore)

	c.MarkResolved("refund issued")
	assert.True(t, c.Resolved)
	assert.Contains(t, c.SummaryText(), "caller: مرحبا")
}

func TestCall_RecordRoundTrip(t *testing.T) {
	c := newTestCall(t)
	require.NoError(t, c.Start("session-7"))
	c.AddTranscriptSegment(SpeakerCaller, "I need a refund", 0.82)
	c.AddLLMResponse("Sure, let me help.", "openai")
	c.SetContext("escalated", true)
	require.NoError(t, c.End("caller_hangup"))

	got := FromRecord(ToRecord(c))
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, c.CallerNumber, got.CallerNumber)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "session-7", got.SessionID)
	require.Len(t, got.Transcript, 1)
	assert.Equal(t, "I need a refund", got.Transcript[0].Text)
	assert.InDelta(t, 0.82, got.Transcript[0].Confidence, 1e-9)
	require.Len(t, got.LLMResponses, 1)
	assert.Equal(t, "openai", got.LLMResponses[0].Provider)
	assert.Equal(t, true, got.ContextData["escalated"])
	assert.Equal(t, "caller_hangup", got.EndReason)
}

func TestParseDirectionAndPriority(t *testing.T) {
	d, err := ParseDirection("")
	require.NoError(t, err)
	assert.Equal(t, Inbound, d)
	_, err = ParseDirection("sideways")
	assert.ErrorIs(t, err, apperr.Validation)

	p, err := ParsePriority("URGENT")
	require.NoError(t, err)
	assert.Equal(t, PriorityUrgent, p)
	_, err = ParsePriority("meh")
	assert.Error(t, err)
}

func TestSession_Transitions(t *testing.T) {
	s := NewSession(uuid.New(), uuid.New(), "en")
	assert.Equal(t, StateInitializing, s.State())
	assert.Equal(t, TurnAI, s.Turn())

	s.ChangeState(StateWaitingForCaller)
	s.ChangeState(StateWaitingForCaller)
	assert.Len(t, s.Summary().History, 1)

	s.StopRecording()
	assert.Equal(t, StateWaitingForCaller, s.State())

	s.StartRecording()
	assert.Equal(t, StateListening, s.State())
	s.AddUserInput("hello", 0.9)
	assert.Equal(t, StateProcessing, s.State())

	s.StartPlaying()
	assert.Equal(t, StateSpeaking, s.State())
	assert.Equal(t, TurnAI, s.Turn())
	s.StopPlaying()
	assert.Equal(t, StateWaitingForResponse, s.State())
	assert.Equal(t, TurnCaller, s.Turn())

	s.SetPending("llm", "req-1")
	s.End()
	assert.True(t, s.IsEnded())
	assert.Empty(t, s.Pending())
}

func TestSession_EndedIsTerminal(t *testing.T) {
	s := NewSession(uuid.New(), uuid.New(), "en")
	s.StartRecording()
	s.AddUserInput("hello", 0.9)
	s.End()
	history := len(s.Summary().History)

	s.StartPlaying()
	s.StopPlaying()
	s.StartRecording()
	s.ChangeState(StateListening)
	s.AddError(assert.AnError)

	assert.True(t, s.IsEnded())
	assert.Equal(t, StateEnded, s.State())
	assert.Len(t, s.Summary().History, history)
}

func TestSession_ErrorsAndContext(t *testing.T) {
	s := NewSession(uuid.New(), uuid.New(), "ar")
	s.AddUserInput("one", 1)
	s.AddAIResponse("two", "openai")
	s.AddSystemMessage("transfer")
	s.AddUserInput("three", 1)
	s.AddAIResponse("four", "anthropic")

	ctxEntries := s.ConversationContext(3)
	require.Len(t, ctxEntries, 3)
	assert.Equal(t, "two", ctxEntries[0].Text)
	assert.Equal(t, "four", ctxEntries[2].Text)

	assert.False(t, s.AddError(errors.New("stt failed")))
	assert.False(t, s.AddError(errors.New("stt failed")))
	assert.True(t, s.AddError(errors.New("stt failed")))
	assert.Equal(t, StateError, s.State())
	assert.Len(t, s.ConversationContext(0), 4)
}

func TestSession_Expiry(t *testing.T) {
	s := NewSession(uuid.New(), uuid.New(), "en")
	now := time.Now()
	assert.False(t, s.IsExpired(now, time.Hour))
	assert.True(t, s.IsExpired(now.Add(2*time.Hour), time.Hour))
	assert.False(t, s.IsExpired(now.Add(2*time.Hour), 0))
	assert.True(t, s.IsIdle(now.Add(time.Minute), 30*time.Second))
	assert.False(t, s.IsIdle(now, 30*time.Second))
}
