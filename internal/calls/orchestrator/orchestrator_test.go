package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ai-hotline/internal/apperr"
	"ai-hotline/internal/automation"
	"ai-hotline/internal/calls"
	"ai-hotline/internal/identity"
	"ai-hotline/internal/knowledge/rag"
	"ai-hotline/internal/observability"
	"ai-hotline/internal/providers"
	"ai-hotline/internal/providers/resilience"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSTT struct {
	text string
	err  error
}

func (f *fakeSTT) Name() string { return "fake-stt" }

func (f *fakeSTT) Transcribe(ctx context.Context, req providers.STTRequest) (providers.STTResult, error) {
	if f.err != nil {
		return providers.STTResult{}, f.err
	}
	return providers.STTResult{Text: f.text, Confidence: 0.87}, nil
}

type fakeLLM struct {
	reply      string
	err        error
	last       providers.LLMRequest
	onGenerate func()
}

func (f *fakeLLM) Name() string { return "fake-llm" }

func (f *fakeLLM) Generate(ctx context.Context, req providers.LLMRequest) (providers.LLMResult, error) {
	f.last = req
	if f.onGenerate != nil {
		f.onGenerate()
	}
	if f.err != nil {
		return providers.LLMResult{}, f.err
	}
	return providers.LLMResult{Text: f.reply}, nil
}

type fakeTTS struct {
	err  error
	last providers.TTSRequest
}

func (f *fakeTTS) Name() string { return "fake-tts" }

func (f *fakeTTS) Synthesize(ctx context.Context, req providers.TTSRequest) (providers.TTSResult, error) {
	f.last = req
	if f.err != nil {
		return providers.TTSResult{}, f.err
	}
	return providers.TTSResult{Audio: []byte("audio:" + req.Text), Format: req.Format}, nil
}

type fakeRetriever struct {
	results []rag.SearchResult
	err     error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, tenant *identity.Tenant, query string) ([]rag.SearchResult, error) {
	return f.results, f.err
}

type recordingAutomations struct {
	mu         sync.Mutex
	dispatched []automation.ActionRequest
	real       *automation.Dispatcher
}

func (r *recordingAutomations) Detect(texts ...string) []automation.Rule {
	return r.real.Detect(texts...)
}

func (r *recordingAutomations) Dispatch(ctx context.Context, req automation.ActionRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatched = append(r.dispatched, req)
	return nil
}

type fixture struct {
	orch        *Orchestrator
	sessions    *Sessions
	stt         *fakeSTT
	llm         *fakeLLM
	tts         *fakeTTS
	retriever   *fakeRetriever
	automations *recordingAutomations
	tenant      *identity.Tenant
	active      *ActiveCall
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := observability.NewNopLogger()
	registry := providers.NewRegistry(providers.RegistryConfig{
		Timeout: time.Second,
		Retry:   resilience.RetryConfig{MaxRetries: 0},
	}, nil, logger)
	f := &fixture{
		stt:       &fakeSTT{text: "I want a refund"},
		llm:       &fakeLLM{reply: "Refunds are issued within 14 days."},
		tts:       &fakeTTS{},
		retriever: &fakeRetriever{},
		automations: &recordingAutomations{
			real: automation.NewDispatcher(automation.DispatcherConfig{}, nil, nil, nil, logger),
		},
	}
	registry.RegisterSTT(f.stt)
	registry.RegisterLLM(f.llm)
	registry.RegisterTTS(f.tts)

	f.sessions = NewSessions()
	f.orch = New(Config{ContextTurns: 4, TurnTimeout: 5 * time.Second}, f.sessions, registry, f.retriever, f.automations, nil, logger)

	f.tenant = identity.NewTenant("Acme Support")
	f.tenant.SetSetting(identity.SettingPersona, "You are Nour from Acme.")
	phone, err := identity.NewPhoneNumber("+201001234567")
	require.NoError(t, err)
	call := calls.NewCall(f.tenant.ID, phone, calls.Inbound, calls.PriorityNormal, "en")
	session := calls.NewSession(call.ID, f.tenant.ID, "en")
	require.NoError(t, call.Start(session.ID()))
	f.active = NewActiveCall(call, session, f.tenant)
	f.sessions.Add(f.active)
	return f
}

func (f *fixture) turn(t *testing.T, in TurnInput) TurnOutput {
	t.Helper()
	in.TenantID = f.tenant.ID
	in.CallID = f.active.CallID()
	out, err := f.orch.ProcessTurn(context.Background(), in)
	require.NoError(t, err)
	return out
}

func stageStatuses(out TurnOutput) map[string]string {
	m := map[string]string{}
	for _, s := range out.Stages {
		m[s.Name] = s.Status
	}
	return m
}

func TestProcessTurn_AudioHappyPath(t *testing.T) {
	f := newFixture(t)
	f.retriever.results = []rag.SearchResult{{ChunkRecord: rag.ChunkRecord{Content: "Refunds take 14 days."}, Score: 0.9}}

	out := f.turn(t, TurnInput{Audio: []byte{1, 2, 3}, AudioFormat: "wav"})

	assert.False(t, out.Degraded)
	assert.Equal(t, "I want a refund", out.Transcript)
	assert.InDelta(t, 0.87, out.Confidence, 1e-9)
	assert.Equal(t, "Refunds are issued within 14 days.", out.Reply)
	assert.Equal(t, "fake-llm", out.Provider)
	assert.Equal(t, FormatMP3, out.AudioFormat)
	assert.Equal(t, []byte("audio:Refunds are issued within 14 days."), out.Audio)
	assert.Equal(t, calls.StateWaitingForResponse, out.SessionState)
	assert.Equal(t, map[string]string{
		StageSTT:        StageOK,
		StageRetrieve:   StageOK,
		StageGenerate:   StageOK,
		StageAutomate:   StageEmpty,
		StageSynthesize: StageOK,
	}, stageStatuses(out))

	assert.Contains(t, f.llm.last.System, "You are Nour from Acme.")
	assert.Contains(t, f.llm.last.System, "[1] Refunds take 14 days.")
	assert.Contains(t, f.llm.last.System, "English")
	require.Len(t, f.llm.last.Messages, 1)
	assert.Equal(t, "user", f.llm.last.Messages[0].Role)

	call := f.active.Snapshot()
	assert.Equal(t, "caller: I want a refund\nai: Refunds are issued within 14 days.", call.FullTranscript())
	require.Len(t, call.LLMResponses, 1)
}

func TestProcessTurn_TextSkipsSTTAndCarriesHistory(t *testing.T) {
	f := newFixture(t)
	f.turn(t, TurnInput{Text: "hello"})
	out := f.turn(t, TurnInput{Text: "what about shipping?", OutputFormat: FormatULaw})

	assert.Equal(t, StageSkipped, stageStatuses(out)[StageSTT])
	assert.Equal(t, StageEmpty, stageStatuses(out)[StageRetrieve])
	assert.Equal(t, FormatULaw, f.tts.last.Format)
	msgs := f.llm.last.Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "what about shipping?", msgs[2].Content)
}

func TestProcessTurn_STTFailureAsksToRepeat(t *testing.T) {
	f := newFixture(t)
	f.stt.err = errors.New("stt unavailable")

	out := f.turn(t, TurnInput{Audio: []byte{1}, AudioFormat: "wav", Language: "ar-EG"})

	assert.True(t, out.Degraded)
	assert.Equal(t, messages["ar"][msgNotUnderstood], out.Reply)
	assert.Empty(t, out.Transcript)
	statuses := stageStatuses(out)
	assert.Equal(t, StageFailed, statuses[StageSTT])
	assert.Equal(t, StageSkipped, statuses[StageGenerate])
	assert.Equal(t, StageOK, statuses[StageSynthesize])
	assert.NotEmpty(t, out.Audio)
	assert.Equal(t, 1, f.active.Session.ErrorCount())
	assert.Len(t, f.active.Snapshot().ErrorMessages, 1)
}

func TestProcessTurn_EmptyTranscriptCountsAsFailure(t *testing.T) {
	f := newFixture(t)
	f.stt.text = "   "
	out := f.turn(t, TurnInput{Audio: []byte{1}})
	assert.True(t, out.Degraded)
	assert.Equal(t, StageFailed, stageStatuses(out)[StageSTT])
}

func TestProcessTurn_RepeatedFailuresPutSessionInError(t *testing.T) {
	f := newFixture(t)
	f.stt.err = errors.New("stt unavailable")
	var out TurnOutput
	for i := 0; i < calls.DefaultMaxErrors; i++ {
		out = f.turn(t, TurnInput{Audio: []byte{1}})
	}
	assert.Equal(t, calls.StateError, out.SessionState)
}

func TestProcessTurn_LLMFailureTransfersCaller(t *testing.T) {
	f := newFixture(t)
	f.llm.err = errors.New("llm down")

	out := f.turn(t, TurnInput{Text: "where is my order"})

	assert.True(t, out.Degraded)
	assert.Equal(t, messages["en"][msgTransfer], out.Reply)
	assert.Equal(t, []string{"generation_failure"}, out.Automations)
	require.Len(t, f.automations.dispatched, 1)
	assert.Equal(t, automation.ActionEscalate, f.automations.dispatched[0].Action)
	assert.Equal(t, "+201001234567", f.automations.dispatched[0].CallerNumber)
}

func TestProcessTurn_RetrievalFailureStillAnswers(t *testing.T) {
	f := newFixture(t)
	f.retriever.err = errors.New("vector store down")
	out := f.turn(t, TurnInput{Text: "hi"})
	assert.True(t, out.Degraded)
	assert.Equal(t, StageFailed, stageStatuses(out)[StageRetrieve])
	assert.Equal(t, "Refunds are issued within 14 days.", out.Reply)
}

func TestProcessTurn_TTSFailureReturnsText(t *testing.T) {
	f := newFixture(t)
	f.tts.err = errors.New("tts down")
	out := f.turn(t, TurnInput{Text: "hi"})
	assert.True(t, out.Degraded)
	assert.Nil(t, out.Audio)
	assert.Equal(t, "Refunds are issued within 14 days.", out.Reply)
	assert.Equal(t, StageFailed, stageStatuses(out)[StageSynthesize])
}

func TestProcessTurn_AutomationsDispatchOncePerIntent(t *testing.T) {
	f := newFixture(t)
	out := f.turn(t, TurnInput{Text: "I want to file a complaint"})
	assert.Equal(t, []string{"complaint"}, out.Automations)
	out = f.turn(t, TurnInput{Text: "this complaint is urgent"})
	assert.Empty(t, out.Automations)
	assert.Len(t, f.automations.dispatched, 1)
	assert.Equal(t, []string{"complaint"}, f.active.Snapshot().TriggeredAutomations)
}

func TestProcessTurn_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.ProcessTurn(ctx, TurnInput{TenantID: f.tenant.ID, CallID: uuid.New(), Text: "hi"})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = f.orch.ProcessTurn(ctx, TurnInput{TenantID: uuid.New(), CallID: f.active.CallID(), Text: "hi"})
	assert.ErrorIs(t, err, apperr.NotFound)

	_, err = f.orch.ProcessTurn(ctx, TurnInput{TenantID: f.tenant.ID, CallID: f.active.CallID()})
	assert.ErrorIs(t, err, apperr.Validation)

	f.active.Session.End()
	_, err = f.orch.ProcessTurn(ctx, TurnInput{TenantID: f.tenant.ID, CallID: f.active.CallID(), Text: "hi"})
	assert.ErrorIs(t, err, ErrSessionEnded)
}

func TestGreet(t *testing.T) {
	f := newFixture(t)
	g := f.orch.Greet(context.Background(), f.active, "ar", FormatULaw)
	assert.Equal(t, messages["ar"][msgGreeting], g.Text)
	assert.Equal(t, FormatULaw, g.AudioFormat)
	assert.Equal(t, calls.StateWaitingForResponse, f.active.Session.State())

	f.tenant.SetSetting(identity.SettingGreeting, "Welcome to Acme!")
	f.tts.err = errors.New("tts down")
	g = f.orch.Greet(context.Background(), f.active, "en", "")
	assert.Equal(t, "Welcome to Acme!", g.Text)
	assert.Nil(t, g.Audio)
}

func TestBaseLanguage(t *testing.T) {
	assert.Equal(t, "ar", baseLanguage("ar-EG"))
	assert.Equal(t, "en", baseLanguage("EN_us"))
	assert.Equal(t, "en", baseLanguage("fr"))
	assert.Contains(t, languageInstruction("ar-EG"), "Egyptian Arabic")
}

func TestProcessTurn_SessionEndedMidTurnStaysEnded(t *testing.T) {
	f := newFixture(t)
	f.llm.onGenerate = func() {
		f.sessions.Remove(f.active.CallID())
		f.active.Session.End()
	}

	out := f.turn(t, TurnInput{Text: "hello"})

	assert.Equal(t, calls.StateEnded, out.SessionState)
	assert.True(t, f.active.Session.IsEnded())

	_, err := f.orch.ProcessTurn(context.Background(), TurnInput{TenantID: f.tenant.ID, CallID: f.active.CallID(), Text: "again"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
