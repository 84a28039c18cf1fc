// Package orchestrator runs a conversational turn: speech to text, knowledge retrieval, response
// generation, automation and speech synthesis. Every stage degrades instead of failing the turn.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ai-hotline/internal/apperr"
	"ai-hotline/internal/automation"
	"ai-hotline/internal/calls"
	"ai-hotline/internal/identity"
	"ai-hotline/internal/knowledge/rag"
	"ai-hotline/internal/observability"
	"ai-hotline/internal/providers"

	"github.com/google/uuid"
)

const (
	StageSTT        = "stt"
	StageRetrieve   = "retrieve"
	StageGenerate   = "generate"
	StageAutomate   = "automate"
	StageSynthesize = "synthesize"
)

const (
	StageOK      = "ok"
	StageSkipped = "skipped"
	StageEmpty   = "empty"
	StageFailed  = "failed"
)

const (
	FormatMP3  = "mp3"
	FormatULaw = "ulaw_8000"
)

const defaultPersona = "You are a helpful and polite customer support agent answering a phone hotline."

var (
	ErrSessionNotFound = apperr.New(apperr.NotFound, "SESSION_NOT_FOUND", "no active session for this call")
	ErrSessionEnded    = apperr.New(apperr.InvalidOperation, "SESSION_ENDED", "the call session has ended")
	ErrNoInput         = apperr.Validationf("NO_INPUT", "audio or text is required")
	errNoSpeech        = errors.New("no speech recognised")
)

// Chains builds provider chains for a tenant preference. *providers.Registry satisfies it.
type Chains interface {
	STTChain(preferred []string) *providers.STTChain
	LLMChain(preferred []string) *providers.LLMChain
	TTSChain(preferred []string) *providers.TTSChain
}

// Retriever finds knowledge relevant to the caller's words.
type Retriever interface {
	Retrieve(ctx context.Context, tenant *identity.Tenant, query string) ([]rag.SearchResult, error)
}

// Automations detects intents and queues their actions. *automation.Dispatcher satisfies it.
type Automations interface {
	Detect(texts ...string) []automation.Rule
	Dispatch(ctx context.Context, req automation.ActionRequest) error
}

type Config struct {
	ContextTurns int
	TurnTimeout  time.Duration
	MaxTokens    int
	Temperature  float64
}

type TurnInput struct {
	TenantID     uuid.UUID
	CallID       uuid.UUID
	Audio        []byte
	AudioFormat  string
	Text         string
	Language     string
	OutputFormat string
}

type StageReport struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Provider   string `json:"provider,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

type TurnOutput struct {
	CallID       uuid.UUID          `json:"call_id"`
	Transcript   string             `json:"transcript"`
	Confidence   float64            `json:"confidence"`
	Reply        string             `json:"reply"`
	Provider     string             `json:"provider,omitempty"`
	Audio        []byte             `json:"-"`
	AudioFormat  string             `json:"audio_format,omitempty"`
	Degraded     bool               `json:"degraded"`
	Automations  []string           `json:"automations"`
	Stages       []StageReport      `json:"stages"`
	SessionState calls.SessionState `json:"session_state"`
}

type Orchestrator struct {
	sessions    *Sessions
	chains      Chains
	retriever   Retriever
	automations Automations
	config      Config
	metrics     *observability.Metrics
	logger      *observability.Logger
}

func New(
	cfg Config,
	sessions *Sessions,
	chains Chains,
	retriever Retriever,
	automations Automations,
	metrics *observability.Metrics,
	logger *observability.Logger,
) *Orchestrator {
	if cfg.ContextTurns <= 0 {
		cfg.ContextTurns = 10
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 300
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.4
	}
	return &Orchestrator{
		sessions:    sessions,
		chains:      chains,
		retriever:   retriever,
		automations: automations,
		config:      cfg,
		metrics:     metrics,
		logger:      logger,
	}
}

// stageTimer records one stage into the output and the stage histogram.
type stageTimer struct {
	o     *Orchestrator
	out   *TurnOutput
	name  string
	start time.Time
}

func (o *Orchestrator) stage(out *TurnOutput, name string) *stageTimer {
	return &stageTimer{o: o, out: out, name: name, start: time.Now()}
}

func (s *stageTimer) done(status, provider string, err error) {
	elapsed := time.Since(s.start)
	s.o.metrics.ObserveStage(s.name, elapsed)
	report := StageReport{Name: s.name, Status: status, Provider: provider, DurationMS: elapsed.Milliseconds()}
	if err != nil {
		report.Error = err.Error()
	}
	s.out.Stages = append(s.out.Stages, report)
}

// ProcessTurn runs one caller turn against the call's live session. Provider failures degrade the
// turn; only a missing or ended session, or a turn without input, is an error.
func (o *Orchestrator) ProcessTurn(ctx context.Context, in TurnInput) (TurnOutput, error) {
	active, ok := o.sessions.Get(in.TenantID, in.CallID)
	if !ok {
		return TurnOutput{}, ErrSessionNotFound
	}
	if len(in.Audio) == 0 && strings.TrimSpace(in.Text) == "" {
		return TurnOutput{}, ErrNoInput
	}

	active.turn.Lock()
	defer active.turn.Unlock()
	session := active.Session
	if session.IsEnded() {
		return TurnOutput{}, ErrSessionEnded
	}

	if o.config.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.TurnTimeout)
		defer cancel()
	}
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "call_id", Value: in.CallID.String()},
		observability.Field{Key: "tenant_id", Value: in.TenantID.String()},
	)

	tenant := active.Tenant
	lang := in.Language
	if lang == "" {
		lang = session.Language()
	}
	outputFormat := in.OutputFormat
	if outputFormat == "" {
		outputFormat = FormatMP3
	}
	out := TurnOutput{CallID: in.CallID, Automations: []string{}, Stages: []StageReport{}}

	session.StartRecording()
	history := session.ConversationContext(o.config.ContextTurns)
	transcript, confidence, sttErr := o.transcribe(ctx, tenant, in, lang, &out)

	if sttErr != nil {
		out.Degraded = true
		if session.AddError(sttErr) {
			o.logger.Warn(ctx, "session reached its error limit")
		}
		session.StopRecording()
		out.Reply = message(lang, msgNotUnderstood)
		session.AddSystemMessage(out.Reply)
		active.Update(func(c *calls.Call) {
			c.AddError(sttErr.Error())
			c.AddTranscriptSegment(calls.SpeakerAI, out.Reply, 0)
		})
		out.Stages = append(out.Stages,
			StageReport{Name: StageRetrieve, Status: StageSkipped},
			StageReport{Name: StageGenerate, Status: StageSkipped},
			StageReport{Name: StageAutomate, Status: StageSkipped},
		)
	} else {
		out.Transcript = transcript
		out.Confidence = confidence
		session.AddUserInput(transcript, confidence)
		active.Update(func(c *calls.Call) { c.AddTranscriptSegment(calls.SpeakerCaller, transcript, confidence) })

		knowledge := o.retrieve(ctx, tenant, transcript, &out)
		llmFailed := o.generate(ctx, active, history, knowledge, transcript, lang, &out)
		o.automate(ctx, active, transcript, lang, llmFailed, &out)
	}

	// A session that hit its error limit keeps the error state for the caller to end.
	failedSession := session.State() == calls.StateError
	if !failedSession {
		session.StartPlaying()
	}
	o.synthesize(ctx, tenant, lang, outputFormat, &out)
	if !failedSession {
		session.StopPlaying()
	}
	out.SessionState = session.State()

	o.logger.Info(ctx, "turn processed",
		observability.Field{Key: "degraded", Value: out.Degraded},
		observability.Field{Key: "automations", Value: len(out.Automations)},
	)
	return out, nil
}

func (o *Orchestrator) transcribe(ctx context.Context, tenant *identity.Tenant, in TurnInput, lang string, out *TurnOutput) (string, float64, error) {
	timer := o.stage(out, StageSTT)
	if text := strings.TrimSpace(in.Text); text != "" {
		timer.done(StageSkipped, "", nil)
		return text, 1, nil
	}

	res, err := o.chains.STTChain(tenant.ProviderPreference("stt")).Transcribe(ctx, providers.STTRequest{
		Audio:    in.Audio,
		Format:   in.AudioFormat,
		Language: lang,
	})
	if err == nil && strings.TrimSpace(res.Text) == "" {
		err = errNoSpeech
	}
	if err != nil {
		o.logger.WarnWithError(ctx, "transcription failed, asking caller to repeat", err)
		timer.done(StageFailed, res.Provider, err)
		return "", 0, err
	}
	timer.done(StageOK, res.Provider, nil)
	return strings.TrimSpace(res.Text), res.Confidence, nil
}

func (o *Orchestrator) retrieve(ctx context.Context, tenant *identity.Tenant, query string, out *TurnOutput) []rag.SearchResult {
	timer := o.stage(out, StageRetrieve)
	if o.retriever == nil {
		timer.done(StageSkipped, "", nil)
		return nil
	}
	results, err := o.retriever.Retrieve(ctx, tenant, query)
	switch {
	case err != nil:
		o.logger.WarnWithError(ctx, "knowledge retrieval failed, answering without context", err)
		out.Degraded = true
		timer.done(StageFailed, "", err)
		return nil
	case len(results) == 0:
		timer.done(StageEmpty, "", nil)
	default:
		timer.done(StageOK, "", nil)
	}
	return results
}

// generate asks the LLM chain for a reply and records it. It reports whether the fallback reply was used.
func (o *Orchestrator) generate(
	ctx context.Context,
	active *ActiveCall,
	history []calls.Entry,
	knowledge []rag.SearchResult,
	transcript, lang string,
	out *TurnOutput,
) bool {
	timer := o.stage(out, StageGenerate)
	tenant := active.Tenant

	msgs := make([]providers.Message, 0, len(history)+1)
	for _, e := range history {
		role := "user"
		if e.Type == calls.EntryAIResponse {
			role = "assistant"
		}
		msgs = append(msgs, providers.Message{Role: role, Content: e.Text})
	}
	msgs = append(msgs, providers.Message{Role: "user", Content: transcript})

	res, err := o.chains.LLMChain(tenant.ProviderPreference("llm")).Generate(ctx, providers.LLMRequest{
		System:      SystemPrompt(tenant, lang, knowledge),
		Messages:    msgs,
		MaxTokens:   o.config.MaxTokens,
		Temperature: o.config.Temperature,
	})
	if err == nil && strings.TrimSpace(res.Text) == "" {
		err = errors.New("empty completion")
	}

	failed := err != nil
	if failed {
		o.logger.WarnWithError(ctx, "response generation failed, transferring caller", err)
		out.Degraded = true
		out.Reply = message(lang, msgTransfer)
		active.Session.AddError(err)
		active.Session.AddSystemMessage(out.Reply)
		active.Update(func(c *calls.Call) { c.AddError(err.Error()) })
		timer.done(StageFailed, "", err)
	} else {
		out.Reply = strings.TrimSpace(res.Text)
		out.Provider = res.Provider
		active.Session.AddAIResponse(out.Reply, res.Provider)
		active.Update(func(c *calls.Call) { c.AddLLMResponse(out.Reply, res.Provider) })
		timer.done(StageOK, res.Provider, nil)
	}
	active.Update(func(c *calls.Call) { c.AddTranscriptSegment(calls.SpeakerAI, out.Reply, 0) })
	return failed
}

// automate dispatches the actions for newly detected intents. A failed generation always escalates.
func (o *Orchestrator) automate(ctx context.Context, active *ActiveCall, transcript, lang string, llmFailed bool, out *TurnOutput) {
	timer := o.stage(out, StageAutomate)
	if o.automations == nil {
		timer.done(StageSkipped, "", nil)
		return
	}

	rules := o.automations.Detect(transcript)
	if llmFailed {
		escalating := false
		for _, r := range rules {
			if r.Action == automation.ActionEscalate {
				escalating = true
			}
		}
		if !escalating {
			rules = append(rules, automation.Rule{Intent: "generation_failure", Action: automation.ActionEscalate})
		}
	}
	if len(rules) == 0 {
		timer.done(StageEmpty, "", nil)
		return
	}

	var fresh []automation.Rule
	var caller string
	active.Update(func(c *calls.Call) {
		caller = c.CallerNumber.E164()
		for _, r := range rules {
			if c.TriggerAutomation(r.Intent) {
				fresh = append(fresh, r)
			}
		}
	})

	var dispatchErr error
	for _, r := range fresh {
		err := o.automations.Dispatch(ctx, automation.ActionRequest{
			TenantID:     active.Tenant.ID,
			CallID:       active.CallID(),
			Action:       r.Action,
			Intent:       r.Intent,
			Params:       r.Params,
			CallerNumber: caller,
			Language:     lang,
			Transcript:   transcript,
			Reply:        out.Reply,
		})
		if err != nil {
			o.logger.WarnWithError(observability.WithFields(ctx, observability.Field{Key: "intent", Value: r.Intent}),
				"failed to dispatch automation", err)
			dispatchErr = err
			continue
		}
		out.Automations = append(out.Automations, r.Intent)
	}

	switch {
	case dispatchErr != nil && len(out.Automations) == 0:
		timer.done(StageFailed, "", dispatchErr)
	case len(fresh) == 0:
		timer.done(StageEmpty, "", nil)
	default:
		timer.done(StageOK, "", nil)
	}
}

func (o *Orchestrator) synthesize(ctx context.Context, tenant *identity.Tenant, lang, format string, out *TurnOutput) {
	timer := o.stage(out, StageSynthesize)
	res, err := o.speak(ctx, tenant, out.Reply, lang, format)
	if err != nil {
		o.logger.WarnWithError(ctx, "speech synthesis failed, replying with text only", err)
		out.Degraded = true
		timer.done(StageFailed, "", err)
		return
	}
	out.Audio = res.Audio
	out.AudioFormat = res.Format
	timer.done(StageOK, res.Provider, nil)
}

func (o *Orchestrator) speak(ctx context.Context, tenant *identity.Tenant, text, lang, format string) (providers.TTSResult, error) {
	return o.chains.TTSChain(tenant.ProviderPreference("tts")).Synthesize(ctx, providers.TTSRequest{
		Text:     text,
		Voice:    tenant.SettingString(identity.SettingVoice, ""),
		Language: lang,
		Format:   format,
	})
}

type Greeting struct {
	Text        string `json:"text"`
	Audio       []byte `json:"-"`
	AudioFormat string `json:"audio_format,omitempty"`
}

// Greet speaks the tenant's greeting, or the default one for lang. Synthesis failure leaves the
// greeting as text.
func (o *Orchestrator) Greet(ctx context.Context, active *ActiveCall, lang, format string) Greeting {
	if format == "" {
		format = FormatMP3
	}
	g := Greeting{Text: active.Tenant.SettingString(identity.SettingGreeting, message(lang, msgGreeting))}
	active.Session.StartPlaying()
	active.Session.AddSystemMessage(g.Text)
	active.Update(func(c *calls.Call) { c.AddTranscriptSegment(calls.SpeakerAI, g.Text, 0) })

	if res, err := o.speak(ctx, active.Tenant, g.Text, lang, format); err != nil {
		o.logger.WarnWithError(ctx, "failed to synthesize greeting", err)
	} else {
		g.Audio, g.AudioFormat = res.Audio, res.Format
	}
	active.Session.StopPlaying()
	return g
}

// Goodbye is the closing line for lang.
func Goodbye(lang string) string { return message(lang, msgGoodbye) }

// SystemPrompt combines the tenant persona, the reply language and the retrieved knowledge.
func SystemPrompt(tenant *identity.Tenant, lang string, knowledge []rag.SearchResult) string {
	var b strings.Builder
	b.WriteString(tenant.SettingString(identity.SettingPersona, defaultPersona))
	b.WriteString("\n\n")
	b.WriteString(languageInstruction(lang))
	if len(knowledge) > 0 {
		b.WriteString("\n\nAnswer using the following knowledge base excerpts when they are relevant. " +
			"If they do not cover the question, say so and offer to transfer the caller.\n")
		for i, k := range knowledge {
			fmt.Fprintf(&b, "\n[%d] %s\n", i+1, strings.TrimSpace(k.Content))
		}
	}
	return b.String()
}
