// Package processor owns the lifecycle of hotline calls: admission, turns, persistence, snapshots
// and the sweeper that ends abandoned sessions.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"ai-hotline/internal/apperr"
	"ai-hotline/internal/automation"
	"ai-hotline/internal/calls"
	"ai-hotline/internal/calls/orchestrator"
	"ai-hotline/internal/config"
	"ai-hotline/internal/identity"
	"ai-hotline/internal/observability"
	"ai-hotline/internal/store"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// CallStore defines the database operations required by CallProcessor
type CallStore interface {
	Available() bool
	SaveCall(ctx context.Context, call store.Call) error
	GetCall(ctx context.Context, tenantID, callID uuid.UUID) (store.Call, error)
	ListCalls(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]store.Call, error)
	CountCallsSince(ctx context.Context, tenantID uuid.UUID, since time.Time) (int, error)
}

type TenantResolver interface {
	Resolve(ctx context.Context, tenantID uuid.UUID) (*identity.Tenant, error)
}

// SnapshotCache mirrors live sessions. *redis.Client satisfies it.
type SnapshotCache interface {
	IsEnabled() bool
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Turns runs conversational turns. *orchestrator.Orchestrator satisfies it.
type Turns interface {
	ProcessTurn(ctx context.Context, in orchestrator.TurnInput) (orchestrator.TurnOutput, error)
	Greet(ctx context.Context, active *orchestrator.ActiveCall, lang, format string) orchestrator.Greeting
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req automation.ActionRequest) error
}

const (
	ReasonCompleted      = "completed"
	ReasonCallerHangup   = "caller_hangup"
	ReasonTimeout        = "timeout"
	ReasonIdleTimeout    = "idle_timeout"
	ReasonSessionError   = "session_error"
	ReasonServerShutdown = "server_shutdown"

	summaryIntent = "call_summary"
	snapshotTTL   = 2 * time.Hour
)

var (
	ErrTooManyCalls   = apperr.New(apperr.RateLimited, "TOO_MANY_CALLS", "the hotline is handling the maximum number of concurrent calls")
	ErrCallNotAllowed = apperr.New(apperr.BusinessRule, "CALL_NOT_ALLOWED", "tenant is not active or has reached its monthly call limit")
	ErrCallNotFound   = apperr.New(apperr.NotFound, "CALL_NOT_FOUND", "call not found")
	ErrCallNotActive  = apperr.New(apperr.InvalidOperation, "CALL_NOT_ACTIVE", "call has no active session")
)

type StartCallRequest struct {
	TenantID     uuid.UUID
	CallerNumber string
	Direction    string
	Priority     string
	Language     string
	// OutputFormat is the greeting audio format; mp3 when empty.
	OutputFormat string
	// Context is copied into the call's context data, e.g. the Twilio call sid.
	Context map[string]interface{}
}

type StartCallResult struct {
	Call     *calls.Call           `json:"call"`
	Greeting orchestrator.Greeting `json:"greeting"`
	// Ended is closed once the call ends, including when the sweeper or shutdown ends it.
	Ended <-chan struct{} `json:"-"`
}

type Feedback struct {
	Score    *int
	Resolved bool
	Notes    string
}

type CallProcessor struct {
	config      config.CallConfig
	turns       Turns
	sessions    *orchestrator.Sessions
	tenants     TenantResolver
	store       CallStore
	cache       SnapshotCache
	automations Dispatcher
	slots       *semaphore.Weighted
	metrics     *observability.Metrics
	logger      *observability.Logger
	now         func() time.Time
}

func New(
	cfg config.CallConfig,
	turns Turns,
	sessions *orchestrator.Sessions,
	tenants TenantResolver,
	callStore CallStore,
	cache SnapshotCache,
	automations Dispatcher,
	metrics *observability.Metrics,
	logger *observability.Logger,
) *CallProcessor {
	if cfg.MaxConcurrentCalls <= 0 {
		cfg.MaxConcurrentCalls = 100
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 15 * time.Second
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "ar"
	}
	return &CallProcessor{
		config:      cfg,
		turns:       turns,
		sessions:    sessions,
		tenants:     tenants,
		store:       callStore,
		cache:       cache,
		automations: automations,
		slots:       semaphore.NewWeighted(int64(cfg.MaxConcurrentCalls)),
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// StartCall admits a new call, opens its session and speaks the greeting.
func (p *CallProcessor) StartCall(ctx context.Context, req StartCallRequest) (StartCallResult, error) {
	phone, err := identity.NewPhoneNumber(req.CallerNumber)
	if err != nil {
		return StartCallResult{}, err
	}
	direction, err := calls.ParseDirection(req.Direction)
	if err != nil {
		return StartCallResult{}, err
	}
	priority, err := calls.ParsePriority(req.Priority)
	if err != nil {
		return StartCallResult{}, err
	}

	tenant, err := p.tenants.Resolve(ctx, req.TenantID)
	if err != nil {
		return StartCallResult{}, err
	}
	if !tenant.CanProcessCall(p.callsThisMonth(ctx, tenant.ID)) {
		return StartCallResult{}, ErrCallNotAllowed
	}
	if !p.slots.TryAcquire(1) {
		p.logger.Warn(ctx, "rejecting call, concurrent call limit reached",
			observability.Field{Key: "max_concurrent_calls", Value: p.config.MaxConcurrentCalls})
		return StartCallResult{}, ErrTooManyCalls
	}

	lang := req.Language
	if lang == "" {
		lang = tenant.SettingString(identity.SettingDefaultLanguage, p.config.DefaultLanguage)
	}
	call := calls.NewCall(tenant.ID, phone, direction, priority, lang)
	for k, v := range req.Context {
		call.SetContext(k, v)
	}
	session := calls.NewSession(call.ID, tenant.ID, lang)
	session.SetMaxErrors(p.config.MaxSessionErrors)
	if err := call.Start(session.ID()); err != nil {
		p.slots.Release(1)
		return StartCallResult{}, err
	}
	session.ChangeState(calls.StateWaitingForCaller)

	active := orchestrator.NewActiveCall(call, session, tenant)
	p.sessions.Add(active)
	p.metrics.CallStarted()

	ctx = observability.WithFields(ctx,
		observability.Field{Key: "call_id", Value: call.ID.String()},
		observability.Field{Key: "tenant_id", Value: tenant.ID.String()},
	)
	p.logger.Info(ctx, "call started",
		observability.Field{Key: "direction", Value: string(direction)},
		observability.Field{Key: "language", Value: lang},
	)

	greeting := p.turns.Greet(ctx, active, lang, req.OutputFormat)
	p.persist(ctx, active)
	p.snapshot(ctx, active)
	return StartCallResult{Call: active.Snapshot(), Greeting: greeting, Ended: active.Ended()}, nil
}

// ProcessTurn runs one turn and saves the result. A session that reached its error limit is ended.
func (p *CallProcessor) ProcessTurn(ctx context.Context, in orchestrator.TurnInput) (orchestrator.TurnOutput, error) {
	active, ok := p.sessions.Get(in.TenantID, in.CallID)
	if !ok {
		return orchestrator.TurnOutput{}, orchestrator.ErrSessionNotFound
	}
	out, err := p.turns.ProcessTurn(ctx, in)
	if err != nil {
		return out, err
	}
	ended := false
	active.WithTurn(func() {
		if active.Session.IsEnded() {
			ended = true
			return
		}
		p.persist(ctx, active)
		p.snapshot(ctx, active)
	})
	if ended {
		out.SessionState = calls.StateEnded
		return out, nil
	}

	if out.SessionState == calls.StateError {
		p.logger.Warn(ctx, "ending call after repeated failures", observability.Field{Key: "call_id", Value: in.CallID.String()})
		if _, err := p.EndCall(ctx, in.TenantID, in.CallID, ReasonSessionError); err != nil && !errors.Is(err, ErrCallNotActive) {
			p.logger.WarnWithError(ctx, "failed to end call", err)
		}
		out.SessionState = calls.StateEnded
	}
	return out, nil
}

// EndCall closes the session and the call, waiting for a running turn to finish first. Only the
// first caller for a given call does the work; later callers get the stored call back.
func (p *CallProcessor) EndCall(ctx context.Context, tenantID, callID uuid.UUID, reason string) (*calls.Call, error) {
	if _, ok := p.sessions.Get(tenantID, callID); !ok {
		return p.endedCall(ctx, tenantID, callID)
	}
	active, ok := p.sessions.Remove(callID)
	if !ok {
		return p.endedCall(ctx, tenantID, callID)
	}
	if reason == "" {
		reason = ReasonCompleted
	}

	var endErr error
	active.WithTurn(func() {
		active.Session.End()
		active.Update(func(c *calls.Call) { endErr = c.End(reason) })
	})
	defer active.MarkEnded()
	p.slots.Release(1)
	p.metrics.CallEnded()

	// The request context may already be gone when the caller hangs up.
	ctx = context.WithoutCancel(ctx)
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "call_id", Value: callID.String()},
		observability.Field{Key: "tenant_id", Value: tenantID.String()},
	)
	if endErr != nil {
		p.logger.WarnWithError(ctx, "call was already finished", endErr)
	}

	p.persist(ctx, active)
	if p.cache != nil && p.cache.IsEnabled() {
		if err := p.cache.Del(ctx, snapshotKey(callID)); err != nil {
			p.logger.WarnWithError(ctx, "failed to delete session snapshot", err)
		}
	}

	call := active.Snapshot()
	p.logger.Info(ctx, "call ended",
		observability.Field{Key: "reason", Value: reason},
		observability.Field{Key: "status", Value: string(call.Status)},
		observability.Field{Key: "duration_seconds", Value: call.DurationSeconds},
	)
	p.sendSummary(ctx, active.Tenant, call)
	return call, nil
}

func (p *CallProcessor) endedCall(ctx context.Context, tenantID, callID uuid.UUID) (*calls.Call, error) {
	call, err := p.load(ctx, tenantID, callID)
	switch {
	case errors.Is(err, ErrCallNotFound):
		return nil, ErrCallNotActive
	case err != nil:
		return nil, err
	case !call.IsCompleted():
		return nil, ErrCallNotActive
	}
	return call, nil
}

func (p *CallProcessor) sendSummary(ctx context.Context, tenant *identity.Tenant, call *calls.Call) {
	if p.automations == nil || tenant.SettingString(identity.SettingSummaryEmail, "") == "" {
		return
	}
	if !tenant.HasFeature(identity.FeatureAutomation) {
		return
	}
	err := p.automations.Dispatch(ctx, automation.ActionRequest{
		TenantID:     tenant.ID,
		CallID:       call.ID,
		Action:       automation.ActionSendEmail,
		Intent:       summaryIntent,
		CallerNumber: call.CallerNumber.E164(),
		Language:     call.Language,
		Transcript:   call.FullTranscript(),
		Params:       map[string]interface{}{"summary": call.SummaryText()},
	})
	if err != nil {
		p.logger.WarnWithError(ctx, "failed to dispatch call summary", err)
	}
}

// Escalate flags a call for a human agent. Live calls are updated in place, finished ones in the store.
func (p *CallProcessor) Escalate(ctx context.Context, tenantID, callID uuid.UUID, reason string) error {
	mark := func(c *calls.Call) {
		c.SetContext("escalated", true)
		c.SetContext("escalation_reason", reason)
		c.Priority = calls.PriorityUrgent
	}
	if active, ok := p.sessions.Get(tenantID, callID); ok {
		active.Update(mark)
		p.persist(ctx, active)
		p.snapshot(ctx, active)
		p.logger.Info(ctx, "call escalated", observability.Field{Key: "call_id", Value: callID.String()},
			observability.Field{Key: "reason", Value: reason})
		return nil
	}

	call, err := p.load(ctx, tenantID, callID)
	if err != nil {
		return err
	}
	mark(call)
	return p.save(ctx, call)
}

// GetCall returns the live call when it has a session, otherwise the stored record.
func (p *CallProcessor) GetCall(ctx context.Context, tenantID, callID uuid.UUID) (*calls.Call, error) {
	if active, ok := p.sessions.Get(tenantID, callID); ok {
		return active.Snapshot(), nil
	}
	return p.load(ctx, tenantID, callID)
}

// ListCalls returns a tenant's calls, newest first. Without a database only live calls are known.
func (p *CallProcessor) ListCalls(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*calls.Call, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	live := map[uuid.UUID]*calls.Call{}
	for _, a := range p.sessions.List() {
		if a.Session.TenantID() == tenantID {
			live[a.CallID()] = a.Snapshot()
		}
	}

	if p.store.Available() {
		records, err := p.store.ListCalls(ctx, tenantID, limit, offset)
		if err == nil {
			out := make([]*calls.Call, 0, len(records))
			for _, r := range records {
				if c, ok := live[r.ID]; ok {
					out = append(out, c)
					continue
				}
				out = append(out, calls.FromRecord(r))
			}
			return out, nil
		}
		if !errors.Is(err, store.ErrUnavailable) {
			p.logger.Error(ctx, "failed to list calls", err)
			return nil, apperr.Wrap(apperr.Database, "LIST_CALLS_FAILED", "failed to list calls", err)
		}
	}

	out := make([]*calls.Call, 0, len(live))
	for _, c := range live {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []*calls.Call{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SubmitFeedback stores the caller's satisfaction score and resolution.
func (p *CallProcessor) SubmitFeedback(ctx context.Context, tenantID, callID uuid.UUID, fb Feedback) (*calls.Call, error) {
	apply := func(c *calls.Call) error {
		if fb.Score != nil {
			if err := c.SetSatisfaction(*fb.Score); err != nil {
				return err
			}
		}
		if fb.Resolved {
			c.MarkResolved(fb.Notes)
		} else if fb.Notes != "" {
			c.ResolutionNotes = fb.Notes
		}
		return nil
	}

	if active, ok := p.sessions.Get(tenantID, callID); ok {
		var err error
		active.Update(func(c *calls.Call) { err = apply(c) })
		if err != nil {
			return nil, err
		}
		p.persist(ctx, active)
		return active.Snapshot(), nil
	}

	call, err := p.load(ctx, tenantID, callID)
	if err != nil {
		return nil, err
	}
	if err := apply(call); err != nil {
		return nil, err
	}
	if err := p.save(ctx, call); err != nil {
		return nil, err
	}
	return call, nil
}

// Run ends expired and idle sessions until ctx is done.
func (p *CallProcessor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep ends every session past its maximum duration, and every session that has waited on a
// silent caller longer than the silence timeout. It returns the number of calls ended.
func (p *CallProcessor) Sweep(ctx context.Context) int {
	now := p.now()
	ended := 0
	for _, a := range p.sessions.List() {
		reason := ""
		switch {
		case a.Session.IsExpired(now, p.config.MaxSessionDuration):
			reason = ReasonTimeout
		case waitingForCaller(a.Session.State()) && a.Session.IsIdle(now, p.config.SilenceTimeout):
			reason = ReasonIdleTimeout
		default:
			continue
		}
		if _, err := p.EndCall(ctx, a.Session.TenantID(), a.CallID(), reason); err == nil {
			ended++
		}
	}
	return ended
}

func waitingForCaller(s calls.SessionState) bool {
	return s == calls.StateWaitingForCaller || s == calls.StateWaitingForResponse
}

// Shutdown ends every live call.
func (p *CallProcessor) Shutdown(ctx context.Context) {
	active := p.sessions.List()
	for _, a := range active {
		if _, err := p.EndCall(ctx, a.Session.TenantID(), a.CallID(), ReasonServerShutdown); err != nil && !errors.Is(err, ErrCallNotActive) {
			p.logger.WarnWithError(ctx, "failed to end call on shutdown", err)
		}
	}
	if len(active) > 0 {
		p.logger.Info(ctx, "ended active calls on shutdown", observability.Field{Key: "count", Value: len(active)})
	}
}

func (p *CallProcessor) ActiveCalls() int { return p.sessions.Len() }

func (p *CallProcessor) callsThisMonth(ctx context.Context, tenantID uuid.UUID) int {
	if !p.store.Available() {
		return 0
	}
	now := p.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	n, err := p.store.CountCallsSince(ctx, tenantID, monthStart)
	if err != nil {
		p.logger.WarnWithError(ctx, "failed to count calls this month", err)
		return 0
	}
	return n
}

func (p *CallProcessor) load(ctx context.Context, tenantID, callID uuid.UUID) (*calls.Call, error) {
	rec, err := p.store.GetCall(ctx, tenantID, callID)
	switch {
	case err == nil:
		return calls.FromRecord(rec), nil
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrUnavailable):
		return nil, ErrCallNotFound
	default:
		p.logger.Error(ctx, "failed to load call", err)
		return nil, apperr.Wrap(apperr.Database, "GET_CALL_FAILED", "failed to load call", err)
	}
}

func (p *CallProcessor) save(ctx context.Context, call *calls.Call) error {
	if err := p.store.SaveCall(ctx, calls.ToRecord(call)); err != nil {
		p.logger.Error(ctx, "failed to save call", err)
		return apperr.Wrap(apperr.Database, "SAVE_CALL_FAILED", "failed to save call", err)
	}
	return nil
}

// persist writes the live call when the database is reachable. Failures are logged only.
func (p *CallProcessor) persist(ctx context.Context, active *orchestrator.ActiveCall) {
	if !p.store.Available() {
		return
	}
	if err := p.store.SaveCall(ctx, calls.ToRecord(active.Snapshot())); err != nil {
		p.logger.WarnWithError(ctx, "failed to persist call", err)
	}
}

type sessionSnapshot struct {
	Call    calls.CallSummary    `json:"call"`
	Session calls.SessionSummary `json:"session"`
	SavedAt time.Time            `json:"saved_at"`
}

func snapshotKey(callID uuid.UUID) string { return "call_session:" + callID.String() }

func (p *CallProcessor) snapshot(ctx context.Context, active *orchestrator.ActiveCall) {
	if p.cache == nil || !p.cache.IsEnabled() {
		return
	}
	data, err := json.Marshal(sessionSnapshot{
		Call:    active.Snapshot().Summary(),
		Session: active.Session.Summary(),
		SavedAt: p.now().UTC(),
	})
	if err != nil {
		p.logger.WarnWithError(ctx, "failed to encode session snapshot", err)
		return
	}
	ttl := snapshotTTL
	if p.config.MaxSessionDuration > 0 {
		ttl = p.config.MaxSessionDuration + time.Minute
	}
	if err := p.cache.Set(ctx, snapshotKey(active.CallID()), data, ttl); err != nil {
		p.logger.WarnWithError(ctx, "failed to save session snapshot", err)
	}
}
