package automation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ai-hotline/internal/apperr"
	"ai-hotline/internal/identity"
	"ai-hotline/internal/observability"
	"ai-hotline/internal/providers/resilience"
	"ai-hotline/internal/store"
	"ai-hotline/internal/workers"

	"github.com/google/uuid"
)

const jobTypeAction = "automation_action"

// TenantResolver loads the tenant an action runs for.
type TenantResolver interface {
	Resolve(ctx context.Context, tenantID uuid.UUID) (*identity.Tenant, error)
}

// ExecutionStore records executions. Writes are best effort.
type ExecutionStore interface {
	Available() bool
	RecordAutomationExecution(ctx context.Context, exec store.AutomationExecution) error
	ListAutomationExecutions(ctx context.Context, tenantID uuid.UUID, limit int) ([]store.AutomationExecution, error)
}

type DispatcherConfig struct {
	Workers   int
	QueueSize int
	Retry     resilience.RetryConfig
}

type Dispatcher struct {
	mu      sync.RWMutex
	actions map[string]Action
	rules   []Rule

	tenants TenantResolver
	store   ExecutionStore
	retryer *resilience.Retryer
	pool    workers.WorkerPool
	metrics *observability.Metrics
	logger  *observability.Logger
}

func NewDispatcher(
	cfg DispatcherConfig,
	tenants TenantResolver,
	executions ExecutionStore,
	metrics *observability.Metrics,
	logger *observability.Logger,
) *Dispatcher {
	retry := cfg.Retry
	if retry.MaxRetries == 0 && retry.InitialDelay == 0 {
		retry = resilience.RetryConfig{MaxRetries: 2, InitialDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second, Jitter: 0.25}
	}
	retry.IsRetryable = isRetryable

	d := &Dispatcher{
		actions: map[string]Action{},
		tenants: tenants,
		store:   executions,
		retryer: resilience.NewRetryer(retry),
		metrics: metrics,
		logger:  logger,
	}
	d.SetRules(DefaultRules())
	d.pool = workers.NewWorkerPool(workers.WorkerPoolConfig{
		NumWorkers: cfg.Workers,
		QueueSize:  cfg.QueueSize,
	}, d, logger)
	return d
}

func (d *Dispatcher) Name() string { return "automation" }

func (d *Dispatcher) Start(ctx context.Context) error { return d.pool.Start(ctx) }

func (d *Dispatcher) Drain(ctx context.Context) error { return d.pool.Drain(ctx) }

// Register adds an action. Names are unique.
func (d *Dispatcher) Register(action Action) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.actions[action.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAction, action.Name())
	}
	d.actions[action.Name()] = action
	return nil
}

type ActionInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Actions lists the registered actions by name.
func (d *Dispatcher) Actions() []ActionInfo {
	d.mu.RLock()
	out := make([]ActionInfo, 0, len(d.actions))
	for _, a := range d.actions {
		out = append(out, ActionInfo{Name: a.Name(), Description: a.Description()})
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (d *Dispatcher) SetRules(rules []Rule) {
	compiled := make([]Rule, len(rules))
	for i, r := range rules {
		r := r
		r.compile()
		compiled[i] = r
	}
	d.mu.Lock()
	d.rules = compiled
	d.mu.Unlock()
}

func (d *Dispatcher) Rules() []Rule {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Rule(nil), d.rules...)
}

// Detect returns the rules whose keywords appear in any of texts, once per intent, in rule order.
func (d *Dispatcher) Detect(texts ...string) []Rule {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Rule
	seen := map[string]bool{}
	for _, rule := range d.rules {
		rule := rule
		if seen[rule.Intent] {
			continue
		}
		for _, text := range texts {
			if rule.matches(text) {
				seen[rule.Intent] = true
				out = append(out, rule)
				break
			}
		}
	}
	return out
}

func (d *Dispatcher) action(name string) (Action, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.actions[name]
	return a, ok
}

func (d *Dispatcher) prepare(ctx context.Context, req *ActionRequest) (Action, error) {
	tenant, err := d.tenants.Resolve(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	if !tenant.HasFeature(identity.FeatureAutomation) {
		return nil, ErrFeatureDisabled
	}
	action, ok := d.action(req.Action)
	if !ok {
		return nil, apperr.New(ErrUnknownAction.Kind, ErrUnknownAction.Code, ErrUnknownAction.Message).
			WithDetails("action", req.Action)
	}
	req.Tenant = tenant
	return action, nil
}

// Dispatch validates req and queues it. A full queue blocks until ctx is done.
func (d *Dispatcher) Dispatch(ctx context.Context, req ActionRequest) error {
	if _, err := d.prepare(ctx, &req); err != nil {
		return err
	}
	err := d.pool.Submit(ctx, workers.Job{
		ID:       uuid.NewString(),
		Type:     jobTypeAction,
		TenantID: req.TenantID.String(),
		Payload:  req,
	})
	if err != nil {
		return apperr.Wrap(apperr.Workflow, "DISPATCH_FAILED", "failed to queue automation action", err)
	}
	return nil
}

// Execute runs req synchronously.
func (d *Dispatcher) Execute(ctx context.Context, req ActionRequest) (ActionResult, error) {
	action, err := d.prepare(ctx, &req)
	if err != nil {
		return ActionResult{}, err
	}
	return d.run(ctx, action, req)
}

// Process runs a queued action.
func (d *Dispatcher) Process(ctx context.Context, job workers.Job) error {
	req, ok := job.Payload.(ActionRequest)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s job", job.Payload, job.Type)
	}
	action, ok := d.action(req.Action)
	if !ok {
		return ErrUnknownAction
	}
	_, err := d.run(ctx, action, req)
	return err
}

func (d *Dispatcher) run(ctx context.Context, action Action, req ActionRequest) (ActionResult, error) {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "action", Value: req.Action},
		observability.Field{Key: "intent", Value: req.Intent},
		observability.Field{Key: "call_id", Value: req.CallID.String()},
	)
	start := time.Now()

	var result ActionResult
	err := d.retryer.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = action.Execute(ctx, req)
		return err
	})
	elapsed := time.Since(start)
	d.metrics.ObserveAutomation(req.Action, err)

	if err != nil {
		result.Status = ResultFailed
		d.logger.Error(ctx, "automation action failed", err)
		err = apperr.Wrap(apperr.ActionExecution, "ACTION_FAILED", fmt.Sprintf("%s action failed", req.Action), err)
	} else {
		if result.Status == "" {
			result.Status = ResultSuccess
		}
		d.logger.Info(ctx, "automation action executed", observability.Field{Key: "duration_ms", Value: elapsed.Milliseconds()})
	}
	d.record(ctx, req, result, err, elapsed)
	return result, err
}

func (d *Dispatcher) record(ctx context.Context, req ActionRequest, result ActionResult, execErr error, elapsed time.Duration) {
	if d.store == nil || !d.store.Available() {
		return
	}
	exec := store.AutomationExecution{
		ID:         uuid.New(),
		TenantID:   req.TenantID,
		Action:     req.Action,
		Intent:     req.Intent,
		Status:     result.Status,
		Params:     store.JSONB(req.Params),
		Output:     store.JSONB(result.Output),
		DurationMS: elapsed.Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
	if req.CallID != uuid.Nil {
		callID := req.CallID
		exec.CallID = &callID
	}
	if execErr != nil {
		msg := execErr.Error()
		exec.Error = &msg
	}
	if err := d.store.RecordAutomationExecution(context.WithoutCancel(ctx), exec); err != nil {
		d.logger.WarnWithError(ctx, "failed to record automation execution", err)
	}
}

type Execution struct {
	ID         uuid.UUID              `json:"id"`
	CallID     *uuid.UUID             `json:"call_id,omitempty"`
	Action     string                 `json:"action"`
	Intent     string                 `json:"intent"`
	Status     string                 `json:"status"`
	Params     map[string]interface{} `json:"params,omitempty"`
	Output     map[string]interface{} `json:"output,omitempty"`
	Error      string                 `json:"error,omitempty"`
	DurationMS int64                  `json:"duration_ms"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Executions lists the tenant's most recent executions. It is empty while the database is down.
func (d *Dispatcher) Executions(ctx context.Context, tenantID uuid.UUID, limit int) ([]Execution, error) {
	if d.store == nil || !d.store.Available() {
		return []Execution{}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	recs, err := d.store.ListAutomationExecutions(ctx, tenantID, limit)
	if err != nil {
		d.logger.Error(ctx, "failed to list automation executions", err)
		return nil, apperr.Wrap(apperr.Database, "EXECUTION_LIST_FAILED", "failed to list automation executions", err)
	}
	out := make([]Execution, len(recs))
	for i, r := range recs {
		out[i] = Execution{
			ID:         r.ID,
			CallID:     r.CallID,
			Action:     r.Action,
			Intent:     r.Intent,
			Status:     r.Status,
			Params:     r.Params,
			Output:     r.Output,
			DurationMS: r.DurationMS,
			CreatedAt:  r.CreatedAt,
		}
		if r.Error != nil {
			out[i].Error = *r.Error
		}
	}
	return out, nil
}
