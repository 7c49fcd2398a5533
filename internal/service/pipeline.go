// Package service implements the pipeline components on top of the ports:
// event routing, classification, parameter resolution, policy, validation,
// execution monitoring and crash recovery.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/OpsPilot/internal/adapter/otel"
	"github.com/Strob0t/OpsPilot/internal/config"
	"github.com/Strob0t/OpsPilot/internal/domain"
	"github.com/Strob0t/OpsPilot/internal/domain/catalog"
	"github.com/Strob0t/OpsPilot/internal/domain/decision"
	"github.com/Strob0t/OpsPilot/internal/domain/event"
	"github.com/Strob0t/OpsPilot/internal/domain/execution"
	"github.com/Strob0t/OpsPilot/internal/domain/phase"
	"github.com/Strob0t/OpsPilot/internal/domain/pipeline"
	"github.com/Strob0t/OpsPilot/internal/domain/policy"
	"github.com/Strob0t/OpsPilot/internal/domain/preflight"
	"github.com/Strob0t/OpsPilot/internal/logger"
	"github.com/Strob0t/OpsPilot/internal/port/broadcast"
	catalogport "github.com/Strob0t/OpsPilot/internal/port/catalog"
	policyport "github.com/Strob0t/OpsPilot/internal/port/policy"
)

const persistTimeout = 5 * time.Second

// SubmitRequest is one user utterance.
type SubmitRequest struct {
	ConversationID string         `json:"conversation_id"`
	CorrelationID  string         `json:"correlation_id,omitempty"`
	TenantID       string         `json:"tenant_id,omitempty"`
	TargetID       string         `json:"target_id,omitempty"`
	TargetOS       string         `json:"target_os,omitempty"`
	Utterance      string         `json:"utterance"`
	Context        map[string]any `json:"context,omitempty"`
}

// PipelineService drives utterances through classification, parameter
// resolution, policy, validation and execution. Each correlation id runs in
// its own session goroutine; sessions share nothing but the router.
type PipelineService struct {
	cfg        config.Pipeline
	router     *Router
	decisions  *DecisionClient
	validation *ValidationMonitor
	executions *ExecutionMonitor
	resolver   *ParameterResolver
	phases     *PhaseTracker
	snapshots  *SnapshotService
	hub        broadcast.Broadcaster
	catalog    catalogport.Lookup
	catalogMax int
	policy     policyport.Evaluator
	metrics    *otel.Metrics
	now        func() time.Time
	newID      func() string

	mu            sync.Mutex
	sessions      map[string]*session
	conversations map[string]string // conversation id -> live correlation id
	closed        bool
	wg            sync.WaitGroup
}

// session is the live state of one correlation id.
type session struct {
	ctx       context.Context
	cancel    context.CancelFunc
	inputs    chan *decision.Decision
	done      chan struct{}
	cancelled atomic.Bool
	context   map[string]any
	targetOS  string

	mu  sync.Mutex
	rec pipeline.Record
}

// NewPipelineService creates a PipelineService with all dependencies.
// snapshots and hub may be nil.
func NewPipelineService(
	router *Router,
	decisions *DecisionClient,
	validation *ValidationMonitor,
	executions *ExecutionMonitor,
	snapshots *SnapshotService,
	hub broadcast.Broadcaster,
	cfg config.Pipeline,
	metrics *otel.Metrics,
) *PipelineService {
	return &PipelineService{
		cfg:           cfg,
		router:        router,
		decisions:     decisions,
		validation:    validation,
		executions:    executions,
		resolver:      NewParameterResolver(),
		phases:        NewPhaseTracker(),
		snapshots:     snapshots,
		hub:           hub,
		metrics:       metrics,
		now:           time.Now,
		newID:         uuid.NewString,
		sessions:      make(map[string]*session),
		conversations: make(map[string]string),
	}
}

// SetCatalog sets the catalog consulted for candidate automations before
// classification. limit caps the number of candidates forwarded.
func (p *PipelineService) SetCatalog(lookup catalogport.Lookup, limit int) {
	p.catalog = lookup
	p.catalogMax = limit
}

// SetPolicy sets the command policy evaluated before validation.
func (p *PipelineService) SetPolicy(ev policyport.Evaluator) {
	p.policy = ev
}

// Submit starts a pipeline for req and returns its correlation id. A live
// pipeline of the same conversation is abandoned.
func (p *PipelineService) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if strings.TrimSpace(req.Utterance) == "" {
		return "", fmt.Errorf("utterance is required: %w", domain.ErrValidation)
	}
	if req.ConversationID == "" {
		return "", fmt.Errorf("conversation_id is required: %w", domain.ErrValidation)
	}
	cid := req.CorrelationID
	if cid == "" {
		cid = p.newID()
	}
	targetID := req.TargetID
	if targetID == "" {
		targetID = p.cfg.DefaultTarget
	}

	now := p.now()
	rec := pipeline.Record{
		CorrelationID:  cid,
		ConversationID: req.ConversationID,
		TenantID:       req.TenantID,
		TargetID:       targetID,
		Utterance:      req.Utterance,
		Phase:          phase.State{Phase: phase.Idle},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", errors.New("pipeline service is shutting down")
	}
	if _, live := p.sessions[cid]; live || p.router.Abandoned(cid) {
		p.mu.Unlock()
		return "", fmt.Errorf("correlation id %s already used: %w", cid, domain.ErrConflict)
	}
	prev := p.conversations[req.ConversationID]
	s := p.register(ctx, rec)
	s.context = maps.Clone(req.Context)
	s.targetOS = req.TargetOS
	p.mu.Unlock()

	if prev != "" {
		p.abandon(ctx, prev)
	}

	p.phases.Restore(cid, rec.Phase)
	p.metrics.PipelineStarted(ctx)
	p.persist(s)
	slog.InfoContext(s.ctx, "pipeline submitted", "conversation_id", req.ConversationID, "target_id", targetID)

	go p.run(s, p.start)
	return cid, nil
}

// SubmitParameters completes the parameters a pipeline is waiting for and
// returns the superseding decision. Invalid values yield a
// *pipeline.ParameterValidationError and leave the pipeline waiting.
func (p *PipelineService) SubmitParameters(ctx context.Context, cid string, values map[string]string) (*decision.Decision, error) {
	s, err := p.live(ctx, cid)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.rec.Awaiting != pipeline.AwaitParameters {
		s.mu.Unlock()
		return nil, fmt.Errorf("pipeline %s is not awaiting parameters: %w", cid, domain.ErrConflict)
	}
	next, err := p.resolver.Submit(s.rec.Decision, s.rec.Parameters, values)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.rec.Awaiting = pipeline.AwaitNothing
	s.rec.Parameters = nil
	s.mu.Unlock()

	s.inputs <- next
	return next.Clone(), nil
}

// ConfirmExecution releases a pipeline waiting for explicit confirmation.
func (p *PipelineService) ConfirmExecution(ctx context.Context, cid string) (*decision.Decision, error) {
	s, err := p.live(ctx, cid)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.rec.Awaiting != pipeline.AwaitConfirmation {
		s.mu.Unlock()
		return nil, fmt.Errorf("pipeline %s is not awaiting confirmation: %w", cid, domain.ErrConflict)
	}
	next, err := s.rec.Decision.Confirm(p.now())
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("confirm %s: %w", cid, err)
	}
	s.rec.Awaiting = pipeline.AwaitNothing
	s.mu.Unlock()

	s.inputs <- next
	return next.Clone(), nil
}

// Cancel stops a live pipeline. A running execution is asked to stop, the
// correlation id is abandoned and the pipeline fails as cancelled. Cancel
// returns once the failure is recorded or ctx ends.
func (p *PipelineService) Cancel(ctx context.Context, cid string) error {
	s, err := p.live(ctx, cid)
	if err != nil {
		return err
	}
	if s.cancelled.CompareAndSwap(false, true) {
		s.mu.Lock()
		run := s.rec.Run.Clone()
		s.mu.Unlock()
		if run != nil && !run.Terminal() {
			if err := p.executions.Cancel(ctx, cid, run.ID, "cancelled by user"); err != nil {
				slog.WarnContext(ctx, "send execution cancel", "correlation_id", cid, "error", err)
			}
		}
		p.router.Abandon(cid)
		s.cancel()
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the live record of cid, falling back to the snapshot store.
func (p *PipelineService) Status(ctx context.Context, cid string) (*pipeline.Record, error) {
	p.mu.Lock()
	s, ok := p.sessions[cid]
	p.mu.Unlock()
	if ok {
		return s.snapshot(), nil
	}
	if p.snapshots == nil {
		return nil, fmt.Errorf("pipeline %s: %w", cid, domain.ErrNotFound)
	}
	return p.snapshots.Load(ctx, cid)
}

// Resume rebuilds a session from its snapshot. Only pipelines that were
// waiting for input or confirmation, or were mid-execution, can resume.
func (p *PipelineService) Resume(ctx context.Context, cid string) error {
	if p.snapshots == nil {
		return fmt.Errorf("pipeline %s: %w", cid, domain.ErrNotFound)
	}
	rec, err := p.snapshots.Load(ctx, cid)
	if err != nil {
		return err
	}
	if !rec.Resumable() || p.router.Abandoned(cid) {
		return fmt.Errorf("pipeline %s cannot be resumed: %w", cid, domain.ErrConflict)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("pipeline service is shutting down")
	}
	if _, live := p.sessions[cid]; live {
		p.mu.Unlock()
		return fmt.Errorf("pipeline %s is already running: %w", cid, domain.ErrConflict)
	}
	if other, ok := p.conversations[rec.ConversationID]; ok {
		p.mu.Unlock()
		return fmt.Errorf("conversation %s continued with %s: %w", rec.ConversationID, other, domain.ErrConflict)
	}
	s := p.register(ctx, *rec)
	p.mu.Unlock()

	p.phases.Restore(cid, rec.Phase)
	slog.InfoContext(s.ctx, "pipeline resumed", "phase", rec.Phase.Phase, "awaiting", rec.Awaiting)
	go p.run(s, func(ctx context.Context, s *session) error {
		return p.resume(ctx, s, rec)
	})
	return nil
}

// Close stops all sessions without failing them, so their snapshots stay
// resumable, and waits for the session goroutines to exit.
func (p *PipelineService) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	for _, s := range p.sessions {
		s.cancel()
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// register creates and indexes a session. p.mu must be held.
func (p *PipelineService) register(ctx context.Context, rec pipeline.Record) *session {
	base := logger.WithCorrelationID(context.WithoutCancel(ctx), rec.CorrelationID)
	sctx, cancel := context.WithCancel(base)
	s := &session{
		ctx:    sctx,
		cancel: cancel,
		inputs: make(chan *decision.Decision, 1),
		done:   make(chan struct{}),
		rec:    rec,
	}
	p.sessions[rec.CorrelationID] = s
	p.conversations[rec.ConversationID] = rec.CorrelationID
	p.wg.Add(1)
	return s
}

func (p *PipelineService) release(s *session) {
	cid := s.rec.CorrelationID
	p.mu.Lock()
	delete(p.sessions, cid)
	if p.conversations[s.rec.ConversationID] == cid {
		delete(p.conversations, s.rec.ConversationID)
	}
	p.mu.Unlock()
	p.phases.Forget(cid)
	s.cancel()
	close(s.done)
}

func (p *PipelineService) live(ctx context.Context, cid string) (*session, error) {
	p.mu.Lock()
	s, ok := p.sessions[cid]
	p.mu.Unlock()
	if ok {
		return s, nil
	}
	if p.snapshots != nil {
		if _, err := p.snapshots.Load(ctx, cid); err == nil {
			return nil, fmt.Errorf("pipeline %s is not running: %w", cid, domain.ErrConflict)
		}
	}
	return nil, fmt.Errorf("pipeline %s: %w", cid, domain.ErrNotFound)
}

func (p *PipelineService) abandon(ctx context.Context, cid string) {
	p.mu.Lock()
	s, ok := p.sessions[cid]
	p.mu.Unlock()
	p.router.Abandon(cid)
	if ok {
		s.cancel()
	}
	slog.InfoContext(ctx, "pipeline abandoned", "correlation_id", cid)
}

// run executes body in the session goroutine and records how it ended.
func (p *PipelineService) run(s *session, body func(context.Context, *session) error) {
	defer p.wg.Done()
	defer p.release(s)

	cid := s.rec.CorrelationID
	ctx, span := otel.StartPipelineSpan(s.ctx, cid, s.rec.ConversationID)
	err := body(ctx, s)
	otel.EndSpan(span, err)

	switch {
	case err == nil:
		p.finish(ctx, s)
	case s.cancelled.Load():
		p.fail(ctx, s, pipeline.ErrCancelled)
	case p.router.Abandoned(cid):
		s.mu.Lock()
		s.rec.Abandoned = true
		s.rec.Awaiting = pipeline.AwaitNothing
		s.mu.Unlock()
		p.persist(s)
		slog.DebugContext(ctx, "abandoned pipeline stopped", "error", err)
	case errors.Is(err, context.Canceled):
		p.persist(s)
		slog.InfoContext(ctx, "pipeline suspended")
	default:
		p.fail(ctx, s, err)
	}
}

func (p *PipelineService) start(ctx context.Context, s *session) error {
	d, err := p.classify(ctx, s, p.candidates(ctx, s))
	if err != nil {
		return err
	}
	return p.drive(ctx, s, d)
}

// resume continues from rec, the record loaded by Resume. Inputs submitted
// after registration are already queued on s.inputs and are not re-read
// from the live record.
func (p *PipelineService) resume(ctx context.Context, s *session, rec *pipeline.Record) error {
	switch rec.Awaiting {
	case pipeline.AwaitParameters:
		p.announce(ctx, s, rec.Awaiting, rec.Decision, rec.Parameters)
		next, err := p.wait(ctx, s)
		if err != nil {
			return err
		}
		return p.drive(ctx, s, next)
	case pipeline.AwaitConfirmation:
		p.announce(ctx, s, rec.Awaiting, rec.Decision, nil)
		next, err := p.wait(ctx, s)
		if err != nil {
			return err
		}
		p.setDecision(s, next)
		return p.execute(ctx, s, next)
	}

	sctx, span := otel.StartStageSpan(ctx, "execution", rec.CorrelationID)
	run, err := p.executions.Watch(sctx, rec.Run, p.observer(s))
	otel.EndSpan(span, err)
	p.setRun(s, run)
	return err
}

func (p *PipelineService) candidates(ctx context.Context, s *session) []catalog.Candidate {
	if p.catalog == nil {
		return nil
	}
	found, err := p.catalog.Lookup(ctx, catalog.Query{Text: s.rec.Utterance, TargetOS: s.targetOS, Limit: p.catalogMax})
	if err != nil {
		slog.WarnContext(ctx, "catalog lookup failed, classifying without candidates", "error", err)
		return nil
	}
	return found
}

func (p *PipelineService) classify(ctx context.Context, s *session, candidates []catalog.Candidate) (*decision.Decision, error) {
	ctx, span := otel.StartStageSpan(ctx, "classification", s.rec.CorrelationID)
	d, err := p.decisions.Classify(ctx, ClassifyRequest{
		CorrelationID: s.rec.CorrelationID,
		Utterance:     s.rec.Utterance,
		Context:       s.context,
		TargetOS:      s.targetOS,
		Candidates:    candidates,
	}, p.observer(s))
	otel.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	p.setDecision(s, d)
	return d, nil
}

// drive resolves missing parameters and then proceeds with d.
func (p *PipelineService) drive(ctx context.Context, s *session, d *decision.Decision) error {
	if !d.Executable() {
		return nil
	}
	for {
		res := p.resolver.Resolve(d, s.context)
		if res.Err != nil {
			return res.Err
		}
		if res.Ready != nil {
			d = res.Ready
			break
		}
		p.await(ctx, s, pipeline.AwaitParameters, res.Pending, res.NeedsInput)
		next, err := p.wait(ctx, s)
		if err != nil {
			return err
		}
		d = next
	}
	return p.proceed(ctx, s, d)
}

func (p *PipelineService) proceed(ctx context.Context, s *session, d *decision.Decision) error {
	d, err := p.enforcePolicy(ctx, s, d)
	if err != nil {
		return err
	}
	p.setDecision(s, d)

	if d.NeedsValidation() {
		if err := p.validate(ctx, s, d); err != nil {
			return err
		}
	}

	if !d.Confirmed() || !p.cfg.AutoExecute {
		p.await(ctx, s, pipeline.AwaitConfirmation, d, nil)
		next, err := p.wait(ctx, s)
		if err != nil {
			return err
		}
		d = next
		p.setDecision(s, d)
	}
	return p.execute(ctx, s, d)
}

func (p *PipelineService) enforcePolicy(ctx context.Context, s *session, d *decision.Decision) (*decision.Decision, error) {
	if p.policy == nil {
		return d, nil
	}
	ev, err := p.policy.Evaluate(ctx, policy.Request{TenantID: s.rec.TenantID, Commands: d.Commands()})
	if err != nil {
		return nil, fmt.Errorf("evaluate policy: %w", err)
	}
	switch ev.Verdict {
	case policy.VerdictForbid:
		return nil, &pipeline.PolicyError{Reasons: ev.Reasons}
	case policy.VerdictConfirm:
		if d.Confirmed() {
			slog.InfoContext(ctx, "policy requires confirmation", "profile", ev.Profile, "reasons", ev.Reasons)
			return d.RequireConfirmation(p.now()), nil
		}
	}
	return d, nil
}

func (p *PipelineService) validate(ctx context.Context, s *session, d *decision.Decision) error {
	ctx, span := otel.StartStageSpan(ctx, "validation", s.rec.CorrelationID)
	report, err := p.validation.Run(ctx, s.rec.CorrelationID, s.rec.TargetID, d, p.observer(s))
	otel.EndSpan(span, err)

	s.mu.Lock()
	s.rec.Report = report.Clone()
	s.mu.Unlock()
	p.persist(s)
	return err
}

func (p *PipelineService) execute(ctx context.Context, s *session, d *decision.Decision) error {
	ctx, span := otel.StartStageSpan(ctx, "execution", s.rec.CorrelationID)
	onStart := func(run *execution.Run) {
		p.setRun(s, run)
		p.broadcast(ctx, broadcast.EventRun, broadcast.RunEvent{CorrelationID: run.CorrelationID, Run: run.Clone()})
	}
	run, err := p.executions.Execute(ctx, s.rec.CorrelationID, s.rec.TargetID, d, onStart, p.observer(s))
	otel.EndSpan(span, err)
	p.setRun(s, run)
	return err
}

func (p *PipelineService) await(ctx context.Context, s *session, kind pipeline.Awaiting, d *decision.Decision, params []decision.ParameterDescriptor) {
	s.mu.Lock()
	s.rec.Decision = d.Clone()
	s.rec.Awaiting = kind
	s.rec.Parameters = append([]decision.ParameterDescriptor(nil), params...)
	s.rec.UpdatedAt = p.now()
	s.mu.Unlock()
	p.persist(s)
	p.announce(ctx, s, kind, d, params)
}

func (p *PipelineService) announce(ctx context.Context, s *session, kind pipeline.Awaiting, d *decision.Decision, params []decision.ParameterDescriptor) {
	eventType := broadcast.EventConfirmNeeded
	if kind == pipeline.AwaitParameters {
		eventType = broadcast.EventParametersNeeded
	}
	p.broadcast(ctx, eventType, broadcast.InputEvent{
		CorrelationID: s.rec.CorrelationID,
		Awaiting:      kind,
		Decision:      d.Clone(),
		Parameters:    params,
	})
}

func (p *PipelineService) wait(ctx context.Context, s *session) (*decision.Decision, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d := <-s.inputs:
		return d, nil
	}
}

func (p *PipelineService) setDecision(s *session, d *decision.Decision) {
	s.mu.Lock()
	s.rec.Decision = d.Clone()
	s.rec.UpdatedAt = p.now()
	s.mu.Unlock()
	p.persist(s)
}

func (p *PipelineService) setRun(s *session, run *execution.Run) {
	if run == nil {
		return
	}
	s.mu.Lock()
	s.rec.Run = run.Clone()
	s.rec.UpdatedAt = p.now()
	s.mu.Unlock()
	p.persist(s)
}

// observer folds component events into the session record, advances the
// phase and forwards notifications.
func (p *PipelineService) observer(s *session) Observer {
	return func(ctx context.Context, e *event.Envelope) {
		st, changed := p.phases.Observe(e)
		now := p.now()

		s.mu.Lock()
		s.apply(e, now)
		s.rec.Phase = st
		s.rec.UpdatedAt = now
		eventType, payload := s.notification(e)
		s.mu.Unlock()

		if eventType != "" {
			p.broadcast(ctx, eventType, payload)
		}
		if changed {
			p.phaseChanged(ctx, s, st)
			p.persist(s)
		}
	}
}

func (p *PipelineService) phaseChanged(ctx context.Context, s *session, st phase.State) {
	slog.InfoContext(ctx, "phase changed", "phase", st.Phase, "settled", st.Settled)
	p.broadcast(ctx, broadcast.EventPhaseChanged, broadcast.PhaseEvent{
		CorrelationID:  s.rec.CorrelationID,
		ConversationID: s.rec.ConversationID,
		Phase:          st.Phase,
		Settled:        st.Settled,
	})
}

func (p *PipelineService) finish(ctx context.Context, s *session) {
	s.mu.Lock()
	st := s.rec.Phase
	s.mu.Unlock()
	p.persist(s)
	p.metrics.PipelineFinished(ctx, true, "")
	slog.InfoContext(ctx, "pipeline finished", "phase", st.Phase)
}

// fail converts err into the terminal failed phase and a failure payload.
func (p *PipelineService) fail(ctx context.Context, s *session, err error) {
	f := pipeline.FailureFrom(err)
	topic := phase.TopicFailed
	var pe *pipeline.PolicyError
	switch {
	case errors.As(err, &pe):
		topic = phase.TopicPolicyDenied
	case errors.Is(err, pipeline.ErrCancelled):
		topic = phase.TopicCancelled
	}
	st, changed := p.phases.Signal(s.rec.CorrelationID, phase.Signal{Topic: topic})

	now := p.now()
	s.mu.Lock()
	s.rec.Failure = f
	s.rec.Phase = st
	s.rec.Awaiting = pipeline.AwaitNothing
	s.rec.Parameters = nil
	if s.rec.Run != nil && errors.Is(err, pipeline.ErrCancelled) {
		s.rec.Run.Cancel(now)
	}
	s.rec.UpdatedAt = now
	s.mu.Unlock()

	slog.WarnContext(ctx, "pipeline failed", "category", f.Category, "code", f.Code, "retryable", f.Retryable, "error", err)
	p.broadcast(ctx, broadcast.EventFailure, broadcast.FailureEvent{CorrelationID: s.rec.CorrelationID, Failure: f})
	if changed {
		p.phaseChanged(ctx, s, st)
	}
	p.persist(s)
	p.metrics.PipelineFinished(ctx, false, string(f.Category))
}

func (p *PipelineService) broadcast(ctx context.Context, eventType string, payload any) {
	if p.hub != nil {
		p.hub.BroadcastEvent(ctx, eventType, payload)
	}
}

// persist writes the session record. It outlives session cancellation so
// the final state of a cancelled pipeline is stored.
func (p *PipelineService) persist(s *session) {
	if p.snapshots == nil {
		return
	}
	rec := s.snapshot()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), persistTimeout)
	defer cancel()
	if err := p.snapshots.Save(ctx, rec); err != nil {
		slog.WarnContext(ctx, "snapshot write failed", "error", err)
	}
}

// apply keeps the record's report and run current. s.mu must be held.
func (s *session) apply(e *event.Envelope, now time.Time) {
	switch e.Topic {
	case event.TopicValidationStarted:
		var r preflight.Report
		if err := e.DecodePayload(&r); err == nil {
			s.rec.Report = &r
		}
	case event.TopicValidationCheck:
		var c event.CheckPayload
		if s.rec.Report != nil && e.DecodePayload(&c) == nil {
			s.rec.Report.Record(c)
		}
	case event.TopicValidationDone:
		if s.rec.Report != nil {
			s.rec.Report.Finalize(now)
		}
	case event.TopicValidationTimeout:
		if s.rec.Report != nil {
			s.rec.Report.Timeout(now)
		}
	}
	if e.Topic.Family() == event.FamilyExecution && s.rec.Run != nil {
		_, _ = s.rec.Run.Apply(e, now)
	}
}

// notification maps a component event to a client notification. s.mu must
// be held.
func (s *session) notification(e *event.Envelope) (string, any) {
	cid := s.rec.CorrelationID
	switch e.Topic {
	case event.TopicDecisionToken:
		var t event.TokenPayload
		if e.DecodePayload(&t) != nil {
			return "", nil
		}
		return broadcast.EventDecisionToken, broadcast.TokenEvent{CorrelationID: cid, Text: t.Text}
	case event.TopicDecisionSelected:
		var sel event.SelectedPayload
		if e.DecodePayload(&sel) != nil {
			return "", nil
		}
		d, err := decision.Parse(sel.Decision, cid)
		if err != nil {
			return "", nil
		}
		return broadcast.EventDecisionFinal, broadcast.DecisionEvent{CorrelationID: cid, Decision: d}
	case event.TopicValidationCheck:
		var c event.CheckPayload
		if e.DecodePayload(&c) != nil {
			return "", nil
		}
		return broadcast.EventCheck, broadcast.CheckEvent{CorrelationID: cid, Check: c}
	case event.TopicValidationDone, event.TopicValidationTimeout:
		return broadcast.EventReport, broadcast.ReportEvent{CorrelationID: cid, Report: s.rec.Report.Clone()}
	case event.TopicExecutionStdout:
		var o event.StdoutPayload
		if e.DecodePayload(&o) != nil {
			return "", nil
		}
		return broadcast.EventOutput, broadcast.OutputEvent{CorrelationID: cid, RunID: e.RunID, Line: o.Line}
	}
	if e.Topic.Family() == event.FamilyExecution && s.rec.Run != nil {
		return broadcast.EventRun, broadcast.RunEvent{CorrelationID: cid, Run: s.rec.Run.Clone()}
	}
	return "", nil
}

func (s *session) snapshot() *pipeline.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *session) snapshotLocked() *pipeline.Record {
	rec := s.rec
	rec.Decision = s.rec.Decision.Clone()
	rec.Report = s.rec.Report.Clone()
	rec.Run = s.rec.Run.Clone()
	rec.Parameters = append([]decision.ParameterDescriptor(nil), s.rec.Parameters...)
	if s.rec.Failure != nil {
		f := *s.rec.Failure
		rec.Failure = &f
	}
	return &rec
}
