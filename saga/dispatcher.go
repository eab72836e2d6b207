package saga

import (
	"context"
	"sync"
	"time"

	"github.com/icanact/saga-choreography/logging"
)

// JournalAppender is the subset of journal.Store the dispatcher needs. It is
// declared locally (instead of importing saga/journal) to avoid a import
// cycle: saga/journal imports saga for SagaID/JournalEvent.
type JournalAppender interface {
	Append(ctx context.Context, sagaID SagaID, event JournalEvent) (sequence uint64, err error)
}

// DedupeGate is the subset of dedupe.Store the dispatcher needs, for the same
// import-cycle reason as JournalAppender.
type DedupeGate interface {
	CheckAndMark(ctx context.Context, sagaID SagaID, key string) (inserted bool, err error)
	Prune(ctx context.Context, sagaID SagaID) error
}

// Publisher is the subset of transport.Transport the dispatcher needs.
type Publisher interface {
	Publish(ctx context.Context, event ChoreographyEvent) error
}

// Dispatcher drives one Participant's step lifecycle: it receives wire
// events, enforces idempotency, tracks each saga's step phase, persists
// to the journal, invokes the participant's business logic, and re-emits
// events. Handle must not be called reentrantly for the same Dispatcher —
// callers are expected to serialize delivery (e.g. one goroutine draining one
// subscription channel), matching the single-threaded actor assumption the
// core is built around.
type Dispatcher struct {
	participant Participant
	journal     JournalAppender
	dedupe      DedupeGate
	publisher   Publisher
	observer    Observer
	logger      logging.ILogger
	stats       ParticipantStats

	mu           sync.Mutex
	entries      map[SagaID]stateEntry
	predecessors map[SagaID]map[string]bool

	sagaTypes map[string]bool
}

type stateEntry struct {
	phase phaseTag
	// the three "live" payload snapshots; only the one matching phase is valid
	completedOutput           []byte
	completedCompensationData []byte
	executingAttempt          int
	compensatingAttempt       int
	lastSagaCtx               SagaContext
}

type phaseTag int

const (
	phaseNone phaseTag = iota
	phaseExecuting
	phaseCompleted
	phaseCompensating
)

// NewDispatcher wires a Participant to its journal, dedupe store, and
// outbound transport.
func NewDispatcher(p Participant, j JournalAppender, d DedupeGate, pub Publisher, observer Observer) *Dispatcher {
	if observer == nil {
		observer = NoopObserver{}
	}
	types := make(map[string]bool, len(p.SagaTypes()))
	for _, t := range p.SagaTypes() {
		types[t] = true
	}
	logger := logging.GetLogger().WithFields(logging.String("component", "saga.dispatcher"), logging.String("step", p.StepName()))
	if err := p.RetryPolicy().Validate(); err != nil {
		logger.Warn(context.Background(), "participant retry policy is misconfigured", logging.Error(err))
	}
	return &Dispatcher{
		participant:  p,
		journal:      j,
		dedupe:       d,
		publisher:    pub,
		observer:     observer,
		logger:       logger,
		entries:      make(map[SagaID]stateEntry),
		predecessors: make(map[SagaID]map[string]bool),
		sagaTypes:    types,
	}
}

// Stats returns a snapshot of this dispatcher's counters.
func (d *Dispatcher) Stats() StatsSnapshot {
	return d.stats.Snapshot()
}

// Handle is the core loop entry point for one inbound wire event.
func (d *Dispatcher) Handle(ctx context.Context, event ChoreographyEvent) error {
	sagaCtx := event.Context()
	if !d.sagaTypes[sagaCtx.SagaType] {
		return nil
	}

	dedupeKey := sagaCtx.DedupeKey(string(event.EventType()))
	inserted, err := d.dedupe.CheckAndMark(ctx, sagaCtx.SagaID, dedupeKey)
	if err != nil {
		d.logger.Error(ctx, "dedupe check failed, proceeding without idempotency guarantee", logging.Error(err))
	} else if !inserted {
		d.stats.duplicateEvents.Add(1)
		return nil
	}

	d.stats.eventsReceived.Add(1)
	d.stats.eventsRelevant.Add(1)

	switch ev := event.(type) {
	case SagaStarted:
		d.observer.OnSagaStarted(ctx, sagaCtx)
		if d.participant.DependsOn().Kind == OnSagaStart {
			return d.runForward(ctx, sagaCtx, string(ev.EventType()), ev.Payload)
		}
		return nil

	case StepCompleted:
		dep := d.participant.DependsOn()
		if dep.Kind == OnSagaStart {
			return nil
		}
		satisfied := d.markPredecessorCompleted(sagaCtx.SagaID, sagaCtx.StepName, dep)
		if !satisfied {
			return nil
		}
		nextCtx := sagaCtx.NextStep(d.participant.StepName())
		return d.runForward(ctx, nextCtx, string(ev.EventType()), ev.Output)

	case CompensationRequested:
		for _, step := range ev.StepsToCompensate {
			if step == d.participant.StepName() {
				return d.runCompensation(ctx, sagaCtx.ForCompensation())
			}
		}
		return nil

	case SagaCompleted:
		d.participant.OnSagaCompleted(ctx, sagaCtx)
		d.observer.OnSagaCompleted(ctx, sagaCtx)
		d.cleanup(ctx, sagaCtx.SagaID)
		return nil

	case SagaFailed:
		d.participant.OnSagaFailed(ctx, sagaCtx, ev.Reason)
		d.observer.OnSagaFailed(ctx, sagaCtx, ev.Reason)
		d.cleanup(ctx, sagaCtx.SagaID)
		return nil

	case SagaQuarantined:
		d.participant.OnQuarantined(ctx, sagaCtx, ev.Reason)
		d.cleanup(ctx, sagaCtx.SagaID)
		return nil

	default:
		return nil
	}
}

// markPredecessorCompleted records that completedStep finished for sagaID and
// reports whether the participant's DependencySpec is now satisfied. For
// After/AnyOf this is stateless; for AllOf it consults (and mutates) the
// per-saga predecessor set.
func (d *Dispatcher) markPredecessorCompleted(sagaID SagaID, completedStep string, dep DependencySpec) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	completed := d.predecessors[sagaID]
	if completed == nil {
		completed = make(map[string]bool)
		d.predecessors[sagaID] = completed
	}

	satisfied := dep.Satisfies(completedStep, completed)
	if dep.Kind == AllOfSteps {
		completed[completedStep] = true
	}
	return satisfied
}

// runForward executes the forward-step procedure described for the
// dispatcher's core loop: Idle -> Triggered -> Executing, persist, invoke,
// transition to Completed/Failed, persist, emit.
func (d *Dispatcher) runForward(ctx context.Context, sagaCtx SagaContext, triggeringEvent string, input []byte) error {
	d.mu.Lock()
	d.entries[sagaCtx.SagaID] = stateEntry{phase: phaseExecuting, executingAttempt: 1, lastSagaCtx: sagaCtx}
	d.mu.Unlock()

	if _, err := d.journal.Append(ctx, sagaCtx.SagaID, JournalEvent{
		Type:            JournalStepTriggered,
		TriggeringEvent: triggeringEvent,
		Input:           input,
	}); err != nil {
		d.logger.Error(ctx, "journal append failed (step triggered)", logging.Error(err))
	}

	d.observer.OnStepStarted(ctx, sagaCtx)
	d.stats.stepsStarted.Add(1)

	return d.executeAttempt(ctx, sagaCtx, input, 1)
}

func (d *Dispatcher) executeAttempt(ctx context.Context, sagaCtx SagaContext, input []byte, attempt int) error {
	if _, err := d.journal.Append(ctx, sagaCtx.SagaID, JournalEvent{
		Type:    JournalStepExecutionStarted,
		Attempt: attempt,
	}); err != nil {
		d.logger.Error(ctx, "journal append failed (execution started)", logging.Error(err))
	}

	timeout := d.participant.StepTimeout()
	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	started := time.Now()
	output, stepErr := d.participant.ExecuteStep(callCtx, sagaCtx, input)
	if stepErr == nil && callCtx.Err() == context.DeadlineExceeded {
		stepErr = RetriableStepError("step execution timed out")
	}

	if stepErr == nil {
		return d.completeForward(ctx, sagaCtx, output, time.Since(started))
	}
	return d.failForward(ctx, sagaCtx, input, stepErr, attempt)
}

func (d *Dispatcher) completeForward(ctx context.Context, sagaCtx SagaContext, output StepOutput, duration time.Duration) error {
	d.mu.Lock()
	d.entries[sagaCtx.SagaID] = stateEntry{
		phase:                      phaseCompleted,
		completedOutput:            output.Output,
		completedCompensationData:  output.CompensationData,
		lastSagaCtx:                sagaCtx,
	}
	d.mu.Unlock()

	// always persist the real compensation data returned by the participant —
	// never write an empty placeholder here.
	if _, err := d.journal.Append(ctx, sagaCtx.SagaID, JournalEvent{
		Type:             JournalStepExecutionCompleted,
		Output:           output.Output,
		CompensationData: output.CompensationData,
	}); err != nil {
		d.logger.Error(ctx, "journal append failed (execution completed)", logging.Error(err))
	}

	d.observer.OnStepCompleted(ctx, sagaCtx, duration)
	d.stats.stepsCompleted.Add(1)

	compensationAvailable := len(output.CompensationData) > 0
	return d.publisher.Publish(ctx, NewStepCompleted(sagaCtx, output.Output, compensationAvailable))
}

func (d *Dispatcher) failForward(ctx context.Context, sagaCtx SagaContext, input []byte, stepErr *StepError, attempt int) error {
	policy := d.participant.RetryPolicy()

	if stepErr.Kind == StepRetriable && attempt < policy.MaxAttempts {
		delay := policy.DelayForAttempt(attempt)
		retryCtx := sagaCtx.Retry()

		d.mu.Lock()
		d.entries[sagaCtx.SagaID] = stateEntry{phase: phaseExecuting, executingAttempt: attempt + 1, lastSagaCtx: retryCtx}
		d.mu.Unlock()

		d.logger.Warn(ctx, "step failed, scheduling retry",
			logging.String("reason", stepErr.Reason), logging.Duration("delay", delay), logging.Int("next_attempt", attempt+1))

		time.AfterFunc(delay, func() {
			d.mu.Lock()
			_, stillExecuting := d.entries[sagaCtx.SagaID]
			d.mu.Unlock()
			if !stillExecuting {
				return
			}
			// the timer goroutine calls executeAttempt itself, so the retried
			// ExecuteStep runs on that goroutine, not inside a serialized
			// Handle call; d.mu guards only the entries map.
			_ = d.executeAttempt(ctx, retryCtx, input, attempt+1)
		})
		return nil
	}

	requiresCompensation := stepErr.Kind == StepRequireCompensation

	d.mu.Lock()
	delete(d.entries, sagaCtx.SagaID)
	d.mu.Unlock()

	if _, err := d.journal.Append(ctx, sagaCtx.SagaID, JournalEvent{
		Type:                 JournalStepExecutionFailed,
		Error:                stepErr.Reason,
		RequiresCompensation: requiresCompensation,
	}); err != nil {
		d.logger.Error(ctx, "journal append failed (execution failed)", logging.Error(err))
	}

	d.observer.OnStepFailed(ctx, sagaCtx, stepErr.Reason)
	d.stats.stepsFailed.Add(1)

	if err := d.publisher.Publish(ctx, NewStepFailed(sagaCtx, stepErr.Reason, false, requiresCompensation)); err != nil {
		return err
	}
	if requiresCompensation {
		return d.publisher.Publish(ctx, NewCompensationRequested(sagaCtx, d.participant.StepName(), stepErr.Reason, d.participant.DependsOn().Steps))
	}
	return nil
}

// runCompensation executes the compensation procedure: Completed ->
// Compensating, persist, invoke, transition to Compensated/Quarantined,
// persist, emit.
func (d *Dispatcher) runCompensation(ctx context.Context, sagaCtx SagaContext) error {
	d.mu.Lock()
	entry, ok := d.entries[sagaCtx.SagaID]
	if !ok || entry.phase != phaseCompleted {
		d.mu.Unlock()
		return nil
	}
	compensationData := entry.completedCompensationData
	d.entries[sagaCtx.SagaID] = stateEntry{phase: phaseCompensating, compensatingAttempt: 1, lastSagaCtx: sagaCtx}
	d.mu.Unlock()

	if _, err := d.journal.Append(ctx, sagaCtx.SagaID, JournalEvent{Type: JournalCompensationStarted, Attempt: 1}); err != nil {
		d.logger.Error(ctx, "journal append failed (compensation started)", logging.Error(err))
	}
	d.observer.OnCompensationStarted(ctx, sagaCtx)
	d.stats.compensationsStarted.Add(1)
	if err := d.publisher.Publish(ctx, NewCompensationStarted(sagaCtx)); err != nil {
		d.logger.Error(ctx, "failed to publish compensation started", logging.Error(err))
	}

	return d.executeCompensationAttempt(ctx, sagaCtx, compensationData, 1)
}

func (d *Dispatcher) executeCompensationAttempt(ctx context.Context, sagaCtx SagaContext, compensationData []byte, attempt int) error {
	timeout := d.participant.StepTimeout()
	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	compErr := d.participant.CompensateStep(callCtx, sagaCtx, compensationData)
	if callCtx.Err() == context.DeadlineExceeded && compErr == nil {
		compErr = SafeToRetryCompensationError("compensation timed out")
	}

	if compErr == nil {
		d.mu.Lock()
		delete(d.entries, sagaCtx.SagaID)
		d.mu.Unlock()

		if _, err := d.journal.Append(ctx, sagaCtx.SagaID, JournalEvent{Type: JournalCompensationCompleted}); err != nil {
			d.logger.Error(ctx, "journal append failed (compensation completed)", logging.Error(err))
		}
		d.participant.OnCompensationCompleted(ctx, sagaCtx)
		d.observer.OnCompensationCompleted(ctx, sagaCtx)
		d.stats.compensationsCompleted.Add(1)
		return d.publisher.Publish(ctx, NewCompensationCompleted(sagaCtx))
	}

	policy := d.participant.RetryPolicy()
	if compErr.Kind == CompensationSafeToRetry && attempt < policy.MaxAttempts {
		delay := policy.DelayForAttempt(attempt)
		retryCtx := sagaCtx.Retry()

		d.mu.Lock()
		d.entries[sagaCtx.SagaID] = stateEntry{phase: phaseCompensating, compensatingAttempt: attempt + 1, lastSagaCtx: retryCtx}
		d.mu.Unlock()

		time.AfterFunc(delay, func() {
			d.mu.Lock()
			_, stillCompensating := d.entries[sagaCtx.SagaID]
			d.mu.Unlock()
			if !stillCompensating {
				return
			}
			_ = d.executeCompensationAttempt(ctx, retryCtx, compensationData, attempt+1)
		})
		return nil
	}

	// Ambiguous, Terminal, or SafeToRetry-but-exhausted: quarantine. This is a
	// terminal, operator-resolved state — no further automatic action.
	d.mu.Lock()
	delete(d.entries, sagaCtx.SagaID)
	d.mu.Unlock()

	isAmbiguous := compErr.Kind == CompensationAmbiguous
	if _, err := d.journal.Append(ctx, sagaCtx.SagaID, JournalEvent{
		Type:        JournalCompensationFailed,
		Error:       compErr.Reason,
		IsAmbiguous: isAmbiguous,
	}); err != nil {
		d.logger.Error(ctx, "journal append failed (compensation failed)", logging.Error(err))
	}
	if err := d.publisher.Publish(ctx, NewCompensationFailed(sagaCtx, compErr.Reason, isAmbiguous)); err != nil {
		d.logger.Error(ctx, "failed to publish compensation failed", logging.Error(err))
	}

	if _, err := d.journal.Append(ctx, sagaCtx.SagaID, JournalEvent{Type: JournalQuarantined, Reason: compErr.Reason}); err != nil {
		d.logger.Error(ctx, "journal append failed (quarantined)", logging.Error(err))
	}
	d.participant.OnQuarantined(ctx, sagaCtx, compErr.Reason)
	d.observer.OnSagaQuarantined(ctx, sagaCtx, compErr.Reason)
	d.stats.quarantinedSagas.Add(1)
	return d.publisher.Publish(ctx, NewSagaQuarantined(sagaCtx, d.participant.StepName(), compErr.Reason))
}

func (d *Dispatcher) cleanup(ctx context.Context, sagaID SagaID) {
	d.mu.Lock()
	delete(d.entries, sagaID)
	delete(d.predecessors, sagaID)
	d.mu.Unlock()

	if err := d.dedupe.Prune(ctx, sagaID); err != nil {
		d.logger.Error(ctx, "dedupe prune failed", logging.Error(err))
	}
}
