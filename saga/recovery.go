package saga

import (
	"context"

	"github.com/icanact/saga-choreography/logging"
)

// JournalReader is the subset of journal.Store recovery needs, stripped down
// to plain JournalEvents (declared locally to avoid an import cycle with
// saga/journal, which imports saga for SagaID/JournalEvent). The journal
// package provides journal.AsJournalReader to adapt any journal.Store to this
// interface.
type JournalReader interface {
	ListSagas(ctx context.Context) ([]SagaID, error)
	Read(ctx context.Context, sagaID SagaID) ([]JournalEvent, error)
}

// RebuiltState is the participant-local state folded from a saga's journal
// prefix, used to re-arm work across a restart.
type RebuiltState struct {
	SagaID               SagaID
	Phase                phaseTag
	Attempt              int
	LastInput            []byte
	LastOutput           []byte
	LastCompensationData []byte
	LastError            string
	Terminal             bool
}

// Rebuild folds a saga's journal entries, latest-wins per transition marker,
// into the state the participant last persisted before restart.
func Rebuild(sagaID SagaID, events []JournalEvent) RebuiltState {
	state := RebuiltState{SagaID: sagaID}
	for _, e := range events {
		switch e.Type {
		case JournalStepTriggered:
			state.Phase = phaseExecuting
			state.Attempt = 0
			state.LastInput = e.Input
		case JournalStepExecutionStarted:
			state.Phase = phaseExecuting
			state.Attempt = e.Attempt
		case JournalStepExecutionCompleted:
			state.Phase = phaseCompleted
			state.LastOutput = e.Output
			state.LastCompensationData = e.CompensationData
		case JournalStepExecutionFailed:
			state.Phase = phaseNone
			state.LastError = e.Error
			state.Terminal = !e.RequiresCompensation
		case JournalCompensationStarted:
			state.Phase = phaseCompensating
			state.Attempt = e.Attempt
		case JournalCompensationCompleted:
			state.Phase = phaseNone
			state.Terminal = true
		case JournalCompensationFailed:
			state.LastError = e.Error
		case JournalQuarantined:
			state.Phase = phaseNone
			state.Terminal = true
			state.LastError = e.Reason
		}
	}
	return state
}

// Recover replays every saga known to the journal and re-arms the ones that
// were not terminal when the process last stopped: Executing sagas resume
// ExecuteStep with the original input replayed from the saga's
// JournalStepTriggered entry, and Compensating sagas resume CompensateStep
// with the compensation data recorded on JournalStepExecutionCompleted.
// Terminal sagas (Completed as a saga-level outcome, Compensated,
// Quarantined) are skipped.
//
// Recover does not itself re-publish wire events; it drives the same
// executeAttempt/executeCompensationAttempt paths Handle uses, so the usual
// journal/observer/publish side effects still happen.
func Recover(ctx context.Context, d *Dispatcher, reader JournalReader) error {
	sagaIDs, err := reader.ListSagas(ctx)
	if err != nil {
		return err
	}

	for _, sagaID := range sagaIDs {
		events, err := reader.Read(ctx, sagaID)
		if err != nil {
			d.logger.Error(ctx, "recovery: failed to read journal", logging.Int64("saga_id", int64(sagaID)), logging.Error(err))
			continue
		}
		state := Rebuild(sagaID, events)
		if state.Terminal || state.Phase == phaseNone {
			continue
		}

		// The context carried across a crash cannot be perfectly reconstructed
		// (trace_id is process-local and monotone); recovery mints a fresh one
		// rooted at the same saga/step so the dedupe/journal invariants still
		// hold going forward.
		sagaCtx := NewSagaContext(sagaID, "", d.participant.StepName(), PeerID{})

		switch state.Phase {
		case phaseExecuting:
			attempt := state.Attempt
			if attempt < 1 {
				attempt = 1
			}
			d.mu.Lock()
			d.entries[sagaID] = stateEntry{phase: phaseExecuting, executingAttempt: attempt, lastSagaCtx: sagaCtx}
			d.mu.Unlock()
			if err := d.executeAttempt(ctx, sagaCtx, state.LastInput, attempt); err != nil {
				d.logger.Error(ctx, "recovery: re-execute failed", logging.Int64("saga_id", int64(sagaID)), logging.Error(err))
			}
		case phaseCompensating:
			attempt := state.Attempt
			if attempt < 1 {
				attempt = 1
			}
			d.mu.Lock()
			d.entries[sagaID] = stateEntry{phase: phaseCompensating, compensatingAttempt: attempt, lastSagaCtx: sagaCtx}
			d.mu.Unlock()
			if err := d.executeCompensationAttempt(ctx, sagaCtx, state.LastCompensationData, attempt); err != nil {
				d.logger.Error(ctx, "recovery: re-compensate failed", logging.Int64("saga_id", int64(sagaID)), logging.Error(err))
			}
		case phaseCompleted:
			// Nothing to re-execute; re-populate the in-memory entry so a
			// CompensationRequested arriving after restart still finds the
			// compensation data this step recorded before the crash.
			d.mu.Lock()
			d.entries[sagaID] = stateEntry{
				phase:                      phaseCompleted,
				completedOutput:            state.LastOutput,
				completedCompensationData:  state.LastCompensationData,
				lastSagaCtx:                sagaCtx,
			}
			d.mu.Unlock()
		}
	}
	return nil
}
