package workflow

import (
	"context"
	"fmt"

	"github.com/kaiwen/docverify/internal/domain/entity"
)

// NewLifecycleBuilder returns the transition table for the document
// verification lifecycle:
//
//	pending → processing → ocr_completed → {passed, review_required, failed}
//	{passed, failed, review_required} → archived   (retention sweep)
//	{failed, review_required} → pending            (reprocess)
//	any non-archived state → failed                (unrecoverable error)
func NewLifecycleBuilder() StateMachineBuilder {
	b := NewBuilder()

	b.Configure(StatePending).
		Permit(TriggerDispatch, StateProcessing).
		Permit(TriggerFail, StateFailed)

	b.Configure(StateProcessing).
		Permit(TriggerOCRSucceeded, StateOCRCompleted).
		Permit(TriggerFail, StateFailed)

	b.Configure(StateOCRCompleted).
		Permit(TriggerPass, StatePassed).
		Permit(TriggerRequestReview, StateReviewRequired).
		Permit(TriggerFail, StateFailed)

	b.Configure(StatePassed).
		Permit(TriggerArchive, StateArchived)

	b.Configure(StateFailed).
		Permit(TriggerArchive, StateArchived).
		Permit(TriggerReprocess, StatePending)

	b.Configure(StateReviewRequired).
		Permit(TriggerPass, StatePassed).
		Permit(TriggerFail, StateFailed).
		Permit(TriggerArchive, StateArchived).
		Permit(TriggerReprocess, StatePending)

	return b
}

// Lifecycle binds a state machine to a document so every fired transition
// updates the document's status and appends to its processing history.
type Lifecycle struct {
	doc     *entity.Document
	machine StateMachine
}

// NewLifecycle builds a lifecycle machine positioned at the document's
// current status. Returns an error if the stored status is not a valid
// lifecycle state.
func NewLifecycle(doc *entity.Document) (*Lifecycle, error) {
	state := State(doc.Status)
	if !state.IsValid() {
		return nil, fmt.Errorf("%w: document %s has status %q", ErrInvalidState, doc.ID, doc.Status)
	}

	lc := &Lifecycle{doc: doc}
	lc.machine = NewLifecycleBuilder().
		OnTransition(func(ctx context.Context, from, to State, trigger Trigger) {
			lc.doc.ApplyStatus(to.String(), metadataFrom(ctx))
		}).
		Build(state)
	return lc, nil
}

// State returns the document's current lifecycle state
func (l *Lifecycle) State() State {
	return l.machine.State()
}

// CanFire reports whether the trigger is permitted from the current state
func (l *Lifecycle) CanFire(trigger Trigger) bool {
	return l.machine.CanFire(trigger)
}

// Fire executes the trigger, mutating the bound document on success
func (l *Lifecycle) Fire(ctx context.Context, trigger Trigger) error {
	return l.machine.Fire(ctx, trigger)
}

type metadataKey struct{}

// WithMetadata attaches extra key-value pairs to the status_changed history
// entry recorded by the next Fire on this context.
func WithMetadata(ctx context.Context, metadata map[string]interface{}) context.Context {
	return context.WithValue(ctx, metadataKey{}, metadata)
}

func metadataFrom(ctx context.Context) map[string]interface{} {
	if md, ok := ctx.Value(metadataKey{}).(map[string]interface{}); ok {
		return md
	}
	return nil
}
