// Package events defines the domain event envelope and the sinks it is
// delivered to: the audit table, connected dashboards and tests.
package events

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types
const (
	ApprovalRequested = "approvals.requested"
	ApprovalApproved  = "approvals.approved"
	ApprovalRejected  = "approvals.rejected"
	ApprovalExecuted  = "approvals.executed"
	ApprovalFailed    = "approvals.failed"

	ExecutionReleased = "approvals.execution_released"

	WalletDebited             = "wallet.debited"
	WalletCredited            = "wallet.credited"
	WithdrawalOTPIssued       = "wallet.withdrawal_otp_issued"
	WithdrawalConfirmed       = "wallet.withdrawal_confirmed"
	WithdrawalCompleted       = "wallet.withdrawal_completed"
	WithdrawalFailed          = "wallet.withdrawal_failed"
	LedgerReconcileMismatched = "ledger.reconcile_mismatch"
)

// Actor identifies who caused an event. A nil ID means the system.
type Actor struct {
	ID    *uuid.UUID `json:"id"`
	Label string     `json:"label"`
}

// NewActor returns an Actor for a human user.
func NewActor(id uuid.UUID, label string) Actor {
	return Actor{ID: &id, Label: label}
}

// System is the actor used by background jobs and the ops CLI.
var System = Actor{Label: "system"}

// Event is the envelope published for every lifecycle step.
type Event struct {
	ID            uuid.UUID              `json:"id"`
	TenantID      uuid.UUID              `json:"tenant_id"`
	Type          string                 `json:"type"`
	Payload       map[string]interface{} `json:"payload"`
	Actor         Actor                  `json:"actor"`
	CorrelationID string                 `json:"correlation_id"`
	Timestamp     time.Time              `json:"timestamp"`
}

// New builds an event stamped with a fresh id and the current time.
func New(tenantID uuid.UUID, eventType string, actor Actor, correlationID string, payload map[string]interface{}) Event {
	return Event{
		ID:            uuid.New(),
		TenantID:      tenantID,
		Type:          eventType,
		Payload:       payload,
		Actor:         actor,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
	}
}

// Publisher delivers events. Services publish after their transaction commits.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, evt Event) error

func (f PublisherFunc) Publish(ctx context.Context, evt Event) error { return f(ctx, evt) }

// Multi fans an event out to every sink in order. A failing or panicking sink
// does not stop delivery to the rest; their errors are joined.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, p := range m {
		if err := safePublish(ctx, p, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func safePublish(ctx context.Context, p Publisher, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked on %s: %v\n%s", evt.Type, r, debug.Stack())
		}
	}()
	return p.Publish(ctx, evt)
}

// Nop discards events.
var Nop = PublisherFunc(func(context.Context, Event) error { return nil })

// Emit publishes evt and logs, never returns, a delivery failure.
func Emit(ctx context.Context, p Publisher, log zerolog.Logger, evt Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, evt); err != nil {
		log.Error().Err(err).
			Str("event_type", evt.Type).
			Str("correlation_id", evt.CorrelationID).
			Msg("event publish failed")
	}
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns recorded events with the given type.
func (r *Recorder) OfType(eventType string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
