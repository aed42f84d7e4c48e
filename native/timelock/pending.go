package timelock

import (
	"errors"
	"time"
)

var (
	// ErrChangeAlreadyPending indicates a proposal exists for this parameter.
	ErrChangeAlreadyPending = errors.New("timelock: change already pending")
	// ErrNoPendingChange indicates there is nothing queued to execute or cancel.
	ErrNoPendingChange = errors.New("timelock: no pending change")
	// ErrTimelockNotReady indicates the mandatory delay has not yet elapsed.
	ErrTimelockNotReady = errors.New("timelock: not ready")
)

// PendingChange is the generic timelock envelope shared by every mutable
// parameter: exactly one queued value at a time, executable only once the
// delay elapses, cancellable at any point while pending.
type PendingChange[T any] struct {
	newValue     T
	executeAfter time.Time
	pending      bool
}

// Propose queues newValue for execution after the supplied delay. A proposal
// while one is already pending fails; the caller must cancel first.
func (p *PendingChange[T]) Propose(newValue T, now time.Time, delay time.Duration) error {
	if p.pending {
		return ErrChangeAlreadyPending
	}
	p.newValue = newValue
	p.executeAfter = now.Add(delay)
	p.pending = true
	return nil
}

// Execute returns the queued value once the timelock has elapsed and clears
// the envelope. Calls before executeAfter fail without mutating anything.
func (p *PendingChange[T]) Execute(now time.Time) (T, error) {
	var zero T
	if !p.pending {
		return zero, ErrNoPendingChange
	}
	if now.Before(p.executeAfter) {
		return zero, ErrTimelockNotReady
	}
	value := p.newValue
	p.newValue = zero
	p.executeAfter = time.Time{}
	p.pending = false
	return value, nil
}

// Cancel discards the queued value unconditionally.
func (p *PendingChange[T]) Cancel() (T, error) {
	var zero T
	if !p.pending {
		return zero, ErrNoPendingChange
	}
	value := p.newValue
	p.newValue = zero
	p.executeAfter = time.Time{}
	p.pending = false
	return value, nil
}

// Pending reports whether a change is queued.
func (p *PendingChange[T]) Pending() bool { return p.pending }

// Value returns the queued value without consuming it.
func (p *PendingChange[T]) Value() (T, bool) {
	return p.newValue, p.pending
}

// ExecuteAfter returns the earliest execution timestamp for the queued value.
func (p *PendingChange[T]) ExecuteAfter() (time.Time, bool) {
	return p.executeAfter, p.pending
}
