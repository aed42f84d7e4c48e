package events

import (
	"strconv"
	"strings"
)

const (
	// TypeChangeProposed is emitted when a timelocked parameter change is queued.
	TypeChangeProposed = "timelock.proposed"
	// TypeChangeExecuted is emitted when a queued change is applied.
	TypeChangeExecuted = "timelock.executed"
	// TypeChangeCancelled is emitted when a queued change is discarded.
	TypeChangeCancelled = "timelock.cancelled"
)

// ChangeProposed records the parameter, its proposed value, and the earliest
// execution timestamp.
type ChangeProposed struct {
	Parameter    string
	NewValue     string
	ExecuteAfter int64
}

func (ChangeProposed) EventType() string { return TypeChangeProposed }

func (e ChangeProposed) Attributes() map[string]string {
	return map[string]string{
		"parameter":    strings.TrimSpace(e.Parameter),
		"newValue":     e.NewValue,
		"executeAfter": strconv.FormatInt(e.ExecuteAfter, 10),
	}
}

// ChangeExecuted records the value transition applied by the timelock.
type ChangeExecuted struct {
	Parameter string
	OldValue  string
	NewValue  string
}

func (ChangeExecuted) EventType() string { return TypeChangeExecuted }

func (e ChangeExecuted) Attributes() map[string]string {
	return map[string]string{
		"parameter": strings.TrimSpace(e.Parameter),
		"oldValue":  e.OldValue,
		"newValue":  e.NewValue,
	}
}

// ChangeCancelled records the discarded value.
type ChangeCancelled struct {
	Parameter string
	NewValue  string
}

func (ChangeCancelled) EventType() string { return TypeChangeCancelled }

func (e ChangeCancelled) Attributes() map[string]string {
	return map[string]string{
		"parameter": strings.TrimSpace(e.Parameter),
		"newValue":  e.NewValue,
	}
}
