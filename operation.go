// Package opqueue provides a durable offline operation queue: mutating work
// produced while the remote system is unreachable is persisted locally and
// replayed through caller-registered handlers once connectivity returns.
package opqueue

import (
	"encoding/json"
	"time"
)

// Operation types replayed through the queue. The engine never routes on
// these; they exist for handlers and operators to interpret.
const (
	TypeProductCreate       = "product_create"
	TypeProductUpdate       = "product_update"
	TypeEventLog            = "event_log"
	TypeVerificationRequest = "verification_request"
)

// NATS subjects the Publisher replays operations to.
const (
	SubjectProductCreate       = "ops.product.create"
	SubjectProductUpdate       = "ops.product.update"
	SubjectEventLog            = "ops.event.log"
	SubjectVerificationRequest = "ops.verification.request"
	SubjectUnknown             = "ops.unknown"
)

// DefaultMaxRetries is the retry budget applied when Enqueue is not given
// WithMaxRetries.
const DefaultMaxRetries = 3

// Operation is a unit of deferred work awaiting replay. QueuedAt and
// Priority are fixed at creation and never change on retry, so an
// operation keeps its replay position across passes.
type Operation struct {
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Payload         json.RawMessage `json:"payload"`
	QueuedAt        time.Time       `json:"queued_at"`
	RetryCount      int             `json:"retry_count"`
	MaxRetries      int             `json:"max_retries"`
	Priority        int             `json:"priority"`
	RequiresNetwork bool            `json:"requires_network"`
	LastError       string          `json:"last_error,omitempty"`
	FailedAt        *time.Time      `json:"failed_at,omitempty"`
}

// SubjectForType returns the NATS subject an operation type replays to.
func SubjectForType(opType string) string {
	switch opType {
	case TypeProductCreate:
		return SubjectProductCreate
	case TypeProductUpdate:
		return SubjectProductUpdate
	case TypeEventLog:
		return SubjectEventLog
	case TypeVerificationRequest:
		return SubjectVerificationRequest
	default:
		return SubjectUnknown
	}
}

// EnqueueOption overrides a default on a newly enqueued operation.
type EnqueueOption func(*Operation)

// WithPriority sets the replay priority. Higher is more urgent; default 0.
func WithPriority(p int) EnqueueOption {
	return func(op *Operation) { op.Priority = p }
}

// WithMaxRetries sets the retry budget. Default is DefaultMaxRetries.
func WithMaxRetries(n int) EnqueueOption {
	return func(op *Operation) { op.MaxRetries = n }
}

// WithoutNetwork marks the operation replayable while offline.
func WithoutNetwork() EnqueueOption {
	return func(op *Operation) { op.RequiresNetwork = false }
}

// SyncStatus is a point-in-time snapshot of engine state.
type SyncStatus struct {
	Syncing          bool       `json:"syncing"`
	QueuedOperations int        `json:"queued_operations"`
	LastSync         *time.Time `json:"last_sync,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
	IsOnline         bool       `json:"is_online"`
}
