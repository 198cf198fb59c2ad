package opqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Engine is the replay state machine: it durably queues operations while
// the remote system is unreachable and replays them through registered
// handlers once connectivity returns. At most one replay pass runs at a
// time; the syncing flag is the single-flight guard.
type Engine struct {
	store *Store
	log   *slog.Logger

	mu       sync.Mutex
	handlers []SyncHandler
	syncing  bool
	online   bool
	queued   int
	lastSync *time.Time
	lastErr  string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger overrides the engine's logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// NewEngine builds an engine over store. The initial online state is read
// from conn, and every offline-to-online transition triggers a background
// replay pass. conn may be nil for hosts that call SetOnline themselves;
// such engines start online.
func NewEngine(store *Store, conn Connectivity, opts ...Option) *Engine {
	e := &Engine{store: store, log: slog.Default(), online: true}
	for _, opt := range opts {
		opt(e)
	}
	if conn != nil {
		e.online = conn.Online()
		conn.OnChange(e.SetOnline)
	}
	// Pick up whatever survived the last process.
	e.refreshQueued(context.Background())
	return e
}

// OnSync registers a handler invoked for every operation during replay, in
// registration order. All registered handlers must succeed for an
// operation to count as synced.
func (e *Engine) OnSync(h SyncHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, h)
}

// SetOnline records a connectivity transition. Coming online triggers a
// background replay pass; going offline leaves the queue untouched.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	was := e.online
	e.online = online
	e.mu.Unlock()
	if online && !was {
		e.log.Info("connectivity restored, triggering sync")
		go e.Sync(context.Background())
	}
}

// Online reports the engine's view of connectivity.
func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// Enqueue durably records an operation and returns its id. A storage write
// failure is returned to the caller; nothing is silently dropped. If the
// engine is online and idle, a background replay pass is started — the
// caller never waits on replay.
func (e *Engine) Enqueue(ctx context.Context, opType string, payload json.RawMessage, opts ...EnqueueOption) (string, error) {
	op := Operation{
		ID:              uuid.New().String(),
		Type:            opType,
		Payload:         payload,
		QueuedAt:        time.Now().UTC(),
		MaxRetries:      DefaultMaxRetries,
		RequiresNetwork: true,
	}
	for _, opt := range opts {
		opt(&op)
	}
	if err := e.store.Put(ctx, op); err != nil {
		return "", err
	}
	e.refreshQueued(ctx)
	e.log.Debug("operation enqueued", "id", op.ID, "type", op.Type, "priority", op.Priority)
	e.triggerSync()
	return op.ID, nil
}

// Sync runs one replay pass over the active queue, in (priority desc,
// queued_at asc) order. It is a no-op while a pass is already running or
// while offline. Handler failures are absorbed per operation; storage
// failures abort the remainder of the pass and surface through
// Status().LastError.
func (e *Engine) Sync(ctx context.Context) {
	e.mu.Lock()
	if e.syncing || !e.online {
		e.mu.Unlock()
		return
	}
	e.syncing = true
	e.lastErr = ""
	handlers := append([]SyncHandler(nil), e.handlers...)
	e.mu.Unlock()

	defer func() {
		e.refreshQueued(ctx)
		e.mu.Lock()
		e.syncing = false
		e.mu.Unlock()
	}()

	ops, err := e.store.GetAllQueued(ctx)
	if err != nil {
		e.failPass(fmt.Errorf("load queue: %w", err))
		return
	}
	sortOperations(ops)

	for _, op := range ops {
		if op.RequiresNetwork && !e.Online() {
			// Connectivity dropped mid-pass: degrade to offline-capable work.
			e.log.Debug("skipping network operation while offline", "id", op.ID, "type", op.Type)
			continue
		}
		if herr := runHandlers(ctx, handlers, op); herr != nil {
			if err := e.recordFailure(ctx, op, herr); err != nil {
				e.failPass(err)
				return
			}
			continue
		}
		if err := e.store.Remove(ctx, op.ID); err != nil {
			e.failPass(fmt.Errorf("remove synced operation %s: %w", op.ID, err))
			return
		}
		e.log.Info("operation synced", "id", op.ID, "type", op.Type)
	}

	now := time.Now().UTC()
	e.mu.Lock()
	e.lastSync = &now
	e.mu.Unlock()
}

// recordFailure books one failed attempt. Within budget the operation is
// persisted back with its original queued_at and priority so its replay
// position survives across passes; on budget exhaustion it is quarantined.
func (e *Engine) recordFailure(ctx context.Context, op Operation, cause error) error {
	op.RetryCount++
	op.LastError = cause.Error()
	if op.RetryCount >= op.MaxRetries {
		now := time.Now().UTC()
		op.FailedAt = &now
		if err := e.store.MoveToFailed(ctx, op); err != nil {
			return err
		}
		e.log.Warn("operation quarantined",
			"id", op.ID,
			"type", op.Type,
			"retries", op.RetryCount,
			"error", cause,
		)
		return nil
	}
	if err := e.store.Put(ctx, op); err != nil {
		return fmt.Errorf("persist retry for %s: %w", op.ID, err)
	}
	e.log.Warn("operation failed, will retry",
		"id", op.ID,
		"type", op.Type,
		"attempt", op.RetryCount,
		"max_retries", op.MaxRetries,
		"error", cause,
	)
	return nil
}

func (e *Engine) failPass(err error) {
	e.log.Error("sync pass aborted", "error", err)
	e.mu.Lock()
	e.lastErr = err.Error()
	e.mu.Unlock()
}

// triggerSync starts a background pass when the engine is online and idle.
// Pass errors land in Status().LastError, never in the triggering caller.
func (e *Engine) triggerSync() {
	e.mu.Lock()
	trigger := e.online && !e.syncing
	e.mu.Unlock()
	if trigger {
		go e.Sync(context.Background())
	}
}

func (e *Engine) refreshQueued(ctx context.Context) {
	n, err := e.store.CountQueued(ctx)
	if err != nil {
		e.log.Warn("count queued failed", "error", err)
		return
	}
	e.mu.Lock()
	e.queued = n
	e.mu.Unlock()
}

// Status returns a snapshot of engine state.
func (e *Engine) Status() SyncStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := SyncStatus{
		Syncing:          e.syncing,
		QueuedOperations: e.queued,
		LastError:        e.lastErr,
		IsOnline:         e.online,
	}
	if e.lastSync != nil {
		t := *e.lastSync
		st.LastSync = &t
	}
	return st
}

// QueuedOperations returns the active queue in replay order.
func (e *Engine) QueuedOperations(ctx context.Context) ([]Operation, error) {
	ops, err := e.store.GetAllQueued(ctx)
	if err != nil {
		return nil, err
	}
	sortOperations(ops)
	return ops, nil
}

// FailedOperations returns quarantined operations, oldest failure first.
func (e *Engine) FailedOperations(ctx context.Context) ([]Operation, error) {
	ops, err := e.store.GetAllFailed(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(ops, func(i, j int) bool {
		ti, tj := ops[i].FailedAt, ops[j].FailedAt
		if ti != nil && tj != nil && !ti.Equal(*tj) {
			return ti.Before(*tj)
		}
		return ops[i].QueuedAt.Before(ops[j].QueuedAt)
	})
	return ops, nil
}

// RetryFailedOperation moves a quarantined operation back to the active
// queue with a fresh retry budget, then triggers a pass if online. Returns
// ErrNotFound for unknown ids.
func (e *Engine) RetryFailedOperation(ctx context.Context, id string) error {
	op, err := e.store.Restore(ctx, id)
	if err != nil {
		return err
	}
	e.refreshQueued(ctx)
	e.log.Info("operation restored from quarantine", "id", op.ID, "type", op.Type)
	e.triggerSync()
	return nil
}

// RetryAllFailed resurrects every quarantined operation, returning how many
// were moved.
func (e *Engine) RetryAllFailed(ctx context.Context) (int, error) {
	ops, err := e.store.GetAllFailed(ctx)
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, op := range ops {
		if _, err := e.store.Restore(ctx, op.ID); err != nil {
			return moved, err
		}
		moved++
	}
	e.refreshQueued(ctx)
	if moved > 0 {
		e.log.Info("restored all quarantined operations", "count", moved)
		e.triggerSync()
	}
	return moved, nil
}

// RemoveOperation deletes an operation from the active queue. Removing an
// unknown id is a no-op.
func (e *Engine) RemoveOperation(ctx context.Context, id string) error {
	if err := e.store.Remove(ctx, id); err != nil {
		return err
	}
	e.refreshQueued(ctx)
	return nil
}

// DiscardFailed permanently drops a quarantined operation. Idempotent.
func (e *Engine) DiscardFailed(ctx context.Context, id string) error {
	return e.store.RemoveFailed(ctx, id)
}

// ClearQueue drops every active operation. The quarantine is untouched.
func (e *Engine) ClearQueue(ctx context.Context) error {
	if err := e.store.ClearQueue(ctx); err != nil {
		return err
	}
	e.refreshQueued(ctx)
	return nil
}

// Stats returns summary counts across both store partitions.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	return e.store.Stats(ctx)
}

// runHandlers invokes every handler sequentially, stopping at the first
// error. A handler panic is contained here and counts as a failed attempt
// for the operation, not a dead pass.
func runHandlers(ctx context.Context, handlers []SyncHandler, op Operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	for _, h := range handlers {
		if err := h(ctx, op); err != nil {
			return err
		}
	}
	return nil
}

// sortOperations orders by priority (high first), then enqueue time,
// giving FIFO within a priority band. The id tiebreak only matters for
// identical timestamps and keeps the order deterministic.
func sortOperations(ops []Operation) {
	sort.SliceStable(ops, func(i, j int) bool {
		if ops[i].Priority != ops[j].Priority {
			return ops[i].Priority > ops[j].Priority
		}
		if !ops[i].QueuedAt.Equal(ops[j].QueuedAt) {
			return ops[i].QueuedAt.Before(ops[j].QueuedAt)
		}
		return ops[i].ID < ops[j].ID
	})
}
