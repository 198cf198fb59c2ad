package opqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Key prefixes partitioning the backing Storage.
const (
	queuePrefix  = "queue:"
	failedPrefix = "failed:"
)

// ErrNotFound is returned when an operation id is not present in the store
// partition being addressed.
var ErrNotFound = errors.New("operation not found")

// Store provides durable CRUD over Operation records, split into an active
// queue and a failed (quarantine) partition. All mutations are serialized
// by an internal mutex so no record is ever lost between the partitions
// under concurrent enqueue and replay.
type Store struct {
	mu      sync.Mutex
	storage Storage
}

// NewStore creates an operation store over the given Storage.
func NewStore(storage Storage) *Store {
	return &Store{storage: storage}
}

// Put upserts op into the active queue.
func (s *Store) Put(ctx context.Context, op Operation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encode operation %s: %w", op.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.storage.Set(ctx, queuePrefix+op.ID, data); err != nil {
		return fmt.Errorf("write operation %s: %w", op.ID, err)
	}
	return nil
}

// GetAllQueued returns every operation in the active queue, unsorted.
func (s *Store) GetAllQueued(ctx context.Context) ([]Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getAll(ctx, queuePrefix)
}

// GetAllFailed returns every quarantined operation, unsorted.
func (s *Store) GetAllFailed(ctx context.Context) ([]Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getAll(ctx, failedPrefix)
}

func (s *Store) getAll(ctx context.Context, prefix string) ([]Operation, error) {
	keys, err := s.storage.Keys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s keys: %w", prefix, err)
	}
	ops := make([]Operation, 0, len(keys))
	for _, key := range keys {
		data, err := s.storage.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		if data == nil {
			// Removed between the scan and the read.
			continue
		}
		var op Operation
		if err := json.Unmarshal(data, &op); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// Remove deletes an operation from the active queue. Removing an unknown
// id is not an error.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.storage.Remove(ctx, queuePrefix+id); err != nil {
		return fmt.Errorf("remove operation %s: %w", id, err)
	}
	return nil
}

// RemoveFailed deletes an operation from the quarantine. Idempotent.
func (s *Store) RemoveFailed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.storage.Remove(ctx, failedPrefix+id); err != nil {
		return fmt.Errorf("remove failed operation %s: %w", id, err)
	}
	return nil
}

// MoveToFailed quarantines op. The failed copy is written before the queue
// copy is removed, so a crash between the two steps duplicates the record
// rather than losing it.
func (s *Store) MoveToFailed(ctx context.Context, op Operation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encode operation %s: %w", op.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.storage.Set(ctx, failedPrefix+op.ID, data); err != nil {
		return fmt.Errorf("quarantine operation %s: %w", op.ID, err)
	}
	if err := s.storage.Remove(ctx, queuePrefix+op.ID); err != nil {
		return fmt.Errorf("dequeue operation %s: %w", op.ID, err)
	}
	return nil
}

// Restore moves a quarantined operation back to the active queue with its
// retry budget reset. The queue copy is written before the failed copy is
// removed, mirroring MoveToFailed. Returns ErrNotFound for unknown ids.
func (s *Store) Restore(ctx context.Context, id string) (*Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.storage.Get(ctx, failedPrefix+id)
	if err != nil {
		return nil, fmt.Errorf("read failed operation %s: %w", id, err)
	}
	if data == nil {
		return nil, fmt.Errorf("failed operation %s: %w", id, ErrNotFound)
	}
	var op Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("decode failed operation %s: %w", id, err)
	}
	op.RetryCount = 0
	op.LastError = ""
	op.FailedAt = nil
	out, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("encode operation %s: %w", id, err)
	}
	if err := s.storage.Set(ctx, queuePrefix+id, out); err != nil {
		return nil, fmt.Errorf("requeue operation %s: %w", id, err)
	}
	if err := s.storage.Remove(ctx, failedPrefix+id); err != nil {
		return nil, fmt.Errorf("clear quarantined operation %s: %w", id, err)
	}
	return &op, nil
}

// CountQueued returns the number of operations in the active queue.
func (s *Store) CountQueued(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys, err := s.storage.Keys(ctx, queuePrefix)
	if err != nil {
		return 0, fmt.Errorf("count queued: %w", err)
	}
	return len(keys), nil
}

// ClearQueue drops every operation from the active queue. The quarantine
// is left untouched.
func (s *Store) ClearQueue(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys, err := s.storage.Keys(ctx, queuePrefix)
	if err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	for _, key := range keys {
		if err := s.storage.Remove(ctx, key); err != nil {
			return fmt.Errorf("clear queue: remove %s: %w", key, err)
		}
	}
	return nil
}

// Stats summarizes both partitions.
type Stats struct {
	Queued int            `json:"queued"`
	Failed int            `json:"failed"`
	ByType map[string]int `json:"by_type"`
}

// Stats returns summary counts across the active queue and the quarantine.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &Stats{ByType: make(map[string]int)}
	queued, err := s.getAll(ctx, queuePrefix)
	if err != nil {
		return nil, err
	}
	failed, err := s.getAll(ctx, failedPrefix)
	if err != nil {
		return nil, err
	}
	st.Queued = len(queued)
	st.Failed = len(failed)
	for _, op := range queued {
		st.ByType[op.Type]++
	}
	for _, op := range failed {
		st.ByType[op.Type]++
	}
	return st, nil
}
