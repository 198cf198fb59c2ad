package opqueue

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockStorage is a thread-safe in-memory Storage for unit tests, with
// injectable errors and call counters.
type mockStorage struct {
	mu   sync.Mutex
	data map[string][]byte

	getErr    error
	setErr    error
	removeErr error
	keysErr   error

	setCalls    int
	removeCalls int
}

func newMockStorage() *mockStorage {
	return &mockStorage{data: make(map[string][]byte)}
}

func (m *mockStorage) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (m *mockStorage) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls++
	if m.setErr != nil {
		return m.setErr
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp
	return nil
}

func (m *mockStorage) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeCalls++
	if m.removeErr != nil {
		return m.removeErr
	}
	delete(m.data, key)
	return nil
}

func (m *mockStorage) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keysErr != nil {
		return nil, m.keysErr
	}
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *mockStorage) hasKey(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

// mockConn is a manually driven Connectivity for tests.
type mockConn struct {
	mu        sync.Mutex
	online    bool
	callbacks []func(bool)
}

func (c *mockConn) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *mockConn) OnChange(fn func(online bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, fn)
}

func (c *mockConn) setOnline(online bool) {
	c.mu.Lock()
	if c.online == online {
		c.mu.Unlock()
		return
	}
	c.online = online
	callbacks := append(([]func(bool))(nil), c.callbacks...)
	c.mu.Unlock()
	for _, fn := range callbacks {
		fn(online)
	}
}

// recorder is a SyncHandler that records the operations it sees and
// optionally fails every attempt.
type recorder struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (r *recorder) handle(_ context.Context, op Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, op.ID)
	return r.err
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]string, len(r.ids))
	copy(cp, r.ids)
	return cp
}

// mockNATS captures published messages for test assertions.
type mockNATS struct {
	mu       sync.Mutex
	messages []publishedMsg
	err      error
}

type publishedMsg struct {
	Subject string
	Data    []byte
}

func newMockNATS() *mockNATS {
	return &mockNATS{}
}

func (m *mockNATS) Publish(subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, publishedMsg{Subject: subject, Data: data})
	return nil
}

func (m *mockNATS) published() []publishedMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]publishedMsg, len(m.messages))
	copy(cp, m.messages)
	return cp
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEngine builds an engine over storage with a manually driven
// connectivity observer in the given initial state.
func newTestEngine(storage Storage, online bool) (*Engine, *mockConn) {
	conn := &mockConn{online: online}
	e := NewEngine(NewStore(storage), conn, WithLogger(discardLogger()))
	return e, conn
}

// testOp builds a queued operation with explicit ordering fields.
func testOp(id string, priority int, queuedAt time.Time) Operation {
	return Operation{
		ID:              id,
		Type:            TypeEventLog,
		Payload:         json.RawMessage(`{}`),
		QueuedAt:        queuedAt,
		MaxRetries:      DefaultMaxRetries,
		RequiresNetwork: true,
		Priority:        priority,
	}
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// Verify interfaces at compile time.
var _ Storage = (*mockStorage)(nil)
var _ Connectivity = (*mockConn)(nil)
var _ NATSPublisher = (*mockNATS)(nil)
