package opqueue

import (
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
)

// NATSConnectivity derives online/offline state from a NATS client
// connection: a disconnect means the remote system is unreachable, a
// reconnect means replay can resume. It installs itself as the
// connection's disconnect and reconnect handler.
type NATSConnectivity struct {
	mu        sync.Mutex
	online    bool
	callbacks []func(bool)
}

// NewNATSConnectivity wires an observer to nc. The initial state is read
// from the current connection status.
func NewNATSConnectivity(nc *nats.Conn) *NATSConnectivity {
	c := &NATSConnectivity{online: nc.IsConnected()}
	nc.SetDisconnectErrHandler(func(_ *nats.Conn, err error) {
		slog.Warn("nats disconnected", "error", err)
		c.transition(false)
	})
	nc.SetReconnectHandler(func(_ *nats.Conn) {
		slog.Info("nats reconnected")
		c.transition(true)
	})
	return c
}

// Online reports the last observed connection state.
func (c *NATSConnectivity) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// OnChange registers a callback invoked on every state transition.
func (c *NATSConnectivity) OnChange(fn func(online bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, fn)
}

func (c *NATSConnectivity) transition(online bool) {
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

var _ Connectivity = (*NATSConnectivity)(nil)
