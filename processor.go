package opqueue

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
)

// SubjectEnqueue is the subject space the Processor listens on. Producers
// publish to ops.enqueue.<type>.
const SubjectEnqueue = "ops.enqueue"

// EnqueueRequest is the wire form of an enqueue arriving over NATS.
// Omitted fields take the engine defaults.
type EnqueueRequest struct {
	Type            string          `json:"type"`
	Payload         json.RawMessage `json:"payload"`
	Priority        int             `json:"priority,omitempty"`
	MaxRetries      *int            `json:"max_retries,omitempty"`
	RequiresNetwork *bool           `json:"requires_network,omitempty"`
}

// Processor turns NATS messages on ops.enqueue.<type> into queued
// operations, for producers that hand their deferred writes to the queue
// over the wire instead of calling Enqueue directly.
type Processor struct {
	engine *Engine
}

// NewProcessor creates a processor feeding engine.
func NewProcessor(engine *Engine) *Processor {
	return &Processor{engine: engine}
}

// Subscribe attaches the processor to nc on ops.enqueue.>.
func (p *Processor) Subscribe(nc *nats.Conn) (*nats.Subscription, error) {
	return nc.Subscribe(SubjectEnqueue+".>", func(msg *nats.Msg) {
		p.Process(context.Background(), msg.Subject, msg.Data)
	})
}

// Process decodes one enqueue request. subject is the NATS subject the
// message arrived on (e.g. "ops.enqueue.event_log"); its last token
// supplies the operation type when the body omits one.
func (p *Processor) Process(ctx context.Context, subject string, data []byte) {
	var req EnqueueRequest
	if err := json.Unmarshal(data, &req); err != nil {
		slog.Warn("processor: malformed enqueue request",
			"subject", subject,
			"error", err,
		)
		return
	}
	if req.Type == "" {
		req.Type = typeFromSubject(subject)
	}

	opts := []EnqueueOption{WithPriority(req.Priority)}
	if req.MaxRetries != nil {
		opts = append(opts, WithMaxRetries(*req.MaxRetries))
	}
	if req.RequiresNetwork != nil && !*req.RequiresNetwork {
		opts = append(opts, WithoutNetwork())
	}

	id, err := p.engine.Enqueue(ctx, req.Type, req.Payload, opts...)
	if err != nil {
		slog.Error("processor: enqueue failed",
			"subject", subject,
			"type", req.Type,
			"error", err,
		)
		return
	}
	slog.Debug("processor: operation enqueued", "id", id, "type", req.Type)
}

func typeFromSubject(subject string) string {
	if i := strings.LastIndex(subject, "."); i >= 0 {
		return subject[i+1:]
	}
	return subject
}
