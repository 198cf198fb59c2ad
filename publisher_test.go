package opqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func TestPublisher_SubjectPerType(t *testing.T) {
	tests := []struct {
		opType  string
		subject string
	}{
		{TypeProductCreate, SubjectProductCreate},
		{TypeProductUpdate, SubjectProductUpdate},
		{TypeEventLog, SubjectEventLog},
		{TypeVerificationRequest, SubjectVerificationRequest},
		{"mystery", SubjectUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.opType, func(t *testing.T) {
			nc := newMockNATS()
			pub := NewPublisher(nc)

			op := testOp("op-1", 0, time.Now().UTC())
			op.Type = tt.opType
			op.Payload = json.RawMessage(`{"k":"v"}`)

			if err := pub.Handle(context.Background(), op); err != nil {
				t.Fatalf("handle: %v", err)
			}

			msgs := nc.published()
			if len(msgs) != 1 {
				t.Fatalf("expected 1 message, got %d", len(msgs))
			}
			if msgs[0].Subject != tt.subject {
				t.Errorf("expected subject %s, got %s", tt.subject, msgs[0].Subject)
			}
			if !bytes.Equal(msgs[0].Data, op.Payload) {
				t.Errorf("expected payload forwarded verbatim, got %s", msgs[0].Data)
			}
		})
	}
}

func TestPublisher_PublishError(t *testing.T) {
	nc := newMockNATS()
	nc.err = fmt.Errorf("connection lost")
	pub := NewPublisher(nc)

	err := pub.Handle(context.Background(), testOp("op-1", 0, time.Now().UTC()))
	if err == nil {
		t.Fatal("expected publish error to propagate as a failed attempt")
	}
}

func TestPublisher_AsEngineHandler(t *testing.T) {
	nc := newMockNATS()
	e, _ := newTestEngine(newMockStorage(), true)
	e.OnSync(NewPublisher(nc).Handle)

	op := testOp("op-1", 0, time.Now().UTC())
	op.Payload = json.RawMessage(`{"event":"scanned"}`)
	if err := e.store.Put(context.Background(), op); err != nil {
		t.Fatalf("seed: %v", err)
	}

	e.Sync(context.Background())

	msgs := nc.published()
	if len(msgs) != 1 || msgs[0].Subject != SubjectEventLog {
		t.Fatalf("expected one replayed message on %s, got %+v", SubjectEventLog, msgs)
	}
	ops, _ := e.QueuedOperations(context.Background())
	if len(ops) != 0 {
		t.Errorf("expected queue drained after replay, got %d", len(ops))
	}
}
