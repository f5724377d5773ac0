package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// fakeAcknowledger записывает ack/nack для проверок.
type fakeAcknowledger struct {
	mu      sync.Mutex
	acked   bool
	nacked  bool
	requeue bool
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = true
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = true
	a.requeue = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func testConsumer(handler Handler) *Consumer {
	return NewConsumer(nil, slog.New(slog.NewTextHandler(noopWriter{}, nil)), ConsumerConfig{
		Queue:    string(QueueJobsReady),
		Handler:  handler,
		Prefetch: 4,
	})
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

func delivery(ack *fakeAcknowledger, body string) amqp.Delivery {
	return amqp.Delivery{Acknowledger: ack, Body: []byte(body)}
}

func TestHandleDelivery_AckOnSuccess(t *testing.T) {
	c := testConsumer(func(ctx context.Context, msg *Delivery) error {
		if msg.Message.Type != MessageTypeJobReady {
			t.Errorf("expected type %s, got %s", MessageTypeJobReady, msg.Message.Type)
		}
		return nil
	})

	ack := &fakeAcknowledger{}
	c.handleDelivery(context.Background(), delivery(ack, `{"id":"m1","type":"job.ready"}`))

	if !ack.acked {
		t.Error("expected message to be acked")
	}
	if ack.nacked {
		t.Error("expected message not to be nacked")
	}
}

func TestHandleDelivery_RequeueOnHandlerError(t *testing.T) {
	c := testConsumer(func(ctx context.Context, msg *Delivery) error {
		return errors.New("transient failure")
	})

	ack := &fakeAcknowledger{}
	c.handleDelivery(context.Background(), delivery(ack, `{"id":"m1","type":"job.ready"}`))

	if !ack.nacked || !ack.requeue {
		t.Errorf("expected nack with requeue, got nacked=%v requeue=%v", ack.nacked, ack.requeue)
	}
}

func TestHandleDelivery_MalformedToDLQ(t *testing.T) {
	c := testConsumer(func(ctx context.Context, msg *Delivery) error {
		t.Error("handler must not be called for malformed message")
		return nil
	})

	ack := &fakeAcknowledger{}
	c.handleDelivery(context.Background(), delivery(ack, `{not json`))

	if !ack.nacked || ack.requeue {
		t.Errorf("expected nack without requeue, got nacked=%v requeue=%v", ack.nacked, ack.requeue)
	}
}

// Доставки обрабатываются параллельно: два обработчика должны
// оказаться в полёте одновременно.
func TestProcessDeliveries_Concurrent(t *testing.T) {
	barrier := make(chan struct{}, 2)
	bothIn := make(chan struct{})

	var once sync.Once
	c := testConsumer(func(ctx context.Context, msg *Delivery) error {
		barrier <- struct{}{}
		if len(barrier) == 2 {
			once.Do(func() { close(bothIn) })
		}
		select {
		case <-bothIn:
			return nil
		case <-time.After(2 * time.Second):
			return fmt.Errorf("second handler never started")
		}
	})

	deliveries := make(chan amqp.Delivery, 2)
	ack1 := &fakeAcknowledger{}
	ack2 := &fakeAcknowledger{}
	deliveries <- delivery(ack1, `{"id":"m1","type":"job.ready"}`)
	deliveries <- delivery(ack2, `{"id":"m2","type":"job.ready"}`)
	close(deliveries)

	err := c.processDeliveries(context.Background(), deliveries)
	if err == nil {
		t.Fatal("expected error after deliveries channel close")
	}

	// processDeliveries дождался обработчиков перед выходом
	if !ack1.acked || !ack2.acked {
		t.Errorf("expected both deliveries acked, got %v and %v", ack1.acked, ack2.acked)
	}
}

func TestParsePayload(t *testing.T) {
	msg := &Message{
		ID:      "m1",
		Type:    MessageTypeJobReady,
		Payload: map[string]any{"job_id": "build"},
	}

	payload, err := ParsePayload[struct {
		JobID string `json:"job_id"`
	}](msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.JobID != "build" {
		t.Errorf("expected job_id build, got %q", payload.JobID)
	}
}
