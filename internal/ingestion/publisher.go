package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"FundLedger/internal/event"
	"FundLedger/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
)

// OutboundPublisher pushes committed messages to JetStream for the
// spoke networks. Publication is best effort relative to the in-process
// pipeline: the durable copy lives in Postgres, so a full publish
// channel drops rather than stalls the hub.
type OutboundPublisher struct {
	js      jetstream.JetStream
	ch      chan event.Outbound
	metrics *observability.Metrics
}

func NewOutboundPublisher(js jetstream.JetStream, buffer int, metrics *observability.Metrics) *OutboundPublisher {
	return &OutboundPublisher{
		js:      js,
		ch:      make(chan event.Outbound, buffer),
		metrics: metrics,
	}
}

// Publish enqueues messages for the publisher loop. Never blocks.
func (op *OutboundPublisher) Publish(msgs ...event.Outbound) error {
	for _, msg := range msgs {
		select {
		case op.ch <- msg:
		default:
			if op.metrics != nil {
				op.metrics.PublishDrops.Inc()
			}
			log.Printf("WARN: publish channel full, dropping %s", msg.IdempotencyKey())
		}
	}
	return nil
}

// Run starts the publisher loop. Blocks until ctx is cancelled or the
// channel is closed via Close.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-op.ch:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, msg); err != nil {
				log.Printf("WARN: outbound publish failed key=%s: %v", msg.IdempotencyKey(), err)
				// Non-fatal: spokes can recover from the outbound table.
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, msg event.Outbound) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	subject := fmt.Sprintf("fund.ledger.events.%s", msg.Subject())
	// The idempotency key doubles as the JetStream msg id so broker-side
	// dedup suppresses republications.
	_, err = op.js.Publish(ctx, subject, data, jetstream.WithMsgID(msg.IdempotencyKey()))
	return err
}

// Close stops the loop after the remaining messages drain.
func (op *OutboundPublisher) Close() {
	close(op.ch)
}
