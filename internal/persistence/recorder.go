package persistence

import (
	"time"

	"FundLedger/internal/event"
)

// Recorder converts committed outbound messages into rows and hands
// them to the persistence worker. It satisfies the hub's Notifier
// interface so it can sit next to the NATS publisher in a fan-out.
// Sends block: an outbound message is never dropped before it is
// durable.
type Recorder struct {
	out chan<- Record
}

func NewRecorder(out chan<- Record) *Recorder {
	return &Recorder{out: out}
}

func (r *Recorder) Publish(msgs ...event.Outbound) error {
	if len(msgs) == 0 {
		return nil
	}
	rows := make([]OutboundRow, 0, len(msgs))
	now := time.Now()
	for _, msg := range msgs {
		rows = append(rows, OutboundRow{
			Kind:           msg.Kind().String(),
			Subject:        msg.Subject(),
			IdempotencyKey: msg.IdempotencyKey(),
			Payload:        MarshalPayload(msg),
			CreatedAt:      now,
		})
	}
	r.out <- Record{Outbound: rows}
	return nil
}
