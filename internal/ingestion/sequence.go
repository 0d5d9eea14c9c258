package ingestion

import (
	"fmt"

	"FundLedger/internal/observability"
)

// SequenceValidator validates source sequences per origin network.
// Spoke gateways stamp each command with a strictly increasing
// sequence; gaps and out-of-order deliveries of new commands are
// rejected so the hub applies every origin's commands in order.
// Not thread-safe; only accessed from the single-threaded worker.
type SequenceValidator struct {
	expectedNextSeq map[string]uint64
	metrics         *observability.Metrics
}

func NewSequenceValidator(metrics *observability.Metrics) *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]uint64),
		metrics:         metrics,
	}
}

// Validate checks source sequence ordering for one origin.
func (sv *SequenceValidator) Validate(origin string, sourceSequence uint64, isDuplicate bool) error {
	expected := sv.expectedNextSeq[origin]

	if sourceSequence < expected {
		if isDuplicate {
			// Already processed, redelivery is fine.
			return nil
		}
		if sv.metrics != nil {
			sv.metrics.OutOfOrder.WithLabelValues(origin).Inc()
		}
		return fmt.Errorf("out-of-order command: origin=%s, expected=%d, got=%d",
			origin, expected, sourceSequence)
	}

	if sourceSequence == expected {
		sv.expectedNextSeq[origin] = expected + 1
		return nil
	}

	if sv.metrics != nil {
		sv.metrics.SequenceGap.WithLabelValues(origin).Inc()
	}
	return fmt.Errorf("sequence gap: origin=%s, expected=%d, got=%d",
		origin, expected, sourceSequence)
}

// Expected returns the next expected sequence for an origin.
func (sv *SequenceValidator) Expected(origin string) uint64 {
	return sv.expectedNextSeq[origin]
}

// SetExpected initializes the expected sequence during recovery.
func (sv *SequenceValidator) SetExpected(origin string, seq uint64) {
	sv.expectedNextSeq[origin] = seq
}
