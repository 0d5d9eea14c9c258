package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"FundLedger/internal/observability"
)

// Worker drains the persist channel and batch-writes to Postgres. The
// channel uses blocking sends from the ingestion loop, so if this
// worker falls behind, ingestion stalls and no record is lost.
type Worker struct {
	writer       *Writer
	inputChan    <-chan Record
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan Record,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		writer:       NewWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
	}
}

// Run starts the worker loop. Records are batched and flushed either
// when the batch is full or the flush timeout expires. Blocks until ctx
// is cancelled or the channel closes.
func (pw *Worker) Run(ctx context.Context) error {
	commands := make([]CommandRow, 0, pw.batchSize)
	postings := make([]PostingRow, 0, pw.batchSize*2)
	outbound := make([]OutboundRow, 0, pw.batchSize)

	reset := func() {
		commands = commands[:0]
		postings = postings[:0]
		outbound = outbound[:0]
	}

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(commands)+len(postings)+len(outbound) > 0 {
				if err := pw.flush(context.Background(), commands, postings, outbound); err != nil {
					log.Printf("ERROR: final flush failed: %v", err)
				}
			}
			return ctx.Err()

		case rec, ok := <-pw.inputChan:
			if !ok {
				if len(commands)+len(postings)+len(outbound) > 0 {
					if err := pw.flush(context.Background(), commands, postings, outbound); err != nil {
						log.Printf("ERROR: final flush failed: %v", err)
					}
				}
				return nil
			}

			if rec.Command != nil {
				commands = append(commands, *rec.Command)
			}
			postings = append(postings, rec.Postings...)
			outbound = append(outbound, rec.Outbound...)

			if len(commands) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, commands, postings, outbound); err != nil {
					log.Printf("ERROR: batch flush failed after retries: %v", err)
				}
				reset()
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(commands)+len(postings)+len(outbound) > 0 {
				if err := pw.flushWithRetry(ctx, commands, postings, outbound); err != nil {
					log.Printf("ERROR: timeout flush failed after retries: %v", err)
				}
				reset()
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff. The worker never
// drops records: it retries until the write succeeds or the context is
// cancelled, and even then attempts one final flush.
func (pw *Worker) flushWithRetry(ctx context.Context, commands []CommandRow, postings []PostingRow, outbound []OutboundRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: persistence retry attempt %d (backoff=%v, commands=%d)",
				attempt, backoff, len(commands))
			select {
			case <-ctx.Done():
				finalErr := pw.flush(context.Background(), commands, postings, outbound)
				if finalErr != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", finalErr)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, commands, postings, outbound)
		if err == nil {
			if attempt > 0 {
				log.Printf("INFO: persistence flush succeeded after %d retries", attempt)
			}
			return nil
		}

		if pw.metrics != nil {
			pw.metrics.PersistRetry.Inc()
		}
	}
}

func (pw *Worker) flush(ctx context.Context, commands []CommandRow, postings []PostingRow, outbound []OutboundRow) error {
	start := time.Now()

	tx, err := pw.writer.db.BeginTx(ctx, nil)
	if err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteCommandBatch(ctx, tx, commands); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("write_commands").Inc()
		}
		return err
	}
	if err := pw.writer.WritePostingBatch(ctx, tx, postings); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("write_postings").Inc()
		}
		return err
	}
	if err := pw.writer.WriteOutboundBatch(ctx, tx, outbound); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("write_outbound").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if pw.metrics != nil {
		rows := len(commands) + len(postings) + len(outbound)
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(rows))
		pw.metrics.PersistRowsWritten.Add(float64(rows))
	}

	return nil
}
