package ingestion

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"FundLedger/internal/accounting"
	"FundLedger/internal/deltaqueue"
	"FundLedger/internal/epoch"
	"FundLedger/internal/event"
	"FundLedger/internal/holdings"
	"FundLedger/internal/hub"
	"FundLedger/internal/observability"
	"FundLedger/internal/persistence"
	"FundLedger/internal/registry"

	"github.com/rs/zerolog"
)

// ErrDuplicateCommand reports an operator command whose request id was
// already processed.
var ErrDuplicateCommand = errors.New("duplicate command")

// Worker owns the hub at runtime. It drains raw NATS messages, parses
// and deduplicates them, applies them to the hub in per-origin order,
// and forwards the results to the persistence channel. Scheduled jobs
// and the operator surface reach the hub through Execute, so every
// mutation happens on this one goroutine and lands in the same log.
type Worker struct {
	log         zerolog.Logger
	hub         *hub.Hub
	rawChan     <-chan RawMessage
	injectChan  chan func(*hub.Hub)
	dedup       *IdempotencyChecker
	seq         *SequenceValidator
	persistChan chan<- persistence.Record
	metrics     *observability.Metrics
}

func NewWorker(
	log zerolog.Logger,
	h *hub.Hub,
	rawChan <-chan RawMessage,
	dedup *IdempotencyChecker,
	seq *SequenceValidator,
	persistChan chan<- persistence.Record,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		log:         log.With().Str("component", "ingestion").Logger(),
		hub:         h,
		rawChan:     rawChan,
		injectChan:  make(chan func(*hub.Hub), 64),
		dedup:       dedup,
		seq:         seq,
		persistChan: persistChan,
		metrics:     metrics,
	}
}

// Hub exposes the worker's hub for startup wiring.
func (w *Worker) Hub() *hub.Hub { return w.hub }

// Inject schedules fn to run on the worker goroutine with exclusive
// access to the hub. Used by the queue submitter and the admin surface.
func (w *Worker) Inject(fn func(*hub.Hub)) {
	w.injectChan <- fn
}

type typedMessage struct {
	cmd      event.Inbound
	payload  []byte
	received time.Time
}

// Run starts the two-stage ingestion loop: a parse stage that acks NATS
// messages once they are safely queued, and the apply stage that owns
// the hub. Messages are acked after parsing, not after processing, so a
// slow hub never trips the AckWait redelivery timer; backpressure
// propagates through the typed channel instead.
func (w *Worker) Run(ctx context.Context) error {
	subjectToKind := make(map[string]string)
	for _, cfg := range DefaultSubjects() {
		prefix := cfg.Subject
		if len(prefix) > 2 && prefix[len(prefix)-2:] == ".>" {
			prefix = prefix[:len(prefix)-2]
		}
		subjectToKind[prefix] = cfg.Kind
	}

	typedChan := make(chan typedMessage, 4096)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-w.rawChan:
				if !ok {
					close(typedChan)
					return
				}

				kind := resolveKind(raw.Subject, subjectToKind)
				if kind == "" {
					w.log.Warn().Str("subject", raw.Subject).Msg("unknown subject")
					raw.AckFunc() // ack to avoid a redelivery loop
					continue
				}

				cmd, err := ParseRawMessage(raw, kind)
				if err != nil {
					w.log.Warn().Str("subject", raw.Subject).Err(err).Msg("parse failed")
					raw.AckFunc() // unparseable commands are acked, not forwarded
					continue
				}

				select {
				case typedChan <- typedMessage{cmd: cmd, payload: raw.Data, received: raw.Timestamp}:
					raw.AckFunc()
				case <-ctx.Done():
					raw.NakFunc()
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-w.injectChan:
			fn(w.hub)
			w.forwardJournal()
		case tm, ok := <-typedChan:
			if !ok {
				return nil
			}
			w.apply(tm)
		}
	}
}

func (w *Worker) apply(tm typedMessage) {
	cmd := tm.cmd
	if w.metrics != nil {
		w.metrics.IngestReceived.WithLabelValues(cmd.Kind()).Inc()
	}

	isDup := w.dedup.IsDuplicate(cmd)
	if err := w.seq.Validate(cmd.Origin(), cmd.SourceSequence(), isDup); err != nil {
		w.log.Warn().Str("kind", cmd.Kind()).Err(err).Msg("sequence rejected")
		return
	}
	if isDup {
		return
	}

	start := time.Now()
	_, err := w.dispatch(cmd)
	status, errText := "applied", ""
	if err != nil {
		status, errText = "rejected", err.Error()
		w.log.Debug().Str("kind", cmd.Kind()).Err(err).Msg("command rejected")
		if w.metrics != nil {
			w.metrics.HubOpsRejected.WithLabelValues(cmd.Kind(), "validation").Inc()
		}
	} else if w.metrics != nil {
		w.metrics.HubOpsApplied.WithLabelValues(cmd.Kind()).Inc()
		w.metrics.HubOpDuration.WithLabelValues(cmd.Kind()).Observe(time.Since(start).Seconds())
		w.metrics.IngestToApply.WithLabelValues(cmd.Kind()).Observe(time.Since(tm.received).Seconds())
	}

	// Rejections consume the command's sequence slot and dedup key too;
	// redelivering them cannot change the outcome.
	w.dedup.MarkProcessed(cmd)

	if w.persistChan != nil {
		row := persistence.CommandRow{
			Kind:           cmd.Kind(),
			IdempotencyKey: cmd.IdempotencyKey(),
			Origin:         cmd.Origin(),
			SourceSequence: cmd.SourceSequence(),
			Payload:        tm.payload,
			Status:         status,
			Error:          errText,
			ReceivedAt:     tm.received,
		}
		w.persistChan <- persistence.Record{
			Command:  &row,
			Postings: postingRows(w.hub.Ledger().DrainJournal()),
		}
	}
}

// Execute runs an operator command on the worker goroutine, appends it
// to the command log, and returns its result. Operator commands carry
// no spoke sequence, so they skip per-origin ordering; the log
// preserves their order relative to everything else.
func (w *Worker) Execute(cmd event.Inbound) (any, error) {
	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	w.Inject(func(*hub.Hub) {
		if w.dedup.IsDuplicate(cmd) {
			done <- outcome{err: fmt.Errorf("%w: %s", ErrDuplicateCommand, cmd.IdempotencyKey())}
			return
		}

		received := time.Now()
		result, err := w.dispatch(cmd)
		status, errText := "applied", ""
		if err != nil {
			status, errText = "rejected", err.Error()
			if w.metrics != nil {
				w.metrics.HubOpsRejected.WithLabelValues(cmd.Kind(), "validation").Inc()
			}
		} else if w.metrics != nil {
			w.metrics.HubOpsApplied.WithLabelValues(cmd.Kind()).Inc()
		}
		w.dedup.MarkProcessed(cmd)

		if w.persistChan != nil {
			row := persistence.CommandRow{
				Kind:           cmd.Kind(),
				IdempotencyKey: cmd.IdempotencyKey(),
				Origin:         cmd.Origin(),
				SourceSequence: cmd.SourceSequence(),
				Payload:        persistence.MarshalPayload(cmd),
				Status:         status,
				Error:          errText,
				ReceivedAt:     received,
			}
			w.persistChan <- persistence.Record{
				Command:  &row,
				Postings: postingRows(w.hub.Ledger().DrainJournal()),
			}
		}
		done <- outcome{result: result, err: err}
	})
	o := <-done
	return o.result, o.err
}

// forwardJournal persists postings produced by injected operations.
func (w *Worker) forwardJournal() {
	if w.persistChan == nil {
		return
	}
	rows := postingRows(w.hub.Ledger().DrainJournal())
	if len(rows) > 0 {
		w.persistChan <- persistence.Record{Postings: rows}
	}
}

// dispatch applies one command to the hub and returns its result
// payload, if the operation produces one.
func (w *Worker) dispatch(cmd event.Inbound) (any, error) {
	switch c := cmd.(type) {
	case *event.RegisterAsset:
		return nil, w.hub.RegisterAsset(c.Asset, c.Symbol, c.Decimals, c.Origin())
	case *event.DepositRequest:
		return nil, w.hub.RequestDeposit(c.Investor, epoch.FlowKey{ShareClass: c.ShareClass, Asset: c.Asset}, c.Amount)
	case *event.RedeemRequest:
		return nil, w.hub.RequestRedeem(c.Investor, epoch.FlowKey{ShareClass: c.ShareClass, Asset: c.Asset}, c.Amount)
	case *event.CancelDepositRequest:
		return nil, w.hub.CancelDepositRequest(c.Investor, epoch.FlowKey{ShareClass: c.ShareClass, Asset: c.Asset})
	case *event.CancelRedeemRequest:
		return nil, w.hub.CancelRedeemRequest(c.Investor, epoch.FlowKey{ShareClass: c.ShareClass, Asset: c.Asset})
	case *event.ClaimDeposit:
		res, err := w.hub.ClaimDeposit(c.Investor, epoch.FlowKey{ShareClass: c.ShareClass, Asset: c.Asset}, c.MaxClaims)
		if err != nil {
			return nil, err
		}
		return res, nil
	case *event.ClaimRedeem:
		res, err := w.hub.ClaimRedeem(c.Investor, epoch.FlowKey{ShareClass: c.ShareClass, Asset: c.Asset}, c.MaxClaims)
		if err != nil {
			return nil, err
		}
		return res, nil
	case *event.CreatePool:
		return nil, w.hub.CreatePool(c.Sender, c.Pool, c.Currency)
	case *event.AddShareClass:
		return nil, w.hub.AddShareClass(c.Sender, c.Pool, c.ShareClass)
	case *event.CreateAccount:
		return nil, w.hub.CreateAccount(c.Sender, c.Pool, accounting.AccountID(c.Account), c.IsDebitNormal)
	case *event.UpdateManager:
		return nil, w.hub.UpdateManager(c.Sender, c.Pool, c.Who, c.CanManage)
	case *event.InitializeHolding:
		return nil, w.initializeHolding(c)
	case *event.RevalueHolding:
		key := holdings.Key{Pool: c.Pool, ShareClass: c.ShareClass, Asset: c.Asset}
		diff, err := w.hub.RevalueHolding(c.Sender, key)
		if err != nil {
			return nil, err
		}
		return map[string]int64{"diff": diff}, nil
	case *event.ApproveDeposits:
		approved, err := w.hub.ApproveDeposits(c.Sender, epoch.FlowKey{ShareClass: c.ShareClass, Asset: c.Asset}, c.EpochID, c.MaxApproval)
		if err != nil {
			return nil, err
		}
		return map[string]uint64{"approved": approved}, nil
	case *event.ApproveRedeems:
		approved, err := w.hub.ApproveRedeems(c.Sender, epoch.FlowKey{ShareClass: c.ShareClass, Asset: c.Asset}, c.EpochID, c.MaxApproval)
		if err != nil {
			return nil, err
		}
		return map[string]uint64{"approved": approved}, nil
	case *event.IssueShares:
		res, err := w.hub.IssueShares(c.Sender, epoch.FlowKey{ShareClass: c.ShareClass, Asset: c.Asset}, c.EpochID, c.NavPerShare)
		if err != nil {
			return nil, err
		}
		return res, nil
	case *event.RevokeShares:
		res, err := w.hub.RevokeShares(c.Sender, epoch.FlowKey{ShareClass: c.ShareClass, Asset: c.Asset}, c.EpochID, c.NavPerShare)
		if err != nil {
			return nil, err
		}
		return res, nil
	case *event.SubmitQueued:
		if c.Pool != nil && c.ShareClass != nil && c.Asset != nil {
			key := deltaqueue.AssetKey{Pool: *c.Pool, ShareClass: *c.ShareClass, Asset: *c.Asset}
			return nil, w.hub.SubmitQueuedAssets(key)
		}
		submitted, err := w.hub.SubmitAllQueued()
		if err != nil {
			return nil, err
		}
		return map[string]int{"submitted": submitted}, nil
	default:
		return nil, fmt.Errorf("unhandled command kind: %s", cmd.Kind())
	}
}

func (w *Worker) initializeHolding(c *event.InitializeHolding) error {
	accounts := make(map[holdings.AccountKind]accounting.AccountID, len(c.Accounts))
	for name, id := range c.Accounts {
		kind, ok := holdings.ParseAccountKind(name)
		if !ok {
			return fmt.Errorf("unknown account kind: %q", name)
		}
		accounts[kind] = accounting.AccountID(id)
	}

	var valuation holdings.Valuation = holdings.IdentityValuation{}
	if c.Price != nil {
		fixed := *c.Price
		valuation = holdings.PriceFunc(func(registry.PoolID, registry.ShareClassID, registry.AssetID) (uint64, error) {
			return fixed, nil
		})
	}

	key := holdings.Key{Pool: c.Pool, ShareClass: c.ShareClass, Asset: c.Asset}
	return w.hub.InitializeHolding(c.Sender, key, valuation, c.IsLiability, accounts)
}

func postingRows(journal []*accounting.Posting) []persistence.PostingRow {
	if len(journal) == 0 {
		return nil
	}
	now := time.Now()
	var rows []persistence.PostingRow
	for _, p := range journal {
		for _, e := range p.Debits {
			rows = append(rows, persistence.PostingRow{
				PostingID: p.ID.String(),
				Pool:      uint64(p.Pool),
				Ref:       p.Ref,
				Account:   uint32(e.Account),
				IsDebit:   true,
				Value:     e.Value,
				CreatedAt: now,
			})
		}
		for _, e := range p.Credits {
			rows = append(rows, persistence.PostingRow{
				PostingID: p.ID.String(),
				Pool:      uint64(p.Pool),
				Ref:       p.Ref,
				Account:   uint32(e.Account),
				IsDebit:   false,
				Value:     e.Value,
				CreatedAt: now,
			})
		}
	}
	return rows
}

// resolveKind finds the command kind for a subject by longest prefix.
func resolveKind(subject string, prefixMap map[string]string) string {
	bestMatch := ""
	bestKind := ""
	for prefix, kind := range prefixMap {
		if len(subject) >= len(prefix) && subject[:len(prefix)] == prefix {
			if len(prefix) > len(bestMatch) {
				bestMatch = prefix
				bestKind = kind
			}
		}
	}
	return bestKind
}

// Replay rebuilds hub state by re-applying the persisted command log.
// The caller must run this before Run, with the hub's notifier muted,
// so recovery neither republishes nor double-persists.
func (w *Worker) Replay(ctx context.Context, db *sql.DB) (int64, error) {
	const batchSize = 1000
	var (
		total   int64
		afterID int64
	)

	for {
		commands, lastID, err := persistence.LoadCommands(ctx, db, afterID, batchSize)
		if err != nil {
			return total, fmt.Errorf("load commands after id %d: %w", afterID, err)
		}
		if len(commands) == 0 {
			break
		}

		total += int64(w.ReplayCommands(commands))
		afterID = lastID
	}

	// Resume per-origin ordering after the last processed sequence.
	lastSeqs, err := persistence.LastSourceSequences(ctx, db)
	if err != nil {
		return total, err
	}
	for origin, seq := range lastSeqs {
		w.seq.SetExpected(origin, seq+1)
	}

	return total, nil
}

// ReplayCommands re-applies a batch of logged commands to the hub, in
// log order. Journal output is discarded; everything was persisted when
// the commands first ran.
func (w *Worker) ReplayCommands(rows []persistence.CommandRow) int {
	applied := 0
	for _, c := range rows {
		cmd, err := ParseRawMessage(RawMessage{Data: c.Payload}, c.Kind)
		if err != nil {
			w.log.Warn().Str("kind", c.Kind).Err(err).Msg("skip unparseable command in replay")
			continue
		}
		if _, err := w.dispatch(cmd); err != nil {
			// Replayed commands were applied once; a rejection here
			// means the log and the state machine disagree.
			w.log.Error().Str("kind", c.Kind).Str("key", c.IdempotencyKey).Err(err).Msg("replay mismatch")
		}
		w.hub.Ledger().DrainJournal()
		w.dedup.MarkProcessed(cmd)
		applied++
	}
	return applied
}
