package submitter

import (
	"fmt"

	"FundLedger/internal/event"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Executor runs operator commands on the goroutine that owns the hub
// and records them in the command log.
type Executor interface {
	Execute(cmd event.Inbound) (any, error)
}

// Submitter flushes the queued net deltas to the spoke networks on a
// cron schedule. Each flush is an operator command, so it runs on the
// hub goroutine and survives restarts through the log.
type Submitter struct {
	log      zerolog.Logger
	cron     *cron.Cron
	executor Executor
	schedule string
}

func New(log zerolog.Logger, executor Executor, schedule string) *Submitter {
	return &Submitter{
		log:      log.With().Str("component", "submitter").Logger(),
		cron:     cron.New(cron.WithSeconds()),
		executor: executor,
		schedule: schedule,
	}
}

// Start registers the schedule and starts the cron loop.
func (s *Submitter) Start() error {
	_, err := s.cron.AddFunc(s.schedule, s.submit)
	if err != nil {
		return fmt.Errorf("invalid submit schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.log.Info().Str("schedule", s.schedule).Msg("queue submitter started")
	return nil
}

func (s *Submitter) submit() {
	cmd := &event.SubmitQueued{
		Meta: event.Meta{RequestID: uuid.New().String(), Source: event.OriginOperator},
	}
	result, err := s.executor.Execute(cmd)
	if err != nil {
		s.log.Warn().Err(err).Msg("queue submission failed")
		return
	}
	if m, ok := result.(map[string]int); ok && m["submitted"] > 0 {
		s.log.Info().Int("submitted", m["submitted"]).Msg("queued deltas submitted")
	}
}

// Stop halts the schedule. A submission already running still finishes.
func (s *Submitter) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
