package followup

import (
	"context"
	"time"

	"github.com/wolfman30/vetcare-platform/pkg/logging"
)

// Sweeper retries follow-ups that did not complete inline with the webhook.
type Sweeper struct {
	processor *Processor
	logger    *logging.Logger
	batchSize int
	interval  time.Duration
}

func NewSweeper(processor *Processor, logger *logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.Default()
	}
	return &Sweeper{
		processor: processor,
		logger:    logger,
		batchSize: 50,
		interval:  time.Minute,
	}
}

func (s *Sweeper) WithBatchSize(size int) *Sweeper {
	if size > 0 {
		s.batchSize = size
	}
	return s
}

func (s *Sweeper) WithInterval(interval time.Duration) *Sweeper {
	if interval > 0 {
		s.interval = interval
	}
	return s
}

func (s *Sweeper) Start(ctx context.Context) {
	if s.processor == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Drain(ctx)
		}
	}
}

// Drain runs one pass over bookings with outstanding follow-ups and reports
// how many completed.
func (s *Sweeper) Drain(ctx context.Context) int {
	p := s.processor
	today := p.clock.Now().In(p.loc).Format("2006-01-02")
	pending, err := p.store.ListPendingFollowUps(ctx, today, s.batchSize)
	if err != nil {
		s.logger.Error("follow-up fetch failed", "error", err)
		return 0
	}
	done := 0
	for _, b := range pending {
		if err := p.Run(ctx, b.ID); err != nil {
			s.logger.Error("follow-up retry failed", "booking_id", b.ID, "error", err)
			continue
		}
		done++
	}
	if len(pending) > 0 {
		s.logger.Debug("follow-up sweep finished", "pending", len(pending), "completed", done)
	}
	return done
}
