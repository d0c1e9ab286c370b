package bootstrap

import (
	"time"

	"github.com/wolfman30/vetcare-platform/internal/bookings"
	appconfig "github.com/wolfman30/vetcare-platform/internal/config"
	"github.com/wolfman30/vetcare-platform/internal/directory"
	"github.com/wolfman30/vetcare-platform/internal/followup"
	"github.com/wolfman30/vetcare-platform/internal/meetings"
	"github.com/wolfman30/vetcare-platform/internal/notify"
	"github.com/wolfman30/vetcare-platform/internal/observability/metrics"
	"github.com/wolfman30/vetcare-platform/internal/reminders"
	"github.com/wolfman30/vetcare-platform/pkg/logging"
)

// FollowUps bundles the post-confirmation components shared by the API
// (inline after a webhook) and the worker (sweeps).
type FollowUps struct {
	Processor      *followup.Processor
	Sweeper        *followup.Sweeper
	ReminderWorker *reminders.Worker
}

// BuildFollowUps wires meeting provisioning, reminders and notifications.
func BuildFollowUps(cfg *appconfig.Config, store bookings.Store, contacts directory.Lookup, email notify.EmailSender, loc *time.Location, m *metrics.BookingMetrics, logger *logging.Logger) *FollowUps {
	provisioner := meetings.NewClient(cfg.VideoProviderBaseURL, cfg.VideoProviderAPIKey, cfg.VideoProviderTimeout, logger).
		WithDryRun(cfg.VideoDryRun)
	dispatcher := notify.NewDispatcher(email, contacts, loc, cfg.PublicBaseURL, logger)
	scheduler := reminders.NewScheduler(store, loc, logger)

	processor := followup.NewProcessor(store, provisioner, scheduler, dispatcher, loc, logger).WithMetrics(m)
	return &FollowUps{
		Processor: processor,
		Sweeper: followup.NewSweeper(processor, logger).
			WithInterval(cfg.FollowUpSweepInterval).
			WithBatchSize(cfg.SweepBatchSize),
		ReminderWorker: reminders.NewWorker(store, dispatcher, loc, logger).
			WithInterval(cfg.ReminderSweepInterval).
			WithBatchSize(cfg.SweepBatchSize).
			WithMetrics(m),
	}
}
