package bootstrap

import (
	"context"
	"strings"

	"github.com/wolfman30/vetcare-platform/cmd/mainconfig"
	appconfig "github.com/wolfman30/vetcare-platform/internal/config"
	"github.com/wolfman30/vetcare-platform/internal/notify"
	"github.com/wolfman30/vetcare-platform/pkg/logging"
)

// BuildEmailSender picks the email provider. "auto" prefers SendGrid when a
// key is configured, then SES when a sender address is set, then the stub.
// The provider name actually used is returned for logging.
func BuildEmailSender(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (notify.EmailSender, string) {
	if logger == nil {
		logger = logging.Default()
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.EmailProvider))
	if provider == "" {
		provider = "auto"
	}

	if provider == "sendgrid" || (provider == "auto" && cfg.SendGridAPIKey != "") {
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); sender != nil {
			return sender, "sendgrid"
		}
		logger.Warn("sendgrid selected but SENDGRID_API_KEY is empty; emails will be logged only")
		return notify.NewStubEmailSender(logger), "stub"
	}

	if provider == "ses" || (provider == "auto" && cfg.SendGridFromEmail != "" && cfg.AWSRegion != "") {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Warn("aws config unavailable; emails will be logged only", "error", err)
			return notify.NewStubEmailSender(logger), "stub"
		}
		return notify.NewSESSender(mainconfig.NewSESClient(awsCfg, cfg), notify.SESConfig{
			FromEmail:        cfg.SendGridFromEmail,
			FromName:         cfg.SendGridFromName,
			ConfigurationSet: cfg.SESConfigurationSet,
		}, logger), "ses"
	}

	return notify.NewStubEmailSender(logger), "stub"
}
