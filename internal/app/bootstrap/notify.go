package bootstrap

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/wolfman30/cmms-omnibot/internal/config"
	"github.com/wolfman30/cmms-omnibot/internal/messaging"
	"github.com/wolfman30/cmms-omnibot/internal/notify"
	"github.com/wolfman30/cmms-omnibot/pkg/logging"
)

// BuildNotifier registers every notification service. Channels without
// credentials fall back to a log sender so /api/notify still answers in
// development. webchatSender may be nil in processes without web chat.
func BuildNotifier(cfg *appconfig.Config, awsCfg *aws.Config, webchatSender notify.Sender, observer notify.Observer, logger *logging.Logger) *notify.Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	dispatcher := notify.NewDispatcher(observer, logger)

	register := func(service string, sender *messaging.TwilioSender) {
		if sender == nil {
			logger.Warn("twilio not configured; notifications will be logged", "service", service)
			dispatcher.Register(service, notify.NewLogSender(service, logger))
			return
		}
		dispatcher.Register(service, sender)
	}
	register("whatsapp", messaging.NewTwilioSender(messaging.TwilioConfig{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		From:       cfg.TwilioWhatsAppFrom,
		WhatsApp:   true,
	}, logger))
	register("sms", messaging.NewTwilioSender(messaging.TwilioConfig{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		From:       cfg.TwilioFromNumber,
	}, logger))

	sendgrid := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger)
	var ses *notify.SESSender
	if awsCfg != nil && cfg.SESFromEmail != "" {
		ses = notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
	}
	dispatcher.Register("email", notify.NewEmailChannel(notify.SelectEmailSender(sendgrid, ses, logger), ""))

	if webchatSender != nil {
		dispatcher.Register("webchat", webchatSender)
	} else {
		dispatcher.Register("webchat", notify.NewLogSender("webchat", logger))
	}
	dispatcher.Register("log", notify.NewLogSender("log", logger))

	logger.Info("notification services registered", "services", dispatcher.Services())
	return dispatcher
}
