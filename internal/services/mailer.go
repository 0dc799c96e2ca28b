package services

import (
	"context"
	"fmt"

	"evalhub/internal/config"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Mailer is the SMTP implementation of Dispatcher. One attempt per
// message; the orchestrator converts failures into manual delivery rather
// than retrying here.
type Mailer struct {
	log *zap.Logger
}

func NewMailer(log *zap.Logger) *Mailer {
	return &Mailer{log: log}
}

func (m *Mailer) Send(ctx context.Context, msg OutboundMessage) error {
	smtpConf := config.Conf.SMTP

	opts := []mail.Option{
		mail.WithPort(smtpConf.Port),
	}
	if smtpConf.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(smtpConf.Username),
			mail.WithPassword(smtpConf.Password),
		)
	}

	client, err := mail.NewClient(smtpConf.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	message := mail.NewMsg()
	if err := message.From(smtpConf.From); err != nil {
		return fmt.Errorf("from address: %w", err)
	}
	if err := message.To(msg.To...); err != nil {
		return fmt.Errorf("to addresses: %w", err)
	}
	message.Subject(msg.Subject)
	message.SetBodyString(mail.TypeTextPlain, msg.Body)

	if err := client.DialAndSendWithContext(ctx, message); err != nil {
		return fmt.Errorf("smtp dispatch: %w", err)
	}

	m.log.Info("Notification dispatched",
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}
