package jobs

import (
	"context"
	"log/slog"
)

// Mailer delivers a rendered email.
type Mailer interface {
	Send(ctx context.Context, msg SendEmailPayload) error
}

// LogMailer writes messages to the structured log instead of delivering them.
// It is the development default.
type LogMailer struct {
	Logger *slog.Logger
	From   string
}

// Send logs the envelope. The body is omitted.
func (m LogMailer) Send(ctx context.Context, msg SendEmailPayload) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "mail queued for delivery",
		slog.String("from", m.From),
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
	)
	return nil
}
