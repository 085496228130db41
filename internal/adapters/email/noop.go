package email

import (
	"context"
	"log/slog"
)

// NoopSender is a no-op email sender for development and testing. It logs
// sends but does not deliver anything, so verification links show up in
// the server log.
type NoopSender struct{}

// NewNoopSender creates a new NoopSender.
func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

// Send logs the email but does not deliver it.
// PRE: msg is a valid Message
// POST: Returns nil without actual delivery
func (s *NoopSender) Send(_ context.Context, msg Message) error {
	slog.Info("noop_email_send", "to", msg.To, "subject", msg.Subject, "body", msg.HTML)
	return nil
}
