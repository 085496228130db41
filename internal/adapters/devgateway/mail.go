package devgateway

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/yuin/goldmark"
	goldmarkHTML "github.com/yuin/goldmark/renderer/html"

	"libres/internal/adapters/email"
)

// mdRenderer is a goldmark instance configured for safe HTML output.
// Raw HTML in markdown input is escaped (WithUnsafe is NOT set).
var mdRenderer = goldmark.New(
	goldmark.WithRendererOptions(
		goldmarkHTML.WithHardWraps(),
	),
)

// mailer composes and sends the gateway's transactional emails.
type mailer struct {
	sender  email.Sender
	from    string
	baseURL string
}

// sendVerification emails a verification link to a freshly registered or
// unverified account.
// PRE: token is a stored single-use verification token
func (m *mailer) sendVerification(ctx context.Context, to, name, token string) error {
	md := fmt.Sprintf(`## Welcome to the resource portal, %s

Before you can sign in you need to confirm this email address.

[Verify your email](%s/verify-email?token=%s&email=%s)

This link is valid for 24 hours. If you did not create an account you can ignore this message.`,
		name, m.baseURL, token, to)
	return m.send(ctx, to, "Verify your email address", md)
}

// sendPasswordReset emails a reset link.
// PRE: token is a stored single-use reset token
func (m *mailer) sendPasswordReset(ctx context.Context, to, name, token string) error {
	md := fmt.Sprintf(`## Password reset requested

Hi %s, someone asked to reset the password for this account.

[Choose a new password](%s/reset-password?token=%s&email=%s)

This link is valid for 1 hour. If this wasn't you, no action is needed.`,
		name, m.baseURL, token, to)
	return m.send(ctx, to, "Reset your password", md)
}

func (m *mailer) send(ctx context.Context, to, subject, markdown string) error {
	var buf bytes.Buffer
	if err := mdRenderer.Convert([]byte(markdown), &buf); err != nil {
		return fmt.Errorf("render email body: %w", err)
	}
	err := m.sender.Send(ctx, email.Message{
		To:      to,
		From:    m.from,
		Subject: subject,
		HTML:    buf.String(),
	})
	if err != nil {
		slog.Error("email_event", "event", "send_failed", "to", to, "subject", subject, "error", err.Error())
		return err
	}
	return nil
}
