package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mailgun/mailgun-go/v4"
)

// Mailer delivers account e-mails.
type Mailer interface {
	SendPasswordReset(ctx context.Context, to, name, link string) error
}

// MailgunMailer sends through the Mailgun API.
type MailgunMailer struct {
	mg     mailgun.Mailgun
	sender string
}

func NewMailgunMailer(domain, apiKey, sender string) *MailgunMailer {
	return &MailgunMailer{mg: mailgun.NewMailgun(domain, apiKey), sender: sender}
}

func (m *MailgunMailer) SendPasswordReset(ctx context.Context, to, name, link string) error {
	body := fmt.Sprintf(`Hi %s,

Someone asked to reset the password of your finpulse account.
Open this link to choose a new one:
%s

If it was not you, ignore this message.`, name, link)

	msg := m.mg.NewMessage(m.sender, "Reset your finpulse password", body, to)
	resp, id, err := m.mg.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("mailgun send: %w", err)
	}
	slog.InfoContext(ctx, "Password reset mail sent", "mailgun_id", id, "response", resp)
	return nil
}

// LogMailer writes reset links to the log instead of sending them. Used
// when no mail provider is configured.
type LogMailer struct{}

func (LogMailer) SendPasswordReset(ctx context.Context, to, _, link string) error {
	slog.WarnContext(ctx, "Mail provider not configured, reset link logged", "to", to, "link", link)
	return nil
}
