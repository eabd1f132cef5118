package notify

import (
	"context"
	"fmt"
	"html"

	"github.com/resend/resend-go/v2"
)

// EmailSender is the subset of the Resend client used here.
type EmailSender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// EmailTransport sends messages as transactional email through Resend.
type EmailTransport struct {
	sender   EmailSender
	fromAddr string
}

// NewEmailTransport creates a transport backed by the Resend API.
func NewEmailTransport(apiKey, fromAddr string) *EmailTransport {
	return &EmailTransport{
		sender:   resend.NewClient(apiKey).Emails,
		fromAddr: fromAddr,
	}
}

// NewEmailTransportWithSender creates a transport with a custom sender.
func NewEmailTransportWithSender(sender EmailSender, fromAddr string) *EmailTransport {
	return &EmailTransport{sender: sender, fromAddr: fromAddr}
}

// Notify implements Notifier.
func (t *EmailTransport) Notify(ctx context.Context, msg Message) error {
	body, err := renderEmail(msg)
	if err != nil {
		return err
	}
	_, err = t.sender.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    t.fromAddr,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    body,
		Tags:    []resend.Tag{{Name: "kind", Value: string(msg.Kind)}},
	})
	if err != nil {
		return fmt.Errorf("sending %s email via Resend: %w", msg.Kind, err)
	}
	return nil
}

func renderEmail(msg Message) (string, error) {
	str := func(k string) string {
		v, _ := msg.Data[k].(string) //nolint:errcheck // missing keys render empty
		return html.EscapeString(v)
	}
	switch msg.Kind {
	case KindInvitation:
		return fmt.Sprintf(`<h2>You have been invited to %s</h2>
<p>You were invited to join <strong>%s</strong> as <strong>%s</strong>.</p>
<p><a href="%s">Accept the invitation</a></p>
<p>This link expires at %s and can be used once.</p>`,
			str("organization_name"), str("organization_name"), str("role"), str("link"), str("expires_at")), nil
	case KindSecurityAlert:
		return fmt.Sprintf(`<h2>Security notice</h2>
<p>%s</p>
<p>If this was not you, contact your organization administrator.</p>`, str("summary")), nil
	default:
		return "", fmt.Errorf("no email template for kind %q", msg.Kind)
	}
}
