// Package smtp implements a Provider that hands messages to an SMTP server.
package smtp

import (
	"context"

	"github.com/shineum/mailbridge/internal/email"
	"github.com/shineum/mailbridge/internal/provider"
)

// Name is the backend identifier of the SMTP provider.
const Name = "smtp"

// Config holds the SMTP connection settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// Auth enables authenticated SMTP.
	Auth bool
}

// ConfigFrom extracts the SMTP settings from the shared transport config.
func ConfigFrom(t email.TransportConfig) Config {
	return Config{
		Host:     t.Host,
		Port:     t.Port,
		Username: t.Username,
		Password: t.Password,
		Auth:     t.SMTPEnabled,
	}
}

// Provider delivers messages over SMTP, one client per message.
type Provider struct {
	newClient NewClientFunc
}

// New creates an SMTP Provider backed by go-mail.
func New() *Provider {
	return &Provider{newClient: NewGoMailClient}
}

// NewWithClientFunc creates an SMTP Provider with a custom client
// constructor, used for testing.
func NewWithClientFunc(fn NewClientFunc) *Provider {
	return &Provider{newClient: fn}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return Name
}

// Send composes the message on a fresh client and sends it.
// The primary body is always the HTML body; the HTML flag only tells the
// client how to label it.
func (p *Provider) Send(ctx context.Context, msg *email.Message) error {
	if err := msg.Validate(); err != nil {
		return &provider.Error{Kind: provider.KindInvalidMessage, Backend: Name, Err: err}
	}

	client, err := p.newClient(ConfigFrom(msg.Transport))
	if err != nil {
		return &provider.Error{Kind: provider.KindTransport, Backend: Name, Err: err}
	}

	if err := client.SetFrom(msg.From.Email, msg.From.Name); err != nil {
		return provider.Errorf(provider.KindInvalidMessage, Name, "failed to set sender: %w", err)
	}

	roles := []struct {
		kind AddressKind
		list []email.Recipient
	}{
		{AddressTo, msg.To},
		{AddressCc, msg.Cc},
		{AddressBcc, msg.Bcc},
		{AddressReplyTo, msg.ReplyTo},
	}
	for _, role := range roles {
		for _, r := range role.list {
			if err := client.AddAddress(role.kind, r.Email, r.Name); err != nil {
				return provider.Errorf(provider.KindInvalidMessage, Name,
					"failed to add %s address %q: %w", role.kind, r.Email, err)
			}
		}
	}

	client.IsHTML(msg.UseHTML)
	client.SetSubject("")
	client.SetBody(msg.HTMLBody, msg.AltBody())

	for _, path := range msg.Attachments {
		if err := client.AddAttachment(path); err != nil {
			return &provider.Error{Kind: provider.KindAttachment, Backend: Name, Err: err}
		}
	}

	provider.LoggerFrom(ctx).Debug("sending via SMTP",
		"host", msg.Transport.Host,
		"port", msg.Transport.Port,
		"auth", msg.Transport.SMTPEnabled,
		"recipients", len(msg.To)+len(msg.Cc)+len(msg.Bcc),
		"attachments", len(msg.Attachments),
	)

	if err := client.Send(ctx); err != nil {
		return &provider.Error{Kind: provider.KindTransport, Backend: Name, Err: err}
	}
	return nil
}
