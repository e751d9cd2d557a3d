// Package sendgrid implements a Provider that sends emails via the SendGrid
// v3 Mail Send API.
package sendgrid

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/samber/lo"
	sg "github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sendgrid/rest"

	"github.com/shineum/mailbridge/internal/email"
	"github.com/shineum/mailbridge/internal/provider"
)

// Name is the backend identifier of the SendGrid provider.
const Name = "sendgrid"

// Config holds the SendGrid settings.
type Config struct {
	APIKey string
}

// ConfigFrom extracts the SendGrid settings from the shared transport config.
// The API key travels in the username field.
func ConfigFrom(t email.TransportConfig) Config {
	return Config{APIKey: t.Username}
}

// Sender is the subset of *sendgrid.Client the provider uses.
type Sender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// NewSenderFunc builds a Sender for an API key.
type NewSenderFunc func(cfg Config) Sender

// Provider sends each message as a single SendGrid API call.
type Provider struct {
	newSender NewSenderFunc
}

// New creates a SendGrid Provider backed by the official client.
func New() *Provider {
	return &Provider{newSender: func(cfg Config) Sender {
		return sg.NewSendClient(cfg.APIKey)
	}}
}

// NewWithSenderFunc creates a Provider with a custom sender constructor,
// used for testing.
func NewWithSenderFunc(fn NewSenderFunc) *Provider {
	return &Provider{newSender: fn}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return Name
}

// Send builds the request and submits it. Only HTTP 202 Accepted counts as
// success.
func (p *Provider) Send(ctx context.Context, msg *email.Message) error {
	if err := msg.Validate(); err != nil {
		return &provider.Error{Kind: provider.KindInvalidMessage, Backend: Name, Err: err}
	}

	req, err := buildMail(msg)
	if err != nil {
		return &provider.Error{Kind: provider.KindAttachment, Backend: Name, Err: err}
	}

	resp, err := p.newSender(ConfigFrom(msg.Transport)).SendWithContext(ctx, req)
	if err != nil {
		return provider.Errorf(provider.KindTransport, Name, "SendGrid API request failed: %w", err)
	}

	if resp.StatusCode != http.StatusAccepted {
		return provider.Errorf(provider.KindRejected, Name,
			"SendGrid API returned %d: %s", resp.StatusCode, resp.Body)
	}

	provider.LoggerFrom(ctx).Debug("SendGrid accepted message",
		"to", len(msg.To),
		"cc", len(msg.Cc),
		"bcc", len(msg.Bcc),
		"attachments", len(msg.Attachments),
	)
	return nil
}

// buildMail converts a message into a SendGrid v3 mail object. Recipient
// lists are added in one batch per role.
func buildMail(msg *email.Message) (*mail.SGMailV3, error) {
	m := mail.NewV3Mail()
	m.SetFrom(toEmail(msg.From))
	m.Subject = ""

	if len(msg.ReplyTo) > 0 {
		m.SetReplyToList(toEmails(msg.ReplyTo))
	}

	p := mail.NewPersonalization()
	p.AddTos(toEmails(msg.To)...)
	p.AddCCs(toEmails(msg.Cc)...)
	p.AddBCCs(toEmails(msg.Bcc)...)
	m.AddPersonalizations(p)

	// The v3 API requires text/plain to precede text/html.
	m.AddContent(
		mail.NewContent("text/plain", msg.AltBody()),
		mail.NewContent("text/html", msg.HTMLBody),
	)

	for _, path := range msg.Attachments {
		att, err := buildAttachment(path)
		if err != nil {
			return nil, err
		}
		m.AddAttachment(att)
	}

	return m, nil
}

// buildAttachment reads the file fully and base64-encodes it. The media type
// is detected from the file content.
func buildAttachment(path string) (*mail.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}

	return mail.NewAttachment().
		SetContent(base64.StdEncoding.EncodeToString(data)).
		SetType(mimetype.Detect(data).String()).
		SetFilename(filepath.Base(path)).
		SetDisposition("attachment"), nil
}

func toEmail(r email.Recipient) *mail.Email {
	return mail.NewEmail(r.Name, r.Email)
}

func toEmails(list []email.Recipient) []*mail.Email {
	return lo.Map(list, func(r email.Recipient, _ int) *mail.Email {
		return toEmail(r)
	})
}
