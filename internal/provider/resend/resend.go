// Package resend implements a Provider that sends emails via the Resend API.
package resend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/resend/resend-go/v2"
	"github.com/samber/lo"

	"github.com/shineum/mailbridge/internal/email"
	"github.com/shineum/mailbridge/internal/provider"
)

// Name is the backend identifier of the Resend provider.
const Name = "resend"

// ErrMissingAPIKey is returned when no API key is configured.
var ErrMissingAPIKey = errors.New("resend api key is required")

// Config holds the Resend settings.
type Config struct {
	APIKey string
}

// ConfigFrom extracts the Resend settings from the shared transport config.
// The API key travels in the username field.
func ConfigFrom(t email.TransportConfig) Config {
	return Config{APIKey: t.Username}
}

// EmailSender is the subset of the Resend emails service used here.
type EmailSender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// NewSenderFunc builds an EmailSender for one configuration.
type NewSenderFunc func(cfg Config) EmailSender

// Provider sends emails via the Resend API.
type Provider struct {
	newSender NewSenderFunc
}

// New creates a Resend Provider backed by the official client.
func New() *Provider {
	return &Provider{newSender: func(cfg Config) EmailSender {
		return resend.NewClient(cfg.APIKey).Emails
	}}
}

// NewWithSenderFunc creates a Provider with a custom sender factory, used for testing.
func NewWithSenderFunc(fn NewSenderFunc) *Provider {
	return &Provider{newSender: fn}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return Name
}

// Send delivers msg in a single API call. Resend accepts one reply-to
// address, so only the first is sent.
func (p *Provider) Send(ctx context.Context, msg *email.Message) error {
	if err := msg.Validate(); err != nil {
		return &provider.Error{Kind: provider.KindInvalidMessage, Backend: Name, Err: err}
	}

	cfg := ConfigFrom(msg.Transport)
	if cfg.APIKey == "" {
		return &provider.Error{Kind: provider.KindTransport, Backend: Name, Err: ErrMissingAPIKey}
	}

	params, err := buildRequest(msg)
	if err != nil {
		return &provider.Error{Kind: provider.KindAttachment, Backend: Name, Err: err}
	}

	sent, err := p.newSender(cfg).SendWithContext(ctx, params)
	if err != nil {
		return provider.Errorf(provider.KindTransport, Name, "resend send failed: %w", err)
	}

	provider.LoggerFrom(ctx).Debug("Resend accepted message", "message_id", sent.Id)
	return nil
}

func buildRequest(msg *email.Message) (*resend.SendEmailRequest, error) {
	params := &resend.SendEmailRequest{
		From:    msg.From.String(),
		To:      addresses(msg.To),
		Cc:      addresses(msg.Cc),
		Bcc:     addresses(msg.Bcc),
		Subject: "",
		Html:    msg.HTMLBody,
		Text:    msg.AltBody(),
	}
	if len(msg.ReplyTo) > 0 {
		params.ReplyTo = msg.ReplyTo[0].String()
	}

	for _, path := range msg.Attachments {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment: %w", err)
		}
		params.Attachments = append(params.Attachments, &resend.Attachment{
			Content:  data,
			Filename: filepath.Base(path),
		})
	}

	return params, nil
}

func addresses(list []email.Recipient) []string {
	return lo.Map(list, func(r email.Recipient, _ int) string {
		return r.String()
	})
}
