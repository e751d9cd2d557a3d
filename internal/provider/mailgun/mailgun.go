// Package mailgun implements a Provider that sends emails via the Mailgun
// Messages API, one API call per primary recipient.
package mailgun

import (
	"context"
	"fmt"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/shineum/mailbridge/internal/email"
	"github.com/shineum/mailbridge/internal/provider"
)

// Name is the backend identifier of the Mailgun provider.
const Name = "mailgun"

// Config holds the Mailgun settings.
type Config struct {
	APIKey string
	// Domain is the Mailgun sending domain.
	Domain string
}

// ConfigFrom extracts the Mailgun settings from the shared transport config.
// The API key travels in the username field and the sending domain in the
// host field.
func ConfigFrom(t email.TransportConfig) Config {
	return Config{APIKey: t.Username, Domain: t.Host}
}

// Params is the parameter set of one Mailgun send call.
type Params struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
}

// MessageSender performs one Mailgun send call for a sending domain.
type MessageSender interface {
	SendMessage(ctx context.Context, domain string, params Params) error
}

// NewSenderFunc builds a MessageSender for an API key.
type NewSenderFunc func(cfg Config) MessageSender

// Provider sends one message per To recipient. Cc, Bcc and Reply-To are not
// supported and are ignored.
type Provider struct {
	newSender NewSenderFunc
}

// New creates a Mailgun Provider backed by mailgun-go.
func New() *Provider {
	return &Provider{newSender: func(cfg Config) MessageSender {
		return NewClient(cfg.APIKey)
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

// Send issues one call per To recipient, in order. The first failure aborts
// the loop; recipients already sent to are not rolled back.
func (p *Provider) Send(ctx context.Context, msg *email.Message) error {
	if err := msg.Validate(); err != nil {
		return &provider.Error{Kind: provider.KindInvalidMessage, Backend: Name, Err: err}
	}

	cfg := ConfigFrom(msg.Transport)
	sender := p.newSender(cfg)
	params := buildParams(msg)

	for i, r := range msg.To {
		params.To = r.Email
		if err := sender.SendMessage(ctx, cfg.Domain, params); err != nil {
			return provider.Errorf(provider.KindTransport, Name,
				"send to recipient %d of %d (%s) failed: %w", i+1, len(msg.To), r.Email, err)
		}
		provider.LoggerFrom(ctx).Debug("Mailgun message sent",
			"domain", cfg.Domain,
			"recipient", r.Email,
		)
	}

	return nil
}

// buildParams fills everything except the recipient. The sender display
// name is dropped.
func buildParams(msg *email.Message) Params {
	return Params{
		From:    msg.From.Email,
		Subject: "",
		HTML:    msg.HTMLBody,
		Text:    msg.AltBody(),
	}
}

// Client implements MessageSender with mailgun-go.
type Client struct {
	apiKey  string
	apiBase string
}

// NewClient creates a Client for the given API key.
func NewClient(apiKey string) *Client {
	return &Client{apiKey: apiKey}
}

// NewClientWithAPIBase creates a Client that talks to a custom API base URL,
// such as the EU region or a test server.
func NewClientWithAPIBase(apiKey, apiBase string) *Client {
	return &Client{apiKey: apiKey, apiBase: apiBase}
}

// SendMessage sends one message through the Mailgun Messages API.
func (c *Client) SendMessage(ctx context.Context, domain string, params Params) error {
	mg := mailgun.NewMailgun(domain, c.apiKey)
	if c.apiBase != "" {
		mg.SetAPIBase(c.apiBase)
	}

	m := mg.NewMessage(params.From, params.Subject, params.Text, params.To)
	if params.HTML != "" {
		m.SetHtml(params.HTML)
	}

	if _, _, err := mg.Send(ctx, m); err != nil {
		return fmt.Errorf("Mailgun API request failed: %w", err)
	}
	return nil
}
