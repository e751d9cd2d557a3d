package smtp

import (
	"context"
	"fmt"
	netmail "net/mail"
	"os"

	"github.com/wneessen/go-mail"
)

// AddressKind is the header role an address is added under.
type AddressKind int

const (
	AddressTo AddressKind = iota
	AddressCc
	AddressBcc
	AddressReplyTo
)

func (k AddressKind) String() string {
	switch k {
	case AddressTo:
		return "to"
	case AddressCc:
		return "cc"
	case AddressBcc:
		return "bcc"
	case AddressReplyTo:
		return "reply-to"
	default:
		return "unknown"
	}
}

// Client is the SMTP client capability the provider drives. One Client
// composes and sends exactly one message.
type Client interface {
	SetFrom(address, name string) error
	AddAddress(kind AddressKind, address, name string) error
	IsHTML(html bool)
	SetSubject(subject string)
	SetBody(body, altBody string)
	AddAttachment(path string) error
	Send(ctx context.Context) error
}

// NewClientFunc builds a Client configured for one connection.
type NewClientFunc func(cfg Config) (Client, error)

// goMailClient implements Client on top of github.com/wneessen/go-mail.
type goMailClient struct {
	client  *mail.Client
	msg     *mail.Msg
	replyTo []string
	html    bool
	body    string
	altBody string
}

// NewGoMailClient creates a Client that delivers through an SMTP server.
// Authentication (PLAIN) is only negotiated when cfg.Auth is set.
func NewGoMailClient(cfg Config) (Client, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Auth {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}

	return &goMailClient{
		client: client,
		msg:    mail.NewMsg(),
	}, nil
}

func (c *goMailClient) SetFrom(address, name string) error {
	return c.msg.FromFormat(name, address)
}

func (c *goMailClient) AddAddress(kind AddressKind, address, name string) error {
	switch kind {
	case AddressTo:
		return c.msg.AddToFormat(name, address)
	case AddressCc:
		return c.msg.AddCcFormat(name, address)
	case AddressBcc:
		return c.msg.AddBccFormat(name, address)
	case AddressReplyTo:
		addr := netmail.Address{Name: name, Address: address}
		c.replyTo = append(c.replyTo, addr.String())
		return nil
	default:
		return fmt.Errorf("unsupported address kind %d", kind)
	}
}

func (c *goMailClient) IsHTML(html bool) {
	c.html = html
}

func (c *goMailClient) SetSubject(subject string) {
	c.msg.Subject(subject)
}

func (c *goMailClient) SetBody(body, altBody string) {
	c.body = body
	c.altBody = altBody
}

func (c *goMailClient) AddAttachment(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("attachment %q: %w", path, err)
	}
	c.msg.AttachFile(path)
	return nil
}

// render applies the collected reply-to addresses and body parts to the
// message.
func (c *goMailClient) render() {
	if len(c.replyTo) > 0 {
		c.msg.SetGenHeader(mail.HeaderReplyTo, c.replyTo...)
	}

	contentType := mail.TypeTextPlain
	if c.html {
		contentType = mail.TypeTextHTML
	}
	c.msg.SetBodyString(contentType, c.body)
	if c.altBody != "" {
		c.msg.AddAlternativeString(mail.TypeTextPlain, c.altBody)
	}
}

// Send assembles the body parts and performs the blocking SMTP transaction.
func (c *goMailClient) Send(ctx context.Context) error {
	c.render()

	if err := c.client.DialAndSendWithContext(ctx, c.msg); err != nil {
		return fmt.Errorf("SMTP send failed: %w", err)
	}
	return nil
}
