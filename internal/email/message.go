// Package email defines the backend-agnostic message model that callers build
// once and hand to any delivery backend.
package email

import (
	"errors"
	"net/mail"
	"path/filepath"
	"slices"
	"strings"
)

// defaultSMTPPort is used until SetTransportConfig supplies a port.
const defaultSMTPPort = 587

// ErrNoSender is returned by Validate when the message has no sender address.
var ErrNoSender = errors.New("message has no sender")

// allowedExtensions lists the attachment file extensions, lowercase and
// without the leading dot, that AdmitAttachment accepts.
var allowedExtensions = []string{"jpg", "jpeg", "png", "gif", "pdf", "doc", "docx"}

// Recipient is an email address with an optional display name.
type Recipient struct {
	Email string
	Name  string
}

// String renders the recipient as an RFC 5322 address, or the bare
// address when there is no display name.
func (r Recipient) String() string {
	if r.Name == "" {
		return r.Email
	}
	addr := mail.Address{Name: r.Name, Address: r.Email}
	return addr.String()
}

// FormatRecipient builds a Recipient. The address is not syntax-checked;
// the delivery backend is free to reject it.
func FormatRecipient(email, name string) Recipient {
	return Recipient{Email: email, Name: name}
}

// TransportConfig holds the raw connection settings shared by all backends.
// Each backend extracts the fields it needs into its own config type.
type TransportConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	SMTPEnabled bool
}

// Message is a mutable builder for one outgoing email. It has no subject:
// every backend sends an empty subject line.
//
// A Message must not be mutated while a dispatch of it is in flight, and
// should not be shared between concurrent dispatches.
type Message struct {
	From    Recipient
	To      []Recipient
	ReplyTo []Recipient
	Cc      []Recipient
	Bcc     []Recipient

	HTMLBody string
	TextBody string
	// UseHTML selects HTML as the primary representation. It follows the
	// last call to SetHTML or SetText.
	UseHTML bool
	// IncludeAltBody sends TextBody as the alternate representation. When
	// false an empty alternate body is sent.
	IncludeAltBody bool

	// Attachments holds file paths that passed AdmitAttachment.
	Attachments []string

	Backend   string
	Transport TransportConfig
}

// NewMessage returns an empty Message targeting backend with the default
// SMTP port.
func NewMessage(backend string) *Message {
	return &Message{
		Backend:   backend,
		Transport: TransportConfig{Port: defaultSMTPPort},
	}
}

// SetFrom sets the sender.
func (m *Message) SetFrom(email, name string) {
	m.From = FormatRecipient(email, name)
}

// AddTo appends a primary recipient.
func (m *Message) AddTo(email, name string) {
	m.To = append(m.To, FormatRecipient(email, name))
}

// AddReplyTo appends a reply-to address.
func (m *Message) AddReplyTo(email, name string) {
	m.ReplyTo = append(m.ReplyTo, FormatRecipient(email, name))
}

// AddCc appends a carbon-copy recipient.
func (m *Message) AddCc(email, name string) {
	m.Cc = append(m.Cc, FormatRecipient(email, name))
}

// AddBcc appends a blind carbon-copy recipient.
func (m *Message) AddBcc(email, name string) {
	m.Bcc = append(m.Bcc, FormatRecipient(email, name))
}

// SetHTML sets the HTML body and selects HTML as the primary representation.
func (m *Message) SetHTML(html string) {
	m.HTMLBody = html
	m.UseHTML = true
}

// SetText sets the plain-text body and selects text as the primary
// representation. The HTML body, if any, is kept.
func (m *Message) SetText(text string) {
	m.TextBody = text
	m.UseHTML = false
}

// SetAltBody controls whether TextBody is sent as the alternate body.
func (m *Message) SetAltBody(include bool) {
	m.IncludeAltBody = include
}

// AddAttachment appends path to the attachment list if its extension is
// allowed. Rejected paths are dropped without any signal.
func (m *Message) AddAttachment(path string) {
	if AdmitAttachment(path) {
		m.Attachments = append(m.Attachments, path)
	}
}

// SetSMTPEnabled toggles authenticated SMTP.
func (m *Message) SetSMTPEnabled(enabled bool) {
	m.Transport.SMTPEnabled = enabled
}

// SetTransportConfig sets the connection parameters. The SMTPEnabled flag is
// left untouched.
func (m *Message) SetTransportConfig(host string, port int, username, password string) {
	m.Transport.Host = host
	m.Transport.Port = port
	m.Transport.Username = username
	m.Transport.Password = password
}

// SetBackend selects the delivery backend by its registered name.
func (m *Message) SetBackend(id string) {
	m.Backend = id
}

// HasSender reports whether the message has a sender address.
func (m *Message) HasSender() bool {
	return m.From.Email != ""
}

// AltBody returns the alternate body to send: TextBody when IncludeAltBody
// is set, otherwise the empty string.
func (m *Message) AltBody() string {
	if m.IncludeAltBody {
		return m.TextBody
	}
	return ""
}

// Validate checks the fields every backend depends on.
func (m *Message) Validate() error {
	if !m.HasSender() {
		return ErrNoSender
	}
	return nil
}

// AdmitAttachment reports whether path has an allowed attachment extension.
// The comparison is case-insensitive.
func AdmitAttachment(path string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "" {
		return false
	}
	return slices.Contains(allowedExtensions, ext)
}
