package sendgrid

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sendgrid/rest"

	"github.com/shineum/mailbridge/internal/email"
	"github.com/shineum/mailbridge/internal/provider"
)

// mockSender implements Sender for testing.
type mockSender struct {
	statusCode int
	err        error
	callCount  int
	lastMail   *mail.SGMailV3
}

func (m *mockSender) SendWithContext(_ context.Context, e *mail.SGMailV3) (*rest.Response, error) {
	m.callCount++
	m.lastMail = e
	if m.err != nil {
		return nil, m.err
	}
	return &rest.Response{StatusCode: m.statusCode}, nil
}

func newMockProvider(sender *mockSender) (*Provider, *Config) {
	var seen Config
	p := NewWithSenderFunc(func(cfg Config) Sender {
		seen = cfg
		return sender
	})
	return p, &seen
}

func baseMessage() *email.Message {
	msg := email.NewMessage(Name)
	msg.SetFrom("sender@example.com", "Sender")
	msg.AddTo("to@example.com", "To")
	msg.SetHTML("<p>Hello</p>")
	msg.SetTransportConfig("", 0, "SG.api-key", "")
	return msg
}

func TestName(t *testing.T) {
	t.Parallel()
	if got := New().Name(); got != "sendgrid" {
		t.Errorf("Name(): got %q, want %q", got, "sendgrid")
	}
}

func TestSend_StatusCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status   int
		wantErr  bool
		wantKind provider.Kind
	}{
		{202, false, provider.KindUnknown},
		{200, true, provider.KindRejected},
		{400, true, provider.KindRejected},
		{401, true, provider.KindRejected},
		{500, true, provider.KindRejected},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			t.Parallel()

			sender := &mockSender{statusCode: tt.status}
			p, cfg := newMockProvider(sender)

			err := p.Send(context.Background(), baseMessage())
			if (err != nil) != tt.wantErr {
				t.Fatalf("status %d: got err %v, wantErr %v", tt.status, err, tt.wantErr)
			}
			if got := provider.KindOf(err); got != tt.wantKind {
				t.Errorf("kind: got %v, want %v", got, tt.wantKind)
			}
			if sender.callCount != 1 {
				t.Errorf("call count: got %d, want 1", sender.callCount)
			}
			if cfg.APIKey != "SG.api-key" {
				t.Errorf("APIKey: got %q, want %q", cfg.APIKey, "SG.api-key")
			}
		})
	}
}

func TestSend_TransportError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	p, _ := newMockProvider(&mockSender{err: boom})

	err := p.Send(context.Background(), baseMessage())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
	if provider.KindOf(err) != provider.KindTransport {
		t.Errorf("kind: got %v, want %v", provider.KindOf(err), provider.KindTransport)
	}
}

func TestSend_MissingSender(t *testing.T) {
	t.Parallel()

	sender := &mockSender{statusCode: 202}
	p, _ := newMockProvider(sender)

	msg := email.NewMessage(Name)
	msg.AddTo("to@example.com", "")

	if err := p.Send(context.Background(), msg); provider.KindOf(err) != provider.KindInvalidMessage {
		t.Errorf("kind: got %v, want %v", provider.KindOf(err), provider.KindInvalidMessage)
	}
	if sender.callCount != 0 {
		t.Errorf("call count: got %d, want 0", sender.callCount)
	}
}

func TestSend_UnreadableAttachment(t *testing.T) {
	t.Parallel()

	sender := &mockSender{statusCode: 202}
	p, _ := newMockProvider(sender)

	msg := baseMessage()
	msg.AddAttachment(filepath.Join(t.TempDir(), "missing.pdf"))

	err := p.Send(context.Background(), msg)
	if provider.KindOf(err) != provider.KindAttachment {
		t.Errorf("kind: got %v, want %v", provider.KindOf(err), provider.KindAttachment)
	}
	if sender.callCount != 0 {
		t.Errorf("call count: got %d, want 0", sender.callCount)
	}
}

func TestBuildMail_BatchesAndContent(t *testing.T) {
	t.Parallel()

	msg := email.NewMessage(Name)
	msg.SetFrom("sender@example.com", "Sender")
	msg.AddTo("a@example.com", "A")
	msg.AddTo("b@example.com", "")
	msg.AddCc("cc@example.com", "")
	msg.AddBcc("bcc1@example.com", "")
	msg.AddBcc("bcc2@example.com", "")
	msg.AddReplyTo("reply@example.com", "Reply")
	msg.SetHTML("<h1>Hi</h1>")
	msg.SetText("Hi")
	msg.SetAltBody(true)

	m, err := buildMail(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if m.Subject != "" {
		t.Errorf("Subject: got %q, want empty", m.Subject)
	}
	if m.From.Address != "sender@example.com" || m.From.Name != "Sender" {
		t.Errorf("From: got %+v", m.From)
	}
	if len(m.ReplyToList) != 1 || m.ReplyToList[0].Address != "reply@example.com" {
		t.Errorf("ReplyToList: got %+v", m.ReplyToList)
	}
	if len(m.Personalizations) != 1 {
		t.Fatalf("Personalizations: got %d, want 1", len(m.Personalizations))
	}
	p := m.Personalizations[0]
	if len(p.To) != 2 || p.To[0].Address != "a@example.com" || p.To[1].Address != "b@example.com" {
		t.Errorf("To: got %+v", p.To)
	}
	if len(p.CC) != 1 {
		t.Errorf("CC: got %d, want 1", len(p.CC))
	}
	if len(p.BCC) != 2 {
		t.Errorf("BCC: got %d, want 2", len(p.BCC))
	}

	if len(m.Content) != 2 {
		t.Fatalf("Content parts: got %d, want 2", len(m.Content))
	}
	if m.Content[0].Type != "text/plain" || m.Content[0].Value != "Hi" {
		t.Errorf("Content[0]: got %+v", m.Content[0])
	}
	if m.Content[1].Type != "text/html" || m.Content[1].Value != "<h1>Hi</h1>" {
		t.Errorf("Content[1]: got %+v", m.Content[1])
	}
}

func TestBuildMail_RequestBodyPlainBeforeHTML(t *testing.T) {
	t.Parallel()

	msg := baseMessage()
	msg.SetHTML("<p>hi</p>")
	msg.SetText("hi")
	msg.SetAltBody(true)

	m, err := buildMail(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := string(mail.GetRequestBody(m))
	plain := strings.Index(body, `"type":"text/plain"`)
	html := strings.Index(body, `"type":"text/html"`)
	if plain < 0 || html < 0 {
		t.Fatalf("request body missing content parts: %s", body)
	}
	if plain > html {
		t.Errorf("text/plain at offset %d must precede text/html at offset %d", plain, html)
	}
}

func TestBuildMail_AltBodyDisabled(t *testing.T) {
	t.Parallel()

	msg := baseMessage()
	msg.SetText("should not be sent")
	msg.SetAltBody(false)

	m, err := buildMail(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.Content) != 2 {
		t.Fatalf("Content parts: got %d, want 2", len(m.Content))
	}
	if m.Content[0].Type != "text/plain" || m.Content[0].Value != "" {
		t.Errorf("plain part: got %+v, want empty text/plain", m.Content[0])
	}
	if len(m.ReplyToList) != 0 {
		t.Errorf("ReplyToList: got %d entries, want none", len(m.ReplyToList))
	}
}

func TestBuildMail_Attachments(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	pdf := []byte("%PDF-1.4\n%test document\n")
	path := filepath.Join(dir, "report.pdf")
	if err := os.WriteFile(path, pdf, 0o600); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	msg := baseMessage()
	msg.AddAttachment(path)

	m, err := buildMail(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.Attachments) != 1 {
		t.Fatalf("Attachments: got %d, want 1", len(m.Attachments))
	}

	att := m.Attachments[0]
	if att.Filename != "report.pdf" {
		t.Errorf("Filename: got %q, want %q", att.Filename, "report.pdf")
	}
	if att.Type != "application/pdf" {
		t.Errorf("Type: got %q, want %q", att.Type, "application/pdf")
	}
	if att.Disposition != "attachment" {
		t.Errorf("Disposition: got %q, want %q", att.Disposition, "attachment")
	}
	decoded, err := base64.StdEncoding.DecodeString(att.Content)
	if err != nil {
		t.Fatalf("Content is not base64: %v", err)
	}
	if string(decoded) != string(pdf) {
		t.Errorf("decoded content: got %q, want %q", decoded, pdf)
	}
}
