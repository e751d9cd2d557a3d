package smtp

import (
	"context"
	"errors"
	"testing"

	"github.com/shineum/mailbridge/internal/email"
	"github.com/shineum/mailbridge/internal/provider"
)

type recordedAddress struct {
	kind    AddressKind
	address string
	name    string
}

// recordingClient implements Client and records every call.
type recordingClient struct {
	cfg         Config
	fromAddr    string
	fromName    string
	addresses   []recordedAddress
	html        bool
	subject     string
	subjectSet  bool
	body        string
	altBody     string
	attachments []string
	sendCount   int

	attachErr error
	sendErr   error
}

func (c *recordingClient) SetFrom(address, name string) error {
	c.fromAddr, c.fromName = address, name
	return nil
}

func (c *recordingClient) AddAddress(kind AddressKind, address, name string) error {
	c.addresses = append(c.addresses, recordedAddress{kind: kind, address: address, name: name})
	return nil
}

func (c *recordingClient) IsHTML(html bool) { c.html = html }

func (c *recordingClient) SetSubject(subject string) {
	c.subject = subject
	c.subjectSet = true
}

func (c *recordingClient) SetBody(body, altBody string) {
	c.body, c.altBody = body, altBody
}

func (c *recordingClient) AddAttachment(path string) error {
	if c.attachErr != nil {
		return c.attachErr
	}
	c.attachments = append(c.attachments, path)
	return nil
}

func (c *recordingClient) Send(_ context.Context) error {
	c.sendCount++
	return c.sendErr
}

func (c *recordingClient) byKind(kind AddressKind) []recordedAddress {
	var out []recordedAddress
	for _, a := range c.addresses {
		if a.kind == kind {
			out = append(out, a)
		}
	}
	return out
}

func newRecordingProvider(client *recordingClient) *Provider {
	return NewWithClientFunc(func(cfg Config) (Client, error) {
		client.cfg = cfg
		return client, nil
	})
}

func TestName(t *testing.T) {
	t.Parallel()
	if got := New().Name(); got != "smtp" {
		t.Errorf("Name(): got %q, want %q", got, "smtp")
	}
}

func TestSend_RoundTrip(t *testing.T) {
	t.Parallel()

	client := &recordingClient{}
	p := newRecordingProvider(client)

	msg := email.NewMessage(Name)
	msg.SetFrom("a@x.com", "A")
	msg.AddTo("b@x.com", "")
	msg.SetHTML("<p>hi</p>")
	msg.SetAltBody(true)
	msg.SetText("hi")

	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if client.body != "<p>hi</p>" {
		t.Errorf("Body: got %q, want %q", client.body, "<p>hi</p>")
	}
	if client.altBody != "hi" {
		t.Errorf("AltBody: got %q, want %q", client.altBody, "hi")
	}
	to := client.byKind(AddressTo)
	if len(to) != 1 || to[0].address != "b@x.com" {
		t.Errorf("to addresses: got %+v, want exactly b@x.com", to)
	}
	if len(client.addresses) != 1 {
		t.Errorf("total addresses: got %d, want 1", len(client.addresses))
	}
	if client.fromAddr != "a@x.com" || client.fromName != "A" {
		t.Errorf("From: got %q <%s>, want %q <%s>", client.fromName, client.fromAddr, "A", "a@x.com")
	}
	if client.html {
		t.Error("IsHTML: SetText was called last, want false")
	}
	if client.sendCount != 1 {
		t.Errorf("send count: got %d, want 1", client.sendCount)
	}
}

func TestSend_AltBodyDisabledSendsEmpty(t *testing.T) {
	t.Parallel()

	client := &recordingClient{}
	p := newRecordingProvider(client)

	msg := email.NewMessage(Name)
	msg.SetFrom("a@x.com", "A")
	msg.AddTo("b@x.com", "")
	msg.SetText("this text must not leak")
	msg.SetHTML("<p>hi</p>")
	msg.SetAltBody(false)

	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.altBody != "" {
		t.Errorf("AltBody: got %q, want empty", client.altBody)
	}
	if !client.html {
		t.Error("IsHTML: want true after SetHTML")
	}
}

func TestSend_BodyAlwaysFromHTMLField(t *testing.T) {
	t.Parallel()

	client := &recordingClient{}
	p := newRecordingProvider(client)

	msg := email.NewMessage(Name)
	msg.SetFrom("a@x.com", "")
	msg.AddTo("b@x.com", "")
	msg.SetText("plain only")

	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.body != "" {
		t.Errorf("Body: got %q, want empty HTML body", client.body)
	}
}

func TestSend_AllRolesAndAttachments(t *testing.T) {
	t.Parallel()

	client := &recordingClient{}
	p := newRecordingProvider(client)

	msg := email.NewMessage(Name)
	msg.SetFrom("sender@example.com", "Sender")
	msg.AddTo("r1@example.com", "Recipient 1")
	msg.AddTo("r2@example.com", "Recipient 2")
	msg.AddCc("cc@example.com", "")
	msg.AddBcc("bcc@example.com", "")
	msg.AddReplyTo("reply@example.com", "")
	msg.AddAttachment("/tmp/report.pdf")
	msg.AddAttachment("/tmp/photo.png")
	msg.SetSMTPEnabled(true)
	msg.SetTransportConfig("smtp.example.com", 2525, "user", "secret")

	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantCfg := Config{Host: "smtp.example.com", Port: 2525, Username: "user", Password: "secret", Auth: true}
	if client.cfg != wantCfg {
		t.Errorf("Config: got %+v, want %+v", client.cfg, wantCfg)
	}

	counts := map[AddressKind]int{AddressTo: 2, AddressCc: 1, AddressBcc: 1, AddressReplyTo: 1}
	for kind, want := range counts {
		if got := len(client.byKind(kind)); got != want {
			t.Errorf("%s addresses: got %d, want %d", kind, got, want)
		}
	}
	to := client.byKind(AddressTo)
	if to[0].address != "r1@example.com" || to[1].address != "r2@example.com" {
		t.Errorf("to order: got %+v", to)
	}
	if len(client.attachments) != 2 {
		t.Errorf("attachments: got %d, want 2", len(client.attachments))
	}
	if !client.subjectSet || client.subject != "" {
		t.Errorf("Subject: got %q (set=%v), want explicitly empty", client.subject, client.subjectSet)
	}
}

func TestSend_AuthFollowsSMTPEnabled(t *testing.T) {
	t.Parallel()

	client := &recordingClient{}
	p := newRecordingProvider(client)

	msg := email.NewMessage(Name)
	msg.SetFrom("a@x.com", "")
	msg.SetTransportConfig("smtp.example.com", 587, "user", "secret")

	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.cfg.Auth {
		t.Error("Auth: got true, want false when SMTP is not enabled")
	}
}

func TestSend_MissingSender(t *testing.T) {
	t.Parallel()

	called := false
	p := NewWithClientFunc(func(cfg Config) (Client, error) {
		called = true
		return &recordingClient{}, nil
	})

	msg := email.NewMessage(Name)
	msg.AddTo("b@x.com", "")

	err := p.Send(context.Background(), msg)
	if provider.KindOf(err) != provider.KindInvalidMessage {
		t.Errorf("kind: got %v, want %v", provider.KindOf(err), provider.KindInvalidMessage)
	}
	if called {
		t.Error("client should not be created for an invalid message")
	}
}

func TestSend_Failures(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")

	tests := []struct {
		name     string
		factory  NewClientFunc
		wantKind provider.Kind
	}{
		{
			name: "client construction",
			factory: func(Config) (Client, error) {
				return nil, boom
			},
			wantKind: provider.KindTransport,
		},
		{
			name: "attachment",
			factory: func(Config) (Client, error) {
				return &recordingClient{attachErr: boom}, nil
			},
			wantKind: provider.KindAttachment,
		},
		{
			name: "send",
			factory: func(Config) (Client, error) {
				return &recordingClient{sendErr: boom}, nil
			},
			wantKind: provider.KindTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			msg := email.NewMessage(Name)
			msg.SetFrom("a@x.com", "")
			msg.AddTo("b@x.com", "")
			msg.AddAttachment("/tmp/file.pdf")

			err := NewWithClientFunc(tt.factory).Send(context.Background(), msg)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, boom) {
				t.Errorf("expected wrapped cause, got %v", err)
			}
			if got := provider.KindOf(err); got != tt.wantKind {
				t.Errorf("kind: got %v, want %v", got, tt.wantKind)
			}
		})
	}
}

func TestNewGoMailClient_RequiresHost(t *testing.T) {
	t.Parallel()

	if _, err := NewGoMailClient(Config{Port: 587}); err == nil {
		t.Error("expected error for empty host")
	}
}

func TestGoMailClient_AddAttachmentMissingFile(t *testing.T) {
	t.Parallel()

	client, err := NewGoMailClient(Config{Host: "localhost", Port: 2525})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := client.AddAttachment("/nonexistent/dir/file.pdf"); err == nil {
		t.Error("expected error for missing attachment")
	}
}
