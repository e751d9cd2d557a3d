// Package stdout implements a Provider that prints emails to standard output.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/shineum/mailbridge/internal/email"
	"github.com/shineum/mailbridge/internal/provider"
)

// Name is the backend identifier of the stdout provider.
const Name = "stdout"

// Provider prints email messages to stdout in a human-readable format.
type Provider struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Send prints the email message in a readable format. A message without a
// sender is rejected like on every other backend; otherwise it succeeds.
func (p *Provider) Send(_ context.Context, msg *email.Message) error {
	if err := msg.Validate(); err != nil {
		return &provider.Error{Kind: provider.KindInvalidMessage, Backend: Name, Err: err}
	}

	var b strings.Builder

	b.WriteString("========================================\n")
	b.WriteString(fmt.Sprintf("Message-ID: <%s@mailbridge>\n", uuid.NewString()))
	b.WriteString(fmt.Sprintf("From: %s\n", formatRecipient(msg.From)))
	b.WriteString(fmt.Sprintf("To: %s\n", formatRecipients(msg.To)))

	if len(msg.Cc) > 0 {
		b.WriteString(fmt.Sprintf("Cc: %s\n", formatRecipients(msg.Cc)))
	}
	if len(msg.Bcc) > 0 {
		b.WriteString(fmt.Sprintf("Bcc: %s\n", formatRecipients(msg.Bcc)))
	}
	if len(msg.ReplyTo) > 0 {
		b.WriteString(fmt.Sprintf("Reply-To: %s\n", formatRecipients(msg.ReplyTo)))
	}

	b.WriteString("Subject: \n")

	contentType := "text/plain"
	if msg.UseHTML {
		contentType = "text/html"
	}
	b.WriteString(fmt.Sprintf("Body (%s):\n", contentType))
	b.WriteString(msg.HTMLBody + "\n")

	if alt := msg.AltBody(); alt != "" {
		b.WriteString("Alt Body:\n")
		b.WriteString(alt + "\n")
	}

	if len(msg.Attachments) > 0 {
		attachments := make([]string, 0, len(msg.Attachments))
		for _, path := range msg.Attachments {
			size := "unreadable"
			if info, err := os.Stat(path); err == nil {
				size = formatSize(info.Size())
			}
			attachments = append(attachments, fmt.Sprintf("%s (%s)", filepath.Base(path), size))
		}
		b.WriteString(fmt.Sprintf("Attachments: %s\n", strings.Join(attachments, ", ")))
	}

	b.WriteString("========================================\n")

	// Output is best effort; a write error is not a delivery failure.
	_, _ = fmt.Fprint(p.writer, b.String())

	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return Name
}

func formatRecipient(r email.Recipient) string {
	if r.Name == "" {
		return r.Email
	}
	return fmt.Sprintf("%s <%s>", r.Name, r.Email)
}

func formatRecipients(list []email.Recipient) string {
	parts := make([]string, 0, len(list))
	for _, r := range list {
		parts = append(parts, formatRecipient(r))
	}
	return strings.Join(parts, ", ")
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
