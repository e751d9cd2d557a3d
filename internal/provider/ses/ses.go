// Package ses implements a Provider that sends emails via AWS SES v2.
package ses

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/gabriel-vasile/mimetype"
	"github.com/samber/lo"

	"github.com/shineum/mailbridge/internal/email"
	"github.com/shineum/mailbridge/internal/provider"
)

// Name is the backend identifier of the SES provider.
const Name = "ses"

// Config holds the SES settings.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// ConfigFrom extracts the SES settings from the shared transport config:
// region from host, access key id from username, secret from password.
// Empty credentials fall back to the default AWS credential chain.
func ConfigFrom(t email.TransportConfig) Config {
	return Config{
		Region:          t.Host,
		AccessKeyID:     t.Username,
		SecretAccessKey: t.Password,
	}
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// NewClientFunc builds a SendEmailAPI for one configuration.
type NewClientFunc func(ctx context.Context, cfg Config) (SendEmailAPI, error)

// Provider sends emails via the AWS SES v2 API.
type Provider struct {
	newClient NewClientFunc
}

// New creates a SES Provider that loads AWS configuration per message.
func New() *Provider {
	return &Provider{newClient: NewClient}
}

// NewWithClient creates a Provider that always uses client, used for testing.
func NewWithClient(client SendEmailAPI) *Provider {
	return &Provider{newClient: func(context.Context, Config) (SendEmailAPI, error) {
		return client, nil
	}}
}

// NewClient loads the AWS configuration for cfg and returns a SES v2 client.
func NewClient(ctx context.Context, cfg Config) (SendEmailAPI, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return sesv2.NewFromConfig(awsCfg), nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return Name
}

// Send delivers an email message via AWS SES v2.
// For emails with attachments, it builds a raw MIME message.
// For simple emails, it uses the SES simple email format.
func (p *Provider) Send(ctx context.Context, msg *email.Message) error {
	if err := msg.Validate(); err != nil {
		return &provider.Error{Kind: provider.KindInvalidMessage, Backend: Name, Err: err}
	}

	var input *sesv2.SendEmailInput
	if len(msg.Attachments) > 0 {
		raw, err := buildRawMessage(msg)
		if err != nil {
			return &provider.Error{Kind: provider.KindAttachment, Backend: Name, Err: err}
		}
		input = &sesv2.SendEmailInput{
			FromEmailAddress: aws.String(msg.From.String()),
			Destination:      buildDestination(msg),
			ReplyToAddresses: formatAddresses(msg.ReplyTo),
			Content: &types.EmailContent{
				Raw: &types.RawMessage{
					Data: raw,
				},
			},
		}
	} else {
		input = buildSimpleInput(msg)
	}

	client, err := p.newClient(ctx, ConfigFrom(msg.Transport))
	if err != nil {
		return &provider.Error{Kind: provider.KindTransport, Backend: Name, Err: err}
	}

	out, err := client.SendEmail(ctx, input)
	if err != nil {
		return provider.Errorf(provider.KindTransport, Name, "SES API request failed: %w", err)
	}

	provider.LoggerFrom(ctx).Debug("SES accepted message",
		"message_id", aws.ToString(out.MessageId),
		"region", msg.Transport.Host,
	)
	return nil
}

// buildSimpleInput creates a SES SendEmailInput for emails without attachments.
func buildSimpleInput(msg *email.Message) *sesv2.SendEmailInput {
	body := &types.Body{}

	if msg.HTMLBody != "" {
		body.Html = &types.Content{
			Data:    aws.String(msg.HTMLBody),
			Charset: aws.String("UTF-8"),
		}
	}
	if alt := msg.AltBody(); alt != "" {
		body.Text = &types.Content{
			Data:    aws.String(alt),
			Charset: aws.String("UTF-8"),
		}
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From.String()),
		Destination:      buildDestination(msg),
		ReplyToAddresses: formatAddresses(msg.ReplyTo),
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(""),
					Charset: aws.String("UTF-8"),
				},
				Body: body,
			},
		},
	}
}

func buildDestination(msg *email.Message) *types.Destination {
	return &types.Destination{
		ToAddresses:  formatAddresses(msg.To),
		CcAddresses:  formatAddresses(msg.Cc),
		BccAddresses: formatAddresses(msg.Bcc),
	}
}

// buildRawMessage constructs a raw MIME message for emails with attachments.
// Bcc recipients are carried by the destination only, never in headers.
func buildRawMessage(msg *email.Message) ([]byte, error) {
	var buf bytes.Buffer

	// Write headers
	fmt.Fprintf(&buf, "From: %s\r\n", msg.From.String())
	if len(msg.To) > 0 {
		fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(formatAddresses(msg.To), ", "))
	}
	if len(msg.Cc) > 0 {
		fmt.Fprintf(&buf, "Cc: %s\r\n", strings.Join(formatAddresses(msg.Cc), ", "))
	}
	if len(msg.ReplyTo) > 0 {
		fmt.Fprintf(&buf, "Reply-To: %s\r\n", strings.Join(formatAddresses(msg.ReplyTo), ", "))
	}
	fmt.Fprintf(&buf, "Subject: \r\n")
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")

	writer := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", writer.Boundary())

	if err := writeBodyParts(writer, msg); err != nil {
		return nil, err
	}

	for _, path := range msg.Attachments {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment: %w", err)
		}

		attHeader := make(textproto.MIMEHeader)
		attHeader.Set("Content-Type", mimetype.Detect(data).String())
		attHeader.Set("Content-Transfer-Encoding", "base64")
		attHeader.Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%s", mime.QEncoding.Encode("UTF-8", filepath.Base(path))))

		part, err := writer.CreatePart(attHeader)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment part: %w", err)
		}
		part.Write([]byte(encodeBase64WithLineBreaks(data)))
	}

	writer.Close()
	return buf.Bytes(), nil
}

// writeBodyParts writes the HTML body, plus the alternate text body when
// one is sent, wrapped in multipart/alternative.
func writeBodyParts(writer *multipart.Writer, msg *email.Message) error {
	alt := msg.AltBody()
	if alt == "" {
		return writeTextPart(writer, "text/html; charset=UTF-8", msg.HTMLBody)
	}

	var inner bytes.Buffer
	altWriter := multipart.NewWriter(&inner)
	if err := writeTextPart(altWriter, "text/plain; charset=UTF-8", alt); err != nil {
		return err
	}
	if err := writeTextPart(altWriter, "text/html; charset=UTF-8", msg.HTMLBody); err != nil {
		return err
	}
	altWriter.Close()

	header := make(textproto.MIMEHeader)
	header.Set("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", altWriter.Boundary()))
	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("failed to create alternative part: %w", err)
	}
	part.Write(inner.Bytes())
	return nil
}

func writeTextPart(writer *multipart.Writer, contentType, content string) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("failed to create body part: %w", err)
	}
	part.Write([]byte(content))
	return nil
}

// encodeBase64WithLineBreaks encodes bytes to base64 with 76-character line breaks per RFC 2045.
func encodeBase64WithLineBreaks(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	var lines []string
	for i := 0; i < len(encoded); i += 76 {
		end := min(i+76, len(encoded))
		lines = append(lines, encoded[i:end])
	}
	return strings.Join(lines, "\r\n")
}

func formatAddresses(list []email.Recipient) []string {
	if len(list) == 0 {
		return nil
	}
	return lo.Map(list, func(r email.Recipient, _ int) string {
		return r.String()
	})
}
