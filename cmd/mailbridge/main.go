// Package main is the entry point for the mailbridge command, which sends a
// single message through the configured delivery backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	netmail "net/mail"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/shineum/mailbridge/internal/config"
	"github.com/shineum/mailbridge/internal/dispatch"
	"github.com/shineum/mailbridge/internal/email"
	"github.com/shineum/mailbridge/internal/provider"
	"github.com/shineum/mailbridge/internal/provider/graph"
	"github.com/shineum/mailbridge/internal/provider/mailgun"
	"github.com/shineum/mailbridge/internal/provider/resend"
	"github.com/shineum/mailbridge/internal/provider/sendgrid"
	"github.com/shineum/mailbridge/internal/provider/ses"
	"github.com/shineum/mailbridge/internal/provider/smtp"
	"github.com/shineum/mailbridge/internal/provider/stdout"
)

// listFlag collects a repeatable, comma separated flag.
type listFlag []string

func (l *listFlag) String() string {
	return strings.Join(*l, ",")
}

func (l *listFlag) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	return nil
}

// options holds the message content given on the command line.
type options struct {
	backend  string
	from     string
	fromName string
	to       listFlag
	cc       listFlag
	bcc      listFlag
	replyTo  listFlag
	html     string
	text     string
	alt      bool
	attach   listFlag
}

func main() {
	var opts options
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.StringVar(&opts.backend, "backend", "", "delivery backend, overrides MAIL_BACKEND ("+strings.Join(config.Backends, ", ")+")")
	flag.StringVar(&opts.from, "from", "", "sender address")
	flag.StringVar(&opts.fromName, "from-name", "", "sender display name")
	flag.Var(&opts.to, "to", "primary recipient, repeatable or comma separated")
	flag.Var(&opts.cc, "cc", "carbon-copy recipient, repeatable or comma separated")
	flag.Var(&opts.bcc, "bcc", "blind carbon-copy recipient, repeatable or comma separated")
	flag.Var(&opts.replyTo, "reply-to", "reply-to address, repeatable or comma separated")
	flag.StringVar(&opts.html, "html", "", "message body")
	flag.StringVar(&opts.text, "text", "", "plain-text alternate body")
	flag.BoolVar(&opts.alt, "alt", false, "send the plain-text alternate body")
	flag.Var(&opts.attach, "attach", "attachment file path, repeatable")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if opts.backend != "" {
		cfg.Backend = opts.backend
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	d := dispatch.New(allProviders(), dispatch.WithLogger(slog.Default()))
	msg := buildMessage(cfg, opts)

	slog.Info("sending email",
		"backend", msg.Backend,
		"recipients", len(msg.To)+len(msg.Cc)+len(msg.Bcc),
		"attachments", len(msg.Attachments),
	)

	if !d.Dispatch(ctx, msg) {
		fmt.Fprintln(os.Stderr, "email not sent")
		os.Exit(1)
	}
	fmt.Println("email sent")
}

// allProviders returns one provider per supported backend.
func allProviders() []provider.Provider {
	return []provider.Provider{
		smtp.New(),
		sendgrid.New(),
		mailgun.New(),
		ses.New(),
		graph.New(),
		resend.New(),
		stdout.New(),
	}
}

// buildMessage assembles the message from configuration and flags.
func buildMessage(cfg *config.Config, opts options) *email.Message {
	msg := email.NewMessage(cfg.Backend)
	msg.SetTransportConfig(cfg.Transport.Host, cfg.Transport.Port, cfg.Transport.Username, cfg.Transport.Password)
	msg.SetSMTPEnabled(cfg.Transport.SMTPEnabled)

	if opts.from != "" {
		msg.SetFrom(opts.from, opts.fromName)
	}
	for _, v := range opts.to {
		addr, name := parseAddress(v)
		msg.AddTo(addr, name)
	}
	for _, v := range opts.cc {
		addr, name := parseAddress(v)
		msg.AddCc(addr, name)
	}
	for _, v := range opts.bcc {
		addr, name := parseAddress(v)
		msg.AddBcc(addr, name)
	}
	for _, v := range opts.replyTo {
		addr, name := parseAddress(v)
		msg.AddReplyTo(addr, name)
	}

	msg.SetHTML(opts.html)
	msg.SetText(opts.text)
	msg.SetAltBody(opts.alt)
	msg.UseHTML = opts.html != ""

	for _, path := range opts.attach {
		if !email.AdmitAttachment(path) {
			slog.Warn("skipping attachment with unsupported extension", "path", path)
			continue
		}
		msg.AddAttachment(path)
	}

	return msg
}

// parseAddress splits "Name <addr>" into its parts. Anything that does not
// parse is used verbatim as the address.
func parseAddress(v string) (string, string) {
	parsed, err := netmail.ParseAddress(v)
	if err != nil {
		return v, ""
	}
	return parsed.Address, parsed.Name
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level. Logs go to stderr so the stdout backend's output
// stays clean.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
