// Package provider defines the interface for email delivery backends.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shineum/mailbridge/internal/email"
)

// Provider is the interface that email delivery backends must implement.
// Each provider translates the backend-agnostic message into its own
// request shape and performs the transport call (SMTP, SendGrid, Mailgun, ...).
type Provider interface {
	// Send delivers an email message through this provider.
	// It returns an error if the delivery fails.
	Send(ctx context.Context, msg *email.Message) error

	// Name returns the backend identifier this provider is registered under.
	Name() string
}

// Kind classifies why a delivery failed.
type Kind int

const (
	// KindUnknown is used for errors that carry no classification.
	KindUnknown Kind = iota
	// KindInvalidMessage means the message lacked a field the backend needs.
	KindInvalidMessage
	// KindUnknownBackend means no provider is registered for the backend id.
	KindUnknownBackend
	// KindTransport means the underlying client or connection failed.
	KindTransport
	// KindRejected means the provider answered but refused the message.
	KindRejected
	// KindAttachment means an attachment could not be read or encoded.
	KindAttachment
)

func (k Kind) String() string {
	switch k {
	case KindInvalidMessage:
		return "invalid_message"
	case KindUnknownBackend:
		return "unknown_backend"
	case KindTransport:
		return "transport"
	case KindRejected:
		return "rejected"
	case KindAttachment:
		return "attachment"
	default:
		return "unknown"
	}
}

// Error is a classified delivery failure.
type Error struct {
	Kind    Kind
	Backend string
	Err     error
}

func (e *Error) Error() string {
	if e.Backend == "" {
		return fmt.Sprintf("%s failure: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s failure: %v", e.Backend, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a classified error for backend.
func Errorf(kind Kind, backend, format string, args ...any) *Error {
	return &Error{Kind: kind, Backend: backend, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindTransport for unclassified errors. A nil error has KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindTransport
}

type loggerKey struct{}

var discardLogger = slog.New(slog.DiscardHandler)

// ContextWithLogger returns a copy of ctx carrying l for providers to log
// through.
func ContextWithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// LoggerFrom returns the logger carried by ctx. Without one, output is
// discarded.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return discardLogger
}
