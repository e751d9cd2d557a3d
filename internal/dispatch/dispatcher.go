// Package dispatch routes a message to the provider registered for its
// backend and reduces the outcome to a single result.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/shineum/mailbridge/internal/email"
	"github.com/shineum/mailbridge/internal/provider"
)

// ErrUnknownBackend is the cause reported when no provider is registered
// for a message's backend.
var ErrUnknownBackend = errors.New("unknown backend")

// ErrNilMessage is the cause reported when Dispatch is handed a nil message.
var ErrNilMessage = errors.New("nil message")

// Result is the outcome of one dispatch.
type Result struct {
	ID      string
	Backend string
	Err     error
}

// OK reports whether the message was delivered.
func (r Result) OK() bool {
	return r.Err == nil
}

// Kind classifies the failure, or returns provider.KindUnknown on success.
func (r Result) Kind() provider.Kind {
	return provider.KindOf(r.Err)
}

// Dispatcher holds the set of registered providers keyed by name.
// Providers are normally registered once at start up; dispatching is safe
// for concurrent use as long as each call has its own Message. The zero
// value is an empty Dispatcher that logs nothing.
type Dispatcher struct {
	mu        sync.RWMutex
	providers map[string]provider.Provider
	logger    *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for dispatch outcomes. Providers receive
// it through the context. Without this option nothing is logged.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// New creates a Dispatcher with the given providers registered.
func New(providers []provider.Provider, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		providers: make(map[string]provider.Provider, len(providers)),
	}
	for _, opt := range opts {
		opt(d)
	}
	for _, p := range providers {
		d.Register(p)
	}
	return d
}

// Register adds p under p.Name(), replacing any provider already
// registered under that name.
func (d *Dispatcher) Register(p provider.Provider) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.providers == nil {
		d.providers = make(map[string]provider.Provider)
	}
	d.providers[p.Name()] = p
}

// Backends returns the names of the registered providers.
func (d *Dispatcher) Backends() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.providers))
	for name := range d.providers {
		names = append(names, name)
	}
	return names
}

// Dispatch sends msg through its backend and reports success. It never
// returns an error or panics; use Send for the failure reason.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *email.Message) bool {
	return d.Send(ctx, msg).OK()
}

// Send sends msg through its backend. Unknown backends, provider errors and
// provider panics are all reported in the Result.
func (d *Dispatcher) Send(ctx context.Context, msg *email.Message) (res Result) {
	res = Result{ID: uuid.NewString()}
	if msg == nil {
		res.Err = &provider.Error{Kind: provider.KindInvalidMessage, Err: ErrNilMessage}
		d.logResult(res)
		return res
	}
	res.Backend = msg.Backend

	d.mu.RLock()
	p, ok := d.providers[msg.Backend]
	d.mu.RUnlock()

	if !ok {
		res.Err = &provider.Error{Kind: provider.KindUnknownBackend, Backend: msg.Backend, Err: ErrUnknownBackend}
		d.logResult(res)
		return res
	}

	defer func() {
		if r := recover(); r != nil {
			res.Err = provider.Errorf(provider.KindTransport, msg.Backend, "provider panicked: %v", r)
		}
		d.logResult(res)
	}()

	ctx = provider.ContextWithLogger(ctx, d.log())
	if err := p.Send(ctx, msg); err != nil {
		res.Err = fmt.Errorf("dispatch %s: %w", res.ID, err)
	}
	return res
}

func (d *Dispatcher) log() *slog.Logger {
	if d.logger == nil {
		return provider.LoggerFrom(context.Background())
	}
	return d.logger
}

func (d *Dispatcher) logResult(res Result) {
	if res.OK() {
		d.log().Debug("email dispatched",
			"dispatch_id", res.ID,
			"backend", res.Backend,
		)
		return
	}
	d.log().Warn("email dispatch failed",
		"dispatch_id", res.ID,
		"backend", res.Backend,
		"kind", res.Kind().String(),
		"error", res.Err,
	)
}
