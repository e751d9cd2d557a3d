package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shineum/mailbridge/internal/email"
	"github.com/shineum/mailbridge/internal/provider"
)

// Name is the backend identifier of the Graph provider.
const Name = "graph"

const (
	defaultLoginBase = "https://login.microsoftonline.com"
	defaultGraphBase = "https://graph.microsoft.com/v1.0"
)

// ErrMissingCredentials is returned when the tenant or client id is empty.
var ErrMissingCredentials = errors.New("graph tenant id and client id are required")

// Config holds the Graph application credentials.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
}

// ConfigFrom extracts the Graph settings from the shared transport config:
// tenant id from host, client id from username, secret from password.
func ConfigFrom(t email.TransportConfig) Config {
	return Config{
		TenantID:     t.Host,
		ClientID:     t.Username,
		ClientSecret: t.Password,
	}
}

type cacheKey struct {
	tenantID string
	clientID string
}

// Provider sends emails via the Microsoft Graph API using OAuth2
// client credentials authentication. The message sender is the mailbox
// the message is sent from.
type Provider struct {
	loginBase  string
	graphBase  string
	httpClient *http.Client

	mu     sync.Mutex
	tokens map[cacheKey]*tokenCache
}

// New creates a new Graph Provider against the public Microsoft endpoints.
func New() *Provider {
	return newWithOverrides(defaultLoginBase, defaultGraphBase, &http.Client{Timeout: 30 * time.Second})
}

// newWithOverrides creates a Provider with custom base URLs and HTTP client,
// used for testing.
func newWithOverrides(loginBase, graphBase string, client *http.Client) *Provider {
	return &Provider{
		loginBase:  loginBase,
		graphBase:  graphBase,
		httpClient: client,
		tokens:     make(map[cacheKey]*tokenCache),
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return Name
}

// Send delivers an email message via the Microsoft Graph API.
// A 401 response refreshes the access token once and repeats the request;
// no other failure is retried.
func (p *Provider) Send(ctx context.Context, msg *email.Message) error {
	if err := msg.Validate(); err != nil {
		return &provider.Error{Kind: provider.KindInvalidMessage, Backend: Name, Err: err}
	}

	cfg := ConfigFrom(msg.Transport)
	if cfg.TenantID == "" || cfg.ClientID == "" {
		return &provider.Error{Kind: provider.KindTransport, Backend: Name, Err: ErrMissingCredentials}
	}

	reqBody, err := buildSendMailRequest(msg)
	if err != nil {
		return &provider.Error{Kind: provider.KindAttachment, Backend: Name, Err: err}
	}
	bodyJSON, err := json.Marshal(reqBody)
	if err != nil {
		return provider.Errorf(provider.KindTransport, Name, "failed to marshal request body: %w", err)
	}

	token := p.tokenFor(cfg)
	sendURL := fmt.Sprintf("%s/users/%s/sendMail", p.graphBase, url.PathEscape(msg.From.Email))

	err = p.doSendRequest(ctx, token, sendURL, bodyJSON, false)
	var sendErr *sendError
	if errors.As(err, &sendErr) && sendErr.statusCode == http.StatusUnauthorized {
		provider.LoggerFrom(ctx).Debug("refreshing Graph API token after 401")
		err = p.doSendRequest(ctx, token, sendURL, bodyJSON, true)
	}
	if err != nil {
		return classify(err)
	}

	provider.LoggerFrom(ctx).Debug("Graph API accepted message", "sender", msg.From.Email)
	return nil
}

// tokenFor returns the token cache for the tenant and client, creating it
// on first use.
func (p *Provider) tokenFor(cfg Config) *tokenCache {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := cacheKey{tenantID: cfg.TenantID, clientID: cfg.ClientID}
	tc, ok := p.tokens[key]
	if !ok {
		tokenURL := fmt.Sprintf("%s/%s/oauth2/v2.0/token", p.loginBase, url.PathEscape(cfg.TenantID))
		tc = newTokenCache(tokenURL, cfg.ClientID, cfg.ClientSecret, p.httpClient)
		p.tokens[key] = tc
		return tc
	}
	tc.updateSecret(cfg.ClientSecret)
	return tc
}

// doSendRequest performs a single HTTP request to the Graph API sendMail endpoint.
func (p *Provider) doSendRequest(ctx context.Context, tc *tokenCache, sendURL string, bodyJSON []byte, forceRefresh bool) error {
	var (
		token string
		err   error
	)
	if forceRefresh {
		token, err = tc.ForceRefresh(ctx)
	} else {
		token, err = tc.Token(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sendURL, bytes.NewReader(bodyJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	// HTTP 202 Accepted is success for sendMail
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)

	var graphErrResp graphErrorResponse
	if jsonErr := json.Unmarshal(body, &graphErrResp); jsonErr == nil && graphErrResp.Error.Message != "" {
		return &sendError{statusCode: resp.StatusCode, message: graphErrResp.Error.Message}
	}

	return &sendError{statusCode: resp.StatusCode, message: string(body)}
}

// sendError represents a non-success response from the Graph API.
type sendError struct {
	message    string
	statusCode int
}

func (e *sendError) Error() string {
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.statusCode, e.message)
}

// classify maps a request failure onto a provider error. Client errors are
// rejections; server errors and network failures are transport faults.
func classify(err error) *provider.Error {
	var sendErr *sendError
	if errors.As(err, &sendErr) && sendErr.statusCode >= 400 && sendErr.statusCode < 500 {
		return &provider.Error{Kind: provider.KindRejected, Backend: Name, Err: err}
	}
	return &provider.Error{Kind: provider.KindTransport, Backend: Name, Err: err}
}
