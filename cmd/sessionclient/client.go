package sessionclient

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"
)

// Client is a convenience facade over the stockpad HTTP surface. It signs in,
// keeps the refresh credential in a cookie jar, and exposes an *http.Client
// whose requests carry a renewed access credential.
type Client struct {
	baseURL string
	log     *slog.Logger

	raw     *http.Client
	authed  *http.Client
	rotator *HTTPRotator
	coord   *Coordinator
}

// ClientOption customizes a Client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	transport http.RoundTripper
	timeout   time.Duration
	log       *slog.Logger
}

// WithTransport sets the underlying RoundTripper.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(o *clientOptions) { o.transport = rt }
}

// WithTimeout bounds every request issued by the Client.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.timeout = d }
}

// WithClientLogger sets the logger for the Client and its Coordinator.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(o *clientOptions) { o.log = l }
}

// New returns a Client for the backend at baseURL.
func New(baseURL string, cfg Config, opts ...ClientOption) (*Client, error) {
	o := clientOptions{transport: http.DefaultTransport, timeout: 30 * time.Second, log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	baseURL = strings.TrimRight(baseURL, "/")
	raw := &http.Client{Jar: jar, Transport: o.transport, Timeout: o.timeout}
	rotator := NewHTTPRotator(baseURL, raw)

	coord, err := NewCoordinator(rotator, cfg, WithLogger(o.log))
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL: baseURL,
		log:     o.log,
		raw:     raw,
		authed: &http.Client{
			Jar:       jar,
			Transport: &Transport{Base: o.transport, Coordinator: coord},
			Timeout:   o.timeout,
		},
		rotator: rotator,
		coord:   coord,
	}, nil
}

// HTTPClient returns a client whose requests carry the access credential.
func (c *Client) HTTPClient() *http.Client { return c.authed }

// Coordinator returns the renewal coordinator.
func (c *Client) Coordinator() *Coordinator { return c.coord }

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Register creates an account and signs in.
func (c *Client) Register(ctx context.Context, username, password, displayName, email string) (Account, error) {
	return c.signIn(ctx, "/auth/register", map[string]string{
		"username":     username,
		"password":     password,
		"display_name": displayName,
		"email":        email,
	})
}

// Login signs in with username and password.
func (c *Client) Login(ctx context.Context, username, password string) (Account, error) {
	return c.signIn(ctx, "/auth/login", map[string]string{
		"username": username,
		"password": password,
	})
}

func (c *Client) signIn(ctx context.Context, path string, body map[string]string) (Account, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return Account{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return Account{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.raw.Do(req)
	if err != nil {
		return Account{}, wrapNetwork(err)
	}

	var out authPayload
	if err := decodeResponse(resp, &out); err != nil {
		return Account{}, err
	}

	c.rotator.adopt(out.Session)
	c.coord.Set(out.Session.credential())
	c.log.Info("client.signin.ok", "account_id", out.Account.ID, "path", path)
	return out.Account, nil
}

// Me returns the signed-in account.
func (c *Client) Me(ctx context.Context) (Account, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/me", nil)
	if err != nil {
		return Account{}, err
	}
	resp, err := c.authed.Do(req)
	if err != nil {
		return Account{}, wrapNetwork(err)
	}
	var out mePayload
	if err := decodeResponse(resp, &out); err != nil {
		return Account{}, err
	}
	return out.Account, nil
}

// Logout revokes the session on the backend and forgets it locally. Local
// state is cleared even when the backend call fails.
func (c *Client) Logout(ctx context.Context) error {
	defer func() {
		c.coord.Clear()
		c.rotator.reset()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/logout", nil)
	if err != nil {
		return err
	}
	resp, err := c.authed.Do(req)
	if err != nil {
		return wrapNetwork(err)
	}
	return decodeResponse(resp, nil)
}

// DialEvents opens the session event stream.
func (c *Client) DialEvents(ctx context.Context) (*EventStream, error) {
	return DialEvents(ctx, wsURL(c.baseURL)+"/ws/session", c.coord)
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
