package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"stockpad/cmd/internal/auth/session"
	v1 "stockpad/shared/contracts/session/v1"
)

const (
	wsDefaultSendQueueSize = 16
	wsDefaultWriteTimeout  = 5 * time.Second
	wsCloseGrace           = 1 * time.Second
	wsMaxPingFailures      = 3
)

// TokenValidator verifies bearer access credentials.
type TokenValidator interface {
	ValidateAccessToken(token string, now time.Time) (session.AccessClaims, error)
}

// WSGateway serves the per-account session event stream.
//
// Connections authenticate with a bearer access credential on the handshake
// and are closed with StatusPolicyViolation when that credential expires, so
// clients re-dial with a renewed one.
type WSGateway struct {
	log    *slog.Logger
	hub    *Hub
	tokens TokenValidator

	devInsecure    bool
	originRequired bool
	allowedOrigins []string
	originPatterns []string

	writeTimeout  time.Duration
	sendQueueSize int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration
}

// NewWSGateway constructs a gateway from STOCKPAD_WS_* environment settings.
func NewWSGateway(log *slog.Logger, hub *Hub, tokens TokenValidator) (*WSGateway, error) {
	if tokens == nil {
		return nil, errors.New("realtime: nil token validator")
	}
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = NewHub(log, nil)
	}

	g := &WSGateway{log: log, hub: hub, tokens: tokens}

	// TLS verification knob for local development only.
	g.devInsecure = envBoolWS("STOCKPAD_WS_DEV_INSECURE", false)

	// Native clients send no Origin; browsers always do and are checked
	// against the allowlist.
	g.originRequired = envBoolWS("STOCKPAD_WS_ORIGIN_REQUIRED", false)
	g.allowedOrigins = envCSVWS("STOCKPAD_WS_ALLOWED_ORIGINS", "http://localhost,http://127.0.0.1")
	g.originPatterns = deriveOriginPatterns(g.allowedOrigins)

	g.writeTimeout = envDurationWS("STOCKPAD_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.sendQueueSize = envIntWS("STOCKPAD_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	g.heartbeatEvery = envDurationWS("STOCKPAD_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("STOCKPAD_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	return g, nil
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS authenticates, upgrades and streams session events until the
// peer leaves, the heartbeat fails, or the access credential expires.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	now := time.Now().UTC()
	claims, err := g.authenticate(r, now)
	if err != nil {
		g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
		w.Header().Set("WWW-Authenticate", `Bearer realm="stockpad", error="invalid_token"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	connID, err := NewConnectionID(now)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	client := NewClient(claims.AccountID, connID, g.sendQueueSize)

	hello, _ := json.Marshal(v1.HelloAckPayload{
		ConnectionID:    connID,
		AccountID:       claims.AccountID,
		AccessExpiresAt: claims.ExpiresAt,
	})
	if err := writeEnvelope(r.Context(), conn, newEnvelope(v1.TypeHelloAck, hello, now), g.writeTimeout); err != nil {
		g.log.Info("ws.hello.fail", "connection_id", connID, "err", err)
		return
	}

	g.hub.Subscribe(client)
	defer g.hub.Unsubscribe(client)

	// The stream is one-way. CloseRead discards control frames and cancels
	// ctx when the peer closes or sends data.
	ctx := conn.CloseRead(r.Context())

	expiry := time.NewTimer(time.Until(claims.ExpiresAt))
	defer expiry.Stop()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, client)
	}()

	code, reason := g.writeLoop(ctx, conn, client, expiry.C)

	client.Close()
	_ = conn.Close(code, reason)

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

func (g *WSGateway) writeLoop(ctx context.Context, conn *websocket.Conn, client *Client, expired <-chan time.Time) (websocket.StatusCode, string) {
	for {
		select {
		case <-ctx.Done():
			return websocket.StatusNormalClosure, "bye"
		case <-client.Done():
			return websocket.StatusGoingAway, "heartbeat failed"
		case <-expired:
			g.log.Info("ws.close.credential_expired", "connection_id", client.ConnectionID, "account_id", client.AccountID)
			return websocket.StatusPolicyViolation, "access credential expired"
		case env := <-client.Send:
			if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
				g.log.Info("ws.write.fail", "connection_id", client.ConnectionID, "close_status", websocket.CloseStatus(err), "err", err)
				return websocket.StatusAbnormalClosure, "write failed"
			}
			if env.Type == v1.TypeSessionRevoked {
				return websocket.StatusNormalClosure, "session revoked"
			}
		}
	}
}

func (g *WSGateway) heartbeat(ctx context.Context, conn *websocket.Conn, client *Client) {
	t := time.NewTicker(g.heartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				g.log.Info("ws.ping.fail", "connection_id", client.ConnectionID, "failures", failures, "err", err)
				if failures >= wsMaxPingFailures {
					client.Close()
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func (g *WSGateway) authenticate(r *http.Request, now time.Time) (session.AccessClaims, error) {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, tok, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tok) == "" {
		return session.AccessClaims{}, errors.New("missing bearer token")
	}
	return g.tokens.ValidateAccessToken(strings.TrimSpace(tok), now)
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	originHost := originHostOnly(origin)
	for _, a := range g.allowedOrigins {
		if a == "*" || origin == a {
			return nil
		}
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = strings.TrimSpace(u.Host)
		if s == "" {
			return ""
		}
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatterns converts the allowlist to the host patterns
// websocket.Accept checks cross-origin requests against.
func deriveOriginPatterns(allowed []string) []string {
	out := make([]string, 0, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" || slices.Contains(out, h) {
			continue
		}
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}

	var out []string
	for _, p := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
