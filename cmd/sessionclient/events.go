package sessionclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/coder/websocket"

	v1 "stockpad/shared/contracts/session/v1"
)

// EventStream is an open /ws/session subscription.
type EventStream struct {
	conn  *websocket.Conn
	Hello v1.HelloAckPayload
}

// DialEvents opens the session event stream at wsURL with the coordinator's
// access credential. A 401 handshake triggers one renewal and one redial.
//
// The server closes the stream with websocket.StatusPolicyViolation when the
// access credential it was opened with expires; callers re-dial.
func DialEvents(ctx context.Context, wsURL string, c *Coordinator) (*EventStream, error) {
	tok, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	conn, resp, err := dialWithBearer(ctx, wsURL, tok)
	if err != nil && unauthorized(resp) {
		fresh, rerr := c.Renew(ctx, tok)
		if rerr != nil {
			return nil, rerr
		}
		conn, resp, err = dialWithBearer(ctx, wsURL, fresh)
		if err != nil && unauthorized(resp) {
			return nil, fmt.Errorf("%w: event stream rejected the access credential", ErrUnauthorized)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dial events: %w", ErrNetworkFailure, err)
	}

	s := &EventStream{conn: conn}
	env, err := s.Next(ctx)
	if err != nil {
		_ = conn.CloseNow()
		return nil, err
	}
	if env.Type != v1.TypeHelloAck {
		_ = conn.Close(websocket.StatusProtocolError, "expected hello.ack")
		return nil, fmt.Errorf("sessionclient: unexpected first envelope %q", env.Type)
	}
	if err := json.Unmarshal(env.Payload, &s.Hello); err != nil {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("sessionclient: hello payload: %w", err)
	}
	return s, nil
}

func dialWithBearer(ctx context.Context, wsURL, tok string) (*websocket.Conn, *http.Response, error) {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+tok)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

func unauthorized(resp *http.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusUnauthorized
}

// Next blocks for the next envelope.
func (s *EventStream) Next(ctx context.Context) (v1.Envelope, error) {
	_, b, err := s.conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	var env v1.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("sessionclient: decode envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

// Close closes the stream normally.
func (s *EventStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "bye")
}

// CredentialExpired reports whether err is the server closing the stream
// because the access credential expired.
func CredentialExpired(err error) bool {
	return websocket.CloseStatus(err) == websocket.StatusPolicyViolation
}
