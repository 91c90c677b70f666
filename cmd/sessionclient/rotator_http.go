package sessionclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// DefaultCSRFHeader matches the backend's default double-submit header.
const DefaultCSRFHeader = "X-CSRF-Token"

// HTTPRotator renews against POST /auth/refresh.
//
// With cookie transport the refresh credential lives in the http.Client's
// cookie jar and the request carries the CSRF double-submit header. When the
// backend returns the refresh credential in the body instead, it is kept in
// memory and sent back in the body.
type HTTPRotator struct {
	baseURL    string
	client     *http.Client
	csrfHeader string

	mu      sync.Mutex
	csrf    string
	refresh string
}

// NewHTTPRotator returns a rotator for baseURL. client must carry a cookie
// jar for cookie transport.
func NewHTTPRotator(baseURL string, client *http.Client) *HTTPRotator {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRotator{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     client,
		csrfHeader: DefaultCSRFHeader,
	}
}

// adopt records the transport state returned with a new session.
func (r *HTTPRotator) adopt(s sessionPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.CSRFToken != "" {
		r.csrf = s.CSRFToken
	}
	r.refresh = s.RefreshToken
}

func (r *HTTPRotator) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.csrf = ""
	r.refresh = ""
}

func (r *HTTPRotator) state() (csrf, refresh string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.csrf, r.refresh
}

// Rotate implements Rotator.
func (r *HTTPRotator) Rotate(ctx context.Context) (Credential, error) {
	csrf, refresh := r.state()
	if csrf == "" && refresh == "" {
		return Credential{}, ErrNoCredential
	}

	var body io.Reader = http.NoBody
	if refresh != "" {
		b, err := json.Marshal(map[string]string{"refresh_token": refresh})
		if err != nil {
			return Credential{}, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/auth/refresh", body)
	if err != nil {
		return Credential{}, err
	}
	if refresh != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if csrf != "" {
		req.Header.Set(r.csrfHeader, csrf)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %w", ErrNetworkFailure, err)
	}

	var out refreshPayload
	if err := decodeResponse(resp, &out); err != nil {
		var se *ServerError
		if errors.As(err, &se) {
			if se.Status >= 500 {
				return Credential{}, fmt.Errorf("%w: %w", ErrNetworkFailure, err)
			}
			if Terminal(err) {
				r.reset()
			}
		}
		return Credential{}, err
	}

	r.adopt(out.Session)
	return out.Session.credential(), nil
}
