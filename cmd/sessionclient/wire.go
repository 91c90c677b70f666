package sessionclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Account is the account view returned by the backend.
type Account struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type sessionPayload struct {
	AccountID        string    `json:"account_id"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	CSRFToken        string    `json:"csrf_token,omitempty"`
}

func (s sessionPayload) credential() Credential {
	return NewCredential(s.AccountID, s.AccessToken, s.AccessExpiresAt)
}

type authPayload struct {
	Account Account        `json:"account"`
	Session sessionPayload `json:"session"`
}

type refreshPayload struct {
	Session sessionPayload `json:"session"`
}

type mePayload struct {
	Account Account `json:"account"`
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

const maxResponseBytes = 1 << 20

// decodeResponse decodes a 2xx body into dst or turns the error body into a
// *ServerError. The body is always consumed and closed.
func decodeResponse(resp *http.Response, dst any) error {
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		_ = resp.Body.Close()
	}()

	body := io.LimitReader(resp.Body, maxResponseBytes)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if dst == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(body).Decode(dst); err != nil {
			return fmt.Errorf("sessionclient: decode response: %w", err)
		}
		return nil
	}

	se := &ServerError{Status: resp.StatusCode, RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	var ep errorPayload
	if err := json.NewDecoder(body).Decode(&ep); err == nil {
		se.Code = ep.Error.Code
		se.Message = ep.Error.Message
	}
	if se.Code == "" && resp.StatusCode == http.StatusUnauthorized {
		se.Code = CodeUnauthorized
	}
	return se
}

func retryAfter(v string) time.Duration {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
