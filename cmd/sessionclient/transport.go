package sessionclient

import (
	"io"
	"net/http"
)

// Transport is an http.RoundTripper that attaches the coordinator's access
// credential as a bearer header. A 401 response triggers one single-flight
// renewal and exactly one retry of the request.
type Transport struct {
	Base        http.RoundTripper
	Coordinator *Coordinator
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	tok, err := t.Coordinator.AccessToken(ctx)
	if err != nil {
		closeBody(req)
		return nil, err
	}

	resp, err := t.base().RoundTrip(withBearer(req, tok))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if !rewindable(req) {
		return resp, nil
	}

	fresh, rerr := t.Coordinator.Renew(ctx, tok)
	if rerr != nil || fresh == tok {
		return resp, nil
	}

	retry := withBearer(req, fresh)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return resp, nil
		}
		retry.Body = body
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	_ = resp.Body.Close()

	return t.base().RoundTrip(retry)
}

func withBearer(req *http.Request, tok string) *http.Request {
	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+tok)
	return out
}

func rewindable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}
