package sessionclient_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"stockpad/cmd/identity"
	authapi "stockpad/cmd/internal/auth/api"
	"stockpad/cmd/internal/auth/session"
	"stockpad/cmd/internal/realtime"
	"stockpad/cmd/security/password"
	"stockpad/cmd/security/token"
	"stockpad/cmd/sessionclient"
	v1 "stockpad/shared/contracts/session/v1"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newBackend(t *testing.T, mutate func(*authapi.Config)) *httptest.Server {
	t.Helper()
	log := discardLogger()

	pw := password.DefaultConfig()
	pw.Params.MemoryKiB = 8 * 1024
	pw.Params.Iterations = 1
	pw.Params.Parallelism = 1
	accounts, err := identity.NewService(identity.NewMemoryStore(), pw, log)
	require.NoError(t, err)

	sessCfg := session.DefaultConfig()
	sessCfg.SigningKey = []byte(strings.Repeat("k", 32))
	tokens, err := session.NewHS256Manager(sessCfg)
	require.NoError(t, err)

	hub := realtime.NewHub(log, nil)
	sessions := session.NewService(sessCfg, session.NewMemoryStore(), tokens,
		token.NewHasher([]byte(strings.Repeat("h", 32))),
		authapi.AccountLookup(accounts),
		session.WithLogger(log),
		session.WithNotifier(hub),
	)

	cfg := authapi.DefaultConfig()
	cfg.CookieSecure = false
	if mutate != nil {
		mutate(&cfg)
	}
	handler, err := authapi.NewHandler(log, cfg, accounts, sessions)
	require.NoError(t, err)

	gw, err := realtime.NewWSGateway(log, hub, sessions)
	require.NoError(t, err)

	mux := http.NewServeMux()
	handler.Register(mux)
	mux.Handle("/ws/session", gw)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func newClient(t *testing.T, baseURL string) *sessionclient.Client {
	t.Helper()
	c, err := sessionclient.New(baseURL, sessionclient.DefaultConfig(), sessionclient.WithClientLogger(discardLogger()))
	require.NoError(t, err)
	return c
}

// ageCredential pretends the held access credential is about to expire.
func ageCredential(c *sessionclient.Client) string {
	cur := c.Coordinator().Current()
	cur.ExpiresAt = time.Now().Add(5 * time.Second)
	c.Coordinator().Set(cur)
	return cur.AccessToken
}

func TestEndToEnd_ConcurrentCallsRenewOnce(t *testing.T) {
	ts := newBackend(t, nil)
	c := newClient(t, ts.URL)
	ctx := context.Background()

	acct, err := c.Register(ctx, "alice", "correct horse battery", "Alice", "")
	require.NoError(t, err)

	old := ageCredential(c)

	var g errgroup.Group
	for range 25 {
		g.Go(func() error {
			me, err := c.Me(ctx)
			if err == nil && me.ID != acct.ID {
				t.Errorf("me = %q, want %q", me.ID, acct.ID)
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 1, c.Coordinator().Rotations())
	cur := c.Coordinator().Current()
	assert.NotEqual(t, old, cur.AccessToken)
	assert.True(t, cur.ExpiresAt.After(time.Now().Add(14*time.Minute)), "renewed credential carries its embedded expiry")
}

func TestEndToEnd_RejectedCredentialRenewsAndRetries(t *testing.T) {
	ts := newBackend(t, nil)
	c := newClient(t, ts.URL)
	ctx := context.Background()

	_, err := c.Login(ctx, "nobody", "correct horse battery")
	require.ErrorIs(t, err, sessionclient.ErrUnauthorized)

	_, err = c.Register(ctx, "bob", "correct horse battery", "Bob", "bob@example.com")
	require.NoError(t, err)

	cur := c.Coordinator().Current()
	c.Coordinator().Set(sessionclient.Credential{AccountID: cur.AccountID, AccessToken: "garbage", ExpiresAt: time.Now().Add(10 * time.Minute)})

	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bob", me.Username)
	assert.EqualValues(t, 1, c.Coordinator().Rotations())
}

func TestEndToEnd_BodyTransport(t *testing.T) {
	ts := newBackend(t, func(cfg *authapi.Config) { cfg.BodyRefreshEnabled = true })
	c := newClient(t, ts.URL)
	ctx := context.Background()

	_, err := c.Register(ctx, "carol", "correct horse battery", "Carol", "")
	require.NoError(t, err)

	for range 2 {
		ageCredential(c)
		_, err = c.Me(ctx)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 2, c.Coordinator().Rotations())
}

func TestEndToEnd_LogoutEndsSession(t *testing.T) {
	ts := newBackend(t, nil)
	c := newClient(t, ts.URL)
	ctx := context.Background()

	_, err := c.Register(ctx, "dave", "correct horse battery", "Dave", "")
	require.NoError(t, err)
	require.NoError(t, c.Logout(ctx))

	_, err = c.Me(ctx)
	require.Error(t, err)
	assert.True(t, sessionclient.Terminal(err), "got %v", err)
}

func TestEndToEnd_EventStream(t *testing.T) {
	ts := newBackend(t, nil)
	c := newClient(t, ts.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	acct, err := c.Register(ctx, "erin", "correct horse battery", "Erin", "")
	require.NoError(t, err)

	stream, err := c.DialEvents(ctx)
	require.NoError(t, err)
	defer func() { _ = stream.Close() }()
	assert.Equal(t, acct.ID, stream.Hello.AccountID)

	// The gateway subscribes right after hello.ack; give it a moment before
	// triggering the rotation.
	time.Sleep(50 * time.Millisecond)

	ageCredential(c)
	_, err = c.Me(ctx)
	require.NoError(t, err)

	env, err := stream.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, v1.TypeSessionRotated, env.Type)

	var p v1.SessionEventPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, acct.ID, p.AccountID)
	require.NotNil(t, p.AccessExpiresAt)

	require.NoError(t, c.Logout(ctx))
	env, err = stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, v1.TypeSessionRevoked, env.Type)
}
