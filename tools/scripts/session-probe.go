// Package main provides a CI-friendly probe for the stockpad session lifecycle.
//
// It validates:
//   - register or login
//   - concurrent protected calls share one renewal per round
//   - session.rotated reaches the event stream (with -events)
//   - logout ends the session for this client
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"stockpad/cmd/sessionclient"
	v1 "stockpad/shared/contracts/session/v1"
)

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8080", "Backend base URL")
		username = flag.String("user", "", "Username (default: generated)")
		pass     = flag.String("pass", "probe-password-123", "Password")
		register = flag.Bool("register", true, "Register the account before probing (login otherwise)")
		n        = flag.Int("n", 16, "Concurrent protected calls per round")
		rounds   = flag.Int("rounds", 3, "Forced renewal rounds")
		events   = flag.Bool("events", true, "Watch the session event stream")
		timeout  = flag.Duration("timeout", 15*time.Second, "Overall timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if *n <= 0 || *rounds <= 0 {
		fatalf("-n and -rounds must be positive")
	}
	user := strings.TrimSpace(*username)
	if user == "" {
		user = fmt.Sprintf("probe%d", time.Now().UnixNano()%1_000_000_000)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c, err := sessionclient.New(*baseURL, sessionclient.DefaultConfig())
	if err != nil {
		fatalf("client: %v", err)
	}

	var acct sessionclient.Account
	if *register {
		acct, err = c.Register(ctx, user, *pass, user, "")
	} else {
		acct, err = c.Login(ctx, user, *pass)
	}
	if err != nil {
		fatalf("sign in: %v", err)
	}
	if *verbose {
		fmt.Printf("signed in: account_id=%s username=%s\n", acct.ID, acct.Username)
	}

	var stream *sessionclient.EventStream
	if *events {
		stream, err = c.DialEvents(ctx)
		if err != nil {
			fatalf("events: %v", err)
		}
		defer func() { _ = stream.Close() }()
		if stream.Hello.AccountID != acct.ID {
			fatalf("events: hello.ack account_id=%q want %q", stream.Hello.AccountID, acct.ID)
		}
		if *verbose {
			fmt.Printf("events: connection_id=%s access_expires_at=%s\n", stream.Hello.ConnectionID, stream.Hello.AccessExpiresAt.Format(time.RFC3339))
		}
	}

	for round := 1; round <= *rounds; round++ {
		before := c.Coordinator().Rotations()
		forceStale(c.Coordinator())

		if err := fanout(ctx, c, *n, acct.ID); err != nil {
			fatalf("round %d: %v", round, err)
		}
		if got := c.Coordinator().Rotations() - before; got != 1 {
			fatalf("round %d: %d rotations for %d concurrent calls, want 1", round, got, *n)
		}
		if stream != nil {
			mustReadType(ctx, stream, v1.TypeSessionRotated)
		}
		if *verbose {
			fmt.Printf("round %d: %d calls, 1 rotation\n", round, *n)
		}
	}

	if err := c.Logout(ctx); err != nil {
		fatalf("logout: %v", err)
	}
	if stream != nil {
		mustReadType(ctx, stream, v1.TypeSessionRevoked)
	}
	if _, err := c.Me(ctx); !sessionclient.Terminal(err) {
		fatalf("after logout: want terminal error, got %v", err)
	}

	fmt.Printf("OK: account_id=%s rounds=%d calls_per_round=%d rotations=%d\n", acct.ID, *rounds, *n, c.Coordinator().Rotations())
}

// forceStale moves the held credential inside the low-water mark so the next
// call renews it.
func forceStale(co *sessionclient.Coordinator) {
	cur := co.Current()
	cur.ExpiresAt = time.Now().Add(time.Second)
	co.Set(cur)
}

func fanout(ctx context.Context, c *sessionclient.Client, n int, accountID string) error {
	g, gctx := errgroup.WithContext(ctx)
	for range n {
		g.Go(func() error {
			me, err := c.Me(gctx)
			if err != nil {
				return err
			}
			if me.ID != accountID {
				return fmt.Errorf("me: account_id=%q want %q", me.ID, accountID)
			}
			return nil
		})
	}
	return g.Wait()
}

func mustReadType(ctx context.Context, s *sessionclient.EventStream, want string) {
	for {
		env, err := s.Next(ctx)
		if err != nil {
			if sessionclient.CredentialExpired(err) {
				fatalf("events: stream closed on credential expiry while waiting for %s", want)
			}
			fatalf("events: waiting for %s: %v", want, err)
		}
		if env.Type == want {
			return
		}
		if env.Type == v1.TypeSessionReuseDetected {
			fatalf("events: unexpected %s", env.Type)
		}
	}
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
