package sessionclient

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Rotator performs one renewal round-trip. Implementations hold the refresh
// credential themselves and return the new access credential.
type Rotator interface {
	Rotate(ctx context.Context) (Credential, error)
}

// RotatorFunc adapts a function to Rotator.
type RotatorFunc func(ctx context.Context) (Credential, error)

func (f RotatorFunc) Rotate(ctx context.Context) (Credential, error) { return f(ctx) }

const renewKey = "renew"

// Coordinator owns the process-local access credential and serializes its
// renewal. All methods are safe for concurrent use.
type Coordinator struct {
	cfg     Config
	rotator Rotator
	log     *slog.Logger

	group singleflight.Group

	mu   sync.RWMutex
	cred Credential
	// gen changes whenever the credential is replaced from outside a renewal
	// (sign-in, sign-out). A renewal started under an older generation never
	// publishes its result.
	gen uint64

	rotations atomic.Int64
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger used for renewal events.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// NewCoordinator validates cfg and returns a Coordinator without a credential.
func NewCoordinator(rotator Rotator, cfg Config, opts ...Option) (*Coordinator, error) {
	if rotator == nil {
		return nil, ErrConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Coordinator{cfg: cfg, rotator: rotator, log: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Set installs a credential obtained at sign-in.
func (c *Coordinator) Set(cred Credential) {
	c.mu.Lock()
	c.cred = cred
	c.gen++
	c.mu.Unlock()
}

// Clear drops the credential (sign-out or terminal failure).
func (c *Coordinator) Clear() {
	c.mu.Lock()
	c.cred = Credential{}
	c.gen++
	c.mu.Unlock()
}

// Current returns the held credential.
func (c *Coordinator) Current() Credential {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cred
}

// Rotations reports how many rotation round-trips this Coordinator issued.
func (c *Coordinator) Rotations() int64 { return c.rotations.Load() }

func (c *Coordinator) snapshot() (Credential, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cred, c.gen
}

// AccessToken returns a credential to attach to an outbound call, renewing
// it first when it is absent or within the low-water mark.
func (c *Coordinator) AccessToken(ctx context.Context) (string, error) {
	cred, _ := c.snapshot()
	if cred.fresh(c.cfg.now(), c.cfg.LowWaterMark) {
		return cred.AccessToken, nil
	}
	return c.renew(ctx, cred.AccessToken)
}

// Renew is the reactive path: the backend rejected stale. If another caller
// already replaced it the current credential is returned without a new
// round-trip.
func (c *Coordinator) Renew(ctx context.Context, stale string) (string, error) {
	cred, _ := c.snapshot()
	if cred.AccessToken != "" && cred.AccessToken != stale && cred.fresh(c.cfg.now(), 0) {
		return cred.AccessToken, nil
	}
	return c.renew(ctx, stale)
}

// renew joins the in-flight renewal or starts one. The caller's ctx only
// bounds its own wait; the rotation itself runs detached so one cancelled
// caller cannot fail the others parked on it.
func (c *Coordinator) renew(ctx context.Context, stale string) (string, error) {
	ch := c.group.DoChan(renewKey, func() (any, error) {
		return c.rotate(context.WithoutCancel(ctx), stale)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res = <-ch:
	}

	if res.Err == nil {
		return res.Val.(string), nil
	}

	err := res.Err
	if Terminal(err) || c.cfg.FailFast || stale == "" {
		return "", err
	}

	// Non-terminal failure: proceed with the stale credential and let the
	// backend reject it if it has really expired.
	c.log.Warn("client.renew.degraded", "err", err)
	return stale, nil
}

// rotate runs inside the single flight. The new credential is stored before
// it returns, so every waiter released by the group observes it.
func (c *Coordinator) rotate(parent context.Context, stale string) (string, error) {
	cred, gen := c.snapshot()

	// A renewal that completed just before this flight started already
	// replaced the credential the caller saw.
	if cred.AccessToken != "" && cred.AccessToken != stale && cred.fresh(c.cfg.now(), 0) {
		return cred.AccessToken, nil
	}

	c.log.Debug("client.renew.start", "account_id", cred.AccountID)

	next, err := c.rotateOnce(parent)
	if errors.Is(err, ErrConflict) {
		c.log.Info("client.renew.conflict_retry", "account_id", cred.AccountID)
		next, err = c.rotateOnce(parent)
	}
	if err != nil {
		c.log.Info("client.renew.fail", "account_id", cred.AccountID, "err", err, "terminal", Terminal(err))
		if Terminal(err) {
			c.mu.Lock()
			if c.gen == gen {
				c.cred = Credential{}
				c.gen++
			}
			c.mu.Unlock()
		}
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen {
		// Signed out or signed in again while rotating.
		c.log.Info("client.renew.superseded", "account_id", next.AccountID)
		if c.cred.AccessToken == "" {
			return "", ErrNoCredential
		}
		return c.cred.AccessToken, nil
	}

	if next.AccountID == "" {
		next.AccountID = cred.AccountID
	}
	c.cred = next
	c.log.Debug("client.renew.ok", "account_id", next.AccountID, "access_expires_at", next.ExpiresAt)
	return next.AccessToken, nil
}

func (c *Coordinator) rotateOnce(parent context.Context) (Credential, error) {
	ctx, cancel := context.WithTimeout(parent, c.cfg.RotateTimeout)
	defer cancel()

	c.rotations.Add(1)
	next, err := c.rotator.Rotate(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrNetworkFailure) {
			return Credential{}, errors.Join(ErrNetworkFailure, err)
		}
		return Credential{}, err
	}
	if next.AccessToken == "" {
		return Credential{}, errors.Join(ErrNetworkFailure, errors.New("empty access credential"))
	}
	return next, nil
}
