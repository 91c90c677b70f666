package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stockpad/cmd/security/token"
)

var testSigningKey = []byte(strings.Repeat("s", 32))

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SigningKey = testSigningKey
	return cfg
}

type staticAccounts struct {
	mu   sync.Mutex
	byID map[string]AccountClaims
}

func newStaticAccounts(accts ...AccountClaims) *staticAccounts {
	s := &staticAccounts{byID: make(map[string]AccountClaims)}
	for _, a := range accts {
		s.byID[a.AccountID] = a
	}
	return s
}

func (s *staticAccounts) LookupAccount(_ context.Context, accountID string) (AccountClaims, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[accountID]
	if !ok {
		return AccountClaims{}, ErrNotFound
	}
	return a, nil
}

func (s *staticAccounts) remove(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, accountID)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Notify(ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) kinds() []EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]EventKind, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Kind)
	}
	return out
}

var testAccount = AccountClaims{
	AccountID:   "01J0000000000000000000ACCT",
	Username:    "ada",
	DisplayName: "Ada Lovelace",
	Email:       "ada@example.com",
}

func newTestService(t *testing.T, store Store, opts ...Option) (*Service, *staticAccounts) {
	t.Helper()

	cfg := testConfig()
	tokens, err := NewHS256Manager(cfg)
	if err != nil {
		t.Fatalf("NewHS256Manager: %v", err)
	}
	accounts := newStaticAccounts(testAccount)
	return NewService(cfg, store, tokens, token.NewHasher(nil), accounts, opts...), accounts
}

func baseTime() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func testHasher() Hasher { return token.NewHasher(nil) }

// counterValue reads a gathered counter. label, when set, selects the series
// whose single label carries that value.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label != "" {
				lp := m.GetLabel()
				if len(lp) != 1 || lp[0].GetValue() != label {
					continue
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}
