package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stockpad/cmd/internal/auth/session"
	v1 "stockpad/shared/contracts/session/v1"
)

// Hub fans session events out to the connections of the affected account.
// It implements session.Notifier; Notify never blocks and drops events for
// subscribers whose queue is full.
type Hub struct {
	log *slog.Logger

	mu       sync.RWMutex
	accounts map[string]map[string]*Client

	connections prometheus.Gauge
	dropped     prometheus.Counter
}

var _ session.Notifier = (*Hub)(nil)

// NewHub constructs a Hub. reg may be nil to skip metrics.
func NewHub(log *slog.Logger, reg prometheus.Registerer) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		log:      log,
		accounts: make(map[string]map[string]*Client),
	}
	if reg != nil {
		h.connections = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stockpad",
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Open session event stream connections.",
		})
		h.dropped = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stockpad",
			Subsystem: "ws",
			Name:      "events_dropped_total",
			Help:      "Session events dropped because a subscriber queue was full.",
		})
		reg.MustRegister(h.connections, h.dropped)
	}
	return h
}

// Subscribe registers c for its account's events.
func (h *Hub) Subscribe(c *Client) {
	if h == nil || c == nil || c.AccountID == "" || c.ConnectionID == "" {
		return
	}

	h.mu.Lock()
	conns := h.accounts[c.AccountID]
	if conns == nil {
		conns = make(map[string]*Client)
		h.accounts[c.AccountID] = conns
	}
	conns[c.ConnectionID] = c
	h.mu.Unlock()

	if h.connections != nil {
		h.connections.Inc()
	}
	h.log.Info("ws.subscribe", "account_id", c.AccountID, "connection_id", c.ConnectionID)
}

// Unsubscribe removes c and signals its shutdown.
func (h *Hub) Unsubscribe(c *Client) {
	if h == nil || c == nil {
		return
	}

	removed := false
	h.mu.Lock()
	if conns := h.accounts[c.AccountID]; conns != nil {
		if _, ok := conns[c.ConnectionID]; ok {
			delete(conns, c.ConnectionID)
			removed = true
		}
		if len(conns) == 0 {
			delete(h.accounts, c.AccountID)
		}
	}
	h.mu.Unlock()

	// Close after removal so Notify never holds a client being torn down.
	c.Close()

	if removed {
		if h.connections != nil {
			h.connections.Dec()
		}
		h.log.Info("ws.unsubscribe", "account_id", c.AccountID, "connection_id", c.ConnectionID)
	}
}

// Subscribers returns the number of open connections for accountID.
func (h *Hub) Subscribers(accountID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.accounts[accountID])
}

// Notify implements session.Notifier.
func (h *Hub) Notify(ev session.Event) {
	if h == nil {
		return
	}

	typ, ok := envelopeType(ev.Kind)
	if !ok {
		return
	}

	p := v1.SessionEventPayload{AccountID: ev.AccountID, At: ev.At.UTC()}
	if !ev.AccessExp.IsZero() {
		exp := ev.AccessExp.UTC()
		p.AccessExpiresAt = &exp
	}
	payload, err := json.Marshal(p)
	if err != nil {
		h.log.Error("ws.notify.marshal.fail", "err", err)
		return
	}
	env := newEnvelope(typ, payload, time.Now().UTC())

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.accounts[ev.AccountID] {
		select {
		case <-c.Done():
			continue
		default:
		}

		select {
		case c.Send <- env:
		default:
			if h.dropped != nil {
				h.dropped.Inc()
			}
			h.log.Warn("ws.notify.drop", "account_id", ev.AccountID, "connection_id", c.ConnectionID, "type", typ)
		}
	}
}

// envelopeType maps session events to stream types. Issuance is not
// streamed: the issuing client already holds the result.
func envelopeType(kind session.EventKind) (string, bool) {
	switch kind {
	case session.EventRotated:
		return v1.TypeSessionRotated, true
	case session.EventRevoked:
		return v1.TypeSessionRevoked, true
	case session.EventReuseDetected:
		return v1.TypeSessionReuseDetected, true
	default:
		return "", false
	}
}

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	id, _ := NewEnvelopeID(ts)
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      ts,
		Payload: payload,
	}
}
