package authapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit actions.
const (
	auditRegister         = "auth.register"
	auditLoginSuccess     = "auth.login.success"
	auditLoginFailed      = "auth.login.failed"
	auditLoginRateLimited = "auth.login.rate_limited"
	auditRefreshSuccess   = "auth.refresh.success"
	auditRefreshReplay    = "auth.refresh.replay"
	auditRefreshRejected  = "auth.refresh.rejected"
	auditLogout           = "auth.logout"
)

// AuditEntry is one security-relevant event.
type AuditEntry struct {
	Action    string
	AccountID string // empty when unknown
	IP        net.IP
	UserAgent string
	Meta      map[string]any
}

// Auditor records audit entries to the log and, when a pool is configured,
// to stockpad.audit_log. Persistence failures are logged, never returned.
type Auditor struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

// NewAuditor constructs an Auditor. pool may be nil.
func NewAuditor(log *slog.Logger, pool *pgxpool.Pool) *Auditor {
	if log == nil {
		log = slog.Default()
	}
	return &Auditor{log: log, pool: pool}
}

// Record writes e. It is safe on a nil Auditor.
func (a *Auditor) Record(ctx context.Context, e AuditEntry) {
	if a == nil {
		return
	}
	action := strings.TrimSpace(e.Action)
	if action == "" {
		return
	}

	attrs := []any{"action", action}
	if e.AccountID != "" {
		attrs = append(attrs, "account_id", e.AccountID)
	}
	if e.IP != nil {
		attrs = append(attrs, "ip", e.IP.String())
	}
	for k, v := range e.Meta {
		attrs = append(attrs, k, v)
	}
	a.log.Info("auth.audit", attrs...)

	if a.pool == nil {
		return
	}

	var ipVal any
	if e.IP != nil {
		ipVal = e.IP.String()
	}

	var metaVal *string
	if len(e.Meta) > 0 {
		if b, err := json.Marshal(e.Meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	// Detached so a client disconnect does not drop the row.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()

	_, err := a.pool.Exec(ctx, `
		INSERT INTO stockpad.audit_log (
			account_id, action, created_at, ip, user_agent, meta
		) VALUES ($1, $2, now(), $3, $4, $5::jsonb)
	`, trimOrNil(e.AccountID), action, ipVal, trimOrNil(e.UserAgent), metaVal)
	if err != nil {
		a.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
