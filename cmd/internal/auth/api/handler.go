package authapi

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"stockpad/cmd/identity"
	"stockpad/cmd/internal/auth/session"
)

// Handler wires HTTP auth endpoints to the identity and session services.
type Handler struct {
	log *slog.Logger
	cfg Config

	accounts *identity.Service
	sessions *session.Service
	audit    *Auditor
	limiter  *ipLimiter

	csrfToken func() (string, error)
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithAuditor overrides the default log-only auditor.
func WithAuditor(a *Auditor) HandlerOption {
	return func(h *Handler) {
		if a != nil {
			h.audit = a
		}
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, accounts *identity.Service, sessions *session.Service, opts ...HandlerOption) (*Handler, error) {
	if accounts == nil {
		return nil, errors.New("auth: nil identity service")
	}
	if sessions == nil {
		return nil, errors.New("auth: nil session service")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.normalized()

	h := &Handler{
		log:      log,
		cfg:      cfg,
		accounts: accounts,
		sessions: sessions,
		audit:    NewAuditor(log, nil),
		limiter:  newIPLimiter(cfg.LoginIPMax, cfg.LoginIPWindow),

		csrfToken: func() (string, error) { return newOpaqueWebToken(32) },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/register", h.handleRegister)
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/me", h.handleMe)
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	if ok, retryAfter := h.limiter.Allow(ip, now); !ok {
		writeRateLimited(w, retryAfter, codeRateLimited, "too many attempts")
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidJSON, "invalid request body")
		return
	}

	acct, err := h.accounts.Register(ctx, now, identity.RegisterInput{
		Username:    req.Username,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Email:       req.Email,
	})
	if err != nil {
		var opErr identity.OpError
		switch {
		case identity.IsInvalidInput(err) && errors.As(err, &opErr):
			writeError(w, http.StatusBadRequest, codeInvalidRequest, opErr.Msg)
		case identity.IsInvalidInput(err):
			writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid input")
		case identity.IsConflict(err):
			field, _ := identity.ConflictField(err)
			writeError(w, http.StatusConflict, "account_exists", field+" already registered")
		default:
			h.log.Error("auth.register.fail", "err", err)
			writeInternal(w)
		}
		return
	}

	issued, err := h.sessions.Issue(ctx, now, toAccountClaims(acct))
	if err != nil {
		h.log.Error("auth.register.issue_session.fail", "err", err, "account_id", acct.ID)
		writeInternal(w)
		return
	}

	h.audit.Record(ctx, AuditEntry{Action: auditRegister, AccountID: acct.ID, IP: ip, UserAgent: ua})
	h.writeIssued(w, http.StatusCreated, acct, issued)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidJSON, "invalid request body")
		return
	}
	identifier := identity.NormalizeUsername(req.Username)

	// IP-based throttling before the password check.
	if ok, retryAfter := h.limiter.Allow(ip, now); !ok {
		h.audit.Record(ctx, AuditEntry{
			Action: auditLoginRateLimited, IP: ip, UserAgent: ua,
			Meta: map[string]any{"identifier": identifier, "retry_after_s": int64(retryAfter.Seconds())},
		})
		writeRateLimited(w, retryAfter, codeRateLimited, "too many attempts")
		return
	}

	acct, err := h.accounts.Authenticate(ctx, now, req.Username, req.Password)
	if err != nil {
		if identity.IsInvalidCredentials(err) {
			h.audit.Record(ctx, AuditEntry{
				Action: auditLoginFailed, IP: ip, UserAgent: ua,
				Meta: map[string]any{"identifier": identifier},
			})
			writeError(w, http.StatusUnauthorized, codeInvalidCredentials, "invalid credentials")
			return
		}
		h.log.Error("auth.login.fail", "err", err)
		writeInternal(w)
		return
	}

	issued, err := h.sessions.Issue(ctx, now, toAccountClaims(acct))
	if err != nil {
		h.log.Error("auth.login.issue_session.fail", "err", err, "account_id", acct.ID)
		writeInternal(w)
		return
	}

	h.audit.Record(ctx, AuditEntry{
		Action: auditLoginSuccess, AccountID: acct.ID, IP: ip, UserAgent: ua,
		Meta: map[string]any{"identifier": identifier},
	})
	h.writeIssued(w, http.StatusOK, acct, issued)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if h.cfg.BodyRefreshEnabled && r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidJSON, "invalid request body")
			return
		}
	}

	presented := strings.TrimSpace(req.RefreshToken)
	fromCookie := false
	if presented == "" {
		presented, fromCookie = h.refreshTokenFromCookie(r)
	}
	if presented == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "refresh credential is required")
		return
	}
	if fromCookie && !h.csrfDoubleSubmitValid(r) {
		writeError(w, http.StatusForbidden, codeCSRFInvalid, "missing or invalid csrf token")
		return
	}

	// Nothing may fail between Rotate persisting the new digest and the
	// response carrying it.
	var csrf string
	if fromCookie {
		var err error
		if csrf, err = h.csrfToken(); err != nil {
			h.log.Error("auth.refresh.csrf.fail", "err", err)
			writeInternal(w)
			return
		}
	}

	ctx := r.Context()
	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	issued, err := h.sessions.Rotate(ctx, now, presented)
	if err != nil {
		var rl session.RefreshRateLimitError
		switch {
		case errors.As(err, &rl):
			h.audit.Record(ctx, AuditEntry{
				Action: auditRefreshReplay, AccountID: rl.AccountID, IP: ip, UserAgent: ua,
				Meta: map[string]any{"retry_after_ms": rl.RetryAfter.Milliseconds()},
			})
			writeRateLimited(w, rl.RetryAfter, codeUsedTooFrequently, "refresh credential used too frequently")
		case errors.Is(err, session.ErrExpired):
			h.clearWebSessionCookies(w)
			writeError(w, http.StatusUnauthorized, codeExpired, "session expired")
		case errors.Is(err, session.ErrInvalidCredential):
			h.audit.Record(ctx, AuditEntry{Action: auditRefreshRejected, IP: ip, UserAgent: ua})
			h.clearWebSessionCookies(w)
			writeError(w, http.StatusUnauthorized, codeInvalidCredential, "invalid refresh credential")
		case errors.Is(err, session.ErrConflict):
			writeError(w, http.StatusConflict, codeConflict, "concurrent refresh, retry")
		default:
			h.log.Error("auth.refresh.fail", "err", err)
			writeInternal(w)
		}
		return
	}

	h.audit.Record(ctx, AuditEntry{Action: auditRefreshSuccess, AccountID: issued.AccountID, IP: ip, UserAgent: ua})

	resp := toSessionResponse(issued)
	if fromCookie {
		h.setWebSessionCookies(w, csrf, issued.RefreshToken, issued.RefreshExp)
		resp.RefreshToken = ""
		resp.CSRFToken = csrf
	}

	writeJSON(w, http.StatusOK, refreshResponse{Session: resp})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	if err := h.sessions.Revoke(ctx, now, claims.AccountID); err != nil {
		h.log.Error("auth.logout.fail", "err", err, "account_id", claims.AccountID)
		writeInternal(w)
		return
	}

	h.audit.Record(ctx, AuditEntry{
		Action: auditLogout, AccountID: claims.AccountID,
		IP: clientIP(r, h.cfg.TrustProxy), UserAgent: strings.TrimSpace(r.UserAgent()),
	})
	h.clearWebSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	acct, err := h.accounts.Account(r.Context(), claims.AccountID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "account not found")
			return
		}
		h.log.Error("auth.me.fail", "err", err)
		writeInternal(w)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{Account: toAccountResponse(acct)})
}

// ---- helpers ----

// writeIssued sets the refresh cookie pair and writes the account and session.
// The refresh credential appears in the body only when body transport is on.
func (h *Handler) writeIssued(w http.ResponseWriter, status int, acct identity.Account, issued session.Issued) {
	csrf, err := h.csrfToken()
	if err != nil {
		h.log.Error("auth.web_cookie.fail", "err", err)
		writeInternal(w)
		return
	}
	h.setWebSessionCookies(w, csrf, issued.RefreshToken, issued.RefreshExp)

	resp := toSessionResponse(issued)
	resp.CSRFToken = csrf
	if !h.cfg.BodyRefreshEnabled {
		resp.RefreshToken = ""
	}

	writeJSON(w, status, authResponse{
		Account: toAccountResponse(acct),
		Session: resp,
	})
}

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.AccessClaims, bool) {
	token := BearerToken(r)
	if token == "" {
		w.Header().Set("WWW-Authenticate", `Bearer realm="stockpad"`)
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing bearer token")
		return session.AccessClaims{}, false
	}
	claims, err := h.sessions.ValidateAccessToken(token, time.Now().UTC())
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="stockpad", error="invalid_token"`)
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "invalid token")
		return session.AccessClaims{}, false
	}
	return claims, true
}

// BearerToken extracts the credential from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	scheme, tok, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
