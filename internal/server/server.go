package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"safestreets/internal/app"
	"safestreets/internal/ratelimit"
	"safestreets/internal/util"
	"safestreets/pkg/domain"
	"safestreets/pkg/store"
)

const (
	defaultMaxBodyBytes = 1 << 20
	rateWindow          = time.Minute
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// Limiter overrides the limiter built from the fields below.
	Limiter                 ratelimit.Limiter
	RedisAddr               string
	RedisPassword           string
	WriteRateLimitPerMinute int
	TrustedProxies          []string
	StaticDir               string
	MaxBodyBytes            int64
}

// Server exposes the SafeStreets JSON API and, optionally, the web client.
type Server struct {
	app          *app.App
	limiter      ratelimit.Limiter
	proxies      *util.TrustedProxies
	static       http.Handler
	staticDir    string
	maxBodyBytes int64
	mux          *http.ServeMux
}

// New constructs the server with routes configured. Write requests are rate
// limited per client IP: in Redis when RedisAddr is set, in memory otherwise,
// and not at all when WriteRateLimitPerMinute is zero.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	proxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter, err = newLimiter(cfg)
		if err != nil {
			return nil, err
		}
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	s := &Server{
		app:          cfg.App,
		limiter:      limiter,
		proxies:      proxies,
		maxBodyBytes: maxBody,
		mux:          http.NewServeMux(),
	}
	if dir := strings.TrimSpace(cfg.StaticDir); dir != "" {
		s.staticDir = dir
		s.static = http.FileServer(http.Dir(dir))
	}
	s.routes()
	return s, nil
}

func newLimiter(cfg Config) (ratelimit.Limiter, error) {
	if cfg.WriteRateLimitPerMinute <= 0 {
		return ratelimit.Nop{}, nil
	}
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		l, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "safestreets:ratelimit:write", cfg.WriteRateLimitPerMinute, rateWindow)
		if err != nil {
			return nil, fmt.Errorf("init write limiter: %w", err)
		}
		return l, nil
	}
	l, err := ratelimit.NewMemoryLimiter(cfg.WriteRateLimitPerMinute, rateWindow)
	if err != nil {
		return nil, fmt.Errorf("init write limiter: %w", err)
	}
	return l, nil
}

// Close releases the rate limiter's connections, if any.
func (s *Server) Close() error {
	if c, ok := s.limiter.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithRecover(util.WithSecurityHeaders(util.WithCORS(s.mux)))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.Handle("/api/safety-reports", s.limited(s.handleReports))
	s.mux.Handle("/api/emergency-contacts", s.limited(s.handleContacts))
	s.mux.Handle("/api/emergency-contacts/", s.limited(s.handleContactByID))
	s.mux.Handle("/api/sos-alerts", s.limited(s.handleAlerts))
	s.mux.Handle("/api/sos-alerts/", s.limited(s.handleAlertByID))
	s.mux.Handle("/api/users/me", s.limited(s.handleMe))
	s.mux.HandleFunc("/api/users/me/profile", s.handleProfile)
	s.mux.HandleFunc("/api/users/me/status", s.handleUserStatus)
	s.mux.Handle("/api/auth/login", s.limited(s.handleLogin))
	s.mux.HandleFunc("/api/dashboard", s.handleDashboard)
	s.mux.Handle("/api/onboarding", s.limited(s.handleOnboarding))

	s.mux.HandleFunc("/api/", s.handleAPINotFound)
	s.mux.HandleFunc("/", s.handleStatic)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// limited applies the write rate limit to state-changing methods.
func (s *Server) limited(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next(w, r)
			return
		}
		ip := util.ClientIP(r, s.proxies)
		if !s.limiter.Allow(r.Context(), ip) {
			util.LoggerFromContext(r.Context()).Warn("write rate limited", "ip", ip, "path", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next(w, r)
	})
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		opts, err := listOptions(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		reports, err := s.app.ListReports(r.Context(), opts)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeItems(w, reports)
	case http.MethodPost:
		var fields domain.Record
		if !s.decodeJSON(w, r, &fields) {
			return
		}
		report, err := s.app.SubmitReport(r.Context(), fields)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, report)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		contacts, err := s.app.ListContacts(r.Context())
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeItems(w, contacts)
	case http.MethodPost:
		var fields domain.Record
		if !s.decodeJSON(w, r, &fields) {
			return
		}
		contact, err := s.app.AddContact(r.Context(), fields)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, contact)
	default:
		methodNotAllowed(w)
	}
}

// /api/emergency-contacts/{id} or /api/emergency-contacts/{id}/primary
func (s *Server) handleContactByID(w http.ResponseWriter, r *http.Request) {
	id, action, ok := splitIDPath(r.URL.Path, "/api/emergency-contacts/")
	if !ok {
		s.handleAPINotFound(w, r)
		return
	}
	ctx := r.Context()

	switch action {
	case "":
	case "primary":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		contact, err := s.app.SetPrimaryContact(ctx, id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, contact)
		return
	default:
		s.handleAPINotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		contact, err := s.app.GetContact(ctx, id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, contact)
	case http.MethodPatch:
		var partial domain.Record
		if !s.decodeJSON(w, r, &partial) {
			return
		}
		contact, err := s.app.UpdateContact(ctx, id, partial)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, contact)
	case http.MethodDelete:
		if err := s.app.RemoveContact(ctx, id); err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		opts, err := listOptions(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		q := r.URL.Query()
		alerts, err := s.app.ListAlerts(r.Context(), app.AlertQuery{
			Status:    strings.TrimSpace(q.Get("status")),
			AlertType: strings.TrimSpace(q.Get("alert_type")),
			Order:     opts.Order,
			Limit:     opts.Limit,
		})
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeItems(w, alerts)
	case http.MethodPost:
		var req app.SOSRequest
		if !s.decodeJSON(w, r, &req) {
			return
		}
		alert, err := s.app.TriggerSOS(r.Context(), req)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, alert)
	default:
		methodNotAllowed(w)
	}
}

// /api/sos-alerts/active, /api/sos-alerts/active/resolve,
// /api/sos-alerts/{id}, /api/sos-alerts/{id}/resolve, /api/sos-alerts/{id}/false-alarm
func (s *Server) handleAlertByID(w http.ResponseWriter, r *http.Request) {
	id, action, ok := splitIDPath(r.URL.Path, "/api/sos-alerts/")
	if !ok {
		s.handleAPINotFound(w, r)
		return
	}
	ctx := r.Context()

	if id == "active" {
		switch {
		case action == "" && r.Method == http.MethodGet:
			alert, found, err := s.app.ActiveAlert(ctx)
			if err != nil {
				writeAppError(w, r, err)
				return
			}
			if !found {
				writeAppError(w, r, app.ErrNoActiveAlert)
				return
			}
			writeJSON(w, http.StatusOK, alert)
		case action == "resolve" && r.Method == http.MethodPost:
			alert, err := s.app.ResolveActiveAlert(ctx)
			if err != nil {
				writeAppError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, alert)
		case action == "" || action == "resolve":
			methodNotAllowed(w)
		default:
			s.handleAPINotFound(w, r)
		}
		return
	}

	switch action {
	case "":
	case "resolve", "false-alarm":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var (
			alert domain.Record
			err   error
		)
		if action == "resolve" {
			alert, err = s.app.ResolveAlert(ctx, id)
		} else {
			alert, err = s.app.MarkFalseAlarm(ctx, id)
		}
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, alert)
		return
	default:
		s.handleAPINotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		alert, err := s.app.GetAlert(ctx, id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, alert)
	case http.MethodPatch:
		var partial domain.Record
		if !s.decodeJSON(w, r, &partial) {
			return
		}
		alert, err := s.app.UpdateAlert(ctx, id, partial)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, alert)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		me, err := s.app.Me(r.Context())
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, me)
	case http.MethodPatch:
		var partial domain.Record
		if !s.decodeJSON(w, r, &partial) {
			return
		}
		me, err := s.app.UpdateProfile(r.Context(), partial)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, me)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	profile, err := s.app.Profile(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleUserStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	isNew, err := s.app.IsNewUser(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"is_new_user": isNew})
}

type loginRequest struct {
	ReturnTo string `json:"return_to"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req loginRequest
	if r.ContentLength != 0 && !s.decodeJSON(w, r, &req) {
		return
	}
	ok, err := s.app.Login(r.Context(), req.ReturnTo)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": ok, "return_to": req.ReturnTo})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	d, err := s.app.Dashboard(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleOnboarding(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req app.Onboarding
	if !s.decodeJSON(w, r, &req) {
		return
	}
	user, err := s.app.CompleteOnboarding(r.Context(), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleAPINotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not Found", "path": r.URL.RequestURI()})
}

// handleStatic serves the built web client. Paths that do not name a file
// fall back to index.html so client-side routes resolve.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if s.static == nil {
		s.handleAPINotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w)
		return
	}
	name := path.Clean("/" + r.URL.Path)
	if name != "/" {
		info, err := os.Stat(filepath.Join(s.staticDir, filepath.FromSlash(name)))
		if err == nil && !info.IsDir() {
			s.static.ServeHTTP(w, r)
			return
		}
	}
	http.ServeFile(w, r, filepath.Join(s.staticDir, "index.html"))
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "request body required")
		default:
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		}
		return false
	}
	return true
}

func listOptions(r *http.Request) (store.ListOptions, error) {
	q := r.URL.Query()
	opts := store.ListOptions{Order: strings.TrimSpace(q.Get("order"))}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return opts, fmt.Errorf("limit must be a non-negative integer")
		}
		opts.Limit = n
	}
	return opts, nil
}

// splitIDPath parses "{prefix}{id}" or "{prefix}{id}/{action}".
func splitIDPath(p, prefix string) (id, action string, ok bool) {
	parts := strings.SplitN(strings.TrimPrefix(p, prefix), "/", 3)
	if len(parts) == 0 || parts[0] == "" || len(parts) > 2 {
		return "", "", false
	}
	if len(parts) == 2 {
		if parts[1] == "" {
			return "", "", false
		}
		action = parts[1]
	}
	return parts[0], action, true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeItems(w http.ResponseWriter, items []domain.Record) {
	if items == nil {
		items = []domain.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, app.ErrNoActiveAlert):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrCorruptData):
		util.LoggerFromContext(r.Context()).Error("corrupt stored data", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
