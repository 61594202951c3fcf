package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"safestreets/internal/app"
	"safestreets/pkg/storage"
	"safestreets/pkg/store"
)

func newTestServer(t *testing.T, cfg Config) (*httptest.Server, *storage.MemoryStore) {
	t.Helper()
	kv := storage.NewMemoryStore()
	a, err := app.New(app.Config{Store: store.New(kv)})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	cfg.App = a
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
	})
	return ts, kv
}

func doJSON(t *testing.T, method, url string, body any) (int, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		t.Fatalf("decode response of %s %s: %v", method, url, err)
	}
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, Config{})
	status, body := doJSON(t, http.MethodGet, ts.URL+"/healthz", nil)
	if status != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz = %d %v", status, body)
	}
}

func TestReportsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, Config{})

	status, body := doJSON(t, http.MethodPost, ts.URL+"/api/safety-reports", map[string]any{
		"location": "Elm St", "report_type": "incident", "time_of_day": "late_night", "safety_rating": 1,
	})
	if status != http.StatusCreated || !strings.HasPrefix(body["id"].(string), "report_") {
		t.Fatalf("create report = %d %v", status, body)
	}
	status, body = doJSON(t, http.MethodPost, ts.URL+"/api/safety-reports", map[string]any{"location": "Elm St"})
	if status != http.StatusBadRequest || !strings.Contains(body["error"].(string), "report_type") {
		t.Fatalf("invalid report = %d %v", status, body)
	}
	resp, err := http.Post(ts.URL+"/api/safety-reports", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("post bad json: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad json should be 400, got %d", resp.StatusCode)
	}

	status, body = doJSON(t, http.MethodGet, ts.URL+"/api/safety-reports?order=-created_date&limit=5", nil)
	if status != http.StatusOK || body["count"] != float64(1) {
		t.Fatalf("list reports = %d %v", status, body)
	}
	status, _ = doJSON(t, http.MethodGet, ts.URL+"/api/safety-reports?limit=abc", nil)
	if status != http.StatusBadRequest {
		t.Fatalf("bad limit should be 400, got %d", status)
	}
	status, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/safety-reports", nil)
	if status != http.StatusMethodNotAllowed {
		t.Fatalf("delete reports should be 405, got %d", status)
	}
}

func TestContactsEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, Config{})
	base := ts.URL + "/api/emergency-contacts"

	_, a := doJSON(t, http.MethodPost, base, map[string]any{"name": "A", "phone": "1", "relationship": "family"})
	_, b := doJSON(t, http.MethodPost, base, map[string]any{"name": "B", "phone": "2", "relationship": "friend"})
	aID, bID := a["id"].(string), b["id"].(string)

	status, body := doJSON(t, http.MethodPost, base+"/"+bID+"/primary", nil)
	if status != http.StatusOK || body["is_primary"] != true {
		t.Fatalf("set primary = %d %v", status, body)
	}
	status, body = doJSON(t, http.MethodPatch, base+"/"+aID, map[string]any{"phone": "111"})
	if status != http.StatusOK || body["phone"] != "111" || body["name"] != "A" {
		t.Fatalf("patch contact = %d %v", status, body)
	}
	status, body = doJSON(t, http.MethodGet, base+"/"+aID, nil)
	if status != http.StatusOK || body["phone"] != "111" {
		t.Fatalf("get contact = %d %v", status, body)
	}
	status, _ = doJSON(t, http.MethodPatch, base+"/contact_missing", map[string]any{"phone": "1"})
	if status != http.StatusNotFound {
		t.Fatalf("patch unknown contact should be 404, got %d", status)
	}
	status, _ = doJSON(t, http.MethodDelete, base+"/"+aID, nil)
	if status != http.StatusOK {
		t.Fatalf("delete contact = %d", status)
	}
	status, _ = doJSON(t, http.MethodDelete, base+"/"+aID, nil)
	if status != http.StatusNotFound {
		t.Fatalf("second delete should be 404, got %d", status)
	}
	status, body = doJSON(t, http.MethodGet, base, nil)
	if status != http.StatusOK || body["count"] != float64(1) {
		t.Fatalf("list contacts = %d %v", status, body)
	}
	status, _ = doJSON(t, http.MethodPost, base+"/"+bID+"/promote", nil)
	if status != http.StatusNotFound {
		t.Fatalf("unknown action should be 404, got %d", status)
	}
}

func TestSOSAlertFlow(t *testing.T) {
	ts, _ := newTestServer(t, Config{})
	base := ts.URL + "/api/sos-alerts"

	status, _ := doJSON(t, http.MethodGet, base+"/active", nil)
	if status != http.StatusNotFound {
		t.Fatalf("no active alert should be 404, got %d", status)
	}

	status, alert := doJSON(t, http.MethodPost, base, map[string]any{"message": "followed", "latitude": 48.85, "longitude": 2.35})
	if status != http.StatusCreated || alert["status"] != "active" || alert["location"] != app.LocationCurrent {
		t.Fatalf("trigger sos = %d %v", status, alert)
	}
	id := alert["id"].(string)

	status, active := doJSON(t, http.MethodGet, base+"/active", nil)
	if status != http.StatusOK || active["id"] != id {
		t.Fatalf("active alert = %d %v", status, active)
	}
	status, patched := doJSON(t, http.MethodPatch, base+"/"+id, map[string]any{"message": "still followed"})
	if status != http.StatusOK || patched["message"] != "still followed" {
		t.Fatalf("patch alert = %d %v", status, patched)
	}
	status, resolved := doJSON(t, http.MethodPost, base+"/active/resolve", nil)
	if status != http.StatusOK || resolved["status"] != "resolved" || resolved["resolved_at"] == nil {
		t.Fatalf("resolve active = %d %v", status, resolved)
	}

	_, second := doJSON(t, http.MethodPost, base, map[string]any{"alert_type": "voice_activated"})
	status, fa := doJSON(t, http.MethodPost, base+"/"+second["id"].(string)+"/false-alarm", nil)
	if status != http.StatusOK || fa["status"] != "false_alarm" {
		t.Fatalf("false alarm = %d %v", status, fa)
	}

	status, list := doJSON(t, http.MethodGet, base+"?status=resolved", nil)
	if status != http.StatusOK || list["count"] != float64(1) {
		t.Fatalf("filter resolved = %d %v", status, list)
	}
	status, list = doJSON(t, http.MethodGet, base+"?alert_type=voice_activated&limit=1", nil)
	if status != http.StatusOK || list["count"] != float64(1) {
		t.Fatalf("filter by type = %d %v", status, list)
	}
	status, _ = doJSON(t, http.MethodPost, base+"/alert_missing/resolve", nil)
	if status != http.StatusNotFound {
		t.Fatalf("resolve unknown should be 404, got %d", status)
	}
	status, _ = doJSON(t, http.MethodGet, base+"/"+id+"/resolve", nil)
	if status != http.StatusMethodNotAllowed {
		t.Fatalf("GET resolve should be 405, got %d", status)
	}
}

func TestUserOnboardingAndDashboard(t *testing.T) {
	ts, _ := newTestServer(t, Config{})

	status, st := doJSON(t, http.MethodGet, ts.URL+"/api/users/me/status", nil)
	if status != http.StatusOK || st["is_new_user"] != true {
		t.Fatalf("status = %d %v", status, st)
	}
	status, user := doJSON(t, http.MethodPost, ts.URL+"/api/onboarding", map[string]any{
		"contacts":    []map[string]any{{"name": "Mum", "phone": "555"}},
		"profile":     map[string]any{"medical_conditions": "asthma"},
		"preferences": map[string]any{"notification_sms": false},
	})
	if status != http.StatusOK || user["onboarding_completed"] != true || user["id"] != "me" {
		t.Fatalf("onboarding = %d %v", status, user)
	}
	status, me := doJSON(t, http.MethodPatch, ts.URL+"/api/users/me", map[string]any{"full_name": "Ana", "id": "x"})
	if status != http.StatusOK || me["full_name"] != "Ana" || me["id"] != "me" {
		t.Fatalf("patch me = %d %v", status, me)
	}
	status, profile := doJSON(t, http.MethodGet, ts.URL+"/api/users/me/profile", nil)
	if status != http.StatusOK || profile["preferred_hospital"] != "" {
		t.Fatalf("profile = %d %v", status, profile)
	}

	status, dash := doJSON(t, http.MethodGet, ts.URL+"/api/dashboard", nil)
	if status != http.StatusOK || dash["has_primary_contact"] != true {
		t.Fatalf("dashboard = %d %v", status, dash)
	}
	stats, _ := dash["stats"].(map[string]any)
	if stats["emergency_contacts"] != float64(1) {
		t.Fatalf("dashboard stats = %v", stats)
	}

	status, login := doJSON(t, http.MethodPost, ts.URL+"/api/auth/login", map[string]any{"return_to": "/welcome"})
	if status != http.StatusOK || login["ok"] != true {
		t.Fatalf("login = %d %v", status, login)
	}
}

func TestCorruptDataIs500(t *testing.T) {
	ts, kv := newTestServer(t, Config{})
	if err := kv.Set(context.Background(), store.KeySOSAlerts, `{"not":"an array"}`); err != nil {
		t.Fatalf("seed corrupt data: %v", err)
	}
	status, body := doJSON(t, http.MethodGet, ts.URL+"/api/sos-alerts", nil)
	if status != http.StatusInternalServerError || !strings.Contains(body["error"].(string), store.KeySOSAlerts) {
		t.Fatalf("corrupt alerts = %d %v", status, body)
	}
	raw, _, _ := kv.Get(context.Background(), store.KeySOSAlerts)
	if raw != `{"not":"an array"}` {
		t.Fatalf("corrupt data must be left untouched, got %q", raw)
	}
}

func TestUnknownAPIRouteIsJSON404(t *testing.T) {
	ts, _ := newTestServer(t, Config{})
	status, body := doJSON(t, http.MethodGet, ts.URL+"/api/hello?x=1", nil)
	if status != http.StatusNotFound || body["error"] != "Not Found" || body["path"] != "/api/hello?x=1" {
		t.Fatalf("unknown api = %d %v", status, body)
	}
}

func TestStaticFallback(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>app</html>"), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644); err != nil {
		t.Fatalf("write asset: %v", err)
	}
	ts, _ := newTestServer(t, Config{StaticDir: dir})

	for path, want := range map[string]string{
		"/":             "<html>app</html>",
		"/emergency":    "<html>app</html>",
		"/app.js":       "console.log(1)",
		"/../../passwd": "<html>app</html>",
	} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || string(body) != want {
			t.Fatalf("GET %s = %d %q, want %q", path, resp.StatusCode, body, want)
		}
	}
}

func TestWriteRateLimitInMemory(t *testing.T) {
	ts, _ := newTestServer(t, Config{WriteRateLimitPerMinute: 2})
	report := map[string]any{"location": "X", "report_type": "busy_area", "time_of_day": "morning"}

	for i := 0; i < 2; i++ {
		if status, _ := doJSON(t, http.MethodPost, ts.URL+"/api/safety-reports", report); status != http.StatusCreated {
			t.Fatalf("request %d expected 201, got %d", i+1, status)
		}
	}
	status, _ := doJSON(t, http.MethodPost, ts.URL+"/api/safety-reports", report)
	if status != http.StatusTooManyRequests {
		t.Fatalf("third write expected 429, got %d", status)
	}
	if status, _ := doJSON(t, http.MethodGet, ts.URL+"/api/safety-reports", nil); status != http.StatusOK {
		t.Fatalf("reads are not limited, got %d", status)
	}
}

func TestWriteRateLimitRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	ts, _ := newTestServer(t, Config{RedisAddr: mr.Addr(), WriteRateLimitPerMinute: 1})

	if status, _ := doJSON(t, http.MethodPost, ts.URL+"/api/sos-alerts", map[string]any{}); status != http.StatusCreated {
		t.Fatalf("first alert expected 201, got %d", status)
	}
	status, body := doJSON(t, http.MethodPost, ts.URL+"/api/sos-alerts", map[string]any{})
	if status != http.StatusTooManyRequests || body["error"] != "too many requests" {
		t.Fatalf("second alert expected 429, got %d %v", status, body)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without app")
	}
	a, _ := app.New(app.Config{Store: store.New(storage.NewMemoryStore())})
	if _, err := New(Config{App: a, TrustedProxies: []string{"nope"}}); err == nil {
		t.Fatalf("expected error for bad trusted proxy")
	}
}
