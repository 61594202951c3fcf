package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"safestreets/pkg/domain"
	"safestreets/pkg/storage"
	"safestreets/pkg/store"
)

func newTestApp(t *testing.T) (*App, *storage.MemoryStore) {
	t.Helper()
	var n int64
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		return base.Add(time.Duration(atomic.AddInt64(&n, 1)) * time.Second)
	}
	kv := storage.NewMemoryStore()
	a, err := New(Config{Store: store.New(kv, store.WithClock(clock))})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, kv
}

func validReport() domain.Record {
	return domain.Record{
		"location":      "Park Ave",
		"report_type":   "poor_lighting",
		"time_of_day":   "night",
		"safety_rating": 2,
	}
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without store")
	}
}

func TestSubmitReportValidation(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	cases := map[string]func(domain.Record){
		"missing location":   func(r domain.Record) { delete(r, "location") },
		"blank location":     func(r domain.Record) { r["location"] = "  " },
		"unknown type":       func(r domain.Record) { r["report_type"] = "ufo" },
		"missing time":       func(r domain.Record) { delete(r, "time_of_day") },
		"rating too high":    func(r domain.Record) { r["safety_rating"] = 6 },
		"fractional rating":  func(r domain.Record) { r["safety_rating"] = 2.5 },
		"rating not numeric": func(r domain.Record) { r["safety_rating"] = "five" },
		"latitude range":     func(r domain.Record) { r["latitude"] = 91 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			r := validReport()
			mutate(r)
			if _, err := a.SubmitReport(ctx, r); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}

	report, err := a.SubmitReport(ctx, validReport())
	if err != nil {
		t.Fatalf("submit valid report: %v", err)
	}
	reports, err := a.ListReports(ctx, store.ListOptions{})
	if err != nil {
		t.Fatalf("list reports: %v", err)
	}
	if len(reports) != 1 || reports[0].ID() != report.ID() {
		t.Fatalf("invalid reports must not be stored, got %v", reports)
	}
}

func TestAddContactValidation(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	for _, fields := range []domain.Record{
		{"phone": "555", "relationship": "friend"},
		{"name": "Ann", "relationship": "friend"},
		{"name": "Ann", "phone": "555"},
		{"name": "Ann", "phone": "555", "relationship": "boss"},
	} {
		if _, err := a.AddContact(ctx, fields); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("AddContact(%v) = %v, want ErrInvalidInput", fields, err)
		}
	}
	if _, err := a.AddContact(ctx, domain.Record{"name": "Ann", "phone": "555", "relationship": "friend"}); err != nil {
		t.Fatalf("add contact: %v", err)
	}
}

func primaryIDs(t *testing.T, a *App) []string {
	t.Helper()
	contacts, err := a.ListContacts(context.Background())
	if err != nil {
		t.Fatalf("list contacts: %v", err)
	}
	var ids []string
	for _, c := range contacts {
		if c.Bool("is_primary") {
			ids = append(ids, c.ID())
		}
	}
	return ids
}

func TestSetPrimaryContactKeepsOnePrimary(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	first, err := a.AddContact(ctx, domain.Record{"name": "A", "phone": "1", "relationship": "family", "is_primary": true})
	if err != nil {
		t.Fatalf("add first: %v", err)
	}
	second, err := a.AddContact(ctx, domain.Record{"name": "B", "phone": "2", "relationship": "friend"})
	if err != nil {
		t.Fatalf("add second: %v", err)
	}
	if ids := primaryIDs(t, a); len(ids) != 1 || ids[0] != first.ID() {
		t.Fatalf("primary = %v, want [%s]", ids, first.ID())
	}

	updated, err := a.SetPrimaryContact(ctx, second.ID())
	if err != nil {
		t.Fatalf("set primary: %v", err)
	}
	if !updated.Bool("is_primary") {
		t.Fatalf("returned contact should be primary: %v", updated)
	}
	if ids := primaryIDs(t, a); len(ids) != 1 || ids[0] != second.ID() {
		t.Fatalf("primary = %v, want [%s]", ids, second.ID())
	}

	if _, err := a.UpdateContact(ctx, first.ID(), domain.Record{"is_primary": true, "phone": "11"}); err != nil {
		t.Fatalf("update contact: %v", err)
	}
	if ids := primaryIDs(t, a); len(ids) != 1 || ids[0] != first.ID() {
		t.Fatalf("primary after update = %v, want [%s]", ids, first.ID())
	}

	if _, err := a.SetPrimaryContact(ctx, "contact_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateAndRemoveContact(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	c, err := a.AddContact(ctx, domain.Record{"name": "A", "phone": "1", "relationship": "doctor"})
	if err != nil {
		t.Fatalf("add contact: %v", err)
	}
	if _, err := a.UpdateContact(ctx, c.ID(), domain.Record{"relationship": "pet"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := a.UpdateContact(ctx, c.ID(), domain.Record{"name": ""}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank name, got %v", err)
	}
	if _, err := a.UpdateContact(ctx, "contact_missing", domain.Record{"name": "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	updated, err := a.UpdateContact(ctx, c.ID(), domain.Record{"notify_sms": true})
	if err != nil || !updated.Bool("notify_sms") || updated.String("name") != "A" {
		t.Fatalf("unexpected update result %v, %v", updated, err)
	}

	if err := a.RemoveContact(ctx, c.ID()); err != nil {
		t.Fatalf("remove contact: %v", err)
	}
	if err := a.RemoveContact(ctx, c.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second remove should be ErrNotFound, got %v", err)
	}
}

func TestTriggerSOS(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	c1, _ := a.AddContact(ctx, domain.Record{"name": "A", "phone": "1", "relationship": "family"})
	c2, _ := a.AddContact(ctx, domain.Record{"name": "B", "phone": "2", "relationship": "partner"})

	lat, lng := 51.5, -0.12
	alert, err := a.TriggerSOS(ctx, SOSRequest{Message: "help", Latitude: &lat, Longitude: &lng})
	if err != nil {
		t.Fatalf("trigger sos: %v", err)
	}
	if alert.String("status") != "active" || alert.String("alert_type") != "manual_sos" {
		t.Fatalf("unexpected alert defaults: %v", alert)
	}
	if alert.String("location") != LocationCurrent || alert["latitude"] != lat {
		t.Fatalf("expected located alert, got %v", alert)
	}
	notified, _ := alert["contacts_notified"].([]any)
	if len(notified) != 2 || notified[0] != c1.ID() || notified[1] != c2.ID() {
		t.Fatalf("contacts_notified = %v", alert["contacts_notified"])
	}

	blind, err := a.TriggerSOS(ctx, SOSRequest{AlertType: domain.AlertVoiceActivated, Latitude: &lat})
	if err != nil {
		t.Fatalf("trigger sos without full location: %v", err)
	}
	if blind.String("location") != LocationUnavailable {
		t.Fatalf("expected unavailable location, got %v", blind["location"])
	}
	if _, has := blind["latitude"]; has {
		t.Fatalf("partial coordinates must not be stored: %v", blind)
	}

	if _, err := a.TriggerSOS(ctx, SOSRequest{AlertType: "carrier_pigeon"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown alert type, got %v", err)
	}

	active, ok, err := a.ActiveAlert(ctx)
	if err != nil || !ok {
		t.Fatalf("active alert: %v %v", ok, err)
	}
	if active.ID() != blind.ID() {
		t.Fatalf("active alert should be the newest, got %s want %s", active.ID(), blind.ID())
	}
}

func TestResolveAndFalseAlarm(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	if _, err := a.ResolveActiveAlert(ctx); !errors.Is(err, ErrNoActiveAlert) {
		t.Fatalf("expected ErrNoActiveAlert, got %v", err)
	}

	first, _ := a.TriggerSOS(ctx, SOSRequest{})
	second, _ := a.TriggerSOS(ctx, SOSRequest{})

	resolved, err := a.ResolveActiveAlert(ctx)
	if err != nil {
		t.Fatalf("resolve active: %v", err)
	}
	if resolved.ID() != second.ID() || resolved.String("status") != "resolved" || resolved.String("resolved_at") == "" {
		t.Fatalf("unexpected resolved alert: %v", resolved)
	}

	falseAlarm, err := a.MarkFalseAlarm(ctx, first.ID())
	if err != nil {
		t.Fatalf("mark false alarm: %v", err)
	}
	if falseAlarm.String("status") != "false_alarm" {
		t.Fatalf("status = %q", falseAlarm.String("status"))
	}
	if _, ok, _ := a.ActiveAlert(ctx); ok {
		t.Fatalf("no alert should remain active")
	}
	if _, err := a.ResolveAlert(ctx, "alert_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := a.UpdateAlert(ctx, first.ID(), domain.Record{"status": "panicking"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	resolvedOnly, err := a.ListAlerts(ctx, AlertQuery{Status: "resolved"})
	if err != nil || len(resolvedOnly) != 1 || resolvedOnly[0].ID() != second.ID() {
		t.Fatalf("filter resolved = %v, %v", resolvedOnly, err)
	}
	all, err := a.ListAlerts(ctx, AlertQuery{Limit: 1})
	if err != nil || len(all) != 1 || all[0].ID() != second.ID() {
		t.Fatalf("list newest = %v, %v", all, err)
	}
}

func TestDashboard(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		if _, err := a.SubmitReport(ctx, validReport()); err != nil {
			t.Fatalf("submit report: %v", err)
		}
	}
	if _, err := a.AddContact(ctx, domain.Record{"name": "A", "phone": "1", "relationship": "family"}); err != nil {
		t.Fatalf("add contact: %v", err)
	}
	var last domain.Record
	for i := 0; i < 6; i++ {
		alert, err := a.TriggerSOS(ctx, SOSRequest{})
		if err != nil {
			t.Fatalf("trigger sos: %v", err)
		}
		last = alert
	}
	if _, err := a.ResolveAlert(ctx, last.ID()); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	d, err := a.Dashboard(ctx)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if len(d.RecentAlerts) != DashboardRecent || len(d.RecentReports) != DashboardRecent {
		t.Fatalf("recent sizes = %d alerts, %d reports", len(d.RecentAlerts), len(d.RecentReports))
	}
	if d.RecentAlerts[0].ID() != last.ID() {
		t.Fatalf("recent alerts should be newest first")
	}
	if d.Stats.ActiveAlerts != 4 || d.Stats.TotalAlerts != 5 || d.Stats.EmergencyContacts != 1 {
		t.Fatalf("unexpected stats %+v", d.Stats)
	}
	if d.ActiveAlert == nil || d.ActiveAlert.String("status") != "active" {
		t.Fatalf("expected an active alert, got %v", d.ActiveAlert)
	}
	if d.HasPrimaryContact {
		t.Fatalf("no contact was made primary")
	}
}

func TestDashboardFailsOnCorruptData(t *testing.T) {
	a, kv := newTestApp(t)
	ctx := context.Background()
	if err := kv.Set(ctx, store.KeySafetyReports, "{oops"); err != nil {
		t.Fatalf("seed corrupt data: %v", err)
	}
	if _, err := a.Dashboard(ctx); !errors.Is(err, store.ErrCorruptData) {
		t.Fatalf("expected ErrCorruptData, got %v", err)
	}
}

func TestAddContactDefaultsNotifyFlags(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	c, err := a.AddContact(ctx, domain.Record{"name": "Ann", "phone": "555", "relationship": "friend"})
	if err != nil {
		t.Fatalf("add contact: %v", err)
	}
	if !c.Bool("notify_sms") || !c.Bool("notify_email") {
		t.Fatalf("notify flags should default to true: %v", c)
	}

	quiet, err := a.AddContact(ctx, domain.Record{"name": "Bo", "phone": "556", "relationship": "friend", "notify_email": false})
	if err != nil {
		t.Fatalf("add contact: %v", err)
	}
	if !quiet.Bool("notify_sms") || quiet.Bool("notify_email") {
		t.Fatalf("explicit notify_email=false should be kept: %v", quiet)
	}

	_, err = a.AddContact(ctx, domain.Record{"name": "Cy", "phone": "557", "relationship": "friend", "notify_sms": "yes"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for non-boolean notify_sms, got %v", err)
	}
}

func TestSubmitReportRejectsMistypedFields(t *testing.T) {
	a, _ := newTestApp(t)
	r := validReport()
	r["description"] = 42
	if _, err := a.SubmitReport(context.Background(), r); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for numeric description, got %v", err)
	}
}

func TestUpdateAlertKeepsCreatedDate(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	alert, err := a.TriggerSOS(ctx, SOSRequest{Message: "help"})
	if err != nil {
		t.Fatalf("trigger sos: %v", err)
	}
	updated, err := a.UpdateAlert(ctx, alert.ID(), domain.Record{"created_date": "garbage", "message": "safe now"})
	if err != nil {
		t.Fatalf("update alert: %v", err)
	}
	if updated.String("created_date") != alert.String("created_date") {
		t.Fatalf("created_date changed from %q to %q", alert.String("created_date"), updated.String("created_date"))
	}
	if updated.String("message") != "safe now" {
		t.Fatalf("message not updated: %v", updated)
	}

	_, err = a.UpdateAlert(ctx, alert.ID(), domain.Record{"contacts_notified": "everyone"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for non-list contacts_notified, got %v", err)
	}
}
