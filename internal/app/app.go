// Package app implements the safety workflows the web client runs on top of
// the entity store: reporting, contact management, SOS alerts, onboarding and
// the dashboard summary.
package app

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sync/errgroup"

	"safestreets/internal/util"
	"safestreets/pkg/domain"
	"safestreets/pkg/store"
)

const (
	// DashboardRecent is how many alerts and reports the dashboard shows.
	DashboardRecent = 5

	LocationCurrent     = "Current Location"
	LocationUnavailable = "Location unavailable"
)

// Config holds runtime configuration for the core application.
type Config struct {
	Store *store.Store
}

// App is the core application service.
type App struct {
	store *store.Store
}

// New constructs the application over an entity store.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("entity store required")
	}
	return &App{store: cfg.Store}, nil
}

// Store exposes the underlying entity store for maintenance commands.
func (a *App) Store() *store.Store {
	return a.store
}

// ListReports returns safety reports, newest first unless opts say otherwise.
func (a *App) ListReports(ctx context.Context, opts store.ListOptions) ([]domain.Record, error) {
	return a.store.Reports.List(ctx, opts)
}

// SubmitReport validates and stores a safety report.
func (a *App) SubmitReport(ctx context.Context, fields domain.Record) (domain.Record, error) {
	r, err := domain.Normalize(fields)
	if err != nil {
		return nil, invalid("%v", err)
	}
	if err := requireString(r, "location"); err != nil {
		return nil, err
	}
	if err := requireEnum(r, "report_type", domain.ReportTypes); err != nil {
		return nil, err
	}
	if err := requireEnum(r, "time_of_day", domain.TimesOfDay); err != nil {
		return nil, err
	}
	if err := optionalNumber(r, "safety_rating", 1, 5, true); err != nil {
		return nil, err
	}
	if err := validateCoordinates(r); err != nil {
		return nil, err
	}
	if _, err := domain.Decode[domain.SafetyReport](r); err != nil {
		return nil, invalid("safety report: %v", err)
	}
	return a.store.Reports.Create(ctx, r)
}

// ListContacts returns every emergency contact in stored order.
func (a *App) ListContacts(ctx context.Context) ([]domain.Record, error) {
	return a.store.Contacts.List(ctx, store.ListOptions{})
}

// AddContact stores a new emergency contact. Name, phone and relationship are
// required; notify_sms and notify_email default to true. A contact added as
// primary demotes the previous primary.
func (a *App) AddContact(ctx context.Context, fields domain.Record) (domain.Record, error) {
	r, err := domain.Normalize(fields)
	if err != nil {
		return nil, invalid("%v", err)
	}
	if err := requireString(r, "name"); err != nil {
		return nil, err
	}
	if err := requireString(r, "phone"); err != nil {
		return nil, err
	}
	if err := requireEnum(r, "relationship", domain.Relationships); err != nil {
		return nil, err
	}
	for _, flag := range []string{"notify_sms", "notify_email"} {
		if _, present := r[flag]; !present {
			r[flag] = true
		}
	}
	if _, err := domain.Decode[domain.EmergencyContact](r); err != nil {
		return nil, invalid("emergency contact: %v", err)
	}
	primary := r.Bool("is_primary")
	delete(r, "is_primary")
	created, err := a.store.Contacts.Create(ctx, r)
	if err != nil {
		return nil, err
	}
	if !primary {
		return created, nil
	}
	return a.SetPrimaryContact(ctx, created.ID())
}

// UpdateContact merges partial into a contact. Setting is_primary to true goes
// through SetPrimaryContact so at most one contact stays primary.
func (a *App) UpdateContact(ctx context.Context, id string, partial domain.Record) (domain.Record, error) {
	r, err := domain.Normalize(partial)
	if err != nil {
		return nil, invalid("%v", err)
	}
	for _, field := range []string{"name", "phone"} {
		if _, present := r[field]; present {
			if err := requireString(r, field); err != nil {
				return nil, err
			}
		}
	}
	if err := optionalEnum(r, "relationship", domain.Relationships); err != nil {
		return nil, err
	}
	if _, err := domain.Decode[domain.EmergencyContact](r); err != nil {
		return nil, invalid("emergency contact: %v", err)
	}
	makePrimary := r.Bool("is_primary")
	if makePrimary {
		delete(r, "is_primary")
	}
	updated, ok, err := a.store.Contacts.Update(ctx, id, r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if makePrimary {
		return a.SetPrimaryContact(ctx, id)
	}
	return updated, nil
}

// GetContact returns one contact or ErrNotFound.
func (a *App) GetContact(ctx context.Context, id string) (domain.Record, error) {
	c, ok, err := a.store.Contacts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// RemoveContact deletes a contact. ErrNotFound reports an unknown id.
func (a *App) RemoveContact(ctx context.Context, id string) error {
	removed, err := a.store.Contacts.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotFound
	}
	return nil
}

// SetPrimaryContact makes id the only primary contact.
func (a *App) SetPrimaryContact(ctx context.Context, id string) (domain.Record, error) {
	if _, ok, err := a.store.Contacts.Get(ctx, id); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrNotFound
	}
	contacts, err := a.store.Contacts.List(ctx, store.ListOptions{})
	if err != nil {
		return nil, err
	}
	for _, c := range contacts {
		if c.ID() == id || !c.Bool("is_primary") {
			continue
		}
		if _, _, err := a.store.Contacts.Update(ctx, c.ID(), domain.Record{"is_primary": false}); err != nil {
			return nil, err
		}
	}
	updated, ok, err := a.store.Contacts.Update(ctx, id, domain.Record{"is_primary": true})
	if err != nil {
		return nil, err
	}
	if !ok {
		// Deleted concurrently.
		return nil, ErrNotFound
	}
	return updated, nil
}

// SOSRequest describes an alert raised from the emergency page.
type SOSRequest struct {
	AlertType domain.AlertType `json:"alert_type"`
	Message   string           `json:"message"`
	Latitude  *float64         `json:"latitude,omitempty"`
	Longitude *float64         `json:"longitude,omitempty"`
}

// TriggerSOS records an active alert listing every emergency contact as
// notified. Without coordinates the location reads "Location unavailable".
// Nothing is actually sent.
func (a *App) TriggerSOS(ctx context.Context, req SOSRequest) (domain.Record, error) {
	alertType := domain.AlertType(strings.TrimSpace(string(req.AlertType)))
	if alertType == "" {
		alertType = domain.AlertManualSOS
	}
	if err := optionalEnum(domain.Record{"alert_type": string(alertType)}, "alert_type", domain.AlertTypes); err != nil {
		return nil, err
	}

	contacts, err := a.store.Contacts.List(ctx, store.ListOptions{})
	if err != nil {
		return nil, err
	}
	sos := domain.SOSAlert{
		Status:           domain.AlertActive,
		AlertType:        alertType,
		Location:         LocationUnavailable,
		Message:          req.Message,
		ContactsNotified: make([]string, 0, len(contacts)),
	}
	for _, c := range contacts {
		sos.ContactsNotified = append(sos.ContactsNotified, c.ID())
	}
	if req.Latitude != nil && req.Longitude != nil {
		sos.Location = LocationCurrent
		sos.Latitude = req.Latitude
		sos.Longitude = req.Longitude
	}

	fields, err := domain.Encode(sos)
	if err != nil {
		return nil, err
	}
	if err := validateCoordinates(fields); err != nil {
		return nil, err
	}
	alert, err := a.store.Alerts.Create(ctx, fields)
	if err != nil {
		return nil, err
	}
	util.LoggerFromContext(ctx).Warn("sos_alert_triggered",
		"alert_id", alert.ID(),
		"alert_type", alertType,
		"contacts_notified", len(sos.ContactsNotified),
		"has_location", sos.Location == LocationCurrent,
	)
	return alert, nil
}

// AlertQuery narrows ListAlerts. Empty fields do not filter.
type AlertQuery struct {
	Status    string
	AlertType string
	Order     string
	Limit     int
}

// ListAlerts returns alerts matching q, newest first by default.
func (a *App) ListAlerts(ctx context.Context, q AlertQuery) ([]domain.Record, error) {
	query := domain.Record{}
	if q.Status != "" {
		query["status"] = q.Status
	}
	if q.AlertType != "" {
		query["alert_type"] = q.AlertType
	}
	opts := store.ListOptions{Order: q.Order, Limit: q.Limit}
	if len(query) == 0 {
		return a.store.Alerts.List(ctx, opts)
	}
	return a.store.Alerts.Filter(ctx, query, opts)
}

// GetAlert returns one alert or ErrNotFound.
func (a *App) GetAlert(ctx context.Context, id string) (domain.Record, error) {
	alert, ok, err := a.store.Alerts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return alert, nil
}

// ActiveAlert returns the most recent active alert.
func (a *App) ActiveAlert(ctx context.Context) (domain.Record, bool, error) {
	alerts, err := a.store.Alerts.Filter(ctx,
		domain.Record{"status": string(domain.AlertActive)},
		store.ListOptions{Order: store.OrderNewestFirst, Limit: 1})
	if err != nil || len(alerts) == 0 {
		return nil, false, err
	}
	return alerts[0], true, nil
}

// UpdateAlert merges partial into an alert. status must be a known status.
func (a *App) UpdateAlert(ctx context.Context, id string, partial domain.Record) (domain.Record, error) {
	r, err := domain.Normalize(partial)
	if err != nil {
		return nil, invalid("%v", err)
	}
	if err := optionalEnum(r, "status", domain.AlertStatuses); err != nil {
		return nil, err
	}
	if err := validateCoordinates(r); err != nil {
		return nil, err
	}
	if _, err := domain.Decode[domain.SOSAlert](r); err != nil {
		return nil, invalid("sos alert: %v", err)
	}
	updated, ok, err := a.store.Alerts.Update(ctx, id, r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return updated, nil
}

// ResolveAlert marks an alert resolved and stamps resolved_at.
func (a *App) ResolveAlert(ctx context.Context, id string) (domain.Record, error) {
	return a.closeAlert(ctx, id, domain.AlertResolved)
}

// MarkFalseAlarm closes an alert as a false alarm.
func (a *App) MarkFalseAlarm(ctx context.Context, id string) (domain.Record, error) {
	return a.closeAlert(ctx, id, domain.AlertFalseAlarm)
}

// ResolveActiveAlert resolves the most recent active alert, the emergency
// page's "I'm safe" action.
func (a *App) ResolveActiveAlert(ctx context.Context) (domain.Record, error) {
	active, ok, err := a.ActiveAlert(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoActiveAlert
	}
	return a.ResolveAlert(ctx, active.ID())
}

func (a *App) closeAlert(ctx context.Context, id string, status domain.AlertStatus) (domain.Record, error) {
	updated, ok, err := a.store.Alerts.Update(ctx, id, domain.Record{
		"status":      string(status),
		"resolved_at": a.store.Timestamp(),
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	util.LoggerFromContext(ctx).Info("sos_alert_closed", "alert_id", id, "status", status)
	return updated, nil
}

// Stats are the dashboard counters. Alert counts cover the recent window only.
type Stats struct {
	TotalAlerts       int `json:"total_alerts"`
	ActiveAlerts      int `json:"active_alerts"`
	SafetyReports     int `json:"safety_reports"`
	EmergencyContacts int `json:"emergency_contacts"`
}

// Dashboard is the home page summary.
type Dashboard struct {
	RecentAlerts      []domain.Record `json:"recent_alerts"`
	RecentReports     []domain.Record `json:"recent_reports"`
	Contacts          []domain.Record `json:"contacts"`
	ActiveAlert       domain.Record   `json:"active_alert,omitempty"`
	HasPrimaryContact bool            `json:"has_primary_contact"`
	Stats             Stats           `json:"stats"`
}

// Dashboard loads the home page summary. The four reads run concurrently;
// the first failure cancels the rest.
func (a *App) Dashboard(ctx context.Context) (Dashboard, error) {
	var d Dashboard
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		alerts, err := a.store.Alerts.List(gctx, store.ListOptions{Order: store.OrderNewestFirst, Limit: DashboardRecent})
		d.RecentAlerts = alerts
		return err
	})
	g.Go(func() error {
		reports, err := a.store.Reports.List(gctx, store.ListOptions{Order: store.OrderNewestFirst, Limit: DashboardRecent})
		d.RecentReports = reports
		return err
	})
	g.Go(func() error {
		contacts, err := a.store.Contacts.List(gctx, store.ListOptions{})
		d.Contacts = contacts
		return err
	})
	g.Go(func() error {
		active, _, err := a.ActiveAlert(gctx)
		d.ActiveAlert = active
		return err
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}

	for _, alert := range d.RecentAlerts {
		if alert.String("status") == string(domain.AlertActive) {
			d.Stats.ActiveAlerts++
		}
	}
	for _, c := range d.Contacts {
		if c.Bool("is_primary") {
			d.HasPrimaryContact = true
		}
	}
	d.Stats.TotalAlerts = len(d.RecentAlerts)
	d.Stats.SafetyReports = len(d.RecentReports)
	d.Stats.EmergencyContacts = len(d.Contacts)
	return d, nil
}
