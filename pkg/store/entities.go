package store

import (
	"context"

	"safestreets/pkg/domain"
)

// Reports stores SafetyReport records, newest first. Reports are never
// updated or deleted.
type Reports struct {
	c *collection
}

// List returns reports ordered by opts.Order (default newest first).
func (r *Reports) List(ctx context.Context, opts ListOptions) ([]domain.Record, error) {
	return r.c.list(ctx, opts)
}

// Create stamps id and created_date and prepends the report.
func (r *Reports) Create(ctx context.Context, fields domain.Record) (domain.Record, error) {
	return r.c.create(ctx, fields)
}

// Contacts stores EmergencyContact records in insertion order. The store does
// not enforce a single primary contact; see app.SetPrimaryContact.
type Contacts struct {
	c *collection
}

// List returns all contacts in insertion order. Order is ignored because
// contacts carry no timestamp; Limit still applies.
func (c *Contacts) List(ctx context.Context, opts ListOptions) ([]domain.Record, error) {
	return c.c.list(ctx, ListOptions{Limit: opts.Limit})
}

// Get looks up one contact.
func (c *Contacts) Get(ctx context.Context, id string) (domain.Record, bool, error) {
	return c.c.get(ctx, id)
}

// Create appends a contact.
func (c *Contacts) Create(ctx context.Context, fields domain.Record) (domain.Record, error) {
	return c.c.create(ctx, fields)
}

// Update shallow-merges partial into the contact. ok is false for unknown ids.
func (c *Contacts) Update(ctx context.Context, id string, partial domain.Record) (domain.Record, bool, error) {
	return c.c.update(ctx, id, partial)
}

// Delete removes the contact; unknown ids are a no-op. Alerts that list the
// contact in contacts_notified keep the id.
func (c *Contacts) Delete(ctx context.Context, id string) (bool, error) {
	return c.c.remove(ctx, id)
}

// Alerts stores SOSAlert records, newest first.
type Alerts struct {
	c *collection
}

// List returns alerts ordered by opts.Order (default newest first).
func (a *Alerts) List(ctx context.Context, opts ListOptions) ([]domain.Record, error) {
	return a.c.list(ctx, opts)
}

// Filter returns alerts whose fields strictly equal every entry of query.
func (a *Alerts) Filter(ctx context.Context, query domain.Record, opts ListOptions) ([]domain.Record, error) {
	q, err := domain.Normalize(query)
	if err != nil {
		return nil, err
	}
	items, err := a.c.list(ctx, ListOptions{Order: opts.Order, Limit: FilterScanLimit})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Record, 0, len(items))
	for _, item := range items {
		if matches(item, q) {
			out = append(out, item)
		}
	}
	return truncate(out, opts.Limit), nil
}

// Get looks up one alert.
func (a *Alerts) Get(ctx context.Context, id string) (domain.Record, bool, error) {
	return a.c.get(ctx, id)
}

// Create stamps id, created_date and status "active" (unless fields set a
// status) and prepends the alert.
func (a *Alerts) Create(ctx context.Context, fields domain.Record) (domain.Record, error) {
	return a.c.create(ctx, fields)
}

// Update shallow-merges partial into the alert. Any status may be written;
// transition rules belong to callers. ok is false for unknown ids.
func (a *Alerts) Update(ctx context.Context, id string, partial domain.Record) (domain.Record, bool, error) {
	return a.c.update(ctx, id, partial)
}
