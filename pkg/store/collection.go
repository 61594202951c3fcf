package store

import (
	"context"
	"encoding/json"
	"fmt"

	"safestreets/pkg/domain"
	"safestreets/pkg/storage"
)

// collection is one entity kind stored as a JSON array under key.
type collection struct {
	s           *Store
	key         string
	prefix      string
	timestamped bool
	prepend     bool
	defaults    domain.Record
}

// load returns a fresh decoded copy of the stored collection, seeding the key
// on first access.
func (c *collection) load(ctx context.Context) ([]domain.Record, error) {
	raw, ok, err := c.s.kv.Get(ctx, c.key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c.key, err)
	}
	if ok {
		return c.decode(raw)
	}
	var seeded []domain.Record
	err = c.mutate(ctx, func(items []domain.Record) ([]domain.Record, bool, error) {
		seeded = items
		return items, true, nil
	})
	if err != nil {
		return nil, err
	}
	return seeded, nil
}

// mutate runs one read-modify-write of the whole collection under the key's
// writer lock. fn reports whether anything changed; unchanged collections are
// written only when the key was absent (to persist the seed).
func (c *collection) mutate(ctx context.Context, fn func([]domain.Record) ([]domain.Record, bool, error)) error {
	unlock := c.s.locks.lock(c.key)
	defer unlock()
	return storage.Update(ctx, c.s.kv, c.key, func(old string, ok bool) (string, error) {
		var items []domain.Record
		if ok {
			decoded, err := c.decode(old)
			if err != nil {
				return "", err
			}
			items = decoded
		} else {
			items = c.seed()
			c.s.logger.Debug("seeding collection", "key", c.key, "records", len(items))
		}
		next, changed, err := fn(items)
		if err != nil {
			return "", err
		}
		if !changed && ok {
			return old, nil
		}
		return encodeCollection(next)
	})
}

func (c *collection) decode(raw string) ([]domain.Record, error) {
	var items []domain.Record
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		c.s.logger.Error("corrupt collection", "key", c.key, "err", err)
		return nil, fmt.Errorf("%w: key %q: %v", ErrCorruptData, c.key, err)
	}
	if items == nil {
		items = []domain.Record{}
	}
	return items, nil
}

// seed returns a deep copy of the configured seed so stored data never aliases it.
func (c *collection) seed() []domain.Record {
	src := c.s.seeds[c.key]
	out := make([]domain.Record, 0, len(src))
	for _, r := range src {
		n, err := domain.Normalize(r)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

func encodeCollection(items []domain.Record) (string, error) {
	if items == nil {
		items = []domain.Record{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode collection: %w", err)
	}
	return string(raw), nil
}

func (c *collection) list(ctx context.Context, opts ListOptions) ([]domain.Record, error) {
	items, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	if c.timestamped {
		order := opts.Order
		if order == "" {
			order = OrderNewestFirst
		}
		sortRecords(items, order)
	}
	return truncate(items, opts.Limit), nil
}

func (c *collection) get(ctx context.Context, id string) (domain.Record, bool, error) {
	items, err := c.load(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, item := range items {
		if item.ID() == id {
			return item, true, nil
		}
	}
	return nil, false, nil
}

func (c *collection) create(ctx context.Context, fields domain.Record) (domain.Record, error) {
	input, err := domain.Normalize(fields)
	if err != nil {
		return nil, err
	}
	record := domain.Record{"id": c.s.newID(c.prefix)}
	if c.timestamped {
		record["created_date"] = c.s.Timestamp()
	}
	for k, v := range c.defaults {
		record[k] = v
	}
	for k, v := range input {
		if k == "id" || (c.timestamped && k == "created_date") {
			continue
		}
		record[k] = v
	}
	err = c.mutate(ctx, func(items []domain.Record) ([]domain.Record, bool, error) {
		if c.prepend {
			return append([]domain.Record{record}, items...), true, nil
		}
		return append(items, record), true, nil
	})
	if err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

// update shallow-merges partial into the record with id. ok is false when no
// such record exists, in which case storage is left untouched.
func (c *collection) update(ctx context.Context, id string, partial domain.Record) (domain.Record, bool, error) {
	input, err := domain.Normalize(partial)
	if err != nil {
		return nil, false, err
	}
	var updated domain.Record
	err = c.mutate(ctx, func(items []domain.Record) ([]domain.Record, bool, error) {
		updated = nil
		for i, item := range items {
			if item.ID() != id {
				continue
			}
			merged := item.Clone()
			for k, v := range input {
				if k == "id" || (c.timestamped && k == "created_date") {
					continue
				}
				merged[k] = v
			}
			items[i] = merged
			updated = merged
			return items, true, nil
		}
		return items, false, nil
	})
	if err != nil {
		return nil, false, err
	}
	if updated == nil {
		return nil, false, nil
	}
	return updated.Clone(), true, nil
}

// remove deletes the record with id and reports whether one was removed.
func (c *collection) remove(ctx context.Context, id string) (bool, error) {
	removed := false
	err := c.mutate(ctx, func(items []domain.Record) ([]domain.Record, bool, error) {
		removed = false
		kept := make([]domain.Record, 0, len(items))
		for _, item := range items {
			if item.ID() == id {
				removed = true
				continue
			}
			kept = append(kept, item)
		}
		return kept, removed, nil
	})
	return removed, err
}
