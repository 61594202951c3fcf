// Package store implements the entity store: uniform CRUD repositories for
// safety reports, emergency contacts, SOS alerts and the user profile, each
// kept as one JSON document under a fixed key of a storage.Store.
//
// Methods take a context and return errors so callers can later move to a
// remote backend unchanged. Underneath, every call runs to completion on the
// calling goroutine; nothing is deferred or scheduled.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"safestreets/pkg/domain"
	"safestreets/pkg/storage"
)

// Storage keys. They match the keys used by the browser client so existing
// stored data stays readable.
const (
	KeySafetyReports     = "safety_reports"
	KeyEmergencyContacts = "emergency_contacts"
	KeySOSAlerts         = "sos_alerts"
	KeyCurrentUser       = "current_user"
)

var (
	// ErrCorruptData indicates a stored value that cannot be decoded into the
	// expected shape. The store never resets such data on its own.
	ErrCorruptData = errors.New("corrupt stored data")
	// ErrUnknownKind indicates an entity kind the store does not manage.
	ErrUnknownKind = errors.New("unknown entity kind")
)

// Store bundles the four repositories over one storage backend.
type Store struct {
	kv     storage.Store
	clock  func() time.Time
	newID  func(prefix string) string
	seeds  map[string][]domain.Record
	logger *slog.Logger
	locks  keyLocks

	Reports  *Reports
	Contacts *Contacts
	Alerts   *Alerts
	Users    *Users
}

// Option customizes a Store.
type Option func(*Store)

// WithClock replaces time.Now for created_date stamping.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithIDGenerator replaces the default uuid-based id generator.
func WithIDGenerator(gen func(prefix string) string) Option {
	return func(s *Store) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithSeeds sets seed records per storage key, replacing the bundled seeds
// for the keys present in seeds.
func WithSeeds(seeds map[string][]domain.Record) Option {
	return func(s *Store) {
		for key, records := range seeds {
			s.seeds[key] = records
		}
	}
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New builds a store over kv. Each Store instance is independent, which keeps
// tests isolated when they use separate backends.
func New(kv storage.Store, opts ...Option) *Store {
	s := &Store{
		kv:     kv,
		clock:  time.Now,
		newID:  NewID,
		seeds:  bundledSeeds(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.Reports = &Reports{c: &collection{
		s: s, key: KeySafetyReports, prefix: "report", timestamped: true, prepend: true,
	}}
	s.Contacts = &Contacts{c: &collection{
		s: s, key: KeyEmergencyContacts, prefix: "contact",
	}}
	s.Alerts = &Alerts{c: &collection{
		s: s, key: KeySOSAlerts, prefix: "alert", timestamped: true, prepend: true,
		defaults: domain.Record{"status": string(domain.AlertActive)},
	}}
	s.Users = &Users{s: s}
	return s
}

// Reset drops the stored value for kind so the next access starts again from
// the seed (or the default user). It is the explicit recovery path for
// ErrCorruptData.
func (s *Store) Reset(ctx context.Context, kind domain.Kind) error {
	key, err := KeyFor(kind)
	if err != nil {
		return err
	}
	unlock := s.locks.lock(key)
	defer unlock()
	if err := s.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("reset %s: %w", key, err)
	}
	s.logger.Info("entity store reset", "key", key)
	return nil
}

// KeyFor maps an entity kind to its storage key.
func KeyFor(kind domain.Kind) (string, error) {
	switch kind {
	case domain.KindSafetyReport:
		return KeySafetyReports, nil
	case domain.KindEmergencyContact:
		return KeyEmergencyContacts, nil
	case domain.KindSOSAlert:
		return KeySOSAlerts, nil
	case domain.KindUser:
		return KeyCurrentUser, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// Timestamp formats the store clock's current time the way created_date is stored.
func (s *Store) Timestamp() string {
	return s.clock().UTC().Format(timestampLayout)
}

// keyLocks serializes writers per storage key within the process.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyLocks) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()
	l.Lock()
	return l.Unlock
}
