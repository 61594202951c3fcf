package store

import (
	"context"
	"encoding/json"
	"fmt"

	"safestreets/pkg/domain"
	"safestreets/pkg/storage"
)

// UserID is the fixed id of the singleton user.
const UserID = "me"

// DefaultUser returns the profile created on first access.
func DefaultUser() domain.Record {
	return domain.Record{
		"id":        UserID,
		"full_name": "Safe Streets User",
		"email":     "user@example.com",
		"role":      string(domain.RoleUser),
	}
}

// Users manages the singleton profile stored under KeyCurrentUser.
type Users struct {
	s *Store
}

// Me returns the profile, creating and persisting the default on first access.
func (u *Users) Me(ctx context.Context) (domain.Record, error) {
	raw, ok, err := u.s.kv.Get(ctx, KeyCurrentUser)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", KeyCurrentUser, err)
	}
	if ok {
		return u.decode(raw)
	}
	return u.UpdateMyUserData(ctx, nil)
}

// UpdateMyUserData shallow-merges partial into the profile and persists it.
// Fields not mentioned are kept; id always stays "me".
func (u *Users) UpdateMyUserData(ctx context.Context, partial domain.Record) (domain.Record, error) {
	input, err := domain.Normalize(partial)
	if err != nil {
		return nil, err
	}
	unlock := u.s.locks.lock(KeyCurrentUser)
	defer unlock()

	var merged domain.Record
	err = storage.Update(ctx, u.s.kv, KeyCurrentUser, func(old string, ok bool) (string, error) {
		current := DefaultUser()
		if ok {
			decoded, err := u.decode(old)
			if err != nil {
				return "", err
			}
			current = decoded
		} else {
			u.s.logger.Info("created default user profile")
		}
		merged = current.Clone()
		for k, v := range input {
			if k == "id" {
				continue
			}
			merged[k] = v
		}
		merged["id"] = UserID
		raw, err := json.Marshal(merged)
		if err != nil {
			return "", fmt.Errorf("encode user: %w", err)
		}
		return string(raw), nil
	})
	if err != nil {
		return nil, err
	}
	return merged.Clone(), nil
}

// LoginWithRedirect is a stand-in for an identity provider redirect. There is
// no authentication; it always reports success so callers can continue.
func (u *Users) LoginWithRedirect(ctx context.Context, returnTo string) (bool, error) {
	u.s.logger.DebugContext(ctx, "login redirect simulated", "return_to", returnTo)
	return true, nil
}

func (u *Users) decode(raw string) (domain.Record, error) {
	var rec domain.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec == nil {
		if err == nil {
			err = fmt.Errorf("not a JSON object")
		}
		u.s.logger.Error("corrupt user profile", "key", KeyCurrentUser, "err", err)
		return nil, fmt.Errorf("%w: key %q: %v", ErrCorruptData, KeyCurrentUser, err)
	}
	return rec, nil
}
