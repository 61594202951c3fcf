package app

import (
	"context"
	"fmt"
	"strings"

	"safestreets/internal/util"
	"safestreets/pkg/domain"
	"safestreets/pkg/store"
)

// DefaultSafetyPreferences fills preferences the profile has never saved.
func DefaultSafetyPreferences() domain.Record {
	return domain.Record{
		"auto_share_location": true,
		"voice_activation":    true,
		"emergency_timeout":   float64(30),
	}
}

// DefaultOnboardingPreferences are the preference toggles preselected on the
// onboarding form.
func DefaultOnboardingPreferences() domain.Record {
	prefs := DefaultSafetyPreferences()
	prefs["notification_sms"] = true
	prefs["notification_email"] = true
	return prefs
}

var profileTextFields = []string{"emergency_contact_phone", "medical_conditions", "preferred_hospital"}

// Me returns the stored user profile as is.
func (a *App) Me(ctx context.Context) (domain.Record, error) {
	return a.store.Users.Me(ctx)
}

// UpdateProfile merges partial into the user profile. safety_preferences, when
// given, must be an object.
func (a *App) UpdateProfile(ctx context.Context, partial domain.Record) (domain.Record, error) {
	r, err := domain.Normalize(partial)
	if err != nil {
		return nil, invalid("%v", err)
	}
	if raw, present := r["safety_preferences"]; present && raw != nil {
		if _, ok := raw.(map[string]any); !ok {
			return nil, invalid("safety_preferences must be an object")
		}
	}
	if err := optionalEnum(r, "role", []domain.UserRole{domain.RoleUser, domain.RoleAdmin}); err != nil {
		return nil, err
	}
	if _, err := domain.Decode[domain.User](r); err != nil {
		return nil, invalid("profile: %v", err)
	}
	return a.store.Users.UpdateMyUserData(ctx, r)
}

// Profile returns the user with the profile page's defaults applied: empty
// strings for unset text fields and default safety preferences overlaid by
// the stored ones. Nothing is written.
func (a *App) Profile(ctx context.Context) (domain.Record, error) {
	me, err := a.store.Users.Me(ctx)
	if err != nil {
		return nil, err
	}
	out := me.Clone()
	for _, field := range profileTextFields {
		if s, _ := out[field].(string); s == "" {
			out[field] = ""
		}
	}
	prefs := DefaultSafetyPreferences()
	if stored, ok := me["safety_preferences"].(map[string]any); ok {
		for k, v := range stored {
			prefs[k] = v
		}
	}
	out["safety_preferences"] = map[string]any(prefs)
	return out, nil
}

// ContactInput is one contact row of the onboarding form.
type ContactInput struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Relationship string `json:"relationship"`
}

// Onboarding is the completed onboarding form.
type Onboarding struct {
	Contacts    []ContactInput `json:"contacts"`
	Profile     domain.Record  `json:"profile"`
	Preferences domain.Record  `json:"preferences"`
}

// CompleteOnboarding saves the onboarding form. Rows without a name or phone
// are skipped; the first saved contact becomes primary and every contact
// inherits the notification preferences. The profile is then updated with the
// form fields, safety_preferences and onboarding_completed.
func (a *App) CompleteOnboarding(ctx context.Context, in Onboarding) (domain.Record, error) {
	prefs := DefaultOnboardingPreferences()
	normalized, err := domain.Normalize(in.Preferences)
	if err != nil {
		return nil, invalid("%v", err)
	}
	for k, v := range normalized {
		prefs[k] = v
	}
	if err := optionalNumber(prefs, "emergency_timeout", 0, 3600, true); err != nil {
		return nil, err
	}
	typed, err := domain.Decode[domain.SafetyPreferences](prefs)
	if err != nil {
		return nil, invalid("preferences: %v", err)
	}

	saved := 0
	for _, c := range in.Contacts {
		name, phone := strings.TrimSpace(c.Name), strings.TrimSpace(c.Phone)
		if name == "" || phone == "" {
			continue
		}
		relationship := strings.TrimSpace(c.Relationship)
		if relationship == "" {
			relationship = string(domain.RelationFamily)
		}
		fields, err := domain.Encode(domain.EmergencyContact{
			Name:         name,
			Phone:        phone,
			Relationship: domain.Relationship(relationship),
			IsPrimary:    saved == 0,
			NotifySMS:    typed.NotificationSMS,
			NotifyEmail:  typed.NotificationEmail,
		})
		if err != nil {
			return nil, err
		}
		if err := optionalEnum(fields, "relationship", domain.Relationships); err != nil {
			return nil, err
		}
		if _, err := a.store.Contacts.Create(ctx, fields); err != nil {
			return nil, err
		}
		saved++
	}

	profile, err := domain.Normalize(in.Profile)
	if err != nil {
		return nil, invalid("%v", err)
	}
	update := domain.Record{}
	for _, field := range profileTextFields {
		if v, ok := profile[field]; ok {
			update[field] = v
		}
	}
	update["safety_preferences"] = map[string]any(prefs)
	update["onboarding_completed"] = true

	user, err := a.store.Users.UpdateMyUserData(ctx, update)
	if err != nil {
		return nil, err
	}
	util.LoggerFromContext(ctx).Info("onboarding_completed", "contacts_saved", saved)
	return user, nil
}

// IsNewUser reports whether the welcome flow should send the user to
// onboarding: neither an emergency phone nor safety preferences are set.
func (a *App) IsNewUser(ctx context.Context) (bool, error) {
	me, err := a.store.Users.Me(ctx)
	if err != nil {
		return false, err
	}
	u, err := domain.Decode[domain.User](me)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", store.ErrCorruptData, store.KeyCurrentUser, err)
	}
	return u.EmergencyContactPhone == "" && u.SafetyPreferences == nil, nil
}

// Login is a placeholder; there is no authentication.
func (a *App) Login(ctx context.Context, returnTo string) (bool, error) {
	return a.store.Users.LoginWithRedirect(ctx, returnTo)
}

// Reset drops a stored collection so it is re-seeded on next access.
func (a *App) Reset(ctx context.Context, kind domain.Kind) error {
	return a.store.Reset(ctx, kind)
}

// ParseKind maps CLI and URL spellings to entity kinds.
func ParseKind(raw string) (domain.Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "reports", "report", "safety_reports", "safety-reports", string(domain.KindSafetyReport):
		return domain.KindSafetyReport, nil
	case "contacts", "contact", "emergency_contacts", "emergency-contacts", string(domain.KindEmergencyContact):
		return domain.KindEmergencyContact, nil
	case "alerts", "alert", "sos_alerts", "sos-alerts", string(domain.KindSOSAlert):
		return domain.KindSOSAlert, nil
	case "user", "users", "me", "current_user":
		return domain.KindUser, nil
	}
	return "", invalid("unknown kind %q", raw)
}
