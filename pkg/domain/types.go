package domain

import (
	"encoding/json"
	"fmt"
)

// Record is a flat stored entity. Field names follow the stored JSON shape.
type Record map[string]any

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ID returns the record id or "" when missing.
func (r Record) ID() string {
	id, _ := r["id"].(string)
	return id
}

// String returns a string field or "" when missing or not a string.
func (r Record) String(field string) string {
	v, _ := r[field].(string)
	return v
}

// Bool returns a boolean field or false.
func (r Record) Bool(field string) bool {
	v, _ := r[field].(bool)
	return v
}

type Kind string

const (
	KindSafetyReport     Kind = "safety_report"
	KindEmergencyContact Kind = "emergency_contact"
	KindSOSAlert         Kind = "sos_alert"
	KindUser             Kind = "user"
)

type ReportType string

const (
	ReportIncident           ReportType = "incident"
	ReportSafeZone           ReportType = "safe_zone"
	ReportPoorLighting       ReportType = "poor_lighting"
	ReportSuspiciousActivity ReportType = "suspicious_activity"
	ReportPolicePresence     ReportType = "police_presence"
	ReportWellLit            ReportType = "well_lit"
	ReportBusyArea           ReportType = "busy_area"
)

var ReportTypes = []ReportType{
	ReportIncident, ReportSafeZone, ReportPoorLighting, ReportSuspiciousActivity,
	ReportPolicePresence, ReportWellLit, ReportBusyArea,
}

type TimeOfDay string

const (
	TimeMorning   TimeOfDay = "morning"
	TimeAfternoon TimeOfDay = "afternoon"
	TimeEvening   TimeOfDay = "evening"
	TimeNight     TimeOfDay = "night"
	TimeLateNight TimeOfDay = "late_night"
)

var TimesOfDay = []TimeOfDay{TimeMorning, TimeAfternoon, TimeEvening, TimeNight, TimeLateNight}

type Relationship string

const (
	RelationFamily    Relationship = "family"
	RelationFriend    Relationship = "friend"
	RelationPartner   Relationship = "partner"
	RelationColleague Relationship = "colleague"
	RelationNeighbor  Relationship = "neighbor"
	RelationDoctor    Relationship = "doctor"
	RelationOther     Relationship = "other"
)

var Relationships = []Relationship{
	RelationFamily, RelationFriend, RelationPartner, RelationColleague,
	RelationNeighbor, RelationDoctor, RelationOther,
}

type AlertStatus string

const (
	AlertActive     AlertStatus = "active"
	AlertResolved   AlertStatus = "resolved"
	AlertFalseAlarm AlertStatus = "false_alarm"
)

var AlertStatuses = []AlertStatus{AlertActive, AlertResolved, AlertFalseAlarm}

type AlertType string

const (
	AlertManualSOS      AlertType = "manual_sos"
	AlertVoiceActivated AlertType = "voice_activated"
	AlertAutoTimeout    AlertType = "auto_timeout"
)

var AlertTypes = []AlertType{AlertManualSOS, AlertVoiceActivated, AlertAutoTimeout}

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// SafetyReport is the typed view of a stored safety report.
type SafetyReport struct {
	ID           string     `json:"id"`
	CreatedDate  string     `json:"created_date"`
	Location     string     `json:"location"`
	Latitude     *float64   `json:"latitude,omitempty"`
	Longitude    *float64   `json:"longitude,omitempty"`
	SafetyRating int        `json:"safety_rating,omitempty"`
	ReportType   ReportType `json:"report_type"`
	Description  string     `json:"description,omitempty"`
	TimeOfDay    TimeOfDay  `json:"time_of_day"`
}

type EmergencyContact struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Phone        string       `json:"phone"`
	Relationship Relationship `json:"relationship"`
	IsPrimary    bool         `json:"is_primary"`
	NotifySMS    bool         `json:"notify_sms"`
	NotifyEmail  bool         `json:"notify_email"`
}

type SOSAlert struct {
	ID               string      `json:"id"`
	CreatedDate      string      `json:"created_date"`
	Status           AlertStatus `json:"status"`
	AlertType        AlertType   `json:"alert_type"`
	Location         string      `json:"location"`
	Latitude         *float64    `json:"latitude,omitempty"`
	Longitude        *float64    `json:"longitude,omitempty"`
	Message          string      `json:"message"`
	ContactsNotified []string    `json:"contacts_notified"`
	ResolvedAt       string      `json:"resolved_at,omitempty"`
}

// SafetyPreferences is the profile's nested preference map.
type SafetyPreferences struct {
	AutoShareLocation bool `json:"auto_share_location"`
	VoiceActivation   bool `json:"voice_activation"`
	EmergencyTimeout  int  `json:"emergency_timeout"`
	NotificationSMS   bool `json:"notification_sms,omitempty"`
	NotificationEmail bool `json:"notification_email,omitempty"`
}

// User is the singleton profile. Unknown stored fields are not represented;
// use the Record form to keep them.
type User struct {
	ID                    string             `json:"id"`
	FullName              string             `json:"full_name"`
	Email                 string             `json:"email"`
	Role                  UserRole           `json:"role"`
	EmergencyContactPhone string             `json:"emergency_contact_phone,omitempty"`
	MedicalConditions     string             `json:"medical_conditions,omitempty"`
	PreferredHospital     string             `json:"preferred_hospital,omitempty"`
	SafetyPreferences     *SafetyPreferences `json:"safety_preferences,omitempty"`
	OnboardingCompleted   bool               `json:"onboarding_completed,omitempty"`
}

// Decode converts a record into one of the typed views.
func Decode[T any](r Record) (T, error) {
	var out T
	raw, err := json.Marshal(r)
	if err != nil {
		return out, fmt.Errorf("encode record: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode record: %w", err)
	}
	return out, nil
}

// Encode converts a typed value into its record form. Zero-valued fields
// tagged omitempty are left out so they do not overwrite stored values on merge.
func Encode(v any) (Record, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	out := Record{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return out, nil
}

// Normalize round-trips a record through JSON so that values compare the way
// they will after being stored (all numbers become float64, typed slices
// become []any).
func Normalize(r Record) (Record, error) {
	if r == nil {
		return Record{}, nil
	}
	return Encode(r)
}
