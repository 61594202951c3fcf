package app

import (
	"math"
	"strings"

	"safestreets/pkg/domain"
)

func requireString(r domain.Record, field string) error {
	v, ok := r[field].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return invalid("%s is required", field)
	}
	return nil
}

func requireEnum[T ~string](r domain.Record, field string, allowed []T) error {
	if err := requireString(r, field); err != nil {
		return err
	}
	return optionalEnum(r, field, allowed)
}

func optionalEnum[T ~string](r domain.Record, field string, allowed []T) error {
	raw, present := r[field]
	if !present {
		return nil
	}
	v, ok := raw.(string)
	if !ok {
		return invalid("%s must be a string", field)
	}
	for _, a := range allowed {
		if string(a) == v {
			return nil
		}
	}
	return invalid("%s %q is not one of %v", field, v, allowed)
}

// optionalNumber checks a JSON-normalized numeric field against [min, max].
func optionalNumber(r domain.Record, field string, min, max float64, integer bool) error {
	raw, present := r[field]
	if !present || raw == nil {
		return nil
	}
	v, ok := raw.(float64)
	if !ok {
		return invalid("%s must be a number", field)
	}
	if integer && v != math.Trunc(v) {
		return invalid("%s must be a whole number", field)
	}
	if v < min || v > max {
		return invalid("%s must be between %v and %v", field, min, max)
	}
	return nil
}

func validateCoordinates(r domain.Record) error {
	if err := optionalNumber(r, "latitude", -90, 90, false); err != nil {
		return err
	}
	return optionalNumber(r, "longitude", -180, 180, false)
}
