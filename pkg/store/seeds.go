package store

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"safestreets/pkg/domain"
)

//go:embed seeds/*.json
var seedFS embed.FS

var seedFiles = map[string]string{
	KeySafetyReports:     "seeds/safety_reports.json",
	KeyEmergencyContacts: "seeds/emergency_contacts.json",
	KeySOSAlerts:         "seeds/sos_alerts.json",
}

// ParseSeed decodes a seed document. Only a JSON array is a seed collection;
// any other JSON value (such as an entity schema) yields an empty one.
func ParseSeed(data []byte) ([]domain.Record, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return []domain.Record{}, nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("seed is not valid JSON")
	}
	if data[0] != '[' {
		return []domain.Record{}, nil
	}
	var records []domain.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	if records == nil {
		records = []domain.Record{}
	}
	return records, nil
}

// LoadSeedDir reads <key>.json files from dir for the collection keys.
// Missing files are skipped.
func LoadSeedDir(dir string) (map[string][]domain.Record, error) {
	out := make(map[string][]domain.Record)
	for key := range seedFiles {
		data, err := os.ReadFile(filepath.Join(dir, key+".json"))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read seed %s: %w", key, err)
		}
		records, err := ParseSeed(data)
		if err != nil {
			return nil, fmt.Errorf("seed %s: %w", key, err)
		}
		out[key] = records
	}
	return out, nil
}

func bundledSeeds() map[string][]domain.Record {
	out := make(map[string][]domain.Record, len(seedFiles))
	for key, name := range seedFiles {
		data, err := seedFS.ReadFile(name)
		if err != nil {
			slog.Warn("bundled seed missing", "key", key, "err", err)
			out[key] = []domain.Record{}
			continue
		}
		records, err := ParseSeed(data)
		if err != nil {
			slog.Warn("bundled seed unreadable", "key", key, "err", err)
			records = []domain.Record{}
		}
		out[key] = records
	}
	return out
}
