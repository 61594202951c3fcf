package store

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns "<prefix>_<32 hex chars>" from a random UUID.
func NewID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
