package location

import (
	"fmt"
	"strings"

	"github.com/erp/stockledger/internal/domain/shared"
)

// KeySeparator joins segment codes in a full location key, e.g. "A-01-R3-S2-B07"
const KeySeparator = "-"

// BuildKey joins the given segments, stopping at the first empty one
func BuildKey(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s == "" {
			break
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, KeySeparator)
}

// ParseKey splits a full location key into its segments and reports the level it addresses
func ParseKey(key string) ([]string, Level, error) {
	key = strings.ToUpper(strings.TrimSpace(key))
	if key == "" {
		return nil, "", shared.NewDomainError("INVALID_LOCATION", "Location key cannot be empty")
	}
	segments := strings.Split(key, KeySeparator)
	level, ok := LevelAt(len(segments) - 1)
	if !ok {
		return nil, "", shared.NewDomainError("INVALID_LOCATION",
			fmt.Sprintf("Location key %q has %d segments, at most %d allowed", key, len(segments), len(levels)))
	}
	for _, s := range segments {
		if err := validateSegment(s); err != nil {
			return nil, "", err
		}
	}
	return segments, level, nil
}

// NormalizeKey returns the canonical form of a key
func NormalizeKey(key string) (string, error) {
	segments, _, err := ParseKey(key)
	if err != nil {
		return "", err
	}
	return BuildKey(segments...), nil
}
