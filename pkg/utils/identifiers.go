package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var safeDirName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// SanitizeUnitID converts a dotted unit ID into a filesystem-safe directory
// name. Unit IDs like "P1.M3.T2.S2" become "P1M3T2S2", which is how per-unit
// artifact directories are named inside a session.
func SanitizeUnitID(id string) (string, error) {
	sanitized := strings.ReplaceAll(id, ".", "")
	if !safeDirName.MatchString(sanitized) {
		return "", fmt.Errorf("unit id %q does not sanitize to a safe directory name", id)
	}
	return sanitized, nil
}
