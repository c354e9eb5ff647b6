package utils

import (
	"regexp"
	"strings"
)

var (
	controlChars   = regexp.MustCompile(`[\x00-\x1f\x7f]`)
	unsafePathRuns = regexp.MustCompile(`[^a-zA-Z0-9._\-]+`)
)

// SanitizeString removes control characters
func SanitizeString(s string) string {
	return controlChars.ReplaceAllString(s, "")
}

// SanitizeFilename reduces an uploaded filename to a storage-safe basename.
// Path separators and shell-hostile characters are collapsed to underscores;
// an empty result becomes "unnamed".
func SanitizeFilename(name string) string {
	name = SanitizeString(name)

	// Strip any client-supplied directory components
	if idx := strings.LastIndexAny(name, `/\`); idx >= 0 {
		name = name[idx+1:]
	}

	name = unsafePathRuns.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "unnamed"
	}
	return name
}
