package fileio

import (
	"strings"
	"unicode"
)

// SanitizeFilename flattens a name received over the wire into a single safe path element.
// Separators of either OS are normalized, empty, "." and ".." segments are dropped and the
// remaining segments are joined with underscores. Returns empty string if nothing is left.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")

	segments := make([]string, 0, 4)
	for _, segment := range strings.Split(name, "/") {
		segment = strings.Map(func(r rune) rune {
			if r == ':' || unicode.IsControl(r) || r == unicode.ReplacementChar {
				return '_'
			}
			return r
		}, segment)
		segment = strings.TrimSpace(segment)
		if segment == "" || segment == "." || segment == ".." {
			continue
		}
		segments = append(segments, segment)
	}

	return strings.Join(segments, "_")
}
