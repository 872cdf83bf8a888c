package utils

import (
	"path/filepath"
	"regexp"
	"strings"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

const DefaultFilename = "upload"

// SafeFilename reduces a client supplied filename to its base name with any
// characters outside [A-Za-z0-9._-] collapsed to '_', so it can be used as the
// last segment of an object key.
func SafeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(filepath.ToSlash(name))
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return DefaultFilename
	}
	return name
}

var identifierChars = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidIdentifier reports whether id can be used verbatim as one segment of an
// object key and as a stored key of at most maxLen bytes. Path separators and
// dot segments are rejected.
func ValidIdentifier(id string, maxLen int) bool {
	if id == "" || len(id) > maxLen {
		return false
	}
	if !identifierChars.MatchString(id) {
		return false
	}
	return id != "." && !strings.Contains(id, "..")
}
