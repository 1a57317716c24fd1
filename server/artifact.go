package server

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/apksignd/apksignd/server/status"
)

// SignedNameSuffix is appended to the sanitized original filename of a
// successfully signed artifact.
const SignedNameSuffix = "-signed.apk"

const maxDisplayNameLen = 100

// fallbackDisplayName is used when nothing survives sanitization of the
// client-supplied filename.
const fallbackDisplayName = "package.apk"

// artifactIDPattern is the canonical lowercase hyphenated UUID form. Download
// identifiers come straight from the URL path, so anything else (uppercase,
// braces, path separators, relative segments) is rejected before a path join
// ever happens.
var artifactIDPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

var displayNameAllowed = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// NewArtifactID generates a fresh random artifact identifier.
func NewArtifactID() string {
	return uuid.New().String()
}

// ValidateArtifactID checks a client-supplied identifier against the exact
// UUID grammar. A mismatch is a SecurityRejection: the only way to get a
// non-canonical identifier here is a crafted request.
func ValidateArtifactID(id string) error {
	if !artifactIDPattern.MatchString(id) {
		return status.Errorf(status.SecurityRejection, "malformed artifact identifier")
	}
	return nil
}

// SanitizeDisplayName reduces a client-supplied filename to a safe display
// label. The result is only ever used in response headers and bodies, never
// as a store path component.
func SanitizeDisplayName(name string) string {
	name = displayNameAllowed.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, ".")
	if len(name) > maxDisplayNameLen {
		name = name[:maxDisplayNameLen]
	}
	if name == "" {
		return fallbackDisplayName
	}
	return name
}

// SignedDisplayName derives the download filename for a signed artifact from
// the sanitized original name.
func SignedDisplayName(original string) string {
	name := SanitizeDisplayName(original)
	name = strings.TrimSuffix(name, ".apk")
	return name + SignedNameSuffix
}
