// Package validation holds the small set of format checks the HTTP layer
// applies before anything reaches session/execution domain code: session
// id shape, and the artifact filename safety check spec.md's download
// endpoint requires.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var safePathRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// ValidateSessionID accepts either a server-minted uuid or any
// client-supplied id made of the safe-path character set, matching
// spec.md's "opaque short identifier... client-supplied or server-minted."
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if _, err := uuid.Parse(id); err == nil {
		return nil
	}
	if !safePathRegex.MatchString(id) {
		return fmt.Errorf("invalid session id: %s", id)
	}
	return nil
}

// ValidateExecutionID applies the same shape rule as session ids.
func ValidateExecutionID(id string) error {
	if id == "" {
		return fmt.Errorf("execution id cannot be empty")
	}
	if !safePathRegex.MatchString(id) {
		return fmt.Errorf("invalid execution id: %s", id)
	}
	return nil
}

// ValidateArtifactFileName rejects any filename carrying a path separator
// or a ".." component, per spec.md's artifact-download endpoint: names
// must resolve to exactly one file directly inside the session's artifact
// directory, never elsewhere on disk.
func ValidateArtifactFileName(name string) error {
	if name == "" {
		return fmt.Errorf("file name cannot be empty")
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("file name must not contain a path separator: %s", name)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("file name must not contain '..': %s", name)
	}
	return nil
}
