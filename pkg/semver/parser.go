// Package semver parses client version references and checks them against
// the host's compatibility range.
package semver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const logPrefix = "semver:parser"

// ClientRef is a parsed client identifier such as "renderer@1.4.0".
type ClientRef struct {
	// Client name (e.g., "renderer")
	Name string
	// Version as sent by the client; empty when the client gave none
	Version string
	Raw     string
}

var (
	clientNameRegex   = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
	majorOnlyRegex    = regexp.MustCompile(`^\d+$`)
	exactVersionRegex = regexp.MustCompile(`^v?\d+\.\d+\.\d+(-[\w.]+)?(\+[\w.]+)?$`)
)

// ParseClientRef parses a client reference.
//
// Supported formats:
//   - renderer           (no version)
//   - renderer@1.4.0     (exact version)
//   - renderer@v1.4.0    (leading v is accepted)
func ParseClientRef(input string) (*ClientRef, error) {
	raw := strings.TrimSpace(input)
	name, version, _ := strings.Cut(raw, "@")

	if !ValidateClientName(name) {
		return nil, fmt.Errorf("%s - invalid client name in %q", logPrefix, raw)
	}
	if version != "" && !IsExactVersion(version) {
		return nil, fmt.Errorf("%s - invalid client version in %q", logPrefix, raw)
	}
	return &ClientRef{Name: name, Version: strings.TrimPrefix(version, "v"), Raw: raw}, nil
}

// String renders the reference back as name[@version].
func (r *ClientRef) String() string {
	if r.Version == "" {
		return r.Name
	}
	return r.Name + "@" + r.Version
}

// IsMajorOnly checks if a range is a major-only specifier (e.g., "3").
func IsMajorOnly(rangeStr string) bool {
	return majorOnlyRegex.MatchString(rangeStr)
}

// IsExactVersion checks if a string is a full version (e.g., "3.2.1").
func IsExactVersion(s string) bool {
	return exactVersionRegex.MatchString(s)
}

// ExtractMajorFromRange returns the major of a major-only range, or -1.
func ExtractMajorFromRange(rangeStr string) int {
	if !IsMajorOnly(rangeStr) {
		return -1
	}
	major, err := strconv.Atoi(rangeStr)
	if err != nil {
		return -1
	}
	return major
}

// ValidateClientName validates a client name (lowercase, alphanumeric, hyphens).
func ValidateClientName(name string) bool {
	return clientNameRegex.MatchString(name)
}
