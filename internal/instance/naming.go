// Package instance names patchbay processes and deployments.
//
// A namespace is shared by every instance of one deployment and appears in
// Redis keys and channels. An identity is unique per process and is carried
// in coordination events so each instance can ignore its own.
package instance

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	// MaxNameLength is the maximum length for a name (DNS label)
	MaxNameLength = 63

	// suffixLength is the number of uuid characters appended to generated identities
	suffixLength = 8
)

var (
	// NamePattern is the regex pattern for valid names
	// Must be DNS-compatible: lowercase alphanumeric, hyphens allowed (but not at start/end)
	NamePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

	invalidLabelChars = regexp.MustCompile(`[^a-z0-9-]+`)
)

// ValidateName checks a namespace or identity against DNS label rules.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}

	if len(name) > MaxNameLength {
		return fmt.Errorf("name too long: %d characters (max: %d)", len(name), MaxNameLength)
	}

	if !NamePattern.MatchString(name) {
		return fmt.Errorf("invalid name '%s': must be lowercase alphanumeric with hyphens (not at start/end)", name)
	}

	return nil
}

// GenerateIdentity returns "<host>-<8 hex chars>" with host reduced to a
// valid DNS label. An unusable host becomes "patchbay".
func GenerateIdentity(host string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:suffixLength]

	label := invalidLabelChars.ReplaceAllString(strings.ToLower(host), "-")
	label = strings.Trim(label, "-")
	if limit := MaxNameLength - suffixLength - 1; len(label) > limit {
		label = strings.TrimRight(label[:limit], "-")
	}
	if label == "" {
		label = "patchbay"
	}

	return label + "-" + suffix
}

// Resolve returns configured if set (after validation), otherwise a
// generated identity based on the hostname.
func Resolve(configured string) (string, error) {
	if configured != "" {
		if err := ValidateName(configured); err != nil {
			return "", fmt.Errorf("invalid instance identity: %w", err)
		}
		return configured, nil
	}

	host, err := os.Hostname()
	if err != nil {
		host = ""
	}
	return GenerateIdentity(host), nil
}
