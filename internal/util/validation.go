// Package util holds small validation helpers shared by the service layer.
package util

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	// MaxObjectNameLength bounds cluster and provider names.
	MaxObjectNameLength = 255

	// MaxHostNameLength is the longest fully qualified domain name (RFC 1035).
	MaxHostNameLength = 253

	maxLabelLength = 63
)

// ValidateObjectName checks a cluster or provider name.
//
// Names must be non-empty, carry no surrounding whitespace and contain no
// control characters.
//
// Example:
//
//	if err := util.ValidateObjectName(name); err != nil {
//	    return nil, fmt.Errorf("%w: cluster %v", models.ErrInvalidRequest, err)
//	}
func ValidateObjectName(name string) error {
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if len(name) > MaxObjectNameLength {
		return fmt.Errorf("name must be at most %d bytes, got %d", MaxObjectNameLength, len(name))
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("name %q has leading or trailing whitespace", name)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("name %q contains control characters", name)
		}
	}
	return nil
}

// ValidateHostName checks that a host name is a valid FQDN in the RFC 1123 sense:
// dot-separated labels of letters, digits and hyphens, 1-63 bytes each, not
// starting or ending with a hyphen. A single trailing dot is allowed.
func ValidateHostName(name string) error {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return fmt.Errorf("host name is required")
	}
	if len(name) > MaxHostNameLength {
		return fmt.Errorf("host name must be at most %d bytes, got %d", MaxHostNameLength, len(name))
	}

	for _, label := range strings.Split(name, ".") {
		if label == "" || len(label) > maxLabelLength {
			return fmt.Errorf("host name %q has a label of invalid length", name)
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return fmt.Errorf("host name %q has a label starting or ending with a hyphen", name)
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-') {
				return fmt.Errorf("host name %q contains invalid character %q", name, c)
			}
		}
	}
	return nil
}
