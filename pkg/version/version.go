// Package version compares bundle and prototype versions using RPM ordering.
//
// Versions are compared segment by segment: runs of digits are compared
// numerically, runs of letters lexically, and a numeric segment is always
// newer than an alphabetic one. Separators are ignored, a tilde sorts before
// anything (pre-releases) and a caret sorts after the base version but
// before any longer version.
//
// A full version string may carry an epoch and a release:
//
//	[epoch:]version[-release]
//
// Epochs compare numerically first, then versions, then releases.
//
// Example:
//
//	version.Compare("1.10", "1.9")   // 1
//	version.Compare("2.0~rc1", "2.0") // -1
//	version.Compare("1:0.1", "9.9")  // 1
package version

import (
	"strconv"
	"strings"
)

// Compare compares a and b, returning:
// -1 if a < b
//
//	0 if a == b
//	1 if a > b
func Compare(a, b string) int {
	ea, va, ra := splitEVR(a)
	eb, vb, rb := splitEVR(b)

	if ea != eb {
		if ea < eb {
			return -1
		}
		return 1
	}

	if c := compareSegments(va, vb); c != 0 {
		return c
	}

	// A missing release matches any release, like rpm's labelCompare.
	if ra == "" || rb == "" {
		return 0
	}
	return compareSegments(ra, rb)
}

// splitEVR splits a version string into epoch, version and release.
func splitEVR(s string) (int64, string, string) {
	var epoch int64
	if i := strings.IndexByte(s, ':'); i >= 0 {
		if e, err := strconv.ParseInt(s[:i], 10, 64); err == nil {
			epoch = e
		}
		s = s[i+1:]
	}

	release := ""
	if i := strings.LastIndexByte(s, '-'); i >= 0 {
		release = s[i+1:]
		s = s[:i]
	}

	return epoch, s, release
}

// compareSegments is rpmvercmp.
func compareSegments(a, b string) int {
	if a == b {
		return 0
	}

	for len(a) > 0 || len(b) > 0 {
		a = trimSeparators(a)
		b = trimSeparators(b)

		// Tilde sorts before everything, even the end of the string.
		if strings.HasPrefix(a, "~") || strings.HasPrefix(b, "~") {
			if !strings.HasPrefix(a, "~") {
				return 1
			}
			if !strings.HasPrefix(b, "~") {
				return -1
			}
			a, b = a[1:], b[1:]
			continue
		}

		// Caret sorts after the end of the string but before any other segment.
		if strings.HasPrefix(a, "^") || strings.HasPrefix(b, "^") {
			if a == "" {
				return -1
			}
			if b == "" {
				return 1
			}
			if !strings.HasPrefix(a, "^") {
				return 1
			}
			if !strings.HasPrefix(b, "^") {
				return -1
			}
			a, b = a[1:], b[1:]
			continue
		}

		if a == "" || b == "" {
			break
		}

		numeric := isDigit(a[0])
		var segA, segB string
		if numeric {
			segA, a = span(a, isDigit)
			segB, b = span(b, isDigit)
		} else {
			segA, a = span(a, isAlpha)
			segB, b = span(b, isAlpha)
		}

		// Segments of different types: numeric is newer.
		if segB == "" {
			if numeric {
				return 1
			}
			return -1
		}

		if numeric {
			segA = strings.TrimLeft(segA, "0")
			segB = strings.TrimLeft(segB, "0")
			if len(segA) != len(segB) {
				if len(segA) > len(segB) {
					return 1
				}
				return -1
			}
		}

		if c := strings.Compare(segA, segB); c != 0 {
			return c
		}
	}

	if a == "" && b == "" {
		return 0
	}
	if a == "" {
		return -1
	}
	return 1
}

func trimSeparators(s string) string {
	i := 0
	for i < len(s) && !isDigit(s[i]) && !isAlpha(s[i]) && s[i] != '~' && s[i] != '^' {
		i++
	}
	return s[i:]
}

func span(s string, pred func(byte) bool) (string, string) {
	i := 0
	for i < len(s) && pred(s[i]) {
		i++
	}
	return s[:i], s[i:]
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
