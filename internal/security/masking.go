// Package security provides helpers that keep license keys out of logs and
// operational output.
package security

import (
	"net/url"
	"strings"
	"unicode/utf8"
)

// LicenseKeyPrefixLen is the number of leading characters of a license key
// that may be shown in logs and health snapshots.
const LicenseKeyPrefixLen = 8

// MaskedPlaceholder replaces secrets too short to reveal any prefix.
const MaskedPlaceholder = "***"

// MaskSecret masks sensitive strings for logging.
// Shows first N characters followed by "..." to minimize secret exposure.
// Returns "***" for very short secrets (<= prefixLen characters). Characters
// are runes, so the prefix of a non-ASCII secret stays valid UTF-8.
//
// Examples:
//
//	MaskSecret("sk_test_abc123", 4) -> "sk_t..."
//	MaskSecret("short", 4) -> "***"
//	MaskSecret("", 4) -> ""
func MaskSecret(secret string, prefixLen int) string {
	if secret == "" {
		return ""
	}
	if utf8.RuneCountInString(secret) <= prefixLen {
		return MaskedPlaceholder
	}
	cut, n := 0, 0
	for i := range secret {
		if n == prefixLen {
			cut = i
			break
		}
		n++
	}
	return secret[:cut] + "..."
}

// MaskLicenseKey masks a license key to its first 8 characters.
//
// Example:
//
//	MaskLicenseKey("0123456789ABCDEF") -> "01234567..."
func MaskLicenseKey(key string) string {
	if key == "" {
		return MaskedPlaceholder
	}
	return MaskSecret(key, LicenseKeyPrefixLen)
}

// MaskKeyInURL replaces every occurrence of key in rawURL with its masked
// form. The upstream API carries the license key as the last path segment,
// so request URLs must pass through here before being logged.
func MaskKeyInURL(rawURL, key string) string {
	if key == "" {
		return rawURL
	}
	masked := strings.ReplaceAll(rawURL, key, MaskLicenseKey(key))
	// The key may also appear percent-encoded.
	if escaped := url.PathEscape(key); escaped != key {
		masked = strings.ReplaceAll(masked, escaped, MaskLicenseKey(key))
	}
	return masked
}
