// Package phone canonicalizes customer phone strings into comparable keys.
//
// All functions are total: malformed input yields Invalid rather than an error.
package phone

import "strings"

// Invalid is returned by Normalize when too few digits remain.
const Invalid = ""

// MinDigits is the minimum number of digits a canonical key carries.
const MinDigits = 10

// DefaultSuffixLen is the suffix length used for fuzzy cross-format search.
const DefaultSuffixLen = 7

// trunkPrefixes are the leading digits dropped from 11-digit numbers.
const trunkPrefixes = "78"

// Normalize strips every non-digit and drops the trunk prefix from an
// 11-digit number. "+7 916 123 45 67", "89161234567" and "9161234567" all
// normalize to "9161234567".
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if len(digits) == 11 && strings.IndexByte(trunkPrefixes, digits[0]) >= 0 {
		digits = digits[1:]
	}
	if len(digits) < MinDigits {
		return Invalid
	}
	return digits
}

// IsValid reports whether key is a usable canonical key.
func IsValid(key string) bool {
	return key != Invalid
}

// Expand returns the storage variants of a canonical key: the key itself and
// the key with each trunk prefix. Invalid keys expand to nothing.
func Expand(key string) []string {
	if !IsValid(key) {
		return nil
	}
	return []string{key, "7" + key, "8" + key}
}

// Suffix returns the last n digits of key. n <= 0 selects DefaultSuffixLen.
// Keys shorter than n are returned whole.
func Suffix(key string, n int) string {
	if n <= 0 {
		n = DefaultSuffixLen
	}
	if len(key) <= n {
		return key
	}
	return key[len(key)-n:]
}

// NormalizeAll normalizes every input, dropping invalid and duplicate keys.
// Order of first appearance is preserved.
func NormalizeAll(raws []string) []string {
	seen := make(map[string]bool, len(raws))
	out := make([]string, 0, len(raws))
	for _, raw := range raws {
		key := Normalize(raw)
		if !IsValid(key) || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	return out
}
