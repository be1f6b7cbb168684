package discovery

import "strings"

// matchGlob reports whether s matches pattern, where pattern may
// contain '*' (any run of characters, including none) and '?' (exactly
// one character). Matching is case-insensitive, per the resource
// parser's own keyword handling.
func matchGlob(pattern, s string) bool {
	return globMatch(strings.ToLower(pattern), strings.ToLower(s))
}

// globMatch is a standard recursive glob matcher over '*' and '?'.
func globMatch(pattern, s string) bool {
	if pattern == "" {
		return s == ""
	}
	switch pattern[0] {
	case '*':
		if globMatch(pattern[1:], s) {
			return true
		}
		for i := 0; i < len(s); i++ {
			if globMatch(pattern[1:], s[i+1:]) {
				return true
			}
		}
		return false
	case '?':
		if s == "" {
			return false
		}
		return globMatch(pattern[1:], s[1:])
	default:
		if s == "" || s[0] != pattern[0] {
			return false
		}
		return globMatch(pattern[1:], s[1:])
	}
}
