package store

import "strings"

// matchKey checks whether a key matches a Clear pattern. A pattern
// without "*" must equal the key exactly; "*" matches any run of
// characters, so the pattern's literal segments must appear in the key
// in order. This is a glob, not a regular expression.
func matchKey(pattern, key string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == key
	}
	return wildcardMatch(pattern, key)
}

// wildcardMatch handles * as matching any (possibly empty) sequence of
// characters.
func wildcardMatch(pattern, str string) bool {
	if pattern == "*" {
		return true
	}

	for len(pattern) > 0 {
		if pattern[0] == '*' {
			// Skip the star.
			pattern = pattern[1:]
			if len(pattern) == 0 {
				return true
			}
			// Try matching the rest of the pattern at every position.
			for i := 0; i <= len(str); i++ {
				if wildcardMatch(pattern, str[i:]) {
					return true
				}
			}
			return false
		}

		if len(str) == 0 || pattern[0] != str[0] {
			return false
		}

		pattern = pattern[1:]
		str = str[1:]
	}

	return len(str) == 0
}
