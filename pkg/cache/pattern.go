package cache

import "strings"

// MatchPattern reports whether key matches pattern. Without '*' the pattern is a
// key prefix. With '*', the whole key must match and each '*' matches any run of
// characters, including '/' and ':'.
func MatchPattern(key, pattern string) bool {
	if !strings.Contains(pattern, "*") {
		return strings.HasPrefix(key, pattern)
	}

	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(key, parts[0]) {
		return false
	}
	rest := key[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, part := range parts[1 : len(parts)-1] {
		i := strings.Index(rest, part)
		if i < 0 {
			return false
		}
		rest = rest[i+len(part):]
	}
	return len(rest) >= len(last) && strings.HasSuffix(rest, last)
}
