package store

import "testing"

func TestMatchKey(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		key     string
		want    bool
	}{
		{"exact match", "user:1", "user:1", true},
		{"exact mismatch", "user:1", "user:2", false},
		{"no wildcard is never a prefix", "user", "user:1", false},
		{"trailing star", "user:*", "user:42", true},
		{"trailing star empty tail", "user:*", "user:", true},
		{"trailing star mismatch", "user:*", "post:1", false},
		{"leading star", "*:1", "user:1", true},
		{"inner star", "user:*:profile", "user:42:profile", true},
		{"inner star mismatch", "user:*:profile", "user:42:settings", false},
		{"multiple stars", "GET:*/items*", "GET:/api/items?page=2", true},
		{"lone star", "*", "anything", true},
		{"segments out of order", "b*a", "ab", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := matchKey(tt.pattern, tt.key)
			if got != tt.want {
				t.Errorf("matchKey(%q, %q) = %v, want %v", tt.pattern, tt.key, got, tt.want)
			}
		})
	}
}
