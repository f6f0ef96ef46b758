package style

import "testing"

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"https://example.com/a/long/path", 12, "https://exa…"},
		{"héllo wörld", 5, "héll…"},
		{"ab", 1, "a"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestPadRight(t *testing.T) {
	if got := PadRight("ab", 4); got != "ab  " {
		t.Errorf("PadRight() = %q", got)
	}
	if got := PadRight("abcdef", 4); got != "abcdef" {
		t.Errorf("PadRight() must not cut, got %q", got)
	}
}

func TestCheckDot(t *testing.T) {
	mismatch := false
	match := true
	tests := []struct {
		name   string
		failed bool
		status int
		match  *bool
		want   string
	}{
		{"failed", true, 0, nil, DotUnhealthy},
		{"server error", false, 503, nil, DotWarning},
		{"content mismatch", false, 200, &mismatch, DotWarning},
		{"ok with match", false, 200, &match, DotHealthy},
		{"ok", false, 204, nil, DotHealthy},
	}
	for _, tt := range tests {
		if got := CheckDot(tt.failed, tt.status, tt.match); got != tt.want {
			t.Errorf("%s: CheckDot() = %q, want %q", tt.name, got, tt.want)
		}
	}
}
