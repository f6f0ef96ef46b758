package urlutil

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{
			name:  "Standard URL",
			input: "http://example.com/path",
			want:  "http://example.com/path",
		},
		{
			name:  "Surrounding Whitespace",
			input: "  https://example.com/health \n",
			want:  "https://example.com/health",
		},
		{
			name:  "Uppercase Scheme and Host",
			input: "HTTPS://EXAMPLE.COM/Path",
			want:  "https://example.com/Path",
		},
		{
			name:  "With Default HTTP Port",
			input: "http://example.com:80/path",
			want:  "http://example.com/path",
		},
		{
			name:  "With Default HTTPS Port",
			input: "https://example.com:443/path",
			want:  "https://example.com/path",
		},
		{
			name:  "HTTPS Port on HTTP Is Kept",
			input: "http://example.com:443/path",
			want:  "http://example.com:443/path",
		},
		{
			name:  "With Custom Port",
			input: "http://example.com:8080/path",
			want:  "http://example.com:8080/path",
		},
		{
			name:  "IPv6 Default Port",
			input: "http://[::1]:80/",
			want:  "http://[::1]/",
		},
		{
			name:  "With Fragment",
			input: "http://example.com/path#section1",
			want:  "http://example.com/path",
		},
		{
			name:  "Trailing Slash Kept",
			input: "http://example.com/path/",
			want:  "http://example.com/path/",
		},
		{
			name:  "Query Kept",
			input: "https://example.com/status?full=1",
			want:  "https://example.com/status?full=1",
		},
		{
			name:    "Relative URL",
			input:   "/path/to/resource",
			wantErr: ErrNotAbsolute,
		},
		{
			name:    "Unsupported Scheme",
			input:   "ftp://example.com",
			wantErr: ErrNotAbsolute,
		},
		{
			name:    "Missing Host",
			input:   "http:///path",
			wantErr: ErrNoHost,
		},
		{
			name:    "Port Without Host",
			input:   "http://:8080/",
			wantErr: ErrNoHost,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Normalize() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("Normalize() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalize_Unparsable(t *testing.T) {
	if _, err := Normalize("://example.com"); err == nil {
		t.Error("Normalize() error = nil, want parse error")
	}
}
