package urlcheck

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValid(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{name: "https", value: "https://example.org/image.jpg", want: true},
		{name: "http with query", value: "http://example.org/f?sig=abc", want: true},
		{name: "ftp", value: "ftp://example.org/file", want: true},
		{name: "ipv4 host", value: "https://192.0.2.1/file", want: true},
		{name: "ipv6 host", value: "https://[2001:db8::1]/file", want: true},
		{name: "trailing dot host", value: "https://example.org./file", want: true},
		{name: "plain text", value: "hello there", want: false},
		{name: "no scheme", value: "example.org/file", want: false},
		{name: "unsupported scheme", value: "file:///etc/passwd", want: false},
		{name: "embedded newline", value: "https://example.org/\nfile", want: false},
		{name: "embedded space", value: "https://example .org", want: false},
		{name: "no host", value: "https:///file", want: false},
		{name: "empty label", value: "https://example..org/file", want: false},
		{name: "hyphen label", value: "https://-example.org/file", want: false},
		{name: "bad bracketed host", value: "https://[notanip]/file", want: false},
		{name: "overlong host", value: "https://" + strings.Repeat("a", 254) + "/f", want: false},
		{name: "overlong label", value: "https://" + strings.Repeat("a", 64) + ".org/f", want: false},
		{name: "empty", value: "", want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Valid(tc.value))
		})
	}
}
