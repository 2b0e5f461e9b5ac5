// Package urlcheck decides whether a metadata value is a fetchable URL or
// plain text. It is a pure predicate with no I/O.
package urlcheck

import (
	"net"
	"net/url"
	"strings"
)

var schemes = map[string]bool{
	"http":  true,
	"https": true,
	"ftp":   true,
	"ftps":  true,
}

// Valid reports whether value is a well-formed absolute URL with a
// supported scheme and a plausible host.
func Valid(value string) bool {
	if strings.ContainsAny(value, "\t\r\n ") {
		return false
	}

	u, err := url.Parse(value)
	if err != nil {
		return false
	}
	if !schemes[strings.ToLower(u.Scheme)] {
		return false
	}

	host := u.Hostname()
	if host == "" {
		return false
	}
	// RFC 1034 3.1: full host names top out at 253 characters.
	if len(host) > 253 {
		return false
	}
	if strings.HasPrefix(u.Host, "[") {
		// Bracketed hosts must hold a real IPv6 address.
		ip := net.ParseIP(host)
		return ip != nil && ip.To4() == nil
	}
	if ip := net.ParseIP(host); ip != nil {
		return true
	}
	// Hostname labels: no empty labels, none over 63 characters.
	for _, label := range strings.Split(strings.TrimSuffix(host, "."), ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
	}
	return true
}
