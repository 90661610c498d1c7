// Package origin validates browser Origin headers on WebSocket upgrades.
//
// Non-browser clients (native apps, CLIs) usually omit the Origin header
// entirely; callers decide whether to admit those. When the header is
// present it must parse as a web origin and match the configured
// allowlist, or — when no allowlist is configured — the host the request
// was addressed to.
package origin

import (
	"strconv"
	"strings"
)

// Allowed reports whether a request carrying the given Origin header value
// may proceed. requestHost is the Host header of the upgrade request.
//
// An allowlist entry of "*" admits every syntactically valid origin.
// Entries are matched against the normalized origin form
// "scheme://host[:port]" with default ports elided, so "https://a.example"
// matches "https://a.example:443". With an empty allowlist only
// same-host origins are admitted.
func Allowed(header, requestHost string, allowlist []string) bool {
	norm, ok := Normalize(header)
	if !ok {
		return false
	}

	if len(allowlist) == 0 {
		_, originHost, _ := strings.Cut(norm, "://")
		reqHost, ok := normalizeHost(requestHost, "")
		return ok && originHost == reqHost
	}

	for _, entry := range allowlist {
		if entry == "*" {
			return true
		}
		if allowed, ok := Normalize(entry); ok && allowed == norm {
			return true
		}
	}
	return false
}

// Normalize parses a serialized web origin and returns its canonical
// "scheme://host[:port]" form. The scheme is lowercased and restricted
// to http/https, the hostname is lowercased, and a port equal to the
// scheme default is dropped. Opaque origins ("null") and anything that
// does not parse report ok=false.
func Normalize(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return "", false
	}
	scheme = strings.ToLower(scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	host, ok := normalizeHost(rest, scheme)
	if !ok {
		return "", false
	}
	return scheme + "://" + host, true
}

// normalizeHost canonicalizes a host[:port] authority. scheme may be
// empty when no default-port elision should happen.
func normalizeHost(raw string, scheme string) (string, bool) {
	hostname, rawPort, ok := splitHostPort(raw)
	if !ok {
		return "", false
	}

	hostname = strings.ToLower(hostname)
	if hostname == "" || strings.ContainsAny(hostname, "/?#@ ") {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}

// splitHostPort splits host[:port], returning IPv6 literal hostnames
// without brackets and the port unvalidated (empty when absent).
func splitHostPort(raw string) (hostname, port string, ok bool) {
	if raw == "" {
		return "", "", false
	}
	if strings.HasPrefix(raw, "[") {
		end := strings.IndexByte(raw, ']')
		if end < 0 {
			return "", "", false
		}
		hostname = raw[1:end]
		rest := raw[end+1:]
		if rest == "" {
			return hostname, "", true
		}
		if !strings.HasPrefix(rest, ":") {
			return "", "", false
		}
		return hostname, rest[1:], true
	}

	i := strings.LastIndexByte(raw, ':')
	if i < 0 {
		return raw, "", true
	}
	// A second colon without brackets means a bare IPv6 literal, which
	// is not a valid serialized origin authority.
	if strings.IndexByte(raw, ':') != i {
		return "", "", false
	}
	return raw[:i], raw[i+1:], true
}
