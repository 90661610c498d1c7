package origin

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"https://app.example.com", "https://app.example.com", true},
		{"HTTPS://App.Example.COM", "https://app.example.com", true},
		{"https://app.example.com:443", "https://app.example.com", true},
		{"http://app.example.com:80", "http://app.example.com", true},
		{"http://app.example.com:8080", "http://app.example.com:8080", true},
		{"  https://app.example.com  ", "https://app.example.com", true},
		{"https://[::1]:8443", "https://[::1]:8443", true},
		{"https://[::1]:443", "https://[::1]", true},
		{"null", "", false},
		{"", "", false},
		{"ftp://app.example.com", "", false},
		{"https://", "", false},
		{"https://app.example.com:0", "", false},
		{"https://app.example.com:70000", "", false},
		{"https://app.example.com:x", "", false},
		{"https://a:1:2", "", false},
		{"https://app.example.com/path", "", false},
		{"https://[::1", "", false},
	}
	for _, tt := range tests {
		got, ok := Normalize(tt.raw)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Normalize(%q) = %q, %v; want %q, %v", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}

func TestAllowedWithAllowlist(t *testing.T) {
	allow := []string{"https://app.example.com", "http://localhost:3000"}

	if !Allowed("https://app.example.com:443", "relay.example.com", allow) {
		t.Error("default-port origin should match allowlist entry")
	}
	if !Allowed("http://localhost:3000", "relay.example.com", allow) {
		t.Error("exact origin should be allowed")
	}
	if Allowed("https://evil.example.com", "relay.example.com", allow) {
		t.Error("unlisted origin should be rejected")
	}
	if Allowed("null", "relay.example.com", allow) {
		t.Error("opaque origin should be rejected")
	}
}

func TestAllowedWildcard(t *testing.T) {
	if !Allowed("https://anything.example.com", "relay.example.com", []string{"*"}) {
		t.Error("wildcard should admit any valid origin")
	}
	if Allowed("garbage", "relay.example.com", []string{"*"}) {
		t.Error("wildcard should not admit unparseable origins")
	}
}

func TestAllowedSameHostDefault(t *testing.T) {
	if !Allowed("https://relay.example.com", "relay.example.com", nil) {
		t.Error("same-host origin should be allowed without an allowlist")
	}
	if !Allowed("https://Relay.Example.COM:443", "relay.example.com", nil) {
		t.Error("host comparison should be case-insensitive and port-normalized")
	}
	if Allowed("https://other.example.com", "relay.example.com", nil) {
		t.Error("cross-host origin should be rejected without an allowlist")
	}
}
