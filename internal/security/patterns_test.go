package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPatternSet_Matches(t *testing.T) {
	ps, err := NewPatternSet([]string{
		"api.example.com",
		"*.example.org",
		"192.0.2.10",
		"10.0.0.0/8",
	})
	if err != nil {
		t.Fatalf("NewPatternSet: %v", err)
	}

	tests := []struct {
		name string
		host string
		want bool
	}{
		{"exact match", "api.example.com", true},
		{"exact match case-insensitive", "API.Example.COM", true},
		{"exact no subdomain", "sub.api.example.com", false},
		{"wildcard matches base", "example.org", true},
		{"wildcard matches subdomain", "api.example.org", true},
		{"wildcard matches deep subdomain", "a.b.example.org", true},
		{"wildcard rejects suffix lookalike", "evilexample.org", false},
		{"ip literal match", "192.0.2.10", true},
		{"ip literal mismatch", "192.0.2.11", false},
		{"cidr lower boundary", "10.0.0.0", true},
		{"cidr upper boundary", "10.255.255.255", true},
		{"cidr outside", "11.0.0.0", false},
		{"cidr requires ip-literal host", "ten.example.net", false},
		{"unlisted host", "api.other.com", false},
		{"trailing dot normalized", "api.example.com.", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ps.Matches(tt.host); got != tt.want {
				t.Errorf("Matches(%q) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}
}

func TestPatternSet_EmptyDeniesAll(t *testing.T) {
	ps, err := NewPatternSet(nil)
	if err != nil {
		t.Fatalf("NewPatternSet: %v", err)
	}
	for _, host := range []string{"api.example.com", "10.0.0.1", "anything"} {
		if ps.Matches(host) {
			t.Errorf("empty set matched %q; want deny-all", host)
		}
	}
}

func TestNewPatternSet_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"bad cidr", "10.0.0.0/99"},
		{"bare wildcard", "*."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPatternSet([]string{tt.raw}); err == nil {
				t.Errorf("NewPatternSet(%q) succeeded, want error", tt.raw)
			}
		})
	}
}

func TestLoadPatternSet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "allowlist.toml")
	data := `
patterns = ["api.example.com", "*.example.org"]
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	ps, err := LoadPatternSet(path)
	if err != nil {
		t.Fatalf("LoadPatternSet: %v", err)
	}
	if ps.Len() != 2 {
		t.Errorf("Len() = %d, want 2", ps.Len())
	}
	if !ps.Matches("api.example.org") {
		t.Error("expected wildcard entry to match api.example.org")
	}
}

func TestLoadPatternSet_Missing(t *testing.T) {
	ps, err := LoadPatternSet(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadPatternSet: %v", err)
	}
	if ps.Len() != 0 {
		t.Errorf("Len() = %d, want 0", ps.Len())
	}
	if ps.Matches("api.example.com") {
		t.Error("missing allowlist must deny all targets")
	}
}

func TestLoadPatternSet_BadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "allowlist.toml")
	if err := os.WriteFile(path, []byte("patterns = not-toml"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPatternSet(path); err == nil {
		t.Error("LoadPatternSet succeeded on malformed TOML, want error")
	}
}
