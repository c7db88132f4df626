package security

import (
	"fmt"
	"net"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// patternKind discriminates how a single allowlist entry matches.
type patternKind int

const (
	patternExact patternKind = iota
	patternWildcard
	patternIP
	patternCIDR
)

// pattern is one compiled target-allowlist entry.
type pattern struct {
	kind patternKind
	host string     // exact hostname or wildcard base, lowercased
	ip   net.IP     // literal IP entries
	net  *net.IPNet // CIDR entries
}

// PatternSet is the set of allowed target hosts, compiled once at startup
// and read-only thereafter.
type PatternSet struct {
	patterns []pattern
}

// allowlistFile is the TOML document shape of the target allowlist.
type allowlistFile struct {
	Patterns []string `toml:"patterns"`
}

// LoadPatternSet reads the allowlist TOML file at path. A missing path
// ("" or nonexistent file) yields an empty set, which denies every target.
func LoadPatternSet(path string) (*PatternSet, error) {
	if path == "" {
		return &PatternSet{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &PatternSet{}, nil
		}
		return nil, fmt.Errorf("allowlist: read %s: %w", path, err)
	}

	var file allowlistFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("allowlist: parse %s: %w", path, err)
	}

	return NewPatternSet(file.Patterns)
}

// NewPatternSet compiles raw pattern strings. Supported forms: exact
// hostname, wildcard "*.base", literal IP, and CIDR block.
func NewPatternSet(raw []string) (*PatternSet, error) {
	ps := &PatternSet{}
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		p, err := compilePattern(r)
		if err != nil {
			return nil, err
		}
		ps.patterns = append(ps.patterns, p)
	}
	return ps, nil
}

func compilePattern(raw string) (pattern, error) {
	if strings.Contains(raw, "/") {
		_, ipnet, err := net.ParseCIDR(raw)
		if err != nil {
			return pattern{}, fmt.Errorf("allowlist: invalid CIDR pattern %q: %w", raw, err)
		}
		return pattern{kind: patternCIDR, net: ipnet}, nil
	}
	if ip := net.ParseIP(raw); ip != nil {
		return pattern{kind: patternIP, ip: ip}, nil
	}
	if base, ok := strings.CutPrefix(raw, "*."); ok {
		if base == "" {
			return pattern{}, fmt.Errorf("allowlist: invalid wildcard pattern %q", raw)
		}
		return pattern{kind: patternWildcard, host: strings.ToLower(base)}, nil
	}
	return pattern{kind: patternExact, host: strings.ToLower(raw)}, nil
}

// Len reports how many patterns are loaded.
func (ps *PatternSet) Len() int {
	return len(ps.patterns)
}

// Matches reports whether hostname is allowed by at least one pattern.
// An empty set matches nothing.
func (ps *PatternSet) Matches(hostname string) bool {
	host := strings.ToLower(strings.TrimSuffix(hostname, "."))
	hostIP := net.ParseIP(host)

	for _, p := range ps.patterns {
		switch p.kind {
		case patternExact:
			if host == p.host {
				return true
			}
		case patternWildcard:
			// *.base matches base itself and any subdomain, but never a
			// suffix lookalike such as evilexample.com for *.example.com.
			if host == p.host || strings.HasSuffix(host, "."+p.host) {
				return true
			}
		case patternIP:
			if hostIP != nil && hostIP.Equal(p.ip) {
				return true
			}
		case patternCIDR:
			if hostIP != nil && p.net.Contains(hostIP) {
				return true
			}
		}
	}
	return false
}
