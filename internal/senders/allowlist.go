// Package senders restricts which correspondents the assistant answers.
// Patterns are address globs: "*" matches any run of characters except "@",
// so "*@corp.example" admits a domain and "ada@*" admits one local part.
package senders

import (
	"fmt"
	"strings"
)

// Allowlist matches inbound addresses against a fixed pattern set. A nil
// or empty allowlist admits everyone.
type Allowlist struct {
	patterns []string
}

// New validates and compiles the patterns. Addresses and patterns compare
// case-insensitively, as mail addresses do in practice.
func New(patterns []string) (*Allowlist, error) {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if strings.Count(p, "@") != 1 {
			return nil, fmt.Errorf("sender pattern %q must contain exactly one @", p)
		}
		out = append(out, p)
	}
	return &Allowlist{patterns: out}, nil
}

// Match reports whether addr is admitted. An empty pattern set admits all.
func (a *Allowlist) Match(addr string) bool {
	if a == nil || len(a.patterns) == 0 {
		return true
	}
	addr = strings.ToLower(strings.TrimSpace(addr))
	local, domain, ok := strings.Cut(addr, "@")
	if !ok {
		return false
	}
	for _, p := range a.patterns {
		plocal, pdomain, _ := strings.Cut(p, "@")
		if matchPart(plocal, local) && matchPart(pdomain, domain) {
			return true
		}
	}
	return false
}

// matchPart matches one address part against a pattern part, where "*"
// matches any substring within the part.
func matchPart(pattern, s string) bool {
	segments := strings.Split(pattern, "*")
	if len(segments) == 1 {
		return pattern == s
	}
	if !strings.HasPrefix(s, segments[0]) {
		return false
	}
	s = s[len(segments[0]):]
	for _, seg := range segments[1 : len(segments)-1] {
		idx := strings.Index(s, seg)
		if idx < 0 {
			return false
		}
		s = s[idx+len(seg):]
	}
	return strings.HasSuffix(s, segments[len(segments)-1])
}
