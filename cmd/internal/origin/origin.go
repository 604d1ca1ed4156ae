// Package origin matches browser Origin headers against an allowlist.
//
// Allowlist entries are "*", an exact origin ("https://app.example.com"), or an
// origin with a wildcard port ("http://localhost:*"). Matching is case-insensitive
// and ignores a trailing slash.
package origin

import (
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// Policy is an immutable origin allowlist.
type Policy struct {
	any      bool
	exact    map[string]struct{}
	wildPort []string // "scheme://host:" prefixes from "scheme://host:*"
}

// NewPolicy builds a Policy from allowlist entries; blank entries are skipped.
func NewPolicy(allowed []string) Policy {
	p := Policy{exact: map[string]struct{}{}}
	for _, raw := range allowed {
		o := normalize(raw)
		switch {
		case o == "":
		case o == "*":
			p.any = true
		case strings.HasSuffix(o, ":*"):
			p.wildPort = append(p.wildPort, strings.TrimSuffix(o, "*"))
		default:
			p.exact[o] = struct{}{}
		}
	}
	return p
}

// Any reports whether the allowlist contains "*".
func (p Policy) Any() bool { return p.any }

// Empty reports whether the allowlist has no usable entries.
func (p Policy) Empty() bool {
	return !p.any && len(p.exact) == 0 && len(p.wildPort) == 0
}

// Allows reports whether origin is on the allowlist.
func (p Policy) Allows(origin string) bool {
	if p.any {
		return true
	}
	o := normalize(origin)
	if _, ok := p.exact[o]; ok {
		return true
	}
	for _, prefix := range p.wildPort {
		port, ok := strings.CutPrefix(o, prefix)
		if ok && isPort(port) {
			return true
		}
	}
	return false
}

// HostPatterns renders the allowlist as host[:port] glob patterns, the form
// github.com/coder/websocket's AcceptOptions.OriginPatterns expects.
func (p Policy) HostPatterns() []string {
	if p.any {
		return []string{"*"}
	}

	seen := make(map[string]struct{}, len(p.exact)+len(p.wildPort))
	for o := range p.exact {
		if h := hostOf(o); h != "" {
			seen[h] = struct{}{}
		}
	}
	for _, prefix := range p.wildPort {
		if h := hostOf(prefix + "1"); h != "" {
			if i := strings.LastIndexByte(h, ':'); i > 0 {
				seen[h[:i]+":*"] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

func hostOf(o string) string {
	u, err := url.Parse(o)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Host
}

func normalize(s string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "/")
}

func isPort(s string) bool {
	if s == "" || len(s) > 5 {
		return false
	}
	n, err := strconv.Atoi(s)
	return err == nil && n > 0 && n <= 65535
}
