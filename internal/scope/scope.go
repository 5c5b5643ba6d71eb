// Package scope enforces engagement target scope.
//
// Every tool call is checked against the session's declared scope before
// dispatch. Scope entries may be hostnames, *.wildcards, IP addresses, or
// CIDR ranges. An empty scope allows all targets.
package scope

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"
)

// Checker validates targets against a fixed scope list.
type Checker struct {
	entries []string
}

// NewChecker creates a checker for the given scope entries.
func NewChecker(entries []string) *Checker {
	return &Checker{entries: entries}
}

// Allows reports whether target falls inside the scope.
//
// Matching rules, in order:
//   - exact host match
//   - "*.example.com" matches example.com and any subdomain
//   - "example.com" matches any subdomain of example.com
//   - CIDR or single-IP entries match IP targets
func (c *Checker) Allows(target string) bool {
	if len(c.entries) == 0 {
		return true
	}

	target = normalizeHost(target)
	for _, raw := range c.entries {
		entry := normalizeHost(raw)

		if target == entry {
			return true
		}
		if base, ok := strings.CutPrefix(entry, "*."); ok {
			if target == base || strings.HasSuffix(target, "."+base) {
				return true
			}
		}
		if strings.HasSuffix(target, "."+entry) {
			return true
		}
		if network, err := netip.ParsePrefix(entry); err == nil {
			if addr, err := netip.ParseAddr(target); err == nil && network.Contains(addr) {
				return true
			}
			continue
		}
		if entryAddr, err := netip.ParseAddr(entry); err == nil {
			if addr, err := netip.ParseAddr(target); err == nil && addr == entryAddr {
				return true
			}
		}
	}
	return false
}

// Violation builds the tool-result text returned for an out-of-scope target.
func (c *Checker) Violation(target string) string {
	scopeStr := "none defined"
	if len(c.entries) > 0 {
		scopeStr = strings.Join(c.entries, ", ")
	}
	return fmt.Sprintf("[SCOPE VIOLATION] Target %q is outside the defined engagement scope.\n"+
		"Allowed scope: %s\n"+
		"Tool execution was blocked. Only test targets within the defined scope.", target, scopeStr)
}

// normalizeHost lowercases, strips scheme and path, and trims slashes.
func normalizeHost(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, "/")
	for _, scheme := range []string{"https://", "http://"} {
		if rest, ok := strings.CutPrefix(s, scheme); ok {
			s = rest
			break
		}
	}
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return s
}

var (
	ipPattern     = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}(?:/\d{1,2})?\b`)
	domainPattern = regexp.MustCompile(`\b(?:[a-z0-9](?:[a-z0-9\-]{0,61}[a-z0-9])?\.)+[a-z]{2,}\b`)
)

// targetParamKeys are the tool parameter names inspected for a target,
// in priority order.
var targetParamKeys = []string{"target", "host", "domain", "url", "ip", "hosts", "u"}

// ExtractTarget pulls the primary target out of a tool call's input for
// scope checking. Returns "" when no target-like value is found.
func ExtractTarget(toolName string, input map[string]any) string {
	switch toolName {
	case "execute_tool":
		params, _ := input["parameters"].(map[string]any)
		for _, key := range targetParamKeys {
			if v, ok := params[key]; ok {
				return fmt.Sprintf("%v", v)
			}
		}
	case "execute_bash":
		command, _ := input["command"].(string)
		if ip := ipPattern.FindString(command); ip != "" {
			return ip
		}
		if domain := domainPattern.FindString(strings.ToLower(command)); domain != "" {
			return domain
		}
	}
	return ""
}
