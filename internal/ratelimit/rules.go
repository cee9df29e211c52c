package ratelimit

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/Proton-105/hashpay/pkg/config"
)

// Rule is one parsed limit.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Rules holds the configured read and write limits and the whitelist.
type Rules struct {
	read      Rule
	write     Rule
	whitelist []netip.Prefix
}

// NewRules parses the configured rate limits. Whitelist entries may be plain
// addresses or CIDR ranges.
func NewRules(cfg config.RateLimitConfig) (*Rules, error) {
	read, err := parseRule(cfg.Read)
	if err != nil {
		return nil, fmt.Errorf("read rule: %w", err)
	}
	write, err := parseRule(cfg.Write)
	if err != nil {
		return nil, fmt.Errorf("write rule: %w", err)
	}

	r := &Rules{read: read, write: write}
	for _, entry := range cfg.Whitelist {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			r.whitelist = append(r.whitelist, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("whitelist entry %q: %w", entry, err)
		}
		r.whitelist = append(r.whitelist, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return r, nil
}

// IsWhitelisted reports whether ip bypasses rate limits.
func (r *Rules) IsWhitelisted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range r.whitelist {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ForMethod returns the rule class and limit that apply to an HTTP method.
// Safe methods use the read rule.
func (r *Rules) ForMethod(method string) (string, Rule) {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return "read", r.read
	default:
		return "write", r.write
	}
}

// MaxWindow is the longest configured window.
func (r *Rules) MaxWindow() time.Duration {
	if r.write.Window > r.read.Window {
		return r.write.Window
	}
	return r.read.Window
}

func parseRule(rule config.RateLimitRule) (Rule, error) {
	if rule.Limit <= 0 {
		return Rule{}, errors.New("limit must be positive")
	}
	if rule.Window == "" {
		return Rule{}, errors.New("window duration is not set")
	}
	window, err := time.ParseDuration(rule.Window)
	if err != nil {
		return Rule{}, err
	}
	if window <= 0 {
		return Rule{}, errors.New("window must be positive")
	}
	return Rule{Limit: rule.Limit, Window: window}, nil
}
