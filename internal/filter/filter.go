// Package filter implements the ordered allow/deny URL predicate used by discovery.
package filter

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
)

// Mode selects whether a rule keeps or rejects matching URLs.
type Mode string

// Rule modes.
const (
	ModeAllow Mode = "allow"
	ModeDeny  Mode = "deny"
)

// Target selects the URL part a rule inspects.
type Target string

// Rule targets.
const (
	TargetURL  Target = "url"
	TargetHost Target = "host"
)

// Rule is one pattern set with a mode. Patterns of a URL rule are globs when
// they contain a glob metacharacter, otherwise plain substrings. Patterns of a
// host rule are exact hosts or "*.suffix" wildcards.
type Rule struct {
	Mode     Mode     `mapstructure:"mode" yaml:"mode"`
	Target   Target   `mapstructure:"target" yaml:"target"`
	Patterns []string `mapstructure:"patterns" yaml:"patterns"`
}

type matcher interface {
	Match(s string) bool
}

type compiledRule struct {
	mode   Mode
	target Target
	match  matcher
}

// Chain is an ordered conjunction of rules. The zero value allows everything.
// A Chain is immutable after NewChain and safe for concurrent use.
type Chain struct {
	rules []compiledRule
}

// NewChain compiles rules in declared order.
func NewChain(rules []Rule) (*Chain, error) {
	chain := &Chain{rules: make([]compiledRule, 0, len(rules))}
	for i, rule := range rules {
		compiled, err := compile(rule)
		if err != nil {
			return nil, fmt.Errorf("filter rule %d: %w", i, err)
		}
		chain.rules = append(chain.rules, compiled)
	}
	return chain, nil
}

// Allows reports whether every rule accepts rawURL, stopping at the first
// rejection. An allow rule rejects URLs matching none of its patterns and a
// deny rule rejects URLs matching any of them.
func (c *Chain) Allows(rawURL string) bool {
	if c == nil {
		return true
	}
	for _, rule := range c.rules {
		subject := rawURL
		if rule.target == TargetHost {
			subject = crawler.Host(rawURL)
		}
		matched := rule.match.Match(subject)
		if rule.mode == ModeAllow && !matched {
			return false
		}
		if rule.mode == ModeDeny && matched {
			return false
		}
	}
	return true
}

// Len returns the number of compiled rules.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.rules)
}

func compile(rule Rule) (compiledRule, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(rule.Mode))))
	if mode == "" {
		mode = ModeAllow
	}
	if mode != ModeAllow && mode != ModeDeny {
		return compiledRule{}, fmt.Errorf("unknown mode %q", rule.Mode)
	}
	target := Target(strings.ToLower(strings.TrimSpace(string(rule.Target))))
	if target == "" {
		target = TargetURL
	}

	var m matcher
	switch target {
	case TargetURL:
		patterns, err := compileURLPatterns(rule.Patterns)
		if err != nil {
			return compiledRule{}, err
		}
		m = patterns
	case TargetHost:
		hosts := newHostPatterns(rule.Patterns)
		if hosts.empty() {
			return compiledRule{}, fmt.Errorf("no host patterns")
		}
		m = hosts
	default:
		return compiledRule{}, fmt.Errorf("unknown target %q", rule.Target)
	}
	return compiledRule{mode: mode, target: target, match: m}, nil
}

type urlPatterns struct {
	globs      []glob.Glob
	substrings []string
}

func compileURLPatterns(raw []string) (*urlPatterns, error) {
	p := &urlPatterns{}
	for _, pattern := range raw {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if !strings.ContainsAny(pattern, "*?[{") {
			p.substrings = append(p.substrings, pattern)
			continue
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
		}
		p.globs = append(p.globs, g)
	}
	if len(p.globs) == 0 && len(p.substrings) == 0 {
		return nil, fmt.Errorf("no url patterns")
	}
	return p, nil
}

func (p *urlPatterns) Match(s string) bool {
	for _, sub := range p.substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	for _, g := range p.globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}
