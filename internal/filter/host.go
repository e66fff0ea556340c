package filter

import "strings"

// hostPatterns stores exact hosts and suffix wildcards.
type hostPatterns struct {
	exact    map[string]struct{}
	suffixes []string
}

func newHostPatterns(patterns []string) *hostPatterns {
	matcher := &hostPatterns{
		exact: make(map[string]struct{}),
	}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "*."):
			matcher.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			matcher.addSuffix(strings.TrimPrefix(value, "."))
		default:
			matcher.exact[value] = struct{}{}
		}
	}
	return matcher
}

func (h *hostPatterns) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range h.suffixes {
		if existing == suffix {
			return
		}
	}
	h.suffixes = append(h.suffixes, suffix)
}

func (h *hostPatterns) empty() bool {
	return len(h.exact) == 0 && len(h.suffixes) == 0
}

// Match reports whether host equals an exact entry or falls under a suffix.
func (h *hostPatterns) Match(host string) bool {
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, ok := h.exact[host]; ok {
		return true
	}
	for _, suffix := range h.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
