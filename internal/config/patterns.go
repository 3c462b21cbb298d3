package config

import (
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

// PatternSet is a compiled list of case-insensitive regular expressions.
type PatternSet struct {
	patterns []*regexp.Regexp
}

var (
	trackerPatterns atomic.Pointer[PatternSet]
	cookiePatterns  atomic.Pointer[PatternSet]
)

func init() {
	trackerPatterns.Store(&PatternSet{})
	cookiePatterns.Store(&PatternSet{})
}

// NewPatternSet compiles raw. Blank and invalid entries are logged and
// skipped so one bad line in settings.json does not disable the rest.
func NewPatternSet(raw []string) *PatternSet {
	set := &PatternSet{patterns: make([]*regexp.Regexp, 0, len(raw))}
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		re, err := regexp.Compile("(?i)" + entry)
		if err != nil {
			log.Warn("Skipping invalid pattern", "pattern", entry, "error", err)
			continue
		}
		set.patterns = append(set.patterns, re)
	}
	return set
}

func (s *PatternSet) Match(value string) bool {
	if s == nil || value == "" {
		return false
	}
	for _, re := range s.patterns {
		if re.MatchString(value) {
			return true
		}
	}
	return false
}

func (s *PatternSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.patterns)
}

// TrackerPatterns matches subjects that are known trackers by name alone.
func TrackerPatterns() *PatternSet {
	return trackerPatterns.Load()
}

// CookiePatterns matches cookie names used for cross-site tracking.
func CookiePatterns() *PatternSet {
	return cookiePatterns.Load()
}

func updatePatterns(cfg Config) {
	trackerPatterns.Store(NewPatternSet(cfg.TrackerPatterns))
	cookiePatterns.Store(NewPatternSet(cfg.CookiePatterns))
}
