package sync

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/lo"
)

// FilterMode selects how a PathFilter treats its prefixes.
type FilterMode string

const (
	// FilterBlacklist keeps every path except those under a listed prefix.
	FilterBlacklist FilterMode = "blacklist"
	// FilterWhitelist keeps only paths under a listed prefix.
	FilterWhitelist FilterMode = "whitelist"
)

// ParseFilterMode validates a mode name from configuration.
func ParseFilterMode(s string) (FilterMode, error) {
	switch m := FilterMode(strings.ToLower(strings.TrimSpace(s))); m {
	case FilterBlacklist, FilterWhitelist:
		return m, nil
	}
	return "", fmt.Errorf("invalid filter mode %q (must be blacklist or whitelist)", s)
}

// PathFilter decides which manifest paths are mirrored.
// A nil *PathFilter allows everything.
type PathFilter struct {
	mode     FilterMode
	prefixes []string
}

// NewPathFilter creates a filter. Empty prefixes are ignored and backslashes
// are normalized.
func NewPathFilter(mode FilterMode, prefixes []string) *PathFilter {
	f := &PathFilter{mode: mode}
	for _, p := range prefixes {
		p = normalizePath(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		f.prefixes = append(f.prefixes, p)
	}
	return f
}

// Allows reports whether path passes the filter.
func (f *PathFilter) Allows(path string) bool {
	if f == nil {
		return true
	}
	listed := false
	for _, p := range f.prefixes {
		if strings.HasPrefix(path, p) {
			listed = true
			break
		}
	}
	if f.mode == FilterWhitelist {
		return listed
	}
	return !listed
}

// Apply returns the rows that pass the filter.
func (f *PathFilter) Apply(rows []HashRow) []HashRow {
	if f == nil {
		return rows
	}
	kept := lo.Filter(rows, func(r HashRow, _ int) bool {
		return f.Allows(r.Path)
	})
	if logEnabled(slog.LevelDebug) {
		sub("filter").Debug("filter applied", "mode", f.mode, "in", len(rows), "kept", len(kept))
	}
	return kept
}
