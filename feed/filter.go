package feed

import (
	"fmt"

	"github.com/gobwas/glob"
)

// Filter determines whether a change event should enter a batch.
type Filter interface {
	// Match returns true if the schema and table should be processed
	Match(schema, table string) bool
}

// GlobFilter filters change events using glob patterns on table names.
// Empty patterns match everything.
type GlobFilter struct {
	tableGlobs []glob.Glob
}

// NewGlobFilter compiles the given table patterns.
func NewGlobFilter(tablePatterns []string) (*GlobFilter, error) {
	filter := &GlobFilter{
		tableGlobs: make([]glob.Glob, 0, len(tablePatterns)),
	}

	for _, pattern := range tablePatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid table pattern %q: %w", pattern, err)
		}
		filter.tableGlobs = append(filter.tableGlobs, g)
	}

	return filter, nil
}

// Match returns true if the table matches the configured patterns.
// If no patterns are configured, all events match.
func (f *GlobFilter) Match(_, table string) bool {
	if len(f.tableGlobs) == 0 {
		return true
	}
	for _, g := range f.tableGlobs {
		if g.Match(table) {
			return true
		}
	}
	return false
}
