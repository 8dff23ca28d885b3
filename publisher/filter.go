package publisher

import (
	"fmt"

	"github.com/gobwas/glob"
)

// GlobFilter selects events by key pattern and origin. Empty lists match
// everything.
type GlobFilter struct {
	keyGlobs []glob.Glob
	origins  map[string]struct{}
}

// NewGlobFilter compiles key patterns such as "user:*" or "session:{eu,us}:*"
func NewGlobFilter(keyPatterns, origins []string) (*GlobFilter, error) {
	filter := &GlobFilter{
		keyGlobs: make([]glob.Glob, 0, len(keyPatterns)),
		origins:  make(map[string]struct{}, len(origins)),
	}

	for _, pattern := range keyPatterns {
		g, err := glob.Compile(pattern, ':')
		if err != nil {
			return nil, fmt.Errorf("invalid key pattern %q: %w", pattern, err)
		}
		filter.keyGlobs = append(filter.keyGlobs, g)
	}
	for _, o := range origins {
		filter.origins[o] = struct{}{}
	}

	return filter, nil
}

// Match reports whether an event with the given origin and key is published
func (f *GlobFilter) Match(origin, key string) bool {
	if len(f.origins) > 0 {
		if _, ok := f.origins[origin]; !ok {
			return false
		}
	}

	if len(f.keyGlobs) == 0 {
		return true
	}
	for _, g := range f.keyGlobs {
		if g.Match(key) {
			return true
		}
	}
	return false
}

// Origins returns the configured origins, nil when unrestricted
func (f *GlobFilter) Origins() []string {
	if len(f.origins) == 0 {
		return nil
	}
	out := make([]string, 0, len(f.origins))
	for o := range f.origins {
		out = append(out, o)
	}
	return out
}
