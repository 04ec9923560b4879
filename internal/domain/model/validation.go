package model

import (
	"sort"
	"strings"
)

// ValidationError maps snake_case field names to human-readable messages.
type ValidationError map[string]string

// Error implements the error interface with a stable, sorted rendering.
func (v ValidationError) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}

	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+v[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
