// Package strings provides string list helpers for configuration parsing.
package strings

import (
	"strings"
)

// SplitList splits raw on sep and returns the trimmed, non-empty, distinct
// elements in their original order. An empty raw yields nil.
//
//	SplitList(" a:9092, b:9092,,a:9092", ",") // []string{"a:9092", "b:9092"}
func SplitList(raw, sep string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return DedupeAndTrim(strings.Split(raw, sep))
}

// DedupeAndTrim removes duplicates and empty strings from values, trimming
// whitespace from each element. Order is preserved.
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
