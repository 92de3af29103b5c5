package types

import "strings"

// NormalizeName lowercases an entity name and collapses all runs of
// whitespace to single spaces. Two names with the same normalized form are
// treated as the same entity during ingestion.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
