package models

import "strings"

// SanitizeKeySegment escapes delimiter characters in rate limit key segments
// to prevent key collision attacks where user-controlled identifiers
// containing ':' could manipulate adjacent rate limit buckets.
//
// Example: an identifier "user:admin" becomes "user_admin", preventing it
// from being interpreted as a separate key segment.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// CompositeKey builds the per-key state key for a (scope, identifier) pair.
// All strategy engines and the cache-clear path share this format.
func CompositeKey(scope Scope, identifier string) string {
	return string(scope) + ":" + SanitizeKeySegment(identifier)
}

// ScopeKeyPrefix returns the key prefix covering every identifier in a scope.
func ScopeKeyPrefix(scope Scope) string {
	return string(scope) + ":"
}
