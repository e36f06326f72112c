package fortilog

import "strings"

// Action label sets used for allow/block classification. Matching is
// case-insensitive; labels outside both sets count toward totals only.
var (
	allowActions = map[string]struct{}{
		"accept":      {},
		"allow":       {},
		"pass":        {},
		"passthrough": {},
	}
	blockActions = map[string]struct{}{
		"deny":    {},
		"denied":  {},
		"blocked": {},
		"drop":    {},
		"block":   {},
	}
)

// IsAllow reports whether the action label is allow-like.
func IsAllow(action string) bool {
	_, ok := allowActions[strings.ToLower(action)]
	return ok
}

// IsBlock reports whether the action label is block-like.
func IsBlock(action string) bool {
	_, ok := blockActions[strings.ToLower(action)]
	return ok
}
