package cache

import (
	"fmt"
	"strings"
)

const (
	historyKey  = "analyses"
	jobPrefix   = "analysis:"
	scopePrefix = "s:"
)

// HistoryKey is the aggregate key holding every job known to one session
// scope. The empty scope belongs to the process's own token.
func HistoryKey(scope string) string {
	return scoped(scope, historyKey)
}

func JobKey(scope, id string) string {
	return scoped(scope, jobPrefix+id)
}

func RateLimitKey(fingerprint string) string {
	return fmt.Sprintf("ratelimit:%s", fingerprint)
}

func scoped(scope, key string) string {
	if scope == "" {
		return key
	}
	return scopePrefix + scope + ":" + key
}

// kind is the low-cardinality metrics label for key.
func kind(key string) string {
	if rest, ok := strings.CutPrefix(key, scopePrefix); ok {
		if _, after, found := strings.Cut(rest, ":"); found {
			key = after
		}
	}
	switch {
	case key == historyKey:
		return "history"
	case strings.HasPrefix(key, jobPrefix):
		return "job"
	default:
		return "other"
	}
}
