package cache

import (
	"context"
	"strings"
	"time"
)

type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Key joins parts into a namespaced key, lower-casing and trimming each part
// so "Backend Engineer " and "backend engineer" share an entry.
func Key(parts ...string) string {
	out := make([]string, 0, len(parts)+1)
	out = append(out, "mockmate")
	for _, p := range parts {
		out = append(out, strings.ToLower(strings.Join(strings.Fields(p), " ")))
	}
	return strings.Join(out, ":")
}
