package logging

import (
	"context"

	"go.viam.com/utils"
)

type debugKeyType int

const debugKeyID = debugKeyType(iota)

// EnableDebugMode returns a context under which CDebugw logs regardless of the logger level, e.g.
// for a single segmentation request. The key tags the request; an empty key gets a random one.
func EnableDebugMode(ctx context.Context, key string) context.Context {
	if key == "" {
		key = utils.RandomAlphaString(6)
	}
	return context.WithValue(ctx, debugKeyID, key)
}

// IsDebugMode returns whether the context has debug logging enabled.
func IsDebugMode(ctx context.Context) bool {
	return DebugKey(ctx) != ""
}

// DebugKey returns the key given to EnableDebugMode, or "" when debug mode is off.
func DebugKey(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	key, _ := ctx.Value(debugKeyID).(string)
	return key
}
