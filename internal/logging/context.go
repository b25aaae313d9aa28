package logging

import "context"

type contextKey string

const (
	workItemIDKey contextKey = "work_item_id"
	cycleIDKey    contextKey = "cycle_id"
)

// WithWorkItemID adds a work item ID to the context.
func WithWorkItemID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workItemIDKey, id)
}

// WithCycleID adds a scheduler or sync cycle ID to the context.
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleIDKey, id)
}

// GetWorkItemID retrieves the work item ID from the context.
// Returns empty string if not present.
func GetWorkItemID(ctx context.Context) string {
	if id, ok := ctx.Value(workItemIDKey).(string); ok {
		return id
	}
	return ""
}

// GetCycleID retrieves the cycle ID from the context.
// Returns empty string if not present.
func GetCycleID(ctx context.Context) string {
	if id, ok := ctx.Value(cycleIDKey).(string); ok {
		return id
	}
	return ""
}
