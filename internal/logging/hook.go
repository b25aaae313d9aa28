package logging

import (
	"context"

	"github.com/rs/zerolog"
)

// ContextHook extracts work_item_id and cycle_id from context and adds them to log events.
type ContextHook struct{}

// Run adds contextual fields to the zerolog event.
func (h ContextHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil || ctx == context.Background() {
		return
	}

	if id := GetWorkItemID(ctx); id != "" {
		e.Str("work_item_id", id)
	}

	if id := GetCycleID(ctx); id != "" {
		e.Str("cycle_id", id)
	}
}
