package app

import (
	"tasktimer/internal/eventbus"
	"tasktimer/internal/store"
	logx "tasktimer/pkg/logx"
)

// logEvent writes one bus event with its task payload.
func logEvent(log logx.Logger, e eventbus.Event) {
	fields := []logx.Field{logx.String("type", e.Type), logx.Time("time", e.Time)}
	if d, ok := e.Data.(eventbus.TaskData); ok {
		if !d.When.IsZero() {
			fields = append(fields, logx.String("at", store.FormatTime(d.When)))
		}
		if d.Description != "" {
			fields = append(fields, logx.String("task", d.Description))
		}
		if d.RecurringID != "" {
			fields = append(fields, logx.String("recurring_id", d.RecurringID))
		}
		fields = append(fields, logx.Err(d.Err))
	}
	log.Debug("event", fields...)
}
