package sqlrepo

import (
	"context"
	"fmt"

	"github.com/jensholdgaard/discord-scrim-bot/internal/store"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store/engine"
)

// LogRepo implements store.LogRepository over the logs table.
type LogRepo struct{ base }

func (r *LogRepo) Write(ctx context.Context, e *store.LogEntry) error {
	e.Timestamp = orNow(e.Timestamp, r.now)
	values := engine.Values{
		"timestamp":   e.Timestamp,
		"level":       e.Level,
		"logger_name": e.LoggerName,
		"message":     e.Message,
		"module":      nullString(e.Module),
		"function":    nullString(e.Function),
		"line_number": nil,
	}
	if e.LineNumber != nil {
		values["line_number"] = *e.LineNumber
	}

	id, err := r.eng.Insert(ctx, engine.LogTable, values)
	if err != nil {
		return fmt.Errorf("writing log entry: %w", err)
	}
	if id != 0 {
		e.ID = id
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (r *LogRepo) Recent(ctx context.Context, limit int) ([]store.LogEntry, error) {
	entries, err := list[store.LogEntry](ctx, r.eng, engine.LogTable, engine.Query{
		OrderBy: "log_id DESC",
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("reading log entries: %w", err)
	}
	for i := range entries {
		entries[i].Module = optString(entries[i].Module)
		entries[i].Function = optString(entries[i].Function)
	}
	return entries, nil
}
