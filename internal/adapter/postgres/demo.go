package postgres

import (
	"time"

	"github.com/r3e-network/reactive-streams/internal/reactive"
	"github.com/r3e-network/reactive-streams/pkg/logger"
)

// externalEventsQuery selects rows from reactive_streams_external_events
// newer than the watermark, ordered so the last row seen is always the
// furthest along updated_at.
var externalEventsQuery = Query{
	SQL:          `SELECT event_key, event_value, updated_at FROM reactive_streams_external_events WHERE updated_at > $1 ORDER BY updated_at ASC`,
	WatermarkCol: "updated_at",
}

// mapExternalEvent adapts one reactive_streams_external_events row into a
// (key, value) pair for a string-keyed, string-valued base collection.
func mapExternalEvent(row map[string]any) (string, string, bool, error) {
	key, _ := row["event_key"].(string)
	value, _ := row["event_value"].(string)
	if key == "" {
		return "", "", false, nil
	}
	return key, value, true, nil
}

// NewExternalEventsAdapter wires the reactive_streams_external_events table
// (spec §6 external data adapter contract) into target, feeding it via
// Set on every poll. This is the adapter's reference wiring: a deployment
// with its own source table builds an equivalent Query/RowMapper pair and
// calls New directly instead.
func NewExternalEventsAdapter(dsn, channel string, schedule time.Duration, target *reactive.Collection[string, string], log *logger.Logger) (*Adapter[string, string], error) {
	cronExpr := "@every 5s"
	if schedule > 0 {
		cronExpr = "@every " + schedule.String()
	}
	return New(Config{
		Name:     "external_events",
		DSN:      dsn,
		Channel:  channel,
		Schedule: cronExpr,
		Logger:   log,
	}, externalEventsQuery, target, mapExternalEvent)
}
