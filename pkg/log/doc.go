/*
Package log provides structured logging using zerolog.

The log package wraps the zerolog library behind one global logger,
configured once at process start via log.Init. Output is JSON for
machine consumption or a human console format for interactive use,
selected by config. All records carry a timestamp and filter by
severity level.

# Usage

Initialization (once, in main):

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogFormat == "json",
	})

Component loggers attach a stable field so records group by subsystem:

	logger := log.WithComponent("inventory")
	logger.Info().Str("container", name).Int("slots", n).Msg("container scanned")

Field helpers exist for the identifiers that recur across the
coordinator: WithAgentID, WithContainer, WithJobID, WithRequestID.

# Output

JSON format:

	{"level":"info","component":"inventory","container":"chest_12","time":"2026-01-07T10:30:00Z","message":"container scanned"}

Console format renders the same record with aligned fields for a
terminal.

Packages constructed with dependency injection take a zerolog.Logger
parameter instead of using the global; the global exists for main and
for code with no injection point.
*/
package log
