// Package log provides the structured logging surface used across flume.
//
// It is a thin facade over log/slog: components receive a Logger, attach
// fields with With, and emit leveled records. The default logger writes
// human-readable text to stderr; NewNop discards everything and is what
// library consumers get when they do not supply their own.
//
//	logger := log.NewLogger(log.WithLevel(log.DebugLevel))
//	logger = logger.With(log.Component("flusher"))
//	logger.Info("flush complete", log.Int64("until", until))
package log
