// Package log is the structured logger of the worker executor.
//
// Every component receives a Logger at construction and narrows it with
// With, usually tagging the component and the worker:
//
//	l := log.NewLogger(log.WithFormatter(&log.TextFormatter{}))
//	l = l.With(log.Component("worker"), log.Str(log.WorkerIDKey, id.String()))
//	l.Warn("invocation failed", log.Uint64(log.OplogIndexKey, 12), log.Err(err))
//
// Entries are slog records. A Logger and the *slog.Logger returned by its
// Slog method share one sink: the level, redaction, sampling, formatter and
// outputs. RedirectStdLog installs it as the slog default so pebble and other
// libraries logging through the standard packages end up in the same stream.
//
// ApplyConfig builds a logger from the log section of the executor
// configuration. ToStdLogger and RedirectStdLog cover code that only knows
// the standard library logger.
package log
