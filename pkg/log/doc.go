/*
Package log provides structured logging via zerolog: a global logger
configured once at startup, component-scoped child loggers, and a
handful of context helpers (WithEntryID, WithUUID, WithCid) for the
fields warden's write path tags almost every log line with.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	backendLog := log.WithComponent("backend")
	backendLog.Info().Uint64("entry_id", id).Msg("entry committed")

	log.WithCid(cid.String()).Warn().Msg("plugin pipeline aborted write")

Level filtering, JSON vs console output, and Fatal's os.Exit(1) behavior
all match zerolog's own semantics directly; this package only adds the
Init/Config wrapper and the component/field helpers above it.
*/
package log
