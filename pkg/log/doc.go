/*
Package log provides structured logging for the Model Steward using
zerolog.

A single global Logger is configured once via Init, then component and
job-specific child loggers are derived from it with WithComponent,
WithModelID, WithDigest, and WithCorrID, so every log line carries enough
context to trace one download's path through the catalog, admission
controller, and downloader without re-specifying fields at each call
site.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	log.Info("steward starting")

	jobLog := log.WithCorrID(corrID)
	jobLog.Info().Str("sha256", digest).Msg("download admitted")

	log.Logger.Error().Err(err).Str("model_id", id).Msg("preflight denied")

JSONOutput controls whether logs are newline-delimited JSON (production)
or zerolog's human-readable console writer (local development). Fatal
logs at fatal level and then calls os.Exit(1); use it only for conditions
the process cannot recover from.
*/
package log
