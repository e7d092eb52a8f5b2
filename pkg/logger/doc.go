// Package logger builds the process-wide slog logger: text output for local
// development, JSON in prod, filtered by the configured level.
package logger
