// Package logging builds the application's slog logger from configuration.
// Console output goes to stdout or stderr; any other output is treated as a
// file path and rotated with lumberjack.
package logging
