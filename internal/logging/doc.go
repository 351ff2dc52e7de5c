// Package logging constructs the engine's slog loggers and provides shared
// attribute helpers and field-name constants so log output stays uniform
// across components.
package logging
