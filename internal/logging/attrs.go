// Package logging builds the slog loggers used across street-inpaint and
// holds the shared field names.
package logging

import (
	"context"
	"log/slog"
)

// Field names shared by every component.
const (
	FieldComponent = "component"
	FieldLocation  = "location"
	FieldFile      = "file"
	FieldPrompt    = "prompt"
	FieldStage     = "stage"
	FieldRunID     = "run_id"
)

// Error returns the conventional error attribute.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

// NewNop returns a logger that discards everything.
func NewNop() *slog.Logger {
	return slog.New(noopHandler{})
}

// NewComponentLogger tags logger with a component name. A nil logger yields
// a no-op logger.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(slog.String(FieldComponent, component))
}

type noopHandler struct{}

func (noopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (noopHandler) Handle(context.Context, slog.Record) error { return nil }
func (h noopHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h noopHandler) WithGroup(string) slog.Handler           { return h }
