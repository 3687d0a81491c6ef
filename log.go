package coso

import (
	"errors"
	"log/slog"

	"github.com/quasilyte/coso/cosofile"
)

// LogEvents returns a stream event handler that logs the events.
//
// Song data problems are logged as warnings, the rest is
// logged with a debug level. EventSync is not logged.
func LogEvents(logger *slog.Logger) func(e StreamEvent) {
	return func(e StreamEvent) {
		switch e.Kind {
		case EventBadReference:
			op, id := e.BadReferenceData()
			logger.Warn("voice silenced",
				slog.Int("voice", e.Voice),
				slog.Int("tick", e.Tick),
				slog.String("op", op.String()),
				slog.Int("id", id),
				slog.Any("err", e.Err()))
		case EventStall:
			logger.Warn("voice tick cut short",
				slog.Int("voice", e.Voice),
				slog.Int("tick", e.Tick))
		case EventVoiceStopped:
			logger.Debug("voice stopped",
				slog.Int("voice", e.Voice),
				slog.Int("tick", e.Tick))
		case EventSongEnd:
			logger.Debug("song end",
				slog.Int("tick", e.Tick),
				slog.Float64("seconds", e.Time))
		}
	}
}

// LogParseError logs the song loading failure with its details.
func LogParseError(logger *slog.Logger, err error) {
	var parseErr *cosofile.ParseError
	if !errors.As(err, &parseErr) {
		logger.Error("load song", slog.Any("err", err))
		return
	}
	logger.Error("load song",
		slog.String("kind", parseErr.Kind.Error()),
		slog.Int("offset", parseErr.Offset),
		slog.String("details", parseErr.Message))
}
