package audit

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LoggerSink writes audit entries as structured JSON log lines. It is
// the default sink when no durable store is configured.
type LoggerSink struct {
	logger zerolog.Logger
}

func NewLoggerSink() *LoggerSink {
	return &LoggerSink{logger: log.Output(os.Stdout).With().Logger()}
}

func (s *LoggerSink) Append(_ context.Context, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		// Fall back to field-by-field logging when marshaling fails.
		s.logger.Error().
			Str("actor", entry.Actor).
			Str("action", entry.Action).
			Str("uid", entry.UID).
			Bool("success", entry.Success).
			Err(err).
			Msg("audit entry (fallback)")
		return err
	}
	s.logger.Log().RawJSON("audit_event", raw).Msg("")
	return nil
}

var _ Sink = (*LoggerSink)(nil)
