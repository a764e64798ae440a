package evidence

import (
	"bytes"

	"github.com/rs/zerolog"
	"github.com/vivekkundariya/envctl/internal/application/ports"
)

// ExecutionLogLines renders an execution log as JSON lines: one line per
// step, then one per host result.
func ExecutionLogLines(runID string, log *ports.ExecutionLog) []byte {
	var buf bytes.Buffer
	if log == nil {
		return buf.Bytes()
	}

	logger := zerolog.New(&buf).With().
		Str("run_id", runID).
		Str("operation", log.Operation).
		Str("provider", log.Provider).
		Str("scope", log.Scope).
		Logger()

	for _, s := range log.Steps {
		ev := logger.Info()
		if s.Status == ports.StepFailed {
			ev = logger.Error()
		}
		ev = ev.Time("at", s.At).Str("step", s.Name).Str("status", string(s.Status))
		if s.Host != "" {
			ev = ev.Str("host", s.Host)
		}
		if s.Detail != "" {
			ev = ev.Str("detail", s.Detail)
		}
		ev.Send()
	}

	for _, h := range log.Hosts {
		ev := logger.Info()
		if h.Status == ports.StepFailed {
			ev = logger.Error()
		}
		ev = ev.Str("host", h.Host).Str("status", string(h.Status)).Dur("duration", h.Duration)
		if h.Kind != "" {
			ev = ev.Str("kind", h.Kind)
		}
		if h.Error != "" {
			ev = ev.Str("error", h.Error)
		}
		ev.Msg("host result")
	}

	logger.Info().Strs("keys", log.Keys).Bool("failed", log.Failed()).Msg("done")
	return buf.Bytes()
}
