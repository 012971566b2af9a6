package events

import (
	"context"
	"log/slog"
)

// LogSink escreve eventos de segurança no logger estruturado.
// Decisões permitidas saem em Debug; negações em Warn; falhas internas em Error.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Record(ctx context.Context, ev Event) error {
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}

	attrs := []any{
		slog.String("event", "security"),
		slog.String("kind", string(ev.Kind)),
		slog.String("check", ev.Check),
		slog.String("ip", ev.IP),
		slog.String("method", ev.Method),
		slog.String("path", ev.Path),
		slog.String("request_id", ev.RequestID),
	}
	if ev.Reason != "" {
		attrs = append(attrs, slog.String("reason", ev.Reason))
	}
	if ev.Status != 0 {
		attrs = append(attrs, slog.Int("status", ev.Status))
	}

	switch ev.Kind {
	case KindFault:
		log.ErrorContext(ctx, "gateway internal fault", append(attrs, slog.String("severity", "critical"))...)
	case KindCollaborator:
		log.WarnContext(ctx, "gateway collaborator failure", attrs...)
	case KindDenial:
		log.WarnContext(ctx, "gateway denied request", attrs...)
	default:
		log.DebugContext(ctx, "gateway allowed request", attrs...)
	}
	return nil
}
