// Package events define o contrato de eventos de segurança do gateway e as
// implementações de destino: memória, Redis, Prometheus e slog.
package events
