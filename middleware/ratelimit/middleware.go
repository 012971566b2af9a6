package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"security-gateway/middleware/ratelimit/application"
	"security-gateway/middleware/ratelimit/domain"
)

type KeyFunc func(r *http.Request) string

type Options struct {
	Service            application.Service
	KeyFn              KeyFunc
	KeyHeader          string
	TrustXForwardedFor bool
	Logger             *slog.Logger
}

func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}
		return ClientIP(r, trustXFF)
	}
}

// ClientIP resolve o IP do cliente.
// Com trustXFF, usa o primeiro IP do X-Forwarded-For (cliente original).
func ClientIP(r *http.Request, trustXFF bool) string {
	if trustXFF {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	// fallback: RemoteAddr
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// StatusFor traduz o motivo da negação para o status HTTP.
func StatusFor(reason domain.Reason) int {
	if reason == domain.ReasonBlocked {
		return http.StatusForbidden
	}
	return http.StatusTooManyRequests
}

// WriteHeaders escreve X-RateLimit-* (e Retry-After quando negado).
// Decisões da allow-list não carregam contadores e não geram headers.
func WriteHeaders(h http.Header, dec domain.Decision) {
	if dec.Bypass {
		return
	}
	h.Set("X-RateLimit-Limit", formatInt(dec.Limit))
	h.Set("X-RateLimit-Remaining", formatInt(dec.Remaining))
	if !dec.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", formatUnix(dec.ResetAt))
	}
	if !dec.Allowed {
		h.Set("Retry-After", formatInt(retryAfterSeconds(dec.RetryAfter)))
	}
}

// WriteDenied responde a negação com corpo JSON legível por máquina.
func WriteDenied(w http.ResponseWriter, dec domain.Decision) {
	status := StatusFor(dec.Reason)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":  http.StatusText(status),
		"reason": string(dec.Reason),
	})
}

// Middleware aplica apenas o rate limit (sem o orquestrador completo).
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	svc := opts.Service

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := application.Request{
				IP:        opts.KeyFn(r),
				Path:      r.URL.Path,
				UserAgent: r.UserAgent(),
			}

			dec, err := svc.Check(r.Context(), req)
			if err != nil {
				// store indisponível: segue sem limitar
				opts.Logger.ErrorContext(r.Context(), "rate limit check failed", "error", err, "ip", req.IP)
				next.ServeHTTP(w, r)
				return
			}
			defer dec.Release()

			WriteHeaders(w.Header(), dec)
			if !dec.Allowed {
				WriteDenied(w, dec)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
