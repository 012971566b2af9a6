// Package admin expõe a API de operação do gateway num listener separado:
// revisão da quarentena, block/allow lists, estatísticas, /metrics e /healthz.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"security-gateway/middleware/csrf"
	"security-gateway/middleware/events"
	"security-gateway/middleware/ratelimit/infra"
)

type SuspiciousList interface {
	List() []infra.SuspiciousEntry
	Remove(ip string) bool
}

type IPList interface {
	Add(entry string) error
	Remove(entry string) bool
	List() []string
}

type StatsSource interface {
	Snapshot() events.Snapshot
}

type CSRFStatus interface {
	Status() csrf.Status
}

// HealthCheck reporta a saúde de uma dependência (Redis, Postgres).
type HealthCheck func(ctx context.Context) error

type Options struct {
	// Token é o bearer exigido em /admin/*. Vazio desliga a autenticação
	// (apenas em desenvolvimento, com o listener em loopback).
	Token string

	Suspicious SuspiciousList
	BlockList  IPList
	AllowList  IPList
	Stats      StatsSource
	CSRF       CSRFStatus
	Metrics    http.Handler
	Health     map[string]HealthCheck
	Logger     *slog.Logger
}

type server struct {
	opts Options
	log  *slog.Logger
}

func NewRouter(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &server{opts: opts, log: opts.Logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireToken)

		r.Get("/suspicious", s.listSuspicious)
		r.Delete("/suspicious/{ip}", s.unblockSuspicious)

		r.Get("/blocklist", s.listIPs(opts.BlockList))
		r.Put("/blocklist/*", s.addIP("blocklist", opts.BlockList))
		r.Delete("/blocklist/*", s.removeIP("blocklist", opts.BlockList))

		r.Get("/allowlist", s.listIPs(opts.AllowList))
		r.Put("/allowlist/*", s.addIP("allowlist", opts.AllowList))
		r.Delete("/allowlist/*", s.removeIP("allowlist", opts.AllowList))

		r.Get("/stats", s.stats)
		r.Get("/csrf", s.csrfStatus)
	})
	return r
}

func (s *server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.Token)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) healthz(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := map[string]string{}
	for name, check := range s.opts.Health {
		if err := check(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": checks})
}

func (s *server) listSuspicious(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Suspicious == nil {
		writeJSON(w, http.StatusOK, []infra.SuspiciousEntry{})
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Suspicious.List())
}

func (s *server) unblockSuspicious(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if s.opts.Suspicious == nil || !s.opts.Suspicious.Remove(ip) {
		writeError(w, http.StatusNotFound, "ip not in suspicious set")
		return
	}
	s.log.InfoContext(r.Context(), "suspicious ip released", "event", "admin", "ip", ip)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) listIPs(list IPList) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if list == nil {
			writeJSON(w, http.StatusOK, []string{})
			return
		}
		writeJSON(w, http.StatusOK, list.List())
	}
}

// O curinga aceita CIDR ("10.0.0.0/8") além de IP simples.
func (s *server) addIP(name string, list IPList) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry := chi.URLParam(r, "*")
		if list == nil {
			writeError(w, http.StatusNotImplemented, name+" not configured")
			return
		}
		if err := list.Add(entry); err != nil {
			if errors.Is(err, infra.ErrInvalidIP) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.log.InfoContext(r.Context(), "ip list updated", "event", "admin", "list", name, "op", "add", "entry", entry)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *server) removeIP(name string, list IPList) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry := chi.URLParam(r, "*")
		if list == nil || !list.Remove(entry) {
			writeError(w, http.StatusNotFound, "entry not found")
			return
		}
		s.log.InfoContext(r.Context(), "ip list updated", "event", "admin", "list", name, "op", "remove", "entry", entry)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *server) stats(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Stats == nil {
		writeError(w, http.StatusNotImplemented, "stats not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Stats.Snapshot())
}

func (s *server) csrfStatus(w http.ResponseWriter, _ *http.Request) {
	if s.opts.CSRF == nil {
		writeError(w, http.StatusNotImplemented, "csrf not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.opts.CSRF.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
