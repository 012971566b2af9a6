package csrf

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// WriteFailure responde 403 com o motivo legível por máquina.
func WriteFailure(w http.ResponseWriter, res Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":  "csrf validation failed",
		"reason": string(res.Reason),
	})
}

// Middleware valida requisições que alteram estado e, em requisições seguras
// sem cookie CSRF, emite um token novo. Falha ao emitir não bloqueia a
// requisição; fica no log.
func Middleware(s *Service, logger *slog.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	issue := func(w http.ResponseWriter, r *http.Request, withHeader bool) {
		iss, err := s.Issue(r)
		if err != nil {
			logger.ErrorContext(r.Context(), "csrf issue failed", "error", err, "path", r.URL.Path)
			return
		}
		http.SetCookie(w, iss.Cookie)
		if withHeader {
			w.Header().Set(s.HeaderName(), iss.Token)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.Required(r) {
				res := s.Validate(r)
				if !res.Valid {
					WriteFailure(w, res)
					return
				}
				if res.Rotated {
					issue(w, r, true)
				}
			} else if !StateChanging(r.Method) {
				if _, err := r.Cookie(s.CookieName()); err != nil {
					issue(w, r, false)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
