package main

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"security-gateway/internal/logging"
	"security-gateway/middleware/csrf"
	"security-gateway/middleware/events"
	"security-gateway/middleware/gateway"
	"security-gateway/middleware/headers"
	"security-gateway/middleware/ratelimit/application"
	"security-gateway/middleware/ratelimit/infra"
	"security-gateway/middleware/redirect"
)

// Exemplo: orquestrador embutido no próprio webserver (sem proxy), com
// colaboradores estáticos. Cookies de sessão "author", "reader" e "both".
var demoSessions = map[string]*gateway.Session{
	"author": {UserID: "1", AccountType: redirect.AccountAuthor},
	"reader": {UserID: "2", AccountType: redirect.AccountReader},
	"both":   {UserID: "3", AccountType: redirect.AccountBoth},
}

var page = template.Must(template.New("page").Parse(`<!doctype html>
<html><body>
<h1>{{.Title}}</h1>
<script nonce="{{.Nonce}}">console.log("nonce ok")</script>
</body></html>
`))

func main() {
	logger := logging.New(os.Getenv("LOG_LEVEL"), "text", os.Stderr)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store := infra.NewWindowStore()
	store.StartJanitor(ctx)

	csrfSvc, err := csrf.NewService(csrf.Options{
		Secret:         []byte("example-secret-example-secret-00"),
		ExemptPrefixes: []string{"/api/auth/"},
		RotateOnUse:    true,
	})
	if err != nil {
		logger.Error("csrf setup failed", "error", err)
		os.Exit(1)
	}

	gw, err := gateway.New(gateway.Options{
		RateLimit: application.Service{
			Store:       store,
			Suspicious:  infra.NewSuspiciousSet(),
			Concurrency: infra.NewConcurrencyCounter(10),
		},
		CSRF:     csrfSvc,
		Headers:  headers.Composer{Profile: headers.DevelopmentProfile(), CORS: headers.DefaultCORS("*")},
		Redirect: redirect.NewResolver("author.localhost:8081", "reader.localhost:8081"),
		Routes:   gateway.DefaultRoutes(),
		Sessions: gateway.SessionProviderFunc(func(_ context.Context, r *http.Request) (*gateway.Session, error) {
			c, err := r.Cookie("session_id")
			if err != nil {
				return nil, nil
			}
			return demoSessions[c.Value], nil
		}),
		Events: events.LogSink{Logger: logger},
		Logger: logger,
	})
	if err != nil {
		logger.Error("gateway setup failed", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = page.Execute(w, map[string]string{
			"Title": r.URL.Path,
			"Nonce": r.Header.Get(headers.NonceHeader),
		})
	})
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, "{\"ok\":true,\"path\":%q}\n", r.URL.Path)
	})

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           gw.Middleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
