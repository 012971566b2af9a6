package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"security-gateway/middleware/csrf"
	"security-gateway/middleware/events"
	"security-gateway/middleware/headers"
	"security-gateway/middleware/ratelimit"
	"security-gateway/middleware/ratelimit/application"
	"security-gateway/middleware/redirect"
)

const (
	RequestIDHeader = "X-Request-ID"

	DefaultCollaboratorTimeout = 2 * time.Second
	maxRequestIDLen            = 128
)

var ErrNoCSRF = errors.New("gateway: csrf service is required")

type Options struct {
	RateLimit application.Service
	CSRF      *csrf.Service
	Headers   headers.Composer
	Redirect  redirect.Resolver
	Routes    Routes

	Sessions SessionProvider
	Profiles ProfileStore
	Events   events.Sink
	Logger   *slog.Logger

	TrustXForwardedFor  bool
	CollaboratorTimeout time.Duration
	NewRequestID        func() string
}

type Gateway struct {
	opts Options
	log  *slog.Logger
}

func New(opts Options) (*Gateway, error) {
	if opts.CSRF == nil {
		return nil, ErrNoCSRF
	}
	if opts.Events == nil {
		opts.Events = events.Discard{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CollaboratorTimeout <= 0 {
		opts.CollaboratorTimeout = DefaultCollaboratorTimeout
	}
	if opts.NewRequestID == nil {
		opts.NewRequestID = uuid.NewString
	}
	return &Gateway{opts: opts, log: opts.Logger}, nil
}

// Middleware embrulha next com o orquestrador.
func (g *Gateway) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.serve(w, r, next)
	})
}

func (g *Gateway) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	f := g.newFlow(r)
	// release é trocado pelo rateLimit; avaliar só na saída
	defer func() { f.release() }()

	out := f.run()
	g.log.DebugContext(r.Context(), "gateway outcome",
		"state", out.State.String(),
		"at", out.At.String(),
		"status", out.Status,
		"reason", out.Reason,
		"request_id", f.requestID,
	)

	if out.State == StateShortCircuit {
		f.shortCircuit(w, out)
		return
	}
	f.passThrough(w, next)
}

// flow guarda o estado de uma única requisição.
type flow struct {
	g *Gateway
	r *http.Request

	ip        string
	requestID string
	api       bool
	safe      bool

	set      headers.Set
	enforced http.Header
	cookies  []*http.Cookie
	release  func()
	state    State

	sessLoaded bool
	sess       *Session
	sessFatal  error
}

func (g *Gateway) newFlow(r *http.Request) *flow {
	return &flow{
		g:         g,
		r:         r,
		ip:        ratelimit.ClientIP(r, g.opts.TrustXForwardedFor),
		requestID: requestID(r, g.opts.NewRequestID),
		api:       g.opts.Routes.IsAPI(r.URL.Path),
		safe:      safeMethod(r.Method),
		enforced:  http.Header{},
		release:   func() {},
		state:     StateInit,
	}
}

func requestID(r *http.Request, gen func() string) string {
	if v := r.Header.Get(RequestIDHeader); validRequestID(v) {
		return v
	}
	return gen()
}

func validRequestID(v string) bool {
	if v == "" || len(v) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		ok := c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
			c == '-' || c == '_' || c == '.'
		if !ok {
			return false
		}
	}
	return true
}

type step struct {
	state State
	fn    func() (*Outcome, error)
}

func (f *flow) run() (out Outcome) {
	defer func() {
		if p := recover(); p != nil {
			out = f.fault(fmt.Errorf("gateway: panic in %s: %v", f.state, p))
		}
	}()

	steps := []step{
		{StateHeaderPrep, f.headerPrep},
		{StateSuspiciousRequestScan, f.suspiciousScan},
		{StateRateLimitCheck, f.rateLimit},
		{StateProtectedRouteCheck, f.protectedRoute},
		{StateCsrfCheck, f.csrfCheck},
		{StateRedirectCheck, f.redirectCheck},
		{StateApiAuthCheck, f.apiAuth},
	}
	for _, s := range steps {
		f.state = s.state
		res, err := s.fn()
		if err != nil {
			return f.fault(err)
		}
		if res != nil {
			res.State = StateShortCircuit
			res.At = s.state
			return *res
		}
	}
	f.state = StatePassThrough
	return Outcome{State: StatePassThrough, At: StatePassThrough}
}

func (f *flow) headerPrep() (*Outcome, error) {
	set, err := f.g.opts.Headers.Compose(f.r)
	if err != nil {
		return nil, err
	}
	f.set = set
	set.Apply(f.enforced)
	f.enforced.Set(RequestIDHeader, f.requestID)
	return nil, nil
}

func (f *flow) suspiciousScan() (*Outcome, error) {
	if SuspiciousTarget(f.r) {
		return &Outcome{Status: http.StatusBadRequest, Reason: ReasonSuspiciousRequest}, nil
	}
	if headers.IsPreflight(f.r) {
		return &Outcome{Status: http.StatusNoContent, Reason: ReasonPreflight}, nil
	}
	return nil, nil
}

func (f *flow) rateLimit() (*Outcome, error) {
	dec, err := f.g.opts.RateLimit.Check(f.r.Context(), application.Request{
		IP:        f.ip,
		Path:      f.r.URL.Path,
		UserAgent: f.r.UserAgent(),
	})
	if err != nil {
		return nil, err
	}
	if dec.Release != nil {
		f.release = dec.Release
	}
	ratelimit.WriteHeaders(f.enforced, dec)
	if dec.Allowed {
		return nil, nil
	}
	return &Outcome{
		Status: ratelimit.StatusFor(dec.Reason),
		Reason: string(dec.Reason),
		key:    string(application.IdentityKey(f.ip, f.r.URL.Path, f.r.UserAgent())),
		write:  func(w http.ResponseWriter) { ratelimit.WriteDenied(w, dec) },
	}, nil
}

func (f *flow) protectedRoute() (*Outcome, error) {
	if !f.g.opts.Routes.IsProtected(f.r.URL.Path) {
		return nil, nil
	}
	sess, err := f.session()
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return nil, nil
	}
	if f.api {
		return unauthorized(), nil
	}
	loc := f.g.opts.Routes.LoginPath + "?redirect=" + url.QueryEscape(f.r.URL.RequestURI())
	return &Outcome{Status: http.StatusFound, Reason: ReasonUnauthenticated, Location: loc}, nil
}

func (f *flow) csrfCheck() (*Outcome, error) {
	svc := f.g.opts.CSRF

	if f.r.Method == http.MethodGet && f.r.URL.Path == f.g.opts.Routes.CSRFTokenPath {
		iss, err := svc.Issue(f.r)
		if err != nil {
			return nil, err
		}
		f.cookies = append(f.cookies, iss.Cookie)
		body := map[string]any{
			"token":      iss.Token,
			"headerName": svc.HeaderName(),
			"expiresAt":  iss.ExpiresAt.UTC().Format(time.RFC3339),
		}
		return &Outcome{
			Status: http.StatusOK,
			Reason: ReasonCSRFToken,
			write:  func(w http.ResponseWriter) { writeJSON(w, http.StatusOK, body) },
		}, nil
	}

	if svc.Required(f.r) {
		res := svc.Validate(f.r)
		if !res.Valid {
			return &Outcome{
				Status: http.StatusForbidden,
				Reason: string(res.Reason),
				write:  func(w http.ResponseWriter) { csrf.WriteFailure(w, res) },
			}, nil
		}
		if res.Rotated {
			iss, err := svc.Issue(f.r)
			if err != nil {
				return nil, err
			}
			f.cookies = append(f.cookies, iss.Cookie)
			f.enforced.Set(svc.HeaderName(), iss.Token)
		}
		return nil, nil
	}

	if f.safe && !f.api {
		if _, err := f.r.Cookie(svc.CookieName()); err != nil {
			iss, err := svc.Issue(f.r)
			if err != nil {
				return nil, err
			}
			f.cookies = append(f.cookies, iss.Cookie)
		}
	}
	return nil, nil
}

func (f *flow) redirectCheck() (*Outcome, error) {
	if !f.safe {
		return nil, nil
	}
	sess, err := f.session()
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}

	routes := f.g.opts.Routes
	if routes.IsAuthOnly(f.r.URL.Path) && routes.AuthenticatedHome != "" {
		return &Outcome{Status: http.StatusFound, Reason: ReasonAuthOnlyPage, Location: routes.AuthenticatedHome}, nil
	}
	if f.api {
		return nil, nil
	}

	accountType := sess.AccountType
	if accountType == "" && sess.UserID != "" && f.g.opts.Profiles != nil {
		accountType, err = callWithTimeout(f.r.Context(), f.g.opts.CollaboratorTimeout,
			func(ctx context.Context) (string, error) {
				return f.g.opts.Profiles.GetAccountType(ctx, sess.UserID)
			})
		if err != nil {
			if isPanic(err) {
				return nil, err
			}
			f.collaboratorFailure("profile", redirect.RedirectFailPolicy, err)
			return nil, nil
		}
	}

	target, ok := f.g.opts.Redirect.Resolve(accountType, f.r.Host)
	if !ok {
		return nil, nil
	}
	loc := requestScheme(f.r, f.g.opts.TrustXForwardedFor) + "://" + target + f.r.URL.RequestURI()
	return &Outcome{Status: http.StatusFound, Reason: ReasonWrongHost, Location: loc}, nil
}

func (f *flow) apiAuth() (*Outcome, error) {
	if !f.g.opts.Routes.RequiresAPIAuth(f.r) {
		return nil, nil
	}
	sess, err := f.session()
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return unauthorized(), nil
	}
	return nil, nil
}

func unauthorized() *Outcome {
	return &Outcome{Status: http.StatusUnauthorized, Reason: ReasonUnauthenticated}
}

// session busca a sessão no máximo uma vez por requisição. Falha do provedor
// vira "sem sessão"; só panic volta como erro.
func (f *flow) session() (*Session, error) {
	if f.sessLoaded {
		return f.sess, f.sessFatal
	}
	f.sessLoaded = true
	if f.g.opts.Sessions == nil {
		return nil, nil
	}

	sess, err := callWithTimeout(f.r.Context(), f.g.opts.CollaboratorTimeout,
		func(ctx context.Context) (*Session, error) {
			return f.g.opts.Sessions.GetSession(ctx, f.r)
		})
	switch {
	case err == nil:
		f.sess = sess
	case errors.Is(err, ErrSessionInFlight):
		f.g.log.DebugContext(f.r.Context(), "session update in flight", "request_id", f.requestID)
	case isPanic(err):
		f.sessFatal = err
	default:
		f.collaboratorFailure("session", redirect.AuthFailPolicy, err)
	}
	return f.sess, f.sessFatal
}

func (f *flow) collaboratorFailure(check string, policy redirect.FailPolicy, err error) {
	f.g.log.WarnContext(f.r.Context(), "collaborator call failed",
		"collaborator", check,
		"policy", policy.String(),
		"error", err,
		"request_id", f.requestID,
	)
	f.record(events.Event{
		Kind:   events.KindCollaborator,
		Check:  check,
		Reason: err.Error(),
	})
}

// fault trata erro inesperado: API recebe 500, página segue adiante.
func (f *flow) fault(err error) Outcome {
	f.record(events.Event{
		Kind:   events.KindFault,
		Check:  f.state.String(),
		Reason: err.Error(),
		Status: http.StatusInternalServerError,
	})
	if f.api {
		return Outcome{
			State:  StateShortCircuit,
			At:     f.state,
			Status: http.StatusInternalServerError,
			Reason: ReasonInternal,
		}
	}
	return Outcome{State: StatePassThrough, At: f.state, Reason: ReasonInternal}
}

func (f *flow) enforce(h http.Header) {
	for k, v := range f.enforced {
		h[k] = append([]string(nil), v...)
	}
}

func (f *flow) shortCircuit(w http.ResponseWriter, out Outcome) {
	f.enforce(w.Header())
	for _, c := range f.cookies {
		http.SetCookie(w, c)
	}

	switch {
	case out.write != nil:
		out.write(w)
	case out.Location != "":
		http.Redirect(w, f.r, out.Location, out.Status)
	case out.Status == http.StatusNoContent:
		w.WriteHeader(out.Status)
	default:
		writeJSON(w, out.Status, map[string]string{
			"error":  http.StatusText(out.Status),
			"reason": out.Reason,
		})
	}

	denied := out.Status >= http.StatusBadRequest || out.Reason == ReasonUnauthenticated
	kind := events.KindDecision
	if denied {
		kind = events.KindDenial
	}
	f.record(events.Event{
		Kind:    kind,
		Allowed: !denied,
		Check:   out.At.String(),
		Reason:  out.Reason,
		Key:     out.key,
		Status:  out.Status,
	})
}

func (f *flow) passThrough(w http.ResponseWriter, next http.Handler) {
	if f.set.Nonce != "" {
		f.r.Header.Set(headers.NonceHeader, f.set.Nonce)
	} else {
		f.r.Header.Del(headers.NonceHeader)
	}
	f.r.Header.Set(RequestIDHeader, f.requestID)

	f.enforce(w.Header())
	for _, c := range f.cookies {
		http.SetCookie(w, c)
	}

	sw := &secureWriter{ResponseWriter: w, enforce: f.enforce}
	next.ServeHTTP(sw, f.r)

	f.record(events.Event{
		Kind:    events.KindDecision,
		Allowed: true,
		Check:   StatePassThrough.String(),
		Status:  sw.Status(),
	})
}

func (f *flow) record(ev events.Event) {
	ev.IP = f.ip
	ev.Method = f.r.Method
	ev.Path = f.r.URL.Path
	ev.Route = f.g.opts.Routes.Class(f.r.URL.Path)
	ev.RequestID = f.requestID
	ev.At = time.Now()
	if err := f.g.opts.Events.Record(f.r.Context(), ev); err != nil {
		f.g.log.DebugContext(f.r.Context(), "event sink failed", "error", err)
	}
}

func requestScheme(r *http.Request, trustXFF bool) string {
	if trustXFF {
		switch p := r.Header.Get("X-Forwarded-Proto"); p {
		case "http", "https":
			return p
		}
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
