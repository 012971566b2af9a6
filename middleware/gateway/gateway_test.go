package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"security-gateway/middleware/csrf"
	"security-gateway/middleware/events"
	"security-gateway/middleware/headers"
	"security-gateway/middleware/ratelimit/application"
	"security-gateway/middleware/ratelimit/domain"
	"security-gateway/middleware/ratelimit/infra"
	"security-gateway/middleware/redirect"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSessions = map[string]*Session{
	"author": {UserID: "u-author", AccountType: redirect.AccountAuthor},
	"reader": {UserID: "u-reader", AccountType: redirect.AccountReader},
	"both":   {UserID: "u-both", AccountType: redirect.AccountBoth},
	"noacct": {UserID: "u-noacct"},
}

func cookieSessions(_ context.Context, r *http.Request) (*Session, error) {
	c, err := r.Cookie("session_id")
	if err != nil {
		return nil, nil
	}
	return testSessions[c.Value], nil
}

type fixture struct {
	sink      *events.MemorySink
	csrf      *csrf.Service
	calls     atomic.Int32
	lastNonce atomic.Value
	h         http.Handler
}

func newCSRF(t *testing.T, rotate bool) *csrf.Service {
	t.Helper()
	s, err := csrf.NewService(csrf.Options{
		Secret:         []byte("0123456789abcdef0123456789abcdef"),
		ExemptPrefixes: []string{"/api/auth/"},
		RotateOnUse:    rotate,
	})
	require.NoError(t, err)
	return s
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	fx := &fixture{sink: events.NewMemorySink()}
	fx.csrf = newCSRF(t, false)

	opts := Options{
		RateLimit: application.Service{
			Store:      infra.NewWindowStore(),
			Default:    domain.Policy{Window: time.Minute, MaxRequests: 1000},
			Heuristics: application.Heuristics{Rules: []application.BurstRule{}},
		},
		CSRF: fx.csrf,
		Headers: headers.Composer{
			Profile: headers.ProductionProfile(),
			CORS:    headers.DefaultCORS("https://reader.example.com"),
		},
		Redirect:            redirect.NewResolver("author.example.com", "reader.example.com"),
		Routes:              DefaultRoutes(),
		Sessions:            SessionProviderFunc(cookieSessions),
		Events:              fx.sink,
		Logger:              slog.New(slog.NewTextHandler(io.Discard, nil)),
		CollaboratorTimeout: 50 * time.Millisecond,
	}
	for _, m := range mutate {
		m(&opts)
	}
	if opts.CSRF != nil {
		fx.csrf = opts.CSRF
	}

	gw, err := New(opts)
	require.NoError(t, err)

	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fx.calls.Add(1)
		nonce := r.Header.Get(headers.NonceHeader)
		fx.lastNonce.Store(nonce)
		// upstream tentando impor a própria política
		w.Header().Set("Content-Security-Policy", "default-src *")
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintf(w, `<script nonce="%s">ok()</script>`, nonce)
	})
	fx.h = gw.Middleware(upstream)
	return fx
}

type reqOpt func(*http.Request)

func withSession(v string) reqOpt {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "session_id", Value: v}) }
}

func withHeader(k, v string) reqOpt {
	return func(r *http.Request) { r.Header.Set(k, v) }
}

func withCookie(c *http.Cookie) reqOpt {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value}) }
}

func newReq(method, target string, opts ...reqOpt) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("User-Agent", "test-agent")
	for _, o := range opts {
		o(r)
	}
	return r
}

func (fx *fixture) do(r *http.Request) *http.Response {
	w := httptest.NewRecorder()
	fx.h.ServeHTTP(w, r)
	return w.Result()
}

func cookieNamed(res *http.Response, name string) *http.Cookie {
	for _, c := range res.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeBody(t *testing.T, res *http.Response) map[string]string {
	t.Helper()
	defer res.Body.Close()
	var body map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	return body
}

func assertSecurityHeaders(t *testing.T, h http.Header) {
	t.Helper()
	nonce := h.Get(headers.NonceHeader)
	require.NotEmpty(t, nonce)
	csp := h.Values("Content-Security-Policy")
	require.Len(t, csp, 1)
	assert.Contains(t, csp[0], "'nonce-"+nonce+"'")
	assert.Equal(t, "DENY", h.Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", h.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, h.Get("Strict-Transport-Security"))
	assert.NotEmpty(t, h.Get(RequestIDHeader))
}

func TestNew_RequiresCSRF(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrNoCSRF)
}

func TestPassThrough_NonceForwardedAndEnforced(t *testing.T) {
	fx := newFixture(t)

	res := fx.do(newReq(http.MethodGet, "http://example.com/"))
	require.Equal(t, http.StatusOK, res.StatusCode)
	assertSecurityHeaders(t, res.Header)

	nonce := res.Header.Get(headers.NonceHeader)
	assert.Equal(t, nonce, fx.lastNonce.Load())
	assert.NotContains(t, res.Header.Get("Content-Security-Policy"), "default-src *")

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `nonce="`+nonce+`"`)
}

func TestPassThrough_ClientNonceIsReplaced(t *testing.T) {
	fx := newFixture(t)

	res := fx.do(newReq(http.MethodGet, "http://example.com/", withHeader(headers.NonceHeader, "attacker")))
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.NotEqual(t, "attacker", fx.lastNonce.Load())
	assert.Equal(t, res.Header.Get(headers.NonceHeader), fx.lastNonce.Load())
}

func TestEveryResponseCarriesSecurityHeaders(t *testing.T) {
	fx := newFixture(t, func(o *Options) {
		bl, err := infra.NewIPList("10.9.9.9")
		require.NoError(t, err)
		o.RateLimit.BlockList = bl
	})

	blocked := newReq(http.MethodGet, "http://example.com/")
	blocked.RemoteAddr = "10.9.9.9:1"

	cases := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"pass", newReq(http.MethodGet, "http://example.com/"), http.StatusOK},
		{"suspicious", newReq(http.MethodGet, "http://example.com/../etc/passwd"), http.StatusBadRequest},
		{"blocked", blocked, http.StatusForbidden},
		{"login redirect", newReq(http.MethodGet, "http://example.com/dashboard"), http.StatusFound},
		{"api unauthenticated", newReq(http.MethodGet, "http://example.com/api/votes"), http.StatusUnauthorized},
		{"csrf", newReq(http.MethodPost, "http://example.com/api/votes", withSession("author")), http.StatusForbidden},
	}
	seen := map[string]bool{}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := fx.do(tc.req)
			require.Equal(t, tc.status, res.StatusCode)
			assertSecurityHeaders(t, res.Header)

			nonce := res.Header.Get(headers.NonceHeader)
			assert.False(t, seen[nonce], "nonce reused")
			seen[nonce] = true
		})
	}
}

func TestSuspiciousRequestScan(t *testing.T) {
	fx := newFixture(t)

	for _, target := range []string{
		"/../etc/passwd",
		"/static/..%2fsecret",
		"/files/%2e%2e/secret",
		"/files/%252e%252e/secret",
		"/a/..%5cwindows",
		"/search?q=%3Cscript%3Ealert(1)",
		"/go?to=javascript:alert(1)",
		"/view?d=data:text/html,abc",
	} {
		res := fx.do(newReq(http.MethodGet, "http://example.com"+target))
		assert.Equal(t, http.StatusBadRequest, res.StatusCode, target)
		assert.Equal(t, ReasonSuspiciousRequest, decodeBody(t, res)["reason"], target)
	}
	assert.Zero(t, fx.calls.Load())
	assert.EqualValues(t, 8, fx.sink.Reason(ReasonSuspiciousRequest))

	for _, target := range []string{"/books/the..end", "/search?q=scripture", "/docs/data-text"} {
		res := fx.do(newReq(http.MethodGet, "http://example.com"+target))
		assert.Equal(t, http.StatusOK, res.StatusCode, target)
	}
}

func TestPreflight_NoContent(t *testing.T) {
	fx := newFixture(t)

	res := fx.do(newReq(http.MethodOptions, "http://example.com/api/votes",
		withHeader("Origin", "https://reader.example.com"),
		withHeader("Access-Control-Request-Method", "POST"),
	))
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Equal(t, "https://reader.example.com", res.Header.Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, res.Header.Get("Access-Control-Max-Age"))
	assert.Zero(t, fx.calls.Load())
}

func TestRateLimit_DeniesWithRetryAfter(t *testing.T) {
	fx := newFixture(t, func(o *Options) {
		o.RateLimit.Default = domain.Policy{Window: time.Minute, MaxRequests: 2}
	})

	for i := 0; i < 2; i++ {
		res := fx.do(newReq(http.MethodGet, "http://example.com/books"))
		require.Equal(t, http.StatusOK, res.StatusCode)
		assert.Equal(t, "2", res.Header.Get("X-RateLimit-Limit"))
	}

	res := fx.do(newReq(http.MethodGet, "http://example.com/books"))
	require.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assertSecurityHeaders(t, res.Header)
	assert.NotEmpty(t, res.Header.Get("Retry-After"))
	assert.Equal(t, "0", res.Header.Get("X-RateLimit-Remaining"))
	assert.Equal(t, string(domain.ReasonRateLimited), decodeBody(t, res)["reason"])

	assert.EqualValues(t, 2, fx.calls.Load())
	assert.EqualValues(t, 1, fx.sink.Reason(string(domain.ReasonRateLimited)))
}

func TestRateLimit_BurstQuarantinesIP(t *testing.T) {
	quarantine := infra.NewSuspiciousSet()
	fx := newFixture(t, func(o *Options) {
		o.RateLimit.Suspicious = quarantine
		o.RateLimit.Heuristics = application.Heuristics{Rules: []application.BurstRule{{Within: time.Minute, Max: 3}}}
	})

	var last *http.Response
	for i := 0; i < 4; i++ {
		last = fx.do(newReq(http.MethodGet, "http://example.com/books"))
	}
	require.Equal(t, http.StatusTooManyRequests, last.StatusCode)
	assert.True(t, quarantine.Contains("10.0.0.1"))

	// outro path também é barrado enquanto o IP está em quarentena
	res := fx.do(newReq(http.MethodGet, "http://example.com/other"))
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.Equal(t, string(domain.ReasonSuspicious), decodeBody(t, res)["reason"])
}

func TestConcurrencySlotReleasedAfterResponse(t *testing.T) {
	counter := infra.NewConcurrencyCounter(1)
	gw, err := New(Options{
		RateLimit: application.Service{Concurrency: counter},
		CSRF:      newCSRF(t, false),
		Headers:   headers.Composer{Profile: headers.ProductionProfile()},
		Routes:    DefaultRoutes(),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	var during int
	h := gw.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = counter.InFlight("10.0.0.1")
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, newReq(http.MethodGet, "http://example.com/"))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, during)
		assert.Equal(t, 0, counter.InFlight("10.0.0.1"))
	}
}

func TestConcurrencyCap_SequentialTrafficStaysAllowed(t *testing.T) {
	counter := infra.NewConcurrencyCounter(20)
	fx := newFixture(t, func(o *Options) {
		o.RateLimit.Concurrency = counter
		o.RateLimit.Default = domain.Policy{Window: time.Minute, MaxRequests: 100}
	})

	for i := 1; i <= 30; i++ {
		res := fx.do(newReq(http.MethodGet, "http://example.com/"))
		require.Equal(t, http.StatusOK, res.StatusCode, "request %d", i)
	}
	assert.Equal(t, 0, counter.InFlight("10.0.0.1"))
}

func TestProtectedRoute_PageRedirectsToLogin(t *testing.T) {
	fx := newFixture(t)

	res := fx.do(newReq(http.MethodGet, "http://example.com/dashboard?tab=1"))
	require.Equal(t, http.StatusFound, res.StatusCode)
	assert.Equal(t, "/login?redirect=%2Fdashboard%3Ftab%3D1", res.Header.Get("Location"))

	res = fx.do(newReq(http.MethodGet, "http://reader.example.com/dashboard", withSession("reader")))
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestProtectedRoute_APIUnauthorized(t *testing.T) {
	fx := newFixture(t)

	res := fx.do(newReq(http.MethodGet, "http://example.com/api/dashboard/stats"))
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, ReasonUnauthenticated, decodeBody(t, res)["reason"])
	assert.Zero(t, fx.calls.Load())
}

func TestCSRF_TokenEndpointThenSubmit(t *testing.T) {
	fx := newFixture(t)

	res := fx.do(newReq(http.MethodGet, "http://example.com/api/csrf-token", withSession("author")))
	require.Equal(t, http.StatusOK, res.StatusCode)
	assertSecurityHeaders(t, res.Header)
	body := decodeBody(t, res)
	token := body["token"]
	require.NotEmpty(t, token)
	assert.Equal(t, "X-CSRF-Token", body["headerName"])
	c := cookieNamed(res, "csrf_token")
	require.NotNil(t, c)
	assert.Equal(t, token, c.Value)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, c.SameSite)

	res = fx.do(newReq(http.MethodPost, "http://example.com/api/votes",
		withSession("author"), withHeader("X-CSRF-Token", token)))
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.EqualValues(t, 1, fx.calls.Load())

	// token de outra sessão não vale
	res = fx.do(newReq(http.MethodPost, "http://example.com/api/votes",
		withSession("reader"), withHeader("X-CSRF-Token", token)))
	require.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, "csrf validation failed", decodeBody(t, res)["error"])
}

func TestCSRF_AnonymousTokenSurvivesNewConnection(t *testing.T) {
	fx := newFixture(t)

	get := newReq(http.MethodGet, "http://example.com/api/csrf-token")
	get.RemoteAddr = "203.0.113.7:51000"
	res := fx.do(get)
	require.Equal(t, http.StatusOK, res.StatusCode)
	token := decodeBody(t, res)["token"]
	require.NotEmpty(t, token)

	post := newReq(http.MethodPost, "http://example.com/api/health", withHeader("X-CSRF-Token", token))
	post.RemoteAddr = "203.0.113.7:51001"
	res = fx.do(post)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.EqualValues(t, 1, fx.calls.Load())
}

func TestCSRF_MissingToken(t *testing.T) {
	fx := newFixture(t)

	res := fx.do(newReq(http.MethodPost, "http://example.com/api/votes", withSession("author")))
	require.Equal(t, http.StatusForbidden, res.StatusCode)
	body := decodeBody(t, res)
	assert.Equal(t, "csrf validation failed", body["error"])
	assert.Equal(t, string(csrf.ReasonMissing), body["reason"])
	assert.EqualValues(t, 1, fx.sink.Reason(string(csrf.ReasonMissing)))
	assert.Zero(t, fx.calls.Load())
}

func TestCSRF_ExemptPrefixSkipsValidation(t *testing.T) {
	fx := newFixture(t)

	res := fx.do(newReq(http.MethodPost, "http://example.com/api/auth/login"))
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestCSRF_RotateOnUse(t *testing.T) {
	fx := newFixture(t, func(o *Options) { o.CSRF = newCSRF(t, true) })

	res := fx.do(newReq(http.MethodGet, "http://example.com/api/csrf-token", withSession("author")))
	first := decodeBody(t, res)["token"]

	res = fx.do(newReq(http.MethodPost, "http://example.com/api/votes",
		withSession("author"), withHeader("X-CSRF-Token", first)))
	require.Equal(t, http.StatusOK, res.StatusCode)
	next := res.Header.Get("X-CSRF-Token")
	require.NotEmpty(t, next)
	assert.NotEqual(t, first, next)
	c := cookieNamed(res, "csrf_token")
	require.NotNil(t, c)
	assert.Equal(t, next, c.Value)

	res = fx.do(newReq(http.MethodPost, "http://example.com/api/votes",
		withSession("author"), withHeader("X-CSRF-Token", first)))
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res = fx.do(newReq(http.MethodPost, "http://example.com/api/votes",
		withSession("author"), withHeader("X-CSRF-Token", next)))
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestCSRF_CookieIssuedOnSafePageWithoutOne(t *testing.T) {
	fx := newFixture(t)

	res := fx.do(newReq(http.MethodGet, "http://example.com/"))
	c := cookieNamed(res, "csrf_token")
	require.NotNil(t, c)

	res = fx.do(newReq(http.MethodGet, "http://example.com/", withCookie(c)))
	assert.Nil(t, cookieNamed(res, "csrf_token"))

	// API não recebe cookie automático
	res = fx.do(newReq(http.MethodGet, "http://example.com/api/books"))
	assert.Nil(t, cookieNamed(res, "csrf_token"))
}

func TestRedirect_WrongHostForAccountType(t *testing.T) {
	fx := newFixture(t)

	res := fx.do(newReq(http.MethodGet, "http://reader.example.com/books?page=2", withSession("author")))
	require.Equal(t, http.StatusFound, res.StatusCode)
	assert.Equal(t, "http://author.example.com/books?page=2", res.Header.Get("Location"))
	assertSecurityHeaders(t, res.Header)

	for _, tc := range []struct {
		name string
		req  *http.Request
	}{
		{"canonical host", newReq(http.MethodGet, "http://author.example.com/books", withSession("author"))},
		{"both", newReq(http.MethodGet, "http://reader.example.com/books", withSession("both"))},
		{"anonymous", newReq(http.MethodGet, "http://reader.example.com/books")},
		{"api", newReq(http.MethodGet, "http://reader.example.com/api/books", withSession("author"))},
	} {
		res := fx.do(tc.req)
		assert.Equal(t, http.StatusOK, res.StatusCode, tc.name)
	}
}

func TestRedirect_SchemeFromForwardedProto(t *testing.T) {
	fx := newFixture(t, func(o *Options) { o.TrustXForwardedFor = true })

	res := fx.do(newReq(http.MethodGet, "http://reader.example.com/books",
		withSession("author"), withHeader("X-Forwarded-Proto", "https")))
	require.Equal(t, http.StatusFound, res.StatusCode)
	assert.Equal(t, "https://author.example.com/books", res.Header.Get("Location"))
}

func TestRedirect_AuthOnlyPage(t *testing.T) {
	fx := newFixture(t)

	res := fx.do(newReq(http.MethodGet, "http://reader.example.com/login", withSession("reader")))
	require.Equal(t, http.StatusFound, res.StatusCode)
	assert.Equal(t, "/dashboard", res.Header.Get("Location"))

	res = fx.do(newReq(http.MethodGet, "http://reader.example.com/login"))
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestRedirect_AccountTypeFromProfileStore(t *testing.T) {
	var lookups atomic.Int32
	fx := newFixture(t, func(o *Options) {
		o.Profiles = ProfileStoreFunc(func(_ context.Context, userID string) (string, error) {
			lookups.Add(1)
			assert.Equal(t, "u-noacct", userID)
			return redirect.AccountReader, nil
		})
	})

	res := fx.do(newReq(http.MethodGet, "http://author.example.com/books", withSession("noacct")))
	require.Equal(t, http.StatusFound, res.StatusCode)
	assert.Equal(t, "http://reader.example.com/books", res.Header.Get("Location"))
	assert.EqualValues(t, 1, lookups.Load())
}

func TestRedirect_ProfileFailureFailsOpen(t *testing.T) {
	fx := newFixture(t, func(o *Options) {
		o.Profiles = ProfileStoreFunc(func(context.Context, string) (string, error) {
			return "", errors.New("db down")
		})
	})

	res := fx.do(newReq(http.MethodGet, "http://author.example.com/books", withSession("noacct")))
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.EqualValues(t, 1, fx.sink.Reason(string(events.KindCollaborator)))
}

func TestRedirect_ProfileTimeoutFailsOpen(t *testing.T) {
	fx := newFixture(t, func(o *Options) {
		o.CollaboratorTimeout = 20 * time.Millisecond
		o.Profiles = ProfileStoreFunc(func(ctx context.Context, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})
	})

	start := time.Now()
	res := fx.do(newReq(http.MethodGet, "http://author.example.com/books", withSession("noacct")))
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAPIAuth_TimeoutFailsClosed(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	fx := newFixture(t, func(o *Options) {
		o.CollaboratorTimeout = 20 * time.Millisecond
		// ignora o contexto de propósito
		o.Sessions = SessionProviderFunc(func(context.Context, *http.Request) (*Session, error) {
			<-release
			return testSessions["author"], nil
		})
	})

	start := time.Now()
	res := fx.do(newReq(http.MethodGet, "http://example.com/api/votes", withSession("author")))
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Less(t, time.Since(start), time.Second)
	assert.EqualValues(t, 1, fx.sink.Reason(string(events.KindCollaborator)))
}

func TestAPIAuth_PublicAndPublicRead(t *testing.T) {
	fx := newFixture(t)

	assert.Equal(t, http.StatusOK, fx.do(newReq(http.MethodGet, "http://example.com/api/health")).StatusCode)
	assert.Equal(t, http.StatusOK, fx.do(newReq(http.MethodGet, "http://example.com/api/books/42")).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, fx.do(newReq(http.MethodGet, "http://example.com/api/votes")).StatusCode)

	// public-read não cobre escrita
	res := fx.do(newReq(http.MethodGet, "http://example.com/api/csrf-token"))
	token := decodeBody(t, res)["token"]
	res = fx.do(newReq(http.MethodPost, "http://example.com/api/books", withHeader("X-CSRF-Token", token)))
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestSessionInFlight_NotASecurityEvent(t *testing.T) {
	fx := newFixture(t, func(o *Options) {
		o.Sessions = SessionProviderFunc(func(context.Context, *http.Request) (*Session, error) {
			return nil, fmt.Errorf("refresh: %w", ErrSessionInFlight)
		})
	})

	res := fx.do(newReq(http.MethodGet, "http://example.com/api/votes", withSession("author")))
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Zero(t, fx.sink.Reason(string(events.KindCollaborator)))
}

func TestSessionFetchedOncePerRequest(t *testing.T) {
	var calls atomic.Int32
	fx := newFixture(t, func(o *Options) {
		o.Sessions = SessionProviderFunc(func(ctx context.Context, r *http.Request) (*Session, error) {
			calls.Add(1)
			return cookieSessions(ctx, r)
		})
	})

	// protected + redirect + api auth consultam a sessão
	res := fx.do(newReq(http.MethodGet, "http://example.com/api/dashboard/stats", withSession("author")))
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.EqualValues(t, 1, calls.Load())
}

func TestInternalFault_APIGets500PagePassesThrough(t *testing.T) {
	fx := newFixture(t, func(o *Options) {
		o.Sessions = SessionProviderFunc(func(context.Context, *http.Request) (*Session, error) {
			panic("boom")
		})
	})

	res := fx.do(newReq(http.MethodGet, "http://example.com/api/dashboard/stats"))
	require.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assertSecurityHeaders(t, res.Header)
	assert.Equal(t, ReasonInternal, decodeBody(t, res)["reason"])
	assert.EqualValues(t, 1, fx.sink.Faults())

	res = fx.do(newReq(http.MethodGet, "http://example.com/dashboard"))
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assertSecurityHeaders(t, res.Header)
	assert.EqualValues(t, 2, fx.sink.Faults())
	assert.EqualValues(t, 1, fx.calls.Load())
}

type panicStore struct{ domain.CounterStore }

func (panicStore) Check(context.Context, domain.Key, int, time.Duration) (domain.Entry, bool, error) {
	panic("store corrupted")
}

func TestInternalFault_PanicInsideGateway(t *testing.T) {
	fx := newFixture(t, func(o *Options) { o.RateLimit.Store = panicStore{} })

	res := fx.do(newReq(http.MethodGet, "http://example.com/api/books"))
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)

	res = fx.do(newReq(http.MethodGet, "http://example.com/books"))
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.EqualValues(t, 2, fx.sink.Faults())
}

func TestRequestID(t *testing.T) {
	fx := newFixture(t, func(o *Options) { o.NewRequestID = func() string { return "generated" } })

	res := fx.do(newReq(http.MethodGet, "http://example.com/", withHeader(RequestIDHeader, "abc-123")))
	assert.Equal(t, "abc-123", res.Header.Get(RequestIDHeader))

	res = fx.do(newReq(http.MethodGet, "http://example.com/", withHeader(RequestIDHeader, "bad id\r\n")))
	assert.Equal(t, "generated", res.Header.Get(RequestIDHeader))
}

func TestEventsRecordedPerOutcome(t *testing.T) {
	fx := newFixture(t)

	fx.do(newReq(http.MethodGet, "http://example.com/"))
	fx.do(newReq(http.MethodGet, "http://example.com/api/votes"))

	total := fx.sink.Total()
	assert.EqualValues(t, 1, total.Allowed)
	assert.EqualValues(t, 1, total.Denied)
	assert.EqualValues(t, 1, fx.sink.Reason(ReasonUnauthenticated))
}

func TestEventsUseRouteClassNotRawPath(t *testing.T) {
	fx := newFixture(t)

	for i := 0; i < 40; i++ {
		fx.do(newReq(http.MethodGet, fmt.Sprintf("http://example.com/random/%d", i)))
	}
	fx.do(newReq(http.MethodGet, "http://example.com/api/books/42"))
	fx.do(newReq(http.MethodGet, "http://example.com/api/unknown/7"))

	snap := fx.sink.Snapshot()
	assert.Len(t, snap.ByRoute, 3)
	assert.EqualValues(t, 40, snap.ByRoute["GET page"].Allowed)
	assert.EqualValues(t, 1, snap.ByRoute["GET /api/books"].Allowed)
	assert.EqualValues(t, 1, snap.ByRoute["GET api"].Denied)
}

func TestSecureWriter_FlushAppliesHeaders(t *testing.T) {
	gw, err := New(Options{
		CSRF:    newCSRF(t, false),
		Headers: headers.Composer{Profile: headers.ProductionProfile()},
		Routes:  DefaultRoutes(),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	h := gw.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Del("X-Frame-Options")
		require.NoError(t, http.NewResponseController(w).Flush())
		_, _ = io.WriteString(w, "streamed")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, newReq(http.MethodGet, "http://example.com/"))
	assert.True(t, w.Flushed)
	assert.Equal(t, "DENY", w.Result().Header.Get("X-Frame-Options"))
	assert.Equal(t, "streamed", w.Body.String())
}
