// Package config lê a configuração do gateway das variáveis de ambiente
// (caarlos0/env). Load faz o parse e valida; erros de validação são agregados
// para que o operador veja todos de uma vez.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"security-gateway/middleware/ratelimit/domain"
)

const minProductionSecretLen = 32

type Config struct {
	// ── Server ───────────────────────────────────────────────────────────────
	ListenAddr      string        `env:"LISTEN_ADDR"      envDefault:":8080"`
	AdminAddr       string        `env:"ADMIN_ADDR"       envDefault:"127.0.0.1:9090"`
	AdminToken      string        `env:"ADMIN_TOKEN"`
	UpstreamURL     string        `env:"UPSTREAM_URL"`
	AppEnv          string        `env:"APP_ENV"          envDefault:"development"`
	TrustXFF        bool          `env:"TRUST_XFF"        envDefault:"true"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// ── Logging ──────────────────────────────────────────────────────────────
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// ── Rate limiting ────────────────────────────────────────────────────────
	// RATE_LIMIT_ALGORITHM: "window" (janela fixa) ou "token" (token bucket).
	RateLimitAlgorithm string `env:"RATE_LIMIT_ALGORITHM" envDefault:"window"`
	// RATE_LIMIT_DEFAULT: "max/janela", ex.: "100/1m".
	RateLimitDefault string `env:"RATE_LIMIT_DEFAULT" envDefault:"100/1m"`
	// RATE_LIMIT_PATHS: "/path=max/janela,...", match exato do path.
	RateLimitPaths      string        `env:"RATE_LIMIT_PATHS"       envDefault:"/api/auth/login=5/1m,/api/auth/signup=3/1h,/api/votes=10/1m"`
	RateLimitSweepEvery time.Duration `env:"RATE_LIMIT_SWEEP_EVERY" envDefault:"1m"`

	IPAllowList []string `env:"IP_ALLOW_LIST" envSeparator:","`
	IPBlockList []string `env:"IP_BLOCK_LIST" envSeparator:","`

	ConcurrencyMaxPerIP      int           `env:"CONCURRENCY_MAX_PER_IP"     envDefault:"20"`
	ConcurrencySafetyTimeout time.Duration `env:"CONCURRENCY_SAFETY_TIMEOUT" envDefault:"30s"`

	// ── CSRF ─────────────────────────────────────────────────────────────────
	CSRFSecret         string        `env:"CSRF_SECRET,required"`
	CSRFCookieName     string        `env:"CSRF_COOKIE_NAME"     envDefault:"csrf_token"`
	CSRFHeaderName     string        `env:"CSRF_HEADER_NAME"     envDefault:"X-CSRF-Token"`
	CSRFTTL            time.Duration `env:"CSRF_TTL"             envDefault:"1h"`
	CSRFSameSite       string        `env:"CSRF_SAMESITE"        envDefault:"strict"`
	CSRFRotateOnUse    bool          `env:"CSRF_ROTATE_ON_USE"   envDefault:"true"`
	CSRFExemptPrefixes []string      `env:"CSRF_EXEMPT_PREFIXES" envSeparator:"," envDefault:"/api/auth/"`
	CSRFTokenPath      string        `env:"CSRF_TOKEN_PATH"      envDefault:"/api/csrf-token"`
	SessionCookieName  string        `env:"SESSION_COOKIE_NAME"  envDefault:"session_id"`

	// ── Headers ──────────────────────────────────────────────────────────────
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	CSPReportOnly      bool     `env:"CSP_REPORT_ONLY"      envDefault:"false"`
	CSPReportURI       string   `env:"CSP_REPORT_URI"`

	// ── Rotas ────────────────────────────────────────────────────────────────
	ProtectedPrefixes     []string `env:"PROTECTED_PREFIXES"       envSeparator:"," envDefault:"/dashboard,/account,/api/dashboard"`
	APIPrefix             string   `env:"API_PREFIX"               envDefault:"/api/"`
	APIPublicPrefixes     []string `env:"API_PUBLIC_PREFIXES"      envSeparator:"," envDefault:"/api/auth/,/api/health,/api/csrf-token"`
	APIPublicReadPrefixes []string `env:"API_PUBLIC_READ_PREFIXES" envSeparator:"," envDefault:"/api/books,/api/giveaways,/api/authors"`
	AuthOnlyPaths         []string `env:"AUTH_ONLY_PATHS"          envSeparator:"," envDefault:"/login,/signup"`
	LoginPath             string   `env:"LOGIN_PATH"               envDefault:"/login"`
	AuthenticatedHome     string   `env:"AUTHENTICATED_HOME"       envDefault:"/dashboard"`

	// ── Redirect / colaboradores ─────────────────────────────────────────────
	AuthorHost          string        `env:"AUTHOR_HOST"`
	ReaderHost          string        `env:"READER_HOST"`
	CollaboratorTimeout time.Duration `env:"COLLABORATOR_TIMEOUT" envDefault:"2s"`

	// ── Redis (sessões e eventos) ────────────────────────────────────────────
	RedisAddr          string        `env:"REDIS_ADDR"`
	RedisPassword      string        `env:"REDIS_PASSWORD"`
	RedisDB            int           `env:"REDIS_DB"             envDefault:"0"`
	SessionKeyPrefix   string        `env:"SESSION_KEY_PREFIX"   envDefault:"session:"`
	EventsRedisEnabled bool          `env:"EVENTS_REDIS_ENABLED" envDefault:"false"`
	EventsPrefix       string        `env:"EVENTS_PREFIX"        envDefault:"gateway:events"`
	EventsTTL          time.Duration `env:"EVENTS_TTL"           envDefault:"24h"`

	// ── Postgres (perfis) ────────────────────────────────────────────────────
	DatabaseURL string `env:"DATABASE_URL"`
}

// Load lê o ambiente do processo.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFrom lê de um mapa em vez do ambiente (testes, ferramentas).
func LoadFrom(environ map[string]string) (*Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Environment: environ})
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// Validate agrega todos os problemas encontrados.
func (c *Config) Validate() error {
	var errs []error

	switch c.RateLimitAlgorithm {
	case "window", "token":
	default:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_ALGORITHM must be window or token, got %q", c.RateLimitAlgorithm))
	}
	if _, err := ParsePolicy(c.RateLimitDefault); err != nil {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_DEFAULT: %w", err))
	}
	if _, err := ParsePolicies(c.RateLimitPaths); err != nil {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_PATHS: %w", err))
	}
	if c.RateLimitSweepEvery <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_SWEEP_EVERY must be > 0"))
	}
	if c.ConcurrencyMaxPerIP < 0 {
		errs = append(errs, errors.New("CONCURRENCY_MAX_PER_IP must be >= 0"))
	}

	if c.IsProduction() && len(c.CSRFSecret) < minProductionSecretLen {
		errs = append(errs, fmt.Errorf("CSRF_SECRET must have at least %d characters in production", minProductionSecretLen))
	}
	if c.CSRFTTL <= 0 {
		errs = append(errs, errors.New("CSRF_TTL must be > 0"))
	}
	if _, err := parseSameSite(c.CSRFSameSite); err != nil {
		errs = append(errs, err)
	}

	if c.CollaboratorTimeout <= 0 {
		errs = append(errs, errors.New("COLLABORATOR_TIMEOUT must be > 0"))
	}
	if c.EventsRedisEnabled && strings.TrimSpace(c.RedisAddr) == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required when EVENTS_REDIS_ENABLED=true"))
	}
	if c.IsProduction() && c.AdminAddr != "" && c.AdminToken == "" {
		errs = append(errs, errors.New("ADMIN_TOKEN is required in production when ADMIN_ADDR is set"))
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

// DefaultPolicy devolve a política geral já parseada.
func (c *Config) DefaultPolicy() domain.Policy {
	p, _ := ParsePolicy(c.RateLimitDefault)
	return p
}

// PathPolicies devolve as políticas por path já parseadas.
func (c *Config) PathPolicies() map[string]domain.Policy {
	m, _ := ParsePolicies(c.RateLimitPaths)
	return m
}

func (c *Config) SameSite() http.SameSite {
	s, _ := parseSameSite(c.CSRFSameSite)
	return s
}

// ParsePolicy lê "max/janela", ex.: "100/1m".
func ParsePolicy(s string) (domain.Policy, error) {
	maxStr, winStr, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return domain.Policy{}, fmt.Errorf("invalid policy %q: want max/window", s)
	}
	max, err := strconv.Atoi(strings.TrimSpace(maxStr))
	if err != nil || max <= 0 {
		return domain.Policy{}, fmt.Errorf("invalid policy %q: max must be a positive integer", s)
	}
	win, err := time.ParseDuration(strings.TrimSpace(winStr))
	if err != nil || win <= 0 {
		return domain.Policy{}, fmt.Errorf("invalid policy %q: window must be a positive duration", s)
	}
	return domain.Policy{Window: win, MaxRequests: max}, nil
}

// ParsePolicies lê "/path=max/janela,...". Entrada vazia devolve mapa vazio.
func ParsePolicies(s string) (map[string]domain.Policy, error) {
	out := map[string]domain.Policy{}
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		path, raw, ok := strings.Cut(item, "=")
		path = strings.TrimSpace(path)
		if !ok || !strings.HasPrefix(path, "/") {
			return nil, fmt.Errorf("invalid entry %q: want /path=max/window", item)
		}
		p, err := ParsePolicy(raw)
		if err != nil {
			return nil, err
		}
		out[path] = p
	}
	return out, nil
}

func parseSameSite(s string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict":
		return http.SameSiteStrictMode, nil
	case "lax":
		return http.SameSiteLaxMode, nil
	case "none":
		return 0, errors.New("CSRF_SAMESITE=none is not supported")
	}
	return 0, fmt.Errorf("CSRF_SAMESITE must be strict or lax, got %q", s)
}
