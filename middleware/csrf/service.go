package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

var ErrNoSecret = errors.New("csrf: server secret is required")

// Reason é o motivo (legível por máquina) de uma validação falha.
type Reason string

const (
	ReasonMissing          Reason = "missing token"
	ReasonMalformed        Reason = "malformed token"
	ReasonNoActiveToken    Reason = "no active token"
	ReasonExpired          Reason = "token expired"
	ReasonInvalidSignature Reason = "invalid signature"
	ReasonMismatch         Reason = "token mismatch"
)

const secretBytes = 32

type Options struct {
	Secret []byte
	Store  Store
	TTL    time.Duration

	CookieName    string
	HeaderName    string
	SessionCookie string
	SameSite      http.SameSite
	Secure        bool

	// RotateOnUse consome o token na validação bem-sucedida; o chamador
	// emite um novo na resposta.
	RotateOnUse bool

	// ExemptPrefixes são paths que dispensam validação (ex.: /api/auth).
	ExemptPrefixes []string

	// ClientIP resolve o IP usado no sessionID de fallback. O padrão é o host
	// de RemoteAddr, sem a porta.
	ClientIP func(r *http.Request) string
	Now      func() time.Time
	// Rand é a fonte dos segredos; padrão crypto/rand.
	Rand io.Reader
}

type Service struct {
	opts    Options
	metrics *Metrics
}

type Issued struct {
	Token     string
	ExpiresAt time.Time
	Cookie    *http.Cookie
}

type Result struct {
	Valid   bool
	Reason  Reason
	Rotated bool
}

func NewService(opts Options) (*Service, error) {
	if len(opts.Secret) == 0 {
		return nil, ErrNoSecret
	}
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.CookieName == "" {
		opts.CookieName = "csrf_token"
	}
	if opts.HeaderName == "" {
		opts.HeaderName = "X-CSRF-Token"
	}
	if opts.SessionCookie == "" {
		opts.SessionCookie = "session_id"
	}
	if opts.SameSite == 0 {
		opts.SameSite = http.SameSiteStrictMode
	}
	if opts.ClientIP == nil {
		opts.ClientIP = remoteHost
	}
	if opts.Rand == nil {
		opts.Rand = rand.Reader
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{opts: opts, metrics: &Metrics{}}, nil
}

func (s *Service) Store() Store { return s.opts.Store }
func (s *Service) CookieName() string { return s.opts.CookieName }
func (s *Service) HeaderName() string { return s.opts.HeaderName }
func (s *Service) Metrics() *Metrics { return s.metrics }
func (s *Service) TTL() time.Duration { return s.opts.TTL }
func (s *Service) RotateOnUse() bool { return s.opts.RotateOnUse }
func (s *Service) ExemptPrefixes() []string { return s.opts.ExemptPrefixes }

// StateChanging diz se o método altera estado.
// GET, HEAD, OPTIONS e TRACE nunca são validados.
func StateChanging(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// Required diz se a requisição precisa de token válido.
func (s *Service) Required(r *http.Request) bool {
	if !StateChanging(r.Method) {
		return false
	}
	for _, p := range s.opts.ExemptPrefixes {
		if p != "" && strings.HasPrefix(r.URL.Path, p) {
			return false
		}
	}
	return true
}

// SessionID deriva a identidade da sessão: cookie de sessão se existir, senão
// hash de IP + User-Agent. O fallback é best-effort para fluxos anônimos.
func (s *Service) SessionID(r *http.Request) string {
	if c, err := r.Cookie(s.opts.SessionCookie); err == nil && c.Value != "" {
		return "s:" + digest(c.Value)
	}
	return "a:" + digest(s.opts.ClientIP(r)+"|"+r.UserAgent())
}

func remoteHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func digest(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

func (s *Service) sign(secret, sessionID string) string {
	mac := hmac.New(sha256.New, s.opts.Secret)
	mac.Write([]byte(secret))
	mac.Write([]byte(sessionID))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Issue emite um token para a sessão da requisição, sobrescrevendo o anterior.
func (s *Service) Issue(r *http.Request) (Issued, error) {
	return s.IssueFor(s.SessionID(r))
}

func (s *Service) IssueFor(sessionID string) (Issued, error) {
	buf := make([]byte, secretBytes)
	if _, err := io.ReadFull(s.opts.Rand, buf); err != nil {
		return Issued{}, fmt.Errorf("csrf: read random: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(buf)
	token := secret + "." + s.sign(secret, sessionID)
	expiresAt := s.opts.Now().Add(s.opts.TTL)

	s.opts.Store.Put(sessionID, Entry{Token: token, ExpiresAt: expiresAt})
	s.metrics.Generated.Add(1)

	return Issued{Token: token, ExpiresAt: expiresAt, Cookie: s.cookie(token)}, nil
}

func (s *Service) cookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     s.opts.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.opts.TTL / time.Second),
		HttpOnly: true,
		Secure:   s.opts.Secure,
		SameSite: s.opts.SameSite,
	}
}

// ClearCookie expira o cookie CSRF no navegador.
func (s *Service) ClearCookie() *http.Cookie {
	c := s.cookie("")
	c.MaxAge = -1
	return c
}

// Invalidate remove o token ativo da sessão (ex.: logout).
func (s *Service) Invalidate(r *http.Request) bool {
	return s.opts.Store.Delete(s.SessionID(r))
}

// Extract lê o token do header e, na falta dele, do cookie. Com SameSite=None
// o navegador manda o cookie em requisições cross-site, então só o header vale.
func (s *Service) Extract(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(s.opts.HeaderName)); v != "" {
		return v
	}
	if s.opts.SameSite == http.SameSiteNoneMode {
		return ""
	}
	if c, err := r.Cookie(s.opts.CookieName); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

func (s *Service) Validate(r *http.Request) Result {
	res := s.validate(s.Extract(r), s.SessionID(r))
	if res.Valid {
		s.metrics.Validated.Add(1)
	} else {
		s.metrics.fail(res.Reason)
	}
	return res
}

func (s *Service) validate(token, sessionID string) Result {
	if token == "" {
		return Result{Reason: ReasonMissing}
	}
	secret, sig, ok := strings.Cut(token, ".")
	if !ok || secret == "" || sig == "" {
		return Result{Reason: ReasonMalformed}
	}

	stored, ok := s.opts.Store.Get(sessionID)
	if !ok {
		return Result{Reason: ReasonNoActiveToken}
	}
	if s.opts.Now().After(stored.ExpiresAt) {
		s.opts.Store.Delete(sessionID)
		return Result{Reason: ReasonExpired}
	}

	want := s.sign(secret, sessionID)
	if subtle.ConstantTimeCompare([]byte(want), []byte(sig)) != 1 {
		return Result{Reason: ReasonInvalidSignature}
	}
	if subtle.ConstantTimeCompare([]byte(stored.Token), []byte(token)) != 1 {
		return Result{Reason: ReasonMismatch}
	}

	if s.opts.RotateOnUse {
		s.opts.Store.Delete(sessionID)
		return Result{Valid: true, Rotated: true}
	}
	return Result{Valid: true}
}

func (s *Service) Status() Status {
	m := s.metrics
	return Status{
		CookieName:       s.opts.CookieName,
		HeaderName:       s.opts.HeaderName,
		TokenTTL:         s.opts.TTL.String(),
		RotateOnUse:      s.opts.RotateOnUse,
		Generated:        m.Generated.Load(),
		Validated:        m.Validated.Load(),
		Failed:           m.Failed.Load(),
		Missing:          m.Missing.Load(),
		Malformed:        m.Malformed.Load(),
		NoActiveToken:    m.NoActiveToken.Load(),
		Expired:          m.Expired.Load(),
		InvalidSignature: m.InvalidSignature.Load(),
		Mismatch:         m.Mismatch.Load(),
	}
}
