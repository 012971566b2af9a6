package headers

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	NonceHeader = "X-CSP-Nonce"
	nonceBytes  = 16
)

// CORS configura os headers Access-Control-*.
// "*" em AllowedOrigins aceita qualquer origem (configuração permissiva).
type CORS struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// DefaultCORS devolve métodos/headers padrão para as origens dadas.
func DefaultCORS(origins ...string) CORS {
	return CORS{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-CSRF-Token", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           10 * time.Minute,
	}
}

func (c CORS) allows(origin string) bool {
	for _, o := range c.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

type Composer struct {
	Profile CspProfile
	CORS    CORS
	// PermissionsPolicy sobrescreve o valor padrão quando não vazio.
	PermissionsPolicy string
}

// Set é o conjunto de headers de uma resposta.
type Set struct {
	Nonce  string
	Header http.Header
}

// Apply escreve os headers em h com Set (sobrescrevendo valores anteriores),
// para que a resposta final nunca tenha CSP duplicado ou divergente.
func (s Set) Apply(h http.Header) {
	for k, v := range s.Header {
		h[k] = append([]string(nil), v...)
	}
}

const defaultPermissionsPolicy = "camera=(), microphone=(), geolocation=(), payment=(), usb=(), interest-cohort=()"

// NewNonce gera 16 bytes aleatórios em base64.
func NewNonce() (string, error) {
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("headers: read random: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

func (c Composer) Compose(r *http.Request) (Set, error) {
	nonce, err := NewNonce()
	if err != nil {
		return Set{}, err
	}
	return c.ComposeWithNonce(r, nonce), nil
}

func (c Composer) ComposeWithNonce(r *http.Request, nonce string) Set {
	h := make(http.Header)

	h.Set(c.Profile.HeaderName(), c.Profile.Policy(nonce))
	h.Set(NonceHeader, nonce)

	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-XSS-Protection", "1; mode=block")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	pp := c.PermissionsPolicy
	if pp == "" {
		pp = defaultPermissionsPolicy
	}
	h.Set("Permissions-Policy", pp)
	if c.Profile.HSTS != "" {
		h.Set("Strict-Transport-Security", c.Profile.HSTS)
	}

	c.applyCORS(h, r)
	return Set{Nonce: nonce, Header: h}
}

func (c Composer) applyCORS(h http.Header, r *http.Request) {
	h.Set("Vary", "Origin")

	origin := r.Header.Get("Origin")
	if origin == "" || !c.CORS.allows(origin) {
		return
	}
	// ecoa a origem: "*" literal não combina com credentials
	h.Set("Access-Control-Allow-Origin", origin)
	if len(c.CORS.AllowedMethods) > 0 {
		h.Set("Access-Control-Allow-Methods", strings.Join(c.CORS.AllowedMethods, ", "))
	}
	if len(c.CORS.AllowedHeaders) > 0 {
		h.Set("Access-Control-Allow-Headers", strings.Join(c.CORS.AllowedHeaders, ", "))
	}
	if c.CORS.AllowCredentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if IsPreflight(r) && c.CORS.MaxAge > 0 {
		h.Set("Access-Control-Max-Age", strconv.Itoa(int(c.CORS.MaxAge/time.Second)))
	}
}

// IsPreflight diz se a requisição é um preflight CORS.
func IsPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions &&
		r.Header.Get("Origin") != "" &&
		r.Header.Get("Access-Control-Request-Method") != ""
}
