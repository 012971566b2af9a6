package headers

import (
	"strings"
)

// Directive é uma diretiva CSP (nome + fontes).
type Directive struct {
	Name    string
	Sources []string
}

// CspProfile é um conjunto nomeado de diretivas e headers dependentes de ambiente.
type CspProfile struct {
	Name       string
	Directives []Directive
	ReportOnly bool
	ReportURI  string
	HSTS       string
}

const nonceSource = "{nonce}"

// ProductionProfile é a política estrita.
func ProductionProfile() CspProfile {
	return CspProfile{
		Name: "production",
		Directives: []Directive{
			{"default-src", []string{"'self'"}},
			{"script-src", []string{"'self'", nonceSource, "'strict-dynamic'"}},
			{"style-src", []string{"'self'", "'unsafe-inline'"}},
			{"img-src", []string{"'self'", "data:", "https:"}},
			{"font-src", []string{"'self'", "data:"}},
			{"connect-src", []string{"'self'"}},
			{"frame-ancestors", []string{"'none'"}},
			{"form-action", []string{"'self'"}},
			{"base-uri", []string{"'self'"}},
			{"object-src", []string{"'none'"}},
			{"upgrade-insecure-requests", nil},
		},
		HSTS: "max-age=63072000; includeSubDomains; preload",
	}
}

// DevelopmentProfile libera eval/inline e websockets locais para live-reload.
func DevelopmentProfile() CspProfile {
	return CspProfile{
		Name: "development",
		Directives: []Directive{
			{"default-src", []string{"'self'"}},
			{"script-src", []string{"'self'", nonceSource, "'unsafe-eval'", "'unsafe-inline'"}},
			{"style-src", []string{"'self'", "'unsafe-inline'"}},
			{"img-src", []string{"'self'", "data:", "blob:", "http:", "https:"}},
			{"font-src", []string{"'self'", "data:"}},
			{"connect-src", []string{"'self'", "ws://localhost:*", "ws://127.0.0.1:*", "http://localhost:*"}},
			{"frame-ancestors", []string{"'none'"}},
			{"object-src", []string{"'none'"}},
		},
		HSTS: "max-age=0",
	}
}

// ProfileFor escolhe o perfil pelo ambiente ("development"/"dev"/"local"
// usam o perfil permissivo; qualquer outro valor usa o estrito).
func ProfileFor(env string) CspProfile {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "development", "dev", "local":
		return DevelopmentProfile()
	}
	return ProductionProfile()
}

// Policy monta a string CSP com o nonce aplicado.
// Se script-src não tiver o marcador de nonce, ele é acrescentado.
func (p CspProfile) Policy(nonce string) string {
	var b strings.Builder
	hasScript := false
	for i, d := range p.Directives {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(d.Name)
		sources := d.Sources
		if d.Name == "script-src" {
			hasScript = true
			sources = withNonce(sources, nonce)
		}
		for _, src := range sources {
			b.WriteByte(' ')
			b.WriteString(src)
		}
	}
	if !hasScript {
		if b.Len() > 0 {
			b.WriteString("; ")
		}
		b.WriteString("script-src 'self' 'nonce-" + nonce + "'")
	}
	if p.ReportURI != "" {
		b.WriteString("; report-uri " + p.ReportURI)
	}
	return b.String()
}

func withNonce(sources []string, nonce string) []string {
	out := make([]string, 0, len(sources)+1)
	found := false
	for _, s := range sources {
		if s == nonceSource {
			s = "'nonce-" + nonce + "'"
			found = true
		}
		out = append(out, s)
	}
	if !found {
		out = append(out, "'nonce-"+nonce+"'")
	}
	return out
}

// HeaderName é o header CSP conforme o modo (enforce/report-only).
func (p CspProfile) HeaderName() string {
	if p.ReportOnly {
		return "Content-Security-Policy-Report-Only"
	}
	return "Content-Security-Policy"
}
