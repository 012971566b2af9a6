package gateway

import (
	"net/http"
	"net/url"
	"regexp"
)

// Assinaturas estáticas de ataque no alvo da requisição. Filtro barato e sem
// estado, independente da heurística de abuso.
var attackPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\.\.[/\\]`),
	regexp.MustCompile(`(?i)%2e%2e|%252e%252e`),
	regexp.MustCompile(`(?i)<\s*script`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)data\s*:\s*text/html`),
	regexp.MustCompile(`\x00|%00`),
}

// SuspiciousTarget diz se o alvo bruto (ou sua forma decodificada) casa com
// alguma assinatura conhecida.
func SuspiciousTarget(r *http.Request) bool {
	raw := r.RequestURI
	if raw == "" {
		raw = r.URL.RequestURI()
	}
	for _, candidate := range targetForms(raw) {
		for _, p := range attackPatterns {
			if p.MatchString(candidate) {
				return true
			}
		}
	}
	return false
}

// targetForms devolve o alvo bruto e até duas camadas de decodificação
// (pega %252e%252e e afins).
func targetForms(raw string) []string {
	forms := []string{raw}
	cur := raw
	for i := 0; i < 2; i++ {
		dec, err := url.PathUnescape(cur)
		if err != nil || dec == cur {
			break
		}
		forms = append(forms, dec)
		cur = dec
	}
	return forms
}
