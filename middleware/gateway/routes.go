package gateway

import (
	"net/http"
	"strings"
)

// Routes classifica os paths para as checagens de autenticação.
type Routes struct {
	// APIPrefix marca rotas de API (respostas JSON/401 em vez de redirect).
	APIPrefix string
	// ProtectedPrefixes exigem sessão.
	ProtectedPrefixes []string
	// PublicAPIPrefixes dispensam sessão em qualquer método.
	PublicAPIPrefixes []string
	// PublicReadPrefixes dispensam sessão em métodos de leitura.
	PublicReadPrefixes []string
	// AuthOnlyPaths (login/signup) mandam sessões já autenticadas para a home.
	AuthOnlyPaths []string

	LoginPath         string
	AuthenticatedHome string
	// CSRFTokenPath é servido pelo próprio gateway (GET devolve o token).
	CSRFTokenPath string
}

func DefaultRoutes() Routes {
	return Routes{
		APIPrefix:          "/api/",
		ProtectedPrefixes:  []string{"/dashboard", "/account", "/api/dashboard"},
		PublicAPIPrefixes:  []string{"/api/auth/", "/api/health", "/api/csrf-token"},
		PublicReadPrefixes: []string{"/api/books", "/api/giveaways", "/api/authors"},
		AuthOnlyPaths:      []string{"/login", "/signup"},
		LoginPath:          "/login",
		AuthenticatedHome:  "/dashboard",
		CSRFTokenPath:      "/api/csrf-token",
	}
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func longestPrefix(path string, prefixes []string) string {
	best := ""
	for _, p := range prefixes {
		if p != "" && len(p) > len(best) && strings.HasPrefix(path, p) {
			best = p
		}
	}
	return best
}

// Class reduz o path a um rótulo de cardinalidade limitada para métricas:
// o prefixo configurado que casou, ou "api"/"page".
func (rt Routes) Class(path string) string {
	if rt.CSRFTokenPath != "" && path == rt.CSRFTokenPath {
		return rt.CSRFTokenPath
	}
	if rt.IsAuthOnly(path) {
		return path
	}
	for _, group := range [][]string{rt.ProtectedPrefixes, rt.PublicAPIPrefixes, rt.PublicReadPrefixes} {
		if p := longestPrefix(path, group); p != "" {
			return p
		}
	}
	if rt.IsAPI(path) {
		return "api"
	}
	return "page"
}

func (rt Routes) IsAPI(path string) bool {
	return rt.APIPrefix != "" && strings.HasPrefix(path, rt.APIPrefix)
}

func (rt Routes) IsProtected(path string) bool {
	return hasAnyPrefix(path, rt.ProtectedPrefixes)
}

func (rt Routes) IsAuthOnly(path string) bool {
	for _, p := range rt.AuthOnlyPaths {
		if path == p {
			return true
		}
	}
	return false
}

// RequiresAPIAuth diz se a rota de API precisa de sessão.
func (rt Routes) RequiresAPIAuth(r *http.Request) bool {
	path := r.URL.Path
	if !rt.IsAPI(path) {
		return false
	}
	if hasAnyPrefix(path, rt.PublicAPIPrefixes) {
		return false
	}
	if safeMethod(r.Method) && hasAnyPrefix(path, rt.PublicReadPrefixes) {
		return false
	}
	return true
}

func safeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}
