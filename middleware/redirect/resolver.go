// Package redirect decide se uma sessão autenticada está no host errado para o
// seu tipo de conta.
package redirect

import (
	"net"
	"strings"
)

// Tipos de conta conhecidos.
const (
	AccountAuthor = "author"
	AccountReader = "reader"
	AccountBoth   = "both"
)

// FailPolicy define o que uma checagem faz quando o dado de apoio falta.
type FailPolicy int

const (
	// FailOpen segue sem aplicar a checagem.
	FailOpen FailPolicy = iota
	// FailClosed trata a falta de dado como negação.
	FailClosed
)

func (p FailPolicy) String() string {
	if p == FailClosed {
		return "fail-closed"
	}
	return "fail-open"
}

// Políticas por checagem. O redirect é conveniência de roteamento, não controle
// de acesso; autenticação nunca passa sem sessão confirmada.
const (
	RedirectFailPolicy = FailOpen
	AuthFailPolicy     = FailClosed
)

// Resolver mapeia tipo de conta -> host canônico.
type Resolver struct {
	Hosts map[string]string
}

func NewResolver(authorHost, readerHost string) Resolver {
	hosts := map[string]string{}
	if authorHost != "" {
		hosts[AccountAuthor] = authorHost
	}
	if readerHost != "" {
		hosts[AccountReader] = readerHost
	}
	return Resolver{Hosts: hosts}
}

// Resolve devolve o host de destino quando currentHost não é o canônico do
// tipo de conta. Contas "both" e tipos desconhecidos nunca são redirecionados.
func (r Resolver) Resolve(accountType, currentHost string) (string, bool) {
	accountType = strings.ToLower(strings.TrimSpace(accountType))
	if accountType == "" || accountType == AccountBoth {
		return "", false
	}
	target, ok := r.Hosts[accountType]
	if !ok || target == "" {
		return "", false
	}
	if sameHost(target, currentHost) {
		return "", false
	}
	return target, true
}

func sameHost(a, b string) bool {
	return strings.EqualFold(stripPort(a), stripPort(b))
}

func stripPort(h string) string {
	h = strings.TrimSpace(h)
	if host, _, err := net.SplitHostPort(h); err == nil {
		return host
	}
	return h
}
