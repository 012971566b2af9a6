package gateway

import "net/http"

// State é o estágio do orquestrador para uma requisição.
type State int

const (
	StateInit State = iota
	StateHeaderPrep
	StateSuspiciousRequestScan
	StateRateLimitCheck
	StateProtectedRouteCheck
	StateCsrfCheck
	StateRedirectCheck
	StateApiAuthCheck
	StatePassThrough
	StateShortCircuit
)

var stateNames = [...]string{
	StateInit:                  "init",
	StateHeaderPrep:            "header_prep",
	StateSuspiciousRequestScan: "suspicious_request_scan",
	StateRateLimitCheck:        "rate_limit_check",
	StateProtectedRouteCheck:   "protected_route_check",
	StateCsrfCheck:             "csrf_check",
	StateRedirectCheck:         "redirect_check",
	StateApiAuthCheck:          "api_auth_check",
	StatePassThrough:           "pass_through",
	StateShortCircuit:          "short_circuit",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Outcome é o resultado final do orquestrador para uma requisição.
type Outcome struct {
	State State
	// At é o estágio que produziu o ShortCircuit (ou StatePassThrough).
	At       State
	Status   int
	Reason   string
	Location string

	key   string
	write func(http.ResponseWriter)
}

// Reasons produzidos pelo próprio orquestrador.
const (
	ReasonSuspiciousRequest = "suspicious request"
	ReasonUnauthenticated   = "authentication required"
	ReasonWrongHost         = "wrong host for account type"
	ReasonAuthOnlyPage      = "already authenticated"
	ReasonPreflight         = "cors preflight"
	ReasonCSRFToken         = "csrf token issued"
	ReasonInternal          = "internal error"
)
