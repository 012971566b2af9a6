package application

import (
	"fmt"
	"time"

	"security-gateway/middleware/ratelimit/domain"
)

// BurstRule marca uma identidade quando ela faz mais de Max requisições
// em até Within desde o início da janela.
type BurstRule struct {
	Within time.Duration
	Max    int
}

func (r BurstRule) String() string {
	return fmt.Sprintf(">%d in %s", r.Max, r.Within)
}

// DefaultBurstRules são as regras padrão, avaliadas em ordem.
func DefaultBurstRules() []BurstRule {
	return []BurstRule{
		{Within: 1 * time.Second, Max: 10},
		{Within: 10 * time.Second, Max: 50},
		{Within: 60 * time.Second, Max: 100},
	}
}

type Verdict struct {
	Suspicious bool
	Rule       string
}

// Heuristics detecta rajadas por identidade a partir da entrada do contador.
// Deve rodar depois do incremento para enxergar a contagem real.
type Heuristics struct {
	Rules []BurstRule
}

func (h Heuristics) Evaluate(_ domain.Key, e domain.Entry) Verdict {
	rules := h.Rules
	if rules == nil {
		rules = DefaultBurstRules()
	}
	elapsed := e.LastRequestAt.Sub(e.FirstRequestAt)
	for _, r := range rules {
		if elapsed <= r.Within && e.Count > r.Max {
			return Verdict{Suspicious: true, Rule: r.String()}
		}
	}
	return Verdict{}
}
