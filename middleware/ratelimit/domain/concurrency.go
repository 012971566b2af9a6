package domain

// ConcurrencyLimiter controla requisições em andamento por IP de cliente.
//
// A semântica é: Acquire nunca bloqueia. Se o IP já atingiu o teto, retorna
// ok=false. Ao adquirir, retorna uma função de release idempotente; o contador
// nunca fica negativo.
type ConcurrencyLimiter interface {
	Acquire(ip string) (release func(), ok bool)
	InFlight(ip string) int
}
