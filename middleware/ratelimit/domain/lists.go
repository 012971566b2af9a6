package domain

// IPSet é um conjunto de IPs de cliente consultado a cada requisição
// (block-list, allow-list e o conjunto de suspeitos).
type IPSet interface {
	Contains(ip string) bool
}

// Quarantine é o conjunto de IPs marcados como suspeitos.
// Entradas não expiram sozinhas.
type Quarantine interface {
	IPSet
	Add(ip, rule string) bool
}
