// utilitário pequeno para formatação rápida/consistente de valores numéricos em headers.
//    Evita puxar fmt só para formatação simples e padroniza o arredondamento
//    de Retry-After (sempre para cima, nunca negativo).

package ratelimit

import (
	"strconv"
	"time"
)

func formatInt(v int) string { return strconv.Itoa(v) }

func formatUnix(t time.Time) string { return strconv.FormatInt(t.Unix(), 10) }

// retryAfterSeconds arredonda para cima: 1.2s vira 2.
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
