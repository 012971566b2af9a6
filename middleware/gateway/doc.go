// Package gateway é o ponto de entrada único, executado uma vez por requisição.
//
// Sequência de estados:
//
//	Init -> HeaderPrep -> SuspiciousRequestScan -> RateLimitCheck ->
//	ProtectedRouteCheck -> CsrfCheck -> RedirectCheck -> ApiAuthCheck ->
//	PassThrough | ShortCircuit(reason)
//
// Os headers de segurança preparados em HeaderPrep vão em toda resposta, seja
// ela produzida pelo gateway (ShortCircuit) ou pelo handler seguinte
// (PassThrough).
//
// Sessão e tipo de conta vêm de colaboradores externos (SessionProvider,
// ProfileStore). Toda chamada a eles tem timeout; falha no redirect segue
// adiante (fail-open), falha na autenticação nega (fail-closed).
package gateway
