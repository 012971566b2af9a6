// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - WindowStore: contadores de janela fixa por chave, com janitor
//   - TokenBucketStore: token bucket por chave usando golang.org/x/time/rate
//   - ConcurrencyCounter: requisições em andamento por IP, com timer de segurança
//   - IPList / SuspiciousSet: block-list, allow-list e quarentena de IPs
package infra
