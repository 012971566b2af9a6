// Package ratelimit fornece o adapter HTTP (net/http) para o rate limit do gateway.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (política por path, listas, concorrência, heurística)
//   - infra: implementações concretas (janela fixa, token bucket, contadores), detalhes de infraestrutura
//   - ratelimit (este pacote): middleware HTTP + extração de IP/chave + tradução para status/headers
//
// Fluxo no gateway:
//
//   1) Extrai o IP do cliente (header/XFF/RemoteAddr)
//   2) Chama a camada application para obter a decisão
//   3) Escreve X-RateLimit-* e, se bloqueado, Retry-After + 429 (403 para block-list)
//   4) Se permitido, chama o próximo handler e libera a vaga de concorrência no fim
//
// O orquestrador (middleware/gateway) usa as mesmas funções de tradução.
package ratelimit
