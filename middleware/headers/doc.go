// Package headers compõe os headers de segurança de cada resposta:
// Content-Security-Policy com nonce por requisição, CORS e headers de
// endurecimento (nosniff, frame, referrer, permissions, HSTS).
//
// Os perfis de CSP são configurações nomeadas escolhidas na inicialização
// (DevelopmentProfile, ProductionProfile).
package headers
