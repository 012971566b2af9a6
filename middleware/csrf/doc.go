// Package csrf emite e valida tokens CSRF assinados e vinculados à sessão.
//
// Token = segredo.assinatura, onde assinatura = HMAC-SHA256(chave do servidor,
// segredo + sessionID). Há um único token ativo por sessão: emitir de novo
// sobrescreve o anterior.
//
// Só métodos que alteram estado (POST, PUT, PATCH, DELETE) são validados.
package csrf
