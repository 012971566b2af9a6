// Package application contém os casos de uso (regras de aplicação) do rate limit:
// resolução de política por path, listas de IP, teto de concorrência e
// heurística de abuso.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Service.Check(ctx, req) retorna uma Decision (allow/deny + headers).
package application
