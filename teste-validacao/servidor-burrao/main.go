package main

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
)

// Upstream "burro" para validar o gateway na mão: não sabe nada de segurança,
// só renderiza o nonce que o gateway encaminha e tenta impor a própria CSP
// (que o gateway deve sobrescrever).
func main() {
	http.HandleFunc("/showTela", func(w http.ResponseWriter, r *http.Request) {
		nonce := html.EscapeString(r.Header.Get("X-CSP-Nonce"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Content-Security-Policy", "default-src *")
		fmt.Fprintf(w, "<h1>Tela do Sistema</h1><p>Requisição recebida com sucesso!</p>"+
			"<script nonce=\"%s\">document.body.dataset.ok = \"1\"</script>", nonce)
		fmt.Printf("Log: /showTela request_id=%s nonce=%s\n", r.Header.Get("X-Request-ID"), nonce)
	})
	http.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": r.Header.Get("X-Request-ID"),
		})
	})
	fmt.Println("Servidor rodando em http://localhost:8082")
	err := http.ListenAndServe(":8082", nil)
	if err != nil {
		fmt.Printf("Erro ao subir o servidor: %s\n", err)
	}
}
