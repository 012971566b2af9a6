package gateway

import "net/http"

// secureWriter reaplica os headers de segurança no momento do WriteHeader,
// sobrescrevendo o que o handler seguinte (ou o upstream do proxy) tenha
// colocado. Assim a resposta nunca sai com CSP duplicado ou sem hardening.
type secureWriter struct {
	http.ResponseWriter
	enforce func(http.Header)

	status      int
	wroteHeader bool
}

func (w *secureWriter) WriteHeader(code int) {
	if w.wroteHeader {
		w.ResponseWriter.WriteHeader(code)
		return
	}
	w.enforce(w.ResponseWriter.Header())
	// 1xx não finaliza a resposta
	if code >= 200 {
		w.wroteHeader = true
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *secureWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *secureWriter) Flush() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap permite que http.ResponseController alcance o writer original.
func (w *secureWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *secureWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}
