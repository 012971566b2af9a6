package csrf

import "sync/atomic"

// Metrics conta resultados de emissão e validação com contadores atômicos.
type Metrics struct {
	Generated        atomic.Int64
	Validated        atomic.Int64
	Failed           atomic.Int64
	Missing          atomic.Int64
	Malformed        atomic.Int64
	NoActiveToken    atomic.Int64
	Expired          atomic.Int64
	InvalidSignature atomic.Int64
	Mismatch         atomic.Int64
}

// Status é a representação dos contadores na API admin.
type Status struct {
	CookieName       string `json:"cookie_name"`
	HeaderName       string `json:"header_name"`
	TokenTTL         string `json:"token_ttl"`
	RotateOnUse      bool   `json:"rotate_on_use"`
	Generated        int64  `json:"generated"`
	Validated        int64  `json:"validated"`
	Failed           int64  `json:"failed"`
	Missing          int64  `json:"missing"`
	Malformed        int64  `json:"malformed"`
	NoActiveToken    int64  `json:"no_active_token"`
	Expired          int64  `json:"expired"`
	InvalidSignature int64  `json:"invalid_signature"`
	Mismatch         int64  `json:"mismatch"`
}

func (m *Metrics) fail(reason Reason) {
	m.Failed.Add(1)
	switch reason {
	case ReasonMissing:
		m.Missing.Add(1)
	case ReasonMalformed:
		m.Malformed.Add(1)
	case ReasonNoActiveToken:
		m.NoActiveToken.Add(1)
	case ReasonExpired:
		m.Expired.Add(1)
	case ReasonInvalidSignature:
		m.InvalidSignature.Add(1)
	case ReasonMismatch:
		m.Mismatch.Add(1)
	}
}
