package events

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink conta eventos em métricas Prometheus.
//
// Labels têm cardinalidade baixa de propósito: nada de IP, chave ou path.
type PrometheusSink struct {
	decisions *prometheus.CounterVec
	faults    prometheus.Counter
}

// NewPrometheusSink registra as métricas em reg (nil = registry padrão).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "decisions_total",
			Help:      "Gateway decisions by kind, check, reason and status.",
		}, []string{"kind", "check", "reason", "status"}),
		faults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "internal_faults_total",
			Help:      "Unexpected faults recovered by the gateway.",
		}),
	}
	for _, c := range []prometheus.Collector{s.decisions, s.faults} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *PrometheusSink) Record(_ context.Context, ev Event) error {
	status := ""
	if ev.Status != 0 {
		status = strconv.Itoa(ev.Status)
	}
	reason := ev.Reason
	if ev.Kind == KindFault || ev.Kind == KindCollaborator {
		// texto livre de erro não vira label
		reason = ""
	}
	s.decisions.WithLabelValues(string(ev.Kind), ev.Check, reason, status).Inc()
	if ev.Kind == KindFault {
		s.faults.Inc()
	}
	return nil
}
