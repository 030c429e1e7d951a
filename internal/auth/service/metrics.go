package service

import (
	"context"
	"time"

	"github.com/aussiebroadwan/rollcall/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts verb outcomes and latency. A nil *Metrics records nothing.
type Metrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the auth metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rollcall_auth_operations_total",
				Help: "Total number of auth operations by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rollcall_auth_operation_duration_seconds",
				Help:    "Auth operation latency by operation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
	}

	reg.MustRegister(m.OperationsTotal)
	reg.MustRegister(m.OperationDuration)

	return m
}

func (m *Metrics) observe(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(op, outcome(err)).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(d.Seconds())
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if k := Kind(err); k != nil {
		return k.Error()
	}
	return "error"
}

// track starts an operation: the returned context carries an op-scoped
// logger, and finish logs and records the outcome.
//
//	ctx, finish := track(ctx, s.Metrics, "login")
//	defer func() { finish(err) }()
func track(ctx context.Context, m *Metrics, op string) (context.Context, func(error)) {
	start := time.Now()
	ctx, done := slogx.Operation(ctx, op)
	return ctx, func(err error) {
		done(err)
		m.observe(op, time.Since(start), err)
	}
}
