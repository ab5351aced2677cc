// Package metrics exposes converter transactions and readings to Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robotalks/minghe.go/pkg/minghe"
	"github.com/robotalks/minghe.go/pkg/minghe/comm"
)

// NewRegistry creates a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Metrics are the driver metrics. It implements comm.Observer.
type Metrics struct {
	Transactions *prometheus.CounterVec   // labels: command, result
	Latency      *prometheus.HistogramVec // labels: command
	Readings     *prometheus.GaugeVec     // labels: reading
	PollErrors   prometheus.Counter
}

// New registers and returns the driver metrics.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "minghe_transactions_total",
			Help: "Request/response transactions by command and result.",
		}, []string{"command", "result"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "minghe_transaction_seconds",
			Help:    "Transaction duration including the settle delay.",
			Buckets: []float64{.005, .01, .02, .05, .1, .2, .5, 1, 2},
		}, []string{"command"}),
		Readings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "minghe_reading",
			Help: "Last polled readings in SI units.",
		}, []string{"reading"}),
		PollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "minghe_poll_errors_total",
			Help: "Polls with at least one failed read.",
		}),
	}
	reg.MustRegister(m.Transactions, m.Latency, m.Readings, m.PollErrors)
	return m
}

// Result classifies a transaction error for the result label.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, comm.ErrTimeout):
		return "timeout"
	case errors.Is(err, comm.ErrJunkOverflow):
		return "junk"
	case errors.Is(err, comm.ErrAddressMismatch):
		return "address"
	case errors.Is(err, comm.ErrChecksum):
		return "checksum"
	case errors.Is(err, comm.ErrMalformedFrame):
		return "malformed"
	case errors.Is(err, comm.ErrUnexpectedResponse):
		return "unexpected"
	case errors.Is(err, comm.ErrNotAcknowledged):
		return "nak"
	}
	return "error"
}

// ObserveTransaction implements comm.Observer.
func (m *Metrics) ObserveTransaction(req *comm.Request, elapsed time.Duration, err error) {
	cmd := req.Command.String()
	m.Transactions.WithLabelValues(cmd, Result(err)).Inc()
	m.Latency.WithLabelValues(cmd).Observe(elapsed.Seconds())
}

// ObserveStatus records a polled status.
func (m *Metrics) ObserveStatus(s *minghe.Status, err error) {
	if err != nil {
		m.PollErrors.Inc()
	}
	output := 0.0
	if s.OutputEnabled {
		output = 1
	}
	for name, val := range map[string]float64{
		"voltage":     s.Volts(),
		"current":     s.Amps(),
		"watts":       float64(s.Watts),
		"output":      output,
		"limiting":    float64(s.Limiting),
		"temperature": float64(s.Temperature),
		"charge_mah":  float64(s.Charge),
		"on_time":     float64(s.OnTime),
		"max_voltage": float64(s.MaxVoltage) / 100,
		"max_current": float64(s.MaxCurrent) / 100,
	} {
		m.Readings.WithLabelValues(name).Set(val)
	}
}
