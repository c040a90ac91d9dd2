package driver

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	A "github.com/t4nic/t4api"
)

// Metrics holds the prometheus collectors shared by every adapter. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	gateBegin         *prometheus.CounterVec
	gateWait          prometheus.Histogram
	filterOps         *prometheus.CounterVec
	filterCompletions *prometheus.CounterVec
	filtersInUse      *prometheus.GaugeVec
	vectors           *prometheus.GaugeVec
	planStep          *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	if namespace == "" {
		namespace = "t4"
	}

	m := &Metrics{
		gateBegin: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "begin_total",
			Help:      "Admission attempts by result.",
		}, []string{"result"}),
		gateWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for the adapter to become idle.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		filterOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "filter",
			Name:      "ops_total",
			Help:      "Filter install/remove calls by result.",
		}, []string{"op", "result"}),
		filterCompletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "filter",
			Name:      "completions_total",
			Help:      "Asynchronous filter replies by outcome.",
		}, []string{"outcome"}),
		filtersInUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "filter",
			Name:      "in_use",
			Help:      "Filter slots that are not empty.",
		}, []string{"adapter"}),
		vectors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "intr",
			Name:      "vectors_allocated",
			Help:      "Interrupt vectors held by the adapter.",
		}, []string{"adapter", "kind"}),
		planStep: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intr",
			Name:      "plan_step_total",
			Help:      "Accepted resource plans by degradation step.",
		}, []string{"step"}),
	}

	for _, c := range []prometheus.Collector{
		m.gateBegin, m.gateWait, m.filterOps, m.filterCompletions,
		m.filtersInUse, m.vectors, m.planStep,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func resultLabel(err error) string {
	var fwErr *A.FirmwareError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, A.ErrBusy):
		return "busy"
	case errors.Is(err, A.ErrCancelled):
		return "cancelled"
	case errors.Is(err, A.ErrDeviceGone):
		return "gone"
	case errors.As(err, &fwErr):
		return "firmware_error"
	}
	return "error"
}

func (m *Metrics) observeBegin(err error, waited time.Duration) {
	if m == nil {
		return
	}
	m.gateBegin.WithLabelValues(resultLabel(err)).Inc()
	if waited > 0 {
		m.gateWait.Observe(waited.Seconds())
	}
}

func (m *Metrics) observeFilterOp(op A.FilterOp, err error) {
	if m == nil {
		return
	}
	m.filterOps.WithLabelValues(op.String(), resultLabel(err)).Inc()
}

func (m *Metrics) observeCompletion(code A.ReplyCode) {
	if m == nil {
		return
	}
	outcome := "error"
	switch code {
	case A.ReplyAdded:
		outcome = "added"
	case A.ReplyDeleted:
		outcome = "deleted"
	}
	m.filterCompletions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) setFiltersInUse(adapter string, n int) {
	if m == nil {
		return
	}
	m.filtersInUse.WithLabelValues(adapter).Set(float64(n))
}

func (m *Metrics) setVectors(adapter string, kind A.VectorKind, n int) {
	if m == nil {
		return
	}
	m.vectors.WithLabelValues(adapter, kind.String()).Set(float64(n))
}

func (m *Metrics) observePlan(step PlanStep) {
	if m == nil {
		return
	}
	m.planStep.WithLabelValues(step.String()).Inc()
}
