package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gliner"

const (
	StageTokenize = "tokenize"
	StageEncode   = "encode_labels"
	StageExecute  = "execute"
	StageDecode   = "decode"
)

// Metrics groups the engine collectors. With a nil registerer the collectors
// work but are not exported anywhere. Engines sharing a registerer share the
// collectors, so the series add up across them.
type Metrics struct {
	Calls         *prometheus.CounterVec
	Texts         prometheus.Counter
	Entities      prometheus.Counter
	Chunks        prometheus.Counter
	Errors        *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Calls: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predict_calls_total",
			Help:      "Prediction calls by operation and outcome.",
		}, []string{"op", "outcome"})),
		Texts: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "texts_total",
			Help:      "Texts processed by successful prediction calls.",
		})),
		Entities: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entities_total",
			Help:      "Entities returned by successful prediction calls.",
		})),
		Chunks: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forward_passes_total",
			Help:      "Padded forward passes executed.",
		})),
		Errors: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Failed prediction calls by error kind.",
		}, []string{"kind"})),
		StageDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent per pipeline stage and call.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"stage"})),
	}
}

// register adds c to reg. A collector with the same descriptor that is
// already registered is returned instead, any other conflict panics.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) ObserveStage(stage string, since time.Time) {
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(since).Seconds())
}

func (m *Metrics) Succeeded(op string, texts, entities int) {
	m.Calls.WithLabelValues(op, "ok").Inc()
	m.Texts.Add(float64(texts))
	m.Entities.Add(float64(entities))
}

func (m *Metrics) Failed(op, kind string) {
	m.Calls.WithLabelValues(op, "error").Inc()
	m.Errors.WithLabelValues(kind).Inc()
}
