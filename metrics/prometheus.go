// Package metrics exports gateway counters and histograms to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goliatone/go-ingress/core"
)

// DefaultLabels is the label set attached to every exported series. Tags
// outside this set are ignored and missing tags export as "".
var DefaultLabels = []string{"status", "event_type", "stage", "strategy"}

// DefaultDurationBuckets are millisecond buckets for *.duration_ms series.
var DefaultDurationBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

type Option func(*PrometheusRecorder)

// WithRegistry registers collectors on registry instead of a private one.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(r *PrometheusRecorder) {
		if registry != nil {
			r.registry = registry
		}
	}
}

func WithNamespace(namespace string) Option {
	return func(r *PrometheusRecorder) {
		r.namespace = sanitizeName(namespace)
	}
}

func WithLabels(labels ...string) Option {
	return func(r *PrometheusRecorder) {
		if len(labels) > 0 {
			r.labels = append([]string(nil), labels...)
		}
	}
}

func WithBuckets(buckets ...float64) Option {
	return func(r *PrometheusRecorder) {
		if len(buckets) > 0 {
			r.buckets = append([]float64(nil), buckets...)
		}
	}
}

// PrometheusRecorder implements core.MetricsRecorder. Vectors are created on
// first use of a metric name.
type PrometheusRecorder struct {
	registry  *prometheus.Registry
	namespace string
	labels    []string
	buckets   []float64

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

func NewPrometheusRecorder(opts ...Option) *PrometheusRecorder {
	recorder := &PrometheusRecorder{
		registry:   prometheus.NewRegistry(),
		labels:     append([]string(nil), DefaultLabels...),
		buckets:    append([]float64(nil), DefaultDurationBuckets...),
		counters:   map[string]*prometheus.CounterVec{},
		histograms: map[string]*prometheus.HistogramVec{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(recorder)
		}
	}
	return recorder
}

func (r *PrometheusRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value < 0 {
		return
	}
	counter, err := r.counter(name)
	if err != nil || counter == nil {
		return
	}
	counter.WithLabelValues(r.labelValues(tags)...).Add(float64(value))
}

func (r *PrometheusRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	histogram, err := r.histogram(name)
	if err != nil || histogram == nil {
		return
	}
	histogram.WithLabelValues(r.labelValues(tags)...).Observe(value)
}

// Handler serves the registry in the Prometheus text format.
func (r *PrometheusRecorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *PrometheusRecorder) counter(name string) (*prometheus.CounterVec, error) {
	metricName := sanitizeName(name)
	if metricName == "" {
		return nil, errors.New("metrics: metric name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.counters[metricName]; ok {
		return existing, nil
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Name:      metricName,
		Help:      "Gateway counter " + strings.TrimSpace(name) + ".",
	}, r.labels)
	if err := r.registry.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		vec = existing
	}
	r.counters[metricName] = vec
	return vec, nil
}

func (r *PrometheusRecorder) histogram(name string) (*prometheus.HistogramVec, error) {
	metricName := sanitizeName(name)
	if metricName == "" {
		return nil, errors.New("metrics: metric name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.histograms[metricName]; ok {
		return existing, nil
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace,
		Name:      metricName,
		Help:      "Gateway histogram " + strings.TrimSpace(name) + ".",
		Buckets:   r.buckets,
	}, r.labels)
	if err := r.registry.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return nil, err
		}
		vec = existing
	}
	r.histograms[metricName] = vec
	return vec, nil
}

func (r *PrometheusRecorder) labelValues(tags map[string]string) []string {
	values := make([]string, len(r.labels))
	for i, label := range r.labels {
		values[i] = strings.TrimSpace(tags[label])
	}
	return values
}

// sanitizeName maps dotted gateway metric names onto the Prometheus name
// alphabet: "ingress.accept.total" becomes "ingress_accept_total".
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == ':':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

var _ core.MetricsRecorder = (*PrometheusRecorder)(nil)
