package negotiation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSuccess  = "success"
	outcomeFailure  = "failure"
	outcomeAccepted = "accepted"
	outcomeDeclined = "declined"
)

const (
	operationCreateOffer   = "create_offer"
	operationProcessOffer  = "process_offer"
	operationProcessAnswer = "process_answer"
)

// Metrics Prometheus метрики согласования.
// Один экземпляр разделяется всеми сессиями процесса.
// Все методы допускают nil получателя.
type Metrics struct {
	operations    *prometheus.CounterVec
	mediaLines    *prometheus.CounterVec
	activeStreams prometheus.Gauge
	duration      *prometheus.HistogramVec
}

// NewMetrics создает и регистрирует метрики в reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sdp",
			Subsystem: "negotiation",
			Name:      "operations_total",
			Help:      "Total number of offer/answer operations by outcome",
		}, []string{"operation", "outcome"}),
		mediaLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sdp",
			Subsystem: "negotiation",
			Name:      "media_lines_total",
			Help:      "Total number of negotiated media lines by outcome",
		}, []string{"media", "outcome"}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sdp",
			Subsystem: "negotiation",
			Name:      "active_streams",
			Help:      "Number of streams currently held by negotiation sessions",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sdp",
			Subsystem: "negotiation",
			Name:      "operation_duration_seconds",
			Help:      "Duration of offer/answer operations",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"operation"}),
	}

	for _, c := range []prometheus.Collector{m.operations, m.mediaLines, m.activeStreams, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeOperation(operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeFailure
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func (m *Metrics) observeLine(mediaType MediaType, declined bool) {
	if m == nil {
		return
	}
	outcome := outcomeAccepted
	if declined {
		outcome = outcomeDeclined
	}
	m.mediaLines.WithLabelValues(mediaType.String(), outcome).Inc()
}

func (m *Metrics) addStreams(delta int) {
	if m == nil || delta == 0 {
		return
	}
	m.activeStreams.Add(float64(delta))
}
