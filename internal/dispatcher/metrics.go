package dispatcher

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 记录每个服务客户端调用的次数、结果和耗时。
// nil *Metrics 是合法的，此时不记录任何指标。
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics 创建指标并注册到 reg。若同名指标已注册（例如同一配置中有多个处理器实例），
// 则复用已注册的收集器。
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	calls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "caddy",
			Subsystem: "cloud_monitor",
			Name:      "client_calls_total",
			Help:      "Number of per-service client invocations by operation and outcome.",
		},
		[]string{"service", "operation", "outcome"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "caddy",
			Subsystem: "cloud_monitor",
			Name:      "client_call_duration_seconds",
			Help:      "Latency of per-service client invocations.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "operation"},
	)

	var err error
	if calls, err = registerOrReuse(reg, calls); err != nil {
		return nil, err
	}
	if duration, err = registerOrReuse(reg, duration); err != nil {
		return nil, err
	}
	return &Metrics{calls: calls, duration: duration}, nil
}

func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) observe(service, operation, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(service, operation, outcome).Inc()
	m.duration.WithLabelValues(service, operation).Observe(time.Since(start).Seconds())
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
