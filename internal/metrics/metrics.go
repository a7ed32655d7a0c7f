package metrics

import (
	"net/http"
	"time"

	"github.com/berfenger/devbridge2mqtt/pkg/relayboard"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	RESULT_OK     = "ok"
	RESULT_ERROR  = "error"
	RESULT_REJECT = "rejected"
)

// Metrics holds the bridge collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	refreshTotal    *prometheus.CounterVec
	refreshDuration *prometheus.HistogramVec
	deviceAvailable *prometheus.GaugeVec
	lastRefresh     *prometheus.GaugeVec
	commandTotal    *prometheus.CounterVec
	publishTotal    *prometheus.CounterVec
	modbusDuration  *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devbridge_coordinator_refresh_total",
			Help: "Coordinator refreshes by device and result",
		}, []string{"device", "result"}),
		refreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "devbridge_coordinator_refresh_duration_seconds",
			Help:    "Duration of coordinator refreshes",
			Buckets: prometheus.DefBuckets,
		}, []string{"device"}),
		deviceAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "devbridge_device_available",
			Help: "1 if the last refresh of the device succeeded",
		}, []string{"device"}),
		lastRefresh: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "devbridge_device_last_refresh_timestamp_seconds",
			Help: "Last successful refresh timestamp (epoch seconds)",
		}, []string{"device"}),
		commandTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devbridge_entity_command_total",
			Help: "Entity commands by device and result",
		}, []string{"device", "result"}),
		publishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devbridge_mqtt_publish_total",
			Help: "MQTT publishes by result",
		}, []string{"result"}),
		modbusDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "devbridge_modbus_call_duration_seconds",
			Help:    "Duration of relay board modbus calls",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"fn"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.refreshTotal,
		m.refreshDuration,
		m.deviceAvailable,
		m.lastRefresh,
		m.commandTotal,
		m.publishTotal,
		m.modbusDuration,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveRefresh(device string, ok bool, duration time.Duration, at time.Time) {
	m.refreshDuration.WithLabelValues(device).Observe(duration.Seconds())
	if ok {
		m.refreshTotal.WithLabelValues(device, RESULT_OK).Inc()
		m.deviceAvailable.WithLabelValues(device).Set(1)
		m.lastRefresh.WithLabelValues(device).Set(float64(at.Unix()))
	} else {
		m.refreshTotal.WithLabelValues(device, RESULT_ERROR).Inc()
		m.deviceAvailable.WithLabelValues(device).Set(0)
	}
}

func (m *Metrics) ObserveCommand(device string, result string) {
	m.commandTotal.WithLabelValues(device, result).Inc()
}

func (m *Metrics) ObservePublish(err error) {
	if err != nil {
		m.publishTotal.WithLabelValues(RESULT_ERROR).Inc()
		return
	}
	m.publishTotal.WithLabelValues(RESULT_OK).Inc()
}

// ModbusInstrument records relay board call durations.
func (m *Metrics) ModbusInstrument() *relayboard.ModbusInstrument {
	return &relayboard.ModbusInstrument{
		RecordTime: func(fnName string, readTime time.Duration) {
			m.modbusDuration.WithLabelValues(fnName).Observe(readTime.Seconds())
		},
	}
}
