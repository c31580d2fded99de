package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry           *prometheus.Registry
	registryOnce       sync.Once
	defaultMetricsPath = "/metrics"
	metricsEnabled     = true

	// Hub metrics
	HubTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "translate_hub_ticks_total",
		Help: "Number of hub event loop ticks",
	})
	CallState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "translate_hub_call_state",
		Help: "Current call lifecycle state (1 for the active state)",
	}, []string{"state"})
	CallsServed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "translate_hub_calls_served_total",
		Help: "Number of calls that reached disconnect",
	})
	CallsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "translate_hub_calls_rejected_total",
		Help: "Number of calls rejected by policy",
	}, []string{"reason"})
	Callbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "translate_hub_callbacks_total",
		Help: "Number of call-backs placed after a declined call",
	})
	Utterances = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "translate_hub_utterances_total",
		Help: "Synthesis requests issued by the hub",
	}, []string{"kind"})

	// Recognition and translation
	Hypotheses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "translate_hub_hypotheses_total",
		Help: "Hypotheses handled by the hub by source and outcome",
	}, []string{"source", "outcome"})
	ResolverEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "translate_hub_resolver_evictions_total",
		Help: "Pending recognizer results resolved by timeout",
	})
	BackendLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "translate_hub_backend_latency_seconds",
		Help:    "Latency of recognition, translation and synthesis backends",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage", "backend"})
	BackendErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "translate_hub_backend_errors_total",
		Help: "Backend failures by stage",
	}, []string{"stage", "backend"})
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "translate_hub_backend_breaker_state",
		Help: "Backend circuit breaker state (0 closed, 1 half-open, 2 open)",
	}, []string{"backend"})

	// Stage supervision
	StageFaults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "translate_hub_stage_faults_total",
		Help: "Fatal stage faults",
	}, []string{"stage"})
	StageFlushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "translate_hub_stage_flushes_total",
		Help: "Flush commands handled by stages",
	}, []string{"stage"})
	StageSlowTicks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "translate_hub_stage_slow_ticks_total",
		Help: "Stage ticks whose work exceeded the slow threshold",
	}, []string{"stage"})

	// Telephony
	SIPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "translate_hub_sip_requests_total",
		Help: "SIP requests received",
	}, []string{"method", "status"})
	RTPPackets = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "translate_hub_rtp_packets_total",
		Help: "RTP packets handled",
	}, []string{"direction"})

	// AMQP
	AMQPPublishedMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "translate_hub_amqp_published_messages_total",
		Help: "Session events published to AMQP",
	}, []string{"queue", "status"})
	AMQPConnectionStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "translate_hub_amqp_connection_status",
		Help: "AMQP connection status (1 connected, 0 disconnected)",
	})
)

// Init registers all metrics with a dedicated registry
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			HubTicks,
			CallState,
			CallsServed,
			CallsRejected,
			Callbacks,
			Utterances,
			Hypotheses,
			ResolverEvictions,
			BackendLatency,
			BackendErrors,
			BreakerState,
			StageFaults,
			StageFlushes,
			StageSlowTicks,
			SIPRequestsTotal,
			RTPPackets,
			AMQPPublishedMessages,
			AMQPConnectionStatus,
		)

		logger.Info("Prometheus metrics initialized")
	})
}

// GetRegistry returns the prometheus registry
func GetRegistry() *prometheus.Registry {
	return registry
}

// EnableMetrics enables or disables metrics collection
func EnableMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IsMetricsEnabled returns whether metrics are enabled
func IsMetricsEnabled() bool {
	return metricsEnabled
}

// RegisterHandler registers the metrics HTTP handler
func RegisterHandler(mux *http.ServeMux) {
	if metricsEnabled && registry != nil {
		handler := promhttp.HandlerFor(
			registry,
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
				Registry:          registry,
			},
		)
		mux.Handle(defaultMetricsPath, handler)
	}
}

// StartMetrics initializes the metrics service
func StartMetrics(logger *logrus.Logger, enabled bool) {
	if !enabled {
		EnableMetrics(false)
		logger.Info("Metrics collection is disabled")
		return
	}

	Init(logger)
	EnableMetrics(true)
	logger.WithField("metrics_path", defaultMetricsPath).Info("Metrics endpoint initialized")
}

// SetCallState marks state as the single active call state
func SetCallState(state string, all []string) {
	if !metricsEnabled {
		return
	}
	for _, s := range all {
		if s == state {
			CallState.WithLabelValues(s).Set(1)
		} else {
			CallState.WithLabelValues(s).Set(0)
		}
	}
}

// RecordHypothesis counts a hypothesis outcome: forwarded, not_understood or error
func RecordHypothesis(source, outcome string) {
	if metricsEnabled {
		Hypotheses.WithLabelValues(source, outcome).Inc()
	}
}

// RecordUtterance counts a synthesis request by kind
func RecordUtterance(kind string) {
	if metricsEnabled {
		Utterances.WithLabelValues(kind).Inc()
	}
}

// RecordRejectedCall counts a call rejected for reason
func RecordRejectedCall(reason string) {
	if metricsEnabled {
		CallsRejected.WithLabelValues(reason).Inc()
	}
}

// RecordStageFault counts a fatal stage fault
func RecordStageFault(stage string) {
	if metricsEnabled {
		StageFaults.WithLabelValues(stage).Inc()
	}
}

// RecordStageFlush counts a handled flush
func RecordStageFlush(stage string) {
	if metricsEnabled {
		StageFlushes.WithLabelValues(stage).Inc()
	}
}

// RecordSlowTick counts a slow stage tick
func RecordSlowTick(stage string) {
	if metricsEnabled {
		StageSlowTicks.WithLabelValues(stage).Inc()
	}
}

// RecordSIPRequest records a SIP request
func RecordSIPRequest(method, status string) {
	if metricsEnabled {
		SIPRequestsTotal.WithLabelValues(method, status).Inc()
	}
}

// RecordRTPPacket records an RTP packet in the given direction
func RecordRTPPacket(direction string) {
	if metricsEnabled {
		RTPPackets.WithLabelValues(direction).Inc()
	}
}

// RecordBackendError counts a failed backend request
func RecordBackendError(stage, backend string) {
	if metricsEnabled {
		BackendErrors.WithLabelValues(stage, backend).Inc()
	}
}

// ObserveBackendLatency starts a timer and returns the function that records it
func ObserveBackendLatency(stage, backend string) func() {
	if !metricsEnabled {
		return func() {}
	}
	timer := prometheus.NewTimer(BackendLatency.WithLabelValues(stage, backend))
	return func() {
		timer.ObserveDuration()
	}
}

// SetBreakerState records the circuit breaker state of a backend
func SetBreakerState(backend string, state int) {
	if metricsEnabled {
		BreakerState.WithLabelValues(backend).Set(float64(state))
	}
}

// RecordAMQPPublish records an AMQP publish attempt
func RecordAMQPPublish(queue, status string) {
	if metricsEnabled {
		AMQPPublishedMessages.WithLabelValues(queue, status).Inc()
	}
}

// SetAMQPConnectionStatus sets the AMQP connection gauge
func SetAMQPConnectionStatus(connected bool) {
	if !metricsEnabled {
		return
	}
	if connected {
		AMQPConnectionStatus.Set(1)
	} else {
		AMQPConnectionStatus.Set(0)
	}
}

// RecordHubTick counts one hub event loop iteration
func RecordHubTick() {
	if metricsEnabled {
		HubTicks.Inc()
	}
}

// RecordCallServed counts a finished call
func RecordCallServed() {
	if metricsEnabled {
		CallsServed.Inc()
	}
}

// RecordCallback counts a placed call-back
func RecordCallback() {
	if metricsEnabled {
		Callbacks.Inc()
	}
}

// RecordResolverEviction counts a recognizer race resolved by timeout
func RecordResolverEviction() {
	if metricsEnabled {
		ResolverEvictions.Inc()
	}
}
