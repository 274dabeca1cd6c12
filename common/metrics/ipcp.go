package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// IPCP-specific metrics
var (
	// Kernel control-channel metrics
	KernelRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipcp_kernel_requests_total",
			Help: "Total number of kernel control-channel requests",
		},
		[]string{"type", "result"},
	)

	KernelRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ipcp_kernel_request_duration_seconds",
			Help:    "Kernel request round-trip latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	KernelLateResponsesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ipcp_kernel_late_responses_dropped_total",
			Help: "Responses that arrived after their request timed out or matched no request",
		},
	)

	// CDAP metrics
	CDAPMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipcp_cdap_messages_total",
			Help: "Total number of CDAP messages",
		},
		[]string{"opcode", "direction"},
	)

	CDAPSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ipcp_cdap_sessions_active",
			Help: "Number of CDAP sessions not in the NULL state",
		},
	)

	// Flow allocator metrics
	ActiveFlows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ipcp_active_flows",
			Help: "Number of flows in the ALLOCATED state",
		},
	)

	FlowAllocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipcp_flow_allocations_total",
			Help: "Total number of flow allocation attempts",
		},
		[]string{"result", "initiator"},
	)

	FlowDeallocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipcp_flow_deallocations_total",
			Help: "Total number of flow deallocations",
		},
		[]string{"reason"},
	)

	// Enrollment metrics
	NeighborsEnrolled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ipcp_neighbors_enrolled",
			Help: "Number of enrolled neighbors",
		},
	)

	EnrollmentAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipcp_enrollment_attempts_total",
			Help: "Total number of enrollment attempts",
		},
		[]string{"result"},
	)

	// Forwarding table metrics
	PDUFTUpdates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ipcp_pduft_updates_total",
			Help: "Total number of forwarding-table programs sent to the kernel",
		},
	)

	PDUFTEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ipcp_pduft_entries",
			Help: "Number of entries in the last forwarding-table program",
		},
	)
)

// RecordKernelRequest records a completed kernel request
func RecordKernelRequest(msgType, result string, seconds float64) {
	KernelRequests.WithLabelValues(msgType, result).Inc()
	KernelRequestDuration.WithLabelValues(msgType).Observe(seconds)
}

// RecordCDAPMessage records a CDAP message
func RecordCDAPMessage(opcode, direction string) {
	CDAPMessages.WithLabelValues(opcode, direction).Inc()
}

// SetActiveFlows sets the number of allocated flows
func SetActiveFlows(count int) {
	ActiveFlows.Set(float64(count))
}

// RecordFlowAllocation records a flow allocation attempt
func RecordFlowAllocation(result string, locallyInitiated bool) {
	initiator := "remote"
	if locallyInitiated {
		initiator = "local"
	}
	FlowAllocations.WithLabelValues(result, initiator).Inc()
}

// RecordFlowDeallocation records a flow deallocation
func RecordFlowDeallocation(reason string) {
	FlowDeallocations.WithLabelValues(reason).Inc()
}

// SetNeighborsEnrolled sets the number of enrolled neighbors
func SetNeighborsEnrolled(count int) {
	NeighborsEnrolled.Set(float64(count))
}

// RecordEnrollmentAttempt records an enrollment attempt
func RecordEnrollmentAttempt(result string) {
	EnrollmentAttempts.WithLabelValues(result).Inc()
}

// RecordPDUFTUpdate records a forwarding-table program
func RecordPDUFTUpdate(entries int) {
	PDUFTUpdates.Inc()
	PDUFTEntries.Set(float64(entries))
}
