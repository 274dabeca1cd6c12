package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// IPC-Manager-specific metrics
var (
	IPCPsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ipcm_ipcps_running",
			Help: "Number of IPC process daemons currently running",
		},
	)

	IPCPLifecycleEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipcm_ipcp_lifecycle_events_total",
			Help: "Total number of IPCP lifecycle events",
		},
		[]string{"event"},
	)

	FlowEventsArchived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipcm_flow_events_archived_total",
			Help: "Total number of flow events written to the archive",
		},
		[]string{"result"},
	)
)

// SetIPCPsRunning sets the number of running IPCP daemons
func SetIPCPsRunning(count int) {
	IPCPsRunning.Set(float64(count))
}

// RecordIPCPLifecycleEvent records an IPCP lifecycle event
func RecordIPCPLifecycleEvent(event string) {
	IPCPLifecycleEvents.WithLabelValues(event).Inc()
}

// RecordFlowEventArchived records a flow event archive write
func RecordFlowEventArchived(result string) {
	FlowEventsArchived.WithLabelValues(result).Inc()
}
