package dif

// ConnectionState tracks the lifecycle of an EFCP connection as seen from
// user space.
type ConnectionState string

const (
	ConnectionStateRequested ConnectionState = "REQUESTED"
	ConnectionStateCreated   ConnectionState = "CREATED"
	ConnectionStateUpdated   ConnectionState = "UPDATED"
	ConnectionStateDestroyed ConnectionState = "DESTROYED"
)

// WindowBasedFlowControl configures credit-based flow control.
type WindowBasedFlowControl struct {
	MaxClosedWindowQueueLength uint32 `yaml:"max_closed_window_queue_length" json:"maxClosedWindowQueueLength"`
	InitialCredit              uint32 `yaml:"initial_credit" json:"initialCredit"`
	RcvrFlowControlPolicy      Policy `yaml:"rcvr_flow_control_policy" json:"rcvrFlowControlPolicy"`
	TxControlPolicy            Policy `yaml:"tx_control_policy" json:"txControlPolicy"`
}

// RateBasedFlowControl configures rate-based flow control.
type RateBasedFlowControl struct {
	SendingRate uint32 `yaml:"sending_rate" json:"sendingRate"`
	TimePeriod  uint32 `yaml:"time_period" json:"timePeriod"`
	NoRateSlowDownPolicy    Policy `yaml:"no_rate_slow_down_policy" json:"noRateSlowDownPolicy"`
	NoOverrideDefaultPeakPolicy Policy `yaml:"no_override_default_peak_policy" json:"noOverrideDefaultPeakPolicy"`
	RateReductionPolicy     Policy `yaml:"rate_reduction_policy" json:"rateReductionPolicy"`
}

// FlowControlConfig selects and tunes a flow-control discipline.
type FlowControlConfig struct {
	WindowBased bool                   `yaml:"window_based" json:"windowBased"`
	Window      WindowBasedFlowControl `yaml:"window" json:"window,omitempty"`
	RateBased   bool                   `yaml:"rate_based" json:"rateBased"`
	Rate        RateBasedFlowControl   `yaml:"rate" json:"rate,omitempty"`
	SentBytesThreshold        uint32 `yaml:"sent_bytes_threshold" json:"sentBytesThreshold"`
	SentBytesPercentThreshold uint32 `yaml:"sent_bytes_percent_threshold" json:"sentBytesPercentThreshold"`
	SentBuffersThreshold      uint32 `yaml:"sent_buffers_threshold" json:"sentBuffersThreshold"`
	RcvBytesThreshold         uint32 `yaml:"rcv_bytes_threshold" json:"rcvBytesThreshold"`
	RcvBytesPercentThreshold  uint32 `yaml:"rcv_bytes_percent_threshold" json:"rcvBytesPercentThreshold"`
	RcvBuffersThreshold       uint32 `yaml:"rcv_buffers_threshold" json:"rcvBuffersThreshold"`
	ClosedWindowPolicy        Policy `yaml:"closed_window_policy" json:"closedWindowPolicy"`
}

// RetransmissionControlConfig tunes retransmission control.
type RetransmissionControlConfig struct {
	MaxTimeToRetry       uint32 `yaml:"max_time_to_retry" json:"maxTimeToRetry"`
	DataRetransmitMax    uint32 `yaml:"data_retransmit_max" json:"dataRetransmitMax"`
	InitialRtxTime       uint32 `yaml:"initial_rtx_time" json:"initialRtxTime"`
	RtxTimerExpiryPolicy Policy `yaml:"rtx_timer_expiry_policy" json:"rtxTimerExpiryPolicy"`
	RecvingAckListPolicy Policy `yaml:"recving_ack_list_policy" json:"recvingAckListPolicy"`
}

// DTCPConfig is present when the connection runs DTCP.
type DTCPConfig struct {
	FlowControl       bool                        `yaml:"flow_control" json:"flowControl"`
	FlowControlConfig FlowControlConfig           `yaml:"flow_control_config" json:"flowControlConfig,omitempty"`
	RtxControl        bool                        `yaml:"rtx_control" json:"rtxControl"`
	RtxControlConfig  RetransmissionControlConfig `yaml:"rtx_control_config" json:"rtxControlConfig,omitempty"`
	LostControlPDUPolicy Policy `yaml:"lost_control_pdu_policy" json:"lostControlPduPolicy"`
	RttEstimatorPolicy   Policy `yaml:"rtt_estimator_policy" json:"rttEstimatorPolicy"`
}

// ConnectionPolicies selects the EFCP behavior of one connection.
type ConnectionPolicies struct {
	DTCPPresent bool       `yaml:"dtcp_present" json:"dtcpPresent"`
	DTCP        DTCPConfig `yaml:"dtcp" json:"dtcp,omitempty"`
	InitialATimer   uint32 `yaml:"initial_a_timer" json:"initialATimer"`
	SeqNumRolloverThreshold uint64 `yaml:"seq_num_rollover_threshold" json:"seqNumRolloverThreshold"`
}

// Connection is the user-space record of one EFCP connection.
type Connection struct {
	PortID             int32              `json:"portId"`
	SourceAddress      uint32             `json:"sourceAddress"`
	DestinationAddress uint32             `json:"destinationAddress"`
	QoSID              uint32             `json:"qosId"`
	SourceCEPID        int32              `json:"sourceCepId"`
	DestinationCEPID   int32              `json:"destinationCepId"`
	Policies           ConnectionPolicies `json:"policies"`
	// FlowUserIPCPID is the IPC process using the flow (0 when the user is
	// an application).
	FlowUserIPCPID uint16          `json:"flowUserIpcpId"`
	State          ConnectionState `json:"state"`
}
