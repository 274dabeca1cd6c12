package ctrl

import (
	"github.com/your-org/rina-stack/common/dif"
	"github.com/your-org/rina-stack/common/names"
	"github.com/your-org/rina-stack/common/qos"
)

// Nested-entity attribute tags. Each entity has its own tag space inside its
// block; the tags below are grouped per entity.
const (
	// APNI
	atName uint16 = iota + 1
	atInstance
	atEntityName
	atEntityInstance
)

func putAPNI(w *attrWriter, tag uint16, n names.APNI) {
	w.Nested(tag, func(iw *attrWriter) {
		iw.String(atName, n.ProcessName)
		if n.ProcessInstance != "" {
			iw.String(atInstance, n.ProcessInstance)
		}
		if n.EntityName != "" {
			iw.String(atEntityName, n.EntityName)
		}
		if n.EntityInstance != "" {
			iw.String(atEntityInstance, n.EntityInstance)
		}
	})
}

func parseAPNI(b []byte) (names.APNI, error) {
	var n names.APNI
	attrs, err := parseAttrs(b)
	if err != nil {
		return n, err
	}
	for _, a := range attrs {
		switch a.tag {
		case atName:
			n.ProcessName = a.asString()
		case atInstance:
			n.ProcessInstance = a.asString()
		case atEntityName:
			n.EntityName = a.asString()
		case atEntityInstance:
			n.EntityInstance = a.asString()
		}
	}
	return n, nil
}

// Flow specification tags.
const (
	atFSAvgBandwidth uint16 = iota + 1
	atFSAvgSDUBandwidth
	atFSPeakBandwidthDuration
	atFSPeakSDUBandwidthDuration
	atFSDelay
	atFSJitter
	atFSMaxGap
	atFSMaxSDUSize
	atFSOrdered
	atFSPartial
	atFSBitErrorRate
)

func putFlowSpec(w *attrWriter, tag uint16, fs qos.FlowSpecification) {
	w.Nested(tag, func(iw *attrWriter) {
		iw.Uint64(atFSAvgBandwidth, fs.AverageBandwidth)
		iw.Uint64(atFSAvgSDUBandwidth, fs.AverageSDUBandwidth)
		iw.Uint32(atFSPeakBandwidthDuration, fs.PeakBandwidthDuration)
		iw.Uint32(atFSPeakSDUBandwidthDuration, fs.PeakSDUBandwidthDuration)
		iw.Uint32(atFSDelay, fs.Delay)
		iw.Uint32(atFSJitter, fs.Jitter)
		iw.Int32(atFSMaxGap, fs.MaxAllowableGap)
		iw.Uint32(atFSMaxSDUSize, fs.MaxSDUSize)
		iw.Bool(atFSOrdered, fs.OrderedDelivery)
		iw.Bool(atFSPartial, fs.PartialDelivery)
		iw.Float64(atFSBitErrorRate, fs.UndetectedBitErrorRate)
	})
}

func parseFlowSpec(b []byte) (qos.FlowSpecification, error) {
	var fs qos.FlowSpecification
	attrs, err := parseAttrs(b)
	if err != nil {
		return fs, err
	}
	for _, a := range attrs {
		switch a.tag {
		case atFSAvgBandwidth:
			fs.AverageBandwidth, err = a.asUint64()
		case atFSAvgSDUBandwidth:
			fs.AverageSDUBandwidth, err = a.asUint64()
		case atFSPeakBandwidthDuration:
			fs.PeakBandwidthDuration, err = a.asUint32()
		case atFSPeakSDUBandwidthDuration:
			fs.PeakSDUBandwidthDuration, err = a.asUint32()
		case atFSDelay:
			fs.Delay, err = a.asUint32()
		case atFSJitter:
			fs.Jitter, err = a.asUint32()
		case atFSMaxGap:
			fs.MaxAllowableGap, err = a.asInt32()
		case atFSMaxSDUSize:
			fs.MaxSDUSize, err = a.asUint32()
		case atFSOrdered:
			fs.OrderedDelivery, err = a.asBool()
		case atFSPartial:
			fs.PartialDelivery, err = a.asBool()
		case atFSBitErrorRate:
			fs.UndetectedBitErrorRate, err = a.asFloat64()
		}
		if err != nil {
			return fs, err
		}
	}
	return fs, nil
}

// QoS cube tags.
const (
	atCubeID uint16 = iota + 1
	atCubeName
	atCubeFlowSpec
)

func putCube(w *attrWriter, tag uint16, c qos.Cube) {
	w.Nested(tag, func(iw *attrWriter) {
		iw.Uint32(atCubeID, c.ID)
		iw.String(atCubeName, c.Name)
		putFlowSpec(iw, atCubeFlowSpec, c.FlowSpecification)
	})
}

func parseCube(b []byte) (qos.Cube, error) {
	var c qos.Cube
	attrs, err := parseAttrs(b)
	if err != nil {
		return c, err
	}
	for _, a := range attrs {
		switch a.tag {
		case atCubeID:
			c.ID, err = a.asUint32()
		case atCubeName:
			c.Name = a.asString()
		case atCubeFlowSpec:
			c.FlowSpecification, err = parseFlowSpec(a.val)
		}
		if err != nil {
			return c, err
		}
	}
	return c, nil
}

// Policy tags.
const (
	atPolicyName uint16 = iota + 1
	atPolicyVersion
	atPolicyParam
	atPolicyParamName
	atPolicyParamValue
)

func putPolicy(w *attrWriter, tag uint16, p dif.Policy) {
	w.Nested(tag, func(iw *attrWriter) {
		iw.String(atPolicyName, p.Name)
		iw.String(atPolicyVersion, p.Version)
		for _, pp := range p.Parameters {
			iw.Nested(atPolicyParam, func(pw *attrWriter) {
				pw.String(atPolicyParamName, pp.Name)
				pw.String(atPolicyParamValue, pp.Value)
			})
		}
	})
}

func parsePolicy(b []byte) (dif.Policy, error) {
	var p dif.Policy
	attrs, err := parseAttrs(b)
	if err != nil {
		return p, err
	}
	for _, a := range attrs {
		switch a.tag {
		case atPolicyName:
			p.Name = a.asString()
		case atPolicyVersion:
			p.Version = a.asString()
		case atPolicyParam:
			inner, err := parseAttrs(a.val)
			if err != nil {
				return p, err
			}
			var pp dif.PolicyParameter
			for _, ia := range inner {
				switch ia.tag {
				case atPolicyParamName:
					pp.Name = ia.asString()
				case atPolicyParamValue:
					pp.Value = ia.asString()
				}
			}
			p.Parameters = append(p.Parameters, pp)
		}
	}
	return p, nil
}

// Data-transfer-constants tags.
const (
	atDTCQoSIDLen uint16 = iota + 1
	atDTCPortIDLen
	atDTCCEPIDLen
	atDTCSeqNumLen
	atDTCAddressLen
	atDTCLengthLen
	atDTCMaxPDUSize
	atDTCMaxPDULifetime
	atDTCDIFIntegrity
)

func putDTConstants(w *attrWriter, tag uint16, c dif.DataTransferConstants) {
	w.Nested(tag, func(iw *attrWriter) {
		iw.Uint16(atDTCQoSIDLen, c.QoSIDLength)
		iw.Uint16(atDTCPortIDLen, c.PortIDLength)
		iw.Uint16(atDTCCEPIDLen, c.CEPIDLength)
		iw.Uint16(atDTCSeqNumLen, c.SequenceNumberLength)
		iw.Uint16(atDTCAddressLen, c.AddressLength)
		iw.Uint16(atDTCLengthLen, c.LengthLength)
		iw.Uint32(atDTCMaxPDUSize, c.MaxPDUSize)
		iw.Uint32(atDTCMaxPDULifetime, c.MaxPDULifetime)
		iw.Bool(atDTCDIFIntegrity, c.DIFIntegrity)
	})
}

func parseDTConstants(b []byte) (dif.DataTransferConstants, error) {
	var c dif.DataTransferConstants
	attrs, err := parseAttrs(b)
	if err != nil {
		return c, err
	}
	for _, a := range attrs {
		switch a.tag {
		case atDTCQoSIDLen:
			c.QoSIDLength, err = a.asUint16()
		case atDTCPortIDLen:
			c.PortIDLength, err = a.asUint16()
		case atDTCCEPIDLen:
			c.CEPIDLength, err = a.asUint16()
		case atDTCSeqNumLen:
			c.SequenceNumberLength, err = a.asUint16()
		case atDTCAddressLen:
			c.AddressLength, err = a.asUint16()
		case atDTCLengthLen:
			c.LengthLength, err = a.asUint16()
		case atDTCMaxPDUSize:
			c.MaxPDUSize, err = a.asUint32()
		case atDTCMaxPDULifetime:
			c.MaxPDULifetime, err = a.asUint32()
		case atDTCDIFIntegrity:
			c.DIFIntegrity, err = a.asBool()
		}
		if err != nil {
			return c, err
		}
	}
	return c, nil
}

// DIF configuration and information tags.
const (
	atDIFConfDTC uint16 = iota + 1
	atDIFConfAddress
	atDIFConfCube
	atDIFConfPolicy
	atDIFConfPDUFTGPolicy
	atDIFConfLSRAlgorithm
	atDIFConfLSRMaxAge
	atDIFInfoType
	atDIFInfoName
	atDIFInfoConfig
)

func putDIFConfiguration(w *attrWriter, tag uint16, c dif.Configuration) {
	w.Nested(tag, func(iw *attrWriter) {
		putDTConstants(iw, atDIFConfDTC, c.DataTransferConstants)
		iw.Uint32(atDIFConfAddress, c.Address)
		for _, cube := range c.QoSCubes {
			putCube(iw, atDIFConfCube, cube)
		}
		for _, p := range c.Policies {
			putPolicy(iw, atDIFConfPolicy, p)
		}
		putPolicy(iw, atDIFConfPDUFTGPolicy, c.PDUFTGeneratorPolicy)
		iw.String(atDIFConfLSRAlgorithm, c.LinkStateRouting.RoutingAlgorithm)
		iw.Uint32(atDIFConfLSRMaxAge, c.LinkStateRouting.ObjectMaximumAge)
	})
}

func parseDIFConfiguration(b []byte) (dif.Configuration, error) {
	var c dif.Configuration
	attrs, err := parseAttrs(b)
	if err != nil {
		return c, err
	}
	for _, a := range attrs {
		switch a.tag {
		case atDIFConfDTC:
			c.DataTransferConstants, err = parseDTConstants(a.val)
		case atDIFConfAddress:
			c.Address, err = a.asUint32()
		case atDIFConfCube:
			var cube qos.Cube
			cube, err = parseCube(a.val)
			c.QoSCubes = append(c.QoSCubes, cube)
		case atDIFConfPolicy:
			var p dif.Policy
			p, err = parsePolicy(a.val)
			c.Policies = append(c.Policies, p)
		case atDIFConfPDUFTGPolicy:
			c.PDUFTGeneratorPolicy, err = parsePolicy(a.val)
		case atDIFConfLSRAlgorithm:
			c.LinkStateRouting.RoutingAlgorithm = a.asString()
		case atDIFConfLSRMaxAge:
			c.LinkStateRouting.ObjectMaximumAge, err = a.asUint32()
		}
		if err != nil {
			return c, err
		}
	}
	return c, nil
}

func putDIFInformation(w *attrWriter, tag uint16, info dif.Information) {
	w.Nested(tag, func(iw *attrWriter) {
		iw.String(atDIFInfoType, string(info.Type))
		putAPNI(iw, atDIFInfoName, info.Name)
		putDIFConfiguration(iw, atDIFInfoConfig, info.Configuration)
	})
}

func parseDIFInformation(b []byte) (dif.Information, error) {
	var info dif.Information
	attrs, err := parseAttrs(b)
	if err != nil {
		return info, err
	}
	for _, a := range attrs {
		switch a.tag {
		case atDIFInfoType:
			info.Type = dif.Type(a.asString())
		case atDIFInfoName:
			info.Name, err = parseAPNI(a.val)
		case atDIFInfoConfig:
			info.Configuration, err = parseDIFConfiguration(a.val)
		}
		if err != nil {
			return info, err
		}
	}
	return info, nil
}

// Connection-policies and connection tags.
const (
	atCPDTCPPresent uint16 = iota + 1
	atCPInitialATimer
	atCPSeqRollover
	atCPDTCPFlowControl
	atCPDTCPRtxControl
	atCPFCWindowBased
	atCPFCInitialCredit
	atCPFCMaxClosedWindowQueue
	atCPFCRateBased
	atCPFCSendingRate
	atCPFCTimePeriod
	atCPFCSentBytesThreshold
	atCPFCRcvBytesThreshold
	atCPRtxMaxTime
	atCPRtxDataMax
	atCPRtxInitialTime
	atConnPortID
	atConnSrcAddress
	atConnDstAddress
	atConnQoSID
	atConnSrcCEPID
	atConnDstCEPID
	atConnPolicies
	atConnFlowUser
)

func putConnectionPolicies(w *attrWriter, tag uint16, p dif.ConnectionPolicies) {
	w.Nested(tag, func(iw *attrWriter) {
		iw.Bool(atCPDTCPPresent, p.DTCPPresent)
		iw.Uint32(atCPInitialATimer, p.InitialATimer)
		iw.Uint64(atCPSeqRollover, p.SeqNumRolloverThreshold)
		if p.DTCPPresent {
			iw.Bool(atCPDTCPFlowControl, p.DTCP.FlowControl)
			iw.Bool(atCPDTCPRtxControl, p.DTCP.RtxControl)
			if p.DTCP.FlowControl {
				fc := p.DTCP.FlowControlConfig
				iw.Bool(atCPFCWindowBased, fc.WindowBased)
				iw.Uint32(atCPFCInitialCredit, fc.Window.InitialCredit)
				iw.Uint32(atCPFCMaxClosedWindowQueue, fc.Window.MaxClosedWindowQueueLength)
				iw.Bool(atCPFCRateBased, fc.RateBased)
				iw.Uint32(atCPFCSendingRate, fc.Rate.SendingRate)
				iw.Uint32(atCPFCTimePeriod, fc.Rate.TimePeriod)
				iw.Uint32(atCPFCSentBytesThreshold, fc.SentBytesThreshold)
				iw.Uint32(atCPFCRcvBytesThreshold, fc.RcvBytesThreshold)
			}
			if p.DTCP.RtxControl {
				rc := p.DTCP.RtxControlConfig
				iw.Uint32(atCPRtxMaxTime, rc.MaxTimeToRetry)
				iw.Uint32(atCPRtxDataMax, rc.DataRetransmitMax)
				iw.Uint32(atCPRtxInitialTime, rc.InitialRtxTime)
			}
		}
	})
}

func parseConnectionPolicies(b []byte) (dif.ConnectionPolicies, error) {
	var p dif.ConnectionPolicies
	attrs, err := parseAttrs(b)
	if err != nil {
		return p, err
	}
	for _, a := range attrs {
		switch a.tag {
		case atCPDTCPPresent:
			p.DTCPPresent, err = a.asBool()
		case atCPInitialATimer:
			p.InitialATimer, err = a.asUint32()
		case atCPSeqRollover:
			p.SeqNumRolloverThreshold, err = a.asUint64()
		case atCPDTCPFlowControl:
			p.DTCP.FlowControl, err = a.asBool()
		case atCPDTCPRtxControl:
			p.DTCP.RtxControl, err = a.asBool()
		case atCPFCWindowBased:
			p.DTCP.FlowControlConfig.WindowBased, err = a.asBool()
		case atCPFCInitialCredit:
			p.DTCP.FlowControlConfig.Window.InitialCredit, err = a.asUint32()
		case atCPFCMaxClosedWindowQueue:
			p.DTCP.FlowControlConfig.Window.MaxClosedWindowQueueLength, err = a.asUint32()
		case atCPFCRateBased:
			p.DTCP.FlowControlConfig.RateBased, err = a.asBool()
		case atCPFCSendingRate:
			p.DTCP.FlowControlConfig.Rate.SendingRate, err = a.asUint32()
		case atCPFCTimePeriod:
			p.DTCP.FlowControlConfig.Rate.TimePeriod, err = a.asUint32()
		case atCPFCSentBytesThreshold:
			p.DTCP.FlowControlConfig.SentBytesThreshold, err = a.asUint32()
		case atCPFCRcvBytesThreshold:
			p.DTCP.FlowControlConfig.RcvBytesThreshold, err = a.asUint32()
		case atCPRtxMaxTime:
			p.DTCP.RtxControlConfig.MaxTimeToRetry, err = a.asUint32()
		case atCPRtxDataMax:
			p.DTCP.RtxControlConfig.DataRetransmitMax, err = a.asUint32()
		case atCPRtxInitialTime:
			p.DTCP.RtxControlConfig.InitialRtxTime, err = a.asUint32()
		}
		if err != nil {
			return p, err
		}
	}
	return p, nil
}

func putConnection(w *attrWriter, tag uint16, c dif.Connection) {
	w.Nested(tag, func(iw *attrWriter) {
		iw.Int32(atConnPortID, c.PortID)
		iw.Uint32(atConnSrcAddress, c.SourceAddress)
		iw.Uint32(atConnDstAddress, c.DestinationAddress)
		iw.Uint32(atConnQoSID, c.QoSID)
		iw.Int32(atConnSrcCEPID, c.SourceCEPID)
		iw.Int32(atConnDstCEPID, c.DestinationCEPID)
		putConnectionPolicies(iw, atConnPolicies, c.Policies)
		iw.Uint16(atConnFlowUser, c.FlowUserIPCPID)
	})
}

func parseConnection(b []byte) (dif.Connection, error) {
	var c dif.Connection
	attrs, err := parseAttrs(b)
	if err != nil {
		return c, err
	}
	for _, a := range attrs {
		switch a.tag {
		case atConnPortID:
			c.PortID, err = a.asInt32()
		case atConnSrcAddress:
			c.SourceAddress, err = a.asUint32()
		case atConnDstAddress:
			c.DestinationAddress, err = a.asUint32()
		case atConnQoSID:
			c.QoSID, err = a.asUint32()
		case atConnSrcCEPID:
			c.SourceCEPID, err = a.asInt32()
		case atConnDstCEPID:
			c.DestinationCEPID, err = a.asInt32()
		case atConnPolicies:
			c.Policies, err = parseConnectionPolicies(a.val)
		case atConnFlowUser:
			c.FlowUserIPCPID, err = a.asUint16()
		}
		if err != nil {
			return c, err
		}
	}
	return c, nil
}

// PDU-forwarding-table entry tags.
const (
	atFTEAddress uint16 = iota + 1
	atFTEQoSID
	atFTEPortID
)

func putFTEntry(w *attrWriter, tag uint16, e dif.PDUForwardingTableEntry) {
	w.Nested(tag, func(iw *attrWriter) {
		iw.Uint32(atFTEAddress, e.Address)
		iw.Uint32(atFTEQoSID, e.QoSID)
		for _, pid := range e.PortIDs {
			iw.Int32(atFTEPortID, pid)
		}
	})
}

func parseFTEntry(b []byte) (dif.PDUForwardingTableEntry, error) {
	var e dif.PDUForwardingTableEntry
	attrs, err := parseAttrs(b)
	if err != nil {
		return e, err
	}
	for _, a := range attrs {
		switch a.tag {
		case atFTEAddress:
			e.Address, err = a.asUint32()
		case atFTEQoSID:
			e.QoSID, err = a.asUint32()
		case atFTEPortID:
			var pid int32
			pid, err = a.asInt32()
			e.PortIDs = append(e.PortIDs, pid)
		}
		if err != nil {
			return e, err
		}
	}
	return e, nil
}

// Neighbor tags.
const (
	atNeighborName uint16 = iota + 1
	atNeighborSupportingDIF
	atNeighborAddress
	atNeighborEnrolled
	atNeighborPortID
)

func putNeighbor(w *attrWriter, tag uint16, n dif.Neighbor) {
	w.Nested(tag, func(iw *attrWriter) {
		putAPNI(iw, atNeighborName, n.Name)
		putAPNI(iw, atNeighborSupportingDIF, n.SupportingDIF)
		iw.Uint32(atNeighborAddress, n.Address)
		iw.Bool(atNeighborEnrolled, n.Enrolled)
		iw.Int32(atNeighborPortID, n.UnderlyingPortID)
	})
}

func parseNeighbor(b []byte) (dif.Neighbor, error) {
	var n dif.Neighbor
	attrs, err := parseAttrs(b)
	if err != nil {
		return n, err
	}
	for _, a := range attrs {
		switch a.tag {
		case atNeighborName:
			n.Name, err = parseAPNI(a.val)
		case atNeighborSupportingDIF:
			n.SupportingDIF, err = parseAPNI(a.val)
		case atNeighborAddress:
			n.Address, err = a.asUint32()
		case atNeighborEnrolled:
			n.Enrolled, err = a.asBool()
		case atNeighborPortID:
			n.UnderlyingPortID, err = a.asInt32()
		}
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
