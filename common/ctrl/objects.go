package ctrl

import (
	"github.com/your-org/rina-stack/common/dif"
	"github.com/your-org/rina-stack/common/names"
	"github.com/your-org/rina-stack/common/qos"
)

// The structures below ride inside CDAP object values between peer IPCPs.
// They reuse the control-channel attribute syntax so both wire surfaces
// share one encoding discipline.

// FlowObject is the value of a flow object carried by M_CREATE during flow
// allocation.
type FlowObject struct {
	SourceApp          names.APNI
	DestinationApp     names.APNI
	SourcePortID       int32
	SourceCEPID        int32
	SourceAddress      uint32
	DestinationAddress uint32
	QoSID              uint32
	FlowSpec           qos.FlowSpecification
	Policies           dif.ConnectionPolicies
	HopCount           uint32
}

// Flow-object attribute tags.
const (
	atFOSourceApp uint16 = iota + 1
	atFODestinationApp
	atFOSourcePortID
	atFOSourceCEPID
	atFOSourceAddress
	atFODestinationAddress
	atFOQoSID
	atFOFlowSpec
	atFOPolicies
	atFOHopCount
)

// MarshalFlowObject serializes a flow object for a CDAP object value.
func MarshalFlowObject(f FlowObject) []byte {
	var w attrWriter
	putAPNI(&w, atFOSourceApp, f.SourceApp)
	putAPNI(&w, atFODestinationApp, f.DestinationApp)
	w.Int32(atFOSourcePortID, f.SourcePortID)
	w.Int32(atFOSourceCEPID, f.SourceCEPID)
	w.Uint32(atFOSourceAddress, f.SourceAddress)
	w.Uint32(atFODestinationAddress, f.DestinationAddress)
	w.Uint32(atFOQoSID, f.QoSID)
	putFlowSpec(&w, atFOFlowSpec, f.FlowSpec)
	putConnectionPolicies(&w, atFOPolicies, f.Policies)
	w.Uint32(atFOHopCount, f.HopCount)
	return w.buf
}

// UnmarshalFlowObject parses a flow object from a CDAP object value.
func UnmarshalFlowObject(b []byte) (FlowObject, error) {
	var f FlowObject
	attrs, err := parseAttrs(b)
	if err != nil {
		return f, err
	}
	for _, a := range attrs {
		switch a.tag {
		case atFOSourceApp:
			f.SourceApp, err = parseAPNI(a.val)
		case atFODestinationApp:
			f.DestinationApp, err = parseAPNI(a.val)
		case atFOSourcePortID:
			f.SourcePortID, err = a.asInt32()
		case atFOSourceCEPID:
			f.SourceCEPID, err = a.asInt32()
		case atFOSourceAddress:
			f.SourceAddress, err = a.asUint32()
		case atFODestinationAddress:
			f.DestinationAddress, err = a.asUint32()
		case atFOQoSID:
			f.QoSID, err = a.asUint32()
		case atFOFlowSpec:
			f.FlowSpec, err = parseFlowSpec(a.val)
		case atFOPolicies:
			f.Policies, err = parseConnectionPolicies(a.val)
		case atFOHopCount:
			f.HopCount, err = a.asUint32()
		}
		if err != nil {
			return f, err
		}
	}
	return f, nil
}

// EnrollmentObject is the value exchanged on M_START of the enrollment
// object: the joining member's view of itself.
type EnrollmentObject struct {
	Address        uint32
	SupportingDIFs []names.APNI
}

// Enrollment-object attribute tags.
const (
	atEOAddress uint16 = iota + 1
	atEOSupportingDIF
)

// MarshalEnrollmentObject serializes an enrollment object.
func MarshalEnrollmentObject(e EnrollmentObject) []byte {
	var w attrWriter
	w.Uint32(atEOAddress, e.Address)
	for _, d := range e.SupportingDIFs {
		putAPNI(&w, atEOSupportingDIF, d)
	}
	return w.buf
}

// UnmarshalEnrollmentObject parses an enrollment object.
func UnmarshalEnrollmentObject(b []byte) (EnrollmentObject, error) {
	var e EnrollmentObject
	attrs, err := parseAttrs(b)
	if err != nil {
		return e, err
	}
	for _, a := range attrs {
		switch a.tag {
		case atEOAddress:
			e.Address, err = a.asUint32()
		case atEOSupportingDIF:
			var n names.APNI
			n, err = parseAPNI(a.val)
			e.SupportingDIFs = append(e.SupportingDIFs, n)
		}
		if err != nil {
			return e, err
		}
	}
	return e, nil
}

// EnrollmentReply is the value returned by the enrolling peer: the DIF
// configuration delta and the current neighbor table.
type EnrollmentReply struct {
	DIFInfo   dif.Information
	Neighbors []dif.Neighbor
}

// Enrollment-reply attribute tags.
const (
	atERDIFInfo uint16 = iota + 1
	atERNeighbor
)

// MarshalEnrollmentReply serializes an enrollment reply.
func MarshalEnrollmentReply(r EnrollmentReply) []byte {
	var w attrWriter
	putDIFInformation(&w, atERDIFInfo, r.DIFInfo)
	for _, n := range r.Neighbors {
		putNeighbor(&w, atERNeighbor, n)
	}
	return w.buf
}

// UnmarshalEnrollmentReply parses an enrollment reply.
func UnmarshalEnrollmentReply(b []byte) (EnrollmentReply, error) {
	var r EnrollmentReply
	attrs, err := parseAttrs(b)
	if err != nil {
		return r, err
	}
	for _, a := range attrs {
		switch a.tag {
		case atERDIFInfo:
			r.DIFInfo, err = parseDIFInformation(a.val)
		case atERNeighbor:
			var n dif.Neighbor
			n, err = parseNeighbor(a.val)
			r.Neighbors = append(r.Neighbors, n)
		}
		if err != nil {
			return r, err
		}
	}
	return r, nil
}
