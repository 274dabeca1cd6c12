package ctrl

import (
	"github.com/your-org/rina-stack/common/dif"
	"github.com/your-org/rina-stack/common/names"
	"github.com/your-org/rina-stack/common/qos"
	"github.com/your-org/rina-stack/common/rerr"
)

// Payload is the typed body of one control-channel record.
type Payload interface {
	MessageType() MsgType
	encode(w *attrWriter)
	decode(attrs []attr) error
}

// Top-level payload attribute tags, shared across message types. The
// catalog is closed; decoders skip tags they do not know.
const (
	tagResult uint16 = iota + 1
	tagErrorDescription
	tagDIFInformation
	tagDIFConfiguration
	tagAppName
	tagDIFName
	tagPortID
	tagCEPID
	tagConnection
	tagFlowSpec
	tagRemoteAppName
	tagMode
	tagFTEntry
	tagSDU
	tagRegEntityName
	tagNeighbor
	tagSourceAddress
)

// AssignToDIFRequest asks the kernel side to join the IPCP to a DIF.
type AssignToDIFRequest struct {
	Info dif.Information
}

func (*AssignToDIFRequest) MessageType() MsgType { return MsgAssignToDIFRequest }

func (p *AssignToDIFRequest) encode(w *attrWriter) {
	putDIFInformation(w, tagDIFInformation, p.Info)
}

func (p *AssignToDIFRequest) decode(attrs []attr) error {
	for _, a := range attrs {
		if a.tag == tagDIFInformation {
			info, err := parseDIFInformation(a.val)
			if err != nil {
				return err
			}
			p.Info = info
		}
	}
	return nil
}

// ResultPayload is the generic result-code body shared by plain-ack
// responses.
type ResultPayload struct {
	msgType MsgType
	Result  int32
	Reason  string
}

// NewResult builds a result payload for the given response type.
func NewResult(t MsgType, result int32, reason string) *ResultPayload {
	return &ResultPayload{msgType: t, Result: result, Reason: reason}
}

func (p *ResultPayload) MessageType() MsgType { return p.msgType }

func (p *ResultPayload) encode(w *attrWriter) {
	w.Int32(tagResult, p.Result)
	if p.Reason != "" {
		w.String(tagErrorDescription, p.Reason)
	}
}

func (p *ResultPayload) decode(attrs []attr) error {
	for _, a := range attrs {
		switch a.tag {
		case tagResult:
			v, err := a.asInt32()
			if err != nil {
				return err
			}
			p.Result = v
		case tagErrorDescription:
			p.Reason = a.asString()
		}
	}
	return nil
}

// UpdateDIFConfigRequest replaces the DIF configuration of an assigned IPCP.
type UpdateDIFConfigRequest struct {
	Config dif.Configuration
}

func (*UpdateDIFConfigRequest) MessageType() MsgType { return MsgUpdateDIFConfigRequest }

func (p *UpdateDIFConfigRequest) encode(w *attrWriter) {
	putDIFConfiguration(w, tagDIFConfiguration, p.Config)
}

func (p *UpdateDIFConfigRequest) decode(attrs []attr) error {
	for _, a := range attrs {
		if a.tag == tagDIFConfiguration {
			cfg, err := parseDIFConfiguration(a.val)
			if err != nil {
				return err
			}
			p.Config = cfg
		}
	}
	return nil
}

// AppRegisterRequest (un)registers an application in an N-1 DIF. The same
// body serves MsgAppRegisterRequest and MsgAppUnregisterRequest.
type AppRegisterRequest struct {
	msgType MsgType
	AppName names.APNI
	DIFName names.APNI
}

// NewAppRegister builds a registration request body.
func NewAppRegister(register bool, app, difName names.APNI) *AppRegisterRequest {
	t := MsgAppRegisterRequest
	if !register {
		t = MsgAppUnregisterRequest
	}
	return &AppRegisterRequest{msgType: t, AppName: app, DIFName: difName}
}

func (p *AppRegisterRequest) MessageType() MsgType { return p.msgType }

func (p *AppRegisterRequest) encode(w *attrWriter) {
	putAPNI(w, tagAppName, p.AppName)
	putAPNI(w, tagDIFName, p.DIFName)
}

func (p *AppRegisterRequest) decode(attrs []attr) error {
	var err error
	for _, a := range attrs {
		switch a.tag {
		case tagAppName:
			p.AppName, err = parseAPNI(a.val)
		case tagDIFName:
			p.DIFName, err = parseAPNI(a.val)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// FlowAllocateRequest reserves a port-id and allocates a flow in an N-1 DIF.
type FlowAllocateRequest struct {
	Local    names.APNI
	Remote   names.APNI
	DIFName  names.APNI
	FlowSpec qos.FlowSpecification
}

func (*FlowAllocateRequest) MessageType() MsgType { return MsgFlowAllocateRequest }

func (p *FlowAllocateRequest) encode(w *attrWriter) {
	putAPNI(w, tagAppName, p.Local)
	putAPNI(w, tagRemoteAppName, p.Remote)
	putAPNI(w, tagDIFName, p.DIFName)
	putFlowSpec(w, tagFlowSpec, p.FlowSpec)
}

func (p *FlowAllocateRequest) decode(attrs []attr) error {
	var err error
	for _, a := range attrs {
		switch a.tag {
		case tagAppName:
			p.Local, err = parseAPNI(a.val)
		case tagRemoteAppName:
			p.Remote, err = parseAPNI(a.val)
		case tagDIFName:
			p.DIFName, err = parseAPNI(a.val)
		case tagFlowSpec:
			p.FlowSpec, err = parseFlowSpec(a.val)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// FlowAllocateResponse carries the result and, on success, the port-id.
type FlowAllocateResponse struct {
	Result int32
	Reason string
	PortID int32
}

func (*FlowAllocateResponse) MessageType() MsgType { return MsgFlowAllocateResponse }

func (p *FlowAllocateResponse) encode(w *attrWriter) {
	w.Int32(tagResult, p.Result)
	if p.Reason != "" {
		w.String(tagErrorDescription, p.Reason)
	}
	w.Int32(tagPortID, p.PortID)
}

func (p *FlowAllocateResponse) decode(attrs []attr) error {
	var err error
	for _, a := range attrs {
		switch a.tag {
		case tagResult:
			p.Result, err = a.asInt32()
		case tagErrorDescription:
			p.Reason = a.asString()
		case tagPortID:
			p.PortID, err = a.asInt32()
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// FlowAllocateArrived is the kernel's unsolicited notification of an
// incoming flow in an N-1 DIF; it already carries the kernel-chosen port-id.
type FlowAllocateArrived struct {
	Local    names.APNI
	Remote   names.APNI
	DIFName  names.APNI
	FlowSpec qos.FlowSpecification
	PortID   int32
}

func (*FlowAllocateArrived) MessageType() MsgType { return MsgFlowAllocateArrived }

func (p *FlowAllocateArrived) encode(w *attrWriter) {
	putAPNI(w, tagAppName, p.Local)
	putAPNI(w, tagRemoteAppName, p.Remote)
	putAPNI(w, tagDIFName, p.DIFName)
	putFlowSpec(w, tagFlowSpec, p.FlowSpec)
	w.Int32(tagPortID, p.PortID)
}

func (p *FlowAllocateArrived) decode(attrs []attr) error {
	var err error
	for _, a := range attrs {
		switch a.tag {
		case tagAppName:
			p.Local, err = parseAPNI(a.val)
		case tagRemoteAppName:
			p.Remote, err = parseAPNI(a.val)
		case tagDIFName:
			p.DIFName, err = parseAPNI(a.val)
		case tagFlowSpec:
			p.FlowSpec, err = parseFlowSpec(a.val)
		case tagPortID:
			p.PortID, err = a.asInt32()
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// FlowDeallocateRequest releases the flow bound to a port-id.
type FlowDeallocateRequest struct {
	PortID int32
}

func (*FlowDeallocateRequest) MessageType() MsgType { return MsgFlowDeallocateRequest }

func (p *FlowDeallocateRequest) encode(w *attrWriter) {
	w.Int32(tagPortID, p.PortID)
}

func (p *FlowDeallocateRequest) decode(attrs []attr) error {
	for _, a := range attrs {
		if a.tag == tagPortID {
			v, err := a.asInt32()
			if err != nil {
				return err
			}
			p.PortID = v
		}
	}
	return nil
}

// ConnCreateRequest asks for a new EFCP connection instance (initiator
// side: MsgConnCreateRequest; responder side: MsgConnCreateArrived).
type ConnCreateRequest struct {
	msgType MsgType
	Conn    dif.Connection
}

// NewConnCreate builds a create body; arrived selects the responder form.
func NewConnCreate(arrived bool, conn dif.Connection) *ConnCreateRequest {
	t := MsgConnCreateRequest
	if arrived {
		t = MsgConnCreateArrived
	}
	return &ConnCreateRequest{msgType: t, Conn: conn}
}

func (p *ConnCreateRequest) MessageType() MsgType { return p.msgType }

func (p *ConnCreateRequest) encode(w *attrWriter) {
	putConnection(w, tagConnection, p.Conn)
}

func (p *ConnCreateRequest) decode(attrs []attr) error {
	for _, a := range attrs {
		if a.tag == tagConnection {
			conn, err := parseConnection(a.val)
			if err != nil {
				return err
			}
			p.Conn = conn
		}
	}
	return nil
}

// ConnCreateResponse answers a ConnCreateRequest with the source CEP-id the
// kernel picked. The same body serves MsgConnCreateResult, the responder's
// result event.
type ConnCreateResponse struct {
	msgType     MsgType
	PortID      int32
	SourceCEPID int32
	Result      int32
}

// NewConnCreateResponse builds a create answer; resultEvent selects the
// responder-side form.
func NewConnCreateResponse(resultEvent bool, portID, cepID, result int32) *ConnCreateResponse {
	t := MsgConnCreateResponse
	if resultEvent {
		t = MsgConnCreateResult
	}
	return &ConnCreateResponse{msgType: t, PortID: portID, SourceCEPID: cepID, Result: result}
}

func (p *ConnCreateResponse) MessageType() MsgType { return p.msgType }

func (p *ConnCreateResponse) encode(w *attrWriter) {
	w.Int32(tagPortID, p.PortID)
	w.Int32(tagCEPID, p.SourceCEPID)
	w.Int32(tagResult, p.Result)
}

func (p *ConnCreateResponse) decode(attrs []attr) error {
	var err error
	for _, a := range attrs {
		switch a.tag {
		case tagPortID:
			p.PortID, err = a.asInt32()
		case tagCEPID:
			p.SourceCEPID, err = a.asInt32()
		case tagResult:
			p.Result, err = a.asInt32()
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ConnUpdateRequest binds the destination CEP-id and the flow user of an
// existing connection.
type ConnUpdateRequest struct {
	PortID           int32
	SourceCEPID      int32
	DestinationCEPID int32
	FlowUserIPCPID   uint16
}

func (*ConnUpdateRequest) MessageType() MsgType { return MsgConnUpdateRequest }

func (p *ConnUpdateRequest) encode(w *attrWriter) {
	w.Int32(tagPortID, p.PortID)
	w.Int32(tagCEPID, p.SourceCEPID)
	w.Nested(tagConnection, func(iw *attrWriter) {
		iw.Int32(atConnDstCEPID, p.DestinationCEPID)
		iw.Uint16(atConnFlowUser, p.FlowUserIPCPID)
	})
}

func (p *ConnUpdateRequest) decode(attrs []attr) error {
	var err error
	for _, a := range attrs {
		switch a.tag {
		case tagPortID:
			p.PortID, err = a.asInt32()
		case tagCEPID:
			p.SourceCEPID, err = a.asInt32()
		case tagConnection:
			inner, ierr := parseAttrs(a.val)
			if ierr != nil {
				return ierr
			}
			for _, ia := range inner {
				switch ia.tag {
				case atConnDstCEPID:
					p.DestinationCEPID, err = ia.asInt32()
				case atConnFlowUser:
					p.FlowUserIPCPID, err = ia.asUint16()
				}
				if err != nil {
					return err
				}
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ConnDestroyRequest tears down an EFCP connection.
type ConnDestroyRequest struct {
	PortID int32
	CEPID  int32
}

func (*ConnDestroyRequest) MessageType() MsgType { return MsgConnDestroyRequest }

func (p *ConnDestroyRequest) encode(w *attrWriter) {
	w.Int32(tagPortID, p.PortID)
	w.Int32(tagCEPID, p.CEPID)
}

func (p *ConnDestroyRequest) decode(attrs []attr) error {
	var err error
	for _, a := range attrs {
		switch a.tag {
		case tagPortID:
			p.PortID, err = a.asInt32()
		case tagCEPID:
			p.CEPID, err = a.asInt32()
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// PortResultPayload answers connection operations that are keyed by port-id.
type PortResultPayload struct {
	msgType MsgType
	PortID  int32
	Result  int32
}

// NewPortResult builds a port-keyed result body for the given response type.
func NewPortResult(t MsgType, portID, result int32) *PortResultPayload {
	return &PortResultPayload{msgType: t, PortID: portID, Result: result}
}

func (p *PortResultPayload) MessageType() MsgType { return p.msgType }

func (p *PortResultPayload) encode(w *attrWriter) {
	w.Int32(tagPortID, p.PortID)
	w.Int32(tagResult, p.Result)
}

func (p *PortResultPayload) decode(attrs []attr) error {
	var err error
	for _, a := range attrs {
		switch a.tag {
		case tagPortID:
			p.PortID, err = a.asInt32()
		case tagResult:
			p.Result, err = a.asInt32()
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ModifyPDUFTRequest programs forwarding-table entries. Fire-and-forget:
// the kernel sends no response.
type ModifyPDUFTRequest struct {
	Mode    PDUFTModifyMode
	Entries []dif.PDUForwardingTableEntry
}

func (*ModifyPDUFTRequest) MessageType() MsgType { return MsgModifyPDUFTRequest }

func (p *ModifyPDUFTRequest) encode(w *attrWriter) {
	w.Uint8(tagMode, uint8(p.Mode))
	for _, e := range p.Entries {
		putFTEntry(w, tagFTEntry, e)
	}
}

func (p *ModifyPDUFTRequest) decode(attrs []attr) error {
	for _, a := range attrs {
		switch a.tag {
		case tagMode:
			v, err := a.asUint8()
			if err != nil {
				return err
			}
			p.Mode = PDUFTModifyMode(v)
		case tagFTEntry:
			e, err := parseFTEntry(a.val)
			if err != nil {
				return err
			}
			p.Entries = append(p.Entries, e)
		}
	}
	return nil
}

// DumpPDUFTRequest asks for the kernel's current forwarding table.
type DumpPDUFTRequest struct{}

func (*DumpPDUFTRequest) MessageType() MsgType { return MsgDumpPDUFTRequest }

func (*DumpPDUFTRequest) encode(*attrWriter) {}

func (*DumpPDUFTRequest) decode([]attr) error { return nil }

// DumpPDUFTResponse carries the dumped forwarding table.
type DumpPDUFTResponse struct {
	Result  int32
	Entries []dif.PDUForwardingTableEntry
}

func (*DumpPDUFTResponse) MessageType() MsgType { return MsgDumpPDUFTResponse }

func (p *DumpPDUFTResponse) encode(w *attrWriter) {
	w.Int32(tagResult, p.Result)
	for _, e := range p.Entries {
		putFTEntry(w, tagFTEntry, e)
	}
}

func (p *DumpPDUFTResponse) decode(attrs []attr) error {
	for _, a := range attrs {
		switch a.tag {
		case tagResult:
			v, err := a.asInt32()
			if err != nil {
				return err
			}
			p.Result = v
		case tagFTEntry:
			e, err := parseFTEntry(a.val)
			if err != nil {
				return err
			}
			p.Entries = append(p.Entries, e)
		}
	}
	return nil
}

// MgmtSDUPayload carries a management SDU and the N-1 port-id it belongs
// to. The same body serves write requests and read notifications.
type MgmtSDUPayload struct {
	msgType MsgType
	PortID  int32
	Address uint32
	SDU     []byte
}

// NewMgmtSDU builds a management SDU body for the given message type.
func NewMgmtSDU(t MsgType, portID int32, address uint32, sdu []byte) *MgmtSDUPayload {
	return &MgmtSDUPayload{msgType: t, PortID: portID, Address: address, SDU: sdu}
}

func (p *MgmtSDUPayload) MessageType() MsgType { return p.msgType }

func (p *MgmtSDUPayload) encode(w *attrWriter) {
	w.Int32(tagPortID, p.PortID)
	w.Uint32(tagSourceAddress, p.Address)
	w.Bytes(tagSDU, p.SDU)
}

func (p *MgmtSDUPayload) decode(attrs []attr) error {
	var err error
	for _, a := range attrs {
		switch a.tag {
		case tagPortID:
			p.PortID, err = a.asInt32()
		case tagSourceAddress:
			p.Address, err = a.asUint32()
		case tagSDU:
			p.SDU = a.asBytes()
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// newPayload returns the empty payload struct for a message type so the
// decoder can fill it.
func newPayload(t MsgType) (Payload, error) {
	switch t {
	case MsgAssignToDIFRequest:
		return &AssignToDIFRequest{}, nil
	case MsgAssignToDIFResponse, MsgUpdateDIFConfigResponse, MsgAppRegisterResponse,
		MsgAppUnregisterResponse, MsgFlowDeallocateResponse, MsgFlowAllocateArrivedAck,
		MsgMgmtSDUWriteResponse:
		return &ResultPayload{msgType: t}, nil
	case MsgUpdateDIFConfigRequest:
		return &UpdateDIFConfigRequest{}, nil
	case MsgAppRegisterRequest, MsgAppUnregisterRequest:
		return &AppRegisterRequest{msgType: t}, nil
	case MsgFlowAllocateRequest:
		return &FlowAllocateRequest{}, nil
	case MsgFlowAllocateResponse:
		return &FlowAllocateResponse{}, nil
	case MsgFlowAllocateArrived:
		return &FlowAllocateArrived{}, nil
	case MsgFlowDeallocateRequest:
		return &FlowDeallocateRequest{}, nil
	case MsgFlowDeallocatedNotification:
		return &PortResultPayload{msgType: t}, nil
	case MsgConnCreateRequest, MsgConnCreateArrived:
		return &ConnCreateRequest{msgType: t}, nil
	case MsgConnCreateResponse, MsgConnCreateResult:
		return &ConnCreateResponse{msgType: t}, nil
	case MsgConnUpdateRequest:
		return &ConnUpdateRequest{}, nil
	case MsgConnUpdateResult, MsgConnDestroyResult:
		return &PortResultPayload{msgType: t}, nil
	case MsgConnDestroyRequest:
		return &ConnDestroyRequest{}, nil
	case MsgModifyPDUFTRequest:
		return &ModifyPDUFTRequest{}, nil
	case MsgDumpPDUFTRequest:
		return &DumpPDUFTRequest{}, nil
	case MsgDumpPDUFTResponse:
		return &DumpPDUFTResponse{}, nil
	case MsgMgmtSDUWriteRequest, MsgMgmtSDUReadNotification:
		return &MgmtSDUPayload{msgType: t}, nil
	}
	return nil, rerr.New(rerr.KindMalformedMessage, "unknown message type %d", uint16(t))
}
