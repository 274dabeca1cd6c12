package ctrl

import "fmt"

// MsgType is the closed enum of control-channel record types.
type MsgType uint16

const (
	MsgNone MsgType = iota

	// IPC-Manager-facing operations.
	MsgAssignToDIFRequest
	MsgAssignToDIFResponse
	MsgUpdateDIFConfigRequest
	MsgUpdateDIFConfigResponse
	MsgAppRegisterRequest
	MsgAppRegisterResponse
	MsgAppUnregisterRequest
	MsgAppUnregisterResponse

	// Flow operations.
	MsgFlowAllocateRequest
	MsgFlowAllocateResponse
	MsgFlowAllocateArrived
	MsgFlowAllocateArrivedAck
	MsgFlowDeallocateRequest
	MsgFlowDeallocateResponse
	MsgFlowDeallocatedNotification

	// EFCP connection operations.
	MsgConnCreateRequest
	MsgConnCreateResponse
	MsgConnCreateArrived
	MsgConnCreateResult
	MsgConnUpdateRequest
	MsgConnUpdateResult
	MsgConnDestroyRequest
	MsgConnDestroyResult

	// Relaying-and-multiplexing (forwarding table) operations.
	MsgModifyPDUFTRequest
	MsgDumpPDUFTRequest
	MsgDumpPDUFTResponse

	// Management SDU transport.
	MsgMgmtSDUWriteRequest
	MsgMgmtSDUWriteResponse
	MsgMgmtSDUReadNotification
)

var msgTypeNames = map[MsgType]string{
	MsgNone:                        "NONE",
	MsgAssignToDIFRequest:          "ASSIGN_TO_DIF_REQUEST",
	MsgAssignToDIFResponse:         "ASSIGN_TO_DIF_RESPONSE",
	MsgUpdateDIFConfigRequest:      "UPDATE_DIF_CONFIG_REQUEST",
	MsgUpdateDIFConfigResponse:     "UPDATE_DIF_CONFIG_RESPONSE",
	MsgAppRegisterRequest:          "APP_REGISTER_REQUEST",
	MsgAppRegisterResponse:         "APP_REGISTER_RESPONSE",
	MsgAppUnregisterRequest:        "APP_UNREGISTER_REQUEST",
	MsgAppUnregisterResponse:       "APP_UNREGISTER_RESPONSE",
	MsgFlowAllocateRequest:         "FLOW_ALLOCATE_REQUEST",
	MsgFlowAllocateResponse:        "FLOW_ALLOCATE_RESPONSE",
	MsgFlowAllocateArrived:         "FLOW_ALLOCATE_ARRIVED",
	MsgFlowAllocateArrivedAck:      "FLOW_ALLOCATE_ARRIVED_ACK",
	MsgFlowDeallocateRequest:       "FLOW_DEALLOCATE_REQUEST",
	MsgFlowDeallocateResponse:      "FLOW_DEALLOCATE_RESPONSE",
	MsgFlowDeallocatedNotification: "FLOW_DEALLOCATED_NOTIFICATION",
	MsgConnCreateRequest:           "CONN_CREATE_REQUEST",
	MsgConnCreateResponse:          "CONN_CREATE_RESPONSE",
	MsgConnCreateArrived:           "CONN_CREATE_ARRIVED",
	MsgConnCreateResult:            "CONN_CREATE_RESULT",
	MsgConnUpdateRequest:           "CONN_UPDATE_REQUEST",
	MsgConnUpdateResult:            "CONN_UPDATE_RESULT",
	MsgConnDestroyRequest:          "CONN_DESTROY_REQUEST",
	MsgConnDestroyResult:           "CONN_DESTROY_RESULT",
	MsgModifyPDUFTRequest:          "MODIFY_PDUFT_REQUEST",
	MsgDumpPDUFTRequest:            "DUMP_PDUFT_REQUEST",
	MsgDumpPDUFTResponse:           "DUMP_PDUFT_RESPONSE",
	MsgMgmtSDUWriteRequest:         "MGMT_SDU_WRITE_REQUEST",
	MsgMgmtSDUWriteResponse:        "MGMT_SDU_WRITE_RESPONSE",
	MsgMgmtSDUReadNotification:     "MGMT_SDU_READ_NOTIFICATION",
}

// String returns the catalog name of the message type.
func (t MsgType) String() string {
	if s, ok := msgTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("msgtype(%d)", uint16(t))
}

// HeaderFlags is the flag bitmap of the record header.
type HeaderFlags uint16

const (
	FlagRequest HeaderFlags = 1 << iota
	FlagResponse
	FlagNotification
)

// PDUFTModifyMode selects how a forwarding-table program is applied.
type PDUFTModifyMode uint8

const (
	PDUFTAdd PDUFTModifyMode = iota
	PDUFTRemove
	PDUFTFlushAndAdd
)
