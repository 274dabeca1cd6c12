package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/your-org/rina-stack/common/dif"
	"github.com/your-org/rina-stack/common/names"
	"github.com/your-org/rina-stack/common/qos"
	"github.com/your-org/rina-stack/common/rerr"
)

// AdminAPI is the order surface the IPC Manager drives. Every call blocks
// until the loop commits or rejects the order.
type AdminAPI interface {
	AssignToDIF(info dif.Information) error
	UpdateDIFConfig(cfg dif.Configuration) error
	EnrollToDIF(difName, supportingDIF, neighbor names.APNI) (dif.Information, []dif.Neighbor, error)
	RegisterApp(app names.APNI) error
	UnregisterApp(app names.APNI) error
	AllocateFlow(local, remote names.APNI, fs qos.FlowSpecification) (int32, error)
	DeallocateFlow(portID int32) error
	UpdateRoutingTable(routing []dif.RoutingTableEntry) error
}

// AttachAdmin registers the order routes; call before Start.
func (s *IPCPServer) AttachAdmin(admin AdminAPI) {
	s.router.Post("/assign", func(w http.ResponseWriter, r *http.Request) {
		var info dif.Information
		if !decodeBody(w, r, &info) {
			return
		}
		writeOutcome(w, admin.AssignToDIF(info))
	})

	s.router.Put("/dif-config", func(w http.ResponseWriter, r *http.Request) {
		var cfg dif.Configuration
		if !decodeBody(w, r, &cfg) {
			return
		}
		writeOutcome(w, admin.UpdateDIFConfig(cfg))
	})

	s.router.Post("/enroll", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			DIFName       names.APNI `json:"difName"`
			SupportingDIF names.APNI `json:"supportingDif"`
			Neighbor      names.APNI `json:"neighbor"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		info, neighbors, err := admin.EnrollToDIF(req.DIFName, req.SupportingDIF, req.Neighbor)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{"difInformation": info, "neighbors": neighbors})
	})

	s.router.Post("/apps/register", func(w http.ResponseWriter, r *http.Request) {
		var app names.APNI
		if !decodeBody(w, r, &app) {
			return
		}
		writeOutcome(w, admin.RegisterApp(app))
	})

	s.router.Post("/apps/unregister", func(w http.ResponseWriter, r *http.Request) {
		var app names.APNI
		if !decodeBody(w, r, &app) {
			return
		}
		writeOutcome(w, admin.UnregisterApp(app))
	})

	s.router.Post("/flows", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Local    names.APNI            `json:"local"`
			Remote   names.APNI            `json:"remote"`
			FlowSpec qos.FlowSpecification `json:"flowSpec"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		portID, err := admin.AllocateFlow(req.Local, req.Remote, req.FlowSpec)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{"portId": portID})
	})

	s.router.Delete("/flows/{portID}", func(w http.ResponseWriter, r *http.Request) {
		portID, err := strconv.ParseInt(chi.URLParam(r, "portID"), 10, 32)
		if err != nil {
			http.Error(w, "bad port-id", http.StatusBadRequest)
			return
		}
		writeOutcome(w, admin.DeallocateFlow(int32(portID)))
	})

	s.router.Put("/routing", func(w http.ResponseWriter, r *http.Request) {
		var routing []dif.RoutingTableEntry
		if !decodeBody(w, r, &routing) {
			return
		}
		writeOutcome(w, admin.UpdateRoutingTable(routing))
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "bad request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var re *rerr.Error
	if errors.As(err, &re) {
		switch re.Kind {
		case rerr.KindMalformedMessage, rerr.KindInvalidField, rerr.KindRequiredFieldMissing:
			status = http.StatusBadRequest
		case rerr.KindInvalidStateTransition, rerr.KindAlreadyRegistered, rerr.KindNotRegistered,
			rerr.KindNotAMemberOfDIF, rerr.KindObjectAlreadyExists:
			status = http.StatusConflict
		case rerr.KindUnknownApplication, rerr.KindUnknownObjectName, rerr.KindUnknownObjectClass:
			status = http.StatusNotFound
		case rerr.KindTimeout:
			status = http.StatusGatewayTimeout
		case rerr.KindKernelBusy:
			status = http.StatusServiceUnavailable
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"result": rerr.CodeOf(err),
		"reason": rerr.ReasonOf(err),
	})
}

func writeOutcome(w http.ResponseWriter, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"result": 0})
}
