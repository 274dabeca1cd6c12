package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/your-org/rina-stack/common/dif"
	"github.com/your-org/rina-stack/common/names"
	"github.com/your-org/rina-stack/common/qos"
	"github.com/your-org/rina-stack/common/rerr"
	"github.com/your-org/rina-stack/daemon/ipcm/internal/client"
	"github.com/your-org/rina-stack/daemon/ipcm/internal/factory"
	"github.com/your-org/rina-stack/daemon/ipcm/internal/flowlog"
	"github.com/your-org/rina-stack/daemon/ipcm/internal/store"
)

// clientFor builds an admin client for a managed IPCP.
func (s *IPCMServer) clientFor(r factory.IPCPRecord) *client.IPCPClient {
	return client.New("127.0.0.1", r.HTTPPort, s.logger)
}

// recordFromURL resolves the {ipcpID} route parameter.
func (s *IPCMServer) recordFromURL(w http.ResponseWriter, r *http.Request) (factory.IPCPRecord, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "ipcpID"), 10, 16)
	if err != nil {
		http.Error(w, "bad ipcp id", http.StatusBadRequest)
		return factory.IPCPRecord{}, false
	}
	rec, err := s.factory.Get(uint16(id))
	if err != nil {
		writeError(w, err)
		return factory.IPCPRecord{}, false
	}
	return rec, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "bad request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// handleCreateIPCP spawns an IPCP daemon and optionally assigns it to a
// templated DIF once it answers its health probe.
func (s *IPCMServer) handleCreateIPCP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        names.APNI `json:"name"`
		Type        string     `json:"type"`
		DIFTemplate string     `json:"difTemplate,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Type == "" {
		req.Type = string(dif.TypeNormal)
	}

	rec, err := s.factory.Create(req.Name, req.Type, s.controlPort)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.PutIPCPLayout(req.Name.Key(), store.IPCPLayout{
		ProcessName:     req.Name.ProcessName,
		ProcessInstance: req.Name.ProcessInstance,
		Type:            req.Type,
		DIFTemplate:     req.DIFTemplate,
	}); err != nil {
		s.logger.Warn("Layout not persisted", zap.Error(err))
	}

	c := s.clientFor(rec)
	if err := s.awaitStartup(c); err != nil {
		writeError(w, rerr.Wrap(rerr.KindTimeout, err, "IPCP %d did not come up", rec.ID))
		return
	}

	if req.DIFTemplate != "" {
		info, err := s.store.GetDIFTemplate(req.DIFTemplate)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := c.AssignToDIF(info); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, rec)
}

// awaitStartup polls the daemon's health endpoint until it answers.
func (s *IPCMServer) awaitStartup(c *client.IPCPClient) error {
	deadline := time.Now().Add(s.config.Spawn.StartupTimeout)
	var err error
	for time.Now().Before(deadline) {
		if err = c.Ping(); err == nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return err
}

func (s *IPCMServer) handleListIPCPs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.factory.List())
}

func (s *IPCMServer) handleGetIPCP(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.recordFromURL(w, r)
	if !ok {
		return
	}
	status, err := s.clientFor(rec).Status()
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"record": rec, "status": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"record": rec, "status": status})
}

func (s *IPCMServer) handleDestroyIPCP(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.recordFromURL(w, r)
	if !ok {
		return
	}
	if err := s.factory.Destroy(rec.ID); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.DeleteIPCPLayout(rec.Name.Key()); err != nil {
		s.logger.Warn("Layout not removed", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": 0})
}

func (s *IPCMServer) handleAssign(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.recordFromURL(w, r)
	if !ok {
		return
	}
	var req struct {
		Template string           `json:"template,omitempty"`
		Info     *dif.Information `json:"difInformation,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	var info dif.Information
	switch {
	case req.Info != nil:
		info = *req.Info
	case req.Template != "":
		var err error
		info, err = s.store.GetDIFTemplate(req.Template)
		if err != nil {
			writeError(w, err)
			return
		}
	default:
		http.Error(w, "template or difInformation required", http.StatusBadRequest)
		return
	}

	if err := s.clientFor(rec).AssignToDIF(info); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": 0})
}

func (s *IPCMServer) handleUpdateDIFConfig(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.recordFromURL(w, r)
	if !ok {
		return
	}
	var cfg dif.Configuration
	if !decodeBody(w, r, &cfg) {
		return
	}
	if err := s.clientFor(rec).UpdateDIFConfig(cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": 0})
}

func (s *IPCMServer) handleEnroll(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.recordFromURL(w, r)
	if !ok {
		return
	}
	var req struct {
		DIFName       names.APNI `json:"difName"`
		SupportingDIF names.APNI `json:"supportingDif"`
		Neighbor      names.APNI `json:"neighbor"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	info, neighbors, err := s.clientFor(rec).EnrollToDIF(req.DIFName, req.SupportingDIF, req.Neighbor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"difInformation": info, "neighbors": neighbors})
}

func (s *IPCMServer) handleRegisterApp(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.recordFromURL(w, r)
	if !ok {
		return
	}
	var app names.APNI
	if !decodeBody(w, r, &app) {
		return
	}
	if err := s.clientFor(rec).RegisterApp(app); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": 0})
}

func (s *IPCMServer) handleUnregisterApp(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.recordFromURL(w, r)
	if !ok {
		return
	}
	var app names.APNI
	if !decodeBody(w, r, &app) {
		return
	}
	if err := s.clientFor(rec).UnregisterApp(app); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": 0})
}

func (s *IPCMServer) handleAllocateFlow(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.recordFromURL(w, r)
	if !ok {
		return
	}
	var req struct {
		Local    names.APNI            `json:"local"`
		Remote   names.APNI            `json:"remote"`
		FlowSpec qos.FlowSpecification `json:"flowSpec"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	portID, err := s.clientFor(rec).AllocateFlow(req.Local, req.Remote, req.FlowSpec)
	s.archive.Record(r.Context(), flowlog.Event{
		IPCPID:    rec.ID,
		LocalApp:  req.Local.String(),
		RemoteApp: req.Remote.String(),
		PortID:    portID,
		Operation: "allocate",
		Result:    rerr.CodeOf(err),
		Reason:    rerr.ReasonOf(err),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"portId": portID})
}

func (s *IPCMServer) handleDeallocateFlow(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.recordFromURL(w, r)
	if !ok {
		return
	}
	portID, err := strconv.ParseInt(chi.URLParam(r, "portID"), 10, 32)
	if err != nil {
		http.Error(w, "bad port-id", http.StatusBadRequest)
		return
	}

	err = s.clientFor(rec).DeallocateFlow(int32(portID))
	s.archive.Record(r.Context(), flowlog.Event{
		IPCPID:    rec.ID,
		PortID:    int32(portID),
		Operation: "deallocate",
		Result:    rerr.CodeOf(err),
		Reason:    rerr.ReasonOf(err),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": 0})
}

func (s *IPCMServer) handleUpdateRouting(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.recordFromURL(w, r)
	if !ok {
		return
	}
	var routing []dif.RoutingTableEntry
	if !decodeBody(w, r, &routing) {
		return
	}
	if err := s.clientFor(rec).UpdateRouting(routing); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": 0})
}

func (s *IPCMServer) handleQueryRIB(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.recordFromURL(w, r)
	if !ok {
		return
	}
	entries, err := s.clientFor(rec).QueryRIB(r.URL.Query().Get("prefix"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *IPCMServer) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.store.ListDIFTemplates()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

func (s *IPCMServer) handlePutTemplate(w http.ResponseWriter, r *http.Request) {
	var info dif.Information
	if !decodeBody(w, r, &info) {
		return
	}
	if err := s.store.PutDIFTemplate(chi.URLParam(r, "name"), info); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": 0})
}

func (s *IPCMServer) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	info, err := s.store.GetDIFTemplate(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *IPCMServer) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteDIFTemplate(chi.URLParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": 0})
}
