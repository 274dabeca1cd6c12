package ribd

import (
	"encoding/json"

	"github.com/your-org/rina-stack/common/cdap"
	"github.com/your-org/rina-stack/common/names"
	"github.com/your-org/rina-stack/common/rerr"
	ipcpcontext "github.com/your-org/rina-stack/daemon/ipcp/internal/context"
	"github.com/your-org/rina-stack/daemon/ipcp/internal/rib"
)

// RegisterStandardObjects populates the RIB with the well-known management
// objects of an IPCP.
func RegisterStandardObjects(broker *rib.RIB, ctx *ipcpcontext.IPCPContext) error {
	registrations := []struct {
		class string
		name  string
		h     rib.Handler
	}{
		{"OperationalStatus", rib.PathOperationalStatus, &operationalStatusObject{}},
		{"Neighbor", rib.PathNeighbors, &neighborsObject{ctx: ctx}},
		{"DirectoryForwardingTableEntry", rib.PathDirectory, &directoryObject{ctx: ctx}},
		{"WhatevercastName", rib.PathWhatevercastNames, &whatevercastObject{}},
	}
	for _, r := range registrations {
		if _, err := broker.Register(r.class, r.name, r.h); err != nil {
			return err
		}
	}
	return nil
}

// operationalStatusObject reflects whether the IPCP's management plane is
// started. Peers read it as a watchdog.
type operationalStatusObject struct {
	rib.BaseHandler
	stopped bool
}

func (o *operationalStatusObject) OnRead(string) (cdap.ObjectValue, error) {
	if o.stopped {
		return cdap.StringValue("STOPPED"), nil
	}
	return cdap.StringValue("STARTED"), nil
}

func (o *operationalStatusObject) OnStart(string, cdap.ObjectValue) error {
	o.stopped = false
	return nil
}

func (o *operationalStatusObject) OnStop(string, cdap.ObjectValue) error {
	o.stopped = true
	return nil
}

// neighborsObject exposes the neighbor table as JSON.
type neighborsObject struct {
	rib.BaseHandler
	ctx *ipcpcontext.IPCPContext
}

func (o *neighborsObject) OnRead(string) (cdap.ObjectValue, error) {
	b, err := json.Marshal(o.ctx.Neighbors())
	if err != nil {
		return cdap.ObjectValue{}, rerr.Wrap(rerr.KindInvalidField, err, "neighbor table")
	}
	return cdap.BytesValue(b), nil
}

// directoryEntryRecord is the wire shape of one directory write.
type directoryEntryRecord struct {
	AppName names.APNI `json:"appName"`
	Address uint32     `json:"address"`
}

// directoryObject serves the directory forwarding table: reads dump it,
// creates and writes upsert entries, deletes remove them.
type directoryObject struct {
	rib.BaseHandler
	ctx *ipcpcontext.IPCPContext
}

func (o *directoryObject) OnRead(string) (cdap.ObjectValue, error) {
	b, err := json.Marshal(o.ctx.DirectoryEntries())
	if err != nil {
		return cdap.ObjectValue{}, rerr.Wrap(rerr.KindInvalidField, err, "directory")
	}
	return cdap.BytesValue(b), nil
}

func (o *directoryObject) OnCreate(_ string, value cdap.ObjectValue) (cdap.ObjectValue, error) {
	return cdap.ObjectValue{}, o.upsert(value)
}

func (o *directoryObject) OnWrite(_ string, value cdap.ObjectValue) error {
	return o.upsert(value)
}

func (o *directoryObject) upsert(value cdap.ObjectValue) error {
	if value.Kind != cdap.ValueBytes {
		return rerr.New(rerr.KindObjectValueNull, "directory entries must be a byte value")
	}
	var entries []directoryEntryRecord
	if err := json.Unmarshal(value.Bytes, &entries); err != nil {
		return rerr.Wrap(rerr.KindMalformedMessage, err, "directory entries")
	}
	for _, e := range entries {
		if err := e.AppName.Validate(); err != nil {
			return err
		}
		o.ctx.SetDirectoryEntry(e.AppName, e.Address)
	}
	return nil
}

func (o *directoryObject) OnDelete(string) error {
	for _, e := range o.ctx.DirectoryEntries() {
		o.ctx.RemoveDirectoryEntry(e.AppName)
	}
	return nil
}

// whatevercastObject holds the whatevercast name set; empty unless
// configured.
type whatevercastObject struct {
	rib.BaseHandler
	names []string
}

func (o *whatevercastObject) OnRead(string) (cdap.ObjectValue, error) {
	b, err := json.Marshal(o.names)
	if err != nil {
		return cdap.ObjectValue{}, rerr.Wrap(rerr.KindInvalidField, err, "whatevercast names")
	}
	return cdap.BytesValue(b), nil
}

func (o *whatevercastObject) OnWrite(_ string, value cdap.ObjectValue) error {
	if value.Kind != cdap.ValueBytes {
		return rerr.New(rerr.KindObjectValueNull, "whatevercast names must be a byte value")
	}
	var out []string
	if err := json.Unmarshal(value.Bytes, &out); err != nil {
		return rerr.Wrap(rerr.KindMalformedMessage, err, "whatevercast names")
	}
	o.names = out
	return nil
}
