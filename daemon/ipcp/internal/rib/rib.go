// Package rib implements the Resource Information Base: a tree of named
// management objects and the broker that dispatches CDAP operations to
// their handlers.
package rib

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/your-org/rina-stack/common/cdap"
	"github.com/your-org/rina-stack/common/rerr"
)

// Well-known object paths.
const (
	PathEnrollment        = "/daf/management/enrollment"
	PathOperationalStatus = "/daf/management/operationalStatus"
	PathWhatevercastNames = "/daf/management/naming/whatevercastnames"
	PathPDUForwardingTable = "/dif/resourceallocation/pduforwardingtable"
	PathFlows             = "/dif/resourceallocation/flowallocator/flows"
	PathNeighbors         = "/dif/management/neighbors"
	PathDirectory         = "/dif/management/directoryforwardingtableentries"
)

// Handler is the vtable every RIB object implements. The default base
// rejects everything; objects override the operations they support.
type Handler interface {
	OnCreate(name string, value cdap.ObjectValue) (cdap.ObjectValue, error)
	OnDelete(name string) error
	OnRead(name string) (cdap.ObjectValue, error)
	OnWrite(name string, value cdap.ObjectValue) error
	OnStart(name string, value cdap.ObjectValue) error
	OnStop(name string, value cdap.ObjectValue) error
}

// BaseHandler rejects every operation; embed it and override selectively.
type BaseHandler struct{}

func (BaseHandler) OnCreate(string, cdap.ObjectValue) (cdap.ObjectValue, error) {
	return cdap.ObjectValue{}, rerr.New(rerr.KindOperationNotAllowed, "create not supported")
}

func (BaseHandler) OnDelete(string) error {
	return rerr.New(rerr.KindOperationNotAllowed, "delete not supported")
}

func (BaseHandler) OnRead(string) (cdap.ObjectValue, error) {
	return cdap.ObjectValue{}, rerr.New(rerr.KindOperationNotAllowed, "read not supported")
}

func (BaseHandler) OnWrite(string, cdap.ObjectValue) error {
	return rerr.New(rerr.KindOperationNotAllowed, "write not supported")
}

func (BaseHandler) OnStart(string, cdap.ObjectValue) error {
	return rerr.New(rerr.KindOperationNotAllowed, "start not supported")
}

func (BaseHandler) OnStop(string, cdap.ObjectValue) error {
	return rerr.New(rerr.KindOperationNotAllowed, "stop not supported")
}

// Object is one node of the RIB tree.
type Object struct {
	Class       string
	Name        string
	Instance    int64
	Displayable string
	handler     Handler
}

// RIB is the per-IPCP object tree. It is confined to the IPCP's event-loop
// goroutine.
type RIB struct {
	logger *zap.Logger

	byName     map[string]*Object // key: class + "\x00" + name
	byPath     map[string]*Object // key: name (full path)
	byInstance map[int64]*Object
	nextInst   int64
}

// New builds an empty RIB.
func New(logger *zap.Logger) *RIB {
	return &RIB{
		logger:     logger,
		byName:     make(map[string]*Object),
		byPath:     make(map[string]*Object),
		byInstance: make(map[int64]*Object),
		nextInst:   1,
	}
}

func nameKey(class, name string) string { return class + "\x00" + name }

// Register adds an object to the tree. (class, name) must be unique; the
// instance id is assigned by the RIB.
func (r *RIB) Register(class, name string, h Handler) (*Object, error) {
	if class == "" || name == "" {
		return nil, rerr.New(rerr.KindInvalidField, "object class and name are required")
	}
	if !strings.HasPrefix(name, "/") {
		return nil, rerr.New(rerr.KindInvalidField, "object name %q is not a path", name)
	}
	if _, exists := r.byName[nameKey(class, name)]; exists {
		return nil, rerr.New(rerr.KindObjectAlreadyExists, "object %s %s already registered", class, name)
	}
	if _, exists := r.byPath[name]; exists {
		return nil, rerr.New(rerr.KindObjectAlreadyExists, "path %s already registered", name)
	}
	obj := &Object{
		Class:    class,
		Name:     name,
		Instance: r.nextInst,
		handler:  h,
	}
	r.nextInst++
	r.byName[nameKey(class, name)] = obj
	r.byPath[name] = obj
	r.byInstance[obj.Instance] = obj
	return obj, nil
}

// Unregister removes an object from the tree.
func (r *RIB) Unregister(class, name string) error {
	obj, ok := r.byName[nameKey(class, name)]
	if !ok {
		return rerr.New(rerr.KindUnknownObjectName, "object %s %s not registered", class, name)
	}
	delete(r.byName, nameKey(class, name))
	delete(r.byPath, name)
	delete(r.byInstance, obj.Instance)
	return nil
}

// lookup resolves the object addressed by a CDAP message: by instance when
// present, otherwise by (class, name). When only the name is present the
// path index serves reads from peers that omit the class.
func (r *RIB) lookup(class, name string, instance int64) (*Object, error) {
	if instance != 0 {
		if obj, ok := r.byInstance[instance]; ok {
			return obj, nil
		}
		return nil, rerr.New(rerr.KindUnknownObjectName, "no object with instance %d", instance)
	}
	if class != "" {
		if obj, ok := r.byName[nameKey(class, name)]; ok {
			return obj, nil
		}
		// A known path under a different class is a class error, which is
		// more useful to the peer than "unknown name".
		if _, ok := r.byPath[name]; ok {
			return nil, rerr.New(rerr.KindUnknownObjectClass, "object %s exists but not with class %s", name, class)
		}
		return nil, rerr.New(rerr.KindUnknownObjectName, "no object %s", name)
	}
	if obj, ok := r.byPath[name]; ok {
		return obj, nil
	}
	return nil, rerr.New(rerr.KindUnknownObjectName, "no object %s", name)
}

// FindByPath returns the object at a path, if any.
func (r *RIB) FindByPath(name string) (*Object, bool) {
	obj, ok := r.byPath[name]
	return obj, ok
}

// resolveTarget walks up the path to find a handler for messages that
// address children of a registered subtree (e.g. one flow object under the
// flows node).
func (r *RIB) resolveTarget(class, name string, instance int64) (*Object, error) {
	obj, err := r.lookup(class, name, instance)
	if err == nil {
		return obj, nil
	}
	if instance != 0 || name == "" {
		return nil, err
	}
	for p := parentPath(name); p != ""; p = parentPath(p) {
		if obj, ok := r.byPath[p]; ok {
			return obj, nil
		}
	}
	return nil, err
}

func parentPath(p string) string {
	i := strings.LastIndex(p, "/")
	if i <= 0 {
		return ""
	}
	return p[:i]
}

// Dispatch routes an incoming CDAP request to the object it addresses and
// builds the reply. Scope and filter are passed through untouched; the
// default handlers ignore them.
func (r *RIB) Dispatch(req *cdap.Message) (*cdap.Message, error) {
	reply, err := req.Reply()
	if err != nil {
		return nil, err
	}

	obj, err := r.resolveTarget(req.ObjClass, req.ObjName, req.ObjInst)
	if err != nil {
		reply.SetResult(rerr.CodeOf(err), rerr.ReasonOf(err))
		return reply, nil
	}

	name := req.ObjName
	if name == "" {
		name = obj.Name
	}

	var opErr error
	switch req.OpCode {
	case cdap.MCreate:
		var out cdap.ObjectValue
		out, opErr = obj.handler.OnCreate(name, req.ObjValue)
		if opErr == nil {
			reply.ObjValue = out
		}
	case cdap.MDelete:
		opErr = obj.handler.OnDelete(name)
	case cdap.MRead:
		var out cdap.ObjectValue
		out, opErr = obj.handler.OnRead(name)
		if opErr == nil {
			reply.ObjValue = out
		}
	case cdap.MWrite:
		opErr = obj.handler.OnWrite(name, req.ObjValue)
	case cdap.MStart:
		opErr = obj.handler.OnStart(name, req.ObjValue)
	case cdap.MStop:
		opErr = obj.handler.OnStop(name, req.ObjValue)
	default:
		opErr = rerr.New(rerr.KindOperationNotAllowed, "%s is not a RIB operation", req.OpCode)
	}

	if opErr != nil {
		r.logger.Debug("RIB operation failed",
			zap.String("op", req.OpCode.String()),
			zap.String("object", name),
			zap.Error(opErr),
		)
		reply.SetResult(rerr.CodeOf(opErr), rerr.ReasonOf(opErr))
	}
	return reply, nil
}

// Entry is one row of a RIB dump.
type Entry struct {
	Class       string `json:"class"`
	Name        string `json:"name"`
	Instance    int64  `json:"instance"`
	Displayable string `json:"displayable,omitempty"`
}

// Dump lists the registered objects, sorted by path, optionally filtered
// by a path prefix.
func (r *RIB) Dump(prefix string) []Entry {
	var out []Entry
	for _, obj := range r.byPath {
		if prefix != "" && !strings.HasPrefix(obj.Name, prefix) {
			continue
		}
		e := Entry{Class: obj.Class, Name: obj.Name, Instance: obj.Instance, Displayable: obj.Displayable}
		if rd, ok := obj.handler.(interface{ Displayable() string }); ok {
			e.Displayable = rd.Displayable()
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
