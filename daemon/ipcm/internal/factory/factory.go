// Package factory creates and destroys IPC process daemons: it forks the
// ipcpd binary, tracks OS pids and lifecycle, and reaps exited daemons.
package factory

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/rina-stack/common/metrics"
	"github.com/your-org/rina-stack/common/names"
	"github.com/your-org/rina-stack/common/rerr"
	"github.com/your-org/rina-stack/daemon/ipcm/internal/config"
)

// IPCPRecord describes one managed IPC process daemon.
type IPCPRecord struct {
	ID        uint16     `json:"id"`
	Name      names.APNI `json:"name"`
	Type      string     `json:"type"`
	PID       int        `json:"pid"`
	HTTPPort  int        `json:"httpPort"`
	StartedAt time.Time  `json:"startedAt"`
	Running   bool       `json:"running"`
}

// Factory is the IPC process factory. The registry is shared between the
// northbound handlers and the reaper goroutines, hence the mutex.
type Factory struct {
	cfg    *config.Config
	logger *zap.Logger

	mu     sync.Mutex
	nextID uint16
	ipcps  map[uint16]*managed

	// onFinalized is invoked when a daemon's OS process exits.
	onFinalized func(id uint16, pid int)
}

type managed struct {
	record IPCPRecord
	cmd    *exec.Cmd
}

// New builds a factory.
func New(cfg *config.Config, logger *zap.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		logger: logger,
		nextID: 1,
		ipcps:  make(map[uint16]*managed),
	}
}

// OnFinalized registers the daemon-exit hook.
func (f *Factory) OnFinalized(fn func(id uint16, pid int)) {
	f.mu.Lock()
	f.onFinalized = fn
	f.mu.Unlock()
}

// Create spawns a new IPCP daemon with the spawn arguments of the
// contract: process name, process instance, ipcp-id and control port.
func (f *Factory) Create(name names.APNI, ipcpType string, controlPort int) (IPCPRecord, error) {
	if err := name.Validate(); err != nil {
		return IPCPRecord{}, err
	}

	f.mu.Lock()
	for _, m := range f.ipcps {
		if m.record.Name.Equal(name) && m.record.Running {
			f.mu.Unlock()
			return IPCPRecord{}, rerr.New(rerr.KindAlreadyRegistered, "IPCP %s already exists", name)
		}
	}
	id := f.nextID
	f.nextID++
	httpPort := f.cfg.Spawn.BaseHTTPPort + int(id)
	f.mu.Unlock()

	binary := filepath.Join(f.cfg.Spawn.InstallPath, "ipcpd")
	cmd := exec.Command(binary,
		"-process-name", name.ProcessName,
		"-process-instance", name.ProcessInstance,
		"-ipcp-id", fmt.Sprintf("%d", id),
		"-control-port", fmt.Sprintf("%d", controlPort),
		"-http-port", fmt.Sprintf("%d", httpPort),
	)
	if err := cmd.Start(); err != nil {
		return IPCPRecord{}, rerr.Wrap(rerr.KindWriteFailed, err, "cannot spawn %s", binary)
	}

	m := &managed{
		record: IPCPRecord{
			ID:        id,
			Name:      name,
			Type:      ipcpType,
			PID:       cmd.Process.Pid,
			HTTPPort:  httpPort,
			StartedAt: time.Now(),
			Running:   true,
		},
		cmd: cmd,
	}
	f.mu.Lock()
	f.ipcps[id] = m
	count := f.runningCountLocked()
	f.mu.Unlock()

	metrics.SetIPCPsRunning(count)
	metrics.RecordIPCPLifecycleEvent("created")
	f.logger.Info("IPCP daemon spawned",
		zap.Uint16("ipcp_id", id),
		zap.String("name", name.String()),
		zap.Int("pid", m.record.PID),
		zap.Int("http_port", httpPort),
	)

	go f.reap(id, cmd)
	return m.record, nil
}

// reap waits for the daemon to exit and updates the registry.
func (f *Factory) reap(id uint16, cmd *exec.Cmd) {
	err := cmd.Wait()

	f.mu.Lock()
	m, ok := f.ipcps[id]
	var pid int
	if ok {
		m.record.Running = false
		pid = m.record.PID
	}
	hook := f.onFinalized
	count := f.runningCountLocked()
	f.mu.Unlock()

	metrics.SetIPCPsRunning(count)
	metrics.RecordIPCPLifecycleEvent("finalized")
	f.logger.Info("IPCP daemon exited",
		zap.Uint16("ipcp_id", id),
		zap.Int("pid", pid),
		zap.Error(err),
	)
	if ok && hook != nil {
		hook(id, pid)
	}
}

// Destroy kills a daemon and removes it from the registry.
func (f *Factory) Destroy(id uint16) error {
	f.mu.Lock()
	m, ok := f.ipcps[id]
	if !ok {
		f.mu.Unlock()
		return rerr.New(rerr.KindNotRegistered, "no IPCP with id %d", id)
	}
	delete(f.ipcps, id)
	f.mu.Unlock()

	if m.record.Running && m.cmd.Process != nil {
		if err := m.cmd.Process.Kill(); err != nil {
			f.logger.Warn("Kill failed", zap.Uint16("ipcp_id", id), zap.Error(err))
		}
	}
	metrics.RecordIPCPLifecycleEvent("destroyed")
	f.logger.Info("IPCP destroyed", zap.Uint16("ipcp_id", id))
	return nil
}

// Get returns the record of one IPCP.
func (f *Factory) Get(id uint16) (IPCPRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.ipcps[id]
	if !ok {
		return IPCPRecord{}, rerr.New(rerr.KindNotRegistered, "no IPCP with id %d", id)
	}
	return m.record, nil
}

// List returns every record, ordered by id.
func (f *Factory) List() []IPCPRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]IPCPRecord, 0, len(f.ipcps))
	for _, m := range f.ipcps {
		out = append(out, m.record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DestroyAll kills every managed daemon, for shutdown.
func (f *Factory) DestroyAll() {
	for _, r := range f.List() {
		_ = f.Destroy(r.ID)
	}
}

func (f *Factory) runningCountLocked() int {
	n := 0
	for _, m := range f.ipcps {
		if m.record.Running {
			n++
		}
	}
	return n
}
