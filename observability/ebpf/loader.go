// Package ebpf attaches uprobes to a running IPCP daemon and turns
// control-channel record handling into OpenTelemetry spans, without
// touching the daemon itself.
package ebpf

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/perf"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// CtrlEvent is one control-channel record handled by the traced daemon.
type CtrlEvent struct {
	TimestampNS uint64
	PID         uint32
	TID         uint32
	SeqNum      uint32
	MsgType     uint16
	Flags       uint16
	DurationNS  uint64
	PayloadLen  uint32
}

// Tracer manages eBPF-based tracing of one IPCP daemon.
type Tracer struct {
	daemonName string
	binary     string
	collection *ebpf.Collection
	links      []link.Link
	reader     *perf.Reader
	logger     *zap.Logger
	tracer     trace.Tracer
	eventChan  chan *CtrlEvent
	stopChan   chan struct{}
}

// Config holds tracer configuration.
type Config struct {
	// DaemonName labels the spans (e.g. "ipcpd-1").
	DaemonName string
	// Binary is the path to the running ipcpd binary.
	Binary string
}

// loadTracectrl loads the compiled eBPF object shipped alongside the
// tracer (built from trace_ctrl.c with clang -target bpf).
func loadTracectrl() (*ebpf.CollectionSpec, error) {
	return ebpf.LoadCollectionSpec("trace_ctrl.o")
}

// NewTracer creates a tracer for an IPCP daemon.
func NewTracer(cfg *Config, logger *zap.Logger) (*Tracer, error) {
	return &Tracer{
		daemonName: cfg.DaemonName,
		binary:     cfg.Binary,
		logger:     logger,
		tracer:     otel.Tracer("rina-ctrl-tracer"),
		eventChan:  make(chan *CtrlEvent, 10000),
		stopChan:   make(chan struct{}),
	}, nil
}

// Load loads the eBPF programs and attaches the probes.
func (t *Tracer) Load(ctx context.Context) error {
	ctx, span := t.tracer.Start(ctx, "Tracer.Load")
	defer span.End()

	t.logger.Info("Loading eBPF programs", zap.String("daemon", t.daemonName))

	spec, err := loadTracectrl()
	if err != nil {
		return fmt.Errorf("failed to load eBPF spec: %w", err)
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return fmt.Errorf("failed to create eBPF collection: %w", err)
	}
	t.collection = coll

	if err := t.attachRecordProbes(); err != nil {
		t.logger.Warn("Failed to attach record probes", zap.Error(err))
	}
	if err := t.attachSocketProbes(); err != nil {
		t.logger.Warn("Failed to attach socket probes", zap.Error(err))
	}

	rd, err := perf.NewReader(t.collection.Maps["ctrl_events"], 4096*os.Getpagesize())
	if err != nil {
		return fmt.Errorf("failed to create perf reader: %w", err)
	}
	t.reader = rd

	go t.processEvents()

	span.SetAttributes(
		attribute.String("daemon", t.daemonName),
		attribute.String("binary", t.binary),
	)

	t.logger.Info("eBPF programs loaded successfully")
	return nil
}

// attachRecordProbes hooks the daemon's record dispatch path: entry and
// return of the control-channel dispatch function.
func (t *Tracer) attachRecordProbes() error {
	start := t.collection.Programs["trace_ctrl_dispatch_start"]
	end := t.collection.Programs["trace_ctrl_dispatch_end"]
	if start == nil || end == nil {
		return fmt.Errorf("dispatch programs not found in collection")
	}

	// The symbols the dispatch path goes through, in preference order.
	symbols := []string{
		"github.com/your-org/rina-stack/daemon/ipcp/internal/kernel.(*Client).dispatch",
		"github.com/your-org/rina-stack/common/ctrl.ReadRecord",
	}

	ex, err := link.OpenExecutable(t.binary)
	if err != nil {
		return fmt.Errorf("failed to open executable %s: %w", t.binary, err)
	}

	for _, symbol := range symbols {
		l, err := ex.Uprobe(symbol, start, nil)
		if err != nil {
			continue
		}
		t.links = append(t.links, l)

		lr, err := ex.Uretprobe(symbol, end, nil)
		if err != nil {
			l.Close()
			t.links = t.links[:len(t.links)-1]
			continue
		}
		t.links = append(t.links, lr)
		t.logger.Info("Attached dispatch probes", zap.String("symbol", symbol))
		return nil
	}
	return fmt.Errorf("failed to attach to any dispatch symbol")
}

// attachSocketProbes hooks the stream-socket send/receive path under the
// control channel.
func (t *Tracer) attachSocketProbes() error {
	if prog := t.collection.Programs["trace_unix_stream_sendmsg"]; prog != nil {
		l, err := link.Kprobe("unix_stream_sendmsg", prog, nil)
		if err != nil {
			return fmt.Errorf("failed to attach unix_stream_sendmsg: %w", err)
		}
		t.links = append(t.links, l)
	}
	if prog := t.collection.Programs["trace_unix_stream_recvmsg"]; prog != nil {
		l, err := link.Kprobe("unix_stream_recvmsg", prog, nil)
		if err != nil {
			return fmt.Errorf("failed to attach unix_stream_recvmsg: %w", err)
		}
		t.links = append(t.links, l)
	}
	return nil
}

// processEvents reads events from the perf buffer and exports them.
func (t *Tracer) processEvents() {
	t.logger.Info("Starting eBPF event processing")

	for {
		select {
		case <-t.stopChan:
			t.logger.Info("Stopping eBPF event processing")
			return
		default:
		}

		record, err := t.reader.Read()
		if err != nil {
			if errors.Is(err, perf.ErrClosed) {
				return
			}
			t.logger.Error("Error reading from perf buffer", zap.Error(err))
			continue
		}

		if record.LostSamples > 0 {
			t.logger.Warn("Lost perf samples", zap.Uint64("count", record.LostSamples))
		}

		var event CtrlEvent
		if err := binary.Read(bytes.NewReader(record.RawSample), binary.LittleEndian, &event); err != nil {
			t.logger.Error("Error parsing event", zap.Error(err))
			continue
		}

		select {
		case t.eventChan <- &event:
		default:
			t.logger.Warn("Event channel full, dropping event")
		}

		t.exportToOTel(&event)
	}
}

// exportToOTel converts one control-channel event into a span.
func (t *Tracer) exportToOTel(event *CtrlEvent) {
	start := time.Unix(0, int64(event.TimestampNS))
	end := start.Add(time.Duration(event.DurationNS))

	_, span := t.tracer.Start(context.Background(), "ctrl.dispatch",
		trace.WithTimestamp(start),
		trace.WithAttributes(
			attribute.String("daemon", t.daemonName),
			attribute.Int64("seq", int64(event.SeqNum)),
			attribute.Int64("msg_type", int64(event.MsgType)),
			attribute.Int64("flags", int64(event.Flags)),
			attribute.Int64("payload_len", int64(event.PayloadLen)),
			attribute.Int64("pid", int64(event.PID)),
		),
	)
	span.End(trace.WithTimestamp(end))
}

// Events exposes the raw event stream for custom consumers.
func (t *Tracer) Events() <-chan *CtrlEvent {
	return t.eventChan
}

// Close detaches every probe and stops processing.
func (t *Tracer) Close() error {
	close(t.stopChan)
	if t.reader != nil {
		t.reader.Close()
	}
	for _, l := range t.links {
		l.Close()
	}
	if t.collection != nil {
		t.collection.Close()
	}
	t.logger.Info("eBPF tracer closed")
	return nil
}
