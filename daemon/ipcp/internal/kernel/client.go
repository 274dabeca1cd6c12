// Package kernel implements the control-channel client: the typed,
// sequence-numbered request/response transport between an IPCP daemon and
// the in-kernel data-transfer engine. The client carries opaque records
// typed by message kind; it knows nothing of RINA semantics.
package kernel

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/rina-stack/common/ctrl"
	"github.com/your-org/rina-stack/common/metrics"
	"github.com/your-org/rina-stack/common/rerr"
)

// ResponseHandler receives the response (or failure) of one request. It is
// invoked from the background reader or timer goroutine: implementations
// must only hand the result off to the event queue, never call into
// component state.
type ResponseHandler func(*ctrl.Message, error)

// NotificationHandler receives unsolicited records of one message type,
// under the same constraint as ResponseHandler.
type NotificationHandler func(*ctrl.Message)

type pendingRequest struct {
	seq      uint32
	msgType  ctrl.MsgType
	started  time.Time
	handler  ResponseHandler
	deadline *time.Timer
}

// Client multiplexes concurrent requests over a single control channel.
type Client struct {
	conn    io.ReadWriteCloser
	ipcpID  uint16
	timeout time.Duration
	logger  *zap.Logger

	seq atomic.Uint32

	mu       sync.Mutex
	pending  map[uint32]*pendingRequest
	subs     map[ctrl.MsgType]NotificationHandler
	onClosed func(error)
	closed   bool

	out  chan []byte
	done chan struct{}

	droppedLate atomic.Uint64
}

// Option tunes a Client.
type Option func(*Client)

// WithTimeout sets the per-request deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithOutboundQueue sets the depth of the write queue. When the queue is
// full, submissions fail with KernelBusy instead of blocking the caller.
func WithOutboundQueue(n int) Option {
	return func(c *Client) { c.out = make(chan []byte, n) }
}

// New builds a client over an established control-channel connection.
// Call Start to spin up the background reader and writer.
func New(conn io.ReadWriteCloser, ipcpID uint16, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		conn:    conn,
		ipcpID:  ipcpID,
		timeout: 5 * time.Second,
		logger:  logger,
		pending: make(map[uint32]*pendingRequest),
		subs:    make(map[ctrl.MsgType]NotificationHandler),
		out:     make(chan []byte, 128),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Subscribe routes unsolicited records of the given type to the handler.
func (c *Client) Subscribe(t ctrl.MsgType, h NotificationHandler) {
	c.mu.Lock()
	c.subs[t] = h
	c.mu.Unlock()
}

// OnClosed registers a hook invoked once when the channel dies.
func (c *Client) OnClosed(h func(error)) {
	c.mu.Lock()
	c.onClosed = h
	c.mu.Unlock()
}

// Start launches the background reader and writer goroutines.
func (c *Client) Start() {
	go c.writeLoop()
	go c.readLoop()
}

// DroppedLateResponses returns the number of responses that arrived after
// their request was gone.
func (c *Client) DroppedLateResponses() uint64 {
	return c.droppedLate.Load()
}

// NextSequenceNumber allocates a sequence number. Numbers increase
// monotonically and are never reused within the process lifetime.
func (c *Client) NextSequenceNumber() uint32 {
	return c.seq.Add(1)
}

// Submit sends a request and registers its continuation before the bytes
// leave the process. The continuation fires exactly once: with the
// response, with Timeout when the deadline lapses, or with ChannelClosed.
func (c *Client) Submit(payload ctrl.Payload, destIPCP uint16, handler ResponseHandler) (uint32, error) {
	seq := c.NextSequenceNumber()
	msg := &ctrl.Message{
		Header: ctrl.Header{
			SequenceNumber:    seq,
			SourceIPCPID:      c.ipcpID,
			DestinationIPCPID: destIPCP,
			Type:              payload.MessageType(),
			Flags:             ctrl.FlagRequest,
		},
		Payload: payload,
	}
	b, err := ctrl.Encode(msg)
	if err != nil {
		return 0, err
	}

	req := &pendingRequest{
		seq:     seq,
		msgType: payload.MessageType(),
		started: time.Now(),
		handler: handler,
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, rerr.New(rerr.KindChannelClosed, "control channel is down")
	}
	c.pending[seq] = req
	req.deadline = time.AfterFunc(c.timeout, func() { c.expire(seq) })
	c.mu.Unlock()

	if err := c.enqueue(b); err != nil {
		c.unregister(seq)
		return 0, err
	}
	return seq, nil
}

// Send transmits a record without expecting a response (fire-and-forget
// requests and acks of kernel notifications).
func (c *Client) Send(payload ctrl.Payload, destIPCP uint16, flags ctrl.HeaderFlags) error {
	msg := &ctrl.Message{
		Header: ctrl.Header{
			SequenceNumber:    c.NextSequenceNumber(),
			SourceIPCPID:      c.ipcpID,
			DestinationIPCPID: destIPCP,
			Type:              payload.MessageType(),
			Flags:             flags,
		},
		Payload: payload,
	}
	b, err := ctrl.Encode(msg)
	if err != nil {
		return err
	}
	return c.enqueue(b)
}

// enqueue hands bytes to the writer goroutine, failing fast on a full
// queue so the event loop never blocks on the channel.
func (c *Client) enqueue(b []byte) error {
	select {
	case c.out <- b:
		return nil
	case <-c.done:
		return rerr.New(rerr.KindChannelClosed, "control channel is down")
	default:
		return rerr.New(rerr.KindKernelBusy, "control channel write queue full")
	}
}

// unregister removes a pending request, returning it if it was still live.
func (c *Client) unregister(seq uint32) *pendingRequest {
	c.mu.Lock()
	req, ok := c.pending[seq]
	if ok {
		delete(c.pending, seq)
	}
	c.mu.Unlock()
	if ok && req.deadline != nil {
		req.deadline.Stop()
	}
	if !ok {
		return nil
	}
	return req
}

// expire resolves a request with Timeout when its deadline lapses.
func (c *Client) expire(seq uint32) {
	req := c.unregister(seq)
	if req == nil {
		return
	}
	metrics.RecordKernelRequest(req.msgType.String(), "timeout", time.Since(req.started).Seconds())
	c.logger.Warn("Kernel request timed out",
		zap.Uint32("seq", seq),
		zap.String("type", req.msgType.String()),
	)
	req.handler(nil, rerr.New(rerr.KindTimeout, "no response to %s (seq %d) within %s", req.msgType, seq, c.timeout))
}

func (c *Client) writeLoop() {
	for {
		select {
		case b := <-c.out:
			if _, err := c.conn.Write(b); err != nil {
				c.logger.Error("Control channel write failed", zap.Error(err))
				c.shutdown(rerr.Wrap(rerr.KindWriteFailed, err, "control channel write"))
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) readLoop() {
	for {
		msg, err := ctrl.ReadRecord(c.conn)
		if err != nil {
			if err == io.EOF {
				c.shutdown(rerr.New(rerr.KindChannelClosed, "control channel closed by peer"))
			} else {
				c.shutdown(err)
			}
			return
		}
		c.dispatch(msg)
	}
}

// dispatch routes one inbound record: responses to their continuation,
// notifications to their subscriber, everything else to the log.
func (c *Client) dispatch(msg *ctrl.Message) {
	h := msg.Header
	switch {
	case h.Flags&ctrl.FlagResponse != 0:
		req := c.unregister(h.SequenceNumber)
		if req == nil {
			c.droppedLate.Add(1)
			metrics.KernelLateResponsesDropped.Inc()
			c.logger.Warn("Dropping response with unknown sequence number",
				zap.Uint32("seq", h.SequenceNumber),
				zap.String("type", h.Type.String()),
			)
			return
		}
		metrics.RecordKernelRequest(req.msgType.String(), "ok", time.Since(req.started).Seconds())
		req.handler(msg, nil)

	case h.Flags&ctrl.FlagNotification != 0:
		c.mu.Lock()
		sub := c.subs[h.Type]
		c.mu.Unlock()
		if sub == nil {
			c.logger.Warn("No subscriber for notification", zap.String("type", h.Type.String()))
			return
		}
		sub(msg)

	default:
		c.logger.Warn("Dropping record with unexpected flags",
			zap.Uint32("seq", h.SequenceNumber),
			zap.Uint16("flags", uint16(h.Flags)),
		)
	}
}

// shutdown fails every outstanding request and fires the closed hook once.
func (c *Client) shutdown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[uint32]*pendingRequest)
	onClosed := c.onClosed
	c.mu.Unlock()

	close(c.done)
	for _, req := range pending {
		if req.deadline != nil {
			req.deadline.Stop()
		}
		req.handler(nil, rerr.Wrap(rerr.KindChannelClosed, cause, "request %d failed", req.seq))
	}
	if onClosed != nil {
		onClosed(cause)
	}
}

// Close tears the channel down and fails everything outstanding.
func (c *Client) Close() error {
	err := c.conn.Close()
	c.shutdown(rerr.New(rerr.KindChannelClosed, "client closed"))
	return err
}
