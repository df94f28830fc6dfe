package atlas

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FrameWriter writes one encoded frame to the control channel.
type FrameWriter interface {
	WriteFrame(data []byte) error
}

// FrameWriterFunc adapts a function to the FrameWriter interface.
type FrameWriterFunc func(data []byte) error

// WriteFrame calls f(data).
func (f FrameWriterFunc) WriteFrame(data []byte) error { return f(data) }

// queueCapacity bounds the number of commands waiting behind the in-flight
// one. Beyond this, Do fails fast instead of building unbounded latency.
const queueCapacity = 64

type command struct {
	req  Request
	done chan cmdResult
}

type cmdResult struct {
	msg *Message
	err error
}

// Dispatcher serialises commands onto the half-duplex control channel.
// Exactly one command is on the wire at a time; the rest wait in FIFO
// order. Responses are matched to the in-flight command by correlation id.
//
// A Dispatcher is bound to one connection. On disconnect the owner calls
// Fail, which drains the in-flight and queued commands with an error, and
// creates a fresh Dispatcher for the next connection.
type Dispatcher struct {
	writer  FrameWriter
	timeout time.Duration
	logger  Logger

	queue     chan *command
	responses chan *Message

	mu       sync.Mutex
	inflight *command
	failErr  error

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher writing frames via w. Each command is
// given timeout to be acknowledged before it fails with ErrTimeout.
func NewDispatcher(w FrameWriter, timeout time.Duration, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	d := &Dispatcher{
		writer:    w,
		timeout:   timeout,
		logger:    logger,
		queue:     make(chan *command, queueCapacity),
		responses: make(chan *Message, queueCapacity),
		closed:    make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Do sends a command and blocks until the device acknowledges it, the
// command times out, the context is cancelled, or the connection fails.
func (d *Dispatcher) Do(ctx context.Context, req Request) (*Message, error) {
	cmd := &command{req: req, done: make(chan cmdResult, 1)}

	select {
	case d.queue <- cmd:
	case <-d.closed:
		return nil, d.failureReason()
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return nil, fmt.Errorf("%w: command queue full", ErrNotConnected)
	}

	select {
	case res := <-cmd.done:
		return res.msg, res.err
	case <-ctx.Done():
		// The run loop still owns the command; it will discard the
		// eventual response.
		return nil, ctx.Err()
	}
}

// HandleResponse routes an inbound response frame to the in-flight command.
// Responses with no matching command (late arrivals after a timeout) are
// logged and dropped.
func (d *Dispatcher) HandleResponse(msg *Message) {
	select {
	case d.responses <- msg:
	case <-d.closed:
	default:
		d.logger.Warn("response channel full, dropping frame", "id", msg.ID)
	}
}

// Fail shuts the dispatcher down, completing the in-flight command and all
// queued commands with err. Safe to call more than once.
func (d *Dispatcher) Fail(err error) {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.failErr = err
		d.mu.Unlock()
		close(d.closed)
	})
	d.wg.Wait()
}

func (d *Dispatcher) failureReason() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failErr != nil {
		return d.failErr
	}
	return ErrClosed
}

// run executes commands one at a time in arrival order.
func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case cmd := <-d.queue:
			d.execute(cmd)
		case msg := <-d.responses:
			d.logger.Debug("unsolicited response dropped", "id", msg.ID)
		case <-d.closed:
			d.drain()
			return
		}
	}
}

// execute writes one command and waits for its acknowledgement.
func (d *Dispatcher) execute(cmd *command) {
	d.mu.Lock()
	d.inflight = cmd
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.inflight = nil
		d.mu.Unlock()
	}()

	frame, err := cmd.req.Encode()
	if err != nil {
		cmd.done <- cmdResult{err: err}
		return
	}
	if err := d.writer.WriteFrame(frame); err != nil {
		cmd.done <- cmdResult{err: fmt.Errorf("%w: %v", ErrNotConnected, err)}
		return
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	for {
		select {
		case msg := <-d.responses:
			if msg.ID != cmd.req.ID {
				d.logger.Debug("mismatched response id, dropping",
					"got", msg.ID, "want", cmd.req.ID)
				continue
			}
			if msg.Error != nil {
				cmd.done <- cmdResult{err: fmt.Errorf("%w: %v", ErrDeviceRejected, msg.Error)}
				return
			}
			cmd.done <- cmdResult{msg: msg}
			return
		case <-timer.C:
			cmd.done <- cmdResult{err: fmt.Errorf("%w: %s %s", ErrTimeout, cmd.req.Method, cmd.req.Param)}
			return
		case <-d.closed:
			cmd.done <- cmdResult{err: d.failureReason()}
			return
		}
	}
}

// drain fails every command still waiting in the queue.
func (d *Dispatcher) drain() {
	err := d.failureReason()
	for {
		select {
		case cmd := <-d.queue:
			cmd.done <- cmdResult{err: err}
		default:
			return
		}
	}
}
