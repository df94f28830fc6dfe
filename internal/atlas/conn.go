package atlas

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// State is the control channel connection state.
type State int32

// Connection states. Transitions: Disconnected -> Connecting -> Connected,
// Connected <-> Degraded while keep-alive probes fail below the threshold,
// and back to Disconnected on loss. Connecting is never skipped on the way
// up. Stopped is terminal, entered only on Close.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDegraded
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Dialer abstracts TCP dialling so tests can substitute in-memory pipes.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config tunes one client's connection behaviour.
type Config struct {
	// Host and Port identify the processor's control channel.
	Host string
	Port int

	// ConnectTimeout bounds each TCP connect attempt.
	ConnectTimeout time.Duration

	// CommandTimeout bounds each command round trip, including writes.
	CommandTimeout time.Duration

	// KeepAliveInterval is the period between probe commands on an
	// otherwise idle connection.
	KeepAliveInterval time.Duration

	// KeepAliveFailures is the number of consecutive probe failures after
	// which the connection is torn down and re-established.
	KeepAliveFailures int

	// ReconnectBase and ReconnectMax bound the exponential backoff between
	// reconnect attempts. The delay doubles from base and caps at max.
	ReconnectBase time.Duration
	ReconnectMax  time.Duration

	// ReconnectJitter is the fractional random spread on each delay.
	// Zero disables jitter.
	ReconnectJitter float64

	// StableReset is how long a connection must hold before the backoff
	// sequence resets to base. Prevents a flapping link from being
	// rewarded with fast retries.
	StableReset time.Duration
}

// Stats are cumulative counters for one client. Snapshot via Client.Stats.
type Stats struct {
	CommandsSent   uint64
	Timeouts       uint64
	Reconnects     uint64
	Updates        uint64
	UpdatesDropped uint64
	DecodeErrors   uint64
	ConnectedSince time.Time // zero when disconnected
}

// updateQueueSize bounds buffered unsolicited updates between the socket
// read loop and the delivery worker.
const updateQueueSize = 256

// maxFrameSize bounds one inbound control frame.
const maxFrameSize = 64 * 1024

type update struct {
	param string
	value float64
}

// Client maintains the TCP control channel to one processor: it dials,
// re-dials with exponential backoff, probes liveness, and serialises
// commands through a Dispatcher. Unsolicited parameter pushes are delivered
// on a separate goroutine so a slow consumer never stalls the socket.
type Client struct {
	cfg    Config
	dialer Dialer
	logger Logger

	mu         sync.Mutex
	dispatcher *Dispatcher
	conn       net.Conn

	state    atomic.Int32
	onState  func(State)
	onUpdate func(param string, value float64)

	updates chan update

	commandsSent   atomic.Uint64
	timeouts       atomic.Uint64
	reconnects     atomic.Uint64
	updateCount    atomic.Uint64
	updatesDropped atomic.Uint64
	decodeErrors   atomic.Uint64
	connectedAt    atomic.Int64 // unix nano, 0 when down

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewClient creates a client for one processor. It does not connect;
// call Start. A nil dialer uses net.Dialer, a nil logger is silent.
func NewClient(cfg Config, dialer Dialer, logger Logger) *Client {
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Client{
		cfg:     cfg,
		dialer:  dialer,
		logger:  logger,
		updates: make(chan update, updateQueueSize),
		closed:  make(chan struct{}),
	}
}

// OnStateChange registers the state transition callback. Must be set before
// Start. The callback runs on the client's internal goroutines and must not
// block.
func (c *Client) OnStateChange(fn func(State)) { c.onState = fn }

// OnUpdate registers the callback for unsolicited parameter pushes. Must be
// set before Start. Delivered from a dedicated goroutine in arrival order.
func (c *Client) OnUpdate(fn func(param string, value float64)) { c.onUpdate = fn }

// Start launches the connection manager. It returns immediately; the client
// connects (and keeps reconnecting) in the background until Close or ctx
// cancellation.
func (c *Client) Start(ctx context.Context) {
	c.wg.Add(2)
	go c.deliverUpdates()
	go c.manage(ctx)
}

// Close shuts the client down permanently. In-flight and queued commands
// fail with ErrClosed.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	c.wg.Wait()
	c.setState(StateStopped)
	return nil
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Stats returns a snapshot of the client's counters.
func (c *Client) Stats() Stats {
	s := Stats{
		CommandsSent:   c.commandsSent.Load(),
		Timeouts:       c.timeouts.Load(),
		Reconnects:     c.reconnects.Load(),
		Updates:        c.updateCount.Load(),
		UpdatesDropped: c.updatesDropped.Load(),
		DecodeErrors:   c.decodeErrors.Load(),
	}
	if ns := c.connectedAt.Load(); ns != 0 {
		s.ConnectedSince = time.Unix(0, ns)
	}
	return s
}

// Get reads a numeric parameter from the device.
func (c *Client) Get(ctx context.Context, param string) (float64, error) {
	msg, err := c.do(ctx, NewRequest(MethodGet, param))
	if err != nil {
		return 0, err
	}
	return msg.Float()
}

// GetText reads a string-valued capability parameter such as Model.
func (c *Client) GetText(ctx context.Context, param string) (string, error) {
	msg, err := c.do(ctx, NewRequest(MethodGet, param))
	if err != nil {
		return "", err
	}
	return msg.Text()
}

// Set writes a parameter and returns the value the device confirmed, which
// may differ from the requested value if the device clamped it.
func (c *Client) Set(ctx context.Context, param string, value float64) (float64, error) {
	msg, err := c.do(ctx, NewSetRequest(param, value))
	if err != nil {
		return 0, err
	}
	return msg.Float()
}

// Subscribe asks the device to push changes for a parameter.
func (c *Client) Subscribe(ctx context.Context, param string) error {
	_, err := c.do(ctx, NewRequest(MethodSub, param))
	return err
}

// Unsubscribe cancels a parameter subscription.
func (c *Client) Unsubscribe(ctx context.Context, param string) error {
	_, err := c.do(ctx, NewRequest(MethodUnsub, param))
	return err
}

// Ping probes device liveness through the command path.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, NewRequest(MethodPing, ""))
	return err
}

// do routes a command through the current connection's dispatcher,
// failing fast when disconnected.
func (c *Client) do(ctx context.Context, req Request) (*Message, error) {
	c.mu.Lock()
	d := c.dispatcher
	c.mu.Unlock()

	if d == nil {
		select {
		case <-c.closed:
			return nil, ErrClosed
		default:
		}
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, c.addr())
	}

	c.commandsSent.Add(1)
	msg, err := d.Do(ctx, req)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			c.timeouts.Add(1)
		}
		return nil, err
	}
	return msg, nil
}

func (c *Client) addr() string {
	return net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port))
}

func (c *Client) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old == s {
		return
	}
	c.logger.Info("connection state", "addr", c.addr(), "from", old.String(), "to", s.String())
	if c.onState != nil {
		c.onState(s)
	}
}

// manage is the connection lifecycle loop: dial, serve, back off, repeat.
func (c *Client) manage(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.updates)

	attempt := 0
	for {
		select {
		case <-c.closed:
			return
		case <-ctx.Done():
			return
		default:
		}

		c.setState(StateConnecting)

		conn, err := c.dial(ctx)
		if err != nil {
			attempt++
			delay := nextBackoff(attempt, c.cfg.ReconnectBase, c.cfg.ReconnectMax,
				c.cfg.ReconnectJitter, rand.Float64)
			c.logger.Warn("connect failed, backing off",
				"addr", c.addr(), "attempt", attempt, "delay", delay, "error", err)
			c.setState(StateDisconnected)
			if !c.sleep(ctx, delay) {
				return
			}
			continue
		}

		start := time.Now()
		c.serve(ctx, conn)

		// Stable uptime resets the backoff sequence; a quick drop keeps
		// climbing towards the cap.
		if time.Since(start) >= c.cfg.StableReset {
			attempt = 0
		}

		select {
		case <-c.closed:
			return
		case <-ctx.Done():
			return
		default:
		}

		c.reconnects.Add(1)
		attempt++
		delay := nextBackoff(attempt, c.cfg.ReconnectBase, c.cfg.ReconnectMax,
			c.cfg.ReconnectJitter, rand.Float64)
		c.logger.Warn("connection lost, backing off",
			"addr", c.addr(), "attempt", attempt, "delay", delay)
		c.setState(StateDisconnected)
		if !c.sleep(ctx, delay) {
			return
		}
	}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	return c.dialer.DialContext(dialCtx, "tcp", c.addr())
}

// serve runs one established connection until it drops or the client stops.
func (c *Client) serve(ctx context.Context, conn net.Conn) {
	writer := FrameWriterFunc(func(data []byte) error {
		if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.CommandTimeout)); err != nil {
			return err
		}
		_, err := conn.Write(data)
		return err
	})
	d := NewDispatcher(writer, c.cfg.CommandTimeout, c.logger)

	c.mu.Lock()
	c.conn = conn
	c.dispatcher = d
	c.mu.Unlock()

	c.connectedAt.Store(time.Now().UnixNano())
	c.setState(StateConnected)

	lost := make(chan struct{})
	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		c.receiveLoop(conn, d)
		close(lost)
	}()
	go func() {
		defer loops.Done()
		c.keepAliveLoop(ctx, conn, lost)
	}()

	select {
	case <-lost:
	case <-ctx.Done():
	case <-c.closed:
	}

	c.mu.Lock()
	c.dispatcher = nil
	c.conn = nil
	c.mu.Unlock()
	c.connectedAt.Store(0)

	conn.Close() //nolint:errcheck // Teardown path
	select {
	case <-c.closed:
		d.Fail(ErrClosed)
	default:
		d.Fail(fmt.Errorf("%w: connection lost", ErrNotConnected))
	}
	loops.Wait()
}

// receiveLoop reads frames until the connection drops. Responses go to the
// dispatcher; pushes go to the update queue; garbage is counted and dropped.
func (c *Client) receiveLoop(conn net.Conn, d *Dispatcher) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), maxFrameSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := DecodeMessage(line)
		if err != nil {
			c.decodeErrors.Add(1)
			c.logger.Warn("dropping malformed frame", "addr", c.addr(), "error", err)
			continue
		}

		if msg.IsUpdate() {
			value, err := msg.Float()
			if err != nil {
				c.decodeErrors.Add(1)
				continue
			}
			c.updateCount.Add(1)
			select {
			case c.updates <- update{param: msg.Param, value: value}:
			default:
				c.updatesDropped.Add(1)
			}
			continue
		}

		d.HandleResponse(msg)
	}
	if err := scanner.Err(); err != nil {
		c.logger.Debug("read loop ended", "addr", c.addr(), "error", err)
	}
}

// keepAliveLoop probes the device through the command path so probes queue
// behind real traffic rather than interleaving with it. Consecutive failures
// beyond the threshold force a teardown; the manager then reconnects.
func (c *Client) keepAliveLoop(ctx context.Context, conn net.Conn, lost <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.KeepAliveInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
			err := c.Ping(probeCtx)
			cancel()
			if err == nil {
				if failures > 0 {
					c.setState(StateConnected)
				}
				failures = 0
				continue
			}
			failures++
			c.logger.Warn("keep-alive probe failed",
				"addr", c.addr(), "failures", failures, "error", err)
			if failures >= c.cfg.KeepAliveFailures {
				c.logger.Error("keep-alive threshold reached, dropping connection",
					"addr", c.addr())
				conn.Close() //nolint:errcheck // Forces receiveLoop exit
				return
			}
			c.setState(StateDegraded)
		case <-lost:
			return
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		}
	}
}

// deliverUpdates feeds queued pushes to the registered callback, preserving
// arrival order.
func (c *Client) deliverUpdates() {
	defer c.wg.Done()
	for u := range c.updates {
		if c.onUpdate != nil {
			c.onUpdate(u.param, u.value)
		}
	}
}

// sleep waits for d, returning false if the client is shutting down.
func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-c.closed:
		return false
	}
}
