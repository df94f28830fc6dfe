package atlas

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// maxDatagramSize bounds one UDP metering packet.
const maxDatagramSize = 8 * 1024

// ChannelLevel is the debounced live state of one channel's meter.
type ChannelLevel struct {
	Direction string  // "input" or "output"
	Index     int
	Level     float64 // dBFS
	Peak      float64 // dBFS
	Clipping  bool    // debounced, not the raw per-frame flag
	UpdatedAt time.Time
}

// MeterIngestorConfig tunes datagram filtering and archival.
type MeterIngestorConfig struct {
	// ListenAddr is the UDP address processors push meters to, e.g. ":3131".
	ListenAddr string

	// ClipOnCount is the number of consecutive frames with the raw clip
	// flag set before a channel is reported as clipping. Filters
	// single-frame transients.
	ClipOnCount int

	// ClipOffCount is the number of consecutive clean frames before a
	// clipping channel is reported clear. Keeps the indicator from
	// flickering on programme material that rides the limiter.
	ClipOffCount int

	// ArchiveInterval is the downsample period for the archive callback.
	// Zero disables archival.
	ArchiveInterval time.Duration
}

// MeterStats are cumulative ingest counters.
type MeterStats struct {
	Datagrams    uint64
	Stale        uint64
	DecodeErrors uint64
	Unknown      uint64 // datagrams from unregistered hosts
}

type chanKey struct {
	direction string
	index     int
}

type channelMeter struct {
	level     float64
	peak      float64
	clipping  bool
	clipRun   int
	clearRun  int
	updatedAt time.Time
}

type meterSource struct {
	processorID string
	lastTS      int64
	channels    map[chanKey]*channelMeter
}

// MeterIngestor receives UDP meter datagrams from every registered
// processor on a single socket, routing by source address. Stale datagrams
// (reordered by the network) are discarded by timestamp; clip flags are
// debounced with on/off hysteresis before being surfaced.
type MeterIngestor struct {
	cfg    MeterIngestorConfig
	logger Logger

	mu      sync.RWMutex
	sources map[string]*meterSource // keyed by source host

	onLevels  func(processorID string, levels []ChannelLevel)
	onClip    func(processorID, direction string, index int, clipping bool)
	onArchive func(processorID string, levels []ChannelLevel, ts time.Time)

	pc net.PacketConn

	datagrams    atomic.Uint64
	stale        atomic.Uint64
	decodeErrors atomic.Uint64
	unknown      atomic.Uint64

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewMeterIngestor creates an ingestor. Call Start to open the socket.
func NewMeterIngestor(cfg MeterIngestorConfig, logger Logger) *MeterIngestor {
	if logger == nil {
		logger = noopLogger{}
	}
	return &MeterIngestor{
		cfg:     cfg,
		logger:  logger,
		sources: make(map[string]*meterSource),
		closed:  make(chan struct{}),
	}
}

// OnLevels registers the live level callback, fired once per accepted
// datagram with the full debounced channel set. Must be set before Start.
func (m *MeterIngestor) OnLevels(fn func(processorID string, levels []ChannelLevel)) {
	m.onLevels = fn
}

// OnClip registers the clip transition callback. Fired only on debounced
// state changes, never per frame. Must be set before Start.
func (m *MeterIngestor) OnClip(fn func(processorID, direction string, index int, clipping bool)) {
	m.onClip = fn
}

// OnArchive registers the downsampled archive callback, fired every
// ArchiveInterval per registered processor. Must be set before Start.
func (m *MeterIngestor) OnArchive(fn func(processorID string, levels []ChannelLevel, ts time.Time)) {
	m.onArchive = fn
}

// RegisterSource maps a source host to a processor. Datagrams from
// unregistered hosts are counted and dropped.
func (m *MeterIngestor) RegisterSource(host, processorID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[host] = &meterSource{
		processorID: processorID,
		channels:    make(map[chanKey]*channelMeter),
	}
}

// UnregisterSource removes a source host mapping and its meter state.
func (m *MeterIngestor) UnregisterSource(host string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sources, host)
}

// Start opens the UDP socket and begins ingesting.
func (m *MeterIngestor) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	pc, err := lc.ListenPacket(ctx, "udp", m.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("opening meter socket: %w", err)
	}
	m.pc = pc

	m.wg.Add(1)
	go m.readLoop()

	if m.cfg.ArchiveInterval > 0 {
		m.wg.Add(1)
		go m.archiveLoop(ctx)
	}

	m.logger.Info("meter ingestor listening", "addr", m.cfg.ListenAddr)
	return nil
}

// Close stops ingesting and releases the socket.
func (m *MeterIngestor) Close() error {
	m.closeOnce.Do(func() {
		close(m.closed)
		if m.pc != nil {
			m.pc.Close() //nolint:errcheck // Unblocks readLoop
		}
	})
	m.wg.Wait()
	return nil
}

// Stats returns a snapshot of ingest counters.
func (m *MeterIngestor) Stats() MeterStats {
	return MeterStats{
		Datagrams:    m.datagrams.Load(),
		Stale:        m.stale.Load(),
		DecodeErrors: m.decodeErrors.Load(),
		Unknown:      m.unknown.Load(),
	}
}

// Snapshot returns the current debounced levels for a processor, sorted by
// direction then index. Returns nil for unknown processors.
func (m *MeterIngestor) Snapshot(processorID string) []ChannelLevel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, src := range m.sources {
		if src.processorID == processorID {
			return src.snapshot()
		}
	}
	return nil
}

func (m *MeterIngestor) readLoop() {
	defer m.wg.Done()
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := m.pc.ReadFrom(buf)
		if err != nil {
			select {
			case <-m.closed:
				return
			default:
			}
			m.logger.Warn("meter read error", "error", err)
			continue
		}

		host, _, splitErr := net.SplitHostPort(addr.String())
		if splitErr != nil {
			host = addr.String()
		}

		dg, err := ParseMeterDatagram(buf[:n])
		if err != nil {
			m.decodeErrors.Add(1)
			continue
		}
		if err := m.ingest(host, dg); err != nil {
			m.logger.Debug("meter datagram dropped", "host", host, "error", err)
		}
	}
}

// ingest applies one datagram to its source's meter state. Datagrams from
// unregistered hosts are counted and dropped silently; out-of-order
// datagrams return ErrStaleDatagram.
func (m *MeterIngestor) ingest(host string, dg *MeterDatagram) error {
	m.mu.Lock()
	src, ok := m.sources[host]
	if !ok {
		m.mu.Unlock()
		m.unknown.Add(1)
		return nil
	}

	// Only the clock decides staleness: a reading older than the cached
	// one never overwrites it, whatever its sequence number says. A reboot
	// resets seq but the clock still moves forward, so reboots pass.
	if dg.TS <= src.lastTS {
		m.mu.Unlock()
		m.stale.Add(1)
		return fmt.Errorf("%w: ts %d <= %d", ErrStaleDatagram, dg.TS, src.lastTS)
	}
	src.lastTS = dg.TS

	now := time.Now()
	type clipChange struct {
		direction string
		index     int
		clipping  bool
	}
	var changes []clipChange

	for _, r := range dg.Meters {
		key := chanKey{direction: r.Type, index: r.Index}
		ch, ok := src.channels[key]
		if !ok {
			ch = &channelMeter{}
			src.channels[key] = ch
		}
		ch.level = r.Level
		ch.peak = r.Peak
		ch.updatedAt = now

		if r.Clip {
			ch.clipRun++
			ch.clearRun = 0
			if !ch.clipping && ch.clipRun >= m.cfg.ClipOnCount {
				ch.clipping = true
				changes = append(changes, clipChange{r.Type, r.Index, true})
			}
		} else {
			ch.clearRun++
			ch.clipRun = 0
			if ch.clipping && ch.clearRun >= m.cfg.ClipOffCount {
				ch.clipping = false
				changes = append(changes, clipChange{r.Type, r.Index, false})
			}
		}
	}

	processorID := src.processorID
	levels := src.snapshot()
	m.mu.Unlock()

	m.datagrams.Add(1)

	for _, c := range changes {
		if m.onClip != nil {
			m.onClip(processorID, c.direction, c.index, c.clipping)
		}
	}
	if m.onLevels != nil {
		m.onLevels(processorID, levels)
	}
	return nil
}

// archiveLoop fires the archive callback at the downsample interval.
func (m *MeterIngestor) archiveLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.ArchiveInterval)
	defer ticker.Stop()

	for {
		select {
		case ts := <-ticker.C:
			if m.onArchive == nil {
				continue
			}
			m.mu.RLock()
			type batch struct {
				processorID string
				levels      []ChannelLevel
			}
			var batches []batch
			for _, src := range m.sources {
				if len(src.channels) == 0 {
					continue
				}
				batches = append(batches, batch{src.processorID, src.snapshot()})
			}
			m.mu.RUnlock()

			for _, b := range batches {
				m.onArchive(b.processorID, b.levels, ts)
			}
		case <-ctx.Done():
			return
		case <-m.closed:
			return
		}
	}
}

// snapshot copies the source's channel state. Caller holds at least a read
// lock on the ingestor.
func (s *meterSource) snapshot() []ChannelLevel {
	levels := make([]ChannelLevel, 0, len(s.channels))
	for key, ch := range s.channels {
		levels = append(levels, ChannelLevel{
			Direction: key.direction,
			Index:     key.index,
			Level:     ch.level,
			Peak:      ch.peak,
			Clipping:  ch.clipping,
			UpdatedAt: ch.updatedAt,
		})
	}
	sort.Slice(levels, func(i, j int) bool {
		if levels[i].Direction != levels[j].Direction {
			return levels[i].Direction < levels[j].Direction
		}
		return levels[i].Index < levels[j].Index
	})
	return levels
}
