package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/graystone-av/dsp-core/internal/atlas"
	"github.com/graystone-av/dsp-core/internal/infrastructure/config"
)

// ClientFactory builds a device client for one processor. The default
// builds a real atlas.Client; tests inject fakes.
type ClientFactory func(cfg atlas.Config) DeviceClient

// Manager owns the set of managed processors: it loads them from the
// repository at startup, runs one Unit per enabled processor, and routes
// their meter sources into the shared ingestor.
type Manager struct {
	cfg     config.DSPConfig
	repo    Repository
	events  Events
	logger  Logger
	meters  *atlas.MeterIngestor
	factory ClientFactory

	mu    sync.RWMutex
	units map[string]*Unit
}

// NewManager creates a manager. meters may be nil when metering is not
// wanted (tests). A nil factory builds real atlas clients.
func NewManager(cfg config.DSPConfig, repo Repository, meters *atlas.MeterIngestor,
	events Events, logger Logger, factory ClientFactory) *Manager {
	if events == nil {
		events = noopEvents{}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	m := &Manager{
		cfg:     cfg,
		repo:    repo,
		events:  events,
		logger:  logger,
		meters:  meters,
		factory: factory,
		units:   make(map[string]*Unit),
	}
	if m.factory == nil {
		m.factory = func(acfg atlas.Config) DeviceClient {
			return atlas.NewClient(acfg, nil, logger)
		}
	}
	return m
}

// Start loads persisted processors and brings their units up.
func (m *Manager) Start(ctx context.Context) error {
	procs, err := m.repo.ListProcessors(ctx)
	if err != nil {
		return fmt.Errorf("loading processors: %w", err)
	}
	for _, p := range procs {
		if !p.Enabled {
			m.logger.Info("processor disabled, skipping", "processor", p.ID, "name", p.Name)
			continue
		}
		if err := m.startUnit(ctx, *p); err != nil {
			m.logger.Error("starting processor failed", "processor", p.ID, "error", err)
		}
	}
	m.logger.Info("processor manager started", "units", len(m.units))
	return nil
}

// Close stops every unit.
func (m *Manager) Close() {
	m.mu.Lock()
	units := make([]*Unit, 0, len(m.units))
	for _, u := range m.units {
		units = append(units, u)
	}
	m.units = make(map[string]*Unit)
	m.mu.Unlock()

	for _, u := range units {
		u.stop()
	}
}

// AddProcessor registers a new processor, persists it, and brings its unit
// up immediately.
func (m *Manager) AddProcessor(ctx context.Context, p Processor) (*Unit, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.ControlPort == 0 {
		p.ControlPort = 5321
	}
	if p.MeterPort == 0 {
		p.MeterPort = 3131
	}
	p.Enabled = true

	if err := m.repo.CreateProcessor(ctx, &p); err != nil {
		return nil, err
	}
	if err := m.startUnit(ctx, p); err != nil {
		return nil, err
	}
	return m.Unit(p.ID)
}

// RemoveProcessor stops a unit and deletes its persisted state.
func (m *Manager) RemoveProcessor(ctx context.Context, id string) error {
	m.mu.Lock()
	u, ok := m.units[id]
	if ok {
		delete(m.units, id)
	}
	m.mu.Unlock()

	if ok {
		if m.meters != nil {
			m.meters.UnregisterSource(u.Processor().Host)
		}
		u.stop()
	}
	return m.repo.DeleteProcessor(ctx, id)
}

// Unit returns the running unit for a processor.
func (m *Manager) Unit(id string) (*Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.units[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return u, nil
}

// Units returns all running units.
func (m *Manager) Units() []*Unit {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Unit, 0, len(m.units))
	for _, u := range m.units {
		out = append(out, u)
	}
	return out
}

// Statuses returns the operational summary of every unit.
func (m *Manager) Statuses() []Status {
	units := m.Units()
	out := make([]Status, 0, len(units))
	for _, u := range units {
		out = append(out, u.Status())
	}
	return out
}

// HealthCheck reports whether every enabled unit has a live connection.
func (m *Manager) HealthCheck(_ context.Context) error {
	for _, u := range m.Units() {
		if u.client.State() != atlas.StateConnected {
			return fmt.Errorf("processor %s is %s", u.Processor().ID, u.client.State())
		}
	}
	return nil
}

func (m *Manager) startUnit(ctx context.Context, p Processor) error {
	client := m.factory(atlas.Config{
		Host:              p.Host,
		Port:              p.ControlPort,
		ConnectTimeout:    m.cfg.GetConnectTimeout(),
		CommandTimeout:    m.cfg.GetCommandTimeout(),
		KeepAliveInterval: m.cfg.GetKeepAliveInterval(),
		KeepAliveFailures: m.cfg.KeepAliveFailures,
		ReconnectBase:     time.Duration(m.cfg.ReconnectBase) * time.Second,
		ReconnectMax:      time.Duration(m.cfg.ReconnectMax) * time.Second,
		ReconnectJitter:   m.cfg.ReconnectJitter,
		StableReset:       time.Duration(m.cfg.StableReset) * time.Second,
	})

	u := NewUnit(p, client, m.repo, m.events, m.logger)
	if err := u.start(ctx); err != nil {
		client.Close() //nolint:errcheck // Startup failure path
		return err
	}

	if m.meters != nil {
		m.meters.RegisterSource(p.Host, p.ID)
	}

	m.mu.Lock()
	m.units[p.ID] = u
	m.mu.Unlock()

	m.logger.Info("processor unit started", "processor", p.ID,
		"name", p.Name, "addr", fmt.Sprintf("%s:%d", p.Host, p.ControlPort))
	return nil
}
