package processor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/graystone-av/dsp-core/internal/atlas"
)

// Logger is the minimal logging interface this package needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DeviceClient is the slice of the atlas client a unit drives. Tests
// substitute a fake; production passes *atlas.Client.
type DeviceClient interface {
	Start(ctx context.Context)
	Close() error
	State() atlas.State
	Stats() atlas.Stats
	Get(ctx context.Context, param string) (float64, error)
	GetText(ctx context.Context, param string) (string, error)
	Set(ctx context.Context, param string, value float64) (float64, error)
	Subscribe(ctx context.Context, param string) error
	OnStateChange(fn func(atlas.State))
	OnUpdate(fn func(param string, value float64))
}

// Events receives confirmed state changes for fan-out to the API layer,
// the event bus, and the archive. Implementations must not block.
type Events interface {
	ConnectionChanged(processorID, state string)
	ParamChanged(processorID, param string, value float64, source string)
}

type noopEvents struct{}

func (noopEvents) ConnectionChanged(string, string)             {}
func (noopEvents) ParamChanged(string, string, float64, string) {}

// Status is a unit's operational summary.
type Status struct {
	Processor    Processor    `json:"processor"`
	Connection   string       `json:"connection"`
	Capabilities Capabilities `json:"capabilities"`
	CachedParams int          `json:"cached_params"`
	Unconfirmed  int          `json:"unconfirmed"`
	Stats        atlas.Stats  `json:"stats"`
}

// Unit binds one processor's device client, parameter cache, and routing
// state. All parameter writes flow through here so stereo mirroring and
// cache confirmation stay consistent.
type Unit struct {
	mu   sync.RWMutex
	proc Processor
	caps Capabilities

	client   DeviceClient
	registry *Registry
	routing  *routingTable
	repo     Repository
	events   Events
	logger   Logger
}

// NewUnit creates a unit. Call start to hydrate state and connect.
func NewUnit(proc Processor, client DeviceClient, repo Repository, events Events, logger Logger) *Unit {
	if events == nil {
		events = noopEvents{}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	u := &Unit{
		proc:     proc,
		caps:     Capabilities{Model: proc.Model, InputCount: proc.InputCount, OutputCount: proc.OutputCount},
		client:   client,
		registry: NewRegistry(),
		routing:  newRoutingTable(),
		repo:     repo,
		events:   events,
		logger:   logger,
	}
	return u
}

// start hydrates persisted routing state and launches the device client.
func (u *Unit) start(ctx context.Context) error {
	channels, err := u.repo.ListChannels(ctx, u.proc.ID)
	if err != nil {
		return fmt.Errorf("loading channels: %w", err)
	}
	groups, err := u.repo.ListGroups(ctx, u.proc.ID)
	if err != nil {
		return fmt.Errorf("loading groups: %w", err)
	}
	u.routing.hydrate(channels, groups)

	u.client.OnStateChange(func(s atlas.State) {
		u.events.ConnectionChanged(u.proc.ID, s.String())
		switch s {
		case atlas.StateConnected:
			go u.resync(ctx)
		case atlas.StateDegraded, atlas.StateDisconnected:
			// The device may be adjusted from its front panel while we
			// are away; trust nothing until re-read.
			u.registry.MarkAllUnconfirmed()
		}
	})
	u.client.OnUpdate(func(param string, value float64) {
		u.registry.Confirm(param, value, SourceDevice)
		u.events.ParamChanged(u.proc.ID, param, value, SourceDevice)
	})

	u.client.Start(ctx)
	return nil
}

func (u *Unit) stop() {
	u.client.Close() //nolint:errcheck // Shutdown path
}

// resync runs after every (re)connect: probe capabilities, read the
// standard parameter set plus anything else already cached, and
// re-establish subscriptions.
func (u *Unit) resync(ctx context.Context) {
	if err := u.probeCapabilities(ctx); err != nil {
		u.logger.Warn("capability probe failed", "processor", u.proc.ID, "error", err)
	}

	names := u.syncSet()
	for _, name := range names {
		value, err := u.client.Get(ctx, name)
		if err != nil {
			u.logger.Warn("resync read failed", "processor", u.proc.ID, "param", name, "error", err)
			continue
		}
		u.registry.Confirm(name, value, SourceSync)
		u.events.ParamChanged(u.proc.ID, name, value, SourceSync)

		if err := u.client.Subscribe(ctx, name); err != nil {
			u.logger.Warn("resubscribe failed", "processor", u.proc.ID, "param", name, "error", err)
		}
	}
	u.logger.Info("resync complete", "processor", u.proc.ID, "params", len(names))
}

// syncSet is the standard parameter set for the probed capabilities
// merged with anything else already cached, sorted by name.
func (u *Unit) syncSet() []string {
	set := make(map[string]struct{})
	for _, p := range StandardParams(u.Capabilities()) {
		set[p.Name()] = struct{}{}
	}
	for _, name := range u.registry.Names() {
		set[name] = struct{}{}
	}
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// probeCapabilities reads the unit's model and channel counts, persisting
// them when they change.
func (u *Unit) probeCapabilities(ctx context.Context) error {
	model, err := u.client.GetText(ctx, atlas.ParamModel)
	if err != nil {
		return err
	}
	inputs, err := u.client.Get(ctx, atlas.ParamInputCount)
	if err != nil {
		return err
	}
	outputs, err := u.client.Get(ctx, atlas.ParamOutputCount)
	if err != nil {
		return err
	}

	caps := Capabilities{Model: model, InputCount: int(inputs), OutputCount: int(outputs)}

	u.mu.Lock()
	changed := caps != u.caps
	u.caps = caps
	if changed {
		u.proc.Model = caps.Model
		u.proc.InputCount = caps.InputCount
		u.proc.OutputCount = caps.OutputCount
	}
	proc := u.proc
	u.mu.Unlock()

	if changed {
		u.logger.Info("capabilities probed", "processor", proc.ID,
			"model", caps.Model, "inputs", caps.InputCount, "outputs", caps.OutputCount)
		if err := u.repo.UpdateProcessor(ctx, &proc); err != nil {
			return fmt.Errorf("persisting capabilities: %w", err)
		}
	}
	return nil
}

// Processor returns a copy of the unit's processor record.
func (u *Unit) Processor() Processor {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.proc
}

// Capabilities returns the probed capabilities.
func (u *Unit) Capabilities() Capabilities {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.caps
}

// Status returns the unit's operational summary.
func (u *Unit) Status() Status {
	u.mu.RLock()
	proc := u.proc
	caps := u.caps
	u.mu.RUnlock()
	return Status{
		Processor:    proc,
		Connection:   u.client.State().String(),
		Capabilities: caps,
		CachedParams: u.registry.Len(),
		Unconfirmed:  len(u.registry.Unconfirmed()),
		Stats:        u.client.Stats(),
	}
}

// SetParameter validates and writes one parameter, mirroring across a
// stereo pair when linked. Returns the device-confirmed values keyed by
// parameter name; the device may clamp.
func (u *Unit) SetParameter(ctx context.Context, name string, value float64, source string) (map[string]float64, error) {
	p, err := ParseParam(name)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(u.Capabilities(), value); err != nil {
		return nil, err
	}
	if source == "" {
		source = SourceAPI
	}

	confirmed := make(map[string]float64)
	for _, target := range u.routing.ExpandTargets(p) {
		got, err := u.client.Set(ctx, target.Name(), value)
		if err != nil {
			return confirmed, fmt.Errorf("setting %s: %w", target.Name(), err)
		}
		u.registry.Confirm(target.Name(), got, source)
		u.events.ParamChanged(u.proc.ID, target.Name(), got, source)
		confirmed[target.Name()] = got
	}
	return confirmed, nil
}

// GetParameter returns a parameter's state. Connected units re-read
// unconfirmed values from the device; disconnected units return the stale
// cache with Confirmed false so callers can see exactly what they have.
func (u *Unit) GetParameter(ctx context.Context, name string) (CachedValue, error) {
	if _, err := ParseParam(name); err != nil {
		return CachedValue{}, err
	}

	if cached, ok := u.registry.Get(name); ok && cached.Confirmed {
		return cached, nil
	}

	if u.client.State() == atlas.StateConnected {
		value, err := u.client.Get(ctx, name)
		if err != nil {
			return CachedValue{}, err
		}
		u.registry.Confirm(name, value, SourceSync)
		if err := u.client.Subscribe(ctx, name); err != nil {
			u.logger.Warn("subscribe failed", "processor", u.proc.ID, "param", name, "error", err)
		}
		cached, _ := u.registry.Get(name)
		return cached, nil
	}

	if cached, ok := u.registry.Get(name); ok {
		return cached, nil
	}
	return CachedValue{}, fmt.Errorf("%w: %s", ErrNotConfirmed, name)
}

// Parameters returns the full cache snapshot.
func (u *Unit) Parameters() map[string]CachedValue {
	return u.registry.Snapshot()
}

// ConfirmedParameters returns only device-confirmed values, for capture.
func (u *Unit) ConfirmedParameters() map[string]float64 {
	out := make(map[string]float64)
	for name, v := range u.registry.Snapshot() {
		if v.Confirmed {
			out[name] = v.Value
		}
	}
	return out
}

// UnconfirmedParameters returns names awaiting re-confirmation.
func (u *Unit) UnconfirmedParameters() []string {
	return u.registry.Unconfirmed()
}

// Channels returns the unit's channel routing records.
func (u *Unit) Channels() []Channel {
	return u.routing.Channels()
}

// Groups returns the unit's output groups.
func (u *Unit) Groups() []Group {
	return u.routing.Groups()
}

// LinkStereo joins a channel with its odd-even neighbour. The partner's
// gain and mute are aligned to the named channel so the pair starts
// coherent; subsequent writes mirror automatically.
func (u *Unit) LinkStereo(ctx context.Context, direction string, index int) (Channel, Channel, error) {
	caps := u.Capabilities()
	partner := PartnerIndex(index)
	if err := validateIndexes(caps, direction, index, partner); err != nil {
		return Channel{}, Channel{}, err
	}

	a, b, err := u.routing.Link(direction, index)
	if err != nil {
		return Channel{}, Channel{}, err
	}

	for _, kind := range []string{KindGain, KindMute} {
		primary := Param{Direction: direction, Kind: kind, Index: index}
		cached, err := u.GetParameter(ctx, primary.Name())
		if err != nil {
			u.logger.Warn("link alignment read failed",
				"processor", u.proc.ID, "param", primary.Name(), "error", err)
			continue
		}
		target := Param{Direction: direction, Kind: kind, Index: partner}
		got, err := u.client.Set(ctx, target.Name(), cached.Value)
		if err != nil {
			u.logger.Warn("link alignment write failed",
				"processor", u.proc.ID, "param", target.Name(), "error", err)
			continue
		}
		u.registry.Confirm(target.Name(), got, SourceSync)
		u.events.ParamChanged(u.proc.ID, target.Name(), got, SourceSync)
	}

	if err := u.persistChannels(ctx); err != nil {
		return a, b, err
	}
	u.logger.Info("stereo linked", "processor", u.proc.ID,
		"direction", direction, "pair", fmt.Sprintf("%d-%d", a.Index, b.Index))
	return a, b, nil
}

// UnlinkStereo breaks a stereo pair. Both halves keep their current
// values; they simply stop mirroring.
func (u *Unit) UnlinkStereo(ctx context.Context, direction string, index int) (Channel, Channel, error) {
	a, b, err := u.routing.Unlink(direction, index)
	if err != nil {
		return Channel{}, Channel{}, err
	}
	if err := u.persistChannels(ctx); err != nil {
		return a, b, err
	}
	u.logger.Info("stereo unlinked", "processor", u.proc.ID,
		"direction", direction, "pair", fmt.Sprintf("%d-%d", a.Index, b.Index))
	return a, b, nil
}

// CreateGroup forms an output group. Stereo partners of listed members are
// included automatically; a single-member group is valid.
func (u *Unit) CreateGroup(ctx context.Context, name string, members []int) (Group, error) {
	caps := u.Capabilities()
	if len(members) == 0 {
		return Group{}, fmt.Errorf("%w: group needs at least one member", ErrUnknownChannel)
	}
	if err := validateIndexes(caps, DirectionOutput, members...); err != nil {
		return Group{}, err
	}

	g, err := u.routing.CreateGroup(uuid.NewString(), name, members)
	if err != nil {
		return Group{}, err
	}
	g.ProcessorID = u.proc.ID

	if err := u.repo.SaveGroup(ctx, &g); err != nil {
		// Roll the in-memory state back so it matches the store.
		u.routing.DeleteGroup(g.ID) //nolint:errcheck // Best effort rollback
		return Group{}, err
	}
	if err := u.persistChannels(ctx); err != nil {
		return g, err
	}
	u.logger.Info("group created", "processor", u.proc.ID,
		"group", g.ID, "name", name, "members", g.Members)
	return g, nil
}

// LeaveGroup removes an output (and its stereo partner) from its group,
// deleting the group if it empties.
func (u *Unit) LeaveGroup(ctx context.Context, index int) (Group, error) {
	g, deleted, err := u.routing.LeaveGroup(index)
	if err != nil {
		return Group{}, err
	}
	if deleted {
		if err := u.repo.DeleteGroup(ctx, g.ID); err != nil {
			u.logger.Warn("deleting emptied group failed",
				"processor", u.proc.ID, "group", g.ID, "error", err)
		}
	}
	if err := u.persistChannels(ctx); err != nil {
		return g, err
	}
	return g, nil
}

// DeleteGroup disbands a group entirely.
func (u *Unit) DeleteGroup(ctx context.Context, id string) error {
	if err := u.routing.DeleteGroup(id); err != nil {
		return err
	}
	if err := u.repo.DeleteGroup(ctx, id); err != nil {
		return err
	}
	return u.persistChannels(ctx)
}

// SetGroupGain writes an absolute gain to every member of a group.
func (u *Unit) SetGroupGain(ctx context.Context, groupID string, value float64) (map[string]float64, error) {
	return u.setGroupParam(ctx, groupID, KindGain, value)
}

// MuteGroup mutes or unmutes every member of a group.
func (u *Unit) MuteGroup(ctx context.Context, groupID string, mute bool) (map[string]float64, error) {
	value := 0.0
	if mute {
		value = 1.0
	}
	return u.setGroupParam(ctx, groupID, KindMute, value)
}

func (u *Unit) setGroupParam(ctx context.Context, groupID, kind string, value float64) (map[string]float64, error) {
	g, ok := u.routing.Group(groupID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
	}

	confirmed := make(map[string]float64)
	for _, member := range g.Members {
		p := Param{Direction: DirectionOutput, Kind: kind, Index: member}
		if err := p.Validate(u.Capabilities(), value); err != nil {
			return confirmed, err
		}
		got, err := u.client.Set(ctx, p.Name(), value)
		if err != nil {
			return confirmed, fmt.Errorf("setting %s: %w", p.Name(), err)
		}
		u.registry.Confirm(p.Name(), got, SourceAPI)
		u.events.ParamChanged(u.proc.ID, p.Name(), got, SourceAPI)
		confirmed[p.Name()] = got
	}
	return confirmed, nil
}

func (u *Unit) persistChannels(ctx context.Context) error {
	channels := u.routing.Channels()
	for i := range channels {
		channels[i].ProcessorID = u.proc.ID
	}
	if err := u.repo.SaveChannels(ctx, u.proc.ID, channels); err != nil {
		return fmt.Errorf("persisting channels: %w", err)
	}
	return nil
}

func validateIndexes(caps Capabilities, direction string, indexes ...int) error {
	limit := caps.InputCount
	if direction == DirectionOutput {
		limit = caps.OutputCount
	}
	for _, idx := range indexes {
		if idx < 1 || idx > limit {
			return fmt.Errorf("%w: %s %d (unit has %d)", ErrUnknownChannel, direction, idx, limit)
		}
	}
	return nil
}
