package processor

import (
	"fmt"
	"sort"
	"sync"
)

type channelKey struct {
	direction string
	index     int
}

// routingTable holds one unit's stereo links and output groups. It is pure
// state: callers validate against capabilities, write the resulting
// parameter changes to the device, and persist through the repository.
//
// Invariants maintained here:
//   - A channel links only to its odd-even neighbour (1-2, 3-4, ...).
//   - Both halves of a linked pair always share group membership.
//   - A channel belongs to at most one group.
type routingTable struct {
	mu       sync.RWMutex
	channels map[channelKey]*Channel
	groups   map[string]*Group
}

func newRoutingTable() *routingTable {
	return &routingTable{
		channels: make(map[channelKey]*Channel),
		groups:   make(map[string]*Group),
	}
}

// hydrate replaces the table's state from persisted records.
func (t *routingTable) hydrate(channels []Channel, groups []Group) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channels = make(map[channelKey]*Channel, len(channels))
	for i := range channels {
		ch := channels[i]
		t.channels[channelKey{ch.Direction, ch.Index}] = &ch
	}
	t.groups = make(map[string]*Group, len(groups))
	for i := range groups {
		g := groups[i]
		g.Members = append([]int(nil), g.Members...)
		t.groups[g.ID] = &g
	}
}

// channelLocked returns the channel record, creating a bare one on first
// touch. Caller holds the write lock.
func (t *routingTable) channelLocked(direction string, index int) *Channel {
	key := channelKey{direction, index}
	ch, ok := t.channels[key]
	if !ok {
		ch = &Channel{Direction: direction, Index: index}
		t.channels[key] = ch
	}
	return ch
}

// Channel returns a copy of the channel record.
func (t *routingTable) Channel(direction string, index int) (Channel, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ch, ok := t.channels[channelKey{direction, index}]
	if !ok {
		return Channel{}, false
	}
	return *ch, true
}

// Channels returns copies of all known channel records, sorted.
func (t *routingTable) Channels() []Channel {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Channel, 0, len(t.channels))
	for _, ch := range t.channels {
		out = append(out, *ch)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Direction != out[j].Direction {
			return out[i].Direction < out[j].Direction
		}
		return out[i].Index < out[j].Index
	})
	return out
}

// Link joins a channel with its odd-even neighbour as a stereo pair.
// Returns the two affected channels (lower index first).
func (t *routingTable) Link(direction string, index int) (Channel, Channel, error) {
	partner := PartnerIndex(index)

	t.mu.Lock()
	defer t.mu.Unlock()

	a := t.channelLocked(direction, index)
	b := t.channelLocked(direction, partner)

	if a.Linked() || b.Linked() {
		return Channel{}, Channel{}, fmt.Errorf("%w: %s %d", ErrChannelLinked, direction, index)
	}
	// Linking must not bridge two groups. Linking a grouped channel to an
	// ungrouped one would also split the pair, so membership must match
	// exactly before the link is made.
	if a.GroupID != b.GroupID {
		return Channel{}, Channel{}, fmt.Errorf("%w: channels %d and %d", ErrGroupSpansLink, index, partner)
	}

	a.StereoPartner = partner
	b.StereoPartner = index

	lo, hi := a, b
	if lo.Index > hi.Index {
		lo, hi = hi, lo
	}
	return *lo, *hi, nil
}

// Unlink breaks a stereo pair. Either half may be named.
func (t *routingTable) Unlink(direction string, index int) (Channel, Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.channels[channelKey{direction, index}]
	if !ok || !a.Linked() {
		return Channel{}, Channel{}, fmt.Errorf("%w: %s %d", ErrChannelNotLinked, direction, index)
	}
	b := t.channels[channelKey{direction, a.StereoPartner}]

	a.StereoPartner = 0
	b.StereoPartner = 0

	lo, hi := a, b
	if lo.Index > hi.Index {
		lo, hi = hi, lo
	}
	return *lo, *hi, nil
}

// CreateGroup forms a new output group. Stereo-linked members pull their
// partner in automatically so a pair is never split. A single-member group
// is valid; it behaves as a one-channel zone.
func (t *routingTable) CreateGroup(id, name string, members []int) (Group, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	expanded := make(map[int]bool)
	for _, idx := range members {
		expanded[idx] = true
		if ch, ok := t.channels[channelKey{DirectionOutput, idx}]; ok && ch.Linked() {
			expanded[ch.StereoPartner] = true
		}
	}

	final := make([]int, 0, len(expanded))
	for idx := range expanded {
		if ch, ok := t.channels[channelKey{DirectionOutput, idx}]; ok && ch.GroupID != "" {
			return Group{}, fmt.Errorf("%w: output %d in group %s", ErrAlreadyGrouped, idx, ch.GroupID)
		}
		final = append(final, idx)
	}
	sort.Ints(final)

	g := &Group{ID: id, Name: name, Members: final}
	for _, idx := range final {
		t.channelLocked(DirectionOutput, idx).GroupID = id
	}
	t.groups[id] = g

	out := *g
	out.Members = append([]int(nil), g.Members...)
	return out, nil
}

// LeaveGroup removes a channel (and its stereo partner) from its group.
// A group emptied this way is deleted.
func (t *routingTable) LeaveGroup(index int) (Group, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch, ok := t.channels[channelKey{DirectionOutput, index}]
	if !ok || ch.GroupID == "" {
		return Group{}, false, fmt.Errorf("%w: output %d", ErrNotGrouped, index)
	}
	g := t.groups[ch.GroupID]

	leaving := map[int]bool{index: true}
	if ch.Linked() {
		leaving[ch.StereoPartner] = true
	}

	kept := g.Members[:0]
	for _, m := range g.Members {
		if leaving[m] {
			t.channelLocked(DirectionOutput, m).GroupID = ""
			continue
		}
		kept = append(kept, m)
	}
	g.Members = kept

	deleted := len(g.Members) == 0
	if deleted {
		delete(t.groups, g.ID)
	}

	out := *g
	out.Members = append([]int(nil), g.Members...)
	return out, deleted, nil
}

// DeleteGroup disbands a group, clearing membership on all channels.
func (t *routingTable) DeleteGroup(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, ok := t.groups[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	for _, m := range g.Members {
		t.channelLocked(DirectionOutput, m).GroupID = ""
	}
	delete(t.groups, id)
	return nil
}

// Group returns a copy of one group.
func (t *routingTable) Group(id string) (Group, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	g, ok := t.groups[id]
	if !ok {
		return Group{}, false
	}
	out := *g
	out.Members = append([]int(nil), g.Members...)
	return out, true
}

// Groups returns copies of all groups, sorted by name then id.
func (t *routingTable) Groups() []Group {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Group, 0, len(t.groups))
	for _, g := range t.groups {
		cp := *g
		cp.Members = append([]int(nil), g.Members...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ExpandTargets returns every parameter that must be written for one
// requested change. Gain and mute mirror across a stereo pair; source
// select and anything unmirrored touch only the named channel.
func (t *routingTable) ExpandTargets(p Param) []Param {
	if !mirrored(p.Kind) {
		return []Param{p}
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	ch, ok := t.channels[channelKey{p.Direction, p.Index}]
	if !ok || !ch.Linked() {
		return []Param{p}
	}
	partner := p
	partner.Index = ch.StereoPartner
	return []Param{p, partner}
}
