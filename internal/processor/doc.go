// Package processor manages the fleet of DSP units and the state that
// hangs off them: the confirmed-value parameter cache, stereo links,
// output groups, and persistence.
//
// The Manager runs one Unit per enabled processor. A Unit binds the
// device client (internal/atlas), the parameter Registry, and the routing
// table, and is the only path for parameter writes: that is what keeps
// stereo mirroring and cache confirmation consistent.
//
// The cache is pessimistic. Values enter it only from device
// acknowledgements and pushes, never optimistically from requests, and
// every value is flagged unconfirmed the moment the connection drops.
// After a reconnect the unit re-reads the whole cache and re-establishes
// its subscriptions before values count as confirmed again.
//
// Routing invariants:
//   - Stereo links pair a channel with its odd-even neighbour only.
//   - Gain and mute mirror across a linked pair on every write.
//   - Both halves of a pair always share group membership.
//   - A channel belongs to at most one group; a one-member group is valid.
package processor
