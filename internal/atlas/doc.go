// Package atlas implements the device protocol for AtlasIED Atmosphere
// signal processors (AZM4, AZM8, AZMP series).
//
// Two transports are involved:
//
//   - TCP control channel (port 5321): newline-delimited JSON frames for
//     parameter get/set, subscriptions, and liveness probes. The channel is
//     half-duplex at the command level: one command is on the wire at a
//     time and the device acknowledges each before the next is sent. The
//     device may also push unsolicited "update" frames for subscribed
//     parameters at any point between acknowledgements.
//
//   - UDP metering (port 3131): the device pushes level datagrams many
//     times per second. These are lossy by design; stale and reordered
//     datagrams are discarded rather than reassembled.
//
// Client owns the control channel lifecycle: dialling, exponential-backoff
// reconnection, and keep-alive probing. Dispatcher serialises commands and
// correlates acknowledgements. MeterIngestor owns the shared UDP socket,
// debounces clip flags, and downsamples for archival.
//
// This package knows nothing about zones, scenes, or persistence; that
// lives in internal/processor and internal/scene.
package atlas
