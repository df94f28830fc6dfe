// Package api exposes the HTTP control surface and the WebSocket event
// stream.
//
// REST routes live under /api/v1 and map straight onto the processor
// manager and scene engine; the API layer holds no state of its own.
// Error responses carry a stable machine-readable code alongside the
// message, and domain sentinel errors map onto HTTP statuses in one place
// (writeDomainError).
//
// The WebSocket hub at the configured path pushes status, parameter,
// scene, and clip events as they happen. Meter levels are throttled: the
// hub keeps only the latest levels per processor and broadcasts them at
// the configured interval, so a wall of UI panels never amplifies the
// device's metering rate.
package api
