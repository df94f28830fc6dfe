// Package mqtt publishes dsp-core events to the venue MQTT broker.
//
// The broker is optional: when disabled in configuration the rest of the
// system runs without it, and callers treat publish errors as advisory.
// Events cover connection status (retained), confirmed parameter changes,
// scene recall results, and clip state transitions.
//
// Topic layout:
//
//	dspcore/status/{processorID}
//	dspcore/param/{processorID}/{param}
//	dspcore/scene/{processorID}
//	dspcore/clip/{processorID}
package mqtt
