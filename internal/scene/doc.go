// Package scene captures and recalls named parameter snapshots.
//
// A scene holds device-confirmed values only: capture refuses to include
// any parameter the device has not vouched for since the last reconnect,
// naming the offenders. Recall replays the snapshot through the owning
// unit, so stereo mirroring and validation apply exactly as they would to
// a manual change, with a configurable pause between writes to keep large
// scenes from saturating the control channel. A recall runs to completion
// and reports per-parameter failures rather than aborting midway; pulling
// the network cable two writes into a five-parameter scene yields a
// partial result naming the three that never landed.
package scene
