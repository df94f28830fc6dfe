package scene

import "errors"

// Sentinel errors for scene operations.
var (
	// ErrNotFound indicates the scene does not exist.
	ErrNotFound = errors.New("scene: not found")

	// ErrDuplicateName indicates a scene with that name already exists for
	// the processor.
	ErrDuplicateName = errors.New("scene: duplicate name")

	// ErrEmptyScene indicates a capture that would contain no parameters.
	ErrEmptyScene = errors.New("scene: no parameters to capture")

	// ErrUnconfirmedCapture indicates a capture was requested while some
	// of the parameters have not been confirmed by the device. Capturing
	// stale values would bake a lie into the snapshot, so this is a hard
	// failure naming the offending parameters.
	ErrUnconfirmedCapture = errors.New("scene: unconfirmed parameters")
)
