package processor

import "errors"

// Sentinel errors for processor operations. Callers match with errors.Is.
var (
	// ErrNotFound indicates the processor does not exist.
	ErrNotFound = errors.New("processor: not found")

	// ErrDuplicate indicates a processor already exists at that address.
	ErrDuplicate = errors.New("processor: duplicate address")

	// ErrInvalidParam indicates a parameter name that does not follow the
	// {Input|Output}{Gain|Mute|Source}_{index} convention.
	ErrInvalidParam = errors.New("processor: invalid parameter name")

	// ErrUnknownChannel indicates a channel index outside the processor's
	// probed capabilities.
	ErrUnknownChannel = errors.New("processor: unknown channel")

	// ErrValueOutOfRange indicates a parameter value outside its legal range.
	ErrValueOutOfRange = errors.New("processor: value out of range")

	// ErrNotConfirmed indicates the cached value has not been confirmed by
	// the device since the last reconnect.
	ErrNotConfirmed = errors.New("processor: value not confirmed")

	// ErrChannelLinked indicates a stereo operation on an already-linked
	// channel.
	ErrChannelLinked = errors.New("processor: channel already stereo-linked")

	// ErrChannelNotLinked indicates an unlink on a channel with no partner.
	ErrChannelNotLinked = errors.New("processor: channel not stereo-linked")

	// ErrAlreadyGrouped indicates a channel already belongs to a group.
	ErrAlreadyGrouped = errors.New("processor: channel already in a group")

	// ErrNotGrouped indicates a group operation on an ungrouped channel.
	ErrNotGrouped = errors.New("processor: channel not in a group")

	// ErrGroupNotFound indicates the group does not exist.
	ErrGroupNotFound = errors.New("processor: group not found")

	// ErrGroupSpansLink indicates an operation that would leave the two
	// halves of a stereo pair in different groups.
	ErrGroupSpansLink = errors.New("processor: stereo pair split across groups")
)
