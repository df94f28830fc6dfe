package processor

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Channel directions.
const (
	DirectionInput  = "input"
	DirectionOutput = "output"
)

// Parameter kinds and their legal ranges.
const (
	KindGain   = "Gain"   // dB
	KindMute   = "Mute"   // 0 or 1
	KindSource = "Source" // input index routed to an output
)

// Gain limits in dB, matching the device's fader range.
const (
	GainMin = -60.0
	GainMax = 12.0
)

// Processor is one physical DSP unit under management.
type Processor struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Model       string    `json:"model"`
	Host        string    `json:"host"`
	ControlPort int       `json:"control_port"`
	MeterPort   int       `json:"meter_port"`
	InputCount  int       `json:"input_count"`
	OutputCount int       `json:"output_count"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Capabilities are the probed channel counts and model of a unit.
type Capabilities struct {
	Model       string `json:"model"`
	InputCount  int    `json:"input_count"`
	OutputCount int    `json:"output_count"`
}

// Channel is one input or output strip with its routing state.
// StereoPartner is the index of the linked neighbour, 0 when mono.
// GroupID is set for grouped outputs.
type Channel struct {
	ProcessorID   string `json:"processor_id"`
	Direction     string `json:"direction"`
	Index         int    `json:"index"`
	Name          string `json:"name"`
	StereoPartner int    `json:"stereo_partner,omitempty"`
	GroupID       string `json:"group_id,omitempty"`
}

// Linked reports whether the channel is half of a stereo pair.
func (c *Channel) Linked() bool { return c.StereoPartner != 0 }

// Group is a named set of output channels driven together.
type Group struct {
	ID          string    `json:"id"`
	ProcessorID string    `json:"processor_id"`
	Name        string    `json:"name"`
	Members     []int     `json:"members"`
	CreatedAt   time.Time `json:"created_at"`
}

// Param identifies one device parameter, parsed from its wire name.
type Param struct {
	Direction string // input or output
	Kind      string // Gain, Mute, Source
	Index     int    // 1-based channel index
}

// Name returns the wire name, e.g. "OutputGain_2".
func (p Param) Name() string {
	dir := "Input"
	if p.Direction == DirectionOutput {
		dir = "Output"
	}
	return fmt.Sprintf("%s%s_%d", dir, p.Kind, p.Index)
}

// GainParam returns the gain parameter for a channel.
func GainParam(direction string, index int) Param {
	return Param{Direction: direction, Kind: KindGain, Index: index}
}

// MuteParam returns the mute parameter for a channel.
func MuteParam(direction string, index int) Param {
	return Param{Direction: direction, Kind: KindMute, Index: index}
}

// SourceParam returns the source-select parameter for an output.
func SourceParam(index int) Param {
	return Param{Direction: DirectionOutput, Kind: KindSource, Index: index}
}

// StandardParams returns the full parameter set a unit with the given
// capabilities exposes: gain and mute on every channel, plus source
// select on every output.
func StandardParams(caps Capabilities) []Param {
	params := make([]Param, 0, 2*caps.InputCount+3*caps.OutputCount)
	for i := 1; i <= caps.InputCount; i++ {
		params = append(params, GainParam(DirectionInput, i), MuteParam(DirectionInput, i))
	}
	for i := 1; i <= caps.OutputCount; i++ {
		params = append(params, GainParam(DirectionOutput, i), MuteParam(DirectionOutput, i), SourceParam(i))
	}
	return params
}

// ParseParam parses a wire parameter name. It accepts only the naming
// convention used by the control channel: {Input|Output}{Gain|Mute|Source}_{index}.
func ParseParam(name string) (Param, error) {
	base, idxStr, found := strings.Cut(name, "_")
	if !found {
		return Param{}, fmt.Errorf("%w: %q", ErrInvalidParam, name)
	}
	index, err := strconv.Atoi(idxStr)
	if err != nil || index < 1 {
		return Param{}, fmt.Errorf("%w: %q", ErrInvalidParam, name)
	}

	var direction string
	switch {
	case strings.HasPrefix(base, "Input"):
		direction = DirectionInput
		base = strings.TrimPrefix(base, "Input")
	case strings.HasPrefix(base, "Output"):
		direction = DirectionOutput
		base = strings.TrimPrefix(base, "Output")
	default:
		return Param{}, fmt.Errorf("%w: %q", ErrInvalidParam, name)
	}

	switch base {
	case KindGain, KindMute, KindSource:
	default:
		return Param{}, fmt.Errorf("%w: %q", ErrInvalidParam, name)
	}
	if base == KindSource && direction != DirectionOutput {
		return Param{}, fmt.Errorf("%w: %q (source select is output-only)", ErrInvalidParam, name)
	}

	return Param{Direction: direction, Kind: base, Index: index}, nil
}

// Validate checks a parameter against the unit's capabilities and the
// value against the parameter kind's legal range.
func (p Param) Validate(caps Capabilities, value float64) error {
	limit := caps.InputCount
	if p.Direction == DirectionOutput {
		limit = caps.OutputCount
	}
	if p.Index > limit {
		return fmt.Errorf("%w: %s (unit has %d %s channels)",
			ErrUnknownChannel, p.Name(), limit, p.Direction)
	}

	switch p.Kind {
	case KindGain:
		if value < GainMin || value > GainMax {
			return fmt.Errorf("%w: %s=%g (range %g..%g dB)",
				ErrValueOutOfRange, p.Name(), value, GainMin, GainMax)
		}
	case KindMute:
		if value != 0 && value != 1 {
			return fmt.Errorf("%w: %s=%g (mute is 0 or 1)",
				ErrValueOutOfRange, p.Name(), value)
		}
	case KindSource:
		src := int(value)
		if float64(src) != value || src < 1 || src > caps.InputCount {
			return fmt.Errorf("%w: %s=%g (unit has %d inputs)",
				ErrValueOutOfRange, p.Name(), value, caps.InputCount)
		}
	}
	return nil
}

// PartnerIndex returns the stereo partner for a channel index. Channels
// pair odd-even on the physical unit: 1-2, 3-4, 5-6.
func PartnerIndex(index int) int {
	if index%2 == 1 {
		return index + 1
	}
	return index - 1
}

// mirrored reports whether a parameter kind is kept identical across the
// two halves of a stereo pair.
func mirrored(kind string) bool {
	return kind == KindGain || kind == KindMute
}
