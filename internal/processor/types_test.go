package processor

import (
	"errors"
	"testing"
)

func TestParseParam(t *testing.T) {
	tests := []struct {
		name    string
		want    Param
		wantErr error
	}{
		{"OutputGain_2", Param{DirectionOutput, KindGain, 2}, nil},
		{"InputGain_1", Param{DirectionInput, KindGain, 1}, nil},
		{"OutputMute_8", Param{DirectionOutput, KindMute, 8}, nil},
		{"InputMute_4", Param{DirectionInput, KindMute, 4}, nil},
		{"OutputSource_3", Param{DirectionOutput, KindSource, 3}, nil},
		{"InputSource_1", Param{}, ErrInvalidParam}, // source is output-only
		{"OutputGain", Param{}, ErrInvalidParam},    // no index
		{"OutputGain_0", Param{}, ErrInvalidParam},  // index below 1
		{"OutputGain_x", Param{}, ErrInvalidParam},
		{"Sidechain_1", Param{}, ErrInvalidParam},
		{"OutputLevel_1", Param{}, ErrInvalidParam}, // unknown kind
		{"", Param{}, ErrInvalidParam},
	}

	for _, tt := range tests {
		got, err := ParseParam(tt.name)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseParam(%q) error = %v, want %v", tt.name, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseParam(%q) error: %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseParam(%q) = %+v, want %+v", tt.name, got, tt.want)
		}
	}
}

func TestParamNameRoundTrip(t *testing.T) {
	for _, name := range []string{"OutputGain_2", "InputMute_4", "OutputSource_1"} {
		p, err := ParseParam(name)
		if err != nil {
			t.Fatalf("ParseParam(%q) error: %v", name, err)
		}
		if p.Name() != name {
			t.Errorf("Name() = %q, want %q", p.Name(), name)
		}
	}
}

func TestParamValidate(t *testing.T) {
	caps := Capabilities{Model: "AZM8", InputCount: 8, OutputCount: 8}

	tests := []struct {
		param   Param
		value   float64
		wantErr error
	}{
		{GainParam(DirectionOutput, 1), -12.5, nil},
		{GainParam(DirectionOutput, 1), GainMin, nil},
		{GainParam(DirectionOutput, 1), GainMax, nil},
		{GainParam(DirectionOutput, 1), GainMin - 1, ErrValueOutOfRange},
		{GainParam(DirectionOutput, 1), GainMax + 1, ErrValueOutOfRange},
		{GainParam(DirectionOutput, 9), 0, ErrUnknownChannel},
		{GainParam(DirectionInput, 9), 0, ErrUnknownChannel},
		{MuteParam(DirectionOutput, 2), 0, nil},
		{MuteParam(DirectionOutput, 2), 1, nil},
		{MuteParam(DirectionOutput, 2), 0.5, ErrValueOutOfRange},
		{SourceParam(3), 4, nil},
		{SourceParam(3), 0, ErrValueOutOfRange},
		{SourceParam(3), 9, ErrValueOutOfRange},
		{SourceParam(3), 2.5, ErrValueOutOfRange},
	}

	for _, tt := range tests {
		err := tt.param.Validate(caps, tt.value)
		if tt.wantErr == nil && err != nil {
			t.Errorf("Validate(%s, %g) error: %v", tt.param.Name(), tt.value, err)
		}
		if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
			t.Errorf("Validate(%s, %g) error = %v, want %v", tt.param.Name(), tt.value, err, tt.wantErr)
		}
	}
}

func TestPartnerIndex(t *testing.T) {
	pairs := map[int]int{1: 2, 2: 1, 3: 4, 4: 3, 7: 8, 8: 7}
	for idx, want := range pairs {
		if got := PartnerIndex(idx); got != want {
			t.Errorf("PartnerIndex(%d) = %d, want %d", idx, got, want)
		}
	}
}
