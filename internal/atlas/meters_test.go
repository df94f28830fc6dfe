package atlas

import (
	"errors"
	"testing"
)

func newTestIngestor() *MeterIngestor {
	return NewMeterIngestor(MeterIngestorConfig{
		ListenAddr:   ":0",
		ClipOnCount:  3,
		ClipOffCount: 5,
	}, nil)
}

func datagram(seq uint64, ts int64, readings ...MeterReading) *MeterDatagram {
	return &MeterDatagram{Seq: seq, TS: ts, Meters: readings}
}

func TestIngestDropsUnknownSource(t *testing.T) {
	m := newTestIngestor()

	m.ingest("10.0.0.99", datagram(1, 1000,
		MeterReading{Type: "input", Index: 1, Level: -20}))

	if got := m.Stats().Unknown; got != 1 {
		t.Errorf("Unknown = %d, want 1", got)
	}
	if got := m.Stats().Datagrams; got != 0 {
		t.Errorf("Datagrams = %d, want 0", got)
	}
}

func TestIngestDropsStaleDatagrams(t *testing.T) {
	m := newTestIngestor()
	m.RegisterSource("10.0.0.5", "proc-1")

	m.ingest("10.0.0.5", datagram(10, 5000,
		MeterReading{Type: "output", Index: 1, Level: -10}))

	// Reordered duplicate: the clock does not advance.
	err := m.ingest("10.0.0.5", datagram(9, 4900,
		MeterReading{Type: "output", Index: 1, Level: -99}))
	if !errors.Is(err, ErrStaleDatagram) {
		t.Errorf("error = %v, want ErrStaleDatagram", err)
	}

	if got := m.Stats().Stale; got != 1 {
		t.Errorf("Stale = %d, want 1", got)
	}
	levels := m.Snapshot("proc-1")
	if len(levels) != 1 || levels[0].Level != -10 {
		t.Errorf("snapshot = %+v, want level -10 preserved", levels)
	}
}

func TestIngestRejectsOlderTimestampDespiteNewerSeq(t *testing.T) {
	m := newTestIngestor()
	m.RegisterSource("10.0.0.5", "proc-1")

	m.ingest("10.0.0.5", datagram(10, 5000,
		MeterReading{Type: "output", Index: 1, Level: -10}))

	// Delayed in flight: the sequence advanced but the reading is older
	// than what the cache already holds.
	err := m.ingest("10.0.0.5", datagram(11, 4000,
		MeterReading{Type: "output", Index: 1, Level: -99}))
	if !errors.Is(err, ErrStaleDatagram) {
		t.Errorf("error = %v, want ErrStaleDatagram", err)
	}

	if got := m.Stats().Stale; got != 1 {
		t.Errorf("Stale = %d, want 1", got)
	}
	levels := m.Snapshot("proc-1")
	if len(levels) != 1 || levels[0].Level != -10 {
		t.Errorf("snapshot = %+v, want level -10 preserved", levels)
	}
}

func TestIngestAcceptsRebootedSource(t *testing.T) {
	m := newTestIngestor()
	m.RegisterSource("10.0.0.5", "proc-1")

	m.ingest("10.0.0.5", datagram(5000, 10_000,
		MeterReading{Type: "input", Index: 1, Level: -30}))

	// Device rebooted: sequence restarts but the clock moved forward.
	m.ingest("10.0.0.5", datagram(1, 20_000,
		MeterReading{Type: "input", Index: 1, Level: -25}))

	if got := m.Stats().Stale; got != 0 {
		t.Errorf("Stale = %d, want 0", got)
	}
	levels := m.Snapshot("proc-1")
	if len(levels) != 1 || levels[0].Level != -25 {
		t.Errorf("snapshot = %+v, want level -25", levels)
	}
}

func TestClipHysteresis(t *testing.T) {
	m := newTestIngestor()
	m.RegisterSource("10.0.0.5", "proc-1")

	type transition struct {
		index    int
		clipping bool
	}
	var transitions []transition
	m.OnClip(func(_, _ string, index int, clipping bool) {
		transitions = append(transitions, transition{index, clipping})
	})

	seq := uint64(0)
	ts := int64(0)
	send := func(clip bool) {
		seq++
		ts += 100
		m.ingest("10.0.0.5", datagram(seq, ts,
			MeterReading{Type: "output", Index: 2, Level: -1, Peak: 0, Clip: clip}))
	}

	// Two clipping frames: below the on-threshold of 3, no transition.
	send(true)
	send(true)
	if len(transitions) != 0 {
		t.Fatalf("transition fired after 2 frames, want none: %+v", transitions)
	}

	// Third consecutive frame asserts clipping.
	send(true)
	if len(transitions) != 1 || !transitions[0].clipping {
		t.Fatalf("transitions = %+v, want single clip-on", transitions)
	}

	// Four clean frames: below the off-threshold of 5, still clipping.
	for i := 0; i < 4; i++ {
		send(false)
	}
	if len(transitions) != 1 {
		t.Fatalf("clip cleared early: %+v", transitions)
	}
	if levels := m.Snapshot("proc-1"); !levels[0].Clipping {
		t.Error("snapshot shows not clipping during hold-off")
	}

	// Fifth clean frame clears it.
	send(false)
	if len(transitions) != 2 || transitions[1].clipping {
		t.Fatalf("transitions = %+v, want clip-off as second entry", transitions)
	}
}

func TestClipRunResetsOnCleanFrame(t *testing.T) {
	m := newTestIngestor()
	m.RegisterSource("10.0.0.5", "proc-1")

	fired := false
	m.OnClip(func(_, _ string, _ int, _ bool) { fired = true })

	seq := uint64(0)
	send := func(clip bool) {
		seq++
		m.ingest("10.0.0.5", datagram(seq, int64(seq)*100,
			MeterReading{Type: "input", Index: 1, Level: 0, Clip: clip}))
	}

	// Alternating transients never accumulate three in a row.
	for i := 0; i < 10; i++ {
		send(true)
		send(true)
		send(false)
	}
	if fired {
		t.Error("clip asserted on alternating transients")
	}
}

func TestSnapshotSorted(t *testing.T) {
	m := newTestIngestor()
	m.RegisterSource("10.0.0.5", "proc-1")

	m.ingest("10.0.0.5", datagram(1, 100,
		MeterReading{Type: "output", Index: 2, Level: -2},
		MeterReading{Type: "input", Index: 3, Level: -3},
		MeterReading{Type: "input", Index: 1, Level: -1},
		MeterReading{Type: "output", Index: 1, Level: -4}))

	levels := m.Snapshot("proc-1")
	want := []struct {
		direction string
		index     int
	}{
		{"input", 1}, {"input", 3}, {"output", 1}, {"output", 2},
	}
	if len(levels) != len(want) {
		t.Fatalf("snapshot len = %d, want %d", len(levels), len(want))
	}
	for i, w := range want {
		if levels[i].Direction != w.direction || levels[i].Index != w.index {
			t.Errorf("snapshot[%d] = %s/%d, want %s/%d",
				i, levels[i].Direction, levels[i].Index, w.direction, w.index)
		}
	}
}

func TestOnLevelsFiresPerAcceptedDatagram(t *testing.T) {
	m := newTestIngestor()
	m.RegisterSource("10.0.0.5", "proc-1")

	var calls int
	m.OnLevels(func(processorID string, levels []ChannelLevel) {
		calls++
		if processorID != "proc-1" {
			t.Errorf("processorID = %q, want proc-1", processorID)
		}
	})

	m.ingest("10.0.0.5", datagram(1, 100, MeterReading{Type: "input", Index: 1}))
	m.ingest("10.0.0.5", datagram(2, 200, MeterReading{Type: "input", Index: 1}))
	m.ingest("10.0.0.5", datagram(1, 100, MeterReading{Type: "input", Index: 1})) // stale

	if calls != 2 {
		t.Errorf("OnLevels calls = %d, want 2", calls)
	}
}
