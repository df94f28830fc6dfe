package processor

import (
	"testing"
)

func TestRegistryConfirmAndGet(t *testing.T) {
	r := NewRegistry()

	if _, ok := r.Get("OutputGain_1"); ok {
		t.Error("empty registry returned a value")
	}

	r.Confirm("OutputGain_1", -12.5, SourceAPI)

	v, ok := r.Get("OutputGain_1")
	if !ok {
		t.Fatal("confirmed value missing")
	}
	if v.Value != -12.5 || !v.Confirmed || v.Source != SourceAPI {
		t.Errorf("cached = %+v, want -12.5/confirmed/api", v)
	}
	if v.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
}

func TestRegistryMarkAllUnconfirmed(t *testing.T) {
	r := NewRegistry()
	r.Confirm("OutputGain_1", -10, SourceAPI)
	r.Confirm("OutputMute_1", 0, SourceDevice)

	r.MarkAllUnconfirmed()

	for _, name := range []string{"OutputGain_1", "OutputMute_1"} {
		v, _ := r.Get(name)
		if v.Confirmed {
			t.Errorf("%s still confirmed after MarkAllUnconfirmed", name)
		}
	}

	// Values survive; only the confirmation flag drops.
	v, _ := r.Get("OutputGain_1")
	if v.Value != -10 {
		t.Errorf("value = %g, want -10 preserved", v.Value)
	}

	unconfirmed := r.Unconfirmed()
	if len(unconfirmed) != 2 {
		t.Errorf("Unconfirmed() len = %d, want 2", len(unconfirmed))
	}

	// Re-confirming clears the flag.
	r.Confirm("OutputGain_1", -10, SourceSync)
	if got := r.Unconfirmed(); len(got) != 1 || got[0] != "OutputMute_1" {
		t.Errorf("Unconfirmed() = %v, want [OutputMute_1]", got)
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewRegistry()
	r.Confirm("OutputMute_1", 0, SourceAPI)
	r.Confirm("InputGain_2", -3, SourceAPI)
	r.Confirm("OutputGain_1", -6, SourceAPI)

	names := r.Names()
	want := []string{"InputGain_2", "OutputGain_1", "OutputMute_1"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %s, want %s", i, names[i], want[i])
		}
	}
}

func TestRegistrySnapshotIsCopy(t *testing.T) {
	r := NewRegistry()
	r.Confirm("OutputGain_1", -6, SourceAPI)

	snap := r.Snapshot()
	snap["OutputGain_1"] = CachedValue{Value: 99}

	v, _ := r.Get("OutputGain_1")
	if v.Value != -6 {
		t.Error("mutating snapshot affected registry")
	}
}
