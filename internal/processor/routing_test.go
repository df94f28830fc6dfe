package processor

import (
	"errors"
	"testing"
)

func TestLinkPairsWithNeighbour(t *testing.T) {
	rt := newRoutingTable()

	a, b, err := rt.Link(DirectionOutput, 3)
	if err != nil {
		t.Fatalf("Link() error: %v", err)
	}
	if a.Index != 3 || b.Index != 4 {
		t.Errorf("pair = %d-%d, want 3-4", a.Index, b.Index)
	}
	if a.StereoPartner != 4 || b.StereoPartner != 3 {
		t.Errorf("partners = %d/%d, want 4/3", a.StereoPartner, b.StereoPartner)
	}

	// Naming the even half pairs downward.
	a, b, err = rt.Link(DirectionOutput, 6)
	if err != nil {
		t.Fatalf("Link(6) error: %v", err)
	}
	if a.Index != 5 || b.Index != 6 {
		t.Errorf("pair = %d-%d, want 5-6", a.Index, b.Index)
	}
}

func TestLinkRejectsAlreadyLinked(t *testing.T) {
	rt := newRoutingTable()
	if _, _, err := rt.Link(DirectionOutput, 1); err != nil {
		t.Fatalf("Link() error: %v", err)
	}

	if _, _, err := rt.Link(DirectionOutput, 1); !errors.Is(err, ErrChannelLinked) {
		t.Errorf("relink error = %v, want ErrChannelLinked", err)
	}
	if _, _, err := rt.Link(DirectionOutput, 2); !errors.Is(err, ErrChannelLinked) {
		t.Errorf("partner relink error = %v, want ErrChannelLinked", err)
	}
}

func TestLinkRejectsGroupMismatch(t *testing.T) {
	rt := newRoutingTable()
	if _, err := rt.CreateGroup("g1", "Patio", []int{1}); err != nil {
		t.Fatalf("CreateGroup() error: %v", err)
	}

	// Output 1 is grouped, output 2 is not: linking would split the pair.
	if _, _, err := rt.Link(DirectionOutput, 1); !errors.Is(err, ErrGroupSpansLink) {
		t.Errorf("error = %v, want ErrGroupSpansLink", err)
	}
}

func TestUnlink(t *testing.T) {
	rt := newRoutingTable()
	rt.Link(DirectionInput, 1) //nolint:errcheck // Setup

	// Unlink via the partner half.
	a, b, err := rt.Unlink(DirectionInput, 2)
	if err != nil {
		t.Fatalf("Unlink() error: %v", err)
	}
	if a.Linked() || b.Linked() {
		t.Error("channels still linked after Unlink")
	}

	if _, _, err := rt.Unlink(DirectionInput, 1); !errors.Is(err, ErrChannelNotLinked) {
		t.Errorf("double unlink error = %v, want ErrChannelNotLinked", err)
	}
}

func TestCreateGroupIncludesStereoPartner(t *testing.T) {
	rt := newRoutingTable()
	rt.Link(DirectionOutput, 1) //nolint:errcheck // Setup

	g, err := rt.CreateGroup("g1", "Main Bar", []int{1, 5})
	if err != nil {
		t.Fatalf("CreateGroup() error: %v", err)
	}

	want := []int{1, 2, 5}
	if len(g.Members) != len(want) {
		t.Fatalf("members = %v, want %v", g.Members, want)
	}
	for i := range want {
		if g.Members[i] != want[i] {
			t.Errorf("members = %v, want %v", g.Members, want)
			break
		}
	}

	ch, _ := rt.Channel(DirectionOutput, 2)
	if ch.GroupID != "g1" {
		t.Errorf("partner GroupID = %q, want g1", ch.GroupID)
	}
}

func TestCreateGroupRejectsDoubleMembership(t *testing.T) {
	rt := newRoutingTable()
	if _, err := rt.CreateGroup("g1", "Patio", []int{3}); err != nil {
		t.Fatalf("CreateGroup() error: %v", err)
	}
	if _, err := rt.CreateGroup("g2", "Dining", []int{3, 4}); !errors.Is(err, ErrAlreadyGrouped) {
		t.Errorf("error = %v, want ErrAlreadyGrouped", err)
	}
}

func TestGroupOfOneIsValid(t *testing.T) {
	rt := newRoutingTable()
	g, err := rt.CreateGroup("g1", "DJ Booth", []int{7})
	if err != nil {
		t.Fatalf("CreateGroup() error: %v", err)
	}
	if len(g.Members) != 1 || g.Members[0] != 7 {
		t.Errorf("members = %v, want [7]", g.Members)
	}
}

func TestLeaveGroupRemovesPairAndDeletesEmpty(t *testing.T) {
	rt := newRoutingTable()
	rt.Link(DirectionOutput, 1) //nolint:errcheck // Setup
	if _, err := rt.CreateGroup("g1", "Main", []int{1, 3}); err != nil {
		t.Fatalf("CreateGroup() error: %v", err)
	}

	// Leaving via one half of the pair removes both.
	g, deleted, err := rt.LeaveGroup(2)
	if err != nil {
		t.Fatalf("LeaveGroup() error: %v", err)
	}
	if deleted {
		t.Error("group deleted while member 3 remains")
	}
	if len(g.Members) != 1 || g.Members[0] != 3 {
		t.Errorf("members = %v, want [3]", g.Members)
	}

	// Last member leaving deletes the group.
	_, deleted, err = rt.LeaveGroup(3)
	if err != nil {
		t.Fatalf("LeaveGroup(3) error: %v", err)
	}
	if !deleted {
		t.Error("emptied group not deleted")
	}
	if _, ok := rt.Group("g1"); ok {
		t.Error("deleted group still present")
	}
}

func TestLeaveGroupNotGrouped(t *testing.T) {
	rt := newRoutingTable()
	if _, _, err := rt.LeaveGroup(5); !errors.Is(err, ErrNotGrouped) {
		t.Errorf("error = %v, want ErrNotGrouped", err)
	}
}

func TestExpandTargetsMirrorsLinkedPair(t *testing.T) {
	rt := newRoutingTable()
	rt.Link(DirectionOutput, 1) //nolint:errcheck // Setup

	targets := rt.ExpandTargets(GainParam(DirectionOutput, 1))
	if len(targets) != 2 {
		t.Fatalf("targets = %v, want pair", targets)
	}
	if targets[0].Index != 1 || targets[1].Index != 2 {
		t.Errorf("targets = %v, want indexes 1 and 2", targets)
	}

	// Writing via the even half mirrors to the odd half.
	targets = rt.ExpandTargets(MuteParam(DirectionOutput, 2))
	if len(targets) != 2 || targets[1].Index != 1 {
		t.Errorf("targets = %v, want mirror to 1", targets)
	}
}

func TestExpandTargetsUnlinkedAndUnmirrored(t *testing.T) {
	rt := newRoutingTable()
	rt.Link(DirectionOutput, 1) //nolint:errcheck // Setup

	// Unlinked channel: no expansion.
	targets := rt.ExpandTargets(GainParam(DirectionOutput, 5))
	if len(targets) != 1 {
		t.Errorf("targets = %v, want single", targets)
	}

	// Source select never mirrors, even on a linked pair.
	targets = rt.ExpandTargets(SourceParam(1))
	if len(targets) != 1 {
		t.Errorf("source targets = %v, want single", targets)
	}
}

func TestHydrateRestoresState(t *testing.T) {
	rt := newRoutingTable()
	rt.hydrate(
		[]Channel{
			{Direction: DirectionOutput, Index: 1, StereoPartner: 2, GroupID: "g1"},
			{Direction: DirectionOutput, Index: 2, StereoPartner: 1, GroupID: "g1"},
		},
		[]Group{{ID: "g1", Name: "Main", Members: []int{1, 2}}},
	)

	targets := rt.ExpandTargets(GainParam(DirectionOutput, 1))
	if len(targets) != 2 {
		t.Errorf("hydrated link not honoured: targets = %v", targets)
	}
	g, ok := rt.Group("g1")
	if !ok || len(g.Members) != 2 {
		t.Errorf("hydrated group = %+v, ok=%v", g, ok)
	}
}
