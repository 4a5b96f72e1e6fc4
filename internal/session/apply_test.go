package session

import (
	"reflect"
	"testing"
	"time"

	"github.com/hitoshi/huddle/internal/model"
	"github.com/hitoshi/huddle/internal/protocol"
)

func TestApply_DoesNotMutateInput(t *testing.T) {
	f := newEstimation(t)
	original := f.state.Clone()

	if _, err := Apply(f.state, f.host, protocol.AddItem{Target: f.target(), Content: "x"}, f.env); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !reflect.DeepEqual(original, f.state) {
		t.Error("Apply は入力の状態を変更してはならない")
	}
}

func TestApply_VersionIncrementsByOne(t *testing.T) {
	f := newEstimation(t)
	f.join("B")
	f.addItem(f.host, "Story", "")
	if f.state.Session.Version != 3 {
		t.Errorf("Version = %d, want 3", f.state.Session.Version)
	}
}

func TestApply_UnknownActor(t *testing.T) {
	f := newEstimation(t)
	_, err := f.apply("ghost", protocol.AddItem{Target: f.target(), Content: "x"})
	assertCategory(t, err, model.CategoryNotFound)
}

func TestApply_NilState(t *testing.T) {
	_, err := Apply(nil, "p", protocol.Rejoin{Target: protocol.Target{SessionID: "s", ParticipantID: "p"}}, testEnv())
	assertCategory(t, err, model.CategoryNotFound)
}

func TestJoin_EmitsJoinedAndUpdated(t *testing.T) {
	f := newEstimation(t)
	res := f.mustApply("", protocol.Join{Target: f.target(), Name: "B"})

	if len(res.Events) != 2 {
		t.Fatalf("Events = %+v", res.Events)
	}
	if res.Events[0].Type != protocol.EvtSessionJoined || res.Events[0].Audience != ToCaller {
		t.Errorf("Events[0] = %+v, want sessionJoined to caller", res.Events[0])
	}
	if res.Events[1].Type != protocol.EvtSessionUpdated || res.Events[1].Audience != ToRoom {
		t.Errorf("Events[1] = %+v, want sessionUpdated to room", res.Events[1])
	}
	p := f.state.Participant(res.ActorID)
	if p == nil || p.IsHost {
		t.Errorf("participant = %+v, want non-host", p)
	}
}

func TestRejoin_IsIdempotent(t *testing.T) {
	f := newEstimation(t)
	b := f.join("B")
	cmd := protocol.Rejoin{Target: protocol.Target{SessionID: f.state.Session.ID, ParticipantID: b}}

	first := f.mustApply("", cmd)
	second := f.mustApply("", cmd)

	if first.Mutated || second.Mutated {
		t.Error("rejoin は状態を変更しない")
	}
	if !reflect.DeepEqual(BuildSnapshot(first.State), BuildSnapshot(second.State)) {
		t.Error("rejoin を繰り返しても同じスナップショットを返す")
	}
	if len(first.Events) != 1 || first.Events[0].Audience != ToCaller {
		t.Errorf("Events = %+v, want caller only", first.Events)
	}
}

func TestRejoin_UnknownParticipant(t *testing.T) {
	f := newEstimation(t)
	_, err := f.apply("", protocol.Rejoin{Target: protocol.Target{SessionID: f.state.Session.ID, ParticipantID: "gone"}})
	assertCategory(t, err, model.CategoryNotFound)
}

func TestLeave_HostMigratesToEarliest(t *testing.T) {
	f := newEstimation(t)
	b := f.join("B")
	c := f.join("C")

	res := f.mustApply(f.host, protocol.Leave{Target: f.target()})
	snap := f.snapshot()

	assertSingleHost(t, snap)
	if !snap.Participant(b).IsHost {
		t.Error("B が新しいホストになるべき")
	}
	if snap.Participant(c).IsHost {
		t.Error("C はホストではない")
	}
	if snap.Participant(f.host) != nil {
		t.Error("退出したホストは参加者から消える")
	}
	if snap.HostID != b {
		t.Errorf("HostID = %q, want %q", snap.HostID, b)
	}
	if res.Events[0].Type != protocol.EvtSessionLeft || res.Events[0].ParticipantID != f.host {
		t.Errorf("Events[0] = %+v, want sessionLeft for host", res.Events[0])
	}
}

func TestLeave_MigrationUsesSeqNotSliceOrder(t *testing.T) {
	f := newEstimation(t)
	b := f.join("B")
	c := f.join("C")

	// ストアの返却順が作成順と異なる場合でもSeqで選ぶ
	f.state.Participants[1], f.state.Participants[2] = f.state.Participants[2], f.state.Participants[1]
	f.mustApply(f.host, protocol.Leave{Target: f.target()})

	if !f.state.Participant(b).IsHost || f.state.Participant(c).IsHost {
		t.Error("Seqが最小の B がホストになるべき")
	}
}

func TestLeave_NonHostKeepsHost(t *testing.T) {
	f := newEstimation(t)
	b := f.join("B")
	f.mustApply(b, protocol.Leave{Target: f.target()})
	if !f.state.Participant(f.host).IsHost {
		t.Error("ホストは変わらない")
	}
	assertSingleHost(t, f.snapshot())
}

func TestLeave_LastParticipantDestroysSession(t *testing.T) {
	f := newEstimation(t)
	f.addItem(f.host, "Story", "")

	res := f.mustApply(f.host, protocol.Leave{Target: f.target()})
	if !res.Destroyed || res.State != nil {
		t.Errorf("Destroyed = %v, State = %v, want destroyed", res.Destroyed, res.State)
	}
	if len(res.Events) != 1 || res.Events[0].Type != protocol.EvtSessionLeft {
		t.Errorf("Events = %+v, want only sessionLeft", res.Events)
	}
}

func TestStartTimer(t *testing.T) {
	f := newRetro(t)
	b := f.join("B")
	f.mustApply(b, protocol.StartTimer{Target: f.target(), Seconds: 300})

	want := baseTime.Add(5 * time.Minute)
	ends := f.snapshot().TimerEndsAt
	if ends == nil || !ends.Equal(want) {
		t.Errorf("TimerEndsAt = %v, want %v", ends, want)
	}
}

func TestBuildSnapshot_AuthorNames(t *testing.T) {
	f := newRetro(t)
	b := f.join("Bo")
	note := f.addItem(b, "Pairing", "went_well")

	view := f.snapshot().Item(note)
	if view.AuthorName != "Bo" || view.AuthorID != b {
		t.Errorf("item = %+v, want authored by Bo", view)
	}
}
