package session

import (
	"reflect"
	"testing"

	"github.com/hitoshi/huddle/internal/model"
	"github.com/hitoshi/huddle/internal/protocol"
)

func TestCreate_RetrospectiveDefaults(t *testing.T) {
	f := newRetro(t)
	sess := f.state.Session
	if !reflect.DeepEqual(sess.Categories, []string{"went_well"}) {
		t.Errorf("Categories = %v, want [went_well]", sess.Categories)
	}
	if sess.Phase != model.PhaseCollecting {
		t.Errorf("Phase = %q, want collecting", sess.Phase)
	}
	if f.state.Participants[0].VotingBudget != 3 {
		t.Errorf("VotingBudget = %d, want 3", f.state.Participants[0].VotingBudget)
	}
}

func TestRetro_RemoveLastCategoryFails(t *testing.T) {
	f := newRetro(t, "went_well")

	_, err := f.apply(f.host, protocol.RemoveCategory{Target: f.target(), Name: "went_well"})
	assertCategory(t, err, model.CategoryValidation)
	if !reflect.DeepEqual(f.state.Session.Categories, []string{"went_well"}) {
		t.Errorf("Categories = %v, want unchanged", f.state.Session.Categories)
	}
}

func TestCreate_DuplicateDefaultCategoriesCollapsed(t *testing.T) {
	env := testEnv()
	env.Defaults.Categories = []string{"went_well", "went_well", "", "to_improve", "went_well"}
	res, err := Create(protocol.CreateSession{Name: "Retro", Kind: model.KindRetrospective, HostName: "H"}, env)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f := &fixture{t: t, env: env, state: res.State, host: res.ActorID}
	if !reflect.DeepEqual(f.state.Session.Categories, []string{"went_well", "to_improve"}) {
		t.Fatalf("Categories = %v, want [went_well to_improve]", f.state.Session.Categories)
	}

	f.mustApply(f.host, protocol.RemoveCategory{Target: f.target(), Name: "to_improve"})
	_, err = f.apply(f.host, protocol.RemoveCategory{Target: f.target(), Name: "went_well"})
	assertCategory(t, err, model.CategoryValidation)
	if !reflect.DeepEqual(f.state.Session.Categories, []string{"went_well"}) {
		t.Errorf("最後のカテゴリは残る: %v", f.state.Session.Categories)
	}
}

func TestCreate_DuplicateOnlyDefaultsStillNonEmpty(t *testing.T) {
	env := testEnv()
	env.Defaults.Categories = []string{"went_well", "went_well"}
	res, err := Create(protocol.CreateSession{Name: "Retro", Kind: model.KindRetrospective, HostName: "H"}, env)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f := &fixture{t: t, env: env, state: res.State, host: res.ActorID}

	_, err = f.apply(f.host, protocol.RemoveCategory{Target: f.target(), Name: "went_well"})
	assertCategory(t, err, model.CategoryValidation)
	if len(f.state.Session.Categories) != 1 {
		t.Errorf("Categories = %v, want [went_well]", f.state.Session.Categories)
	}
}

func TestRetro_AddRemoveCategoryRoundTrip(t *testing.T) {
	f := newRetro(t, "went_well", "to_improve")
	f.addItem(f.host, "CI is fast", "went_well")
	before := append([]string(nil), f.state.Session.Categories...)

	f.mustApply(f.host, protocol.AddCategory{Target: f.target(), Name: "x"})
	f.addItem(f.host, "note in x", "x")
	f.addItem(f.host, "another in x", "x")
	if len(f.state.Items) != 3 {
		t.Fatalf("len(Items) = %d, want 3", len(f.state.Items))
	}

	f.mustApply(f.host, protocol.RemoveCategory{Target: f.target(), Name: "x"})
	if !reflect.DeepEqual(f.state.Session.Categories, before) {
		t.Errorf("Categories = %v, want %v", f.state.Session.Categories, before)
	}
	for _, it := range f.state.Items {
		if it.Category == "x" {
			t.Errorf("カテゴリ x のアイテムが残っている: %+v", it)
		}
	}
	if len(f.state.Items) != 1 {
		t.Errorf("len(Items) = %d, want 1", len(f.state.Items))
	}
}

func TestRetro_CategoryValidation(t *testing.T) {
	f := newRetro(t, "went_well")
	b := f.join("B")

	_, err := f.apply(f.host, protocol.AddCategory{Target: f.target(), Name: "went_well"})
	assertCategory(t, err, model.CategoryValidation)

	_, err = f.apply(f.host, protocol.RemoveCategory{Target: f.target(), Name: "missing"})
	assertCategory(t, err, model.CategoryValidation)

	_, err = f.apply(b, protocol.AddCategory{Target: f.target(), Name: "new"})
	assertCategory(t, err, model.CategoryUnauthorized)

	_, err = f.apply(b, protocol.AddItem{Target: f.target(), Content: "note", Category: "unknown"})
	assertCategory(t, err, model.CategoryValidation)

	_, err = f.apply(b, protocol.AddItem{Target: f.target(), Content: "note"})
	assertCategory(t, err, model.CategoryValidation)
}

func TestRetro_VotingBudget(t *testing.T) {
	f := newRetro(t)
	b := f.join("B")
	note := f.addItem(b, "Deploys are smooth", "went_well")

	// 投票開始前は投票できない
	_, err := f.apply(b, protocol.SubmitVote{Target: f.target(), ItemID: note})
	assertCategory(t, err, model.CategoryState)

	f.mustApply(f.host, protocol.StartVoting{Target: f.target()})
	for i := 0; i < 3; i++ {
		f.mustApply(b, protocol.SubmitVote{Target: f.target(), ItemID: note})
	}
	if got := f.state.Participant(b).VotingBudget; got != 0 {
		t.Fatalf("VotingBudget = %d, want 0", got)
	}

	before := f.state.Clone()
	_, err = f.apply(b, protocol.SubmitVote{Target: f.target(), ItemID: note})
	assertCategory(t, err, model.CategoryValidation)
	if !reflect.DeepEqual(before, f.state) {
		t.Error("投票数切れの投票で状態が変わってはならない")
	}
	if got := f.state.Item(note).VoteCount(); got != 3 {
		t.Errorf("VoteCount = %d, want 3", got)
	}
}

func TestRetro_VoteCountsHiddenWhileVoting(t *testing.T) {
	f := newRetro(t)
	note := f.addItem(f.host, "Pairing", "went_well")
	f.mustApply(f.host, protocol.StartVoting{Target: f.target()})
	f.mustApply(f.host, protocol.SubmitVote{Target: f.target(), ItemID: note})

	if vc := f.snapshot().Item(note).VoteCount; vc != nil {
		t.Errorf("投票中は投票数を伏せる: %d", *vc)
	}

	f.mustApply(f.host, protocol.RevealVotes{Target: f.target()})
	vc := f.snapshot().Item(note).VoteCount
	if vc == nil || *vc != 1 {
		t.Errorf("VoteCount = %v, want 1", vc)
	}
}

func TestRetro_FinishRoundResetsBudgets(t *testing.T) {
	f := newRetro(t)
	b := f.join("B")
	note := f.addItem(b, "Standups", "went_well")
	f.mustApply(f.host, protocol.StartVoting{Target: f.target()})
	f.mustApply(b, protocol.SubmitVote{Target: f.target(), ItemID: note})
	f.mustApply(f.host, protocol.RevealVotes{Target: f.target()})

	_, err := f.apply(b, protocol.FinishRound{Target: f.target()})
	assertCategory(t, err, model.CategoryUnauthorized)

	f.mustApply(f.host, protocol.FinishRound{Target: f.target()})
	if f.state.Session.Phase != model.PhaseIdle {
		t.Errorf("Phase = %q, want idle", f.state.Session.Phase)
	}
	for _, p := range f.state.Participants {
		if p.VotingBudget != 3 {
			t.Errorf("%s VotingBudget = %d, want 3", p.DisplayName, p.VotingBudget)
		}
	}
	if got := f.state.Item(note).VoteCount(); got != 1 {
		t.Errorf("ノートの投票数は保持される: got %d", got)
	}

	// idle から次のラウンドを開始できる
	f.mustApply(f.host, protocol.StartVoting{Target: f.target()})
	if f.state.Session.Phase != model.PhaseVoting {
		t.Errorf("Phase = %q, want voting", f.state.Session.Phase)
	}
}

func TestRetro_AcceptEstimateIsKindMismatch(t *testing.T) {
	f := newRetro(t)
	_, err := f.apply(f.host, protocol.AcceptEstimate{Target: f.target(), ItemID: "x", FinalValue: "1"})
	assertCategory(t, err, model.CategoryValidation)
}
