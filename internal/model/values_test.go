package model

import "testing"

func TestVotingSystem_Values(t *testing.T) {
	fib := VotingFibonacci.Values()
	want := []string{"?", "0", "1", "2", "3", "5", "8", "13", "21", "34", "∞"}
	if len(fib) != len(want) {
		t.Fatalf("len = %d, want %d", len(fib), len(want))
	}
	for i := range want {
		if fib[i] != want[i] {
			t.Errorf("fib[%d] = %q, want %q", i, fib[i], want[i])
		}
	}

	// 返却値を書き換えても定義は変わらない
	fib[0] = "x"
	if VotingFibonacci.Values()[0] != "?" {
		t.Error("Values() は内部スライスのコピーを返す必要がある")
	}
}

func TestVotingSystem_Contains(t *testing.T) {
	if !VotingFibonacci.Contains("8") {
		t.Error("fibonacci は 8 を含む必要がある")
	}
	if VotingFibonacci.Contains("4") {
		t.Error("fibonacci は 4 を含まない")
	}
	if !VotingTShirt.Contains("XL") {
		t.Error("tshirt は XL を含む必要がある")
	}
	if VotingSystem("linear").Valid() {
		t.Error("未定義の値集合は無効")
	}
}

func TestItem_VoteCount(t *testing.T) {
	estimation := &Item{Votes: []Vote{{ParticipantID: "a", Value: "5"}, {ParticipantID: "b", Value: "8"}}}
	if got := estimation.VoteCount(); got != 2 {
		t.Errorf("estimation VoteCount = %d, want 2", got)
	}

	retro := &Item{Votes: []Vote{{ParticipantID: "a", Count: 2}, {ParticipantID: "b", Count: 1}}}
	if got := retro.VoteCount(); got != 3 {
		t.Errorf("retro VoteCount = %d, want 3", got)
	}
}
