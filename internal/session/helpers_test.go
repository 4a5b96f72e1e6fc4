package session

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hitoshi/huddle/internal/model"
	"github.com/hitoshi/huddle/internal/protocol"
)

var baseTime = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// testEnv は連番IDと固定時刻を返すEnvを生成する。
func testEnv() Env {
	n := 0
	return Env{
		Now: func() time.Time { return baseTime },
		NewID: func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		},
		Defaults: Defaults{VotesPerRound: 3, Categories: []string{"went_well"}},
	}
}

type fixture struct {
	t     *testing.T
	env   Env
	state *State
	host  string
}

func newEstimation(t *testing.T) *fixture {
	t.Helper()
	return newFixture(t, protocol.CreateSession{
		Name: "Sprint", Kind: model.KindEstimation, HostName: "H", VotingSystem: model.VotingFibonacci,
	})
}

func newRetro(t *testing.T, categories ...string) *fixture {
	t.Helper()
	return newFixture(t, protocol.CreateSession{
		Name: "Retro", Kind: model.KindRetrospective, HostName: "H", Categories: categories,
	})
}

func newFixture(t *testing.T, cmd protocol.CreateSession) *fixture {
	t.Helper()
	env := testEnv()
	res, err := Create(cmd, env)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return &fixture{t: t, env: env, state: res.State, host: res.ActorID}
}

func (f *fixture) target() protocol.Target {
	return protocol.Target{SessionID: f.state.Session.ID}
}

// apply はコマンドを適用し、成功した場合は状態を進める。
func (f *fixture) apply(actor string, cmd protocol.Command) (*Result, error) {
	f.t.Helper()
	res, err := Apply(f.state, actor, cmd, f.env)
	if err == nil && res.State != nil {
		f.state = res.State
	}
	return res, err
}

func (f *fixture) mustApply(actor string, cmd protocol.Command) *Result {
	f.t.Helper()
	res, err := f.apply(actor, cmd)
	if err != nil {
		f.t.Fatalf("Apply(%s): %v", cmd.Type(), err)
	}
	return res
}

func (f *fixture) join(name string) string {
	f.t.Helper()
	return f.mustApply("", protocol.Join{Target: f.target(), Name: name}).ActorID
}

func (f *fixture) addItem(actor, content, category string) string {
	f.t.Helper()
	f.mustApply(actor, protocol.AddItem{Target: f.target(), Content: content, Category: category})
	return f.state.Items[len(f.state.Items)-1].ID
}

func (f *fixture) snapshot() *model.Snapshot {
	return BuildSnapshot(f.state)
}

func assertCategory(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("エラーが返されるべき (want %s)", want)
	}
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("APIError であるべき: %v", err)
	}
	if apiErr.Category != want {
		t.Errorf("Category = %q (%s), want %q", apiErr.Category, apiErr.Code, want)
	}
}

func assertSingleHost(t *testing.T, s *model.Snapshot) {
	t.Helper()
	hosts := 0
	for _, p := range s.Participants {
		if p.IsHost {
			hosts++
		}
	}
	if len(s.Participants) > 0 && hosts != 1 {
		t.Errorf("ホスト数 = %d, want 1", hosts)
	}
}
