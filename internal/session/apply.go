package session

import (
	"time"

	"github.com/hitoshi/huddle/internal/model"
	"github.com/hitoshi/huddle/internal/protocol"
)

// Create はcreateSessionを処理し、ホストを1人含む新しいセッションの状態を返す。
func Create(cmd protocol.CreateSession, env Env) (*Result, error) {
	if cmd.Name == "" || cmd.HostName == "" {
		return nil, model.NewInvalidPayloadError("name and hostName are required")
	}
	if !cmd.Kind.Valid() {
		return nil, model.NewInvalidPayloadError("kind must be estimation or retrospective")
	}

	now := env.Now()
	sess := &model.Session{
		ID:        env.NewID(),
		Name:      cmd.Name,
		Kind:      cmd.Kind,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	switch cmd.Kind {
	case model.KindEstimation:
		sess.Phase = model.PhaseIdle
		sess.VotingSystem = cmd.VotingSystem
		if !sess.VotingSystem.Valid() {
			sess.VotingSystem = model.VotingFibonacci
		}
	case model.KindRetrospective:
		sess.Phase = model.PhaseCollecting
		sess.VotesPerRound = env.Defaults.VotesPerRound
		sess.Categories = uniqueCategories(cmd.Categories)
		if len(sess.Categories) == 0 {
			sess.Categories = uniqueCategories(env.Defaults.Categories)
		}
		if len(sess.Categories) == 0 {
			return nil, model.NewInvalidPayloadError("at least one category is required")
		}
	}

	state := &State{Session: sess}
	host := state.newParticipant(cmd.HostName, env, now)
	host.IsHost = true

	return &Result{
		State:   state,
		Events:  []Event{{Type: protocol.EvtSessionCreated, Audience: ToCaller, ParticipantID: host.ID}},
		ActorID: host.ID,
		Mutated: true,
	}, nil
}

// uniqueCategories は空の名前と重複を除いたコピーを返す。順序は最初の出現順。
func uniqueCategories(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, name := range in {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// Apply はセッションを対象とするコマンドを処理する。
// actorIDは送信元の接続に紐付く参加者ID（join / rejoinでは空）。
// 入力のstateは変更しない。
func Apply(state *State, actorID string, cmd protocol.Command, env Env) (*Result, error) {
	if state == nil || state.Session == nil {
		return nil, model.NewSessionNotFoundError(cmd.Session().SessionID)
	}

	next := state.Clone()
	a := &applier{state: next, env: env, now: env.Now(), cmd: cmd}

	// join / rejoin 以外は接続に紐付く参加者が存在している必要がある
	switch cmd.(type) {
	case protocol.Join, protocol.Rejoin:
	default:
		a.actor = next.Participant(actorID)
		if a.actor == nil {
			return nil, model.NewParticipantNotFoundError(actorID)
		}
	}

	var err error
	switch c := cmd.(type) {
	case protocol.Join:
		err = a.join(c)
	case protocol.Rejoin:
		return a.rejoin(c)
	case protocol.AddItem:
		err = a.addItem(c)
	case protocol.StartVoting:
		err = a.startVoting(c)
	case protocol.SubmitVote:
		err = a.submitVote(c)
	case protocol.RevealVotes:
		err = a.revealVotes()
	case protocol.AcceptEstimate:
		err = a.acceptEstimate(c)
	case protocol.FinishRound:
		err = a.finishRound()
	case protocol.AddCategory:
		err = a.addCategory(c)
	case protocol.RemoveCategory:
		err = a.removeCategory(c)
	case protocol.StartTimer:
		err = a.startTimer(c)
	case protocol.ImportItems:
		err = a.importItems(c)
	case protocol.Leave:
		return a.leave()
	default:
		return nil, model.NewUnknownCommandError(string(cmd.Type()))
	}
	if err != nil {
		return nil, err
	}

	a.touch()
	a.result.State = next
	a.result.Mutated = true
	a.result.Events = append(a.result.Events, Event{Type: protocol.EvtSessionUpdated, Audience: ToRoom})
	return &a.result, nil
}

// applier は1コマンド分の処理中の状態を保持する。
type applier struct {
	state  *State
	env    Env
	now    time.Time
	cmd    protocol.Command
	actor  *model.Participant
	result Result
}

func (a *applier) session() *model.Session { return a.state.Session }

// touch は変更をバージョンに反映する。
func (a *applier) touch() {
	a.session().Version++
	a.session().UpdatedAt = a.now
}

func (a *applier) requireHost() error {
	if a.actor == nil || !a.actor.IsHost {
		return model.NewNotHostError(string(a.cmd.Type()))
	}
	return nil
}

func (a *applier) requireKind(kind model.SessionKind) error {
	if a.session().Kind != kind {
		return model.NewKindMismatchError(a.session().Kind, string(a.cmd.Type()))
	}
	return nil
}

func (a *applier) phaseError() error {
	return model.NewInvalidPhaseError(string(a.cmd.Type()), a.session().Phase)
}

func (s *State) newParticipant(name string, env Env, now time.Time) *model.Participant {
	p := &model.Participant{
		ID:          env.NewID(),
		SessionID:   s.Session.ID,
		DisplayName: name,
		Seq:         s.nextSeq(),
		JoinedAt:    now,
	}
	if s.Session.Kind == model.KindRetrospective {
		p.VotingBudget = s.Session.VotesPerRound
	}
	s.Participants = append(s.Participants, p)
	return p
}

func (a *applier) join(c protocol.Join) error {
	p := a.state.newParticipant(c.Name, a.env, a.now)
	a.result.ActorID = p.ID
	a.result.Events = append(a.result.Events, Event{Type: protocol.EvtSessionJoined, Audience: ToCaller, ParticipantID: p.ID})
	return nil
}

// rejoin は接続を再び紐付けるのみで状態を変更しない。
func (a *applier) rejoin(c protocol.Rejoin) (*Result, error) {
	if a.state.Participant(c.ParticipantID) == nil {
		return nil, model.NewParticipantNotFoundError(c.ParticipantID)
	}
	return &Result{
		State:   a.state,
		Events:  []Event{{Type: protocol.EvtSessionJoined, Audience: ToCaller, ParticipantID: c.ParticipantID}},
		ActorID: c.ParticipantID,
	}, nil
}

func (a *applier) addItem(c protocol.AddItem) error {
	it := &model.Item{
		ID:          a.env.NewID(),
		SessionID:   a.session().ID,
		Title:       c.Content,
		Description: c.Description,
		AuthorID:    a.actor.ID,
		CreatedAt:   a.now,
	}

	switch a.session().Kind {
	case model.KindEstimation:
		it.Status = model.ItemNotStarted
	case model.KindRetrospective:
		if c.Category == "" {
			return model.NewInvalidPayloadError("category is required")
		}
		if !a.session().HasCategory(c.Category) {
			return model.NewUnknownCategoryError(c.Category)
		}
		it.Category = c.Category
		it.Status = model.ItemOpen
	}

	it.Seq = a.state.nextSeq()
	a.state.Items = append(a.state.Items, it)
	return nil
}

func (a *applier) startTimer(c protocol.StartTimer) error {
	ends := a.now.Add(time.Duration(c.Seconds) * time.Second)
	a.session().TimerEndsAt = &ends
	return nil
}

// leave は送信元の参加者を削除する。
// ホストが退出した場合は残りの参加者のうち最も早く参加した人へホストを移譲し、
// 参加者がいなくなった場合はセッションごと削除する。
func (a *applier) leave() (*Result, error) {
	leaving := a.actor
	remaining := make([]*model.Participant, 0, len(a.state.Participants))
	for _, p := range a.state.Participants {
		if p.ID != leaving.ID {
			remaining = append(remaining, p)
		}
	}
	a.state.Participants = remaining

	leftEvent := Event{Type: protocol.EvtSessionLeft, Audience: ToParticipant, ParticipantID: leaving.ID}

	if len(remaining) == 0 {
		return &Result{
			Events:    []Event{leftEvent},
			Mutated:   true,
			Destroyed: true,
		}, nil
	}

	if leaving.IsHost {
		earliest(remaining).IsHost = true
	}

	a.touch()
	return &Result{
		State:   a.state,
		Events:  []Event{leftEvent, {Type: protocol.EvtSessionUpdated, Audience: ToRoom}},
		Mutated: true,
	}, nil
}

// earliest はSeqが最小（最も早く参加した）参加者を返す。
func earliest(ps []*model.Participant) *model.Participant {
	first := ps[0]
	for _, p := range ps[1:] {
		if p.Seq < first.Seq {
			first = p
		}
	}
	return first
}
