package coordinator

import (
	"context"
	"fmt"
	"reflect"

	"github.com/hitoshi/huddle/internal/model"
	"github.com/hitoshi/huddle/internal/repository"
	"github.com/hitoshi/huddle/internal/session"
)

// load はストアからセッション1件分の状態を読み込む。存在しない場合はnil, nilを返す。
func (c *Coordinator) load(ctx context.Context, sessionID string) (*session.State, error) {
	repos := c.store.Repos()

	sess, err := repos.Sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}
	participants, err := repos.Participants.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	items, err := repos.Items.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	state := &session.State{Session: sess, Participants: participants, Items: items}
	state.Normalize()
	return state, nil
}

// persist はbeforeからres.Stateへの差分を1トランザクションで書き込む。
// ホストの一意制約を満たすため、削除を保存より先に行う。
func (c *Coordinator) persist(ctx context.Context, sessionID string, before *session.State, res *session.Result) error {
	return c.store.WithinTx(ctx, func(r repository.Repositories) error {
		if res.Destroyed {
			return r.Sessions.DeleteByID(ctx, sessionID)
		}

		after := res.State
		if before == nil || !reflect.DeepEqual(before.Session, after.Session) {
			if err := r.Sessions.Save(ctx, after.Session); err != nil {
				return err
			}
		}

		var prevParticipants []*model.Participant
		var prevItems []*model.Item
		if before != nil {
			prevParticipants = before.Participants
			prevItems = before.Items
		}

		participantDiff := diff(prevParticipants, after.Participants, func(p *model.Participant) string { return p.ID })
		itemDiff := diff(prevItems, after.Items, func(it *model.Item) string { return it.ID })

		for _, id := range participantDiff.deleted {
			if err := r.Participants.DeleteByID(ctx, id); err != nil {
				return err
			}
		}
		for _, id := range itemDiff.deleted {
			if err := r.Items.DeleteByID(ctx, id); err != nil {
				return err
			}
		}
		for _, p := range participantDiff.saved {
			if err := r.Participants.Save(ctx, p); err != nil {
				return fmt.Errorf("participant %s: %w", p.ID, err)
			}
		}
		for _, it := range itemDiff.saved {
			if err := r.Items.Save(ctx, it); err != nil {
				return fmt.Errorf("item %s: %w", it.ID, err)
			}
		}
		return nil
	})
}

type changes[T any] struct {
	saved   []T
	deleted []string
}

// diff はprevからnextへの変更を求める。
// savedはnextの並び順、deletedはprevの並び順で返す。
func diff[T any](prev, next []T, id func(T) string) changes[T] {
	prevByID := make(map[string]T, len(prev))
	for _, v := range prev {
		prevByID[id(v)] = v
	}

	var out changes[T]
	seen := make(map[string]struct{}, len(next))
	for _, v := range next {
		key := id(v)
		seen[key] = struct{}{}
		if old, ok := prevByID[key]; ok && reflect.DeepEqual(old, v) {
			continue
		}
		out.saved = append(out.saved, v)
	}
	for _, v := range prev {
		if _, ok := seen[id(v)]; !ok {
			out.deleted = append(out.deleted, id(v))
		}
	}
	return out
}
