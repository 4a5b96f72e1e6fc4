package coordinator

import (
	"github.com/hitoshi/huddle/internal/model"
	"github.com/hitoshi/huddle/internal/protocol"
	"github.com/hitoshi/huddle/internal/registry"
	"github.com/hitoshi/huddle/internal/session"
)

// dispatch はイベントを発生順に配信する。レーン内で呼び出す。
// ルーム全体へのsessionUpdatedにはrequestIdを付けない。
func (c *Coordinator) dispatch(sessionID string, conn registry.Conn, requestID string, res *session.Result, snap *model.Snapshot) {
	for _, evt := range res.Events {
		switch evt.Audience {
		case session.ToCaller:
			if conn == nil {
				continue
			}
			if res.ActorID != "" {
				c.rooms.Attach(conn, sessionID, res.ActorID)
			}
			frame, err := protocol.SessionFrame(evt.Type, requestID, snap, evt.ParticipantID)
			if err != nil {
				c.logger.Error("イベントの生成に失敗しました", "session_id", sessionID, "event", evt.Type, "error", err)
				continue
			}
			c.send(conn, frame)

		case session.ToRoom:
			frame, err := protocol.SessionFrame(evt.Type, "", snap, "")
			if err != nil {
				c.logger.Error("イベントの生成に失敗しました", "session_id", sessionID, "event", evt.Type, "error", err)
				continue
			}
			data, err := protocol.Encode(frame)
			if err != nil {
				c.logger.Error("イベントのエンコードに失敗しました", "session_id", sessionID, "error", err)
				continue
			}
			delivered, dropped := c.rooms.Broadcast(sessionID, data)
			c.metrics.RecordBroadcast(delivered, dropped)
			if dropped > 0 {
				c.logger.Warn("送信キューが溢れた接続を切断しました", "session_id", sessionID, "dropped", dropped)
			}

		case session.ToParticipant:
			frame, err := protocol.LeftFrame(requestID, sessionID)
			if err != nil {
				c.logger.Error("イベントの生成に失敗しました", "session_id", sessionID, "event", evt.Type, "error", err)
				continue
			}
			for _, pc := range c.rooms.DetachParticipant(sessionID, evt.ParticipantID) {
				c.send(pc, frame)
			}
		}
	}
}

func (c *Coordinator) send(conn registry.Conn, frame protocol.Frame) {
	data, err := protocol.Encode(frame)
	if err != nil {
		c.logger.Error("フレームのエンコードに失敗しました", "type", frame.Type, "error", err)
		return
	}
	if conn.Send(data) {
		c.metrics.RecordBroadcast(1, 0)
		return
	}
	c.metrics.RecordBroadcast(0, 1)
	c.rooms.Detach(conn.ID())
	conn.Close()
}

// sendError はエラーを送信元の接続にのみ通知する。
func (c *Coordinator) sendError(conn registry.Conn, requestID string, err error) {
	if conn == nil {
		return
	}
	c.send(conn, protocol.ErrorFrame(requestID, err))
}
