package protocol

import (
	"encoding/json"

	"github.com/hitoshi/huddle/internal/model"
)

// EventType はクライアントへ送信するイベントの種別。
type EventType string

const (
	EvtSessionCreated EventType = "sessionCreated"
	EvtSessionJoined  EventType = "sessionJoined"
	EvtSessionUpdated EventType = "sessionUpdated"
	EvtSessionLeft    EventType = "sessionLeft"
	EvtError          EventType = "error"
)

// SessionPayload はスナップショットを運ぶイベントのペイロード。
// Participantは受信者自身の参加者情報で、sessionCreated / sessionJoined のみに含まれる。
type SessionPayload struct {
	Session     *model.Snapshot        `json:"session"`
	Participant *model.ParticipantView `json:"participant,omitempty"`
}

// LeftPayload はsessionLeftのペイロード。
type LeftPayload struct {
	SessionID string `json:"sessionId"`
}

// ErrorPayload はerrorイベントのペイロード。
type ErrorPayload struct {
	Code    string `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
}

// SessionFrame はスナップショットを含むイベントフレームを生成する。
func SessionFrame(t EventType, requestID string, snap *model.Snapshot, participantID string) (Frame, error) {
	payload := SessionPayload{Session: snap}
	if participantID != "" {
		payload.Participant = snap.Participant(participantID)
	}
	return newFrame(t, requestID, payload)
}

// LeftFrame はsessionLeftフレームを生成する。
func LeftFrame(requestID, sessionID string) (Frame, error) {
	return newFrame(EvtSessionLeft, requestID, LeftPayload{SessionID: sessionID})
}

// ErrorFrame はエラーを送信元向けのerrorフレームに変換する。
// APIError以外のエラーは内部エラーとして詳細を伏せる。
func ErrorFrame(requestID string, err error) Frame {
	apiErr := model.AsAPIError(err)
	frame, marshalErr := newFrame(EvtError, requestID, ErrorPayload{
		Code:    apiErr.Code,
		Kind:    apiErr.Category,
		Message: apiErr.Message,
		Action:  apiErr.Action,
	})
	if marshalErr != nil {
		// 固定文字列のみのためここには到達しない
		return Frame{Type: string(EvtError), RequestID: requestID}
	}
	return frame
}

func newFrame(t EventType, requestID string, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: string(t), RequestID: requestID, Payload: data}, nil
}
