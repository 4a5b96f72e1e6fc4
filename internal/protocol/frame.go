// Package protocol はクライアントとコーディネータ間でやり取りするコマンドとイベントを定義する。
//
// WebSocketのテキストフレーム1つにつき1つのJSONエンベロープを送受信する。
//
//	{"type": "submitVote", "requestId": "r-1", "payload": {...}}
package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/hitoshi/huddle/internal/model"
)

// Frame は送受信共通のエンベロープ。
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ParseFrame は受信したテキストフレームをエンベロープとして解釈する。
func ParseFrame(raw []byte) (Frame, error) {
	var frame Frame
	if len(bytes.TrimSpace(raw)) == 0 {
		return frame, model.NewInvalidPayloadError("empty frame")
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		return frame, model.NewInvalidPayloadError("frame is not a JSON object")
	}
	if frame.Type == "" {
		return frame, model.NewInvalidPayloadError("type is required")
	}
	return frame, nil
}

// Encode はエンベロープをテキストフレーム用のバイト列にする。
func Encode(frame Frame) ([]byte, error) {
	return json.Marshal(frame)
}
