package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/huddle/internal/model"
	"github.com/hitoshi/huddle/internal/security"
)

// Limits は入力値の上限を保持する。
type Limits struct {
	MaxNameRunes        int // セッション名・表示名・カテゴリ名
	MaxContentRunes     int // アイテム本文
	MaxDescriptionRunes int // アイテム説明
	MaxCategories       int
	MaxTimerSeconds     int
	MaxImportItems      int
}

// DefaultLimits はデフォルトの入力上限を返す。
func DefaultLimits() Limits {
	return Limits{
		MaxNameRunes:        64,
		MaxContentRunes:     2000,
		MaxDescriptionRunes: 4000,
		MaxCategories:       20,
		MaxTimerSeconds:     3600,
		MaxImportItems:      200,
	}
}

// Decoder は受信フレームを型付きコマンドに変換する。
// スキーマ（必須項目・列挙値・文字数）を検証し、違反はセッション参照前にValidationErrorとして返す。
type Decoder struct {
	sanitizer security.TextSanitizer
	limits    Limits
}

// NewDecoder はDecoderを生成する。
func NewDecoder(sanitizer security.TextSanitizer, limits Limits) *Decoder {
	return &Decoder{sanitizer: sanitizer, limits: limits}
}

// flexString は文字列と数値のどちらでも受け付ける値。
// acceptEstimateのfinalValueは "8" と 8 の両方を許容する。
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("value must be a string or number")
	}
	*f = flexString(n.String())
	return nil
}

type createSessionPayload struct {
	Name         string   `json:"name"`
	Kind         string   `json:"kind"`
	HostName     string   `json:"hostName"`
	VotingSystem string   `json:"votingSystem"`
	Categories   []string `json:"categories"`
}

type joinPayload struct {
	Target
	Name string `json:"name"`
}

type addItemPayload struct {
	Target
	Content     string `json:"content"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type startVotingPayload struct {
	Target
	ItemID string `json:"itemId"`
}

type submitVotePayload struct {
	Target
	ItemID string     `json:"itemId"`
	Value  flexString `json:"value"`
}

type acceptEstimatePayload struct {
	Target
	ItemID     string     `json:"itemId"`
	FinalValue flexString `json:"finalValue"`
}

type categoryPayload struct {
	Target
	Name string `json:"name"`
}

type startTimerPayload struct {
	Target
	Seconds int `json:"seconds"`
}

// Decode はフレームを検証し、対応するコマンドを返す。
func (d *Decoder) Decode(frame Frame) (Command, error) {
	switch CommandType(frame.Type) {
	case CmdCreateSession:
		var p createSessionPayload
		if err := unmarshalStrict(frame.Payload, &p); err != nil {
			return nil, err
		}
		return d.createSession(p)

	case CmdJoin:
		var p joinPayload
		if err := unmarshalStrict(frame.Payload, &p); err != nil {
			return nil, err
		}
		target, err := d.target(p.Target, false)
		if err != nil {
			return nil, err
		}
		name, err := d.text("name", p.Name, d.limits.MaxNameRunes, true)
		if err != nil {
			return nil, err
		}
		return Join{Target: target, Name: name}, nil

	case CmdRejoin:
		var p Target
		if err := unmarshalStrict(frame.Payload, &p); err != nil {
			return nil, err
		}
		target, err := d.target(p, true)
		if err != nil {
			return nil, err
		}
		return Rejoin{Target: target}, nil

	case CmdAddItem:
		var p addItemPayload
		if err := unmarshalStrict(frame.Payload, &p); err != nil {
			return nil, err
		}
		target, err := d.target(p.Target, false)
		if err != nil {
			return nil, err
		}
		content, err := d.text("content", p.Content, d.limits.MaxContentRunes, true)
		if err != nil {
			return nil, err
		}
		desc, err := d.text("description", p.Description, d.limits.MaxDescriptionRunes, false)
		if err != nil {
			return nil, err
		}
		category, err := d.text("category", p.Category, d.limits.MaxNameRunes, false)
		if err != nil {
			return nil, err
		}
		return AddItem{Target: target, Content: content, Description: desc, Category: category}, nil

	case CmdStartVoting:
		var p startVotingPayload
		if err := unmarshalStrict(frame.Payload, &p); err != nil {
			return nil, err
		}
		target, err := d.target(p.Target, false)
		if err != nil {
			return nil, err
		}
		return StartVoting{Target: target, ItemID: strings.TrimSpace(p.ItemID)}, nil

	case CmdSubmitVote:
		var p submitVotePayload
		if err := unmarshalStrict(frame.Payload, &p); err != nil {
			return nil, err
		}
		target, err := d.target(p.Target, false)
		if err != nil {
			return nil, err
		}
		itemID, err := required("itemId", p.ItemID)
		if err != nil {
			return nil, err
		}
		return SubmitVote{Target: target, ItemID: itemID, Value: strings.TrimSpace(string(p.Value))}, nil

	case CmdRevealVotes:
		target, err := d.targetOnly(frame.Payload)
		if err != nil {
			return nil, err
		}
		return RevealVotes{Target: target}, nil

	case CmdAcceptEstimate:
		var p acceptEstimatePayload
		if err := unmarshalStrict(frame.Payload, &p); err != nil {
			return nil, err
		}
		target, err := d.target(p.Target, false)
		if err != nil {
			return nil, err
		}
		itemID, err := required("itemId", p.ItemID)
		if err != nil {
			return nil, err
		}
		value, err := required("finalValue", string(p.FinalValue))
		if err != nil {
			return nil, err
		}
		return AcceptEstimate{Target: target, ItemID: itemID, FinalValue: value}, nil

	case CmdFinishRound:
		target, err := d.targetOnly(frame.Payload)
		if err != nil {
			return nil, err
		}
		return FinishRound{Target: target}, nil

	case CmdAddCategory, CmdRemoveCategory:
		var p categoryPayload
		if err := unmarshalStrict(frame.Payload, &p); err != nil {
			return nil, err
		}
		target, err := d.target(p.Target, false)
		if err != nil {
			return nil, err
		}
		name, err := d.text("name", p.Name, d.limits.MaxNameRunes, true)
		if err != nil {
			return nil, err
		}
		if CommandType(frame.Type) == CmdAddCategory {
			return AddCategory{Target: target, Name: name}, nil
		}
		return RemoveCategory{Target: target, Name: name}, nil

	case CmdLeave:
		target, err := d.targetOnly(frame.Payload)
		if err != nil {
			return nil, err
		}
		return Leave{Target: target}, nil

	case CmdStartTimer:
		var p startTimerPayload
		if err := unmarshalStrict(frame.Payload, &p); err != nil {
			return nil, err
		}
		target, err := d.target(p.Target, false)
		if err != nil {
			return nil, err
		}
		if p.Seconds < 1 || p.Seconds > d.limits.MaxTimerSeconds {
			return nil, model.NewInvalidPayloadError(
				fmt.Sprintf("seconds must be between 1 and %d", d.limits.MaxTimerSeconds))
		}
		return StartTimer{Target: target, Seconds: p.Seconds}, nil

	default:
		return nil, model.NewUnknownCommandError(frame.Type)
	}
}

// DecodeImport は一括取り込みの入力を検証する。
// タイトルが空のアイテムはエラーとし、件数の上限を超える場合もエラーとする。
func (d *Decoder) DecodeImport(sessionID, participantID string, items []ImportedItem) (ImportItems, error) {
	target, err := d.target(Target{SessionID: sessionID, ParticipantID: participantID}, true)
	if err != nil {
		return ImportItems{}, err
	}
	if len(items) == 0 {
		return ImportItems{}, model.NewInvalidPayloadError("items is required")
	}
	if len(items) > d.limits.MaxImportItems {
		return ImportItems{}, model.NewInvalidPayloadError(
			fmt.Sprintf("items must not exceed %d entries", d.limits.MaxImportItems))
	}

	cleaned := make([]ImportedItem, 0, len(items))
	for i, it := range items {
		title, err := d.text(fmt.Sprintf("items[%d].title", i), it.Title, d.limits.MaxContentRunes, true)
		if err != nil {
			return ImportItems{}, err
		}
		desc, err := d.text(fmt.Sprintf("items[%d].description", i), it.Description, d.limits.MaxDescriptionRunes, false)
		if err != nil {
			return ImportItems{}, err
		}
		cleaned = append(cleaned, ImportedItem{
			Title:       title,
			Description: desc,
			Status:      strings.TrimSpace(it.Status),
		})
	}
	return ImportItems{Target: target, Items: cleaned}, nil
}

func (d *Decoder) createSession(p createSessionPayload) (Command, error) {
	name, err := d.text("name", p.Name, d.limits.MaxNameRunes, true)
	if err != nil {
		return nil, err
	}
	hostName, err := d.text("hostName", p.HostName, d.limits.MaxNameRunes, true)
	if err != nil {
		return nil, err
	}

	kind := model.SessionKind(strings.TrimSpace(p.Kind))
	if !kind.Valid() {
		return nil, model.NewInvalidPayloadError("kind must be estimation or retrospective")
	}

	cmd := CreateSession{Name: name, Kind: kind, HostName: hostName}

	switch kind {
	case model.KindEstimation:
		system := model.VotingSystem(strings.TrimSpace(p.VotingSystem))
		if system == "" {
			system = model.VotingFibonacci
		}
		if !system.Valid() {
			return nil, model.NewInvalidPayloadError("votingSystem must be fibonacci or tshirt")
		}
		cmd.VotingSystem = system
	case model.KindRetrospective:
		if len(p.Categories) > d.limits.MaxCategories {
			return nil, model.NewInvalidPayloadError(
				fmt.Sprintf("categories must not exceed %d entries", d.limits.MaxCategories))
		}
		seen := make(map[string]bool, len(p.Categories))
		for _, c := range p.Categories {
			category, err := d.text("categories", c, d.limits.MaxNameRunes, true)
			if err != nil {
				return nil, err
			}
			if seen[category] {
				return nil, model.NewDuplicateCategoryError(category)
			}
			seen[category] = true
			cmd.Categories = append(cmd.Categories, category)
		}
	}

	return cmd, nil
}

// target はセッションIDを必須として検証する。requireParticipantの場合は参加者IDも必須とする。
func (d *Decoder) target(t Target, requireParticipant bool) (Target, error) {
	sessionID, err := required("sessionId", t.SessionID)
	if err != nil {
		return Target{}, err
	}
	participantID := strings.TrimSpace(t.ParticipantID)
	if requireParticipant && participantID == "" {
		return Target{}, model.NewInvalidPayloadError("participantId is required")
	}
	return Target{SessionID: sessionID, ParticipantID: participantID}, nil
}

func (d *Decoder) targetOnly(payload json.RawMessage) (Target, error) {
	var t Target
	if err := unmarshalStrict(payload, &t); err != nil {
		return Target{}, err
	}
	return d.target(t, false)
}

// text はサニタイズ後の文字列を検証する。
func (d *Decoder) text(field, raw string, maxRunes int, mandatory bool) (string, error) {
	cleaned := d.sanitizer.Sanitize(raw)
	if mandatory && cleaned == "" {
		return "", model.NewInvalidPayloadError(field + " is required")
	}
	if utf8.RuneCountInString(cleaned) > maxRunes {
		return "", model.NewInvalidPayloadError(
			fmt.Sprintf("%s must be at most %d characters", field, maxRunes))
	}
	return cleaned, nil
}

func required(field, value string) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", model.NewInvalidPayloadError(field + " is required")
	}
	return v, nil
}

// unmarshalStrict は未定義のフィールドを拒否してペイロードを読み込む。
func unmarshalStrict(payload json.RawMessage, v any) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return model.NewInvalidPayloadError("payload is required")
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return model.NewInvalidPayloadError(err.Error())
	}
	return nil
}
