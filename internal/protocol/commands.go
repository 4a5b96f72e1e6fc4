package protocol

import "github.com/hitoshi/huddle/internal/model"

// CommandType はクライアントから受け付けるコマンドの種別。
type CommandType string

const (
	CmdCreateSession  CommandType = "createSession"
	CmdJoin           CommandType = "join"
	CmdRejoin         CommandType = "rejoin"
	CmdAddItem        CommandType = "addItem"
	CmdStartVoting    CommandType = "startVoting"
	CmdSubmitVote     CommandType = "submitVote"
	CmdRevealVotes    CommandType = "revealVotes"
	CmdAcceptEstimate CommandType = "acceptEstimate"
	CmdFinishRound    CommandType = "finishRound"
	CmdAddCategory    CommandType = "addCategory"
	CmdRemoveCategory CommandType = "removeCategory"
	CmdLeave          CommandType = "leave"
	CmdStartTimer     CommandType = "startTimer"

	// CmdImportItems は課題管理ツールからの一括取り込み。WebSocketからは受け付けない。
	CmdImportItems CommandType = "importItems"
)

// Target はコマンドの対象セッションと、クライアントが申告した参加者ID。
// 参加者IDは省略でき、指定された場合は接続に紐付く参加者と一致する必要がある。
type Target struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId,omitempty"`
}

// Command は検証済みのコマンド。
type Command interface {
	Type() CommandType
	Session() Target
}

func (t Target) Session() Target { return t }

// CreateSession は新しいセッションを作成し、送信者をホストとして参加させる。
type CreateSession struct {
	Name         string
	Kind         model.SessionKind
	HostName     string
	VotingSystem model.VotingSystem // 見積もりのみ
	Categories   []string           // ふりかえりのみ。空の場合は設定値を使用する
}

func (CreateSession) Type() CommandType { return CmdCreateSession }
func (CreateSession) Session() Target   { return Target{} }

type Join struct {
	Target
	Name string
}

func (Join) Type() CommandType { return CmdJoin }

type Rejoin struct {
	Target
}

func (Rejoin) Type() CommandType { return CmdRejoin }

type AddItem struct {
	Target
	Content     string
	Description string
	Category    string
}

func (AddItem) Type() CommandType { return CmdAddItem }

// StartVoting は投票を開始する。見積もりではItemIDが対象ストーリーになる。
type StartVoting struct {
	Target
	ItemID string
}

func (StartVoting) Type() CommandType { return CmdStartVoting }

// SubmitVote は投票する。ふりかえりではValueを使用しない。
type SubmitVote struct {
	Target
	ItemID string
	Value  string
}

func (SubmitVote) Type() CommandType { return CmdSubmitVote }

type RevealVotes struct {
	Target
}

func (RevealVotes) Type() CommandType { return CmdRevealVotes }

type AcceptEstimate struct {
	Target
	ItemID     string
	FinalValue string
}

func (AcceptEstimate) Type() CommandType { return CmdAcceptEstimate }

type FinishRound struct {
	Target
}

func (FinishRound) Type() CommandType { return CmdFinishRound }

type AddCategory struct {
	Target
	Name string
}

func (AddCategory) Type() CommandType { return CmdAddCategory }

type RemoveCategory struct {
	Target
	Name string
}

func (RemoveCategory) Type() CommandType { return CmdRemoveCategory }

type Leave struct {
	Target
}

func (Leave) Type() CommandType { return CmdLeave }

// StartTimer はラウンドタイマーを開始する。クライアントは終了時刻までローカルでカウントダウンする。
type StartTimer struct {
	Target
	Seconds int
}

func (StartTimer) Type() CommandType { return CmdStartTimer }

// ImportedItem は課題管理ツールから取り込むアイテム。
type ImportedItem struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// ImportItems は見積もりセッションへストーリーを一括追加する。
type ImportItems struct {
	Target
	Items []ImportedItem
}

func (ImportItems) Type() CommandType { return CmdImportItems }
