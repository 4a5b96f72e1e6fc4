package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// クライアントに返す原因カテゴリ（エラー種別）と対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: not_found, validation, state, unauthorized, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// エラー種別
const (
	CategoryNotFound     = "not_found"
	CategoryValidation   = "validation"
	CategoryState        = "state"
	CategoryUnauthorized = "unauthorized"
	CategorySystem       = "system"
)

// 定義済みエラーコード
const (
	ErrCodeSessionNotFound     = "SESSION_NOT_FOUND"
	ErrCodeParticipantNotFound = "PARTICIPANT_NOT_FOUND"
	ErrCodeItemNotFound        = "ITEM_NOT_FOUND"
	ErrCodeInvalidPayload      = "INVALID_PAYLOAD"
	ErrCodeUnknownCommand      = "UNKNOWN_COMMAND"
	ErrCodeKindMismatch        = "KIND_MISMATCH"
	ErrCodeInvalidVoteValue    = "INVALID_VOTE_VALUE"
	ErrCodeUnknownCategory     = "UNKNOWN_CATEGORY"
	ErrCodeDuplicateCategory   = "DUPLICATE_CATEGORY"
	ErrCodeLastCategory        = "LAST_CATEGORY"
	ErrCodeVoteBudgetExhausted = "VOTE_BUDGET_EXHAUSTED"
	ErrCodeInvalidPhase        = "INVALID_PHASE"
	ErrCodeItemFinalized       = "ITEM_FINALIZED"
	ErrCodeNotHost             = "NOT_HOST"
	ErrCodeNotInRoom           = "NOT_IN_ROOM"
	ErrCodeParticipantMismatch = "PARTICIPANT_MISMATCH"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// CategoryOf はエラーの種別を返す。
// APIError以外のエラーはsystemとして扱う。
func CategoryOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Category
	}
	return CategorySystem
}

// AsAPIError はエラーをAPIErrorに変換する。
// APIError以外のエラーは詳細を伏せた内部エラーに置き換える。
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return NewInternalError()
}

// NewSessionNotFoundError はセッション未検出エラーを生成する。
func NewSessionNotFoundError(sessionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotFound,
		Message:  fmt.Sprintf("指定されたセッションが見つかりません: %s", sessionID),
		Category: CategoryNotFound,
		Action:   "セッションIDを確認するか、新しいセッションを作成してください。",
	}
}

// NewParticipantNotFoundError は参加者未検出エラーを生成する。
func NewParticipantNotFoundError(participantID string) *APIError {
	return &APIError{
		Code:     ErrCodeParticipantNotFound,
		Message:  fmt.Sprintf("指定された参加者が見つかりません: %s", participantID),
		Category: CategoryNotFound,
		Action:   "セッションに参加し直してください。",
	}
}

// NewItemNotFoundError はアイテム未検出エラーを生成する。
func NewItemNotFoundError(itemID string) *APIError {
	return &APIError{
		Code:     ErrCodeItemNotFound,
		Message:  fmt.Sprintf("指定されたアイテムが見つかりません: %s", itemID),
		Category: CategoryNotFound,
		Action:   "アイテムIDを確認してください。",
	}
}

// NewInvalidPayloadError は入力値不正エラーを生成する。
func NewInvalidPayloadError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPayload,
		Message:  fmt.Sprintf("入力内容が不正です: %s", reason),
		Category: CategoryValidation,
		Action:   "入力内容を確認してから再度送信してください。",
	}
}

// NewUnknownCommandError は未定義コマンドエラーを生成する。
func NewUnknownCommandError(commandType string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownCommand,
		Message:  fmt.Sprintf("未対応のコマンドです: %s", commandType),
		Category: CategoryValidation,
		Action:   "クライアントを最新版に更新してください。",
	}
}

// NewKindMismatchError はセッション種別に対応しないコマンドのエラーを生成する。
func NewKindMismatchError(kind SessionKind, commandType string) *APIError {
	return &APIError{
		Code:     ErrCodeKindMismatch,
		Message:  fmt.Sprintf("%s セッションでは %s を実行できません。", kind, commandType),
		Category: CategoryValidation,
		Action:   "セッションの種別に対応した操作を選択してください。",
	}
}

// NewInvalidVoteValueError は値集合にない投票値のエラーを生成する。
func NewInvalidVoteValueError(value string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidVoteValue,
		Message:  fmt.Sprintf("選択できない値です: %s", value),
		Category: CategoryValidation,
		Action:   "カードに表示されている値から選択してください。",
	}
}

// NewUnknownCategoryError は存在しないカテゴリのエラーを生成する。
func NewUnknownCategoryError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownCategory,
		Message:  fmt.Sprintf("カテゴリが存在しません: %s", name),
		Category: CategoryValidation,
		Action:   "ボードに表示されているカテゴリを選択してください。",
	}
}

// NewDuplicateCategoryError は既に存在するカテゴリを追加しようとした場合のエラーを生成する。
func NewDuplicateCategoryError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateCategory,
		Message:  fmt.Sprintf("カテゴリは既に存在します: %s", name),
		Category: CategoryValidation,
		Action:   "別の名前を指定してください。",
	}
}

// NewLastCategoryError は最後のカテゴリを削除しようとした場合のエラーを生成する。
func NewLastCategoryError() *APIError {
	return &APIError{
		Code:     ErrCodeLastCategory,
		Message:  "cannot remove the last category",
		Category: CategoryValidation,
		Action:   "別のカテゴリを追加してから削除してください。",
	}
}

// NewVoteBudgetExhaustedError は残り投票数がない場合のエラーを生成する。
func NewVoteBudgetExhaustedError() *APIError {
	return &APIError{
		Code:     ErrCodeVoteBudgetExhausted,
		Message:  "このラウンドの投票数を使い切りました。",
		Category: CategoryValidation,
		Action:   "ホストが次のラウンドを開始するまでお待ちください。",
	}
}

// NewInvalidPhaseError は現在のフェーズで実行できないコマンドのエラーを生成する。
func NewInvalidPhaseError(commandType string, phase Phase) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPhase,
		Message:  fmt.Sprintf("現在のフェーズ（%s）では %s を実行できません。", phase, commandType),
		Category: CategoryState,
		Action:   "最新の画面を確認してから操作してください。",
	}
}

// NewItemFinalizedError は確定済みストーリーへの操作エラーを生成する。
func NewItemFinalizedError(itemID string) *APIError {
	return &APIError{
		Code:     ErrCodeItemFinalized,
		Message:  fmt.Sprintf("ストーリーは既に確定しています: %s", itemID),
		Category: CategoryState,
		Action:   "未見積もりのストーリーを選択してください。",
	}
}

// NewNotHostError はホスト専用コマンドを非ホストが実行した場合のエラーを生成する。
func NewNotHostError(commandType string) *APIError {
	return &APIError{
		Code:     ErrCodeNotHost,
		Message:  fmt.Sprintf("%s はホストのみ実行できます。", commandType),
		Category: CategoryUnauthorized,
		Action:   "ホストに操作を依頼してください。",
	}
}

// NewNotInRoomError は接続がセッションのルームに参加していない場合のエラーを生成する。
func NewNotInRoomError(sessionID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotInRoom,
		Message:  fmt.Sprintf("このセッションに参加していません: %s", sessionID),
		Category: CategoryUnauthorized,
		Action:   "join または rejoin でセッションに参加してください。",
	}
}

// NewParticipantMismatchError は接続に紐付く参加者と異なる参加者IDが指定された場合のエラーを生成する。
func NewParticipantMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeParticipantMismatch,
		Message:  "他の参加者として操作することはできません。",
		Category: CategoryUnauthorized,
		Action:   "ページを再読み込みしてください。",
	}
}

// NewRateLimitedError は送信頻度超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "送信頻度が上限を超えました。",
		Category: CategoryValidation,
		Action:   "しばらく待ってから再接続してください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: CategorySystem,
		Action:   "しばらく待ってから再度お試しください。",
	}
}
