package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/huddle/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// WebSocketのerrorイベントと同じ種別（category）と対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteError はエラーの種別に対応するHTTPステータスでレスポンスを書き込む。
// APIError以外のエラーはログに記録し、内部エラーとして返す。
func WriteError(w http.ResponseWriter, err error) {
	apiErr := model.AsAPIError(err)
	if apiErr.Code == model.ErrCodeInternal {
		slog.Error("internal server error", slog.String("error", err.Error()))
	}
	WriteErrorResponse(w, StatusForCategory(apiErr.Category), apiErr)
}

// StatusForCategory はエラー種別をHTTPステータスコードに対応付ける。
func StatusForCategory(category string) int {
	switch category {
	case model.CategoryNotFound:
		return http.StatusNotFound
	case model.CategoryValidation:
		return http.StatusBadRequest
	case model.CategoryState:
		return http.StatusConflict
	case model.CategoryUnauthorized:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
