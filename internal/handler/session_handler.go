package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/huddle/internal/export"
	"github.com/hitoshi/huddle/internal/middleware"
	"github.com/hitoshi/huddle/internal/model"
	"github.com/hitoshi/huddle/internal/protocol"
)

// maxImportBodyBytes は一括取り込みリクエストボディの上限。
const maxImportBodyBytes = 1 << 20

// SessionServiceInterface はセッションハンドラーが必要とするコーディネーターの操作。
type SessionServiceInterface interface {
	// Snapshot はセッションの現在のスナップショットを返す。
	Snapshot(ctx context.Context, sessionID string) (*model.Snapshot, error)

	// ImportItems はアイテムを一括追加し、変更後のスナップショットを返す。
	ImportItems(ctx context.Context, cmd protocol.ImportItems) (*model.Snapshot, error)
}

// ImportDecoder は一括取り込みの入力を検証し、コマンドに変換する。
type ImportDecoder interface {
	DecodeImport(sessionID, participantID string, items []protocol.ImportedItem) (protocol.ImportItems, error)
}

// SessionHandler はセッションのエクスポートと一括取り込みのHTTPハンドラー。
type SessionHandler struct {
	service SessionServiceInterface
	decoder ImportDecoder
	now     func() time.Time
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(service SessionServiceInterface, decoder ImportDecoder) *SessionHandler {
	return &SessionHandler{
		service: service,
		decoder: decoder,
		now:     time.Now,
	}
}

// importRequest は一括取り込みAPIのリクエストボディ。
type importRequest struct {
	ParticipantID string                  `json:"participantId"`
	Items         []protocol.ImportedItem `json:"items"`
}

// Export はセッションをCSVとしてダウンロードさせる。
// GET /api/sessions/:sessionId/export
func (h *SessionHandler) Export(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	snap, err := h.service.Snapshot(r.Context(), sessionID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	// 書き込み途中で失敗した場合にエラーレスポンスを返せるよう、一度バッファに書き出す
	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, snap); err != nil {
		middleware.WriteError(w, fmt.Errorf("write csv: %w", err))
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s"`, export.Filename(snap, h.now())))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// ImportItems は課題管理ツールから受け取ったアイテムを一括追加する。
// POST /api/sessions/:sessionId/items/import
func (h *SessionHandler) ImportItems(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	var req importRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxImportBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		middleware.WriteError(w, model.NewInvalidPayloadError("request body must be a valid JSON object"))
		return
	}

	cmd, err := h.decoder.DecodeImport(sessionID, req.ParticipantID, req.Items)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	snap, err := h.service.ImportItems(r.Context(), cmd)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}
