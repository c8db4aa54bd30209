package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/kernelletter/internal/letter"
	"github.com/hitoshi/kernelletter/internal/middleware"
	"github.com/hitoshi/kernelletter/internal/model"
)

// LetterServiceInterface は手紙ハンドラーが必要とするサービスインターフェース。
type LetterServiceInterface interface {
	// Send は手紙を送信する。
	Send(ctx context.Context, actorID int64, in letter.SendInput) (*letterResponse, error)
	// Patch は送信済みの手紙の本文を置き換える。
	Patch(ctx context.Context, actorID int64, receiver letter.ReceiverRef, in letter.PatchInput) error
	// Delete は手紙を削除する。送信者本人のみ削除できる。
	Delete(ctx context.Context, actorID, letterID int64) error
	// ListReceived は受信者宛ての手紙一覧を返す。
	ListReceived(ctx context.Context, receiver letter.ReceiverRef) ([]receivedLetterResponse, error)
	// GetOne は受信者本人に手紙1通の全情報を返す。
	GetOne(ctx context.Context, actorID, receiverID, letterID int64) (*letterDetailResponse, error)
	// ListSent は送信者本人に送信済みの手紙一覧を返す。
	ListSent(ctx context.Context, actorID, senderID int64) ([]sentLetterResponse, error)
}

// LetterHandler は手紙CRUDのHTTPハンドラー。
type LetterHandler struct {
	service LetterServiceInterface
}

// NewLetterHandler はLetterHandlerを生成する。
func NewLetterHandler(service LetterServiceInterface) *LetterHandler {
	return &LetterHandler{
		service: service,
	}
}

// sendLetterRequest は手紙送信リクエストのボディ。
// receiverIdが0の場合はreceiverNameで受信者を解決する。
type sendLetterRequest struct {
	SenderID     int64  `json:"senderId"`
	ReceiverID   int64  `json:"receiverId"`
	ReceiverName string `json:"receiverName"`
	Content      string `json:"content"`
	Position     *int   `json:"position"`
}

// patchLetterRequest は手紙編集リクエストのボディ。
type patchLetterRequest struct {
	SenderID int64  `json:"senderId"`
	Content  string `json:"content"`
}

// letterResponse は保存された手紙のAPIレスポンス。
type letterResponse struct {
	ID         int64     `json:"id"`
	SenderID   int64     `json:"senderId"`
	ReceiverID int64     `json:"receiverId"`
	Content    string    `json:"content"`
	Position   int       `json:"position"`
	CreatedAt  time.Time `json:"createdAt"`
}

// receivedLetterResponse は受信一覧の1件。
type receivedLetterResponse struct {
	ID         int64  `json:"id"`
	SenderName string `json:"senderName"`
	Content    string `json:"content"`
	Position   int    `json:"position"`
}

// letterDetailResponse は手紙1通の全情報。
type letterDetailResponse struct {
	ID         int64     `json:"id"`
	SenderID   int64     `json:"senderId"`
	SenderName string    `json:"senderName"`
	ReceiverID int64     `json:"receiverId"`
	Content    string    `json:"content"`
	Position   int       `json:"position"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// sentLetterResponse は送信済み一覧の1件。
type sentLetterResponse struct {
	ID           int64     `json:"id"`
	ReceiverID   int64     `json:"receiverId"`
	ReceiverName string    `json:"receiverName"`
	Content      string    `json:"content"`
	Position     int       `json:"position"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Send は手紙送信を処理する。
// POST /Letter
func (h *LetterHandler) Send(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req sendLetterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}
	if req.Position == nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("positionは必須です"))
		return
	}

	created, err := h.service.Send(r.Context(), actorID, letter.SendInput{
		SenderID: req.SenderID,
		Receiver: letter.ReceiverRef{ID: req.ReceiverID, Name: req.ReceiverName},
		Content:  req.Content,
		Position: *req.Position,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// Patch は送信済みの手紙の本文を編集する。
// PATCH /Letter/:id
func (h *LetterHandler) Patch(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req patchLetterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBody(w)
		return
	}

	receiver := letter.ParseReceiverRef(chi.URLParam(r, "id"))
	err := h.service.Patch(r.Context(), actorID, receiver, letter.PatchInput{
		SenderID: req.SenderID,
		Content:  req.Content,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeText(w, http.StatusOK, "修正が完了しました。")
}

// Delete は手紙を削除する。
// DELETE /Letter/:id
func (h *LetterHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	letterID, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), actorID, letterID); err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeText(w, http.StatusOK, "削除が完了しました。")
}

// ListReceived は受信者宛ての手紙一覧を返す。受信者はIDまたは名前で指定する。
// GET /Letter/:id/all
func (h *LetterHandler) ListReceived(w http.ResponseWriter, r *http.Request) {
	receiver := letter.ParseReceiverRef(chi.URLParam(r, "id"))

	letters, err := h.service.ListReceived(r.Context(), receiver)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, letters)
}

// GetOne は受信者本人に手紙1通を返す。
// GET /Letter/:id/:letterId
func (h *LetterHandler) GetOne(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	receiverID, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	letterID, ok := pathInt64(w, r, "letterId")
	if !ok {
		return
	}

	detail, err := h.service.GetOne(r.Context(), actorID, receiverID, letterID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

// ListSent は送信者本人に送信済みの手紙一覧を返す。
// GET /Letter/send/:id/all
func (h *LetterHandler) ListSent(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	senderID, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}

	letters, err := h.service.ListSent(r.Context(), actorID, senderID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, letters)
}

// SetupLetterRoutes は手紙関連のルーティングを設定したchi.Routerを返す。
// sendMiddleware が nil でない場合、POST /Letter に送信専用レート制限を適用する。
func SetupLetterRoutes(service LetterServiceInterface, sendMiddleware func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	h := NewLetterHandler(service)
	r.Route("/Letter", func(r chi.Router) {
		mountLetterRoutes(r, h, sendMiddleware)
	})
	return r
}

func mountLetterRoutes(r chi.Router, h *LetterHandler, sendMiddleware func(http.Handler) http.Handler) {
	if sendMiddleware != nil {
		r.With(sendMiddleware).Post("/", h.Send)
	} else {
		r.Post("/", h.Send)
	}

	r.Get("/send/{id}/all", h.ListSent)

	r.Route("/{id}", func(r chi.Router) {
		r.Patch("/", h.Patch)
		r.Delete("/", h.Delete)
		r.Get("/all", h.ListReceived)
		r.Get("/{letterId}", h.GetOne)
	})
}

// --- ヘルパー関数 ---

// requireUserID は認証済みユーザーIDを取り出す。取り出せない場合は401を書き込む。
func requireUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewInvalidSessionError())
		return 0, false
	}
	return userID, true
}

// pathInt64 はパスパラメータを正の整数として読み取る。不正な場合は400を書き込む。
func pathInt64(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || v <= 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(key+"が不正です"))
		return 0, false
	}
	return v, true
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeText はプレーンテキストのレスポンスを書き込む。
func writeText(w http.ResponseWriter, statusCode int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(statusCode)
	w.Write([]byte(msg))
}

// writeInvalidBody はリクエストボディの解析失敗を書き込む。
func writeInvalidBody(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     model.ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	})
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}
