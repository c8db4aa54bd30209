package handler

import (
	"context"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/kernelletter/internal/announcement"
	"github.com/hitoshi/kernelletter/internal/middleware"
	"github.com/hitoshi/kernelletter/internal/model"
)

// AdminTokenHeader は管理者トークンを渡すリクエストヘッダー名。
const AdminTokenHeader = "X-Admin-Token"

// AnnouncerInterface はお知らせメールの一斉送信を行うサービスインターフェース。
type AnnouncerInterface interface {
	SendAnnouncement(ctx context.Context) (*announcement.Result, error)
}

// MailHandler はお知らせメールの手動送信HTTPハンドラー。
type MailHandler struct {
	announcer AnnouncerInterface
	tokenHash []byte
}

// NewMailHandler はMailHandlerを生成する。
// adminTokenHashはbcryptハッシュ。空の場合はエンドポイント自体を無効化する。
func NewMailHandler(announcer AnnouncerInterface, adminTokenHash string) *MailHandler {
	return &MailHandler{
		announcer: announcer,
		tokenHash: []byte(adminTokenHash),
	}
}

// announcementResponse は一斉送信結果のAPIレスポンス。
type announcementResponse struct {
	RunID   string `json:"runId"`
	Total   int    `json:"total"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
	Skipped int    `json:"skipped"`
}

// SendEventMail はお知らせメールの一斉送信を手動で開始する。
// POST /mail/event/send
func (h *MailHandler) SendEventMail(w http.ResponseWriter, r *http.Request) {
	if len(h.tokenHash) == 0 {
		http.NotFound(w, r)
		return
	}

	token := r.Header.Get(AdminTokenHeader)
	if token == "" || bcrypt.CompareHashAndPassword(h.tokenHash, []byte(token)) != nil {
		slog.Warn("admin token rejected",
			slog.String("path", r.URL.Path),
		)
		writeAPIErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
		return
	}

	// クライアントが切断しても送信は最後まで続ける
	result, err := h.announcer.SendAnnouncement(context.WithoutCancel(r.Context()))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, announcementResponse{
		RunID:   result.RunID,
		Total:   result.Total,
		Sent:    result.Sent,
		Failed:  result.Failed,
		Skipped: result.Skipped,
	})
}
