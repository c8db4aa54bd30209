package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/kernelletter/internal/announcement"
	"github.com/hitoshi/kernelletter/internal/model"
)

// --- モック定義 ---

// mockAnnouncer はAnnouncerInterfaceのモック実装。
// 2回目以降の呼び出しはAlreadySentを返す。
type mockAnnouncer struct {
	mu    sync.Mutex
	calls int
	ctxOK bool
}

func (m *mockAnnouncer) SendAnnouncement(ctx context.Context) (*announcement.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.ctxOK = ctx.Err() == nil
	if m.calls > 1 {
		return nil, model.NewAlreadySentError()
	}
	return &announcement.Result{RunID: "run-1", Total: 3, Sent: 2, Failed: 1}, nil
}

// --- テストヘルパー ---

func hashAdminToken(t *testing.T, token string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash token: %v", err)
	}
	return string(hash)
}

// --- テスト ---

func TestMailHandler_Disabled_Returns404(t *testing.T) {
	announcer := &mockAnnouncer{}
	h := NewMailHandler(announcer, "")

	req := httptest.NewRequest(http.MethodPost, "/mail/event/send", nil)
	req.Header.Set(AdminTokenHeader, "anything")
	w := httptest.NewRecorder()

	h.SendEventMail(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if announcer.calls != 0 {
		t.Errorf("announcer calls = %d, want 0", announcer.calls)
	}
}

func TestMailHandler_InvalidToken_Returns403(t *testing.T) {
	hash := hashAdminToken(t, "correct-token")

	tests := []struct {
		name  string
		token string
	}{
		{name: "トークンなし", token: ""},
		{name: "不一致", token: "wrong-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			announcer := &mockAnnouncer{}
			h := NewMailHandler(announcer, hash)

			req := httptest.NewRequest(http.MethodPost, "/mail/event/send", nil)
			if tt.token != "" {
				req.Header.Set(AdminTokenHeader, tt.token)
			}
			w := httptest.NewRecorder()

			h.SendEventMail(w, req)

			if w.Code != http.StatusForbidden {
				t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
			}
			if announcer.calls != 0 {
				t.Errorf("announcer calls = %d, want 0", announcer.calls)
			}
		})
	}
}

func TestMailHandler_ValidToken_SendsOnce(t *testing.T) {
	announcer := &mockAnnouncer{}
	h := NewMailHandler(announcer, hashAdminToken(t, "correct-token"))

	// 1回目: 送信結果が返ること
	req := httptest.NewRequest(http.MethodPost, "/mail/event/send", nil)
	req.Header.Set(AdminTokenHeader, "correct-token")
	w := httptest.NewRecorder()

	h.SendEventMail(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp announcementResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.RunID != "run-1" || resp.Sent != 2 || resp.Failed != 1 {
		t.Errorf("response = %+v", resp)
	}

	// 2回目: ALREADY_SENTで400
	req2 := httptest.NewRequest(http.MethodPost, "/mail/event/send", nil)
	req2.Header.Set(AdminTokenHeader, "correct-token")
	w2 := httptest.NewRecorder()

	h.SendEventMail(w2, req2)

	if w2.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w2.Code, http.StatusBadRequest)
	}
	body := parseAPIErrorResponse(t, w2)
	if body["code"] != model.ErrCodeAlreadySent {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeAlreadySent)
	}
}

func TestMailHandler_CanceledRequest_StillSends(t *testing.T) {
	announcer := &mockAnnouncer{}
	h := NewMailHandler(announcer, hashAdminToken(t, "token"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodPost, "/mail/event/send", nil).WithContext(ctx)
	req.Header.Set(AdminTokenHeader, "token")
	w := httptest.NewRecorder()

	h.SendEventMail(w, req)

	// リクエストのキャンセルは送信処理に伝播しないこと
	if !announcer.ctxOK {
		t.Error("announcement context should not be canceled")
	}
}
