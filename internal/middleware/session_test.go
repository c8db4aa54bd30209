package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/kernelletter/internal/model"
)

// --- モック定義 ---

type mockSessionRepository struct {
	findByIDFn func(ctx context.Context, id string) (*model.Session, error)
}

func (m *mockSessionRepository) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

// --- ヘルパー ---

func authSession(userID int64) *model.Session {
	return &model.Session{
		ID:        "auth-session",
		State:     model.Authenticated{User: model.SessionUser{ID: userID, Name: "user"}},
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func pendingSession() *model.Session {
	return &model.Session{
		ID:        "pending-session",
		State:     model.PendingInfo{ExternalID: "kakao-1", UserID: 1},
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func withSession(req *http.Request, s *model.Session) *http.Request {
	return req.WithContext(ContextWithSession(req.Context(), s))
}

// --- テスト ---

func TestSessionLoader_ValidSession_InjectsSession(t *testing.T) {
	repo := &mockSessionRepository{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			if id == "valid-session-id" {
				s := authSession(123)
				s.ID = id
				return s, nil
			}
			return nil, nil
		},
	}

	mw := NewSessionLoader(repo)

	var capturedUserID int64
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := UserIDFromContext(r.Context())
		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		capturedUserID = userID
		if s := SessionFromContext(r.Context()); s == nil || s.ID != "valid-session-id" {
			t.Errorf("unexpected session in context: %+v", s)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-session-id"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if capturedUserID != 123 {
		t.Errorf("userID = %d, want 123", capturedUserID)
	}
}

func TestSessionLoader_AnonymousRequestsPassThrough(t *testing.T) {
	tests := []struct {
		name   string
		cookie *http.Cookie
		findFn func(ctx context.Context, id string) (*model.Session, error)
	}{
		{"Cookieなし", nil, nil},
		{"空のCookie", &http.Cookie{Name: SessionCookieName, Value: ""}, nil},
		{"期限切れ・存在しないセッション", &http.Cookie{Name: SessionCookieName, Value: "gone"}, func(ctx context.Context, id string) (*model.Session, error) {
			return nil, nil
		}},
		{"DBエラー", &http.Cookie{Name: SessionCookieName, Value: "x"}, func(ctx context.Context, id string) (*model.Session, error) {
			return nil, errors.New("db error")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := NewSessionLoader(&mockSessionRepository{findByIDFn: tt.findFn})

			called := false
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				if SessionFromContext(r.Context()) != nil {
					t.Error("session should not be in context")
				}
				if _, err := UserIDFromContext(r.Context()); err == nil {
					t.Error("UserIDFromContext should fail for anonymous request")
				}
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if !called {
				t.Error("handler should be called")
			}
		})
	}
}

func TestPendingGate(t *testing.T) {
	gate := NewPendingGate("/auth/kakao/callback", "/auth/kakao/login", "/api/user/register", "/api/user/logout")

	tests := []struct {
		name       string
		session    *model.Session
		path       string
		wantStatus int
	}{
		{"匿名は通過", nil, "/Letter/1/all", http.StatusOK},
		{"認証済みは通過", authSession(1), "/Letter/1/all", http.StatusOK},
		{"PENDINGで登録は許可", pendingSession(), "/api/user/register", http.StatusOK},
		{"PENDINGでログアウトは許可", pendingSession(), "/api/user/logout", http.StatusOK},
		{"PENDINGでコールバックは許可", pendingSession(), "/auth/kakao/callback", http.StatusOK},
		{"PENDINGで手紙APIは拒否", pendingSession(), "/Letter/1/all", http.StatusForbidden},
		{"PENDINGでmeは拒否", pendingSession(), "/api/user/me", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := gate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.session != nil {
				req = withSession(req, tt.session)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusForbidden {
				var body ErrorResponseBody
				if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
					t.Fatalf("failed to decode body: %v", err)
				}
				if body.Code != model.ErrCodeRegistrationRequired {
					t.Errorf("code = %q, want %q", body.Code, model.ErrCodeRegistrationRequired)
				}
			}
		})
	}
}

func TestRequireAuthenticated(t *testing.T) {
	handler := RequireAuthenticated(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		session    *model.Session
		wantStatus int
	}{
		{"認証済み", authSession(5), http.StatusOK},
		{"PENDING", pendingSession(), http.StatusUnauthorized},
		{"匿名", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/user/me", nil)
			if tt.session != nil {
				req = withSession(req, tt.session)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusUnauthorized {
				var body ErrorResponseBody
				json.NewDecoder(w.Body).Decode(&body)
				if body.Code != model.ErrCodeInvalidSession {
					t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidSession)
				}
			}
		})
	}
}

func TestContextWithSession_RoundTrip(t *testing.T) {
	ctx := ContextWithSession(context.Background(), authSession(42))

	userID, err := UserIDFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if userID != 42 {
		t.Errorf("userID = %d, want 42", userID)
	}

	if SessionFromContext(context.Background()) != nil {
		t.Error("empty context should have no session")
	}
}
