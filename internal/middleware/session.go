// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/kernelletter/internal/model"
)

// SessionCookieName はセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// sessionContextKey はリクエストコンテキストにセッションを格納するためのキー。
var sessionContextKey = contextKey("session")

// errNotAuthenticated はコンテキストに認証済みセッションがない場合のエラー。
var errNotAuthenticated = errors.New("authenticated session not found in context")

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// NewSessionLoader はHTTP Only Cookieからセッションを読み取り、
// 有効なセッションをリクエストコンテキストに注入するミドルウェアを返す。
// セッションがない場合や期限切れの場合は匿名のまま次に渡す。
func NewSessionLoader(sessionFinder SessionFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			session, err := sessionFinder.FindByID(r.Context(), cookie.Value)
			if err != nil {
				slog.Error("failed to find session",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if session == nil {
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), session)))
		})
	}
}

// NewPendingGate は追加情報の登録が済んでいないセッションのアクセスを制限する。
// セッションがPENDING_INFOの場合、allowedPathsに含まれないパスには403を返す。
// ルーティングとは独立に、パスの完全一致で判定する。
func NewPendingGate(allowedPaths ...string) func(next http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedPaths))
	for _, p := range allowedPaths {
		allowed[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := SessionFromContext(r.Context())
			if session != nil {
				if _, pending := session.State.(model.PendingInfo); pending {
					if _, ok := allowed[r.URL.Path]; !ok {
						WriteErrorResponse(w, http.StatusForbidden, model.NewRegistrationRequiredError())
						return
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuthenticated は認証済みセッションがないリクエストに401を返すミドルウェア。
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := UserIDFromContext(r.Context()); err != nil {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidSessionError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SessionFromContext はリクエストコンテキストからセッションを取得する。
// セッションがない場合はnilを返す。
func SessionFromContext(ctx context.Context) *model.Session {
	session, _ := ctx.Value(sessionContextKey).(*model.Session)
	return session
}

// ContextWithSession はコンテキストにセッションを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, session *model.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, session)
}

// UserIDFromContext は認証済みセッションのユーザーIDを取得する。
// PENDING_INFOや匿名のリクエストではエラーを返す。
func UserIDFromContext(ctx context.Context) (int64, error) {
	session := SessionFromContext(ctx)
	if session == nil {
		return 0, errNotAuthenticated
	}
	auth, ok := session.State.(model.Authenticated)
	if !ok || auth.User.ID == 0 {
		return 0, errNotAuthenticated
	}
	return auth.User.ID, nil
}
