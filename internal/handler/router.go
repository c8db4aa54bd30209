package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/kernelletter/internal/metrics"
	"github.com/hitoshi/kernelletter/internal/middleware"
)

// ルーティングで使う固定パス。PendingGateの許可リストと共有する。
const (
	PathKakaoLogin    = "/auth/kakao/login"
	PathKakaoCallback = "/auth/kakao/callback"
	PathRegister      = "/api/user/register"
	PathLogout        = "/api/user/logout"
	PathMe            = "/api/user/me"
	PathCSRFToken     = "/api/csrf-token"
	PathEventMail     = "/mail/event/send"
)

// HealthChecker はヘルスチェック用のDB疎通確認インターフェース。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
	Metrics        metrics.MetricsCollector
	Logger         *slog.Logger

	// ミドルウェア依存
	SessionFinder      middleware.SessionFinder
	CORSAllowedOrigins []string
	CSRFConfig         middleware.CSRFConfig
	RateLimiter        *middleware.RateLimiter

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 手紙
	LetterService LetterServiceInterface

	// お知らせメール
	Announcer      AnnouncerInterface
	AdminTokenHash string
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → SessionLoader → Logging → PendingGate
//
// 手紙のルートにはさらに RequireAuthenticated → CSRF → RateLimit(General) を適用する。
// セッションの検証をCSRFの検証より先に行う。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	csrf := middleware.NewCSRFMiddleware(deps.CSRFConfig)

	r.Use(middleware.NewRecoveryMiddleware(logger))
	// HTTPSで配信している場合のみHSTSを付与する
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.AuthConfig.CookieSecure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins...))
	r.Use(middleware.NewSessionLoader(deps.SessionFinder))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewPendingGate(
		PathKakaoLogin, PathKakaoCallback, PathRegister, PathLogout, PathCSRFToken,
	))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	letterHandler := NewLetterHandler(deps.LetterService)
	mailHandler := NewMailHandler(deps.Announcer, deps.AdminTokenHash)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Get(PathCSRFToken, middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

	// 認証ルート（OAuthフロー）
	r.Get(PathKakaoLogin, authHandler.Login)
	r.Get(PathKakaoCallback, authHandler.Callback)

	// セッションの状態はサービス側で検証する
	r.With(csrf).Post(PathRegister, authHandler.Register)
	r.With(csrf).Post(PathLogout, authHandler.Logout)
	r.Get(PathMe, authHandler.Me)

	// 管理者トークンで保護する（CSRF検証なし）
	r.Post(PathEventMail, mailHandler.SendEventMail)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: RequireAuthenticated → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuthenticated)
		r.Use(csrf)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/Letter", func(r chi.Router) {
			// POST /Letter - 手紙送信（送信専用レート制限を追加）
			mountLetterRoutes(r, letterHandler, deps.RateLimiter.LetterSendMiddleware())
		})
	})

	return r
}

// healthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
