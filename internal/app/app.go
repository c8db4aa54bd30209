package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/kernelletter/internal/announcement"
	"github.com/hitoshi/kernelletter/internal/auth"
	"github.com/hitoshi/kernelletter/internal/config"
	"github.com/hitoshi/kernelletter/internal/database"
	"github.com/hitoshi/kernelletter/internal/handler"
	"github.com/hitoshi/kernelletter/internal/letter"
	"github.com/hitoshi/kernelletter/internal/logger"
	"github.com/hitoshi/kernelletter/internal/mail"
	"github.com/hitoshi/kernelletter/internal/metrics"
	"github.com/hitoshi/kernelletter/internal/middleware"
	"github.com/hitoshi/kernelletter/internal/repository"
	"github.com/hitoshi/kernelletter/internal/security"
	"github.com/hitoshi/kernelletter/internal/worker/announce"
	"github.com/hitoshi/kernelletter/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandAnnounce:
		return runAnnounce(cfg)
	default:
		return runServe(cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// validateOAuthEndpoints はOAuthエンドポイントの設定値が内部ネットワークを指していないか検証する。
func validateOAuthEndpoints(guard security.SSRFGuardService, cfg *config.Config) error {
	for _, u := range []string{cfg.KakaoTokenURL, cfg.KakaoUserInfoURL} {
		if err := guard.ValidateURL(u); err != nil {
			return fmt.Errorf("unsafe OAuth endpoint %q: %w", u, err)
		}
	}
	return nil
}

// newMailSender はSMTP設定がある場合はSMTPSenderを、ない場合はログ出力のみのSenderを返す。
func newMailSender(cfg *config.Config) mail.Sender {
	if !cfg.MailEnabled() {
		slog.Warn("SMTP_HOST is not set; announcement mail will only be logged")
		return mail.LogSender{Logger: slog.Default()}
	}
	return mail.NewSMTPSender(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	})
}

func newAnnouncementService(
	cfg *config.Config,
	userRepo repository.UserRepository,
	letterRepo repository.LetterRepository,
	mc metrics.MetricsCollector,
) *announcement.Service {
	return announcement.NewService(
		userRepo, letterRepo, newMailSender(cfg), mc,
		announcement.Config{SiteURL: cfg.FrontendURL},
	)
}

// newMetricsRegistry はアプリケーション用のPrometheusレジストリを生成する。
// Goランタイムとプロセスのメトリクスも併せて登録する。
func newMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ANNOUNCEMENT_SEND_ATが設定されている場合は予約送信もスケジュールする。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. OAuthエンドポイントの検証
	ssrfGuard := security.NewSSRFGuard()
	if err := validateOAuthEndpoints(ssrfGuard, cfg); err != nil {
		return err
	}

	// 予約送信時刻は起動時に解釈し、不正な値なら起動を中止する
	var sendAt time.Time
	if cfg.AnnouncementSendAt != "" {
		at, err := announce.ParseSendAt(cfg.AnnouncementSendAt, cfg.AnnouncementLocation)
		if err != nil {
			return fmt.Errorf("invalid ANNOUNCEMENT_SEND_AT: %w", err)
		}
		sendAt = at
	}

	// 2. DB接続
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 3. リポジトリとメトリクスの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	letterRepo := repository.NewPostgresLetterRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)

	reg := newMetricsRegistry()
	mc := metrics.NewCollector(reg)

	// 4. ドメインサービスの初期化
	sanitizer := security.NewLetterSanitizer()

	oauthProvider := auth.NewKakaoOAuthProvider(auth.KakaoOAuthConfig{
		ClientID:     cfg.KakaoClientID,
		ClientSecret: cfg.KakaoClientSecret,
		RedirectURL:  cfg.KakaoRedirectURL,
		AuthURL:      cfg.KakaoAuthURL,
		TokenURL:     cfg.KakaoTokenURL,
		UserInfoURL:  cfg.KakaoUserInfoURL,
		HTTPClient:   ssrfGuard.NewSafeClient(cfg.OAuthHTTPTimeout),
	})
	authService := auth.NewService(
		oauthProvider, userRepo, sessionRepo, mc,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)

	letterService := letter.NewService(letterRepo, userRepo, sanitizer, mc, letter.Config{
		RevealReceived: cfg.RevealLetterList(),
	})

	announcementService := newAnnouncementService(cfg, userRepo, letterRepo, mc)

	// 5. ルーターの構築
	// configのレート制限はreq/min単位
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitLetterSend),
	)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		HealthChecker:      db,
		MetricsHandler:     metrics.Handler(reg),
		Metrics:            mc,
		Logger:             slog.Default(),
		SessionFinder:      sessionRepo,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure:   cfg.CookieSecure,
			CookieDomain:   cfg.CookieDomain,
			TrustedOrigins: cfg.CORSAllowedOrigins,
		},
		RateLimiter: rateLimiter,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			FrontendURL:   cfg.FrontendURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		LetterService: handler.NewLetterServiceAdapter(letterService),

		Announcer:      announcementService,
		AdminTokenHash: cfg.AdminTokenHash,
	}

	router := handler.NewRouter(deps)

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 7. お知らせメールの予約送信
	if !sendAt.IsZero() {
		scheduler := announce.NewScheduler(announcementService, slog.Default())
		go scheduler.Run(ctx, sendAt)
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れセッションのクリーンアップを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. クリーンアップジョブの初期化
	mc := metrics.NewCollector(newMetricsRegistry())
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default(), mc)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
	)

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	cleanupJob.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
	if err != nil {
		slog.Warn("failed to read migration version", slog.String("error", err.Error()))
	} else {
		slog.Info("database migrations completed successfully",
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty),
		)
	}
	return nil
}

// runAnnounce はお知らせメールを即時に一斉送信する。
// 送信済みフラグはプロセス内でのみ保持されるため、実行は運用で1回に限る。
func runAnnounce(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := newAnnouncementService(
		cfg,
		repository.NewPostgresUserRepo(db),
		repository.NewPostgresLetterRepo(db),
		metrics.Nop{},
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := svc.SendAnnouncement(ctx)
	if err != nil {
		return fmt.Errorf("announcement failed: %w", err)
	}

	slog.Info("announcement completed",
		slog.String("run_id", result.RunID),
		slog.Int("total", result.Total),
		slog.Int("sent", result.Sent),
		slog.Int("failed", result.Failed),
		slog.Int("skipped", result.Skipped),
	)
	if result.Failed > 0 {
		return fmt.Errorf("announcement finished with %d failures", result.Failed)
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
