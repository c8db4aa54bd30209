package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // コンテナにタイムゾーンDBがない場合でもANNOUNCEMENT_TIMEZONEを解決する
)

// 受信一覧の開示ポリシー。
const (
	DisclosureHidden   = "hidden"
	DisclosureRevealed = "revealed"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// OAuth (Kakao)
	KakaoClientID     string
	KakaoClientSecret string
	KakaoRedirectURL  string
	KakaoAuthURL      string
	KakaoTokenURL     string
	KakaoUserInfoURL  string
	OAuthHTTPTimeout  time.Duration

	// Session
	SessionMaxAge          int
	SessionCleanupInterval time.Duration

	// Mail
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	MailFrom     string

	// Announcement
	AnnouncementSendAt   string
	AnnouncementLocation *time.Location
	AdminTokenHash       string

	// Letters
	LetterListDisclosure string

	// Rate Limit
	RateLimitGeneral    int
	RateLimitLetterSend int

	// Logging
	LogLevel string

	// Server
	ServerPort  string
	BaseURL     string
	FrontendURL string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	// CORSAllowedOrigins はCORSとCSRFのOrigin検証で許可するオリジン。
	CORSAllowedOrigins []string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.KakaoClientID = os.Getenv("KAKAO_CLIENT_ID")
	if cfg.KakaoClientID == "" {
		missing = append(missing, "KAKAO_CLIENT_ID")
	}

	cfg.KakaoRedirectURL = os.Getenv("KAKAO_REDIRECT_URL")
	if cfg.KakaoRedirectURL == "" {
		missing = append(missing, "KAKAO_REDIRECT_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.FrontendURL = strings.TrimRight(os.Getenv("FRONTEND_URL"), "/")
	if cfg.FrontendURL == "" {
		missing = append(missing, "FRONTEND_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.KakaoClientSecret = getEnvString("KAKAO_CLIENT_SECRET", "")
	cfg.KakaoAuthURL = getEnvString("KAKAO_AUTH_URL", "https://kauth.kakao.com/oauth/authorize")
	cfg.KakaoTokenURL = getEnvString("KAKAO_TOKEN_URL", "https://kauth.kakao.com/oauth/token")
	cfg.KakaoUserInfoURL = getEnvString("KAKAO_USERINFO_URL", "https://kapi.kakao.com/v2/user/me")
	cfg.OAuthHTTPTimeout = getEnvDuration("OAUTH_HTTP_TIMEOUT", 10*time.Second)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", 24*time.Hour)
	cfg.SMTPHost = getEnvString("SMTP_HOST", "")
	cfg.SMTPPort = getEnvInt("SMTP_PORT", 587)
	cfg.SMTPUsername = getEnvString("SMTP_USERNAME", "")
	cfg.SMTPPassword = getEnvString("SMTP_PASSWORD", "")
	cfg.MailFrom = getEnvString("MAIL_FROM", "no-reply@kernelletter.com")
	cfg.AnnouncementSendAt = getEnvString("ANNOUNCEMENT_SEND_AT", "")
	cfg.AdminTokenHash = getEnvString("ADMIN_TOKEN_HASH", "")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLetterSend = getEnvInt("RATE_LIMIT_LETTER_SEND", 10)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigins = getEnvList("CORS_ALLOWED_ORIGIN", []string{cfg.FrontendURL})

	tz := getEnvString("ANNOUNCEMENT_TIMEZONE", "Asia/Seoul")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid ANNOUNCEMENT_TIMEZONE %q: %w", tz, err)
	}
	cfg.AnnouncementLocation = loc

	cfg.LetterListDisclosure = strings.ToLower(getEnvString("LETTER_LIST_DISCLOSURE", DisclosureHidden))
	switch cfg.LetterListDisclosure {
	case DisclosureHidden, DisclosureRevealed:
	default:
		return nil, fmt.Errorf("invalid LETTER_LIST_DISCLOSURE %q: must be %q or %q",
			cfg.LetterListDisclosure, DisclosureHidden, DisclosureRevealed)
	}

	return cfg, nil
}

// MailEnabled はSMTPホストが設定されているかを返す。
func (c *Config) MailEnabled() bool {
	return c.SMTPHost != ""
}

// RevealLetterList は受信一覧で送信者名と本文を開示するかを返す。
func (c *Config) RevealLetterList() bool {
	return c.LetterListDisclosure == DisclosureRevealed
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// getEnvList はカンマ区切りの環境変数を読み込む。末尾のスラッシュと空要素は除く。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimRight(strings.TrimSpace(item), "/"); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
