// Package auth はOAuth認証フロー、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/kernelletter/internal/metrics"
	"github.com/hitoshi/kernelletter/internal/model"
	"github.com/hitoshi/kernelletter/internal/repository"
)

// 登録時に受け付ける名前の最大文字数。
const maxNameLength = 50

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Provider       string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
// セッションは ANONYMOUS → PENDING_INFO → AUTHENTICATED の順に遷移する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	metrics     metrics.MetricsCollector
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。mcがnilの場合はメトリクスを記録しない。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	mc metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		metrics:     mc,
		config:      config,
		now:         time.Now,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、新しいセッションを発行する。
// previousSessionIDが指定された場合、そのセッションは先に破棄する。
// 未登録ユーザーはfirst_login=trueで作成し、PENDING_INFOのセッションを返す。
// 登録済みユーザーはAUTHENTICATEDのセッションを返す。
func (s *Service) HandleCallback(ctx context.Context, code, previousSessionID string) (*model.Session, error) {
	if code == "" {
		s.metrics.RecordLogin("failed")
		return nil, model.NewAuthFailedError("認可コードがありません")
	}

	// 1. 認可コードをトークンに交換し、プロフィールを取得
	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		slog.Warn("OAuthプロバイダーとの認証に失敗しました",
			slog.String("error", err.Error()),
		)
		s.metrics.RecordLogin("failed")
		return nil, model.NewAuthFailedError("プロバイダーが認証を拒否しました")
	}
	if userInfo == nil || userInfo.ProviderUserID == "" {
		s.metrics.RecordLogin("failed")
		return nil, model.NewAuthFailedError("プロフィールにユーザーIDがありません")
	}

	// 2. 既存セッションを破棄
	if previousSessionID != "" {
		if err := s.sessionRepo.DeleteByID(ctx, previousSessionID); err != nil {
			return nil, fmt.Errorf("failed to delete previous session: %w", err)
		}
	}

	// 3. 外部IDでユーザーを検索し、いなければ作成
	user, err := s.findOrCreateUser(ctx, userInfo)
	if err != nil {
		return nil, err
	}

	// 4. 初回ログインかどうかでセッション状態を決める
	var state model.SessionState
	if user.FirstLogin {
		state = model.PendingInfo{ExternalID: user.KakaoID, UserID: user.ID}
	} else {
		state = model.Authenticated{User: model.NewSessionUser(user)}
	}

	session, err := s.createSession(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	result := "authenticated"
	if user.FirstLogin {
		result = "pending"
	}
	s.metrics.RecordLogin(result)
	slog.Info("ユーザーがログインしました",
		slog.Int64("user_id", user.ID),
		slog.String("result", result),
	)

	return session, nil
}

// findOrCreateUser は外部IDでユーザーを検索し、存在しなければ作成する。
// 同時ログインで作成が競合した場合は既存ユーザーを再取得する。
func (s *Service) findOrCreateUser(ctx context.Context, info *OAuthUserInfo) (*model.User, error) {
	user, err := s.userRepo.FindByKakaoID(ctx, info.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user != nil {
		return user, nil
	}

	user = &model.User{
		KakaoID:    info.ProviderUserID,
		KakaoEmail: info.Email,
		FirstLogin: true,
	}
	err = s.userRepo.Create(ctx, user)
	if errors.Is(err, repository.ErrDuplicateUser) {
		existing, findErr := s.userRepo.FindByKakaoID(ctx, info.ProviderUserID)
		if findErr != nil || existing == nil {
			return nil, fmt.Errorf("failed to find user after conflict: %w", errors.Join(err, findErr))
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("新規ユーザーを作成しました",
		slog.Int64("user_id", user.ID),
		slog.String("provider", info.Provider),
	)
	return user, nil
}

// Register は初回ログインユーザーの名前と通知用メールを登録し、
// セッションをAUTHENTICATEDに遷移させる。
func (s *Service) Register(ctx context.Context, session *model.Session, name, email string) (*model.SessionUser, error) {
	if session == nil {
		return nil, model.NewInvalidSessionError()
	}
	pending, ok := session.State.(model.PendingInfo)
	if !ok {
		return nil, model.NewInvalidSessionError()
	}

	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if err := validateRegistration(name, email); err != nil {
		return nil, err
	}

	user, err := s.userRepo.FindByKakaoID(ctx, pending.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	updated, err := s.userRepo.CompleteRegistration(ctx, user.ID, name, email)
	if err != nil {
		return nil, fmt.Errorf("failed to complete registration: %w", err)
	}
	if updated == nil {
		return nil, model.NewUserNotFoundError()
	}

	snapshot := model.NewSessionUser(updated)
	if err := s.sessionRepo.UpdateState(ctx, session.ID, model.Authenticated{User: snapshot}); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	slog.Info("追加情報を登録しました", slog.Int64("user_id", updated.ID))
	return &snapshot, nil
}

// validateRegistration は名前とメールアドレスの形式を検証する。
func validateRegistration(name, email string) error {
	if name == "" {
		return model.NewInvalidRequestError("名前は必須です")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return model.NewInvalidRequestError(fmt.Sprintf("名前は%d文字以内で入力してください", maxNameLength))
	}
	if _, ok := model.ParseUserID(name); ok {
		return model.NewInvalidRequestError("数字だけの名前は使用できません")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return model.NewInvalidRequestError("メールアドレスの形式が正しくありません")
	}
	return nil
}

// Logout はセッションを破棄する。セッションIDが空の場合は何もしない。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("ユーザーがログアウトしました")
	return nil
}

// CurrentUser はAUTHENTICATEDのセッションからユーザーのスナップショットを返す。
// それ以外の状態ではInvalidSessionエラーを返す。
func (s *Service) CurrentUser(session *model.Session) (*model.SessionUser, error) {
	if session == nil {
		return nil, model.NewInvalidSessionError()
	}
	auth, ok := session.State.(model.Authenticated)
	if !ok {
		return nil, model.NewInvalidSessionError()
	}
	u := auth.User
	return &u, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, state model.SessionState) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		State:     state,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
