// Package announcement は受信した手紙をまとめたお知らせメールの一斉送信を提供する。
//
// 一斉送信はプロセスの生存期間中に1回だけ実行される。送信済みフラグは
// atomic.BoolのCompareAndSwapで切り替え、失敗しても元に戻さない。
// 手動トリガーとスケジュール実行は同じServiceを共有する。
package announcement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/kernelletter/internal/mail"
	"github.com/hitoshi/kernelletter/internal/metrics"
	"github.com/hitoshi/kernelletter/internal/model"
	"github.com/hitoshi/kernelletter/internal/repository"
)

// Subject はお知らせメールの件名。
const Subject = "💌 カーネルレターに手紙が届いています。今すぐ確認してください！"

// 送信者名がない手紙に表示する名前。
const anonymousSender = "匿名"

// 手紙が1通もないユーザーへの本文末尾。
const noLettersLine = "受け取った手紙はまだありません。"

// Result は一斉送信の集計結果。
type Result struct {
	RunID   string
	Total   int
	Sent    int
	Failed  int
	Skipped int
}

// Config はお知らせメールの設定。
type Config struct {
	// SiteURL は本文に載せるサイトのURL。
	SiteURL string
}

// Service はお知らせメールの一斉送信を行う。
type Service struct {
	userRepo   repository.UserRepository
	letterRepo repository.LetterRepository
	sender     mail.Sender
	metrics    metrics.MetricsCollector
	config     Config

	sent atomic.Bool
	now  func() time.Time
}

// NewService はServiceを生成する。mcがnilの場合はメトリクスを記録しない。
func NewService(
	userRepo repository.UserRepository,
	letterRepo repository.LetterRepository,
	sender mail.Sender,
	mc metrics.MetricsCollector,
	config Config,
) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		userRepo:   userRepo,
		letterRepo: letterRepo,
		sender:     sender,
		metrics:    mc,
		config:     config,
		now:        time.Now,
	}
}

// AlreadySent は一斉送信が既に開始されたかどうかを返す。
func (s *Service) AlreadySent() bool {
	return s.sent.Load()
}

// SendAnnouncement は通知用メールを持つ全ユーザーに、受け取った手紙の一覧を送信する。
// 2回目以降の呼び出しはAlreadySentエラーを返し、何も送信しない。
// ユーザーごとの失敗は記録して次のユーザーへ進む。
func (s *Service) SendAnnouncement(ctx context.Context) (*Result, error) {
	if !s.sent.CompareAndSwap(false, true) {
		return nil, model.NewAlreadySentError()
	}

	start := s.now()
	result := &Result{RunID: uuid.NewString()}
	logger := slog.Default().With(slog.String("run_id", result.RunID))
	logger.Info("お知らせメールの一斉送信を開始します")

	users, err := s.userRepo.ListWithEmail(ctx)
	if err != nil {
		logger.Error("送信対象ユーザーの取得に失敗しました", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	result.Total = len(users)

	for i, user := range users {
		if err := ctx.Err(); err != nil {
			result.Skipped += len(users) - i
			logger.Warn("一斉送信が中断されました",
				slog.Int("remaining", len(users)-i),
				slog.String("error", err.Error()),
			)
			break
		}

		to := strings.TrimSpace(user.Email)
		if to == "" {
			result.Skipped++
			continue
		}

		letters, err := s.letterRepo.ListByReceiver(ctx, user.ID)
		if err != nil {
			result.Failed++
			s.metrics.RecordMailFailed()
			logger.Error("受信した手紙の取得に失敗しました",
				slog.Int64("user_id", user.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		msg := mail.Message{
			To:      to,
			Subject: Subject,
			Body:    s.composeBody(letters),
		}
		if err := s.sender.Send(ctx, msg); err != nil {
			result.Failed++
			s.metrics.RecordMailFailed()
			logger.Error("お知らせメールの送信に失敗しました",
				slog.Int64("user_id", user.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		result.Sent++
		s.metrics.RecordMailSent()
		logger.Info("お知らせメールを送信しました", slog.Int64("user_id", user.ID))
	}

	duration := s.now().Sub(start)
	s.metrics.RecordAnnouncement(duration)
	logger.Info("お知らせメールの一斉送信が完了しました",
		slog.Int("total", result.Total),
		slog.Int("sent", result.Sent),
		slog.Int("failed", result.Failed),
		slog.Int("skipped", result.Skipped),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return result, nil
}

// composeBody は固定ヘッダーと「送信者: 本文」の行を組み立てる。
func (s *Service) composeBody(letters []model.LetterWithNames) string {
	var b strings.Builder
	b.WriteString(header(s.config.SiteURL))

	if len(letters) == 0 {
		b.WriteString(noLettersLine)
		b.WriteString("\n")
		return b.String()
	}

	for _, l := range letters {
		name := strings.TrimSpace(l.SenderName)
		if name == "" {
			name = anonymousSender
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(l.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func header(siteURL string) string {
	var b strings.Builder
	b.WriteString("こんにちは、カーネルレターです。\n\n")
	b.WriteString("修了を記念して、仲間たちの気持ちを込めた小さなイベントを用意しました。\n")
	b.WriteString("カーネルレターに届いた特別な手紙を今すぐ確認してください。\n")
	b.WriteString("一緒に過ごした時間が、より長く記憶に残りますように。\n\n")
	if siteURL != "" {
		b.WriteString("カーネルレターはこちら: ")
		b.WriteString(siteURL)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}
