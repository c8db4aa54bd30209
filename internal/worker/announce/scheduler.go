// Package announce はお知らせメールの予約送信を提供する。
// 起動時に決めた時刻に1回だけ一斉送信を実行する。
package announce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/kernelletter/internal/announcement"
	"github.com/hitoshi/kernelletter/internal/model"
)

// タイムゾーンを含まない送信時刻として受け付けるレイアウト。
var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Announcer は一斉送信の実行インターフェース。
type Announcer interface {
	SendAnnouncement(ctx context.Context) (*announcement.Result, error)
	// AlreadySent は手動トリガーなどで既に送信が始まっていればtrueを返す。
	AlreadySent() bool
}

// ParseSendAt は送信時刻の設定値を解釈する。
// RFC3339形式ならその時刻、オフセットがない場合はlocの時刻として扱う。
func ParseSendAt(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("send-at is empty")
	}
	if loc == nil {
		loc = time.UTC
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid send-at %q: expected RFC3339 or YYYY-MM-DDTHH:MM[:SS]", raw)
}

// Scheduler は指定時刻に一斉送信を1回実行する。
type Scheduler struct {
	announcer Announcer
	logger    *slog.Logger
	now       func() time.Time
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(announcer Announcer, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		announcer: announcer,
		logger:    logger,
		now:       time.Now,
	}
}

// Run は指定時刻まで待機し、一斉送信を実行する。
// 指定時刻が過去の場合は警告を出して何もしない。
// コンテキストがキャンセルされた場合は送信せずに戻る。
// 送信を実行した場合にtrueを返す。
func (s *Scheduler) Run(ctx context.Context, at time.Time) bool {
	now := s.now()
	if !at.After(now) {
		s.logger.Warn("予約送信時刻が過去のためスケジュールしません",
			slog.Time("send_at", at),
		)
		return false
	}

	wait := at.Sub(now)
	s.logger.Info("お知らせメールの予約送信をスケジュールしました",
		slog.Time("send_at", at),
		slog.Duration("wait", wait),
	)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		s.logger.Info("予約送信をキャンセルしました")
		return false
	case <-timer.C:
	}

	if s.announcer.AlreadySent() {
		s.logger.Info("お知らせメールは既に送信済みのため予約送信をスキップしました")
		return true
	}

	result, err := s.announcer.SendAnnouncement(ctx)
	if err != nil {
		if errors.Is(err, model.NewAlreadySentError()) {
			s.logger.Info("お知らせメールは既に送信済みのため予約送信をスキップしました")
			return true
		}
		s.logger.Error("予約送信に失敗しました", slog.String("error", err.Error()))
		return true
	}

	s.logger.Info("予約送信が完了しました",
		slog.String("run_id", result.RunID),
		slog.Int("sent", result.Sent),
		slog.Int("failed", result.Failed),
	)
	return true
}
