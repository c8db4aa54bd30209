// Package letter は手紙の送信・編集・削除・閲覧のドメインロジックを提供する。
package letter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/kernelletter/internal/metrics"
	"github.com/hitoshi/kernelletter/internal/model"
	"github.com/hitoshi/kernelletter/internal/repository"
	"github.com/hitoshi/kernelletter/internal/security"
)

// 非公開ポリシーで一覧を返すときのプレースホルダー。
const (
	HiddenSenderName = "ひみつ"
	HiddenContent    = "気になる？"
)

// ReceiverRef は受信者をIDまたは名前で指す参照。
// IDが0より大きければIDを優先する。
type ReceiverRef struct {
	ID   int64
	Name string
}

// ParseReceiverRef はパスパラメータなどの文字列を受信者参照に変換する。
// 正の整数として解釈できればID、それ以外は名前として扱う。
// 登録時にこの形の名前は拒否されるため、名前との取り違えは起きない。
func ParseReceiverRef(raw string) ReceiverRef {
	raw = strings.TrimSpace(raw)
	if id, ok := model.ParseUserID(raw); ok {
		return ReceiverRef{ID: id}
	}
	return ReceiverRef{Name: raw}
}

// IsZero は受信者が指定されていないかどうかを返す。
func (r ReceiverRef) IsZero() bool {
	return r.ID <= 0 && r.Name == ""
}

// SendInput は手紙送信の入力。
type SendInput struct {
	SenderID int64
	Receiver ReceiverRef
	Content  string
	Position int
}

// PatchInput は手紙編集の入力。本文のみ置き換える。
type PatchInput struct {
	SenderID int64
	Content  string
}

// ReceivedLetter は受信一覧の1件。非公開ポリシーでは送信者名と本文が伏せられる。
type ReceivedLetter struct {
	ID         int64
	SenderName string
	Content    string
	Position   int
	CreatedAt  time.Time
}

// LetterDetail は受信者本人に返す手紙の全情報。
type LetterDetail struct {
	ID         int64
	SenderID   int64
	SenderName string
	ReceiverID int64
	Content    string
	Position   int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SentLetter は送信者本人に返す送信済み手紙。
type SentLetter struct {
	ID           int64
	ReceiverID   int64
	ReceiverName string
	Content      string
	Position     int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Config は手紙サービスの設定。
type Config struct {
	// RevealReceived がtrueの場合、受信一覧で送信者名と本文を公開する。
	RevealReceived bool
}

// Service は手紙CRUDのサービス層。
// 操作者（セッションのユーザー）と送信者・受信者の一致を検証する。
type Service struct {
	letterRepo repository.LetterRepository
	userRepo   repository.UserRepository
	sanitizer  security.LetterSanitizer
	metrics    metrics.MetricsCollector
	config     Config
}

// NewService はServiceの新しいインスタンスを生成する。mcがnilの場合はメトリクスを記録しない。
func NewService(
	letterRepo repository.LetterRepository,
	userRepo repository.UserRepository,
	sanitizer security.LetterSanitizer,
	mc metrics.MetricsCollector,
	config Config,
) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		letterRepo: letterRepo,
		userRepo:   userRepo,
		sanitizer:  sanitizer,
		metrics:    mc,
		config:     config,
	}
}

// Send は手紙を送信する。
// 配置位置、送信者、受信者、重複、配置位置の使用状況の順に検証してから保存する。
func (s *Service) Send(ctx context.Context, actorID int64, in SendInput) (*model.Letter, error) {
	letter, err := s.send(ctx, actorID, in)
	if err != nil {
		s.recordRejected(err)
		return nil, err
	}
	s.metrics.RecordLetterSent()
	slog.Info("手紙を送信しました",
		slog.Int64("letter_id", letter.ID),
		slog.Int64("sender_id", letter.SenderID),
		slog.Int64("receiver_id", letter.ReceiverID),
		slog.Int("position", letter.Position),
	)
	return letter, nil
}

func (s *Service) send(ctx context.Context, actorID int64, in SendInput) (*model.Letter, error) {
	if in.SenderID != actorID {
		return nil, model.NewForbiddenError()
	}
	if !model.ValidPosition(in.Position) {
		return nil, model.NewInvalidPositionError(in.Position)
	}
	if in.Receiver.IsZero() {
		return nil, model.NewInvalidRequestError("受信者を指定してください")
	}
	content := s.sanitizer.Sanitize(in.Content)
	if content == "" {
		return nil, model.NewInvalidRequestError("本文は必須です")
	}

	sender, err := s.userRepo.FindByID(ctx, in.SenderID)
	if err != nil {
		return nil, fmt.Errorf("送信者の取得に失敗しました: %w", err)
	}
	if sender == nil {
		return nil, model.NewUserNotFoundError()
	}

	receiver, err := s.resolveReceiver(ctx, in.Receiver)
	if err != nil {
		return nil, err
	}
	if receiver == nil {
		return nil, model.NewUserNotFoundError()
	}

	existing, err := s.letterRepo.FindBySenderAndReceiver(ctx, sender.ID, receiver.ID)
	if err != nil {
		return nil, fmt.Errorf("既存の手紙の確認に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateLetterError()
	}

	taken, err := s.letterRepo.ExistsAtPosition(ctx, receiver.ID, in.Position)
	if err != nil {
		return nil, fmt.Errorf("配置位置の確認に失敗しました: %w", err)
	}
	if taken {
		return nil, model.NewPositionTakenError(in.Position)
	}

	letter := &model.Letter{
		SenderID:   sender.ID,
		ReceiverID: receiver.ID,
		Content:    content,
		Position:   in.Position,
	}
	if err := s.letterRepo.Create(ctx, letter); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateLetter):
			return nil, model.NewDuplicateLetterError()
		case errors.Is(err, repository.ErrPositionTaken):
			return nil, model.NewPositionTakenError(in.Position)
		}
		return nil, fmt.Errorf("手紙の保存に失敗しました: %w", err)
	}

	return letter, nil
}

// Patch は送信者から受信者への手紙の本文を置き換える。
// 該当する手紙がなければLetterNotFoundを返し、何も変更しない。
func (s *Service) Patch(ctx context.Context, actorID int64, receiverRef ReceiverRef, in PatchInput) error {
	if in.SenderID != actorID {
		return model.NewForbiddenError()
	}
	content := s.sanitizer.Sanitize(in.Content)
	if content == "" {
		return model.NewInvalidRequestError("本文は必須です")
	}

	receiver, err := s.resolveReceiver(ctx, receiverRef)
	if err != nil {
		return err
	}
	if receiver == nil {
		return model.NewLetterNotFoundError(0)
	}

	letter, err := s.letterRepo.FindBySenderAndReceiver(ctx, in.SenderID, receiver.ID)
	if err != nil {
		return fmt.Errorf("手紙の取得に失敗しました: %w", err)
	}
	if letter == nil {
		return model.NewLetterNotFoundError(0)
	}

	if err := s.letterRepo.UpdateContent(ctx, letter.ID, content); err != nil {
		return fmt.Errorf("手紙の更新に失敗しました: %w", err)
	}

	slog.Info("手紙を編集しました", slog.Int64("letter_id", letter.ID))
	return nil
}

// Delete は手紙を削除する。削除できるのは送信者本人のみ。
func (s *Service) Delete(ctx context.Context, actorID, letterID int64) error {
	letter, err := s.letterRepo.FindByID(ctx, letterID)
	if err != nil {
		return fmt.Errorf("手紙の取得に失敗しました: %w", err)
	}
	if letter == nil {
		return model.NewLetterNotFoundError(letterID)
	}
	if letter.SenderID != actorID {
		return model.NewForbiddenError()
	}

	if err := s.letterRepo.Delete(ctx, letterID); err != nil {
		return fmt.Errorf("手紙の削除に失敗しました: %w", err)
	}

	slog.Info("手紙を削除しました", slog.Int64("letter_id", letterID))
	return nil
}

// ListReceived は受信者宛の手紙をposition順に返す。
// 公開ポリシーが無効な場合は送信者名と本文をプレースホルダーに置き換える。
func (s *Service) ListReceived(ctx context.Context, receiverRef ReceiverRef) ([]ReceivedLetter, error) {
	if receiverRef.IsZero() {
		return nil, model.NewInvalidRequestError("受信者を指定してください")
	}
	receiver, err := s.resolveReceiver(ctx, receiverRef)
	if err != nil {
		return nil, err
	}
	if receiver == nil {
		return nil, model.NewUserNotFoundError()
	}

	rows, err := s.letterRepo.ListByReceiver(ctx, receiver.ID)
	if err != nil {
		return nil, fmt.Errorf("受信一覧の取得に失敗しました: %w", err)
	}

	results := make([]ReceivedLetter, len(rows))
	for i, row := range rows {
		results[i] = ReceivedLetter{
			ID:         row.ID,
			SenderName: HiddenSenderName,
			Content:    HiddenContent,
			Position:   row.Position,
			CreatedAt:  row.CreatedAt,
		}
		if s.config.RevealReceived {
			results[i].SenderName = row.SenderName
			results[i].Content = row.Content
		}
	}
	return results, nil
}

// GetOne は受信者宛の手紙を1件返す。閲覧できるのは受信者本人のみ。
func (s *Service) GetOne(ctx context.Context, actorID, receiverID, letterID int64) (*LetterDetail, error) {
	if receiverID != actorID {
		return nil, model.NewForbiddenError()
	}

	row, err := s.letterRepo.FindByReceiverAndID(ctx, receiverID, letterID)
	if err != nil {
		return nil, fmt.Errorf("手紙の取得に失敗しました: %w", err)
	}
	if row == nil {
		return nil, model.NewLetterNotFoundError(letterID)
	}

	return &LetterDetail{
		ID:         row.ID,
		SenderID:   row.SenderID,
		SenderName: row.SenderName,
		ReceiverID: row.ReceiverID,
		Content:    row.Content,
		Position:   row.Position,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}, nil
}

// ListSent は送信者が送った手紙を受信者名付きで返す。閲覧できるのは送信者本人のみ。
func (s *Service) ListSent(ctx context.Context, actorID, senderID int64) ([]SentLetter, error) {
	if senderID != actorID {
		return nil, model.NewForbiddenError()
	}

	rows, err := s.letterRepo.ListBySender(ctx, senderID)
	if err != nil {
		return nil, fmt.Errorf("送信一覧の取得に失敗しました: %w", err)
	}

	results := make([]SentLetter, len(rows))
	for i, row := range rows {
		results[i] = SentLetter{
			ID:           row.ID,
			ReceiverID:   row.ReceiverID,
			ReceiverName: row.ReceiverName,
			Content:      row.Content,
			Position:     row.Position,
			CreatedAt:    row.CreatedAt,
			UpdatedAt:    row.UpdatedAt,
		}
	}
	return results, nil
}

// resolveReceiver は受信者参照をユーザーに解決する。見つからない場合はnilを返す。
func (s *Service) resolveReceiver(ctx context.Context, ref ReceiverRef) (*model.User, error) {
	var (
		user *model.User
		err  error
	)
	switch {
	case ref.ID > 0:
		user, err = s.userRepo.FindByID(ctx, ref.ID)
	case ref.Name != "":
		user, err = s.userRepo.FindByName(ctx, ref.Name)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("受信者の取得に失敗しました: %w", err)
	}
	return user, nil
}

// recordRejected は業務エラーによる送信拒否をエラーコード別に記録する。
func (s *Service) recordRejected(err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		s.metrics.RecordLetterRejected(apiErr.Code)
	}
}
