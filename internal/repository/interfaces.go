// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/kernelletter/internal/model"
)

// 一意制約違反をドメインの意味に変換したエラー。
// サービス層は事前チェックと同じエラー種別に対応付ける。
var (
	ErrDuplicateLetter = errors.New("letter from sender to receiver already exists")
	ErrPositionTaken   = errors.New("receiver position already taken")
	ErrDuplicateUser   = errors.New("user with external id already exists")
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByKakaoID は外部プロバイダーのユーザーIDで検索する。見つからない場合はnilを返す。
	FindByKakaoID(ctx context.Context, kakaoID string) (*model.User, error)

	// FindByName は名前でユーザーを検索する。同名が複数いる場合は最も古いユーザーを返す。
	// 見つからない場合はnilを返す。
	FindByName(ctx context.Context, name string) (*model.User, error)

	// Create はユーザーを作成し、採番されたIDとタイムスタンプをuserに設定する。
	Create(ctx context.Context, user *model.User) error

	// CompleteRegistration は名前と通知用メールを設定し、first_loginをfalseにする。
	CompleteRegistration(ctx context.Context, id int64, name, email string) (*model.User, error)

	// ListWithEmail は通知用メールが設定された全ユーザーをID順に返す。
	ListWithEmail(ctx context.Context) ([]*model.User, error)
}

// LetterRepository は手紙データの永続化インターフェース。
type LetterRepository interface {
	// FindByID は指定IDの手紙を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Letter, error)

	// FindBySenderAndReceiver は送信者と受信者の組で手紙を取得する。見つからない場合はnilを返す。
	FindBySenderAndReceiver(ctx context.Context, senderID, receiverID int64) (*model.Letter, error)

	// ExistsAtPosition は受信者の指定スロットに手紙があるかを返す。
	ExistsAtPosition(ctx context.Context, receiverID int64, position int) (bool, error)

	// Create は手紙を作成する。一意制約違反の場合は
	// ErrDuplicateLetter または ErrPositionTaken を返す。
	Create(ctx context.Context, letter *model.Letter) error

	// UpdateContent は本文のみを更新する。
	UpdateContent(ctx context.Context, id int64, content string) error

	// Delete は指定IDの手紙を削除する。
	Delete(ctx context.Context, id int64) error

	// ListByReceiver は受信者宛の手紙を送信者名付きでposition順に返す。
	ListByReceiver(ctx context.Context, receiverID int64) ([]model.LetterWithNames, error)

	// FindByReceiverAndID は受信者宛の指定IDの手紙を返す。見つからない場合はnilを返す。
	FindByReceiverAndID(ctx context.Context, receiverID, letterID int64) (*model.LetterWithNames, error)

	// ListBySender は送信者が送った手紙を受信者名付きで返す。
	ListBySender(ctx context.Context, senderID int64) ([]model.LetterWithNames, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// UpdateState はセッションの状態を置き換える。
	UpdateState(ctx context.Context, id string, state model.SessionState) error
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}
