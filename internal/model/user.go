// Package model はドメインモデルを定義する。
package model

import (
	"strconv"
	"time"
)

// User はサービス利用ユーザーを表す。
// 初回OAuthログイン時に作成され、追加情報（名前・通知用メール）の登録で一度だけ更新される。
type User struct {
	ID         int64
	KakaoID    string // OAuthプロバイダー側のユーザーID
	KakaoEmail string // OAuthプロバイダーが返したメールアドレス（空の場合あり）
	Email      string // お知らせメールの送信先
	Name       string
	FirstLogin bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ParseUserID は文字列が正の整数ならユーザーIDとして返す。
// 受信者の指定ではIDとして扱われるため、この形の文字列は名前として登録できない。
func ParseUserID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// SessionUser はセッションに保持するユーザーのスナップショット。
type SessionUser struct {
	ID         int64  `json:"id"`
	KakaoID    string `json:"kakaoId"`
	KakaoEmail string `json:"kakaoEmail"`
	Name       string `json:"name"`
	Email      string `json:"email"`
}

// NewSessionUser はUserからセッション用スナップショットを生成する。
func NewSessionUser(u *User) SessionUser {
	return SessionUser{
		ID:         u.ID,
		KakaoID:    u.KakaoID,
		KakaoEmail: u.KakaoEmail,
		Name:       u.Name,
		Email:      u.Email,
	}
}
