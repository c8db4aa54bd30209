package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// SessionState はログインセッションの状態を表す。
// Anonymous、PendingInfo、Authenticated のいずれかを取る。
type SessionState interface {
	sessionState()
}

// Anonymous は未ログイン状態。
type Anonymous struct{}

// PendingInfo は初回ログイン後、名前とメールの登録待ちの状態。
type PendingInfo struct {
	ExternalID string
	UserID     int64
}

// Authenticated は登録済みユーザーのログイン状態。
type Authenticated struct {
	User SessionUser
}

func (Anonymous) sessionState()     {}
func (PendingInfo) sessionState()   {}
func (Authenticated) sessionState() {}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	State     SessionState
	ExpiresAt time.Time
	CreatedAt time.Time
}

// UserID はセッションに紐づくユーザーIDを返す。Anonymousの場合は0。
func (s *Session) UserID() int64 {
	switch st := s.State.(type) {
	case PendingInfo:
		return st.UserID
	case Authenticated:
		return st.User.ID
	default:
		return 0
	}
}

const (
	sessionKindPending       = "pending"
	sessionKindAuthenticated = "authenticated"
)

// sessionData はsessions.dataカラムに保存するJSON表現。
type sessionData struct {
	Kind       string       `json:"kind"`
	ExternalID string       `json:"external_id,omitempty"`
	UserID     int64        `json:"user_id,omitempty"`
	User       *SessionUser `json:"user,omitempty"`
}

// EncodeSessionState はセッション状態をJSONに変換する。
// Anonymousは永続化の対象外のためエラーを返す。
func EncodeSessionState(state SessionState) ([]byte, error) {
	var d sessionData
	switch st := state.(type) {
	case PendingInfo:
		d = sessionData{Kind: sessionKindPending, ExternalID: st.ExternalID, UserID: st.UserID}
	case Authenticated:
		u := st.User
		d = sessionData{Kind: sessionKindAuthenticated, UserID: u.ID, User: &u}
	default:
		return nil, fmt.Errorf("session state %T cannot be persisted", state)
	}
	return json.Marshal(d)
}

// DecodeSessionState はJSONからセッション状態を復元する。
// 未知の種別や壊れたデータはAnonymousとして扱い、エラーを返す。
func DecodeSessionState(raw []byte) (SessionState, error) {
	var d sessionData
	if err := json.Unmarshal(raw, &d); err != nil {
		return Anonymous{}, fmt.Errorf("failed to decode session data: %w", err)
	}

	switch d.Kind {
	case sessionKindPending:
		if d.ExternalID == "" {
			return Anonymous{}, fmt.Errorf("pending session without external id")
		}
		return PendingInfo{ExternalID: d.ExternalID, UserID: d.UserID}, nil
	case sessionKindAuthenticated:
		if d.User == nil {
			return Anonymous{}, fmt.Errorf("authenticated session without user")
		}
		return Authenticated{User: *d.User}, nil
	default:
		return Anonymous{}, fmt.Errorf("unknown session kind: %q", d.Kind)
	}
}
