package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, letter, mail, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Is はエラーコードが一致する場合にtrueを返す。errors.Isで比較できるようにする。
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// 定義済みエラーコード
const (
	ErrCodeAuthFailed           = "AUTH_FAILED"
	ErrCodeInvalidSession       = "INVALID_SESSION"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeLetterNotFound       = "LETTER_NOT_FOUND"
	ErrCodeInvalidPosition      = "INVALID_POSITION"
	ErrCodeDuplicateLetter      = "DUPLICATE_LETTER"
	ErrCodePositionTaken        = "POSITION_TAKEN"
	ErrCodeAlreadySent          = "ALREADY_SENT"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeForbidden            = "FORBIDDEN"
	ErrCodeRegistrationRequired = "REGISTRATION_REQUIRED"
	ErrCodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// NewAuthFailedError はOAuth認証の失敗エラーを生成する。
func NewAuthFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeAuthFailed,
		Message:  fmt.Sprintf("認証に失敗しました: %s", reason),
		Category: "auth",
		Action:   "もう一度ログインしてください。",
	}
}

// NewInvalidSessionError はセッションが無効な場合のエラーを生成する。
func NewInvalidSessionError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSession,
		Message:  "ログインセッションが無効です。",
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "letter",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewLetterNotFoundError は手紙が見つからない場合のエラーを生成する。
// letterIDが0の場合はIDをメッセージに含めない。
func NewLetterNotFoundError(letterID int64) *APIError {
	msg := "指定された手紙が見つかりません。"
	if letterID > 0 {
		msg = fmt.Sprintf("指定された手紙が見つかりません: %d", letterID)
	}
	return &APIError{
		Code:     ErrCodeLetterNotFound,
		Message:  msg,
		Category: "letter",
		Action:   "手紙IDを確認してください。",
	}
}

// NewInvalidPositionError は配置位置が範囲外の場合のエラーを生成する。
func NewInvalidPositionError(position int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPosition,
		Message:  fmt.Sprintf("無効な配置位置です: %d", position),
		Category: "validation",
		Action:   fmt.Sprintf("配置位置は%dから%dの範囲で指定してください。", MinLetterPosition, MaxLetterPosition),
	}
}

// NewDuplicateLetterError は同じ相手に2通目を送ろうとした場合のエラーを生成する。
func NewDuplicateLetterError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateLetter,
		Message:  "この相手には既に手紙を送っています。",
		Category: "letter",
		Action:   "送信済みの手紙を編集してください。",
	}
}

// NewPositionTakenError は配置位置が既に使われている場合のエラーを生成する。
func NewPositionTakenError(position int) *APIError {
	return &APIError{
		Code:     ErrCodePositionTaken,
		Message:  fmt.Sprintf("配置位置 %d は既に使用されています。", position),
		Category: "letter",
		Action:   "別の配置位置を選択してください。",
	}
}

// NewAlreadySentError はお知らせメールが送信済みの場合のエラーを生成する。
func NewAlreadySentError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadySent,
		Message:  "お知らせメールは既に送信されています。",
		Category: "mail",
		Action:   "再送信はできません。",
	}
}

// NewInvalidRequestError はリクエスト内容が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewForbiddenError は操作権限がない場合のエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "自分のアカウントで操作してください。",
	}
}

// NewRegistrationRequiredError は追加情報の登録が完了していない場合のエラーを生成する。
func NewRegistrationRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeRegistrationRequired,
		Message:  "追加情報の登録が必要です。",
		Category: "auth",
		Action:   "名前とメールアドレスを登録してください。",
	}
}

// NewRateLimitExceededError はレート制限を超えた場合のエラーを生成する。
// retryAfterSecは再試行までの待ち秒数。
func NewRateLimitExceededError(retryAfterSec int) *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   fmt.Sprintf("%d秒後に再度お試しください。", retryAfterSec),
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
