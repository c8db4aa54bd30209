package repository

import (
	"errors"

	"github.com/lib/pq"
)

// PostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = pq.ErrorCode("23505")

// 制約名とドメインエラーの対応。
var constraintErrors = map[string]error{
	"letters_sender_receiver_key":   ErrDuplicateLetter,
	"letters_receiver_position_key": ErrPositionTaken,
	"users_kakao_id_key":            ErrDuplicateUser,
}

// translateUniqueViolation は一意制約違反を対応するドメインエラーに変換する。
// 該当しない場合はnilを返す。
func translateUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return nil
	}
	return constraintErrors[pqErr.Constraint]
}
