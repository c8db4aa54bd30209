package model

import "time"

// 手紙を置けるスロット番号の範囲（両端を含む）。
const (
	MinLetterPosition = 0
	MaxLetterPosition = 39
)

// Letter はユーザー間でやり取りする短い手紙を表す。
// (SenderID, ReceiverID) と (ReceiverID, Position) はそれぞれ一意。
type Letter struct {
	ID         int64
	SenderID   int64
	ReceiverID int64
	Content    string
	Position   int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LetterWithNames は送信者名・受信者名をJOINした手紙。
type LetterWithNames struct {
	Letter
	SenderName   string
	ReceiverName string
}

// ValidPosition はpositionが有効なスロット番号かどうかを返す。
func ValidPosition(position int) bool {
	return position >= MinLetterPosition && position <= MaxLetterPosition
}
