package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/kernelletter/internal/model"
)

// PostgresLetterRepo はPostgreSQLを使用した手紙リポジトリ。
type PostgresLetterRepo struct {
	db *sql.DB
}

// NewPostgresLetterRepo はPostgresLetterRepoを生成する。
func NewPostgresLetterRepo(db *sql.DB) *PostgresLetterRepo {
	return &PostgresLetterRepo{db: db}
}

const letterColumns = `l.id, l.sender_id, l.receiver_id, l.content, l.position, l.created_at, l.updated_at`

// lettersWithNames は送信者名・受信者名をJOINするFROM句。
const lettersWithNames = `letters l
	JOIN users s ON s.id = l.sender_id
	JOIN users r ON r.id = l.receiver_id`

func scanLetter(row interface{ Scan(...any) error }) (*model.Letter, error) {
	l := &model.Letter{}
	err := row.Scan(&l.ID, &l.SenderID, &l.ReceiverID, &l.Content, &l.Position, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func scanLetterWithNames(row interface{ Scan(...any) error }) (*model.LetterWithNames, error) {
	l := &model.LetterWithNames{}
	err := row.Scan(&l.ID, &l.SenderID, &l.ReceiverID, &l.Content, &l.Position, &l.CreatedAt, &l.UpdatedAt,
		&l.SenderName, &l.ReceiverName)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// FindByID は指定IDの手紙を取得する。見つからない場合はnilを返す。
func (r *PostgresLetterRepo) FindByID(ctx context.Context, id int64) (*model.Letter, error) {
	l, err := scanLetter(r.db.QueryRowContext(ctx,
		`SELECT `+letterColumns+` FROM letters l WHERE l.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find letter: %w", err)
	}
	return l, nil
}

// FindBySenderAndReceiver は送信者と受信者の組で手紙を取得する。見つからない場合はnilを返す。
func (r *PostgresLetterRepo) FindBySenderAndReceiver(ctx context.Context, senderID, receiverID int64) (*model.Letter, error) {
	l, err := scanLetter(r.db.QueryRowContext(ctx,
		`SELECT `+letterColumns+` FROM letters l WHERE l.sender_id = $1 AND l.receiver_id = $2`,
		senderID, receiverID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find letter by sender and receiver: %w", err)
	}
	return l, nil
}

// ExistsAtPosition は受信者の指定スロットに手紙があるかを返す。
func (r *PostgresLetterRepo) ExistsAtPosition(ctx context.Context, receiverID int64, position int) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM letters WHERE receiver_id = $1 AND position = $2)`,
		receiverID, position,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check letter position: %w", err)
	}
	return exists, nil
}

// Create は手紙を作成し、採番されたIDとタイムスタンプをletterに設定する。
func (r *PostgresLetterRepo) Create(ctx context.Context, letter *model.Letter) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO letters (sender_id, receiver_id, content, position)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		letter.SenderID, letter.ReceiverID, letter.Content, letter.Position,
	).Scan(&letter.ID, &letter.CreatedAt, &letter.UpdatedAt)
	if err != nil {
		if mapped := translateUniqueViolation(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("failed to insert letter: %w", err)
	}
	return nil
}

// UpdateContent は本文のみを更新する。
func (r *PostgresLetterRepo) UpdateContent(ctx context.Context, id int64, content string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE letters SET content = $2, updated_at = now() WHERE id = $1`,
		id, content,
	)
	if err != nil {
		return fmt.Errorf("failed to update letter content: %w", err)
	}
	return nil
}

// Delete は指定IDの手紙を削除する。
func (r *PostgresLetterRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM letters WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete letter: %w", err)
	}
	return nil
}

func (r *PostgresLetterRepo) listWithNames(ctx context.Context, query string, args ...any) ([]model.LetterWithNames, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list letters: %w", err)
	}
	defer rows.Close()

	letters := []model.LetterWithNames{}
	for rows.Next() {
		l, err := scanLetterWithNames(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan letter: %w", err)
		}
		letters = append(letters, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate letters: %w", err)
	}
	return letters, nil
}

// ListByReceiver は受信者宛の手紙を送信者名付きでposition順に返す。
func (r *PostgresLetterRepo) ListByReceiver(ctx context.Context, receiverID int64) ([]model.LetterWithNames, error) {
	return r.listWithNames(ctx,
		`SELECT `+letterColumns+`, s.name, r.name FROM `+lettersWithNames+`
		 WHERE l.receiver_id = $1
		 ORDER BY l.position`,
		receiverID)
}

// FindByReceiverAndID は受信者宛の指定IDの手紙を返す。見つからない場合はnilを返す。
func (r *PostgresLetterRepo) FindByReceiverAndID(ctx context.Context, receiverID, letterID int64) (*model.LetterWithNames, error) {
	l, err := scanLetterWithNames(r.db.QueryRowContext(ctx,
		`SELECT `+letterColumns+`, s.name, r.name FROM `+lettersWithNames+`
		 WHERE l.receiver_id = $1 AND l.id = $2`,
		receiverID, letterID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find received letter: %w", err)
	}
	return l, nil
}

// ListBySender は送信者が送った手紙を受信者名付きで作成順に返す。
func (r *PostgresLetterRepo) ListBySender(ctx context.Context, senderID int64) ([]model.LetterWithNames, error) {
	return r.listWithNames(ctx,
		`SELECT `+letterColumns+`, s.name, r.name FROM `+lettersWithNames+`
		 WHERE l.sender_id = $1
		 ORDER BY l.id`,
		senderID)
}

// compile-time interface check
var _ LetterRepository = (*PostgresLetterRepo)(nil)
