package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/kernelletter/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, kakao_id, kakao_email, email, name, first_login, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	u := &model.User{}
	err := row.Scan(&u.ID, &u.KakaoID, &u.KakaoEmail, &u.Email, &u.Name, &u.FirstLogin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (r *PostgresUserRepo) findOne(ctx context.Context, where string, arg any) (*model.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where+` ORDER BY id LIMIT 1`, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := r.findOne(ctx, "id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return u, nil
}

// FindByKakaoID は外部プロバイダーのユーザーIDで検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByKakaoID(ctx context.Context, kakaoID string) (*model.User, error) {
	u, err := r.findOne(ctx, "kakao_id = $1", kakaoID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by kakao ID: %w", err)
	}
	return u, nil
}

// FindByName は名前でユーザーを検索する。同名が複数いる場合は最も古いユーザーを返す。
func (r *PostgresUserRepo) FindByName(ctx context.Context, name string) (*model.User, error) {
	u, err := r.findOne(ctx, "name = $1", name)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by name: %w", err)
	}
	return u, nil
}

// Create はユーザーを作成し、採番されたIDとタイムスタンプをuserに設定する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (kakao_id, kakao_email, email, name, first_login)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at, updated_at`,
		user.KakaoID, user.KakaoEmail, user.Email, user.Name, user.FirstLogin,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if mapped := translateUniqueViolation(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// CompleteRegistration は名前と通知用メールを設定し、first_loginをfalseにする。
// 対象ユーザーが存在しない場合はnilを返す。
func (r *PostgresUserRepo) CompleteRegistration(ctx context.Context, id int64, name, email string) (*model.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx,
		`UPDATE users
		 SET name = $2, email = $3, first_login = false, updated_at = now()
		 WHERE id = $1
		 RETURNING `+userColumns,
		id, name, email,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to complete registration: %w", err)
	}
	return u, nil
}

// ListWithEmail は通知用メールが設定された全ユーザーをID順に返す。
func (r *PostgresUserRepo) ListWithEmail(ctx context.Context) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email <> '' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
