package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/chanhub/internal/model"
)

// userColumns はusersテーブルからUserを復元する際のSELECT列。
const userColumns = `id, username, email, fullname, avatar, cover_image, password_hash,
	refresh_token, refresh_token_expires_at, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	)
	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByUsernameOrEmail はusernameまたはemailが一致するユーザーを取得する。
func (r *PostgresUserRepo) FindByUsernameOrEmail(ctx context.Context, username, email string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE ($1 <> '' AND username = $1) OR ($2 <> '' AND email = $2)
		 LIMIT 1`,
		username, email,
	)
	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by username or email: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (username, email, fullname, avatar, cover_image, password_hash)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		user.Username, user.Email, user.Fullname, user.Avatar, user.CoverImage, user.PasswordHash,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// UpdateRefreshToken は保存済みリフレッシュトークンを置き換える。
func (r *PostgresUserRepo) UpdateRefreshToken(ctx context.Context, id string, token *string, expiresAt *time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET refresh_token = $2, refresh_token_expires_at = $3, updated_at = now()
		 WHERE id = $1`,
		id, nullString(token), nullTime(expiresAt),
	)
	if err != nil {
		return fmt.Errorf("failed to update refresh token: %w", err)
	}
	return nil
}

// RotateRefreshToken は保存済みトークンがpresentedと一致する場合のみnextへ置き換える。
func (r *PostgresUserRepo) RotateRefreshToken(ctx context.Context, id, presented, next string, expiresAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET refresh_token = $3, refresh_token_expires_at = $4, updated_at = now()
		 WHERE id = $1 AND refresh_token = $2`,
		id, presented, next, expiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to rotate refresh token: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// UpdatePassword はパスワードハッシュを更新する。
func (r *PostgresUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`,
		id, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", id)
	}
	return nil
}

// UpdateAccount はfullname、email、usernameを更新する。
func (r *PostgresUserRepo) UpdateAccount(ctx context.Context, id, fullname, email, username string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE users SET fullname = $2, email = $3, username = $4, updated_at = now()
		 WHERE id = $1
		 RETURNING `+userColumns,
		id, fullname, email, username,
	)
	user, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	return user, nil
}

// UpdateAvatar はavatarのURLを更新する。
func (r *PostgresUserRepo) UpdateAvatar(ctx context.Context, id, url string) (*model.User, error) {
	return r.updateImage(ctx, "avatar", id, url)
}

// UpdateCoverImage はcover_imageのURLを更新する。
func (r *PostgresUserRepo) UpdateCoverImage(ctx context.Context, id, url string) (*model.User, error) {
	return r.updateImage(ctx, "cover_image", id, url)
}

// updateImage は画像URL列を更新する。columnは呼び出し側の固定値のみを受け付ける。
func (r *PostgresUserRepo) updateImage(ctx context.Context, column, id, url string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE users SET `+column+` = $2, updated_at = now()
		 WHERE id = $1
		 RETURNING `+userColumns,
		id, url,
	)
	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", column, err)
	}
	return user, nil
}

// scanUser は1行をUserに変換する。行が存在しない場合は(nil, nil)を返す。
func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	var refreshToken sql.NullString
	var refreshExpiresAt sql.NullTime
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.Fullname, &user.Avatar, &user.CoverImage,
		&user.PasswordHash, &refreshToken, &refreshExpiresAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if refreshToken.Valid {
		token := refreshToken.String
		user.RefreshToken = &token
	}
	if refreshExpiresAt.Valid {
		expiresAt := refreshExpiresAt.Time
		user.RefreshTokenExpiresAt = &expiresAt
	}
	return user, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
