package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"flowline.dev/auth"
)

// AdminUserStore backs auth.AuthService for the CLI's optional remote
// admin mode (spec §6.7 "flows list --remote"): a small operator roster
// distinct from the flow domain's recipients/profiles, stored in its own
// tables so dropping auth never touches conversation data.
type AdminUserStore struct {
	pool *pgxpool.Pool
}

func NewAdminUserStore(pool *pgxpool.Pool) *AdminUserStore {
	return &AdminUserStore{pool: pool}
}

func (s *AdminUserStore) CreateUser(u *auth.User) error {
	ctx := context.Background()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO admin_users (id, username, email, name, password_hash, roles, enabled, locked, must_change_password, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, u.ID, u.Username, u.Email, u.Name, u.PasswordHash, u.Roles, u.Enabled, u.Locked, u.MustChangePassword, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create admin user %s: %w", u.Username, err)
	}
	return nil
}

func (s *AdminUserStore) scanUser(row pgx.Row) (*auth.User, error) {
	var u auth.User
	var lastLogin *time.Time
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Name, &u.PasswordHash, &u.Roles,
		&u.Enabled, &u.Locked, &u.MustChangePassword, &u.FailedLogins, &u.CreatedAt, &u.UpdatedAt, &lastLogin)
	if err == pgx.ErrNoRows {
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u.LastLoginAt = lastLogin
	u.Context = "https://schema.org"
	u.Type = "Person"
	return &u, nil
}

const userColumns = `id, username, email, name, password_hash, roles, enabled, locked, must_change_password, failed_logins, created_at, updated_at, last_login_at`

func (s *AdminUserStore) GetUser(id string) (*auth.User, error) {
	row := s.pool.QueryRow(context.Background(), `SELECT `+userColumns+` FROM admin_users WHERE id = $1`, id)
	return s.scanUser(row)
}

func (s *AdminUserStore) GetUserByUsername(username string) (*auth.User, error) {
	row := s.pool.QueryRow(context.Background(), `SELECT `+userColumns+` FROM admin_users WHERE username = $1`, username)
	return s.scanUser(row)
}

func (s *AdminUserStore) GetUserByEmail(email string) (*auth.User, error) {
	row := s.pool.QueryRow(context.Background(), `SELECT `+userColumns+` FROM admin_users WHERE email = $1`, email)
	return s.scanUser(row)
}

func (s *AdminUserStore) UpdateUser(u *auth.User) error {
	_, err := s.pool.Exec(context.Background(), `
		UPDATE admin_users SET email=$2, name=$3, password_hash=$4, roles=$5, enabled=$6, locked=$7,
			must_change_password=$8, failed_logins=$9, updated_at=$10, last_login_at=$11
		WHERE id=$1
	`, u.ID, u.Email, u.Name, u.PasswordHash, u.Roles, u.Enabled, u.Locked, u.MustChangePassword, u.FailedLogins, u.UpdatedAt, u.LastLoginAt)
	if err != nil {
		return fmt.Errorf("update admin user %s: %w", u.ID, err)
	}
	return nil
}

func (s *AdminUserStore) DeleteUser(id string) error {
	_, err := s.pool.Exec(context.Background(), `DELETE FROM admin_users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete admin user %s: %w", id, err)
	}
	return nil
}

func (s *AdminUserStore) ListUsers() ([]*auth.User, error) {
	rows, err := s.pool.Query(context.Background(), `SELECT `+userColumns+` FROM admin_users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list admin users: %w", err)
	}
	defer rows.Close()

	var out []*auth.User
	for rows.Next() {
		u, err := s.scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *AdminUserStore) RecordLoginAttempt(username string, success bool) error {
	if success {
		return nil
	}
	_, err := s.pool.Exec(context.Background(), `
		UPDATE admin_users SET failed_logins = failed_logins + 1, updated_at = now() WHERE username = $1
	`, username)
	return err
}

func (s *AdminUserStore) SaveRefreshToken(t *auth.RefreshToken) error {
	_, err := s.pool.Exec(context.Background(), `
		INSERT INTO admin_refresh_tokens (id, user_id, token, expires_at, created_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.UserID, t.Token, t.ExpiresAt, t.CreatedAt, t.Revoked)
	if err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

func (s *AdminUserStore) GetRefreshToken(id string) (*auth.RefreshToken, error) {
	var t auth.RefreshToken
	err := s.pool.QueryRow(context.Background(), `
		SELECT id, user_id, token, expires_at, created_at, revoked FROM admin_refresh_tokens WHERE id = $1
	`, id).Scan(&t.ID, &t.UserID, &t.Token, &t.ExpiresAt, &t.CreatedAt, &t.Revoked)
	if err == pgx.ErrNoRows {
		return nil, auth.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *AdminUserStore) GetRefreshTokensByUserID(userID string) ([]*auth.RefreshToken, error) {
	rows, err := s.pool.Query(context.Background(), `
		SELECT id, user_id, token, expires_at, created_at, revoked FROM admin_refresh_tokens WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.RefreshToken
	for rows.Next() {
		var t auth.RefreshToken
		if err := rows.Scan(&t.ID, &t.UserID, &t.Token, &t.ExpiresAt, &t.CreatedAt, &t.Revoked); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *AdminUserStore) RevokeRefreshToken(id string) error {
	_, err := s.pool.Exec(context.Background(), `UPDATE admin_refresh_tokens SET revoked = true WHERE id = $1`, id)
	return err
}

func (s *AdminUserStore) DeleteExpiredRefreshTokens() error {
	_, err := s.pool.Exec(context.Background(), `DELETE FROM admin_refresh_tokens WHERE expires_at < now()`)
	return err
}

func (s *AdminUserStore) SaveAuditLog(l *auth.AuditLog) error {
	_, err := s.pool.Exec(context.Background(), `
		INSERT INTO admin_audit_logs (id, timestamp, user_id, username, action, success, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, l.ID, l.Timestamp, l.UserID, l.Username, l.Action, l.Success, l.ErrorMessage)
	return err
}

func (s *AdminUserStore) GetAuditLogs(criteria auth.AuditSearchCriteria) ([]*auth.AuditLog, error) {
	limit := criteria.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(context.Background(), `
		SELECT id, timestamp, user_id, username, action, success, error_message FROM admin_audit_logs
		WHERE ($1 = '' OR user_id = $1) AND ($2 = '' OR action = $2)
		ORDER BY timestamp DESC LIMIT $3 OFFSET $4
	`, criteria.UserID, criteria.Action, limit, criteria.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.AuditLog
	for rows.Next() {
		var l auth.AuditLog
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.UserID, &l.Username, &l.Action, &l.Success, &l.ErrorMessage); err != nil {
			return nil, err
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}
