package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/artur/dispatch-bot/internal/database/models"
)

// ErrConflict is returned by Update when a row changed since it was read.
var ErrConflict = errors.New("user was modified concurrently")

// ErrRefererCycle is returned by Update, wrapped together with ErrConflict,
// when the referer links being written would close a cycle with links
// committed since they were read.
var ErrRefererCycle = errors.New("referer link closes a cycle")

const userColumns = `id, chat_id, first_name, last_name, phone_number, referer_id, role, status, language,
	last_step, last_value, temp_client_id, last_message_id, last_update_id, version, created_at, updated_at`

// UserRepository handles user data persistence
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a user on first contact. Creating an already known chat id
// returns the stored record unchanged.
func (r *UserRepository) Create(ctx context.Context, u *models.User) (*models.User, error) {
	if u == nil {
		return nil, fmt.Errorf("user is nil")
	}
	if u.ChatID == 0 {
		return nil, fmt.Errorf("user has no chat id")
	}

	role, status, lang := u.Role, u.Status, u.Language
	if role == "" {
		role = models.RoleUser
	}
	if status == "" {
		status = models.StatusActive
	}
	if lang == "" {
		lang = models.LanguageUz
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO users (chat_id, first_name, last_name, phone_number, role, status, language, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		u.ChatID,
		nullString(u.FirstName),
		nullString(u.LastName),
		nullString(u.Phone),
		role,
		status,
		lang,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return r.GetByChatID(ctx, u.ChatID)
}

// GetByChatID retrieves user by messaging platform chat ID
func (r *UserRepository) GetByChatID(ctx context.Context, chatID int64) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE chat_id = ?`, chatID)
	return scanUser(row)
}

// GetByID retrieves user by internal ID
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// Update persists every given user in one transaction. Each row must still
// carry the version it was read with, otherwise nothing is written and
// ErrConflict is returned. Versions and timestamps are advanced in place on
// success.
func (r *UserRepository) Update(ctx context.Context, users ...*models.User) error {
	if len(users) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	query := `
		UPDATE users SET
			first_name = ?,
			last_name = ?,
			phone_number = ?,
			referer_id = ?,
			role = ?,
			status = ?,
			language = ?,
			last_step = ?,
			last_value = ?,
			temp_client_id = ?,
			last_message_id = ?,
			last_update_id = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND version = ?
	`

	for _, u := range users {
		var step, value sql.NullString
		var target sql.NullInt64
		if u.Dialog != nil {
			step = sql.NullString{String: u.Dialog.Step, Valid: true}
			value = sql.NullString{String: u.Dialog.Value, Valid: true}
			target = sql.NullInt64{Int64: u.Dialog.TargetID, Valid: true}
		}

		res, err := tx.ExecContext(ctx, query,
			nullString(u.FirstName),
			nullString(u.LastName),
			nullString(u.Phone),
			nullInt64(u.RefererID),
			u.Role,
			u.Status,
			u.Language,
			step,
			value,
			target,
			u.LastMessageID,
			u.LastUpdateID,
			now,
			u.ID,
			u.Version,
		)
		if err != nil {
			return fmt.Errorf("failed to update user %d: %w", u.ID, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to update user %d: %w", u.ID, err)
		}
		if n == 0 {
			return fmt.Errorf("user %d: %w", u.ID, ErrConflict)
		}
	}

	for _, u := range users {
		if u.RefererID == 0 {
			continue
		}
		cycle, err := refersBack(ctx, tx, u)
		if err != nil {
			return fmt.Errorf("failed to check referer chain of user %d: %w", u.ID, err)
		}
		if cycle {
			return fmt.Errorf("user %d: %w: %w", u.ID, ErrConflict, ErrRefererCycle)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit users: %w", err)
	}

	for _, u := range users {
		u.Version++
		u.UpdatedAt = now
	}
	return nil
}

// refersBack reports whether walking referer links up from u's referer leads
// back to u. UNION drops repeated rows, so the walk ends on any cycle.
func refersBack(ctx context.Context, tx *sql.Tx, u *models.User) (bool, error) {
	query := `
		WITH RECURSIVE chain(id, referer_id) AS (
			SELECT id, referer_id FROM users WHERE id = ?
			UNION
			SELECT users.id, users.referer_id FROM users JOIN chain ON users.id = chain.referer_id
		)
		SELECT EXISTS(SELECT 1 FROM chain WHERE id = ?)
	`

	var found bool
	if err := tx.QueryRowContext(ctx, query, u.RefererID, u.ID).Scan(&found); err != nil {
		return false, err
	}
	return found, nil
}

// ListStaleDialogs returns chat IDs of users whose dialog has not moved since before.
func (r *UserRepository) ListStaleDialogs(ctx context.Context, before time.Time, limit int) ([]int64, error) {
	query := `
		SELECT chat_id
		FROM users
		WHERE last_step IS NOT NULL AND updated_at < ?
		ORDER BY updated_at
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, before.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale dialogs: %w", err)
	}
	defer rows.Close()

	var chatIDs []int64
	for rows.Next() {
		var chatID int64
		if err := rows.Scan(&chatID); err != nil {
			return nil, fmt.Errorf("failed to scan chat id: %w", err)
		}
		chatIDs = append(chatIDs, chatID)
	}

	return chatIDs, rows.Err()
}

// GetTotalUsers returns total number of unique users
func (r *UserRepository) GetTotalUsers(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count)
	return count, err
}

// CountByRole returns the number of active users per role
func (r *UserRepository) CountByRole(ctx context.Context) (map[models.Role]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT role, COUNT(*) FROM users WHERE status = 'active' GROUP BY role`)
	if err != nil {
		return nil, fmt.Errorf("failed to count users by role: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Role]int64)
	for rows.Next() {
		var role string
		var count int64
		if err := rows.Scan(&role, &count); err != nil {
			return nil, fmt.Errorf("failed to scan role count: %w", err)
		}
		counts[models.Role(role)] = count
	}

	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	var firstName, lastName, phone, step, value sql.NullString
	var refererID, target sql.NullInt64
	var role, status, lang string

	err := row.Scan(
		&user.ID,
		&user.ChatID,
		&firstName,
		&lastName,
		&phone,
		&refererID,
		&role,
		&status,
		&lang,
		&step,
		&value,
		&target,
		&user.LastMessageID,
		&user.LastUpdateID,
		&user.Version,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.FirstName = firstName.String
	user.LastName = lastName.String
	user.Phone = phone.String
	user.RefererID = refererID.Int64
	user.Role = models.Role(role)
	user.Status = models.Status(status)
	user.Language = models.Language(lang)

	if step.Valid {
		user.Dialog = &models.Dialog{
			Step:     step.String,
			Value:    value.String,
			TargetID: target.Int64,
		}
	}

	return user, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
