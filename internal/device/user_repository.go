package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// UserRepository reads device owners and their notification settings.
type UserRepository interface {
	// GetUser returns ErrUserNotFound if the user does not exist.
	GetUser(ctx context.Context, id string) (*User, error)

	// GetSettings returns DefaultSettings when the user has none stored.
	GetSettings(ctx context.Context, userID string) (Settings, error)

	CreateUser(ctx context.Context, user *User) error
	SaveSettings(ctx context.Context, userID string, settings Settings) error
}

// SQLiteUserRepository implements UserRepository using SQLite.
type SQLiteUserRepository struct {
	db *sql.DB
}

func NewSQLiteUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

func (r *SQLiteUserRepository) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	var createdAt string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, email, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Username, &u.Email, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("querying user: %w", err)
	}
	if u.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &u, nil
}

func (r *SQLiteUserRepository) GetSettings(ctx context.Context, userID string) (Settings, error) {
	var web, email int
	err := r.db.QueryRowContext(ctx,
		`SELECT web_notification, email_notification FROM user_settings WHERE user_id = ?`, userID,
	).Scan(&web, &email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DefaultSettings(), nil
		}
		return Settings{}, fmt.Errorf("querying user settings: %w", err)
	}
	return Settings{WebNotification: web != 0, EmailNotification: email != 0}, nil
}

// CreateUser inserts a user. An empty ID is generated.
func (r *SQLiteUserRepository) CreateUser(ctx context.Context, user *User) error {
	if user.Username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidDevice)
	}
	if user.ID == "" {
		user.ID = GenerateID()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, created_at) VALUES (?, ?, ?, ?)`,
		user.ID, user.Username, user.Email, user.CreatedAt.Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUserExists
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// SaveSettings upserts a user's notification switches.
func (r *SQLiteUserRepository) SaveSettings(ctx context.Context, userID string, settings Settings) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_settings (user_id, web_notification, email_notification)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			web_notification = excluded.web_notification,
			email_notification = excluded.email_notification`,
		userID, boolToInt(settings.WebNotification), boolToInt(settings.EmailNotification))
	if err != nil {
		if isForeignKeyError(err) {
			return ErrUserNotFound
		}
		return fmt.Errorf("saving user settings: %w", err)
	}
	return nil
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
