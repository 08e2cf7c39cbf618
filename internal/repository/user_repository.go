package repository

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/lesson_scheduler/internal/model"
	"github.com/Freeeeeet/lesson_scheduler/internal/repository/base"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository struct {
	*base.Repository
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{Repository: base.NewRepository(pool)}
}

const userColumns = `id, telegram_id, username, first_name, last_name, is_teacher, created_at`

// Create создаёт нового пользователя
func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	query := `
		INSERT INTO users (telegram_id, username, first_name, last_name, is_teacher)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	var telegramID *int64
	if user.TelegramID != 0 {
		telegramID = &user.TelegramID
	}

	err := r.QueryRow(
		ctx, query,
		telegramID,
		user.Username,
		user.FirstName,
		user.LastName,
		user.IsTeacher,
	).Scan(&user.ID, &user.CreatedAt)

	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	return nil
}

// GetByID получает пользователя по ID
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil // Пользователь не найден
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}

	return user, nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var user model.User
	var telegramID *int64
	err := row.Scan(
		&user.ID,
		&telegramID,
		&user.Username,
		&user.FirstName,
		&user.LastName,
		&user.IsTeacher,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if telegramID != nil {
		user.TelegramID = *telegramID
	}
	return &user, nil
}
