package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/lesson_scheduler/internal/model"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// validateInput проверяет теги validate и приводит ошибку к ErrValidation
func validateInput(entity, op string, input any) error {
	if err := validate.Struct(input); err != nil {
		return model.WrapValidation(entity, op, err)
	}
	return nil
}

func requirePositive(entity, op, field string, n int) error {
	if n < 1 {
		return model.Validation(entity, op, "%s must be >= 1, got %d", field, n)
	}
	return nil
}

func requireFuture(entity, op string, t time.Time) error {
	if !t.After(time.Now()) {
		return model.Validation(entity, op, "time %s is in the past", t.Format(time.RFC3339))
	}
	return nil
}

// requireUser загружает пользователя или возвращает NotFound
func requireUser(ctx context.Context, users UserStore, entity, op string, id int64) (*model.User, error) {
	user, err := users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, model.NotFound("user", op, id)
	}
	return user, nil
}

// requireTeacher загружает пользователя и проверяет, что он учитель
func requireTeacher(ctx context.Context, users UserStore, entity, op string, id int64) (*model.User, error) {
	user, err := requireUser(ctx, users, entity, op, id)
	if err != nil {
		return nil, err
	}
	if !user.IsTeacher {
		return nil, model.Validation(entity, op, "user %d is not a teacher", id)
	}
	return user, nil
}
