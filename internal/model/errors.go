package model

import (
	"errors"
	"fmt"
)

// Базовые виды ошибок, проверяются через errors.Is
var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrInvalidState        = errors.New("invalid state")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrValidation          = errors.New("validation error")
)

// DomainError ошибка предметной области с контекстом операции
type DomainError struct {
	Entity  string // slot, lesson, package, group_lesson, registration, user
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Entity, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Entity, e.Op, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is сопоставляет ошибку с её видом и с вложенной ошибкой
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	return e.Err != nil && errors.Is(e.Err, target)
}

func newError(entity, op string, kind error, format string, args ...any) *DomainError {
	return &DomainError{
		Entity:  entity,
		Op:      op,
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// NotFound entity с указанным id не существует
func NotFound(entity, op string, id int64) *DomainError {
	return newError(entity, op, ErrNotFound, "%s %d not found", entity, id)
}

// Conflict состояние изменено конкурентным участником
func Conflict(entity, op, format string, args ...any) *DomainError {
	return newError(entity, op, ErrConflict, format, args...)
}

// InvalidState переход недопустим из текущего статуса
func InvalidState(entity, op, format string, args ...any) *DomainError {
	return newError(entity, op, ErrInvalidState, format, args...)
}

// InsufficientCredits баланс пакетов не покрывает списание
func InsufficientCredits(op string, requested, available int) *DomainError {
	return newError("package", op, ErrInsufficientCredits,
		"requested %d lessons, only %d available", requested, available)
}

// Validation некорректные входные данные
func Validation(entity, op, format string, args ...any) *DomainError {
	return newError(entity, op, ErrValidation, format, args...)
}

// WrapValidation оборачивает ошибку валидатора
func WrapValidation(entity, op string, err error) *DomainError {
	return &DomainError{
		Entity:  entity,
		Op:      op,
		Kind:    ErrValidation,
		Message: "invalid input",
		Err:     err,
	}
}

// IsNotFound проверяет вид ошибки
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict проверяет вид ошибки
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsInvalidState проверяет вид ошибки
func IsInvalidState(err error) bool { return errors.Is(err, ErrInvalidState) }

// IsInsufficientCredits проверяет вид ошибки
func IsInsufficientCredits(err error) bool { return errors.Is(err, ErrInsufficientCredits) }

// IsValidation проверяет вид ошибки
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
