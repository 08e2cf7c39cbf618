package repository

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/lesson_scheduler/internal/model"
	"github.com/Freeeeeet/lesson_scheduler/internal/repository/base"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type LessonRepository struct {
	*base.Repository
}

func NewLessonRepository(pool *pgxpool.Pool) *LessonRepository {
	return &LessonRepository{Repository: base.NewRepository(pool)}
}

const lessonColumns = `
	id, student_id, teacher_id, slot_id, scheduled_at, duration_minutes, status, notes,
	cancellation_reason, cancelled_by, cancelled_at, confirmed_by_teacher, credits_charged,
	created_at, updated_at`

// Create создаёт новое занятие
func (r *LessonRepository) Create(ctx context.Context, lesson *model.Lesson) error {
	query := `
		INSERT INTO lessons (student_id, teacher_id, slot_id, scheduled_at, duration_minutes, status, notes, credits_charged)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`

	err := r.QueryRow(
		ctx, query,
		lesson.StudentID,
		lesson.TeacherID,
		lesson.SlotID,
		lesson.ScheduledAt,
		lesson.DurationMinutes,
		lesson.Status,
		lesson.Notes,
		lesson.CreditsCharged,
	).Scan(&lesson.ID, &lesson.CreatedAt, &lesson.UpdatedAt)

	if err != nil {
		if base.IsUniqueViolation(err) {
			return model.Conflict("lesson", "Create", "slot already has an active lesson")
		}
		return fmt.Errorf("create lesson: %w", err)
	}

	return nil
}

// GetByID получает занятие по ID
func (r *LessonRepository) GetByID(ctx context.Context, id int64) (*model.Lesson, error) {
	query := `SELECT ` + lessonColumns + ` FROM lessons WHERE id = $1`
	return r.getOne(ctx, "get lesson by id", query, id)
}

// GetByIDForUpdate получает занятие и блокирует строку
func (r *LessonRepository) GetByIDForUpdate(ctx context.Context, id int64) (*model.Lesson, error) {
	query := `SELECT ` + lessonColumns + ` FROM lessons WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, "lock lesson", query, id)
}

// GetActiveBySlotID получает запланированное занятие для слота
func (r *LessonRepository) GetActiveBySlotID(ctx context.Context, slotID int64) (*model.Lesson, error) {
	query := `
		SELECT ` + lessonColumns + `
		FROM lessons
		WHERE slot_id = $1 AND status = 'SCHEDULED'
		LIMIT 1
	`
	return r.getOne(ctx, "get lesson by slot", query, slotID)
}

func (r *LessonRepository) getOne(ctx context.Context, op, query string, args ...any) (*model.Lesson, error) {
	lesson, err := scanLesson(r.QueryRow(ctx, query, args...))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return lesson, nil
}

// GetByStudentID получает все занятия студента
func (r *LessonRepository) GetByStudentID(ctx context.Context, studentID int64) ([]*model.Lesson, error) {
	query := `
		SELECT ` + lessonColumns + `
		FROM lessons
		WHERE student_id = $1
		ORDER BY scheduled_at DESC
	`
	return r.list(ctx, "get lessons by student", query, studentID)
}

// GetByTeacherID получает все занятия учителя
func (r *LessonRepository) GetByTeacherID(ctx context.Context, teacherID int64) ([]*model.Lesson, error) {
	query := `
		SELECT ` + lessonColumns + `
		FROM lessons
		WHERE teacher_id = $1
		ORDER BY scheduled_at DESC
	`
	return r.list(ctx, "get lessons by teacher", query, teacherID)
}

func (r *LessonRepository) list(ctx context.Context, op, query string, args ...any) ([]*model.Lesson, error) {
	rows, err := r.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var lessons []*model.Lesson
	for rows.Next() {
		lesson, err := scanLesson(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lesson: %w", err)
		}
		lessons = append(lessons, lesson)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return lessons, nil
}

// Update сохраняет изменяемые поля занятия
func (r *LessonRepository) Update(ctx context.Context, lesson *model.Lesson) error {
	query := `
		UPDATE lessons
		SET scheduled_at = $1,
		    duration_minutes = $2,
		    status = $3,
		    notes = $4,
		    cancellation_reason = $5,
		    cancelled_by = $6,
		    cancelled_at = $7,
		    confirmed_by_teacher = $8,
		    credits_charged = $9,
		    updated_at = NOW()
		WHERE id = $10
		RETURNING updated_at
	`

	err := r.QueryRow(
		ctx, query,
		lesson.ScheduledAt,
		lesson.DurationMinutes,
		lesson.Status,
		lesson.Notes,
		lesson.CancellationReason,
		lesson.CancelledBy,
		lesson.CancelledAt,
		lesson.ConfirmedByTeacher,
		lesson.CreditsCharged,
		lesson.ID,
	).Scan(&lesson.UpdatedAt)

	if err != nil {
		if base.IsNotFound(err) {
			return fmt.Errorf("lesson not found")
		}
		return fmt.Errorf("update lesson: %w", err)
	}

	return nil
}

// Delete удаляет занятие
func (r *LessonRepository) Delete(ctx context.Context, id int64) error {
	affected, err := r.ExecAffected(ctx, `DELETE FROM lessons WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete lesson: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("lesson not found")
	}

	return nil
}

func scanLesson(row pgx.Row) (*model.Lesson, error) {
	var lesson model.Lesson
	err := row.Scan(
		&lesson.ID,
		&lesson.StudentID,
		&lesson.TeacherID,
		&lesson.SlotID,
		&lesson.ScheduledAt,
		&lesson.DurationMinutes,
		&lesson.Status,
		&lesson.Notes,
		&lesson.CancellationReason,
		&lesson.CancelledBy,
		&lesson.CancelledAt,
		&lesson.ConfirmedByTeacher,
		&lesson.CreditsCharged,
		&lesson.CreatedAt,
		&lesson.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &lesson, nil
}
