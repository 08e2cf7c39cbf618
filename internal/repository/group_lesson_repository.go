package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/lesson_scheduler/internal/model"
	"github.com/Freeeeeet/lesson_scheduler/internal/repository/base"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type GroupLessonRepository struct {
	*base.Repository
}

func NewGroupLessonRepository(pool *pgxpool.Pool) *GroupLessonRepository {
	return &GroupLessonRepository{Repository: base.NewRepository(pool)}
}

const groupLessonColumns = `
	id, teacher_id, topic, description, scheduled_at, duration_minutes, max_students,
	current_students, status, cancellation_reason, created_at, updated_at`

// Create создаёт групповое занятие
func (r *GroupLessonRepository) Create(ctx context.Context, lesson *model.GroupLesson) error {
	query := `
		INSERT INTO group_lessons (teacher_id, topic, description, scheduled_at, duration_minutes, max_students, current_students, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`

	err := r.QueryRow(
		ctx, query,
		lesson.TeacherID,
		lesson.Topic,
		lesson.Description,
		lesson.ScheduledAt,
		lesson.DurationMinutes,
		lesson.MaxStudents,
		lesson.CurrentStudents,
		lesson.Status,
	).Scan(&lesson.ID, &lesson.CreatedAt, &lesson.UpdatedAt)

	if err != nil {
		if base.IsConstraintViolation(err) {
			return model.Validation("group_lesson", "Create", "capacity must be positive")
		}
		return fmt.Errorf("create group lesson: %w", err)
	}

	return nil
}

// GetByID получает групповое занятие по ID
func (r *GroupLessonRepository) GetByID(ctx context.Context, id int64) (*model.GroupLesson, error) {
	query := `SELECT ` + groupLessonColumns + ` FROM group_lessons WHERE id = $1`
	return r.getOne(ctx, "get group lesson by id", query, id)
}

// GetByIDForUpdate получает занятие и блокирует строку: все проверки
// вместимости выполняются под этой блокировкой
func (r *GroupLessonRepository) GetByIDForUpdate(ctx context.Context, id int64) (*model.GroupLesson, error) {
	query := `SELECT ` + groupLessonColumns + ` FROM group_lessons WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, "lock group lesson", query, id)
}

func (r *GroupLessonRepository) getOne(ctx context.Context, op, query string, args ...any) (*model.GroupLesson, error) {
	lesson, err := scanGroupLesson(r.QueryRow(ctx, query, args...))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return lesson, nil
}

// GetByTeacherID получает групповые занятия учителя за период
func (r *GroupLessonRepository) GetByTeacherID(ctx context.Context, teacherID int64, from, to time.Time) ([]*model.GroupLesson, error) {
	query := `
		SELECT ` + groupLessonColumns + `
		FROM group_lessons
		WHERE teacher_id = $1
		  AND scheduled_at >= $2
		  AND scheduled_at < $3
		ORDER BY scheduled_at
	`
	return r.list(ctx, "get group lessons by teacher", query, teacherID, from, to)
}

// GetAvailable получает занятия учителя, на которые можно записаться
func (r *GroupLessonRepository) GetAvailable(ctx context.Context, teacherID int64, from, to time.Time) ([]*model.GroupLesson, error) {
	query := `
		SELECT ` + groupLessonColumns + `
		FROM group_lessons
		WHERE teacher_id = $1
		  AND scheduled_at >= $2
		  AND scheduled_at < $3
		  AND status IN ('SCHEDULED', 'CONFIRMED')
		  AND (max_students IS NULL OR current_students < max_students)
		ORDER BY scheduled_at
	`
	return r.list(ctx, "get available group lessons", query, teacherID, from, to)
}

// GetOpen получает все незавершённые занятия (для сверки счётчиков)
func (r *GroupLessonRepository) GetOpen(ctx context.Context) ([]*model.GroupLesson, error) {
	query := `
		SELECT ` + groupLessonColumns + `
		FROM group_lessons
		WHERE status NOT IN ('COMPLETED', 'CANCELLED')
		ORDER BY id
	`
	return r.list(ctx, "get open group lessons", query)
}

func (r *GroupLessonRepository) list(ctx context.Context, op, query string, args ...any) ([]*model.GroupLesson, error) {
	rows, err := r.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var lessons []*model.GroupLesson
	for rows.Next() {
		lesson, err := scanGroupLesson(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group lesson: %w", err)
		}
		lessons = append(lessons, lesson)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return lessons, nil
}

// Update сохраняет изменяемые поля занятия, включая счётчик студентов
func (r *GroupLessonRepository) Update(ctx context.Context, lesson *model.GroupLesson) error {
	query := `
		UPDATE group_lessons
		SET topic = $1,
		    description = $2,
		    scheduled_at = $3,
		    duration_minutes = $4,
		    max_students = $5,
		    current_students = $6,
		    status = $7,
		    cancellation_reason = $8,
		    updated_at = NOW()
		WHERE id = $9
		RETURNING updated_at
	`

	err := r.QueryRow(
		ctx, query,
		lesson.Topic,
		lesson.Description,
		lesson.ScheduledAt,
		lesson.DurationMinutes,
		lesson.MaxStudents,
		lesson.CurrentStudents,
		lesson.Status,
		lesson.CancellationReason,
		lesson.ID,
	).Scan(&lesson.UpdatedAt)

	if err != nil {
		if base.IsNotFound(err) {
			return fmt.Errorf("group lesson not found")
		}
		if base.IsConstraintViolation(err) {
			return model.Conflict("group_lesson", "Update", "capacity constraint violated")
		}
		return fmt.Errorf("update group lesson: %w", err)
	}

	return nil
}

func scanGroupLesson(row pgx.Row) (*model.GroupLesson, error) {
	var lesson model.GroupLesson
	err := row.Scan(
		&lesson.ID,
		&lesson.TeacherID,
		&lesson.Topic,
		&lesson.Description,
		&lesson.ScheduledAt,
		&lesson.DurationMinutes,
		&lesson.MaxStudents,
		&lesson.CurrentStudents,
		&lesson.Status,
		&lesson.CancellationReason,
		&lesson.CreatedAt,
		&lesson.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &lesson, nil
}
