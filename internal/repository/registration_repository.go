package repository

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/lesson_scheduler/internal/model"
	"github.com/Freeeeeet/lesson_scheduler/internal/repository/base"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RegistrationRepository struct {
	*base.Repository
}

func NewRegistrationRepository(pool *pgxpool.Pool) *RegistrationRepository {
	return &RegistrationRepository{Repository: base.NewRepository(pool)}
}

const registrationColumns = `
	r.id, r.group_lesson_id, r.student_id, r.status, r.registered_at, r.attendance_confirmed_at,
	r.cancellation_reason, r.cancelled_at, r.credits_charged, r.updated_at`

// Create создаёт регистрацию. Повторная активная регистрация отсекается уникальным индексом
func (r *RegistrationRepository) Create(ctx context.Context, reg *model.GroupLessonRegistration) error {
	query := `
		INSERT INTO group_lesson_registrations (group_lesson_id, student_id, status, credits_charged)
		VALUES ($1, $2, $3, $4)
		RETURNING id, registered_at, updated_at
	`

	err := r.QueryRow(
		ctx, query,
		reg.GroupLessonID,
		reg.StudentID,
		reg.Status,
		reg.CreditsCharged,
	).Scan(&reg.ID, &reg.RegisteredAt, &reg.UpdatedAt)

	if err != nil {
		if base.IsUniqueViolation(err) {
			return model.Conflict("registration", "Create", "student %d already registered", reg.StudentID)
		}
		return fmt.Errorf("create registration: %w", err)
	}

	return nil
}

// GetByID получает регистрацию по ID
func (r *RegistrationRepository) GetByID(ctx context.Context, id int64) (*model.GroupLessonRegistration, error) {
	query := `SELECT ` + registrationColumns + ` FROM group_lesson_registrations r WHERE r.id = $1`
	return r.getOne(ctx, "get registration by id", query, id)
}

// GetByIDForUpdate получает регистрацию и блокирует строку
func (r *RegistrationRepository) GetByIDForUpdate(ctx context.Context, id int64) (*model.GroupLessonRegistration, error) {
	query := `SELECT ` + registrationColumns + ` FROM group_lesson_registrations r WHERE r.id = $1 FOR UPDATE`
	return r.getOne(ctx, "lock registration", query, id)
}

// GetNonCancelled получает неотменённую регистрацию студента на занятие
func (r *RegistrationRepository) GetNonCancelled(ctx context.Context, groupLessonID, studentID int64) (*model.GroupLessonRegistration, error) {
	query := `
		SELECT ` + registrationColumns + `
		FROM group_lesson_registrations r
		WHERE r.group_lesson_id = $1 AND r.student_id = $2 AND r.status <> 'CANCELLED'
		LIMIT 1
	`
	return r.getOne(ctx, "get registration by student", query, groupLessonID, studentID)
}

func (r *RegistrationRepository) getOne(ctx context.Context, op, query string, args ...any) (*model.GroupLessonRegistration, error) {
	reg, err := scanRegistration(r.QueryRow(ctx, query, args...))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return reg, nil
}

// GetByGroupLessonID получает все регистрации занятия
func (r *RegistrationRepository) GetByGroupLessonID(ctx context.Context, groupLessonID int64) ([]*model.GroupLessonRegistration, error) {
	query := `
		SELECT ` + registrationColumns + `
		FROM group_lesson_registrations r
		WHERE r.group_lesson_id = $1
		ORDER BY r.registered_at, r.id
	`
	return r.list(ctx, "get registrations by group lesson", query, groupLessonID)
}

// GetByStudentID получает все регистрации студента
func (r *RegistrationRepository) GetByStudentID(ctx context.Context, studentID int64) ([]*model.GroupLessonRegistration, error) {
	query := `
		SELECT ` + registrationColumns + `
		FROM group_lesson_registrations r
		WHERE r.student_id = $1
		ORDER BY r.registered_at DESC, r.id DESC
	`
	return r.list(ctx, "get registrations by student", query, studentID)
}

// GetByTeacherID получает регистрации на все групповые занятия учителя
func (r *RegistrationRepository) GetByTeacherID(ctx context.Context, teacherID int64) ([]*model.GroupLessonRegistration, error) {
	query := `
		SELECT ` + registrationColumns + `
		FROM group_lesson_registrations r
		JOIN group_lessons g ON g.id = r.group_lesson_id
		WHERE g.teacher_id = $1
		ORDER BY r.registered_at DESC, r.id DESC
	`
	return r.list(ctx, "get registrations by teacher", query, teacherID)
}

func (r *RegistrationRepository) list(ctx context.Context, op, query string, args ...any) ([]*model.GroupLessonRegistration, error) {
	rows, err := r.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var regs []*model.GroupLessonRegistration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, reg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return regs, nil
}

// CountActive считает регистрации REGISTERED/ATTENDED. Используется для сверки
// денормализованного current_students
func (r *RegistrationRepository) CountActive(ctx context.Context, groupLessonID int64) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM group_lesson_registrations
		WHERE group_lesson_id = $1 AND status IN ('REGISTERED', 'ATTENDED')
	`

	var count int
	if err := r.QueryRow(ctx, query, groupLessonID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count active registrations: %w", err)
	}

	return count, nil
}

// Update сохраняет статус и связанные поля регистрации
func (r *RegistrationRepository) Update(ctx context.Context, reg *model.GroupLessonRegistration) error {
	query := `
		UPDATE group_lesson_registrations
		SET status = $1,
		    attendance_confirmed_at = $2,
		    cancellation_reason = $3,
		    cancelled_at = $4,
		    credits_charged = $5,
		    updated_at = NOW()
		WHERE id = $6
		RETURNING updated_at
	`

	err := r.QueryRow(
		ctx, query,
		reg.Status,
		reg.AttendanceConfirmedAt,
		reg.CancellationReason,
		reg.CancelledAt,
		reg.CreditsCharged,
		reg.ID,
	).Scan(&reg.UpdatedAt)

	if err != nil {
		if base.IsNotFound(err) {
			return fmt.Errorf("registration not found")
		}
		return fmt.Errorf("update registration: %w", err)
	}

	return nil
}

func scanRegistration(row pgx.Row) (*model.GroupLessonRegistration, error) {
	var reg model.GroupLessonRegistration
	err := row.Scan(
		&reg.ID,
		&reg.GroupLessonID,
		&reg.StudentID,
		&reg.Status,
		&reg.RegisteredAt,
		&reg.AttendanceConfirmedAt,
		&reg.CancellationReason,
		&reg.CancelledAt,
		&reg.CreditsCharged,
		&reg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &reg, nil
}
