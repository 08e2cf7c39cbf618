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

// slotCalendarLockSpace пространство advisory-блокировок календаря учителя
const slotCalendarLockSpace = 7001

type SlotRepository struct {
	*base.Repository
}

func NewSlotRepository(pool *pgxpool.Pool) *SlotRepository {
	return &SlotRepository{Repository: base.NewRepository(pool)}
}

const slotColumns = `id, teacher_id, start_time, duration_minutes, status, booked, created_at, updated_at`

// Create создаёт новый слот
func (r *SlotRepository) Create(ctx context.Context, slot *model.AvailabilitySlot) error {
	query := `
		INSERT INTO availability_slots (teacher_id, start_time, duration_minutes, status, booked)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	err := r.QueryRow(
		ctx, query,
		slot.TeacherID,
		slot.StartTime,
		slot.DurationMinutes,
		slot.Status,
		slot.Booked,
	).Scan(&slot.ID, &slot.CreatedAt, &slot.UpdatedAt)

	if err != nil {
		return fmt.Errorf("create slot: %w", err)
	}

	return nil
}

// GetByID получает слот по ID
func (r *SlotRepository) GetByID(ctx context.Context, id int64) (*model.AvailabilitySlot, error) {
	query := `SELECT ` + slotColumns + ` FROM availability_slots WHERE id = $1`
	return r.getOne(ctx, "get slot by id", query, id)
}

// GetByIDForUpdate получает слот и блокирует строку до конца транзакции
func (r *SlotRepository) GetByIDForUpdate(ctx context.Context, id int64) (*model.AvailabilitySlot, error) {
	query := `SELECT ` + slotColumns + ` FROM availability_slots WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, "lock slot", query, id)
}

func (r *SlotRepository) getOne(ctx context.Context, op, query string, args ...any) (*model.AvailabilitySlot, error) {
	slot, err := scanSlot(r.QueryRow(ctx, query, args...))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return slot, nil
}

// GetByTeacherID получает все слоты учителя за период
func (r *SlotRepository) GetByTeacherID(ctx context.Context, teacherID int64, from, to time.Time) ([]*model.AvailabilitySlot, error) {
	query := `
		SELECT ` + slotColumns + `
		FROM availability_slots
		WHERE teacher_id = $1
		  AND start_time >= $2
		  AND start_time < $3
		ORDER BY start_time
	`
	return r.list(ctx, "get slots by teacher", query, teacherID, from, to)
}

// GetAvailable получает свободные слоты учителя за период
func (r *SlotRepository) GetAvailable(ctx context.Context, teacherID int64, from, to time.Time) ([]*model.AvailabilitySlot, error) {
	query := `
		SELECT ` + slotColumns + `
		FROM availability_slots
		WHERE teacher_id = $1
		  AND status = 'AVAILABLE'
		  AND start_time >= $2
		  AND start_time < $3
		ORDER BY start_time
	`
	return r.list(ctx, "get available slots", query, teacherID, from, to)
}

// FindOverlapping ищет слоты учителя, пересекающиеся с интервалом [start, end)
func (r *SlotRepository) FindOverlapping(ctx context.Context, teacherID int64, start, end time.Time) ([]*model.AvailabilitySlot, error) {
	query := `
		SELECT ` + slotColumns + `
		FROM availability_slots
		WHERE teacher_id = $1
		  AND start_time < $3
		  AND start_time + make_interval(mins => duration_minutes) > $2
		ORDER BY start_time
	`
	return r.list(ctx, "find overlapping slots", query, teacherID, start, end)
}

func (r *SlotRepository) list(ctx context.Context, op, query string, args ...any) ([]*model.AvailabilitySlot, error) {
	rows, err := r.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var slots []*model.AvailabilitySlot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		slots = append(slots, slot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return slots, nil
}

// LockTeacherCalendar сериализует создание слотов одного учителя до конца транзакции
func (r *SlotRepository) LockTeacherCalendar(ctx context.Context, teacherID int64) error {
	_, err := r.Conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, slotCalendarLockSpace, int32(teacherID))
	if err != nil {
		return fmt.Errorf("lock teacher calendar: %w", err)
	}
	return nil
}

// TransitionStatus меняет статус только если текущий равен from.
// Возвращает false, если слот уже в другом статусе
func (r *SlotRepository) TransitionStatus(ctx context.Context, slotID int64, from, to model.SlotStatus) (bool, error) {
	query := `
		UPDATE availability_slots
		SET status = $1, booked = ($1 = 'BOOKED'), updated_at = NOW()
		WHERE id = $2 AND status = $3
	`

	affected, err := r.ExecAffected(ctx, query, to, slotID, from)
	if err != nil {
		return false, fmt.Errorf("update slot status: %w", err)
	}

	return affected > 0, nil
}

// Delete удаляет слот
func (r *SlotRepository) Delete(ctx context.Context, id int64) error {
	affected, err := r.ExecAffected(ctx, `DELETE FROM availability_slots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("slot not found")
	}

	return nil
}

func scanSlot(row pgx.Row) (*model.AvailabilitySlot, error) {
	var slot model.AvailabilitySlot
	err := row.Scan(
		&slot.ID,
		&slot.TeacherID,
		&slot.StartTime,
		&slot.DurationMinutes,
		&slot.Status,
		&slot.Booked,
		&slot.CreatedAt,
		&slot.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &slot, nil
}
