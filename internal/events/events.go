// Package events описывает доменные события, которые ядро расписания
// отправляет после фиксации транзакции. Доставка асинхронная, ядро не ждёт её.
package events

import (
	"context"
	"time"

	"github.com/Freeeeeet/lesson_scheduler/internal/model"
	"github.com/google/uuid"
)

type Type string

const (
	LessonScheduled Type = "lesson.scheduled"
	LessonCancelled Type = "lesson.cancelled"
	LessonCompleted Type = "lesson.completed"
	LessonMissed    Type = "lesson.missed"

	PackageLow Type = "package.low"

	GroupSeatBooked        Type = "group_lesson.seat_booked"
	GroupSeatCancelled     Type = "group_lesson.seat_cancelled"
	GroupLessonCancelled   Type = "group_lesson.cancelled" // отдельное уведомление каждому студенту
	GroupLessonPostponed   Type = "group_lesson.postponed"
	GroupLessonRescheduled Type = "group_lesson.rescheduled"
)

// Event факт, произошедший в ядре. Неиспользуемые поля остаются нулевыми
type Event struct {
	ID              uuid.UUID       `json:"id"`
	Type            Type            `json:"type"`
	OccurredAt      time.Time       `json:"occurred_at"`
	StudentID       int64           `json:"student_id,omitempty"`
	TeacherID       int64           `json:"teacher_id,omitempty"`
	LessonID        int64           `json:"lesson_id,omitempty"`
	SlotID          int64           `json:"slot_id,omitempty"`
	GroupLessonID   int64           `json:"group_lesson_id,omitempty"`
	RegistrationID  int64           `json:"registration_id,omitempty"`
	Topic           string          `json:"topic,omitempty"`
	ScheduledAt     time.Time       `json:"scheduled_at,omitempty"`
	DurationMinutes int             `json:"duration_minutes,omitempty"`
	Capacity        *model.Capacity `json:"capacity,omitempty"` // свободные места группы после события
	Reason          string          `json:"reason,omitempty"`
	CancelledBy     string          `json:"cancelled_by,omitempty"`
	Remaining       int             `json:"remaining"` // 0 тоже значимое значение для PackageLow
}

// New создаёт событие с новым ID
func New(t Type) Event {
	return Event{
		ID:         uuid.New(),
		Type:       t,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher получатель событий. Publish не должен блокироваться на сетевом I/O
// и не возвращает ошибок: сбой доставки не влияет на результат операции
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// PublisherFunc адаптер функции к Publisher
type PublisherFunc func(ctx context.Context, event Event)

func (f PublisherFunc) Publish(ctx context.Context, event Event) { f(ctx, event) }

// Discard publisher, который ничего не делает
var Discard Publisher = PublisherFunc(func(context.Context, Event) {})
