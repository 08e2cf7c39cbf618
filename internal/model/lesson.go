package model

import "time"

type LessonStatus string

const (
	LessonStatusScheduled LessonStatus = "SCHEDULED"
	LessonStatusCompleted LessonStatus = "COMPLETED"
	LessonStatusCancelled LessonStatus = "CANCELLED"
	LessonStatusMissed    LessonStatus = "MISSED"
)

// IsTerminal из терминального статуса переходов нет
func (s LessonStatus) IsTerminal() bool {
	return s == LessonStatusCompleted || s == LessonStatusCancelled || s == LessonStatusMissed
}

// CancelledBy кто отменил занятие
type CancelledBy string

const (
	CancelledByStudent CancelledBy = "STUDENT"
	CancelledByTeacher CancelledBy = "TEACHER"
	CancelledByManager CancelledBy = "MANAGER"
)

// Valid проверяет значение
func (c CancelledBy) Valid() bool {
	switch c {
	case CancelledByStudent, CancelledByTeacher, CancelledByManager:
		return true
	}
	return false
}

// Lesson индивидуальное занятие студента с учителем
type Lesson struct {
	ID                 int64        `json:"id"`
	StudentID          int64        `json:"student_id"`
	TeacherID          int64        `json:"teacher_id"`
	SlotID             *int64       `json:"slot_id"` // nil для занятий, созданных менеджером
	ScheduledAt        time.Time    `json:"scheduled_at"`
	DurationMinutes    int          `json:"duration_minutes"`
	Status             LessonStatus `json:"status"`
	Notes              string       `json:"notes"`
	CancellationReason string       `json:"cancellation_reason"`
	CancelledBy        *CancelledBy `json:"cancelled_by"`
	CancelledAt        *time.Time   `json:"cancelled_at"`
	ConfirmedByTeacher bool         `json:"confirmed_by_teacher"`
	CreditsCharged     int          `json:"credits_charged"` // сколько уроков списано с пакетов
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// CanTransition допустим ли переход из текущего статуса
func (l *Lesson) CanTransition(to LessonStatus) bool {
	if l.Status != LessonStatusScheduled {
		return false
	}
	return to.IsTerminal()
}
