package model

import (
	"strconv"
	"time"
)

type GroupLessonStatus string

const (
	GroupLessonStatusScheduled  GroupLessonStatus = "SCHEDULED"
	GroupLessonStatusConfirmed  GroupLessonStatus = "CONFIRMED"
	GroupLessonStatusInProgress GroupLessonStatus = "IN_PROGRESS"
	GroupLessonStatusCompleted  GroupLessonStatus = "COMPLETED"
	GroupLessonStatusCancelled  GroupLessonStatus = "CANCELLED"
	GroupLessonStatusPostponed  GroupLessonStatus = "POSTPONED"
)

// IsTerminal завершённое или отменённое занятие больше не меняется
func (s GroupLessonStatus) IsTerminal() bool {
	return s == GroupLessonStatusCompleted || s == GroupLessonStatusCancelled
}

// groupLessonTransitions линейная цепочка статусов.
// CANCELLED и POSTPONED достижимы из любого нетерминального статуса
var groupLessonTransitions = map[GroupLessonStatus][]GroupLessonStatus{
	GroupLessonStatusScheduled:  {GroupLessonStatusConfirmed},
	GroupLessonStatusConfirmed:  {GroupLessonStatusInProgress},
	GroupLessonStatusInProgress: {GroupLessonStatusCompleted},
	GroupLessonStatusPostponed:  {GroupLessonStatusScheduled},
}

// CanTransitionTo допустим ли переход
func (s GroupLessonStatus) CanTransitionTo(to GroupLessonStatus) bool {
	if s.IsTerminal() || s == to {
		return false
	}
	if to == GroupLessonStatusCancelled || to == GroupLessonStatusPostponed {
		return true
	}
	for _, next := range groupLessonTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// GroupLesson групповое занятие с ограниченным числом мест
type GroupLesson struct {
	ID                 int64             `json:"id"`
	TeacherID          int64             `json:"teacher_id"`
	Topic              string            `json:"topic"`
	Description        string            `json:"description"`
	ScheduledAt        time.Time         `json:"scheduled_at"`
	DurationMinutes    int               `json:"duration_minutes"`
	MaxStudents        *int              `json:"max_students"`     // nil = без ограничений
	CurrentStudents    int               `json:"current_students"` // число регистраций REGISTERED/ATTENDED
	Status             GroupLessonStatus `json:"status"`
	CancellationReason string            `json:"cancellation_reason"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// EndTime время окончания занятия
func (g *GroupLesson) EndTime() time.Time {
	return g.ScheduledAt.Add(time.Duration(g.DurationMinutes) * time.Minute)
}

// AcceptsBookings статус позволяет записываться
func (g *GroupLesson) AcceptsBookings() bool {
	return g.Status == GroupLessonStatusScheduled || g.Status == GroupLessonStatusConfirmed
}

// HasFreeSeat остались ли свободные места
func (g *GroupLesson) HasFreeSeat() bool {
	return g.MaxStudents == nil || g.CurrentStudents < *g.MaxStudents
}

// IsAvailableForBooking можно ли сейчас занять место
func (g *GroupLesson) IsAvailableForBooking() bool {
	return g.AcceptsBookings() && g.HasFreeSeat()
}

// AvailableSpaces число свободных мест
func (g *GroupLesson) AvailableSpaces() Capacity {
	if g.MaxStudents == nil {
		return Capacity{Unlimited: true}
	}
	free := *g.MaxStudents - g.CurrentStudents
	if free < 0 {
		free = 0
	}
	return Capacity{Spaces: free}
}

// Capacity свободные места. При Unlimited поле Spaces не используется
type Capacity struct {
	Unlimited bool `json:"unlimited"`
	Spaces    int  `json:"spaces"`
}

func (c Capacity) String() string {
	if c.Unlimited {
		return "unlimited"
	}
	return strconv.Itoa(c.Spaces)
}

// IncrementStudents занимает место
func (g *GroupLesson) IncrementStudents() {
	g.CurrentStudents++
}

// DecrementStudents освобождает место, не опускаясь ниже нуля
func (g *GroupLesson) DecrementStudents() {
	if g.CurrentStudents > 0 {
		g.CurrentStudents--
	}
}
