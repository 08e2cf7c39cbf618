package model

import "time"

type SlotStatus string

const (
	SlotStatusAvailable SlotStatus = "AVAILABLE"
	SlotStatusBooked    SlotStatus = "BOOKED"
	SlotStatusBlocked   SlotStatus = "BLOCKED" // учитель недоступен
)

// DefaultSlotDuration длительность слота по умолчанию, в минутах
const DefaultSlotDuration = 60

// AvailabilitySlot единица времени учителя, доступная для записи
type AvailabilitySlot struct {
	ID              int64      `json:"id"`
	TeacherID       int64      `json:"teacher_id"`
	StartTime       time.Time  `json:"start_time"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          SlotStatus `json:"status"`
	Booked          bool       `json:"booked"` // true только при Status == BOOKED
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// EndTime время окончания слота
func (s *AvailabilitySlot) EndTime() time.Time {
	return s.StartTime.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// Overlaps пересекается ли слот с интервалом [start, end)
func (s *AvailabilitySlot) Overlaps(start, end time.Time) bool {
	return s.StartTime.Before(end) && start.Before(s.EndTime())
}

// IsAvailable можно ли забронировать слот
func (s *AvailabilitySlot) IsAvailable() bool {
	return s.Status == SlotStatusAvailable
}

// SetStatus меняет статус, поддерживая флаг Booked
func (s *AvailabilitySlot) SetStatus(status SlotStatus) {
	s.Status = status
	s.Booked = status == SlotStatusBooked
}
