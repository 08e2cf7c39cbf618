package model

import "time"

type RegistrationStatus string

const (
	RegistrationStatusRegistered RegistrationStatus = "REGISTERED"
	RegistrationStatusAttended   RegistrationStatus = "ATTENDED"
	RegistrationStatusMissed     RegistrationStatus = "MISSED"
	RegistrationStatusCancelled  RegistrationStatus = "CANCELLED"
)

// IsActive регистрация занимает место в группе
func (s RegistrationStatus) IsActive() bool {
	return s == RegistrationStatusRegistered || s == RegistrationStatusAttended
}

// IsTerminal из MISSED и CANCELLED переходов нет
func (s RegistrationStatus) IsTerminal() bool {
	return s == RegistrationStatusMissed || s == RegistrationStatusCancelled
}

// GroupLessonRegistration место студента в групповом занятии
type GroupLessonRegistration struct {
	ID                    int64              `json:"id"`
	GroupLessonID         int64              `json:"group_lesson_id"`
	StudentID             int64              `json:"student_id"`
	Status                RegistrationStatus `json:"status"`
	RegisteredAt          time.Time          `json:"registered_at"`
	AttendanceConfirmedAt *time.Time         `json:"attendance_confirmed_at"`
	CancellationReason    string             `json:"cancellation_reason"`
	CancelledAt           *time.Time         `json:"cancelled_at"`
	CreditsCharged        int                `json:"credits_charged"`
	UpdatedAt             time.Time          `json:"updated_at"`
}

// CanCancel отменить можно только активную регистрацию
func (r *GroupLessonRegistration) CanCancel() bool {
	return r.Status.IsActive()
}

// CanMarkAttendance отметить посещение можно только из REGISTERED
func (r *GroupLessonRegistration) CanMarkAttendance() bool {
	return r.Status == RegistrationStatusRegistered
}
