package formatting

import "github.com/Freeeeeet/lesson_scheduler/internal/model"

// StatusDisplay отображение статуса
type StatusDisplay struct {
	Emoji string
	Text  string
}

func (d StatusDisplay) String() string {
	return d.Emoji + " " + d.Text
}

var unknownStatus = StatusDisplay{"❓", "Неизвестно"}

var slotStatuses = map[model.SlotStatus]StatusDisplay{
	model.SlotStatusAvailable: {"🟢", "Свободен"},
	model.SlotStatusBooked:    {"🔴", "Занят"},
	model.SlotStatusBlocked:   {"⚫️", "Закрыт"},
}

var lessonStatuses = map[model.LessonStatus]StatusDisplay{
	model.LessonStatusScheduled: {"📅", "Запланировано"},
	model.LessonStatusCompleted: {"✔️", "Проведено"},
	model.LessonStatusCancelled: {"❌", "Отменено"},
	model.LessonStatusMissed:    {"🚫", "Пропущено"},
}

var groupLessonStatuses = map[model.GroupLessonStatus]StatusDisplay{
	model.GroupLessonStatusScheduled:  {"📅", "Запланировано"},
	model.GroupLessonStatusConfirmed:  {"✅", "Подтверждено"},
	model.GroupLessonStatusInProgress: {"▶️", "Идёт"},
	model.GroupLessonStatusCompleted:  {"✔️", "Завершено"},
	model.GroupLessonStatusCancelled:  {"❌", "Отменено"},
	model.GroupLessonStatusPostponed:  {"⏸", "Перенесено"},
}

var registrationStatuses = map[model.RegistrationStatus]StatusDisplay{
	model.RegistrationStatusRegistered: {"📝", "Записан"},
	model.RegistrationStatusAttended:   {"✅", "Присутствовал"},
	model.RegistrationStatusMissed:     {"🚫", "Пропустил"},
	model.RegistrationStatusCancelled:  {"❌", "Запись отменена"},
}

var cancelledBy = map[model.CancelledBy]string{
	model.CancelledByStudent: "студент",
	model.CancelledByTeacher: "преподаватель",
	model.CancelledByManager: "менеджер",
}

// SlotStatus возвращает emoji и текст для статуса слота
func SlotStatus(status model.SlotStatus) StatusDisplay {
	return lookup(slotStatuses, status)
}

// LessonStatus возвращает emoji и текст для статуса занятия
func LessonStatus(status model.LessonStatus) StatusDisplay {
	return lookup(lessonStatuses, status)
}

// GroupLessonStatus возвращает emoji и текст для статуса группового занятия
func GroupLessonStatus(status model.GroupLessonStatus) StatusDisplay {
	return lookup(groupLessonStatuses, status)
}

// RegistrationStatus возвращает emoji и текст для статуса записи
func RegistrationStatus(status model.RegistrationStatus) StatusDisplay {
	return lookup(registrationStatuses, status)
}

// CancelledBy кто отменил, в именительном падеже
func CancelledBy(by string) string {
	if text, ok := cancelledBy[model.CancelledBy(by)]; ok {
		return text
	}
	return "неизвестно"
}

func lookup[K comparable](table map[K]StatusDisplay, key K) StatusDisplay {
	if display, ok := table[key]; ok {
		return display
	}
	return unknownStatus
}
