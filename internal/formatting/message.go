package formatting

import (
	"fmt"
	"strings"
	"time"

	"github.com/Freeeeeet/lesson_scheduler/internal/events"
	"github.com/Freeeeeet/lesson_scheduler/internal/model"
)

// Message текст уведомления для пользователя. Пустая строка, если
// событие не предназначено для показа
func Message(ev events.Event) string {
	var b strings.Builder

	switch ev.Type {
	case events.LessonScheduled:
		fmt.Fprintf(&b, "%s занятие\n", LessonStatus(model.LessonStatusScheduled))
		fmt.Fprintf(&b, "Когда: %s", When(ev.ScheduledAt, ev.DurationMinutes))
	case events.LessonCancelled:
		fmt.Fprintf(&b, "%s занятие\n", LessonStatus(model.LessonStatusCancelled))
		fmt.Fprintf(&b, "Когда: %s\n", When(ev.ScheduledAt, ev.DurationMinutes))
		fmt.Fprintf(&b, "Отменил: %s", CancelledBy(ev.CancelledBy))
		if ev.SlotID != 0 {
			fmt.Fprintf(&b, "\nСлот: %s", SlotStatus(model.SlotStatusAvailable))
		}
		writeReason(&b, ev.Reason)
	case events.LessonCompleted:
		fmt.Fprintf(&b, "%s занятие %s", LessonStatus(model.LessonStatusCompleted), FormatDateTime(ev.ScheduledAt))
	case events.LessonMissed:
		fmt.Fprintf(&b, "%s занятие %s", LessonStatus(model.LessonStatusMissed), FormatDateTime(ev.ScheduledAt))
	case events.PackageLow:
		fmt.Fprintf(&b, "⚠️ В пакете осталось %d %s", ev.Remaining, PluralizeLessons(ev.Remaining))
	case events.GroupSeatBooked:
		fmt.Fprintf(&b, "%s на «%s»\n", RegistrationStatus(model.RegistrationStatusRegistered), ev.Topic)
		fmt.Fprintf(&b, "Когда: %s", When(ev.ScheduledAt, ev.DurationMinutes))
		if ev.Capacity != nil {
			fmt.Fprintf(&b, "\nСвободно: %s", Capacity(*ev.Capacity))
		}
	case events.GroupSeatCancelled:
		fmt.Fprintf(&b, "%s: «%s»", RegistrationStatus(model.RegistrationStatusCancelled), ev.Topic)
		writeReason(&b, ev.Reason)
	case events.GroupLessonCancelled:
		fmt.Fprintf(&b, "%s групповое занятие «%s» %s",
			GroupLessonStatus(model.GroupLessonStatusCancelled), ev.Topic, FormatDateTime(ev.ScheduledAt))
		writeReason(&b, ev.Reason)
	case events.GroupLessonPostponed:
		fmt.Fprintf(&b, "%s групповое занятие «%s», новое время сообщим отдельно",
			GroupLessonStatus(model.GroupLessonStatusPostponed), ev.Topic)
		writeReason(&b, ev.Reason)
	case events.GroupLessonRescheduled:
		fmt.Fprintf(&b, "📅 Новое время занятия «%s»: %s", ev.Topic, When(ev.ScheduledAt, ev.DurationMinutes))
	default:
		return ""
	}

	return b.String()
}

// When дата с днём недели и интервал занятия. Без длительности только дата и время начала
func When(start time.Time, durationMinutes int) string {
	if durationMinutes <= 0 {
		return FormatDateTime(start)
	}
	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	return fmt.Sprintf("%s %s (%s)",
		FormatDateWithWeekday(start), FormatTimeRange(start, end), FormatDuration(durationMinutes))
}

// Capacity свободные места для показа
func Capacity(c model.Capacity) string {
	if c.Unlimited {
		return "без ограничений"
	}
	return fmt.Sprintf("%d %s", c.Spaces, PluralizeSeats(c.Spaces))
}

func writeReason(b *strings.Builder, reason string) {
	if reason != "" {
		fmt.Fprintf(b, "\nПричина: %s", reason)
	}
}
