package service

import (
	"testing"
	"time"

	"github.com/Freeeeeet/lesson_scheduler/internal/events"
	"github.com/Freeeeeet/lesson_scheduler/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookAndCancelLesson(t *testing.T) {
	f := newFixture(t, DefaultCreditPolicy())
	pkg := f.buyPackage(t, f.student.ID, 5)
	slot := f.newSlot(t, 24)

	lesson, err := f.lessons.BookSlot(f.ctx, f.student.ID, slot.ID, "grammar")
	require.NoError(t, err)
	assert.Equal(t, model.LessonStatusScheduled, lesson.Status)
	assert.Equal(t, f.teacher.ID, lesson.TeacherID)
	require.NotNil(t, lesson.SlotID)
	assert.Equal(t, slot.ID, *lesson.SlotID)
	assert.Equal(t, slot.StartTime, lesson.ScheduledAt)
	assert.Equal(t, 1, lesson.CreditsCharged)
	assert.Equal(t, 4, f.packageRemaining(t, pkg.ID))

	got, err := f.slots.GetSlot(f.ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SlotStatusBooked, got.Status)

	cancelled, err := f.lessons.CancelLesson(f.ctx, lesson.ID, model.CancelledByStudent, "schedule conflict")
	require.NoError(t, err)
	assert.Equal(t, model.LessonStatusCancelled, cancelled.Status)
	assert.Equal(t, "schedule conflict", cancelled.CancellationReason)
	require.NotNil(t, cancelled.CancelledBy)
	assert.Equal(t, model.CancelledByStudent, *cancelled.CancelledBy)
	assert.NotNil(t, cancelled.CancelledAt)

	got, err = f.slots.GetSlot(f.ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SlotStatusAvailable, got.Status)
	assert.False(t, got.Booked)

	// staff_only: отмена студентом не возвращает урок
	assert.Equal(t, 4, f.packageRemaining(t, pkg.ID))

	require.Len(t, f.pub.ofType(events.LessonScheduled), 1)
	cancelEvents := f.pub.ofType(events.LessonCancelled)
	require.Len(t, cancelEvents, 1)
	assert.Equal(t, "STUDENT", cancelEvents[0].CancelledBy)
	assert.Equal(t, slot.ID, cancelEvents[0].SlotID)
}

func TestCancelLesson_RefundPolicy(t *testing.T) {
	tests := []struct {
		name     string
		policy   RefundPolicy
		by       model.CancelledBy
		refunded bool
	}{
		{"staff only teacher", RefundStaffOnly, model.CancelledByTeacher, true},
		{"staff only manager", RefundStaffOnly, model.CancelledByManager, true},
		{"staff only student", RefundStaffOnly, model.CancelledByStudent, false},
		{"always student", RefundAlways, model.CancelledByStudent, true},
		{"never teacher", RefundNever, model.CancelledByTeacher, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := DefaultCreditPolicy()
			policy.Refund = tt.policy
			f := newFixture(t, policy)
			pkg := f.buyPackage(t, f.student.ID, 3)
			slot := f.newSlot(t, 24)

			lesson, err := f.lessons.BookSlot(f.ctx, f.student.ID, slot.ID, "")
			require.NoError(t, err)
			assert.Equal(t, 2, f.packageRemaining(t, pkg.ID))

			cancelled, err := f.lessons.CancelLesson(f.ctx, lesson.ID, tt.by, "")
			require.NoError(t, err)

			if tt.refunded {
				assert.Equal(t, 3, f.packageRemaining(t, pkg.ID))
				assert.Zero(t, cancelled.CreditsCharged)
			} else {
				assert.Equal(t, 2, f.packageRemaining(t, pkg.ID))
				assert.Equal(t, 1, cancelled.CreditsCharged)
			}
		})
	}
}

func TestBookSlot_InsufficientCreditsRollsBack(t *testing.T) {
	f := newFixture(t, DefaultCreditPolicy())
	slot := f.newSlot(t, 24)

	_, err := f.lessons.BookSlot(f.ctx, f.student.ID, slot.ID, "")
	require.Error(t, err)
	assert.True(t, model.IsInsufficientCredits(err))

	got, err := f.slots.GetSlot(f.ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SlotStatusAvailable, got.Status)
	assert.False(t, got.Booked)

	lessons, err := f.lessons.ListStudentLessons(f.ctx, f.student.ID)
	require.NoError(t, err)
	assert.Empty(t, lessons)
	assert.Empty(t, f.pub.ofType(events.LessonScheduled))
}

func TestBookSlot_Rejects(t *testing.T) {
	f := newFixture(t, noCharge())
	slot := f.newSlot(t, 24)

	_, err := f.lessons.BookSlot(f.ctx, f.student.ID, 404, "")
	assert.True(t, model.IsNotFound(err))

	_, err = f.lessons.BookSlot(f.ctx, 404, slot.ID, "")
	assert.True(t, model.IsNotFound(err))

	_, err = f.lessons.BookSlot(f.ctx, f.teacher.ID, slot.ID, "")
	assert.True(t, model.IsValidation(err))

	_, err = f.slots.BlockSlot(f.ctx, slot.ID)
	require.NoError(t, err)
	_, err = f.lessons.BookSlot(f.ctx, f.student.ID, slot.ID, "")
	assert.True(t, model.IsConflict(err))
}

func TestBookSlot_PastSlot(t *testing.T) {
	f := newFixture(t, noCharge())

	pastSlot := func(status model.SlotStatus) *model.AvailabilitySlot {
		slot := &model.AvailabilitySlot{
			TeacherID:       f.teacher.ID,
			StartTime:       time.Now().Add(-2 * time.Hour),
			DurationMinutes: 60,
		}
		slot.SetStatus(status)
		require.NoError(t, f.store.Slots.Create(f.ctx, slot))
		return slot
	}

	// Занятость слота проверяется раньше его времени
	_, err := f.lessons.BookSlot(f.ctx, f.student.ID, pastSlot(model.SlotStatusBooked).ID, "")
	assert.True(t, model.IsConflict(err), "unexpected error: %v", err)

	_, err = f.lessons.BookSlot(f.ctx, f.student.ID, pastSlot(model.SlotStatusAvailable).ID, "")
	assert.True(t, model.IsValidation(err), "unexpected error: %v", err)
}

func TestBookSlot_ConcurrentStudentsSingleWinner(t *testing.T) {
	f := newFixture(t, DefaultCreditPolicy())
	slot := f.newSlot(t, 24)

	students := make([]*model.User, 10)
	for i := range students {
		students[i] = f.newUser(t, false)
		f.buyPackage(t, students[i].ID, 1)
	}

	errs := runConcurrently(len(students), func(i int) error {
		_, err := f.lessons.BookSlot(f.ctx, students[i].ID, slot.ID, "")
		return err
	})

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, model.IsConflict(err), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, wins)

	lessons, err := f.lessons.ListTeacherLessons(f.ctx, f.teacher.ID)
	require.NoError(t, err)
	assert.Len(t, lessons, 1)

	// Проигравшие не потеряли уроки
	total := 0
	for _, s := range students {
		n, err := f.packages.RemainingCredits(f.ctx, s.ID)
		require.NoError(t, err)
		total += n
	}
	assert.Equal(t, len(students)-1, total)
}

func TestLessonStateMachineClosure(t *testing.T) {
	f := newFixture(t, noCharge())

	book := func(hours int) *model.Lesson {
		lesson, err := f.lessons.BookSlot(f.ctx, f.student.ID, f.newSlot(t, hours).ID, "")
		require.NoError(t, err)
		return lesson
	}

	completed := book(24)
	lesson, err := f.lessons.CompleteLesson(f.ctx, completed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LessonStatusCompleted, lesson.Status)
	assert.True(t, lesson.ConfirmedByTeacher)

	missed := book(26)
	lesson, err = f.lessons.MarkMissed(f.ctx, missed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LessonStatusMissed, lesson.Status)

	cancelled := book(28)
	_, err = f.lessons.CancelLesson(f.ctx, cancelled.ID, model.CancelledByManager, "")
	require.NoError(t, err)

	for _, id := range []int64{completed.ID, missed.ID, cancelled.ID} {
		_, err = f.lessons.CompleteLesson(f.ctx, id)
		assert.True(t, model.IsInvalidState(err))
		_, err = f.lessons.MarkMissed(f.ctx, id)
		assert.True(t, model.IsInvalidState(err))
		_, err = f.lessons.CancelLesson(f.ctx, id, model.CancelledByTeacher, "")
		assert.True(t, model.IsInvalidState(err))
	}

	assert.Len(t, f.pub.ofType(events.LessonCompleted), 1)
	assert.Len(t, f.pub.ofType(events.LessonMissed), 1)
}

func TestCancelLesson_UnknownCancelledBy(t *testing.T) {
	f := newFixture(t, noCharge())
	lesson, err := f.lessons.BookSlot(f.ctx, f.student.ID, f.newSlot(t, 24).ID, "")
	require.NoError(t, err)

	_, err = f.lessons.CancelLesson(f.ctx, lesson.ID, model.CancelledBy("ROBOT"), "")
	assert.True(t, model.IsValidation(err))
}

func TestCreateUpdateDeleteLesson(t *testing.T) {
	f := newFixture(t, DefaultCreditPolicy())
	f.buyPackage(t, f.student.ID, 2)

	lesson, err := f.lessons.CreateLesson(f.ctx, CreateLessonInput{
		StudentID:       f.student.ID,
		TeacherID:       f.teacher.ID,
		ScheduledAt:     futureHour(24),
		DurationMinutes: 45,
	})
	require.NoError(t, err)
	assert.Nil(t, lesson.SlotID)
	assert.Equal(t, 1, lesson.CreditsCharged)

	notes := "bring the workbook"
	newTime := futureHour(30)
	updated, err := f.lessons.UpdateLesson(f.ctx, lesson.ID, UpdateLessonInput{Notes: &notes, ScheduledAt: &newTime})
	require.NoError(t, err)
	assert.Equal(t, notes, updated.Notes)
	assert.Equal(t, newTime, updated.ScheduledAt)

	err = f.lessons.DeleteLesson(f.ctx, lesson.ID)
	assert.True(t, model.IsInvalidState(err), "scheduled lesson must be cancelled first")

	_, err = f.lessons.CancelLesson(f.ctx, lesson.ID, model.CancelledByManager, "")
	require.NoError(t, err)

	_, err = f.lessons.UpdateLesson(f.ctx, lesson.ID, UpdateLessonInput{Notes: &notes})
	assert.True(t, model.IsInvalidState(err))

	require.NoError(t, f.lessons.DeleteLesson(f.ctx, lesson.ID))
	_, err = f.lessons.GetLesson(f.ctx, lesson.ID)
	assert.True(t, model.IsNotFound(err))
}

func TestCreateLesson_Validation(t *testing.T) {
	f := newFixture(t, noCharge())

	_, err := f.lessons.CreateLesson(f.ctx, CreateLessonInput{
		StudentID:       f.student.ID,
		TeacherID:       f.teacher.ID,
		ScheduledAt:     time.Now().Add(-time.Hour),
		DurationMinutes: 60,
	})
	assert.True(t, model.IsValidation(err))

	_, err = f.lessons.CreateLesson(f.ctx, CreateLessonInput{
		StudentID:       f.student.ID,
		TeacherID:       f.teacher.ID,
		ScheduledAt:     futureHour(24),
		DurationMinutes: 0,
	})
	assert.True(t, model.IsValidation(err))

	_, err = f.lessons.CreateLesson(f.ctx, CreateLessonInput{
		StudentID:       f.teacher.ID,
		TeacherID:       f.teacher.ID,
		ScheduledAt:     futureHour(24),
		DurationMinutes: 60,
	})
	assert.True(t, model.IsValidation(err))
}

func TestUpdateLesson_SlotBoundTimeIsFixed(t *testing.T) {
	f := newFixture(t, noCharge())
	lesson, err := f.lessons.BookSlot(f.ctx, f.student.ID, f.newSlot(t, 24).ID, "")
	require.NoError(t, err)

	newTime := futureHour(40)
	_, err = f.lessons.UpdateLesson(f.ctx, lesson.ID, UpdateLessonInput{ScheduledAt: &newTime})
	assert.True(t, model.IsInvalidState(err))

	notes := "ok"
	updated, err := f.lessons.UpdateLesson(f.ctx, lesson.ID, UpdateLessonInput{Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, "ok", updated.Notes)
}
