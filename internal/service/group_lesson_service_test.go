package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Freeeeeet/lesson_scheduler/internal/events"
	"github.com/Freeeeeet/lesson_scheduler/internal/model"
	"github.com/Freeeeeet/lesson_scheduler/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCreateGroupLesson(t *testing.T) {
	f := newFixture(t, noCharge())

	lesson := f.newGroupLesson(t, intPtr(5))
	assert.Equal(t, model.GroupLessonStatusScheduled, lesson.Status)
	assert.Zero(t, lesson.CurrentStudents)
	assert.Equal(t, model.Capacity{Spaces: 5}, f.groups.AvailableSpaces(lesson))

	unlimited := f.newGroupLesson(t, nil)
	assert.Equal(t, model.Capacity{Unlimited: true}, f.groups.AvailableSpaces(unlimited))
}

func TestCreateGroupLesson_Validation(t *testing.T) {
	f := newFixture(t, noCharge())

	valid := func() CreateGroupLessonInput {
		return CreateGroupLessonInput{
			TeacherID:       f.teacher.ID,
			Topic:           "Phrasal verbs",
			ScheduledAt:     futureHour(24),
			DurationMinutes: 60,
		}
	}

	zeroCapacity := valid()
	zeroCapacity.MaxStudents = intPtr(0)
	past := valid()
	past.ScheduledAt = time.Now().Add(-time.Hour)
	noDuration := valid()
	noDuration.DurationMinutes = -30
	noTopic := valid()
	noTopic.Topic = ""
	student := valid()
	student.TeacherID = f.student.ID

	for name, in := range map[string]CreateGroupLessonInput{
		"zero capacity":   zeroCapacity,
		"past":            past,
		"negative length": noDuration,
		"empty topic":     noTopic,
		"not a teacher":   student,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.groups.CreateGroupLesson(f.ctx, in)
			assert.True(t, model.IsValidation(err), "unexpected error: %v", err)
		})
	}
}

func TestGroupBooking_CapacityUnderConcurrency(t *testing.T) {
	f := newFixture(t, noCharge())
	lesson := f.newGroupLesson(t, intPtr(2))

	_, err := f.groups.BookSlot(f.ctx, lesson.ID, f.student.ID)
	require.NoError(t, err)

	students := []*model.User{f.newUser(t, false), f.newUser(t, false), f.newUser(t, false)}
	errs := runConcurrently(len(students), func(i int) error {
		_, err := f.groups.BookSlot(f.ctx, lesson.ID, students[i].ID)
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

	got, err := f.groups.GetGroupLesson(f.ctx, lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentStudents)

	active, err := f.groups.CountActiveRegistrations(f.ctx, lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, got.CurrentStudents, active)

	available, err := f.groups.IsSlotAvailableForBooking(f.ctx, lesson.ID)
	require.NoError(t, err)
	assert.False(t, available)
}

func TestGroupBooking_ManyConcurrentUnlimited(t *testing.T) {
	f := newFixture(t, noCharge())
	lesson := f.newGroupLesson(t, nil)

	students := make([]*model.User, 15)
	for i := range students {
		students[i] = f.newUser(t, false)
	}
	errs := runConcurrently(len(students), func(i int) error {
		_, err := f.groups.BookSlot(f.ctx, lesson.ID, students[i].ID)
		return err
	})
	for _, err := range errs {
		assert.NoError(t, err)
	}

	got, err := f.groups.GetGroupLesson(f.ctx, lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, len(students), got.CurrentStudents)
}

func TestGroupBooking_Uniqueness(t *testing.T) {
	f := newFixture(t, noCharge())
	lesson := f.newGroupLesson(t, intPtr(10))

	reg, err := f.groups.BookSlot(f.ctx, lesson.ID, f.student.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RegistrationStatusRegistered, reg.Status)

	_, err = f.groups.BookSlot(f.ctx, lesson.ID, f.student.ID)
	assert.True(t, model.IsConflict(err))

	_, err = f.groups.CancelBooking(f.ctx, reg.ID, "changed plans")
	require.NoError(t, err)

	again, err := f.groups.BookSlot(f.ctx, lesson.ID, f.student.ID)
	require.NoError(t, err)
	assert.NotEqual(t, reg.ID, again.ID)

	got, err := f.groups.GetGroupLesson(f.ctx, lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentStudents)
}

func TestGroupBooking_Rejects(t *testing.T) {
	f := newFixture(t, noCharge())
	lesson := f.newGroupLesson(t, intPtr(3))

	_, err := f.groups.BookSlot(f.ctx, 404, f.student.ID)
	assert.True(t, model.IsNotFound(err))

	_, err = f.groups.BookSlot(f.ctx, lesson.ID, f.teacher.ID)
	assert.True(t, model.IsValidation(err))

	_, err = f.groups.PostponeLesson(f.ctx, lesson.ID, "")
	require.NoError(t, err)
	_, err = f.groups.BookSlot(f.ctx, lesson.ID, f.student.ID)
	assert.True(t, model.IsConflict(err))
}

func TestGroupBooking_ChargesAndRefunds(t *testing.T) {
	policy := DefaultCreditPolicy()
	policy.Refund = RefundStaffOnly
	f := newFixture(t, policy)
	pkg := f.buyPackage(t, f.student.ID, 2)
	lesson := f.newGroupLesson(t, intPtr(3))

	reg, err := f.groups.BookSlot(f.ctx, lesson.ID, f.student.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reg.CreditsCharged)
	assert.Equal(t, 1, f.packageRemaining(t, pkg.ID))

	// Студент отменил сам: без возврата
	_, err = f.groups.CancelBooking(f.ctx, reg.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 1, f.packageRemaining(t, pkg.ID))

	// Без уроков запись откатывается целиком
	poor := f.newUser(t, false)
	_, err = f.groups.BookSlot(f.ctx, lesson.ID, poor.ID)
	assert.True(t, model.IsInsufficientCredits(err))

	got, err := f.groups.GetGroupLesson(f.ctx, lesson.ID)
	require.NoError(t, err)
	assert.Zero(t, got.CurrentStudents)
	regs, err := f.groups.ListStudentRegistrations(f.ctx, poor.ID)
	require.NoError(t, err)
	assert.Empty(t, regs)
}

func TestCancelBooking(t *testing.T) {
	f := newFixture(t, noCharge())
	lesson := f.newGroupLesson(t, intPtr(3))

	reg, err := f.groups.BookSlot(f.ctx, lesson.ID, f.student.ID)
	require.NoError(t, err)

	cancelled, err := f.groups.CancelBooking(f.ctx, reg.ID, "sick")
	require.NoError(t, err)
	assert.Equal(t, model.RegistrationStatusCancelled, cancelled.Status)
	assert.Equal(t, "sick", cancelled.CancellationReason)
	assert.NotNil(t, cancelled.CancelledAt)

	_, err = f.groups.CancelBooking(f.ctx, reg.ID, "")
	assert.True(t, model.IsInvalidState(err))

	_, err = f.groups.CancelBooking(f.ctx, 404, "")
	assert.True(t, model.IsNotFound(err))

	got, err := f.groups.GetGroupLesson(f.ctx, lesson.ID)
	require.NoError(t, err)
	assert.Zero(t, got.CurrentStudents)

	require.Len(t, f.pub.ofType(events.GroupSeatBooked), 1)
	require.Len(t, f.pub.ofType(events.GroupSeatCancelled), 1)
}

func TestMarkAttendance(t *testing.T) {
	f := newFixture(t, noCharge())
	lesson := f.newGroupLesson(t, intPtr(3))
	other := f.newUser(t, false)

	attended, err := f.groups.BookSlot(f.ctx, lesson.ID, f.student.ID)
	require.NoError(t, err)
	missed, err := f.groups.BookSlot(f.ctx, lesson.ID, other.ID)
	require.NoError(t, err)

	reg, err := f.groups.MarkAsAttended(f.ctx, attended.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RegistrationStatusAttended, reg.Status)
	assert.NotNil(t, reg.AttendanceConfirmedAt)

	reg, err = f.groups.MarkAsMissed(f.ctx, missed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RegistrationStatusMissed, reg.Status)

	got, err := f.groups.GetGroupLesson(f.ctx, lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentStudents, "missed seat is not counted")

	_, err = f.groups.MarkAsMissed(f.ctx, attended.ID)
	assert.True(t, model.IsInvalidState(err))
	_, err = f.groups.MarkAsAttended(f.ctx, missed.ID)
	assert.True(t, model.IsInvalidState(err))
	_, err = f.groups.CancelBooking(f.ctx, missed.ID, "")
	assert.True(t, model.IsInvalidState(err), "missed is terminal")

	// Пропуск по-прежнему блокирует повторную запись
	_, err = f.groups.BookSlot(f.ctx, lesson.ID, other.ID)
	assert.True(t, model.IsConflict(err))

	// Посетивший студент может отменить запись
	_, err = f.groups.CancelBooking(f.ctx, attended.ID, "")
	require.NoError(t, err)
}

func TestGroupLessonTransitions(t *testing.T) {
	f := newFixture(t, noCharge())
	lesson := f.newGroupLesson(t, nil)

	_, err := f.groups.StartLesson(f.ctx, lesson.ID)
	assert.True(t, model.IsInvalidState(err), "cannot skip confirmation")

	for _, step := range []struct {
		run  func() (*model.GroupLesson, error)
		want model.GroupLessonStatus
	}{
		{func() (*model.GroupLesson, error) { return f.groups.ConfirmLesson(f.ctx, lesson.ID) }, model.GroupLessonStatusConfirmed},
		{func() (*model.GroupLesson, error) { return f.groups.StartLesson(f.ctx, lesson.ID) }, model.GroupLessonStatusInProgress},
		{func() (*model.GroupLesson, error) { return f.groups.CompleteLesson(f.ctx, lesson.ID) }, model.GroupLessonStatusCompleted},
	} {
		got, err := step.run()
		require.NoError(t, err)
		assert.Equal(t, step.want, got.Status)
	}

	_, err = f.groups.CancelLesson(f.ctx, lesson.ID, "")
	assert.True(t, model.IsInvalidState(err))
	_, err = f.groups.PostponeLesson(f.ctx, lesson.ID, "")
	assert.True(t, model.IsInvalidState(err))
	_, err = f.groups.UpdateGroupLesson(f.ctx, lesson.ID, UpdateGroupLessonInput{MaxStudents: intPtr(3)})
	assert.True(t, model.IsInvalidState(err))
}

func TestPostponeAndReschedule(t *testing.T) {
	f := newFixture(t, noCharge())
	lesson := f.newGroupLesson(t, intPtr(4))
	_, err := f.groups.BookSlot(f.ctx, lesson.ID, f.student.ID)
	require.NoError(t, err)

	_, err = f.groups.ConfirmLesson(f.ctx, lesson.ID)
	require.NoError(t, err)

	postponed, err := f.groups.PostponeLesson(f.ctx, lesson.ID, "teacher is ill")
	require.NoError(t, err)
	assert.Equal(t, model.GroupLessonStatusPostponed, postponed.Status)
	assert.Equal(t, 1, postponed.CurrentStudents, "registrations survive postponement")

	_, err = f.groups.RescheduleLesson(f.ctx, lesson.ID, time.Now().Add(-time.Hour))
	assert.True(t, model.IsValidation(err))

	newTime := futureHour(24 * 7)
	rescheduled, err := f.groups.RescheduleLesson(f.ctx, lesson.ID, newTime)
	require.NoError(t, err)
	assert.Equal(t, model.GroupLessonStatusScheduled, rescheduled.Status)
	assert.Equal(t, newTime, rescheduled.ScheduledAt)

	_, err = f.groups.RescheduleLesson(f.ctx, lesson.ID, newTime)
	assert.True(t, model.IsInvalidState(err), "only postponed lessons are rescheduled")

	postponedEvents := f.pub.ofType(events.GroupLessonPostponed)
	require.Len(t, postponedEvents, 1)
	assert.Equal(t, f.student.ID, postponedEvents[0].StudentID)
	assert.Equal(t, "teacher is ill", postponedEvents[0].Reason)
	require.Len(t, f.pub.ofType(events.GroupLessonRescheduled), 1)
}

func TestCancelGroupLesson_Cascade(t *testing.T) {
	policy := DefaultCreditPolicy()
	policy.Refund = RefundStaffOnly
	f := newFixture(t, policy)
	lesson := f.newGroupLesson(t, intPtr(5))

	students := []*model.User{f.student, f.newUser(t, false), f.newUser(t, false)}
	regs := make([]*model.GroupLessonRegistration, len(students))
	for i, s := range students {
		f.buyPackage(t, s.ID, 1)
		reg, err := f.groups.BookSlot(f.ctx, lesson.ID, s.ID)
		require.NoError(t, err)
		regs[i] = reg
	}

	// Отменённая заранее запись в каскад не попадает
	_, err := f.groups.CancelBooking(f.ctx, regs[2].ID, "")
	require.NoError(t, err)

	report, err := f.groups.CancelLesson(f.ctx, lesson.ID, "teacher unavailable")
	require.NoError(t, err)
	assert.Equal(t, model.GroupLessonStatusCancelled, report.GroupLesson.Status)
	assert.ElementsMatch(t, []int64{regs[0].ID, regs[1].ID}, report.Cancelled)
	assert.Empty(t, report.Failed)

	got, err := f.groups.GetGroupLesson(f.ctx, lesson.ID)
	require.NoError(t, err)
	assert.Zero(t, got.CurrentStudents)
	assert.Equal(t, "teacher unavailable", got.CancellationReason)

	all, err := f.groups.ListRegistrations(f.ctx, lesson.ID)
	require.NoError(t, err)
	for _, reg := range all {
		assert.Equal(t, model.RegistrationStatusCancelled, reg.Status)
	}

	// Отмена учителем возвращает уроки, отмена студентом нет
	for i, s := range students {
		remaining, err := f.packages.RemainingCredits(f.ctx, s.ID)
		require.NoError(t, err)
		if i < 2 {
			assert.Equal(t, 1, remaining)
		} else {
			assert.Equal(t, 0, remaining)
		}
	}

	notices := f.pub.ofType(events.GroupLessonCancelled)
	require.Len(t, notices, 2)
	for _, ev := range notices {
		assert.Equal(t, "teacher unavailable", ev.Reason)
	}

	_, err = f.groups.CancelLesson(f.ctx, lesson.ID, "")
	assert.True(t, model.IsInvalidState(err))
}

func TestUpdateGroupLesson(t *testing.T) {
	f := newFixture(t, noCharge())
	lesson := f.newGroupLesson(t, intPtr(3))
	_, err := f.groups.BookSlot(f.ctx, lesson.ID, f.student.ID)
	require.NoError(t, err)
	_, err = f.groups.BookSlot(f.ctx, lesson.ID, f.newUser(t, false).ID)
	require.NoError(t, err)

	_, err = f.groups.UpdateGroupLesson(f.ctx, lesson.ID, UpdateGroupLessonInput{MaxStudents: intPtr(1)})
	assert.True(t, model.IsValidation(err))

	topic := "Conditionals"
	updated, err := f.groups.UpdateGroupLesson(f.ctx, lesson.ID, UpdateGroupLessonInput{Topic: &topic, MaxStudents: intPtr(2)})
	require.NoError(t, err)
	assert.Equal(t, topic, updated.Topic)
	assert.Equal(t, model.Capacity{Spaces: 0}, updated.AvailableSpaces())

	updated, err = f.groups.UpdateGroupLesson(f.ctx, lesson.ID, UpdateGroupLessonInput{UnlimitedCapacity: true})
	require.NoError(t, err)
	assert.Nil(t, updated.MaxStudents)

	_, err = f.groups.UpdateGroupLesson(f.ctx, lesson.ID, UpdateGroupLessonInput{UnlimitedCapacity: true, MaxStudents: intPtr(4)})
	assert.True(t, model.IsValidation(err))
}

func TestListRegistrations(t *testing.T) {
	f := newFixture(t, noCharge())
	first := f.newGroupLesson(t, nil)
	second := f.newGroupLesson(t, nil)
	otherTeacher := f.newUser(t, true)
	foreign, err := f.groups.CreateGroupLesson(f.ctx, CreateGroupLessonInput{
		TeacherID:       otherTeacher.ID,
		Topic:           "Idioms",
		ScheduledAt:     futureHour(24),
		DurationMinutes: 60,
	})
	require.NoError(t, err)

	for _, id := range []int64{first.ID, second.ID, foreign.ID} {
		_, err := f.groups.BookSlot(f.ctx, id, f.student.ID)
		require.NoError(t, err)
	}

	byStudent, err := f.groups.ListStudentRegistrations(f.ctx, f.student.ID)
	require.NoError(t, err)
	assert.Len(t, byStudent, 3)

	byTeacher, err := f.groups.ListTeacherRegistrations(f.ctx, f.teacher.ID)
	require.NoError(t, err)
	assert.Len(t, byTeacher, 2)

	byLesson, err := f.groups.ListRegistrations(f.ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, byLesson, 1)

	reg, err := f.groups.GetRegistration(f.ctx, byLesson[0].ID)
	require.NoError(t, err)
	assert.Equal(t, f.student.ID, reg.StudentID)

	available, err := f.groups.ListAvailable(f.ctx, f.teacher.ID, time.Now(), time.Now().Add(7*24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, available, 2)
}

func TestReconcileCounters(t *testing.T) {
	f := newFixture(t, noCharge())
	lesson := f.newGroupLesson(t, intPtr(5))
	_, err := f.groups.BookSlot(f.ctx, lesson.ID, f.student.ID)
	require.NoError(t, err)

	fixed, err := f.groups.ReconcileCounters(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, fixed)

	// Искусственное расхождение счётчика
	drifted, err := f.groups.GetGroupLesson(f.ctx, lesson.ID)
	require.NoError(t, err)
	drifted.CurrentStudents = 4
	require.NoError(t, f.store.GroupLessons.Update(f.ctx, drifted))

	fixed, err = f.groups.ReconcileCounters(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fixed)

	got, err := f.groups.GetGroupLesson(f.ctx, lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentStudents)
}

// failingRegistrations отказывает в сохранении одной выбранной регистрации
type failingRegistrations struct {
	*memory.RegistrationRepository
	failID int64
}

func (r *failingRegistrations) Update(ctx context.Context, reg *model.GroupLessonRegistration) error {
	if reg.ID == r.failID {
		return errors.New("registration storage unavailable")
	}
	return r.RegistrationRepository.Update(ctx, reg)
}

func TestCancelGroupLesson_CascadeContinuesAfterFailure(t *testing.T) {
	f := newFixture(t, DefaultCreditPolicy())
	lesson := f.newGroupLesson(t, intPtr(5))

	students := []*model.User{f.student, f.newUser(t, false), f.newUser(t, false)}
	regs := make([]*model.GroupLessonRegistration, len(students))
	for i, s := range students {
		f.buyPackage(t, s.ID, 1)
		reg, err := f.groups.BookSlot(f.ctx, lesson.ID, s.ID)
		require.NoError(t, err)
		regs[i] = reg
	}

	broken := &failingRegistrations{RegistrationRepository: f.store.Registrations, failID: regs[1].ID}
	groups := NewGroupLessonService(f.store, f.store.Users, f.store.GroupLessons, broken,
		f.packages, f.pub, DefaultCreditPolicy(), zap.NewNop())

	report, err := groups.CancelLesson(f.ctx, lesson.ID, "teacher unavailable")
	require.NoError(t, err)

	require.Contains(t, report.Failed, regs[1].ID)
	assert.Len(t, report.Failed, 1)
	assert.ElementsMatch(t, []int64{regs[0].ID, regs[2].ID}, report.Cancelled)

	for _, reg := range []*model.GroupLessonRegistration{regs[0], regs[2]} {
		got, err := f.groups.GetRegistration(f.ctx, reg.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RegistrationStatusCancelled, got.Status)
	}

	failed, err := f.groups.GetRegistration(f.ctx, regs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, model.RegistrationStatusRegistered, failed.Status)

	got, err := f.groups.GetGroupLesson(f.ctx, lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GroupLessonStatusCancelled, got.Status)

	active, err := f.groups.CountActiveRegistrations(f.ctx, lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, active)
	assert.Equal(t, active, got.CurrentStudents)

	// Неудачная отмена откатывается целиком вместе с возвратом урока
	remaining, err := f.packages.RemainingCredits(f.ctx, students[1].ID)
	require.NoError(t, err)
	assert.Zero(t, remaining)
}
