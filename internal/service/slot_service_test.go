package service

import (
	"testing"
	"time"

	"github.com/Freeeeeet/lesson_scheduler/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSlot_DefaultDuration(t *testing.T) {
	f := newFixture(t, DefaultCreditPolicy())

	slot := f.newSlot(t, 24)

	assert.Equal(t, model.DefaultSlotDuration, slot.DurationMinutes)
	assert.Equal(t, model.SlotStatusAvailable, slot.Status)
	assert.False(t, slot.Booked)
}

func TestCreateSlot_Rejects(t *testing.T) {
	f := newFixture(t, DefaultCreditPolicy())
	existing := f.newSlot(t, 24)

	tests := []struct {
		name  string
		input CreateSlotInput
		check func(error) bool
	}{
		{
			name:  "past start",
			input: CreateSlotInput{TeacherID: f.teacher.ID, StartTime: time.Now().Add(-time.Hour)},
			check: model.IsValidation,
		},
		{
			name:  "negative duration",
			input: CreateSlotInput{TeacherID: f.teacher.ID, StartTime: futureHour(30), DurationMinutes: -15},
			check: model.IsValidation,
		},
		{
			name:  "overlap",
			input: CreateSlotInput{TeacherID: f.teacher.ID, StartTime: existing.StartTime.Add(30 * time.Minute)},
			check: model.IsValidation,
		},
		{
			name:  "not a teacher",
			input: CreateSlotInput{TeacherID: f.student.ID, StartTime: futureHour(30)},
			check: model.IsValidation,
		},
		{
			name:  "unknown teacher",
			input: CreateSlotInput{TeacherID: 9999, StartTime: futureHour(30)},
			check: model.IsNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.slots.CreateSlot(f.ctx, tt.input)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error kind: %v", err)
		})
	}
}

func TestCreateSlot_AdjacentSlotsDoNotOverlap(t *testing.T) {
	f := newFixture(t, DefaultCreditPolicy())
	first := f.newSlot(t, 24)

	second, err := f.slots.CreateSlot(f.ctx, CreateSlotInput{
		TeacherID: f.teacher.ID,
		StartTime: first.EndTime(),
	})
	require.NoError(t, err)
	assert.Equal(t, first.EndTime(), second.StartTime)
}

func TestSlotLifecycle(t *testing.T) {
	f := newFixture(t, DefaultCreditPolicy())
	slot := f.newSlot(t, 24)

	booked, err := f.slots.BookSlot(f.ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SlotStatusBooked, booked.Status)
	assert.True(t, booked.Booked)

	_, err = f.slots.BookSlot(f.ctx, slot.ID)
	assert.True(t, model.IsConflict(err))

	_, err = f.slots.BlockSlot(f.ctx, slot.ID)
	assert.True(t, model.IsConflict(err), "booked slot must not be blocked")

	released, err := f.slots.ReleaseSlot(f.ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SlotStatusAvailable, released.Status)
	assert.False(t, released.Booked)

	_, err = f.slots.ReleaseSlot(f.ctx, slot.ID)
	assert.True(t, model.IsInvalidState(err))

	blocked, err := f.slots.BlockSlot(f.ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SlotStatusBlocked, blocked.Status)

	_, err = f.slots.BlockSlot(f.ctx, slot.ID)
	assert.True(t, model.IsInvalidState(err))

	_, err = f.slots.BookSlot(f.ctx, slot.ID)
	assert.True(t, model.IsConflict(err))

	unblocked, err := f.slots.UnblockSlot(f.ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SlotStatusAvailable, unblocked.Status)

	_, err = f.slots.UnblockSlot(f.ctx, slot.ID)
	assert.True(t, model.IsInvalidState(err))
}

func TestSlotOperations_NotFound(t *testing.T) {
	f := newFixture(t, DefaultCreditPolicy())

	_, err := f.slots.GetSlot(f.ctx, 404)
	assert.True(t, model.IsNotFound(err))
	_, err = f.slots.BookSlot(f.ctx, 404)
	assert.True(t, model.IsNotFound(err))
	_, err = f.slots.ReleaseSlot(f.ctx, 404)
	assert.True(t, model.IsNotFound(err))
	_, err = f.slots.BlockSlot(f.ctx, 404)
	assert.True(t, model.IsNotFound(err))
	assert.True(t, model.IsNotFound(f.slots.DeleteSlot(f.ctx, 404)))
}

func TestBookSlot_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t, DefaultCreditPolicy())
	slot := f.newSlot(t, 24)

	errs := runConcurrently(20, func(int) error {
		_, err := f.slots.BookSlot(f.ctx, slot.ID)
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

	got, err := f.slots.GetSlot(f.ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SlotStatusBooked, got.Status)
}

func TestListSlots(t *testing.T) {
	f := newFixture(t, DefaultCreditPolicy())
	a := f.newSlot(t, 24)
	b := f.newSlot(t, 26)
	f.newSlot(t, 24*10)

	_, err := f.slots.BlockSlot(f.ctx, b.ID)
	require.NoError(t, err)

	from, to := time.Now(), time.Now().Add(72*time.Hour)

	all, err := f.slots.ListTeacherSlots(f.ctx, f.teacher.ID, from, to)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, a.ID, all[0].ID)
	assert.Equal(t, b.ID, all[1].ID)

	available, err := f.slots.ListAvailableSlots(f.ctx, f.teacher.ID, from, to)
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, a.ID, available[0].ID)
}

func TestDeleteSlot(t *testing.T) {
	f := newFixture(t, noCharge())

	t.Run("free slot", func(t *testing.T) {
		slot := f.newSlot(t, 24)
		require.NoError(t, f.slots.DeleteSlot(f.ctx, slot.ID))

		_, err := f.slots.GetSlot(f.ctx, slot.ID)
		assert.True(t, model.IsNotFound(err))
	})

	t.Run("booked slot", func(t *testing.T) {
		slot := f.newSlot(t, 48)
		lesson, err := f.lessons.BookSlot(f.ctx, f.student.ID, slot.ID, "")
		require.NoError(t, err)

		err = f.slots.DeleteSlot(f.ctx, slot.ID)
		assert.True(t, model.IsInvalidState(err))

		_, err = f.lessons.CancelLesson(f.ctx, lesson.ID, model.CancelledByStudent, "")
		require.NoError(t, err)
		assert.NoError(t, f.slots.DeleteSlot(f.ctx, slot.ID))
	})
}
