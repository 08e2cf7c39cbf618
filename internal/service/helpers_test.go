package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Freeeeeet/lesson_scheduler/internal/events"
	"github.com/Freeeeeet/lesson_scheduler/internal/model"
	"github.com/Freeeeeet/lesson_scheduler/internal/repository/memory"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) ofType(t events.Type) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	ctx   context.Context
	store *memory.Store
	pub   *recordingPublisher

	slots    *SlotService
	packages *PackageService
	lessons  *LessonService
	groups   *GroupLessonService

	teacher *model.User
	student *model.User
}

func newFixture(t *testing.T, policy CreditPolicy) *fixture {
	t.Helper()

	store := memory.NewStore()
	pub := &recordingPublisher{}
	logger := zap.NewNop()

	f := &fixture{
		ctx:   context.Background(),
		store: store,
		pub:   pub,
	}
	f.slots = NewSlotService(store, store.Users, store.Slots, store.Lessons, 0, logger)
	f.packages = NewPackageService(store, store.Users, store.Packages, pub, policy.LowCreditsThreshold, logger)
	f.lessons = NewLessonService(store, store.Users, store.Lessons, f.slots, f.packages, pub, policy, logger)
	f.groups = NewGroupLessonService(store, store.Users, store.GroupLessons, store.Registrations, f.packages, pub, policy, logger)

	f.teacher = f.newUser(t, true)
	f.student = f.newUser(t, false)
	return f
}

func (f *fixture) newUser(t *testing.T, teacher bool) *model.User {
	t.Helper()
	u := &model.User{FirstName: "Test", IsTeacher: teacher}
	require.NoError(t, f.store.Users.Create(f.ctx, u))
	return u
}

func (f *fixture) buyPackage(t *testing.T, studentID int64, lessons int) *model.LessonPackage {
	t.Helper()
	pkg, err := f.packages.CreatePackage(f.ctx, CreatePackageInput{StudentID: studentID, TotalLessons: lessons})
	require.NoError(t, err)
	return pkg
}

// newSlot создаёт слот учителя через hours часов от текущего времени
func (f *fixture) newSlot(t *testing.T, hours int) *model.AvailabilitySlot {
	t.Helper()
	slot, err := f.slots.CreateSlot(f.ctx, CreateSlotInput{
		TeacherID: f.teacher.ID,
		StartTime: futureHour(hours),
	})
	require.NoError(t, err)
	return slot
}

func (f *fixture) newGroupLesson(t *testing.T, maxStudents *int) *model.GroupLesson {
	t.Helper()
	lesson, err := f.groups.CreateGroupLesson(f.ctx, CreateGroupLessonInput{
		TeacherID:       f.teacher.ID,
		Topic:           "Present Perfect",
		ScheduledAt:     futureHour(48),
		DurationMinutes: 90,
		MaxStudents:     maxStudents,
	})
	require.NoError(t, err)
	return lesson
}

func (f *fixture) packageRemaining(t *testing.T, packageID int64) int {
	t.Helper()
	pkg, err := f.packages.GetPackage(f.ctx, packageID)
	require.NoError(t, err)
	return pkg.RemainingLessons
}

func futureHour(hours int) time.Time {
	return time.Now().Add(time.Duration(hours) * time.Hour).Truncate(time.Hour)
}

func intPtr(n int) *int { return &n }

// noCharge политика без списания уроков
func noCharge() CreditPolicy {
	p := DefaultCreditPolicy()
	p.ChargeLessons = false
	p.ChargeGroupLessons = false
	return p
}

// runConcurrently запускает n вызовов fn одновременно и возвращает их ошибки
func runConcurrently(n int, fn func(i int) error) []error {
	errs := make([]error, n)
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = fn(i)
		}(i)
	}
	close(start)
	wg.Wait()
	return errs
}
