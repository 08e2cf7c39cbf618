// Package memory хранилище в памяти процесса с теми же гарантиями, что и
// PostgreSQL-репозитории: транзакции сериализуются одним мьютексом, ошибка
// внутри транзакции восстанавливает снимок состояния. Используется в тестах
// и при STORAGE_DRIVER=memory для локального запуска.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Freeeeeet/lesson_scheduler/internal/model"
)

type txKey struct{}

type state struct {
	nextID        int64
	users         map[int64]model.User
	slots         map[int64]model.AvailabilitySlot
	lessons       map[int64]model.Lesson
	packages      map[int64]model.LessonPackage
	packageTxs    []model.PackageTransaction
	groupLessons  map[int64]model.GroupLesson
	registrations map[int64]model.GroupLessonRegistration
}

func newState() *state {
	return &state{
		users:         make(map[int64]model.User),
		slots:         make(map[int64]model.AvailabilitySlot),
		lessons:       make(map[int64]model.Lesson),
		packages:      make(map[int64]model.LessonPackage),
		groupLessons:  make(map[int64]model.GroupLesson),
		registrations: make(map[int64]model.GroupLessonRegistration),
	}
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// clone копирует состояние. Указатели внутри сущностей не изменяются на месте,
// поэтому поверхностной копии значений достаточно
func (s *state) clone() *state {
	c := &state{
		nextID:        s.nextID,
		users:         make(map[int64]model.User, len(s.users)),
		slots:         make(map[int64]model.AvailabilitySlot, len(s.slots)),
		lessons:       make(map[int64]model.Lesson, len(s.lessons)),
		packages:      make(map[int64]model.LessonPackage, len(s.packages)),
		packageTxs:    append([]model.PackageTransaction(nil), s.packageTxs...),
		groupLessons:  make(map[int64]model.GroupLesson, len(s.groupLessons)),
		registrations: make(map[int64]model.GroupLessonRegistration, len(s.registrations)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.slots {
		c.slots[k] = v
	}
	for k, v := range s.lessons {
		c.lessons[k] = v
	}
	for k, v := range s.packages {
		c.packages[k] = v
	}
	for k, v := range s.groupLessons {
		c.groupLessons[k] = v
	}
	for k, v := range s.registrations {
		c.registrations[k] = v
	}
	return c
}

// Store хранилище в памяти
type Store struct {
	mu   sync.Mutex
	data *state

	Users         *UserRepository
	Slots         *SlotRepository
	Lessons       *LessonRepository
	Packages      *PackageRepository
	GroupLessons  *GroupLessonRepository
	Registrations *RegistrationRepository
}

// NewStore создаёт пустое хранилище
func NewStore() *Store {
	s := &Store{data: newState()}
	s.Users = &UserRepository{s: s}
	s.Slots = &SlotRepository{s: s}
	s.Lessons = &LessonRepository{s: s}
	s.Packages = &PackageRepository{s: s}
	s.GroupLessons = &GroupLessonRepository{s: s}
	s.Registrations = &RegistrationRepository{s: s}
	return s
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// WithinTx выполняет fn под глобальной блокировкой хранилища.
// При ошибке или панике состояние откатывается к снимку
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	snapshot := s.data.clone()
	committed := false
	defer func() {
		if !committed {
			s.data = snapshot
		}
		s.mu.Unlock()
	}()

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		return err
	}
	committed = true
	return nil
}

// do выполняет fn над состоянием: внутри транзакции без блокировки,
// вне её под мьютексом
func (s *Store) do(ctx context.Context, fn func(st *state) error) error {
	if s.inTx(ctx) {
		return fn(s.data)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

// UserRepository пользователи
type UserRepository struct{ s *Store }

// Create создаёт пользователя
func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	return r.s.do(ctx, func(st *state) error {
		user.ID = st.id()
		user.CreatedAt = time.Now()
		st.users[user.ID] = *user
		return nil
	})
}

// GetByID получает пользователя по ID
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	var out *model.User
	err := r.s.do(ctx, func(st *state) error {
		if u, ok := st.users[id]; ok {
			out = &u
		}
		return nil
	})
	return out, err
}

// SlotRepository слоты
type SlotRepository struct{ s *Store }

// Create создаёт слот
func (r *SlotRepository) Create(ctx context.Context, slot *model.AvailabilitySlot) error {
	return r.s.do(ctx, func(st *state) error {
		now := time.Now()
		slot.ID = st.id()
		slot.CreatedAt = now
		slot.UpdatedAt = now
		st.slots[slot.ID] = *slot
		return nil
	})
}

// GetByID получает слот по ID
func (r *SlotRepository) GetByID(ctx context.Context, id int64) (*model.AvailabilitySlot, error) {
	var out *model.AvailabilitySlot
	err := r.s.do(ctx, func(st *state) error {
		if v, ok := st.slots[id]; ok {
			out = &v
		}
		return nil
	})
	return out, err
}

// GetByIDForUpdate внутри транзакции строка уже защищена мьютексом хранилища
func (r *SlotRepository) GetByIDForUpdate(ctx context.Context, id int64) (*model.AvailabilitySlot, error) {
	return r.GetByID(ctx, id)
}

func (r *SlotRepository) filter(ctx context.Context, keep func(model.AvailabilitySlot) bool) ([]*model.AvailabilitySlot, error) {
	var out []*model.AvailabilitySlot
	err := r.s.do(ctx, func(st *state) error {
		for _, v := range st.slots {
			if keep(v) {
				v := v
				out = append(out, &v)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out, err
}

// GetByTeacherID получает слоты учителя за период
func (r *SlotRepository) GetByTeacherID(ctx context.Context, teacherID int64, from, to time.Time) ([]*model.AvailabilitySlot, error) {
	return r.filter(ctx, func(v model.AvailabilitySlot) bool {
		return v.TeacherID == teacherID && inRange(v.StartTime, from, to)
	})
}

// GetAvailable получает свободные слоты учителя за период
func (r *SlotRepository) GetAvailable(ctx context.Context, teacherID int64, from, to time.Time) ([]*model.AvailabilitySlot, error) {
	return r.filter(ctx, func(v model.AvailabilitySlot) bool {
		return v.TeacherID == teacherID && v.Status == model.SlotStatusAvailable && inRange(v.StartTime, from, to)
	})
}

// FindOverlapping ищет пересекающиеся слоты учителя
func (r *SlotRepository) FindOverlapping(ctx context.Context, teacherID int64, start, end time.Time) ([]*model.AvailabilitySlot, error) {
	return r.filter(ctx, func(v model.AvailabilitySlot) bool {
		return v.TeacherID == teacherID && v.Overlaps(start, end)
	})
}

// LockTeacherCalendar транзакции хранилища уже сериализованы
func (r *SlotRepository) LockTeacherCalendar(context.Context, int64) error {
	return nil
}

// TransitionStatus меняет статус только из from
func (r *SlotRepository) TransitionStatus(ctx context.Context, slotID int64, from, to model.SlotStatus) (bool, error) {
	var changed bool
	err := r.s.do(ctx, func(st *state) error {
		v, ok := st.slots[slotID]
		if !ok || v.Status != from {
			return nil
		}
		v.SetStatus(to)
		v.UpdatedAt = time.Now()
		st.slots[slotID] = v
		changed = true
		return nil
	})
	return changed, err
}

// Delete удаляет слот
func (r *SlotRepository) Delete(ctx context.Context, id int64) error {
	return r.s.do(ctx, func(st *state) error {
		if _, ok := st.slots[id]; !ok {
			return model.NotFound("slot", "Delete", id)
		}
		delete(st.slots, id)
		return nil
	})
}

// LessonRepository индивидуальные занятия
type LessonRepository struct{ s *Store }

// Create создаёт занятие. Второе неотменённое занятие на слот отклоняется
func (r *LessonRepository) Create(ctx context.Context, lesson *model.Lesson) error {
	return r.s.do(ctx, func(st *state) error {
		if lesson.SlotID != nil {
			for _, v := range st.lessons {
				if v.SlotID != nil && *v.SlotID == *lesson.SlotID && v.Status != model.LessonStatusCancelled {
					return model.Conflict("lesson", "Create", "slot already has an active lesson")
				}
			}
		}
		now := time.Now()
		lesson.ID = st.id()
		lesson.CreatedAt = now
		lesson.UpdatedAt = now
		st.lessons[lesson.ID] = *lesson
		return nil
	})
}

// GetByID получает занятие по ID
func (r *LessonRepository) GetByID(ctx context.Context, id int64) (*model.Lesson, error) {
	var out *model.Lesson
	err := r.s.do(ctx, func(st *state) error {
		if v, ok := st.lessons[id]; ok {
			out = &v
		}
		return nil
	})
	return out, err
}

// GetByIDForUpdate см. SlotRepository.GetByIDForUpdate
func (r *LessonRepository) GetByIDForUpdate(ctx context.Context, id int64) (*model.Lesson, error) {
	return r.GetByID(ctx, id)
}

// GetActiveBySlotID получает запланированное занятие слота
func (r *LessonRepository) GetActiveBySlotID(ctx context.Context, slotID int64) (*model.Lesson, error) {
	lessons, err := r.filter(ctx, func(v model.Lesson) bool {
		return v.SlotID != nil && *v.SlotID == slotID && v.Status == model.LessonStatusScheduled
	})
	if err != nil || len(lessons) == 0 {
		return nil, err
	}
	return lessons[0], nil
}

func (r *LessonRepository) filter(ctx context.Context, keep func(model.Lesson) bool) ([]*model.Lesson, error) {
	var out []*model.Lesson
	err := r.s.do(ctx, func(st *state) error {
		for _, v := range st.lessons {
			if keep(v) {
				v := v
				out = append(out, &v)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].ScheduledAt.After(out[j].ScheduledAt)
	})
	return out, err
}

// GetByStudentID получает занятия студента
func (r *LessonRepository) GetByStudentID(ctx context.Context, studentID int64) ([]*model.Lesson, error) {
	return r.filter(ctx, func(v model.Lesson) bool { return v.StudentID == studentID })
}

// GetByTeacherID получает занятия учителя
func (r *LessonRepository) GetByTeacherID(ctx context.Context, teacherID int64) ([]*model.Lesson, error) {
	return r.filter(ctx, func(v model.Lesson) bool { return v.TeacherID == teacherID })
}

// Update сохраняет занятие
func (r *LessonRepository) Update(ctx context.Context, lesson *model.Lesson) error {
	return r.s.do(ctx, func(st *state) error {
		if _, ok := st.lessons[lesson.ID]; !ok {
			return model.NotFound("lesson", "Update", lesson.ID)
		}
		lesson.UpdatedAt = time.Now()
		st.lessons[lesson.ID] = *lesson
		return nil
	})
}

// Delete удаляет занятие
func (r *LessonRepository) Delete(ctx context.Context, id int64) error {
	return r.s.do(ctx, func(st *state) error {
		if _, ok := st.lessons[id]; !ok {
			return model.NotFound("lesson", "Delete", id)
		}
		delete(st.lessons, id)
		return nil
	})
}

// PackageRepository пакеты уроков и журнал движения
type PackageRepository struct{ s *Store }

func checkBalance(pkg *model.LessonPackage, op string) error {
	if pkg.RemainingLessons < 0 || pkg.RemainingLessons > pkg.TotalLessons {
		return model.Validation("package", op, "remaining must be between 0 and total")
	}
	return nil
}

// Create создаёт пакет
func (r *PackageRepository) Create(ctx context.Context, pkg *model.LessonPackage) error {
	if err := checkBalance(pkg, "Create"); err != nil {
		return err
	}
	return r.s.do(ctx, func(st *state) error {
		now := time.Now()
		pkg.ID = st.id()
		pkg.CreatedAt = now
		pkg.UpdatedAt = now
		st.packages[pkg.ID] = *pkg
		return nil
	})
}

// GetByID получает пакет по ID
func (r *PackageRepository) GetByID(ctx context.Context, id int64) (*model.LessonPackage, error) {
	var out *model.LessonPackage
	err := r.s.do(ctx, func(st *state) error {
		if v, ok := st.packages[id]; ok {
			out = &v
		}
		return nil
	})
	return out, err
}

// GetByIDForUpdate см. SlotRepository.GetByIDForUpdate
func (r *PackageRepository) GetByIDForUpdate(ctx context.Context, id int64) (*model.LessonPackage, error) {
	return r.GetByID(ctx, id)
}

// GetByStudentID получает пакеты студента, старые первыми
func (r *PackageRepository) GetByStudentID(ctx context.Context, studentID int64) ([]*model.LessonPackage, error) {
	var out []*model.LessonPackage
	err := r.s.do(ctx, func(st *state) error {
		for _, v := range st.packages {
			if v.StudentID == studentID {
				v := v
				out = append(out, &v)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, err
}

// LockByStudentID получает пакеты студента в порядке id
func (r *PackageRepository) LockByStudentID(ctx context.Context, studentID int64) ([]*model.LessonPackage, error) {
	out, err := r.GetByStudentID(ctx, studentID)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

// UpdateBalance сохраняет total и remaining
func (r *PackageRepository) UpdateBalance(ctx context.Context, pkg *model.LessonPackage) error {
	if err := checkBalance(pkg, "UpdateBalance"); err != nil {
		return err
	}
	return r.s.do(ctx, func(st *state) error {
		v, ok := st.packages[pkg.ID]
		if !ok {
			return model.NotFound("package", "UpdateBalance", pkg.ID)
		}
		v.TotalLessons = pkg.TotalLessons
		v.RemainingLessons = pkg.RemainingLessons
		v.UpdatedAt = time.Now()
		pkg.UpdatedAt = v.UpdatedAt
		st.packages[pkg.ID] = v
		return nil
	})
}

// AppendTransaction добавляет запись журнала
func (r *PackageRepository) AppendTransaction(ctx context.Context, tx *model.PackageTransaction) error {
	return r.s.do(ctx, func(st *state) error {
		tx.ID = st.id()
		tx.CreatedAt = time.Now()
		st.packageTxs = append(st.packageTxs, *tx)
		return nil
	})
}

// GetDebits получает списания студента, новые первыми
func (r *PackageRepository) GetDebits(ctx context.Context, studentID int64, ref model.CreditRef, limit int) ([]*model.PackageTransaction, error) {
	var out []*model.PackageTransaction
	err := r.s.do(ctx, func(st *state) error {
		for i := len(st.packageTxs) - 1; i >= 0 && len(out) < limit; i-- {
			t := st.packageTxs[i]
			if t.StudentID != studentID || t.Delta >= 0 {
				continue
			}
			if ref.LessonID != nil && (t.LessonID == nil || *t.LessonID != *ref.LessonID) {
				continue
			}
			if ref.RegistrationID != nil && (t.RegistrationID == nil || *t.RegistrationID != *ref.RegistrationID) {
				continue
			}
			out = append(out, &t)
		}
		return nil
	})
	return out, err
}

// Transactions весь журнал студента в порядке записи
func (r *PackageRepository) Transactions(ctx context.Context, studentID int64) ([]model.PackageTransaction, error) {
	var out []model.PackageTransaction
	err := r.s.do(ctx, func(st *state) error {
		for _, t := range st.packageTxs {
			if t.StudentID == studentID {
				out = append(out, t)
			}
		}
		return nil
	})
	return out, err
}

// GroupLessonRepository групповые занятия
type GroupLessonRepository struct{ s *Store }

func checkCapacity(lesson *model.GroupLesson, op string) error {
	if lesson.MaxStudents != nil && *lesson.MaxStudents <= 0 {
		return model.Validation("group_lesson", op, "capacity must be positive")
	}
	if lesson.CurrentStudents < 0 || (lesson.MaxStudents != nil && lesson.CurrentStudents > *lesson.MaxStudents) {
		return model.Conflict("group_lesson", op, "capacity constraint violated")
	}
	return nil
}

// Create создаёт групповое занятие
func (r *GroupLessonRepository) Create(ctx context.Context, lesson *model.GroupLesson) error {
	if err := checkCapacity(lesson, "Create"); err != nil {
		return err
	}
	return r.s.do(ctx, func(st *state) error {
		now := time.Now()
		lesson.ID = st.id()
		lesson.CreatedAt = now
		lesson.UpdatedAt = now
		st.groupLessons[lesson.ID] = *lesson
		return nil
	})
}

// GetByID получает занятие по ID
func (r *GroupLessonRepository) GetByID(ctx context.Context, id int64) (*model.GroupLesson, error) {
	var out *model.GroupLesson
	err := r.s.do(ctx, func(st *state) error {
		if v, ok := st.groupLessons[id]; ok {
			out = &v
		}
		return nil
	})
	return out, err
}

// GetByIDForUpdate см. SlotRepository.GetByIDForUpdate
func (r *GroupLessonRepository) GetByIDForUpdate(ctx context.Context, id int64) (*model.GroupLesson, error) {
	return r.GetByID(ctx, id)
}

func (r *GroupLessonRepository) filter(ctx context.Context, keep func(model.GroupLesson) bool) ([]*model.GroupLesson, error) {
	var out []*model.GroupLesson
	err := r.s.do(ctx, func(st *state) error {
		for _, v := range st.groupLessons {
			if keep(v) {
				v := v
				out = append(out, &v)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	return out, err
}

// GetByTeacherID получает занятия учителя за период
func (r *GroupLessonRepository) GetByTeacherID(ctx context.Context, teacherID int64, from, to time.Time) ([]*model.GroupLesson, error) {
	return r.filter(ctx, func(v model.GroupLesson) bool {
		return v.TeacherID == teacherID && inRange(v.ScheduledAt, from, to)
	})
}

// GetAvailable получает занятия, на которые можно записаться
func (r *GroupLessonRepository) GetAvailable(ctx context.Context, teacherID int64, from, to time.Time) ([]*model.GroupLesson, error) {
	return r.filter(ctx, func(v model.GroupLesson) bool {
		return v.TeacherID == teacherID && inRange(v.ScheduledAt, from, to) && v.IsAvailableForBooking()
	})
}

// GetOpen получает незавершённые занятия
func (r *GroupLessonRepository) GetOpen(ctx context.Context) ([]*model.GroupLesson, error) {
	return r.filter(ctx, func(v model.GroupLesson) bool { return !v.Status.IsTerminal() })
}

// Update сохраняет занятие, проверяя ограничение вместимости
func (r *GroupLessonRepository) Update(ctx context.Context, lesson *model.GroupLesson) error {
	if err := checkCapacity(lesson, "Update"); err != nil {
		return err
	}
	return r.s.do(ctx, func(st *state) error {
		if _, ok := st.groupLessons[lesson.ID]; !ok {
			return model.NotFound("group_lesson", "Update", lesson.ID)
		}
		lesson.UpdatedAt = time.Now()
		st.groupLessons[lesson.ID] = *lesson
		return nil
	})
}

// RegistrationRepository регистрации на групповые занятия
type RegistrationRepository struct{ s *Store }

// Create создаёт регистрацию. Вторая неотменённая регистрация пары отклоняется
func (r *RegistrationRepository) Create(ctx context.Context, reg *model.GroupLessonRegistration) error {
	return r.s.do(ctx, func(st *state) error {
		for _, v := range st.registrations {
			if v.GroupLessonID == reg.GroupLessonID && v.StudentID == reg.StudentID && v.Status != model.RegistrationStatusCancelled {
				return model.Conflict("registration", "Create", "student %d already registered", reg.StudentID)
			}
		}
		now := time.Now()
		reg.ID = st.id()
		reg.RegisteredAt = now
		reg.UpdatedAt = now
		st.registrations[reg.ID] = *reg
		return nil
	})
}

// GetByID получает регистрацию по ID
func (r *RegistrationRepository) GetByID(ctx context.Context, id int64) (*model.GroupLessonRegistration, error) {
	var out *model.GroupLessonRegistration
	err := r.s.do(ctx, func(st *state) error {
		if v, ok := st.registrations[id]; ok {
			out = &v
		}
		return nil
	})
	return out, err
}

// GetByIDForUpdate см. SlotRepository.GetByIDForUpdate
func (r *RegistrationRepository) GetByIDForUpdate(ctx context.Context, id int64) (*model.GroupLessonRegistration, error) {
	return r.GetByID(ctx, id)
}

func (r *RegistrationRepository) filter(ctx context.Context, keep func(st *state, v model.GroupLessonRegistration) bool, newestFirst bool) ([]*model.GroupLessonRegistration, error) {
	var out []*model.GroupLessonRegistration
	err := r.s.do(ctx, func(st *state) error {
		for _, v := range st.registrations {
			if keep(st, v) {
				v := v
				out = append(out, &v)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].ID > out[j].ID
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

// GetNonCancelled получает неотменённую регистрацию студента на занятие
func (r *RegistrationRepository) GetNonCancelled(ctx context.Context, groupLessonID, studentID int64) (*model.GroupLessonRegistration, error) {
	regs, err := r.filter(ctx, func(_ *state, v model.GroupLessonRegistration) bool {
		return v.GroupLessonID == groupLessonID && v.StudentID == studentID && v.Status != model.RegistrationStatusCancelled
	}, false)
	if err != nil || len(regs) == 0 {
		return nil, err
	}
	return regs[0], nil
}

// GetByGroupLessonID получает регистрации занятия
func (r *RegistrationRepository) GetByGroupLessonID(ctx context.Context, groupLessonID int64) ([]*model.GroupLessonRegistration, error) {
	return r.filter(ctx, func(_ *state, v model.GroupLessonRegistration) bool {
		return v.GroupLessonID == groupLessonID
	}, false)
}

// GetByStudentID получает регистрации студента
func (r *RegistrationRepository) GetByStudentID(ctx context.Context, studentID int64) ([]*model.GroupLessonRegistration, error) {
	return r.filter(ctx, func(_ *state, v model.GroupLessonRegistration) bool {
		return v.StudentID == studentID
	}, true)
}

// GetByTeacherID получает регистрации на занятия учителя
func (r *RegistrationRepository) GetByTeacherID(ctx context.Context, teacherID int64) ([]*model.GroupLessonRegistration, error) {
	return r.filter(ctx, func(st *state, v model.GroupLessonRegistration) bool {
		g, ok := st.groupLessons[v.GroupLessonID]
		return ok && g.TeacherID == teacherID
	}, true)
}

// CountActive считает регистрации REGISTERED/ATTENDED
func (r *RegistrationRepository) CountActive(ctx context.Context, groupLessonID int64) (int, error) {
	count := 0
	err := r.s.do(ctx, func(st *state) error {
		for _, v := range st.registrations {
			if v.GroupLessonID == groupLessonID && v.Status.IsActive() {
				count++
			}
		}
		return nil
	})
	return count, err
}

// Update сохраняет регистрацию
func (r *RegistrationRepository) Update(ctx context.Context, reg *model.GroupLessonRegistration) error {
	return r.s.do(ctx, func(st *state) error {
		if _, ok := st.registrations[reg.ID]; !ok {
			return model.NotFound("registration", "Update", reg.ID)
		}
		reg.UpdatedAt = time.Now()
		st.registrations[reg.ID] = *reg
		return nil
	})
}
