package service

import (
	"context"
	"time"

	"github.com/Freeeeeet/lesson_scheduler/internal/model"
)

// Интерфейсы хранилища, которые нужны сервисам. Реализуются репозиториями
// PostgreSQL и in-memory хранилищем. Методы *ForUpdate и Lock* обязаны держать
// блокировку строки до конца транзакции, открытой через Transactor.
// Отсутствующая запись возвращается как nil, nil.

// Transactor выполняет fn атомарно: ошибка fn откатывает все изменения
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type UserStore interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
}

type SlotStore interface {
	Create(ctx context.Context, slot *model.AvailabilitySlot) error
	GetByID(ctx context.Context, id int64) (*model.AvailabilitySlot, error)
	GetByIDForUpdate(ctx context.Context, id int64) (*model.AvailabilitySlot, error)
	GetByTeacherID(ctx context.Context, teacherID int64, from, to time.Time) ([]*model.AvailabilitySlot, error)
	GetAvailable(ctx context.Context, teacherID int64, from, to time.Time) ([]*model.AvailabilitySlot, error)
	FindOverlapping(ctx context.Context, teacherID int64, start, end time.Time) ([]*model.AvailabilitySlot, error)
	LockTeacherCalendar(ctx context.Context, teacherID int64) error
	TransitionStatus(ctx context.Context, slotID int64, from, to model.SlotStatus) (bool, error)
	Delete(ctx context.Context, id int64) error
}

type LessonStore interface {
	Create(ctx context.Context, lesson *model.Lesson) error
	GetByID(ctx context.Context, id int64) (*model.Lesson, error)
	GetByIDForUpdate(ctx context.Context, id int64) (*model.Lesson, error)
	GetActiveBySlotID(ctx context.Context, slotID int64) (*model.Lesson, error)
	GetByStudentID(ctx context.Context, studentID int64) ([]*model.Lesson, error)
	GetByTeacherID(ctx context.Context, teacherID int64) ([]*model.Lesson, error)
	Update(ctx context.Context, lesson *model.Lesson) error
	Delete(ctx context.Context, id int64) error
}

type PackageStore interface {
	Create(ctx context.Context, pkg *model.LessonPackage) error
	GetByID(ctx context.Context, id int64) (*model.LessonPackage, error)
	GetByIDForUpdate(ctx context.Context, id int64) (*model.LessonPackage, error)
	GetByStudentID(ctx context.Context, studentID int64) ([]*model.LessonPackage, error)
	LockByStudentID(ctx context.Context, studentID int64) ([]*model.LessonPackage, error)
	UpdateBalance(ctx context.Context, pkg *model.LessonPackage) error
	AppendTransaction(ctx context.Context, tx *model.PackageTransaction) error
	GetDebits(ctx context.Context, studentID int64, ref model.CreditRef, limit int) ([]*model.PackageTransaction, error)
}

type GroupLessonStore interface {
	Create(ctx context.Context, lesson *model.GroupLesson) error
	GetByID(ctx context.Context, id int64) (*model.GroupLesson, error)
	GetByIDForUpdate(ctx context.Context, id int64) (*model.GroupLesson, error)
	GetByTeacherID(ctx context.Context, teacherID int64, from, to time.Time) ([]*model.GroupLesson, error)
	GetAvailable(ctx context.Context, teacherID int64, from, to time.Time) ([]*model.GroupLesson, error)
	GetOpen(ctx context.Context) ([]*model.GroupLesson, error)
	Update(ctx context.Context, lesson *model.GroupLesson) error
}

type RegistrationStore interface {
	Create(ctx context.Context, reg *model.GroupLessonRegistration) error
	GetByID(ctx context.Context, id int64) (*model.GroupLessonRegistration, error)
	GetByIDForUpdate(ctx context.Context, id int64) (*model.GroupLessonRegistration, error)
	GetNonCancelled(ctx context.Context, groupLessonID, studentID int64) (*model.GroupLessonRegistration, error)
	GetByGroupLessonID(ctx context.Context, groupLessonID int64) ([]*model.GroupLessonRegistration, error)
	GetByStudentID(ctx context.Context, studentID int64) ([]*model.GroupLessonRegistration, error)
	GetByTeacherID(ctx context.Context, teacherID int64) ([]*model.GroupLessonRegistration, error)
	CountActive(ctx context.Context, groupLessonID int64) (int, error)
	Update(ctx context.Context, reg *model.GroupLessonRegistration) error
}
