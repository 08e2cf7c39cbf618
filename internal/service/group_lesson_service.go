package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/lesson_scheduler/internal/events"
	"github.com/Freeeeeet/lesson_scheduler/internal/model"
	"go.uber.org/zap"
)

// GroupLessonService групповые занятия и записи студентов на них.
// Блокировки берутся в порядке: групповое занятие, затем регистрация
type GroupLessonService struct {
	tx        Transactor
	userRepo  UserStore
	groupRepo GroupLessonStore
	regRepo   RegistrationStore
	packages  *PackageService
	publisher events.Publisher
	policy    CreditPolicy
	logger    *zap.Logger
}

func NewGroupLessonService(
	tx Transactor,
	userRepo UserStore,
	groupRepo GroupLessonStore,
	regRepo RegistrationStore,
	packages *PackageService,
	publisher events.Publisher,
	policy CreditPolicy,
	logger *zap.Logger,
) *GroupLessonService {
	if publisher == nil {
		publisher = events.Discard
	}
	return &GroupLessonService{
		tx:        tx,
		userRepo:  userRepo,
		groupRepo: groupRepo,
		regRepo:   regRepo,
		packages:  packages,
		publisher: publisher,
		policy:    policy,
		logger:    logger,
	}
}

// CreateGroupLessonInput параметры группового занятия. MaxStudents nil = без ограничений
type CreateGroupLessonInput struct {
	TeacherID       int64     `validate:"required,gt=0"`
	Topic           string    `validate:"required,max=255"`
	Description     string    `validate:"max=2000"`
	ScheduledAt     time.Time `validate:"required"`
	DurationMinutes int       `validate:"required,gt=0,lte=1440"`
	MaxStudents     *int      `validate:"omitempty,gt=0"`
}

// CreateGroupLesson создаёт групповое занятие в статусе SCHEDULED
func (s *GroupLessonService) CreateGroupLesson(ctx context.Context, in CreateGroupLessonInput) (*model.GroupLesson, error) {
	if err := validateInput("group_lesson", "Create", in); err != nil {
		return nil, err
	}
	if err := requireFuture("group_lesson", "Create", in.ScheduledAt); err != nil {
		return nil, err
	}
	if _, err := requireTeacher(ctx, s.userRepo, "group_lesson", "Create", in.TeacherID); err != nil {
		return nil, err
	}

	lesson := &model.GroupLesson{
		TeacherID:       in.TeacherID,
		Topic:           in.Topic,
		Description:     in.Description,
		ScheduledAt:     in.ScheduledAt,
		DurationMinutes: in.DurationMinutes,
		MaxStudents:     in.MaxStudents,
		Status:          model.GroupLessonStatusScheduled,
	}

	if err := s.groupRepo.Create(ctx, lesson); err != nil {
		return nil, fmt.Errorf("create group lesson: %w", err)
	}

	s.logger.Info("Group lesson created",
		zap.Int64("group_lesson_id", lesson.ID),
		zap.Int64("teacher_id", lesson.TeacherID),
		zap.String("topic", lesson.Topic),
		zap.Time("scheduled_at", lesson.ScheduledAt),
		zap.Stringer("capacity", lesson.AvailableSpaces()),
	)

	return lesson, nil
}

// UpdateGroupLessonInput изменяемые поля. nil означает "не менять",
// UnlimitedCapacity снимает ограничение на число мест
type UpdateGroupLessonInput struct {
	Topic             *string `validate:"omitempty,min=1,max=255"`
	Description       *string `validate:"omitempty,max=2000"`
	MaxStudents       *int    `validate:"omitempty,gt=0"`
	UnlimitedCapacity bool    `validate:"excluded_with=MaxStudents"`
}

// UpdateGroupLesson меняет тему, описание или вместимость
func (s *GroupLessonService) UpdateGroupLesson(ctx context.Context, id int64, in UpdateGroupLessonInput) (*model.GroupLesson, error) {
	if err := validateInput("group_lesson", "Update", in); err != nil {
		return nil, err
	}

	var lesson *model.GroupLesson
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		lesson, err = s.lockGroupLesson(ctx, "Update", id)
		if err != nil {
			return err
		}

		if lesson.Status.IsTerminal() {
			return model.InvalidState("group_lesson", "Update", "group lesson %d is %s", id, lesson.Status)
		}

		if in.Topic != nil {
			lesson.Topic = *in.Topic
		}
		if in.Description != nil {
			lesson.Description = *in.Description
		}
		if in.MaxStudents != nil {
			if *in.MaxStudents < lesson.CurrentStudents {
				return model.Validation("group_lesson", "Update",
					"capacity %d is below %d registered students", *in.MaxStudents, lesson.CurrentStudents)
			}
			lesson.MaxStudents = in.MaxStudents
		}
		if in.UnlimitedCapacity {
			lesson.MaxStudents = nil
		}

		return s.groupRepo.Update(ctx, lesson)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Group lesson updated", zap.Int64("group_lesson_id", id))
	return lesson, nil
}

// GetGroupLesson получает групповое занятие по ID
func (s *GroupLessonService) GetGroupLesson(ctx context.Context, id int64) (*model.GroupLesson, error) {
	lesson, err := s.groupRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get group lesson: %w", err)
	}
	if lesson == nil {
		return nil, model.NotFound("group_lesson", "Get", id)
	}
	return lesson, nil
}

// IsSlotAvailableForBooking открыта ли запись и есть ли свободные места
func (s *GroupLessonService) IsSlotAvailableForBooking(ctx context.Context, id int64) (bool, error) {
	lesson, err := s.GetGroupLesson(ctx, id)
	if err != nil {
		return false, err
	}
	return lesson.IsAvailableForBooking(), nil
}

// AvailableSpaces свободные места занятия
func (s *GroupLessonService) AvailableSpaces(lesson *model.GroupLesson) model.Capacity {
	return lesson.AvailableSpaces()
}

// BookSlot записывает студента на групповое занятие. Проверка мест,
// создание регистрации и увеличение счётчика выполняются под блокировкой занятия
func (s *GroupLessonService) BookSlot(ctx context.Context, groupLessonID, studentID int64) (*model.GroupLessonRegistration, error) {
	if _, err := requireUser(ctx, s.userRepo, "registration", "Book", studentID); err != nil {
		return nil, err
	}

	charge := s.policy.groupCharge()
	reg := &model.GroupLessonRegistration{
		GroupLessonID:  groupLessonID,
		StudentID:      studentID,
		Status:         model.RegistrationStatusRegistered,
		CreditsCharged: charge,
	}
	var lesson *model.GroupLesson
	remaining := -1

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		lesson, err = s.lockGroupLesson(ctx, "Book", groupLessonID)
		if err != nil {
			return err
		}

		if lesson.TeacherID == studentID {
			return model.Validation("registration", "Book", "teacher cannot register for own group lesson")
		}

		if !lesson.AcceptsBookings() {
			return model.Conflict("registration", "Book", "group lesson %d is %s", groupLessonID, lesson.Status)
		}

		if !lesson.ScheduledAt.After(time.Now()) {
			return model.Validation("registration", "Book", "group lesson %d has already started", groupLessonID)
		}

		// Проверяем что студент ещё не записан
		existing, err := s.regRepo.GetNonCancelled(ctx, groupLessonID, studentID)
		if err != nil {
			return fmt.Errorf("get registration: %w", err)
		}
		if existing != nil {
			return model.Conflict("registration", "Book", "student %d already registered", studentID)
		}

		if !lesson.HasFreeSeat() {
			return model.Conflict("registration", "Book", "group lesson %d is full", groupLessonID)
		}

		if err := s.regRepo.Create(ctx, reg); err != nil {
			return fmt.Errorf("create registration: %w", err)
		}

		lesson.IncrementStudents()
		if err := s.groupRepo.Update(ctx, lesson); err != nil {
			return fmt.Errorf("update group lesson: %w", err)
		}

		if charge > 0 {
			remaining, err = s.packages.DeductTx(ctx, studentID, charge, model.CreditRef{RegistrationID: &reg.ID})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Group lesson seat booked",
		zap.Int64("registration_id", reg.ID),
		zap.Int64("group_lesson_id", groupLessonID),
		zap.Int64("student_id", studentID),
		zap.Int("current_students", lesson.CurrentStudents),
	)

	s.publishSeat(ctx, events.GroupSeatBooked, lesson, reg)
	if remaining >= 0 {
		s.packages.NotifyIfLow(ctx, studentID, remaining)
	}

	return reg, nil
}

// CancelBooking студент отменяет запись
func (s *GroupLessonService) CancelBooking(ctx context.Context, registrationID int64, reason string) (*model.GroupLessonRegistration, error) {
	lesson, reg, err := s.cancelRegistration(ctx, "CancelBooking", registrationID, reason, model.CancelledByStudent)
	if err != nil {
		return nil, err
	}

	s.publishSeat(ctx, events.GroupSeatCancelled, lesson, reg)
	return reg, nil
}

// cancelRegistration отменяет регистрацию в отдельной транзакции
func (s *GroupLessonService) cancelRegistration(
	ctx context.Context,
	op string,
	registrationID int64,
	reason string,
	by model.CancelledBy,
) (*model.GroupLesson, *model.GroupLessonRegistration, error) {
	var (
		lesson   *model.GroupLesson
		reg      *model.GroupLessonRegistration
		refunded int
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		lesson, reg, err = s.lockRegistration(ctx, op, registrationID)
		if err != nil {
			return err
		}

		if !reg.CanCancel() {
			return model.InvalidState("registration", op, "registration %d is %s", registrationID, reg.Status)
		}

		now := time.Now()
		reg.Status = model.RegistrationStatusCancelled
		reg.CancellationReason = reason
		reg.CancelledAt = &now

		if reg.CreditsCharged > 0 && s.policy.Refund.ShouldRefund(by) {
			if _, err := s.packages.RefundTx(ctx, reg.StudentID, reg.CreditsCharged, model.CreditRef{RegistrationID: &reg.ID}); err != nil {
				return err
			}
			refunded = reg.CreditsCharged
			reg.CreditsCharged = 0
		}

		if err := s.regRepo.Update(ctx, reg); err != nil {
			return fmt.Errorf("update registration: %w", err)
		}

		lesson.DecrementStudents()
		if err := s.groupRepo.Update(ctx, lesson); err != nil {
			return fmt.Errorf("update group lesson: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("Group lesson registration cancelled",
		zap.Int64("registration_id", registrationID),
		zap.Int64("group_lesson_id", reg.GroupLessonID),
		zap.String("cancelled_by", string(by)),
		zap.Int("refunded", refunded),
	)

	return lesson, reg, nil
}

// MarkAsAttended отмечает посещение
func (s *GroupLessonService) MarkAsAttended(ctx context.Context, registrationID int64) (*model.GroupLessonRegistration, error) {
	return s.markAttendance(ctx, "MarkAsAttended", registrationID, model.RegistrationStatusAttended)
}

// MarkAsMissed отмечает пропуск. Место освобождается, уроки не возвращаются
func (s *GroupLessonService) MarkAsMissed(ctx context.Context, registrationID int64) (*model.GroupLessonRegistration, error) {
	return s.markAttendance(ctx, "MarkAsMissed", registrationID, model.RegistrationStatusMissed)
}

func (s *GroupLessonService) markAttendance(ctx context.Context, op string, registrationID int64, to model.RegistrationStatus) (*model.GroupLessonRegistration, error) {
	var reg *model.GroupLessonRegistration
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var (
			lesson *model.GroupLesson
			err    error
		)
		lesson, reg, err = s.lockRegistration(ctx, op, registrationID)
		if err != nil {
			return err
		}

		if !reg.CanMarkAttendance() {
			return model.InvalidState("registration", op, "registration %d is %s", registrationID, reg.Status)
		}

		now := time.Now()
		reg.Status = to
		reg.AttendanceConfirmedAt = &now
		if err := s.regRepo.Update(ctx, reg); err != nil {
			return fmt.Errorf("update registration: %w", err)
		}

		// Счётчик учитывает только REGISTERED и ATTENDED
		if !to.IsActive() {
			lesson.DecrementStudents()
			if err := s.groupRepo.Update(ctx, lesson); err != nil {
				return fmt.Errorf("update group lesson: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Attendance marked",
		zap.Int64("registration_id", registrationID),
		zap.String("status", string(to)),
	)

	return reg, nil
}

// ConfirmLesson SCHEDULED -> CONFIRMED
func (s *GroupLessonService) ConfirmLesson(ctx context.Context, id int64) (*model.GroupLesson, error) {
	return s.transition(ctx, "Confirm", id, model.GroupLessonStatusConfirmed, nil)
}

// StartLesson CONFIRMED -> IN_PROGRESS
func (s *GroupLessonService) StartLesson(ctx context.Context, id int64) (*model.GroupLesson, error) {
	return s.transition(ctx, "Start", id, model.GroupLessonStatusInProgress, nil)
}

// CompleteLesson IN_PROGRESS -> COMPLETED
func (s *GroupLessonService) CompleteLesson(ctx context.Context, id int64) (*model.GroupLesson, error) {
	return s.transition(ctx, "Complete", id, model.GroupLessonStatusCompleted, nil)
}

// PostponeLesson откладывает занятие без новой даты. Записи сохраняются
func (s *GroupLessonService) PostponeLesson(ctx context.Context, id int64, reason string) (*model.GroupLesson, error) {
	lesson, err := s.transition(ctx, "Postpone", id, model.GroupLessonStatusPostponed, func(l *model.GroupLesson) error {
		l.CancellationReason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyRegistered(ctx, events.GroupLessonPostponed, lesson, reason)
	return lesson, nil
}

// RescheduleLesson назначает отложенному занятию новое время
func (s *GroupLessonService) RescheduleLesson(ctx context.Context, id int64, scheduledAt time.Time) (*model.GroupLesson, error) {
	if err := requireFuture("group_lesson", "Reschedule", scheduledAt); err != nil {
		return nil, err
	}

	lesson, err := s.transition(ctx, "Reschedule", id, model.GroupLessonStatusScheduled, func(l *model.GroupLesson) error {
		l.ScheduledAt = scheduledAt
		l.CancellationReason = ""
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyRegistered(ctx, events.GroupLessonRescheduled, lesson, "")
	return lesson, nil
}

// CancellationReport итог каскадной отмены группового занятия
type CancellationReport struct {
	GroupLesson *model.GroupLesson
	Cancelled   []int64         // отменённые регистрации
	Failed      map[int64]error // регистрации, которые отменить не удалось
}

// CancelLesson отменяет групповое занятие и затем каждую активную запись
// в отдельной транзакции. Ошибка по одной записи не останавливает остальные
func (s *GroupLessonService) CancelLesson(ctx context.Context, id int64, reason string) (*CancellationReport, error) {
	lesson, err := s.transition(ctx, "Cancel", id, model.GroupLessonStatusCancelled, func(l *model.GroupLesson) error {
		l.CancellationReason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}

	report := &CancellationReport{
		GroupLesson: lesson,
		Failed:      make(map[int64]error),
	}

	regs, err := s.regRepo.GetByGroupLessonID(ctx, id)
	if err != nil {
		s.logger.Error("Failed to load registrations for cancellation",
			zap.Int64("group_lesson_id", id),
			zap.Error(err),
		)
		return report, nil
	}

	for _, r := range regs {
		if !r.CanCancel() {
			continue
		}

		l, reg, err := s.cancelRegistration(ctx, "CancelLesson", r.ID, reason, model.CancelledByTeacher)
		if err != nil {
			s.logger.Error("Failed to cancel registration",
				zap.Int64("group_lesson_id", id),
				zap.Int64("registration_id", r.ID),
				zap.Error(err),
			)
			report.Failed[r.ID] = err
			continue
		}

		report.Cancelled = append(report.Cancelled, reg.ID)
		report.GroupLesson = l
		s.publishSeat(ctx, events.GroupLessonCancelled, l, reg)
	}

	s.logger.Info("Group lesson cancelled",
		zap.Int64("group_lesson_id", id),
		zap.Int("registrations_cancelled", len(report.Cancelled)),
		zap.Int("registrations_failed", len(report.Failed)),
	)

	return report, nil
}

func (s *GroupLessonService) transition(
	ctx context.Context,
	op string,
	id int64,
	to model.GroupLessonStatus,
	mutate func(*model.GroupLesson) error,
) (*model.GroupLesson, error) {
	var (
		lesson *model.GroupLesson
		from   model.GroupLessonStatus
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		lesson, err = s.lockGroupLesson(ctx, op, id)
		if err != nil {
			return err
		}

		from = lesson.Status
		if !from.CanTransitionTo(to) {
			return model.InvalidState("group_lesson", op, "cannot move group lesson %d from %s to %s", id, from, to)
		}

		lesson.Status = to
		if mutate != nil {
			if err := mutate(lesson); err != nil {
				return err
			}
		}
		return s.groupRepo.Update(ctx, lesson)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Group lesson status changed",
		zap.Int64("group_lesson_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)

	return lesson, nil
}

// ListAvailable занятия учителя за период, на которые можно записаться
func (s *GroupLessonService) ListAvailable(ctx context.Context, teacherID int64, from, to time.Time) ([]*model.GroupLesson, error) {
	return s.groupRepo.GetAvailable(ctx, teacherID, from, to)
}

// ListTeacherLessons все групповые занятия учителя за период
func (s *GroupLessonService) ListTeacherLessons(ctx context.Context, teacherID int64, from, to time.Time) ([]*model.GroupLesson, error) {
	return s.groupRepo.GetByTeacherID(ctx, teacherID, from, to)
}

// GetRegistration получает регистрацию по ID
func (s *GroupLessonService) GetRegistration(ctx context.Context, id int64) (*model.GroupLessonRegistration, error) {
	reg, err := s.regRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get registration: %w", err)
	}
	if reg == nil {
		return nil, model.NotFound("registration", "Get", id)
	}
	return reg, nil
}

// ListRegistrations записи на занятие
func (s *GroupLessonService) ListRegistrations(ctx context.Context, groupLessonID int64) ([]*model.GroupLessonRegistration, error) {
	return s.regRepo.GetByGroupLessonID(ctx, groupLessonID)
}

// ListStudentRegistrations записи студента
func (s *GroupLessonService) ListStudentRegistrations(ctx context.Context, studentID int64) ([]*model.GroupLessonRegistration, error) {
	return s.regRepo.GetByStudentID(ctx, studentID)
}

// ListTeacherRegistrations записи на занятия учителя
func (s *GroupLessonService) ListTeacherRegistrations(ctx context.Context, teacherID int64) ([]*model.GroupLessonRegistration, error) {
	return s.regRepo.GetByTeacherID(ctx, teacherID)
}

// CountActiveRegistrations число записей REGISTERED и ATTENDED по данным регистраций
func (s *GroupLessonService) CountActiveRegistrations(ctx context.Context, groupLessonID int64) (int, error) {
	return s.regRepo.CountActive(ctx, groupLessonID)
}

// ReconcileCounters сверяет current_students с регистрациями у незавершённых
// занятий и исправляет расхождения. Возвращает число исправленных занятий
func (s *GroupLessonService) ReconcileCounters(ctx context.Context) (int, error) {
	open, err := s.groupRepo.GetOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("get open group lessons: %w", err)
	}

	fixed := 0
	for _, g := range open {
		var drift bool
		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			lesson, err := s.lockGroupLesson(ctx, "Reconcile", g.ID)
			if err != nil {
				return err
			}

			count, err := s.regRepo.CountActive(ctx, g.ID)
			if err != nil {
				return fmt.Errorf("count registrations: %w", err)
			}
			if count == lesson.CurrentStudents {
				return nil
			}

			s.logger.Warn("Group lesson counter drift",
				zap.Int64("group_lesson_id", g.ID),
				zap.Int("current_students", lesson.CurrentStudents),
				zap.Int("active_registrations", count),
			)

			drift = true
			lesson.CurrentStudents = count
			return s.groupRepo.Update(ctx, lesson)
		})
		if err != nil {
			s.logger.Error("Failed to reconcile group lesson counter",
				zap.Int64("group_lesson_id", g.ID),
				zap.Error(err),
			)
			continue
		}
		if drift {
			fixed++
		}
	}

	return fixed, nil
}

func (s *GroupLessonService) lockGroupLesson(ctx context.Context, op string, id int64) (*model.GroupLesson, error) {
	lesson, err := s.groupRepo.GetByIDForUpdate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get group lesson: %w", err)
	}
	if lesson == nil {
		return nil, model.NotFound("group_lesson", op, id)
	}
	return lesson, nil
}

// lockRegistration блокирует занятие, затем регистрацию
func (s *GroupLessonService) lockRegistration(ctx context.Context, op string, registrationID int64) (*model.GroupLesson, *model.GroupLessonRegistration, error) {
	probe, err := s.regRepo.GetByID(ctx, registrationID)
	if err != nil {
		return nil, nil, fmt.Errorf("get registration: %w", err)
	}
	if probe == nil {
		return nil, nil, model.NotFound("registration", op, registrationID)
	}

	lesson, err := s.lockGroupLesson(ctx, op, probe.GroupLessonID)
	if err != nil {
		return nil, nil, err
	}

	reg, err := s.regRepo.GetByIDForUpdate(ctx, registrationID)
	if err != nil {
		return nil, nil, fmt.Errorf("get registration: %w", err)
	}
	if reg == nil {
		return nil, nil, model.NotFound("registration", op, registrationID)
	}
	return lesson, reg, nil
}

// notifyRegistered уведомляет каждого активного участника
func (s *GroupLessonService) notifyRegistered(ctx context.Context, t events.Type, lesson *model.GroupLesson, reason string) {
	regs, err := s.regRepo.GetByGroupLessonID(ctx, lesson.ID)
	if err != nil {
		s.logger.Error("Failed to load registrations for notification",
			zap.Int64("group_lesson_id", lesson.ID),
			zap.Error(err),
		)
		return
	}

	for _, reg := range regs {
		if !reg.Status.IsActive() {
			continue
		}
		ev := s.seatEvent(t, lesson, reg)
		ev.Reason = reason
		s.publisher.Publish(ctx, ev)
	}
}

func (s *GroupLessonService) publishSeat(ctx context.Context, t events.Type, lesson *model.GroupLesson, reg *model.GroupLessonRegistration) {
	s.publisher.Publish(ctx, s.seatEvent(t, lesson, reg))
}

func (s *GroupLessonService) seatEvent(t events.Type, lesson *model.GroupLesson, reg *model.GroupLessonRegistration) events.Event {
	ev := events.New(t)
	ev.GroupLessonID = lesson.ID
	ev.TeacherID = lesson.TeacherID
	ev.Topic = lesson.Topic
	ev.ScheduledAt = lesson.ScheduledAt
	ev.DurationMinutes = lesson.DurationMinutes
	spaces := lesson.AvailableSpaces()
	ev.Capacity = &spaces
	ev.RegistrationID = reg.ID
	ev.StudentID = reg.StudentID
	ev.Reason = reg.CancellationReason
	return ev
}
