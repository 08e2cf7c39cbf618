package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/lesson_scheduler/internal/events"
	"github.com/Freeeeeet/lesson_scheduler/internal/model"
	"go.uber.org/zap"
)

// LessonService индивидуальные занятия: бронирование слота и списание уроков
type LessonService struct {
	tx         Transactor
	userRepo   UserStore
	lessonRepo LessonStore
	slots      *SlotService
	packages   *PackageService
	publisher  events.Publisher
	policy     CreditPolicy
	logger     *zap.Logger
}

func NewLessonService(
	tx Transactor,
	userRepo UserStore,
	lessonRepo LessonStore,
	slots *SlotService,
	packages *PackageService,
	publisher events.Publisher,
	policy CreditPolicy,
	logger *zap.Logger,
) *LessonService {
	if publisher == nil {
		publisher = events.Discard
	}
	return &LessonService{
		tx:         tx,
		userRepo:   userRepo,
		lessonRepo: lessonRepo,
		slots:      slots,
		packages:   packages,
		publisher:  publisher,
		policy:     policy,
		logger:     logger,
	}
}

// BookSlot бронирует слот для студента и списывает уроки с пакета.
// Всё выполняется в одной транзакции: при нехватке уроков слот остаётся свободным
func (s *LessonService) BookSlot(ctx context.Context, studentID, slotID int64, notes string) (*model.Lesson, error) {
	if _, err := requireUser(ctx, s.userRepo, "lesson", "BookSlot", studentID); err != nil {
		return nil, err
	}

	charge := s.policy.lessonCharge()
	lesson := &model.Lesson{
		StudentID:      studentID,
		Status:         model.LessonStatusScheduled,
		Notes:          notes,
		CreditsCharged: charge,
	}
	remaining := -1

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		// Получаем слот под блокировкой
		slot, err := s.slots.lockSlot(ctx, "Book", slotID)
		if err != nil {
			return err
		}

		if slot.TeacherID == studentID {
			return model.Validation("lesson", "BookSlot", "teacher cannot book own slot")
		}

		if !slot.IsAvailable() {
			return model.Conflict("slot", "Book", "slot %d is %s", slotID, slot.Status)
		}

		// Проверяем что слот в будущем
		if !slot.StartTime.After(time.Now()) {
			return model.Validation("lesson", "BookSlot", "slot %d is in the past", slotID)
		}

		if _, err := s.slots.bookTx(ctx, slotID); err != nil {
			return err
		}

		lesson.TeacherID = slot.TeacherID
		lesson.SlotID = &slot.ID
		lesson.ScheduledAt = slot.StartTime
		lesson.DurationMinutes = slot.DurationMinutes

		if err := s.lessonRepo.Create(ctx, lesson); err != nil {
			return fmt.Errorf("create lesson: %w", err)
		}

		if charge > 0 {
			remaining, err = s.packages.DeductTx(ctx, studentID, charge, model.CreditRef{LessonID: &lesson.ID})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Debug("Slot booking rejected",
			zap.Int64("student_id", studentID),
			zap.Int64("slot_id", slotID),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("Lesson booked",
		zap.Int64("lesson_id", lesson.ID),
		zap.Int64("student_id", studentID),
		zap.Int64("teacher_id", lesson.TeacherID),
		zap.Int64("slot_id", slotID),
		zap.Int("credits_charged", charge),
	)

	s.publish(ctx, events.LessonScheduled, lesson)
	if remaining >= 0 {
		s.packages.NotifyIfLow(ctx, studentID, remaining)
	}

	return lesson, nil
}

// CreateLessonInput занятие без слота, создаётся менеджером
type CreateLessonInput struct {
	StudentID       int64     `validate:"required,gt=0"`
	TeacherID       int64     `validate:"required,gt=0,nefield=StudentID"`
	ScheduledAt     time.Time `validate:"required"`
	DurationMinutes int       `validate:"required,gt=0,lte=1440"`
	Notes           string    `validate:"max=1000"`
}

// CreateLesson создаёт занятие без привязки к слоту
func (s *LessonService) CreateLesson(ctx context.Context, in CreateLessonInput) (*model.Lesson, error) {
	if err := validateInput("lesson", "Create", in); err != nil {
		return nil, err
	}
	if err := requireFuture("lesson", "Create", in.ScheduledAt); err != nil {
		return nil, err
	}
	if _, err := requireUser(ctx, s.userRepo, "lesson", "Create", in.StudentID); err != nil {
		return nil, err
	}
	if _, err := requireTeacher(ctx, s.userRepo, "lesson", "Create", in.TeacherID); err != nil {
		return nil, err
	}

	charge := s.policy.lessonCharge()
	lesson := &model.Lesson{
		StudentID:       in.StudentID,
		TeacherID:       in.TeacherID,
		ScheduledAt:     in.ScheduledAt,
		DurationMinutes: in.DurationMinutes,
		Status:          model.LessonStatusScheduled,
		Notes:           in.Notes,
		CreditsCharged:  charge,
	}
	remaining := -1

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.lessonRepo.Create(ctx, lesson); err != nil {
			return fmt.Errorf("create lesson: %w", err)
		}
		if charge > 0 {
			var err error
			remaining, err = s.packages.DeductTx(ctx, in.StudentID, charge, model.CreditRef{LessonID: &lesson.ID})
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Lesson created",
		zap.Int64("lesson_id", lesson.ID),
		zap.Int64("student_id", lesson.StudentID),
		zap.Int64("teacher_id", lesson.TeacherID),
		zap.Time("scheduled_at", lesson.ScheduledAt),
	)

	s.publish(ctx, events.LessonScheduled, lesson)
	if remaining >= 0 {
		s.packages.NotifyIfLow(ctx, lesson.StudentID, remaining)
	}

	return lesson, nil
}

// UpdateLessonInput изменяемые поля. nil означает "не менять"
type UpdateLessonInput struct {
	Notes           *string    `validate:"omitempty,max=1000"`
	ScheduledAt     *time.Time `validate:"omitempty"`
	DurationMinutes *int       `validate:"omitempty,gt=0,lte=1440"`
}

// UpdateLesson меняет заметки или время запланированного занятия.
// Время занятия со слотом определяется слотом и здесь не меняется
func (s *LessonService) UpdateLesson(ctx context.Context, lessonID int64, in UpdateLessonInput) (*model.Lesson, error) {
	if err := validateInput("lesson", "Update", in); err != nil {
		return nil, err
	}
	if in.ScheduledAt != nil {
		if err := requireFuture("lesson", "Update", *in.ScheduledAt); err != nil {
			return nil, err
		}
	}

	var lesson *model.Lesson
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		lesson, err = s.lockLesson(ctx, "Update", lessonID)
		if err != nil {
			return err
		}

		if lesson.Status != model.LessonStatusScheduled {
			return model.InvalidState("lesson", "Update", "lesson %d is %s", lessonID, lesson.Status)
		}

		if lesson.SlotID != nil && (in.ScheduledAt != nil || in.DurationMinutes != nil) {
			return model.InvalidState("lesson", "Update", "lesson %d is bound to slot %d, rebook instead", lessonID, *lesson.SlotID)
		}

		if in.Notes != nil {
			lesson.Notes = *in.Notes
		}
		if in.ScheduledAt != nil {
			lesson.ScheduledAt = *in.ScheduledAt
		}
		if in.DurationMinutes != nil {
			lesson.DurationMinutes = *in.DurationMinutes
		}

		return s.lessonRepo.Update(ctx, lesson)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Lesson updated", zap.Int64("lesson_id", lessonID))
	return lesson, nil
}

// CancelLesson отменяет запланированное занятие, освобождает слот
// и возвращает уроки согласно политике возврата
func (s *LessonService) CancelLesson(ctx context.Context, lessonID int64, by model.CancelledBy, reason string) (*model.Lesson, error) {
	if !by.Valid() {
		return nil, model.Validation("lesson", "Cancel", "unknown cancelled_by %q", by)
	}

	var (
		lesson   *model.Lesson
		refunded int
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		lesson, err = s.lockLesson(ctx, "Cancel", lessonID)
		if err != nil {
			return err
		}

		if !lesson.CanTransition(model.LessonStatusCancelled) {
			return model.InvalidState("lesson", "Cancel", "lesson %d is %s", lessonID, lesson.Status)
		}

		// Освобождаем слот
		if lesson.SlotID != nil {
			if _, err := s.slots.releaseTx(ctx, *lesson.SlotID); err != nil {
				return err
			}
		}

		if lesson.CreditsCharged > 0 && s.policy.Refund.ShouldRefund(by) {
			if _, err := s.packages.RefundTx(ctx, lesson.StudentID, lesson.CreditsCharged, model.CreditRef{LessonID: &lesson.ID}); err != nil {
				return err
			}
			refunded = lesson.CreditsCharged
			lesson.CreditsCharged = 0
		}

		now := time.Now()
		lesson.Status = model.LessonStatusCancelled
		lesson.CancellationReason = reason
		lesson.CancelledBy = &by
		lesson.CancelledAt = &now

		return s.lessonRepo.Update(ctx, lesson)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Lesson cancelled",
		zap.Int64("lesson_id", lessonID),
		zap.String("cancelled_by", string(by)),
		zap.String("reason", reason),
		zap.Int("refunded", refunded),
	)

	s.publish(ctx, events.LessonCancelled, lesson)
	return lesson, nil
}

// CompleteLesson учитель подтверждает проведённое занятие
func (s *LessonService) CompleteLesson(ctx context.Context, lessonID int64) (*model.Lesson, error) {
	lesson, err := s.finish(ctx, "Complete", lessonID, model.LessonStatusCompleted)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Lesson completed", zap.Int64("lesson_id", lessonID))
	s.publish(ctx, events.LessonCompleted, lesson)
	return lesson, nil
}

// MarkMissed студент не пришёл. Уроки не возвращаются
func (s *LessonService) MarkMissed(ctx context.Context, lessonID int64) (*model.Lesson, error) {
	lesson, err := s.finish(ctx, "MarkMissed", lessonID, model.LessonStatusMissed)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Lesson missed", zap.Int64("lesson_id", lessonID))
	s.publish(ctx, events.LessonMissed, lesson)
	return lesson, nil
}

func (s *LessonService) finish(ctx context.Context, op string, lessonID int64, to model.LessonStatus) (*model.Lesson, error) {
	var lesson *model.Lesson
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		lesson, err = s.lockLesson(ctx, op, lessonID)
		if err != nil {
			return err
		}

		if !lesson.CanTransition(to) {
			return model.InvalidState("lesson", op, "lesson %d is %s", lessonID, lesson.Status)
		}

		lesson.Status = to
		if to == model.LessonStatusCompleted {
			lesson.ConfirmedByTeacher = true
		}
		return s.lessonRepo.Update(ctx, lesson)
	})
	if err != nil {
		return nil, err
	}
	return lesson, nil
}

// DeleteLesson удаляет завершённое или отменённое занятие
func (s *LessonService) DeleteLesson(ctx context.Context, lessonID int64) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		lesson, err := s.lockLesson(ctx, "Delete", lessonID)
		if err != nil {
			return err
		}

		if !lesson.Status.IsTerminal() {
			return model.InvalidState("lesson", "Delete", "lesson %d is scheduled, cancel it first", lessonID)
		}

		return s.lessonRepo.Delete(ctx, lessonID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Lesson deleted", zap.Int64("lesson_id", lessonID))
	return nil
}

// GetLesson получает занятие по ID
func (s *LessonService) GetLesson(ctx context.Context, lessonID int64) (*model.Lesson, error) {
	lesson, err := s.lessonRepo.GetByID(ctx, lessonID)
	if err != nil {
		return nil, fmt.Errorf("get lesson: %w", err)
	}
	if lesson == nil {
		return nil, model.NotFound("lesson", "Get", lessonID)
	}
	return lesson, nil
}

// ListStudentLessons получает занятия студента
func (s *LessonService) ListStudentLessons(ctx context.Context, studentID int64) ([]*model.Lesson, error) {
	return s.lessonRepo.GetByStudentID(ctx, studentID)
}

// ListTeacherLessons получает занятия учителя
func (s *LessonService) ListTeacherLessons(ctx context.Context, teacherID int64) ([]*model.Lesson, error) {
	return s.lessonRepo.GetByTeacherID(ctx, teacherID)
}

func (s *LessonService) lockLesson(ctx context.Context, op string, lessonID int64) (*model.Lesson, error) {
	lesson, err := s.lessonRepo.GetByIDForUpdate(ctx, lessonID)
	if err != nil {
		return nil, fmt.Errorf("get lesson: %w", err)
	}
	if lesson == nil {
		return nil, model.NotFound("lesson", op, lessonID)
	}
	return lesson, nil
}

func (s *LessonService) publish(ctx context.Context, t events.Type, lesson *model.Lesson) {
	ev := events.New(t)
	ev.LessonID = lesson.ID
	ev.StudentID = lesson.StudentID
	ev.TeacherID = lesson.TeacherID
	ev.ScheduledAt = lesson.ScheduledAt
	ev.DurationMinutes = lesson.DurationMinutes
	if lesson.SlotID != nil {
		ev.SlotID = *lesson.SlotID
	}
	if lesson.CancelledBy != nil {
		ev.CancelledBy = string(*lesson.CancelledBy)
		ev.Reason = lesson.CancellationReason
	}
	s.publisher.Publish(ctx, ev)
}
