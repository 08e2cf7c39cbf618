package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/lesson_scheduler/internal/model"
	"go.uber.org/zap"
)

// SlotService жизненный цикл слотов учителя
type SlotService struct {
	tx              Transactor
	userRepo        UserStore
	slotRepo        SlotStore
	lessonRepo      LessonStore
	defaultDuration int
	logger          *zap.Logger
}

func NewSlotService(
	tx Transactor,
	userRepo UserStore,
	slotRepo SlotStore,
	lessonRepo LessonStore,
	defaultDuration int,
	logger *zap.Logger,
) *SlotService {
	if defaultDuration <= 0 {
		defaultDuration = model.DefaultSlotDuration
	}
	return &SlotService{
		tx:              tx,
		userRepo:        userRepo,
		slotRepo:        slotRepo,
		lessonRepo:      lessonRepo,
		defaultDuration: defaultDuration,
		logger:          logger,
	}
}

// CreateSlotInput параметры нового слота. DurationMinutes = 0 означает длительность по умолчанию
type CreateSlotInput struct {
	TeacherID       int64     `validate:"required,gt=0"`
	StartTime       time.Time `validate:"required"`
	DurationMinutes int       `validate:"gte=0,lte=1440"`
}

// CreateSlot создаёт временной слот
func (s *SlotService) CreateSlot(ctx context.Context, in CreateSlotInput) (*model.AvailabilitySlot, error) {
	if err := validateInput("slot", "Create", in); err != nil {
		return nil, err
	}

	if err := requireFuture("slot", "Create", in.StartTime); err != nil {
		return nil, err
	}

	if _, err := requireTeacher(ctx, s.userRepo, "slot", "Create", in.TeacherID); err != nil {
		return nil, err
	}

	duration := in.DurationMinutes
	if duration == 0 {
		duration = s.defaultDuration
	}

	slot := &model.AvailabilitySlot{
		TeacherID:       in.TeacherID,
		StartTime:       in.StartTime,
		DurationMinutes: duration,
	}
	slot.SetStatus(model.SlotStatusAvailable)

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		// Проверка пересечений и вставка под одной блокировкой календаря
		if err := s.slotRepo.LockTeacherCalendar(ctx, in.TeacherID); err != nil {
			return err
		}

		overlapping, err := s.slotRepo.FindOverlapping(ctx, in.TeacherID, slot.StartTime, slot.EndTime())
		if err != nil {
			return fmt.Errorf("find overlapping slots: %w", err)
		}
		if len(overlapping) > 0 {
			return model.Validation("slot", "Create", "slot overlaps existing slot %d", overlapping[0].ID)
		}

		return s.slotRepo.Create(ctx, slot)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Slot created",
		zap.Int64("slot_id", slot.ID),
		zap.Int64("teacher_id", slot.TeacherID),
		zap.Time("start_time", slot.StartTime),
		zap.Int("duration_minutes", slot.DurationMinutes),
	)

	return slot, nil
}

// GetSlot получает слот по ID
func (s *SlotService) GetSlot(ctx context.Context, slotID int64) (*model.AvailabilitySlot, error) {
	slot, err := s.slotRepo.GetByID(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("get slot: %w", err)
	}
	if slot == nil {
		return nil, model.NotFound("slot", "Get", slotID)
	}
	return slot, nil
}

// ListTeacherSlots получает расписание учителя за период
func (s *SlotService) ListTeacherSlots(ctx context.Context, teacherID int64, from, to time.Time) ([]*model.AvailabilitySlot, error) {
	return s.slotRepo.GetByTeacherID(ctx, teacherID, from, to)
}

// ListAvailableSlots получает свободные слоты учителя за период
func (s *SlotService) ListAvailableSlots(ctx context.Context, teacherID int64, from, to time.Time) ([]*model.AvailabilitySlot, error) {
	return s.slotRepo.GetAvailable(ctx, teacherID, from, to)
}

// BookSlot переводит слот AVAILABLE -> BOOKED
func (s *SlotService) BookSlot(ctx context.Context, slotID int64) (*model.AvailabilitySlot, error) {
	var slot *model.AvailabilitySlot
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		slot, err = s.bookTx(ctx, slotID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Slot booked", zap.Int64("slot_id", slotID))
	return slot, nil
}

// bookTx бронирует слот внутри открытой транзакции
func (s *SlotService) bookTx(ctx context.Context, slotID int64) (*model.AvailabilitySlot, error) {
	slot, err := s.lockSlot(ctx, "Book", slotID)
	if err != nil {
		return nil, err
	}

	if !slot.IsAvailable() {
		return nil, model.Conflict("slot", "Book", "slot %d is %s", slotID, slot.Status)
	}

	if err := s.transition(ctx, "Book", slot, model.SlotStatusAvailable, model.SlotStatusBooked); err != nil {
		return nil, err
	}
	return slot, nil
}

// ReleaseSlot переводит слот BOOKED -> AVAILABLE
func (s *SlotService) ReleaseSlot(ctx context.Context, slotID int64) (*model.AvailabilitySlot, error) {
	var slot *model.AvailabilitySlot
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		slot, err = s.releaseTx(ctx, slotID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Slot released", zap.Int64("slot_id", slotID))
	return slot, nil
}

func (s *SlotService) releaseTx(ctx context.Context, slotID int64) (*model.AvailabilitySlot, error) {
	slot, err := s.lockSlot(ctx, "Release", slotID)
	if err != nil {
		return nil, err
	}

	if slot.Status != model.SlotStatusBooked {
		return nil, model.InvalidState("slot", "Release", "slot %d is %s, not BOOKED", slotID, slot.Status)
	}

	if err := s.transition(ctx, "Release", slot, model.SlotStatusBooked, model.SlotStatusAvailable); err != nil {
		return nil, err
	}
	return slot, nil
}

// BlockSlot закрывает свободный слот (учитель недоступен)
func (s *SlotService) BlockSlot(ctx context.Context, slotID int64) (*model.AvailabilitySlot, error) {
	var slot *model.AvailabilitySlot
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		slot, err = s.lockSlot(ctx, "Block", slotID)
		if err != nil {
			return err
		}

		switch slot.Status {
		case model.SlotStatusBooked:
			return model.Conflict("slot", "Block", "slot %d is booked, cancel the lesson first", slotID)
		case model.SlotStatusBlocked:
			return model.InvalidState("slot", "Block", "slot %d is already blocked", slotID)
		}

		return s.transition(ctx, "Block", slot, model.SlotStatusAvailable, model.SlotStatusBlocked)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Slot blocked",
		zap.Int64("slot_id", slotID),
		zap.Int64("teacher_id", slot.TeacherID),
	)

	return slot, nil
}

// UnblockSlot возвращает заблокированный слот в продажу
func (s *SlotService) UnblockSlot(ctx context.Context, slotID int64) (*model.AvailabilitySlot, error) {
	var slot *model.AvailabilitySlot
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		slot, err = s.lockSlot(ctx, "Unblock", slotID)
		if err != nil {
			return err
		}

		if slot.Status != model.SlotStatusBlocked {
			return model.InvalidState("slot", "Unblock", "slot %d is %s, not BLOCKED", slotID, slot.Status)
		}

		return s.transition(ctx, "Unblock", slot, model.SlotStatusBlocked, model.SlotStatusAvailable)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Slot unblocked", zap.Int64("slot_id", slotID))
	return slot, nil
}

// DeleteSlot удаляет слот, на который нет активного занятия
func (s *SlotService) DeleteSlot(ctx context.Context, slotID int64) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		slot, err := s.lockSlot(ctx, "Delete", slotID)
		if err != nil {
			return err
		}

		if slot.Status == model.SlotStatusBooked {
			return model.InvalidState("slot", "Delete", "slot %d is booked, cancel the lesson first", slotID)
		}

		lesson, err := s.lessonRepo.GetActiveBySlotID(ctx, slotID)
		if err != nil {
			return fmt.Errorf("get lesson by slot: %w", err)
		}
		if lesson != nil {
			return model.InvalidState("slot", "Delete", "slot %d is referenced by lesson %d", slotID, lesson.ID)
		}

		return s.slotRepo.Delete(ctx, slotID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Slot deleted", zap.Int64("slot_id", slotID))
	return nil
}

func (s *SlotService) lockSlot(ctx context.Context, op string, slotID int64) (*model.AvailabilitySlot, error) {
	slot, err := s.slotRepo.GetByIDForUpdate(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("get slot: %w", err)
	}
	if slot == nil {
		return nil, model.NotFound("slot", op, slotID)
	}
	return slot, nil
}

// transition условный UPDATE страхует от изменения статуса в обход блокировки
func (s *SlotService) transition(ctx context.Context, op string, slot *model.AvailabilitySlot, from, to model.SlotStatus) error {
	ok, err := s.slotRepo.TransitionStatus(ctx, slot.ID, from, to)
	if err != nil {
		return err
	}
	if !ok {
		return model.Conflict("slot", op, "slot %d changed concurrently", slot.ID)
	}
	slot.SetStatus(to)
	return nil
}
