package service

import (
	"fmt"

	"github.com/Freeeeeet/lesson_scheduler/internal/model"
)

// RefundPolicy возвращать ли уроки на пакет при отмене
type RefundPolicy string

const (
	RefundNever     RefundPolicy = "never"
	RefundAlways    RefundPolicy = "always"
	RefundStaffOnly RefundPolicy = "staff_only" // только если отменил учитель или менеджер
)

// ParseRefundPolicy разбирает значение из конфигурации
func ParseRefundPolicy(s string) (RefundPolicy, error) {
	switch p := RefundPolicy(s); p {
	case RefundNever, RefundAlways, RefundStaffOnly:
		return p, nil
	case "":
		return RefundStaffOnly, nil
	}
	return "", fmt.Errorf("unknown refund policy %q", s)
}

// ShouldRefund нужен ли возврат при отмене участником by
func (p RefundPolicy) ShouldRefund(by model.CancelledBy) bool {
	switch p {
	case RefundAlways:
		return true
	case RefundStaffOnly:
		return by == model.CancelledByTeacher || by == model.CancelledByManager
	}
	return false
}

// CreditPolicy правила списания уроков с пакетов
type CreditPolicy struct {
	ChargeLessons       bool // списывать за индивидуальное занятие
	ChargeGroupLessons  bool // списывать за место в группе
	CreditsPerLesson    int
	Refund              RefundPolicy
	LowCreditsThreshold int // 0 отключает событие PackageLow
}

// DefaultCreditPolicy политика по умолчанию
func DefaultCreditPolicy() CreditPolicy {
	return CreditPolicy{
		ChargeLessons:       true,
		ChargeGroupLessons:  true,
		CreditsPerLesson:    1,
		Refund:              RefundStaffOnly,
		LowCreditsThreshold: 1,
	}
}

func (p CreditPolicy) lessonCharge() int {
	if !p.ChargeLessons || p.CreditsPerLesson <= 0 {
		return 0
	}
	return p.CreditsPerLesson
}

func (p CreditPolicy) groupCharge() int {
	if !p.ChargeGroupLessons || p.CreditsPerLesson <= 0 {
		return 0
	}
	return p.CreditsPerLesson
}
