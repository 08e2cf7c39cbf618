package model

import "time"

type PackageKind string

const (
	PackageKindPurchase   PackageKind = "PURCHASE"
	PackageKindAdjustment PackageKind = "ADJUSTMENT" // создаётся при возврате, когда исходный пакет не найден
)

// LessonPackage предоплаченный пакет уроков студента
type LessonPackage struct {
	ID               int64       `json:"id"`
	StudentID        int64       `json:"student_id"`
	Kind             PackageKind `json:"kind"`
	TotalLessons     int         `json:"total_lessons"`
	RemainingLessons int         `json:"remaining_lessons"` // 0 <= remaining <= total
	ExpiresAt        *time.Time  `json:"expires_at"`        // nil = бессрочный
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// IsExpired истёк ли пакет на момент now
func (p *LessonPackage) IsExpired(now time.Time) bool {
	return p.ExpiresAt != nil && !now.Before(*p.ExpiresAt)
}

// IsActive пакет не истёк и в нём остались уроки
func (p *LessonPackage) IsActive(now time.Time) bool {
	return !p.IsExpired(now) && p.RemainingLessons > 0
}

// Headroom сколько уроков можно вернуть в пакет без превышения total
func (p *LessonPackage) Headroom() int {
	return p.TotalLessons - p.RemainingLessons
}

// PackageTransaction запись журнала движения уроков. Только добавление
type PackageTransaction struct {
	ID             int64     `json:"id"`
	PackageID      int64     `json:"package_id"`
	StudentID      int64     `json:"student_id"`
	Delta          int       `json:"delta"` // < 0 списание, > 0 начисление
	Reason         string    `json:"reason"`
	LessonID       *int64    `json:"lesson_id"`
	RegistrationID *int64    `json:"registration_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Причины движения по пакету
const (
	TxReasonPurchase   = "purchase"
	TxReasonDeduct     = "deduct"
	TxReasonRefund     = "refund"
	TxReasonAdminAdd   = "admin_add"
	TxReasonAdminTake  = "admin_deduct"
	TxReasonAdjustment = "adjustment"
)

// CreditRef к чему относится движение по пакету
type CreditRef struct {
	LessonID       *int64
	RegistrationID *int64
}
