package repository

import (
	"github.com/Freeeeeet/lesson_scheduler/internal/repository/base"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store набор репозиториев поверх одного пула и менеджер транзакций
type Store struct {
	Tx            *base.TxManager
	Users         *UserRepository
	Slots         *SlotRepository
	Lessons       *LessonRepository
	Packages      *PackageRepository
	GroupLessons  *GroupLessonRepository
	Registrations *RegistrationRepository
}

// NewStore создаёт все репозитории PostgreSQL
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		Tx:            base.NewTxManager(pool),
		Users:         NewUserRepository(pool),
		Slots:         NewSlotRepository(pool),
		Lessons:       NewLessonRepository(pool),
		Packages:      NewPackageRepository(pool),
		GroupLessons:  NewGroupLessonRepository(pool),
		Registrations: NewRegistrationRepository(pool),
	}
}
