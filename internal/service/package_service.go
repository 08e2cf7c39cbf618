package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Freeeeeet/lesson_scheduler/internal/events"
	"github.com/Freeeeeet/lesson_scheduler/internal/model"
	"go.uber.org/zap"
)

// refundLookback сколько последних списаний просматривается при возврате
const refundLookback = 50

// PackageService учёт предоплаченных уроков студента
type PackageService struct {
	tx           Transactor
	userRepo     UserStore
	packageRepo  PackageStore
	publisher    events.Publisher
	lowThreshold int
	logger       *zap.Logger
}

func NewPackageService(
	tx Transactor,
	userRepo UserStore,
	packageRepo PackageStore,
	publisher events.Publisher,
	lowThreshold int,
	logger *zap.Logger,
) *PackageService {
	if publisher == nil {
		publisher = events.Discard
	}
	return &PackageService{
		tx:           tx,
		userRepo:     userRepo,
		packageRepo:  packageRepo,
		publisher:    publisher,
		lowThreshold: lowThreshold,
		logger:       logger,
	}
}

// CreatePackageInput параметры покупки пакета
type CreatePackageInput struct {
	StudentID    int64      `validate:"required,gt=0"`
	TotalLessons int        `validate:"required,gt=0,lte=1000"`
	ExpiresAt    *time.Time `validate:"omitempty"`
}

// CreatePackage создаёт пакет и пишет начисление в журнал
func (s *PackageService) CreatePackage(ctx context.Context, in CreatePackageInput) (*model.LessonPackage, error) {
	if err := validateInput("package", "Create", in); err != nil {
		return nil, err
	}
	if in.ExpiresAt != nil {
		if err := requireFuture("package", "Create", *in.ExpiresAt); err != nil {
			return nil, err
		}
	}
	if _, err := requireUser(ctx, s.userRepo, "package", "Create", in.StudentID); err != nil {
		return nil, err
	}

	pkg := &model.LessonPackage{
		StudentID:        in.StudentID,
		Kind:             model.PackageKindPurchase,
		TotalLessons:     in.TotalLessons,
		RemainingLessons: in.TotalLessons,
		ExpiresAt:        in.ExpiresAt,
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.packageRepo.Create(ctx, pkg); err != nil {
			return fmt.Errorf("create package: %w", err)
		}
		return s.record(ctx, pkg, in.TotalLessons, model.TxReasonPurchase, model.CreditRef{})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Package created",
		zap.Int64("package_id", pkg.ID),
		zap.Int64("student_id", pkg.StudentID),
		zap.Int("total_lessons", pkg.TotalLessons),
	)

	return pkg, nil
}

// GetPackage получает пакет по ID
func (s *PackageService) GetPackage(ctx context.Context, packageID int64) (*model.LessonPackage, error) {
	pkg, err := s.packageRepo.GetByID(ctx, packageID)
	if err != nil {
		return nil, fmt.Errorf("get package: %w", err)
	}
	if pkg == nil {
		return nil, model.NotFound("package", "Get", packageID)
	}
	return pkg, nil
}

// ListStudentPackages получает все пакеты студента, старые первыми
func (s *PackageService) ListStudentPackages(ctx context.Context, studentID int64) ([]*model.LessonPackage, error) {
	return s.packageRepo.GetByStudentID(ctx, studentID)
}

// RemainingCredits сумма остатков по активным пакетам
func (s *PackageService) RemainingCredits(ctx context.Context, studentID int64) (int, error) {
	pkgs, err := s.packageRepo.GetByStudentID(ctx, studentID)
	if err != nil {
		return 0, fmt.Errorf("get packages: %w", err)
	}
	return activeBalance(pkgs, time.Now()), nil
}

// HasEnoughCredits хватает ли студенту n уроков
func (s *PackageService) HasEnoughCredits(ctx context.Context, studentID int64, n int) (bool, error) {
	if err := requirePositive("package", "HasEnoughCredits", "n", n); err != nil {
		return false, err
	}
	if _, err := requireUser(ctx, s.userRepo, "package", "HasEnoughCredits", studentID); err != nil {
		return false, err
	}
	remaining, err := s.RemainingCredits(ctx, studentID)
	if err != nil {
		return false, err
	}
	return remaining >= n, nil
}

// Deduct списывает n уроков с активных пакетов, начиная со старейшего.
// Возвращает остаток после списания
func (s *PackageService) Deduct(ctx context.Context, studentID int64, n int) (int, error) {
	if _, err := requireUser(ctx, s.userRepo, "package", "Deduct", studentID); err != nil {
		return 0, err
	}

	var remaining int
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		remaining, err = s.DeductTx(ctx, studentID, n, model.CreditRef{})
		return err
	})
	if err != nil {
		return 0, err
	}

	s.NotifyIfLow(ctx, studentID, remaining)
	return remaining, nil
}

// DeductTx списание внутри транзакции вызывающего. Либо списывается всё, либо ничего
func (s *PackageService) DeductTx(ctx context.Context, studentID int64, n int, ref model.CreditRef) (int, error) {
	if err := requirePositive("package", "Deduct", "n", n); err != nil {
		return 0, err
	}

	pkgs, err := s.packageRepo.LockByStudentID(ctx, studentID)
	if err != nil {
		return 0, fmt.Errorf("lock packages: %w", err)
	}

	now := time.Now()
	available := activeBalance(pkgs, now)
	if available < n {
		return 0, model.InsufficientCredits("Deduct", n, available)
	}

	// Пакеты заблокированы в порядке id, списываем в порядке создания
	fifo := append([]*model.LessonPackage(nil), pkgs...)
	sort.SliceStable(fifo, func(i, j int) bool {
		if fifo[i].CreatedAt.Equal(fifo[j].CreatedAt) {
			return fifo[i].ID < fifo[j].ID
		}
		return fifo[i].CreatedAt.Before(fifo[j].CreatedAt)
	})

	left := n
	for _, pkg := range fifo {
		if left == 0 {
			break
		}
		if !pkg.IsActive(now) {
			continue
		}

		take := min(left, pkg.RemainingLessons)
		pkg.RemainingLessons -= take
		if err := s.packageRepo.UpdateBalance(ctx, pkg); err != nil {
			return 0, fmt.Errorf("update package balance: %w", err)
		}
		if err := s.record(ctx, pkg, -take, model.TxReasonDeduct, ref); err != nil {
			return 0, err
		}
		left -= take
	}

	s.logger.Debug("Credits deducted",
		zap.Int64("student_id", studentID),
		zap.Int("lessons", n),
		zap.Int("remaining", available-n),
	)

	return available - n, nil
}

// Refund возвращает n уроков студенту
func (s *PackageService) Refund(ctx context.Context, studentID int64, n int) (int, error) {
	if _, err := requireUser(ctx, s.userRepo, "package", "Refund", studentID); err != nil {
		return 0, err
	}

	var remaining int
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		remaining, err = s.RefundTx(ctx, studentID, n, model.CreditRef{})
		return err
	})
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

// RefundTx возврат внутри транзакции вызывающего. Уроки возвращаются в пакеты
// последних списаний (сначала списания по ref), не выше total. Остаток
// зачисляется в новый пакет ADJUSTMENT
func (s *PackageService) RefundTx(ctx context.Context, studentID int64, n int, ref model.CreditRef) (int, error) {
	if err := requirePositive("package", "Refund", "n", n); err != nil {
		return 0, err
	}

	pkgs, err := s.packageRepo.LockByStudentID(ctx, studentID)
	if err != nil {
		return 0, fmt.Errorf("lock packages: %w", err)
	}
	byID := make(map[int64]*model.LessonPackage, len(pkgs))
	for _, pkg := range pkgs {
		byID[pkg.ID] = pkg
	}

	debits, err := s.refundCandidates(ctx, studentID, ref)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	left := n
	for _, debit := range debits {
		if left == 0 {
			break
		}
		pkg, ok := byID[debit.PackageID]
		if !ok || pkg.IsExpired(now) {
			continue
		}

		give := min(left, -debit.Delta, pkg.Headroom())
		if give <= 0 {
			continue
		}
		pkg.RemainingLessons += give
		if err := s.packageRepo.UpdateBalance(ctx, pkg); err != nil {
			return 0, fmt.Errorf("update package balance: %w", err)
		}
		if err := s.record(ctx, pkg, give, model.TxReasonRefund, ref); err != nil {
			return 0, err
		}
		left -= give
	}

	if left > 0 {
		adj := &model.LessonPackage{
			StudentID:        studentID,
			Kind:             model.PackageKindAdjustment,
			TotalLessons:     left,
			RemainingLessons: left,
		}
		if err := s.packageRepo.Create(ctx, adj); err != nil {
			return 0, fmt.Errorf("create adjustment package: %w", err)
		}
		if err := s.record(ctx, adj, left, model.TxReasonAdjustment, ref); err != nil {
			return 0, err
		}
		pkgs = append(pkgs, adj)

		s.logger.Info("Adjustment package created",
			zap.Int64("package_id", adj.ID),
			zap.Int64("student_id", studentID),
			zap.Int("lessons", left),
		)
	}

	return activeBalance(pkgs, now), nil
}

// refundCandidates списания по ref, затем прочие последние списания без повторов
func (s *PackageService) refundCandidates(ctx context.Context, studentID int64, ref model.CreditRef) ([]*model.PackageTransaction, error) {
	var out []*model.PackageTransaction
	seen := make(map[int64]bool)

	refs := []model.CreditRef{{}}
	if ref.LessonID != nil || ref.RegistrationID != nil {
		refs = []model.CreditRef{ref, {}}
	}

	for _, r := range refs {
		debits, err := s.packageRepo.GetDebits(ctx, studentID, r, refundLookback)
		if err != nil {
			return nil, fmt.Errorf("get debits: %w", err)
		}
		for _, d := range debits {
			if !seen[d.ID] {
				seen[d.ID] = true
				out = append(out, d)
			}
		}
	}
	return out, nil
}

// AddLessons увеличивает total и remaining пакета
func (s *PackageService) AddLessons(ctx context.Context, packageID int64, n int) (*model.LessonPackage, error) {
	if err := requirePositive("package", "AddLessons", "n", n); err != nil {
		return nil, err
	}

	var pkg *model.LessonPackage
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		pkg, err = s.lockPackage(ctx, "AddLessons", packageID)
		if err != nil {
			return err
		}

		pkg.TotalLessons += n
		pkg.RemainingLessons += n
		if err := s.packageRepo.UpdateBalance(ctx, pkg); err != nil {
			return fmt.Errorf("update package balance: %w", err)
		}
		return s.record(ctx, pkg, n, model.TxReasonAdminAdd, model.CreditRef{})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Lessons added to package",
		zap.Int64("package_id", packageID),
		zap.Int("lessons", n),
		zap.Int("remaining", pkg.RemainingLessons),
	)

	return pkg, nil
}

// DeductLessons списывает n уроков с конкретного пакета
func (s *PackageService) DeductLessons(ctx context.Context, packageID int64, n int) (*model.LessonPackage, error) {
	if err := requirePositive("package", "DeductLessons", "n", n); err != nil {
		return nil, err
	}

	var pkg *model.LessonPackage
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		pkg, err = s.lockPackage(ctx, "DeductLessons", packageID)
		if err != nil {
			return err
		}

		if n > pkg.RemainingLessons {
			return model.InsufficientCredits("DeductLessons", n, pkg.RemainingLessons)
		}

		pkg.RemainingLessons -= n
		if err := s.packageRepo.UpdateBalance(ctx, pkg); err != nil {
			return fmt.Errorf("update package balance: %w", err)
		}
		return s.record(ctx, pkg, -n, model.TxReasonAdminTake, model.CreditRef{})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Lessons deducted from package",
		zap.Int64("package_id", packageID),
		zap.Int("lessons", n),
		zap.Int("remaining", pkg.RemainingLessons),
	)

	if remaining, err := s.RemainingCredits(ctx, pkg.StudentID); err == nil {
		s.NotifyIfLow(ctx, pkg.StudentID, remaining)
	}

	return pkg, nil
}

// NotifyIfLow отправляет PackageLow, если остаток не выше порога.
// Вызывается после фиксации транзакции
func (s *PackageService) NotifyIfLow(ctx context.Context, studentID int64, remaining int) {
	if s.lowThreshold <= 0 || remaining > s.lowThreshold {
		return
	}

	ev := events.New(events.PackageLow)
	ev.StudentID = studentID
	ev.Remaining = remaining
	s.publisher.Publish(ctx, ev)

	s.logger.Info("Package balance is low",
		zap.Int64("student_id", studentID),
		zap.Int("remaining", remaining),
	)
}

func (s *PackageService) lockPackage(ctx context.Context, op string, packageID int64) (*model.LessonPackage, error) {
	pkg, err := s.packageRepo.GetByIDForUpdate(ctx, packageID)
	if err != nil {
		return nil, fmt.Errorf("get package: %w", err)
	}
	if pkg == nil {
		return nil, model.NotFound("package", op, packageID)
	}
	return pkg, nil
}

func (s *PackageService) record(ctx context.Context, pkg *model.LessonPackage, delta int, reason string, ref model.CreditRef) error {
	entry := &model.PackageTransaction{
		PackageID:      pkg.ID,
		StudentID:      pkg.StudentID,
		Delta:          delta,
		Reason:         reason,
		LessonID:       ref.LessonID,
		RegistrationID: ref.RegistrationID,
	}
	if err := s.packageRepo.AppendTransaction(ctx, entry); err != nil {
		return fmt.Errorf("append package transaction: %w", err)
	}
	return nil
}

// activeBalance сумма остатков неистёкших пакетов
func activeBalance(pkgs []*model.LessonPackage, now time.Time) int {
	total := 0
	for _, pkg := range pkgs {
		if pkg.IsActive(now) {
			total += pkg.RemainingLessons
		}
	}
	return total
}
