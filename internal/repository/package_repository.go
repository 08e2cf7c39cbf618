package repository

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/lesson_scheduler/internal/model"
	"github.com/Freeeeeet/lesson_scheduler/internal/repository/base"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PackageRepository struct {
	*base.Repository
}

func NewPackageRepository(pool *pgxpool.Pool) *PackageRepository {
	return &PackageRepository{Repository: base.NewRepository(pool)}
}

const packageColumns = `id, student_id, kind, total_lessons, remaining_lessons, expires_at, created_at, updated_at`

const packageTxColumns = `id, package_id, student_id, delta, reason, lesson_id, registration_id, created_at`

// Create создаёт пакет уроков
func (r *PackageRepository) Create(ctx context.Context, pkg *model.LessonPackage) error {
	query := `
		INSERT INTO lesson_packages (student_id, kind, total_lessons, remaining_lessons, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	err := r.QueryRow(
		ctx, query,
		pkg.StudentID,
		pkg.Kind,
		pkg.TotalLessons,
		pkg.RemainingLessons,
		pkg.ExpiresAt,
	).Scan(&pkg.ID, &pkg.CreatedAt, &pkg.UpdatedAt)

	if err != nil {
		if base.IsConstraintViolation(err) {
			return model.Validation("package", "Create", "remaining must be between 0 and total")
		}
		return fmt.Errorf("create package: %w", err)
	}

	return nil
}

// GetByID получает пакет по ID
func (r *PackageRepository) GetByID(ctx context.Context, id int64) (*model.LessonPackage, error) {
	query := `SELECT ` + packageColumns + ` FROM lesson_packages WHERE id = $1`
	return r.getOne(ctx, "get package by id", query, id)
}

// GetByIDForUpdate получает пакет и блокирует строку
func (r *PackageRepository) GetByIDForUpdate(ctx context.Context, id int64) (*model.LessonPackage, error) {
	query := `SELECT ` + packageColumns + ` FROM lesson_packages WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, "lock package", query, id)
}

func (r *PackageRepository) getOne(ctx context.Context, op, query string, args ...any) (*model.LessonPackage, error) {
	pkg, err := scanPackage(r.QueryRow(ctx, query, args...))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return pkg, nil
}

// GetByStudentID получает все пакеты студента, старые первыми
func (r *PackageRepository) GetByStudentID(ctx context.Context, studentID int64) ([]*model.LessonPackage, error) {
	query := `
		SELECT ` + packageColumns + `
		FROM lesson_packages
		WHERE student_id = $1
		ORDER BY created_at, id
	`
	return r.list(ctx, "get packages by student", query, studentID)
}

// LockByStudentID блокирует все пакеты студента. Строки блокируются в порядке id,
// чтобы параллельные списания не приводили к дедлоку
func (r *PackageRepository) LockByStudentID(ctx context.Context, studentID int64) ([]*model.LessonPackage, error) {
	query := `
		SELECT ` + packageColumns + `
		FROM lesson_packages
		WHERE student_id = $1
		ORDER BY id
		FOR UPDATE
	`
	return r.list(ctx, "lock packages by student", query, studentID)
}

func (r *PackageRepository) list(ctx context.Context, op, query string, args ...any) ([]*model.LessonPackage, error) {
	rows, err := r.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var packages []*model.LessonPackage
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		packages = append(packages, pkg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return packages, nil
}

// UpdateBalance сохраняет total и remaining пакета
func (r *PackageRepository) UpdateBalance(ctx context.Context, pkg *model.LessonPackage) error {
	query := `
		UPDATE lesson_packages
		SET total_lessons = $1, remaining_lessons = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING updated_at
	`

	err := r.QueryRow(ctx, query, pkg.TotalLessons, pkg.RemainingLessons, pkg.ID).Scan(&pkg.UpdatedAt)
	if err != nil {
		if base.IsNotFound(err) {
			return fmt.Errorf("package not found")
		}
		if base.IsConstraintViolation(err) {
			return model.Validation("package", "UpdateBalance", "remaining must be between 0 and total")
		}
		return fmt.Errorf("update package balance: %w", err)
	}

	return nil
}

// AppendTransaction добавляет запись в журнал движения уроков
func (r *PackageRepository) AppendTransaction(ctx context.Context, tx *model.PackageTransaction) error {
	query := `
		INSERT INTO package_transactions (package_id, student_id, delta, reason, lesson_id, registration_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err := r.QueryRow(
		ctx, query,
		tx.PackageID,
		tx.StudentID,
		tx.Delta,
		tx.Reason,
		tx.LessonID,
		tx.RegistrationID,
	).Scan(&tx.ID, &tx.CreatedAt)

	if err != nil {
		return fmt.Errorf("append package transaction: %w", err)
	}

	return nil
}

// GetDebits получает списания студента, новые первыми. Если задан ref,
// возвращаются только списания по этому занятию или регистрации
func (r *PackageRepository) GetDebits(ctx context.Context, studentID int64, ref model.CreditRef, limit int) ([]*model.PackageTransaction, error) {
	query := `
		SELECT ` + packageTxColumns + `
		FROM package_transactions
		WHERE student_id = $1
		  AND delta < 0
		  AND ($2::BIGINT IS NULL OR lesson_id = $2)
		  AND ($3::BIGINT IS NULL OR registration_id = $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`

	rows, err := r.Query(ctx, query, studentID, ref.LessonID, ref.RegistrationID, limit)
	if err != nil {
		return nil, fmt.Errorf("get debits: %w", err)
	}
	defer rows.Close()

	var txs []*model.PackageTransaction
	for rows.Next() {
		var t model.PackageTransaction
		err := rows.Scan(
			&t.ID,
			&t.PackageID,
			&t.StudentID,
			&t.Delta,
			&t.Reason,
			&t.LessonID,
			&t.RegistrationID,
			&t.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan package transaction: %w", err)
		}
		txs = append(txs, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get debits: %w", err)
	}

	return txs, nil
}

func scanPackage(row pgx.Row) (*model.LessonPackage, error) {
	var pkg model.LessonPackage
	err := row.Scan(
		&pkg.ID,
		&pkg.StudentID,
		&pkg.Kind,
		&pkg.TotalLessons,
		&pkg.RemainingLessons,
		&pkg.ExpiresAt,
		&pkg.CreatedAt,
		&pkg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}
