package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/Reptilefury/prediction-markets-sub000/internal/domain/model"
)

// AdminUserRepository — интерфейс CRUD для таблицы admin_users.
type AdminUserRepository interface {
	// Create создаёт администратора. Занятый email — ErrConflict.
	Create(ctx context.Context, u *model.AdminUser) error
	// GetByID возвращает администратора по ID.
	GetByID(ctx context.Context, id string) (*model.AdminUser, error)
	// ExistsByEmail проверяет, занят ли email (без учёта регистра).
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	// List возвращает администраторов; непустой search фильтрует
	// по подстроке имени, фамилии, username и email без учёта регистра.
	List(ctx context.Context, search string, limit, offset int) ([]*model.AdminUser, error)
	// Count возвращает количество администраторов с тем же фильтром, что и List.
	Count(ctx context.Context, search string) (int, error)
	// Update сохраняет все изменяемые поля.
	Update(ctx context.Context, u *model.AdminUser) error
	// Delete удаляет администратора.
	Delete(ctx context.Context, id string) error
}

// adminUserRepo — реализация AdminUserRepository.
type adminUserRepo struct {
	db DBTX
}

// NewAdminUserRepository создаёт репозиторий администраторов.
func NewAdminUserRepository(db DBTX) AdminUserRepository {
	return &adminUserRepo{db: db}
}

const auColumns = `id, first_name, last_name, username, email, phone, role_id, status,
	two_factor_enabled, keycloak_user_id, last_login_at, login_attempts, created_at, updated_at`

func scanAdminUser(row pgx.Row) (*model.AdminUser, error) {
	u := &model.AdminUser{}
	var status string
	err := row.Scan(
		&u.ID, &u.FirstName, &u.LastName, &u.Username, &u.Email, &u.Phone, &u.RoleID, &status,
		&u.TwoFactorEnabled, &u.KeycloakUserID, &u.LastLoginAt, &u.LoginAttempts,
		&u.CreatedAt, &u.UpdatedAt,
	)
	u.Status = model.AdminUserStatus(status)
	return u, err
}

func (r *adminUserRepo) Create(ctx context.Context, u *model.AdminUser) error {
	query := `
		INSERT INTO admin_users (first_name, last_name, username, email, phone, role_id, status,
			two_factor_enabled, keycloak_user_id, last_login_at, login_attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		u.FirstName, u.LastName, u.Username, u.Email, u.Phone, u.RoleID, string(u.Status),
		u.TwoFactorEnabled, u.KeycloakUserID, u.LastLoginAt, u.LoginAttempts,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка создания администратора: %w", err)
	}
	return nil
}

func (r *adminUserRepo) GetByID(ctx context.Context, id string) (*model.AdminUser, error) {
	if !isValidUUID(id) {
		return nil, ErrNotFound
	}

	query := fmt.Sprintf(`SELECT %s FROM admin_users WHERE id = $1`, auColumns)

	u, err := scanAdminUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения администратора: %w", err)
	}
	return u, nil
}

func (r *adminUserRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM admin_users WHERE lower(email) = lower($1))`, email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки email: %w", err)
	}
	return exists, nil
}

// searchCondition возвращает WHERE-условие поиска и аргументы.
func searchCondition(search string, argNum int) (string, []any) {
	search = strings.TrimSpace(search)
	if search == "" {
		return "", nil
	}
	where := fmt.Sprintf(`WHERE first_name ILIKE $%[1]d OR last_name ILIKE $%[1]d
		OR username ILIKE $%[1]d OR email ILIKE $%[1]d`, argNum)
	return where, []any{"%" + escapeLike(search) + "%"}
}

// escapeLike экранирует спецсимволы шаблона LIKE.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (r *adminUserRepo) List(ctx context.Context, search string, limit, offset int) ([]*model.AdminUser, error) {
	where, args := searchCondition(search, 1)
	argNum := len(args) + 1

	query := fmt.Sprintf(`
		SELECT %s
		FROM admin_users
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, auColumns, where, argNum, argNum+1)

	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка администраторов: %w", err)
	}
	defer rows.Close()

	var result []*model.AdminUser
	for rows.Next() {
		u, err := scanAdminUser(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования администратора: %w", err)
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (r *adminUserRepo) Count(ctx context.Context, search string) (int, error) {
	where, args := searchCondition(search, 1)

	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM admin_users `+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта администраторов: %w", err)
	}
	return count, nil
}

func (r *adminUserRepo) Update(ctx context.Context, u *model.AdminUser) error {
	if !isValidUUID(u.ID) {
		return ErrNotFound
	}

	query := `
		UPDATE admin_users SET
			first_name = $2, last_name = $3, username = $4, email = $5, phone = $6,
			role_id = $7, status = $8, two_factor_enabled = $9, keycloak_user_id = $10,
			last_login_at = $11, login_attempts = $12
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		u.ID, u.FirstName, u.LastName, u.Username, u.Email, u.Phone,
		u.RoleID, string(u.Status), u.TwoFactorEnabled, u.KeycloakUserID,
		u.LastLoginAt, u.LoginAttempts,
	).Scan(&u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка обновления администратора: %w", err)
	}
	return nil
}

func (r *adminUserRepo) Delete(ctx context.Context, id string) error {
	if !isValidUUID(id) {
		return ErrNotFound
	}

	tag, err := r.db.Exec(ctx, `DELETE FROM admin_users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления администратора: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
