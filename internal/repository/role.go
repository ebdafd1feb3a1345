package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Reptilefury/prediction-markets-sub000/internal/domain/model"
)

// RoleRepository — зеркало ролей (таблицы roles и role_permissions).
type RoleRepository interface {
	// Upsert создаёт или обновляет запись по keycloak_role_id и делает её активной.
	Upsert(ctx context.Context, r *model.RoleRecord) error
	// GetByID возвращает активную запись по локальному ID.
	GetByID(ctx context.Context, id string) (*model.RoleRecord, error)
	// GetByName возвращает активную запись по имени.
	GetByName(ctx context.Context, name string) (*model.RoleRecord, error)
	// ListActive возвращает все активные записи.
	ListActive(ctx context.Context) ([]*model.RoleRecord, error)
	// Deactivate помечает запись неактивной (мягкое удаление).
	Deactivate(ctx context.Context, id string, syncedAt time.Time) error
	// ReplacePermissions заменяет связи роли на активные разрешения
	// с указанными ID client roles.
	ReplacePermissions(ctx context.Context, roleID string, keycloakPermissionIDs []string) error
	// ListPermissionNames возвращает имена активных разрешений роли.
	ListPermissionNames(ctx context.Context, roleID string) ([]string, error)
}

// roleRepo — реализация RoleRepository.
type roleRepo struct {
	db DBTX
}

// NewRoleRepository создаёт репозиторий зеркала ролей.
func NewRoleRepository(db DBTX) RoleRepository {
	return &roleRepo{db: db}
}

const roleColumns = `id, keycloak_role_id, name, description, is_composite,
	is_active, last_synced_at, created_at, updated_at`

func scanRole(row pgx.Row) (*model.RoleRecord, error) {
	rr := &model.RoleRecord{}
	err := row.Scan(
		&rr.ID, &rr.KeycloakRoleID, &rr.Name, &rr.Description, &rr.IsComposite,
		&rr.IsActive, &rr.LastSyncedAt, &rr.CreatedAt, &rr.UpdatedAt,
	)
	return rr, err
}

func (r *roleRepo) Upsert(ctx context.Context, rr *model.RoleRecord) error {
	if rr.LastSyncedAt.IsZero() {
		rr.LastSyncedAt = time.Now().UTC()
	}

	return runInTx(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE roles SET is_active = FALSE, last_synced_at = $3
			WHERE name = $1 AND keycloak_role_id <> $2 AND is_active`,
			rr.Name, rr.KeycloakRoleID, rr.LastSyncedAt)
		if err != nil {
			return fmt.Errorf("ошибка деактивации устаревшей роли: %w", err)
		}

		query := `
			INSERT INTO roles (keycloak_role_id, name, description, is_composite, is_active, last_synced_at)
			VALUES ($1, $2, $3, $4, TRUE, $5)
			ON CONFLICT (keycloak_role_id) DO UPDATE SET
				name = EXCLUDED.name,
				description = EXCLUDED.description,
				is_composite = EXCLUDED.is_composite,
				is_active = TRUE,
				last_synced_at = EXCLUDED.last_synced_at
			RETURNING id, is_active, created_at, updated_at`

		err = tx.QueryRow(ctx, query,
			rr.KeycloakRoleID, rr.Name, rr.Description, rr.IsComposite, rr.LastSyncedAt,
		).Scan(&rr.ID, &rr.IsActive, &rr.CreatedAt, &rr.UpdatedAt)
		if err != nil {
			return fmt.Errorf("ошибка upsert роли: %w", err)
		}
		return nil
	})
}

func (r *roleRepo) GetByID(ctx context.Context, id string) (*model.RoleRecord, error) {
	if !isValidUUID(id) {
		return nil, ErrNotFound
	}

	query := fmt.Sprintf(`SELECT %s FROM roles WHERE id = $1 AND is_active`, roleColumns)

	rr, err := scanRole(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения роли: %w", err)
	}
	return rr, nil
}

func (r *roleRepo) GetByName(ctx context.Context, name string) (*model.RoleRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM roles WHERE name = $1 AND is_active`, roleColumns)

	rr, err := scanRole(r.db.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения роли: %w", err)
	}
	return rr, nil
}

func (r *roleRepo) ListActive(ctx context.Context) ([]*model.RoleRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM roles WHERE is_active ORDER BY name`, roleColumns)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка ролей: %w", err)
	}
	defer rows.Close()

	var result []*model.RoleRecord
	for rows.Next() {
		rr, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования роли: %w", err)
		}
		result = append(result, rr)
	}
	return result, rows.Err()
}

func (r *roleRepo) Deactivate(ctx context.Context, id string, syncedAt time.Time) error {
	if !isValidUUID(id) {
		return ErrNotFound
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE roles SET is_active = FALSE, last_synced_at = $2
		WHERE id = $1 AND is_active`,
		id, syncedAt)
	if err != nil {
		return fmt.Errorf("ошибка деактивации роли: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *roleRepo) ReplacePermissions(ctx context.Context, roleID string, keycloakPermissionIDs []string) error {
	if !isValidUUID(roleID) {
		return ErrNotFound
	}

	return runInTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return fmt.Errorf("ошибка удаления связей роли: %w", err)
		}

		if len(keycloakPermissionIDs) == 0 {
			return nil
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO role_permissions (role_id, permission_id)
			SELECT $1, id FROM permissions
			WHERE keycloak_role_id = ANY($2) AND is_active
			ON CONFLICT DO NOTHING`,
			roleID, keycloakPermissionIDs)
		if err != nil {
			return fmt.Errorf("ошибка сохранения связей роли: %w", err)
		}
		return nil
	})
}

func (r *roleRepo) ListPermissionNames(ctx context.Context, roleID string) ([]string, error) {
	if !isValidUUID(roleID) {
		return nil, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT p.name
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1 AND p.is_active
		ORDER BY p.name`, roleID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения разрешений роли: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("ошибка сканирования разрешения роли: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
