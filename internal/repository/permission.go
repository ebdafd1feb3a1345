package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Reptilefury/prediction-markets-sub000/internal/domain/model"
)

// PermissionRepository — зеркало разрешений (таблица permissions).
type PermissionRepository interface {
	// Create создаёт запись. Конфликт keycloak_role_id или активного имени — ErrConflict.
	Create(ctx context.Context, p *model.PermissionRecord) error
	// Upsert создаёт или обновляет запись по keycloak_role_id и делает её активной.
	// Активная запись с тем же именем, но другим keycloak_role_id, деактивируется.
	Upsert(ctx context.Context, p *model.PermissionRecord) error
	// GetByName возвращает активную запись по имени.
	GetByName(ctx context.Context, name string) (*model.PermissionRecord, error)
	// GetByKeycloakRoleID возвращает запись по ID client role (активную или нет).
	GetByKeycloakRoleID(ctx context.Context, keycloakRoleID string) (*model.PermissionRecord, error)
	// ListActive возвращает все активные записи.
	ListActive(ctx context.Context) ([]*model.PermissionRecord, error)
	// Deactivate помечает запись неактивной (мягкое удаление).
	Deactivate(ctx context.Context, keycloakRoleID string, syncedAt time.Time) error
}

// permissionRepo — реализация PermissionRepository.
type permissionRepo struct {
	db DBTX
}

// NewPermissionRepository создаёт репозиторий зеркала разрешений.
func NewPermissionRepository(db DBTX) PermissionRepository {
	return &permissionRepo{db: db}
}

const permColumns = `id, keycloak_role_id, name, module, action, description,
	is_active, last_synced_at, created_at, updated_at`

func scanPermission(row pgx.Row) (*model.PermissionRecord, error) {
	p := &model.PermissionRecord{}
	err := row.Scan(
		&p.ID, &p.KeycloakRoleID, &p.Name, &p.Module, &p.Action, &p.Description,
		&p.IsActive, &p.LastSyncedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

func (r *permissionRepo) Create(ctx context.Context, p *model.PermissionRecord) error {
	query := `
		INSERT INTO permissions (keycloak_role_id, name, module, action, description, is_active, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6)
		RETURNING id, is_active, created_at, updated_at`

	if p.LastSyncedAt.IsZero() {
		p.LastSyncedAt = time.Now().UTC()
	}

	err := r.db.QueryRow(ctx, query,
		p.KeycloakRoleID, p.Name, p.Module, p.Action, p.Description, p.LastSyncedAt,
	).Scan(&p.ID, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка создания разрешения: %w", err)
	}
	return nil
}

func (r *permissionRepo) Upsert(ctx context.Context, p *model.PermissionRecord) error {
	if p.LastSyncedAt.IsZero() {
		p.LastSyncedAt = time.Now().UTC()
	}

	return runInTx(ctx, r.db, func(tx pgx.Tx) error {
		// Разрешение пересоздано в Keycloak с новым ID — старая запись устарела
		_, err := tx.Exec(ctx, `
			UPDATE permissions SET is_active = FALSE, last_synced_at = $3
			WHERE name = $1 AND keycloak_role_id <> $2 AND is_active`,
			p.Name, p.KeycloakRoleID, p.LastSyncedAt)
		if err != nil {
			return fmt.Errorf("ошибка деактивации устаревшего разрешения: %w", err)
		}

		query := `
			INSERT INTO permissions (keycloak_role_id, name, module, action, description, is_active, last_synced_at)
			VALUES ($1, $2, $3, $4, $5, TRUE, $6)
			ON CONFLICT (keycloak_role_id) DO UPDATE SET
				name = EXCLUDED.name,
				module = EXCLUDED.module,
				action = EXCLUDED.action,
				description = EXCLUDED.description,
				is_active = TRUE,
				last_synced_at = EXCLUDED.last_synced_at
			RETURNING id, is_active, created_at, updated_at`

		err = tx.QueryRow(ctx, query,
			p.KeycloakRoleID, p.Name, p.Module, p.Action, p.Description, p.LastSyncedAt,
		).Scan(&p.ID, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("ошибка upsert разрешения: %w", err)
		}
		return nil
	})
}

func (r *permissionRepo) GetByName(ctx context.Context, name string) (*model.PermissionRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM permissions WHERE name = $1 AND is_active`, permColumns)

	p, err := scanPermission(r.db.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения разрешения: %w", err)
	}
	return p, nil
}

func (r *permissionRepo) GetByKeycloakRoleID(ctx context.Context, keycloakRoleID string) (*model.PermissionRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM permissions WHERE keycloak_role_id = $1`, permColumns)

	p, err := scanPermission(r.db.QueryRow(ctx, query, keycloakRoleID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения разрешения: %w", err)
	}
	return p, nil
}

func (r *permissionRepo) ListActive(ctx context.Context) ([]*model.PermissionRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM permissions WHERE is_active ORDER BY name`, permColumns)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка разрешений: %w", err)
	}
	defer rows.Close()

	var result []*model.PermissionRecord
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования разрешения: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r *permissionRepo) Deactivate(ctx context.Context, keycloakRoleID string, syncedAt time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE permissions SET is_active = FALSE, last_synced_at = $2
		WHERE keycloak_role_id = $1 AND is_active`,
		keycloakRoleID, syncedAt)
	if err != nil {
		return fmt.Errorf("ошибка деактивации разрешения: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
