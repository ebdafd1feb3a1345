package model

import "time"

// Role — именованный набор разрешений, назначаемый администратору.
// В Keycloak — composite realm role, участники которой — client roles (разрешения).
type Role struct {
	// ID — локальный ID зеркала, если есть активная запись, иначе ID в Keycloak
	ID string
	// Name — уникальное имя в realm
	Name string
	// Description — описание
	Description string
	// Composite — true для ролей с разрешениями
	Composite bool
	// Permissions — разрешения, вычисленные из composite-связей в Keycloak
	Permissions []Permission
}

// PermissionNames возвращает имена разрешений роли.
func (r *Role) PermissionNames() []string {
	names := make([]string, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		names = append(names, p.Name())
	}
	return names
}

// RoleRecord — зеркало роли в локальной БД (таблица roles).
type RoleRecord struct {
	// ID — UUID записи
	ID string
	// KeycloakRoleID — ID realm role в Keycloak
	KeycloakRoleID string
	// Name — имя роли
	Name string
	// Description — описание
	Description string
	// IsComposite — роль составная
	IsComposite bool
	// IsActive — false после удаления роли
	IsActive bool
	// LastSyncedAt — время последней успешной синхронизации
	LastSyncedAt time.Time
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}
