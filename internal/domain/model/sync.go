package model

import "time"

// SyncState — состояние синхронизации зеркала (одна строка в БД).
// Хранится в таблице sync_state (id = 1, всегда одна запись).
type SyncState struct {
	// ID — всегда 1
	ID int
	// LastMirrorSyncAt — время последней сверки зеркала с Keycloak
	LastMirrorSyncAt *time.Time
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// MirrorSyncResult — результат сверки зеркала ролей и разрешений с Keycloak.
type MirrorSyncResult struct {
	// PermissionsInKeycloak — client roles в Keycloak
	PermissionsInKeycloak int
	// PermissionsUpserted — записей разрешений создано или обновлено
	PermissionsUpserted int
	// PermissionsDeactivated — записей разрешений помечено неактивными
	PermissionsDeactivated int
	// RolesInKeycloak — composite realm roles в Keycloak
	RolesInKeycloak int
	// RolesUpserted — записей ролей создано или обновлено
	RolesUpserted int
	// RolesDeactivated — записей ролей помечено неактивными
	RolesDeactivated int
	// SyncedAt — время завершения сверки
	SyncedAt time.Time
}
