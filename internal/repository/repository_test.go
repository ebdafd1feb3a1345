package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Reptilefury/prediction-markets-sub000/internal/config"
	"github.com/Reptilefury/prediction-markets-sub000/internal/database"
	"github.com/Reptilefury/prediction-markets-sub000/internal/domain/model"
)

// setupTestDB запускает PostgreSQL контейнер, применяет миграции.
// Возвращает pgxpool.Pool; контейнер останавливается в t.Cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("pm_admin_test"),
		postgres.WithUsername("pm"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	t.Setenv("PM_DB_HOST", host)
	t.Setenv("PM_DB_PORT", port.Port())
	t.Setenv("PM_DB_NAME", "pm_admin_test")
	t.Setenv("PM_DB_USER", "pm")
	t.Setenv("PM_DB_PASSWORD", "test-password")
	t.Setenv("PM_DB_SSL_MODE", "disable")
	t.Setenv("PM_KEYCLOAK_URL", "http://localhost:8080")
	t.Setenv("PM_KEYCLOAK_CLIENT_ID", "test")
	t.Setenv("PM_KEYCLOAK_CLIENT_SECRET", "test")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

// --- Тесты PermissionRepository ---

func TestPermissionMirror(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewPermissionRepository(pool)

	p := &model.PermissionRecord{
		KeycloakRoleID: "kc-perm-1",
		Name:           "markets:create",
		Module:         "markets",
		Action:         "create",
		Description:    "Создание рынков",
	}

	// Create
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if p.ID == "" || !p.IsActive {
		t.Errorf("после Create: ID=%q IsActive=%v", p.ID, p.IsActive)
	}

	// Повторный Create с тем же keycloak_role_id — конфликт
	dup := &model.PermissionRecord{KeycloakRoleID: "kc-perm-1", Name: "markets:other", Module: "markets", Action: "other"}
	if err := repo.Create(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Errorf("ожидали ErrConflict, получили: %v", err)
	}

	// GetByName
	got, err := repo.GetByName(ctx, "markets:create")
	if err != nil {
		t.Fatalf("GetByName() ошибка: %v", err)
	}
	if got.KeycloakRoleID != "kc-perm-1" {
		t.Errorf("KeycloakRoleID = %q, хотели kc-perm-1", got.KeycloakRoleID)
	}

	// Upsert — обновление описания по keycloak_role_id
	p.Description = "новое описание"
	p.LastSyncedAt = time.Now().UTC()
	if err := repo.Upsert(ctx, p); err != nil {
		t.Fatalf("Upsert() ошибка: %v", err)
	}
	got, _ = repo.GetByKeycloakRoleID(ctx, "kc-perm-1")
	if got.Description != "новое описание" {
		t.Errorf("Description = %q после Upsert", got.Description)
	}

	// Deactivate — мягкое удаление
	if err := repo.Deactivate(ctx, "kc-perm-1", time.Now().UTC()); err != nil {
		t.Fatalf("Deactivate() ошибка: %v", err)
	}
	if _, err := repo.GetByName(ctx, "markets:create"); !errors.Is(err, ErrNotFound) {
		t.Errorf("после Deactivate ожидали ErrNotFound, получили: %v", err)
	}
	if err := repo.Deactivate(ctx, "kc-perm-1", time.Now().UTC()); !errors.Is(err, ErrNotFound) {
		t.Errorf("повторный Deactivate: ожидали ErrNotFound, получили: %v", err)
	}

	// Запись сохраняется, но неактивна
	got, err = repo.GetByKeycloakRoleID(ctx, "kc-perm-1")
	if err != nil {
		t.Fatalf("GetByKeycloakRoleID() ошибка: %v", err)
	}
	if got.IsActive {
		t.Error("запись должна быть неактивной")
	}

	// Пересоздание с новым ID — имя снова свободно среди активных
	recreated := &model.PermissionRecord{KeycloakRoleID: "kc-perm-2", Name: "markets:create", Module: "markets", Action: "create"}
	if err := repo.Upsert(ctx, recreated); err != nil {
		t.Fatalf("Upsert() пересоздания ошибка: %v", err)
	}

	list, err := repo.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive() ошибка: %v", err)
	}
	if len(list) != 1 || list[0].KeycloakRoleID != "kc-perm-2" {
		t.Errorf("ListActive() = %d записей, ожидали одну kc-perm-2", len(list))
	}
}

// --- Тесты RoleRepository ---

func TestRoleMirror(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	perms := NewPermissionRepository(pool)
	roles := NewRoleRepository(pool)

	for _, p := range []*model.PermissionRecord{
		{KeycloakRoleID: "kc-p-create", Name: "markets:create", Module: "markets", Action: "create"},
		{KeycloakRoleID: "kc-p-resolve", Name: "markets:resolve", Module: "markets", Action: "resolve"},
	} {
		if err := perms.Create(ctx, p); err != nil {
			t.Fatalf("Create() разрешения ошибка: %v", err)
		}
	}

	role := &model.RoleRecord{
		KeycloakRoleID: "kc-role-1",
		Name:           "market-ops",
		Description:    "Операторы рынков",
		IsComposite:    true,
	}
	if err := roles.Upsert(ctx, role); err != nil {
		t.Fatalf("Upsert() ошибка: %v", err)
	}

	got, err := roles.GetByID(ctx, role.ID)
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if got.Name != "market-ops" {
		t.Errorf("Name = %q, хотели market-ops", got.Name)
	}

	if _, err := roles.GetByID(ctx, "not-a-uuid"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID(не UUID): ожидали ErrNotFound, получили: %v", err)
	}

	// Связи
	if err := roles.ReplacePermissions(ctx, role.ID, []string{"kc-p-create", "kc-p-resolve", "kc-p-missing"}); err != nil {
		t.Fatalf("ReplacePermissions() ошибка: %v", err)
	}
	names, err := roles.ListPermissionNames(ctx, role.ID)
	if err != nil {
		t.Fatalf("ListPermissionNames() ошибка: %v", err)
	}
	if len(names) != 2 || names[0] != "markets:create" || names[1] != "markets:resolve" {
		t.Errorf("ListPermissionNames() = %v", names)
	}

	if err := roles.ReplacePermissions(ctx, role.ID, []string{"kc-p-resolve"}); err != nil {
		t.Fatalf("ReplacePermissions() ошибка: %v", err)
	}
	names, _ = roles.ListPermissionNames(ctx, role.ID)
	if len(names) != 1 || names[0] != "markets:resolve" {
		t.Errorf("после замены ListPermissionNames() = %v", names)
	}

	// Мягкое удаление
	if err := roles.Deactivate(ctx, role.ID, time.Now().UTC()); err != nil {
		t.Fatalf("Deactivate() ошибка: %v", err)
	}
	if _, err := roles.GetByName(ctx, "market-ops"); !errors.Is(err, ErrNotFound) {
		t.Errorf("после Deactivate ожидали ErrNotFound, получили: %v", err)
	}
	active, err := roles.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive() ошибка: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("ListActive() = %d, ожидали 0", len(active))
	}
}

// --- Тесты AdminUserRepository ---

func TestAdminUserCRUD(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewAdminUserRepository(pool)

	kcID := "kc-user-1"
	u := &model.AdminUser{
		FirstName:      "John",
		LastName:       "Doe",
		Username:       "jdoe",
		Email:          "john.doe@example.com",
		RoleID:         uuid.New().String(),
		Status:         model.AdminUserActive,
		KeycloakUserID: &kcID,
	}

	// Create
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if u.ID == "" || u.CreatedAt.IsZero() {
		t.Error("ID или CreatedAt не установлены")
	}

	// Дубликат email
	dup := *u
	dup.KeycloakUserID = nil
	if err := repo.Create(ctx, &dup); !errors.Is(err, ErrConflict) {
		t.Errorf("ожидали ErrConflict, получили: %v", err)
	}

	// Email, отличающийся только регистром, — тоже дубликат
	upper := *u
	upper.KeycloakUserID = nil
	upper.Email = "John.Doe@Example.com"
	if err := repo.Create(ctx, &upper); !errors.Is(err, ErrConflict) {
		t.Errorf("email в другом регистре: ожидали ErrConflict, получили: %v", err)
	}

	exists, err := repo.ExistsByEmail(ctx, "JOHN.DOE@example.com")
	if err != nil {
		t.Fatalf("ExistsByEmail() ошибка: %v", err)
	}
	if !exists {
		t.Error("ExistsByEmail() должен учитывать регистр нечувствительно")
	}

	// Search
	list, err := repo.List(ctx, "DOE", 10, 0)
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("List(search) вернул %d записей, хотели 1", len(list))
	}
	count, err := repo.Count(ctx, "nobody")
	if err != nil {
		t.Fatalf("Count() ошибка: %v", err)
	}
	if count != 0 {
		t.Errorf("Count(nobody) = %d, хотели 0", count)
	}

	// Update
	now := time.Now().UTC()
	u.LastLoginAt = &now
	u.LoginAttempts = 0
	u.Phone = "+10000000000"
	if err := repo.Update(ctx, u); err != nil {
		t.Fatalf("Update() ошибка: %v", err)
	}
	got, err := repo.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if got.Phone != "+10000000000" || got.LastLoginAt == nil {
		t.Errorf("после Update: Phone=%q LastLoginAt=%v", got.Phone, got.LastLoginAt)
	}
	if got.KeycloakUserID == nil || *got.KeycloakUserID != kcID {
		t.Errorf("KeycloakUserID = %v, хотели %s", got.KeycloakUserID, kcID)
	}

	// Delete
	if err := repo.Delete(ctx, u.ID); err != nil {
		t.Fatalf("Delete() ошибка: %v", err)
	}
	if _, err := repo.GetByID(ctx, u.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("После Delete ожидали ErrNotFound, получили: %v", err)
	}
}

// --- Тесты SyncStateRepository ---

func TestSyncState(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewSyncStateRepository(pool)

	s, err := repo.Get(ctx)
	if err != nil {
		t.Fatalf("Get() ошибка: %v", err)
	}
	if s.LastMirrorSyncAt != nil {
		t.Errorf("LastMirrorSyncAt = %v, ожидали nil", s.LastMirrorSyncAt)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	if err := repo.UpdateMirrorSyncAt(ctx, now); err != nil {
		t.Fatalf("UpdateMirrorSyncAt() ошибка: %v", err)
	}
	s, _ = repo.Get(ctx)
	if s.LastMirrorSyncAt == nil || !s.LastMirrorSyncAt.Equal(now) {
		t.Errorf("LastMirrorSyncAt = %v, ожидали %v", s.LastMirrorSyncAt, now)
	}
}
