// Пакет service — бизнес-логика сервиса управления доступом администраторов.
// admin_users.go — провижининг администраторов: локальная запись + учётная
// запись Keycloak с ровно одной ролью.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Reptilefury/prediction-markets-sub000/internal/domain/model"
	"github.com/Reptilefury/prediction-markets-sub000/internal/events"
	"github.com/Reptilefury/prediction-markets-sub000/internal/keycloak"
	"github.com/Reptilefury/prediction-markets-sub000/internal/repository"
)

// AdminUserService — сервис администраторов.
type AdminUserService struct {
	idp      IdentityProvider
	users    repository.AdminUserRepository
	roleRepo repository.RoleRepository
	logger   *slog.Logger
	events   eventSink
	now      func() time.Time
}

// CreateAdminUserRequest — параметры создания администратора.
// Пустой Status означает ACTIVE.
type CreateAdminUserRequest struct {
	FirstName        string
	LastName         string
	Email            string
	Phone            string
	RoleID           string
	Status           model.AdminUserStatus
	TwoFactorEnabled bool
}

// UpdateAdminUserRequest — частичное обновление: nil-поля не меняются.
type UpdateAdminUserRequest struct {
	FirstName        *string
	LastName         *string
	Email            *string
	Phone            *string
	RoleID           *string
	Status           *model.AdminUserStatus
	TwoFactorEnabled *bool
}

// NewAdminUserService создаёт сервис администраторов.
func NewAdminUserService(
	idp IdentityProvider,
	users repository.AdminUserRepository,
	roleRepo repository.RoleRepository,
	logger *slog.Logger,
) *AdminUserService {
	l := logger.With(slog.String("component", "admin_user_service"))
	return &AdminUserService{
		idp:      idp,
		users:    users,
		roleRepo: roleRepo,
		logger:   l,
		events:   eventSink{logger: l},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetEventPublisher подключает публикацию доменных событий.
func (s *AdminUserService) SetEventPublisher(p events.Publisher) {
	s.events.set(p)
}

// getRole возвращает запись роли зеркала по локальному ID.
func (s *AdminUserService) getRole(ctx context.Context, roleID string) (*model.RoleRecord, error) {
	role, err := s.roleRepo.GetByID(ctx, roleID)
	if err != nil {
		return nil, repoError(fmt.Sprintf("роль %s", roleID), err)
	}
	return role, nil
}

// Create создаёт администратора: учётная запись Keycloak с назначенной ролью,
// затем локальная запись с keycloakUserId. При ошибке Keycloak локальная
// запись не создаётся.
func (s *AdminUserService) Create(ctx context.Context, req CreateAdminUserRequest) (*model.AdminUser, error) {
	status := req.Status
	if status == "" {
		status = model.AdminUserActive
	}
	if strings.TrimSpace(req.FirstName) == "" || strings.TrimSpace(req.LastName) == "" {
		return nil, fmt.Errorf("%w: имя и фамилия обязательны", ErrValidation)
	}
	if strings.TrimSpace(req.Email) == "" {
		return nil, fmt.Errorf("%w: email обязателен", ErrValidation)
	}
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: недопустимый статус %q", ErrValidation, status)
	}

	exists, err := s.users.ExistsByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("проверка email: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: администратор с email %s", ErrDuplicate, req.Email)
	}

	role, err := s.getRole(ctx, req.RoleID)
	if err != nil {
		return nil, err
	}

	username := model.DeriveUsername(req.FirstName, req.LastName)

	kcUserID, err := s.idp.CreateUser(ctx, keycloak.UserRepr{
		Username:      username,
		Email:         req.Email,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Enabled:       status == model.AdminUserActive,
		EmailVerified: true,
	})
	if err != nil {
		return nil, providerError("создание пользователя в Keycloak", err)
	}

	if err := s.assignRole(ctx, kcUserID, role.Name); err != nil {
		s.deleteProviderUser(ctx, kcUserID)
		return nil, err
	}

	user := &model.AdminUser{
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		Username:         username,
		Email:            req.Email,
		Phone:            req.Phone,
		RoleID:           role.ID,
		Status:           status,
		TwoFactorEnabled: req.TwoFactorEnabled,
		KeycloakUserID:   &kcUserID,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("%w: сохранение администратора %s (keycloak_user_id=%s): %w",
			ErrPartialSync, username, kcUserID, err)
	}

	s.logger.Info("Администратор создан",
		slog.String("id", user.ID),
		slog.String("username", username),
		slog.String("role", role.Name),
	)
	s.events.emit(ctx, events.AdminUserCreated, user.ID, user)

	return user, nil
}

// assignRole назначает пользователю Keycloak realm role с именем roleName.
// Любая ошибка, включая 404 роли, — ErrUpstream: роль есть в зеркале,
// значит Keycloak с зеркалом разошёлся.
func (s *AdminUserService) assignRole(ctx context.Context, kcUserID, roleName string) error {
	kcRole, err := s.idp.GetRealmRole(ctx, roleName)
	if err != nil {
		return fmt.Errorf("получение роли %s из Keycloak: %w: %w", roleName, ErrUpstream, err)
	}
	if err := s.idp.AssignRealmRoles(ctx, kcUserID, []keycloak.RoleRepr{*kcRole}); err != nil {
		return fmt.Errorf("назначение роли %s: %w: %w", roleName, ErrUpstream, err)
	}
	return nil
}

// deleteProviderUser удаляет пользователя Keycloak после неудачного назначения роли.
func (s *AdminUserService) deleteProviderUser(ctx context.Context, kcUserID string) {
	if err := s.idp.DeleteUser(ctx, kcUserID); err != nil && !errors.Is(err, keycloak.ErrNotFound) {
		s.logger.Warn("Не удалось удалить пользователя Keycloak без роли",
			slog.String("keycloak_user_id", kcUserID),
			slog.String("error", err.Error()),
		)
	}
}

// Get возвращает администратора с именем роли и разрешениями из зеркала.
// Если роли нет в зеркале, возвращается администратор без этих сведений.
func (s *AdminUserService) Get(ctx context.Context, id string) (*model.AdminUserDetails, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, repoError(fmt.Sprintf("администратор %s", id), err)
	}

	details := &model.AdminUserDetails{AdminUser: *user}

	role, err := s.roleRepo.GetByID(ctx, user.RoleID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("Не удалось получить роль администратора",
				slog.String("id", id),
				slog.String("role_id", user.RoleID),
				slog.String("error", err.Error()),
			)
		}
		return details, nil
	}
	details.RoleName = role.Name

	perms, err := s.roleRepo.ListPermissionNames(ctx, role.ID)
	if err != nil {
		s.logger.Warn("Не удалось получить разрешения роли",
			slog.String("role", role.Name),
			slog.String("error", err.Error()),
		)
		return details, nil
	}
	details.Permissions = perms

	return details, nil
}

// List возвращает администраторов с пагинацией и общее количество.
func (s *AdminUserService) List(ctx context.Context, limit, offset int) ([]*model.AdminUser, int, error) {
	return s.list(ctx, "", limit, offset)
}

// Search ищет администраторов по подстроке имени, фамилии, username или email
// без учёта регистра.
func (s *AdminUserService) Search(ctx context.Context, term string, limit, offset int) ([]*model.AdminUser, int, error) {
	return s.list(ctx, strings.TrimSpace(term), limit, offset)
}

func (s *AdminUserService) list(ctx context.Context, search string, limit, offset int) ([]*model.AdminUser, int, error) {
	if limit <= 0 || offset < 0 {
		return nil, 0, fmt.Errorf("%w: limit > 0, offset >= 0", ErrValidation)
	}

	users, err := s.users.List(ctx, search, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("список администраторов: %w", err)
	}

	total, err := s.users.Count(ctx, search)
	if err != nil {
		return nil, 0, fmt.Errorf("подсчёт администраторов: %w", err)
	}

	return users, total, nil
}

// Update частично обновляет администратора. При смене имени или фамилии
// username вычисляется заново.
func (s *AdminUserService) Update(ctx context.Context, id string, req UpdateAdminUserRequest) (*model.AdminUser, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, repoError(fmt.Sprintf("администратор %s", id), err)
	}

	nameChanged := false
	if req.FirstName != nil && *req.FirstName != user.FirstName {
		if strings.TrimSpace(*req.FirstName) == "" {
			return nil, fmt.Errorf("%w: имя не может быть пустым", ErrValidation)
		}
		user.FirstName = *req.FirstName
		nameChanged = true
	}
	if req.LastName != nil && *req.LastName != user.LastName {
		if strings.TrimSpace(*req.LastName) == "" {
			return nil, fmt.Errorf("%w: фамилия не может быть пустой", ErrValidation)
		}
		user.LastName = *req.LastName
		nameChanged = true
	}
	if nameChanged {
		user.Username = model.DeriveUsername(user.FirstName, user.LastName)
	}

	if req.Email != nil && !strings.EqualFold(*req.Email, user.Email) {
		exists, err := s.users.ExistsByEmail(ctx, *req.Email)
		if err != nil {
			return nil, fmt.Errorf("проверка email: %w", err)
		}
		if exists {
			return nil, fmt.Errorf("%w: администратор с email %s", ErrDuplicate, *req.Email)
		}
	}
	if req.Email != nil {
		user.Email = *req.Email
	}

	if req.Phone != nil {
		user.Phone = *req.Phone
	}

	if req.RoleID != nil && *req.RoleID != user.RoleID {
		role, err := s.getRole(ctx, *req.RoleID)
		if err != nil {
			return nil, err
		}
		user.RoleID = role.ID
	}

	if req.Status != nil {
		if !req.Status.IsValid() {
			return nil, fmt.Errorf("%w: недопустимый статус %q", ErrValidation, *req.Status)
		}
		user.Status = *req.Status
	}

	if req.TwoFactorEnabled != nil {
		user.TwoFactorEnabled = *req.TwoFactorEnabled
	}

	if err := s.users.Update(ctx, user); err != nil {
		return nil, repoError(fmt.Sprintf("обновление администратора %s", id), err)
	}

	s.logger.Info("Администратор обновлён", slog.String("id", id))
	s.events.emit(ctx, events.AdminUserUpdated, id, user)

	return user, nil
}

// Delete удаляет учётную запись Keycloak (если есть), затем локальную запись.
// Отсутствие пользователя в Keycloak допустимо.
func (s *AdminUserService) Delete(ctx context.Context, id string) error {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return repoError(fmt.Sprintf("администратор %s", id), err)
	}

	if user.KeycloakUserID != nil && *user.KeycloakUserID != "" {
		err := s.idp.DeleteUser(ctx, *user.KeycloakUserID)
		if err != nil && !errors.Is(err, keycloak.ErrNotFound) {
			return providerError("удаление пользователя в Keycloak", err)
		}
	}

	if err := s.users.Delete(ctx, id); err != nil {
		return repoError(fmt.Sprintf("удаление администратора %s", id), err)
	}

	s.logger.Info("Администратор удалён", slog.String("id", id))
	s.events.emit(ctx, events.AdminUserDeleted, id, nil)

	return nil
}

// UpdateLastLogin фиксирует успешный вход: lastLoginAt = now, loginAttempts = 0.
func (s *AdminUserService) UpdateLastLogin(ctx context.Context, id string) (*model.AdminUser, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, repoError(fmt.Sprintf("администратор %s", id), err)
	}

	now := s.now()
	user.LastLoginAt = &now
	user.LoginAttempts = 0

	if err := s.users.Update(ctx, user); err != nil {
		return nil, repoError(fmt.Sprintf("обновление администратора %s", id), err)
	}

	return user, nil
}
