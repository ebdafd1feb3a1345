// permissions.go — сервис разрешений.
// Разрешение — client role клиента PM_KEYCLOAK_PERMISSIONS_CLIENT с именем
// "module:action". Keycloak авторитетен; таблица permissions — зеркало,
// обновляемое после каждой успешной мутации в Keycloak.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Reptilefury/prediction-markets-sub000/internal/domain/model"
	"github.com/Reptilefury/prediction-markets-sub000/internal/events"
	"github.com/Reptilefury/prediction-markets-sub000/internal/keycloak"
	"github.com/Reptilefury/prediction-markets-sub000/internal/repository"
)

// PermissionService — сервис разрешений.
type PermissionService struct {
	idp      IdentityProvider
	permRepo repository.PermissionRepository
	clientID string
	logger   *slog.Logger
	events   eventSink
}

// CreatePermissionRequest — параметры создания разрешения.
type CreatePermissionRequest struct {
	Module      string
	Action      string
	Description string
}

// NewPermissionService создаёт сервис разрешений.
// clientID — clientId клиента Keycloak, в котором хранятся разрешения.
func NewPermissionService(
	idp IdentityProvider,
	permRepo repository.PermissionRepository,
	clientID string,
	logger *slog.Logger,
) *PermissionService {
	l := logger.With(slog.String("component", "permission_service"))
	return &PermissionService{
		idp:      idp,
		permRepo: permRepo,
		clientID: clientID,
		logger:   l,
		events:   eventSink{logger: l},
	}
}

// SetEventPublisher подключает публикацию доменных событий.
func (s *PermissionService) SetEventPublisher(p events.Publisher) {
	s.events.set(p)
}

// clientUUID возвращает внутренний UUID клиента разрешений.
func (s *PermissionService) clientUUID(ctx context.Context) (string, error) {
	client, err := s.idp.GetClientByClientID(ctx, s.clientID)
	if err != nil {
		return "", providerError("получение клиента разрешений", err)
	}
	return client.ID, nil
}

// listClientRoles возвращает все client roles клиента разрешений.
func (s *PermissionService) listClientRoles(ctx context.Context) ([]keycloak.RoleRepr, error) {
	clientUUID, err := s.clientUUID(ctx)
	if err != nil {
		return nil, err
	}
	roles, err := s.idp.ListClientRoles(ctx, clientUUID)
	if err != nil {
		return nil, providerError("получение client roles", err)
	}
	return roles, nil
}

// permissionFromRepr строит разрешение из client role.
func permissionFromRepr(r keycloak.RoleRepr) model.Permission {
	module, action := model.ParsePermissionName(r.Name)
	return model.Permission{
		ID:          r.ID,
		Module:      module,
		Action:      action,
		Description: r.Description,
	}
}

// permissionRecord строит запись зеркала для разрешения.
func permissionRecord(p model.Permission, syncedAt time.Time) *model.PermissionRecord {
	return &model.PermissionRecord{
		KeycloakRoleID: p.ID,
		Name:           p.Name(),
		Module:         p.Module,
		Action:         p.Action,
		Description:    p.Description,
		IsActive:       true,
		LastSyncedAt:   syncedAt,
	}
}

// List возвращает все разрешения из Keycloak.
// Ошибка Keycloak не возвращается: результат пуст, ошибка логируется.
func (s *PermissionService) List(ctx context.Context) []model.Permission {
	roles, err := s.listClientRoles(ctx)
	if err != nil {
		s.logger.Warn("Не удалось получить разрешения из Keycloak",
			slog.String("error", err.Error()),
		)
		return []model.Permission{}
	}

	result := make([]model.Permission, 0, len(roles))
	for _, r := range roles {
		result = append(result, permissionFromRepr(r))
	}
	return result
}

// ListByModule возвращает разрешения с точным совпадением модуля.
func (s *PermissionService) ListByModule(ctx context.Context, module string) []model.Permission {
	all := s.List(ctx)
	result := make([]model.Permission, 0, len(all))
	for _, p := range all {
		if p.Module == module {
			result = append(result, p)
		}
	}
	return result
}

// ListPaged возвращает страницу page (с нуля) размера size.
func (s *PermissionService) ListPaged(ctx context.Context, page, size int) (model.Page[model.Permission], error) {
	if size <= 0 || page < 0 {
		return model.Page[model.Permission]{}, fmt.Errorf("%w: page >= 0, size > 0", ErrValidation)
	}
	return model.NewPage(s.List(ctx), page, size), nil
}

// Create создаёт разрешение module:action.
// Существование проверяется независимо в Keycloak и в зеркале:
//   - есть в обоих — ErrDuplicate, записей нет;
//   - нет нигде — создание в Keycloak, затем запись в зеркале;
//   - только в Keycloak — создаётся только запись в зеркале;
//   - только в зеркале — используется ID Keycloak из зеркала.
func (s *PermissionService) Create(ctx context.Context, req CreatePermissionRequest) (*model.Permission, error) {
	module := strings.TrimSpace(req.Module)
	action := strings.TrimSpace(req.Action)
	if module == "" || action == "" {
		return nil, fmt.Errorf("%w: module и action обязательны", ErrValidation)
	}
	if strings.Contains(module, ":") {
		return nil, fmt.Errorf("%w: module не может содержать ':'", ErrValidation)
	}
	name := model.PermissionName(module, action)

	clientUUID, err := s.clientUUID(ctx)
	if err != nil {
		return nil, err
	}

	var (
		inProvider *keycloak.RoleRepr
		inMirror   *model.PermissionRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		roles, err := s.idp.ListClientRoles(gctx, clientUUID)
		if err != nil {
			return providerError("проверка разрешения в Keycloak", err)
		}
		for i := range roles {
			if roles[i].Name == name {
				inProvider = &roles[i]
				break
			}
		}
		return nil
	})
	g.Go(func() error {
		rec, err := s.permRepo.GetByName(gctx, name)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return fmt.Errorf("проверка разрешения в зеркале: %w", err)
		}
		inMirror = rec
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	switch {
	case inProvider != nil && inMirror != nil:
		return nil, fmt.Errorf("%w: разрешение %s", ErrDuplicate, name)

	case inProvider == nil && inMirror != nil:
		// Строка зеркала без роли в Keycloak: создание в Keycloak пропускается
		s.logger.Warn("Разрешение есть только в зеркале, используется ID из зеркала",
			slog.String("name", name),
			slog.String("keycloak_role_id", inMirror.KeycloakRoleID),
		)
		perm := inMirror.ToPermission()
		return &perm, nil

	case inProvider != nil:
		perm := permissionFromRepr(*inProvider)
		if err := s.permRepo.Upsert(ctx, permissionRecord(perm, now)); err != nil {
			return nil, fmt.Errorf("%w: сохранение разрешения %s: %w", ErrPartialSync, name, err)
		}
		s.logger.Info("Разрешение из Keycloak добавлено в зеркало", slog.String("name", name))
		s.events.emit(ctx, events.PermissionCreated, name, perm)
		return &perm, nil
	}

	err = s.idp.CreateClientRole(ctx, clientUUID, keycloak.RoleRepr{
		Name:        name,
		Description: req.Description,
		ClientRole:  true,
	})
	if err != nil {
		return nil, providerError("создание разрешения в Keycloak", err)
	}

	created, err := s.idp.GetClientRole(ctx, clientUUID, name)
	if err != nil {
		return nil, providerError("получение созданного разрешения", err)
	}

	perm := permissionFromRepr(*created)
	if err := s.permRepo.Create(ctx, permissionRecord(perm, now)); err != nil {
		return nil, fmt.Errorf("%w: сохранение разрешения %s: %w", ErrPartialSync, name, err)
	}

	s.logger.Info("Разрешение создано",
		slog.String("name", name),
		slog.String("keycloak_role_id", perm.ID),
	)
	s.events.emit(ctx, events.PermissionCreated, name, perm)

	return &perm, nil
}

// Update обновляет описание разрешения. description == nil — описание не меняется.
func (s *PermissionService) Update(ctx context.Context, name string, description *string) (*model.Permission, error) {
	clientUUID, err := s.clientUUID(ctx)
	if err != nil {
		return nil, err
	}

	current, err := s.idp.GetClientRole(ctx, clientUUID, name)
	if err != nil {
		return nil, providerError(fmt.Sprintf("получение разрешения %s", name), err)
	}

	desc := current.Description
	if description != nil {
		desc = *description
	}

	err = s.idp.UpdateClientRole(ctx, clientUUID, name, keycloak.RoleRepr{
		ID:          current.ID,
		Name:        current.Name,
		Description: desc,
		Composite:   current.Composite,
		ClientRole:  true,
		ContainerID: current.ContainerID,
		Attributes:  current.Attributes,
	})
	if err != nil {
		return nil, providerError(fmt.Sprintf("обновление разрешения %s", name), err)
	}

	updated, err := s.idp.GetClientRole(ctx, clientUUID, name)
	if err != nil {
		return nil, providerError(fmt.Sprintf("получение разрешения %s", name), err)
	}

	perm := permissionFromRepr(*updated)
	if err := s.permRepo.Upsert(ctx, permissionRecord(perm, time.Now().UTC())); err != nil {
		return nil, fmt.Errorf("%w: синхронизация разрешения %s: %w", ErrPartialSync, name, err)
	}

	s.logger.Info("Разрешение обновлено", slog.String("name", name))
	s.events.emit(ctx, events.PermissionUpdated, name, perm)

	return &perm, nil
}

// Delete удаляет разрешение из Keycloak и помечает запись зеркала неактивной.
// Отсутствие записи в зеркале допустимо, ошибка зеркала только логируется.
func (s *PermissionService) Delete(ctx context.Context, name string) error {
	clientUUID, err := s.clientUUID(ctx)
	if err != nil {
		return err
	}

	current, err := s.idp.GetClientRole(ctx, clientUUID, name)
	if err != nil {
		return providerError(fmt.Sprintf("получение разрешения %s", name), err)
	}

	if err := s.idp.DeleteClientRole(ctx, clientUUID, name); err != nil {
		return providerError(fmt.Sprintf("удаление разрешения %s", name), err)
	}

	if err := s.permRepo.Deactivate(ctx, current.ID, time.Now().UTC()); err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("Не удалось деактивировать разрешение в зеркале",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("Разрешение удалено", slog.String("name", name))
	s.events.emit(ctx, events.PermissionDeleted, name, permissionFromRepr(*current))

	return nil
}
