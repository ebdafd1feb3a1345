// roles.go — сервис ролей.
// Роль — composite realm role, участники которой — client roles (разрешения).
// Разрешения роли вычисляются из composite-связей в Keycloak при чтении.
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

// compositeFetchLimit — максимум параллельных запросов composite-связей в List.
const compositeFetchLimit = 8

// RoleService — сервис ролей.
type RoleService struct {
	idp      IdentityProvider
	perms    *PermissionService
	roleRepo repository.RoleRepository
	logger   *slog.Logger
	events   eventSink
}

// CreateRoleRequest — параметры создания роли.
type CreateRoleRequest struct {
	Name          string
	Description   string
	PermissionIDs []string
}

// UpdateRoleRequest — параметры обновления роли.
// Description == nil — описание не меняется; пустой PermissionIDs — набор разрешений не меняется.
type UpdateRoleRequest struct {
	Description   *string
	PermissionIDs []string
}

// NewRoleService создаёт сервис ролей.
func NewRoleService(
	idp IdentityProvider,
	perms *PermissionService,
	roleRepo repository.RoleRepository,
	logger *slog.Logger,
) *RoleService {
	l := logger.With(slog.String("component", "role_service"))
	return &RoleService{
		idp:      idp,
		perms:    perms,
		roleRepo: roleRepo,
		logger:   l,
		events:   eventSink{logger: l},
	}
}

// SetEventPublisher подключает публикацию доменных событий.
func (s *RoleService) SetEventPublisher(p events.Publisher) {
	s.events.set(p)
}

// clientPermissions отбирает client roles среди composite-участников.
// Realm roles в составе роли разрешениями не считаются.
func clientPermissions(composites []keycloak.RoleRepr) []model.Permission {
	result := make([]model.Permission, 0, len(composites))
	for _, c := range composites {
		if c.ClientRole {
			result = append(result, permissionFromRepr(c))
		}
	}
	return result
}

// roleFromRepr строит роль из realm role и её composite-участников.
func roleFromRepr(r keycloak.RoleRepr, composites []keycloak.RoleRepr) model.Role {
	return model.Role{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Composite:   r.Composite,
		Permissions: clientPermissions(composites),
	}
}

// List возвращает все realm roles с разрешениями.
// ID роли заменяется локальным ID активной записи зеркала с тем же именем.
// При недоступности Keycloak возвращается пустой список.
func (s *RoleService) List(ctx context.Context) []model.Role {
	reprs, err := s.idp.ListRealmRoles(ctx)
	if err != nil {
		s.logger.Warn("Не удалось получить роли из Keycloak",
			slog.String("error", err.Error()),
		)
		return []model.Role{}
	}

	roles := make([]model.Role, len(reprs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(compositeFetchLimit)
	for i, r := range reprs {
		roles[i] = roleFromRepr(r, nil)
		if !r.Composite {
			continue
		}
		g.Go(func() error {
			composites, err := s.idp.GetRoleComposites(gctx, r.Name)
			if err != nil {
				s.logger.Warn("Не удалось получить composite-связи роли",
					slog.String("role", r.Name),
					slog.String("error", err.Error()),
				)
				return nil
			}
			roles[i].Permissions = clientPermissions(composites)
			return nil
		})
	}
	_ = g.Wait()

	localIDs := s.activeMirrorIDs(ctx)
	for i := range roles {
		if id, ok := localIDs[roles[i].Name]; ok {
			roles[i].ID = id
		}
	}

	return roles
}

// activeMirrorIDs возвращает имя → локальный ID для активных записей зеркала.
func (s *RoleService) activeMirrorIDs(ctx context.Context) map[string]string {
	records, err := s.roleRepo.ListActive(ctx)
	if err != nil {
		s.logger.Warn("Не удалось получить роли из зеркала",
			slog.String("error", err.Error()),
		)
		return nil
	}
	ids := make(map[string]string, len(records))
	for _, r := range records {
		ids[r.Name] = r.ID
	}
	return ids
}

// fetchRole получает роль и её разрешения из Keycloak.
func (s *RoleService) fetchRole(ctx context.Context, name string) (*model.Role, error) {
	repr, err := s.idp.GetRealmRole(ctx, name)
	if err != nil {
		return nil, providerError(fmt.Sprintf("получение роли %s", name), err)
	}

	var composites []keycloak.RoleRepr
	if repr.Composite {
		composites, err = s.idp.GetRoleComposites(ctx, name)
		if err != nil {
			return nil, providerError(fmt.Sprintf("получение разрешений роли %s", name), err)
		}
	}

	role := roleFromRepr(*repr, composites)
	return &role, nil
}

// GetByName возвращает роль по имени (точное совпадение с учётом регистра).
func (s *RoleService) GetByName(ctx context.Context, name string) (*model.Role, error) {
	role, err := s.fetchRole(ctx, name)
	if err != nil {
		return nil, err
	}

	rec, err := s.roleRepo.GetByName(ctx, name)
	switch {
	case err == nil:
		role.ID = rec.ID
	case !errors.Is(err, repository.ErrNotFound):
		s.logger.Warn("Не удалось получить роль из зеркала",
			slog.String("role", name),
			slog.String("error", err.Error()),
		)
	}

	return role, nil
}

// Create создаёт роль с разрешениями.
func (s *RoleService) Create(ctx context.Context, req CreateRoleRequest) (*model.Role, error) {
	// 1. Валидация до любого I/O
	if len(req.PermissionIDs) == 0 {
		return nil, ErrRoleRequiresPermissions
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: имя роли обязательно", ErrValidation)
	}

	// 2. Проверка дубликата в Keycloak и в зеркале параллельно
	var inProvider, inMirror bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := s.idp.GetRealmRole(gctx, name)
		switch {
		case err == nil:
			inProvider = true
		case !errors.Is(err, keycloak.ErrNotFound):
			return providerError("проверка роли в Keycloak", err)
		}
		return nil
	})
	g.Go(func() error {
		_, err := s.roleRepo.GetByName(gctx, name)
		switch {
		case err == nil:
			inMirror = true
		case !errors.Is(err, repository.ErrNotFound):
			return fmt.Errorf("проверка роли в зеркале: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if inProvider || inMirror {
		return nil, fmt.Errorf("%w: роль %s", ErrDuplicate, name)
	}

	// 3. Создание realm role
	err := s.idp.CreateRealmRole(ctx, keycloak.RoleRepr{
		Name:        name,
		Description: req.Description,
		Composite:   true,
		ClientRole:  false,
	})
	if err != nil {
		return nil, providerError("создание роли в Keycloak", err)
	}

	// 4–5. Разрешения в виде client roles
	composites, err := s.resolveComposites(ctx, req.PermissionIDs)
	if err != nil {
		s.rollbackRealmRole(ctx, name)
		return nil, err
	}

	// 6. Composite-связи
	if err := s.idp.AddRoleComposites(ctx, name, composites); err != nil {
		s.rollbackRealmRole(ctx, name)
		return nil, providerError(fmt.Sprintf("добавление разрешений роли %s", name), err)
	}

	// 7. Перечитать роль и синхронизировать зеркало.
	// Роль в Keycloak уже создана: сбой перечитывания — рассинхронизация.
	role, err := s.fetchRole(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPartialSync, err)
	}
	if err := s.syncMirror(ctx, role); err != nil {
		return nil, err
	}

	s.logger.Info("Роль создана",
		slog.String("role", name),
		slog.Int("permissions", len(role.Permissions)),
	)
	s.events.emit(ctx, events.RoleCreated, name, role)

	return role, nil
}

// rollbackRealmRole удаляет только что созданную роль, если разрешения
// не удалось прикрепить. Ошибка удаления только логируется.
func (s *RoleService) rollbackRealmRole(ctx context.Context, name string) {
	if err := s.idp.DeleteRealmRole(ctx, name); err != nil {
		s.logger.Warn("Не удалось удалить роль без разрешений",
			slog.String("role", name),
			slog.String("error", err.Error()),
		)
	}
}

// resolveComposites сопоставляет ID разрешений с разрешениями из Keycloak
// и получает их актуальные client roles. Разрешения, которые не удалось
// получить, пропускаются.
func (s *RoleService) resolveComposites(ctx context.Context, permissionIDs []string) ([]keycloak.RoleRepr, error) {
	wanted := make(map[string]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		wanted[id] = struct{}{}
	}

	var matched []model.Permission
	for _, p := range s.perms.List(ctx) {
		if _, ok := wanted[p.ID]; ok {
			matched = append(matched, p)
		}
	}
	if len(matched) == 0 {
		return nil, ErrRoleRequiresPermissions
	}

	clientUUID, err := s.perms.clientUUID(ctx)
	if err != nil {
		return nil, err
	}

	composites := make([]keycloak.RoleRepr, 0, len(matched))
	for _, p := range matched {
		repr, err := s.idp.GetClientRole(ctx, clientUUID, p.Name())
		if err != nil {
			s.logger.Warn("Не удалось получить разрешение из Keycloak, пропущено",
				slog.String("permission", p.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		composites = append(composites, *repr)
	}
	if len(composites) == 0 {
		return nil, ErrPermissionsUnavailable
	}

	return composites, nil
}

// syncMirror записывает роль и её связи с разрешениями в зеркало
// и подменяет ID роли локальным.
func (s *RoleService) syncMirror(ctx context.Context, role *model.Role) error {
	rec := &model.RoleRecord{
		KeycloakRoleID: role.ID,
		Name:           role.Name,
		Description:    role.Description,
		IsComposite:    role.Composite,
		IsActive:       true,
		LastSyncedAt:   time.Now().UTC(),
	}
	if err := s.roleRepo.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("%w: сохранение роли %s: %w", ErrPartialSync, role.Name, err)
	}

	permIDs := make([]string, 0, len(role.Permissions))
	for _, p := range role.Permissions {
		permIDs = append(permIDs, p.ID)
	}
	if err := s.roleRepo.ReplacePermissions(ctx, rec.ID, permIDs); err != nil {
		return fmt.Errorf("%w: сохранение разрешений роли %s: %w", ErrPartialSync, role.Name, err)
	}

	role.ID = rec.ID
	return nil
}

// Update обновляет описание и, если передан непустой набор, разрешения роли.
func (s *RoleService) Update(ctx context.Context, name string, req UpdateRoleRequest) (*model.Role, error) {
	existing, err := s.idp.GetRealmRole(ctx, name)
	if err != nil {
		return nil, providerError(fmt.Sprintf("получение роли %s", name), err)
	}

	desc := existing.Description
	if req.Description != nil {
		desc = *req.Description
	}

	err = s.idp.UpdateRealmRole(ctx, name, keycloak.RoleRepr{
		ID:          existing.ID,
		Name:        existing.Name,
		Description: desc,
		Composite:   existing.Composite || len(req.PermissionIDs) > 0,
		ClientRole:  false,
		ContainerID: existing.ContainerID,
		Attributes:  existing.Attributes,
	})
	if err != nil {
		return nil, providerError(fmt.Sprintf("обновление роли %s", name), err)
	}

	if len(req.PermissionIDs) > 0 {
		if err := s.replaceComposites(ctx, name, req.PermissionIDs); err != nil {
			return nil, err
		}
	}

	role, err := s.fetchRole(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := s.syncMirror(ctx, role); err != nil {
		return nil, err
	}

	s.logger.Info("Роль обновлена",
		slog.String("role", name),
		slog.Int("permissions", len(role.Permissions)),
	)
	s.events.emit(ctx, events.RoleUpdated, name, role)

	return role, nil
}

// replaceComposites заменяет все client-role участники роли новым набором.
// Новый набор разрешается до удаления старого: роль не остаётся без
// разрешений, если ни одно из новых получить не удалось.
func (s *RoleService) replaceComposites(ctx context.Context, name string, permissionIDs []string) error {
	composites, err := s.resolveComposites(ctx, permissionIDs)
	if err != nil {
		return err
	}

	current, err := s.idp.GetRoleComposites(ctx, name)
	if err != nil {
		return providerError(fmt.Sprintf("получение разрешений роли %s", name), err)
	}
	var stale []keycloak.RoleRepr
	for _, c := range current {
		if c.ClientRole {
			stale = append(stale, c)
		}
	}
	if len(stale) > 0 {
		if err := s.idp.RemoveRoleComposites(ctx, name, stale); err != nil {
			return providerError(fmt.Sprintf("удаление разрешений роли %s", name), err)
		}
	}

	if err := s.idp.AddRoleComposites(ctx, name, composites); err != nil {
		return providerError(fmt.Sprintf("добавление разрешений роли %s", name), err)
	}
	return nil
}

// Delete удаляет роль из Keycloak и из зеркала.
// Удаление в обоих хранилищах выполняется параллельно и без гарантии
// атомарности: ошибка любой стороны логируется и не возвращается.
// ErrNotFound — роли нет ни в Keycloak, ни в зеркале.
func (s *RoleService) Delete(ctx context.Context, name string) error {
	var (
		inProvider bool
		mirrorRec  *model.RoleRecord
	)

	var probes errgroup.Group
	probes.Go(func() error {
		_, err := s.idp.GetRealmRole(ctx, name)
		if err == nil {
			inProvider = true
		} else if !errors.Is(err, keycloak.ErrNotFound) {
			s.logger.Warn("Ошибка проверки роли в Keycloak, считается отсутствующей",
				slog.String("role", name),
				slog.String("error", err.Error()),
			)
		}
		return nil
	})
	probes.Go(func() error {
		rec, err := s.roleRepo.GetByName(ctx, name)
		if err == nil {
			mirrorRec = rec
		} else if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("Ошибка проверки роли в зеркале, считается отсутствующей",
				slog.String("role", name),
				slog.String("error", err.Error()),
			)
		}
		return nil
	})
	_ = probes.Wait()

	if !inProvider && mirrorRec == nil {
		return fmt.Errorf("роль %s: %w", name, ErrNotFound)
	}

	var deletes errgroup.Group
	if inProvider {
		deletes.Go(func() error {
			if err := s.idp.DeleteRealmRole(ctx, name); err != nil {
				s.logger.Warn("Не удалось удалить роль из Keycloak",
					slog.String("role", name),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	if mirrorRec != nil {
		deletes.Go(func() error {
			if err := s.roleRepo.Deactivate(ctx, mirrorRec.ID, time.Now().UTC()); err != nil {
				s.logger.Warn("Не удалось удалить роль из зеркала",
					slog.String("role", name),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = deletes.Wait()

	s.logger.Info("Роль удалена",
		slog.String("role", name),
		slog.Bool("in_keycloak", inProvider),
		slog.Bool("in_mirror", mirrorRec != nil),
	)
	s.events.emit(ctx, events.RoleDeleted, name, nil)

	return nil
}
