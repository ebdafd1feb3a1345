// mirror_sync.go — периодическая сверка зеркала ролей и разрешений с Keycloak.
//
// MirrorSyncService запускает фоновую горутину с ticker (PM_MIRROR_SYNC_INTERVAL)
// и выполняет ту же сверку по запросу (SyncNow, POST /api/v1/idp/sync).
//
// Сверка (Keycloak — источник истины):
//  1. Client roles клиента разрешений → upsert в permissions;
//     активные записи, которых нет в Keycloak, деактивируются
//  2. Composite realm roles → upsert в roles, замена связей role_permissions;
//     активные записи, которых нет в Keycloak, деактивируются
//  3. Обновление sync_state.last_mirror_sync_at
//
// Prometheus-метрики:
//   - pm_admin_mirror_sync_duration_seconds — длительность сверки
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Reptilefury/prediction-markets-sub000/internal/domain/model"
	"github.com/Reptilefury/prediction-markets-sub000/internal/keycloak"
	"github.com/Reptilefury/prediction-markets-sub000/internal/repository"
)

var mirrorSyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "pm_admin_mirror_sync_duration_seconds",
	Help:    "Длительность сверки зеркала ролей и разрешений с Keycloak",
	Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s … ~51s
})

// MirrorSyncService — фоновый сервис сверки зеркала с Keycloak.
type MirrorSyncService struct {
	idp           IdentityProvider
	perms         *PermissionService
	permRepo      repository.PermissionRepository
	roleRepo      repository.RoleRepository
	syncStateRepo repository.SyncStateRepository
	interval      time.Duration
	logger        *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMirrorSyncService создаёт сервис сверки зеркала.
// interval == 0 — периодическая сверка отключена, доступна только SyncNow.
func NewMirrorSyncService(
	idp IdentityProvider,
	perms *PermissionService,
	permRepo repository.PermissionRepository,
	roleRepo repository.RoleRepository,
	syncStateRepo repository.SyncStateRepository,
	interval time.Duration,
	logger *slog.Logger,
) *MirrorSyncService {
	return &MirrorSyncService{
		idp:           idp,
		perms:         perms,
		permRepo:      permRepo,
		roleRepo:      roleRepo,
		syncStateRepo: syncStateRepo,
		interval:      interval,
		logger:        logger.With(slog.String("component", "mirror_sync")),
	}
}

// Start запускает фоновую горутину с периодической сверкой.
func (s *MirrorSyncService) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("Периодическая сверка зеркала отключена")
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Периодическая сверка зеркала запущена",
			slog.String("interval", s.interval.String()),
		)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Периодическая сверка зеркала остановлена")
				return
			case <-ticker.C:
				result, err := s.SyncNow(ctx)
				if err != nil {
					s.logger.Error("Ошибка периодической сверки зеркала",
						slog.String("error", err.Error()),
					)
					continue
				}
				s.logResult("Периодическая сверка зеркала завершена", result)
			}
		}
	}()
}

// Stop останавливает фоновую горутину и ждёт завершения.
func (s *MirrorSyncService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

func (s *MirrorSyncService) logResult(msg string, r *model.MirrorSyncResult) {
	s.logger.Info(msg,
		slog.Int("permissions_keycloak", r.PermissionsInKeycloak),
		slog.Int("permissions_upserted", r.PermissionsUpserted),
		slog.Int("permissions_deactivated", r.PermissionsDeactivated),
		slog.Int("roles_keycloak", r.RolesInKeycloak),
		slog.Int("roles_upserted", r.RolesUpserted),
		slog.Int("roles_deactivated", r.RolesDeactivated),
	)
}

// SyncNow выполняет немедленную сверку зеркала с Keycloak.
// Ошибка возвращается, только если не удалось прочитать состояние Keycloak
// или зеркала; ошибки отдельных записей логируются.
func (s *MirrorSyncService) SyncNow(ctx context.Context) (*model.MirrorSyncResult, error) {
	startedAt := time.Now()
	now := startedAt.UTC()
	result := &model.MirrorSyncResult{}

	// 1. Разрешения
	kcPerms, err := s.perms.listClientRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение разрешений из Keycloak: %w", err)
	}
	result.PermissionsInKeycloak = len(kcPerms)

	if err := s.syncPermissions(ctx, kcPerms, now, result); err != nil {
		return nil, err
	}

	// 2. Роли
	kcRoles, err := s.idp.ListRealmRoles(ctx)
	if err != nil {
		return nil, providerError("получение ролей из Keycloak", err)
	}

	if err := s.syncRoles(ctx, kcRoles, now, result); err != nil {
		return nil, err
	}

	// 3. Время сверки
	if err := s.syncStateRepo.UpdateMirrorSyncAt(ctx, now); err != nil {
		s.logger.Warn("Ошибка обновления last_mirror_sync_at", slog.String("error", err.Error()))
	}

	mirrorSyncDuration.Observe(time.Since(startedAt).Seconds())
	result.SyncedAt = now

	return result, nil
}

func (s *MirrorSyncService) syncPermissions(ctx context.Context, kcPerms []keycloak.RoleRepr, now time.Time, result *model.MirrorSyncResult) error {
	seen := make(map[string]struct{}, len(kcPerms))
	for _, r := range kcPerms {
		seen[r.ID] = struct{}{}
		if err := s.permRepo.Upsert(ctx, permissionRecord(permissionFromRepr(r), now)); err != nil {
			s.logger.Warn("Ошибка сверки разрешения",
				slog.String("name", r.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.PermissionsUpserted++
	}

	local, err := s.permRepo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("получение разрешений из зеркала: %w", err)
	}
	for _, rec := range local {
		if _, ok := seen[rec.KeycloakRoleID]; ok {
			continue
		}
		if err := s.permRepo.Deactivate(ctx, rec.KeycloakRoleID, now); err != nil && !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("Ошибка деактивации разрешения",
				slog.String("name", rec.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.PermissionsDeactivated++
	}
	return nil
}

func (s *MirrorSyncService) syncRoles(ctx context.Context, kcRoles []keycloak.RoleRepr, now time.Time, result *model.MirrorSyncResult) error {
	seen := make(map[string]struct{}, len(kcRoles))
	for _, r := range kcRoles {
		// Только composite realm roles — роли администраторов
		if !r.Composite || r.ClientRole {
			continue
		}
		result.RolesInKeycloak++
		seen[r.ID] = struct{}{}

		composites, err := s.idp.GetRoleComposites(ctx, r.Name)
		if err != nil {
			s.logger.Warn("Ошибка получения разрешений роли",
				slog.String("role", r.Name),
				slog.String("error", err.Error()),
			)
			continue
		}

		rec := &model.RoleRecord{
			KeycloakRoleID: r.ID,
			Name:           r.Name,
			Description:    r.Description,
			IsComposite:    true,
			IsActive:       true,
			LastSyncedAt:   now,
		}
		if err := s.roleRepo.Upsert(ctx, rec); err != nil {
			s.logger.Warn("Ошибка сверки роли",
				slog.String("role", r.Name),
				slog.String("error", err.Error()),
			)
			continue
		}

		var permIDs []string
		for _, p := range clientPermissions(composites) {
			permIDs = append(permIDs, p.ID)
		}
		if err := s.roleRepo.ReplacePermissions(ctx, rec.ID, permIDs); err != nil {
			s.logger.Warn("Ошибка сверки разрешений роли",
				slog.String("role", r.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.RolesUpserted++
	}

	local, err := s.roleRepo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("получение ролей из зеркала: %w", err)
	}
	for _, rec := range local {
		if _, ok := seen[rec.KeycloakRoleID]; ok {
			continue
		}
		if err := s.roleRepo.Deactivate(ctx, rec.ID, now); err != nil && !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("Ошибка деактивации роли",
				slog.String("role", rec.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.RolesDeactivated++
	}
	return nil
}
