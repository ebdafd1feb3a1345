// idp.go — сервис статуса Identity Provider (Keycloak).
// GetStatus — проверка подключения, число разрешений и ролей, время последней сверки.
// SyncMirror — принудительная сверка зеркала через MirrorSyncService.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Reptilefury/prediction-markets-sub000/internal/domain/model"
	"github.com/Reptilefury/prediction-markets-sub000/internal/repository"
)

// IDPService — сервис статуса Identity Provider.
type IDPService struct {
	idp           IdentityProvider
	perms         *PermissionService
	syncStateRepo repository.SyncStateRepository
	mirrorSync    *MirrorSyncService
	keycloakURL   string
	realm         string
	logger        *slog.Logger
}

// IDPStatus — статус подключения к Keycloak.
type IDPStatus struct {
	Connected        bool
	Realm            string
	KeycloakURL      string
	PermissionsCount *int
	RolesCount       *int
	LastMirrorSyncAt *time.Time
	Error            *string
}

// NewIDPService создаёт сервис статуса IdP.
func NewIDPService(
	idp IdentityProvider,
	perms *PermissionService,
	syncStateRepo repository.SyncStateRepository,
	keycloakURL, realm string,
	logger *slog.Logger,
) *IDPService {
	return &IDPService{
		idp:           idp,
		perms:         perms,
		syncStateRepo: syncStateRepo,
		keycloakURL:   keycloakURL,
		realm:         realm,
		logger:        logger.With(slog.String("component", "idp_service")),
	}
}

// SetMirrorSyncService устанавливает ссылку на MirrorSyncService.
func (s *IDPService) SetMirrorSyncService(svc *MirrorSyncService) {
	s.mirrorSync = svc
}

// GetStatus возвращает статус подключения к Keycloak.
func (s *IDPService) GetStatus(ctx context.Context) *IDPStatus {
	status := &IDPStatus{
		Realm:       s.realm,
		KeycloakURL: s.keycloakURL,
	}

	// Время последней сверки не зависит от доступности Keycloak
	if state, err := s.syncStateRepo.Get(ctx); err != nil {
		s.logger.Warn("Ошибка получения sync state", slog.String("error", err.Error()))
	} else {
		status.LastMirrorSyncAt = state.LastMirrorSyncAt
	}

	if _, err := s.idp.RealmInfo(ctx); err != nil {
		errMsg := fmt.Sprintf("Keycloak недоступен: %v", err)
		status.Error = &errMsg
		return status
	}
	status.Connected = true

	if roles, err := s.perms.listClientRoles(ctx); err != nil {
		s.logger.Warn("Ошибка подсчёта разрешений", slog.String("error", err.Error()))
	} else {
		count := len(roles)
		status.PermissionsCount = &count
	}

	if roles, err := s.idp.ListRealmRoles(ctx); err != nil {
		s.logger.Warn("Ошибка подсчёта ролей", slog.String("error", err.Error()))
	} else {
		count := 0
		for _, r := range roles {
			if r.Composite {
				count++
			}
		}
		status.RolesCount = &count
	}

	return status
}

// SyncMirror выполняет принудительную сверку зеркала с Keycloak.
func (s *IDPService) SyncMirror(ctx context.Context) (*model.MirrorSyncResult, error) {
	if s.mirrorSync == nil {
		return nil, fmt.Errorf("сервис сверки зеркала не инициализирован")
	}

	s.logger.Info("Принудительная сверка зеркала запущена")

	result, err := s.mirrorSync.SyncNow(ctx)
	if err != nil {
		return nil, fmt.Errorf("сверка зеркала: %w", err)
	}

	s.mirrorSync.logResult("Принудительная сверка зеркала завершена", result)

	return result, nil
}
