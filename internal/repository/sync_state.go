package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Reptilefury/prediction-markets-sub000/internal/domain/model"
)

// SyncStateRepository — интерфейс для таблицы sync_state (одна строка).
type SyncStateRepository interface {
	// Get возвращает текущее состояние синхронизации.
	Get(ctx context.Context) (*model.SyncState, error)
	// UpdateMirrorSyncAt обновляет время последней сверки зеркала.
	UpdateMirrorSyncAt(ctx context.Context, t time.Time) error
}

// syncStateRepo — реализация SyncStateRepository.
type syncStateRepo struct {
	db DBTX
}

// NewSyncStateRepository создаёт репозиторий состояния синхронизации.
func NewSyncStateRepository(db DBTX) SyncStateRepository {
	return &syncStateRepo{db: db}
}

func (r *syncStateRepo) Get(ctx context.Context) (*model.SyncState, error) {
	query := `
		SELECT id, last_mirror_sync_at, created_at, updated_at
		FROM sync_state
		WHERE id = 1`

	s := &model.SyncState{}
	err := r.db.QueryRow(ctx, query).Scan(
		&s.ID, &s.LastMirrorSyncAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения sync_state: %w", err)
	}
	return s, nil
}

func (r *syncStateRepo) UpdateMirrorSyncAt(ctx context.Context, t time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE sync_state SET last_mirror_sync_at = $1 WHERE id = 1`, t)
	if err != nil {
		return fmt.Errorf("ошибка обновления last_mirror_sync_at: %w", err)
	}
	return nil
}
