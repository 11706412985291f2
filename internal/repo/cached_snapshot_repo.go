// Package repo 提供带缓存的快照仓储实现
package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/MorseWayne/stock_ledger/internal/cache"
	"github.com/MorseWayne/stock_ledger/internal/domain"
)

// SnapshotCacheInvalidator 由带缓存的快照仓储实现。
// 库存变更走事务内的裸仓储，绕过本装饰器的写钩子；
// 服务层在事务提交后用受影响的键显式失效缓存。
type SnapshotCacheInvalidator interface {
	InvalidateKeys(ctx context.Context, orgID int64, keys ...domain.SnapshotKey)
}

// CachedSnapshotRepository 带缓存的快照仓储。
// 只缓存无锁读路径（报表/查询接口）；GetForUpdate 及所有写路径
// 直通底层仓储并使相关缓存失效——事务内绝不能读到缓存值。
type CachedSnapshotRepository struct {
	repo  SnapshotRepository
	cache cache.Cache
	ttl   time.Duration
}

// NewCachedSnapshotRepository 创建带缓存的快照仓储
func NewCachedSnapshotRepository(repo SnapshotRepository, cache cache.Cache, ttl time.Duration) SnapshotRepository {
	return &CachedSnapshotRepository{
		repo:  repo,
		cache: cache,
		ttl:   ttl,
	}
}

// Create 创建快照（清除相关缓存）
func (r *CachedSnapshotRepository) Create(ctx context.Context, s *domain.InventorySnapshot) error {
	if err := r.repo.Create(ctx, s); err != nil {
		return err
	}
	r.cache.Del(ctx, r.snapshotCacheKey(s.OrganizationID, s.Key()))
	return nil
}

// GetByKey 读取快照（带缓存；库存数据变化频繁，TTL 减半）
func (r *CachedSnapshotRepository) GetByKey(ctx context.Context, orgID int64, key domain.SnapshotKey) (*domain.InventorySnapshot, error) {
	cacheKey := r.snapshotCacheKey(orgID, key)

	var snapshot domain.InventorySnapshot
	if err := r.cache.Get(ctx, cacheKey, &snapshot); err == nil {
		return &snapshot, nil
	}

	result, err := r.repo.GetByKey(ctx, orgID, key)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	r.cache.Set(ctx, cacheKey, result, r.ttl/2)
	return result, nil
}

// GetForUpdate 直通底层仓储；行锁语义不允许缓存介入
func (r *CachedSnapshotRepository) GetForUpdate(ctx context.Context, orgID int64, key domain.SnapshotKey) (*domain.InventorySnapshot, error) {
	return r.repo.GetForUpdate(ctx, orgID, key)
}

// UpdateQuantities 写回数量并使缓存失效
func (r *CachedSnapshotRepository) UpdateQuantities(ctx context.Context, s *domain.InventorySnapshot) error {
	if err := r.repo.UpdateQuantities(ctx, s); err != nil {
		return err
	}
	r.cache.Del(ctx, r.snapshotCacheKey(s.OrganizationID, s.Key()))
	return nil
}

// ReplaceOnHand 覆盖 on_hand 并使缓存失效
func (r *CachedSnapshotRepository) ReplaceOnHand(ctx context.Context, orgID int64, key domain.SnapshotKey, onHand int64) error {
	if err := r.repo.ReplaceOnHand(ctx, orgID, key, onHand); err != nil {
		return err
	}
	r.cache.Del(ctx, r.snapshotCacheKey(orgID, key))
	return nil
}

// List 列表查询不缓存（过滤组合多，命中率低）
func (r *CachedSnapshotRepository) List(ctx context.Context, orgID int64, req *domain.SnapshotListRequest) ([]*domain.InventorySnapshot, int64, error) {
	return r.repo.List(ctx, orgID, req)
}

// ListKeysByStore 直通底层仓储
func (r *CachedSnapshotRepository) ListKeysByStore(ctx context.Context, orgID, storeID int64) ([]domain.SnapshotKey, error) {
	return r.repo.ListKeysByStore(ctx, orgID, storeID)
}

// InvalidateKeys 清除给定键的缓存；事务提交后由服务层调用
func (r *CachedSnapshotRepository) InvalidateKeys(ctx context.Context, orgID int64, keys ...domain.SnapshotKey) {
	if len(keys) == 0 {
		return
	}
	cacheKeys := make([]string, 0, len(keys))
	for _, key := range keys {
		cacheKeys = append(cacheKeys, r.snapshotCacheKey(orgID, key))
	}
	r.cache.Del(ctx, cacheKeys...)
}

func (r *CachedSnapshotRepository) snapshotCacheKey(orgID int64, key domain.SnapshotKey) string {
	return fmt.Sprintf("snapshot:%d:%d:%d:%s", orgID, key.StoreID, key.ProductID, key.VariantKey)
}
