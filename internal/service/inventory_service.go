package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MorseWayne/stock_ledger/internal/domain"
	"github.com/MorseWayne/stock_ledger/internal/repo"
)

// 幂等作用域：同一个键在不同操作间互不干扰
const (
	scopeInventoryAdjust   = "inventory.adjust"
	scopeInventoryReceive  = "inventory.receive"
	scopeInventoryTransfer = "inventory.transfer"
)

// EventPublisher 把已提交的库存变动作为事件对外广播。
// 发布是尽力而为的：事件失败不影响已提交的事务，实现方自行记录失败。
type EventPublisher interface {
	PublishStockMovements(ctx context.Context, movements []*domain.StockMovement)
}

// InventoryService 定义库存核心业务接口。
// 所有变更操作要求幂等键，并在单个数据库事务内完成
// 账本追加、快照更新、批次与成本联动。
type InventoryService interface {
	// AdjustStock 人工调整库存（盘点、损耗、纠错）
	AdjustStock(ctx context.Context, actor *domain.Actor, req *domain.AdjustStockRequest) (*domain.StockPosition, error)
	// ReceiveStock 入库（采购收货或独立入库）
	ReceiveStock(ctx context.Context, actor *domain.Actor, req *domain.ReceiveStockRequest) (*domain.StockPosition, error)
	// TransferStock 跨门店调拨，两侧变动原子提交
	TransferStock(ctx context.Context, actor *domain.Actor, req *domain.TransferStockRequest) (*domain.TransferResult, error)
	// RecomputeSnapshots 以账本回放结果重建门店快照（仅管理员）
	RecomputeSnapshots(ctx context.Context, actor *domain.Actor, storeID int64) (*domain.RecomputeResult, error)

	// GetSnapshot 读取单个键的快照；读路径带缓存
	GetSnapshot(ctx context.Context, actor *domain.Actor, storeID, productID int64, variantID *int64) (*domain.InventorySnapshot, error)
	ListSnapshots(ctx context.Context, actor *domain.Actor, req *domain.SnapshotListRequest) (*domain.SnapshotListResponse, error)
	ListMovements(ctx context.Context, actor *domain.Actor, req *domain.StockMovementListRequest) (*domain.StockMovementListResponse, error)
	ListLots(ctx context.Context, actor *domain.Actor, storeID, productID int64, variantID *int64) ([]*domain.StockLot, error)

	// ApplyReceive 在调用方已持有的事务内执行入库。
	// 采购收货把多行入库与订单状态流转收敛到一个事务时使用；
	// 幂等保护由外层调用方负责。
	ApplyReceive(ctx context.Context, r *repo.Repos, actor *domain.Actor, req *domain.ReceiveStockRequest) (*domain.StockPosition, *domain.StockMovement, error)
}

// inventoryService 实现 InventoryService 接口
type inventoryService struct {
	uow    repo.UnitOfWork
	reads  *repo.Repos
	guard  *IdempotencyGuard
	events EventPublisher
	logger *zap.Logger
}

// NewInventoryService 创建库存服务实例。
// reads 基于连接池构造，服务只读查询走 reads；变更走 uow 的事务。
// events 可为 nil（事件广播关闭）。
func NewInventoryService(uow repo.UnitOfWork, reads *repo.Repos, guard *IdempotencyGuard, events EventPublisher, logger *zap.Logger) InventoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &inventoryService{
		uow:    uow,
		reads:  reads,
		guard:  guard,
		events: events,
		logger: logger,
	}
}

// AdjustStock 人工调整库存。
// 读改写在行锁下进行；扣减越过零且门店未开负库存时拒绝。
func (s *inventoryService) AdjustStock(ctx context.Context, actor *domain.Actor, req *domain.AdjustStockRequest) (*domain.StockPosition, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var committed []*domain.StockMovement
	raw, err := RunIdempotentTx(ctx, s.uow, s.guard, scopeInventoryAdjust, req.IdempotencyKey, req.RequestID, req, func(r *repo.Repos) (any, error) {
		store, _, err := s.resolveTarget(ctx, r, actor, req.StoreID, req.ProductID, req.VariantID)
		if err != nil {
			return nil, err
		}

		key := domain.SnapshotKey{StoreID: req.StoreID, ProductID: req.ProductID, VariantKey: domain.VariantKeyFor(req.VariantID)}
		snap, err := lockOrCreateSnapshot(ctx, r, actor.OrganizationID, key, store)
		if err != nil {
			return nil, err
		}

		newOnHand := snap.OnHand + req.QtyDelta
		if newOnHand < 0 && !snap.AllowNegativeStock {
			return nil, domain.Errorf(domain.KindConflict,
				"insufficient stock: on_hand %d, delta %d", snap.OnHand, req.QtyDelta)
		}

		movement := &domain.StockMovement{
			OrganizationID: actor.OrganizationID,
			StoreID:        req.StoreID,
			ProductID:      req.ProductID,
			VariantKey:     key.VariantKey,
			Type:           domain.MovementAdjustment,
			QtyDelta:       req.QtyDelta,
			Note:           &req.Reason,
			RequestID:      req.RequestID,
			CreatedByID:    actor.ID,
		}
		if err := r.Movements.Insert(ctx, movement); err != nil {
			return nil, err
		}

		snap.OnHand = newOnHand
		if err := r.Snapshots.UpdateQuantities(ctx, snap); err != nil {
			return nil, err
		}

		if store.TrackExpiryLots {
			if err := s.applyLotDelta(ctx, r, actor.OrganizationID, key, req.QtyDelta, req.ExpiryDate); err != nil {
				return nil, err
			}
		}

		committed = append(committed, movement)
		return &domain.StockPosition{
			StoreID:    key.StoreID,
			ProductID:  key.ProductID,
			VariantKey: key.VariantKey,
			OnHand:     newOnHand,
			MovementID: movement.ID,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, committed)
	s.invalidateSnapshots(ctx, actor.OrganizationID, movementKeys(committed)...)
	return decodePosition(raw)
}

// ReceiveStock 入库
func (s *inventoryService) ReceiveStock(ctx context.Context, actor *domain.Actor, req *domain.ReceiveStockRequest) (*domain.StockPosition, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var committed []*domain.StockMovement
	raw, err := RunIdempotentTx(ctx, s.uow, s.guard, scopeInventoryReceive, req.IdempotencyKey, req.RequestID, req, func(r *repo.Repos) (any, error) {
		pos, movement, err := s.ApplyReceive(ctx, r, actor, req)
		if err != nil {
			return nil, err
		}
		committed = append(committed, movement)
		return pos, nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, committed)
	s.invalidateSnapshots(ctx, actor.OrganizationID, movementKeys(committed)...)
	return decodePosition(raw)
}

// ApplyReceive 在给定事务内执行一次入库：账本追加、快照累加、
// 可选的批次登记与移动加权平均成本更新。
func (s *inventoryService) ApplyReceive(ctx context.Context, r *repo.Repos, actor *domain.Actor, req *domain.ReceiveStockRequest) (*domain.StockPosition, *domain.StockMovement, error) {
	store, _, err := s.resolveTarget(ctx, r, actor, req.StoreID, req.ProductID, req.VariantID)
	if err != nil {
		return nil, nil, err
	}

	key := domain.SnapshotKey{StoreID: req.StoreID, ProductID: req.ProductID, VariantKey: domain.VariantKeyFor(req.VariantID)}
	snap, err := lockOrCreateSnapshot(ctx, r, actor.OrganizationID, key, store)
	if err != nil {
		return nil, nil, err
	}

	movement := &domain.StockMovement{
		OrganizationID: actor.OrganizationID,
		StoreID:        req.StoreID,
		ProductID:      req.ProductID,
		VariantKey:     key.VariantKey,
		Type:           domain.MovementReceive,
		QtyDelta:       req.QtyReceived,
		UnitCost:       req.UnitCost,
		Note:           req.Note,
		ReferenceType:  req.ReferenceType,
		ReferenceID:    req.ReferenceID,
		RequestID:      req.RequestID,
		CreatedByID:    actor.ID,
	}
	if err := r.Movements.Insert(ctx, movement); err != nil {
		return nil, nil, err
	}

	oldOnHand := snap.OnHand
	snap.OnHand += req.QtyReceived
	if req.ReduceOnOrder {
		snap.OnOrder -= req.QtyReceived
		if snap.OnOrder < 0 {
			snap.OnOrder = 0
		}
	}
	if err := r.Snapshots.UpdateQuantities(ctx, snap); err != nil {
		return nil, nil, err
	}

	if store.TrackExpiryLots && req.ExpiryDate != nil {
		if err := r.Lots.UpsertIncrement(ctx, actor.OrganizationID, key, *req.ExpiryDate, req.QtyReceived); err != nil {
			return nil, nil, err
		}
	}

	if req.UnitCost != nil {
		if err := s.updateAverageCost(ctx, r, actor.OrganizationID, key, oldOnHand, *req.UnitCost, req.QtyReceived); err != nil {
			return nil, nil, err
		}
	}

	pos := &domain.StockPosition{
		StoreID:    key.StoreID,
		ProductID:  key.ProductID,
		VariantKey: key.VariantKey,
		OnHand:     snap.OnHand,
		MovementID: movement.ID,
	}
	return pos, movement, nil
}

// TransferStock 跨门店调拨。
// 两侧快照按门店ID升序加锁，避免反向调拨互相死锁；
// 负库存校验只作用于调出侧。
func (s *inventoryService) TransferStock(ctx context.Context, actor *domain.Actor, req *domain.TransferStockRequest) (*domain.TransferResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var committed []*domain.StockMovement
	raw, err := RunIdempotentTx(ctx, s.uow, s.guard, scopeInventoryTransfer, req.IdempotencyKey, req.RequestID, req, func(r *repo.Repos) (any, error) {
		fromStore, _, err := s.resolveTarget(ctx, r, actor, req.FromStoreID, req.ProductID, req.VariantID)
		if err != nil {
			return nil, err
		}
		toStore, err := r.Stores.GetByID(ctx, actor.OrganizationID, req.ToStoreID)
		if err != nil {
			return nil, err
		}
		if toStore == nil {
			return nil, domain.Errorf(domain.KindNotFound, "store %d not found", req.ToStoreID)
		}

		variantKey := domain.VariantKeyFor(req.VariantID)
		fromKey := domain.SnapshotKey{StoreID: req.FromStoreID, ProductID: req.ProductID, VariantKey: variantKey}
		toKey := domain.SnapshotKey{StoreID: req.ToStoreID, ProductID: req.ProductID, VariantKey: variantKey}

		// 升序加锁
		first, second := fromKey, toKey
		firstStore, secondStore := fromStore, toStore
		if toKey.StoreID < fromKey.StoreID {
			first, second = toKey, fromKey
			firstStore, secondStore = toStore, fromStore
		}
		firstSnap, err := lockOrCreateSnapshot(ctx, r, actor.OrganizationID, first, firstStore)
		if err != nil {
			return nil, err
		}
		secondSnap, err := lockOrCreateSnapshot(ctx, r, actor.OrganizationID, second, secondStore)
		if err != nil {
			return nil, err
		}

		fromSnap, toSnap := firstSnap, secondSnap
		if firstSnap.StoreID != req.FromStoreID {
			fromSnap, toSnap = secondSnap, firstSnap
		}

		if fromSnap.OnHand-req.Qty < 0 && !fromSnap.AllowNegativeStock {
			return nil, domain.Errorf(domain.KindConflict,
				"insufficient stock at source store: on_hand %d, qty %d", fromSnap.OnHand, req.Qty)
		}

		refType := domain.ReferenceTypeTransfer
		refID := uuid.NewString()

		out := &domain.StockMovement{
			OrganizationID: actor.OrganizationID,
			StoreID:        req.FromStoreID,
			ProductID:      req.ProductID,
			VariantKey:     variantKey,
			Type:           domain.MovementTransferOut,
			QtyDelta:       -req.Qty,
			Note:           req.Note,
			ReferenceType:  &refType,
			ReferenceID:    &refID,
			RequestID:      req.RequestID,
			CreatedByID:    actor.ID,
		}
		in := &domain.StockMovement{
			OrganizationID: actor.OrganizationID,
			StoreID:        req.ToStoreID,
			ProductID:      req.ProductID,
			VariantKey:     variantKey,
			Type:           domain.MovementTransferIn,
			QtyDelta:       req.Qty,
			Note:           req.Note,
			ReferenceType:  &refType,
			ReferenceID:    &refID,
			RequestID:      req.RequestID,
			CreatedByID:    actor.ID,
		}
		if err := r.Movements.Insert(ctx, out); err != nil {
			return nil, err
		}
		if err := r.Movements.Insert(ctx, in); err != nil {
			return nil, err
		}

		fromSnap.OnHand -= req.Qty
		toSnap.OnHand += req.Qty
		if err := r.Snapshots.UpdateQuantities(ctx, fromSnap); err != nil {
			return nil, err
		}
		if err := r.Snapshots.UpdateQuantities(ctx, toSnap); err != nil {
			return nil, err
		}

		if fromStore.TrackExpiryLots {
			if err := s.applyLotDelta(ctx, r, actor.OrganizationID, fromKey, -req.Qty, req.ExpiryDate); err != nil {
				return nil, err
			}
		}
		if toStore.TrackExpiryLots && req.ExpiryDate != nil {
			if err := r.Lots.UpsertIncrement(ctx, actor.OrganizationID, toKey, *req.ExpiryDate, req.Qty); err != nil {
				return nil, err
			}
		}

		committed = append(committed, out, in)
		return &domain.TransferResult{
			ReferenceID: refID,
			From: &domain.StockPosition{
				StoreID:    fromKey.StoreID,
				ProductID:  fromKey.ProductID,
				VariantKey: variantKey,
				OnHand:     fromSnap.OnHand,
				MovementID: out.ID,
			},
			To: &domain.StockPosition{
				StoreID:    toKey.StoreID,
				ProductID:  toKey.ProductID,
				VariantKey: variantKey,
				OnHand:     toSnap.OnHand,
				MovementID: in.ID,
			},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, committed)
	s.invalidateSnapshots(ctx, actor.OrganizationID, movementKeys(committed)...)

	result := &domain.TransferResult{}
	if err := json.Unmarshal(raw, result); err != nil {
		return nil, fmt.Errorf("failed to decode transfer result: %w", err)
	}
	return result, nil
}

// RecomputeSnapshots 以账本为准重建门店全部快照。
// 操作天然幂等（重放回放出同一结果），不走幂等表；
// 有快照但无账目的键归零而非删除，保留策略字段。
func (s *inventoryService) RecomputeSnapshots(ctx context.Context, actor *domain.Actor, storeID int64) (*domain.RecomputeResult, error) {
	if !actor.IsAdmin() {
		return nil, domain.NewError(domain.KindForbidden, "snapshot recompute requires admin role")
	}
	if storeID <= 0 {
		return nil, domain.NewError(domain.KindValidation, "store_id is required")
	}

	result := &domain.RecomputeResult{StoreID: storeID}
	var touched []domain.SnapshotKey
	err := s.uow.WithinTx(ctx, func(r *repo.Repos) error {
		store, err := r.Stores.GetByID(ctx, actor.OrganizationID, storeID)
		if err != nil {
			return err
		}
		if store == nil {
			return domain.Errorf(domain.KindNotFound, "store %d not found", storeID)
		}

		sums, err := r.Movements.SumGroupedByStore(ctx, actor.OrganizationID, storeID)
		if err != nil {
			return err
		}

		replayed := make(map[domain.SnapshotKey]struct{}, len(sums))
		for _, sum := range sums {
			if err := r.Snapshots.ReplaceOnHand(ctx, actor.OrganizationID, sum.Key, sum.Sum); err != nil {
				return err
			}
			replayed[sum.Key] = struct{}{}
			touched = append(touched, sum.Key)
			result.KeysRebuilt++
		}

		keys, err := r.Snapshots.ListKeysByStore(ctx, actor.OrganizationID, storeID)
		if err != nil {
			return err
		}
		for _, key := range keys {
			if _, ok := replayed[key]; ok {
				continue
			}
			if err := r.Snapshots.ReplaceOnHand(ctx, actor.OrganizationID, key, 0); err != nil {
				return err
			}
			touched = append(touched, key)
			result.KeysZeroed++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateSnapshots(ctx, actor.OrganizationID, touched...)
	s.logger.Info("snapshots recomputed from ledger",
		zap.Int64("store_id", storeID),
		zap.Int("keys_rebuilt", result.KeysRebuilt),
		zap.Int("keys_zeroed", result.KeysZeroed),
	)
	return result, nil
}

// GetSnapshot 读取单个键的快照。
// 走 reads 侧仓储：缓存启用时命中装饰器，变更提交后的显式失效
// 保证读到的不是过期值。
func (s *inventoryService) GetSnapshot(ctx context.Context, actor *domain.Actor, storeID, productID int64, variantID *int64) (*domain.InventorySnapshot, error) {
	if storeID <= 0 || productID <= 0 {
		return nil, domain.NewError(domain.KindValidation, "store_id and product_id are required")
	}

	key := domain.SnapshotKey{StoreID: storeID, ProductID: productID, VariantKey: domain.VariantKeyFor(variantID)}
	snap, err := s.reads.Snapshots.GetByKey(ctx, actor.OrganizationID, key)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, domain.Errorf(domain.KindNotFound, "no snapshot for store %d product %d", storeID, productID)
	}
	return snap, nil
}

// ListSnapshots 查询快照列表
func (s *inventoryService) ListSnapshots(ctx context.Context, actor *domain.Actor, req *domain.SnapshotListRequest) (*domain.SnapshotListResponse, error) {
	if req.StoreID <= 0 {
		return nil, domain.NewError(domain.KindValidation, "store_id is required")
	}
	req.Page, req.PageSize = normalizePage(req.Page, req.PageSize)

	snapshots, total, err := s.reads.Snapshots.List(ctx, actor.OrganizationID, req)
	if err != nil {
		return nil, err
	}
	return &domain.SnapshotListResponse{
		Snapshots: snapshots,
		Total:     total,
		Page:      req.Page,
		PageSize:  req.PageSize,
	}, nil
}

// ListMovements 查询账本记录
func (s *inventoryService) ListMovements(ctx context.Context, actor *domain.Actor, req *domain.StockMovementListRequest) (*domain.StockMovementListResponse, error) {
	if req.StoreID <= 0 {
		return nil, domain.NewError(domain.KindValidation, "store_id is required")
	}
	if req.Type != "" && !req.Type.Valid() {
		return nil, domain.Errorf(domain.KindValidation, "unknown movement type %q", string(req.Type))
	}
	req.Page, req.PageSize = normalizePage(req.Page, req.PageSize)

	movements, total, err := s.reads.Movements.List(ctx, actor.OrganizationID, req)
	if err != nil {
		return nil, err
	}
	return &domain.StockMovementListResponse{
		Movements: movements,
		Total:     total,
		Page:      req.Page,
		PageSize:  req.PageSize,
	}, nil
}

// ListLots 查询键下的到期批次
func (s *inventoryService) ListLots(ctx context.Context, actor *domain.Actor, storeID, productID int64, variantID *int64) ([]*domain.StockLot, error) {
	if storeID <= 0 || productID <= 0 {
		return nil, domain.NewError(domain.KindValidation, "store_id and product_id are required")
	}

	key := domain.SnapshotKey{StoreID: storeID, ProductID: productID, VariantKey: domain.VariantKeyFor(variantID)}
	return s.reads.Lots.List(ctx, actor.OrganizationID, key)
}

// resolveTarget 校验门店、商品与变体的存在性及组织归属
func (s *inventoryService) resolveTarget(ctx context.Context, r *repo.Repos, actor *domain.Actor, storeID, productID int64, variantID *int64) (*domain.Store, *domain.Product, error) {
	store, err := r.Stores.GetByID(ctx, actor.OrganizationID, storeID)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, domain.Errorf(domain.KindNotFound, "store %d not found", storeID)
	}

	product, err := r.Products.GetByID(ctx, actor.OrganizationID, productID)
	if err != nil {
		return nil, nil, err
	}
	if product == nil {
		return nil, nil, domain.Errorf(domain.KindNotFound, "product %d not found", productID)
	}

	if variantID != nil {
		ok, err := r.Products.VariantExists(ctx, productID, *variantID)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, domain.Errorf(domain.KindNotFound, "variant %d not found for product %d", *variantID, productID)
		}
	}
	return store, product, nil
}

// lockOrCreateSnapshot 锁定快照行；键从未有过快照时在事务内创建，
// 负库存策略从门店拷贝。库存与采购两侧共用。
func lockOrCreateSnapshot(ctx context.Context, r *repo.Repos, orgID int64, key domain.SnapshotKey, store *domain.Store) (*domain.InventorySnapshot, error) {
	snap, err := r.Snapshots.GetForUpdate(ctx, orgID, key)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		return snap, nil
	}

	snap = &domain.InventorySnapshot{
		OrganizationID:     orgID,
		StoreID:            key.StoreID,
		ProductID:          key.ProductID,
		VariantKey:         key.VariantKey,
		AllowNegativeStock: store.AllowNegativeStock,
	}
	if err := r.Snapshots.Create(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// applyLotDelta 把变动同步到到期批次。
// 正向变动：带到期日则登记到对应批次，否则留在未跟踪余量中。
// 负向变动：优先扣减指定到期日的批次，余量按 FEFO（先过期先出）扣减；
// 批次总量可以小于在手量，扣完仍有剩余时剩余视为来自未跟踪余量。
func (s *inventoryService) applyLotDelta(ctx context.Context, r *repo.Repos, orgID int64, key domain.SnapshotKey, delta int64, expiryDate *time.Time) error {
	if delta > 0 {
		if expiryDate == nil {
			return nil
		}
		return r.Lots.UpsertIncrement(ctx, orgID, key, *expiryDate, delta)
	}

	remaining := -delta
	lots, err := r.Lots.ListForUpdate(ctx, orgID, key)
	if err != nil {
		return err
	}

	// 指定了到期日时先扣该批次
	if expiryDate != nil {
		day := expiryDate.Truncate(24 * time.Hour)
		for _, lot := range lots {
			if !lot.ExpiryDate.Truncate(24 * time.Hour).Equal(day) {
				continue
			}
			take := min64(remaining, lot.OnHandQty)
			if take > 0 {
				lot.OnHandQty -= take
				remaining -= take
				if err := r.Lots.SetQty(ctx, lot.ID, lot.OnHandQty); err != nil {
					return err
				}
			}
			break
		}
	}

	for _, lot := range lots {
		if remaining == 0 {
			break
		}
		if lot.OnHandQty <= 0 {
			continue
		}
		take := min64(remaining, lot.OnHandQty)
		lot.OnHandQty -= take
		remaining -= take
		if err := r.Lots.SetQty(ctx, lot.ID, lot.OnHandQty); err != nil {
			return err
		}
	}
	return nil
}

// updateAverageCost 在行锁下更新移动加权平均成本
func (s *inventoryService) updateAverageCost(ctx context.Context, r *repo.Repos, orgID int64, key domain.SnapshotKey, oldOnHand int64, unitCost decimal.Decimal, qty int64) error {
	cost, err := r.Costs.GetForUpdate(ctx, orgID, key.ProductID, key.VariantKey)
	if err != nil {
		return err
	}

	oldAvg := decimal.Zero
	if cost != nil {
		oldAvg = cost.AvgCost
	} else {
		// 首次入库没有旧均值，直接以本次单价起算
		oldOnHand = 0
	}

	newAvg := domain.NextAverageCost(oldAvg, oldOnHand, unitCost, qty)
	return r.Costs.Upsert(ctx, orgID, key.ProductID, key.VariantKey, newAvg)
}

// publish 事务提交后广播变动事件；重放命中时列表为空，不重复广播
func (s *inventoryService) publish(ctx context.Context, movements []*domain.StockMovement) {
	if s.events == nil || len(movements) == 0 {
		return
	}
	s.events.PublishStockMovements(ctx, movements)
}

// invalidateSnapshots 事务提交后清除受影响键的快照缓存。
// reads 侧未挂缓存装饰器时为空操作。
func (s *inventoryService) invalidateSnapshots(ctx context.Context, orgID int64, keys ...domain.SnapshotKey) {
	if inv, ok := s.reads.Snapshots.(repo.SnapshotCacheInvalidator); ok {
		inv.InvalidateKeys(ctx, orgID, keys...)
	}
}

// movementKeys 提取一批变动涉及的快照键
func movementKeys(movements []*domain.StockMovement) []domain.SnapshotKey {
	keys := make([]domain.SnapshotKey, 0, len(movements))
	for _, mv := range movements {
		keys = append(keys, domain.SnapshotKey{StoreID: mv.StoreID, ProductID: mv.ProductID, VariantKey: mv.VariantKey})
	}
	return keys
}

func decodePosition(raw json.RawMessage) (*domain.StockPosition, error) {
	pos := &domain.StockPosition{}
	if err := json.Unmarshal(raw, pos); err != nil {
		return nil, fmt.Errorf("failed to decode stock position: %w", err)
	}
	return pos, nil
}

// normalizePage 归一化分页参数
func normalizePage(page, pageSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
