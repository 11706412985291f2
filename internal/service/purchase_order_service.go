package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/MorseWayne/stock_ledger/internal/domain"
	"github.com/MorseWayne/stock_ledger/internal/repo"
)

const (
	scopePOCreate   = "po.create"
	scopePOReceive  = "po.receive"
	scopePORollback = "po.rollback"
	scopePOReorder  = "po.reorder"
)

// PurchaseOrderService 定义采购单生命周期接口。
// 状态流转只走状态机；收货数量经单位换算后与库存入库
// 在同一事务内落账。
type PurchaseOrderService interface {
	Create(ctx context.Context, actor *domain.Actor, req *domain.CreatePurchaseOrderRequest) (*domain.PurchaseOrder, error)
	Submit(ctx context.Context, actor *domain.Actor, poID int64) (*domain.PurchaseOrder, error)
	// Approve 审批通过并把订货量计入各键的在途量（仅管理员）
	Approve(ctx context.Context, actor *domain.Actor, poID int64) (*domain.PurchaseOrder, error)
	// Receive 按行收货；全部行校验通过后才落任何一行
	Receive(ctx context.Context, actor *domain.Actor, req *domain.ReceivePurchaseOrderRequest) (*domain.PurchaseOrder, error)
	Cancel(ctx context.Context, actor *domain.Actor, poID int64) (*domain.PurchaseOrder, error)
	// Rollback 以补偿调整冲销全部已收数量并关闭订单（仅管理员）
	Rollback(ctx context.Context, actor *domain.Actor, poID int64, idempotencyKey, requestID string) (*domain.PurchaseOrder, error)
	// CreateDraftsFromReorder 按补货建议批量建草稿单，按 (供应商, 门店) 分组
	CreateDraftsFromReorder(ctx context.Context, actor *domain.Actor, req *domain.ReorderDraftsRequest) ([]*domain.PurchaseOrder, error)

	GetByID(ctx context.Context, actor *domain.Actor, poID int64) (*domain.PurchaseOrder, error)
	List(ctx context.Context, actor *domain.Actor, storeID int64, status domain.POStatus, page, pageSize int) ([]*domain.PurchaseOrder, int64, error)
}

// purchaseOrderService 实现 PurchaseOrderService 接口
type purchaseOrderService struct {
	uow       repo.UnitOfWork
	reads     *repo.Repos
	guard     *IdempotencyGuard
	inventory InventoryService
	events    EventPublisher
	logger    *zap.Logger
}

// NewPurchaseOrderService 创建采购单服务实例
func NewPurchaseOrderService(uow repo.UnitOfWork, reads *repo.Repos, guard *IdempotencyGuard, inventory InventoryService, events EventPublisher, logger *zap.Logger) PurchaseOrderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &purchaseOrderService{
		uow:       uow,
		reads:     reads,
		guard:     guard,
		inventory: inventory,
		events:    events,
		logger:    logger,
	}
}

// Create 创建采购单；Submit 为真时直接落为 SUBMITTED
func (s *purchaseOrderService) Create(ctx context.Context, actor *domain.Actor, req *domain.CreatePurchaseOrderRequest) (*domain.PurchaseOrder, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.IdempotencyKey == "" {
		return nil, domain.NewError(domain.KindValidation, "idempotency key is required")
	}

	raw, err := RunIdempotentTx(ctx, s.uow, s.guard, scopePOCreate, req.IdempotencyKey, req.RequestID, req, func(r *repo.Repos) (any, error) {
		return s.createOrder(ctx, r, actor, req)
	})
	if err != nil {
		return nil, err
	}
	return decodePurchaseOrder(raw)
}

// createOrder 在事务内校验归属并写入订单头与行
func (s *purchaseOrderService) createOrder(ctx context.Context, r *repo.Repos, actor *domain.Actor, req *domain.CreatePurchaseOrderRequest) (*domain.PurchaseOrder, error) {
	store, err := r.Stores.GetByID(ctx, actor.OrganizationID, req.StoreID)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, domain.Errorf(domain.KindNotFound, "store %d not found", req.StoreID)
	}

	ok, err := r.Products.SupplierExists(ctx, actor.OrganizationID, req.SupplierID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.Errorf(domain.KindNotFound, "supplier %d not found", req.SupplierID)
	}

	for _, line := range req.Lines {
		product, err := r.Products.GetByID(ctx, actor.OrganizationID, line.ProductID)
		if err != nil {
			return nil, err
		}
		if product == nil {
			return nil, domain.Errorf(domain.KindNotFound, "product %d not found", line.ProductID)
		}
		if line.VariantID != nil {
			exists, err := r.Products.VariantExists(ctx, line.ProductID, *line.VariantID)
			if err != nil {
				return nil, err
			}
			if !exists {
				return nil, domain.Errorf(domain.KindNotFound, "variant %d not found for product %d", *line.VariantID, line.ProductID)
			}
		}
	}

	po := &domain.PurchaseOrder{
		OrganizationID: actor.OrganizationID,
		StoreID:        req.StoreID,
		SupplierID:     req.SupplierID,
		Status:         domain.POStatusDraft,
		Note:           req.Note,
		CreatedByID:    actor.ID,
		UpdatedByID:    actor.ID,
	}
	if req.Submit {
		now := time.Now()
		po.Status = domain.POStatusSubmitted
		po.SubmittedAt = &now
	}
	for _, line := range req.Lines {
		po.Lines = append(po.Lines, &domain.PurchaseOrderLine{
			ProductID:  line.ProductID,
			VariantID:  line.VariantID,
			QtyOrdered: line.QtyOrdered,
			UnitCost:   line.UnitCost,
		})
	}

	if err := r.Orders.Create(ctx, po); err != nil {
		return nil, err
	}
	return po, nil
}

// Submit 把草稿单提交待审批
func (s *purchaseOrderService) Submit(ctx context.Context, actor *domain.Actor, poID int64) (*domain.PurchaseOrder, error) {
	return s.transition(ctx, actor, poID, domain.POStatusSubmitted, nil)
}

// Approve 审批通过。每行订货量计入对应键的在途量，
// 补货报表由此感知"已订未到"。
func (s *purchaseOrderService) Approve(ctx context.Context, actor *domain.Actor, poID int64) (*domain.PurchaseOrder, error) {
	if !actor.IsAdmin() {
		return nil, domain.NewError(domain.KindForbidden, "purchase order approval requires admin role")
	}
	po, err := s.transition(ctx, actor, poID, domain.POStatusApproved, s.addOnOrder)
	if err != nil {
		return nil, err
	}
	s.invalidateSnapshots(ctx, actor.OrganizationID, po)
	return po, nil
}

// Cancel 取消订单；仅 DRAFT/SUBMITTED 可取消，已审批的订单走 Rollback
func (s *purchaseOrderService) Cancel(ctx context.Context, actor *domain.Actor, poID int64) (*domain.PurchaseOrder, error) {
	return s.transition(ctx, actor, poID, domain.POStatusCancelled, nil)
}

// transition 在行锁下执行一次显式状态流转；
// sideEffect 与状态写回在同一事务内提交。
func (s *purchaseOrderService) transition(ctx context.Context, actor *domain.Actor, poID int64, to domain.POStatus, sideEffect func(ctx context.Context, r *repo.Repos, actor *domain.Actor, po *domain.PurchaseOrder) error) (*domain.PurchaseOrder, error) {
	if poID <= 0 {
		return nil, domain.NewError(domain.KindValidation, "purchase order id is required")
	}

	var result *domain.PurchaseOrder
	err := s.uow.WithinTx(ctx, func(r *repo.Repos) error {
		po, err := r.Orders.GetForUpdate(ctx, actor.OrganizationID, poID)
		if err != nil {
			return err
		}
		if po == nil {
			return domain.Errorf(domain.KindNotFound, "purchase order %d not found", poID)
		}
		if !domain.CanTransition(po.Status, to) {
			return domain.Errorf(domain.KindConflict,
				"purchase order %d cannot move from %s to %s", poID, po.Status, to)
		}

		now := time.Now()
		po.Status = to
		po.UpdatedByID = actor.ID
		switch to {
		case domain.POStatusSubmitted:
			po.SubmittedAt = &now
		case domain.POStatusApproved:
			po.ApprovedAt = &now
		}

		if sideEffect != nil {
			if err := sideEffect(ctx, r, actor, po); err != nil {
				return err
			}
		}
		if err := r.Orders.UpdateStatus(ctx, po); err != nil {
			return err
		}
		result = po
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("purchase order transitioned",
		zap.Int64("po_id", poID),
		zap.String("status", string(to)),
		zap.Int64("actor_id", actor.ID),
	)
	return result, nil
}

// addOnOrder 审批时把各行订货量累加到在途量
func (s *purchaseOrderService) addOnOrder(ctx context.Context, r *repo.Repos, actor *domain.Actor, po *domain.PurchaseOrder) error {
	store, err := r.Stores.GetByID(ctx, actor.OrganizationID, po.StoreID)
	if err != nil {
		return err
	}
	if store == nil {
		return domain.Errorf(domain.KindNotFound, "store %d not found", po.StoreID)
	}

	for _, line := range po.Lines {
		key := domain.SnapshotKey{
			StoreID:    po.StoreID,
			ProductID:  line.ProductID,
			VariantKey: domain.VariantKeyFor(line.VariantID),
		}
		snap, err := lockOrCreateSnapshot(ctx, r, actor.OrganizationID, key, store)
		if err != nil {
			return err
		}
		snap.OnOrder += line.QtyOrdered
		if err := r.Snapshots.UpdateQuantities(ctx, snap); err != nil {
			return err
		}
	}
	return nil
}

// Receive 按行收货。
// 先整体校验（行归属、单位换算、超收闸门），任何一行不通过则
// 整单拒绝；通过后逐行入库并累加已收数量，订单状态由行汇总推导。
func (s *purchaseOrderService) Receive(ctx context.Context, actor *domain.Actor, req *domain.ReceivePurchaseOrderRequest) (*domain.PurchaseOrder, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var committed []*domain.StockMovement
	raw, err := RunIdempotentTx(ctx, s.uow, s.guard, scopePOReceive, req.IdempotencyKey, req.RequestID, req, func(r *repo.Repos) (any, error) {
		po, err := r.Orders.GetForUpdate(ctx, actor.OrganizationID, req.PurchaseOrderID)
		if err != nil {
			return nil, err
		}
		if po == nil {
			return nil, domain.Errorf(domain.KindNotFound, "purchase order %d not found", req.PurchaseOrderID)
		}
		if !po.Status.Receivable() {
			return nil, domain.Errorf(domain.KindConflict,
				"purchase order %d in status %s cannot receive stock", po.ID, po.Status)
		}

		lineByID := make(map[int64]*domain.PurchaseOrderLine, len(po.Lines))
		for _, line := range po.Lines {
			lineByID[line.ID] = line
		}

		// 第一遍：只校验，不落任何变更
		baseQty := make(map[int64]int64, len(req.Lines))
		for _, input := range req.Lines {
			if _, dup := baseQty[input.LineID]; dup {
				return nil, domain.Errorf(domain.KindValidation,
					"line %d appears more than once in the receive request", input.LineID)
			}
			line, ok := lineByID[input.LineID]
			if !ok {
				return nil, domain.Errorf(domain.KindValidation,
					"line %d does not belong to purchase order %d", input.LineID, po.ID)
			}

			qty := input.QtyReceived
			if input.PackID != nil {
				unit, err := r.Products.GetUnit(ctx, line.ProductID, *input.PackID)
				if err != nil {
					return nil, err
				}
				if unit == nil {
					return nil, domain.Errorf(domain.KindValidation,
						"unit %d not found for product %d", *input.PackID, line.ProductID)
				}
				if unit.Factor <= 0 {
					return nil, domain.Errorf(domain.KindValidation,
						"unit %d has non-positive factor", *input.PackID)
				}
				qty = input.QtyReceived * unit.Factor
			}

			if line.QtyReceived+qty > line.QtyOrdered && !req.AllowOverReceive {
				return nil, domain.Errorf(domain.KindConflict,
					"line %d over-received: ordered %d, already received %d, receiving %d",
					line.ID, line.QtyOrdered, line.QtyReceived, qty)
			}
			baseQty[input.LineID] = qty
		}

		// 第二遍：逐行落账
		refType := domain.ReferenceTypePurchaseOrder
		refID := strconv.FormatInt(po.ID, 10)
		for _, input := range req.Lines {
			line := lineByID[input.LineID]
			qty := baseQty[input.LineID]

			recvReq := &domain.ReceiveStockRequest{
				StoreID:       po.StoreID,
				ProductID:     line.ProductID,
				VariantID:     line.VariantID,
				QtyReceived:   qty,
				UnitCost:      line.UnitCost,
				ExpiryDate:    req.ExpiryDate,
				ReferenceType: &refType,
				ReferenceID:   &refID,
				RequestID:     req.RequestID,
				ReduceOnOrder: true,
			}
			_, movement, err := s.inventory.ApplyReceive(ctx, r, actor, recvReq)
			if err != nil {
				return nil, err
			}
			committed = append(committed, movement)

			line.QtyReceived += qty
			if err := r.Orders.UpdateLineReceived(ctx, line); err != nil {
				return nil, err
			}
		}

		po.Status = domain.StatusFromLines(po.Lines)
		po.UpdatedByID = actor.ID
		if err := r.Orders.UpdateStatus(ctx, po); err != nil {
			return nil, err
		}
		return po, nil
	})
	if err != nil {
		return nil, err
	}

	po, err := decodePurchaseOrder(raw)
	if err != nil {
		return nil, err
	}
	s.publishMovements(ctx, committed)
	s.invalidateSnapshots(ctx, actor.OrganizationID, po)
	return po, nil
}

// Rollback 冲销订单的全部已收数量：
// 每条非零行写入一条负向补偿调整，账本保持 append-only，
// 行的已收数量保留作审计痕迹，订单关闭为 CANCELLED。
// 审批时计入的在途量中尚未收到的部分一并释放，
// 否则快照会永久虚高并压制补货建议。
func (s *purchaseOrderService) Rollback(ctx context.Context, actor *domain.Actor, poID int64, idempotencyKey, requestID string) (*domain.PurchaseOrder, error) {
	if !actor.IsAdmin() {
		return nil, domain.NewError(domain.KindForbidden, "purchase order rollback requires admin role")
	}
	if poID <= 0 {
		return nil, domain.NewError(domain.KindValidation, "purchase order id is required")
	}
	if idempotencyKey == "" {
		return nil, domain.NewError(domain.KindValidation, "idempotency key is required")
	}

	// Rollback 没有请求体，指纹只覆盖目标订单
	fingerprint := struct {
		PurchaseOrderID int64 `json:"purchase_order_id"`
	}{poID}

	var committed []*domain.StockMovement
	raw, err := RunIdempotentTx(ctx, s.uow, s.guard, scopePORollback, idempotencyKey, requestID, fingerprint, func(r *repo.Repos) (any, error) {
		po, err := r.Orders.GetForUpdate(ctx, actor.OrganizationID, poID)
		if err != nil {
			return nil, err
		}
		if po == nil {
			return nil, domain.Errorf(domain.KindNotFound, "purchase order %d not found", poID)
		}
		if po.Status == domain.POStatusCancelled {
			return nil, domain.Errorf(domain.KindConflict, "purchase order %d is already cancelled", poID)
		}

		store, err := r.Stores.GetByID(ctx, actor.OrganizationID, po.StoreID)
		if err != nil {
			return nil, err
		}
		if store == nil {
			return nil, domain.Errorf(domain.KindNotFound, "store %d not found", po.StoreID)
		}

		refType := domain.ReferenceTypeRollback
		refID := strconv.FormatInt(po.ID, 10)
		note := fmt.Sprintf("rollback of purchase order %d", po.ID)

		for _, line := range po.Lines {
			// 在途量只在审批时计入，未经审批的单无可释放的余量
			var release int64
			if po.ApprovedAt != nil {
				if rem := line.QtyOrdered - line.QtyReceived; rem > 0 {
					release = rem
				}
			}
			if line.QtyReceived <= 0 && release == 0 {
				continue
			}
			key := domain.SnapshotKey{
				StoreID:    po.StoreID,
				ProductID:  line.ProductID,
				VariantKey: domain.VariantKeyFor(line.VariantID),
			}
			snap, err := lockOrCreateSnapshot(ctx, r, actor.OrganizationID, key, store)
			if err != nil {
				return nil, err
			}

			if line.QtyReceived > 0 {
				newOnHand := snap.OnHand - line.QtyReceived
				if newOnHand < 0 && !snap.AllowNegativeStock {
					return nil, domain.Errorf(domain.KindConflict,
						"rollback would drive stock negative for product %d: on_hand %d, reversing %d",
						line.ProductID, snap.OnHand, line.QtyReceived)
				}

				movement := &domain.StockMovement{
					OrganizationID: actor.OrganizationID,
					StoreID:        po.StoreID,
					ProductID:      line.ProductID,
					VariantKey:     key.VariantKey,
					Type:           domain.MovementAdjustment,
					QtyDelta:       -line.QtyReceived,
					Note:           &note,
					ReferenceType:  &refType,
					ReferenceID:    &refID,
					RequestID:      requestID,
					CreatedByID:    actor.ID,
				}
				if err := r.Movements.Insert(ctx, movement); err != nil {
					return nil, err
				}
				snap.OnHand = newOnHand
				committed = append(committed, movement)
			}

			snap.OnOrder -= release
			if snap.OnOrder < 0 {
				snap.OnOrder = 0
			}
			if err := r.Snapshots.UpdateQuantities(ctx, snap); err != nil {
				return nil, err
			}
		}

		po.Status = domain.POStatusCancelled
		po.UpdatedByID = actor.ID
		if err := r.Orders.UpdateStatus(ctx, po); err != nil {
			return nil, err
		}
		return po, nil
	})
	if err != nil {
		return nil, err
	}

	po, err := decodePurchaseOrder(raw)
	if err != nil {
		return nil, err
	}
	s.publishMovements(ctx, committed)
	s.invalidateSnapshots(ctx, actor.OrganizationID, po)
	return po, nil
}

// CreateDraftsFromReorder 按 (供应商, 门店) 分组建草稿单。
// 每组使用从请求键派生的子键做幂等保护：部分成功后重试
// 只补齐未建的组，不会重复建单。
func (s *purchaseOrderService) CreateDraftsFromReorder(ctx context.Context, actor *domain.Actor, req *domain.ReorderDraftsRequest) ([]*domain.PurchaseOrder, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	type groupKey struct {
		SupplierID int64
		StoreID    int64
	}
	groups := make(map[groupKey][]*domain.ReorderItem)
	var order []groupKey
	for _, item := range req.Items {
		k := groupKey{SupplierID: item.SupplierID, StoreID: item.StoreID}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], item)
	}

	var orders []*domain.PurchaseOrder
	for _, k := range order {
		items := groups[k]
		createReq := &domain.CreatePurchaseOrderRequest{
			StoreID:    k.StoreID,
			SupplierID: k.SupplierID,
			RequestID:  req.RequestID,
		}
		for _, item := range items {
			createReq.Lines = append(createReq.Lines, &domain.CreatePurchaseOrderLineInput{
				ProductID:  item.ProductID,
				VariantID:  item.VariantID,
				QtyOrdered: item.QtySuggested,
				UnitCost:   item.UnitCost,
			})
		}
		if err := createReq.Validate(); err != nil {
			return nil, err
		}

		derivedKey := fmt.Sprintf("%s:supplier:%d:store:%d", req.IdempotencyKey, k.SupplierID, k.StoreID)
		raw, err := RunIdempotentTx(ctx, s.uow, s.guard, scopePOReorder, derivedKey, req.RequestID, createReq, func(r *repo.Repos) (any, error) {
			return s.createOrder(ctx, r, actor, createReq)
		})
		if err != nil {
			return nil, err
		}
		po, err := decodePurchaseOrder(raw)
		if err != nil {
			return nil, err
		}
		orders = append(orders, po)
	}

	s.logger.Info("reorder drafts created",
		zap.Int("groups", len(order)),
		zap.Int("items", len(req.Items)),
	)
	return orders, nil
}

// GetByID 读取采购单详情
func (s *purchaseOrderService) GetByID(ctx context.Context, actor *domain.Actor, poID int64) (*domain.PurchaseOrder, error) {
	if poID <= 0 {
		return nil, domain.NewError(domain.KindValidation, "purchase order id is required")
	}
	po, err := s.reads.Orders.GetByID(ctx, actor.OrganizationID, poID)
	if err != nil {
		return nil, err
	}
	if po == nil {
		return nil, domain.Errorf(domain.KindNotFound, "purchase order %d not found", poID)
	}
	return po, nil
}

// List 查询采购单列表
func (s *purchaseOrderService) List(ctx context.Context, actor *domain.Actor, storeID int64, status domain.POStatus, page, pageSize int) ([]*domain.PurchaseOrder, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	return s.reads.Orders.List(ctx, actor.OrganizationID, storeID, status, page, pageSize)
}

func (s *purchaseOrderService) publishMovements(ctx context.Context, movements []*domain.StockMovement) {
	if s.events == nil || len(movements) == 0 {
		return
	}
	s.events.PublishStockMovements(ctx, movements)
}

// invalidateSnapshots 事务提交后清除订单各行对应键的快照缓存
func (s *purchaseOrderService) invalidateSnapshots(ctx context.Context, orgID int64, po *domain.PurchaseOrder) {
	inv, ok := s.reads.Snapshots.(repo.SnapshotCacheInvalidator)
	if !ok || po == nil {
		return
	}
	keys := make([]domain.SnapshotKey, 0, len(po.Lines))
	for _, line := range po.Lines {
		keys = append(keys, domain.SnapshotKey{
			StoreID:    po.StoreID,
			ProductID:  line.ProductID,
			VariantKey: domain.VariantKeyFor(line.VariantID),
		})
	}
	inv.InvalidateKeys(ctx, orgID, keys...)
}

func decodePurchaseOrder(raw json.RawMessage) (*domain.PurchaseOrder, error) {
	po := &domain.PurchaseOrder{}
	if err := json.Unmarshal(raw, po); err != nil {
		return nil, fmt.Errorf("failed to decode purchase order: %w", err)
	}
	return po, nil
}
