package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MorseWayne/stock_ledger/internal/domain"
	"github.com/MorseWayne/stock_ledger/internal/repo"
)

// 本文件提供基于内存的仓储实现，服务层测试不依赖数据库。
// 行为对齐 SQL 实现的语义：读方法返回副本，写方法按主键回写。

type memMovementRepo struct {
	nextID    int64
	movements []*domain.StockMovement
}

func (m *memMovementRepo) Insert(_ context.Context, mv *domain.StockMovement) error {
	m.nextID++
	mv.ID = m.nextID
	mv.CreatedAt = time.Now()
	stored := *mv
	m.movements = append(m.movements, &stored)
	return nil
}

func (m *memMovementRepo) List(_ context.Context, orgID int64, req *domain.StockMovementListRequest) ([]*domain.StockMovement, int64, error) {
	var out []*domain.StockMovement
	for _, mv := range m.movements {
		if mv.OrganizationID != orgID || mv.StoreID != req.StoreID {
			continue
		}
		if req.Type != "" && mv.Type != req.Type {
			continue
		}
		cp := *mv
		out = append(out, &cp)
	}
	return out, int64(len(out)), nil
}

func (m *memMovementRepo) ListByReference(_ context.Context, orgID int64, refType, refID string) ([]*domain.StockMovement, error) {
	var out []*domain.StockMovement
	for _, mv := range m.movements {
		if mv.OrganizationID != orgID || mv.ReferenceType == nil || mv.ReferenceID == nil {
			continue
		}
		if *mv.ReferenceType != refType || *mv.ReferenceID != refID {
			continue
		}
		cp := *mv
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memMovementRepo) SumGroupedByStore(_ context.Context, orgID, storeID int64) ([]*repo.LedgerSum, error) {
	sums := make(map[domain.SnapshotKey]int64)
	var order []domain.SnapshotKey
	for _, mv := range m.movements {
		if mv.OrganizationID != orgID || mv.StoreID != storeID {
			continue
		}
		key := domain.SnapshotKey{StoreID: mv.StoreID, ProductID: mv.ProductID, VariantKey: mv.VariantKey}
		if _, ok := sums[key]; !ok {
			order = append(order, key)
		}
		sums[key] += mv.QtyDelta
	}
	var out []*repo.LedgerSum
	for _, key := range order {
		out = append(out, &repo.LedgerSum{Key: key, Sum: sums[key]})
	}
	return out, nil
}

type memSnapshotRepo struct {
	nextID    int64
	snapshots map[domain.SnapshotKey]*domain.InventorySnapshot
}

func newMemSnapshotRepo() *memSnapshotRepo {
	return &memSnapshotRepo{snapshots: make(map[domain.SnapshotKey]*domain.InventorySnapshot)}
}

func (m *memSnapshotRepo) Create(_ context.Context, s *domain.InventorySnapshot) error {
	m.nextID++
	s.ID = m.nextID
	stored := *s
	m.snapshots[s.Key()] = &stored
	return nil
}

func (m *memSnapshotRepo) GetByKey(_ context.Context, orgID int64, key domain.SnapshotKey) (*domain.InventorySnapshot, error) {
	s, ok := m.snapshots[key]
	if !ok || s.OrganizationID != orgID {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memSnapshotRepo) GetForUpdate(ctx context.Context, orgID int64, key domain.SnapshotKey) (*domain.InventorySnapshot, error) {
	return m.GetByKey(ctx, orgID, key)
}

func (m *memSnapshotRepo) UpdateQuantities(_ context.Context, s *domain.InventorySnapshot) error {
	stored, ok := m.snapshots[s.Key()]
	if !ok {
		return fmt.Errorf("snapshot %v not found", s.Key())
	}
	stored.OnHand = s.OnHand
	stored.OnOrder = s.OnOrder
	return nil
}

func (m *memSnapshotRepo) ReplaceOnHand(_ context.Context, orgID int64, key domain.SnapshotKey, onHand int64) error {
	stored, ok := m.snapshots[key]
	if ok && stored.OrganizationID == orgID {
		stored.OnHand = onHand
		return nil
	}
	m.nextID++
	m.snapshots[key] = &domain.InventorySnapshot{
		ID:             m.nextID,
		OrganizationID: orgID,
		StoreID:        key.StoreID,
		ProductID:      key.ProductID,
		VariantKey:     key.VariantKey,
		OnHand:         onHand,
	}
	return nil
}

func (m *memSnapshotRepo) List(_ context.Context, orgID int64, req *domain.SnapshotListRequest) ([]*domain.InventorySnapshot, int64, error) {
	var out []*domain.InventorySnapshot
	for _, s := range m.snapshots {
		if s.OrganizationID != orgID || s.StoreID != req.StoreID {
			continue
		}
		if req.OnlyNonZero && s.OnHand == 0 {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (m *memSnapshotRepo) ListKeysByStore(_ context.Context, orgID, storeID int64) ([]domain.SnapshotKey, error) {
	var keys []domain.SnapshotKey
	for key, s := range m.snapshots {
		if s.OrganizationID == orgID && s.StoreID == storeID {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].ProductID < keys[j].ProductID })
	return keys, nil
}

type memLotRepo struct {
	nextID int64
	lots   []*domain.StockLot
}

func lotDay(t time.Time) time.Time {
	return t.Truncate(24 * time.Hour)
}

func (m *memLotRepo) UpsertIncrement(_ context.Context, _ int64, key domain.SnapshotKey, expiryDate time.Time, qty int64) error {
	day := lotDay(expiryDate)
	for _, lot := range m.lots {
		if lot.StoreID == key.StoreID && lot.ProductID == key.ProductID && lot.VariantKey == key.VariantKey && lotDay(lot.ExpiryDate).Equal(day) {
			lot.OnHandQty += qty
			return nil
		}
	}
	m.nextID++
	m.lots = append(m.lots, &domain.StockLot{
		ID:         m.nextID,
		StoreID:    key.StoreID,
		ProductID:  key.ProductID,
		VariantKey: key.VariantKey,
		ExpiryDate: day,
		OnHandQty:  qty,
	})
	return nil
}

func (m *memLotRepo) ListForUpdate(_ context.Context, _ int64, key domain.SnapshotKey) ([]*domain.StockLot, error) {
	var out []*domain.StockLot
	for _, lot := range m.lots {
		if lot.StoreID == key.StoreID && lot.ProductID == key.ProductID && lot.VariantKey == key.VariantKey && lot.OnHandQty > 0 {
			cp := *lot
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiryDate.Before(out[j].ExpiryDate) })
	return out, nil
}

func (m *memLotRepo) List(_ context.Context, _ int64, key domain.SnapshotKey) ([]*domain.StockLot, error) {
	var out []*domain.StockLot
	for _, lot := range m.lots {
		if lot.StoreID == key.StoreID && lot.ProductID == key.ProductID && lot.VariantKey == key.VariantKey {
			cp := *lot
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiryDate.Before(out[j].ExpiryDate) })
	return out, nil
}

func (m *memLotRepo) SetQty(_ context.Context, lotID, qty int64) error {
	for _, lot := range m.lots {
		if lot.ID == lotID {
			lot.OnHandQty = qty
			return nil
		}
	}
	return fmt.Errorf("lot %d not found", lotID)
}

type memCostRepo struct {
	costs map[string]*domain.ProductCost
}

func newMemCostRepo() *memCostRepo {
	return &memCostRepo{costs: make(map[string]*domain.ProductCost)}
}

func costKey(orgID, productID int64, variantKey string) string {
	return fmt.Sprintf("%d:%d:%s", orgID, productID, variantKey)
}

func (m *memCostRepo) GetForUpdate(ctx context.Context, orgID, productID int64, variantKey string) (*domain.ProductCost, error) {
	return m.Get(ctx, orgID, productID, variantKey)
}

func (m *memCostRepo) Get(_ context.Context, orgID, productID int64, variantKey string) (*domain.ProductCost, error) {
	c, ok := m.costs[costKey(orgID, productID, variantKey)]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memCostRepo) Upsert(_ context.Context, orgID, productID int64, variantKey string, avgCost decimal.Decimal) error {
	m.costs[costKey(orgID, productID, variantKey)] = &domain.ProductCost{
		OrganizationID: orgID,
		ProductID:      productID,
		VariantKey:     variantKey,
		AvgCost:        avgCost,
		UpdatedAt:      time.Now(),
	}
	return nil
}

type memOrderRepo struct {
	nextID     int64
	nextLineID int64
	orders     map[int64]*domain.PurchaseOrder
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: make(map[int64]*domain.PurchaseOrder)}
}

func clonePO(po *domain.PurchaseOrder) *domain.PurchaseOrder {
	cp := *po
	cp.Lines = nil
	for _, line := range po.Lines {
		lcp := *line
		cp.Lines = append(cp.Lines, &lcp)
	}
	return &cp
}

func (m *memOrderRepo) Create(_ context.Context, po *domain.PurchaseOrder) error {
	m.nextID++
	po.ID = m.nextID
	po.CreatedAt = time.Now()
	po.UpdatedAt = po.CreatedAt
	for _, line := range po.Lines {
		m.nextLineID++
		line.ID = m.nextLineID
		line.PurchaseOrderID = po.ID
	}
	m.orders[po.ID] = clonePO(po)
	return nil
}

func (m *memOrderRepo) GetByID(_ context.Context, orgID, id int64) (*domain.PurchaseOrder, error) {
	po, ok := m.orders[id]
	if !ok || po.OrganizationID != orgID {
		return nil, nil
	}
	return clonePO(po), nil
}

func (m *memOrderRepo) GetForUpdate(ctx context.Context, orgID, id int64) (*domain.PurchaseOrder, error) {
	return m.GetByID(ctx, orgID, id)
}

func (m *memOrderRepo) UpdateStatus(_ context.Context, po *domain.PurchaseOrder) error {
	stored, ok := m.orders[po.ID]
	if !ok {
		return fmt.Errorf("purchase order %d not found", po.ID)
	}
	stored.Status = po.Status
	stored.UpdatedByID = po.UpdatedByID
	stored.SubmittedAt = po.SubmittedAt
	stored.ApprovedAt = po.ApprovedAt
	stored.UpdatedAt = time.Now()
	return nil
}

func (m *memOrderRepo) UpdateLineReceived(_ context.Context, line *domain.PurchaseOrderLine) error {
	for _, po := range m.orders {
		for _, stored := range po.Lines {
			if stored.ID == line.ID {
				stored.QtyReceived = line.QtyReceived
				return nil
			}
		}
	}
	return fmt.Errorf("purchase order line %d not found", line.ID)
}

func (m *memOrderRepo) List(_ context.Context, orgID, storeID int64, status domain.POStatus, _, _ int) ([]*domain.PurchaseOrder, int64, error) {
	var out []*domain.PurchaseOrder
	for _, po := range m.orders {
		if po.OrganizationID != orgID {
			continue
		}
		if storeID > 0 && po.StoreID != storeID {
			continue
		}
		if status != "" && po.Status != status {
			continue
		}
		out = append(out, clonePO(po))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

type memIdempotencyRepo struct {
	records map[string]*repo.IdempotencyRecord
}

func newMemIdempotencyRepo() *memIdempotencyRepo {
	return &memIdempotencyRepo{records: make(map[string]*repo.IdempotencyRecord)}
}

func (m *memIdempotencyRepo) Get(_ context.Context, scope, key string) (*repo.IdempotencyRecord, error) {
	rec, ok := m.records[scope+"|"+key]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *memIdempotencyRepo) Insert(_ context.Context, rec *repo.IdempotencyRecord) error {
	k := rec.Scope + "|" + rec.Key
	if _, ok := m.records[k]; ok {
		return repo.ErrIdempotencyConflict
	}
	cp := *rec
	cp.CreatedAt = time.Now()
	m.records[k] = &cp
	return nil
}

func (m *memIdempotencyRepo) count() int {
	return len(m.records)
}

type memStoreRepo struct {
	stores map[int64]*domain.Store
}

func (m *memStoreRepo) GetByID(_ context.Context, orgID, id int64) (*domain.Store, error) {
	store, ok := m.stores[id]
	if !ok || store.OrganizationID != orgID {
		return nil, nil
	}
	cp := *store
	return &cp, nil
}

type memProductRepo struct {
	products  map[int64]*domain.Product
	units     map[int64]*domain.ProductUnit
	variants  map[string]bool // "productID:variantID"
	suppliers map[int64]int64 // supplierID -> orgID
}

func newMemProductRepo() *memProductRepo {
	return &memProductRepo{
		products:  make(map[int64]*domain.Product),
		units:     make(map[int64]*domain.ProductUnit),
		variants:  make(map[string]bool),
		suppliers: make(map[int64]int64),
	}
}

func (m *memProductRepo) GetByID(_ context.Context, orgID, id int64) (*domain.Product, error) {
	p, ok := m.products[id]
	if !ok || p.OrganizationID != orgID {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memProductRepo) GetUnit(_ context.Context, productID, unitID int64) (*domain.ProductUnit, error) {
	u, ok := m.units[unitID]
	if !ok || u.ProductID != productID {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *memProductRepo) VariantExists(_ context.Context, productID, variantID int64) (bool, error) {
	return m.variants[fmt.Sprintf("%d:%d", productID, variantID)], nil
}

func (m *memProductRepo) SupplierExists(_ context.Context, orgID, supplierID int64) (bool, error) {
	got, ok := m.suppliers[supplierID]
	return ok && got == orgID, nil
}

// memUnitOfWork 直接以共享仓储执行 fn，不做真正的回滚。
// 测试只依赖"出错前不落变更"的服务层写入顺序。
type memUnitOfWork struct {
	repos *repo.Repos
}

func (u *memUnitOfWork) WithinTx(_ context.Context, fn func(r *repo.Repos) error) error {
	return fn(u.repos)
}

type recordingPublisher struct {
	published []*domain.StockMovement
}

func (p *recordingPublisher) PublishStockMovements(_ context.Context, movements []*domain.StockMovement) {
	p.published = append(p.published, movements...)
}

// testEnv 组装一套共享内存仓储的服务栈
type testEnv struct {
	movements   *memMovementRepo
	snapshots   *memSnapshotRepo
	lots        *memLotRepo
	costs       *memCostRepo
	orders      *memOrderRepo
	idempotency *memIdempotencyRepo
	stores      *memStoreRepo
	products    *memProductRepo
	publisher   *recordingPublisher

	inventory InventoryService
	po        PurchaseOrderService
}

const testOrgID = int64(7)

func adminActor() *domain.Actor {
	return &domain.Actor{ID: 1, OrganizationID: testOrgID, Role: domain.RoleAdmin}
}

func staffActor() *domain.Actor {
	return &domain.Actor{ID: 2, OrganizationID: testOrgID, Role: domain.RoleStaff}
}

func newTestEnv() *testEnv {
	env := &testEnv{
		movements:   &memMovementRepo{},
		snapshots:   newMemSnapshotRepo(),
		lots:        &memLotRepo{},
		costs:       newMemCostRepo(),
		orders:      newMemOrderRepo(),
		idempotency: newMemIdempotencyRepo(),
		stores:      &memStoreRepo{stores: make(map[int64]*domain.Store)},
		products:    newMemProductRepo(),
		publisher:   &recordingPublisher{},
	}

	repos := &repo.Repos{
		Movements:   env.movements,
		Snapshots:   env.snapshots,
		Lots:        env.lots,
		Costs:       env.costs,
		Orders:      env.orders,
		Idempotency: env.idempotency,
		Stores:      env.stores,
		Products:    env.products,
	}
	uow := &memUnitOfWork{repos: repos}
	guard := NewIdempotencyGuard(nil)

	env.inventory = NewInventoryService(uow, repos, guard, env.publisher, nil)
	env.po = NewPurchaseOrderService(uow, repos, guard, env.inventory, env.publisher, nil)
	return env
}

// addStore 注册测试门店
func (e *testEnv) addStore(id int64, allowNegative, trackLots bool) {
	e.stores.stores[id] = &domain.Store{
		ID:                 id,
		OrganizationID:     testOrgID,
		Name:               fmt.Sprintf("store-%d", id),
		AllowNegativeStock: allowNegative,
		TrackExpiryLots:    trackLots,
	}
}

// addProduct 注册测试商品
func (e *testEnv) addProduct(id int64) {
	e.products.products[id] = &domain.Product{
		ID:             id,
		OrganizationID: testOrgID,
		Name:           fmt.Sprintf("product-%d", id),
		SKU:            fmt.Sprintf("SKU-%d", id),
	}
}

func (e *testEnv) addSupplier(id int64) {
	e.products.suppliers[id] = testOrgID
}

func (e *testEnv) addVariant(productID, variantID int64) {
	e.products.variants[fmt.Sprintf("%d:%d", productID, variantID)] = true
}

func (e *testEnv) addUnit(unitID, productID, factor int64) {
	e.products.units[unitID] = &domain.ProductUnit{ID: unitID, ProductID: productID, Factor: factor}
}

// seedSnapshot 直接写入一条快照，模拟既有库存
func (e *testEnv) seedSnapshot(storeID, productID, onHand int64, allowNegative bool) {
	e.snapshots.nextID++
	key := domain.SnapshotKey{StoreID: storeID, ProductID: productID, VariantKey: domain.VariantKeyBase}
	e.snapshots.snapshots[key] = &domain.InventorySnapshot{
		ID:                 e.snapshots.nextID,
		OrganizationID:     testOrgID,
		StoreID:            storeID,
		ProductID:          productID,
		VariantKey:         domain.VariantKeyBase,
		OnHand:             onHand,
		AllowNegativeStock: allowNegative,
	}
}

func (e *testEnv) snapshot(storeID, productID int64) *domain.InventorySnapshot {
	key := domain.SnapshotKey{StoreID: storeID, ProductID: productID, VariantKey: domain.VariantKeyBase}
	return e.snapshots.snapshots[key]
}

// movementTypes 返回已写入账本的变动类型序列，便于断言
func (e *testEnv) movementTypes() string {
	var types []string
	for _, mv := range e.movements.movements {
		types = append(types, string(mv.Type))
	}
	return strings.Join(types, ",")
}
