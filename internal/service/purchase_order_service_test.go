package service

import (
	"context"
	"strconv"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/MorseWayne/stock_ledger/internal/domain"
)

func poTestEnv() *testEnv {
	env := newTestEnv()
	env.addStore(1, false, false)
	env.addSupplier(5)
	env.addProduct(10)
	env.addProduct(11)
	return env
}

func createPO(t *testing.T, env *testEnv, key string, lines ...*domain.CreatePurchaseOrderLineInput) *domain.PurchaseOrder {
	t.Helper()
	po, err := env.po.Create(context.Background(), staffActor(), &domain.CreatePurchaseOrderRequest{
		StoreID:        1,
		SupplierID:     5,
		Lines:          lines,
		IdempotencyKey: key,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return po
}

func approvePO(t *testing.T, env *testEnv, poID int64) *domain.PurchaseOrder {
	t.Helper()
	ctx := context.Background()
	if _, err := env.po.Submit(ctx, staffActor(), poID); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	po, err := env.po.Approve(ctx, adminActor(), poID)
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	return po
}

func TestPurchaseOrder_CreateDraft(t *testing.T) {
	env := poTestEnv()

	po := createPO(t, env, "po-1", &domain.CreatePurchaseOrderLineInput{ProductID: 10, QtyOrdered: 10})
	if po.Status != domain.POStatusDraft {
		t.Errorf("expected DRAFT, got %s", po.Status)
	}
	if po.ID == 0 || len(po.Lines) != 1 || po.Lines[0].ID == 0 {
		t.Errorf("expected persisted order with line ids, got %+v", po)
	}

	// 同键重试返回同一张单
	again := createPO(t, env, "po-1", &domain.CreatePurchaseOrderLineInput{ProductID: 10, QtyOrdered: 10})
	if again.ID != po.ID {
		t.Errorf("replayed create must return order %d, got %d", po.ID, again.ID)
	}
	if _, total, err := env.po.List(context.Background(), staffActor(), 1, "", 1, 20); err != nil || total != 1 {
		t.Errorf("expected exactly 1 order, got total=%d err=%v", total, err)
	}
}

func TestPurchaseOrder_CreateRequiresIdempotencyKey(t *testing.T) {
	env := poTestEnv()

	_, err := env.po.Create(context.Background(), staffActor(), &domain.CreatePurchaseOrderRequest{
		StoreID:    1,
		SupplierID: 5,
		Lines:      []*domain.CreatePurchaseOrderLineInput{{ProductID: 10, QtyOrdered: 1}},
	})
	if !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPurchaseOrder_CreateAndSubmit(t *testing.T) {
	env := poTestEnv()

	po, err := env.po.Create(context.Background(), staffActor(), &domain.CreatePurchaseOrderRequest{
		StoreID:        1,
		SupplierID:     5,
		Submit:         true,
		Lines:          []*domain.CreatePurchaseOrderLineInput{{ProductID: 10, QtyOrdered: 3}},
		IdempotencyKey: "po-submit",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if po.Status != domain.POStatusSubmitted || po.SubmittedAt == nil {
		t.Errorf("expected SUBMITTED with timestamp, got %s %v", po.Status, po.SubmittedAt)
	}
}

func TestPurchaseOrder_IllegalTransition(t *testing.T) {
	env := poTestEnv()
	po := createPO(t, env, "po-2", &domain.CreatePurchaseOrderLineInput{ProductID: 10, QtyOrdered: 10})

	// 草稿不能直接审批
	_, err := env.po.Approve(context.Background(), adminActor(), po.ID)
	if !domain.IsKind(err, domain.KindConflict) {
		t.Fatalf("expected conflict for DRAFT -> APPROVED, got %v", err)
	}
}

func TestPurchaseOrder_ApproveRequiresAdmin(t *testing.T) {
	env := poTestEnv()
	po := createPO(t, env, "po-3", &domain.CreatePurchaseOrderLineInput{ProductID: 10, QtyOrdered: 10})
	if _, err := env.po.Submit(context.Background(), staffActor(), po.ID); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	_, err := env.po.Approve(context.Background(), staffActor(), po.ID)
	if !domain.IsKind(err, domain.KindForbidden) {
		t.Fatalf("expected forbidden for staff approval, got %v", err)
	}
}

func TestPurchaseOrder_ApproveAddsOnOrder(t *testing.T) {
	env := poTestEnv()
	po := createPO(t, env, "po-4",
		&domain.CreatePurchaseOrderLineInput{ProductID: 10, QtyOrdered: 10},
		&domain.CreatePurchaseOrderLineInput{ProductID: 11, QtyOrdered: 4},
	)
	approved := approvePO(t, env, po.ID)

	if approved.Status != domain.POStatusApproved || approved.ApprovedAt == nil {
		t.Errorf("expected APPROVED with timestamp, got %s %v", approved.Status, approved.ApprovedAt)
	}
	if got := env.snapshot(1, 10).OnOrder; got != 10 {
		t.Errorf("expected on_order 10 for product 10, got %d", got)
	}
	if got := env.snapshot(1, 11).OnOrder; got != 4 {
		t.Errorf("expected on_order 4 for product 11, got %d", got)
	}
}

func TestPurchaseOrder_ReceivePartialThenFull(t *testing.T) {
	env := poTestEnv()
	cost := decimal.RequireFromString("2.00")
	po := createPO(t, env, "po-5", &domain.CreatePurchaseOrderLineInput{ProductID: 10, QtyOrdered: 10, UnitCost: &cost})
	approvePO(t, env, po.ID)

	ctx := context.Background()
	partial, err := env.po.Receive(ctx, staffActor(), &domain.ReceivePurchaseOrderRequest{
		PurchaseOrderID: po.ID,
		Lines:           []*domain.ReceivePurchaseOrderLineInput{{LineID: po.Lines[0].ID, QtyReceived: 4}},
		IdempotencyKey:  "po-5-rcv-1",
	})
	if err != nil {
		t.Fatalf("partial Receive failed: %v", err)
	}
	if partial.Status != domain.POStatusPartiallyReceived {
		t.Errorf("expected PARTIALLY_RECEIVED, got %s", partial.Status)
	}
	if partial.Lines[0].QtyReceived != 4 {
		t.Errorf("expected line qty_received 4, got %d", partial.Lines[0].QtyReceived)
	}

	snap := env.snapshot(1, 10)
	if snap.OnHand != 4 || snap.OnOrder != 6 {
		t.Errorf("expected on_hand 4 / on_order 6, got %d/%d", snap.OnHand, snap.OnOrder)
	}

	full, err := env.po.Receive(ctx, staffActor(), &domain.ReceivePurchaseOrderRequest{
		PurchaseOrderID: po.ID,
		Lines:           []*domain.ReceivePurchaseOrderLineInput{{LineID: po.Lines[0].ID, QtyReceived: 6}},
		IdempotencyKey:  "po-5-rcv-2",
	})
	if err != nil {
		t.Fatalf("final Receive failed: %v", err)
	}
	if full.Status != domain.POStatusReceived {
		t.Errorf("expected RECEIVED, got %s", full.Status)
	}

	snap = env.snapshot(1, 10)
	if snap.OnHand != 10 || snap.OnOrder != 0 {
		t.Errorf("expected on_hand 10 / on_order 0, got %d/%d", snap.OnHand, snap.OnOrder)
	}

	// 账本引用回采购单
	refID := strconv.FormatInt(po.ID, 10)
	linked, err := env.movements.ListByReference(ctx, testOrgID, domain.ReferenceTypePurchaseOrder, refID)
	if err != nil {
		t.Fatalf("ListByReference failed: %v", err)
	}
	if len(linked) != 2 {
		t.Errorf("expected 2 ledger entries referencing the order, got %d", len(linked))
	}
	for _, mv := range linked {
		if mv.Type != domain.MovementReceive {
			t.Errorf("expected RECEIVE movement, got %s", mv.Type)
		}
	}
}

func TestPurchaseOrder_ReceiveOverReceiveGate(t *testing.T) {
	env := poTestEnv()
	po := createPO(t, env, "po-6", &domain.CreatePurchaseOrderLineInput{ProductID: 10, QtyOrdered: 10})
	approvePO(t, env, po.ID)

	ctx := context.Background()
	_, err := env.po.Receive(ctx, staffActor(), &domain.ReceivePurchaseOrderRequest{
		PurchaseOrderID: po.ID,
		Lines:           []*domain.ReceivePurchaseOrderLineInput{{LineID: po.Lines[0].ID, QtyReceived: 12}},
		IdempotencyKey:  "po-6-rcv-1",
	})
	if !domain.IsKind(err, domain.KindConflict) {
		t.Fatalf("expected conflict for over-receive, got %v", err)
	}
	if len(env.movements.movements) != 0 {
		t.Errorf("rejected receive must not write to the ledger, got %d movements", len(env.movements.movements))
	}

	over, err := env.po.Receive(ctx, staffActor(), &domain.ReceivePurchaseOrderRequest{
		PurchaseOrderID:  po.ID,
		Lines:            []*domain.ReceivePurchaseOrderLineInput{{LineID: po.Lines[0].ID, QtyReceived: 12}},
		AllowOverReceive: true,
		IdempotencyKey:   "po-6-rcv-2",
	})
	if err != nil {
		t.Fatalf("explicit over-receive failed: %v", err)
	}
	if over.Status != domain.POStatusReceived {
		t.Errorf("over-received order counts as RECEIVED, got %s", over.Status)
	}
	if over.Lines[0].QtyReceived != 12 {
		t.Errorf("expected qty_received 12, got %d", over.Lines[0].QtyReceived)
	}
}

func TestPurchaseOrder_ReceivePackUnitConversion(t *testing.T) {
	env := poTestEnv()
	env.addUnit(3, 10, 12)
	po := createPO(t, env, "po-7", &domain.CreatePurchaseOrderLineInput{ProductID: 10, QtyOrdered: 24})
	approvePO(t, env, po.ID)

	packID := int64(3)
	got, err := env.po.Receive(context.Background(), staffActor(), &domain.ReceivePurchaseOrderRequest{
		PurchaseOrderID: po.ID,
		Lines:           []*domain.ReceivePurchaseOrderLineInput{{LineID: po.Lines[0].ID, QtyReceived: 2, PackID: &packID}},
		IdempotencyKey:  "po-7-rcv",
	})
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if got.Lines[0].QtyReceived != 24 {
		t.Errorf("2 packs of 12 must convert to 24 base units, got %d", got.Lines[0].QtyReceived)
	}
	if env.snapshot(1, 10).OnHand != 24 {
		t.Errorf("expected on_hand 24, got %d", env.snapshot(1, 10).OnHand)
	}
}

func TestPurchaseOrder_ReceiveRejectsDuplicateLine(t *testing.T) {
	env := poTestEnv()
	po := createPO(t, env, "po-8", &domain.CreatePurchaseOrderLineInput{ProductID: 10, QtyOrdered: 10})
	approvePO(t, env, po.ID)

	_, err := env.po.Receive(context.Background(), staffActor(), &domain.ReceivePurchaseOrderRequest{
		PurchaseOrderID: po.ID,
		Lines: []*domain.ReceivePurchaseOrderLineInput{
			{LineID: po.Lines[0].ID, QtyReceived: 3},
			{LineID: po.Lines[0].ID, QtyReceived: 3},
		},
		IdempotencyKey: "po-8-rcv",
	})
	if !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("expected validation error for duplicate line, got %v", err)
	}
}

func TestPurchaseOrder_ReceiveRejectsForeignLine(t *testing.T) {
	env := poTestEnv()
	po := createPO(t, env, "po-9", &domain.CreatePurchaseOrderLineInput{ProductID: 10, QtyOrdered: 10})
	approvePO(t, env, po.ID)

	_, err := env.po.Receive(context.Background(), staffActor(), &domain.ReceivePurchaseOrderRequest{
		PurchaseOrderID: po.ID,
		Lines:           []*domain.ReceivePurchaseOrderLineInput{{LineID: 999, QtyReceived: 1}},
		IdempotencyKey:  "po-9-rcv",
	})
	if !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("expected validation error for foreign line id, got %v", err)
	}
}

func TestPurchaseOrder_ReceiveRequiresReceivableStatus(t *testing.T) {
	env := poTestEnv()
	po := createPO(t, env, "po-10", &domain.CreatePurchaseOrderLineInput{ProductID: 10, QtyOrdered: 10})

	_, err := env.po.Receive(context.Background(), staffActor(), &domain.ReceivePurchaseOrderRequest{
		PurchaseOrderID: po.ID,
		Lines:           []*domain.ReceivePurchaseOrderLineInput{{LineID: po.Lines[0].ID, QtyReceived: 1}},
		IdempotencyKey:  "po-10-rcv",
	})
	if !domain.IsKind(err, domain.KindConflict) {
		t.Fatalf("expected conflict receiving against a DRAFT order, got %v", err)
	}
}

func TestPurchaseOrder_RollbackReversesReceipts(t *testing.T) {
	env := poTestEnv()
	po := createPO(t, env, "po-11", &domain.CreatePurchaseOrderLineInput{ProductID: 10, QtyOrdered: 10})
	approvePO(t, env, po.ID)

	ctx := context.Background()
	if _, err := env.po.Receive(ctx, staffActor(), &domain.ReceivePurchaseOrderRequest{
		PurchaseOrderID: po.ID,
		Lines:           []*domain.ReceivePurchaseOrderLineInput{{LineID: po.Lines[0].ID, QtyReceived: 6}},
		IdempotencyKey:  "po-11-rcv",
	}); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}

	rolled, err := env.po.Rollback(ctx, adminActor(), po.ID, "po-11-rb", "req-rb")
	if err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if rolled.Status != domain.POStatusCancelled {
		t.Errorf("expected CANCELLED after rollback, got %s", rolled.Status)
	}
	if rolled.Lines[0].QtyReceived != 6 {
		t.Errorf("rollback must keep qty_received as audit trail, got %d", rolled.Lines[0].QtyReceived)
	}
	if env.snapshot(1, 10).OnHand != 0 {
		t.Errorf("expected on_hand back to 0, got %d", env.snapshot(1, 10).OnHand)
	}

	// 账本追加一条补偿调整，而不是改写原记录
	refID := strconv.FormatInt(po.ID, 10)
	comps, err := env.movements.ListByReference(ctx, testOrgID, domain.ReferenceTypeRollback, refID)
	if err != nil {
		t.Fatalf("ListByReference failed: %v", err)
	}
	if len(comps) != 1 {
		t.Fatalf("expected 1 compensating movement, got %d", len(comps))
	}
	if comps[0].Type != domain.MovementAdjustment || comps[0].QtyDelta != -6 {
		t.Errorf("expected ADJUSTMENT of -6, got %s %d", comps[0].Type, comps[0].QtyDelta)
	}

	// 已取消的单不能再次回滚
	if _, err := env.po.Rollback(ctx, adminActor(), po.ID, "po-11-rb-2", "req-rb-2"); !domain.IsKind(err, domain.KindConflict) {
		t.Errorf("expected conflict rolling back a cancelled order, got %v", err)
	}
}

func TestPurchaseOrder_RollbackReleasesOnOrderRemainder(t *testing.T) {
	env := poTestEnv()
	po := createPO(t, env, "po-13", &domain.CreatePurchaseOrderLineInput{ProductID: 10, QtyOrdered: 10})
	approvePO(t, env, po.ID)

	ctx := context.Background()
	if _, err := env.po.Receive(ctx, staffActor(), &domain.ReceivePurchaseOrderRequest{
		PurchaseOrderID: po.ID,
		Lines:           []*domain.ReceivePurchaseOrderLineInput{{LineID: po.Lines[0].ID, QtyReceived: 4}},
		IdempotencyKey:  "po-13-rcv",
	}); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}

	snap := env.snapshot(1, 10)
	if snap.OnHand != 4 || snap.OnOrder != 6 {
		t.Fatalf("expected on_hand 4 / on_order 6 before rollback, got %d/%d", snap.OnHand, snap.OnOrder)
	}

	if _, err := env.po.Rollback(ctx, adminActor(), po.ID, "po-13-rb", "req-rb"); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	snap = env.snapshot(1, 10)
	if snap.OnHand != 0 {
		t.Errorf("expected on_hand back to 0, got %d", snap.OnHand)
	}
	if snap.OnOrder != 0 {
		t.Errorf("rollback must release the unreceived on_order remainder, got %d", snap.OnOrder)
	}
}

func TestPurchaseOrder_RollbackApprovedWithoutReceipts(t *testing.T) {
	env := poTestEnv()
	po := createPO(t, env, "po-14",
		&domain.CreatePurchaseOrderLineInput{ProductID: 10, QtyOrdered: 10},
		&domain.CreatePurchaseOrderLineInput{ProductID: 11, QtyOrdered: 4},
	)
	approvePO(t, env, po.ID)

	rolled, err := env.po.Rollback(context.Background(), adminActor(), po.ID, "po-14-rb", "req-rb")
	if err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if rolled.Status != domain.POStatusCancelled {
		t.Errorf("expected CANCELLED, got %s", rolled.Status)
	}

	// 一行都没收到：整个订货量从在途量释放，账本无需补偿记录
	if got := env.snapshot(1, 10).OnOrder; got != 0 {
		t.Errorf("expected on_order 0 for product 10, got %d", got)
	}
	if got := env.snapshot(1, 11).OnOrder; got != 0 {
		t.Errorf("expected on_order 0 for product 11, got %d", got)
	}
	if len(env.movements.movements) != 0 {
		t.Errorf("rollback without receipts must not write to the ledger, got %d movements", len(env.movements.movements))
	}
}

func TestPurchaseOrder_RollbackRequiresAdmin(t *testing.T) {
	env := poTestEnv()
	po := createPO(t, env, "po-12", &domain.CreatePurchaseOrderLineInput{ProductID: 10, QtyOrdered: 10})

	_, err := env.po.Rollback(context.Background(), staffActor(), po.ID, "po-12-rb", "req")
	if !domain.IsKind(err, domain.KindForbidden) {
		t.Fatalf("expected forbidden for staff rollback, got %v", err)
	}
}

func TestPurchaseOrder_ReorderDraftsGroupBySupplierAndStore(t *testing.T) {
	env := poTestEnv()
	env.addStore(2, false, false)
	env.addSupplier(6)

	req := &domain.ReorderDraftsRequest{
		Items: []*domain.ReorderItem{
			{ProductID: 10, SupplierID: 5, StoreID: 1, QtySuggested: 20},
			{ProductID: 11, SupplierID: 5, StoreID: 1, QtySuggested: 8},
			{ProductID: 10, SupplierID: 6, StoreID: 2, QtySuggested: 15},
		},
		IdempotencyKey: "reorder-1",
	}
	orders, err := env.po.CreateDraftsFromReorder(context.Background(), adminActor(), req)
	if err != nil {
		t.Fatalf("CreateDraftsFromReorder failed: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 grouped drafts, got %d", len(orders))
	}
	if len(orders[0].Lines) != 2 || orders[0].SupplierID != 5 || orders[0].StoreID != 1 {
		t.Errorf("first group should hold both supplier-5 items, got %+v", orders[0])
	}
	if len(orders[1].Lines) != 1 || orders[1].SupplierID != 6 || orders[1].StoreID != 2 {
		t.Errorf("second group should hold the supplier-6 item, got %+v", orders[1])
	}

	// 同键重试返回同一批草稿，不重复建单
	again, err := env.po.CreateDraftsFromReorder(context.Background(), adminActor(), req)
	if err != nil {
		t.Fatalf("replayed CreateDraftsFromReorder failed: %v", err)
	}
	if len(again) != 2 || again[0].ID != orders[0].ID || again[1].ID != orders[1].ID {
		t.Errorf("replay must return the same drafts, got %+v", again)
	}
	if _, total, err := env.po.List(context.Background(), adminActor(), 0, "", 1, 20); err != nil || total != 2 {
		t.Errorf("expected exactly 2 orders after replay, got total=%d err=%v", total, err)
	}
}

func TestPurchaseOrder_GetByIDNotFound(t *testing.T) {
	env := poTestEnv()

	_, err := env.po.GetByID(context.Background(), staffActor(), 404)
	if !domain.IsKind(err, domain.KindNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}
