package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MorseWayne/stock_ledger/internal/cache"
	"github.com/MorseWayne/stock_ledger/internal/domain"
	"github.com/MorseWayne/stock_ledger/internal/repo"
)

func TestAdjustStock_CreatesMovementAndSnapshot(t *testing.T) {
	env := newTestEnv()
	env.addStore(1, false, false)
	env.addProduct(10)

	pos, err := env.inventory.AdjustStock(context.Background(), staffActor(), &domain.AdjustStockRequest{
		StoreID:        1,
		ProductID:      10,
		QtyDelta:       5,
		Reason:         "initial count",
		IdempotencyKey: "adj-1",
		RequestID:      "req-1",
	})
	if err != nil {
		t.Fatalf("AdjustStock failed: %v", err)
	}
	if pos.OnHand != 5 {
		t.Errorf("expected on_hand 5, got %d", pos.OnHand)
	}

	snap := env.snapshot(1, 10)
	if snap == nil || snap.OnHand != 5 {
		t.Fatalf("expected snapshot on_hand 5, got %+v", snap)
	}
	if got := env.movementTypes(); got != "ADJUSTMENT" {
		t.Errorf("expected single ADJUSTMENT movement, got %q", got)
	}
	if len(env.publisher.published) != 1 {
		t.Errorf("expected 1 published movement, got %d", len(env.publisher.published))
	}
}

func TestAdjustStock_RejectsNegativeWithoutPolicy(t *testing.T) {
	env := newTestEnv()
	env.addStore(1, false, false)
	env.addProduct(10)
	env.seedSnapshot(1, 10, 3, false)

	_, err := env.inventory.AdjustStock(context.Background(), staffActor(), &domain.AdjustStockRequest{
		StoreID:        1,
		ProductID:      10,
		QtyDelta:       -5,
		Reason:         "shrinkage",
		IdempotencyKey: "adj-neg",
	})
	if !domain.IsKind(err, domain.KindConflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
	if len(env.movements.movements) != 0 {
		t.Errorf("rejected adjustment must not write to the ledger, got %d movements", len(env.movements.movements))
	}
	if env.snapshot(1, 10).OnHand != 3 {
		t.Errorf("snapshot must be unchanged, got on_hand %d", env.snapshot(1, 10).OnHand)
	}
}

func TestAdjustStock_NegativeAllowedByStorePolicy(t *testing.T) {
	env := newTestEnv()
	env.addStore(1, true, false)
	env.addProduct(10)

	pos, err := env.inventory.AdjustStock(context.Background(), staffActor(), &domain.AdjustStockRequest{
		StoreID:        1,
		ProductID:      10,
		QtyDelta:       -5,
		Reason:         "oversold correction",
		IdempotencyKey: "adj-neg-ok",
	})
	if err != nil {
		t.Fatalf("AdjustStock failed: %v", err)
	}
	if pos.OnHand != -5 {
		t.Errorf("expected on_hand -5, got %d", pos.OnHand)
	}
}

func TestAdjustStock_IdempotentReplay(t *testing.T) {
	env := newTestEnv()
	env.addStore(1, false, false)
	env.addProduct(10)

	req := &domain.AdjustStockRequest{
		StoreID:        1,
		ProductID:      10,
		QtyDelta:       5,
		Reason:         "initial count",
		IdempotencyKey: "adj-replay",
		RequestID:      "req-1",
	}
	first, err := env.inventory.AdjustStock(context.Background(), staffActor(), req)
	if err != nil {
		t.Fatalf("first AdjustStock failed: %v", err)
	}

	retry := *req
	retry.RequestID = "req-2"
	second, err := env.inventory.AdjustStock(context.Background(), staffActor(), &retry)
	if err != nil {
		t.Fatalf("replayed AdjustStock failed: %v", err)
	}

	if *first != *second {
		t.Errorf("replay must return the original result: first %+v, second %+v", first, second)
	}
	if len(env.movements.movements) != 1 {
		t.Errorf("replay must not append to the ledger, got %d movements", len(env.movements.movements))
	}
	if env.snapshot(1, 10).OnHand != 5 {
		t.Errorf("replay must not change on_hand, got %d", env.snapshot(1, 10).OnHand)
	}
	if len(env.publisher.published) != 1 {
		t.Errorf("replay must not publish again, got %d events", len(env.publisher.published))
	}
	if env.idempotency.count() != 1 {
		t.Errorf("expected 1 idempotency record, got %d", env.idempotency.count())
	}
}

func TestAdjustStock_RejectsKeyReuseWithDifferentPayload(t *testing.T) {
	env := newTestEnv()
	env.addStore(1, false, false)
	env.addProduct(10)

	ctx := context.Background()
	if _, err := env.inventory.AdjustStock(ctx, staffActor(), &domain.AdjustStockRequest{
		StoreID:        1,
		ProductID:      10,
		QtyDelta:       5,
		Reason:         "initial count",
		IdempotencyKey: "adj-reuse",
		RequestID:      "req-1",
	}); err != nil {
		t.Fatalf("first AdjustStock failed: %v", err)
	}

	// 同键换载荷不是重试，不能静默返回首次结果
	_, err := env.inventory.AdjustStock(ctx, staffActor(), &domain.AdjustStockRequest{
		StoreID:        1,
		ProductID:      10,
		QtyDelta:       9999,
		Reason:         "initial count",
		IdempotencyKey: "adj-reuse",
		RequestID:      "req-2",
	})
	if !domain.IsKind(err, domain.KindConflict) {
		t.Fatalf("expected conflict for key reuse with a different payload, got %v", err)
	}
	if env.snapshot(1, 10).OnHand != 5 {
		t.Errorf("rejected reuse must not change on_hand, got %d", env.snapshot(1, 10).OnHand)
	}
	if len(env.movements.movements) != 1 {
		t.Errorf("rejected reuse must not append to the ledger, got %d movements", len(env.movements.movements))
	}
}

func TestAdjustStock_UnknownTarget(t *testing.T) {
	env := newTestEnv()
	env.addStore(1, false, false)
	env.addProduct(10)

	testCases := []struct {
		name      string
		storeID   int64
		productID int64
	}{
		{"unknown store", 99, 10},
		{"unknown product", 1, 99},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.inventory.AdjustStock(context.Background(), staffActor(), &domain.AdjustStockRequest{
				StoreID:        tc.storeID,
				ProductID:      tc.productID,
				QtyDelta:       1,
				Reason:         "r",
				IdempotencyKey: "adj-" + tc.name,
			})
			if !domain.IsKind(err, domain.KindNotFound) {
				t.Errorf("expected not found error, got %v", err)
			}
		})
	}
}

func TestReceiveStock_MovingAverageCost(t *testing.T) {
	env := newTestEnv()
	env.addStore(1, false, false)
	env.addProduct(10)

	ctx := context.Background()
	cost2 := decimal.RequireFromString("2.00")
	cost3 := decimal.RequireFromString("3.00")

	if _, err := env.inventory.ReceiveStock(ctx, staffActor(), &domain.ReceiveStockRequest{
		StoreID: 1, ProductID: 10, QtyReceived: 10, UnitCost: &cost2, IdempotencyKey: "rcv-1",
	}); err != nil {
		t.Fatalf("first ReceiveStock failed: %v", err)
	}
	if _, err := env.inventory.ReceiveStock(ctx, staffActor(), &domain.ReceiveStockRequest{
		StoreID: 1, ProductID: 10, QtyReceived: 10, UnitCost: &cost3, IdempotencyKey: "rcv-2",
	}); err != nil {
		t.Fatalf("second ReceiveStock failed: %v", err)
	}

	cost, err := env.costs.Get(ctx, testOrgID, 10, domain.VariantKeyBase)
	if err != nil {
		t.Fatalf("cost lookup failed: %v", err)
	}
	if cost == nil {
		t.Fatal("expected cost row after receives")
	}
	want := decimal.RequireFromString("2.5")
	if !cost.AvgCost.Equal(want) {
		t.Errorf("expected average cost 2.5 after blending, got %s", cost.AvgCost)
	}
	if env.snapshot(1, 10).OnHand != 20 {
		t.Errorf("expected on_hand 20, got %d", env.snapshot(1, 10).OnHand)
	}
}

func TestReceiveStock_RegistersExpiryLot(t *testing.T) {
	env := newTestEnv()
	env.addStore(1, false, true)
	env.addProduct(10)

	expiry := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if _, err := env.inventory.ReceiveStock(context.Background(), staffActor(), &domain.ReceiveStockRequest{
		StoreID: 1, ProductID: 10, QtyReceived: 8, ExpiryDate: &expiry, IdempotencyKey: "rcv-lot",
	}); err != nil {
		t.Fatalf("ReceiveStock failed: %v", err)
	}

	lots, err := env.inventory.ListLots(context.Background(), staffActor(), 1, 10, nil)
	if err != nil {
		t.Fatalf("ListLots failed: %v", err)
	}
	if len(lots) != 1 || lots[0].OnHandQty != 8 {
		t.Fatalf("expected single lot with qty 8, got %+v", lots)
	}
}

func TestAdjustStock_ConsumesLotsFirstExpiredFirstOut(t *testing.T) {
	env := newTestEnv()
	env.addStore(1, true, true)
	env.addProduct(10)
	env.seedSnapshot(1, 10, 7, true)

	ctx := context.Background()
	key := domain.SnapshotKey{StoreID: 1, ProductID: 10, VariantKey: domain.VariantKeyBase}
	early := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	env.lots.UpsertIncrement(ctx, testOrgID, key, early, 2)
	env.lots.UpsertIncrement(ctx, testOrgID, key, late, 5)

	if _, err := env.inventory.AdjustStock(ctx, staffActor(), &domain.AdjustStockRequest{
		StoreID:        1,
		ProductID:      10,
		QtyDelta:       -3,
		Reason:         "sample usage",
		IdempotencyKey: "adj-fefo",
	}); err != nil {
		t.Fatalf("AdjustStock failed: %v", err)
	}

	lots, _ := env.lots.List(ctx, testOrgID, key)
	if len(lots) != 2 {
		t.Fatalf("expected both lot rows retained, got %d", len(lots))
	}
	if lots[0].OnHandQty != 0 {
		t.Errorf("earliest lot must be drained first, got qty %d", lots[0].OnHandQty)
	}
	if lots[1].OnHandQty != 4 {
		t.Errorf("later lot should cover the remainder, got qty %d", lots[1].OnHandQty)
	}
}

func TestTransferStock_AtomicPair(t *testing.T) {
	env := newTestEnv()
	env.addStore(1, false, false)
	env.addStore(2, false, false)
	env.addProduct(10)
	env.seedSnapshot(1, 10, 10, false)

	result, err := env.inventory.TransferStock(context.Background(), staffActor(), &domain.TransferStockRequest{
		FromStoreID:    1,
		ToStoreID:      2,
		ProductID:      10,
		Qty:            4,
		IdempotencyKey: "tr-1",
	})
	if err != nil {
		t.Fatalf("TransferStock failed: %v", err)
	}

	if result.From.OnHand != 6 || result.To.OnHand != 4 {
		t.Errorf("expected 6/4 after transfer, got %d/%d", result.From.OnHand, result.To.OnHand)
	}
	if got := env.movementTypes(); got != "TRANSFER_OUT,TRANSFER_IN" {
		t.Errorf("expected TRANSFER_OUT,TRANSFER_IN movements, got %q", got)
	}

	out, in := env.movements.movements[0], env.movements.movements[1]
	if out.ReferenceID == nil || in.ReferenceID == nil || *out.ReferenceID != *in.ReferenceID {
		t.Error("both transfer movements must share a reference id")
	}
	if *out.ReferenceID != result.ReferenceID {
		t.Errorf("result reference id %q must match the ledger %q", result.ReferenceID, *out.ReferenceID)
	}
	if out.QtyDelta != -4 || in.QtyDelta != 4 {
		t.Errorf("expected deltas -4/+4, got %d/%d", out.QtyDelta, in.QtyDelta)
	}
}

func TestTransferStock_SourceGate(t *testing.T) {
	env := newTestEnv()
	env.addStore(1, false, false)
	env.addStore(2, true, false)
	env.addProduct(10)
	env.seedSnapshot(1, 10, 2, false)

	_, err := env.inventory.TransferStock(context.Background(), staffActor(), &domain.TransferStockRequest{
		FromStoreID:    1,
		ToStoreID:      2,
		ProductID:      10,
		Qty:            5,
		IdempotencyKey: "tr-gate",
	})
	if !domain.IsKind(err, domain.KindConflict) {
		t.Fatalf("expected conflict for insufficient source stock, got %v", err)
	}
	if len(env.movements.movements) != 0 {
		t.Errorf("rejected transfer must not write movements, got %d", len(env.movements.movements))
	}
}

func TestRecomputeSnapshots_RebuildsFromLedger(t *testing.T) {
	env := newTestEnv()
	env.addStore(1, false, false)
	env.addProduct(10)
	env.addProduct(11)

	ctx := context.Background()
	if _, err := env.inventory.AdjustStock(ctx, staffActor(), &domain.AdjustStockRequest{
		StoreID: 1, ProductID: 10, QtyDelta: 9, Reason: "count", IdempotencyKey: "rc-1",
	}); err != nil {
		t.Fatalf("AdjustStock failed: %v", err)
	}

	// 人为制造漂移：快照偏离账本，另一个键有快照但无账目
	env.snapshot(1, 10).OnHand = 100
	env.seedSnapshot(1, 11, 42, false)

	result, err := env.inventory.RecomputeSnapshots(ctx, adminActor(), 1)
	if err != nil {
		t.Fatalf("RecomputeSnapshots failed: %v", err)
	}
	if result.KeysRebuilt != 1 || result.KeysZeroed != 1 {
		t.Errorf("expected 1 rebuilt and 1 zeroed, got %d/%d", result.KeysRebuilt, result.KeysZeroed)
	}
	if env.snapshot(1, 10).OnHand != 9 {
		t.Errorf("drifted snapshot must match the ledger sum 9, got %d", env.snapshot(1, 10).OnHand)
	}
	if env.snapshot(1, 11).OnHand != 0 {
		t.Errorf("key without ledger entries must be zeroed, got %d", env.snapshot(1, 11).OnHand)
	}
}

func TestRecomputeSnapshots_RequiresAdmin(t *testing.T) {
	env := newTestEnv()
	env.addStore(1, false, false)

	_, err := env.inventory.RecomputeSnapshots(context.Background(), staffActor(), 1)
	if !domain.IsKind(err, domain.KindForbidden) {
		t.Fatalf("expected forbidden error for staff actor, got %v", err)
	}
}

func TestGetSnapshot_ByKey(t *testing.T) {
	env := newTestEnv()
	env.addStore(1, false, false)
	env.addProduct(10)
	env.seedSnapshot(1, 10, 7, false)

	snap, err := env.inventory.GetSnapshot(context.Background(), staffActor(), 1, 10, nil)
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if snap.OnHand != 7 {
		t.Errorf("expected on_hand 7, got %d", snap.OnHand)
	}

	if _, err := env.inventory.GetSnapshot(context.Background(), staffActor(), 1, 99, nil); !domain.IsKind(err, domain.KindNotFound) {
		t.Errorf("expected not found for unknown key, got %v", err)
	}
	if _, err := env.inventory.GetSnapshot(context.Background(), staffActor(), 0, 10, nil); !domain.IsKind(err, domain.KindValidation) {
		t.Errorf("expected validation error for missing store, got %v", err)
	}
}

// 生产装配：变更走事务内的裸仓储，读走带缓存的装饰器。
// 提交后的显式失效保证缓存读不落后于账本。
func TestGetSnapshot_CachedReadSeesCommittedWrites(t *testing.T) {
	env := newTestEnv()
	env.addStore(1, false, false)
	env.addProduct(10)
	env.seedSnapshot(1, 10, 5, false)

	bare := &repo.Repos{
		Movements:   env.movements,
		Snapshots:   env.snapshots,
		Lots:        env.lots,
		Costs:       env.costs,
		Orders:      env.orders,
		Idempotency: env.idempotency,
		Stores:      env.stores,
		Products:    env.products,
	}
	reads := *bare
	reads.Snapshots = repo.NewCachedSnapshotRepository(env.snapshots, cache.NewMemoryCache(), time.Minute)
	inventory := NewInventoryService(&memUnitOfWork{repos: bare}, &reads, NewIdempotencyGuard(nil), nil, nil)

	ctx := context.Background()
	warm, err := inventory.GetSnapshot(ctx, staffActor(), 1, 10, nil)
	if err != nil {
		t.Fatalf("warm-up GetSnapshot failed: %v", err)
	}
	if warm.OnHand != 5 {
		t.Fatalf("expected on_hand 5 before the write, got %d", warm.OnHand)
	}

	if _, err := inventory.AdjustStock(ctx, staffActor(), &domain.AdjustStockRequest{
		StoreID:        1,
		ProductID:      10,
		QtyDelta:       3,
		Reason:         "recount",
		IdempotencyKey: "adj-cache",
	}); err != nil {
		t.Fatalf("AdjustStock failed: %v", err)
	}

	fresh, err := inventory.GetSnapshot(ctx, staffActor(), 1, 10, nil)
	if err != nil {
		t.Fatalf("GetSnapshot after write failed: %v", err)
	}
	if fresh.OnHand != 8 {
		t.Errorf("cached read must reflect the committed write, got on_hand %d", fresh.OnHand)
	}
}

func TestListMovements_RejectsUnknownType(t *testing.T) {
	env := newTestEnv()

	_, err := env.inventory.ListMovements(context.Background(), staffActor(), &domain.StockMovementListRequest{
		StoreID: 1,
		Type:    "BOGUS",
	})
	if !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListSnapshots_RequiresStore(t *testing.T) {
	env := newTestEnv()

	_, err := env.inventory.ListSnapshots(context.Background(), staffActor(), &domain.SnapshotListRequest{})
	if !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
