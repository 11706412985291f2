package service

import (
	"context"
	"testing"
	"time"

	"github.com/MorseWayne/stock_ledger/internal/domain"
)

// stubReportRepo 记录调用参数，返回固定数据
type stubReportRepo struct {
	orgID   int64
	storeID int64
	since   time.Time
	limit   int
	from    time.Time
	to      time.Time
}

func (s *stubReportRepo) Stockouts(_ context.Context, orgID, storeID int64) ([]*domain.StockoutItem, error) {
	s.orgID, s.storeID = orgID, storeID
	return []*domain.StockoutItem{{StoreID: storeID, ProductID: 10, OnHand: 0}}, nil
}

func (s *stubReportRepo) SlowMovers(_ context.Context, orgID, storeID int64, since time.Time, limit int) ([]*domain.SlowMoverItem, error) {
	s.orgID, s.storeID, s.since, s.limit = orgID, storeID, since, limit
	return nil, nil
}

func (s *stubReportRepo) Shrinkage(_ context.Context, orgID, storeID int64, from, to time.Time) ([]*domain.ShrinkageItem, error) {
	s.orgID, s.storeID, s.from, s.to = orgID, storeID, from, to
	return nil, nil
}

func (s *stubReportRepo) ReorderSuggestions(_ context.Context, orgID, storeID int64) ([]*domain.ReorderSuggestion, error) {
	s.orgID, s.storeID = orgID, storeID
	return nil, nil
}

func TestReportService_ScopesByOrganization(t *testing.T) {
	stub := &stubReportRepo{}
	svc := NewReportService(stub, nil)

	items, err := svc.Stockouts(context.Background(), staffActor(), 3)
	if err != nil {
		t.Fatalf("Stockouts failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 stockout item, got %d", len(items))
	}
	if stub.orgID != testOrgID || stub.storeID != 3 {
		t.Errorf("expected query scoped to org %d store 3, got org %d store %d", testOrgID, stub.orgID, stub.storeID)
	}
}

func TestReportService_RequiresStore(t *testing.T) {
	svc := NewReportService(&stubReportRepo{}, nil)
	ctx := context.Background()
	actor := staffActor()

	if _, err := svc.Stockouts(ctx, actor, 0); !domain.IsKind(err, domain.KindValidation) {
		t.Errorf("Stockouts: expected validation error, got %v", err)
	}
	if _, err := svc.SlowMovers(ctx, actor, 0, 0, 0); !domain.IsKind(err, domain.KindValidation) {
		t.Errorf("SlowMovers: expected validation error, got %v", err)
	}
	if _, err := svc.Shrinkage(ctx, actor, 0, nil, nil); !domain.IsKind(err, domain.KindValidation) {
		t.Errorf("Shrinkage: expected validation error, got %v", err)
	}
	if _, err := svc.ReorderSuggestions(ctx, actor, 0); !domain.IsKind(err, domain.KindValidation) {
		t.Errorf("ReorderSuggestions: expected validation error, got %v", err)
	}
}

func TestReportService_SlowMoversDefaults(t *testing.T) {
	stub := &stubReportRepo{}
	svc := NewReportService(stub, nil)

	if _, err := svc.SlowMovers(context.Background(), staffActor(), 1, 0, 0); err != nil {
		t.Fatalf("SlowMovers failed: %v", err)
	}
	if stub.limit != defaultSlowMoverLimit {
		t.Errorf("expected default limit %d, got %d", defaultSlowMoverLimit, stub.limit)
	}
	wantSince := time.Now().Add(-defaultSlowMoverWindow)
	if stub.since.Before(wantSince.Add(-time.Minute)) || stub.since.After(wantSince.Add(time.Minute)) {
		t.Errorf("expected since near %v, got %v", wantSince, stub.since)
	}

	if _, err := svc.SlowMovers(context.Background(), staffActor(), 1, 7, 10); err != nil {
		t.Fatalf("SlowMovers failed: %v", err)
	}
	if stub.limit != 10 {
		t.Errorf("expected explicit limit 10, got %d", stub.limit)
	}
	wantSince = time.Now().Add(-7 * 24 * time.Hour)
	if stub.since.Before(wantSince.Add(-time.Minute)) || stub.since.After(wantSince.Add(time.Minute)) {
		t.Errorf("expected since near %v, got %v", wantSince, stub.since)
	}
}

func TestReportService_ShrinkageWindow(t *testing.T) {
	stub := &stubReportRepo{}
	svc := NewReportService(stub, nil)

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	if _, err := svc.Shrinkage(context.Background(), staffActor(), 1, &from, &to); err != nil {
		t.Fatalf("Shrinkage failed: %v", err)
	}
	if !stub.from.Equal(from) || !stub.to.Equal(to) {
		t.Errorf("expected explicit window [%v, %v], got [%v, %v]", from, to, stub.from, stub.to)
	}

	// 起点不早于终点的窗口拒绝
	if _, err := svc.Shrinkage(context.Background(), staffActor(), 1, &to, &from); !domain.IsKind(err, domain.KindValidation) {
		t.Errorf("expected validation error for inverted window, got %v", err)
	}
}
