package pricestore

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hochfrequenz/vat-batch/internal/domain"
	"github.com/hochfrequenz/vat-batch/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, store.Config{Driver: store.DriverSQLite, DSN: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := New(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func calc(price, rate, vat, total string) *domain.PriceCalculation {
	return &domain.PriceCalculation{
		OriginalPrice: decimal.RequireFromString(price),
		VatRate:       decimal.RequireFromString(rate),
		VatAmount:     decimal.RequireFromString(vat),
		TotalPrice:    decimal.RequireFromString(total),
		CreatedAt:     time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestStore_InsertAndPage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatal(err)
	}
	c := calc("100", "0.07", "7", "107")
	if err := s.Insert(ctx, tx, c); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if c.ID == 0 {
		t.Fatal("expected id to be assigned")
	}

	page, err := s.Page(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 {
		t.Fatalf("page size = %d, want 1", len(page))
	}
	got := page[0]
	if got.VatAmount.StringFixed(2) != "7.00" || got.TotalPrice.StringFixed(2) != "107.00" {
		t.Errorf("amounts = %s/%s, want 7.00/107.00", got.VatAmount, got.TotalPrice)
	}
	if !got.VatRate.Equal(decimal.RequireFromString("0.07")) {
		t.Errorf("VatRate = %s, want 0.07", got.VatRate)
	}
	if !got.CreatedAt.Equal(c.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, c.CreatedAt)
	}
}

func TestStore_PageIsKeysetOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		if err := s.Insert(ctx, s.db, calc("1.00", "0.10", "0.10", "1.10")); err != nil {
			t.Fatal(err)
		}
	}

	var ids []int64
	var after int64
	pages := 0
	for {
		page, err := s.Page(ctx, after, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(page) == 0 {
			break
		}
		pages++
		for _, c := range page {
			ids = append(ids, c.ID)
		}
		after = page[len(page)-1].ID
	}

	if pages != 3 {
		t.Errorf("pages = %d, want 3", pages)
	}
	if len(ids) != 25 {
		t.Fatalf("ids = %d, want 25", len(ids))
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("ids not ascending at %d: %v", i, ids)
		}
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 25 {
		t.Errorf("Count = %d, want 25", n)
	}
}

func TestStore_RolledBackInsertIsDiscarded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(ctx, tx, calc("5.00", "0.20", "1.00", "6.00")); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
}
