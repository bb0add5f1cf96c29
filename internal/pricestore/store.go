// Package pricestore persists VAT calculations in the business store.
package pricestore

import (
	"context"
	"fmt"
	"time"

	"github.com/hochfrequenz/vat-batch/internal/domain"
	"github.com/hochfrequenz/vat-batch/internal/store"
)

// Store provides access to the price_calculations table
type Store struct {
	db *store.DB
}

// New creates a Store and applies its schema to db
func New(ctx context.Context, db *store.DB) (*Store, error) {
	if err := db.Migrate(ctx, schema); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// BeginTx opens a transaction on the business store
func (s *Store) BeginTx(ctx context.Context) (*store.Tx, error) {
	return s.db.BeginTx(ctx)
}

// Ping verifies the business store is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Insert stores c through q and assigns its id
func (s *Store) Insert(ctx context.Context, q store.Querier, c *domain.PriceCalculation) error {
	err := q.QueryRowContext(ctx, `
		INSERT INTO price_calculations (original_price, vat_rate, vat_amount, total_price, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`,
		c.OriginalPrice.StringFixed(2),
		c.VatRate.StringFixed(4),
		c.VatAmount.StringFixed(2),
		c.TotalPrice.StringFixed(2),
		c.CreatedAt.UTC(),
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("inserting price calculation: %w", err)
	}
	return nil
}

// Page returns up to limit calculations with an id greater than afterID, ordered by id
func (s *Store) Page(ctx context.Context, afterID int64, limit int) ([]domain.PriceCalculation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, original_price, vat_rate, vat_amount, total_price, created_at
		FROM price_calculations
		WHERE id > ?
		ORDER BY id ASC
		LIMIT ?
	`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var page []domain.PriceCalculation
	for rows.Next() {
		var c domain.PriceCalculation
		var created time.Time
		if err := rows.Scan(&c.ID, &c.OriginalPrice, &c.VatRate, &c.VatAmount, &c.TotalPrice, &created); err != nil {
			return nil, err
		}
		c.CreatedAt = created.UTC()
		page = append(page, c)
	}
	return page, rows.Err()
}

// Count returns the number of stored calculations
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM price_calculations`).Scan(&n)
	return n, err
}
