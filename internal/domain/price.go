package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceInput is one record of the delimited price file
type PriceInput struct {
	Price   decimal.Decimal
	VatRate decimal.Decimal
}

// PriceCalculation is a computed VAT result; ID is assigned by the business store on insert
type PriceCalculation struct {
	ID            int64
	OriginalPrice decimal.Decimal
	VatRate       decimal.Decimal
	VatAmount     decimal.Decimal
	TotalPrice    decimal.Decimal
	CreatedAt     time.Time
}

// ExportRecord is the export shape of a PriceCalculation
type ExportRecord struct {
	ID            int64
	OriginalPrice decimal.Decimal
	VatRate       decimal.Decimal
	VatAmount     decimal.Decimal
	TotalPrice    decimal.Decimal
	ProcessedAt   time.Time
}

// NewExportRecord reshapes a calculation for export, createdAt becomes processedAt
func NewExportRecord(c PriceCalculation) ExportRecord {
	return ExportRecord{
		ID:            c.ID,
		OriginalPrice: c.OriginalPrice,
		VatRate:       c.VatRate,
		VatAmount:     c.VatAmount,
		TotalPrice:    c.TotalPrice,
		ProcessedAt:   c.CreatedAt,
	}
}
