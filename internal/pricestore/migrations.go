package pricestore

const schema = `
CREATE TABLE IF NOT EXISTS price_calculations (
    id {{id}},
    original_price {{decimal}} NOT NULL,
    vat_rate {{decimal}} NOT NULL,
    vat_amount {{decimal}} NOT NULL,
    total_price {{decimal}} NOT NULL,
    created_at {{timestamp}} NOT NULL
);
`
