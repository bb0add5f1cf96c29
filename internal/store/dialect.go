package store

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the few SQL differences between the supported drivers
type Dialect struct {
	Name         string
	SingleWriter bool
	positional   bool
	identityPK   string
	decimalType  string
	timeType     string
}

var (
	sqliteDialect = Dialect{
		Name:         DriverSQLite,
		SingleWriter: true,
		identityPK:   "INTEGER PRIMARY KEY AUTOINCREMENT",
		// TEXT keeps the decimal scale exactly as written
		decimalType: "TEXT",
		timeType:    "DATETIME",
	}
	postgresDialect = Dialect{
		Name:        DriverPostgres,
		positional:  true,
		identityPK:  "BIGSERIAL PRIMARY KEY",
		decimalType: "NUMERIC(14,4)",
		timeType:    "TIMESTAMPTZ",
	}
)

func dialectFor(driver string) (Dialect, error) {
	switch driver {
	case DriverSQLite:
		return sqliteDialect, nil
	case DriverPostgres:
		return postgresDialect, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported driver %q (want %q or %q)", driver, DriverSQLite, DriverPostgres)
	}
}

// Expand substitutes the {{id}}, {{decimal}} and {{timestamp}} schema placeholders
func (d Dialect) Expand(schema string) string {
	return strings.NewReplacer(
		"{{id}}", d.identityPK,
		"{{decimal}}", d.decimalType,
		"{{timestamp}}", d.timeType,
	).Replace(schema)
}

// Rebind rewrites '?' placeholders into $n for drivers that need positional parameters
func (d Dialect) Rebind(query string) string {
	if !d.positional || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
