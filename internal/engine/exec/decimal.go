package exec

import "github.com/shopspring/decimal"

// decimalToFloatIfPossible converts a shopspring/decimal.Decimal (the
// type pgx/v5 surfaces for NUMERIC columns) to a float64 so that rows are
// JSON-safe without losing precision information beyond float64's range —
// acceptable per spec §3 ("decimals -> float"). Any other value passes
// through unchanged.
func decimalToFloatIfPossible(v any) any {
	if d, ok := v.(decimal.Decimal); ok {
		f, _ := d.Float64()
		return f
	}
	if d, ok := v.(*decimal.Decimal); ok && d != nil {
		f, _ := d.Float64()
		return f
	}
	return v
}
