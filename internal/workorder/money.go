package workorder

import (
	"workorders/internal/apperr"

	"github.com/shopspring/decimal"
)

// Денежные колонки NUMERIC(14,2): до 12 знаков целой части и 2 после запятой
const moneyScale = 2

var maxMoney = decimal.New(1, 12)

// checkMoney отклоняет суммы, которые хранилище округлило бы или не вместило
func checkMoney(field string, d decimal.Decimal) error {
	if !d.Equal(d.Round(moneyScale)) {
		return apperr.Validation(field, "Value must have at most 2 decimal places")
	}
	if d.Abs().GreaterThanOrEqual(maxMoney) {
		return apperr.Validation(field, "Value is too large, max: 999999999999.99")
	}
	return nil
}
