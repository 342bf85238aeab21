package trading

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// MaxSafeUnits is the largest integer a float64 represents exactly.
const MaxSafeUnits uint64 = 1<<53 - 1

// CheckUnits rejects values above MaxSafeUnits.
func CheckUnits(name string, v uint64) error {
	if v > MaxSafeUnits {
		return fmt.Errorf("%w: %s %d exceeds %d", ErrUnitsOutOfRange, name, v, MaxSafeUnits)
	}
	return nil
}

// ToUnits converts a human amount to smallest units with scale decimal places,
// e.g. ToUnits(1.25, 2) == 125.
func ToUnits(amount decimal.Decimal, scale int32) (uint64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("%w: negative amount %s", ErrUnitsOutOfRange, amount)
	}
	shifted := amount.Shift(scale)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than %d decimal places", ErrUnitsOutOfRange, amount, scale)
	}
	if shifted.GreaterThan(decimal.NewFromInt(int64(MaxSafeUnits))) {
		return 0, fmt.Errorf("%w: %s exceeds %d units", ErrUnitsOutOfRange, amount, MaxSafeUnits)
	}
	return uint64(shifted.IntPart()), nil
}

// FromUnits is the inverse of ToUnits.
func FromUnits(units uint64, scale int32) decimal.Decimal {
	return decimalFromUint(units).Shift(-scale)
}

// OrderCost is the notional value of qty at price.
func OrderCost(price, qty uint64) decimal.Decimal {
	return decimalFromUint(price).Mul(decimalFromUint(qty))
}

func decimalFromUint(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}
