package trade

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FeeSchedule holds the trading fee rates, as fractions of the output amount.
type FeeSchedule struct {
	Retail    decimal.Decimal
	Corporate decimal.Decimal
}

func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		Retail:    decimal.RequireFromString("0.005"),
		Corporate: decimal.RequireFromString("0.002"),
	}
}

func (f FeeSchedule) Rate(corporate bool) decimal.Decimal {
	if corporate {
		return f.Corporate
	}
	return f.Retail
}

func (f FeeSchedule) Validate() error {
	one := decimal.NewFromInt(1)
	for name, r := range map[string]decimal.Decimal{"retail": f.Retail, "corporate": f.Corporate} {
		if r.IsNegative() || r.GreaterThanOrEqual(one) {
			return fmt.Errorf("%s fee rate %s must be in [0, 1)", name, r)
		}
	}
	return nil
}
