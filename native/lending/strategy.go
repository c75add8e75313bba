package lending

import "math/big"

// RateStrategy holds the slope parameters shaping how borrow and liquidity
// rates respond to reserve utilisation. All values are ray precision annual
// rates except OptimalUtilization, which is a ray ratio in (0, 1).
type RateStrategy struct {
	// OptimalUtilization is the utilisation ratio where the rate slopes
	// steepen to discourage further borrowing.
	OptimalUtilization *big.Int
	// BaseVariableBorrowRate is the variable borrow rate at zero utilisation.
	BaseVariableBorrowRate *big.Int
	// VariableRateSlope1 applies below the optimal point, VariableRateSlope2
	// on the excess utilisation above it.
	VariableRateSlope1 *big.Int
	VariableRateSlope2 *big.Int
	StableRateSlope1   *big.Int
	StableRateSlope2   *big.Int
	// MarketStableRate is the market-wide base rate for new stable borrows.
	MarketStableRate *big.Int
}

// ReserveRates bundles the three outputs of a rate recalculation.
type ReserveRates struct {
	LiquidityRate      *big.Int
	StableBorrowRate   *big.Int
	VariableBorrowRate *big.Int
}

// Clone returns a deep copy of the strategy.
func (s *RateStrategy) Clone() *RateStrategy {
	if s == nil {
		return nil
	}
	return &RateStrategy{
		OptimalUtilization:     cloneBigInt(s.OptimalUtilization),
		BaseVariableBorrowRate: cloneBigInt(s.BaseVariableBorrowRate),
		VariableRateSlope1:     cloneBigInt(s.VariableRateSlope1),
		VariableRateSlope2:     cloneBigInt(s.VariableRateSlope2),
		StableRateSlope1:       cloneBigInt(s.StableRateSlope1),
		StableRateSlope2:       cloneBigInt(s.StableRateSlope2),
		MarketStableRate:       cloneBigInt(s.MarketStableRate),
	}
}

// Validate rejects strategies whose optimal utilisation falls outside (0, 1),
// which would make the excess-utilisation regime divide by zero.
func (s *RateStrategy) Validate() error {
	if s == nil || s.OptimalUtilization == nil {
		return ErrDivisionByZero
	}
	if s.OptimalUtilization.Sign() <= 0 || s.OptimalUtilization.Cmp(ray) >= 0 {
		return ErrDivisionByZero
	}
	return nil
}

// utilizationRate returns totalDebt / (availableLiquidity + totalDebt) in ray
// precision. A reserve with no debt has zero utilisation regardless of its
// liquidity, including the empty-reserve case.
func utilizationRate(availableLiquidity, totalStableDebt, totalVariableDebt *big.Int) (*big.Int, error) {
	totalDebt := new(big.Int).Add(zeroIfNil(totalStableDebt), zeroIfNil(totalVariableDebt))
	if totalDebt.Sign() == 0 {
		return big.NewInt(0), nil
	}
	totalLiquidity := new(big.Int).Add(zeroIfNil(availableLiquidity), totalDebt)
	return rayDiv(totalDebt, totalLiquidity)
}

// CalculateRates derives the liquidity, stable borrow and variable borrow
// rates from the post-action reserve figures. averageStableRate weights the
// stable leg of the overall borrow rate; reserveFactorBps is the protocol cut
// withheld from suppliers.
func (s *RateStrategy) CalculateRates(availableLiquidity, totalStableDebt, totalVariableDebt, averageStableRate *big.Int, reserveFactorBps uint64) (*ReserveRates, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	utilization, err := utilizationRate(availableLiquidity, totalStableDebt, totalVariableDebt)
	if err != nil {
		return nil, err
	}

	stableRate := cloneBigInt(s.MarketStableRate)
	variableRate := cloneBigInt(s.BaseVariableBorrowRate)

	if utilization.Cmp(s.OptimalUtilization) > 0 {
		excessCeiling := new(big.Int).Sub(ray, s.OptimalUtilization)
		excess, err := rayDiv(new(big.Int).Sub(utilization, s.OptimalUtilization), excessCeiling)
		if err != nil {
			return nil, err
		}
		stableRate.Add(stableRate, zeroIfNil(s.StableRateSlope1))
		stableRate.Add(stableRate, rayMul(zeroIfNil(s.StableRateSlope2), excess))
		variableRate.Add(variableRate, zeroIfNil(s.VariableRateSlope1))
		variableRate.Add(variableRate, rayMul(zeroIfNil(s.VariableRateSlope2), excess))
	} else {
		ratio, err := rayDiv(utilization, s.OptimalUtilization)
		if err != nil {
			return nil, err
		}
		stableRate.Add(stableRate, rayMul(zeroIfNil(s.StableRateSlope1), ratio))
		variableRate.Add(variableRate, rayMul(zeroIfNil(s.VariableRateSlope1), ratio))
	}

	liquidityRate := big.NewInt(0)
	totalDebt := new(big.Int).Add(zeroIfNil(totalStableDebt), zeroIfNil(totalVariableDebt))
	if totalDebt.Sign() > 0 {
		weightedStable := rayMul(wadToRay(totalStableDebt), zeroIfNil(averageStableRate))
		weightedVariable := rayMul(wadToRay(totalVariableDebt), variableRate)
		overallBorrowRate, err := rayDiv(new(big.Int).Add(weightedStable, weightedVariable), wadToRay(totalDebt))
		if err != nil {
			return nil, err
		}
		supplierShareBps := uint64(0)
		if reserveFactorBps < 10_000 {
			supplierShareBps = 10_000 - reserveFactorBps
		}
		liquidityRate = percentMul(rayMul(overallBorrowRate, utilization), supplierShareBps)
	}

	return &ReserveRates{
		LiquidityRate:      liquidityRate,
		StableBorrowRate:   stableRate,
		VariableBorrowRate: variableRate,
	}, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
